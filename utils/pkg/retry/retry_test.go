package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	}
}

func TestVault_Retry_DefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.BaseBackoff)
	require.Equal(t, 5*time.Second, cfg.MaxBackoff)
}

func TestVault_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("success on first attempt", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("succeeds after transient rpc errors", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		var retried []int
		cfg := fastConfig(3)
		cfg.OnRetry = func(attempt int, err error) {
			retried = append(retried, attempt)
			require.Error(t, err)
		}
		err := Do(context.Background(), cfg, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("Transaction simulation failed: Blockhash not found")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
		require.Equal(t, []int{2, 3}, retried)
	})

	t.Run("exhausts attempts and wraps last error", func(t *testing.T) {
		t.Parallel()
		original := errors.New("connection reset by peer")
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return original
		})
		require.ErrorIs(t, err, original)
		require.Contains(t, err.Error(), "failed after 3 attempts")
		require.Equal(t, 3, attempts)
	})

	t.Run("non-retryable error returned as is", func(t *testing.T) {
		t.Parallel()
		original := errors.New("insufficient funds")
		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return original
		})
		require.Same(t, original, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("custom retryable predicate", func(t *testing.T) {
		t.Parallel()
		sentinel := errors.New("custom")
		cfg := fastConfig(2)
		cfg.Retryable = func(err error) bool { return errors.Is(err, sentinel) }
		attempts := 0
		err := Do(context.Background(), cfg, func() error {
			attempts++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		require.Equal(t, 2, attempts)
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		_ = Do(context.Background(), Config{}, func() error {
			attempts++
			return errors.New("timeout")
		})
		require.Equal(t, 1, attempts)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
		attempts := 0
		err := Do(ctx, cfg, func() error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("connection reset")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 2, attempts)
	})
}

func TestVault_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: false},
		{name: "net timeout", err: &net.DNSError{Err: "i/o timeout", IsTimeout: true}, want: true},
		{name: "connection reset", err: errors.New("connection reset by peer"), want: true},
		{name: "EOF", err: errors.New("EOF"), want: true},
		{name: "rate limit", err: errors.New("rate limit exceeded"), want: true},
		{name: "blockhash not found", err: errors.New("Blockhash not found"), want: true},
		{name: "node behind", err: errors.New("Node is behind by 42 slots"), want: true},
		{name: "429", err: &httpError{statusCode: http.StatusTooManyRequests}, want: true},
		{name: "503", err: &httpError{statusCode: http.StatusServiceUnavailable}, want: true},
		{name: "400", err: &httpError{statusCode: http.StatusBadRequest}, want: false},
		{name: "program error", err: errors.New("custom program error: 0x1"), want: false},
		{name: "rpc block status pending", err: &jsonrpc.RPCError{Code: -32014, Message: "Block status not yet available for slot 5"}, want: true},
		{name: "rpc preflight failure", err: &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: custom program error: 0x1"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestVault_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		got := calculateBackoff(500*time.Millisecond, 5*time.Second, 2)
		require.GreaterOrEqual(t, got, 1*time.Second)
		require.LessOrEqual(t, got, 2*time.Second)
	}

	for i := 0; i < 20; i++ {
		got := calculateBackoff(500*time.Millisecond, 5*time.Second, 6)
		require.GreaterOrEqual(t, got, 2500*time.Millisecond)
		require.LessOrEqual(t, got, 5*time.Second)
	}
}

// httpError implements StatusCode() like RPC client HTTP errors do.
type httpError struct {
	statusCode int
}

func (e *httpError) Error() string {
	return http.StatusText(e.statusCode)
}

func (e *httpError) StatusCode() int {
	return e.statusCode
}
