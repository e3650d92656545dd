// Package dberror classifies store errors from PostgreSQL and SQLite so
// handlers can retry reads and pick a response.
package dberror

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/malbeclabs/claimvault/utils/pkg/retry"
	"github.com/mattn/go-sqlite3"
)

// ErrorType classifies database errors for appropriate handling.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConnectivity indicates the database is unreachable.
	ErrorTypeConnectivity
	ErrorTypeTimeout
	// ErrorTypeContention is lock or serialization contention between
	// concurrent transactions.
	ErrorTypeContention
	ErrorTypeAuth
	// ErrorTypeQuery indicates a schema or syntax problem.
	ErrorTypeQuery
)

// IsTransient reports whether err is worth retrying. Cancellation and
// caller deadlines never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout, ErrorTypeContention:
		return true
	default:
		return false
	}
}

// Classify determines the type of database error. Driver error types are
// checked first; message patterns cover errors that lost their type.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return classifySQLite(liteErr.Code)
	}

	if pgconn.Timeout(err) {
		return ErrorTypeTimeout
	}
	if pgconn.SafeToRetry(err) {
		return ErrorTypeConnectivity
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if strings.Contains(msg, p.substr) {
			return p.typ
		}
	}
	return ErrorTypeUnknown
}

// classifySQLState maps PostgreSQL SQLSTATE codes.
func classifySQLState(code string) ErrorType {
	switch code {
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return ErrorTypeContention
	case "57014": // query_canceled, raised by statement_timeout
		return ErrorTypeTimeout
	case "57P01", "57P02", "57P03", "53300": // shutdowns, cannot_connect_now, too_many_connections
		return ErrorTypeConnectivity
	case "42501": // insufficient_privilege
		return ErrorTypeAuth
	}
	if len(code) < 2 {
		return ErrorTypeUnknown
	}
	switch code[:2] {
	case "08":
		return ErrorTypeConnectivity
	case "28":
		return ErrorTypeAuth
	case "42":
		return ErrorTypeQuery
	}
	return ErrorTypeUnknown
}

func classifySQLite(code sqlite3.ErrNo) ErrorType {
	switch code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return ErrorTypeContention
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
		return ErrorTypeConnectivity
	case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
		return ErrorTypeAuth
	case sqlite3.ErrError:
		return ErrorTypeQuery
	}
	return ErrorTypeUnknown
}

var messagePatterns = []struct {
	substr string
	typ    ErrorType
}{
	{"closed pool", ErrorTypeConnectivity},
	{"conn closed", ErrorTypeConnectivity},
	{"connection refused", ErrorTypeConnectivity},
	{"connection reset", ErrorTypeConnectivity},
	{"broken pipe", ErrorTypeConnectivity},
	{"no such host", ErrorTypeConnectivity},
	{"database is closed", ErrorTypeConnectivity},
	{"too many clients", ErrorTypeConnectivity},
	{"the database system is starting up", ErrorTypeConnectivity},
	{"the database system is shutting down", ErrorTypeConnectivity},
	{"database is locked", ErrorTypeContention},
	{"could not serialize access", ErrorTypeContention},
	{"timed out", ErrorTypeTimeout},
	{"timeout", ErrorTypeTimeout},
	{"password authentication failed", ErrorTypeAuth},
	{"permission denied", ErrorTypeAuth},
	{"syntax error", ErrorTypeQuery},
	{"does not exist", ErrorTypeQuery},
	{"no such table", ErrorTypeQuery},
}

// UserMessage returns the message shown to API clients for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch Classify(err) {
	case ErrorTypeConnectivity:
		return "Storage temporarily unavailable. Please try again in a moment."
	case ErrorTypeTimeout:
		return "Request timed out. Please try again."
	case ErrorTypeContention:
		return "Vault is busy. Please try again."
	case ErrorTypeAuth, ErrorTypeQuery:
		return "Storage is misconfigured. Please contact support."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// DefaultRetryConfig is tuned for reads served inside an HTTP request.
func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	}
}

// Retry runs read-only fn, retrying transient errors. The last error is
// returned wrapped when attempts run out.
func Retry[T any](ctx context.Context, cfg retry.Config, fn func() (T, error)) (T, error) {
	cfg.Retryable = IsTransient

	var result T
	err := retry.Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
