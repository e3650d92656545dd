package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	"github.com/malbeclabs/claimvault/utils/pkg/retry"
)

// SolanaRPC is the subset of the solana-go RPC client used for transfers.
type SolanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

// statusLookupTimeout bounds the signature status check made after a
// failed send. It runs even when the caller's context is done.
const statusLookupTimeout = 10 * time.Second

type SolanaConfig struct {
	Logger *slog.Logger
	RPC    SolanaRPC
	// Authority signs transfers and pays fees. It must own the holding
	// accounts of every vault served by this transferer.
	Authority solana.PrivateKey
	Mint      solana.PublicKey

	Commitment solanarpc.CommitmentType
	Retry      retry.Config
}

func (cfg *SolanaConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if len(cfg.Authority) == 0 {
		return errors.New("authority keypair is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Solana pays claims with SPL Token transfers. Recipients are paid into
// their associated token account for Mint, which must already exist.
type Solana struct {
	log       *slog.Logger
	cfg       SolanaConfig
	authority solana.PublicKey
}

func NewSolana(cfg SolanaConfig) (*Solana, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Solana{
		log:       cfg.Logger,
		cfg:       cfg,
		authority: cfg.Authority.PublicKey(),
	}, nil
}

// DefaultSource returns the authority's associated token account for the
// mint, used when a vault has no holding account.
func (s *Solana) DefaultSource() (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(s.authority, s.cfg.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive authority token account: %w", err)
	}
	return ata, nil
}

func (s *Solana) Transfer(ctx context.Context, req vault.TransferRequest) (vault.TransferReceipt, error) {
	source := req.From
	if source.IsZero() {
		ata, err := s.DefaultSource()
		if err != nil {
			return vault.TransferReceipt{}, err
		}
		source = ata
	}
	dest, _, err := solana.FindAssociatedTokenAddress(req.To, s.cfg.Mint)
	if err != nil {
		return vault.TransferReceipt{}, fmt.Errorf("failed to derive recipient token account: %w", err)
	}

	ix := token.NewTransferInstruction(req.Amount, source, dest, s.authority, nil).Build()

	var blockhash solana.Hash
	err = retry.Do(ctx, s.retryConfig("blockhash"), func() error {
		res, err := s.cfg.RPC.GetLatestBlockhash(ctx, s.cfg.Commitment)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return errors.New("empty blockhash response")
		}
		blockhash = res.Value.Blockhash
		return nil
	})
	if err != nil {
		return vault.TransferReceipt{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(s.authority))
	if err != nil {
		return vault.TransferReceipt{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.authority) {
			return &s.cfg.Authority
		}
		return nil
	}); err != nil {
		return vault.TransferReceipt{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	// The same signed transaction is resent on retry. A send whose response
	// was lost may still have landed, so a resend reporting the transaction
	// as already processed is a success, and any final send failure is
	// checked against the signature's on-chain status before it is reported.
	sig := tx.Signatures[0]
	sends := 0
	err = retry.Do(ctx, s.retryConfig("send"), func() error {
		sends++
		_, err := s.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			PreflightCommitment: s.cfg.Commitment,
		})
		if err != nil && sends > 1 && isAlreadyProcessed(err) {
			s.log.Info("transfer: resend found transaction already processed", "signature", sig.String())
			return nil
		}
		return err
	})
	if err != nil {
		landed, lookupErr := s.landed(ctx, sig)
		if lookupErr != nil {
			s.log.Warn("transfer: failed to look up signature status after send error",
				"signature", sig.String(), "send_error", err, "error", lookupErr)
		}
		if !landed {
			return vault.TransferReceipt{}, fmt.Errorf("failed to send transfer: %w", err)
		}
		s.log.Warn("transfer: send reported an error but the transaction landed",
			"signature", sig.String(), "error", err)
	}

	s.log.Info("transfer: sent",
		"vault_id", req.VaultID,
		"reference", req.Reference,
		"recipient", req.To.String(),
		"destination", dest.String(),
		"amount", req.Amount,
		"signature", sig.String())
	return vault.TransferReceipt{Signature: sig.String()}, nil
}

// landed reports whether sig was processed on chain without error.
func (s *Solana) landed(ctx context.Context, sig solana.Signature) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusLookupTimeout)
	defer cancel()

	res, err := s.cfg.RPC.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, err
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return false, nil
	}
	return res.Value[0].Err == nil, nil
}

// isAlreadyProcessed matches the preflight rejection of a transaction
// whose signature is already on chain.
func isAlreadyProcessed(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if strings.Contains(rpcErr.Message, "already been processed") {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "already been processed") || strings.Contains(msg, "AlreadyProcessed")
}

func (s *Solana) retryConfig(step string) retry.Config {
	cfg := s.cfg.Retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error) {
		s.log.Warn("transfer: retrying rpc call", "step", step, "attempt", attempt, "error", err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return cfg
}
