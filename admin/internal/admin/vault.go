package admin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	"gopkg.in/yaml.v3"
)

// InitVault creates a vault owned by owner and prints its summary.
func InitVault(ctx context.Context, log *slog.Logger, engine *vault.Engine, owner solana.PublicKey, params vault.InitializeParams, out io.Writer) (*vault.Vault, error) {
	v, err := engine.Initialize(ctx, owner, params)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}
	log.Info("admin: vault initialized", "vault_id", v.ID, "owner", owner.String(), "balance", v.Balance)
	if err := writeJSON(out, v.Summary()); err != nil {
		return nil, err
	}
	return v, nil
}

// VaultReport is what ShowVault prints: the vault plus every whitelist row.
type VaultReport struct {
	Vault     vault.Summary           `json:"vault"`
	Whitelist []vault.WhitelistStatus `json:"whitelist"`
}

// ShowVault prints a vault and its whitelist as JSON.
func ShowVault(ctx context.Context, engine *vault.Engine, id uuid.UUID, out io.Writer) error {
	report, err := loadReport(ctx, engine, id)
	if err != nil {
		return err
	}
	return writeJSON(out, report)
}

func loadReport(ctx context.Context, engine *vault.Engine, id uuid.UUID) (*VaultReport, error) {
	v, err := engine.GetVault(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get vault: %w", err)
	}
	entries, err := engine.ListWhitelist(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}
	return &VaultReport{Vault: v.Summary(), Whitelist: entries}, nil
}

// WhitelistFile is the YAML format accepted by --whitelist-file:
//
//	vault: 2b1c...            # optional, --vault wins
//	entries:
//	  - wallet: 9xQe...
//	    amount: 1000
type WhitelistFile struct {
	Vault   string               `yaml:"vault"`
	Entries []WhitelistFileEntry `yaml:"entries"`
}

type WhitelistFileEntry struct {
	Wallet string `yaml:"wallet"`
	// Amount must be present; an explicit 0 disables the wallet.
	Amount *uint64 `yaml:"amount"`
}

// LoadWhitelistFile parses and validates a whitelist YAML file. Every bad
// row is reported, not just the first.
func LoadWhitelistFile(path string) (*WhitelistFile, []vault.WhitelistEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read whitelist file: %w", err)
	}

	var f WhitelistFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("whitelist file is empty")
		}
		return nil, nil, fmt.Errorf("failed to parse whitelist file: %w", err)
	}

	var (
		entries = make([]vault.WhitelistEntry, 0, len(f.Entries))
		seen    = make(map[solana.PublicKey]int, len(f.Entries))
		errs    []error
	)
	for i, row := range f.Entries {
		wallet, err := solana.PublicKeyFromBase58(row.Wallet)
		if err != nil || wallet.IsZero() {
			errs = append(errs, fmt.Errorf("entry %d: invalid wallet %q", i+1, row.Wallet))
			continue
		}
		if prev, ok := seen[wallet]; ok {
			errs = append(errs, fmt.Errorf("entry %d: wallet %s already listed in entry %d", i+1, wallet, prev))
			continue
		}
		seen[wallet] = i + 1
		if row.Amount == nil {
			errs = append(errs, fmt.Errorf("entry %d: amount is required for wallet %s", i+1, wallet))
			continue
		}
		entries = append(entries, vault.WhitelistEntry{Wallet: wallet, Entitlement: *row.Amount})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, nil, err
	}
	return &f, entries, nil
}

// ApplyReport summarises a bulk whitelist run.
type ApplyReport struct {
	Applied int
	Failed  int
}

// ApplyWhitelist upserts every entry. A failing entry is logged and skipped.
// Ownership and missing-vault errors abort the run.
func ApplyWhitelist(ctx context.Context, log *slog.Logger, engine *vault.Engine, id uuid.UUID, owner solana.PublicKey, entries []vault.WhitelistEntry) (ApplyReport, error) {
	var report ApplyReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := engine.AddToWhitelist(ctx, id, owner, e.Wallet, e.Entitlement)
		switch {
		case err == nil:
			report.Applied++
			log.Debug("admin: whitelist entry applied", "wallet", e.Wallet.String(), "entitlement", e.Entitlement)
		case errors.Is(err, vault.ErrNotVaultOwner), errors.Is(err, vault.ErrVaultNotFound):
			return report, err
		default:
			report.Failed++
			log.Error("admin: failed to apply whitelist entry", "wallet", e.Wallet.String(), "entitlement", e.Entitlement, "error", err)
		}
	}
	log.Info("admin: whitelist applied", "vault_id", id, "applied", report.Applied, "failed", report.Failed)
	return report, nil
}

// RemoveWallet deletes wallet from the whitelist after confirmation on in.
// Its claim record is kept.
func RemoveWallet(ctx context.Context, log *slog.Logger, engine *vault.Engine, id uuid.UUID, owner, wallet solana.PublicKey, skipConfirm bool, in io.Reader, out io.Writer) error {
	st, err := engine.Status(ctx, id, wallet)
	if err != nil {
		return fmt.Errorf("failed to get wallet status: %w", err)
	}

	fmt.Fprintf(out, "Removing %s from vault %s (entitlement %d, claimed %d)\n", wallet, id, st.Entitlement, st.ClaimedAmount)
	if !skipConfirm {
		fmt.Fprint(out, "Type 'yes' to confirm: ")
		response, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(out, "Confirmation failed. Operation cancelled.")
			return nil
		}
	}

	if err := engine.RemoveFromWhitelist(ctx, id, owner, wallet); err != nil {
		return fmt.Errorf("failed to remove wallet: %w", err)
	}
	log.Info("admin: wallet removed", "vault_id", id, "wallet", wallet.String())
	fmt.Fprintln(out, "Removed.")
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
