package vault

import (
	"sort"

	"github.com/gagliardetto/solana-go"
)

// WhitelistEntry is one approved recipient and its entitlement ceiling.
type WhitelistEntry struct {
	Wallet      solana.PublicKey `json:"wallet"`
	Entitlement uint64           `json:"entitlement"`
}

// Whitelist maps recipient wallets to entitlements. The zero value is an
// empty, usable whitelist.
type Whitelist struct {
	entries map[solana.PublicKey]uint64
}

// NewWhitelist builds a whitelist from entries. Later duplicates overwrite
// earlier ones.
func NewWhitelist(entries ...WhitelistEntry) Whitelist {
	var w Whitelist
	for _, e := range entries {
		w.Upsert(e.Wallet, e.Entitlement)
	}
	return w
}

// Upsert sets the entitlement for wallet, overwriting any previous value.
func (w *Whitelist) Upsert(wallet solana.PublicKey, amount uint64) {
	if w.entries == nil {
		w.entries = make(map[solana.PublicKey]uint64)
	}
	w.entries[wallet] = amount
}

// Remove deletes wallet and reports whether it was present.
func (w *Whitelist) Remove(wallet solana.PublicKey) bool {
	if _, ok := w.entries[wallet]; !ok {
		return false
	}
	delete(w.entries, wallet)
	return true
}

// Entitlement returns the recorded amount for wallet.
func (w Whitelist) Entitlement(wallet solana.PublicKey) (uint64, bool) {
	amount, ok := w.entries[wallet]
	return amount, ok
}

func (w Whitelist) Len() int {
	return len(w.entries)
}

// Entries returns all entries ordered by base58 wallet address.
func (w Whitelist) Entries() []WhitelistEntry {
	out := make([]WhitelistEntry, 0, len(w.entries))
	for wallet, amount := range w.entries {
		out = append(out, WhitelistEntry{Wallet: wallet, Entitlement: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Wallet.String() < out[j].Wallet.String()
	})
	return out
}

// Clone returns a deep copy.
func (w Whitelist) Clone() Whitelist {
	if w.entries == nil {
		return Whitelist{}
	}
	c := Whitelist{entries: make(map[solana.PublicKey]uint64, len(w.entries))}
	for k, v := range w.entries {
		c.entries[k] = v
	}
	return c
}

// Diff compares w against a previous version and returns the entries that
// were inserted or changed and the wallets that were removed. Store adapters
// use it to persist only what a transaction touched.
func (w Whitelist) Diff(prev Whitelist) (upserted []WhitelistEntry, removed []solana.PublicKey) {
	for wallet, amount := range w.entries {
		if old, ok := prev.entries[wallet]; !ok || old != amount {
			upserted = append(upserted, WhitelistEntry{Wallet: wallet, Entitlement: amount})
		}
	}
	for wallet := range prev.entries {
		if _, ok := w.entries[wallet]; !ok {
			removed = append(removed, wallet)
		}
	}
	return upserted, removed
}
