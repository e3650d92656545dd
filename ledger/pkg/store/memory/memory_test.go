package memory_test

import (
	"testing"

	"github.com/malbeclabs/claimvault/ledger/pkg/store/memory"
	"github.com/malbeclabs/claimvault/ledger/pkg/store/storetest"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
)

func TestVault_Store_Memory(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) vault.Store {
		return memory.New()
	})
}
