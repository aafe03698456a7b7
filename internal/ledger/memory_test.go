package ledger_test

import (
	"testing"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
	"github.com/alanyoungcy/peermarket/internal/ledger/ledgertest"
)

func TestMemory_Contract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) domain.Ledger {
		return ledger.NewMemory()
	})
}
