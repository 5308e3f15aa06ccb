package host

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"commodrails/internal/escrow"
)

// Supply summarizes the ledger-wide amounts.
type Supply struct {
	TotalSupply      escrow.Amount
	Custodian        common.Address
	CustodianBalance escrow.Amount
}

func (h *Host) Contract(id escrow.ContractID) (escrow.Contract, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Contract(id)
}

func (h *Host) ContractCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.ContractCount()
}

func (h *Host) BalanceOf(account common.Address) escrow.Amount {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ledger.BalanceOf(account)
}

func (h *Host) Allowance(owner, spender common.Address) escrow.Amount {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ledger.Allowance(owner, spender)
}

func (h *Host) Supply() Supply {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Supply{
		TotalSupply:      h.ledger.TotalSupply(),
		Custodian:        h.registry.Custodian(),
		CustodianBalance: h.registry.CustodianBalance(),
	}
}

// CheckConservation verifies the ledger's balance sum against its supply.
func (h *Host) CheckConservation() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ledger.CheckConservation()
}

// CurrentBlock reads the block height without taking the host lock.
func (h *Host) CurrentBlock(ctx context.Context) (escrow.BlockIndex, error) {
	n, err := h.blocks.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return escrow.BlockIndex(n), nil
}
