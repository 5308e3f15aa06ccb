package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ContractID addresses a commodity contract. Ids are dense and assigned in
// creation order starting at zero.
type ContractID uint64

// Quantity is the commodity volume covered by a contract.
type Quantity uint64

// BlockIndex is the externally supplied time unit.
type BlockIndex uint64

// Amount is a token quantity. The representable range is [0, 2^256-1].
type Amount = uint256.Int

// NewAmount returns v as an Amount.
func NewAmount(v uint64) Amount {
	return *uint256.NewInt(v)
}

// ParseAmount parses a base-10 token quantity.
func ParseAmount(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	return *v, nil
}

// Contract is the full record of a commodity contract.
type Contract struct {
	ID            ContractID
	Seller        common.Address
	Buyer         *common.Address
	Price         Amount
	Total         Amount
	Quantity      Quantity
	FinalityBlock BlockIndex
	Finalized     bool
}

// Bought reports whether a buyer has been recorded.
func (c Contract) Bought() bool { return c.Buyer != nil }

// Status names the lifecycle state of the contract.
func (c Contract) Status() Status {
	switch {
	case c.Finalized:
		return StatusFinalized
	case c.Buyer != nil:
		return StatusBought
	default:
		return StatusListed
	}
}

// Status is a contract lifecycle state.
type Status string

const (
	StatusListed    Status = "LISTED"
	StatusBought    Status = "BOUGHT"
	StatusFinalized Status = "FINALIZED"
)
