package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type record struct {
	seller        common.Address
	buyer         common.Address
	bought        bool
	price         Amount
	total         Amount
	quantity      Quantity
	finalityBlock BlockIndex
	finalized     bool
}

// Registry holds commodity contracts and drives their lifecycle
// Listed -> Bought -> Finalized, moving value through the ledger. Contracts
// live in a slice indexed by ContractID; the next id is its length.
type Registry struct {
	ledger    *Ledger
	custodian common.Address
	contracts []record
	sink      Sink
}

// NewRegistry returns an empty registry that locks funds in custodian.
func NewRegistry(ledger *Ledger, custodian common.Address, sink Sink) *Registry {
	return &Registry{
		ledger:    ledger,
		custodian: custodian,
		sink:      sinkOrNop(sink),
	}
}

func (r *Registry) Ledger() *Ledger { return r.ledger }

// Custodian returns the account holding locked totals.
func (r *Registry) Custodian() common.Address { return r.custodian }

// CustodianBalance returns the custodian's ledger balance.
func (r *Registry) CustodianBalance() Amount { return r.ledger.BalanceOf(r.custodian) }

func (r *Registry) get(id ContractID) (*record, bool) {
	if uint64(id) >= uint64(len(r.contracts)) {
		return nil, false
	}
	return &r.contracts[id], true
}

// Create lists a contract sold by caller and returns its id.
func (r *Registry) Create(caller common.Address, price, total Amount, quantity Quantity, finality, current BlockIndex) (ContractID, error) {
	if finality < current {
		return 0, ErrInvalidBlockNumber
	}

	id := ContractID(len(r.contracts))
	r.contracts = append(r.contracts, record{
		seller:        caller,
		price:         price,
		total:         total,
		quantity:      quantity,
		finalityBlock: finality,
	})

	r.sink.Emit(NewContract{
		ID:            id,
		Seller:        caller,
		Price:         price,
		Total:         total,
		Quantity:      quantity,
		FinalityBlock: finality,
	})
	return id, nil
}

// Buy records caller as the buyer of contract id, paying the price to the
// seller and locking the total with the custodian. Both payments and the
// buyer assignment happen together or not at all.
func (r *Registry) Buy(caller common.Address, id ContractID, _ BlockIndex) error {
	rec, ok := r.get(id)
	if !ok {
		return ErrContractNotFound
	}
	if rec.bought {
		return ErrContractAlreadyBought
	}

	var required Amount
	if _, overflow := required.AddOverflow(&rec.price, &rec.total); overflow {
		return ErrArithmeticOverflow
	}
	balance := r.ledger.BalanceOf(caller)
	if balance.Lt(&required) {
		return ErrInsufficientBalance
	}

	if err := r.ledger.applyMoves(
		move{from: caller, to: rec.seller, amount: rec.price},
		move{from: caller, to: r.custodian, amount: rec.total},
	); err != nil {
		return err
	}
	rec.buyer = caller
	rec.bought = true

	r.sink.Emit(ContractBought{ID: id, Buyer: caller, Price: rec.price, Total: rec.total})
	return nil
}

// Finalize releases the locked total of contract id to its seller. Only the
// buyer may call it, and only once current has moved past the finality
// block.
func (r *Registry) Finalize(caller common.Address, id ContractID, current BlockIndex) error {
	rec, ok := r.get(id)
	if !ok {
		return ErrContractNotFound
	}
	if rec.finalized {
		return ErrContractAlreadyFinalized
	}
	if current <= rec.finalityBlock {
		return ErrCannotFinalizeBeforeFinalityBlock
	}
	if !rec.bought {
		return ErrContractNotPurchased
	}
	if caller != rec.buyer {
		return ErrOnlyBuyerCanFinalize
	}

	if err := r.ledger.transferBetween(r.custodian, rec.seller, rec.total); err != nil {
		return fmt.Errorf("%w: custody payout for contract %d: %w", ErrLedgerInvariant, id, err)
	}
	rec.finalized = true

	r.sink.Emit(ContractFinalized{ID: id, Buyer: rec.buyer, Total: rec.total})
	return nil
}

// ContractCount returns the number of contracts ever created, which is also
// the id the next contract will receive.
func (r *Registry) ContractCount() uint64 { return uint64(len(r.contracts)) }

// Contract returns the full record of contract id.
func (r *Registry) Contract(id ContractID) (Contract, error) {
	rec, ok := r.get(id)
	if !ok {
		return Contract{}, ErrContractNotFound
	}
	c := Contract{
		ID:            id,
		Seller:        rec.seller,
		Price:         rec.price,
		Total:         rec.total,
		Quantity:      rec.quantity,
		FinalityBlock: rec.finalityBlock,
		Finalized:     rec.finalized,
	}
	if rec.bought {
		buyer := rec.buyer
		c.Buyer = &buyer
	}
	return c, nil
}

func (r *Registry) Seller(id ContractID) (common.Address, bool) {
	rec, ok := r.get(id)
	if !ok {
		return common.Address{}, false
	}
	return rec.seller, true
}

// Buyer returns the buyer of contract id. ok is false for unknown or unsold
// contracts.
func (r *Registry) Buyer(id ContractID) (common.Address, bool) {
	rec, ok := r.get(id)
	if !ok || !rec.bought {
		return common.Address{}, false
	}
	return rec.buyer, true
}

func (r *Registry) Price(id ContractID) (Amount, bool) {
	rec, ok := r.get(id)
	if !ok {
		return Amount{}, false
	}
	return rec.price, true
}

func (r *Registry) Total(id ContractID) (Amount, bool) {
	rec, ok := r.get(id)
	if !ok {
		return Amount{}, false
	}
	return rec.total, true
}

func (r *Registry) Quantity(id ContractID) (Quantity, bool) {
	rec, ok := r.get(id)
	if !ok {
		return 0, false
	}
	return rec.quantity, true
}

func (r *Registry) FinalityBlock(id ContractID) (BlockIndex, bool) {
	rec, ok := r.get(id)
	if !ok {
		return 0, false
	}
	return rec.finalityBlock, true
}

func (r *Registry) IsFinalized(id ContractID) (bool, bool) {
	rec, ok := r.get(id)
	if !ok {
		return false, false
	}
	return rec.finalized, true
}
