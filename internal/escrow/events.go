package escrow

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EventTypeTransfer          = "token.transfer"
	EventTypeApproval          = "token.approval"
	EventTypeNewContract       = "contract.new"
	EventTypeContractBought    = "contract.bought"
	EventTypeContractFinalized = "contract.finalized"
)

// Event is a domain event emitted after a successful state change.
type Event interface {
	EventType() string
	Attributes() map[string]string
}

// Transfer records a balance movement. From is nil for the genesis credit.
type Transfer struct {
	From  *common.Address
	To    common.Address
	Value Amount
}

func (Transfer) EventType() string { return EventTypeTransfer }

func (e Transfer) Attributes() map[string]string {
	attrs := map[string]string{
		"to":    e.To.Hex(),
		"value": e.Value.Dec(),
	}
	if e.From != nil {
		attrs["from"] = e.From.Hex()
	}
	return attrs
}

// Approval records an allowance overwrite.
type Approval struct {
	Owner   common.Address
	Spender common.Address
	Value   Amount
}

func (Approval) EventType() string { return EventTypeApproval }

func (e Approval) Attributes() map[string]string {
	return map[string]string{
		"owner":   e.Owner.Hex(),
		"spender": e.Spender.Hex(),
		"value":   e.Value.Dec(),
	}
}

type NewContract struct {
	ID            ContractID
	Seller        common.Address
	Price         Amount
	Total         Amount
	Quantity      Quantity
	FinalityBlock BlockIndex
}

func (NewContract) EventType() string { return EventTypeNewContract }

func (e NewContract) Attributes() map[string]string {
	return map[string]string{
		"id":            formatID(e.ID),
		"seller":        e.Seller.Hex(),
		"price":         e.Price.Dec(),
		"total":         e.Total.Dec(),
		"quantity":      strconv.FormatUint(uint64(e.Quantity), 10),
		"finalityBlock": strconv.FormatUint(uint64(e.FinalityBlock), 10),
	}
}

type ContractBought struct {
	ID    ContractID
	Buyer common.Address
	Price Amount
	Total Amount
}

func (ContractBought) EventType() string { return EventTypeContractBought }

func (e ContractBought) Attributes() map[string]string {
	return map[string]string{
		"id":    formatID(e.ID),
		"buyer": e.Buyer.Hex(),
		"price": e.Price.Dec(),
		"total": e.Total.Dec(),
	}
}

type ContractFinalized struct {
	ID    ContractID
	Buyer common.Address
	Total Amount
}

func (ContractFinalized) EventType() string { return EventTypeContractFinalized }

func (e ContractFinalized) Attributes() map[string]string {
	return map[string]string{
		"id":    formatID(e.ID),
		"buyer": e.Buyer.Hex(),
		"total": e.Total.Dec(),
	}
}

func formatID(id ContractID) string {
	return strconv.FormatUint(uint64(id), 10)
}
