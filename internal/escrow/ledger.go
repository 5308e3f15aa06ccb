package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// move is one leg of a balance change applied by applyMoves.
type move struct {
	from   common.Address
	to     common.Address
	amount Amount
}

// Ledger is a fixed-supply fungible token ledger with ERC-20 style
// allowances. It performs no locking; callers serialize access.
type Ledger struct {
	totalSupply Amount
	balances    map[common.Address]Amount
	allowances  map[allowanceKey]Amount
	sink        Sink
}

// NewLedger credits the whole supply to genesis and emits a Transfer with no
// source account.
func NewLedger(totalSupply Amount, genesis common.Address, sink Sink) *Ledger {
	l := &Ledger{
		totalSupply: totalSupply,
		balances:    make(map[common.Address]Amount),
		allowances:  make(map[allowanceKey]Amount),
		sink:        sinkOrNop(sink),
	}
	putOrDelete(l.balances, genesis, totalSupply)
	l.sink.Emit(Transfer{To: genesis, Value: totalSupply})
	return l
}

// lookup reads m[k], treating a missing entry as zero.
func lookup[K comparable](m map[K]Amount, k K) Amount {
	if v, ok := m[k]; ok {
		return v
	}
	return Amount{}
}

// putOrDelete stores v under k, dropping the entry when v is zero so that
// only non-zero amounts are ever held.
func putOrDelete[K comparable](m map[K]Amount, k K, v Amount) {
	if v.IsZero() {
		delete(m, k)
		return
	}
	m[k] = v
}

func (l *Ledger) TotalSupply() Amount { return l.totalSupply }

// BalanceOf returns the balance of account, zero when it holds nothing.
func (l *Ledger) BalanceOf(account common.Address) Amount {
	return lookup(l.balances, account)
}

// Allowance returns how much spender may still move out of owner's balance.
func (l *Ledger) Allowance(owner, spender common.Address) Amount {
	return lookup(l.allowances, allowanceKey{owner: owner, spender: spender})
}

// Approve replaces the allowance of spender over owner's balance with
// amount.
func (l *Ledger) Approve(owner, spender common.Address, amount Amount) {
	putOrDelete(l.allowances, allowanceKey{owner: owner, spender: spender}, amount)
	l.sink.Emit(Approval{Owner: owner, Spender: spender, Value: amount})
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to common.Address, amount Amount) error {
	return l.transferBetween(from, to, amount)
}

// TransferFrom moves amount out of owner's balance on behalf of caller,
// consuming exactly amount of the allowance owner granted to caller. The
// allowance is left untouched when the transfer fails.
func (l *Ledger) TransferFrom(caller, owner, to common.Address, amount Amount) error {
	key := allowanceKey{owner: owner, spender: caller}
	allowance := lookup(l.allowances, key)
	if allowance.Lt(&amount) {
		return ErrInsufficientAllowance
	}
	if err := l.transferBetween(owner, to, amount); err != nil {
		return err
	}
	var rest Amount
	rest.Sub(&allowance, &amount)
	putOrDelete(l.allowances, key, rest)
	return nil
}

// transferBetween moves funds without consulting allowances. Only the
// registry reaches it directly, after validating the parties itself.
func (l *Ledger) transferBetween(from, to common.Address, amount Amount) error {
	return l.applyMoves(move{from: from, to: to, amount: amount})
}

// applyMoves validates every leg against a scratch copy of the touched
// balances and commits only when all legs succeed. A failing leg leaves the
// ledger exactly as it was.
func (l *Ledger) applyMoves(moves ...move) error {
	scratch := make(map[common.Address]Amount, 2*len(moves))
	read := func(a common.Address) Amount {
		if v, ok := scratch[a]; ok {
			return v
		}
		return lookup(l.balances, a)
	}

	for _, m := range moves {
		from := read(m.from)
		if from.Lt(&m.amount) {
			return ErrInsufficientBalance
		}
		from.Sub(&from, &m.amount)
		scratch[m.from] = from

		to := read(m.to)
		if _, overflow := to.AddOverflow(&to, &m.amount); overflow {
			return ErrArithmeticOverflow
		}
		scratch[m.to] = to
	}

	for account, balance := range scratch {
		putOrDelete(l.balances, account, balance)
	}
	for _, m := range moves {
		from := m.from
		l.sink.Emit(Transfer{From: &from, To: m.to, Value: m.amount})
	}
	return nil
}

// Balances returns a copy of every non-zero balance.
func (l *Ledger) Balances() map[common.Address]Amount {
	out := make(map[common.Address]Amount, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// CheckConservation verifies that the balances add up to the total supply.
func (l *Ledger) CheckConservation() error {
	var sum Amount
	for account, balance := range l.balances {
		if _, overflow := sum.AddOverflow(&sum, &balance); overflow {
			return fmt.Errorf("%w: balance sum overflows at %s", ErrLedgerInvariant, account.Hex())
		}
	}
	if !sum.Eq(&l.totalSupply) {
		return fmt.Errorf("%w: balances sum to %s, supply is %s", ErrLedgerInvariant, sum.Dec(), l.totalSupply.Dec())
	}
	return nil
}
