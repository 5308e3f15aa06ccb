package escrow

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c4")
)

type recorder struct {
	events []Event
}

func (r *recorder) Emit(evt Event) { r.events = append(r.events, evt) }

func (r *recorder) types() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func amt(v uint64) Amount { return NewAmount(v) }

func requireBalance(t *testing.T, l *Ledger, account common.Address, want uint64) {
	t.Helper()
	got := l.BalanceOf(account)
	require.Equal(t, want, got.Uint64(), "balance of %s", account.Hex())
}

func TestNewLedgerCreditsGenesis(t *testing.T) {
	rec := &recorder{}
	l := NewLedger(amt(1000), alice, rec)

	requireBalance(t, l, alice, 1000)
	requireBalance(t, l, bob, 0)
	supply := l.TotalSupply()
	require.Equal(t, uint64(1000), supply.Uint64())
	require.NoError(t, l.CheckConservation())

	require.Len(t, rec.events, 1)
	genesis, ok := rec.events[0].(Transfer)
	require.True(t, ok)
	require.Nil(t, genesis.From)
	require.Equal(t, alice, genesis.To)
	_, hasFrom := genesis.Attributes()["from"]
	require.False(t, hasFrom)
}

func TestTransfer(t *testing.T) {
	rec := &recorder{}
	l := NewLedger(amt(100), alice, rec)

	require.NoError(t, l.Transfer(alice, bob, amt(40)))
	requireBalance(t, l, alice, 60)
	requireBalance(t, l, bob, 40)

	err := l.Transfer(bob, carol, amt(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	requireBalance(t, l, bob, 40)
	requireBalance(t, l, carol, 0)

	require.NoError(t, l.Transfer(bob, bob, amt(40)))
	requireBalance(t, l, bob, 40)

	require.NoError(t, l.Transfer(alice, carol, amt(0)))
	require.NoError(t, l.CheckConservation())
	require.Equal(t, []string{EventTypeTransfer, EventTypeTransfer, EventTypeTransfer, EventTypeTransfer}, rec.types())
}

func TestTransferDropsEmptyBalances(t *testing.T) {
	l := NewLedger(amt(10), alice, nil)
	require.NoError(t, l.Transfer(alice, bob, amt(10)))

	balances := l.Balances()
	require.Len(t, balances, 1)
	_, ok := balances[alice]
	require.False(t, ok)
}

func TestTransferOverflowLeavesBalancesUnchanged(t *testing.T) {
	l := NewLedger(amt(10), alice, nil)
	l.balances[bob] = *new(uint256.Int).SetAllOne()

	err := l.Transfer(alice, bob, amt(1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	requireBalance(t, l, alice, 10)
	got := l.BalanceOf(bob)
	require.True(t, got.Eq(new(uint256.Int).SetAllOne()))
}

func TestApproveOverwrites(t *testing.T) {
	rec := &recorder{}
	l := NewLedger(amt(100), alice, rec)

	l.Approve(alice, bob, amt(50))
	allowance := l.Allowance(alice, bob)
	require.Equal(t, uint64(50), allowance.Uint64())

	l.Approve(alice, bob, amt(7))
	allowance = l.Allowance(alice, bob)
	require.Equal(t, uint64(7), allowance.Uint64())

	l.Approve(alice, bob, amt(0))
	allowance = l.Allowance(alice, bob)
	require.True(t, allowance.IsZero())

	reverse := l.Allowance(bob, alice)
	require.True(t, reverse.IsZero())
	require.Equal(t, []string{EventTypeTransfer, EventTypeApproval, EventTypeApproval, EventTypeApproval}, rec.types())
}

func TestTransferFromDeductsExactly(t *testing.T) {
	l := NewLedger(amt(100), alice, nil)
	l.Approve(alice, bob, amt(30))

	require.NoError(t, l.TransferFrom(bob, alice, carol, amt(12)))
	requireBalance(t, l, alice, 88)
	requireBalance(t, l, carol, 12)
	requireBalance(t, l, bob, 0)
	allowance := l.Allowance(alice, bob)
	require.Equal(t, uint64(18), allowance.Uint64())

	require.NoError(t, l.TransferFrom(bob, alice, bob, amt(18)))
	allowance = l.Allowance(alice, bob)
	require.True(t, allowance.IsZero())
	require.NoError(t, l.CheckConservation())
}

func TestTransferFromInsufficientAllowance(t *testing.T) {
	l := NewLedger(amt(100), alice, nil)
	l.Approve(alice, bob, amt(5))

	err := l.TransferFrom(bob, alice, carol, amt(6))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	requireBalance(t, l, alice, 100)

	err = l.TransferFrom(carol, alice, carol, amt(1))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestTransferFromKeepsAllowanceOnBalanceFailure(t *testing.T) {
	l := NewLedger(amt(100), alice, nil)
	require.NoError(t, l.Transfer(alice, carol, amt(95)))
	l.Approve(alice, bob, amt(50))

	err := l.TransferFrom(bob, alice, bob, amt(10))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	allowance := l.Allowance(alice, bob)
	require.Equal(t, uint64(50), allowance.Uint64())
	requireBalance(t, l, alice, 5)
}

func TestApplyMovesIsAllOrNothing(t *testing.T) {
	rec := &recorder{}
	l := NewLedger(amt(100), alice, rec)

	err := l.applyMoves(
		move{from: alice, to: bob, amount: amt(60)},
		move{from: alice, to: carol, amount: amt(60)},
	)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	requireBalance(t, l, alice, 100)
	requireBalance(t, l, bob, 0)
	require.Len(t, rec.events, 1)

	require.NoError(t, l.applyMoves(
		move{from: alice, to: bob, amount: amt(60)},
		move{from: alice, to: carol, amount: amt(40)},
	))
	requireBalance(t, l, alice, 0)
	requireBalance(t, l, bob, 60)
	requireBalance(t, l, carol, 40)
	require.Len(t, rec.events, 3)
}

func TestCheckConservationDetectsDrift(t *testing.T) {
	l := NewLedger(amt(100), alice, nil)
	l.balances[bob] = amt(1)

	err := l.CheckConservation()
	require.ErrorIs(t, err, ErrLedgerInvariant)
	require.True(t, IsFatal(err))
	require.Equal(t, "LedgerInvariant", CodeOf(err))
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("100010")
	require.NoError(t, err)
	require.Equal(t, uint64(100010), v.Uint64())

	_, err = ParseAmount("-1")
	require.Error(t, err)
	_, err = ParseAmount("twelve")
	require.Error(t, err)
}
