package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeDict is a single-writer write-once dictionary double: good enough to
// exercise ReplicatedLedger's command encoding and slot-replay glue without
// standing up a full Paxos cluster, which internal/statemachine already
// tests against the consensus layer's real contract.
type fakeDict struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeDict() *fakeDict { return &fakeDict{values: map[string][]byte{}} }

func (d *fakeDict) Set(_ context.Context, key, value []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.values[string(key)]; ok {
		return existing, nil
	}
	d.values[string(key)] = value
	return value, nil
}

func (d *fakeDict) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[string(key)]
	return v, ok, nil
}

func TestReplicatedLedgerEndToEnd(t *testing.T) {
	ctx := context.Background()
	dict := newFakeDict()
	rl := NewReplicatedLedger(dict, "ledger")

	a, err := rl.OpenAccount(ctx)
	require.NoError(t, err)
	b, err := rl.OpenAccount(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, rl.Deposit(ctx, a, decimal.NewFromInt(100)))
	require.NoError(t, rl.Transfer(ctx, a, b, decimal.NewFromInt(40)))

	acctA, err := rl.Account(ctx, a)
	require.NoError(t, err)
	acctB, err := rl.Account(ctx, b)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(60).Equal(acctA.Funds))
	require.True(t, decimal.NewFromInt(40).Equal(acctB.Funds))
}

func TestReplicatedLedgerTransferFailureDoesNotCorruptState(t *testing.T) {
	ctx := context.Background()
	dict := newFakeDict()
	rl := NewReplicatedLedger(dict, "ledger")

	a, err := rl.OpenAccount(ctx)
	require.NoError(t, err)
	b, err := rl.OpenAccount(ctx)
	require.NoError(t, err)
	require.NoError(t, rl.Deposit(ctx, a, decimal.NewFromInt(10)))

	err = rl.Transfer(ctx, a, b, decimal.NewFromInt(500))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	acctA, err := rl.Account(ctx, a)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(10).Equal(acctA.Funds))
}

func TestReplicatedLedgerReplaysAfterRestart(t *testing.T) {
	ctx := context.Background()
	dict := newFakeDict()

	first := NewReplicatedLedger(dict, "ledger")
	uid, err := first.OpenAccount(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Deposit(ctx, uid, decimal.NewFromInt(75)))

	// A fresh ReplicatedLedger over the same dictionary simulates a
	// restarted process: its in-memory ledger starts empty but Account
	// replays the committed log first.
	second := NewReplicatedLedger(dict, "ledger")
	acct, err := second.Account(ctx, uid)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(75).Equal(acct.Funds))
}
