package statemachine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDict is a minimal write-once dictionary: the first Set for a key
// wins, every later Set returns that original value, mirroring the real
// Multi-Paxos dictionary's externally observable contract.
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

// seed externally decides a slot, simulating another node's command
// winning without going through this state machine's Execute.
func (d *fakeDict) seed(key, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[string(key)] = value
}

var errBadCommand = errors.New("bad command")

type fakeApplier struct {
	mu      sync.Mutex
	applied [][]byte
}

func (a *fakeApplier) Apply(data []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, append([]byte(nil), data...))
	if string(data) == "bad" {
		return nil, errBadCommand
	}
	return append([]byte("ok:"), data...), nil
}

func TestStateMachineExecuteAppliesOwnCommand(t *testing.T) {
	dict := newFakeDict()
	app := &fakeApplier{}
	sm := New(dict, "ledger", app)

	result, err := sm.Execute(context.Background(), []byte("cmd1"))
	require.NoError(t, err)
	require.Equal(t, []byte("ok:cmd1"), result)
	require.Equal(t, uint64(1), sm.Watermark())
}

func TestStateMachineExecuteSkipsSlotsWonByOthers(t *testing.T) {
	dict := newFakeDict()
	app := &fakeApplier{}
	sm := New(dict, "ledger", app)

	key0, err := sm.slotKey(0)
	require.NoError(t, err)
	dict.seed(key0, []byte("other's command"))

	result, err := sm.Execute(context.Background(), []byte("mine"))
	require.NoError(t, err)
	require.Equal(t, []byte("ok:mine"), result)
	require.Equal(t, uint64(2), sm.Watermark())
	require.Equal(t, [][]byte{[]byte("other's command"), []byte("mine")}, app.applied)
}

func TestStateMachineSyncCatchesUpWithoutApplyingTwice(t *testing.T) {
	dict := newFakeDict()
	app := &fakeApplier{}
	sm := New(dict, "ledger", app)

	for i := uint64(0); i < 3; i++ {
		key, err := sm.slotKey(i)
		require.NoError(t, err)
		dict.seed(key, []byte("cmd"))
	}

	require.NoError(t, sm.Sync(context.Background()))
	require.Equal(t, uint64(3), sm.Watermark())
	require.Len(t, app.applied, 3)

	require.NoError(t, sm.Sync(context.Background()))
	require.Equal(t, uint64(3), sm.Watermark(), "sync must not re-scan already applied slots")
	require.Len(t, app.applied, 3)
}

func TestStateMachineSyncAdvancesPastApplyErrors(t *testing.T) {
	dict := newFakeDict()
	app := &fakeApplier{}
	sm := New(dict, "ledger", app)

	key0, _ := sm.slotKey(0)
	dict.seed(key0, []byte("bad"))
	key1, _ := sm.slotKey(1)
	dict.seed(key1, []byte("good"))

	require.NoError(t, sm.Sync(context.Background()))
	require.Equal(t, uint64(2), sm.Watermark(), "a domain apply error must not stall the watermark")
}

func TestStateMachineExecutePropagatesOwnApplyError(t *testing.T) {
	dict := newFakeDict()
	app := &fakeApplier{}
	sm := New(dict, "ledger", app)

	result, err := sm.Execute(context.Background(), []byte("bad"))
	require.ErrorIs(t, err, errBadCommand)
	require.Nil(t, result)
	require.Equal(t, uint64(1), sm.Watermark(), "the slot is still committed even though applying it failed")
}
