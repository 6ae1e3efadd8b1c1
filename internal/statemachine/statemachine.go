// Package statemachine turns the Multi-Paxos write-once dictionary into a
// replicated, mutable state machine: a sequence of (prefix, watermark)
// slots, each holding one committed command, applied in order to an
// in-memory application state.
package statemachine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/senutpal/paxosledger/internal/dictionary"
)

// WriteOnceDict is the port a StateMachine is layered over - satisfied by
// *dictionary.Dictionary, named as an interface here so tests can swap in
// a fake without touching the consensus layer.
type WriteOnceDict interface {
	Set(ctx context.Context, key []byte, value []byte) ([]byte, error)
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
}

// Applier is the abstract command executor a StateMachine drives; the
// ledger state machine implements it as a dispatch to open/deposit/
// withdraw/transfer.
type Applier interface {
	// Apply mutates the application state according to data and returns
	// an opaque result. Domain errors are returned, not panicked: the
	// command has already been committed to the log regardless of the
	// outcome of applying it.
	Apply(data []byte) ([]byte, error)
}

// StateMachine replays the dictionary's log for one prefix in watermark
// order. Correctness rests entirely on the dictionary's write-once
// property: a slot is decided once, so every replica applying slots in
// order reaches the same state.
type StateMachine struct {
	dict      WriteOnceDict
	prefix    string
	applier   Applier
	watermark uint64
}

// New builds a state machine over dict for the given prefix, starting at
// watermark zero. Call Sync before reading any application state derived
// from applier to catch up on whatever has already been committed.
func New(dict WriteOnceDict, prefix string, applier Applier) *StateMachine {
	return &StateMachine{dict: dict, prefix: prefix, applier: applier}
}

// Watermark returns the next unfilled log slot this state machine knows
// about.
func (sm *StateMachine) Watermark() uint64 { return sm.watermark }

func (sm *StateMachine) slotKey(i uint64) ([]byte, error) {
	return dictionary.EncodeKey(sm.prefix, i)
}

// Sync applies every already-decided command from the current watermark
// forward until it hits an undecided slot, then stops. It never
// decrements the watermark and never applies a slot out of order.
func (sm *StateMachine) Sync(ctx context.Context) error {
	for {
		key, err := sm.slotKey(sm.watermark)
		if err != nil {
			return err
		}
		value, ok, err := sm.dict.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("statemachine: get slot %d: %w", sm.watermark, err)
		}
		if !ok {
			return nil
		}
		// Apply errors are domain-level: the slot is already committed,
		// so advancing the watermark regardless of the outcome is
		// correct; only Execute's caller sees the error.
		if _, err := sm.applier.Apply(value); err != nil {
			sm.watermark++
			continue
		}
		sm.watermark++
	}
}

// Execute drives command to the log: it first catches up via Sync, then
// repeatedly proposes command for the next open slot until a proposal of
// its own wins. If another node's command fills a slot first, Execute
// applies that command locally and moves on to the next slot, so every
// node's view stays consistent even under contention.
func (sm *StateMachine) Execute(ctx context.Context, command []byte) ([]byte, error) {
	if err := sm.Sync(ctx); err != nil {
		return nil, err
	}

	for {
		key, err := sm.slotKey(sm.watermark)
		if err != nil {
			return nil, err
		}

		final, err := sm.dict.Set(ctx, key, command)
		if err != nil {
			return nil, fmt.Errorf("statemachine: set slot %d: %w", sm.watermark, err)
		}

		result, applyErr := sm.applier.Apply(final)
		won := bytes.Equal(final, command)
		sm.watermark++

		if won {
			return result, applyErr
		}
		// Someone else's command filled this slot; loop and try the next
		// one with our original command.
	}
}
