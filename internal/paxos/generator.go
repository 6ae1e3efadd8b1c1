package paxos

import (
	"sync"
	"time"
)

// IDGenerator produces proposal IDs that are strictly monotone within one
// process and never collide with IDs produced by a generator on another
// node configured with a different uid, as long as every node shares the
// same maxUID.
type IDGenerator interface {
	NextID() ProposalID
	// State and Restore snapshot/restore generator-internal state so a
	// restarted node can resume issuing IDs without risking a collision
	// with one it already handed out.
	State() []byte
	Restore(state []byte)
}

// IncrementalGenerator starts at uid and advances by maxUID+1 on every
// call, so distinct nodes sharing the same maxUID never produce the same
// ID and each node's own sequence is strictly increasing.
type IncrementalGenerator struct {
	mu   sync.Mutex
	next uint64
	pool uint64
}

// NewIncrementalGenerator builds a generator for node uid in a cluster
// where node identifiers range over [0, maxUID].
func NewIncrementalGenerator(uid NodeID, maxUID NodeID) *IncrementalGenerator {
	return &IncrementalGenerator{
		next: uint64(uid),
		pool: uint64(maxUID) + 1,
	}
}

func (g *IncrementalGenerator) NextID() ProposalID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next += g.pool
	return ProposalID(id)
}

func (g *IncrementalGenerator) State() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return encodeUint64(g.next)
}

func (g *IncrementalGenerator) Restore(state []byte) {
	if len(state) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = decodeUint64(state)
}

// TimeAwareGenerator returns floor(now_millis)*(maxUID+1)+uid, so a
// freshly restarted node's numbers beat any number a peer could plausibly
// still have in flight. Wall-clock regressions can violate strict
// monotonicity across a restart, which is why lastIssued is tracked and
// folded into every call: NextID returns
// max(time_based, lastIssued+pool) and records it as lastIssued in memory;
// it reaches disk through State() with the owning server's next snapshot.
type TimeAwareGenerator struct {
	mu         sync.Mutex
	uid        uint64
	pool       uint64
	lastIssued uint64
	now        func() time.Time
}

// NewTimeAwareGenerator builds a time-aware generator for node uid in a
// cluster where node identifiers range over [0, maxUID].
func NewTimeAwareGenerator(uid NodeID, maxUID NodeID) *TimeAwareGenerator {
	return &TimeAwareGenerator{
		uid:  uint64(uid),
		pool: uint64(maxUID) + 1,
		now:  time.Now,
	}
}

func (g *TimeAwareGenerator) NextID() ProposalID {
	g.mu.Lock()
	defer g.mu.Unlock()

	timeBased := uint64(g.now().UnixMilli())*g.pool + g.uid
	floor := g.lastIssued + g.pool

	id := timeBased
	if floor > id {
		id = floor
	}
	g.lastIssued = id
	return ProposalID(id)
}

func (g *TimeAwareGenerator) State() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return encodeUint64(g.lastIssued)
}

func (g *TimeAwareGenerator) Restore(state []byte) {
	if len(state) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastIssued = decodeUint64(state)
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf[:]
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	return v
}
