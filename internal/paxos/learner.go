package paxos

import (
	"sync"
	"time"
)

// emptyQueryID is the bucket key QuorumAccumulator uses for acceptors that
// respond with "nothing accepted yet", so a quorum of empty replies is
// itself a reportable (if uninteresting) outcome.
const emptyQueryID = -1

// Learner observes Accepted messages from acceptors and, once a quorum
// agrees on the same id, publishes Consensus to every proposer. It also
// handles catch-up Query traffic, both by asking acceptors directly
// (Query/recvQueryResponse; the dictionary's Get goes through the
// Questioner instead) and by answering Query from other
// learners/questioners with its own decided value.
type Learner struct {
	mu sync.Mutex

	comm       Communicator
	quorumSize int

	value    []byte
	hasValue bool

	accepted *QuorumAccumulator[*Accepted]
	done     *completionSignal
}

// NewLearner builds a learner requiring quorumSize matching Accepted
// reports (or query responses) before it commits to a value.
func NewLearner(comm Communicator, quorumSize int) *Learner {
	return &Learner{
		comm:       comm,
		quorumSize: quorumSize,
		accepted:   NewQuorumAccumulator[*Accepted](quorumSize),
		done:       newCompletionSignal(),
	}
}

// Query asks every acceptor what it has accepted, for catch-up reads that
// don't require running a fresh Paxos round. If the learner already has a
// value, it returns immediately via the completion signal.
func (l *Learner) Query() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hasValue {
		l.done.Set()
		return
	}
	l.done.Clear()
	l.accepted.Reset()
	l.comm.Send(Query{}, Acceptors(l.comm))
}

// Wait blocks until the outstanding query completes or times out.
func (l *Learner) Wait(timeout time.Duration) bool {
	return l.done.Wait(timeout)
}

// Value returns the learner's current knowledge: (value, true) once
// consensus is known, (nil, false) otherwise.
func (l *Learner) Value() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.hasValue
}

// OnRecv dispatches to the learner's handlers, ignoring anything that is
// not an Accepted, QueryResponse or Query.
func (l *Learner) OnRecv(sender NodeID, msg Message) {
	switch m := msg.(type) {
	case Accepted:
		l.recvAccepted(sender, m)
	case QueryResponse:
		l.recvQueryResponse(sender, m)
	case Query:
		l.recvQuery(sender)
	}
}

func (l *Learner) recvAccepted(sender NodeID, acc Accepted) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hasValue {
		return
	}

	l.accepted.Add(sender, int64(acc.ID), &acc)
	l.tryCommitLocked()
}

func (l *Learner) recvQueryResponse(sender NodeID, resp QueryResponse) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hasValue {
		return
	}

	if resp.Prev != nil {
		l.accepted.Add(sender, int64(resp.Prev.ID), resp.Prev)
	} else {
		l.accepted.Add(sender, emptyQueryID, nil)
	}

	if !l.accepted.QuorumGathered() {
		return
	}
	if id, _ := l.accepted.ConsensusID(); id == emptyQueryID {
		// Quorum of acceptors reported nothing accepted: remain empty but
		// stop waiting, and clear the tally so later Accepted reports can
		// still form a quorum.
		l.done.Set()
		l.accepted.Reset()
		return
	}
	l.tryCommitLocked()
}

func (l *Learner) recvQuery(q NodeID) {
	l.mu.Lock()
	var prev *Accepted
	if l.hasValue {
		prev = &Accepted{Value: l.value}
	}
	l.mu.Unlock()

	l.comm.Send(QueryResponse{Prev: prev}, []NodeID{q})
}

// tryCommitLocked must be called with mu held; it promotes a gathered
// quorum to a committed value and, for the write path, broadcasts
// Consensus to every proposer.
func (l *Learner) tryCommitLocked() {
	if !l.accepted.QuorumGathered() {
		return
	}
	values := l.accepted.Values()
	if len(values) == 0 || values[0] == nil {
		return
	}
	l.value = values[0].Value
	l.hasValue = true
	l.done.Set()
	l.comm.Send(Consensus{Value: l.value}, Proposers(l.comm))
}

type learnerSnapshot struct {
	HasValue bool
	Value    []byte
}

func (l *Learner) snapshot() learnerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return learnerSnapshot{HasValue: l.hasValue, Value: l.value}
}

func (l *Learner) restore(s learnerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasValue = s.HasValue
	l.value = s.Value
	l.accepted.Reset()
}
