package paxos

import (
	"sync"
	"time"
)

// Questioner is an optional read-only learner: it sends Query to every
// learner node and commits once a quorum of QueryResponses agree. It keeps
// its own value, response accumulator and completion signal, separate from
// the write-path Learner. Server.OnRecv hands every message to all roles,
// so on each queried node the Acceptor answers the Query as well as the
// Learner, and the QueryResponses arriving here are also tallied by this
// node's Learner.
type Questioner struct {
	mu sync.Mutex

	comm Communicator

	value    []byte
	hasValue bool

	responses *QuorumAccumulator[*Accepted]
	done      *completionSignal
}

// NewQuestioner builds a questioner requiring quorumSize matching learner
// responses before it commits to a value.
func NewQuestioner(comm Communicator, quorumSize int) *Questioner {
	return &Questioner{
		comm:      comm,
		responses: NewQuorumAccumulator[*Accepted](quorumSize),
		done:      newCompletionSignal(),
	}
}

// Query asks every learner what it has decided.
func (q *Questioner) Query() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasValue {
		q.done.Set()
		return
	}
	q.done.Clear()
	q.responses.Reset()
	q.comm.Send(Query{}, Learners(q.comm))
}

// Wait blocks until the outstanding query completes or times out.
func (q *Questioner) Wait(timeout time.Duration) bool {
	return q.done.Wait(timeout)
}

// Value returns the questioner's current knowledge.
func (q *Questioner) Value() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.value, q.hasValue
}

// OnRecv handles QueryResponse traffic from learners; everything else is
// ignored.
func (q *Questioner) OnRecv(sender NodeID, msg Message) {
	resp, ok := msg.(QueryResponse)
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hasValue {
		return
	}

	if resp.Prev != nil {
		q.responses.Add(sender, int64(resp.Prev.ID), resp.Prev)
	} else {
		q.responses.Add(sender, emptyQueryID, nil)
	}

	if !q.responses.QuorumGathered() {
		return
	}
	if id, _ := q.responses.ConsensusID(); id == emptyQueryID {
		q.done.Set()
		return
	}
	values := q.responses.Values()
	if len(values) == 0 || values[0] == nil {
		return
	}
	q.value = values[0].Value
	q.hasValue = true
	q.done.Set()
}

type questionerSnapshot struct {
	HasValue bool
	Value    []byte
}

func (q *Questioner) snapshot() questionerSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return questionerSnapshot{HasValue: q.hasValue, Value: q.value}
}

func (q *Questioner) restore(s questionerSnapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hasValue = s.HasValue
	q.value = s.Value
	q.responses.Reset()
}
