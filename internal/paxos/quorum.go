package paxos

// QuorumAccumulator tallies distinct-sender values keyed by an id (a
// proposal ID, or -1 for "empty response" in the questioner's case) and
// reports once any single id has been reported by at least quorumSize
// distinct senders. Used by the proposer (gathering promises) and by the
// learner/questioner (gathering accepteds and query responses).
type QuorumAccumulator[T any] struct {
	quorumSize int
	consensus  *int64
	values     map[int64]map[NodeID]T
}

// NewQuorumAccumulator builds an accumulator requiring quorumSize distinct
// senders before it reports a winning id.
func NewQuorumAccumulator[T any](quorumSize int) *QuorumAccumulator[T] {
	q := &QuorumAccumulator[T]{quorumSize: quorumSize}
	q.Reset()
	return q
}

// Reset clears all tallies, as happens whenever a proposer starts a fresh
// round or a learner issues a fresh query.
func (q *QuorumAccumulator[T]) Reset() {
	q.consensus = nil
	q.values = make(map[int64]map[NodeID]T)
}

// Add records that sender reported value for id. Once quorumSize distinct
// senders have reported the same id, it becomes the (only) consensus id.
func (q *QuorumAccumulator[T]) Add(sender NodeID, id int64, value T) {
	if q.consensus != nil {
		return
	}
	bucket, ok := q.values[id]
	if !ok {
		bucket = make(map[NodeID]T)
		q.values[id] = bucket
	}
	bucket[sender] = value
	if len(bucket) >= q.quorumSize {
		winner := id
		q.consensus = &winner
	}
}

// QuorumGathered reports whether some id has reached quorum.
func (q *QuorumAccumulator[T]) QuorumGathered() bool {
	return q.consensus != nil
}

// ConsensusID returns the id that reached quorum and true, or (0, false).
func (q *QuorumAccumulator[T]) ConsensusID() (int64, bool) {
	if q.consensus == nil {
		return 0, false
	}
	return *q.consensus, true
}

// Values returns the stored per-sender values for the id that reached
// quorum, or nil if none has yet.
func (q *QuorumAccumulator[T]) Values() []T {
	if q.consensus == nil {
		return nil
	}
	bucket := q.values[*q.consensus]
	out := make([]T, 0, len(bucket))
	for _, v := range bucket {
		out = append(out, v)
	}
	return out
}
