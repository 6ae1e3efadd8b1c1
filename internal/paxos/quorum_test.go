package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuorumAccumulatorReportsOnce(t *testing.T) {
	q := NewQuorumAccumulator[string](2)
	require.False(t, q.QuorumGathered())

	q.Add(0, 5, "A")
	require.False(t, q.QuorumGathered())

	q.Add(1, 5, "A")
	require.True(t, q.QuorumGathered())

	id, ok := q.ConsensusID()
	require.True(t, ok)
	require.Equal(t, int64(5), id)
	require.ElementsMatch(t, []string{"A", "A"}, q.Values())
}

func TestQuorumAccumulatorKeepsFirstWinner(t *testing.T) {
	q := NewQuorumAccumulator[string](2)
	q.Add(0, 5, "A")
	q.Add(1, 5, "A")
	require.True(t, q.QuorumGathered())

	// A later id reaching quorum must not overwrite the first winner -
	// only one id is ever reported per accumulator lifetime.
	q.Add(0, 6, "B")
	q.Add(1, 6, "B")
	id, _ := q.ConsensusID()
	require.Equal(t, int64(5), id)
}

func TestQuorumAccumulatorDistinctSendersRequired(t *testing.T) {
	q := NewQuorumAccumulator[string](2)
	q.Add(0, 5, "A")
	q.Add(0, 5, "A") // same sender twice must not count twice
	require.False(t, q.QuorumGathered())
}

func TestQuorumAccumulatorReset(t *testing.T) {
	q := NewQuorumAccumulator[string](1)
	q.Add(0, 5, "A")
	require.True(t, q.QuorumGathered())

	q.Reset()
	require.False(t, q.QuorumGathered())
	_, ok := q.ConsensusID()
	require.False(t, ok)
}
