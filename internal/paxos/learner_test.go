package paxos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLearnerPublishesConsensusOnQuorum(t *testing.T) {
	comm := newFakeComm(nil, nil, []NodeID{5, 6})
	l := NewLearner(comm, 2)

	l.OnRecv(0, Accepted{ID: 1, Value: []byte("v")})
	_, ok := l.Value()
	require.False(t, ok)

	l.OnRecv(1, Accepted{ID: 1, Value: []byte("v")})
	value, ok := l.Value()
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	sent, ok := comm.last()
	require.True(t, ok)
	require.Equal(t, Consensus{Value: []byte("v")}, sent.msg)
	require.ElementsMatch(t, []NodeID{5, 6}, sent.to)
}

func TestLearnerIgnoresAcceptedOnceDecided(t *testing.T) {
	comm := newFakeComm(nil, nil, nil)
	l := NewLearner(comm, 1)
	l.OnRecv(0, Accepted{ID: 1, Value: []byte("v")})

	comm.sent = nil
	l.OnRecv(1, Accepted{ID: 2, Value: []byte("other")})

	value, ok := l.Value()
	require.True(t, ok)
	require.Equal(t, []byte("v"), value, "decided value must never change")
	require.Empty(t, comm.all())
}

func TestLearnerQueryAnswersFromAcceptors(t *testing.T) {
	comm := newFakeComm([]NodeID{0, 1}, nil, nil)
	l := NewLearner(comm, 2)

	l.Query()
	sent, ok := comm.last()
	require.True(t, ok)
	require.Equal(t, Query{}, sent.msg)
	require.ElementsMatch(t, []NodeID{0, 1}, sent.to)

	l.OnRecv(0, QueryResponse{Prev: &Accepted{ID: 1, Value: []byte("v")}})
	require.False(t, l.Wait(10*time.Millisecond))

	l.OnRecv(1, QueryResponse{Prev: &Accepted{ID: 1, Value: []byte("v")}})
	require.True(t, l.Wait(time.Second))

	value, ok := l.Value()
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)
}

func TestLearnerQueryQuorumOfEmptyStaysEmpty(t *testing.T) {
	comm := newFakeComm([]NodeID{0, 1}, nil, nil)
	l := NewLearner(comm, 2)

	l.Query()
	l.OnRecv(0, QueryResponse{Prev: nil})
	l.OnRecv(1, QueryResponse{Prev: nil})

	require.True(t, l.Wait(time.Second))
	_, ok := l.Value()
	require.False(t, ok)
}

func TestLearnerAnswersQueryWithDecidedValue(t *testing.T) {
	comm := newFakeComm(nil, nil, nil)
	l := NewLearner(comm, 1)
	l.OnRecv(0, Accepted{ID: 1, Value: []byte("v")})

	l.OnRecv(9, Query{})
	sent, _ := comm.last()
	require.Equal(t, QueryResponse{Prev: &Accepted{Value: []byte("v")}}, sent.msg)
}

func TestLearnerSnapshotRestore(t *testing.T) {
	comm := newFakeComm(nil, nil, nil)
	l := NewLearner(comm, 1)
	l.OnRecv(0, Accepted{ID: 1, Value: []byte("v")})

	snap := l.snapshot()
	restored := NewLearner(comm, 1)
	restored.restore(snap)

	value, ok := restored.Value()
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)
}
