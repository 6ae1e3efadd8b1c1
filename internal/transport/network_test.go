package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNetworkDerivesDenseIDsFromSortedAddresses(t *testing.T) {
	addrs := []Address{"10.0.0.3:9000", "10.0.0.1:9000", "10.0.0.2:9000"}

	net, err := NewNetwork(addrs, "10.0.0.1:9000")
	require.NoError(t, err)
	require.Equal(t, NodeID(0), net.Self())
	require.Equal(t, 3, net.Size())

	a, err := net.Addr(0)
	require.NoError(t, err)
	require.Equal(t, Address("10.0.0.1:9000"), a)

	b, err := net.Addr(2)
	require.NoError(t, err)
	require.Equal(t, Address("10.0.0.3:9000"), b)
}

func TestNewNetworkRejectsUnknownSelf(t *testing.T) {
	_, err := NewNetwork([]Address{"a:1", "b:1"}, "c:1")
	require.Error(t, err)
}

func TestNetworkAllNodeIDsAreSequential(t *testing.T) {
	net, err := NewNetwork([]Address{"a:1", "b:1", "c:1"}, "b:1")
	require.NoError(t, err)
	require.Equal(t, []NodeID{0, 1, 2}, net.AllNodeIDs())
}

func TestNetworkAddrOutOfRange(t *testing.T) {
	net, err := NewNetwork([]Address{"a:1"}, "a:1")
	require.NoError(t, err)
	_, err = net.Addr(5)
	require.Error(t, err)
}
