// Package transport provides the datagram bus Multi-Paxos payloads travel
// over: an abstract Transport port plus a Network that derives dense node
// identifiers from a sorted address list.
package transport

import (
	"fmt"
	"sort"
)

// Address is a host:port string identifying one cluster node.
type Address string

// NodeID is the dense, zero-based identifier of a node, derived from the
// sorted list of cluster addresses.
type NodeID uint32

// Network is the fixed, startup-time membership of the cluster: every
// node is a peer with every role (proposer, acceptor, learner), and the
// node set never changes while the process runs.
type Network struct {
	addrs []Address
	me    NodeID
}

// NewNetwork derives a Network from the set of cluster addresses and the
// calling process's own address. NodeID is the index of each address in
// the sorted address list, so every node computes the same mapping
// independently.
func NewNetwork(addrs []Address, self Address) (*Network, error) {
	sorted := append([]Address(nil), addrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	myID := -1
	for i, a := range sorted {
		if a == self {
			myID = i
			break
		}
	}
	if myID < 0 {
		return nil, fmt.Errorf("transport: self address %q not among cluster addresses", self)
	}
	return &Network{addrs: sorted, me: NodeID(myID)}, nil
}

// Self returns the calling node's own identifier.
func (n *Network) Self() NodeID { return n.me }

// Size returns the number of nodes in the cluster.
func (n *Network) Size() int { return len(n.addrs) }

// Addr returns the address of the node with the given id.
func (n *Network) Addr(id NodeID) (Address, error) {
	if int(id) >= len(n.addrs) {
		return "", fmt.Errorf("transport: no node with id %d", id)
	}
	return n.addrs[id], nil
}

// AllNodeIDs returns every node id in the cluster, in ascending order.
// Every node has every Paxos role, per the non-goal of fixed membership.
func (n *Network) AllNodeIDs() []NodeID {
	out := make([]NodeID, len(n.addrs))
	for i := range n.addrs {
		out[i] = NodeID(i)
	}
	return out
}

// Transport is the fire-and-forget datagram port: no acknowledgement, no
// retry, loss and reordering are both permitted. Implementations carry no
// state beyond what they need to reach the node set.
type Transport interface {
	// Send delivers data to the node at addr. Failures are not returned
	// to the protocol; implementations log and swallow them.
	Send(addr Address, data []byte)
	// Listen blocks, invoking handler once per received datagram, until
	// Close is called or the listener errs out.
	Listen(handler func(data []byte)) error
	Close() error
}
