package paxos

// Role names a node's participation in a Paxos instance.
type Role int

const (
	RoleProposer Role = iota
	RoleAcceptor
	RoleLearner
	RoleQuestioner
)

// Communicator is the one-way message bus a per-key server sends through.
// It is fire-and-forget: no acknowledgement, no retry, and callers must
// tolerate loss and reordering. Implementations carry no state beyond the
// node set for the one key they were built for.
type Communicator interface {
	Send(msg Message, to []NodeID)
	AllOf(role Role) []NodeID
}

// Acceptors, Learners and Proposers are convenience accessors layered on
// AllOf, used throughout the role implementations.
func Acceptors(c Communicator) []NodeID { return c.AllOf(RoleAcceptor) }
func Learners(c Communicator) []NodeID  { return c.AllOf(RoleLearner) }
func Proposers(c Communicator) []NodeID { return c.AllOf(RoleProposer) }
