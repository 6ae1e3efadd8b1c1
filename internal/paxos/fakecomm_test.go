package paxos

import "sync"

// sentMsg records one Send call observed by a fakeComm, for assertions in
// role-level unit tests that don't need a real transport.
type sentMsg struct {
	msg Message
	to  []NodeID
}

type fakeComm struct {
	mu        sync.Mutex
	acceptors []NodeID
	learners  []NodeID
	proposers []NodeID
	sent      []sentMsg
}

func newFakeComm(acceptors, learners, proposers []NodeID) *fakeComm {
	return &fakeComm{acceptors: acceptors, learners: learners, proposers: proposers}
}

func (f *fakeComm) Send(msg Message, to []NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{msg: msg, to: append([]NodeID(nil), to...)})
}

func (f *fakeComm) AllOf(role Role) []NodeID {
	switch role {
	case RoleAcceptor:
		return f.acceptors
	case RoleLearner:
		return f.learners
	case RoleProposer:
		return f.proposers
	default:
		return nil
	}
}

func (f *fakeComm) last() (sentMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMsg{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func (f *fakeComm) all() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}
