package paxos

import "sync"

// Acceptor is the safety-critical role: it only ever promises upward and
// only ever accepts at or above what it promised. Its two fields,
// promisedID and accepted, are the only part of protocol state that must
// survive a process restart — everything else can be rebuilt.
type Acceptor struct {
	mu sync.Mutex

	comm Communicator

	hasPromised bool
	promisedID  ProposalID
	accepted    *Accepted
}

// NewAcceptor builds an acceptor sending replies through comm.
func NewAcceptor(comm Communicator) *Acceptor {
	return &Acceptor{comm: comm}
}

// OnRecv dispatches to the acceptor's handlers, ignoring anything that is
// not a Prepare, Accept or Query.
func (a *Acceptor) OnRecv(sender NodeID, msg Message) {
	switch m := msg.(type) {
	case Prepare:
		a.recvPrepare(sender, m)
	case Accept:
		a.recvAccept(sender, m)
	case Query:
		a.recvQuery(sender)
	}
}

func (a *Acceptor) recvPrepare(proposer NodeID, prepare Prepare) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasPromised && prepare.ID < a.promisedID {
		a.comm.Send(Nack{ID: prepare.ID}, []NodeID{proposer})
		return
	}

	a.hasPromised = true
	a.promisedID = prepare.ID
	a.comm.Send(Promise{ID: a.promisedID, Prev: a.accepted}, []NodeID{proposer})
}

func (a *Acceptor) recvAccept(proposer NodeID, accept Accept) {
	a.mu.Lock()
	if a.hasPromised && accept.ID < a.promisedID {
		a.mu.Unlock()
		return
	}

	a.hasPromised = true
	a.promisedID = accept.ID
	a.accepted = &Accepted{ID: accept.ID, Value: accept.Value}
	accepted := *a.accepted
	a.mu.Unlock()

	to := append([]NodeID{proposer}, Learners(a.comm)...)
	a.comm.Send(accepted, to)
}

func (a *Acceptor) recvQuery(learner NodeID) {
	a.mu.Lock()
	accepted := a.accepted
	a.mu.Unlock()

	a.comm.Send(QueryResponse{Prev: accepted}, []NodeID{learner})
}

type acceptorSnapshot struct {
	HasPromised bool
	PromisedID  ProposalID
	Accepted    *Accepted
}

func (a *Acceptor) snapshot() acceptorSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return acceptorSnapshot{
		HasPromised: a.hasPromised,
		PromisedID:  a.promisedID,
		Accepted:    a.accepted,
	}
}

func (a *Acceptor) restore(s acceptorSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hasPromised = s.HasPromised
	a.promisedID = s.PromisedID
	a.accepted = s.Accepted
}
