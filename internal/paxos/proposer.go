package paxos

import (
	"sync"
	"time"
)

// proposalState is the in-flight round: which senders promised and what
// they previously accepted live inside the promise accumulator.
type proposalState struct {
	id    ProposalID
	value []byte
}

// Proposer drives one value to consensus for one key. It moves through
// idle -> proposing -> finalized exactly once per key: once finalized it
// never proposes again, matching the write-once guarantee the dictionary
// depends on.
type Proposer struct {
	mu sync.Mutex

	comm       Communicator
	generator  IDGenerator
	quorumSize int

	proposal   *proposalState
	promises   *QuorumAccumulator[Promise]
	finalized  bool
	finalValue []byte

	done *completionSignal
}

// NewProposer builds a proposer sending through comm, allocating IDs from
// generator, and requiring quorumSize promises per round.
func NewProposer(comm Communicator, generator IDGenerator, quorumSize int) *Proposer {
	return &Proposer{
		comm:       comm,
		generator:  generator,
		quorumSize: quorumSize,
		promises:   NewQuorumAccumulator[Promise](quorumSize),
		done:       newCompletionSignal(),
	}
}

// Request asks the proposer to drive value to consensus. value must be
// non-empty. The caller observes completion via Wait.
func (p *Proposer) Request(value []byte) {
	if len(value) == 0 {
		panic("paxos: Proposer.Request requires a non-empty value")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		p.done.Set()
		return
	}

	id := p.generator.NextID()
	p.proposal = &proposalState{id: id, value: value}
	p.promises.Reset()
	p.done.Clear()

	p.comm.Send(Prepare{ID: id}, Acceptors(p.comm))
}

// Wait blocks until the current round completes (success, nack, or prior
// finalization) or timeout elapses.
func (p *Proposer) Wait(timeout time.Duration) bool {
	return p.done.Wait(timeout)
}

// Value returns the finalized consensus value, if any.
func (p *Proposer) Value() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finalized {
		return nil, false
	}
	return p.finalValue, true
}

// OnRecv dispatches an incoming message to the proposer's handlers. It
// silently ignores anything that is not a Promise, Nack or Consensus.
func (p *Proposer) OnRecv(sender NodeID, msg Message) {
	switch m := msg.(type) {
	case Promise:
		p.recvPromise(sender, m)
	case Nack:
		p.recvNack(m)
	case Consensus:
		p.recvConsensus(m)
	}
}

func (p *Proposer) recvPromise(sender NodeID, promise Promise) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proposal == nil || promise.ID != p.proposal.id {
		return
	}

	p.promises.Add(sender, int64(promise.ID), promise)
	if !p.promises.QuorumGathered() {
		return
	}

	value := p.proposal.value
	var highestAccepted *ProposalID
	for _, pr := range p.promises.Values() {
		if pr.Prev == nil {
			continue
		}
		if highestAccepted == nil || pr.Prev.ID > *highestAccepted {
			id := pr.Prev.ID
			highestAccepted = &id
			value = pr.Prev.Value
		}
	}

	p.comm.Send(Accept{ID: p.proposal.id, Value: value}, Acceptors(p.comm))
}

func (p *Proposer) recvNack(nack Nack) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proposal == nil || nack.ID != p.proposal.id {
		return
	}
	p.proposal = nil
	p.done.Set()
}

func (p *Proposer) recvConsensus(c Consensus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finalized = true
	p.finalValue = c.Value
	p.done.Set()
}

// snapshot/restore below back the per-key server's persistence.

type proposerSnapshot struct {
	HasProposal bool
	ProposalID  ProposalID
	Value       []byte
	Finalized   bool
	FinalValue  []byte
	Generator   []byte
}

func (p *Proposer) snapshot() proposerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := proposerSnapshot{
		Finalized:  p.finalized,
		FinalValue: p.finalValue,
		Generator:  p.generator.State(),
	}
	if p.proposal != nil {
		s.HasProposal = true
		s.ProposalID = p.proposal.id
		s.Value = p.proposal.value
	}
	return s
}

func (p *Proposer) restore(s proposerSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.HasProposal {
		p.proposal = &proposalState{id: s.ProposalID, value: s.Value}
	} else {
		p.proposal = nil
	}
	p.finalized = s.Finalized
	p.finalValue = s.FinalValue
	p.generator.Restore(s.Generator)
	p.promises.Reset()
}
