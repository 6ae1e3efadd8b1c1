// Package dictionary implements the Multi-Paxos write-once dictionary: a
// keyed collection of independent single-decree Paxos instances, lazily
// materialized, snapshotted to durable storage after every handled
// message, and exposed as a generic Set/Get key-value port.
package dictionary

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/senutpal/paxosledger/internal/paxos"
	"github.com/senutpal/paxosledger/internal/storage"
	"github.com/senutpal/paxosledger/internal/transport"
)

// GeneratorKind selects which IDGenerator every per-key server in this
// dictionary is built with.
type GeneratorKind int

const (
	GeneratorIncremental GeneratorKind = iota
	GeneratorTimeAware
)

const (
	initialWaitTimeout = 200 * time.Millisecond
	maxWaitTimeout     = 5 * time.Second
)

// Sender is the transport-facing half of the dictionary's communicator:
// deliver an encoded payload to a node's address.
type Sender interface {
	Send(addr transport.Address, data []byte)
}

// Dictionary is a keyed map from an opaque key to a per-key paxos.Server.
// Set and Get are safe to call concurrently from multiple callers and for
// multiple distinct keys; a single shared mutex guards the map itself,
// while each per-key server carries its own locking.
type Dictionary struct {
	net     *transport.Network
	sender  Sender
	storage storage.Storage
	kind    GeneratorKind
	log     zerolog.Logger

	mu      sync.Mutex
	servers map[string]*paxos.Server
	keys    map[string][]byte

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a Dictionary over net, sending through sender and persisting
// through store. If store already holds a snapshot, every per-key server
// it names is rehydrated before New returns.
func New(net *transport.Network, sender Sender, store storage.Storage, kind GeneratorKind, log zerolog.Logger) (*Dictionary, error) {
	d := &Dictionary{
		net:     net,
		sender:  sender,
		storage: store,
		kind:    kind,
		log:     log,
		servers: make(map[string]*paxos.Server),
		keys:    make(map[string][]byte),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	data, found, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("dictionary: load snapshot: %w", err)
	}
	if found {
		if err := d.restore(data); err != nil {
			return nil, fmt.Errorf("dictionary: restore snapshot: %w", err)
		}
	}
	return d, nil
}

// quorumSize is floor(N/2)+1 for the fixed node set.
func (d *Dictionary) quorumSize() int { return d.net.Size()/2 + 1 }

// lookup returns the per-key server for key, creating it on first use.
// The map lock is held across the check and the insert so two concurrent
// callers can never materialize the same key twice.
func (d *Dictionary) lookup(key []byte) *paxos.Server {
	k := string(key)

	d.mu.Lock()
	srv, ok := d.servers[k]
	if ok {
		d.mu.Unlock()
		return srv
	}
	srv = d.newServerLocked(key)
	d.servers[k] = srv
	d.keys[k] = append([]byte(nil), key...)
	d.mu.Unlock()
	return srv
}

func (d *Dictionary) newServerLocked(key []byte) *paxos.Server {
	comm := &keyCommunicator{dict: d, key: append([]byte(nil), key...)}
	gen := d.newGenerator()
	return paxos.NewServer(comm, gen, d.quorumSize(), true /* withQuestioner */)
}

func (d *Dictionary) newGenerator() paxos.IDGenerator {
	self := paxos.NodeID(d.net.Self())
	maxUID := paxos.NodeID(d.net.Size() - 1)
	switch d.kind {
	case GeneratorTimeAware:
		return paxos.NewTimeAwareGenerator(self, maxUID)
	default:
		return paxos.NewIncrementalGenerator(self, maxUID)
	}
}

// Dispatch is the receive-loop entry point: decode one payload, route it
// to the key it names (materializing the key's server if this is the
// first message ever seen for it), and snapshot the dictionary's full
// state. Per the concurrency model, Dispatch must only ever be called
// from the single transport receive loop - it serializes mutation and
// persistence for every key on this node.
func (d *Dictionary) Dispatch(data []byte) error {
	payload, err := paxos.DecodePayload(data)
	if err != nil {
		d.log.Error().Err(err).Msg("discarding undecodable payload")
		return nil
	}

	srv := d.lookup(payload.Key)
	srv.OnRecv(payload.Sender, payload.Msg)

	if err := d.persist(); err != nil {
		d.log.Error().Err(err).Msg("snapshot save failed")
		return err
	}
	return nil
}

// attemptValue wraps every proposed value with a fresh UUID so Set can
// tell its own attempt apart from a concurrently winning one: two nodes
// proposing the same bytes for the same key still get distinct attempts.
type attemptValue struct {
	Attempt uuid.UUID
	Value   []byte
}

func wrapAttempt(value []byte) (attemptValue, []byte, error) {
	av := attemptValue{Attempt: uuid.New(), Value: value}
	b, err := msgpack.Marshal(av)
	if err != nil {
		return attemptValue{}, nil, fmt.Errorf("dictionary: encode attempt: %w", err)
	}
	return av, b, nil
}

func unwrapAttempt(data []byte) (attemptValue, error) {
	var av attemptValue
	if err := msgpack.Unmarshal(data, &av); err != nil {
		return attemptValue{}, fmt.Errorf("dictionary: decode attempt: %w", err)
	}
	return av, nil
}

// Set proposes value for key and blocks until consensus is reached for
// that key, returning the value consensus actually selected - which may
// differ from value if another proposer's attempt won the race. It
// retries indefinitely on timeout with exponentially backed-off, jittered
// waits, until ctx is cancelled.
func (d *Dictionary) Set(ctx context.Context, key []byte, value []byte) ([]byte, error) {
	srv := d.lookup(key)

	if final, ok := srv.Proposer.Value(); ok {
		av, err := unwrapAttempt(final)
		if err != nil {
			return nil, err
		}
		return av.Value, nil
	}

	_, wrapped, err := wrapAttempt(value)
	if err != nil {
		return nil, err
	}

	timeout := initialWaitTimeout
	for {
		srv.Proposer.Request(wrapped)
		ok, err := d.waitFor(ctx, func(t time.Duration) bool { return srv.Proposer.Wait(t) }, timeout)
		if err != nil {
			return nil, err
		}
		if ok {
			final, reached := srv.Proposer.Value()
			if reached {
				av, err := unwrapAttempt(final)
				if err != nil {
					return nil, err
				}
				return av.Value, nil
			}
			// Nack: proposal was cleared, retry with a fresh id after backoff.
		}
		timeout = d.jitteredBackoff(timeout)
	}
}

// Get returns the value consensus has reached for key, or (nil, false,
// nil) if no quorum has decided yet. It retries indefinitely on timeout
// with the same backoff policy as Set, until ctx is cancelled.
func (d *Dictionary) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	srv := d.lookup(key)

	if v, ok := srv.Questioner.Value(); ok {
		av, err := unwrapAttempt(v)
		if err != nil {
			return nil, false, err
		}
		return av.Value, true, nil
	}

	timeout := initialWaitTimeout
	for {
		srv.Questioner.Query()
		ok, err := d.waitFor(ctx, func(t time.Duration) bool { return srv.Questioner.Wait(t) }, timeout)
		if err != nil {
			return nil, false, err
		}
		if ok {
			v, reached := srv.Questioner.Value()
			if !reached {
				return nil, false, nil
			}
			av, err := unwrapAttempt(v)
			if err != nil {
				return nil, false, err
			}
			return av.Value, true, nil
		}
		timeout = d.jitteredBackoff(timeout)
	}
}

// waitFor runs wait(timeout) on a goroutine so a cancelled ctx returns
// promptly instead of blocking out the full timeout.
func (d *Dictionary) waitFor(ctx context.Context, wait func(time.Duration) bool, timeout time.Duration) (bool, error) {
	done := make(chan bool, 1)
	go func() { done <- wait(timeout) }()
	select {
	case ok := <-done:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (d *Dictionary) jitteredBackoff(cur time.Duration) time.Duration {
	d.rngMu.Lock()
	factor := 1.0 + d.rng.Float64() // uniform in [1, 2)
	d.rngMu.Unlock()

	next := time.Duration(float64(cur) * 2 * factor)
	if next > maxWaitTimeout {
		next = maxWaitTimeout
	}
	return next
}

// keyCommunicator is the per-key paxos.Communicator: it closes over the
// key bytes so the shared transport can multiplex every instance, and
// treats every node as holding every role, per the fixed-membership
// non-goal.
type keyCommunicator struct {
	dict *Dictionary
	key  []byte
}

func (c *keyCommunicator) Send(msg paxos.Message, to []paxos.NodeID) {
	payload := paxos.Payload{
		Sender: paxos.NodeID(c.dict.net.Self()),
		Key:    c.key,
		Msg:    msg,
	}
	data, err := paxos.EncodePayload(payload)
	if err != nil {
		c.dict.log.Error().Err(err).Msg("encode payload failed")
		return
	}
	for _, id := range to {
		addr, err := c.dict.net.Addr(transport.NodeID(id))
		if err != nil {
			continue
		}
		c.dict.sender.Send(addr, data)
	}
}

func (c *keyCommunicator) AllOf(paxos.Role) []paxos.NodeID {
	ids := c.dict.net.AllNodeIDs()
	out := make([]paxos.NodeID, len(ids))
	for i, id := range ids {
		out[i] = paxos.NodeID(id)
	}
	return out
}

// persist snapshots every per-key server's state and atomically saves it.
// Called after every Dispatch, so the snapshot on disk never lags more
// than one handled message behind in-memory state.
func (d *Dictionary) persist() error {
	d.mu.Lock()
	snap := make(map[string]paxos.Snapshot, len(d.servers))
	keys := make(map[string][]byte, len(d.keys))
	for k, srv := range d.servers {
		snap[k] = srv.Snapshot()
	}
	for k, v := range d.keys {
		keys[k] = v
	}
	kind := d.kind
	d.mu.Unlock()

	data, err := msgpack.Marshal(dictSnapshot{Keys: keys, Servers: snap, Kind: kind})
	if err != nil {
		return fmt.Errorf("dictionary: marshal snapshot: %w", err)
	}
	return d.storage.Save(data)
}

type dictSnapshot struct {
	Keys    map[string][]byte
	Servers map[string]paxos.Snapshot
	Kind    GeneratorKind
}

func (d *Dictionary) restore(data []byte) error {
	var snap dictSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, keyBytes := range snap.Keys {
		srv := d.newServerLocked(keyBytes)
		if s, ok := snap.Servers[k]; ok {
			srv.Restore(s)
		}
		d.servers[k] = srv
		d.keys[k] = append([]byte(nil), keyBytes...)
	}
	return nil
}

// EncodeKey packs a tuple of key parts (e.g. a state machine's prefix and
// watermark) into the opaque byte key the dictionary and the wire
// envelope both use.
func EncodeKey(parts ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(parts); err != nil {
		return nil, fmt.Errorf("dictionary: encode key: %w", err)
	}
	return buf.Bytes(), nil
}
