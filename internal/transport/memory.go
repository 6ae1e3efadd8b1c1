package transport

import (
	"errors"
	"math/rand"
	"sync"
)

// Bus is a process-local registry of MemoryTransports sharing one address
// space, used to run a full cluster (and its failure scenarios) inside a
// single test binary without opening real sockets.
type Bus struct {
	mu         sync.Mutex
	transports map[Address]*MemoryTransport

	// LossRate is the probability, in [0,1], that any single send is
	// dropped. Safe to mutate between sends from the test goroutine.
	LossRate float64

	// Partition, if non-nil, reports whether a send from `from` to `to`
	// should be dropped, modeling a network partition independent of
	// LossRate.
	Partition func(from, to Address) bool

	rng *rand.Rand
}

// NewBus builds an empty in-memory bus.
func NewBus() *Bus {
	return &Bus{
		transports: make(map[Address]*MemoryTransport),
		rng:        rand.New(rand.NewSource(1)),
	}
}

// NewTransport registers and returns a MemoryTransport for addr.
func (b *Bus) NewTransport(addr Address) *MemoryTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &MemoryTransport{
		bus:  b,
		addr: addr,
		in:   make(chan []byte, 4096),
		stop: make(chan struct{}),
	}
	b.transports[addr] = t
	return t
}

func (b *Bus) deliver(from, to Address, data []byte) {
	b.mu.Lock()
	lossRate := b.LossRate
	partition := b.Partition
	t, ok := b.transports[to]
	b.mu.Unlock()

	if !ok {
		return
	}
	if partition != nil && partition(from, to) {
		return
	}
	if lossRate > 0 {
		b.mu.Lock()
		drop := b.rng.Float64() < lossRate
		b.mu.Unlock()
		if drop {
			return
		}
	}

	select {
	case t.in <- data:
	default:
		// Simulated network buffers are not infinite either.
	}
}

// MemoryTransport is a Transport backed by an in-process Bus.
type MemoryTransport struct {
	bus  *Bus
	addr Address
	in   chan []byte
	stop chan struct{}

	closeOnce sync.Once
}

func (t *MemoryTransport) Send(addr Address, data []byte) {
	t.bus.deliver(t.addr, addr, data)
}

func (t *MemoryTransport) Listen(handler func(data []byte)) error {
	for {
		select {
		case data := <-t.in:
			handler(data)
		case <-t.stop:
			return errors.New("transport: closed")
		}
	}
}

func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.stop) })
	return nil
}
