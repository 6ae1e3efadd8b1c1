package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recvWithTimeout(t *testing.T, tr *MemoryTransport, timeout time.Duration) []byte {
	t.Helper()
	received := make(chan []byte, 1)
	go tr.Listen(func(data []byte) { received <- data })

	select {
	case data := <-received:
		return data
	case <-time.After(timeout):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestMemoryTransportDeliversBetweenNodes(t *testing.T) {
	bus := NewBus()
	a := bus.NewTransport("a:1")
	b := bus.NewTransport("b:1")
	defer a.Close()
	defer b.Close()

	a.Send("b:1", []byte("hello"))
	require.Equal(t, []byte("hello"), recvWithTimeout(t, b, time.Second))
}

func TestMemoryTransportSendToUnknownAddressIsDropped(t *testing.T) {
	bus := NewBus()
	a := bus.NewTransport("a:1")
	defer a.Close()

	require.NotPanics(t, func() { a.Send("nowhere:1", []byte("x")) })
}

func TestMemoryTransportLossRateDropsSends(t *testing.T) {
	bus := NewBus()
	bus.LossRate = 1.0
	a := bus.NewTransport("a:1")
	b := bus.NewTransport("b:1")
	defer a.Close()
	defer b.Close()

	received := make(chan []byte, 1)
	go b.Listen(func(d []byte) { received <- d })

	a.Send("b:1", []byte("lost"))

	select {
	case data := <-received:
		t.Fatalf("expected no delivery under 100%% loss, got %q", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryTransportPartitionBlocksOneDirection(t *testing.T) {
	bus := NewBus()
	bus.Partition = func(from, to Address) bool { return from == "a:1" }
	a := bus.NewTransport("a:1")
	b := bus.NewTransport("b:1")
	defer a.Close()
	defer b.Close()

	a.Send("b:1", []byte("blocked"))
	b.Send("a:1", []byte("allowed"))

	require.Equal(t, []byte("allowed"), recvWithTimeout(t, a, time.Second))
}

func TestMemoryTransportCloseStopsListen(t *testing.T) {
	bus := NewBus()
	a := bus.NewTransport("a:1")

	errCh := make(chan error, 1)
	go func() { errCh <- a.Listen(func([]byte) {}) }()

	require.NoError(t, a.Close())
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after Close")
	}
}
