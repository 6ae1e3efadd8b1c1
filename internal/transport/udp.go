package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

// UDPTransport is the production Transport: one bound UDP socket per
// node, used both to send and to receive.
type UDPTransport struct {
	log    zerolog.Logger
	conn   *net.UDPConn
	closed chan struct{}
}

// NewUDPTransport binds a UDP socket on addr.
func NewUDPTransport(addr Address, log zerolog.Logger) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", string(addr))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}
	return &UDPTransport{log: log, conn: conn, closed: make(chan struct{})}, nil
}

// Send delivers data to addr over a one-shot UDP write. Errors are logged
// and swallowed: the protocol tolerates transport failures.
func (t *UDPTransport) Send(addr Address, data []byte) {
	dst, err := net.ResolveUDPAddr("udp", string(addr))
	if err != nil {
		t.log.Error().Err(err).Str("addr", string(addr)).Msg("resolve send target")
		return
	}
	if _, err := t.conn.WriteToUDP(data, dst); err != nil {
		t.log.Error().Err(err).Str("addr", string(addr)).Msg("udp send failed")
	}
}

// Listen blocks reading datagrams until Close is called.
func (t *UDPTransport) Listen(handler func(data []byte)) error {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return errors.New("transport: closed")
			default:
				t.log.Error().Err(err).Msg("udp read failed")
				continue
			}
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		handler(cp)
	}
}

func (t *UDPTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return t.conn.Close()
}
