package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/itsneelabh/pulse/pkg/core"
)

// MaxDatagramSize is the largest payload a UDP datagram can carry.
const MaxDatagramSize = 64 * 1024

// Sender sends one encoded message per call.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// UDPSender is a send-only UDP socket bound to a single collector address.
type UDPSender struct {
	mu     sync.Mutex
	conn   net.Conn
	addr   string
	closed bool
}

// NewUDPSender resolves addr and opens a connected UDP socket.
func NewUDPSender(ctx context.Context, addr string) (*UDPSender, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, &core.PulseError{
			Op:   "transport.NewUDPSender",
			Kind: "transport",
			ID:   addr,
			Err:  err,
		}
	}
	return &UDPSender{conn: conn, addr: addr}, nil
}

// Addr returns the collector address the sender writes to.
func (s *UDPSender) Addr() string {
	return s.addr
}

// Send writes payload as one datagram.
func (s *UDPSender) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(payload) > MaxDatagramSize {
		return &core.PulseError{
			Op:   "transport.Send",
			Kind: "transport",
			ID:   s.addr,
			Err:  fmt.Errorf("%w: payload of %d bytes exceeds datagram size", core.ErrInvalidMessage, len(payload)),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &core.PulseError{Op: "transport.Send", Kind: "transport", ID: s.addr, Err: net.ErrClosed}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := s.conn.Write(payload); err != nil {
		return &core.PulseError{Op: "transport.Send", Kind: "transport", ID: s.addr, Err: err}
	}
	return nil
}

// Close releases the socket. Closing twice is a no-op.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// UDPListener binds one UDP endpoint and reads datagrams from it.
type UDPListener struct {
	conn *net.UDPConn
	buf  []byte
}

// ListenUDP binds addr. Use port 0 to pick a free port.
func ListenUDP(addr string) (*UDPListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &core.PulseError{Op: "transport.ListenUDP", Kind: "config", ID: addr,
			Err: fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, &core.PulseError{Op: "transport.ListenUDP", Kind: "transport", ID: addr, Err: err}
	}
	return &UDPListener{conn: conn, buf: make([]byte, MaxDatagramSize)}, nil
}

// Addr returns the bound local address.
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// ReadFrom blocks until a datagram arrives or the listener is closed.
// The returned slice is a copy owned by the caller. ReadFrom is not safe
// for concurrent use.
func (l *UDPListener) ReadFrom() ([]byte, net.Addr, error) {
	n, from, err := l.conn.ReadFromUDP(l.buf)
	if err != nil {
		return nil, nil, err
	}
	payload := make([]byte, n)
	copy(payload, l.buf[:n])
	return payload, from, nil
}

// Close unblocks any pending ReadFrom.
func (l *UDPListener) Close() error {
	return l.conn.Close()
}

// IsClosed reports whether err comes from reading a closed listener.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
