package transport

import (
	"fmt"
	"net"
	"sync"
)

// Transport is the send-side port every writer transmits through. UDP is
// the only production implementation; tests commonly substitute a
// recording fake.
type Transport interface {
	Send(locator Locator, payload []byte) error
	Close() error
}

// UDPTransport is the single shared outbound socket every writer
// serializes through. Go has no recursive sync.Mutex; a plain Mutex
// suffices here because Send never re-enters itself — see DESIGN.md.
type UDPTransport struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPTransport creates a transport bound to an ephemeral local port,
// used purely for sending (the RTPS send path does not require a stable
// source port).
func NewUDPTransport() (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("transport: open send socket: %w", err)
	}
	return &UDPTransport{conn: conn}, nil
}

// Send blocks until payload has been handed to the kernel for delivery to
// locator.
func (t *UDPTransport) Send(locator Locator, payload []byte) error {
	addr, err := locator.UDPAddr()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err = t.conn.WriteToUDP(payload, addr)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", locator, err)
	}
	return nil
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
