package discovery

import (
	"sync"

	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/transport"
	"github.com/rtpsgo/rtps/internal/wire"
)

// recordingSender captures every datagram passed to Send without touching
// the network, and can replay it straight into a peer's HandleSubmessage
// for in-process discovery tests.
type recordingSender struct {
	mu        sync.Mutex
	datagrams [][]byte
}

func (s *recordingSender) Send(locator transport.Locator, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), payload...)
	s.datagrams = append(s.datagrams, cp)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.datagrams)
}

func (s *recordingSender) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datagrams[len(s.datagrams)-1]
}

func (s *recordingSender) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.datagrams))
	copy(out, s.datagrams)
	return out
}

// deliver decodes datagram and hands each submessage to h, as a
// ListenResource would.
func deliver(h interface {
	HandleSubmessage(guid.GuidPrefix, wire.Submessage)
}, datagram []byte) {
	hdr, body, err := wire.DecodeHeader(datagram)
	if err != nil {
		return
	}
	subs, err := wire.Submessages(hdr.GuidPrefix, body)
	if err != nil {
		return
	}
	for _, sub := range subs {
		h.HandleSubmessage(hdr.GuidPrefix, sub)
	}
}
