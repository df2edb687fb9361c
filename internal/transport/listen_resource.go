package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/wire"
)

// EndpointHandler is the callback a ListenResource invokes for each
// submessage addressed to a locally associated endpoint.
type EndpointHandler interface {
	EntityId() guid.EntityId
	HandleSubmessage(sourcePrefix guid.GuidPrefix, sub wire.Submessage)
}

// ListenResource owns one bound UDP socket and dispatches every received
// datagram's submessages to the local endpoints associated with it.
type ListenResource struct {
	locator Locator
	log     *zap.SugaredLogger

	reopenMax time.Duration

	mu        sync.Mutex
	conn      *net.UDPConn
	endpoints map[guid.EntityId]EndpointHandler
}

// NewListenResource binds locator and returns the owning ListenResource.
// A bind failure here is fatal to participant creation.
func NewListenResource(locator Locator, reopenMax time.Duration, log *zap.SugaredLogger) (*ListenResource, error) {
	addr, err := locator.UDPAddr()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind listen resource %s: %w", locator, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	enableReceiveTimestamp(conn, log)
	return &ListenResource{
		locator:   locator,
		log:       log,
		reopenMax: reopenMax,
		conn:      conn,
		endpoints: make(map[guid.EntityId]EndpointHandler),
	}, nil
}

// enableReceiveTimestamp turns on SO_TIMESTAMP so the kernel stamps each
// datagram's arrival time in its control message, for receivers that want
// a local-clock cross-check against a remote's INFO_TS. Best-effort: a
// platform without SO_TIMESTAMP support still functions, just without it.
func enableReceiveTimestamp(conn *net.UDPConn, log *zap.SugaredLogger) {
	raw, err := conn.SyscallConn()
	if err != nil {
		log.Debugw("listen resource: no syscall conn for SO_TIMESTAMP", "error", err)
		return
	}
	var sockoptErr error
	if err := raw.Control(func(fd uintptr) {
		sockoptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1)
	}); err != nil {
		log.Debugw("listen resource: SO_TIMESTAMP control failed", "error", err)
		return
	}
	if sockoptErr != nil {
		log.Debugw("listen resource: SO_TIMESTAMP setsockopt failed", "error", sockoptErr)
	}
}

// Attach associates an endpoint with this listen resource so it receives
// submessages addressed to its EntityId.
func (r *ListenResource) Attach(h EndpointHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[h.EntityId()] = h
}

// Detach removes an endpoint association.
func (r *ListenResource) Detach(id guid.EntityId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, id)
}

// Empty reports whether no endpoints remain associated, the signal the
// owning Participant uses to garbage-collect this resource.
func (r *ListenResource) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints) == 0
}

// Locator returns the bound locator.
func (r *ListenResource) Locator() Locator { return r.locator }

// Close shuts down the bound socket, unblocking Run's read loop.
func (r *ListenResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.Close()
}

const maxDatagramSize = 64 * 1024

// Run is the listen thread's blocking read loop, one per bound socket. It
// returns when ctx is cancelled or the socket is closed by Close. A
// transient read error triggers a rebind with exponential backoff up to
// reopenMax.
func (r *ListenResource) Run(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			if rebindErr := r.rebind(ctx); rebindErr != nil {
				return fmt.Errorf("transport: rebind %s: %w", r.locator, rebindErr)
			}
			continue
		}

		r.dispatch(buf[:n])
	}
}

// rebind reopens the bound socket with exponential backoff.
func (r *ListenResource) rebind(ctx context.Context) error {
	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         r.reopenMax,
	})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			addr, err := r.locator.UDPAddr()
			if err != nil {
				return err
			}
			conn, err := net.ListenUDP("udp", addr)
			if err != nil {
				r.log.Warnw("listen resource rebind attempt failed", "locator", r.locator.String(), "error", err)
				continue
			}
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			r.log.Infow("listen resource rebound", "locator", r.locator.String())
			return nil
		}
	}
}

// dispatch parses one datagram's header and submessages and delivers each
// to the associated endpoint naming it. A submessage addressed to an
// unknown EntityId is silently dropped; ENTITYID_UNKNOWN broadcasts to
// every associated endpoint.
func (r *ListenResource) dispatch(datagram []byte) {
	hdr, body, err := wire.DecodeHeader(datagram)
	if err != nil {
		r.log.Debugw("dropping malformed datagram", "error", err)
		return
	}

	subs, err := wire.Submessages(hdr.GuidPrefix, body)
	if err != nil {
		r.log.Debugw("dropping malformed submessage stream", "error", err)
		return
	}

	r.mu.Lock()
	byID := make(map[guid.EntityId]EndpointHandler, len(r.endpoints))
	endpoints := make([]EndpointHandler, 0, len(r.endpoints))
	for id, h := range r.endpoints {
		byID[id] = h
		endpoints = append(endpoints, h)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		if sub.Header.Id == wire.SubmessageInfoTimestamp || sub.Header.Id == wire.SubmessageInfoDestination {
			continue // no per-endpoint destination field; already folded into DecodingContext
		}
		destID, ok := submessageDestinationId(sub)
		if !ok {
			continue
		}
		if destID == guid.EntityIdUnknown {
			for _, h := range endpoints {
				h.HandleSubmessage(hdr.GuidPrefix, sub)
			}
			continue
		}
		if h, ok := byID[destID]; ok {
			h.HandleSubmessage(hdr.GuidPrefix, sub)
		}
	}
}

// submessageDestinationId extracts the field naming the LOCAL endpoint a
// submessage is addressed to. Writer-originated submessages (DATA,
// DATAFRAG, HEARTBEAT, GAP, HEARTBEAT_FRAG) address a reader via
// reader_id; reader-originated submessages (ACKNACK, NACKFRAG) address a
// writer via writer_id — the two fields swap position depending on
// direction, so the destination field is not always at the same offset.
func submessageDestinationId(sub wire.Submessage) (guid.EntityId, bool) {
	offset := 0
	switch sub.Header.Id {
	case wire.SubmessageData, wire.SubmessageDataFrag:
		offset = 4 // extraFlags(2) + octetsToInlineQos(2) precede reader_id
	case wire.SubmessageAckNack, wire.SubmessageNackFrag:
		offset = 4 // reader_id(4) precedes writer_id, the destination
	}
	if len(sub.Body) < offset+4 {
		return guid.EntityId{}, false
	}
	var id guid.EntityId
	copy(id[:], sub.Body[offset:offset+4])
	return id, true
}
