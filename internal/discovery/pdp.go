package discovery

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/endpoint"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
	"github.com/rtpsgo/rtps/internal/wire"
)

// DefaultMetatrafficMulticastAddress is the RTPS default for the SPDP
// multicast locator, 239.255.0.1.
var DefaultMetatrafficMulticastAddress = [4]byte{239, 255, 0, 1}

// PDPOption configures a PDP at construction time.
type PDPOption func(*pdpOptions)

type pdpOptions struct {
	announcementPeriod time.Duration
	leaseDuration       time.Duration
	log                 *zap.SugaredLogger
}

func newPDPOptions() *pdpOptions {
	return &pdpOptions{
		announcementPeriod: time.Second,
		leaseDuration:      20 * time.Second,
		log:                zap.NewNop().Sugar(),
	}
}

// WithAnnouncementPeriod overrides how often the local participant's
// ParticipantProxyData is re-sent.
func WithAnnouncementPeriod(d time.Duration) PDPOption {
	return func(o *pdpOptions) { o.announcementPeriod = d }
}

// WithLeaseDuration overrides the lease a remote is expected to honor
// before it must be considered gone.
func WithLeaseDuration(d time.Duration) PDPOption {
	return func(o *pdpOptions) { o.leaseDuration = d }
}

// WithPDPLog attaches a logger.
func WithPDPLog(log *zap.SugaredLogger) PDPOption {
	return func(o *pdpOptions) { o.log = log }
}

// ParticipantLifecycleListener is notified as remote participants come up
// and expire, so EDP can bring up (or tear down) the matching built-in
// SEDP endpoint pairs.
type ParticipantLifecycleListener interface {
	ParticipantUp(remote ParticipantProxyData)
	ParticipantDown(prefix guid.GuidPrefix)
}

// PDP runs SPDP: a keyless best-effort writer/reader pair on the
// well-known participant-discovery entity IDs, periodically announcing
// this participant's own ParticipantProxyData and tracking the proxies it
// learns of from peers.
type PDP struct {
	writer *endpoint.StatelessWriter
	reader *endpoint.StatelessReader

	local    ParticipantProxyData
	proxies  *ParticipantProxyTable
	listener ParticipantLifecycleListener

	announcementPeriod time.Duration
	leaseDuration       time.Duration
	log                 *zap.SugaredLogger

	seq atomic.Int64
}

// NewPDP builds the SPDP writer/reader pair for guidPrefix, bound to the
// metatraffic multicast locator, and the local ParticipantProxyData it
// will periodically announce.
func NewPDP(guidPrefix guid.GuidPrefix, sender endpoint.DatagramSender, multicastLocator transport.Locator,
	metatrafficLocators, defaultLocators []transport.Locator, listener ParticipantLifecycleListener, opts ...PDPOption) *PDP {
	o := newPDPOptions()
	for _, opt := range opts {
		opt(o)
	}

	writerGUID := guid.GUID{Prefix: guidPrefix, Entity: guid.EntityIdSPDPWriter}
	readerGUID := guid.GUID{Prefix: guidPrefix, Entity: guid.EntityIdSPDPReader}

	p := &PDP{
		proxies:            newParticipantProxyTable(),
		listener:           listener,
		announcementPeriod: o.announcementPeriod,
		leaseDuration:      o.leaseDuration,
		log:                o.log,
		local: ParticipantProxyData{
			GuidPrefix:                   guidPrefix,
			ProtocolVersion:              [2]byte{2, 3},
			BuiltinEndpoints:             builtinEndpointsMask,
			DefaultUnicastLocators:       defaultLocators,
			MetatrafficUnicastLocators:   metatrafficLocators,
			MetatrafficMulticastLocators: []transport.Locator{multicastLocator},
			LeaseDurationNanos:           int64(o.leaseDuration),
		},
	}
	p.writer = endpoint.NewStatelessWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepLast, Depth: 1}),
		qos.EndpointQoS{}, sender, []transport.Locator{multicastLocator}, o.log)
	p.reader = endpoint.NewStatelessReader(readerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}),
		qos.EndpointQoS{}, p.handleRemote, o.log)
	return p
}

const builtinEndpointsMask uint32 = 0x01 | 0x02 | 0x04 | 0x08 // SPDP writer/reader, SEDP pub writer/reader (bits per RTPS §8.5.3.3)

// Writer returns the underlying SPDP writer, so a ListenResource can
// dispatch inbound submessages addressed to it.
func (p *PDP) Writer() *endpoint.StatelessWriter { return p.writer }

// Reader returns the underlying SPDP reader.
func (p *PDP) Reader() *endpoint.StatelessReader { return p.reader }

// Run announces the local participant immediately, then runs the
// announcement and lease-sweep loops until ctx is canceled.
func (p *PDP) Run(ctx context.Context) error {
	if err := p.announce(); err != nil {
		return err
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error { return p.runAnnounce(ctx) })
	wg.Go(func() error { return p.runLeaseSweep(ctx) })
	return wg.Wait()
}

func (p *PDP) runAnnounce(ctx context.Context) error {
	ticker := time.NewTicker(p.announcementPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.announce(); err != nil {
				p.log.Warnw("spdp announce failed", "error", err)
			}
		}
	}
}

func (p *PDP) runLeaseSweep(ctx context.Context) error {
	interval := p.leaseDuration / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, prefix := range p.proxies.Expired(time.Now()) {
				p.log.Infow("participant lease expired", "prefix", prefix.String())
				if p.listener != nil {
					p.listener.ParticipantDown(prefix)
				}
			}
		}
	}
}

func (p *PDP) announce() error {
	return p.writer.Write(&cache.CacheChange{
		Kind:           cache.Alive,
		SequenceNumber: wire.SequenceNumber(p.seq.Add(1)),
		Payload:        encodeGob(p.local),
	})
}

func (p *PDP) handleRemote(c *cache.CacheChange) {
	var remote ParticipantProxyData
	if err := decodeGob(c.Payload, &remote); err != nil {
		p.log.Debugw("dropping malformed SPDP sample", "error", err)
		return
	}
	if remote.GuidPrefix == p.local.GuidPrefix {
		return
	}

	isNew := p.proxies.AddOrUpdate(remote, time.Now())
	if isNew {
		p.log.Infow("discovered participant", "prefix", remote.GuidPrefix.String())
	}
	if p.listener != nil {
		p.listener.ParticipantUp(remote)
	}
}
