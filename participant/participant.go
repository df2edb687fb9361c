package participant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/discovery"
	"github.com/rtpsgo/rtps/internal/endpoint"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
)

// Option configures a Participant at construction time.
type Option func(*options)

type options struct {
	announcementPeriod time.Duration
	leaseDuration      time.Duration
	listenReopenMax    time.Duration
	useStaticEDP       bool
	sendPeriod         time.Duration
	heartbeatPeriod    time.Duration
	nackResponseDelay  time.Duration
	mtu                int
	log                *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		announcementPeriod: time.Second,
		leaseDuration:      20 * time.Second,
		listenReopenMax:    30 * time.Second,
		sendPeriod:         100 * time.Millisecond,
		heartbeatPeriod:    time.Second,
		nackResponseDelay:  200 * time.Millisecond,
		mtu:                endpoint.DefaultMTU,
		log:                zap.NewNop().Sugar(),
	}
}

// WithAnnouncementPeriod overrides how often PDP re-announces this
// participant.
func WithAnnouncementPeriod(d time.Duration) Option {
	return func(o *options) { o.announcementPeriod = d }
}

// WithLeaseDuration overrides the lease a remote participant is expected
// to honor.
func WithLeaseDuration(d time.Duration) Option {
	return func(o *options) { o.leaseDuration = d }
}

// WithListenReopenMax overrides the cap on a listen resource's rebind
// backoff.
func WithListenReopenMax(d time.Duration) Option {
	return func(o *options) { o.listenReopenMax = d }
}

// WithStaticEDP switches endpoint discovery from wire-learned SEDP to
// declared user_defined_id: CreateWriter/CreateReader then reject a
// non-positive UserID instead of matching from the wire.
func WithStaticEDP() Option {
	return func(o *options) { o.useStaticEDP = true }
}

// WithLog attaches a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithSendPeriod overrides how often a reliable writer's event thread
// checks for UNSENT/REQUESTED changes to transmit.
func WithSendPeriod(d time.Duration) Option {
	return func(o *options) { o.sendPeriod = d }
}

// WithHeartbeatPeriod overrides how often a reliable writer with
// unacknowledged changes re-announces HEARTBEAT.
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(o *options) { o.heartbeatPeriod = d }
}

// WithNackResponseDelay overrides how often a reader's event thread
// checks for missing changes to request with ACKNACK.
func WithNackResponseDelay(d time.Duration) Option {
	return func(o *options) { o.nackResponseDelay = d }
}

// WithMTU overrides the fragmentation threshold applied to every writer
// this participant creates, built-in SEDP writers included.
func WithMTU(mtu int) Option {
	return func(o *options) { o.mtu = mtu }
}

// WriterAttrs describes a user writer to create.
type WriterAttrs struct {
	UserID   int32
	Keyed    bool
	Topic    string
	Type     string
	QoS      qos.EndpointQoS
	History  cache.Config
	Locators []transport.Locator // empty inherits participant defaults
}

// ReaderAttrs describes a user (or, with Builtin set, built-in) reader to
// create.
type ReaderAttrs struct {
	UserID   int32
	Keyed    bool
	Builtin  bool
	Topic    string
	Type     string
	QoS      qos.EndpointQoS
	History  cache.Config
	Locators []transport.Locator
	Listener endpoint.Listener
}

type writerEntry struct {
	writer   *endpoint.StatefulWriter
	locators []transport.Locator
	builtin  bool
}

type readerEntry struct {
	reader        *endpoint.StatefulReader
	locators      []transport.Locator
	builtin       bool
	trustedWriter guid.EntityId
}

// Participant owns the endpoints, listen resources, entity-id allocator,
// and built-in discovery protocols of one RTPS participant.
type Participant struct {
	mu sync.Mutex

	guidPrefix guid.GuidPrefix
	alloc      *guid.Allocator
	sender     *transport.UDPTransport

	listenResources map[transport.Locator]*transport.ListenResource
	writers         map[guid.EntityId]*writerEntry
	readers         map[guid.EntityId]*readerEntry

	defaultLocators     []transport.Locator
	metatrafficLocators []transport.Locator
	multicastLocator    transport.Locator

	reopenMax    time.Duration
	useStaticEDP bool

	sendPeriod        time.Duration
	heartbeatPeriod   time.Duration
	nackResponseDelay time.Duration
	mtu               int

	pdp *discovery.PDP
	edp *discovery.EDP

	log *zap.SugaredLogger

	runCtx   context.Context
	runGroup *errgroup.Group
}

// New creates a participant identified by guidPrefix, ready to create
// endpoints and to run discovery once Run is called.
//
// defaultLocators seed endpoints created with no explicit locator list;
// metatrafficLocators and multicastLocator are where built-in discovery
// itself listens and, respectively, where SPDP announces.
func New(guidPrefix guid.GuidPrefix, defaultLocators, metatrafficLocators []transport.Locator, multicastLocator transport.Locator, opts ...Option) (*Participant, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	sender, err := transport.NewUDPTransport()
	if err != nil {
		return nil, fmt.Errorf("participant: open send transport: %w", err)
	}

	p := &Participant{
		guidPrefix:          guidPrefix,
		alloc:               guid.NewAllocator(),
		sender:              sender,
		listenResources:     make(map[transport.Locator]*transport.ListenResource),
		writers:             make(map[guid.EntityId]*writerEntry),
		readers:             make(map[guid.EntityId]*readerEntry),
		defaultLocators:     defaultLocators,
		metatrafficLocators: metatrafficLocators,
		multicastLocator:    multicastLocator,
		reopenMax:           o.listenReopenMax,
		useStaticEDP:        o.useStaticEDP,
		sendPeriod:          o.sendPeriod,
		heartbeatPeriod:     o.heartbeatPeriod,
		nackResponseDelay:   o.nackResponseDelay,
		mtu:                 o.mtu,
		log:                 o.log,
	}

	p.edp = discovery.NewEDP(guidPrefix, sender, o.log,
		discovery.WithEDPSendPeriod(o.sendPeriod),
		discovery.WithEDPHeartbeatPeriod(o.heartbeatPeriod),
		discovery.WithEDPNackResponseDelay(o.nackResponseDelay))
	for _, w := range []*endpoint.StatefulWriter{p.edp.PubWriter(), p.edp.SubWriter()} {
		w.SetMTU(o.mtu)
	}
	p.pdp = discovery.NewPDP(guidPrefix, sender, multicastLocator, metatrafficLocators, defaultLocators, p,
		discovery.WithAnnouncementPeriod(o.announcementPeriod),
		discovery.WithLeaseDuration(o.leaseDuration),
		discovery.WithPDPLog(o.log))

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.assignBuiltinListenResourcesLocked(); err != nil {
		sender.Close()
		return nil, err
	}
	return p, nil
}

// GUIDPrefix returns this participant's own GuidPrefix.
func (p *Participant) GUIDPrefix() guid.GuidPrefix { return p.guidPrefix }

func (p *Participant) assignBuiltinListenResourcesLocked() error {
	if _, err := p.assignListenResourcesLocked(p.pdp.Writer(), []transport.Locator{p.multicastLocator}, true); err != nil {
		return err
	}
	if _, err := p.assignListenResourcesLocked(p.pdp.Reader(), []transport.Locator{p.multicastLocator}, true); err != nil {
		return err
	}
	builtinSEDP := []transport.EndpointHandler{p.edp.PubWriter(), p.edp.PubReader(), p.edp.SubWriter(), p.edp.SubReader()}
	for _, h := range builtinSEDP {
		if _, err := p.assignListenResourcesLocked(h, p.metatrafficLocators, true); err != nil {
			return err
		}
	}
	return nil
}

// assignListenResourcesLocked implements assign_endpoint_listen_resources:
// for each locator, attach h to an existing ListenResource bound to it or
// create one. A non-builtin endpoint with no locators of its own inherits
// the participant's defaults. Returns the locator list actually used.
func (p *Participant) assignListenResourcesLocked(h transport.EndpointHandler, locators []transport.Locator, builtin bool) ([]transport.Locator, error) {
	if len(locators) == 0 && !builtin {
		locators = p.defaultLocators
	}

	for _, loc := range locators {
		resource, ok := p.listenResources[loc]
		if !ok {
			r, err := transport.NewListenResource(loc, p.reopenMax, p.log)
			if err != nil {
				return nil, fmt.Errorf("participant: assign listen resource %s: %w", loc, err)
			}
			p.listenResources[loc] = r
			resource = r
			if p.runGroup != nil {
				rg, rc := p.runGroup, p.runCtx
				rg.Go(func() error { return r.Run(rc) })
			}
		}
		resource.Attach(h)
	}
	return locators, nil
}

// detachListenResourcesLocked is the listen-resource half of
// delete_endpoint: detach h from every locator it was assigned to, and
// garbage-collect any listen resource left with no associated endpoints.
func (p *Participant) detachListenResourcesLocked(h transport.EndpointHandler, locators []transport.Locator) {
	for _, loc := range locators {
		resource, ok := p.listenResources[loc]
		if !ok {
			continue
		}
		resource.Detach(h.EntityId())
		if resource.Empty() {
			if err := resource.Close(); err != nil {
				p.log.Warnw("failed closing emptied listen resource", "locator", loc.String(), "error", err)
			}
			delete(p.listenResources, loc)
		}
	}
}

// CreateWriter allocates an EntityId, attaches listen resources, and
// announces the writer over SEDP (unless static EDP is in effect, in
// which case the peer side is declared by configuration instead).
func (p *Participant) CreateWriter(attrs WriterAttrs) (*endpoint.StatefulWriter, error) {
	if err := discovery.ValidateStaticUserId(p.useStaticEDP, attrs.UserID); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	kind := guid.KindUserKeylessWriter
	if attrs.Keyed {
		kind = guid.KindUserKeyedWriter
	}
	id, err := p.alloc.Allocate(uint32(attrs.UserID), kind)
	if err != nil {
		return nil, err
	}

	g := guid.GUID{Prefix: p.guidPrefix, Entity: id}
	w := endpoint.NewStatefulWriter(g, cache.NewHistoryCache(attrs.History), attrs.QoS, p.sender, p.log)
	w.SetMTU(p.mtu)

	locators, err := p.assignListenResourcesLocked(w, attrs.Locators, false)
	if err != nil {
		p.alloc.Release(id, kind)
		return nil, err
	}
	p.writers[id] = &writerEntry{writer: w, locators: locators}

	if !p.useStaticEDP {
		if err := p.edp.RegisterLocalWriter(g, attrs.Topic, attrs.Type, attrs.QoS, locators, w); err != nil {
			return nil, fmt.Errorf("participant: announce writer %s: %w", g, err)
		}
	}
	return w, nil
}

// CreateReader allocates an EntityId, attaches listen resources, and
// (for a user reader) announces it over SEDP. A built-in reader instead
// has its trusted_writer recorded: ParticipantUp will only ever match it
// against the canonical peer built-in writer on a newly discovered
// participant, so submessages from any other writer never reach it.
func (p *Participant) CreateReader(attrs ReaderAttrs) (*endpoint.StatefulReader, error) {
	if err := discovery.ValidateStaticUserId(p.useStaticEDP, attrs.UserID); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	kind := guid.KindUserKeylessReader
	switch {
	case attrs.Builtin:
		kind = guid.KindBuiltinReader
	case attrs.Keyed:
		kind = guid.KindUserKeyedReader
	}
	id, err := p.alloc.Allocate(uint32(attrs.UserID), kind)
	if err != nil {
		return nil, err
	}

	var trustedWriter guid.EntityId
	if attrs.Builtin {
		trustedWriter = guid.TrustedWriter(id)
		if trustedWriter == guid.EntityIdUnknown {
			p.alloc.Release(id, kind)
			return nil, fmt.Errorf("participant: %s has no trusted built-in writer pairing", id)
		}
	}

	g := guid.GUID{Prefix: p.guidPrefix, Entity: id}
	r := endpoint.NewStatefulReader(g, cache.NewHistoryCache(attrs.History), attrs.QoS, p.sender, attrs.Listener, p.log)

	locators, err := p.assignListenResourcesLocked(r, attrs.Locators, attrs.Builtin)
	if err != nil {
		p.alloc.Release(id, kind)
		return nil, err
	}
	p.readers[id] = &readerEntry{reader: r, locators: locators, builtin: attrs.Builtin, trustedWriter: trustedWriter}

	if !attrs.Builtin && !p.useStaticEDP {
		if err := p.edp.RegisterLocalReader(g, attrs.Topic, attrs.Type, attrs.QoS, locators, r); err != nil {
			return nil, fmt.Errorf("participant: announce reader %s: %w", g, err)
		}
	}
	return r, nil
}

// DeleteWriter removes a previously created writer: withdraws its SEDP
// advertisement, detaches it from every listen resource, and releases its
// EntityId.
func (p *Participant) DeleteWriter(id guid.EntityId) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.writers[id]
	if !ok {
		return fmt.Errorf("participant: unknown writer %s", id)
	}
	delete(p.writers, id)

	if !entry.builtin && !p.useStaticEDP {
		g := guid.GUID{Prefix: p.guidPrefix, Entity: id}
		if err := p.edp.WithdrawLocalWriter(g); err != nil {
			p.log.Warnw("failed withdrawing writer advertisement", "writer", g.String(), "error", err)
		}
	}
	p.detachListenResourcesLocked(entry.writer, entry.locators)
	p.alloc.Release(id, guid.KindUserKeylessWriter)
	return nil
}

// DeleteReader is the symmetric operation for a reader.
func (p *Participant) DeleteReader(id guid.EntityId) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.readers[id]
	if !ok {
		return fmt.Errorf("participant: unknown reader %s", id)
	}
	delete(p.readers, id)

	if !entry.builtin && !p.useStaticEDP {
		g := guid.GUID{Prefix: p.guidPrefix, Entity: id}
		if err := p.edp.WithdrawLocalReader(g); err != nil {
			p.log.Warnw("failed withdrawing reader advertisement", "reader", g.String(), "error", err)
		}
	}
	p.detachListenResourcesLocked(entry.reader, entry.locators)
	p.alloc.Release(id, guid.KindUserKeylessReader)
	return nil
}

// ParticipantUp satisfies discovery.ParticipantLifecycleListener: it
// brings up the built-in SEDP match for remote, and matches any built-in
// reader of ours (e.g. liveliness) against remote's trusted counterpart
// writer.
func (p *Participant) ParticipantUp(remote discovery.ParticipantProxyData) {
	p.edp.MatchBuiltinEndpoints(remote)

	p.mu.Lock()
	defer p.mu.Unlock()

	locators := remote.MetatrafficUnicastLocators
	if len(locators) == 0 {
		locators = remote.MetatrafficMulticastLocators
	}
	for _, re := range p.readers {
		if !re.builtin || re.trustedWriter == guid.EntityIdUnknown {
			continue
		}
		re.reader.MatchWriter(endpoint.MatchedWriter{
			GUID:     guid.GUID{Prefix: remote.GuidPrefix, Entity: re.trustedWriter},
			Locators: locators,
		})
	}
}

// ParticipantDown satisfies discovery.ParticipantLifecycleListener: it
// tears down every match with prefix, built-in SEDP included.
func (p *Participant) ParticipantDown(prefix guid.GuidPrefix) {
	p.edp.UnmatchBuiltinEndpoints(prefix)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, re := range p.readers {
		if !re.builtin || re.trustedWriter == guid.EntityIdUnknown {
			continue
		}
		re.reader.UnmatchWriter(guid.GUID{Prefix: prefix, Entity: re.trustedWriter})
	}
}

// snapshotWriters returns every currently created user StatefulWriter, for
// the event thread to re-poll on every tick so a writer created after Run
// starts is picked up without a restart.
func (p *Participant) snapshotWriters() []*endpoint.StatefulWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*endpoint.StatefulWriter, 0, len(p.writers))
	for _, entry := range p.writers {
		out = append(out, entry.writer)
	}
	return out
}

// snapshotReaders returns every currently created user StatefulReader, for
// the same reason as snapshotWriters.
func (p *Participant) snapshotReaders() []*endpoint.StatefulReader {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*endpoint.StatefulReader, 0, len(p.readers))
	for _, entry := range p.readers {
		out = append(out, entry.reader)
	}
	return out
}

// Run starts every currently bound listen resource, PDP, EDP's event
// thread, and this participant's own user-writer/reader event thread, and
// blocks until ctx is canceled or one of them fails. Without this, a
// running participant seeds changes as UNSENT but never actually
// transmits DATA or exchanges HEARTBEAT/ACKNACK with its peers.
func (p *Participant) Run(ctx context.Context) error {
	p.mu.Lock()
	g, runCtx := errgroup.WithContext(ctx)
	p.runGroup = g
	p.runCtx = runCtx
	for _, resource := range p.listenResources {
		resource := resource
		g.Go(func() error { return resource.Run(runCtx) })
	}
	g.Go(func() error { return p.pdp.Run(runCtx) })
	g.Go(func() error { return p.edp.Run(runCtx) })
	g.Go(func() error {
		return endpoint.RunWriterTicks(runCtx, p.snapshotWriters, p.sendPeriod, p.heartbeatPeriod)
	})
	g.Go(func() error {
		return endpoint.RunReaderTicks(runCtx, p.snapshotReaders, p.nackResponseDelay)
	})
	p.mu.Unlock()

	return g.Wait()
}

// Close tears down every listen resource and the shared send transport,
// aggregating any errors encountered along the way.
func (p *Participant) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	withdrawErr := p.withdrawAllLocked()

	var errs *multierror.Error
	if withdrawErr != nil {
		errs = multierror.Append(errs, withdrawErr)
	}
	for loc, resource := range p.listenResources {
		if err := resource.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close listen resource %s: %w", loc, err))
		}
	}
	if err := p.sender.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("close send transport: %w", err))
	}
	return errs.ErrorOrNil()
}

// withdrawAllLocked best-effort withdraws every still-live local
// endpoint's SEDP advertisement ahead of tearing down sockets, so a peer
// need not wait out a full lease to learn this participant is gone.
// Writer and reader withdrawals are independent failures, aggregated with
// multierr rather than go-multierror to keep the two aggregation sites in
// this package visibly distinct concerns.
func (p *Participant) withdrawAllLocked() error {
	if p.useStaticEDP {
		return nil
	}

	var err error
	for id, entry := range p.writers {
		if entry.builtin {
			continue
		}
		g := guid.GUID{Prefix: p.guidPrefix, Entity: id}
		err = multierr.Append(err, p.edp.WithdrawLocalWriter(g))
	}
	for id, entry := range p.readers {
		if entry.builtin {
			continue
		}
		g := guid.GUID{Prefix: p.guidPrefix, Entity: id}
		err = multierr.Append(err, p.edp.WithdrawLocalReader(g))
	}
	return err
}
