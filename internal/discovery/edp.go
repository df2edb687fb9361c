package discovery

import (
	"context"
	"fmt"
	"sync"
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

// EDPOption configures an EDP at construction time.
type EDPOption func(*edpOptions)

type edpOptions struct {
	sendPeriod      time.Duration
	heartbeatPeriod time.Duration
	nackDelay       time.Duration
	log             *zap.SugaredLogger
}

func newEDPOptions() *edpOptions {
	return &edpOptions{
		sendPeriod:      100 * time.Millisecond,
		heartbeatPeriod: time.Second,
		nackDelay:       200 * time.Millisecond,
		log:             zap.NewNop().Sugar(),
	}
}

// WithEDPSendPeriod overrides how often the built-in SEDP writers check
// for changes to transmit.
func WithEDPSendPeriod(d time.Duration) EDPOption {
	return func(o *edpOptions) { o.sendPeriod = d }
}

// WithEDPHeartbeatPeriod overrides how often the built-in SEDP writers
// re-announce HEARTBEAT while they have unacknowledged changes.
func WithEDPHeartbeatPeriod(d time.Duration) EDPOption {
	return func(o *edpOptions) { o.heartbeatPeriod = d }
}

// WithEDPNackResponseDelay overrides how often the built-in SEDP readers
// check for missing changes to request with ACKNACK.
func WithEDPNackResponseDelay(d time.Duration) EDPOption {
	return func(o *edpOptions) { o.nackDelay = d }
}

// WithEDPLog attaches a logger.
func WithEDPLog(log *zap.SugaredLogger) EDPOption {
	return func(o *edpOptions) { o.log = log }
}

// ErrInvalidUserDefinedId is returned by ValidateStaticUserId when static
// EDP is enabled and the caller supplied a non-positive user_defined_id.
var ErrInvalidUserDefinedId = fmt.Errorf("discovery: static EDP requires a positive user_defined_id")

// ValidateStaticUserId enforces the static-EDP endpoint-creation
// precondition: with useStatic enabled, a zero or negative user_defined_id
// is rejected outright rather than learned from the wire.
func ValidateStaticUserId(useStatic bool, userDefinedID int32) error {
	if useStatic && userDefinedID <= 0 {
		return ErrInvalidUserDefinedId
	}
	return nil
}

// WriterMatcher is the subset of StatefulWriter EDP needs to bring a
// remote reader into or out of match.
type WriterMatcher interface {
	MatchReader(endpoint.MatchedReader)
	UnmatchReader(guid.GUID)
}

// ReaderMatcher is the subset of StatefulReader EDP needs to bring a
// remote writer into or out of match.
type ReaderMatcher interface {
	MatchWriter(endpoint.MatchedWriter)
	UnmatchWriter(guid.GUID)
}

type localWriter struct {
	topicName string
	typeName  string
	qos       qos.EndpointQoS
	locators  []transport.Locator
	matcher   WriterMatcher
}

type localReader struct {
	topicName string
	typeName  string
	qos       qos.EndpointQoS
	locators  []transport.Locator
	matcher   ReaderMatcher
}

// EDP runs SEDP: two reliable stateful keyed writer/reader pairs
// (publications and subscriptions), matching local user endpoints against
// remote ones learned from the wire by topic name, type name, and QoS
// compatibility.
type EDP struct {
	mu sync.Mutex

	pubWriter *endpoint.StatefulWriter // announces our local writers
	pubReader *endpoint.StatefulReader // learns remote writers
	subWriter *endpoint.StatefulWriter // announces our local readers
	subReader *endpoint.StatefulReader // learns remote readers

	localWriters  map[guid.GUID]*localWriter
	localReaders  map[guid.GUID]*localReader
	remoteWriters map[guid.GUID]WriterProxyData
	remoteReaders map[guid.GUID]ReaderProxyData

	sendPeriod      time.Duration
	heartbeatPeriod time.Duration
	nackDelay       time.Duration

	log *zap.SugaredLogger
	seq atomic.Int64
}

// NewEDP builds the SEDP publications/subscriptions writer/reader pairs
// for guidPrefix, sharing sender with PDP. Each matched remote endpoint's
// locators come from its own WriterProxyData/ReaderProxyData, learned
// over the wire rather than fixed at construction time.
func NewEDP(guidPrefix guid.GuidPrefix, sender endpoint.DatagramSender, log *zap.SugaredLogger, opts ...EDPOption) *EDP {
	o := newEDPOptions()
	if log != nil {
		o.log = log
	}
	for _, opt := range opts {
		opt(o)
	}
	log = o.log

	e := &EDP{
		localWriters:    make(map[guid.GUID]*localWriter),
		localReaders:    make(map[guid.GUID]*localReader),
		remoteWriters:   make(map[guid.GUID]WriterProxyData),
		remoteReaders:   make(map[guid.GUID]ReaderProxyData),
		sendPeriod:      o.sendPeriod,
		heartbeatPeriod: o.heartbeatPeriod,
		nackDelay:       o.nackDelay,
		log:             log,
	}

	pubWriterGUID := guid.GUID{Prefix: guidPrefix, Entity: guid.EntityIdSEDPPubWriter}
	pubReaderGUID := guid.GUID{Prefix: guidPrefix, Entity: guid.EntityIdSEDPPubReader}
	subWriterGUID := guid.GUID{Prefix: guidPrefix, Entity: guid.EntityIdSEDPSubWriter}
	subReaderGUID := guid.GUID{Prefix: guidPrefix, Entity: guid.EntityIdSEDPSubReader}

	e.pubWriter = endpoint.NewStatefulWriter(pubWriterGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{Reliability: qos.Reliable}, sender, log)
	e.pubReader = endpoint.NewStatefulReader(pubReaderGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{Reliability: qos.Reliable}, sender, e.handleRemoteWriter, log)
	e.subWriter = endpoint.NewStatefulWriter(subWriterGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{Reliability: qos.Reliable}, sender, log)
	e.subReader = endpoint.NewStatefulReader(subReaderGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{Reliability: qos.Reliable}, sender, e.handleRemoteReader, log)

	return e
}

// Run drives the event thread for the four built-in SEDP endpoints -
// SendTick/HeartbeatTick on the publications and subscriptions writers,
// AckNackTick on their reader counterparts - until ctx is canceled.
// Without this, publication/subscription announcements are seeded as
// UNSENT but never actually transmitted or acknowledged.
func (e *EDP) Run(ctx context.Context) error {
	writers := func() []*endpoint.StatefulWriter { return []*endpoint.StatefulWriter{e.pubWriter, e.subWriter} }
	readers := func() []*endpoint.StatefulReader { return []*endpoint.StatefulReader{e.pubReader, e.subReader} }

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error { return endpoint.RunWriterTicks(ctx, writers, e.sendPeriod, e.heartbeatPeriod) })
	wg.Go(func() error { return endpoint.RunReaderTicks(ctx, readers, e.nackDelay) })
	return wg.Wait()
}

// PubWriter, PubReader, SubWriter, SubReader expose the underlying
// built-in endpoints so a ListenResource can dispatch to them and
// RTPSParticipant can register their entity IDs.
func (e *EDP) PubWriter() *endpoint.StatefulWriter { return e.pubWriter }
func (e *EDP) PubReader() *endpoint.StatefulReader { return e.pubReader }
func (e *EDP) SubWriter() *endpoint.StatefulWriter { return e.subWriter }
func (e *EDP) SubReader() *endpoint.StatefulReader { return e.subReader }

// MatchBuiltinEndpoints brings up mutual matches between our own SEDP
// writer/reader pairs and the peer's, once PDP has learned remote's
// ParticipantProxyData: without this, discovery samples themselves would
// never reach the other side reliably.
func (e *EDP) MatchBuiltinEndpoints(remote ParticipantProxyData) {
	locators := remote.MetatrafficUnicastLocators
	if len(locators) == 0 {
		locators = remote.MetatrafficMulticastLocators
	}

	remotePubWriter := guid.GUID{Prefix: remote.GuidPrefix, Entity: guid.EntityIdSEDPPubWriter}
	remotePubReader := guid.GUID{Prefix: remote.GuidPrefix, Entity: guid.EntityIdSEDPPubReader}
	remoteSubWriter := guid.GUID{Prefix: remote.GuidPrefix, Entity: guid.EntityIdSEDPSubWriter}
	remoteSubReader := guid.GUID{Prefix: remote.GuidPrefix, Entity: guid.EntityIdSEDPSubReader}

	e.pubWriter.MatchReader(endpoint.MatchedReader{GUID: remotePubReader, Locators: locators, Reliable: true})
	e.pubReader.MatchWriter(endpoint.MatchedWriter{GUID: remotePubWriter, Locators: locators})
	e.subWriter.MatchReader(endpoint.MatchedReader{GUID: remoteSubReader, Locators: locators, Reliable: true})
	e.subReader.MatchWriter(endpoint.MatchedWriter{GUID: remoteSubWriter, Locators: locators})
}

// UnmatchBuiltinEndpoints tears down the built-in match for prefix, and
// drops every remote writer/reader proxy data learned from it along with
// any local match it fed.
func (e *EDP) UnmatchBuiltinEndpoints(prefix guid.GuidPrefix) {
	e.pubWriter.UnmatchReader(guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPPubReader})
	e.pubReader.UnmatchWriter(guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPPubWriter})
	e.subWriter.UnmatchReader(guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPSubReader})
	e.subReader.UnmatchWriter(guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPSubWriter})

	e.mu.Lock()
	defer e.mu.Unlock()
	for g := range e.remoteWriters {
		if g.Prefix == prefix {
			delete(e.remoteWriters, g)
			e.unmatchRemoteWriterLocked(g)
		}
	}
	for g := range e.remoteReaders {
		if g.Prefix == prefix {
			delete(e.remoteReaders, g)
			e.unmatchRemoteReaderLocked(g)
		}
	}
}

// RegisterLocalWriter announces topicName/typeName/q/locators for g over
// SEDP and matches it against every already-known compatible remote
// reader.
func (e *EDP) RegisterLocalWriter(g guid.GUID, topicName, typeName string, q qos.EndpointQoS, locators []transport.Locator, matcher WriterMatcher) error {
	e.mu.Lock()
	e.localWriters[g] = &localWriter{topicName: topicName, typeName: typeName, qos: q, locators: locators, matcher: matcher}
	matches := make([]ReaderProxyData, 0)
	for _, r := range e.remoteReaders {
		if topicMatch(topicName, typeName, r.TopicName, r.TypeName) && qos.Compatible(q, r.QoS) {
			matches = append(matches, r)
		}
	}
	e.mu.Unlock()

	for _, r := range matches {
		matcher.MatchReader(endpoint.MatchedReader{GUID: r.GUID, Locators: r.Locators, Reliable: r.QoS.Reliability == qos.Reliable})
	}
	return e.pubWriter.Write(&cache.CacheChange{
		Kind:           cache.Alive,
		SequenceNumber: wire.SequenceNumber(e.seq.Add(1)),
		Payload:        encodeGob(WriterProxyData{GUID: g, TopicName: topicName, TypeName: typeName, QoS: q, Locators: locators}),
	})
}

// RegisterLocalReader is the symmetric operation for a local reader.
func (e *EDP) RegisterLocalReader(g guid.GUID, topicName, typeName string, q qos.EndpointQoS, locators []transport.Locator, matcher ReaderMatcher) error {
	e.mu.Lock()
	e.localReaders[g] = &localReader{topicName: topicName, typeName: typeName, qos: q, locators: locators, matcher: matcher}
	matches := make([]WriterProxyData, 0)
	for _, w := range e.remoteWriters {
		if topicMatch(topicName, typeName, w.TopicName, w.TypeName) && qos.Compatible(w.QoS, q) {
			matches = append(matches, w)
		}
	}
	e.mu.Unlock()

	for _, w := range matches {
		matcher.MatchWriter(endpoint.MatchedWriter{GUID: w.GUID, Locators: w.Locators})
	}
	return e.subWriter.Write(&cache.CacheChange{
		Kind:           cache.Alive,
		SequenceNumber: wire.SequenceNumber(e.seq.Add(1)),
		Payload:        encodeGob(ReaderProxyData{GUID: g, TopicName: topicName, TypeName: typeName, QoS: q, Locators: locators}),
	})
}

// WithdrawLocalWriter publishes a disposal of g's advertisement and drops
// its local bookkeeping.
func (e *EDP) WithdrawLocalWriter(g guid.GUID) error {
	e.mu.Lock()
	delete(e.localWriters, g)
	e.mu.Unlock()
	return e.pubWriter.Write(&cache.CacheChange{
		Kind:           cache.NotAliveDisposed,
		SequenceNumber: wire.SequenceNumber(e.seq.Add(1)),
		Payload:        encodeGob(WriterProxyData{GUID: g}),
	})
}

// WithdrawLocalReader is the symmetric operation for a local reader.
func (e *EDP) WithdrawLocalReader(g guid.GUID) error {
	e.mu.Lock()
	delete(e.localReaders, g)
	e.mu.Unlock()
	return e.subWriter.Write(&cache.CacheChange{
		Kind:           cache.NotAliveDisposed,
		SequenceNumber: wire.SequenceNumber(e.seq.Add(1)),
		Payload:        encodeGob(ReaderProxyData{GUID: g}),
	})
}

func (e *EDP) handleRemoteWriter(c *cache.CacheChange) {
	var w WriterProxyData
	if err := decodeGob(c.Payload, &w); err != nil {
		e.log.Debugw("dropping malformed SEDP publication sample", "error", err)
		return
	}

	e.mu.Lock()
	if c.Kind != cache.Alive {
		delete(e.remoteWriters, w.GUID)
		e.unmatchRemoteWriterLocked(w.GUID)
		e.mu.Unlock()
		return
	}
	e.remoteWriters[w.GUID] = w
	var matched []*localReader
	for _, r := range e.localReaders {
		if topicMatch(r.topicName, r.typeName, w.TopicName, w.TypeName) && qos.Compatible(w.QoS, r.qos) {
			matched = append(matched, r)
		}
	}
	e.mu.Unlock()

	for _, r := range matched {
		r.matcher.MatchWriter(endpoint.MatchedWriter{GUID: w.GUID, Locators: w.Locators})
	}
}

func (e *EDP) handleRemoteReader(c *cache.CacheChange) {
	var r ReaderProxyData
	if err := decodeGob(c.Payload, &r); err != nil {
		e.log.Debugw("dropping malformed SEDP subscription sample", "error", err)
		return
	}

	e.mu.Lock()
	if c.Kind != cache.Alive {
		delete(e.remoteReaders, r.GUID)
		e.unmatchRemoteReaderLocked(r.GUID)
		e.mu.Unlock()
		return
	}
	e.remoteReaders[r.GUID] = r
	var matched []*localWriter
	for _, w := range e.localWriters {
		if topicMatch(w.topicName, w.typeName, r.TopicName, r.TypeName) && qos.Compatible(w.qos, r.QoS) {
			matched = append(matched, w)
		}
	}
	e.mu.Unlock()

	for _, w := range matched {
		w.matcher.MatchReader(endpoint.MatchedReader{GUID: r.GUID, Locators: r.Locators, Reliable: r.QoS.Reliability == qos.Reliable})
	}
}

func (e *EDP) unmatchRemoteWriterLocked(g guid.GUID) {
	for _, r := range e.localReaders {
		r.matcher.UnmatchWriter(g)
	}
}

func (e *EDP) unmatchRemoteReaderLocked(g guid.GUID) {
	for _, w := range e.localWriters {
		w.matcher.UnmatchReader(g)
	}
}

func topicMatch(topicA, typeA, topicB, typeB string) bool {
	return topicA == topicB && typeA == typeB
}
