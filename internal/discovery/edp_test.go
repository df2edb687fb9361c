package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/endpoint"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
	"github.com/rtpsgo/rtps/internal/wire"
)

type recordingWriterMatcher struct {
	mu       sync.Mutex
	matched  []guid.GUID
	unmatched []guid.GUID
}

func (m *recordingWriterMatcher) MatchReader(r endpoint.MatchedReader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched = append(m.matched, r.GUID)
}

func (m *recordingWriterMatcher) UnmatchReader(g guid.GUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmatched = append(m.unmatched, g)
}

type recordingReaderMatcher struct {
	mu        sync.Mutex
	matched   []guid.GUID
	unmatched []guid.GUID
}

func (m *recordingReaderMatcher) MatchWriter(w endpoint.MatchedWriter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched = append(m.matched, w.GUID)
}

func (m *recordingReaderMatcher) UnmatchWriter(g guid.GUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmatched = append(m.unmatched, g)
}

func Test_ValidateStaticUserIdRejectsNonPositiveId(t *testing.T) {
	assert.NoError(t, ValidateStaticUserId(false, 0))
	assert.NoError(t, ValidateStaticUserId(true, 1))
	assert.ErrorIs(t, ValidateStaticUserId(true, 0), ErrInvalidUserDefinedId)
	assert.ErrorIs(t, ValidateStaticUserId(true, -3), ErrInvalidUserDefinedId)
}

func Test_EDPRegisterLocalReaderMatchesAlreadyKnownRemoteWriter(t *testing.T) {
	e := NewEDP(guid.GuidPrefix{1}, &recordingSender{}, nil)

	remoteWriterGUID := guid.GUID{Prefix: guid.GuidPrefix{9}, Entity: guid.EntityId{0, 0, 1, 2}}
	e.remoteWriters[remoteWriterGUID] = WriterProxyData{
		GUID: remoteWriterGUID, TopicName: "temperature", TypeName: "Celsius",
		QoS: qos.EndpointQoS{Reliability: qos.Reliable},
	}

	matcher := &recordingReaderMatcher{}
	localReaderGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 7}}
	require.NoError(t, e.RegisterLocalReader(localReaderGUID, "temperature", "Celsius", qos.EndpointQoS{Reliability: qos.Reliable}, nil, matcher))

	assert.Equal(t, []guid.GUID{remoteWriterGUID}, matcher.matched)
}

func Test_EDPRegisterLocalWriterMatchesAlreadyKnownRemoteReader(t *testing.T) {
	e := NewEDP(guid.GuidPrefix{1}, &recordingSender{}, nil)

	remoteReaderGUID := guid.GUID{Prefix: guid.GuidPrefix{9}, Entity: guid.EntityId{0, 0, 1, 7}}
	e.remoteReaders[remoteReaderGUID] = ReaderProxyData{
		GUID: remoteReaderGUID, TopicName: "temperature", TypeName: "Celsius",
	}

	matcher := &recordingWriterMatcher{}
	localWriterGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 2}}
	require.NoError(t, e.RegisterLocalWriter(localWriterGUID, "temperature", "Celsius", qos.EndpointQoS{Reliability: qos.Reliable}, nil, matcher))

	assert.Equal(t, []guid.GUID{remoteReaderGUID}, matcher.matched)
}

func Test_EDPRemoteWriterArrivalMatchesExistingCompatibleLocalReader(t *testing.T) {
	e := NewEDP(guid.GuidPrefix{1}, &recordingSender{}, nil)

	matcher := &recordingReaderMatcher{}
	localReaderGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 7}}
	require.NoError(t, e.RegisterLocalReader(localReaderGUID, "temperature", "Celsius", qos.EndpointQoS{}, nil, matcher))

	remoteWriterGUID := guid.GUID{Prefix: guid.GuidPrefix{9}, Entity: guid.EntityId{0, 0, 1, 2}}
	e.handleRemoteWriter(&cache.CacheChange{
		Kind: cache.Alive, SequenceNumber: wire.SequenceNumber(1),
		Payload: encodeGob(WriterProxyData{GUID: remoteWriterGUID, TopicName: "temperature", TypeName: "Celsius"}),
	})

	assert.Equal(t, []guid.GUID{remoteWriterGUID}, matcher.matched)
}

func Test_EDPRemoteWriterArrivalSkipsIncompatibleTopic(t *testing.T) {
	e := NewEDP(guid.GuidPrefix{1}, &recordingSender{}, nil)

	matcher := &recordingReaderMatcher{}
	localReaderGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 7}}
	require.NoError(t, e.RegisterLocalReader(localReaderGUID, "temperature", "Celsius", qos.EndpointQoS{}, nil, matcher))

	remoteWriterGUID := guid.GUID{Prefix: guid.GuidPrefix{9}, Entity: guid.EntityId{0, 0, 1, 2}}
	e.handleRemoteWriter(&cache.CacheChange{
		Kind: cache.Alive, SequenceNumber: wire.SequenceNumber(1),
		Payload: encodeGob(WriterProxyData{GUID: remoteWriterGUID, TopicName: "pressure", TypeName: "Pascal"}),
	})

	assert.Empty(t, matcher.matched, "a writer on a different topic must not be matched")
}

func Test_EDPRemoteWriterDisposalUnmatchesEveryLocalReader(t *testing.T) {
	e := NewEDP(guid.GuidPrefix{1}, &recordingSender{}, nil)

	matcher := &recordingReaderMatcher{}
	localReaderGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 7}}
	require.NoError(t, e.RegisterLocalReader(localReaderGUID, "temperature", "Celsius", qos.EndpointQoS{}, nil, matcher))

	remoteWriterGUID := guid.GUID{Prefix: guid.GuidPrefix{9}, Entity: guid.EntityId{0, 0, 1, 2}}
	e.handleRemoteWriter(&cache.CacheChange{
		Kind: cache.Alive, SequenceNumber: wire.SequenceNumber(1),
		Payload: encodeGob(WriterProxyData{GUID: remoteWriterGUID, TopicName: "temperature", TypeName: "Celsius"}),
	})
	require.Len(t, matcher.matched, 1)

	e.handleRemoteWriter(&cache.CacheChange{
		Kind: cache.NotAliveDisposed, SequenceNumber: wire.SequenceNumber(2),
		Payload: encodeGob(WriterProxyData{GUID: remoteWriterGUID}),
	})

	assert.Equal(t, []guid.GUID{remoteWriterGUID}, matcher.unmatched)
	_, stillKnown := e.remoteWriters[remoteWriterGUID]
	assert.False(t, stillKnown)
}

func Test_EDPUnmatchBuiltinEndpointsDropsEveryProxyFromThatParticipant(t *testing.T) {
	e := NewEDP(guid.GuidPrefix{1}, &recordingSender{}, nil)

	gonePrefix := guid.GuidPrefix{9}
	matcher := &recordingReaderMatcher{}
	localReaderGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 7}}
	require.NoError(t, e.RegisterLocalReader(localReaderGUID, "temperature", "Celsius", qos.EndpointQoS{}, nil, matcher))

	remoteWriterGUID := guid.GUID{Prefix: gonePrefix, Entity: guid.EntityId{0, 0, 1, 2}}
	e.handleRemoteWriter(&cache.CacheChange{
		Kind: cache.Alive, SequenceNumber: wire.SequenceNumber(1),
		Payload: encodeGob(WriterProxyData{GUID: remoteWriterGUID, TopicName: "temperature", TypeName: "Celsius"}),
	})

	e.UnmatchBuiltinEndpoints(gonePrefix)

	assert.Contains(t, matcher.unmatched, remoteWriterGUID)
	_, stillKnown := e.remoteWriters[remoteWriterGUID]
	assert.False(t, stillKnown)
}

func Test_EDPRunTransmitsPendingPublicationAnnouncementWithoutManualTick(t *testing.T) {
	sender := &recordingSender{}
	e := NewEDP(guid.GuidPrefix{1}, sender, nil, WithEDPSendPeriod(5*time.Millisecond), WithEDPHeartbeatPeriod(time.Hour), WithEDPNackResponseDelay(time.Hour))

	remote := guid.GUID{Prefix: guid.GuidPrefix{9}, Entity: guid.EntityIdSEDPPubReader}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}
	e.PubWriter().MatchReader(endpoint.MatchedReader{GUID: remote, Locators: locators, Reliable: true})
	require.NoError(t, e.RegisterLocalWriter(guid.GUID{Entity: guid.EntityId{0, 0, 1, 2}}, "t", "T", qos.EndpointQoS{}, nil, &recordingWriterMatcher{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, sender.count(), 1, "Run must drive the publications writer's event thread on its own")
}
