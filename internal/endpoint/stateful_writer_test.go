package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/proxy"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
	"github.com/rtpsgo/rtps/internal/wire"
)

func Test_StatefulWriterMatchReaderSeedsExistingHistory(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}

	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, &recordingSender{}, nil)
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: []byte("a")}))
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 2, Payload: []byte("b")}))

	writer.MatchReader(MatchedReader{GUID: readerGUID, Reliable: true})

	rp := writer.readers[readerGUID]
	unsent := rp.Unsent()
	require.Len(t, unsent, 2)
	assert.Equal(t, wire.SequenceNumber(1), unsent[0].SeqNum)
	assert.Equal(t, wire.SequenceNumber(2), unsent[1].SeqNum)
}

func Test_StatefulWriterSendTickMarksUnacknowledgedForReliableReader(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, sender, nil)
	writer.MatchReader(MatchedReader{GUID: readerGUID, Locators: locators, Reliable: true})
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: []byte("a")}))

	writer.SendTick()

	assert.Equal(t, 1, sender.count())
	rp := writer.readers[readerGUID]
	entry, ok := rp.Entry(1)
	require.True(t, ok)
	assert.Equal(t, proxy.Unacknowledged, entry.Status)
	assert.Empty(t, rp.Unsent(), "sent entry must no longer appear as a send-tick candidate")
}

func Test_StatefulWriterSendTickDropsEntryForUnreliableReader(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, sender, nil)
	writer.MatchReader(MatchedReader{GUID: readerGUID, Locators: locators, Reliable: false})
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: []byte("a")}))

	writer.SendTick()

	assert.Equal(t, 1, sender.count())
	rp := writer.readers[readerGUID]
	_, ok := rp.Entry(1)
	assert.False(t, ok, "a best-effort reader proxy must drop its entry once sent, not track it for acknowledgement")
}

func Test_StatefulWriterHeartbeatTickSendsFinalOnceFullyAcknowledged(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, sender, nil)
	writer.MatchReader(MatchedReader{GUID: readerGUID, Locators: locators, Reliable: true})
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: []byte("a")}))
	writer.SendTick()

	writer.HeartbeatTick()
	require.Equal(t, 2, sender.count())
	hb, err := wire.DecodeHeartbeat(decodeOnlySubmessageBody(t, sender.last()), decodeOnlySubmessageFlags(t, sender.last()))
	require.NoError(t, err)
	assert.False(t, hb.Final, "a still-unacknowledged change must not carry the final flag")

	rp := writer.readers[readerGUID]
	an := wire.AckNack{ReaderId: readerGUID.Entity, WriterId: writerGUID.Entity, ReaderSNState: wire.NewSequenceNumberSet(2), Count: 1}
	res := rp.ApplyAckNack(an.ReaderSNState.Base, an.ReaderSNState.AsSlice(), an.Count)
	require.True(t, res.Accepted)
	assert.True(t, rp.AllAcknowledged())

	writer.HeartbeatTick()
	require.Equal(t, 3, sender.count())
	hb2, err := wire.DecodeHeartbeat(decodeOnlySubmessageBody(t, sender.last()), decodeOnlySubmessageFlags(t, sender.last()))
	require.NoError(t, err)
	assert.True(t, hb2.Final, "once every tracked change is acknowledged the heartbeat must carry the final flag")
}

func Test_StatefulWriterKeepLastEvictionInvalidatesReaderProxyEntry(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepLast, Depth: 1}), qos.EndpointQoS{}, sender, nil)
	writer.MatchReader(MatchedReader{GUID: readerGUID, Locators: locators, Reliable: true})

	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: []byte("a")}))
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 2, Payload: []byte("b")}))

	rp := writer.readers[readerGUID]
	entry, ok := rp.Entry(1)
	require.True(t, ok)
	assert.False(t, entry.IsValid(), "entry for a seq KEEP_LAST evicted before it was sent must be invalidated")
	assert.NotContains(t, rp.Unsent(), entry, "an invalidated entry must not be a send-tick candidate")
}

func Test_StatefulWriterGCWaitsForEveryMatchedReader(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	fastReader := guid.GUID{Prefix: guid.GuidPrefix{1}, Entity: guid.EntityId{0, 0, 1, 0x07}}
	slowReader := guid.GUID{Prefix: guid.GuidPrefix{2}, Entity: guid.EntityId{0, 0, 1, 0x07}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, sender, nil)
	writer.MatchReader(MatchedReader{GUID: fastReader, Locators: locators, Reliable: true})
	writer.MatchReader(MatchedReader{GUID: slowReader, Locators: locators, Reliable: true})
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: []byte("a")}))
	writer.SendTick()

	writer.handleAckNack(fastReader, wire.AckNack{ReaderId: fastReader.Entity, WriterId: writerGUID.Entity, ReaderSNState: wire.NewSequenceNumberSet(2), Count: 1})

	assert.Equal(t, 1, writer.History().Len(), "change must stay cached while any matched reader has not yet acknowledged it")

	writer.handleAckNack(slowReader, wire.AckNack{ReaderId: slowReader.Entity, WriterId: writerGUID.Entity, ReaderSNState: wire.NewSequenceNumberSet(2), Count: 1})

	assert.Equal(t, 0, writer.History().Len(), "change must be GC'd once every matched reader has acknowledged it")
}

func Test_StatefulWriterFragmentsOversizeChangeAndReaderReassembles(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, sender, nil)
	writer.SetMTU(8)
	writer.MatchReader(MatchedReader{GUID: readerGUID, Locators: locators, Reliable: true})

	payload := []byte("this payload is much larger than the configured MTU")
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: payload}))
	writer.SendTick()

	wantFrags := (len(payload) + 7) / 8
	assert.Equal(t, wantFrags, sender.count(), "an oversize change must be split into one DATAFRAG per MTU-sized fragment")

	var delivered *cache.CacheChange
	reader := NewStatefulReader(readerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, &recordingSender{}, func(c *cache.CacheChange) {
		delivered = c
	}, nil)
	reader.MatchWriter(MatchedWriter{GUID: writerGUID, Locators: locators})

	for _, datagram := range sender.all() {
		deliver(reader, datagram)
	}

	require.NotNil(t, delivered, "reassembly must complete once every fragment has been delivered")
	assert.Equal(t, payload, delivered.Payload)
}

func decodeOnlySubmessageBody(t *testing.T, datagram []byte) []byte {
	t.Helper()
	hdr, body, err := wire.DecodeHeader(datagram)
	require.NoError(t, err)
	subs, err := wire.Submessages(hdr.GuidPrefix, body)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	return subs[0].Body
}

func decodeOnlySubmessageFlags(t *testing.T, datagram []byte) byte {
	t.Helper()
	hdr, body, err := wire.DecodeHeader(datagram)
	require.NoError(t, err)
	subs, err := wire.Submessages(hdr.GuidPrefix, body)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	return subs[0].Header.Flags
}
