package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
)

func Test_RunWriterTicksTransmitsWithoutManualSendTick(t *testing.T) {
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	writer := NewStatefulWriter(writerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, sender, nil)
	writer.MatchReader(MatchedReader{GUID: readerGUID, Locators: locators, Reliable: true})
	require.NoError(t, writer.Write(&cache.CacheChange{SequenceNumber: 1, Payload: []byte("a")}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := RunWriterTicks(ctx, func() []*StatefulWriter { return []*StatefulWriter{writer} }, 5*time.Millisecond, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, sender.count(), 1, "SendTick must run on its own and transmit the pending change with no manual call")
}

func Test_RunReaderTicksSendsAckNackWithoutManualCall(t *testing.T) {
	readerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x07}}
	writerGUID := guid.GUID{Entity: guid.EntityId{0, 0, 1, 0x02}}
	locators := []transport.Locator{{Kind: transport.LocatorUDPv4, Port: 1}}

	sender := &recordingSender{}
	reader := NewStatefulReader(readerGUID, cache.NewHistoryCache(cache.Config{Kind: cache.KeepAll}), qos.EndpointQoS{}, sender, nil, nil)
	reader.MatchWriter(MatchedWriter{GUID: writerGUID, Locators: locators})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := RunReaderTicks(ctx, func() []*StatefulReader { return []*StatefulReader{reader} }, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, sender.count(), 1, "AckNackTick must run on its own and send an ACKNACK with no manual call")
}
