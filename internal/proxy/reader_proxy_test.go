package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/wire"
)

func Test_ReaderProxySendTickLifecycle(t *testing.T) {
	p := NewReaderProxy(guid.GUID{}, true)
	c := &cache.CacheChange{SequenceNumber: 1}
	p.AddChange(c)

	unsent := p.Unsent()
	require.Len(t, unsent, 1)
	assert.Equal(t, Unsent, unsent[0].Status)

	p.MarkUnderway(1)
	e, _ := p.Entry(1)
	assert.Equal(t, Underway, e.Status)

	p.AfterSend(1)
	e, _ = p.Entry(1)
	assert.Equal(t, Unacknowledged, e.Status)
}

func Test_ReaderProxyBestEffortDropsAfterSend(t *testing.T) {
	p := NewReaderProxy(guid.GUID{}, false)
	p.AddChange(&cache.CacheChange{SequenceNumber: 1})
	p.AfterSend(1)

	_, ok := p.Entry(1)
	assert.False(t, ok)
}

func Test_ReaderProxyApplyAckNackAcknowledgesBelowBase(t *testing.T) {
	p := NewReaderProxy(guid.GUID{}, true)
	for _, seq := range []wire.SequenceNumber{1, 2, 3} {
		p.AddChange(&cache.CacheChange{SequenceNumber: seq})
		p.AfterSend(seq)
	}

	res := p.ApplyAckNack(3, nil, 1)
	assert.True(t, res.Accepted)

	e1, _ := p.Entry(1)
	e2, _ := p.Entry(2)
	e3, _ := p.Entry(3)
	assert.Equal(t, Acknowledged, e1.Status)
	assert.Equal(t, Acknowledged, e2.Status)
	assert.Equal(t, Unacknowledged, e3.Status, "seq 3 is not below base 3, left untouched")
}

func Test_ReaderProxyApplyAckNackRequestsCachedAndGapsEvicted(t *testing.T) {
	p := NewReaderProxy(guid.GUID{}, true)
	p.AddChange(&cache.CacheChange{SequenceNumber: 5})
	p.AfterSend(5)

	res := p.ApplyAckNack(6, []wire.SequenceNumber{5, 6}, 1)
	assert.True(t, res.Accepted)
	assert.Equal(t, []wire.SequenceNumber{6}, res.RequestGaps, "seq 6 was never tracked: evicted/unknown, must GAP")

	e, _ := p.Entry(5)
	assert.Equal(t, Requested, e.Status)
}

func Test_ReaderProxyApplyAckNackIgnoresStaleCount(t *testing.T) {
	p := NewReaderProxy(guid.GUID{}, true)
	p.AddChange(&cache.CacheChange{SequenceNumber: 1})
	p.AfterSend(1)

	first := p.ApplyAckNack(2, nil, 5)
	require.True(t, first.Accepted)

	p.AddChange(&cache.CacheChange{SequenceNumber: 2})
	p.AfterSend(2)

	stale := p.ApplyAckNack(3, nil, 5)
	assert.False(t, stale.Accepted)

	e, _ := p.Entry(2)
	assert.Equal(t, Unacknowledged, e.Status, "stale duplicate ACKNACK must not mutate state")
}

func Test_ReaderProxyInvalidateOnEviction(t *testing.T) {
	p := NewReaderProxy(guid.GUID{}, true)
	c := &cache.CacheChange{SequenceNumber: 1}
	p.AddChange(c)
	p.AfterSend(1)

	p.Invalidate(1)

	e, _ := p.Entry(1)
	assert.False(t, e.IsValid())
	assert.Equal(t, Acknowledged, e.Status)
}

func Test_ReaderProxyAllAcknowledged(t *testing.T) {
	p := NewReaderProxy(guid.GUID{}, true)
	p.AddChange(&cache.CacheChange{SequenceNumber: 1})
	assert.False(t, p.AllAcknowledged())

	p.AfterSend(1)
	p.ApplyAckNack(2, nil, 1)
	assert.True(t, p.AllAcknowledged())
}
