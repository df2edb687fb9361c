package endpoint

import (
	"go.uber.org/zap"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/wire"
)

// Listener is invoked once per newly accepted sample.
type Listener func(*cache.CacheChange)

// StatelessReader consumes DATA with no per-writer proxy: it keeps only
// the highest SequenceNumber seen from each writer and drops any DATA at
// or below it, so delivery stays "max-seq monotonic" for BEST_EFFORT.
type StatelessReader struct {
	common
	listener Listener
	maxSeen  map[guid.GUID]wire.SequenceNumber
}

// NewStatelessReader creates a reader with no matched-writer state.
func NewStatelessReader(g guid.GUID, history *cache.HistoryCache, q qos.EndpointQoS, listener Listener, log *zap.SugaredLogger) *StatelessReader {
	return &StatelessReader{
		common:   newCommon(g, history, q, log),
		listener: listener,
		maxSeen:  make(map[guid.GUID]wire.SequenceNumber),
	}
}

// HandleSubmessage accepts DATA whose SequenceNumber is greater than the
// highest seen from that writer so far, dropping stale re-deliveries: a
// later arrival at or below the high-water mark is dropped.
func (r *StatelessReader) HandleSubmessage(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {
	if sub.Header.Id != wire.SubmessageData {
		return
	}
	d, err := wire.DecodeData(sub.Body, sub.Header.Flags)
	if err != nil {
		return
	}
	writer := guid.GUID{Prefix: sourcePrefix, Entity: d.WriterId}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d.WriterSeqNum <= r.maxSeen[writer] {
		return
	}
	r.maxSeen[writer] = d.WriterSeqNum

	change := &cache.CacheChange{
		Kind:           cache.Alive,
		WriterGUID:     writer,
		SequenceNumber: d.WriterSeqNum,
		Payload:        d.SerializedPayload,
	}
	if _, err := r.history.Add(change); err != nil {
		r.log.Debugw("stateless reader history full, dropping sample", "error", err)
		return
	}
	if r.listener != nil {
		r.listener(change)
	}
}
