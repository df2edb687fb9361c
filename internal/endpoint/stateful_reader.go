package endpoint

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/proxy"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
	"github.com/rtpsgo/rtps/internal/wire"
)

// MatchedWriter is the locator of one matched remote writer.
type MatchedWriter struct {
	GUID     guid.GUID
	Locators []transport.Locator
}

// StatefulReader maintains a WriterProxy per matched remote writer,
// tracking missing changes and driving ACKNACK.
type StatefulReader struct {
	common
	sender     DatagramSender
	listener   Listener
	writers    map[guid.GUID]*proxy.WriterProxy
	locators   map[guid.GUID][]transport.Locator
	reassembly map[fragKey]*fragReassembly
}

// fragKey identifies one in-progress DATAFRAG reassembly.
type fragKey struct {
	writer guid.GUID
	seq    wire.SequenceNumber
}

// fragReassembly accumulates fragments for one sample until buf is full.
type fragReassembly struct {
	buf      []byte
	received int
}

// NewStatefulReader creates a reader with no matched writers yet.
func NewStatefulReader(g guid.GUID, history *cache.HistoryCache, q qos.EndpointQoS, sender DatagramSender, listener Listener, log *zap.SugaredLogger) *StatefulReader {
	return &StatefulReader{
		common:     newCommon(g, history, q, log),
		sender:     sender,
		listener:   listener,
		writers:    make(map[guid.GUID]*proxy.WriterProxy),
		locators:   make(map[guid.GUID][]transport.Locator),
		reassembly: make(map[fragKey]*fragReassembly),
	}
}

// MatchWriter registers a newly matched remote writer.
func (r *StatefulReader) MatchWriter(w MatchedWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[w.GUID] = proxy.NewWriterProxy(w.GUID)
	r.locators[w.GUID] = w.Locators
}

// IsMatched reports whether remote is currently a tracked writer.
func (r *StatefulReader) IsMatched(remote guid.GUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.writers[remote]
	return ok
}

// UnmatchWriter removes a matched remote writer and drops any partial
// reassembly in flight for it.
func (r *StatefulReader) UnmatchWriter(remote guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, remote)
	delete(r.locators, remote)
	for key := range r.reassembly {
		if key.writer == remote {
			delete(r.reassembly, key)
		}
	}
}

// HandleSubmessage processes DATA/DATAFRAG/HEARTBEAT/GAP from a matched writer.
func (r *StatefulReader) HandleSubmessage(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {
	switch sub.Header.Id {
	case wire.SubmessageData:
		r.handleData(sourcePrefix, sub)
	case wire.SubmessageDataFrag:
		r.handleDataFrag(sourcePrefix, sub)
	case wire.SubmessageHeartbeat:
		r.handleHeartbeat(sourcePrefix, sub)
	case wire.SubmessageGap:
		r.handleGap(sourcePrefix, sub)
	}
}

func (r *StatefulReader) handleData(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {
	d, err := wire.DecodeData(sub.Body, sub.Header.Flags)
	if err != nil {
		return
	}
	writer := guid.GUID{Prefix: sourcePrefix, Entity: d.WriterId}

	r.mu.Lock()
	defer r.mu.Unlock()

	wp, ok := r.writers[writer]
	if !ok {
		return
	}
	res := wp.ReceiveData(d.WriterSeqNum)
	if !res.Accept {
		return
	}

	change := &cache.CacheChange{
		Kind:           cache.Alive,
		WriterGUID:     writer,
		SequenceNumber: d.WriterSeqNum,
		Payload:        d.SerializedPayload,
	}
	if _, err := r.history.Add(change); err != nil {
		r.log.Debugw("stateful reader history full, dropping sample", "error", err)
		return
	}
	if r.listener != nil {
		r.listener(change)
	}
}

// handleDataFrag accumulates one DATAFRAG into its sample's reassembly
// buffer and, once every fragment has arrived, delivers it the same way
// handleData delivers an unfragmented sample.
func (r *StatefulReader) handleDataFrag(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {
	df, err := wire.DecodeDataFrag(sub.Body, sub.Header.Flags)
	if err != nil {
		return
	}
	writer := guid.GUID{Prefix: sourcePrefix, Entity: df.WriterId}

	r.mu.Lock()
	defer r.mu.Unlock()

	wp, ok := r.writers[writer]
	if !ok {
		return
	}

	key := fragKey{writer: writer, seq: df.WriterSeqNum}
	asm, ok := r.reassembly[key]
	if !ok {
		asm = &fragReassembly{buf: make([]byte, df.SampleSize)}
		r.reassembly[key] = asm
	}
	fragSize := int(df.FragmentSize)
	start := (int(df.FragmentStartingNum) - 1) * fragSize
	if start < 0 || start+len(df.SerializedPayload) > len(asm.buf) {
		delete(r.reassembly, key)
		return
	}
	asm.received += copy(asm.buf[start:], df.SerializedPayload)
	if asm.received < len(asm.buf) {
		return
	}
	delete(r.reassembly, key)

	res := wp.ReceiveData(df.WriterSeqNum)
	if !res.Accept {
		return
	}

	change := &cache.CacheChange{
		Kind:           cache.Alive,
		WriterGUID:     writer,
		SequenceNumber: df.WriterSeqNum,
		Payload:        asm.buf,
	}
	if _, err := r.history.Add(change); err != nil {
		r.log.Debugw("stateful reader history full, dropping reassembled sample", "error", err)
		return
	}
	if r.listener != nil {
		r.listener(change)
	}
}

func (r *StatefulReader) handleHeartbeat(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {
	hb, err := wire.DecodeHeartbeat(sub.Body, sub.Header.Flags)
	if err != nil {
		return
	}
	writer := guid.GUID{Prefix: sourcePrefix, Entity: hb.WriterId}

	r.mu.Lock()
	wp, ok := r.writers[writer]
	r.mu.Unlock()
	if !ok {
		return
	}

	res := wp.ReceiveHeartbeat(hb.First, hb.Last, hb.Count)
	if !res.Accepted || hb.Final {
		return
	}
	// No timer is armed here: the updated missing set is answered by the
	// next AckNackTick, which RunReaderTicks calls on a fixed period.
}

func (r *StatefulReader) handleGap(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {
	g, err := wire.DecodeGap(sub.Body, sub.Header.Flags)
	if err != nil {
		return
	}
	writer := guid.GUID{Prefix: sourcePrefix, Entity: g.WriterId}

	r.mu.Lock()
	wp, ok := r.writers[writer]
	r.mu.Unlock()
	if !ok {
		return
	}

	seqs := []wire.SequenceNumber{g.GapStart}
	seqs = append(seqs, g.GapList.AsSlice()...)
	wp.ReceiveGap(seqs)
}

// AckNackTick sends ACKNACK to every matched writer, whether or not any
// change from it is missing: the base is the lowest missing sequence
// number (or one past the last available one) and each missing offset is
// set in the bitmap. RunReaderTicks calls it on a fixed period.
func (r *StatefulReader) AckNackTick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for remote, wp := range r.writers {
		missing := wp.MissingChanges()
		base := wp.FirstMissingOr(wp.LastAvailableSeq + 1)
		set := wire.NewSequenceNumberSet(base)
		for _, seq := range missing {
			if seq < base || uint32(seq-base) >= wire.SequenceNumberSetWidth {
				continue
			}
			set.Insert(uint32(seq - base))
		}
		wp.AckNackCountSent++

		an := wire.AckNack{
			ReaderId:      r.guid.Entity,
			WriterId:      remote.Entity,
			ReaderSNState: set,
			Count:         wp.AckNackCountSent,
		}
		r.sendAckNackLocked(remote, an)
	}
}

func (r *StatefulReader) sendAckNackLocked(remote guid.GUID, an wire.AckNack) {
	hdr := wire.Header{Version: wire.ProtocolVersion, GuidPrefix: r.guid.Prefix}
	datagram := hdr.Encode(nil)
	body := an.Encode(nil, binary.BigEndian)
	datagram = append(datagram, wire.SubmessageHeader{Id: wire.SubmessageAckNack, OctetsToNextHeader: uint16(len(body))}.Encode(nil)...)
	datagram = append(datagram, body...)

	for _, locator := range r.locators[remote] {
		if err := r.sender.Send(locator, datagram); err != nil {
			r.log.Warnw("stateful reader acknack send failed", "writer", remote.String(), "locator", locator.String(), "error", err)
		}
	}
}
