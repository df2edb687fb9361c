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

// MatchedReader is the locator and reliability kind of one matched remote
// reader, as learned from EDP/SEDP or static configuration.
type MatchedReader struct {
	GUID     guid.GUID
	Locators []transport.Locator
	Reliable bool
}

// DefaultMTU is the fragmentation threshold used when a writer is not
// given an explicit override: a change whose payload exceeds this many
// bytes is split across DATAFRAG submessages instead of carried in one
// DATA.
const DefaultMTU = 1456

// StatefulWriter drives the per-reader reliability state machine: per
// matched remote reader it keeps an ordered set of ChangeForReader
// entries and exchanges HEARTBEAT/ACKNACK/GAP to converge on delivery.
type StatefulWriter struct {
	common
	sender   DatagramSender
	readers  map[guid.GUID]*proxy.ReaderProxy
	locators map[guid.GUID][]transport.Locator
	mtu      int
}

// NewStatefulWriter creates a writer with no matched readers yet.
func NewStatefulWriter(g guid.GUID, history *cache.HistoryCache, q qos.EndpointQoS, sender DatagramSender, log *zap.SugaredLogger) *StatefulWriter {
	return &StatefulWriter{
		common:   newCommon(g, history, q, log),
		sender:   sender,
		readers:  make(map[guid.GUID]*proxy.ReaderProxy),
		locators: make(map[guid.GUID][]transport.Locator),
		mtu:      DefaultMTU,
	}
}

// SetMTU overrides the fragmentation threshold. A non-positive value is
// ignored.
func (w *StatefulWriter) SetMTU(mtu int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if mtu > 0 {
		w.mtu = mtu
	}
}

// MatchReader registers a newly matched remote reader. Every change
// currently in the writer's history is seeded as UNSENT for it.
func (w *StatefulWriter) MatchReader(r MatchedReader) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rp := proxy.NewReaderProxy(r.GUID, r.Reliable)
	w.readers[r.GUID] = rp
	w.locators[r.GUID] = r.Locators

	for _, seq := range rangeSeqs(w.history) {
		if c, ok := w.history.Find(seq); ok {
			rp.AddChange(c)
		}
	}
}

// ReaderProxy returns the proxy tracked for a matched remote reader, for
// callers that need to inspect per-reader delivery state directly.
func (w *StatefulWriter) ReaderProxy(remote guid.GUID) (*proxy.ReaderProxy, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rp, ok := w.readers[remote]
	return rp, ok
}

// UnmatchReader removes a matched reader (e.g. on lease expiry or
// explicit unmatch).
func (w *StatefulWriter) UnmatchReader(remote guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.readers, remote)
	delete(w.locators, remote)
}

func rangeSeqs(h *cache.HistoryCache) []wire.SequenceNumber {
	lo, ok := h.MinSeq()
	if !ok {
		return nil
	}
	hi, _ := h.MaxSeq()
	var out []wire.SequenceNumber
	for _, c := range h.IterRange(lo, hi) {
		out = append(out, c.SequenceNumber)
	}
	return out
}

// Write adds a new local change, seeds it as UNSENT on every matched
// reader, and invalidates any ReaderProxy entry for a change KEEP_LAST
// just evicted to make room for it, the same way gcLocked invalidates the
// ack-driven path: a proxy entry must never outlive the CacheChange it
// points at.
func (w *StatefulWriter) Write(change *cache.CacheChange) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	evicted, err := w.history.Add(change)
	if err != nil {
		return err
	}
	for _, seq := range evicted {
		for _, rp := range w.readers {
			rp.Invalidate(seq)
		}
	}
	for _, rp := range w.readers {
		rp.AddChange(change)
	}
	return nil
}

// SendTick transmits every UNSENT/REQUESTED change to each matched reader
// and advances its proxy state.
func (w *StatefulWriter) SendTick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for remote, rp := range w.readers {
		for _, entry := range rp.Unsent() {
			if !entry.IsValid() {
				w.sendGapLocked(remote, rp, entry.SeqNum)
				continue
			}
			rp.MarkUnderway(entry.SeqNum)
			for _, datagram := range w.frameChangeLocked(remote.Entity, entry.Change) {
				w.sendToLocked(remote, datagram)
			}
			rp.AfterSend(entry.SeqNum)
		}
	}
}

// HeartbeatTick sends HEARTBEAT to every reader with unacknowledged
// changes, bumping its monotonic per-reader count. A final-flag HEARTBEAT
// (no response required) is sent once every tracked change is
// ACKNOWLEDGED.
func (w *StatefulWriter) HeartbeatTick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for remote, rp := range w.readers {
		lo, hi, hasUnacked := rp.UnacknowledgedRange()
		final := rp.AllAcknowledged()
		if !hasUnacked && !final {
			continue
		}
		rp.HeartbeatCount++
		hb := wire.Heartbeat{
			ReaderId: remote.Entity,
			WriterId: w.guid.Entity,
			First:    lo,
			Last:     hi,
			Count:    rp.HeartbeatCount,
			Final:    final,
		}
		w.sendHeartbeatLocked(remote, hb)
	}
}

// HandleSubmessage processes ACKNACK/NACKFRAG addressed to this writer.
func (w *StatefulWriter) HandleSubmessage(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {
	switch sub.Header.Id {
	case wire.SubmessageAckNack:
		an, err := wire.DecodeAckNack(sub.Body, sub.Header.Flags)
		if err != nil {
			return
		}
		remote := guid.GUID{Prefix: sourcePrefix, Entity: an.ReaderId}
		w.handleAckNack(remote, an)
	case wire.SubmessageNackFrag:
		// Fragmented retransmission requests are treated like an
		// ACKNACK naming the single fragmented sample: this re-arms
		// the whole sample for retransmission; per-fragment slicing
		// happens again at send time.
		nf, err := wire.DecodeNackFrag(sub.Body, sub.Header.Flags)
		if err != nil {
			return
		}
		remote := guid.GUID{Prefix: sourcePrefix, Entity: nf.ReaderId}
		set := wire.NewSequenceNumberSet(nf.WriterSeqNum)
		set.Insert(0)
		w.handleAckNack(remote, wire.AckNack{
			ReaderId:      nf.ReaderId,
			WriterId:      nf.WriterId,
			ReaderSNState: set,
			Count:         nf.Count,
		})
	}
}

func (w *StatefulWriter) handleAckNack(remote guid.GUID, an wire.AckNack) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rp, ok := w.readers[remote]
	if !ok {
		return
	}
	requested := an.ReaderSNState.AsSlice()
	res := rp.ApplyAckNack(an.ReaderSNState.Base, requested, an.Count)
	if !res.Accepted {
		return
	}
	for _, seq := range res.RequestGaps {
		w.sendGapLocked(remote, rp, seq)
		rp.MarkAcknowledgedFromGap(seq)
	}
	w.gcLocked()
}

// sendGapLocked answers a request for a no-longer-cached change with GAP.
func (w *StatefulWriter) sendGapLocked(remote guid.GUID, rp *proxy.ReaderProxy, seq wire.SequenceNumber) {
	hdr := wire.Header{Version: wire.ProtocolVersion, GuidPrefix: w.guid.Prefix}
	datagram := hdr.Encode(nil)
	gapList := wire.NewSequenceNumberSet(seq)
	gapList.Insert(0)
	g := wire.Gap{ReaderId: remote.Entity, WriterId: w.guid.Entity, GapStart: seq, GapList: gapList}
	body := g.Encode(nil, binary.BigEndian)
	datagram = append(datagram, wire.SubmessageHeader{Id: wire.SubmessageGap, OctetsToNextHeader: uint16(len(body))}.Encode(nil)...)
	datagram = append(datagram, body...)
	w.sendToLocked(remote, datagram)
}

func (w *StatefulWriter) sendHeartbeatLocked(remote guid.GUID, hb wire.Heartbeat) {
	hdr := wire.Header{Version: wire.ProtocolVersion, GuidPrefix: w.guid.Prefix}
	datagram := hdr.Encode(nil)
	flags := byte(0)
	if hb.Final {
		flags |= 1 << 1
	}
	body := hb.Encode(nil, binary.BigEndian)
	datagram = append(datagram, wire.SubmessageHeader{Id: wire.SubmessageHeartbeat, Flags: flags, OctetsToNextHeader: uint16(len(body))}.Encode(nil)...)
	datagram = append(datagram, body...)
	w.sendToLocked(remote, datagram)
}

// frameChangeLocked frames change into one DATA datagram, or, if its
// payload exceeds the configured MTU, a DATAFRAG datagram per fragment.
func (w *StatefulWriter) frameChangeLocked(readerID guid.EntityId, change *cache.CacheChange) [][]byte {
	if len(change.Payload) <= w.mtu {
		return [][]byte{w.frameDataLocked(readerID, change)}
	}
	return w.frameDataFragLocked(readerID, change)
}

func (w *StatefulWriter) frameDataLocked(readerID guid.EntityId, change *cache.CacheChange) []byte {
	hdr := wire.Header{Version: wire.ProtocolVersion, GuidPrefix: w.guid.Prefix}
	datagram := hdr.Encode(nil)
	d := wire.Data{
		ReaderId:          readerID,
		WriterId:          w.guid.Entity,
		WriterSeqNum:      change.SequenceNumber,
		SerializedPayload: change.Payload,
	}
	body, flags := d.Encode(nil, binary.BigEndian)
	datagram = append(datagram, wire.SubmessageHeader{Id: wire.SubmessageData, Flags: flags, OctetsToNextHeader: uint16(len(body))}.Encode(nil)...)
	datagram = append(datagram, body...)
	return datagram
}

// frameDataFragLocked splits change's payload into w.mtu-sized fragments,
// each carried by its own DATAFRAG submessage numbered from 1.
func (w *StatefulWriter) frameDataFragLocked(readerID guid.EntityId, change *cache.CacheChange) [][]byte {
	total := len(change.Payload)
	fragSize := w.mtu
	numFrags := (total + fragSize - 1) / fragSize

	datagrams := make([][]byte, 0, numFrags)
	for i := 0; i < numFrags; i++ {
		start := i * fragSize
		end := start + fragSize
		if end > total {
			end = total
		}

		hdr := wire.Header{Version: wire.ProtocolVersion, GuidPrefix: w.guid.Prefix}
		datagram := hdr.Encode(nil)
		df := wire.DataFrag{
			ReaderId:              readerID,
			WriterId:              w.guid.Entity,
			WriterSeqNum:          change.SequenceNumber,
			FragmentStartingNum:   uint32(i + 1),
			FragmentsInSubmessage: 1,
			FragmentSize:          uint16(fragSize),
			SampleSize:            uint32(total),
			SerializedPayload:     change.Payload[start:end],
		}
		body := df.Encode(nil, binary.BigEndian)
		datagram = append(datagram, wire.SubmessageHeader{Id: wire.SubmessageDataFrag, OctetsToNextHeader: uint16(len(body))}.Encode(nil)...)
		datagram = append(datagram, body...)
		datagrams = append(datagrams, datagram)
	}
	return datagrams
}

func (w *StatefulWriter) sendToLocked(remote guid.GUID, datagram []byte) {
	for _, locator := range w.locators[remote] {
		if err := w.sender.Send(locator, datagram); err != nil {
			w.log.Warnw("stateful writer send failed", "reader", remote.String(), "locator", locator.String(), "error", err)
		}
	}
}

// gcLocked evicts from the history every change ACKNOWLEDGED by all
// matched readers, invalidating each reader's entry for it first so a
// later re-request sees a gap rather than a dangling pointer.
func (w *StatefulWriter) gcLocked() {
	for _, seq := range rangeSeqs(w.history) {
		allAcked := true
		for _, rp := range w.readers {
			e, ok := rp.Entry(seq)
			if !ok || e.Status != proxy.Acknowledged {
				allAcked = false
				break
			}
		}
		if !allAcked {
			continue
		}
		for _, rp := range w.readers {
			rp.Invalidate(seq)
		}
		w.history.Remove(seq)
	}
}
