package proxy

import (
	"sort"
	"sync"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/wire"
)

// ChangeForReader is a writer's view of one change's delivery state toward
// one matched reader: a non-owning handle into the writer's HistoryCache.
// Change is nil once the backing sample has been evicted from the cache
// (known but no longer cached).
type ChangeForReader struct {
	SeqNum     wire.SequenceNumber
	Change     *cache.CacheChange
	Status     ChangeForReaderStatus
	IsRelevant bool
}

// IsValid reports whether this entry still references a cached change.
func (c *ChangeForReader) IsValid() bool {
	return c.Change != nil
}

// Invalidate clears the change reference and relevance: used when the
// backing change is evicted from the HistoryCache out from under a
// still-tracked reader.
func (c *ChangeForReader) Invalidate() {
	c.IsRelevant = false
	c.Change = nil
}

// ReaderProxy tracks one remote reader matched to a local (Stateful)Writer:
// an ordered-by-SeqNum set of ChangeForReader entries plus HEARTBEAT/ACKNACK
// bookkeeping.
type ReaderProxy struct {
	mu sync.Mutex

	RemoteGUID guid.GUID
	Reliable   bool

	order   []wire.SequenceNumber
	entries map[wire.SequenceNumber]*ChangeForReader

	// HeartbeatCount is this writer's monotonic per-reader HEARTBEAT
	// counter.
	HeartbeatCount uint32
	// lastAckNackCount is the highest ACKNACK.count processed from this
	// reader; duplicates at or below it are ignored (idempotency).
	lastAckNackCount uint32
	sawAckNack       bool
}

// NewReaderProxy creates an empty proxy for a newly matched remote reader.
func NewReaderProxy(remote guid.GUID, reliable bool) *ReaderProxy {
	return &ReaderProxy{
		RemoteGUID: remote,
		Reliable:   reliable,
		entries:    make(map[wire.SequenceNumber]*ChangeForReader),
	}
}

// AddChange registers a newly added local change as UNSENT for this
// reader.
func (p *ReaderProxy) AddChange(c *cache.CacheChange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := &ChangeForReader{SeqNum: c.SequenceNumber, Change: c, Status: Unsent, IsRelevant: true}
	p.insertLocked(entry)
}

func (p *ReaderProxy) insertLocked(entry *ChangeForReader) {
	seq := entry.SeqNum
	i := sort.Search(len(p.order), func(i int) bool { return p.order[i] >= seq })
	p.order = append(p.order, 0)
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = seq
	p.entries[seq] = entry
}

// Entry returns the tracked entry for seq, if any.
func (p *ReaderProxy) Entry(seq wire.SequenceNumber) (*ChangeForReader, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[seq]
	return e, ok
}

// Unsent returns every entry currently UNSENT or REQUESTED, in SeqNum
// order (the send-tick candidate set).
func (p *ReaderProxy) Unsent() []*ChangeForReader {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*ChangeForReader
	for _, seq := range p.order {
		e := p.entries[seq]
		if e.Status == Unsent || e.Status == Requested {
			out = append(out, e)
		}
	}
	return out
}

// MarkUnderway transitions entry seq to UNDERWAY after transmission.
func (p *ReaderProxy) MarkUnderway(seq wire.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[seq]; ok {
		e.Status = Underway
	}
}

// AfterSend transitions entry seq to UNACKNOWLEDGED if this proxy is
// reliable, or drops it entirely otherwise.
func (p *ReaderProxy) AfterSend(seq wire.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Reliable {
		if e, ok := p.entries[seq]; ok {
			e.Status = Unacknowledged
		}
		return
	}
	p.removeLocked(seq)
}

func (p *ReaderProxy) removeLocked(seq wire.SequenceNumber) {
	if _, ok := p.entries[seq]; !ok {
		return
	}
	delete(p.entries, seq)
	i := sort.Search(len(p.order), func(i int) bool { return p.order[i] >= seq })
	if i < len(p.order) && p.order[i] == seq {
		p.order = append(p.order[:i], p.order[i+1:]...)
	}
}

// UnacknowledgedRange returns [min, max] of currently UNACKNOWLEDGED
// entries, and whether any exist.
func (p *ReaderProxy) UnacknowledgedRange() (lo, hi wire.SequenceNumber, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seq := range p.order {
		e := p.entries[seq]
		if e.Status != Unacknowledged {
			continue
		}
		if !ok {
			lo, hi, ok = seq, seq, true
			continue
		}
		if seq < lo {
			lo = seq
		}
		if seq > hi {
			hi = seq
		}
	}
	return lo, hi, ok
}

// AckNackResult describes the outcome of processing one ACKNACK for a
// writer's send-tick and GC bookkeeping.
type AckNackResult struct {
	// RequestGaps lists requested seqs the writer no longer has cached;
	// the caller must emit GAP for each.
	RequestGaps []wire.SequenceNumber
	// Accepted is false when the ACKNACK's count was a stale duplicate
	// and must be ignored entirely.
	Accepted bool
}

// ApplyAckNack processes a received ACKNACK: entries below base are
// ACKNOWLEDGED, entries named in the request bitmap are re-armed REQUESTED
// (or surfaced as a gap if no longer cached). Idempotent: a duplicate or
// stale count is a no-op.
func (p *ReaderProxy) ApplyAckNack(base wire.SequenceNumber, requested []wire.SequenceNumber, count uint32) AckNackResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sawAckNack && count <= p.lastAckNackCount {
		return AckNackResult{Accepted: false}
	}
	p.sawAckNack = true
	p.lastAckNackCount = count

	for _, seq := range p.order {
		if seq < base {
			if e := p.entries[seq]; e.Status != Acknowledged {
				e.Status = Acknowledged
			}
		}
	}

	var gaps []wire.SequenceNumber
	for _, seq := range requested {
		e, ok := p.entries[seq]
		if !ok || !e.IsValid() {
			gaps = append(gaps, seq)
			continue
		}
		e.Status = Requested
	}
	return AckNackResult{RequestGaps: gaps, Accepted: true}
}

// MarkAcknowledgedFromGap transitions seq to ACKNOWLEDGED because the
// writer answered a request for it with GAP.
func (p *ReaderProxy) MarkAcknowledgedFromGap(seq wire.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[seq]; ok {
		e.Status = Acknowledged
	}
}

// AllAcknowledged reports whether at least one entry is tracked and every
// tracked entry is ACKNOWLEDGED, used to decide whether to send a
// final-flag HEARTBEAT.
func (p *ReaderProxy) AllAcknowledged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seq := range p.order {
		if p.entries[seq].Status != Acknowledged {
			return false
		}
	}
	return len(p.order) > 0
}

// Invalidate marks seq ACKNOWLEDGED and clears its change reference
// because the backing change was evicted from the writer's history: a
// reader that later re-requests it gets GAP rather than a dangling
// pointer.
func (p *ReaderProxy) Invalidate(seq wire.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[seq]; ok {
		e.Invalidate()
		e.Status = Acknowledged
	}
}
