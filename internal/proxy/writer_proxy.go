package proxy

import (
	"sort"
	"sync"

	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/wire"
)

// ChangeFromWriter is a reader's view of one change's delivery state from
// one matched writer.
type ChangeFromWriter struct {
	SeqNum     wire.SequenceNumber
	Status     ChangeFromWriterStatus
	IsRelevant bool
}

// WriterProxy tracks one remote writer matched to a local (Stateful)Reader:
// the missing-changes set plus HEARTBEAT/ACKNACK bookkeeping.
type WriterProxy struct {
	mu sync.Mutex

	RemoteGUID guid.GUID

	// order lists the SeqNum of every tracked entry (MISSING, RECEIVED or
	// LOST) in ascending order; entries holds them by SeqNum.
	order   []wire.SequenceNumber
	entries map[wire.SequenceNumber]*ChangeFromWriter

	LastAvailableSeq  wire.SequenceNumber
	HeartbeatCountSeen uint32
	AckNackCountSent   uint32
	sawHeartbeat       bool

	irrelevantWatermark wire.SequenceNumber
}

// NewWriterProxy creates an empty proxy for a newly matched remote writer.
func NewWriterProxy(remote guid.GUID) *WriterProxy {
	return &WriterProxy{
		RemoteGUID: remote,
		entries:    make(map[wire.SequenceNumber]*ChangeFromWriter),
	}
}

func (p *WriterProxy) insertLocked(e *ChangeFromWriter) {
	seq := e.SeqNum
	i := sort.Search(len(p.order), func(i int) bool { return p.order[i] >= seq })
	if i < len(p.order) && p.order[i] == seq {
		p.entries[seq] = e
		return
	}
	p.order = append(p.order, 0)
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = seq
	p.entries[seq] = e
}

func (p *WriterProxy) removeLocked(seq wire.SequenceNumber) {
	if _, ok := p.entries[seq]; !ok {
		return
	}
	delete(p.entries, seq)
	i := sort.Search(len(p.order), func(i int) bool { return p.order[i] >= seq })
	if i < len(p.order) && p.order[i] == seq {
		p.order = append(p.order[:i], p.order[i+1:]...)
	}
}

// ReceiveDataResult tells the caller whether to actually deliver the
// sample.
type ReceiveDataResult struct {
	Accept bool
}

// ReceiveData processes an incoming DATA(seq): dropped if at/below the
// irrelevant watermark or already RECEIVED, otherwise marked RECEIVED and
// cleared from the missing set.
func (p *WriterProxy) ReceiveData(seq wire.SequenceNumber) ReceiveDataResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq <= p.irrelevantWatermark {
		return ReceiveDataResult{Accept: false}
	}
	if e, ok := p.entries[seq]; ok && (e.Status == Received || e.Status == Lost) {
		return ReceiveDataResult{Accept: false}
	}

	p.insertLocked(&ChangeFromWriter{SeqNum: seq, Status: Received, IsRelevant: true})
	if seq > p.LastAvailableSeq {
		p.LastAvailableSeq = seq
	}
	return ReceiveDataResult{Accept: true}
}

// ReceiveHeartbeatResult is the set of sequence numbers still missing
// after processing a HEARTBEAT, ready to drive an ACKNACK.
type ReceiveHeartbeatResult struct {
	Accepted bool
	Missing  []wire.SequenceNumber
}

// ReceiveHeartbeat processes HEARTBEAT(first,last,count): stale counts are
// dropped, last_available_seq advances monotonically, entries below first
// are pruned, and missing = [first,last] \ received is computed.
func (p *WriterProxy) ReceiveHeartbeat(first, last wire.SequenceNumber, count uint32) ReceiveHeartbeatResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sawHeartbeat && count <= p.HeartbeatCountSeen {
		return ReceiveHeartbeatResult{Accepted: false}
	}
	p.sawHeartbeat = true
	p.HeartbeatCountSeen = count

	if last > p.LastAvailableSeq {
		p.LastAvailableSeq = last
	}

	// Prune everything below `first`: it is either already received, or
	// will never arrive and must be treated as lost.
	for len(p.order) > 0 && p.order[0] < first {
		p.removeLocked(p.order[0])
	}
	if first-1 > p.irrelevantWatermark {
		p.irrelevantWatermark = first - 1
	}

	var missing []wire.SequenceNumber
	for seq := first; seq <= last; seq++ {
		if e, ok := p.entries[seq]; ok && e.Status == Received {
			continue
		}
		missing = append(missing, seq)
		if _, ok := p.entries[seq]; !ok {
			p.insertLocked(&ChangeFromWriter{SeqNum: seq, Status: Missing, IsRelevant: true})
		}
	}
	return ReceiveHeartbeatResult{Accepted: true, Missing: missing}
}

// ReceiveGap marks every sequence number in seqs as LOST, skipping those
// at or below the irrelevant watermark and those already RECEIVED. GAP is absorbing: once a seq is LOST, ReceiveData rejects any
// later DATA naming it rather than letting a stale retransmit slip through.
func (p *WriterProxy) ReceiveGap(seqs []wire.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seq := range seqs {
		if seq <= p.irrelevantWatermark {
			continue
		}
		if e, ok := p.entries[seq]; ok && e.Status == Received {
			continue
		}
		p.insertLocked(&ChangeFromWriter{SeqNum: seq, Status: Lost, IsRelevant: false})
	}
}

// MissingChanges returns the currently MISSING sequence numbers in order.
func (p *WriterProxy) MissingChanges() []wire.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.SequenceNumber, 0, len(p.order))
	for _, seq := range p.order {
		if p.entries[seq].Status == Missing {
			out = append(out, seq)
		}
	}
	return out
}

// FirstMissingOr returns the lowest MISSING sequence number, or fallback
// if none are missing (the ACKNACK base computation: base =
// first_missing_or_(last+1)).
func (p *WriterProxy) FirstMissingOr(fallback wire.SequenceNumber) wire.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seq := range p.order {
		if p.entries[seq].Status == Missing {
			return seq
		}
	}
	return fallback
}
