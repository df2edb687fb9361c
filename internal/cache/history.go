package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c2h5oh/datasize"

	"github.com/rtpsgo/rtps/internal/wire"
)

// HistoryKind selects the eviction policy applied on Add.
type HistoryKind int

const (
	// KeepLast retains at most Depth changes per instance, evicting the
	// oldest of that instance on overflow.
	KeepLast HistoryKind = iota
	// KeepAll refuses new changes once MaxSamples is reached.
	KeepAll
)

// ErrResourceExhausted is returned by Add when a KeepAll history is full.
var ErrResourceExhausted = fmt.Errorf("cache: history resource exhausted")

// Config bounds a HistoryCache's size.
type Config struct {
	Kind                 HistoryKind
	Depth                int // per-instance depth for KeepLast
	MaxSamples           int
	MaxSamplesPerInstance int
	// PayloadBudget is a byte budget for retained payloads. Add tracks the
	// payload bytes retained but does not check them against this value:
	// no change is refused or evicted because of it.
	PayloadBudget datasize.ByteSize
}

// DefaultConfig mirrors typical DDS defaults: KEEP_LAST(1), no explicit
// sample cap, no payload budget.
func DefaultConfig() Config {
	return Config{Kind: KeepLast, Depth: 1, MaxSamples: 0, MaxSamplesPerInstance: 0}
}

// HistoryCache is a SequenceNumber-ordered, bounded collection of
// CacheChange records. Safe for concurrent use: callers still observe the
// owning endpoint's mutex discipline for cross-field invariants, but the
// cache itself guards its own state independently.
type HistoryCache struct {
	mu  sync.RWMutex
	cfg Config

	// ordered ascending by SequenceNumber; changes is the lookup index.
	order   []wire.SequenceNumber
	changes map[wire.SequenceNumber]*CacheChange

	// perInstance tracks, per InstanceHandle, the ordered sequence
	// numbers currently cached, for KeepLast eviction.
	perInstance map[InstanceHandle][]wire.SequenceNumber

	payloadBytes uint64
}

// NewHistoryCache creates an empty cache with the given bounds.
func NewHistoryCache(cfg Config) *HistoryCache {
	return &HistoryCache{
		cfg:         cfg,
		changes:     make(map[wire.SequenceNumber]*CacheChange),
		perInstance: make(map[InstanceHandle][]wire.SequenceNumber),
	}
}

// Add inserts change, applying the configured eviction policy. Changes
// must be inserted in non-decreasing SequenceNumber order by their owning
// writer, but a reader receiving out-of-order DATA may insert out of
// order: Add preserves the ordering invariant regardless of insertion
// order.
//
// Add returns the SequenceNumbers KEEP_LAST evicted to make room, if any,
// so a caller fronting this cache with per-peer delivery state (a
// StatefulWriter's ReaderProxy set) can invalidate those entries rather
// than leaving them pointing at a change no longer in history.
func (h *HistoryCache) Add(change *CacheChange) ([]wire.SequenceNumber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.changes[change.SequenceNumber]; exists {
		return nil, nil // duplicate insert is a no-op, not an error
	}

	if h.cfg.Kind == KeepAll {
		if h.cfg.MaxSamples > 0 && len(h.changes) >= h.cfg.MaxSamples {
			return nil, ErrResourceExhausted
		}
		if h.cfg.MaxSamplesPerInstance > 0 && len(h.perInstance[change.InstanceHandle]) >= h.cfg.MaxSamplesPerInstance {
			return nil, ErrResourceExhausted
		}
	}

	h.insertLocked(change)

	var evicted []wire.SequenceNumber
	if h.cfg.Kind == KeepLast {
		evicted = h.evictOldestOfInstanceLocked(change.InstanceHandle)
	}
	return evicted, nil
}

func (h *HistoryCache) insertLocked(change *CacheChange) {
	seq := change.SequenceNumber
	i := sort.Search(len(h.order), func(i int) bool { return h.order[i] >= seq })
	h.order = append(h.order, 0)
	copy(h.order[i+1:], h.order[i:])
	h.order[i] = seq

	h.changes[seq] = change
	h.perInstance[change.InstanceHandle] = append(h.perInstance[change.InstanceHandle], seq)
	h.payloadBytes += uint64(len(change.Payload))
}

func (h *HistoryCache) evictOldestOfInstanceLocked(instance InstanceHandle) []wire.SequenceNumber {
	depth := h.cfg.Depth
	if depth <= 0 {
		return nil
	}
	var evicted []wire.SequenceNumber
	seqs := h.perInstance[instance]
	for len(seqs) > depth {
		oldest := seqs[0]
		seqs = seqs[1:]
		h.removeLocked(oldest)
		evicted = append(evicted, oldest)
	}
	h.perInstance[instance] = seqs
	return evicted
}

func (h *HistoryCache) removeLocked(seq wire.SequenceNumber) *CacheChange {
	change, ok := h.changes[seq]
	if !ok {
		return nil
	}
	delete(h.changes, seq)
	h.payloadBytes -= uint64(len(change.Payload))

	i := sort.Search(len(h.order), func(i int) bool { return h.order[i] >= seq })
	if i < len(h.order) && h.order[i] == seq {
		h.order = append(h.order[:i], h.order[i+1:]...)
	}

	instSeqs := h.perInstance[change.InstanceHandle]
	for i, s := range instSeqs {
		if s == seq {
			h.perInstance[change.InstanceHandle] = append(instSeqs[:i], instSeqs[i+1:]...)
			break
		}
	}
	return change
}

// Remove deletes the change at seq, returning it if present.
func (h *HistoryCache) Remove(seq wire.SequenceNumber) (*CacheChange, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	change := h.removeLocked(seq)
	return change, change != nil
}

// Find returns the change at seq without removing it.
func (h *HistoryCache) Find(seq wire.SequenceNumber) (*CacheChange, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.changes[seq]
	return c, ok
}

// IterRange returns every change with lo <= seq <= hi, in ascending order.
func (h *HistoryCache) IterRange(lo, hi wire.SequenceNumber) []*CacheChange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := sort.Search(len(h.order), func(i int) bool { return h.order[i] >= lo })
	var out []*CacheChange
	for i := start; i < len(h.order) && h.order[i] <= hi; i++ {
		out = append(out, h.changes[h.order[i]])
	}
	return out
}

// MinSeq returns the lowest SequenceNumber currently cached.
func (h *HistoryCache) MinSeq() (wire.SequenceNumber, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[0], true
}

// MaxSeq returns the highest SequenceNumber currently cached.
func (h *HistoryCache) MaxSeq() (wire.SequenceNumber, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[len(h.order)-1], true
}

// Len returns the number of changes currently cached.
func (h *HistoryCache) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}
