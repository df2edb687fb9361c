package discovery

import (
	"sync"

	"github.com/rtpsgo/rtps/internal/guid"
)

// AckStatus tracks, per remote participant, whether a discovery-server's
// own discovery data has been acknowledged by that participant. A
// discovery-server topology retransmits its data to any participant whose
// entry reads false, until the participant acknowledges or its lease
// expires.
type AckStatus struct {
	mu      sync.Mutex
	acked   map[guid.GuidPrefix]bool
}

// NewAckStatus returns an empty AckStatus.
func NewAckStatus() *AckStatus {
	return &AckStatus{acked: make(map[guid.GuidPrefix]bool)}
}

// AddOrUpdate inserts or overwrites the entry for prefix.
func (s *AckStatus) AddOrUpdate(prefix guid.GuidPrefix, acked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[prefix] = acked
}

// Remove drops prefix from the table entirely.
func (s *AckStatus) Remove(prefix guid.GuidPrefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.acked, prefix)
}

// IsMatched reports whether prefix has an entry and it is acked.
func (s *AckStatus) IsMatched(prefix guid.GuidPrefix) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked[prefix]
}

// UnmatchAll flips every tracked entry to unacked, e.g. after republishing
// a discovery change that every participant must re-acknowledge.
func (s *AckStatus) UnmatchAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for prefix := range s.acked {
		s.acked[prefix] = false
	}
}

// IsRelevantParticipant reports whether prefix has any entry at all,
// acked or not.
func (s *AckStatus) IsRelevantParticipant(prefix guid.GuidPrefix) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.acked[prefix]
	return ok
}
