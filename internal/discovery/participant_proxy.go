package discovery

import (
	"sync"
	"time"

	"github.com/rtpsgo/rtps/internal/guid"
)

// ParticipantProxy is the locally held record of one remote participant:
// its last-announced proxy data plus the deadline by which a fresh
// announcement or any other liveliness evidence must arrive.
type ParticipantProxy struct {
	Data        ParticipantProxyData
	LeaseExpiry time.Time
}

// ParticipantProxyTable tracks every remote participant currently known
// through SPDP, keyed by GuidPrefix.
type ParticipantProxyTable struct {
	mu    sync.Mutex
	byPrefix map[guid.GuidPrefix]*ParticipantProxy
}

func newParticipantProxyTable() *ParticipantProxyTable {
	return &ParticipantProxyTable{byPrefix: make(map[guid.GuidPrefix]*ParticipantProxy)}
}

// AddOrUpdate records data as the latest known state for its participant,
// arming (or re-arming) its lease to now+leaseDuration. Returns true if
// this is the first time the participant has been seen.
func (t *ParticipantProxyTable) AddOrUpdate(data ParticipantProxyData, now time.Time) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaseDuration := time.Duration(data.LeaseDurationNanos)
	_, exists := t.byPrefix[data.GuidPrefix]
	t.byPrefix[data.GuidPrefix] = &ParticipantProxy{Data: data, LeaseExpiry: now.Add(leaseDuration)}
	return !exists
}

// Remove drops prefix from the table unconditionally.
func (t *ParticipantProxyTable) Remove(prefix guid.GuidPrefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPrefix, prefix)
}

// Get returns the tracked proxy for prefix, if any.
func (t *ParticipantProxyTable) Get(prefix guid.GuidPrefix) (ParticipantProxy, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPrefix[prefix]
	if !ok {
		return ParticipantProxy{}, false
	}
	return *p, true
}

// Expired returns every prefix whose lease has elapsed as of now, removing
// them from the table.
func (t *ParticipantProxyTable) Expired(now time.Time) []guid.GuidPrefix {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []guid.GuidPrefix
	for prefix, p := range t.byPrefix {
		if now.After(p.LeaseExpiry) {
			expired = append(expired, prefix)
		}
	}
	for _, prefix := range expired {
		delete(t.byPrefix, prefix)
	}
	return expired
}
