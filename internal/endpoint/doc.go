// Package endpoint implements the four endpoint kinds a participant owns —
// StatelessWriter, StatefulWriter, StatelessReader, StatefulReader — and
// the reliability state machines that drive DATA/HEARTBEAT/ACKNACK/GAP
// exchange over matched proxies.
//
// Locking: each endpoint has a single mutex guarding its HistoryCache and
// proxy set. A local user-visible method must acquire the endpoint mutex;
// the event thread acquires the same before running any handler targeted
// at that endpoint.
//
// Go has no recursive sync.Mutex, so this package does not use one: a
// method or per-submessage handler acquires the mutex once at the top and
// calls "Locked" helpers beneath it; helpers named *Locked never acquire
// the mutex themselves, so it is never re-entered. Some handlers (the
// StatefulReader's HEARTBEAT and GAP handlers) hold it only to look up the
// matched writer proxy and release it before updating that proxy, which
// has its own mutex.
package endpoint
