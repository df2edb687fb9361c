// Package cache implements the ordered sample store shared by every
// endpoint: CacheChange, the immutable-once-inserted record of one sample,
// and HistoryCache, the SequenceNumber-ordered, depth-bounded collection of
// them.
package cache

import (
	"time"

	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/wire"
)

// ChangeKind is the disposition of a sample: alive, or one of the
// unregistered/disposed variants a keyed writer can retire an instance with.
type ChangeKind int

const (
	Alive ChangeKind = iota
	NotAliveDisposed
	NotAliveUnregistered
	NotAliveDisposedUnregistered
)

func (k ChangeKind) String() string {
	switch k {
	case Alive:
		return "ALIVE"
	case NotAliveDisposed:
		return "NOT_ALIVE_DISPOSED"
	case NotAliveUnregistered:
		return "NOT_ALIVE_UNREGISTERED"
	case NotAliveDisposedUnregistered:
		return "NOT_ALIVE_DISPOSED_UNREGISTERED"
	default:
		return "UNKNOWN"
	}
}

// InstanceHandle identifies a keyed instance within a topic (16 bytes); for
// keyless topics it is the zero value.
type InstanceHandle [16]byte

// WriteParams carries request/reply correlation data attached at write
// time.
type WriteParams struct {
	RelatedSampleWriterGUID guid.GUID
	RelatedSampleSeqNum     wire.SequenceNumber
}

// CacheChange is one sample as stored in a HistoryCache. Once inserted,
// every field except IsRead is immutable.
type CacheChange struct {
	Kind           ChangeKind
	WriterGUID     guid.GUID
	InstanceHandle InstanceHandle
	SequenceNumber wire.SequenceNumber
	SourceTimestamp time.Time
	// Payload holds the serialized sample, CDR-encapsulation-header
	// prefixed (4 bytes), as produced by the TypeSupport collaborator.
	Payload     []byte
	WriteParams WriteParams
	IsRead      bool
}
