package guid

import "fmt"

// EntityKind distinguishes the four combinations of direction and key-ness
// that determine the entity-id kind octet.
type EntityKind int

const (
	KindUserKeyedWriter EntityKind = iota
	KindUserKeylessWriter
	KindUserKeyedReader
	KindUserKeylessReader
	KindBuiltinWriter
	KindBuiltinReader
)

func (k EntityKind) kindOctet() byte {
	switch k {
	case KindUserKeyedWriter:
		return entityKindUserKeyedWriter
	case KindUserKeylessWriter:
		return entityKindUserKeylessWriter
	case KindUserKeyedReader:
		return entityKindUserKeyedReader
	case KindUserKeylessReader:
		return entityKindUserKeylessReader
	case KindBuiltinWriter:
		return entityKindBuiltinWriterC2
	case KindBuiltinReader:
		return entityKindBuiltinReaderC7
	default:
		panic(fmt.Sprintf("guid: unknown entity kind %d", k))
	}
}

func (k EntityKind) isReader() bool {
	switch k {
	case KindUserKeyedReader, KindUserKeylessReader, KindBuiltinReader:
		return true
	default:
		return false
	}
}

// DuplicateEntityIdError is returned when a caller-requested or
// counter-derived EntityId collides with one already allocated on this
// participant. The first insertion wins; later callers observe this error.
type DuplicateEntityIdError struct {
	Id EntityId
}

func (e *DuplicateEntityIdError) Error() string {
	return fmt.Sprintf("guid: entity id %s already allocated", e.Id)
}

// Allocator assigns EntityIds to endpoints created on a single participant.
//
// It is not safe for concurrent use by itself; callers (the Participant)
// are expected to hold their own endpoint-table lock while calling Allocate,
// matching the Participant > Endpoint > Proxy lock ordering used throughout.
type Allocator struct {
	counter uint32
	writers map[EntityId]struct{}
	readers map[EntityId]struct{}
}

// NewAllocator creates an empty entity-id allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		writers: make(map[EntityId]struct{}),
		readers: make(map[EntityId]struct{}),
	}
}

// Allocate assigns an EntityId for a new endpoint of the given kind.
//
// If userID is non-zero it is used verbatim (the caller's preferred id,
// lifted into the top three octets); otherwise the allocator's monotonic
// counter is used. In both cases the kind octet is appended last.
//
// Uniqueness is checked against the table matching the entity's direction:
// a reader's id is checked against existing readers, a writer's against
// existing writers.
func (a *Allocator) Allocate(userID uint32, kind EntityKind) (EntityId, error) {
	var id EntityId
	if userID != 0 {
		id = idFromCounter(userID, kind)
	} else {
		a.counter++
		id = idFromCounter(a.counter, kind)
	}

	table := a.writers
	if kind.isReader() {
		table = a.readers
	}

	if _, exists := table[id]; exists {
		return EntityId{}, &DuplicateEntityIdError{Id: id}
	}

	table[id] = struct{}{}
	return id, nil
}

// Release frees a previously allocated EntityId so it may be reused.
func (a *Allocator) Release(id EntityId, kind EntityKind) {
	table := a.writers
	if kind.isReader() {
		table = a.readers
	}
	delete(table, id)
}

func idFromCounter(counter uint32, kind EntityKind) EntityId {
	return EntityId{
		byte(counter >> 16),
		byte(counter >> 8),
		byte(counter),
		kind.kindOctet(),
	}
}
