// Package guid implements RTPS GUIDs: the 12-byte GuidPrefix assigned to a
// participant, the 4-byte EntityId assigned to an endpoint within it, and
// the well-known identifiers used by the built-in discovery endpoints.
package guid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GuidPrefix uniquely identifies a participant within a domain.
type GuidPrefix [12]byte

func (p GuidPrefix) String() string {
	return hex.EncodeToString(p[:])
}

// ParseGuidPrefix parses the 24 hex characters produced by
// GuidPrefix.String back into a GuidPrefix, as read from configuration.
func ParseGuidPrefix(s string) (GuidPrefix, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return GuidPrefix{}, fmt.Errorf("guid: parse prefix %q: %w", s, err)
	}
	if len(b) != len(GuidPrefix{}) {
		return GuidPrefix{}, fmt.Errorf("guid: prefix %q must be %d bytes, got %d", s, len(GuidPrefix{}), len(b))
	}
	var p GuidPrefix
	copy(p[:], b)
	return p, nil
}

// NewRandomGuidPrefix generates a GuidPrefix with no fixed vendor/host
// structure, for a participant whose configuration declares none.
func NewRandomGuidPrefix() (GuidPrefix, error) {
	var p GuidPrefix
	if _, err := rand.Read(p[:]); err != nil {
		return GuidPrefix{}, fmt.Errorf("guid: generate random prefix: %w", err)
	}
	return p, nil
}

// EntityId uniquely identifies an endpoint within a participant.
//
// The last octet carries the entity kind: 0x02 for a user-defined keyed
// writer, 0x03 for a user-defined keyless writer, 0xC2/0xC3 for the
// built-in counterparts, mirroring the RTPS specification's entity kind
// octet.
type EntityId [4]byte

func (e EntityId) String() string {
	return hex.EncodeToString(e[:])
}

// GUID is the globally unique identifier of an endpoint: GuidPrefix +
// EntityId. Comparable, so it is usable directly as a map key.
type GUID struct {
	Prefix GuidPrefix
	Entity EntityId
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", g.Prefix, g.Entity)
}

// Entity kind octets (last byte of EntityId), per the RTPS specification.
const (
	entityKindUserKeyedWriter   byte = 0x02
	entityKindUserKeylessWriter byte = 0x03
	entityKindUserKeyedReader   byte = 0x07
	entityKindUserKeylessReader byte = 0x04
	entityKindBuiltinWriterC2   byte = 0xC2
	entityKindBuiltinWriterC3   byte = 0xC3
	entityKindBuiltinReaderC7   byte = 0xC7
)

// Well-known entity IDs.
var (
	EntityIdUnknown = EntityId{0x00, 0x00, 0x00, 0x00}

	EntityIdSPDPWriter = EntityId{0x00, 0x01, 0x00, 0xC2}
	EntityIdSPDPReader = EntityId{0x00, 0x01, 0x00, 0xC7}

	EntityIdSEDPPubWriter = EntityId{0x00, 0x00, 0x03, 0xC2}
	EntityIdSEDPPubReader = EntityId{0x00, 0x00, 0x03, 0xC7}

	EntityIdSEDPSubWriter = EntityId{0x00, 0x00, 0x04, 0xC2}
	EntityIdSEDPSubReader = EntityId{0x00, 0x00, 0x04, 0xC7}

	EntityIdWriterLiveliness = EntityId{0x00, 0x02, 0x00, 0xC2}
	EntityIdReaderLiveliness = EntityId{0x00, 0x02, 0x00, 0xC7}
)

// TrustedWriter returns the built-in writer EntityId that a reader
// EntityId is allowed to trust, per the fixed built-in reader/writer
// pairing. Returns EntityIdUnknown for any EntityId outside the built-in
// set, in which case the source GUID must be dropped by the caller.
func TrustedWriter(reader EntityId) EntityId {
	switch reader {
	case EntityIdSPDPReader:
		return EntityIdSPDPWriter
	case EntityIdSEDPPubReader:
		return EntityIdSEDPPubWriter
	case EntityIdSEDPSubReader:
		return EntityIdSEDPSubWriter
	case EntityIdReaderLiveliness:
		return EntityIdWriterLiveliness
	default:
		return EntityIdUnknown
	}
}

// IsBuiltin reports whether e carries a built-in entity kind octet.
func IsBuiltin(e EntityId) bool {
	switch e[3] {
	case entityKindBuiltinWriterC2, entityKindBuiltinWriterC3, entityKindBuiltinReaderC7:
		return true
	default:
		return false
	}
}
