// Package transport implements the UDP send/receive path and the
// ListenResource dispatch loop that sits between the wire codec
// (internal/wire) and the endpoint reliability state machines
// (internal/endpoint).
package transport

import (
	"fmt"
	"net"
)

// LocatorKind distinguishes transport/address families.
type LocatorKind int

const (
	LocatorInvalid LocatorKind = iota
	LocatorUDPv4
	LocatorUDPv6
)

// Locator is a transport-independent network address: kind, port, and a
// 16-byte address (IPv4 addresses are stored in the last 4 bytes, mirroring
// the RTPS wire Locator_t representation).
type Locator struct {
	Kind    LocatorKind
	Port    uint32
	Address [16]byte
}

// UDPAddr returns the net.UDPAddr this locator names.
func (l Locator) UDPAddr() (*net.UDPAddr, error) {
	switch l.Kind {
	case LocatorUDPv4:
		ip := net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15])
		return &net.UDPAddr{IP: ip, Port: int(l.Port)}, nil
	case LocatorUDPv6:
		ip := make(net.IP, 16)
		copy(ip, l.Address[:])
		return &net.UDPAddr{IP: ip, Port: int(l.Port)}, nil
	default:
		return nil, fmt.Errorf("transport: invalid locator kind %d", l.Kind)
	}
}

func (l Locator) String() string {
	addr, err := l.UDPAddr()
	if err != nil {
		return "invalid-locator"
	}
	return addr.String()
}

// LocatorFromUDPAddr builds a Locator from a resolved UDP address.
func LocatorFromUDPAddr(addr *net.UDPAddr) Locator {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var l Locator
		l.Kind = LocatorUDPv4
		l.Port = uint32(addr.Port)
		copy(l.Address[12:], ip4)
		return l
	}
	var l Locator
	l.Kind = LocatorUDPv6
	l.Port = uint32(addr.Port)
	copy(l.Address[:], addr.IP.To16())
	return l
}

// ParseLocator resolves a "host:port" string (as found in YAML
// configuration) into a Locator.
func ParseLocator(s string) (Locator, error) {
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return Locator{}, fmt.Errorf("transport: parse locator %q: %w", s, err)
	}
	return LocatorFromUDPAddr(addr), nil
}

// Well-known port parameters.
const (
	DefaultPortBase          = 7400
	DefaultDomainIdGain      = 250
	DefaultParticipantIdGain = 2

	OffsetMetatrafficMulticast = 0
	OffsetMetatrafficUnicast   = 10
	OffsetUserMulticast        = 1
	OffsetUserUnicast          = 11
)

// PortParams lets a deployment override the well-known port formula's gains
// and base; the zero value yields the standard defaults.
type PortParams struct {
	PortBase          int
	DomainIdGain      int
	ParticipantIdGain int
}

func (p PortParams) withDefaults() PortParams {
	if p.PortBase == 0 {
		p.PortBase = DefaultPortBase
	}
	if p.DomainIdGain == 0 {
		p.DomainIdGain = DefaultDomainIdGain
	}
	if p.ParticipantIdGain == 0 {
		p.ParticipantIdGain = DefaultParticipantIdGain
	}
	return p
}

// WellKnownPort computes `portBase + domainIdGain*domainId + offset +
// participantIdGain*participantId`.
func WellKnownPort(params PortParams, domainId, participantId, offset int) int {
	p := params.withDefaults()
	return p.PortBase + p.DomainIdGain*domainId + offset + p.ParticipantIdGain*participantId
}
