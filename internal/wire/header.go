// Package wire implements the RTPS 2.x datagram and submessage framing: the
// 20-byte fixed header, the 4-byte submessage header, and the
// SequenceNumberSet bitmap used by ACKNACK/HEARTBEAT/GAP.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/rtpsgo/rtps/internal/guid"
)

// protocolID is the fixed 4-byte magic that opens every RTPS datagram.
var protocolID = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is the RTPS protocol version this implementation speaks.
var ProtocolVersion = [2]byte{2, 3}

// HeaderLen is the fixed size, in bytes, of the RTPS datagram header.
const HeaderLen = 20

// Header is the 20-byte header prefixing every RTPS datagram: magic,
// version, vendor id, and the sending participant's GuidPrefix.
type Header struct {
	Version    [2]byte
	VendorId   [2]byte
	GuidPrefix guid.GuidPrefix
}

// Encode appends the wire representation of h to dst and returns the result.
func (h Header) Encode(dst []byte) []byte {
	dst = append(dst, protocolID[:]...)
	dst = append(dst, h.Version[:]...)
	dst = append(dst, h.VendorId[:]...)
	dst = append(dst, h.GuidPrefix[:]...)
	return dst
}

// DecodeHeader parses the 20-byte header from the front of buf, returning
// the header and the remaining bytes (the submessage stream).
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, fmt.Errorf("wire: datagram too short for header: %d bytes", len(buf))
	}
	if buf[0] != protocolID[0] || buf[1] != protocolID[1] || buf[2] != protocolID[2] || buf[3] != protocolID[3] {
		return Header{}, nil, fmt.Errorf("wire: bad protocol id %q", buf[0:4])
	}
	var h Header
	copy(h.Version[:], buf[4:6])
	copy(h.VendorId[:], buf[6:8])
	copy(h.GuidPrefix[:], buf[8:20])
	return h, buf[HeaderLen:], nil
}

// SubmessageId identifies the kind of a submessage.
type SubmessageId byte

const (
	SubmessageAckNack       SubmessageId = 0x06
	SubmessageHeartbeat     SubmessageId = 0x07
	SubmessageGap           SubmessageId = 0x08
	SubmessageInfoTimestamp SubmessageId = 0x09
	SubmessageInfoDestination SubmessageId = 0x0E
	SubmessageNackFrag      SubmessageId = 0x12
	SubmessageHeartbeatFrag SubmessageId = 0x13
	SubmessageData          SubmessageId = 0x15
	SubmessageDataFrag      SubmessageId = 0x16
)

func (id SubmessageId) String() string {
	switch id {
	case SubmessageAckNack:
		return "ACKNACK"
	case SubmessageHeartbeat:
		return "HEARTBEAT"
	case SubmessageGap:
		return "GAP"
	case SubmessageInfoTimestamp:
		return "INFO_TS"
	case SubmessageInfoDestination:
		return "INFO_DST"
	case SubmessageNackFrag:
		return "NACKFRAG"
	case SubmessageHeartbeatFrag:
		return "HEARTBEAT_FRAG"
	case SubmessageData:
		return "DATA"
	case SubmessageDataFrag:
		return "DATAFRAG"
	default:
		return fmt.Sprintf("SubmessageId(0x%02x)", byte(id))
	}
}

// Submessage flag bits common to every submessage kind.
const (
	FlagEndianness byte = 1 << 0 // set: little-endian body
)

// SubmessageHeader is the 4-byte header prefixing every submessage body:
// `[submsgId(1)][flags(1)][octetsToNextHeader(2)]`.
type SubmessageHeader struct {
	Id                 SubmessageId
	Flags              byte
	OctetsToNextHeader uint16
}

const SubmessageHeaderLen = 4

func littleEndian(flags byte) bool {
	return flags&FlagEndianness != 0
}

func byteOrder(flags byte) binary.ByteOrder {
	if littleEndian(flags) {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Encode appends the wire representation of h to dst.
func (h SubmessageHeader) Encode(dst []byte) []byte {
	dst = append(dst, byte(h.Id), h.Flags)
	var lenBuf [2]byte
	byteOrder(h.Flags).PutUint16(lenBuf[:], h.OctetsToNextHeader)
	return append(dst, lenBuf[:]...)
}

// DecodeSubmessageHeader parses a submessage header from the front of buf.
func DecodeSubmessageHeader(buf []byte) (SubmessageHeader, []byte, error) {
	if len(buf) < SubmessageHeaderLen {
		return SubmessageHeader{}, nil, fmt.Errorf("wire: truncated submessage header")
	}
	h := SubmessageHeader{
		Id:    SubmessageId(buf[0]),
		Flags: buf[1],
	}
	h.OctetsToNextHeader = byteOrder(h.Flags).Uint16(buf[2:4])
	return h, buf[SubmessageHeaderLen:], nil
}

// Body returns the submessage body delimited by h.OctetsToNextHeader out of
// buf (which must start right after the submessage header), and the
// remainder of buf after the body.
func (h SubmessageHeader) Body(buf []byte) ([]byte, []byte, error) {
	n := int(h.OctetsToNextHeader)
	if n > len(buf) {
		return nil, nil, fmt.Errorf("wire: submessage %s body length %d exceeds remaining %d bytes", h.Id, n, len(buf))
	}
	return buf[:n], buf[n:], nil
}
