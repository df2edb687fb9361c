package wire

import (
	"encoding/binary"
	"time"

	"github.com/rtpsgo/rtps/internal/guid"
)

// Time is the RTPS wire timestamp: seconds since epoch + fractional
// nanoseconds, carried by INFO_TS.
type Time struct {
	Seconds  int32
	Fraction uint32
}

func TimeFromStd(t time.Time) Time {
	return Time{Seconds: int32(t.Unix()), Fraction: uint32(t.Nanosecond())}
}

// InfoTimestamp carries the source timestamp of subsequent DATA submessages
// in the same datagram, until overridden or the datagram ends.
type InfoTimestamp struct {
	Invalidate bool
	Timestamp  Time
}

func DecodeInfoTimestamp(body []byte, flags byte) InfoTimestamp {
	inv := flags&0x02 != 0
	if inv || len(body) < 8 {
		return InfoTimestamp{Invalidate: true}
	}
	order := byteOrder(flags)
	return InfoTimestamp{
		Timestamp: Time{
			Seconds:  int32(order.Uint32(body[0:4])),
			Fraction: order.Uint32(body[4:8]),
		},
	}
}

// InfoDestination carries the GuidPrefix of the participant subsequent
// submessages in the same datagram are addressed to.
type InfoDestination struct {
	GuidPrefix guid.GuidPrefix
}

func DecodeInfoDestination(body []byte) InfoDestination {
	var d InfoDestination
	if len(body) >= 12 {
		copy(d.GuidPrefix[:], body[:12])
	}
	return d
}

// Data is the parsed body of a DATA submessage: a single serialized sample.
type Data struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	WriterSeqNum    SequenceNumber
	InlineQos       []byte
	SerializedPayload []byte
}

const (
	flagDataInlineQos  byte = 1 << 1
	flagDataHasPayload byte = 1 << 2
	flagDataKeyOnly    byte = 1 << 3
)

func DecodeData(body []byte, flags byte) (Data, error) {
	if len(body) < 4+4+4+8 {
		return Data{}, errTruncated("DATA")
	}
	order := byteOrder(flags)
	// extraFlags(2) + octetsToInlineQos(2)
	octetsToInlineQos := order.Uint16(body[2:4])
	var d Data
	copy(d.ReaderId[:], body[4:8])
	copy(d.WriterId[:], body[8:12])
	d.WriterSeqNum = DecodeSequenceNumber(body[12:20], order)

	rest := body[4+int(octetsToInlineQos):]
	if flags&flagDataInlineQos != 0 {
		n, qos := decodeQosBlock(rest, order)
		d.InlineQos = qos
		rest = rest[n:]
	}
	if flags&(flagDataHasPayload|flagDataKeyOnly) != 0 {
		d.SerializedPayload = rest
	}
	return d, nil
}

// Encode appends the wire representation of d to dst and returns the flags
// that must be set on the enclosing SubmessageHeader alongside it.
func (d Data) Encode(dst []byte, order binary.ByteOrder) (buf []byte, flags byte) {
	dst = append(dst, 0, 0) // extraFlags, reserved
	const octetsToInlineQos = 16 // readerId(4) + writerId(4) + seqNum(8)
	var n [2]byte
	order.PutUint16(n[:], octetsToInlineQos)
	dst = append(dst, n[:]...)
	dst = append(dst, d.ReaderId[:]...)
	dst = append(dst, d.WriterId[:]...)
	dst = EncodeSequenceNumber(dst, d.WriterSeqNum, order)

	flags = flagDataHasPayload
	if len(d.InlineQos) > 0 {
		dst = append(dst, d.InlineQos...)
		flags |= flagDataInlineQos
	}
	dst = append(dst, d.SerializedPayload...)
	return dst, flags
}

// decodeQosBlock consumes a parameter-list-encoded inline QoS block
// (terminated by PID_SENTINEL=1) and returns its length and raw bytes.
// The content is opaque to the core: callers needing specific parameters
// reparse it.
func decodeQosBlock(buf []byte, order binary.ByteOrder) (int, []byte) {
	const pidSentinel = 0x0001
	off := 0
	for off+4 <= len(buf) {
		pid := order.Uint16(buf[off : off+2])
		plen := int(order.Uint16(buf[off+2 : off+4]))
		off += 4
		if pid == pidSentinel {
			return off, buf[:off]
		}
		off += plen
	}
	return off, buf[:off]
}

// Heartbeat informs a reader of the [firstSeq, lastSeq] range a writer
// currently holds.
type Heartbeat struct {
	ReaderId guid.EntityId
	WriterId guid.EntityId
	First    SequenceNumber
	Last     SequenceNumber
	Count    uint32
	Final    bool
	Liveliness bool
}

const (
	flagHeartbeatFinal      byte = 1 << 1
	flagHeartbeatLiveliness byte = 1 << 2
)

func DecodeHeartbeat(body []byte, flags byte) (Heartbeat, error) {
	if len(body) < 8+8+8+4 {
		return Heartbeat{}, errTruncated("HEARTBEAT")
	}
	order := byteOrder(flags)
	var h Heartbeat
	copy(h.ReaderId[:], body[0:4])
	copy(h.WriterId[:], body[4:8])
	h.First = DecodeSequenceNumber(body[8:16], order)
	h.Last = DecodeSequenceNumber(body[16:24], order)
	h.Count = order.Uint32(body[24:28])
	h.Final = flags&flagHeartbeatFinal != 0
	h.Liveliness = flags&flagHeartbeatLiveliness != 0
	return h, nil
}

func (h Heartbeat) Encode(dst []byte, order binary.ByteOrder) []byte {
	dst = append(dst, h.ReaderId[:]...)
	dst = append(dst, h.WriterId[:]...)
	dst = EncodeSequenceNumber(dst, h.First, order)
	dst = EncodeSequenceNumber(dst, h.Last, order)
	var c [4]byte
	order.PutUint32(c[:], h.Count)
	return append(dst, c[:]...)
}

// AckNack is a reader's acknowledgement of received sequence numbers plus a
// request for any it is missing.
type AckNack struct {
	ReaderId      guid.EntityId
	WriterId      guid.EntityId
	ReaderSNState SequenceNumberSet
	Count         uint32
	Final         bool
}

const flagAckNackFinal byte = 1 << 1

func DecodeAckNack(body []byte, flags byte) (AckNack, error) {
	if len(body) < 8 {
		return AckNack{}, errTruncated("ACKNACK")
	}
	order := byteOrder(flags)
	var a AckNack
	copy(a.ReaderId[:], body[0:4])
	copy(a.WriterId[:], body[4:8])
	set, rest, err := DecodeSequenceNumberSet(body[8:], order)
	if err != nil {
		return AckNack{}, err
	}
	a.ReaderSNState = set
	if len(rest) >= 4 {
		a.Count = order.Uint32(rest[0:4])
	}
	a.Final = flags&flagAckNackFinal != 0
	return a, nil
}

func (a AckNack) Encode(dst []byte, order binary.ByteOrder) []byte {
	dst = append(dst, a.ReaderId[:]...)
	dst = append(dst, a.WriterId[:]...)
	dst = EncodeSequenceNumberSet(dst, a.ReaderSNState, order)
	var c [4]byte
	order.PutUint32(c[:], a.Count)
	return append(dst, c[:]...)
}

// Gap tells a reader that a range of sequence numbers will never be
// delivered (already acknowledged as irrelevant, or never existed).
type Gap struct {
	ReaderId     guid.EntityId
	WriterId     guid.EntityId
	GapStart     SequenceNumber
	GapList      SequenceNumberSet
}

func DecodeGap(body []byte, flags byte) (Gap, error) {
	if len(body) < 8+8 {
		return Gap{}, errTruncated("GAP")
	}
	order := byteOrder(flags)
	var g Gap
	copy(g.ReaderId[:], body[0:4])
	copy(g.WriterId[:], body[4:8])
	g.GapStart = DecodeSequenceNumber(body[8:16], order)
	set, _, err := DecodeSequenceNumberSet(body[16:], order)
	if err != nil {
		return Gap{}, err
	}
	g.GapList = set
	return g, nil
}

func (g Gap) Encode(dst []byte, order binary.ByteOrder) []byte {
	dst = append(dst, g.ReaderId[:]...)
	dst = append(dst, g.WriterId[:]...)
	dst = EncodeSequenceNumber(dst, g.GapStart, order)
	return EncodeSequenceNumberSet(dst, g.GapList, order)
}

// FragmentNumberSet mirrors SequenceNumberSet but over 1-based fragment
// numbers, used by DATAFRAG/NACKFRAG/HEARTBEAT_FRAG.
type FragmentNumberSet struct {
	Base    uint32
	Bitmap  SequenceNumberSet
}

// DataFrag carries one fragment of a sample too large to fit one DATA
// submessage.
type DataFrag struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	WriterSeqNum    SequenceNumber
	FragmentStartingNum uint32
	FragmentsInSubmessage uint16
	FragmentSize    uint16
	SampleSize      uint32
	SerializedPayload []byte
}

func DecodeDataFrag(body []byte, flags byte) (DataFrag, error) {
	if len(body) < 4+4+8+4+2+2+4 {
		return DataFrag{}, errTruncated("DATAFRAG")
	}
	order := byteOrder(flags)
	octetsToInlineQos := order.Uint16(body[2:4])
	var d DataFrag
	copy(d.ReaderId[:], body[4:8])
	copy(d.WriterId[:], body[8:12])
	d.WriterSeqNum = DecodeSequenceNumber(body[12:20], order)
	d.FragmentStartingNum = order.Uint32(body[20:24])
	d.FragmentsInSubmessage = order.Uint16(body[24:26])
	d.FragmentSize = order.Uint16(body[26:28])
	d.SampleSize = order.Uint32(body[28:32])
	rest := body[4+int(octetsToInlineQos):]
	d.SerializedPayload = rest
	return d, nil
}

// Encode appends the wire representation of d to dst. DATAFRAG carries no
// inline QoS in this implementation, so octetsToInlineQos is fixed at the
// header width.
func (d DataFrag) Encode(dst []byte, order binary.ByteOrder) []byte {
	dst = append(dst, 0, 0) // extraFlags, reserved
	const octetsToInlineQos = 28 // readerId(4) + writerId(4) + seqNum(8) + fragStart(4) + fragsInSub(2) + fragSize(2) + sampleSize(4)
	var n [2]byte
	order.PutUint16(n[:], octetsToInlineQos)
	dst = append(dst, n[:]...)
	dst = append(dst, d.ReaderId[:]...)
	dst = append(dst, d.WriterId[:]...)
	dst = EncodeSequenceNumber(dst, d.WriterSeqNum, order)
	var fragStart, fragCount, fragSize, sampleSize [4]byte
	order.PutUint32(fragStart[:], d.FragmentStartingNum)
	dst = append(dst, fragStart[:]...)
	order.PutUint16(fragCount[:2], d.FragmentsInSubmessage)
	dst = append(dst, fragCount[:2]...)
	order.PutUint16(fragSize[:2], d.FragmentSize)
	dst = append(dst, fragSize[:2]...)
	order.PutUint32(sampleSize[:], d.SampleSize)
	dst = append(dst, sampleSize[:]...)
	dst = append(dst, d.SerializedPayload...)
	return dst
}

// NackFrag requests retransmission of specific fragments of one sample.
type NackFrag struct {
	ReaderId     guid.EntityId
	WriterId     guid.EntityId
	WriterSeqNum SequenceNumber
	FragmentNumberState FragmentNumberSet
	Count        uint32
}

func DecodeNackFrag(body []byte, flags byte) (NackFrag, error) {
	if len(body) < 8+8 {
		return NackFrag{}, errTruncated("NACKFRAG")
	}
	order := byteOrder(flags)
	var n NackFrag
	copy(n.ReaderId[:], body[0:4])
	copy(n.WriterId[:], body[4:8])
	n.WriterSeqNum = DecodeSequenceNumber(body[8:16], order)
	set, rest, err := DecodeSequenceNumberSet(body[16:], order)
	if err != nil {
		return NackFrag{}, err
	}
	n.FragmentNumberState = FragmentNumberSet{Base: uint32(set.Base), Bitmap: set}
	if len(rest) >= 4 {
		n.Count = order.Uint32(rest[0:4])
	}
	return n, nil
}

// HeartbeatFrag informs a reader of the highest fragment number available
// for a partially-sent sample.
type HeartbeatFrag struct {
	ReaderId     guid.EntityId
	WriterId     guid.EntityId
	WriterSeqNum SequenceNumber
	LastFragmentNum uint32
	Count        uint32
}

func DecodeHeartbeatFrag(body []byte, flags byte) (HeartbeatFrag, error) {
	if len(body) < 8+8+4+4 {
		return HeartbeatFrag{}, errTruncated("HEARTBEAT_FRAG")
	}
	order := byteOrder(flags)
	var h HeartbeatFrag
	copy(h.ReaderId[:], body[0:4])
	copy(h.WriterId[:], body[4:8])
	h.WriterSeqNum = DecodeSequenceNumber(body[8:16], order)
	h.LastFragmentNum = order.Uint32(body[16:20])
	h.Count = order.Uint32(body[20:24])
	return h, nil
}
