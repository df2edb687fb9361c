package wire

import "encoding/binary"

// EncodeSequenceNumber appends the wire representation of n (high/low
// 32-bit halves, per the RTPS specification) to dst.
func EncodeSequenceNumber(dst []byte, n SequenceNumber, order binary.ByteOrder) []byte {
	var buf [8]byte
	order.PutUint32(buf[0:4], uint32(uint64(n)>>32))
	order.PutUint32(buf[4:8], uint32(uint64(n)))
	return append(dst, buf[:]...)
}

// DecodeSequenceNumber reads a SequenceNumber from the front of buf.
func DecodeSequenceNumber(buf []byte, order binary.ByteOrder) SequenceNumber {
	hi := order.Uint32(buf[0:4])
	lo := order.Uint32(buf[4:8])
	return SequenceNumber(uint64(hi)<<32 | uint64(lo))
}

// EncodeSequenceNumberSet appends the wire representation of a
// SequenceNumberSet to dst: base (8 bytes) + numBits (4 bytes) + bitmap
// words (4 bytes each, only as many as needed to cover numBits).
func EncodeSequenceNumberSet(dst []byte, s SequenceNumberSet, order binary.ByteOrder) []byte {
	dst = EncodeSequenceNumber(dst, s.Base, order)
	var numBuf [4]byte
	order.PutUint32(numBuf[:], SequenceNumberSetWidth)
	dst = append(dst, numBuf[:]...)
	words := (SequenceNumberSetWidth + 31) / 32
	for i := 0; i < words; i++ {
		word := s.bitmap[i/2]
		var half uint32
		if i%2 == 0 {
			half = uint32(word >> 32)
		} else {
			half = uint32(word)
		}
		var wbuf [4]byte
		order.PutUint32(wbuf[:], half)
		dst = append(dst, wbuf[:]...)
	}
	return dst
}

// DecodeSequenceNumberSet reads a SequenceNumberSet from the front of buf,
// returning it and the remaining bytes.
func DecodeSequenceNumberSet(buf []byte, order binary.ByteOrder) (SequenceNumberSet, []byte, error) {
	if len(buf) < 12 {
		return SequenceNumberSet{}, nil, errTruncated("sequence number set")
	}
	base := DecodeSequenceNumber(buf, order)
	numBits := order.Uint32(buf[8:12])
	buf = buf[12:]

	words := int((numBits + 31) / 32)
	need := words * 4
	if len(buf) < need {
		return SequenceNumberSet{}, nil, errTruncated("sequence number set bitmap")
	}
	set := NewSequenceNumberSet(base)
	for i := 0; i < words; i++ {
		half := order.Uint32(buf[i*4 : i*4+4])
		wordIdx := i / 2
		if wordIdx >= bitmapWords {
			break
		}
		if i%2 == 0 {
			set.bitmap[wordIdx] |= uint64(half) << 32
		} else {
			set.bitmap[wordIdx] |= uint64(half)
		}
	}
	return set, buf[need:], nil
}
