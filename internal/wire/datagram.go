package wire

import "github.com/rtpsgo/rtps/internal/guid"

// DecodingContext accumulates the per-datagram state that INFO_TS and
// INFO_DST submessages mutate: the source timestamp and destination
// GuidPrefix applying to subsequent submessages in the same datagram.
type DecodingContext struct {
	SourcePrefix guid.GuidPrefix
	HasTimestamp bool
	Timestamp    Time
	HasDestination bool
	Destination  guid.GuidPrefix
}

// Submessage is one decoded submessage plus the decoding context in effect
// when it was parsed.
type Submessage struct {
	Header  SubmessageHeader
	Body    []byte
	Context DecodingContext
}

// Submessages iterates the submessage stream following the datagram
// header, applying INFO_TS/INFO_DST to the running DecodingContext as it
// goes: processing within one datagram is strictly sequential. INFO_TS and
// INFO_DST submessages themselves are also yielded, so callers may observe
// them if needed; each carries the context in effect before it, and its
// own effect on Context applies to every Submessage that follows it.
func Submessages(sourcePrefix guid.GuidPrefix, buf []byte) ([]Submessage, error) {
	ctx := DecodingContext{SourcePrefix: sourcePrefix}
	var out []Submessage
	for len(buf) > 0 {
		hdr, rest, err := DecodeSubmessageHeader(buf)
		if err != nil {
			return out, err
		}
		body, rest, err := hdr.Body(rest)
		if err != nil {
			return out, err
		}
		buf = rest

		out = append(out, Submessage{Header: hdr, Body: body, Context: ctx})

		switch hdr.Id {
		case SubmessageInfoTimestamp:
			ts := DecodeInfoTimestamp(body, hdr.Flags)
			ctx.HasTimestamp = !ts.Invalidate
			ctx.Timestamp = ts.Timestamp
		case SubmessageInfoDestination:
			dst := DecodeInfoDestination(body)
			ctx.HasDestination = true
			ctx.Destination = dst.GuidPrefix
		}
	}
	return out, nil
}
