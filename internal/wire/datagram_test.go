package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsgo/rtps/internal/guid"
)

func Test_SubmessagesAppliesInfoDestinationToFollowingSubmessages(t *testing.T) {
	var buf []byte

	destBody := make([]byte, 12)
	destBody[0] = 0x42
	buf = append(buf, SubmessageHeader{Id: SubmessageInfoDestination, OctetsToNextHeader: uint16(len(destBody))}.Encode(nil)...)
	buf = append(buf, destBody...)

	hb := Heartbeat{WriterId: guid.EntityId{0, 0, 1, 0x02}, First: 1, Last: 1, Count: 1}
	hbBody := hb.Encode(nil, binary.BigEndian)
	buf = append(buf, SubmessageHeader{Id: SubmessageHeartbeat, OctetsToNextHeader: uint16(len(hbBody))}.Encode(nil)...)
	buf = append(buf, hbBody...)

	msgs, err := Submessages(guid.GuidPrefix{}, buf)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.False(t, msgs[0].Context.HasDestination)
	assert.True(t, msgs[1].Context.HasDestination)
	assert.Equal(t, byte(0x42), msgs[1].Context.Destination[0])
}

func Test_SubmessagesSequentialOrderPreserved(t *testing.T) {
	var buf []byte
	for i := 0; i < 3; i++ {
		gap := Gap{WriterId: guid.EntityId{0, 0, byte(i + 1), 0x02}, GapStart: SequenceNumber(i)}
		body := gap.Encode(nil, binary.BigEndian)
		buf = append(buf, SubmessageHeader{Id: SubmessageGap, OctetsToNextHeader: uint16(len(body))}.Encode(nil)...)
		buf = append(buf, body...)
	}

	msgs, err := Submessages(guid.GuidPrefix{}, buf)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		g, err := DecodeGap(m.Body, 0)
		require.NoError(t, err)
		assert.Equal(t, byte(i+1), g.WriterId[2])
	}
}

func Test_SubmessagesRejectsTruncatedHeader(t *testing.T) {
	_, err := Submessages(guid.GuidPrefix{}, []byte{0x07, 0x00})
	assert.Error(t, err)
}
