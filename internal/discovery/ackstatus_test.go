package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rtpsgo/rtps/internal/guid"
)

func Test_AckStatusUnmatchAllClearsEveryEntryButKeepsThemRelevant(t *testing.T) {
	s := NewAckStatus()
	p1 := guid.GuidPrefix{1, 2, 3}
	p2 := guid.GuidPrefix{4, 5, 6}

	s.AddOrUpdate(p1, false)
	s.AddOrUpdate(p2, true)
	assert.True(t, s.IsMatched(p2))

	s.UnmatchAll()
	assert.False(t, s.IsMatched(p2), "unmatch_all must flip every entry back to unacked")
	assert.True(t, s.IsRelevantParticipant(p2), "unmatch_all must not remove the entry")

	s.Remove(p1)
	assert.False(t, s.IsRelevantParticipant(p1), "remove must drop the entry entirely")
}

func Test_AckStatusIsMatchedFalseForUnknownParticipant(t *testing.T) {
	s := NewAckStatus()
	assert.False(t, s.IsMatched(guid.GuidPrefix{9}))
	assert.False(t, s.IsRelevantParticipant(guid.GuidPrefix{9}))
}

func Test_AckStatusAddOrUpdateOverwritesExistingEntry(t *testing.T) {
	s := NewAckStatus()
	prefix := guid.GuidPrefix{7}

	s.AddOrUpdate(prefix, true)
	assert.True(t, s.IsMatched(prefix))

	s.AddOrUpdate(prefix, false)
	assert.False(t, s.IsMatched(prefix))
	assert.True(t, s.IsRelevantParticipant(prefix))
}
