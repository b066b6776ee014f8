package transcript_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/consult-voice/internal/transcript"
)

func TestStoreAppendAndEntries(t *testing.T) {
	s, err := transcript.NewStore(4)
	require.NoError(t, err)

	now := time.Now()
	s.Append("c1", transcript.Entry{Speaker: transcript.SpeakerUser, Text: "Bonjour docteur", At: now})
	s.Append("c1", transcript.Entry{Speaker: transcript.SpeakerAssistant, Text: "Bonjour", At: now})

	entries := s.Entries("c1")
	require.Len(t, entries, 2)
	assert.Equal(t, "Bonjour docteur", entries[0].Text)
	assert.Equal(t, transcript.SpeakerAssistant, entries[1].Speaker)

	entries[0].Text = "mutated"
	assert.Equal(t, "Bonjour docteur", s.Entries("c1")[0].Text, "Entries returns a copy")

	assert.Nil(t, s.Entries("unknown"))
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := transcript.NewStore(2)
	require.NoError(t, err)

	s.Append("c1", transcript.Entry{Text: "one"})
	s.Append("c2", transcript.Entry{Text: "two"})
	s.Append("c1", transcript.Entry{Text: "one again"})
	s.Append("c3", transcript.Entry{Text: "three"})

	assert.Equal(t, 2, s.Len())
	assert.Len(t, s.Entries("c1"), 2)
	assert.Nil(t, s.Entries("c2"))
	assert.Len(t, s.Entries("c3"), 1)
}

func TestStoreRemove(t *testing.T) {
	s, err := transcript.NewStore(2)
	require.NoError(t, err)

	s.Append("c1", transcript.Entry{Text: "one"})
	s.Remove("c1")

	assert.Zero(t, s.Len())
}

func TestNewStoreRejectsInvalidSize(t *testing.T) {
	_, err := transcript.NewStore(0)
	assert.Error(t, err)
}

func TestSpeakerOf(t *testing.T) {
	assert.Equal(t, transcript.SpeakerUser, transcript.SpeakerOf(true))
	assert.Equal(t, transcript.SpeakerAssistant, transcript.SpeakerOf(false))
}
