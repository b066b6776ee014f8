package transcript_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/consult-voice/internal/transcript"
)

func newAggregator(t *testing.T, flushAfter time.Duration) (*transcript.Aggregator, *transcript.Store) {
	t.Helper()
	store, err := transcript.NewStore(8)
	require.NoError(t, err)
	agg := transcript.NewAggregator(zaptest.NewLogger(t), store, "c1", flushAfter)
	t.Cleanup(agg.Close)
	return agg, store
}

func texts(entries []transcript.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Speaker) + ": " + e.Text
	}
	return out
}

func TestAggregatorMergesFragments(t *testing.T) {
	agg, store := newAggregator(t, time.Hour)

	agg.Add(" J'ai", true)
	agg.Add(" mal à", true)
	agg.Add(" la tête", true)
	agg.Close()

	assert.Equal(t, []string{"user: J'ai mal à la tête"}, texts(store.Entries("c1")))
}

func TestAggregatorSplitsOnSpeakerChange(t *testing.T) {
	agg, store := newAggregator(t, time.Hour)

	agg.Add("Bonjour.", true)
	agg.Add("Bonjour,", false)
	agg.Add("comment allez-vous ?", false)
	agg.Add("Mal.", true)
	agg.Close()

	assert.Equal(t, []string{
		"user: Bonjour.",
		"assistant: Bonjour, comment allez-vous ?",
		"user: Mal.",
	}, texts(store.Entries("c1")))
}

func TestAggregatorFlushesAfterSilence(t *testing.T) {
	agg, store := newAggregator(t, 30*time.Millisecond)

	agg.Add("Première phrase.", false)
	require.Eventually(t, func() bool { return len(store.Entries("c1")) == 1 }, time.Second, 5*time.Millisecond)

	agg.Add("Deuxième phrase.", false)
	require.Eventually(t, func() bool { return len(store.Entries("c1")) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{
		"assistant: Première phrase.",
		"assistant: Deuxième phrase.",
	}, texts(store.Entries("c1")))
}

func TestAggregatorIgnoresAfterClose(t *testing.T) {
	agg, store := newAggregator(t, time.Hour)

	agg.Close()
	agg.Add("late", true)
	agg.Close()

	assert.Empty(t, store.Entries("c1"))
}

func TestAggregatorSkipsEmptyFragments(t *testing.T) {
	agg, store := newAggregator(t, time.Hour)

	agg.Add("", true)
	agg.Add("   ", true)
	agg.Close()

	assert.Empty(t, store.Entries("c1"))
}
