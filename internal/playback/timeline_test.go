package playback_test

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/consult-voice/internal/playback"
	"github.com/Raikerian/consult-voice/pkg/audio"
)

func readSamples(t *testing.T, tl *playback.Timeline, n int) []int16 {
	t.Helper()
	buf := make([]byte, n*audio.BytesPerSample)
	got, err := tl.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), got)
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}

func TestTimelineSilenceAdvancesClock(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)

	samples := readSamples(t, tl, 240)

	assert.Equal(t, make([]int16, 240), samples)
	assert.EqualValues(t, 240, tl.Now())
}

func TestTimelineRendersAtPosition(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)
	tl.Enqueue(2, []float32{0.5, -0.5})

	samples := readSamples(t, tl, 6)

	assert.Equal(t, []int16{0, 0, 16384, -16384, 0, 0}, samples)
}

func TestTimelineSegmentSpansReads(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)
	tl.Enqueue(0, []float32{0.25, 0.25, 0.25, 0.25})

	first := readSamples(t, tl, 3)
	second := readSamples(t, tl, 3)

	assert.Equal(t, []int16{8192, 8192, 8192}, first)
	assert.Equal(t, []int16{8192, 0, 0}, second)
	assert.Zero(t, tl.Pending())
}

func TestTimelineEnqueueBehindPosition(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)
	readSamples(t, tl, 4)

	start := tl.Enqueue(1, []float32{0.5, 0.5, 0.5})

	assert.EqualValues(t, 4, start)
	assert.Equal(t, []int16{16384, 16384, 16384, 0}, readSamples(t, tl, 4))
}

func TestTimelinePending(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)
	tl.Enqueue(0, make([]float32, 2400))
	tl.Enqueue(2400, make([]float32, 2400))

	assert.Equal(t, 200*time.Millisecond, tl.Pending())

	readSamples(t, tl, 2400)
	assert.Equal(t, 100*time.Millisecond, tl.Pending())
}

func TestTimelineOddBuffer(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)

	n, err := tl.Read(make([]byte, 5))

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.EqualValues(t, 2, tl.Now())
}

func TestTimelineClose(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)
	tl.Enqueue(0, make([]float32, 100))

	require.NoError(t, tl.Close())

	_, err := tl.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, tl.Pending())

	tl.Enqueue(0, make([]float32, 100))
	assert.Zero(t, tl.Pending())
}

func TestSchedulerOnTimeline(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)
	s := playback.NewScheduler(nopLogger(), tl)

	s.Schedule(audio.PlaybackChunk{Samples: []float32{0.5, 0.5}, SampleRate: audio.OutputSampleRate})
	s.Schedule(audio.PlaybackChunk{Samples: []float32{-0.5}, SampleRate: audio.OutputSampleRate})

	assert.Equal(t, []int16{16384, 16384, -16384, 0}, readSamples(t, tl, 4))
}

// pullingOutput lets the device read from the timeline inside Enqueue, after
// the scheduler has sampled Now.
type pullingOutput struct {
	*playback.Timeline
	t    *testing.T
	pull int
}

func (p *pullingOutput) Enqueue(at int64, samples []float32) int64 {
	if p.pull > 0 {
		readSamples(p.t, p.Timeline, p.pull)
		p.pull = 0
	}
	return p.Timeline.Enqueue(at, samples)
}

func TestSchedulerOnTimelineKeepsWholeChunkWhenDevicePulls(t *testing.T) {
	tl := playback.NewTimeline(audio.OutputSampleRate)
	out := &pullingOutput{Timeline: tl, t: t, pull: 480}
	s := playback.NewScheduler(nopLogger(), out)

	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = 0.5
	}
	slot := s.Schedule(audio.PlaybackChunk{Samples: samples, SampleRate: audio.OutputSampleRate})

	assert.Equal(t, 20*time.Millisecond, slot.Start)
	assert.Equal(t, 120*time.Millisecond, s.Next())

	rendered := readSamples(t, tl, 2400+10)
	audible := 0
	for _, v := range rendered {
		if v != 0 {
			audible++
		}
	}
	assert.Equal(t, 2400, audible)
	assert.Zero(t, rendered[2400])
}
