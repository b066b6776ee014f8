package playback

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/Raikerian/consult-voice/pkg/audio"
)

// Timeline is the output clock. The audio device pulls PCM16 from it through
// Read; every pulled sample advances Now by one. Enqueued segments are
// rendered at their sample positions and silence fills the rest, so the
// clock keeps running whether or not anything is scheduled.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	queue  []segment
	closed bool
}

type segment struct {
	start   int64
	samples []float32
}

func (s segment) end() int64 {
	return s.start + int64(len(s.samples))
}

func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate}
}

func (t *Timeline) SampleRate() int {
	return t.rate
}

// Now returns the number of samples handed to the device so far.
func (t *Timeline) Now() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Enqueue places samples on the timeline at sample position at, or at the
// current position if the device already read past it, and returns where
// they start. Callers enqueue in non-decreasing, non-overlapping order.
func (t *Timeline) Enqueue(at int64, samples []float32) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := max(at, t.pos)
	if len(samples) == 0 || t.closed {
		return start
	}
	t.queue = append(t.queue, segment{start: start, samples: samples})
	return start
}

// Pending returns how much scheduled audio has not been pulled yet.
func (t *Timeline) Pending() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return 0
	}
	left := t.queue[len(t.queue)-1].end() - t.pos
	if left <= 0 {
		return 0
	}
	return samplesToDuration(left, t.rate)
}

// Read renders mono signed 16-bit little-endian PCM into p.
func (t *Timeline) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, io.EOF
	}

	n := len(p) / audio.BytesPerSample
	clear(p[:n*audio.BytesPerSample])
	from, to := t.pos, t.pos+int64(n)

	for _, seg := range t.queue {
		if seg.start >= to {
			break
		}
		lo := max(seg.start, from)
		hi := min(seg.end(), to)
		for s := lo; s < hi; s++ {
			v := audio.EncodeSample(seg.samples[s-seg.start])
			binary.LittleEndian.PutUint16(p[(s-from)*audio.BytesPerSample:], uint16(v))
		}
	}

	t.pos = to
	played := 0
	for played < len(t.queue) && t.queue[played].end() <= t.pos {
		played++
	}
	t.queue = t.queue[played:]

	return n * audio.BytesPerSample, nil
}

// Close drops everything still queued and makes Read report io.EOF.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.queue = nil
	return nil
}

func samplesToDuration(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
