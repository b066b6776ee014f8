// Package playback schedules decoded audio on the speaker so that chunks play
// back-to-back in arrival order without gaps or overlaps.
package playback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/pkg/audio"
)

// Output is an opened speaker with its own clock, measured in samples at
// SampleRate.
type Output interface {
	SampleRate() int
	Now() int64
	// Enqueue places samples at max(at, Now()) and returns that position.
	Enqueue(at int64, samples []float32) int64
	Close() error
}

// Slot is where a chunk landed on the output clock.
type Slot struct {
	Start time.Duration
	End   time.Duration
}

// Duration is End-Start.
func (s Slot) Duration() time.Duration {
	return s.End - s.Start
}

// Clock is the next free start position on the output. It only moves forward,
// except on Reset.
type Clock struct {
	next int64
	rate int
}

// Next returns the next free start time.
func (c Clock) Next() time.Duration {
	return samplesToDuration(c.next, c.rate)
}

// Scheduler owns one Output and its Clock. Schedule calls are serialized, so
// chunks always start in the order Schedule was called.
type Scheduler struct {
	logger *zap.Logger
	out    Output

	mu        sync.Mutex
	clock     Clock
	scheduled int64
}

func NewScheduler(logger *zap.Logger, out Output) *Scheduler {
	return &Scheduler{
		logger: logger,
		out:    out,
		clock:  Clock{rate: out.SampleRate()},
	}
}

// Schedule queues chunk at max(now, next) and advances the clock by the
// chunk's length. It never waits for audible playback.
func (s *Scheduler) Schedule(chunk audio.PlaybackChunk) Slot {
	rate := s.out.SampleRate()
	samples := chunk.Samples
	if chunk.SampleRate > 0 && chunk.SampleRate != rate {
		samples = audio.Resample(samples, chunk.SampleRate, rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.out.Now(), s.clock.next)
	if len(samples) == 0 {
		return Slot{Start: samplesToDuration(start, rate), End: samplesToDuration(start, rate)}
	}

	start = s.out.Enqueue(start, samples)
	if start > s.clock.next && s.clock.next > 0 {
		s.logger.Debug("Playback underrun, chunk arrived late",
			zap.Duration("gap", samplesToDuration(start-s.clock.next, rate)))
	}
	s.clock.next = start + int64(len(samples))
	s.scheduled++

	return Slot{
		Start: samplesToDuration(start, rate),
		End:   samplesToDuration(s.clock.next, rate),
	}
}

// Next returns the next free start time on the output clock.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Next()
}

// Clock returns a copy of the current clock.
func (s *Scheduler) Clock() Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Scheduled returns how many chunks have been queued since the last Reset.
func (s *Scheduler) Scheduled() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Reset rewinds the clock to zero. Only session teardown calls it.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock.next = 0
	s.scheduled = 0
}
