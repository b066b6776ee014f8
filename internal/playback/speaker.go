package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/pkg/audio"
)

// oto allows one context per process; its format is fixed by the first caller.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

const otoReadyTimeout = 5 * time.Second

func sharedContext(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: audio.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   bufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("create audio context: %w", err)
			return
		}
		select {
		case <-ready:
		case <-time.After(otoReadyTimeout):
			otoErr = errors.New("audio context not ready")
			return
		}
		otoCtx, otoRate = ctx, sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("audio context already running at %d Hz, want %d Hz", otoRate, sampleRate)
	}
	return otoCtx, nil
}

// SpeakerConfig controls the output device.
type SpeakerConfig struct {
	SampleRate int
	// BufferSize trades latency for robustness against glitches.
	BufferSize time.Duration
}

// Speaker opens outputs on the default audio device.
type Speaker struct {
	logger *zap.Logger
	cfg    SpeakerConfig
}

func NewSpeaker(logger *zap.Logger, cfg SpeakerConfig) *Speaker {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.OutputSampleRate
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100 * time.Millisecond
	}
	return &Speaker{logger: logger, cfg: cfg}
}

// Open resumes the device and starts a player pulling from a fresh timeline.
func (s *Speaker) Open() (Output, error) {
	ctx, err := sharedContext(s.cfg.SampleRate, s.cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	if err := ctx.Resume(); err != nil {
		return nil, fmt.Errorf("resume audio context: %w", err)
	}

	tl := NewTimeline(s.cfg.SampleRate)
	player := ctx.NewPlayer(tl)
	player.Play()

	s.logger.Info("Speaker opened",
		zap.Int("sample_rate", s.cfg.SampleRate),
		zap.Duration("buffer", s.cfg.BufferSize))

	return &speakerOutput{Timeline: tl, logger: s.logger, ctx: ctx, player: player}, nil
}

type speakerOutput struct {
	*Timeline
	logger *zap.Logger
	ctx    *oto.Context
	player *oto.Player
	once   sync.Once
}

// Close stops the player and suspends the device. The oto context itself
// lives for the rest of the process.
func (o *speakerOutput) Close() error {
	var err error
	o.once.Do(func() {
		_ = o.Timeline.Close()
		o.player.Pause()
		err = errors.Join(o.player.Close(), o.ctx.Suspend())
		o.logger.Info("Speaker closed")
	})
	return err
}
