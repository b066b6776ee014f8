package assistant

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/internal/capture"
	"github.com/Raikerian/consult-voice/internal/config"
	"github.com/Raikerian/consult-voice/internal/live"
	"github.com/Raikerian/consult-voice/internal/playback"
	"github.com/Raikerian/consult-voice/internal/remote"
	"github.com/Raikerian/consult-voice/internal/remote/gemini"
	"github.com/Raikerian/consult-voice/internal/remote/openai"
	"github.com/Raikerian/consult-voice/internal/transcript"
)

// Module wires devices, the remote dialer, the live session and the service.
var Module = fx.Module("assistant",
	fx.Provide(
		NewDialer,
		NewMicrophone,
		NewSpeaker,
		NewTranscriptStore,
		live.NewSession,
		asLiveSession,
		NewServiceWithLifecycle,
	),
)

func asLiveSession(s *live.Session) LiveSession { return s }

// NewDialer selects the remote service from config.
func NewDialer(cfg *config.Config, logger *zap.Logger) remote.Dialer {
	switch cfg.Remote.Provider {
	case config.ProviderOpenAI:
		var opts []openai.Option
		if u := cfg.Remote.OpenAI.BaseURL; u != "" {
			opts = append(opts, openai.WithBaseURL(u))
		}
		return openai.NewDialer(logger.Named("openai"), opts...)
	default:
		var opts []gemini.Option
		if u := cfg.Remote.Gemini.BaseURL; u != "" {
			opts = append(opts, gemini.WithBaseURL(u))
		}
		return gemini.NewDialer(logger.Named("gemini"), opts...)
	}
}

// NewMicrophone builds the capture pipeline on the configured backend.
func NewMicrophone(cfg *config.Config, logger *zap.Logger) live.Microphone {
	logger = logger.Named("capture")

	var opener capture.Opener
	switch cfg.Capture.Backend {
	case config.BackendMalgo:
		opener = &capture.MalgoOpener{Logger: logger}
	default:
		opener = &capture.PortAudioOpener{Logger: logger}
	}

	ccfg := capture.DefaultConfig()
	ccfg.QueueDepth = cfg.Capture.QueueDepth
	return capture.NewPipeline(logger, opener, ccfg)
}

// NewSpeaker builds the default output device.
func NewSpeaker(cfg *config.Config, logger *zap.Logger) live.Speaker {
	return playback.NewSpeaker(logger.Named("playback"), playback.SpeakerConfig{
		BufferSize: cfg.Playback.BufferSize,
	})
}

func NewTranscriptStore(cfg *config.Config) (*transcript.Store, error) {
	return transcript.NewStore(cfg.Transcript.MaxConsultations)
}

// NewServiceWithLifecycle creates the service and stops any active session
// when the application stops.
func NewServiceWithLifecycle(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, session LiveSession, store *transcript.Store) *Service {
	svc := NewService(logger.Named("assistant"), cfg, session, store)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return svc.Close(ctx)
		},
	})
	return svc
}
