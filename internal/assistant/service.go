// Package assistant is the API the call screen uses to switch the AI
// assistant on and off for a consultation.
package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/internal/config"
	"github.com/Raikerian/consult-voice/internal/live"
	"github.com/Raikerian/consult-voice/internal/transcript"
)

// LiveSession is the part of *live.Session the service drives.
type LiveSession interface {
	Connect(ctx context.Context, cfg live.Config) error
	Disconnect(ctx context.Context) error
	State() live.State
}

// Status describes the assistant for one consultation.
type Status struct {
	ConsultationID string
	Active         bool
	State          live.State
	StartedAt      time.Time
	LastError      string
}

type activeSession struct {
	consultationID string
	startedAt      time.Time
	agg            *transcript.Aggregator
	endOnce        sync.Once
}

// Service runs at most one live session at a time.
type Service struct {
	logger  *zap.Logger
	cfg     *config.Config
	session LiveSession
	store   *transcript.Store

	mu     sync.Mutex
	active *activeSession
	last   Status

	ended chan struct{}
}

func NewService(logger *zap.Logger, cfg *config.Config, session LiveSession, store *transcript.Store) *Service {
	return &Service{
		logger:  logger,
		cfg:     cfg,
		session: session,
		store:   store,
		ended:   make(chan struct{}, 1),
	}
}

// Start connects the assistant for a consultation. It fails with
// ErrSessionAlreadyExists while any consultation is active.
func (s *Service) Start(ctx context.Context, consultationID string) error {
	if consultationID == "" {
		return ErrEmptyConsultationID
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return ErrSessionAlreadyExists
	}
	a := &activeSession{
		consultationID: consultationID,
		startedAt:      time.Now(),
		agg:            transcript.NewAggregator(s.logger, s.store, consultationID, s.cfg.Transcript.FlushAfter),
	}
	s.active = a
	s.mu.Unlock()

	logger := s.logger.With(zap.String("consultation", consultationID))
	logger.Info("Starting assistant", zap.String("provider", s.cfg.Remote.Provider))

	if timeout := s.cfg.Remote.ConnectTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := s.session.Connect(ctx, live.Config{
		AccessCredential: s.cfg.Credential(),
		Model:            s.cfg.Remote.Model,
		Instructions:     s.cfg.Remote.Instructions,
		Voice:            s.cfg.Remote.Voice,
		OnTranscription: func(text string, fromUser bool) {
			logger.Debug("Transcription fragment",
				zap.String("speaker", string(transcript.SpeakerOf(fromUser))),
				zap.String("text", text))
			a.agg.Add(text, fromUser)
		},
		OnError: func(err error) {
			logger.Error("Assistant session failed", zap.String("kind", live.ErrorKind(err)), zap.Error(err))
			s.end(a, err)
		},
	})
	if err != nil {
		s.end(a, err)
		return fmt.Errorf("start assistant for %s: %w", consultationID, err)
	}

	logger.Info("Assistant started")
	return nil
}

// Stop disconnects the assistant of a consultation.
func (s *Service) Stop(ctx context.Context, consultationID string) error {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil || a.consultationID != consultationID {
		return ErrSessionNotFound
	}

	err := s.session.Disconnect(ctx)
	s.end(a, nil)
	if err != nil {
		return fmt.Errorf("stop assistant for %s: %w", consultationID, err)
	}

	s.logger.Info("Assistant stopped",
		zap.String("consultation", consultationID),
		zap.Duration("duration", time.Since(a.startedAt)),
		zap.Int("utterances", len(s.store.Entries(consultationID))))
	return nil
}

// Status reports the assistant state for a consultation.
func (s *Service) Status(consultationID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a := s.active; a != nil && a.consultationID == consultationID {
		return Status{
			ConsultationID: consultationID,
			Active:         true,
			State:          s.session.State(),
			StartedAt:      a.startedAt,
		}
	}
	if s.last.ConsultationID == consultationID {
		return s.last
	}
	return Status{ConsultationID: consultationID, State: live.Disconnected}
}

// Transcript returns the utterances recorded for a consultation.
func (s *Service) Transcript(consultationID string) []transcript.Entry {
	return s.store.Entries(consultationID)
}

// Ended signals each time a session ends, whether stopped or failed.
// Signals coalesce when nobody is receiving.
func (s *Service) Ended() <-chan struct{} {
	return s.ended
}

// Close stops whatever session is active.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return nil
	}
	return s.Stop(ctx, a.consultationID)
}

// end releases the consultation slot once, flushing its transcript.
func (s *Service) end(a *activeSession, err error) {
	a.endOnce.Do(func() {
		a.agg.Close()

		st := Status{
			ConsultationID: a.consultationID,
			State:          live.Disconnected,
			StartedAt:      a.startedAt,
		}
		if err != nil {
			st.LastError = err.Error()
		}

		s.mu.Lock()
		if s.active == a {
			s.active = nil
		}
		s.last = st
		s.mu.Unlock()

		select {
		case s.ended <- struct{}{}:
		default:
		}
	})
}
