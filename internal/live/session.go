// Package live runs one duplex audio conversation: microphone frames go to the
// remote service, remote audio goes to the speaker and remote text goes to
// the caller.
package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/internal/capture"
	"github.com/Raikerian/consult-voice/internal/observe"
	"github.com/Raikerian/consult-voice/internal/playback"
	"github.com/Raikerian/consult-voice/internal/remote"
	"github.com/Raikerian/consult-voice/pkg/audio"
)

// Microphone starts a capture that calls onFrame sequentially per frame.
type Microphone interface {
	Start(onFrame func(audio.Frame)) (*capture.Handle, error)
}

// Speaker opens the output device.
type Speaker interface {
	Open() (playback.Output, error)
}

// Config is supplied per Connect.
type Config struct {
	AccessCredential string

	// OnTranscription receives remote text. fromUser is true for the
	// transcription of the user's own speech. It runs on the session's event
	// goroutine and must not call Disconnect synchronously.
	OnTranscription func(text string, fromUser bool)

	// OnError receives device and transport failures after cleanup.
	OnError func(err error)

	Model        string
	Instructions string
	Voice        string
}

// Session owns at most one attempt at a time. All methods are safe for
// concurrent use.
type Session struct {
	logger  *zap.Logger
	dialer  remote.Dialer
	mic     Microphone
	speaker Speaker
	metrics *observe.Metrics

	mu    sync.Mutex
	state State
	att   *attempt
}

func NewSession(logger *zap.Logger, dialer remote.Dialer, mic Microphone, speaker Speaker, metrics *observe.Metrics) *Session {
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	return &Session{
		logger:  logger,
		dialer:  dialer,
		mic:     mic,
		speaker: speaker,
		metrics: metrics,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect acquires the speaker, dials the remote service, waits for its open
// handshake and then starts the microphone. It is a no-op while a session is
// connecting or open.
//
// If Disconnect runs while Connect is suspended, Connect returns ErrAborted.
// If ctx ends first, everything acquired so far is released and ctx's error
// is returned. Device and transport failures also reach cfg.OnError.
func (s *Session) Connect(ctx context.Context, cfg Config) error {
	if cfg.AccessCredential == "" {
		return &PreconditionError{Reason: "access credential is empty"}
	}

	s.mu.Lock()
	switch s.state {
	case Connecting, Open:
		s.mu.Unlock()
		s.logger.Debug("Connect ignored, session already active", zap.Stringer("state", s.state))
		return nil
	case Closing, Failed:
		st := s.state
		s.mu.Unlock()
		return &PreconditionError{Reason: "session is " + st.String()}
	}
	att := newAttempt(cfg)
	s.att = att
	s.state = Connecting
	s.mu.Unlock()

	started := time.Now()
	s.logger.Info("Connecting live session", zap.String("model", cfg.Model))

	err := s.connect(ctx, att)
	switch {
	case err == nil:
		s.metrics.RecordConnect(ctx, time.Since(started))
		s.metrics.SessionOpened(ctx)
		s.logger.Info("Live session open", zap.Duration("handshake", time.Since(started)))
		return nil
	case att.isClosed() || errors.Is(err, ErrAborted):
		s.logger.Info("Connect aborted by disconnect")
		return ErrAborted
	case ctx.Err() != nil:
		s.logger.Info("Connect cancelled", zap.Error(ctx.Err()))
		s.release(att)
		return ctx.Err()
	default:
		s.fail(att, err)
		return err
	}
}

func (s *Session) connect(ctx context.Context, att *attempt) error {
	cctx, cancel := context.WithCancel(att.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	out, err := s.speaker.Open()
	if err != nil {
		return &DeviceError{Device: "output", Err: err}
	}
	if !att.setOutput(out, playback.NewScheduler(s.logger, out)) {
		return ErrAborted
	}

	conn, err := s.dialer.Dial(cctx, remote.Options{
		Credential:   att.cfg.AccessCredential,
		Model:        att.cfg.Model,
		Instructions: att.cfg.Instructions,
		Voice:        att.cfg.Voice,
	})
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	if !att.setConn(conn) {
		return ErrAborted
	}

	if err := waitOpen(cctx, conn); err != nil {
		return err
	}

	h, err := s.mic.Start(func(f audio.Frame) { s.sendFrame(att, f) })
	if err != nil {
		return &DeviceError{Device: "microphone", Err: err}
	}
	if !att.setMic(h) {
		return ErrAborted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.att != att || !att.startLoop() {
		return ErrAborted
	}
	s.state = Open
	go s.run(att)
	return nil
}

func waitOpen(ctx context.Context, conn remote.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return &TransportError{Op: "handshake", Err: ctx.Err()}
		case ev, ok := <-conn.Events():
			if !ok {
				return &TransportError{Op: "handshake", Err: closedReason(conn)}
			}
			switch ev.Kind {
			case remote.EventOpen:
				return nil
			case remote.EventError:
				return &TransportError{Op: "handshake", Err: ev.Err}
			}
		}
	}
}

func closedReason(conn remote.Conn) error {
	if err := conn.Err(); err != nil {
		return err
	}
	return ErrRemoteClosed
}

// sendFrame runs on the capture dispatch goroutine.
func (s *Session) sendFrame(att *attempt, f audio.Frame) {
	chunk := audio.Encode(f)
	if err := att.conn.SendAudio(att.ctx, chunk); err != nil {
		if att.ctx.Err() != nil {
			return
		}
		select {
		case att.sendErr <- err:
		default:
		}
		return
	}
	s.metrics.RecordFrameSent(att.ctx, len(chunk.Data))
}

// run is the event loop: the only goroutine that schedules playback.
func (s *Session) run(att *attempt) {
	err := s.loop(att)
	close(att.done)
	if err != nil && att.ctx.Err() == nil {
		s.fail(att, err)
	}
}

func (s *Session) loop(att *attempt) error {
	for {
		select {
		case <-att.ctx.Done():
			return nil
		case err := <-att.sendErr:
			return &TransportError{Op: "send", Err: err}
		case err := <-att.mic.Err():
			return &DeviceError{Device: "microphone", Err: err}
		case ev, ok := <-att.conn.Events():
			if !ok {
				return &TransportError{Op: "receive", Err: closedReason(att.conn)}
			}
			if err := s.handle(att, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(att *attempt, ev remote.Event) error {
	switch ev.Kind {
	case remote.EventAudio:
		slot := att.sched.Schedule(audio.Decode(ev.Audio))
		s.metrics.RecordChunkScheduled(att.ctx, slot.Duration())
	case remote.EventText:
		s.metrics.RecordTranscript(att.ctx, ev.FromUser)
		if cb := att.cfg.OnTranscription; cb != nil {
			cb(ev.Text, ev.FromUser)
		}
	case remote.EventError:
		return &TransportError{Op: "remote", Err: ev.Err}
	}
	return nil
}

// fail moves the session through Failed, releases everything, returns to
// Disconnected and then reports err.
func (s *Session) fail(att *attempt, err error) {
	s.mu.Lock()
	if s.att != att || s.state == Closing || att.isClosed() {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == Open
	s.state = Failed
	s.mu.Unlock()

	kind := ErrorKind(err)
	s.logger.Error("Live session failed", zap.String("kind", kind), zap.Error(err))
	s.metrics.RecordSessionError(context.Background(), kind)
	if wasOpen {
		s.metrics.SessionClosed(context.Background())
	}

	s.teardown(att)

	s.mu.Lock()
	if s.att == att {
		s.att = nil
		s.state = Disconnected
	}
	s.mu.Unlock()

	// Disconnected before the callback, so OnError may reconnect.
	if cb := att.cfg.OnError; cb != nil {
		cb(err)
	}
}

// release tears an attempt down without reporting an error.
func (s *Session) release(att *attempt) {
	s.teardown(att)
	s.mu.Lock()
	if s.att == att {
		s.att = nil
		s.state = Disconnected
	}
	s.mu.Unlock()
}

// Disconnect closes the remote connection and releases both devices. It is
// safe from any state and in any number. If ctx ends before cleanup has
// finished, cleanup continues in the background and ctx's error is returned.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	att := s.att
	if att == nil {
		s.state = Disconnected
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state == Open
	s.state = Closing
	s.mu.Unlock()

	s.logger.Info("Disconnecting live session")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.release(att)
		if wasOpen {
			s.metrics.SessionClosed(context.Background())
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) teardown(att *attempt) {
	att.teardownOnce.Do(func() {
		conn, mic, out, sched, running := att.close()

		att.cancel()
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Debug("Error closing remote connection", zap.Error(err))
			}
		}
		mic.Stop()
		if running {
			<-att.done
		}
		if out != nil {
			if err := out.Close(); err != nil {
				s.logger.Warn("Error closing output device", zap.Error(err))
			}
		}
		if sched != nil {
			sched.Reset()
		}

		s.logger.Info("Live session released")
	})
}

// attempt is everything one Connect acquired. Resources registered after the
// attempt was closed are released immediately by the register call.
type attempt struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	sendErr chan error
	done    chan struct{}

	teardownOnce sync.Once

	mu      sync.Mutex
	closed  bool
	running bool
	out     playback.Output
	sched   *playback.Scheduler
	conn    remote.Conn
	mic     *capture.Handle
}

func newAttempt(cfg Config) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		sendErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (a *attempt) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *attempt) setOutput(out playback.Output, sched *playback.Scheduler) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		_ = out.Close()
		return false
	}
	a.out, a.sched = out, sched
	return true
}

func (a *attempt) setConn(conn remote.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		_ = conn.Close()
		return false
	}
	a.conn = conn
	return true
}

func (a *attempt) setMic(h *capture.Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		h.Stop()
		return false
	}
	a.mic = h
	return true
}

func (a *attempt) startLoop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.running = true
	return true
}

func (a *attempt) close() (remote.Conn, *capture.Handle, playback.Output, *playback.Scheduler, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return a.conn, a.mic, a.out, a.sched, a.running
}
