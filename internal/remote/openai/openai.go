// Package openai connects live sessions to the OpenAI Realtime API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/coder/websocket"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/internal/remote"
	"github.com/Raikerian/consult-voice/pkg/audio"
)

var _ remote.Dialer = (*Dialer)(nil)

const (
	DefaultModel = "gpt-4o-realtime-preview"

	// The realtime API only accepts 24 kHz pcm16 input.
	inputSampleRate = 24_000

	eventBuffer = 64
)

// ErrRemoteClosed is reported when the service ends the connection on its own.
var ErrRemoteClosed = errors.New("openai: connection closed by server")

// Option configures a Dialer.
type Option func(*Dialer)

// WithBaseURL points the dialer at another realtime endpoint.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = u }
}

type Dialer struct {
	logger  *zap.Logger
	baseURL string
}

func NewDialer(logger *zap.Logger, opts ...Option) *Dialer {
	d := &Dialer{logger: logger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial connects and configures the realtime session. The returned Conn emits
// EventOpen once the server has acknowledged the session.
func (d *Dialer) Dial(ctx context.Context, opts remote.Options) (remote.Conn, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	cfg := openairt.DefaultConfig(opts.Credential)
	if d.baseURL != "" {
		cfg.BaseURL = d.baseURL
	}
	client := openairt.NewClientWithConfig(cfg)

	rt, err := client.Connect(ctx, openairt.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("openai: connect: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		logger: d.logger.With(zap.String("model", model)),
		rt:     rt,
		events: make(chan remote.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
	}

	if err := rt.SendMessage(ctx, newSessionUpdate(opts)); err != nil {
		cancel()
		_ = rt.Close()
		return nil, fmt.Errorf("openai: configure session: %w", err)
	}

	go c.receiveLoop()

	c.logger.Debug("OpenAI realtime connection dialed")
	return c, nil
}

func newSessionUpdate(opts remote.Options) *openairt.SessionUpdateEvent {
	session := openairt.ClientSession{
		Modalities:        []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
		Instructions:      opts.Instructions,
		InputAudioFormat:  openairt.AudioFormatPcm16,
		OutputAudioFormat: openairt.AudioFormatPcm16,
		InputAudioTranscription: &openairt.InputAudioTranscription{
			Model: openai.Whisper1,
		},
	}
	if opts.Voice != "" {
		session.Voice = openairt.Voice(opts.Voice)
	}
	return &openairt.SessionUpdateEvent{Session: session}
}

type conn struct {
	logger *zap.Logger
	rt     *openairt.Conn
	events chan remote.Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	err     error
	closing bool
	opened  bool
}

func (c *conn) Events() <-chan remote.Event { return c.events }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendAudio resamples the chunk to 24 kHz and appends it to the input buffer.
func (c *conn) SendAudio(ctx context.Context, chunk audio.EncodedChunk) error {
	if c.isClosing() {
		return remote.ErrClosed
	}
	pcm := chunk.Data
	if chunk.SampleRate != inputSampleRate {
		pcm = audio.ResampleMono16(pcm, chunk.SampleRate, inputSampleRate)
	}
	ev := &openairt.InputAudioBufferAppendEvent{
		Audio: audio.EncodedChunk{Data: pcm, SampleRate: inputSampleRate}.Base64(),
	}
	if err := c.rt.SendMessage(ctx, ev); err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err := c.rt.Close()
	c.cancel()
	<-c.done

	if err != nil {
		return fmt.Errorf("openai: close: %w", err)
	}
	return nil
}

func (c *conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *conn) receiveLoop() {
	err := c.readEvents()

	c.mu.Lock()
	if c.closing {
		err = nil
	}
	c.err = err
	c.mu.Unlock()

	c.cancel()
	close(c.events)
	close(c.done)

	if err != nil {
		c.logger.Warn("OpenAI realtime connection ended", zap.Error(err))
	}
}

func (c *conn) readEvents() error {
	for {
		msg, err := c.rt.ReadMessage(c.ctx)
		if err != nil {
			if c.isClosing() {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return ErrRemoteClosed
			}
			return fmt.Errorf("openai: read: %w", err)
		}
		if ev, ok := c.translate(msg); ok {
			select {
			case c.events <- ev:
			case <-c.ctx.Done():
				return nil
			}
		}
	}
}

func (c *conn) translate(msg openairt.ServerEvent) (remote.Event, bool) {
	switch msg.ServerEventType() {
	case openairt.ServerEventTypeSessionCreated, openairt.ServerEventTypeSessionUpdated:
		c.mu.Lock()
		first := !c.opened
		c.opened = true
		c.mu.Unlock()
		return remote.Event{Kind: remote.EventOpen}, first

	case openairt.ServerEventTypeResponseAudioDelta:
		delta := msg.(openairt.ResponseAudioDeltaEvent)
		chunk, err := audio.DecodeBase64(delta.Delta, audio.OutputSampleRate)
		if err != nil {
			c.logger.Debug("Skipping undecodable audio delta", zap.Error(err))
			return remote.Event{}, false
		}
		return remote.Event{Kind: remote.EventAudio, Audio: chunk}, len(chunk.Data) > 0

	case openairt.ServerEventTypeResponseAudioTranscriptDone:
		done := msg.(openairt.ResponseAudioTranscriptDoneEvent)
		return remote.Event{Kind: remote.EventText, Text: done.Transcript}, done.Transcript != ""

	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		done := msg.(openairt.ConversationItemInputAudioTranscriptionCompletedEvent)
		return remote.Event{Kind: remote.EventText, Text: done.Transcript, FromUser: true}, done.Transcript != ""

	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionFailed:
		failed := msg.(openairt.ConversationItemInputAudioTranscriptionFailedEvent)
		c.logger.Warn("User audio transcription failed",
			zap.String("item_id", failed.ItemID),
			zap.String("error", failed.Error.Message))
		return remote.Event{}, false

	case openairt.ServerEventTypeError:
		e := msg.(openairt.ErrorEvent)
		return remote.Event{Kind: remote.EventError, Err: fmt.Errorf("openai: server error: %s", e.Error.Message)}, true
	}
	return remote.Event{}, false
}
