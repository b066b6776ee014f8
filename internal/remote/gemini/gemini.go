// Package gemini connects live sessions to the Gemini Live API over the
// BidiGenerateContent websocket protocol.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Raikerian/consult-voice/internal/remote"
	"github.com/Raikerian/consult-voice/pkg/audio"
)

var _ remote.Dialer = (*Dialer)(nil)

const (
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	endpointPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// Model turns carry whole seconds of base64 audio per frame.
	readLimit = 16 << 20

	eventBuffer = 64
)

// ErrRemoteClosed is reported when the service ends the connection on its own.
var ErrRemoteClosed = errors.New("gemini: connection closed by server")

// Option configures a Dialer.
type Option func(*Dialer)

// WithBaseURL points the dialer at another websocket endpoint.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = u }
}

// WithKeepalive changes the ping interval. Zero disables pings.
func WithKeepalive(interval time.Duration) Option {
	return func(d *Dialer) { d.keepalive = interval }
}

type Dialer struct {
	logger    *zap.Logger
	baseURL   string
	keepalive time.Duration
}

func NewDialer(logger *zap.Logger, opts ...Option) *Dialer {
	d := &Dialer{
		logger:    logger,
		baseURL:   DefaultBaseURL,
		keepalive: keepaliveInterval,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial opens the websocket and sends the setup message. The returned Conn
// emits EventOpen once the server acknowledges the setup.
func (d *Dialer) Dial(ctx context.Context, opts remote.Options) (remote.Conn, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	endpoint := d.baseURL + endpointPath + "?key=" + url.QueryEscape(opts.Credential)
	ws, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		logger: d.logger.With(zap.String("model", model)),
		ws:     ws,
		events: make(chan remote.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
	}

	if err := c.writeJSON(ctx, newSetup(model, opts)); err != nil {
		cancel()
		_ = ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error { return c.receiveLoop(gctx) })
	if d.keepalive > 0 {
		g.Go(func() error { return c.keepaliveLoop(gctx, d.keepalive) })
	}
	go func() {
		c.finish(g.Wait())
	}()

	c.logger.Debug("Gemini connection dialed")
	return c, nil
}

func newSetup(model string, opts remote.Options) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if opts.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: opts.Instructions}}}
	}
	if opts.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: opts.Voice}},
		}
	}
	return msg
}

type conn struct {
	logger *zap.Logger
	ws     *websocket.Conn
	events chan remote.Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	err     error
	closing bool

	// owned by receiveLoop
	turnText        []string
	turnTranscribed bool
}

func (c *conn) Events() <-chan remote.Event { return c.events }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendAudio sends one PCM chunk as a realtimeInput media chunk.
func (c *conn) SendAudio(ctx context.Context, chunk audio.EncodedChunk) error {
	if c.isClosing() {
		return remote.ErrClosed
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []blob{{MIMEType: chunk.MIMEType(), Data: chunk.Base64()}},
		},
	}
	if err := c.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

// Close sends a normal closure frame and waits for the loops to exit.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err := c.ws.Close(websocket.StatusNormalClosure, "session closed")
	c.cancel()
	<-c.done

	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		return fmt.Errorf("gemini: close: %w", err)
	}
	return nil
}

func (c *conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *conn) finish(err error) {
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
		c.logger.Warn("Gemini connection ended", zap.Error(err))
	} else {
		c.logger.Debug("Gemini connection closed")
	}
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *conn) emit(ctx context.Context, ev remote.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) receiveLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if c.isClosing() {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return ErrRemoteClosed
			}
			return fmt.Errorf("gemini: read: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Skipping malformed server message", zap.Error(err))
			continue
		}
		if err := c.dispatch(ctx, &msg); err != nil {
			return err
		}
	}
}

func (c *conn) dispatch(ctx context.Context, msg *serverMessage) error {
	if msg.SetupComplete != nil {
		if err := c.emit(ctx, remote.Event{Kind: remote.EventOpen}); err != nil {
			return err
		}
	}
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		err := fmt.Errorf("gemini: server error %d: %s", msg.Error.Code, text)
		if err := c.emit(ctx, remote.Event{Kind: remote.EventError, Err: err}); err != nil {
			return err
		}
	}
	if msg.ServerContent != nil {
		return c.dispatchContent(ctx, msg.ServerContent)
	}
	return nil
}

func (c *conn) dispatchContent(ctx context.Context, sc *serverContent) error {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				chunk, err := audio.DecodeBase64(p.InlineData.Data, audio.ParseRate(p.InlineData.MIMEType, audio.OutputSampleRate))
				if err != nil {
					c.logger.Debug("Skipping undecodable audio part", zap.Error(err))
				} else if len(chunk.Data) > 0 {
					if err := c.emit(ctx, remote.Event{Kind: remote.EventAudio, Audio: chunk}); err != nil {
						return err
					}
				}
			}
			if p.Text != "" {
				c.turnText = append(c.turnText, p.Text)
			}
		}
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		c.turnTranscribed = true
		if err := c.emit(ctx, remote.Event{Kind: remote.EventText, Text: t.Text}); err != nil {
			return err
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		if err := c.emit(ctx, remote.Event{Kind: remote.EventText, Text: t.Text, FromUser: true}); err != nil {
			return err
		}
	}
	if sc.TurnComplete || sc.Interrupted {
		return c.endTurn(ctx)
	}
	return nil
}

// endTurn emits the model's text parts only when the turn carried no output
// transcription, so the same speech is never reported twice.
func (c *conn) endTurn(ctx context.Context) error {
	text, transcribed := c.turnText, c.turnTranscribed
	c.turnText, c.turnTranscribed = nil, false
	if transcribed {
		return nil
	}
	for _, t := range text {
		if err := c.emit(ctx, remote.Event{Kind: remote.EventText, Text: t}); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) keepaliveLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.logger.Debug("Keepalive ping failed", zap.Error(err))
			}
		}
	}
}
