package assistant_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/consult-voice/internal/assistant"
	"github.com/Raikerian/consult-voice/internal/capture"
	"github.com/Raikerian/consult-voice/internal/live"
	"github.com/Raikerian/consult-voice/internal/playback"
	"github.com/Raikerian/consult-voice/internal/remote"
	"github.com/Raikerian/consult-voice/internal/transcript"
	"github.com/Raikerian/consult-voice/pkg/audio"
)

type idleDevice struct {
	closed chan struct{}
	once   sync.Once
}

func (d *idleDevice) ReadFrame([]float32) error {
	<-d.closed
	return errors.New("device closed")
}

func (d *idleDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

type timelineSpeaker struct{}

func (timelineSpeaker) Open() (playback.Output, error) {
	return playback.NewTimeline(audio.OutputSampleRate), nil
}

type scriptedConn struct {
	events chan remote.Event
}

func (c *scriptedConn) Events() <-chan remote.Event                         { return c.events }
func (c *scriptedConn) Err() error                                          { return nil }
func (c *scriptedConn) SendAudio(context.Context, audio.EncodedChunk) error { return nil }
func (c *scriptedConn) Close() error                                        { return nil }

type scriptedDialer struct {
	mu    sync.Mutex
	conns []*scriptedConn
}

func (d *scriptedDialer) Dial(context.Context, remote.Options) (remote.Conn, error) {
	c := &scriptedConn{events: make(chan remote.Event, 4)}
	c.events <- remote.Event{Kind: remote.EventOpen}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *scriptedDialer) last() *scriptedConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func TestStartAgainAfterSessionFailure(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()

	mic := capture.NewPipeline(logger, capture.OpenerFunc(func(int, int) (capture.Device, error) {
		return &idleDevice{closed: make(chan struct{})}, nil
	}), capture.DefaultConfig())
	dialer := &scriptedDialer{}
	session := live.NewSession(logger, dialer, mic, timelineSpeaker{}, nil)

	store, err := transcript.NewStore(cfg.Transcript.MaxConsultations)
	require.NoError(t, err)
	svc := assistant.NewService(logger, cfg, session, store)
	ctx := context.Background()
	t.Cleanup(func() { _ = svc.Close(ctx) })

	require.NoError(t, svc.Start(ctx, "c1"))
	dialer.last().events <- remote.Event{Kind: remote.EventError, Err: errors.New("quota exceeded")}

	select {
	case <-svc.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}

	require.NoError(t, svc.Start(ctx, "c1"))
	st := svc.Status("c1")
	assert.True(t, st.Active)
	assert.Equal(t, live.Open, st.State)
}
