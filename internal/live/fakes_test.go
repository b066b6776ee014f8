package live_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Raikerian/consult-voice/internal/capture"
	"github.com/Raikerian/consult-voice/internal/playback"
	"github.com/Raikerian/consult-voice/internal/remote"
	"github.com/Raikerian/consult-voice/pkg/audio"
)

// fakeConn is a remote connection driven by the test.
type fakeConn struct {
	events chan remote.Event
	sent   chan audio.EncodedChunk

	mu      sync.Mutex
	err     error
	sendErr error
	closes  int
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan remote.Event, 16),
		sent:   make(chan audio.EncodedChunk, 64),
	}
}

func (c *fakeConn) Events() <-chan remote.Event { return c.events }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) SendAudio(_ context.Context, chunk audio.EncodedChunk) error {
	c.mu.Lock()
	closed, sendErr := c.closes > 0, c.sendErr
	c.mu.Unlock()
	if closed {
		return remote.ErrClosed
	}
	if sendErr != nil {
		return sendErr
	}
	select {
	case c.sent <- chunk:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.end(nil)
	return nil
}

func (c *fakeConn) push(ev remote.Event) {
	c.events <- ev
}

// end closes the event stream as the remote would.
func (c *fakeConn) end(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.events)
	})
}

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeDialer struct {
	conn *fakeConn
	err  error

	mu     sync.Mutex
	dials  []remote.Options
	dialed chan struct{}
}

func newFakeDialer(conn *fakeConn) *fakeDialer {
	return &fakeDialer{conn: conn, dialed: make(chan struct{}, 8)}
}

func (d *fakeDialer) Dial(_ context.Context, opts remote.Options) (remote.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, opts)
	d.mu.Unlock()
	d.dialed <- struct{}{}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) calls() []remote.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]remote.Options(nil), d.dials...)
}

// fakeMic opens devices that read from the test's frames and fail channels.
type fakeMic struct {
	openErr error

	frames chan []float32
	fail   chan error

	opens    atomic.Int32
	releases atomic.Int32
}

func newFakeMic() *fakeMic {
	return &fakeMic{
		frames: make(chan []float32, 4),
		fail:   make(chan error, 1),
	}
}

func (m *fakeMic) Open(_, _ int) (capture.Device, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opens.Add(1)
	return &fakeDevice{mic: m, closed: make(chan struct{})}, nil
}

type fakeDevice struct {
	mic    *fakeMic
	closed chan struct{}
	once   sync.Once
}

func (d *fakeDevice) ReadFrame(buf []float32) error {
	select {
	case f := <-d.mic.frames:
		copy(buf, f)
		return nil
	case err := <-d.mic.fail:
		return err
	case <-d.closed:
		return errors.New("device closed")
	}
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() {
		d.mic.releases.Add(1)
		close(d.closed)
	})
	return nil
}

type enqueued struct {
	at      int64
	samples []float32
}

type fakeOutput struct {
	mu     sync.Mutex
	queued []enqueued
	closes int
}

func (o *fakeOutput) SampleRate() int { return audio.OutputSampleRate }
func (o *fakeOutput) Now() int64      { return 0 }

func (o *fakeOutput) Enqueue(at int64, samples []float32) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued = append(o.queued, enqueued{at: at, samples: samples})
	return at
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	return nil
}

func (o *fakeOutput) snapshot() []enqueued {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]enqueued(nil), o.queued...)
}

func (o *fakeOutput) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}

type fakeSpeaker struct {
	out     *fakeOutput
	openErr error
	opens   atomic.Int32
}

func (s *fakeSpeaker) Open() (playback.Output, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opens.Add(1)
	return s.out, nil
}
