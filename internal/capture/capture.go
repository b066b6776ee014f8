// Package capture owns the microphone and turns it into a sequential stream of
// fixed-size audio frames.
//
// The device side (a PortAudio blocking read or a miniaudio callback) only
// pushes frames into a bounded queue. A separate dispatch goroutine drains the
// queue and invokes the caller's callback, so the real-time audio thread never
// waits on network or session logic.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/pkg/audio"
)

// Device is an opened, running input device.
type Device interface {
	// ReadFrame blocks until len(buf) samples have been captured.
	ReadFrame(buf []float32) error

	// Close releases the device and unblocks a pending ReadFrame.
	Close() error
}

// Opener acquires an input device. It either returns a started device or an
// error, never a half-opened one.
type Opener interface {
	Open(sampleRate, blockSize int) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(sampleRate, blockSize int) (Device, error)

func (f OpenerFunc) Open(sampleRate, blockSize int) (Device, error) {
	return f(sampleRate, blockSize)
}

// Error reports a device failure: unavailable, permission denied or a broken
// stream.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config controls frame geometry and queueing.
type Config struct {
	SampleRate int
	BlockSize  int
	QueueDepth int
}

// DefaultConfig is 4096-sample frames at 16 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate: audio.InputSampleRate,
		BlockSize:  audio.InputBlockSize,
		QueueDepth: 8,
	}
}

// Pipeline starts capture sessions on a device opener.
type Pipeline struct {
	logger *zap.Logger
	opener Opener
	cfg    Config
}

func NewPipeline(logger *zap.Logger, opener Opener, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = def.BlockSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	return &Pipeline{logger: logger, opener: opener, cfg: cfg}
}

// Start acquires the input device and begins delivering frames to onFrame,
// one at a time and in capture order.
func (p *Pipeline) Start(onFrame func(audio.Frame)) (*Handle, error) {
	if onFrame == nil {
		return nil, &Error{Op: "start", Err: errors.New("nil frame callback")}
	}

	dev, err := p.opener.Open(p.cfg.SampleRate, p.cfg.BlockSize)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	h := &Handle{
		logger: p.logger,
		dev:    dev,
		frames: make(chan audio.Frame, p.cfg.QueueDepth),
		stop:   make(chan struct{}),
		errCh:  make(chan error, 1),
	}

	h.wg.Add(2)
	go h.readLoop(p.cfg.SampleRate, p.cfg.BlockSize)
	go h.dispatchLoop(onFrame)

	p.logger.Info("Capture started",
		zap.Int("sample_rate", p.cfg.SampleRate),
		zap.Int("block_size", p.cfg.BlockSize))

	return h, nil
}

// Handle is a running capture.
type Handle struct {
	logger *zap.Logger
	dev    Device

	frames chan audio.Frame
	stop   chan struct{}
	errCh  chan error

	wg       sync.WaitGroup
	stopOnce sync.Once

	delivered atomic.Int64
	dropped   atomic.Int64
}

func (h *Handle) readLoop(sampleRate, blockSize int) {
	defer h.wg.Done()

	for {
		buf := make([]float32, blockSize)
		if err := h.dev.ReadFrame(buf); err != nil {
			select {
			case <-h.stop:
			default:
				h.errCh <- &Error{Op: "read", Err: err}
			}
			return
		}

		frame := audio.Frame{Samples: buf, SampleRate: sampleRate}
		select {
		case <-h.stop:
			return
		case h.frames <- frame:
		default:
			// Dispatcher is behind; dropping the newest frame keeps FIFO order.
			n := h.dropped.Add(1)
			h.logger.Debug("Capture queue full, dropping frame", zap.Int64("dropped_total", n))
		}
	}
}

func (h *Handle) dispatchLoop(onFrame func(audio.Frame)) {
	defer h.wg.Done()

	for {
		select {
		case <-h.stop:
			return
		case frame := <-h.frames:
			// stop wins over a frame that was already queued.
			select {
			case <-h.stop:
				return
			default:
			}
			onFrame(frame)
			h.delivered.Add(1)
		}
	}
}

// Err delivers at most one mid-stream device failure.
func (h *Handle) Err() <-chan error {
	return h.errCh
}

// Delivered returns the number of frames handed to the callback.
func (h *Handle) Delivered() int64 {
	return h.delivered.Load()
}

// Dropped returns the number of frames discarded because the callback fell
// behind.
func (h *Handle) Dropped() int64 {
	return h.dropped.Load()
}

// Stop releases the device. It is idempotent and, once it returns, the frame
// callback will not run again. It must not be called from the callback.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		close(h.stop)
		if err := h.dev.Close(); err != nil {
			h.logger.Warn("Error closing capture device", zap.Error(err))
		}
		h.wg.Wait()

		h.logger.Info("Capture stopped",
			zap.Int64("delivered", h.delivered.Load()),
			zap.Int64("dropped", h.dropped.Load()))
	})
}
