package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// PortAudioOpener opens the default input device as a blocking float32
// stream whose buffer is exactly one frame.
type PortAudioOpener struct {
	Logger *zap.Logger
}

func (o PortAudioOpener) Open(sampleRate, blockSize int) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	buf := make([]float32, blockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), blockSize, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &portAudioDevice{logger: o.Logger, stream: stream, buf: buf}, nil
}

type portAudioDevice struct {
	logger *zap.Logger
	stream *portaudio.Stream
	buf    []float32

	// mu is held for the duration of a blocking Read so Close can wait for it.
	mu     sync.Mutex
	closed atomic.Bool
}

func (d *portAudioDevice) ReadFrame(out []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return errors.New("device closed")
	}

	err := d.stream.Read()
	if errors.Is(err, portaudio.InputOverflowed) {
		// Samples were lost upstream; the buffer still holds a full block.
		if d.logger != nil {
			d.logger.Debug("PortAudio input overflowed")
		}
		err = nil
	}
	if err != nil {
		return err
	}

	copy(out, d.buf)
	return nil
}

func (d *portAudioDevice) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Abort first so a Read blocked in another goroutine returns.
	abortErr := d.stream.Abort()

	d.mu.Lock()
	defer d.mu.Unlock()

	closeErr := d.stream.Close()
	termErr := portaudio.Terminate()
	return errors.Join(ignoreStopped(abortErr), closeErr, termErr)
}

func ignoreStopped(err error) error {
	if errors.Is(err, portaudio.StreamIsStopped) {
		return nil
	}
	return err
}
