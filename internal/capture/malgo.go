package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// MalgoOpener opens the default input device through miniaudio. miniaudio
// delivers periods of whatever size the backend prefers on its own thread;
// the device re-blocks them into fixed frames.
type MalgoOpener struct {
	Logger *zap.Logger
}

func (o MalgoOpener) Open(sampleRate, blockSize int) (Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{
		ThreadPriority: malgo.ThreadPriorityRealtime,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}

	d := &malgoDevice{
		logger:    o.Logger,
		ctx:       ctx,
		blockSize: blockSize,
		blocks:    make(chan []float32, 4),
		done:      make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: d.onData})
	if err != nil {
		d.releaseContext()
		return nil, fmt.Errorf("open input device: %w", err)
	}
	d.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		d.releaseContext()
		return nil, fmt.Errorf("start input device: %w", err)
	}

	return d, nil
}

type malgoDevice struct {
	logger    *zap.Logger
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	blockSize int

	mu      sync.Mutex
	pending []float32

	blocks    chan []float32
	done      chan struct{}
	closeOnce sync.Once
}

// onData runs on the miniaudio thread. It must not block.
func (d *malgoDevice) onData(_, input []byte, _ uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i+4 <= len(input); i += 4 {
		d.pending = append(d.pending, math.Float32frombits(binary.LittleEndian.Uint32(input[i:])))
	}

	for len(d.pending) >= d.blockSize {
		block := make([]float32, d.blockSize)
		copy(block, d.pending)
		d.pending = d.pending[d.blockSize:]

		select {
		case d.blocks <- block:
		default:
			if d.logger != nil {
				d.logger.Debug("Capture reader behind, dropping block")
			}
		}
	}
}

func (d *malgoDevice) ReadFrame(out []float32) error {
	select {
	case <-d.done:
		return errors.New("device closed")
	case block := <-d.blocks:
		copy(out, block)
		return nil
	}
}

func (d *malgoDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		if d.device != nil {
			err = d.device.Stop()
			d.device.Uninit()
		}
		d.releaseContext()
	})
	return err
}

func (d *malgoDevice) releaseContext() {
	if err := d.ctx.Uninit(); err != nil && d.logger != nil {
		d.logger.Warn("Error releasing audio context", zap.Error(err))
	}
	d.ctx.Free()
}
