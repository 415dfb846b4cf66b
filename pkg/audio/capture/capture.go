// Package capture owns the microphone device. It slices the live input into
// fixed-duration PCM16 frames and publishes an instantaneous input level. It
// knows nothing about the remote model.
package capture

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velora-health/velora/pkg/audio/pcm"
	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/logging"
)

type Config struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = pcm.InputSampleRate
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	return c
}

// device is the seam between the pipeline and the OS audio backend.
type device interface {
	start() error
	stop() error
	release()
}

type deviceFactory func(p *Pipeline) (device, error)

// Pipeline captures microphone audio. Start and Stop are idempotent; Stop
// physically releases the device so the OS mic indicator turns off.
type Pipeline struct {
	cfg       Config
	logger    *slog.Logger
	newDevice deviceFactory

	mu      sync.Mutex
	dev     device
	started bool
	buf     []byte

	muted     atomic.Bool
	levelBits atomic.Uint64

	frames chan []byte
}

func New(cfg Config) *Pipeline {
	p := &Pipeline{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(slog.Default(), "audio_capture"),
		frames: make(chan []byte, 64),
	}
	p.newDevice = newMalgoDevice
	return p
}

// Start acquires the microphone and begins emitting frames. Calling Start on
// a running pipeline is a no-op.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.logger.Warn("capture_already_started")
		return nil
	}
	dev, err := p.newDevice(p)
	if err != nil {
		return errorsx.Wrapf(errorsx.ReasonCaptureInit, "audio capture initialization failed: %w", err)
	}
	if err := dev.start(); err != nil {
		dev.release()
		return errorsx.Wrapf(errorsx.ReasonCaptureInit, "audio capture initialization failed: %w", err)
	}
	p.dev = dev
	p.started = true
	p.buf = p.buf[:0]
	p.logger.Info("capture_started",
		slog.Int("sample_rate", p.cfg.SampleRate),
		slog.Duration("frame_duration", p.cfg.FrameDuration))
	return nil
}

// Stop releases the device. Safe to call when never started and safe to call
// repeatedly, including from unmount/cleanup paths.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	dev := p.dev
	p.dev = nil
	wasStarted := p.started
	p.started = false
	p.buf = p.buf[:0]
	p.mu.Unlock()

	p.levelBits.Store(0)
	if dev != nil {
		_ = dev.stop()
		dev.release()
	}
	if wasStarted {
		p.logger.Info("capture_stopped")
	}
}

// ToggleMute flips track enablement without tearing down the device graph,
// so unmuting is instant. Returns the new muted state.
func (p *Pipeline) ToggleMute() bool {
	muted := !p.muted.Load()
	p.muted.Store(muted)
	if muted {
		p.levelBits.Store(0)
	}
	p.logger.Info("capture_mute_toggled", slog.Bool("muted", muted))
	return muted
}

// Muted reports the current mute flag.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Frames yields fixed-size PCM16 frames in capture order.
func (p *Pipeline) Frames() <-chan []byte {
	return p.frames
}

// Level returns the most recent input level in [0,1].
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.levelBits.Load())
}

func (p *Pipeline) frameBytes() int {
	return pcm.FrameBytes(p.cfg.SampleRate, p.cfg.FrameDuration) * p.cfg.Channels
}

// ingest is invoked from the device's real-time callback.
func (p *Pipeline) ingest(samples []byte) {
	if p.muted.Load() {
		return
	}
	size := p.frameBytes()
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.buf = append(p.buf, samples...)
	var out [][]byte
	for len(p.buf) >= size {
		frame := make([]byte, size)
		copy(frame, p.buf[:size])
		p.buf = p.buf[size:]
		out = append(out, frame)
	}
	p.mu.Unlock()

	for _, frame := range out {
		p.levelBits.Store(math.Float64bits(pcm.Level(frame)))
		select {
		case p.frames <- frame:
		default:
			p.logger.Warn("capture_frame_dropped", slog.Int("size_bytes", len(frame)))
		}
	}
}
