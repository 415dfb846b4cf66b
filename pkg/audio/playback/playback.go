// Package playback owns the output audio device. Base64-encoded PCM16 chunks
// are queued and played strictly in arrival order; the pipeline exposes an
// output level so the UI can drive speaking indicators.
package playback

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"

	"github.com/velora-health/velora/pkg/audio/pcm"
	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/logging"
)

type Config struct {
	SampleRate int
	Channels   int
	// BufferBytes sets the device-side buffer; smaller is lower latency.
	BufferBytes int
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = pcm.OutputSampleRate
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.BufferBytes == 0 {
		// ~100ms at 24kHz mono PCM16.
		c.BufferBytes = c.SampleRate * pcm.BytesPerSample / 10
	}
	return c
}

type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	otoCtx *oto.Context
	player *oto.Player
	queue  []byte
	paused bool
	closed bool

	levelBits atomic.Uint64
}

var errClosed = errors.New("playback pipeline closed")

func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(slog.Default(), "audio_playback"),
	}
}

// Initialize prepares the output device. Chunks queued before Initialize are
// retained and play once the device is up.
func (p *Pipeline) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errorsx.Wrap(errClosed, errorsx.ReasonPlaybackInit)
	}
	if p.otoCtx != nil {
		return nil
	}
	opts := &oto.NewContextOptions{
		SampleRate:   p.cfg.SampleRate,
		ChannelCount: p.cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   p.cfg.BufferBytes,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return errorsx.Wrapf(errorsx.ReasonPlaybackInit, "audio playback initialization failed: %w", err)
	}
	<-ready
	p.otoCtx = ctx
	p.logger.Info("playback_initialized",
		slog.Int("sample_rate", p.cfg.SampleRate),
		slog.Int("buffer_bytes", p.cfg.BufferBytes))
	return nil
}

// QueueAudio appends a base64 PCM16 chunk. Order of arrival is order of play.
func (p *Pipeline) QueueAudio(chunk string) error {
	raw, err := pcm.Decode(chunk)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClosed
	}
	p.queue = append(p.queue, raw...)
	p.ensurePlayerLocked()
	return nil
}

// ClearQueue discards all unplayed audio immediately. Used on barge-in.
func (p *Pipeline) ClearQueue() {
	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = p.queue[:0]
	p.mu.Unlock()
	p.levelBits.Store(0)
	if dropped > 0 {
		p.logger.Debug("playback_queue_cleared", slog.Int("dropped_bytes", dropped))
	}
}

// Pause suspends playback without discarding the queue.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	player := p.player
	p.mu.Unlock()
	p.levelBits.Store(0)
	if player != nil {
		player.Pause()
	}
}

// Resume continues playback where Pause left off.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	player := p.player
	p.mu.Unlock()
	if player != nil {
		player.Play()
	}
}

// Cleanup releases the output device. Idempotent.
func (p *Pipeline) Cleanup() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	player := p.player
	p.player = nil
	p.queue = nil
	p.mu.Unlock()

	p.levelBits.Store(0)
	if player != nil {
		_ = player.Close()
	}
	p.logger.Info("playback_cleaned_up")
}

// Level returns the output level in [0,1] derived from the chunk currently
// being played.
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.levelBits.Load())
}

// Buffered reports how many queued bytes have not yet been handed to the
// device.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// ensurePlayerLocked lazily creates the device player on first audio.
func (p *Pipeline) ensurePlayerLocked() {
	if p.player != nil || p.otoCtx == nil || p.closed {
		return
	}
	p.player = p.otoCtx.NewPlayer(p)
	if !p.paused {
		p.player.Play()
	}
}

// Read implements io.Reader for the device player. It drains the queue in
// order and serves silence when the queue is empty or playback is paused, so
// the device never starves.
func (p *Pipeline) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.paused || len(p.queue) == 0 {
		p.mu.Unlock()
		for i := range buf {
			buf[i] = 0
		}
		p.levelBits.Store(0)
		return len(buf), nil
	}
	n := copy(buf, p.queue)
	p.queue = p.queue[n:]
	p.mu.Unlock()

	p.levelBits.Store(math.Float64bits(pcm.Level(buf[:n])))
	// Zero-fill the tail so stale bytes never reach the device.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}
