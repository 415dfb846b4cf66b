package playback

import (
	"bytes"
	"testing"

	"github.com/velora-health/velora/pkg/audio/pcm"
)

func chunk(fill byte, n int) string {
	return pcm.Encode(bytes.Repeat([]byte{fill}, n))
}

func TestQueueAudioPlaysInArrivalOrder(t *testing.T) {
	p := New(Config{})
	if err := p.QueueAudio(chunk(0x01, 4)); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := p.QueueAudio(chunk(0x02, 4)); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := p.QueueAudio(chunk(0x03, 4)); err != nil {
		t.Fatalf("queue: %v", err)
	}

	buf := make([]byte, 12)
	n, err := p.Read(buf)
	if err != nil || n != 12 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	want := append(append(bytes.Repeat([]byte{0x01}, 4), bytes.Repeat([]byte{0x02}, 4)...), bytes.Repeat([]byte{0x03}, 4)...)
	if !bytes.Equal(buf, want) {
		t.Fatalf("chunks reordered: got %v", buf)
	}
}

func TestQueueAudioRejectsBadBase64(t *testing.T) {
	p := New(Config{})
	if err := p.QueueAudio("!!!"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestClearQueueDiscardsUnplayed(t *testing.T) {
	p := New(Config{})
	_ = p.QueueAudio(chunk(0x7F, 64))
	p.ClearQueue()
	if p.Buffered() != 0 {
		t.Fatalf("expected empty queue, got %d bytes", p.Buffered())
	}
	buf := make([]byte, 8)
	_, _ = p.Read(buf)
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected silence after clear, got %v", buf)
		}
	}
}

func TestPauseServesSilenceWithoutDiscarding(t *testing.T) {
	p := New(Config{})
	_ = p.QueueAudio(chunk(0x11, 8))
	p.Pause()

	buf := make([]byte, 8)
	_, _ = p.Read(buf)
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected silence while paused")
		}
	}
	if p.Buffered() != 8 {
		t.Fatalf("pause must not discard queue, have %d", p.Buffered())
	}

	p.Resume()
	_, _ = p.Read(buf)
	if buf[0] != 0x11 {
		t.Fatalf("expected queued audio after resume, got %v", buf)
	}
}

func TestCleanupIdempotentAndTerminal(t *testing.T) {
	p := New(Config{})
	_ = p.QueueAudio(chunk(0x01, 4))
	p.Cleanup()
	p.Cleanup()
	if err := p.QueueAudio(chunk(0x01, 4)); err == nil {
		t.Fatalf("expected error queuing after cleanup")
	}
	if p.Level() != 0 {
		t.Fatalf("expected zero level after cleanup")
	}
}

func TestLevelTracksPlayingChunk(t *testing.T) {
	p := New(Config{})
	loud := make([]byte, 32)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0x00
		loud[i+1] = 0x40 // 16384
	}
	_ = p.QueueAudio(pcm.Encode(loud))

	buf := make([]byte, 32)
	_, _ = p.Read(buf)
	if lvl := p.Level(); lvl < 0.4 || lvl > 0.6 {
		t.Fatalf("expected level near 0.5, got %f", lvl)
	}

	_, _ = p.Read(buf)
	if lvl := p.Level(); lvl != 0 {
		t.Fatalf("expected zero level when queue drained, got %f", lvl)
	}
}
