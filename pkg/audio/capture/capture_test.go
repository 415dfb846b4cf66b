package capture

import (
	"testing"
	"time"
)

type fakeDevice struct {
	startCount   int
	stopCount    int
	releaseCount int
	startErr     error
}

func (f *fakeDevice) start() error { f.startCount++; return f.startErr }
func (f *fakeDevice) stop() error  { f.stopCount++; return nil }
func (f *fakeDevice) release()     { f.releaseCount++ }

func newTestPipeline(dev *fakeDevice) *Pipeline {
	p := New(Config{FrameDuration: 20 * time.Millisecond})
	p.newDevice = func(*Pipeline) (device, error) { return dev, nil }
	return p
}

func TestStartStopIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(dev)

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if dev.startCount != 1 {
		t.Fatalf("expected 1 device start, got %d", dev.startCount)
	}

	p.Stop()
	p.Stop()
	if dev.stopCount != 1 || dev.releaseCount != 1 {
		t.Fatalf("expected device released once, got stop=%d release=%d", dev.stopCount, dev.releaseCount)
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := newTestPipeline(&fakeDevice{})
	p.Stop()
}

func TestStopReleasesDevice(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(dev)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()
	if dev.releaseCount == 0 {
		t.Fatalf("expected device release on stop")
	}
}

func TestStartFailureWrapsReason(t *testing.T) {
	dev := &fakeDevice{startErr: assertErr{}}
	p := newTestPipeline(dev)
	err := p.Start()
	if err == nil {
		t.Fatalf("expected error")
	}
	if dev.releaseCount != 1 {
		t.Fatalf("expected device released after failed start")
	}
	if got := err.Error(); got != "audio capture initialization failed: device busy" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestMuteGatesFramesAndFlag(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(dev)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	frame := make([]byte, p.frameBytes())
	for i := range frame {
		frame[i] = 0x10
	}

	if muted := p.ToggleMute(); !muted || !p.Muted() {
		t.Fatalf("expected muted state after toggle")
	}
	p.ingest(frame)
	select {
	case <-p.Frames():
		t.Fatalf("expected no frames while muted")
	default:
	}

	if muted := p.ToggleMute(); muted || p.Muted() {
		t.Fatalf("expected unmuted state after second toggle")
	}
	p.ingest(frame)
	select {
	case got := <-p.Frames():
		if len(got) != p.frameBytes() {
			t.Fatalf("unexpected frame size %d", len(got))
		}
	default:
		t.Fatalf("expected a frame after unmute")
	}
	if p.Level() <= 0 {
		t.Fatalf("expected non-zero input level")
	}
}

func TestIngestSlicesFixedFrames(t *testing.T) {
	dev := &fakeDevice{}
	p := newTestPipeline(dev)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	size := p.frameBytes()
	// Two and a half frames in one callback.
	p.ingest(make([]byte, size*2+size/2))

	for i := 0; i < 2; i++ {
		select {
		case got := <-p.Frames():
			if len(got) != size {
				t.Fatalf("frame %d has size %d, want %d", i, len(got), size)
			}
		default:
			t.Fatalf("expected frame %d", i)
		}
	}
	select {
	case <-p.Frames():
		t.Fatalf("partial frame must stay buffered")
	default:
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "device busy" }
