package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/velora-health/velora/pkg/redact"
)

func TestMultiObserverFansOut(t *testing.T) {
	a := NewMemoryObserver()
	b := NewMemoryObserver()
	m := NewMultiObserver(a, nil, b)

	m.RecordEvent(MetricsEvent{Name: "state_change", Time: time.Now()})

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected both observers to receive the event")
	}
}

func TestAsyncObserverDeliversAndCloses(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 8)

	for i := 0; i < 5; i++ {
		a.RecordEvent(MetricsEvent{Name: "reconnect_attempt"})
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(mem.Events()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(mem.Events()); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}

	a.Close()
	a.Close()
	a.RecordEvent(MetricsEvent{Name: "after_close"})
	if got := len(mem.Events()); got != 5 {
		t.Fatalf("events after close must be dropped, got %d", got)
	}
}

func TestJSONLObserverRedactsTranscriptFields(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)

	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	o.RecordEvent(MetricsEvent{
		Name: "message_final",
		Time: time.Now(),
		Tags: map[string]string{"session_id": "s-1"},
		Fields: map[string]any{
			"text": "reach me at jo@example.com tomorrow",
		},
	})

	line := buf.String()
	if !strings.Contains(line, `"msg":"message_final"`) {
		t.Fatalf("expected event name as message, got %s", line)
	}
	if strings.Contains(line, "jo@example.com") {
		t.Fatalf("email leaked into metrics artifact: %s", line)
	}
	if !strings.Contains(line, "[REDACTED_EMAIL]") {
		t.Fatalf("expected redaction token, got %s", line)
	}
}

func TestSamplingObserverRate(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.1)

	for i := 0; i < 100; i++ {
		s.RecordEvent(MetricsEvent{Name: "audio_frame_sent"})
	}
	if got := len(mem.Events()); got != 10 {
		t.Fatalf("expected 10 sampled events, got %d", got)
	}
}

func TestSamplingObserverZeroRateDropsAll(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0)
	for i := 0; i < 10; i++ {
		s.RecordEvent(MetricsEvent{Name: "audio_frame_sent"})
	}
	if len(mem.Events()) != 0 {
		t.Fatalf("zero rate must drop everything")
	}
}
