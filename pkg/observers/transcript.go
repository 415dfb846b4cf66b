package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/velora-health/velora/pkg/metrics"
	"github.com/velora-health/velora/pkg/redact"
)

// TranscriptObserver appends conversation events (final transcripts, widget
// dispatches, state changes) to one JSONL artifact file per check-in session.
// Transcript text passes through redaction before it touches disk.
type TranscriptObserver struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewTranscriptObserver(dir string) *TranscriptObserver {
	return &TranscriptObserver{
		dir:   dir,
		files: make(map[string]*os.File),
	}
}

type transcriptLine struct {
	Name      string            `json:"name"`
	Time      time.Time         `json:"time"`
	SessionID string            `json:"session_id"`
	Tags      map[string]string `json:"tags,omitempty"`
	Text      string            `json:"text,omitempty"`
}

func (o *TranscriptObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ev.Tags["session_id"]
	if sessionID == "" {
		return
	}
	switch ev.Name {
	case "message_final", "widget_added", "state_change", "session_end":
	default:
		return
	}
	line := transcriptLine{
		Name:      ev.Name,
		Time:      ev.Time,
		SessionID: sessionID,
		Tags:      ev.Tags,
	}
	if text, ok := ev.Fields["text"].(string); ok {
		line.Text = redact.Text(text)
	}
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := o.file(sessionID)
	if err != nil {
		return
	}
	_, _ = f.Write(append(b, '\n'))
}

func (o *TranscriptObserver) file(sessionID string) (*os.File, error) {
	if f, ok := o.files[sessionID]; ok {
		return f, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(o.dir, "checkin-"+sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	o.files[sessionID] = f
	return f, nil
}

func (o *TranscriptObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, f := range o.files {
		_ = f.Close()
		delete(o.files, id)
	}
	return nil
}
