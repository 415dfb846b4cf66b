package observers

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestPurgeRemovesOnlyExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()
	oldTranscript := writeAged(t, dir, "checkin-abc.jsonl", 48*time.Hour)
	oldMetrics := writeAged(t, dir, MetricsArtifactName, 48*time.Hour)
	fresh := writeAged(t, dir, "checkin-def.jsonl", time.Hour)
	foreign := writeAged(t, dir, "notes.txt", 48*time.Hour)

	removed, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	for _, gone := range []string{oldTranscript, oldMetrics} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", gone)
		}
	}
	for _, kept := range []string{fresh, foreign} {
		if _, err := os.Stat(kept); err != nil {
			t.Fatalf("expected %s kept: %v", kept, err)
		}
	}
}

func TestPurgeDisabledWithoutRetention(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "checkin-abc.jsonl", 48*time.Hour)

	removed, err := PurgeArtifacts(dir, 0)
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op, got removed=%d err=%v", removed, err)
	}
}
