package observers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MetricsArtifactName is the rolling metrics file the engine appends to.
const MetricsArtifactName = "metrics.jsonl"

// isArtifact reports whether a file name is one the engine writes: per-session
// transcript JSONL or the rolling metrics JSONL. The artifacts dir may be
// shared, so anything else is left untouched.
func isArtifact(name string) bool {
	if !strings.HasSuffix(name, ".jsonl") {
		return false
	}
	return strings.HasPrefix(name, "checkin-") || name == MetricsArtifactName
}

// PurgeArtifacts deletes check-in artifacts in dir older than retention.
// Transcripts carry health-adjacent content, so expiry is enforced on every
// engine start rather than waiting for an external janitor. Returns the
// number of files removed.
func PurgeArtifacts(dir string, retention time.Duration) (int, error) {
	if dir == "" || retention <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-retention)
	var removed int
	var errs error
	for _, entry := range entries {
		if entry.IsDir() || !isArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
