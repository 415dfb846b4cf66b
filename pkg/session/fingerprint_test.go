package session

import (
	"testing"
	"time"
)

func TestFingerprintStableForUnchangedData(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	cc := ConversationContext{
		LatestRecordingID: "rec-9",
		LatestRecordingAt: at,
		RecordingCount:    12,
		LatestSessionID:   "sess-4",
		LatestSessionAt:   at.Add(time.Hour),
		SessionCount:      4,
	}
	if Fingerprint(cc) != Fingerprint(cc) {
		t.Fatalf("fingerprint must be deterministic")
	}
}

func TestFingerprintChangesWithData(t *testing.T) {
	cc := ConversationContext{LatestRecordingID: "rec-1", RecordingCount: 1}
	other := cc
	other.RecordingCount = 2
	if Fingerprint(cc) == Fingerprint(other) {
		t.Fatalf("fingerprint must change when underlying data changes")
	}
}
