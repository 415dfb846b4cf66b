package session

import (
	"strconv"
	"strings"
	"time"
)

// Fingerprint derives a staleness marker from the persisted history state.
// Unchanged underlying data always yields an equal string, so preserved
// sessions can be checked for staleness without deep diffing.
func Fingerprint(cc ConversationContext) string {
	parts := []string{
		cc.LatestRecordingID,
		fingerprintTime(cc.LatestRecordingAt),
		strconv.Itoa(cc.RecordingCount),
		cc.LatestSessionID,
		fingerprintTime(cc.LatestSessionAt),
		strconv.Itoa(cc.SessionCount),
	}
	return strings.Join(parts, "|")
}

func fingerprintTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}
