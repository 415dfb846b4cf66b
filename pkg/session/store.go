package session

import (
	"context"
	"time"
)

// ConversationContext is the read-only history slice fetched at session start
// to seed the model's opening turn and derive the context fingerprint.
type ConversationContext struct {
	LatestRecordingID string
	LatestRecordingAt time.Time
	RecordingCount    int

	LatestSessionID string
	LatestSessionAt time.Time
	SessionCount    int

	RecentSummaries    []string
	TrendScores        map[string]float64
	PendingCommitments []string
}

// ContextStore is the persistence collaborator boundary: context in at start,
// session record out at completion.
type ContextStore interface {
	FetchContext(ctx context.Context) (ConversationContext, error)
	SaveSession(ctx context.Context, s *Session) error
}

// setupPayload is what the live channel's setup message carries to the relay.
type setupPayload struct {
	RecentSummaries    []string           `json:"recentSummaries,omitempty"`
	TrendScores        map[string]float64 `json:"trendScores,omitempty"`
	PendingCommitments []string           `json:"pendingCommitments,omitempty"`
	SessionCount       int                `json:"sessionCount,omitempty"`
}

func newSetupPayload(cc ConversationContext) setupPayload {
	return setupPayload{
		RecentSummaries:    cc.RecentSummaries,
		TrendScores:        cc.TrendScores,
		PendingCommitments: cc.PendingCommitments,
		SessionCount:       cc.SessionCount,
	}
}
