// Package session is the check-in engine core: a state machine that wires the
// capture pipeline, the playback pipeline, and the live channel into one
// conversation, assembling a structured transcript from streaming fragments
// and surviving transient disconnects without losing state.
package session

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. At most one message is streaming at any
// time and it is always the most recently appended assistant message.
type Message struct {
	ID               string
	Role             Role
	Content          string
	IsStreaming      bool
	CreatedAt        time.Time
	SilenceTriggered bool
	// Populated by the external acoustic scorer after the fact.
	Features map[string]float64
	Metrics  map[string]float64
	Mismatch bool
}

// WidgetStatus tracks a widget through its lifecycle.
type WidgetStatus string

const (
	WidgetStatusPending   WidgetStatus = "pending"
	WidgetStatusActive    WidgetStatus = "active"
	WidgetStatusScheduled WidgetStatus = "scheduled"
	WidgetStatusSaved     WidgetStatus = "saved"
	WidgetStatusCompleted WidgetStatus = "completed"
	WidgetStatusFailed    WidgetStatus = "failed"
)

// Widget kinds issued by the remote model.
const (
	WidgetBreathing   = "breathing"
	WidgetStressGauge = "stress_gauge"
	WidgetCommitment  = "commitment"
)

// Widget is a structured UI directive issued by the model via a tool call.
// Widgets are appended, mutated in place by id, and removed only by explicit
// dismissal.
type Widget struct {
	ID        string
	Kind      string
	Args      map[string]any
	Status    WidgetStatus
	CreatedAt time.Time
	Result    map[string]any
}

// Session is the conversation record. Owned exclusively by the orchestrator
// while active; handed to the persistence collaborator on completion.
type Session struct {
	ID              string
	StartedAt       time.Time
	EndedAt         *time.Time
	Messages        []Message
	Widgets         []Widget
	MismatchCount   int
	AcousticMetrics map[string]float64
}

// CheckInState is the orchestrator's lifecycle state.
type CheckInState string

const (
	StateIdle              CheckInState = "idle"
	StateInitializing      CheckInState = "initializing"
	StateConnecting        CheckInState = "connecting"
	StateReady             CheckInState = "ready"
	StateAIGreeting        CheckInState = "ai_greeting"
	StateListening         CheckInState = "listening"
	StateUserSpeaking      CheckInState = "user_speaking"
	StateProcessing        CheckInState = "processing"
	StateAssistantSpeaking CheckInState = "assistant_speaking"
	StateEnding            CheckInState = "ending"
	StateComplete          CheckInState = "complete"
	StateError             CheckInState = "error"
)

// terminal reports whether the state ends the session.
func (s CheckInState) terminal() bool {
	return s == StateComplete || s == StateError
}

// AudioLevels is the input/output level pair the UI polls for speaking
// indicators.
type AudioLevels struct {
	Input  float64
	Output float64
}

// Snapshot is the restorable orchestrator state carried across a view
// transition while the live channel stays open.
type Snapshot struct {
	Session          Session
	State            CheckInState
	Fingerprint      string
	UserParticipated bool
	Reconnects       int
	GreetingSeen     bool
	TakenAt          time.Time
}
