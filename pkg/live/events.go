package live

// ConnectionState describes the channel lifecycle as seen by callers. The
// orchestrator consumes this as a read-only projection.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReady        ConnectionState = "ready"
	StateError        ConnectionState = "error"
	StateDisconnected ConnectionState = "disconnected"
)

// EventType tags an inbound event from the live channel.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventReady            EventType = "ready"
	EventDisconnected     EventType = "disconnected"
	EventError            EventType = "error"
	EventUserSpeechStart  EventType = "user_speech_start"
	EventUserSpeechEnd    EventType = "user_speech_end"
	EventModelSpeechStart EventType = "model_speech_start"
	EventModelSpeechEnd   EventType = "model_speech_end"
	EventUserTranscript   EventType = "user_transcript"
	EventModelTranscript  EventType = "model_transcript"
	EventAudioChunk       EventType = "audio_chunk"
	EventWidget           EventType = "widget"
	EventTurnComplete     EventType = "turn_complete"
	EventSilenceChosen    EventType = "silence_chosen"
)

// ManualDisconnectReason marks a locally requested teardown. Consumers treat
// it as expected and must not react to it.
const ManualDisconnectReason = "Manual disconnect"

// WidgetEvent is a tool invocation issued by the remote model.
type WidgetEvent struct {
	ID   string
	Kind string
	Args map[string]any
}

// Event is the tagged union delivered to the session orchestrator. A single
// dispatch function consumes the whole surface so ordering is enforced in one
// place.
type Event struct {
	Type     EventType
	Reason   string
	Err      error
	Text     string
	IsFinal  bool
	Finished bool
	AudioB64 string
	Widget   *WidgetEvent
}

// Handler receives inbound events. A nil handler detaches the consumer
// without closing the channel.
type Handler func(Event)
