package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCaptureInit  ReasonCode = "capture_init"
	ReasonPlaybackInit ReasonCode = "playback_init"

	ReasonLiveConnect        ReasonCode = "live_connect"
	ReasonLiveConnectTimeout ReasonCode = "live_connect_timeout"
	ReasonLiveNotReady       ReasonCode = "live_not_ready"
	ReasonLiveSend           ReasonCode = "live_send"

	ReasonRelaySubmit    ReasonCode = "relay_submit"
	ReasonRelayRateLimit ReasonCode = "relay_rate_limit"

	ReasonResumeDeadConnection ReasonCode = "resume_dead_connection"
	ReasonResumeEmptySlot      ReasonCode = "resume_empty_slot"

	ReasonContextFetch ReasonCode = "context_fetch"
	ReasonSessionSave  ReasonCode = "session_save"

	ReasonDrainTimeout ReasonCode = "drain_timeout"
)
