package live

import "encoding/json"

// Wire envelopes for the relay control channel. The relay owns the remote
// model protocol; this is the thin JSON surface it exposes to clients.

type clientMessage struct {
	Type    string          `json:"type"`
	Audio   string          `json:"audio,omitempty"`
	Text    string          `json:"text,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

const (
	clientSetup    = "setup"
	clientAudio    = "audio"
	clientText     = "text"
	clientContext  = "context"
	clientAudioEnd = "audio_end"
)

type serverMessage struct {
	Type     string         `json:"type"`
	Reason   string         `json:"reason,omitempty"`
	Message  string         `json:"message,omitempty"`
	Speaker  string         `json:"speaker,omitempty"`
	Text     string         `json:"text,omitempty"`
	Final    bool           `json:"final,omitempty"`
	Finished bool           `json:"finished,omitempty"`
	Audio    string         `json:"audio,omitempty"`
	Widget   *widgetPayload `json:"widget,omitempty"`
}

type widgetPayload struct {
	ID   string         `json:"id"`
	Kind string         `json:"kind"`
	Args map[string]any `json:"args,omitempty"`
}

const (
	serverReady           = "ready"
	serverUserTranscript  = "user_transcript"
	serverModelTranscript = "model_transcript"
	serverAudio           = "audio"
	serverWidget          = "widget"
	serverTurnComplete    = "turn_complete"
	serverSpeechStart     = "speech_start"
	serverSpeechEnd       = "speech_end"
	serverSilence         = "silence"
	serverError           = "error"
	serverGoodbye         = "goodbye"

	speakerUser  = "user"
	speakerModel = "model"
)
