package session

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// messageLog assembles the transcript from streaming fragments. User deltas
// replace the in-progress user message; assistant deltas append to the
// streaming assistant message, front-truncated at maxAssistant bytes so the
// newest text always survives at the tail.
type messageLog struct {
	messages     []Message
	maxAssistant int

	// streamingID is the O(1) cursor to the one streaming assistant
	// message; cleared exactly when that message stops streaming or the id
	// can no longer be found.
	streamingID string
	// userID tracks the in-progress user message that non-final transcript
	// deltas keep replacing.
	userID string
	// detached forces the next assistant delta into a fresh message; set
	// across a reconnect so transcripts never merge over the gap.
	detached bool
}

func newMessageLog(maxAssistant int) messageLog {
	return messageLog{maxAssistant: maxAssistant}
}

func (l *messageLog) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range l.messages {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// applyUserDelta replaces the in-progress user message's content with the
// latest transcript. Speech-to-text is not append-only.
func (l *messageLog) applyUserDelta(text string, final bool) *Message {
	i := l.indexByID(l.userID)
	if i < 0 {
		l.messages = append(l.messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleUser,
			CreatedAt: time.Now(),
		})
		i = len(l.messages) - 1
		l.userID = l.messages[i].ID
	}
	l.messages[i].Content = text
	if final {
		l.userID = ""
	}
	return &l.messages[i]
}

// addUserText appends a finalized typed user message.
func (l *messageLog) addUserText(text string) *Message {
	l.userID = ""
	l.messages = append(l.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	return &l.messages[len(l.messages)-1]
}

// applyModelDelta appends to the streaming assistant message, opening a new
// one when there is none, the cursor went stale, or the stream was detached
// by a reconnect.
func (l *messageLog) applyModelDelta(text string, finished bool, silenceTriggered bool) *Message {
	i := l.indexByID(l.streamingID)
	if i < 0 {
		// Stale cursor: drop the reference rather than guessing.
		l.streamingID = ""
	}
	if l.detached {
		if i >= 0 {
			l.messages[i].IsStreaming = false
		}
		l.streamingID = ""
		i = -1
		l.detached = false
	}
	if i < 0 {
		l.messages = append(l.messages, Message{
			ID:               uuid.NewString(),
			Role:             RoleAssistant,
			IsStreaming:      true,
			CreatedAt:        time.Now(),
			SilenceTriggered: silenceTriggered,
		})
		i = len(l.messages) - 1
		l.streamingID = l.messages[i].ID
	}
	msg := &l.messages[i]
	msg.Content += text
	if l.maxAssistant > 0 && len(msg.Content) > l.maxAssistant {
		cut := len(msg.Content) - l.maxAssistant
		// The byte cap can land mid-rune; advance to the next boundary so
		// the content stays valid UTF-8.
		for cut < len(msg.Content) && !utf8.RuneStart(msg.Content[cut]) {
			cut++
		}
		msg.Content = msg.Content[cut:]
	}
	if finished {
		msg.IsStreaming = false
		l.streamingID = ""
	}
	return msg
}

// finalizeTurn closes the streaming assistant message and ensures the next
// user transcript opens a fresh message even without a speech-start signal.
func (l *messageLog) finalizeTurn() {
	if i := l.indexByID(l.streamingID); i >= 0 {
		l.messages[i].IsStreaming = false
	}
	l.streamingID = ""
	l.userID = ""
}

// markStreamDetached freezes the transcript across a reconnect. The message
// in progress keeps its content; the next assistant delta starts a new one.
func (l *messageLog) markStreamDetached() {
	l.detached = true
	l.userID = ""
}

func (l *messageLog) hasUserMessage() bool {
	for i := range l.messages {
		if l.messages[i].Role == RoleUser {
			return true
		}
	}
	return false
}

func (l *messageLog) snapshot() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *messageLog) restore(msgs []Message) {
	l.messages = make([]Message, len(msgs))
	copy(l.messages, msgs)
	l.streamingID = ""
	l.userID = ""
	l.detached = false
	for i := range l.messages {
		if l.messages[i].IsStreaming {
			l.streamingID = l.messages[i].ID
		}
	}
}
