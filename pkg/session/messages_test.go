package session

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func streamingCount(l *messageLog) int {
	n := 0
	for i := range l.messages {
		if l.messages[i].IsStreaming {
			n++
		}
	}
	return n
}

func TestUserDeltaReplacesNotAppends(t *testing.T) {
	l := newMessageLog(0)
	l.applyUserDelta("I", false)
	l.applyUserDelta("I feel", false)
	l.applyUserDelta("I feel okay", false)

	if len(l.messages) != 1 {
		t.Fatalf("expected one in-progress message, got %d", len(l.messages))
	}
	if got := l.messages[0].Content; got != "I feel okay" {
		t.Fatalf("expected latest delta only, got %q", got)
	}
}

func TestFinalUserDeltaClosesMessage(t *testing.T) {
	l := newMessageLog(0)
	l.applyUserDelta("first thought", true)
	l.applyUserDelta("second thought", false)

	if len(l.messages) != 2 {
		t.Fatalf("expected final delta to close the message, got %d messages", len(l.messages))
	}
	if l.messages[0].Content != "first thought" || l.messages[1].Content != "second thought" {
		t.Fatalf("unexpected contents: %q / %q", l.messages[0].Content, l.messages[1].Content)
	}
}

func TestModelDeltaAppends(t *testing.T) {
	l := newMessageLog(0)
	l.applyModelDelta("Good ", false, false)
	l.applyModelDelta("morning, ", false, false)
	msg := l.applyModelDelta("Alex.", true, false)

	if msg.Content != "Good morning, Alex." {
		t.Fatalf("expected concatenation, got %q", msg.Content)
	}
	if msg.IsStreaming {
		t.Fatalf("finished delta must stop streaming")
	}
	if l.streamingID != "" {
		t.Fatalf("cursor must clear when streaming stops")
	}
}

func TestModelDeltaFrontTruncation(t *testing.T) {
	l := newMessageLog(10)
	l.applyModelDelta("aaaaaaaa", false, false)
	msg := l.applyModelDelta("bbbbbb", false, false)

	if len(msg.Content) != 10 {
		t.Fatalf("expected cap at 10 bytes, got %d", len(msg.Content))
	}
	if !strings.HasSuffix(msg.Content, "bbbbbb") {
		t.Fatalf("newest text must survive at the tail, got %q", msg.Content)
	}
}

func TestModelDeltaTruncationKeepsValidUTF8(t *testing.T) {
	l := newMessageLog(5)
	l.applyModelDelta("ab", false, false)
	// The byte cap lands mid-rune inside this delta.
	msg := l.applyModelDelta("日本語", true, false)

	if !utf8.ValidString(msg.Content) {
		t.Fatalf("truncated content is not valid UTF-8: %q", msg.Content)
	}
	if msg.Content != "語" {
		t.Fatalf("expected cut to advance to the next rune boundary, got %q", msg.Content)
	}
}

func TestAtMostOneStreamingMessage(t *testing.T) {
	l := newMessageLog(0)
	l.applyModelDelta("one", false, false)
	l.applyModelDelta(" two", false, false)
	if streamingCount(&l) != 1 {
		t.Fatalf("expected exactly one streaming message")
	}
	l.finalizeTurn()
	l.applyModelDelta("next turn", false, false)
	if streamingCount(&l) != 1 {
		t.Fatalf("expected exactly one streaming message after new turn")
	}
	if len(l.messages) != 2 {
		t.Fatalf("finalized turn must not absorb the next delta")
	}
	streaming := l.messages[len(l.messages)-1]
	if !streaming.IsStreaming || streaming.ID != l.streamingID {
		t.Fatalf("cursor must point at the streaming tail message")
	}
}

func TestStaleCursorRecovers(t *testing.T) {
	l := newMessageLog(0)
	l.applyModelDelta("hello", false, false)
	l.streamingID = "gone"
	msg := l.applyModelDelta("fresh", false, false)

	if msg.Content != "fresh" {
		t.Fatalf("stale cursor must start a new message, got %q", msg.Content)
	}
	if l.streamingID != msg.ID {
		t.Fatalf("cursor must track the new message")
	}
}

func TestTurnCompleteOpensNewUserMessage(t *testing.T) {
	l := newMessageLog(0)
	l.applyUserDelta("so yesterday", false)
	l.finalizeTurn()
	l.applyUserDelta("also one more thing", false)

	users := 0
	for i := range l.messages {
		if l.messages[i].Role == RoleUser {
			users++
		}
	}
	if users != 2 {
		t.Fatalf("expected a new user message after turn complete, got %d", users)
	}
}

func TestDetachedStreamNeverMerges(t *testing.T) {
	l := newMessageLog(0)
	before := l.applyModelDelta("half a thought", false, false)
	l.markStreamDetached()
	after := l.applyModelDelta("fresh start", false, false)

	if before.ID == after.ID {
		t.Fatalf("post-reconnect delta must open a new message")
	}
	if l.messages[l.indexByID(before.ID)].Content != "half a thought" {
		t.Fatalf("pre-disconnect message must keep its content")
	}
	if l.messages[l.indexByID(before.ID)].IsStreaming {
		t.Fatalf("pre-disconnect message must be finalized when the new one opens")
	}
	if streamingCount(&l) != 1 {
		t.Fatalf("streaming invariant broken across reconnect")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := newMessageLog(0)
	l.applyUserDelta("hi", true)
	l.applyModelDelta("hello there", false, false)

	snap := l.snapshot()
	var restored messageLog
	restored.restore(snap)

	if len(restored.messages) != 2 {
		t.Fatalf("expected 2 restored messages, got %d", len(restored.messages))
	}
	if restored.streamingID == "" {
		t.Fatalf("restore must rediscover the streaming cursor")
	}
	restored.applyModelDelta(", friend", true, false)
	if got := restored.messages[1].Content; got != "hello there, friend" {
		t.Fatalf("restored stream must keep appending, got %q", got)
	}
}
