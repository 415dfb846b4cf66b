package errorsx

import (
	"errors"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonLiveConnect)
	if Reason(err) != ReasonLiveConnect {
		t.Fatalf("expected reason %s, got %s", ReasonLiveConnect, Reason(err))
	}
	if !HasReason(err, ReasonLiveConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonCaptureInit)
	second := Wrap(first, ReasonLiveConnect)
	if Reason(second) != ReasonCaptureInit {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonLiveConnect) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

func TestWrapfFormatsAndTags(t *testing.T) {
	base := assertErr{}
	err := Wrapf(ReasonSessionSave, "session save failed: %w", base)
	if err.Error() != "session save failed: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !HasReason(err, ReasonSessionSave) {
		t.Fatalf("expected reason %s, got %s", ReasonSessionSave, Reason(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to unwrap to the base")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
