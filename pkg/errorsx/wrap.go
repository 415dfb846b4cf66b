package errorsx

import (
	"errors"
	"fmt"
)

// reasoned carries a ReasonCode alongside the underlying error. The code is
// what the UI branches on (retry, fall back to a fresh session, surface
// verbatim); the message stays whatever the failing layer produced.
type reasoned struct {
	code ReasonCode
	err  error
}

func (r *reasoned) Error() string { return r.err.Error() }

func (r *reasoned) Unwrap() error { return r.err }

// Wrap tags err with a reason code. The first code wins: the layer closest
// to the fault classifies it, and re-wrapping on the way up never overwrites.
func Wrap(err error, code ReasonCode) error {
	if err == nil {
		return nil
	}
	if Reason(err) != ReasonUnknown {
		return err
	}
	return &reasoned{code: code, err: err}
}

// Wrapf is Wrap over a formatted error, for the common annotate-and-tag path.
func Wrapf(code ReasonCode, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), code)
}

// Reason reports the code err carries, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var r *reasoned
	if errors.As(err, &r) {
		return r.code
	}
	return ReasonUnknown
}

// HasReason reports whether err carries exactly the given code.
func HasReason(err error, code ReasonCode) bool {
	return err != nil && Reason(err) == code
}
