package telemetry

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame marks a frame with a known header whose field count or
// field values do not fit the schema. The whole frame is dropped.
var ErrMalformedFrame = errors.New("malformed frame")

// MalformedFrameError describes why a frame was rejected.
type MalformedFrameError struct {
	Header string
	Fields int       // number of fields after the header
	Kind   FieldKind // offending field; empty for field-count mismatches
	Token  string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s: %s frame has %d fields", ErrMalformedFrame, e.Header, e.Fields)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s field %s=%q: %v", ErrMalformedFrame, e.Header, e.Kind, e.Token, e.Err)
	}
	return fmt.Sprintf("%s: %s field %s=%q", ErrMalformedFrame, e.Header, e.Kind, e.Token)
}

// Is allows errors.Is(err, ErrMalformedFrame).
func (e *MalformedFrameError) Is(target error) bool {
	return target == ErrMalformedFrame
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}
