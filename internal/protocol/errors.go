package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedFrame   = errors.New("protocol: unexpected frame")
	ErrMalformedFrame    = errors.New("protocol: malformed frame")
	ErrCommandInvalid    = errors.New("protocol: command invalid")
	ErrUnknownMethod     = errors.New("protocol: unknown method")
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrFrameSizeMismatch = errors.New("protocol: empty frame size mismatch")
)

// ProtocolError is a connection-fatal violation of the wire contract. Code is
// the reply code sent to the peer when the connection is torn down.
type ProtocolError struct {
	Code uint16
	Text string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("%v (%d)", e.Err, e.Code)
	}
	return fmt.Sprintf("%v (%d): %s", e.Err, e.Code, e.Text)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Unexpected builds a 505 unexpected-frame violation.
func Unexpected(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: UnexpectedFrame, Text: fmt.Sprintf(format, args...), Err: ErrUnexpectedFrame}
}

// Malformed builds a 501 frame-error violation.
func Malformed(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: FrameError, Text: fmt.Sprintf(format, args...), Err: ErrMalformedFrame}
}

// Invalid builds a 503 command-invalid violation.
func Invalid(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: CommandInvalid, Text: fmt.Sprintf(format, args...), Err: ErrCommandInvalid}
}

// AsProtocolError unwraps err into a *ProtocolError when one is present.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
