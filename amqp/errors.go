package amqp

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgemq/internal/confirm"
	"github.com/danmuck/edgemq/internal/dispatch"
	"github.com/danmuck/edgemq/internal/protocol"
)

var (
	ErrAlreadyClosed      = errors.New("amqp: already closed")
	ErrTimeout            = errors.New("amqp: timed out")
	ErrConfirmFailed      = errors.New("amqp: publisher confirm failed")
	ErrConfirmsNotEnabled = confirm.ErrNotEnabled
	ErrMissedHeartbeats   = errors.New("amqp: missed heartbeats")
	ErrChannelMax         = errors.New("amqp: no free channel numbers")
	ErrBodyTooLarge       = errors.New("amqp: message body too large")
	ErrConsumerTagInUse   = errors.New("amqp: consumer tag already in use")
	ErrUnsupportedAuth    = errors.New("amqp: broker does not offer PLAIN")
)

// CallbackError reports a consumer callback that failed or panicked.
type CallbackError = dispatch.CallbackError

// Initiator records which side started a shutdown.
type Initiator int

const (
	InitiatorApplication Initiator = iota
	InitiatorLibrary
	InitiatorPeer
)

func (i Initiator) String() string {
	switch i {
	case InitiatorApplication:
		return "application"
	case InitiatorLibrary:
		return "library"
	case InitiatorPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// ShutdownError is the close reason of a channel or connection.
type ShutdownError struct {
	Initiator Initiator
	Code      uint16
	Text      string
	ClassID   uint16
	MethodID  uint16
	Cause     error
}

func (e *ShutdownError) Error() string {
	msg := fmt.Sprintf("amqp: closed by %s (%d) %s", e.Initiator, e.Code, e.Text)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ShutdownError) Unwrap() error {
	return e.Cause
}

// Recover reports whether the broker closed with a soft, channel-level code.
// Such errors may succeed when retried on a new channel.
func (e *ShutdownError) Recover() bool {
	return e.Code != protocol.ReplySuccess && e.Code != 0 && !protocol.IsHardError(e.Code)
}

// closedError reports use of a closed channel or connection. It matches
// ErrAlreadyClosed and unwraps to the close reason.
func closedError(reason *ShutdownError) error {
	if reason == nil {
		return ErrAlreadyClosed
	}
	return fmt.Errorf("%w: %w", ErrAlreadyClosed, reason)
}
