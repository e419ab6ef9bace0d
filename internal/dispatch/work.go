package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrNilWork         = errors.New("dispatch: work has no run function")
	ErrCallbackPanic   = errors.New("dispatch: consumer callback panicked")
	ErrUnknownPoolKind = errors.New("dispatch: unknown work pool kind")
)

// Kind tags a unit of consumer work.
type Kind int

const (
	KindConsumeOk Kind = iota
	KindCancelOk
	KindCancel
	KindDeliver
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindConsumeOk:
		return "consume-ok"
	case KindCancelOk:
		return "cancel-ok"
	case KindCancel:
		return "cancel"
	case KindDeliver:
		return "deliver"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Operation names the consumer callback a kind invokes.
func (k Kind) Operation() string {
	switch k {
	case KindConsumeOk:
		return "HandleConsumeOk"
	case KindCancelOk:
		return "HandleCancelOk"
	case KindCancel:
		return "HandleCancel"
	case KindDeliver:
		return "HandleDelivery"
	case KindShutdown:
		return "HandleShutdown"
	default:
		return "Unknown"
	}
}

// Work is one consumer callback invocation. Consumer is carried for error
// reporting only; the pool never calls into it directly.
type Work struct {
	Kind     Kind
	Consumer any
	Run      func() error
	// OnError receives failures of this item. The pool logs when nil.
	OnError func(CallbackError)
}

// CallbackError reports a consumer callback that returned an error or panicked.
type CallbackError struct {
	Operation string
	Consumer  any
	Err       error
}

func (e CallbackError) Error() string {
	return fmt.Sprintf("dispatch: %s failed: %v", e.Operation, e.Err)
}

func (e CallbackError) Unwrap() error {
	return e.Err
}
