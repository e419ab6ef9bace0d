package command

import (
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/frame"
	"github.com/danmuck/edgemq/internal/protocol/methods"
)

// maxPrealloc caps the body buffer reserved up front from a declared size.
const maxPrealloc uint64 = 1 << 20

// State is the assembler's position within one command.
type State int

const (
	ExpectingMethod State = iota
	ExpectingContentHeader
	ExpectingContentBody
	Complete
)

func (s State) String() string {
	switch s {
	case ExpectingMethod:
		return "expecting-method"
	case ExpectingContentHeader:
		return "expecting-content-header"
	case ExpectingContentBody:
		return "expecting-content-body"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Assembler rebuilds commands from the frames of one channel. It is not safe
// for concurrent use; frames must be delivered in arrival order.
type Assembler struct {
	state     State
	method    methods.Method
	props     *methods.Properties
	body      []byte
	remaining uint64
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

func (a *Assembler) State() State {
	return a.state
}

// HandleFrame feeds one frame. It returns a command once the final frame of
// that command arrives, and nil while more frames are needed. Errors are
// connection-fatal protocol violations.
func (a *Assembler) HandleFrame(f frame.Frame) (*Command, error) {
	switch a.state {
	case ExpectingMethod:
		if f.Type != frame.TypeMethod {
			return nil, protocol.Unexpected("expected method frame, got %s", frame.TypeName(f.Type))
		}
		m, err := methods.Decode(f.Payload)
		if err != nil {
			return nil, err
		}
		a.method = m
		if !m.HasContent() {
			a.state = Complete
			return a.complete(), nil
		}
		a.state = ExpectingContentHeader
		return nil, nil

	case ExpectingContentHeader:
		if f.Type != frame.TypeHeader {
			return nil, protocol.Unexpected("expected content header for %s, got %s", methods.Name(a.method), frame.TypeName(f.Type))
		}
		h, err := methods.UnmarshalHeader(f.Payload)
		if err != nil {
			return nil, err
		}
		if h.ClassID != a.method.ClassID() {
			return nil, protocol.Unexpected("content header class %d does not match %s", h.ClassID, methods.Name(a.method))
		}
		if h.BodySize > MaxBodySize {
			return nil, protocol.Malformed("declared body size %d exceeds %d", h.BodySize, MaxBodySize)
		}
		a.props = &h.Properties
		a.remaining = h.BodySize
		a.body = make([]byte, 0, min(h.BodySize, maxPrealloc))
		if h.BodySize == 0 {
			a.state = Complete
			return a.complete(), nil
		}
		a.state = ExpectingContentBody
		return nil, nil

	case ExpectingContentBody:
		if f.Type != frame.TypeBody {
			return nil, protocol.Unexpected("expected content body for %s, got %s", methods.Name(a.method), frame.TypeName(f.Type))
		}
		if uint64(len(f.Payload)) > a.remaining {
			return nil, protocol.Malformed("body frame of %d bytes exceeds remaining %d", len(f.Payload), a.remaining)
		}
		a.body = append(a.body, f.Payload...)
		a.remaining -= uint64(len(f.Payload))
		if a.remaining == 0 {
			a.state = Complete
			return a.complete(), nil
		}
		return nil, nil

	default:
		return nil, protocol.Unexpected("assembler in state %s", a.state)
	}
}

func (a *Assembler) complete() *Command {
	cmd := &Command{Method: a.method, Properties: a.props, Body: a.body}
	a.Reset()
	return cmd
}

// Reset discards any partially assembled command.
func (a *Assembler) Reset() {
	a.state = ExpectingMethod
	a.method = nil
	a.props = nil
	a.body = nil
	a.remaining = 0
}
