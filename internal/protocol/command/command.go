package command

import (
	"fmt"

	"github.com/danmuck/edgemq/internal/protocol/frame"
	"github.com/danmuck/edgemq/internal/protocol/methods"
)

// MaxBodySize bounds the body length a content header may declare.
const MaxBodySize uint64 = 2147483591

// Command is one logical protocol unit: a method plus, for content-bearing
// methods, its properties and body.
type Command struct {
	Method     methods.Method
	Properties *methods.Properties
	Body       []byte
}

func New(m methods.Method) *Command {
	return &Command{Method: m}
}

// WithContent returns a content-bearing command.
func WithContent(m methods.Method, props methods.Properties, body []byte) *Command {
	return &Command{Method: m, Properties: &props, Body: body}
}

func (c *Command) String() string {
	if c.Method != nil && c.Method.HasContent() {
		return fmt.Sprintf("%s{body=%d}", methods.Name(c.Method), len(c.Body))
	}
	return methods.Name(c.Method)
}

// Fragment splits cmd into the frame sequence sent on channel: one method
// frame, then for content a header frame and body frames of at most
// frameMax-EmptyFrameSize bytes each (unbounded when frameMax is 0).
func Fragment(channel uint16, cmd *Command, frameMax uint32) ([]frame.Frame, error) {
	return appendFrames(nil, channel, cmd, frameMax)
}

// FragmentBatch fragments cmds back to back, preserving their order.
func FragmentBatch(channel uint16, cmds []*Command, frameMax uint32) ([]frame.Frame, error) {
	var out []frame.Frame
	var err error
	for _, cmd := range cmds {
		if out, err = appendFrames(out, channel, cmd, frameMax); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendFrames(out []frame.Frame, channel uint16, cmd *Command, frameMax uint32) ([]frame.Frame, error) {
	payload, err := methods.Marshal(cmd.Method)
	if err != nil {
		return nil, err
	}
	out = append(out, frame.Frame{Type: frame.TypeMethod, Channel: channel, Payload: payload})
	if !cmd.Method.HasContent() {
		return out, nil
	}

	var props methods.Properties
	if cmd.Properties != nil {
		props = *cmd.Properties
	}
	header, err := methods.MarshalHeader(methods.Header{
		ClassID:    cmd.Method.ClassID(),
		BodySize:   uint64(len(cmd.Body)),
		Properties: props,
	})
	if err != nil {
		return nil, err
	}
	out = append(out, frame.Frame{Type: frame.TypeHeader, Channel: channel, Payload: header})

	chunk := len(cmd.Body)
	if frameMax > 0 {
		if frameMax <= frame.EmptyFrameSize {
			return nil, fmt.Errorf("command: frame_max %d leaves no room for body", frameMax)
		}
		chunk = int(frameMax - frame.EmptyFrameSize)
	}
	for off := 0; off < len(cmd.Body); off += chunk {
		end := min(off+chunk, len(cmd.Body))
		out = append(out, frame.Frame{Type: frame.TypeBody, Channel: channel, Payload: cmd.Body[off:end]})
	}
	return out, nil
}

// Encode fragments cmd and serializes the frames into one contiguous buffer.
func Encode(channel uint16, cmd *Command, frameMax uint32) ([]byte, error) {
	frames, err := Fragment(channel, cmd, frameMax)
	if err != nil {
		return nil, err
	}
	return EncodeFrames(frames), nil
}

func EncodeFrames(frames []frame.Frame) []byte {
	size := 0
	for _, f := range frames {
		size += frame.EmptyFrameSize + len(f.Payload)
	}
	buf := make([]byte, 0, size)
	for _, f := range frames {
		buf = frame.AppendFrame(buf, f)
	}
	return buf
}
