package command

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/frame"
	"github.com/danmuck/edgemq/internal/protocol/methods"
	"github.com/danmuck/edgemq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func methodFrame(t *testing.T, channel uint16, m methods.Method) frame.Frame {
	t.Helper()
	payload, err := methods.Marshal(m)
	require.NoError(t, err)
	return frame.Frame{Type: frame.TypeMethod, Channel: channel, Payload: payload}
}

func headerFrame(t *testing.T, channel uint16, size uint64) frame.Frame {
	t.Helper()
	payload, err := methods.MarshalHeader(methods.Header{ClassID: protocol.ClassBasic, BodySize: size})
	require.NoError(t, err)
	return frame.Frame{Type: frame.TypeHeader, Channel: channel, Payload: payload}
}

func TestAssemblerMethodOnlyCommand(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler()
	cmd, err := a.HandleFrame(methodFrame(t, 1, &methods.QueueDeclareOk{Queue: "q", MessageCount: 3}))
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, &methods.QueueDeclareOk{Queue: "q", MessageCount: 3}, cmd.Method)
	assert.Nil(t, cmd.Properties)
	assert.Nil(t, cmd.Body)
	assert.Equal(t, ExpectingMethod, a.State())
}

func TestAssemblerContentAcrossBodyFrames(t *testing.T) {
	testlog.Start(t)
	body := []byte("hello, fragmented world")
	sizes := []int{5, 1, 10, 7}

	a := NewAssembler()
	cmd, err := a.HandleFrame(methodFrame(t, 1, &methods.BasicDeliver{ConsumerTag: "c", DeliveryTag: 1}))
	require.NoError(t, err)
	require.Nil(t, cmd)
	assert.Equal(t, ExpectingContentHeader, a.State())

	cmd, err = a.HandleFrame(headerFrame(t, 1, uint64(len(body))))
	require.NoError(t, err)
	require.Nil(t, cmd)
	assert.Equal(t, ExpectingContentBody, a.State())

	off := 0
	for i, n := range sizes {
		cmd, err = a.HandleFrame(frame.Frame{Type: frame.TypeBody, Channel: 1, Payload: body[off : off+n]})
		require.NoError(t, err)
		off += n
		if i < len(sizes)-1 {
			require.Nil(t, cmd)
		}
	}
	require.NotNil(t, cmd)
	assert.Equal(t, body, cmd.Body)
	assert.Equal(t, ExpectingMethod, a.State())
}

func TestAssemblerEmptyBodyCompletesOnHeader(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler()
	_, err := a.HandleFrame(methodFrame(t, 1, &methods.BasicDeliver{ConsumerTag: "c"}))
	require.NoError(t, err)
	cmd, err := a.HandleFrame(headerFrame(t, 1, 0))
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Empty(t, cmd.Body)
	assert.NotNil(t, cmd.Properties)
}

func TestAssemblerRejectsOutOfOrderFrames(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler()
	_, err := a.HandleFrame(frame.Frame{Type: frame.TypeBody, Channel: 1, Payload: []byte("x")})
	assert.True(t, errors.Is(err, protocol.ErrUnexpectedFrame))

	a = NewAssembler()
	_, err = a.HandleFrame(methodFrame(t, 1, &methods.BasicDeliver{ConsumerTag: "c"}))
	require.NoError(t, err)
	_, err = a.HandleFrame(frame.Frame{Type: frame.TypeBody, Channel: 1, Payload: []byte("x")})
	assert.True(t, errors.Is(err, protocol.ErrUnexpectedFrame))
	pe, ok := protocol.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.UnexpectedFrame, pe.Code)
}

func TestAssemblerRejectsHeaderForAnotherClass(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler()
	_, err := a.HandleFrame(methodFrame(t, 1, &methods.BasicDeliver{ConsumerTag: "c"}))
	require.NoError(t, err)
	payload, err := methods.MarshalHeader(methods.Header{ClassID: protocol.ClassQueue, BodySize: 1})
	require.NoError(t, err)
	_, err = a.HandleFrame(frame.Frame{Type: frame.TypeHeader, Channel: 1, Payload: payload})
	require.ErrorIs(t, err, protocol.ErrUnexpectedFrame)
	pe, ok := protocol.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.UnexpectedFrame, pe.Code)
}

func TestAssemblerRejectsOversizedBodies(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler()
	_, err := a.HandleFrame(methodFrame(t, 1, &methods.BasicDeliver{ConsumerTag: "c"}))
	require.NoError(t, err)
	_, err = a.HandleFrame(headerFrame(t, 1, MaxBodySize+1))
	assert.True(t, errors.Is(err, protocol.ErrMalformedFrame))

	a = NewAssembler()
	_, err = a.HandleFrame(methodFrame(t, 1, &methods.BasicDeliver{ConsumerTag: "c"}))
	require.NoError(t, err)
	_, err = a.HandleFrame(headerFrame(t, 1, 2))
	require.NoError(t, err)
	_, err = a.HandleFrame(frame.Frame{Type: frame.TypeBody, Channel: 1, Payload: []byte("xyz")})
	assert.True(t, errors.Is(err, protocol.ErrMalformedFrame))
}

func TestFragmentSplitsBodyByFrameMax(t *testing.T) {
	testlog.Start(t)
	body := bytes.Repeat([]byte{0xAB}, 25)
	cmd := WithContent(&methods.BasicPublish{Exchange: "x", RoutingKey: "k"}, methods.Properties{ContentType: "text/plain"}, body)

	frames, err := Fragment(3, cmd, frame.EmptyFrameSize+10)
	require.NoError(t, err)
	require.Len(t, frames, 5)
	assert.Equal(t, frame.TypeMethod, frames[0].Type)
	assert.Equal(t, frame.TypeHeader, frames[1].Type)
	for i, want := range []int{10, 10, 5} {
		assert.Equal(t, frame.TypeBody, frames[2+i].Type)
		assert.Len(t, frames[2+i].Payload, want)
		assert.Equal(t, uint16(3), frames[2+i].Channel)
	}

	unbounded, err := Fragment(3, cmd, 0)
	require.NoError(t, err)
	assert.Len(t, unbounded, 3)
}

func TestFragmentAssembleRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := WithContent(
		&methods.BasicPublish{Exchange: "amq.direct", RoutingKey: "rk", Mandatory: true},
		methods.Properties{ContentType: "application/octet-stream", MessageID: "m-1", Priority: 4},
		bytes.Repeat([]byte("0123456789"), 100),
	)
	wireBytes, err := Encode(9, in, 64)
	require.NoError(t, err)

	d := frame.NewDecoder(frame.Limits{MaxPayloadBytes: 64 - frame.EmptyFrameSize})
	d.Feed(wireBytes)
	a := NewAssembler()
	var out *Command
	for {
		f, err := d.Next()
		if errors.Is(err, frame.ErrNeedMoreData) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, uint16(9), f.Channel)
		cmd, err := a.HandleFrame(f)
		require.NoError(t, err)
		if cmd != nil {
			require.Nil(t, out, "only one command expected")
			out = cmd
		}
	}
	require.NotNil(t, out)
	assert.Equal(t, in.Method, out.Method)
	assert.Equal(t, *in.Properties, *out.Properties)
	assert.Equal(t, in.Body, out.Body)
}

func TestFragmentBatchPreservesOrder(t *testing.T) {
	testlog.Start(t)
	cmds := []*Command{
		WithContent(&methods.BasicPublish{RoutingKey: "a"}, methods.Properties{}, []byte("first")),
		New(&methods.BasicAck{DeliveryTag: 1}),
		WithContent(&methods.BasicPublish{RoutingKey: "b"}, methods.Properties{}, []byte("second")),
	}
	frames, err := FragmentBatch(1, cmds, 0)
	require.NoError(t, err)
	types := make([]byte, 0, len(frames))
	for _, f := range frames {
		types = append(types, f.Type)
	}
	assert.Equal(t, []byte{
		frame.TypeMethod, frame.TypeHeader, frame.TypeBody,
		frame.TypeMethod,
		frame.TypeMethod, frame.TypeHeader, frame.TypeBody,
	}, types)

	a := NewAssembler()
	var keys []string
	for _, f := range frames {
		cmd, err := a.HandleFrame(f)
		require.NoError(t, err)
		if cmd != nil {
			if p, ok := cmd.Method.(*methods.BasicPublish); ok {
				keys = append(keys, p.RoutingKey+":"+string(cmd.Body))
			}
		}
	}
	assert.Equal(t, []string{"a:first", "b:second"}, keys)
}
