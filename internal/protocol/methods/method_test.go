package methods

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/wire"
	"github.com/danmuck/edgemq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalDecodeBasicDeliver(t *testing.T) {
	testlog.Start(t)
	in := &BasicDeliver{
		ConsumerTag: "ctag-1",
		DeliveryTag: 42,
		Redelivered: true,
		Exchange:    "amq.topic",
		RoutingKey:  "orders.created",
	}
	payload, err := Marshal(in)
	require.NoError(t, err)

	out, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, out.HasContent())
	assert.Equal(t, "basic.deliver", Name(out))
}

func TestMarshalDecodeQueueDeclareWithArguments(t *testing.T) {
	testlog.Start(t)
	in := &QueueDeclare{
		Queue:     "jobs",
		Durable:   true,
		NoWait:    true,
		Arguments: wire.Table{"x-max-length": int32(10)},
	}
	payload, err := Marshal(in)
	require.NoError(t, err)

	out, err := Decode(payload)
	require.NoError(t, err)
	decl, ok := out.(*QueueDeclare)
	require.True(t, ok)
	assert.Equal(t, "jobs", decl.Queue)
	assert.True(t, decl.Durable)
	assert.False(t, decl.Exclusive)
	assert.True(t, decl.NoWait)
	assert.Equal(t, int32(10), decl.Arguments["x-max-length"])
	assert.False(t, out.HasContent())
}

func TestDecodeUnknownMethodIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte{0, 60, 0, 99})
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrUnknownMethod))
	pe, ok := protocol.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.NotImplemented, pe.Code)
}

func TestDecodeTruncatedArguments(t *testing.T) {
	testlog.Start(t)
	payload, err := Marshal(&BasicAck{DeliveryTag: 9, Multiple: true})
	require.NoError(t, err)
	_, err = Decode(payload[:len(payload)-3])
	assert.True(t, errors.Is(err, protocol.ErrMalformedFrame))
}

func TestRegistryRoundTripsEveryMethod(t *testing.T) {
	testlog.Start(t)
	for k, e := range registry {
		m := e.new()
		payload, err := Marshal(m)
		require.NoError(t, err, e.name)
		out, err := Decode(payload)
		require.NoError(t, err, e.name)
		assert.Equal(t, k, key(out.ClassID(), out.MethodID()), e.name)
		assert.Equal(t, e.name, Name(out))
	}
}

func TestContentHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Header{
		ClassID:  protocol.ClassBasic,
		BodySize: 1 << 20,
		Properties: Properties{
			ContentType:   "application/json",
			Headers:       wire.Table{"trace": "abc"},
			DeliveryMode:  2,
			CorrelationID: "corr-1",
			ReplyTo:       "amq.rabbitmq.reply-to",
			Timestamp:     time.Unix(1760000000, 0),
			AppID:         "edgemq",
		},
	}
	payload, err := MarshalHeader(in)
	require.NoError(t, err)

	out, err := UnmarshalHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, in.ClassID, out.ClassID)
	assert.Equal(t, in.BodySize, out.BodySize)
	assert.Equal(t, in.Properties.ContentType, out.Properties.ContentType)
	assert.Equal(t, "abc", out.Properties.Headers["trace"])
	assert.Equal(t, uint8(2), out.Properties.DeliveryMode)
	assert.Equal(t, "corr-1", out.Properties.CorrelationID)
	assert.Equal(t, in.Properties.ReplyTo, out.Properties.ReplyTo)
	assert.True(t, in.Properties.Timestamp.Equal(out.Properties.Timestamp))
	assert.Equal(t, "edgemq", out.Properties.AppID)
	assert.Empty(t, out.Properties.MessageID)
}

func TestContentHeaderTruncated(t *testing.T) {
	testlog.Start(t)
	_, err := UnmarshalHeader([]byte{0, 60, 0})
	assert.True(t, errors.Is(err, protocol.ErrMalformedFrame))
}
