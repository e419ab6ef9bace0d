package amqp

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/frame"
	"github.com/danmuck/edgemq/internal/protocol/methods"
	"github.com/danmuck/edgemq/internal/testutil/fakebroker"
	"github.com/danmuck/edgemq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenNegotiatesTuneAndAuthenticates(t *testing.T) {
	testlog.Start(t)
	client, b := fakebroker.New(t)
	cfg := testConfig()
	cfg.Username, cfg.Password = "app", "s3cret"
	res := goCall(func() (*Connection, error) { return Open(NewConnTransport(client), cfg) })

	startOk, tuneOk := b.Handshake(fakebroker.Tune{ChannelMax: 100, FrameMax: 65536, Heartbeat: 30})
	r := waitResult(t, res)
	require.NoError(t, r.err)
	c := r.v
	defer c.shutdown(&ShutdownError{Initiator: InitiatorApplication})

	assert.Equal(t, "PLAIN", startOk.Mechanism)
	assert.Equal(t, "\x00app\x00s3cret", startOk.Response)
	name, _ := startOk.ClientProperties["connection_name"].(string)
	assert.True(t, strings.HasPrefix(name, "edgemq-"), name)

	assert.Equal(t, uint16(100), tuneOk.ChannelMax)
	assert.Equal(t, uint32(65536), tuneOk.FrameMax)
	assert.Equal(t, uint16(0), tuneOk.Heartbeat, "negative config disables heartbeats")
	assert.Equal(t, uint32(65536), c.FrameMax())
	assert.Equal(t, uint16(100), c.ChannelMax())
	assert.Equal(t, "fakebroker", c.ServerProperties()["product"])
}

func TestNegotiateRules(t *testing.T) {
	testlog.Start(t)
	assert.Equal(t, uint32(131072), negotiate32(131072, 0))
	assert.Equal(t, uint32(4096), negotiate32(4096, 131072))
	assert.Equal(t, uint32(65536), negotiate32(131072, 65536))
	assert.Equal(t, uint32(65536), negotiate32(0, 65536))
	assert.Equal(t, uint16(10), negotiate16(10, 60))
}

func TestApplyURL(t *testing.T) {
	testlog.Start(t)
	addr, cfg, err := applyURL("amqp://user:pw@broker.local/%2Forders", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "broker.local:5672", addr)
	assert.Equal(t, "user", cfg.Username)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "/orders", cfg.VHost)

	addr, cfg, err = applyURL("amqp://127.0.0.1:5673", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5673", addr)
	assert.Equal(t, "/", cfg.VHost)

	_, _, err = applyURL("amqps://host", DefaultConfig())
	assert.Error(t, err)
}

func TestChannelNumbersAreReused(t *testing.T) {
	testlog.Start(t)
	c, ch, b := setup(t)
	assert.Equal(t, uint16(1), ch.Number())
	second := openChannel(t, c, b)
	assert.Equal(t, uint16(2), second.Number())

	res := goErr(ch.Close)
	n, closeReq := fakebroker.Expect[*methods.ChannelClose](b)
	assert.Equal(t, uint16(1), n)
	assert.Equal(t, protocol.ReplySuccess, closeReq.ReplyCode)
	b.Send(1, &methods.ChannelCloseOk{})
	require.NoError(t, waitResult(t, res).err)
	assert.NoError(t, ch.Close(), "second close is a no-op")

	third := openChannel(t, c, b)
	assert.Equal(t, uint16(1), third.Number())
}

func TestPeerConnectionCloseShutsDownChannels(t *testing.T) {
	testlog.Start(t)
	c, ch, b := setup(t)
	reasons := make(chan *ShutdownError, 2)
	c.NotifyShutdown(func(r *ShutdownError) { reasons <- r })
	ch.NotifyShutdown(func(r *ShutdownError) { reasons <- r })

	b.Send(0, &methods.ConnectionClose{ReplyCode: protocol.ConnectionForced, ReplyText: "CONNECTION_FORCED"})
	fakebroker.Expect[*methods.ConnectionCloseOk](b)
	waitClosed(t, c.Done(), "connection")
	waitClosed(t, ch.Done(), "channel")

	for i := 0; i < 2; i++ {
		r := <-reasons
		assert.Equal(t, InitiatorPeer, r.Initiator)
		assert.Equal(t, protocol.ConnectionForced, r.Code)
		assert.False(t, r.Recover())
	}
	_, err := c.Channel()
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	late := make(chan *ShutdownError, 1)
	ch.NotifyShutdown(func(r *ShutdownError) { late <- r })
	assert.Equal(t, protocol.ConnectionForced, (<-late).Code)
}

func TestConnectionCloseHandshake(t *testing.T) {
	testlog.Start(t)
	c, ch, b := setup(t)
	res := goErr(c.Close)
	_, req := fakebroker.Expect[*methods.ConnectionClose](b)
	assert.Equal(t, protocol.ReplySuccess, req.ReplyCode)
	b.Send(0, &methods.ConnectionCloseOk{})
	require.NoError(t, waitResult(t, res).err)
	waitClosed(t, ch.Done(), "channel")
	assert.Equal(t, InitiatorApplication, ch.CloseReason().Initiator)
	assert.NoError(t, c.Close())
}

func TestMalformedInputClosesConnection(t *testing.T) {
	testlog.Start(t)
	c, ch, b := setup(t)
	reasons := make(chan *ShutdownError, 1)
	c.NotifyShutdown(func(r *ShutdownError) { reasons <- r })

	b.SendRaw(frame.Encode(frame.Frame{Type: frame.TypeBody, Channel: ch.Number(), Payload: []byte("stray")}))
	_, req := fakebroker.Expect[*methods.ConnectionClose](b)
	assert.Equal(t, protocol.UnexpectedFrame, req.ReplyCode)

	waitClosed(t, c.Done(), "connection")
	r := <-reasons
	assert.Equal(t, InitiatorLibrary, r.Initiator)
	assert.Equal(t, protocol.UnexpectedFrame, r.Code)
	assert.True(t, errors.Is(r, protocol.ErrUnexpectedFrame))
	waitClosed(t, ch.Done(), "channel")
}

func TestBadFrameTerminatorIsFrameError(t *testing.T) {
	testlog.Start(t)
	c, _, b := setup(t)
	buf := frame.Encode(frame.Frame{Type: frame.TypeHeartbeat})
	buf[len(buf)-1] = 0x00
	b.SendRaw(buf)
	_, req := fakebroker.Expect[*methods.ConnectionClose](b)
	assert.Equal(t, protocol.FrameError, req.ReplyCode)
	waitClosed(t, c.Done(), "connection")
}

func TestHeartbeatsSentAndMissedHeartbeatsClose(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for heartbeat intervals")
	}
	testlog.Start(t)
	cfg := testConfig()
	cfg.Heartbeat = 0
	c, b := openConn(t, cfg, fakebroker.Tune{ChannelMax: 10, FrameMax: 131072, Heartbeat: 1})
	assert.Equal(t, time.Second, c.Heartbeat())

	reasons := make(chan *ShutdownError, 1)
	c.NotifyShutdown(func(r *ShutdownError) { reasons <- r })
	select {
	case r := <-reasons:
		assert.ErrorIs(t, r, ErrMissedHeartbeats)
	case <-time.After(5 * time.Second):
		t.Fatalf("connection stayed open without inbound heartbeats")
	}
	assert.Positive(t, b.Heartbeats())
}

func TestNotifyBlocked(t *testing.T) {
	testlog.Start(t)
	c, _, b := setup(t)
	events := make(chan Blocking, 2)
	c.NotifyBlocked(func(e Blocking) { events <- e })
	b.Send(0, &methods.ConnectionBlocked{Reason: "low on memory"})
	b.Send(0, &methods.ConnectionUnblocked{})
	assert.Equal(t, Blocking{Active: true, Reason: "low on memory"}, <-events)
	assert.Equal(t, Blocking{Active: false}, <-events)
}

func TestHandshakeRejectsMissingPlain(t *testing.T) {
	testlog.Start(t)
	client, b := fakebroker.New(t)
	res := goCall(func() (*Connection, error) { return Open(NewConnTransport(client), testConfig()) })
	b.Send(0, &methods.ConnectionStart{VersionMinor: 9, Mechanisms: "EXTERNAL", Locales: "en_US"})
	r := waitResult(t, res)
	assert.ErrorIs(t, r.err, ErrUnsupportedAuth)
}

func TestHandshakeMethodAfterOpenIsCommandInvalid(t *testing.T) {
	testlog.Start(t)
	c, _, b := setup(t)
	b.SendHeartbeat()
	b.Send(0, &methods.ConnectionTune{ChannelMax: 1, FrameMax: 4096})
	_, req := fakebroker.Expect[*methods.ConnectionClose](b)
	assert.Equal(t, protocol.CommandInvalid, req.ReplyCode)
	waitClosed(t, c.Done(), "connection")
	assert.ErrorIs(t, c.CloseReason(), protocol.ErrCommandInvalid)
}

func TestCloseTruncatesLongReplyText(t *testing.T) {
	testlog.Start(t)
	c, _, b := setup(t)
	res := goErr(func() error { return c.CloseWithReason(protocol.ReplySuccess, strings.Repeat("x", 300)) })
	_, req := fakebroker.Expect[*methods.ConnectionClose](b)
	assert.Len(t, req.ReplyText, 255)
	b.Send(0, &methods.ConnectionCloseOk{})
	require.NoError(t, waitResult(t, res).err)
	assert.Len(t, c.CloseReason().Text, 300)
}
