// Package fakebroker scripts the broker side of an AMQP connection over an
// in-memory pipe so engine tests can drive exact frame sequences.
package fakebroker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgemq/internal/logging"
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/command"
	"github.com/danmuck/edgemq/internal/protocol/frame"
	"github.com/danmuck/edgemq/internal/protocol/methods"
	"github.com/danmuck/edgemq/internal/protocol/wire"
	"github.com/rs/zerolog"
)

const DefaultWait = 5 * time.Second

var ErrNoCommand = errors.New("fakebroker: no command received")

// Received is one command the client sent.
type Received struct {
	Channel uint16
	Command *command.Command
}

func (r Received) Method() methods.Method {
	return r.Command.Method
}

type Broker struct {
	t    testing.TB
	conn net.Conn
	log  zerolog.Logger

	header chan []byte
	inbox  chan Received
	closed chan struct{}

	writeMu    sync.Mutex
	closeOnce  sync.Once
	heartbeats atomic.Int64
	frameMax   atomic.Uint32
}

// New returns the client end of a pipe and the broker serving the other end.
func New(t testing.TB) (net.Conn, *Broker) {
	t.Helper()
	client, server := net.Pipe()
	b := &Broker{
		t:      t,
		conn:   server,
		log:    logging.Component("fakebroker"),
		header: make(chan []byte, 1),
		inbox:  make(chan Received, 4096),
		closed: make(chan struct{}),
	}
	go b.readLoop()
	t.Cleanup(b.Close)
	return client, b
}

func (b *Broker) readLoop() {
	defer close(b.closed)
	hdr := make([]byte, len(protocol.Header))
	if _, err := io.ReadFull(b.conn, hdr); err != nil {
		return
	}
	b.header <- hdr

	assemblers := make(map[uint16]*command.Assembler)
	for {
		f, err := frame.ReadFrame(b.conn, frame.Limits{})
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				b.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}
		if f.Type == frame.TypeHeartbeat {
			b.heartbeats.Add(1)
			continue
		}
		asm, ok := assemblers[f.Channel]
		if !ok {
			asm = command.NewAssembler()
			assemblers[f.Channel] = asm
		}
		cmd, err := asm.HandleFrame(f)
		if err != nil {
			b.log.Error().Err(err).Uint16("channel", f.Channel).Msg("client sent bad frame")
			return
		}
		if cmd != nil {
			b.log.Debug().Uint16("channel", f.Channel).Str("method", cmd.String()).Msg("received")
			b.inbox <- Received{Channel: f.Channel, Command: cmd}
		}
	}
}

// Heartbeats counts heartbeat frames received from the client.
func (b *Broker) Heartbeats() int64 {
	return b.heartbeats.Load()
}

// Done is closed once the client side of the pipe stops sending.
func (b *Broker) Done() <-chan struct{} {
	return b.closed
}

func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		_ = b.conn.Close()
	})
}

// NextWithin returns the next received command. It is safe to call from any
// goroutine.
func (b *Broker) NextWithin(timeout time.Duration) (Received, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-b.inbox:
		return r, nil
	case <-timer.C:
		return Received{}, fmt.Errorf("%w within %s", ErrNoCommand, timeout)
	}
}

// Next returns the next received command or fails the test. Call it only
// from the test goroutine.
func (b *Broker) Next() Received {
	b.t.Helper()
	r, err := b.NextWithin(DefaultWait)
	if err != nil {
		b.t.Fatalf("fakebroker: %v", err)
	}
	return r
}

// Expect waits for the next command and fails the test unless its method
// has type M.
func Expect[M methods.Method](b *Broker) (uint16, M) {
	b.t.Helper()
	r := b.Next()
	m, ok := r.Method().(M)
	if !ok {
		var want M
		b.t.Fatalf("fakebroker: expected %T, got %s on channel %d", want, r.Command, r.Channel)
	}
	return r.Channel, m
}

// Send writes a method-only command on channel.
func (b *Broker) Send(channel uint16, m methods.Method) {
	b.SendCommand(channel, command.New(m))
}

// SendContent writes a content-bearing command on channel.
func (b *Broker) SendContent(channel uint16, m methods.Method, props methods.Properties, body []byte) {
	b.SendCommand(channel, command.WithContent(m, props, body))
}

func (b *Broker) SendCommand(channel uint16, cmd *command.Command) {
	buf, err := command.Encode(channel, cmd, b.frameMax.Load())
	if err != nil {
		b.t.Errorf("fakebroker: encode %s: %v", cmd, err)
		return
	}
	b.SendRaw(buf)
}

func (b *Broker) SendHeartbeat() {
	b.SendRaw(frame.Encode(frame.Frame{Type: frame.TypeHeartbeat}))
}

// SendRaw writes bytes as-is, for malformed-input tests.
func (b *Broker) SendRaw(buf []byte) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.conn.Write(buf); err != nil {
		b.log.Debug().Err(err).Msg("write failed")
	}
}

// Tune is what the broker proposes in connection.tune.
type Tune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func DefaultTune() Tune {
	return Tune{ChannelMax: 2047, FrameMax: 131072}
}

// Handshake plays the broker side of connection setup and returns what the
// client sent in start-ok and tune-ok.
func (b *Broker) Handshake(tune Tune) (*methods.ConnectionStartOk, *methods.ConnectionTuneOk) {
	b.t.Helper()
	select {
	case hdr := <-b.header:
		if !bytes.Equal(hdr, []byte(protocol.Header)) {
			b.t.Fatalf("fakebroker: bad protocol header %q", hdr)
		}
	case <-time.After(DefaultWait):
		b.t.Fatalf("fakebroker: no protocol header")
	}

	b.Send(0, &methods.ConnectionStart{
		VersionMajor:     0,
		VersionMinor:     9,
		ServerProperties: wire.Table{"product": "fakebroker"},
		Mechanisms:       "PLAIN AMQPLAIN",
		Locales:          "en_US",
	})
	_, startOk := Expect[*methods.ConnectionStartOk](b)
	b.Send(0, &methods.ConnectionTune{ChannelMax: tune.ChannelMax, FrameMax: tune.FrameMax, Heartbeat: tune.Heartbeat})
	_, tuneOk := Expect[*methods.ConnectionTuneOk](b)
	b.frameMax.Store(tuneOk.FrameMax)
	Expect[*methods.ConnectionOpen](b)
	b.Send(0, &methods.ConnectionOpenOk{})
	return startOk, tuneOk
}

// AcceptChannel answers the next channel.open and returns its number.
func (b *Broker) AcceptChannel() uint16 {
	b.t.Helper()
	ch, _ := Expect[*methods.ChannelOpen](b)
	b.Send(ch, &methods.ChannelOpenOk{})
	return ch
}
