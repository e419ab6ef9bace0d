package amqp

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgemq/internal/chanalloc"
	"github.com/danmuck/edgemq/internal/config"
	"github.com/danmuck/edgemq/internal/dispatch"
	"github.com/danmuck/edgemq/internal/logging"
	"github.com/danmuck/edgemq/internal/observability"
	"github.com/danmuck/edgemq/internal/observer"
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/command"
	"github.com/danmuck/edgemq/internal/protocol/frame"
	"github.com/danmuck/edgemq/internal/protocol/methods"
	"github.com/danmuck/edgemq/internal/rpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPort = "5672"
	product     = "edgemq"
	version     = "0.1.0"
)

// Connection is an open AMQP connection and the owner of its channels.
type Connection struct {
	cfg       Config
	transport Transport
	log       zerolog.Logger
	pool      dispatch.Pool

	writeMu  sync.Mutex
	frameMax atomic.Uint32

	// Touched only by the transport's receive goroutine.
	decoder      *frame.Decoder
	limitApplied bool
	asm          *command.Assembler
	readFailed   bool
	tuned        atomic.Bool

	rpcMu         sync.Mutex
	continuations *rpc.Queue

	sessionsMu sync.RWMutex
	sessions   map[uint16]*Channel
	alloc      *chanalloc.Allocator

	channelMax       uint16
	heartbeat        time.Duration
	serverProperties Table

	lastRecv atomic.Int64
	lastSend atomic.Int64

	shutdownMu       sync.Mutex
	closeReason      *ShutdownError
	shutdownNotified bool
	closeOnce        sync.Once
	closeOkOnce      sync.Once
	closeOk          chan struct{}
	done             chan struct{}

	shutdownObs *observer.List[*ShutdownError]
	blockedObs  *observer.List[Blocking]
}

// Dial connects to an amqp:// URL over TCP and opens the connection. User,
// password and vhost in the URL override cfg.
func Dial(rawURL string, cfg Config) (*Connection, error) {
	addr, cfg, err := applyURL(rawURL, cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.WithDefaults().HandshakeTimeout
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial %s: %w", addr, err)
	}
	c, err := Open(NewConnTransport(conn), cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func applyURL(rawURL string, cfg Config) (string, Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", cfg, fmt.Errorf("amqp: parse url: %w", err)
	}
	if u.Scheme != "amqp" {
		return "", cfg, fmt.Errorf("amqp: unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}
	if vhost := strings.TrimPrefix(u.Path, "/"); vhost != "" {
		if cfg.VHost, err = url.PathUnescape(vhost); err != nil {
			return "", cfg, fmt.Errorf("amqp: parse vhost: %w", err)
		}
	}
	return net.JoinHostPort(host, port), cfg, nil
}

// Open runs the connection handshake over transport.
func Open(transport Transport, cfg Config) (*Connection, error) {
	if err := frame.CheckEmptyFrameSize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if cfg.ConnectionName == "" {
		cfg.ConnectionName = product + "-" + uuid.NewString()
	}
	pool, err := dispatch.New(cfg.WorkPool, cfg.PollInterval)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:           cfg,
		transport:     transport,
		log:           logging.Component("amqp").With().Str("conn", cfg.ConnectionName).Logger(),
		pool:          pool,
		decoder:       frame.NewDecoder(frame.DefaultLimits()),
		asm:           command.NewAssembler(),
		continuations: rpc.NewQueue(),
		sessions:      make(map[uint16]*Channel),
		closeOk:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.shutdownObs = observer.New[*ShutdownError](c.observerPanic)
	c.blockedObs = observer.New[Blocking](c.observerPanic)
	c.frameMax.Store(config.MinFrameMax)
	now := time.Now().UnixNano()
	c.lastRecv.Store(now)
	c.lastSend.Store(now)

	if err := c.handshake(); err != nil {
		c.shutdown(&ShutdownError{Initiator: InitiatorLibrary, Code: protocol.ConnectionForced, Text: "handshake failed", Cause: err})
		return nil, err
	}
	if c.heartbeat > 0 {
		go c.heartbeatLoop(c.heartbeat)
	}
	c.log.Info().
		Uint32("frame_max", c.frameMax.Load()).
		Uint16("channel_max", c.channelMax).
		Dur("heartbeat", c.heartbeat).
		Msg("connection open")
	return c, nil
}

func (c *Connection) handshake() error {
	timeout := c.cfg.HandshakeTimeout

	startK, err := c.expectReply(expect[*methods.ConnectionStart]())
	if err != nil {
		return err
	}
	c.transport.Start(c.onReceive, c.onTransportClosed)
	if err := c.sendRaw([]byte(protocol.Header)); err != nil {
		return err
	}
	reply, err := startK.Wait(timeout)
	if err != nil {
		return c.handshakeErr("connection.start", err)
	}
	start := reply.Method.(*methods.ConnectionStart)
	if !hasMechanism(start.Mechanisms, "PLAIN") {
		return fmt.Errorf("%w: offered %q", ErrUnsupportedAuth, start.Mechanisms)
	}
	c.serverProperties = start.ServerProperties

	reply, err = c.call(0, &methods.ConnectionStartOk{
		ClientProperties: c.clientProperties(),
		Mechanism:        "PLAIN",
		Response:         "\x00" + c.cfg.Username + "\x00" + c.cfg.Password,
		Locale:           c.cfg.Locale,
	}, expect[*methods.ConnectionTune](), timeout)
	if err != nil {
		return c.handshakeErr("connection.tune", err)
	}
	tune := reply.Method.(*methods.ConnectionTune)

	c.channelMax = negotiate16(c.cfg.ChannelMax, tune.ChannelMax)
	frameMax := negotiate32(c.cfg.FrameMax, tune.FrameMax)
	heartbeat := tune.Heartbeat
	switch {
	case c.cfg.Heartbeat < 0:
		heartbeat = 0
	case c.cfg.Heartbeat > 0:
		heartbeat = negotiate16(uint16(c.cfg.Heartbeat/time.Second), tune.Heartbeat)
	}
	c.heartbeat = time.Duration(heartbeat) * time.Second
	c.alloc = chanalloc.New(c.channelMax)

	if err := c.send(0, command.New(&methods.ConnectionTuneOk{
		ChannelMax: c.channelMax,
		FrameMax:   frameMax,
		Heartbeat:  heartbeat,
	})); err != nil {
		return err
	}
	c.frameMax.Store(frameMax)
	c.tuned.Store(true)

	if _, err := c.call(0, &methods.ConnectionOpen{VirtualHost: c.cfg.VHost}, expect[*methods.ConnectionOpenOk](), timeout); err != nil {
		return c.handshakeErr("connection.open-ok", err)
	}
	return nil
}

func (c *Connection) handshakeErr(step string, err error) error {
	if errors.Is(err, rpc.ErrTimeout) {
		return fmt.Errorf("amqp: handshake waiting for %s: %w", step, ErrTimeout)
	}
	return err
}

func (c *Connection) clientProperties() Table {
	return Table{
		"product":         product,
		"version":         version,
		"platform":        "Go",
		"connection_name": c.cfg.ConnectionName,
		"capabilities": Table{
			"publisher_confirms":     true,
			"consumer_cancel_notify": true,
			"basic.nack":             true,
			"connection.blocked":     true,
		},
	}
}

func hasMechanism(offered, want string) bool {
	for _, m := range strings.Fields(offered) {
		if m == want {
			return true
		}
	}
	return false
}

// negotiate16 picks the client value when the broker offers no limit or the
// client asks for less.
func negotiate16(client, server uint16) uint16 {
	if server == 0 || (client != 0 && client < server) {
		return client
	}
	return server
}

func negotiate32(client, server uint32) uint32 {
	if server == 0 || (client != 0 && client < server) {
		return client
	}
	return server
}

// Config returns the effective configuration.
func (c *Connection) Config() Config {
	return c.cfg
}

func (c *Connection) FrameMax() uint32 {
	return c.frameMax.Load()
}

func (c *Connection) ChannelMax() uint16 {
	return c.channelMax
}

func (c *Connection) Heartbeat() time.Duration {
	return c.heartbeat
}

func (c *Connection) ServerProperties() Table {
	return c.serverProperties
}

// Channel opens a new channel on the lowest free number.
func (c *Connection) Channel() (*Channel, error) {
	if reason := c.CloseReason(); reason != nil {
		return nil, closedError(reason)
	}
	id, ok := c.alloc.Allocate()
	if !ok {
		return nil, ErrChannelMax
	}
	ch := newChannel(c, id)
	c.sessionsMu.Lock()
	c.sessions[id] = ch
	c.sessionsMu.Unlock()
	observability.ChannelOpened()

	if reason := c.CloseReason(); reason != nil {
		ch.connectionShutdown(reason)
		return nil, closedError(reason)
	}
	if _, err := ch.rpc(&methods.ChannelOpen{}, expect[*methods.ChannelOpenOk]()); err != nil {
		ch.Abort()
		return nil, err
	}
	ch.log.Debug().Msg("channel open")
	return ch, nil
}

func (c *Connection) session(id uint16) *Channel {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}

// releaseChannel forgets a finished channel and frees its number.
func (c *Connection) releaseChannel(id uint16) {
	c.sessionsMu.Lock()
	_, ok := c.sessions[id]
	delete(c.sessions, id)
	c.sessionsMu.Unlock()
	if ok {
		c.alloc.Free(id)
		observability.ChannelClosed()
	}
}

// expectReply queues a channel-0 continuation without sending anything.
func (c *Connection) expectReply(match func(methods.Method) bool) (*rpc.Continuation, error) {
	k := rpc.NewContinuation(func(cmd *command.Command) bool { return match(cmd.Method) })
	if err := c.continuations.Enqueue(k); err != nil {
		return nil, err
	}
	return k, nil
}

// call performs a synchronous channel-0 exchange.
func (c *Connection) call(channel uint16, req methods.Method, match func(methods.Method) bool, timeout time.Duration) (*command.Command, error) {
	start := time.Now()
	c.rpcMu.Lock()
	k, err := c.expectReply(match)
	if err == nil {
		err = c.send(channel, command.New(req))
	}
	c.rpcMu.Unlock()
	if err != nil {
		return nil, err
	}
	reply, err := k.Wait(timeout)
	observability.RecordRPC(methods.Name(req), err, time.Since(start))
	return reply, err
}

// send fragments cmds and writes them as one contiguous frame sequence.
func (c *Connection) send(channel uint16, cmds ...*command.Command) error {
	frames, err := c.encode(channel, cmds)
	if err != nil {
		return err
	}
	return c.sendFrames(frames)
}

// encode fragments cmds at the current frame_max without writing anything.
func (c *Connection) encode(channel uint16, cmds []*command.Command) ([]frame.Frame, error) {
	return command.FragmentBatch(channel, cmds, c.frameMax.Load())
}

func (c *Connection) sendFrames(frames []frame.Frame) error {
	if err := c.sendRaw(command.EncodeFrames(frames)); err != nil {
		return err
	}
	for _, f := range frames {
		observability.RecordFrame("out", frame.TypeName(f.Type))
	}
	return nil
}

func (c *Connection) sendRaw(buf []byte) error {
	select {
	case <-c.done:
		return closedError(c.CloseReason())
	default:
	}
	c.writeMu.Lock()
	err := c.transport.Send(buf)
	c.writeMu.Unlock()
	if err != nil {
		c.shutdown(&ShutdownError{Initiator: InitiatorLibrary, Code: protocol.ConnectionForced, Text: "write failed", Cause: err})
		return fmt.Errorf("amqp: write: %w", err)
	}
	c.lastSend.Store(time.Now().UnixNano())
	observability.RecordBytes("out", len(buf))
	return nil
}

// onReceive is the transport's receive callback. It runs on one goroutine.
func (c *Connection) onReceive(b []byte) {
	if c.readFailed {
		return
	}
	c.lastRecv.Store(time.Now().UnixNano())
	observability.RecordBytes("in", len(b))
	if !c.limitApplied && c.tuned.Load() {
		c.decoder.SetLimits(frame.LimitsForFrameMax(c.frameMax.Load()))
		c.limitApplied = true
	}
	c.decoder.Feed(b)
	for {
		f, err := c.decoder.Next()
		if errors.Is(err, frame.ErrNeedMoreData) {
			return
		}
		if err == nil {
			err = c.handleFrame(f)
		}
		if err != nil {
			c.readFailed = true
			c.protocolFailure(err)
			return
		}
	}
}

func (c *Connection) handleFrame(f frame.Frame) error {
	observability.RecordFrame("in", frame.TypeName(f.Type))
	if f.Type == frame.TypeHeartbeat {
		return nil
	}
	if f.Channel == 0 {
		cmd, err := c.asm.HandleFrame(f)
		if err != nil || cmd == nil {
			return err
		}
		return c.handleCommand(cmd)
	}
	ch := c.session(f.Channel)
	if ch == nil {
		c.log.Warn().Uint16("channel", f.Channel).Str("type", frame.TypeName(f.Type)).Msg("frame for unknown channel dropped")
		return nil
	}
	return ch.handleFrame(f)
}

func (c *Connection) handleCommand(cmd *command.Command) error {
	if c.tuned.Load() {
		switch cmd.Method.(type) {
		case *methods.ConnectionStart, *methods.ConnectionTune:
			return protocol.Invalid("%s after handshake", cmd)
		}
	}
	switch m := cmd.Method.(type) {
	case *methods.ConnectionClose:
		reason := &ShutdownError{
			Initiator: InitiatorPeer,
			Code:      m.ReplyCode,
			Text:      m.ReplyText,
			ClassID:   m.ClassId,
			MethodID:  m.MethodId,
		}
		c.log.Warn().Uint16("code", m.ReplyCode).Str("text", m.ReplyText).Msg("connection closed by broker")
		c.setCloseReason(reason)
		_ = c.send(0, command.New(&methods.ConnectionCloseOk{}))
		c.shutdown(reason)
		return nil
	case *methods.ConnectionCloseOk:
		c.closeOkOnce.Do(func() { close(c.closeOk) })
		return nil
	case *methods.ConnectionBlocked:
		c.blockedObs.Notify(Blocking{Active: true, Reason: m.Reason})
		return nil
	case *methods.ConnectionUnblocked:
		c.blockedObs.Notify(Blocking{Active: false})
		return nil
	}

	k, ok := c.continuations.Next()
	if !ok {
		return protocol.Unexpected("%s on channel 0 with no pending call", cmd)
	}
	if !k.Expects(cmd) {
		err := protocol.Unexpected("%s does not answer the pending channel 0 call", cmd)
		k.Fail(err)
		return err
	}
	if !k.Resolve(cmd) {
		c.log.Debug().Str("method", cmd.String()).Msg("late reply dropped")
	}
	return nil
}

// protocolFailure tells the broker why and tears the connection down
// without waiting for close-ok.
func (c *Connection) protocolFailure(err error) {
	pe, ok := protocol.AsProtocolError(err)
	if !ok {
		pe = &protocol.ProtocolError{Code: protocol.InternalError, Text: err.Error(), Err: err}
	}
	reason := &ShutdownError{Initiator: InitiatorLibrary, Code: pe.Code, Text: pe.Text, Cause: err}
	c.log.Error().Err(err).Uint16("code", pe.Code).Msg("protocol violation")
	if c.setCloseReason(reason) {
		_ = c.send(0, command.New(&methods.ConnectionClose{ReplyCode: pe.Code, ReplyText: truncate(pe.Text, 255)}))
	}
	c.shutdown(reason)
}

func (c *Connection) onTransportClosed(err error) {
	c.shutdown(&ShutdownError{
		Initiator: InitiatorLibrary,
		Code:      protocol.ConnectionForced,
		Text:      "transport closed",
		Cause:     err,
	})
}

func (c *Connection) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	beat := frame.Encode(frame.Frame{Type: frame.TypeHeartbeat})
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			if now.Sub(time.Unix(0, c.lastRecv.Load())) > 2*interval {
				c.log.Warn().Dur("interval", interval).Msg("missed heartbeats")
				c.shutdown(&ShutdownError{
					Initiator: InitiatorLibrary,
					Code:      protocol.ConnectionForced,
					Text:      "missed heartbeats",
					Cause:     ErrMissedHeartbeats,
				})
				return
			}
			if now.Sub(time.Unix(0, c.lastSend.Load())) >= interval/2 {
				if err := c.sendRaw(beat); err != nil {
					return
				}
				observability.RecordFrame("out", frame.TypeName(frame.TypeHeartbeat))
			}
		}
	}
}

// setCloseReason records reason if none is set yet.
func (c *Connection) setCloseReason(reason *ShutdownError) bool {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	if c.closeReason != nil {
		return false
	}
	c.closeReason = reason
	return true
}

// CloseReason is nil while the connection is open.
func (c *Connection) CloseReason() *ShutdownError {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	return c.closeReason
}

func (c *Connection) IsClosed() bool {
	return c.CloseReason() != nil
}

// Close sends connection.close and waits for the broker's close-ok, bounded
// by Config.CloseTimeout. Closing a closed connection returns nil.
func (c *Connection) Close() error {
	return c.CloseWithReason(protocol.ReplySuccess, "Goodbye")
}

func (c *Connection) CloseWithReason(code uint16, text string) error {
	reason := &ShutdownError{Initiator: InitiatorApplication, Code: code, Text: text}
	if !c.setCloseReason(reason) {
		return nil
	}
	err := c.send(0, command.New(&methods.ConnectionClose{ReplyCode: code, ReplyText: truncate(text, 255)}))
	if err == nil {
		timer := time.NewTimer(c.cfg.CloseTimeout)
		select {
		case <-c.closeOk:
		case <-c.done:
		case <-timer.C:
			err = fmt.Errorf("amqp: waiting for connection.close-ok: %w", ErrTimeout)
		}
		timer.Stop()
	}
	c.shutdown(reason)
	return err
}

// Abort closes the connection and ignores any error.
func (c *Connection) Abort() {
	_ = c.Close()
}

// shutdown runs once: it stops the transport and fans the close reason out
// to every channel, pending call and observer.
func (c *Connection) shutdown(reason *ShutdownError) {
	c.closeOnce.Do(func() {
		c.setCloseReason(reason)
		reason = c.CloseReason()
		close(c.done)
		_ = c.transport.Close()
		c.continuations.HandleShutdown(closedError(reason))

		c.sessionsMu.RLock()
		channels := make([]*Channel, 0, len(c.sessions))
		for _, ch := range c.sessions {
			channels = append(channels, ch)
		}
		c.sessionsMu.RUnlock()
		for _, ch := range channels {
			ch.connectionShutdown(reason)
		}
		c.pool.StopAll()

		c.shutdownMu.Lock()
		c.shutdownNotified = true
		c.shutdownMu.Unlock()
		c.shutdownObs.Notify(reason)
		observability.RecordConnectionClosed(reason.Initiator.String())
		c.log.Info().Str("initiator", reason.Initiator.String()).Uint16("code", reason.Code).Str("text", reason.Text).Msg("connection closed")
	})
}

// NotifyShutdown registers fn for the connection's close reason. If the
// connection is already closed fn is called immediately.
func (c *Connection) NotifyShutdown(fn func(*ShutdownError)) observer.Handle {
	c.shutdownMu.Lock()
	if c.shutdownNotified {
		reason := c.closeReason
		c.shutdownMu.Unlock()
		fn(reason)
		return observer.Handle{}
	}
	h := c.shutdownObs.Add(fn)
	c.shutdownMu.Unlock()
	return h
}

// NotifyBlocked registers fn for connection.blocked and connection.unblocked.
func (c *Connection) NotifyBlocked(fn func(Blocking)) observer.Handle {
	return c.blockedObs.Add(fn)
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) observerPanic(err error) {
	c.log.Error().Err(err).Msg("observer failed")
}

func expect[M methods.Method]() func(methods.Method) bool {
	return func(m methods.Method) bool {
		_, ok := m.(M)
		return ok
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
