package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/edgemq/internal/confirm"
	"github.com/danmuck/edgemq/internal/observability"
	"github.com/danmuck/edgemq/internal/observer"
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/command"
	"github.com/danmuck/edgemq/internal/protocol/frame"
	"github.com/danmuck/edgemq/internal/protocol/methods"
	"github.com/danmuck/edgemq/internal/rpc"
	"github.com/rs/zerolog"
)

// Channel is a logical session multiplexed over a Connection.
type Channel struct {
	conn *Connection
	id   uint16
	log  zerolog.Logger

	// Touched only by the connection's receive goroutine.
	asm *command.Assembler

	rpcMu         sync.Mutex
	continuations *rpc.Queue

	publishMu sync.Mutex
	confirms  *confirm.Tracker

	consumersMu sync.RWMutex
	consumers   map[string]Consumer
	// pending maps an outstanding basic.consume to its consumer until
	// consume-ok names the tag.
	pending    map[*rpc.Continuation]Consumer
	dispatcher *consumerDispatcher

	flowMu     sync.Mutex
	flowActive bool
	flowOpen   chan struct{}

	shutdownMu       sync.Mutex
	closeReason      *ShutdownError
	shutdownNotified bool
	closeOkOnce      sync.Once
	closeOk          chan struct{}
	finishOnce       sync.Once
	finished         chan struct{}

	shutdownObs *observer.List[*ShutdownError]
	returnObs   *observer.List[Return]
	flowObs     *observer.List[bool]
	ackObs      *observer.List[Confirmation]
	nackObs     *observer.List[Confirmation]
	callbackObs *observer.List[CallbackError]
}

func newChannel(c *Connection, id uint16) *Channel {
	ch := &Channel{
		conn:          c,
		id:            id,
		log:           c.log.With().Uint16("channel", id).Logger(),
		asm:           command.NewAssembler(),
		continuations: rpc.NewQueue(),
		confirms:      confirm.NewTracker(),
		consumers:     make(map[string]Consumer),
		pending:       make(map[*rpc.Continuation]Consumer),
		flowActive:    true,
		flowOpen:      make(chan struct{}),
		closeOk:       make(chan struct{}),
		finished:      make(chan struct{}),
	}
	close(ch.flowOpen)
	ch.dispatcher = &consumerDispatcher{pool: c.pool, channel: id, onError: ch.callbackFailed}
	ch.shutdownObs = observer.New[*ShutdownError](ch.observerPanic)
	ch.returnObs = observer.New[Return](ch.observerPanic)
	ch.flowObs = observer.New[bool](ch.observerPanic)
	ch.ackObs = observer.New[Confirmation](ch.observerPanic)
	ch.nackObs = observer.New[Confirmation](ch.observerPanic)
	ch.callbackObs = observer.New[CallbackError](ch.observerPanic)
	return ch
}

func (ch *Channel) Number() uint16 {
	return ch.id
}

// call enqueues a continuation and transmits req under the RPC lock so the
// queue order matches the wire order.
func (ch *Channel) call(req methods.Method, match func(methods.Method) bool) (*rpc.Continuation, error) {
	k := rpc.NewContinuation(func(cmd *command.Command) bool { return match(cmd.Method) })
	ch.rpcMu.Lock()
	defer ch.rpcMu.Unlock()
	if reason := ch.CloseReason(); reason != nil {
		return nil, closedError(reason)
	}
	if err := ch.continuations.Enqueue(k); err != nil {
		return nil, err
	}
	if err := ch.conn.send(ch.id, command.New(req)); err != nil {
		return nil, err
	}
	return k, nil
}

func (ch *Channel) await(k *rpc.Continuation, req methods.Method, start time.Time) (*command.Command, error) {
	reply, err := k.Wait(ch.conn.cfg.ContinuationTimeout)
	observability.RecordRPC(methods.Name(req), err, time.Since(start))
	if errors.Is(err, rpc.ErrTimeout) {
		ch.log.Warn().Str("method", methods.Name(req)).Msg("rpc timed out")
		return nil, fmt.Errorf("amqp: %s: %w", methods.Name(req), ErrTimeout)
	}
	return reply, err
}

// rpc sends req and waits for the reply accepted by match.
func (ch *Channel) rpc(req methods.Method, match func(methods.Method) bool) (*command.Command, error) {
	start := time.Now()
	k, err := ch.call(req, match)
	if err != nil {
		return nil, err
	}
	return ch.await(k, req, start)
}

// sendAsync transmits a command that has no reply.
func (ch *Channel) sendAsync(cmds ...*command.Command) error {
	if reason := ch.CloseReason(); reason != nil {
		return closedError(reason)
	}
	return ch.conn.send(ch.id, cmds...)
}

func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args Table) (Queue, error) {
	req := &methods.QueueDeclare{
		Queue:      name,
		Durable:    durable,
		AutoDelete: autoDelete,
		Exclusive:  exclusive,
		NoWait:     noWait,
		Arguments:  args,
	}
	if noWait {
		return Queue{Name: name}, ch.sendAsync(command.New(req))
	}
	reply, err := ch.rpc(req, expect[*methods.QueueDeclareOk]())
	if err != nil {
		return Queue{}, err
	}
	ok := reply.Method.(*methods.QueueDeclareOk)
	return Queue{Name: ok.Queue, Messages: int(ok.MessageCount), Consumers: int(ok.ConsumerCount)}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, noWait bool, args Table) error {
	req := &methods.QueueBind{Queue: name, Exchange: exchange, RoutingKey: key, NoWait: noWait, Arguments: args}
	if noWait {
		return ch.sendAsync(command.New(req))
	}
	_, err := ch.rpc(req, expect[*methods.QueueBindOk]())
	return err
}

// QueueDelete returns the number of messages deleted with the queue.
func (ch *Channel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	req := &methods.QueueDelete{Queue: name, IfUnused: ifUnused, IfEmpty: ifEmpty, NoWait: noWait}
	if noWait {
		return 0, ch.sendAsync(command.New(req))
	}
	reply, err := ch.rpc(req, expect[*methods.QueueDeleteOk]())
	if err != nil {
		return 0, err
	}
	return int(reply.Method.(*methods.QueueDeleteOk).MessageCount), nil
}

func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args Table) error {
	req := &methods.ExchangeDeclare{
		Exchange:   name,
		Type:       kind,
		Durable:    durable,
		AutoDelete: autoDelete,
		Internal:   internal,
		NoWait:     noWait,
		Arguments:  args,
	}
	if noWait {
		return ch.sendAsync(command.New(req))
	}
	_, err := ch.rpc(req, expect[*methods.ExchangeDeclareOk]())
	return err
}

func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	_, err := ch.rpc(&methods.BasicQos{
		PrefetchCount: uint16(prefetchCount),
		PrefetchSize:  uint32(prefetchSize),
		Global:        global,
	}, expect[*methods.BasicQosOk]())
	return err
}

// Flow asks the broker to pause (false) or resume (true) deliveries.
func (ch *Channel) Flow(active bool) error {
	_, err := ch.rpc(&methods.ChannelFlow{Active: active}, expect[*methods.ChannelFlowOk]())
	return err
}

// Confirm puts the channel in publisher-confirm mode. Sequence numbers
// start at 1 with the first publish after this call.
func (ch *Channel) Confirm(noWait bool) error {
	start := time.Now()
	req := &methods.ConfirmSelect{NoWait: noWait}
	ch.publishMu.Lock()
	if noWait {
		err := ch.sendAsync(command.New(req))
		if err == nil {
			ch.confirms.Enable()
		}
		ch.publishMu.Unlock()
		return err
	}
	k, err := ch.call(req, expect[*methods.ConfirmSelectOk]())
	if err == nil {
		ch.confirms.Enable()
	}
	ch.publishMu.Unlock()
	if err != nil {
		return err
	}
	_, err = ch.await(k, req, start)
	return err
}

// Consume starts a consumer and returns its tag. An empty tag lets the
// broker choose one.
func (ch *Channel) Consume(queue, tag string, noAck, exclusive, noLocal bool, args Table, consumer Consumer) (string, error) {
	if consumer == nil {
		return "", errors.New("amqp: nil consumer")
	}
	if tag != "" {
		ch.consumersMu.RLock()
		_, inUse := ch.consumers[tag]
		ch.consumersMu.RUnlock()
		if inUse {
			return "", fmt.Errorf("%w: %q", ErrConsumerTagInUse, tag)
		}
	}
	start := time.Now()
	req := &methods.BasicConsume{
		Queue:       queue,
		ConsumerTag: tag,
		NoAck:       noAck,
		Exclusive:   exclusive,
		NoLocal:     noLocal,
		Arguments:   args,
	}
	k := rpc.NewContinuation(func(cmd *command.Command) bool { return expect[*methods.BasicConsumeOk]()(cmd.Method) })
	ch.rpcMu.Lock()
	if reason := ch.CloseReason(); reason != nil {
		ch.rpcMu.Unlock()
		return "", closedError(reason)
	}
	ch.consumersMu.Lock()
	ch.pending[k] = consumer
	ch.consumersMu.Unlock()
	err := ch.continuations.Enqueue(k)
	if err == nil {
		err = ch.conn.send(ch.id, command.New(req))
	}
	ch.rpcMu.Unlock()
	if err != nil {
		ch.consumersMu.Lock()
		delete(ch.pending, k)
		ch.consumersMu.Unlock()
		return "", err
	}
	reply, err := ch.await(k, req, start)
	if err != nil {
		return "", err
	}
	return reply.Method.(*methods.BasicConsumeOk).ConsumerTag, nil
}

// Cancel stops the consumer; its HandleCancelOk runs after any deliveries
// already scheduled for it.
func (ch *Channel) Cancel(tag string) error {
	_, err := ch.rpc(&methods.BasicCancel{ConsumerTag: tag}, expect[*methods.BasicCancelOk]())
	return err
}

func (ch *Channel) Ack(tag uint64, multiple bool) error {
	return ch.sendAsync(command.New(&methods.BasicAck{DeliveryTag: tag, Multiple: multiple}))
}

func (ch *Channel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.sendAsync(command.New(&methods.BasicNack{DeliveryTag: tag, Multiple: multiple, Requeue: requeue}))
}

func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.sendAsync(command.New(&methods.BasicReject{DeliveryTag: tag, Requeue: requeue}))
}

// waitFlow blocks while the broker has paused publishing on this channel.
func (ch *Channel) waitFlow(ctx context.Context) error {
	ch.flowMu.Lock()
	open := ch.flowOpen
	ch.flowMu.Unlock()
	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ch *Channel) setFlow(active bool) {
	ch.flowMu.Lock()
	defer ch.flowMu.Unlock()
	if active == ch.flowActive {
		return
	}
	ch.flowActive = active
	if active {
		close(ch.flowOpen)
	} else {
		ch.flowOpen = make(chan struct{})
	}
}

func (ch *Channel) handleFrame(f frame.Frame) error {
	cmd, err := ch.asm.HandleFrame(f)
	if err != nil || cmd == nil {
		return err
	}
	return ch.handleCommand(cmd)
}

// handleCommand routes one inbound command. It runs on the connection's
// receive goroutine; a returned error is a connection-fatal violation.
func (ch *Channel) handleCommand(cmd *command.Command) error {
	switch m := cmd.Method.(type) {
	case *methods.BasicDeliver:
		ch.handleDeliver(m, cmd)
	case *methods.BasicReturn:
		ch.returnObs.Notify(Return{
			ReplyCode:  m.ReplyCode,
			ReplyText:  m.ReplyText,
			Exchange:   m.Exchange,
			RoutingKey: m.RoutingKey,
			Properties: propsOf(cmd.Properties),
			Body:       cmd.Body,
		})
	case *methods.BasicAck:
		if !ch.confirms.Enabled() {
			ch.log.Warn().Uint64("tag", m.DeliveryTag).Msg("basic.ack without confirm mode")
		}
		n := ch.confirms.Ack(m.DeliveryTag, m.Multiple)
		observability.RecordConfirm(true, n)
		ch.ackObs.Notify(Confirmation{DeliveryTag: m.DeliveryTag, Multiple: m.Multiple})
	case *methods.BasicNack:
		n := ch.confirms.Nack(m.DeliveryTag, m.Multiple)
		observability.RecordConfirm(false, n)
		ch.nackObs.Notify(Confirmation{DeliveryTag: m.DeliveryTag, Multiple: m.Multiple})
	case *methods.BasicCancel:
		ch.handleBrokerCancel(m)
	case *methods.ChannelFlow:
		ch.setFlow(m.Active)
		if err := ch.sendAsync(command.New(&methods.ChannelFlowOk{Active: m.Active})); err != nil {
			ch.log.Debug().Err(err).Msg("flow-ok not sent")
		}
		ch.flowObs.Notify(m.Active)
	case *methods.ChannelClose:
		ch.handlePeerClose(m)
	case *methods.ChannelCloseOk:
		ch.closeOkOnce.Do(func() { close(ch.closeOk) })
	case *methods.BasicConsumeOk:
		return ch.handleConsumeOk(m, cmd)
	case *methods.BasicCancelOk:
		return ch.handleCancelOk(m, cmd)
	default:
		_, err := ch.resolveNext(cmd)
		return err
	}
	return nil
}

// resolveNext hands cmd to the oldest pending call.
func (ch *Channel) resolveNext(cmd *command.Command) (*rpc.Continuation, error) {
	k, ok := ch.continuations.Next()
	if !ok {
		return nil, protocol.Unexpected("%s on channel %d with no pending call", cmd, ch.id)
	}
	if !k.Expects(cmd) {
		err := protocol.Unexpected("%s does not answer the pending call on channel %d", cmd, ch.id)
		k.Fail(err)
		return nil, err
	}
	if !k.Resolve(cmd) {
		ch.log.Debug().Str("method", cmd.String()).Msg("late reply dropped")
	}
	return k, nil
}

func (ch *Channel) handleConsumeOk(m *methods.BasicConsumeOk, cmd *command.Command) error {
	k, err := ch.resolveNext(cmd)
	if err != nil {
		return err
	}
	ch.consumersMu.Lock()
	consumer, ok := ch.pending[k]
	delete(ch.pending, k)
	if ok {
		ch.consumers[m.ConsumerTag] = consumer
	}
	ch.consumersMu.Unlock()
	if ok {
		ch.dispatcher.consumeOk(consumer, m.ConsumerTag)
	}
	return nil
}

func (ch *Channel) handleCancelOk(m *methods.BasicCancelOk, cmd *command.Command) error {
	if _, err := ch.resolveNext(cmd); err != nil {
		return err
	}
	if consumer, ok := ch.removeConsumer(m.ConsumerTag); ok {
		ch.dispatcher.cancelOk(consumer, m.ConsumerTag)
	}
	return nil
}

func (ch *Channel) handleBrokerCancel(m *methods.BasicCancel) {
	consumer, ok := ch.removeConsumer(m.ConsumerTag)
	if !ok {
		ch.log.Warn().Str("consumer", m.ConsumerTag).Msg("cancel for unknown consumer")
	} else {
		ch.dispatcher.cancel(consumer, m.ConsumerTag)
	}
	if !m.NoWait {
		_ = ch.sendAsync(command.New(&methods.BasicCancelOk{ConsumerTag: m.ConsumerTag}))
	}
}

func (ch *Channel) removeConsumer(tag string) (Consumer, bool) {
	ch.consumersMu.Lock()
	defer ch.consumersMu.Unlock()
	consumer, ok := ch.consumers[tag]
	delete(ch.consumers, tag)
	return consumer, ok
}

func (ch *Channel) handleDeliver(m *methods.BasicDeliver, cmd *command.Command) {
	ch.consumersMu.RLock()
	consumer, ok := ch.consumers[m.ConsumerTag]
	ch.consumersMu.RUnlock()
	if !ok {
		ch.log.Warn().Str("consumer", m.ConsumerTag).Uint64("delivery_tag", m.DeliveryTag).Msg("delivery for unknown consumer dropped")
		return
	}
	ch.dispatcher.deliver(consumer, Delivery{
		channel:     ch,
		ConsumerTag: m.ConsumerTag,
		DeliveryTag: m.DeliveryTag,
		Redelivered: m.Redelivered,
		Exchange:    m.Exchange,
		RoutingKey:  m.RoutingKey,
		Properties:  propsOf(cmd.Properties),
		Body:        cmd.Body,
	})
	observability.RecordDelivery()
}

func (ch *Channel) callbackFailed(e CallbackError) {
	observability.RecordCallbackError(e.Operation)
	ch.log.Warn().Err(e.Err).Str("operation", e.Operation).Msg("consumer callback failed")
	ch.callbackObs.Notify(e)
}

func (ch *Channel) observerPanic(err error) {
	ch.log.Error().Err(err).Msg("observer failed")
}

// CloseReason is nil while the channel is open.
func (ch *Channel) CloseReason() *ShutdownError {
	ch.shutdownMu.Lock()
	defer ch.shutdownMu.Unlock()
	return ch.closeReason
}

func (ch *Channel) IsClosed() bool {
	return ch.CloseReason() != nil
}

func (ch *Channel) setCloseReason(reason *ShutdownError) bool {
	ch.shutdownMu.Lock()
	defer ch.shutdownMu.Unlock()
	if ch.closeReason != nil {
		return false
	}
	ch.closeReason = reason
	return true
}

// Close closes the channel with reply-success and waits for the broker's
// close-ok. Closing a closed channel returns nil.
func (ch *Channel) Close() error {
	return ch.CloseWithReason(protocol.ReplySuccess, "Goodbye")
}

func (ch *Channel) CloseWithReason(code uint16, text string) error {
	return ch.close(&ShutdownError{Initiator: InitiatorApplication, Code: code, Text: text})
}

// Abort closes the channel and ignores any error.
func (ch *Channel) Abort() {
	_ = ch.Close()
}

func (ch *Channel) close(reason *ShutdownError) error {
	if !ch.setCloseReason(reason) {
		return nil
	}
	ch.setFlow(true)
	ch.dispatcher.quiesce()

	err := ch.conn.send(ch.id, command.New(&methods.ChannelClose{
		ReplyCode: reason.Code,
		ReplyText: truncate(reason.Text, 255),
		ClassId:   reason.ClassID,
		MethodId:  reason.MethodID,
	}))
	if err == nil {
		timer := time.NewTimer(ch.conn.cfg.CloseTimeout)
		select {
		case <-ch.closeOk:
		case <-ch.conn.done:
		case <-timer.C:
			err = fmt.Errorf("amqp: waiting for channel.close-ok: %w", ErrTimeout)
		}
		timer.Stop()
	}
	ch.finish()
	return err
}

func (ch *Channel) handlePeerClose(m *methods.ChannelClose) {
	reason := &ShutdownError{
		Initiator: InitiatorPeer,
		Code:      m.ReplyCode,
		Text:      m.ReplyText,
		ClassID:   m.ClassId,
		MethodID:  m.MethodId,
	}
	first := ch.setCloseReason(reason)
	if first {
		ch.log.Warn().Uint16("code", m.ReplyCode).Str("text", m.ReplyText).Msg("channel closed by broker")
		ch.setFlow(true)
		ch.dispatcher.quiesce()
	}
	if err := ch.conn.send(ch.id, command.New(&methods.ChannelCloseOk{})); err != nil {
		ch.log.Debug().Err(err).Msg("close-ok not sent")
	}
	if first {
		ch.finish()
		return
	}
	// Both sides closed at once; our close is answered by this exchange.
	ch.closeOkOnce.Do(func() { close(ch.closeOk) })
}

// connectionShutdown closes the channel with the connection's reason.
func (ch *Channel) connectionShutdown(reason *ShutdownError) {
	if ch.setCloseReason(reason) {
		ch.setFlow(true)
		ch.dispatcher.quiesce()
	}
	ch.closeOkOnce.Do(func() { close(ch.closeOk) })
	ch.finish()
}

// finish releases everything waiting on the channel. It runs once.
func (ch *Channel) finish() {
	ch.finishOnce.Do(func() {
		reason := ch.CloseReason()
		closed := closedError(reason)
		ch.continuations.HandleShutdown(closed)
		ch.confirms.Shutdown(closed)

		ch.consumersMu.Lock()
		consumers := ch.consumers
		ch.consumers = make(map[string]Consumer)
		ch.pending = make(map[*rpc.Continuation]Consumer)
		ch.consumersMu.Unlock()
		for _, consumer := range consumers {
			ch.dispatcher.shutdown(consumer, reason)
		}
		ch.dispatcher.stop()

		ch.conn.releaseChannel(ch.id)
		ch.shutdownMu.Lock()
		ch.shutdownNotified = true
		ch.shutdownMu.Unlock()
		ch.shutdownObs.Notify(reason)
		close(ch.finished)
		ch.log.Debug().Str("initiator", reason.Initiator.String()).Uint16("code", reason.Code).Msg("channel closed")
	})
}

// Done is closed once the channel has fully shut down.
func (ch *Channel) Done() <-chan struct{} {
	return ch.finished
}

// NotifyShutdown registers fn for the channel's close reason. If the channel
// has already shut down fn is called immediately.
func (ch *Channel) NotifyShutdown(fn func(*ShutdownError)) observer.Handle {
	ch.shutdownMu.Lock()
	if ch.shutdownNotified {
		reason := ch.closeReason
		ch.shutdownMu.Unlock()
		fn(reason)
		return observer.Handle{}
	}
	h := ch.shutdownObs.Add(fn)
	ch.shutdownMu.Unlock()
	return h
}

func (ch *Channel) NotifyReturn(fn func(Return)) observer.Handle {
	return ch.returnObs.Add(fn)
}

// NotifyFlow reports broker-initiated channel.flow changes.
func (ch *Channel) NotifyFlow(fn func(active bool)) observer.Handle {
	return ch.flowObs.Add(fn)
}

func (ch *Channel) NotifyAck(fn func(Confirmation)) observer.Handle {
	return ch.ackObs.Add(fn)
}

func (ch *Channel) NotifyNack(fn func(Confirmation)) observer.Handle {
	return ch.nackObs.Add(fn)
}

func (ch *Channel) NotifyCallbackError(fn func(CallbackError)) observer.Handle {
	return ch.callbackObs.Add(fn)
}
