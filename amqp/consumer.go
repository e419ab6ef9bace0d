package amqp

import (
	"sync/atomic"

	"github.com/danmuck/edgemq/internal/dispatch"
)

// Consumer receives events for one consumer tag. Callbacks for a channel run
// one at a time, in the order the broker sent the events. A returned error
// or panic is reported through Channel.NotifyCallbackError and does not stop
// later callbacks.
type Consumer interface {
	HandleConsumeOk(consumerTag string) error
	HandleCancelOk(consumerTag string) error
	// HandleCancel is called when the broker cancels the consumer.
	HandleCancel(consumerTag string) error
	HandleDelivery(d Delivery) error
	HandleShutdown(reason *ShutdownError) error
}

// DefaultConsumer ignores every event. Embed it to implement only the
// callbacks you need.
type DefaultConsumer struct{}

func (DefaultConsumer) HandleConsumeOk(string) error        { return nil }
func (DefaultConsumer) HandleCancelOk(string) error         { return nil }
func (DefaultConsumer) HandleCancel(string) error           { return nil }
func (DefaultConsumer) HandleDelivery(Delivery) error       { return nil }
func (DefaultConsumer) HandleShutdown(*ShutdownError) error { return nil }

// DeliveryFunc is a Consumer that only handles deliveries.
type DeliveryFunc func(Delivery) error

func (f DeliveryFunc) HandleConsumeOk(string) error        { return nil }
func (f DeliveryFunc) HandleCancelOk(string) error         { return nil }
func (f DeliveryFunc) HandleCancel(string) error           { return nil }
func (f DeliveryFunc) HandleDelivery(d Delivery) error     { return f(d) }
func (f DeliveryFunc) HandleShutdown(*ShutdownError) error { return nil }

// consumerDispatcher schedules one channel's consumer callbacks on the
// connection's work pool. After quiesce only shutdown notices are accepted.
type consumerDispatcher struct {
	pool     dispatch.Pool
	channel  uint16
	quiesced atomic.Bool
	onError  func(CallbackError)
}

func (d *consumerDispatcher) schedule(kind dispatch.Kind, c Consumer, run func() error) {
	if kind != dispatch.KindShutdown {
		if d.quiesced.Load() {
			return
		}
		// Items already queued when shutdown begins are skipped when they run.
		inner := run
		run = func() error {
			if d.quiesced.Load() {
				return nil
			}
			return inner()
		}
	}
	_ = d.pool.Schedule(d.channel, dispatch.Work{
		Kind:     kind,
		Consumer: c,
		Run:      run,
		OnError:  d.onError,
	})
}

func (d *consumerDispatcher) consumeOk(c Consumer, tag string) {
	d.schedule(dispatch.KindConsumeOk, c, func() error { return c.HandleConsumeOk(tag) })
}

func (d *consumerDispatcher) cancelOk(c Consumer, tag string) {
	d.schedule(dispatch.KindCancelOk, c, func() error { return c.HandleCancelOk(tag) })
}

func (d *consumerDispatcher) cancel(c Consumer, tag string) {
	d.schedule(dispatch.KindCancel, c, func() error { return c.HandleCancel(tag) })
}

func (d *consumerDispatcher) deliver(c Consumer, dl Delivery) {
	d.schedule(dispatch.KindDeliver, c, func() error { return c.HandleDelivery(dl) })
}

func (d *consumerDispatcher) shutdown(c Consumer, reason *ShutdownError) {
	d.schedule(dispatch.KindShutdown, c, func() error { return c.HandleShutdown(reason) })
}

func (d *consumerDispatcher) quiesce() {
	d.quiesced.Store(true)
}

// stop retires the channel worker after queued callbacks have run.
func (d *consumerDispatcher) stop() {
	d.pool.Stop(d.channel)
}
