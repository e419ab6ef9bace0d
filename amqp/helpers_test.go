package amqp

import (
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/edgemq/internal/testutil/fakebroker"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Heartbeat = -1
	cfg.ContinuationTimeout = 2 * time.Second
	cfg.CloseTimeout = 500 * time.Millisecond
	return cfg
}

type result[T any] struct {
	v   T
	err error
}

func goCall[T any](fn func() (T, error)) <-chan result[T] {
	out := make(chan result[T], 1)
	go func() {
		v, err := fn()
		out <- result[T]{v: v, err: err}
	}()
	return out
}

func goErr(fn func() error) <-chan result[struct{}] {
	return goCall(func() (struct{}, error) { return struct{}{}, fn() })
}

func waitResult[T any](t *testing.T, ch <-chan result[T]) result[T] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("call did not return")
		return result[T]{}
	}
}

func openConn(t *testing.T, cfg Config, tune fakebroker.Tune) (*Connection, *fakebroker.Broker) {
	t.Helper()
	client, b := fakebroker.New(t)
	res := goCall(func() (*Connection, error) { return Open(NewConnTransport(client), cfg) })
	b.Handshake(tune)
	r := waitResult(t, res)
	require.NoError(t, r.err)
	t.Cleanup(func() {
		r.v.shutdown(&ShutdownError{Initiator: InitiatorApplication, Code: 200, Text: "test done"})
	})
	return r.v, b
}

func openChannel(t *testing.T, c *Connection, b *fakebroker.Broker) *Channel {
	t.Helper()
	res := goCall(c.Channel)
	b.AcceptChannel()
	r := waitResult(t, res)
	require.NoError(t, r.err)
	return r.v
}

func setup(t *testing.T) (*Connection, *Channel, *fakebroker.Broker) {
	t.Helper()
	c, b := openConn(t, testConfig(), fakebroker.DefaultTune())
	return c, openChannel(t, c, b), b
}

func waitClosed(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not close", what)
	}
}

// recorder logs consumer callbacks as short strings.
type recorder struct {
	DefaultConsumer
	events chan string
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 256)}
}

func (r *recorder) HandleConsumeOk(tag string) error {
	r.events <- "consume-ok:" + tag
	return nil
}

func (r *recorder) HandleCancelOk(tag string) error {
	r.events <- "cancel-ok:" + tag
	return nil
}

func (r *recorder) HandleCancel(tag string) error {
	r.events <- "cancel:" + tag
	return nil
}

func (r *recorder) HandleDelivery(d Delivery) error {
	r.events <- "deliver:" + string(d.Body)
	return nil
}

func (r *recorder) HandleShutdown(reason *ShutdownError) error {
	r.events <- fmt.Sprintf("shutdown:%d", reason.Code)
	return nil
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatalf("no consumer event")
		return ""
	}
}
