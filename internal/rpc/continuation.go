package rpc

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/edgemq/internal/protocol/command"
)

var (
	ErrTimeout  = errors.New("rpc: timed out waiting for reply")
	ErrShutdown = errors.New("rpc: continuation queue shut down")
)

type result struct {
	cmd *command.Command
	err error
}

// Continuation is a single-shot slot for the reply to one synchronous call.
// The first Resolve or Fail wins; later calls are ignored.
type Continuation struct {
	once   sync.Once
	done   chan result
	expect func(*command.Command) bool

	mu        sync.Mutex
	abandoned bool
}

// NewContinuation creates a slot. expect, when non-nil, validates that the
// reply method is the one the caller is waiting for.
func NewContinuation(expect func(*command.Command) bool) *Continuation {
	return &Continuation{done: make(chan result, 1), expect: expect}
}

// Expects reports whether cmd is an acceptable reply.
func (k *Continuation) Expects(cmd *command.Command) bool {
	return k.expect == nil || k.expect(cmd)
}

// Resolve fulfils the slot with a reply. It reports false when the slot was
// already fulfilled or its waiter has given up.
func (k *Continuation) Resolve(cmd *command.Command) bool {
	delivered := false
	k.once.Do(func() {
		k.done <- result{cmd: cmd}
		delivered = true
	})
	return delivered && !k.Abandoned()
}

// Fail fulfils the slot with an error.
func (k *Continuation) Fail(err error) {
	k.once.Do(func() {
		k.done <- result{err: err}
	})
}

// Wait blocks until the slot is fulfilled or timeout elapses. A zero timeout
// waits forever. On timeout the slot is marked abandoned so a late reply can
// still be absorbed by it.
func (k *Continuation) Wait(timeout time.Duration) (*command.Command, error) {
	if timeout <= 0 {
		r := <-k.done
		return r.cmd, r.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-k.done:
		return r.cmd, r.err
	case <-timer.C:
		k.mu.Lock()
		k.abandoned = true
		k.mu.Unlock()
		select {
		case r := <-k.done:
			return r.cmd, r.err
		default:
		}
		return nil, ErrTimeout
	}
}

// Abandoned reports whether the waiter timed out.
func (k *Continuation) Abandoned() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.abandoned
}
