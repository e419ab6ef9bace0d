package confirm

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotEnabled = errors.New("confirm: publisher confirms not enabled")
	ErrShutdown   = errors.New("confirm: tracker shut down")
)

// Tracker holds publish sequence numbers awaiting broker ack or nack.
// Sequence numbers start at 1 once confirms are enabled and are never reused.
type Tracker struct {
	mu       sync.Mutex
	next     uint64
	pending  []uint64
	onlyAcks bool
	changed  chan struct{}
	reason   error
}

func NewTracker() *Tracker {
	return &Tracker{onlyAcks: true, changed: make(chan struct{})}
}

// Enable switches sequence allocation on. It is idempotent.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.next == 0 {
		t.next = 1
	}
}

func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next > 0
}

// NextSeqNo returns the number the next publish will receive, or 0 when
// confirms are disabled.
func (t *Tracker) NextSeqNo() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Allocate reserves count consecutive sequence numbers and returns the first.
// ok is false when confirms are disabled.
func (t *Tracker) Allocate(count int) (first uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.next == 0 || count <= 0 {
		return 0, false
	}
	first = t.next
	for i := 0; i < count; i++ {
		t.pending = append(t.pending, t.next)
		t.next++
	}
	return first, true
}

// Ack resolves tag, or every pending number up to and including tag when
// multiple is set. It returns how many numbers were removed.
func (t *Tracker) Ack(tag uint64, multiple bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveLocked(tag, multiple)
}

// Nack behaves like Ack and additionally records that a nack was observed.
func (t *Tracker) Nack(tag uint64, multiple bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onlyAcks = false
	return t.resolveLocked(tag, multiple)
}

func (t *Tracker) resolveLocked(tag uint64, multiple bool) int {
	removed := 0
	if multiple {
		n, _ := slices.BinarySearch(t.pending, tag+1)
		removed = n
		t.pending = t.pending[n:]
	} else if i, found := slices.BinarySearch(t.pending, tag); found {
		t.pending = slices.Delete(t.pending, i, i+1)
		removed = 1
	}
	if len(t.pending) == 0 {
		t.broadcastLocked()
	}
	return removed
}

func (t *Tracker) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Pending returns a snapshot of unconfirmed sequence numbers in order.
func (t *Tracker) Pending() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.pending)
}

// Wait blocks until every outstanding number is resolved, the timeout
// elapses (zero waits forever) or the tracker shuts down. allAcked is true
// only when the set drained without any nack since the previous drain.
func (t *Tracker) Wait(timeout time.Duration) (allAcked bool, timedOut bool, err error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		t.mu.Lock()
		if t.reason != nil {
			reason := t.reason
			t.mu.Unlock()
			return false, false, reason
		}
		if t.next == 0 {
			t.mu.Unlock()
			return false, false, ErrNotEnabled
		}
		if len(t.pending) == 0 {
			allAcked = t.onlyAcks
			t.onlyAcks = true
			t.mu.Unlock()
			return allAcked, false, nil
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return false, true, nil
		}
	}
}

// Shutdown wakes every waiter; subsequent waits return reason.
func (t *Tracker) Shutdown(reason error) {
	if reason == nil {
		reason = ErrShutdown
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reason == nil {
		t.reason = reason
	}
	t.broadcastLocked()
}
