// Package observer keeps ordered, removable callback lists for multicast
// events. A panicking callback is recovered and reported without stopping
// delivery to the rest of the list.
package observer

import (
	"fmt"
	"sync"
)

// List holds callbacks receiving values of type T.
type List[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[T]
	onPanic func(error)
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Handle removes a callback from its list.
type Handle struct {
	remove func()
}

// Remove detaches the callback. It is safe to call more than once.
func (h Handle) Remove() {
	if h.remove != nil {
		h.remove()
	}
}

// New returns a list that reports recovered panics to onPanic, which may be nil.
func New[T any](onPanic func(error)) *List[T] {
	return &List[T]{onPanic: onPanic}
}

func (l *List[T]) Add(fn func(T)) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, entry[T]{id: id, fn: fn})
	return Handle{remove: func() { l.remove(id) }}
}

func (l *List[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Notify calls every callback in registration order with v. Callbacks run on
// the caller's goroutine, outside the list lock.
func (l *List[T]) Notify(v T) {
	l.mu.Lock()
	snapshot := make([]entry[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()
	for _, e := range snapshot {
		l.call(e.fn, v)
	}
}

func (l *List[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(fmt.Errorf("observer: callback panicked: %v", r))
		}
	}()
	fn(v)
}
