package chanalloc

import (
	"math/bits"
	"sync"
)

// Allocator hands out channel numbers in [1, max]. Channel 0 is reserved for
// the connection and is never allocated.
type Allocator struct {
	mu    sync.Mutex
	max   uint16
	words []uint64
	inUse int
}

// New returns an allocator for [1, max]. A max of 0 means 65535.
func New(max uint16) *Allocator {
	if max == 0 {
		max = 65535
	}
	return &Allocator{
		max:   max,
		words: make([]uint64, (int(max)+64)/64),
	}
}

func (a *Allocator) Max() uint16 {
	return a.max
}

// Allocate returns the lowest free number, or false when all are taken.
func (a *Allocator) Allocate() (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, w := range a.words {
		if i == 0 {
			w |= 1
		}
		if w == ^uint64(0) {
			continue
		}
		n := i*64 + bits.TrailingZeros64(^w)
		if n > int(a.max) {
			return 0, false
		}
		a.set(uint16(n))
		return uint16(n), true
	}
	return 0, false
}

// Reserve claims n if it is in range and free.
func (a *Allocator) Reserve(n uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == 0 || n > a.max || a.isSet(n) {
		return false
	}
	a.set(n)
	return true
}

// Free releases n. Freeing an unallocated number is a no-op.
func (a *Allocator) Free(n uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == 0 || n > a.max || !a.isSet(n) {
		return
	}
	a.words[n/64] &^= 1 << (n % 64)
	a.inUse--
}

func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

func (a *Allocator) isSet(n uint16) bool {
	return a.words[n/64]&(1<<(n%64)) != 0
}

func (a *Allocator) set(n uint16) {
	a.words[n/64] |= 1 << (n % 64)
	a.inUse++
}
