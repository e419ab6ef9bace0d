package chanalloc

import (
	"sync"
	"testing"

	"github.com/danmuck/edgemq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateLowestFirstAndExhaust(t *testing.T) {
	testlog.Start(t)
	a := New(3)
	for want := uint16(1); want <= 3; want++ {
		n, ok := a.Allocate()
		require.True(t, ok)
		assert.Equal(t, want, n)
	}
	_, ok := a.Allocate()
	assert.False(t, ok)
	assert.Equal(t, 3, a.InUse())
}

func TestFreeAllowsReuse(t *testing.T) {
	testlog.Start(t)
	a := New(10)
	for i := 0; i < 5; i++ {
		_, ok := a.Allocate()
		require.True(t, ok)
	}
	a.Free(2)
	a.Free(2)
	assert.Equal(t, 4, a.InUse())
	n, ok := a.Allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(2), n)
	n, ok = a.Allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(6), n)
}

func TestReserve(t *testing.T) {
	testlog.Start(t)
	a := New(100)
	assert.False(t, a.Reserve(0))
	assert.False(t, a.Reserve(101))
	assert.True(t, a.Reserve(64))
	assert.False(t, a.Reserve(64))
	a.Free(64)
	assert.True(t, a.Reserve(64))
}

func TestZeroMaxMeansFullRange(t *testing.T) {
	testlog.Start(t)
	a := New(0)
	assert.Equal(t, uint16(65535), a.Max())
	assert.True(t, a.Reserve(65535))
	assert.False(t, a.Reserve(65535))
}

func TestConcurrentAllocateIsUnique(t *testing.T) {
	testlog.Start(t)
	a := New(512)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uint16]bool{}
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 64; i++ {
				n, ok := a.Allocate()
				if !ok {
					return
				}
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 512)
	_, ok := a.Allocate()
	assert.False(t, ok)
}
