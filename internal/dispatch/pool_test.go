package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgemq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pools(t *testing.T) map[string]Pool {
	t.Helper()
	return map[string]Pool{
		KindBlocking: NewBlockingPool(),
		KindPolling:  NewPollingPool(time.Millisecond),
	}
}

func TestNewSelectsPoolKind(t *testing.T) {
	testlog.Start(t)
	p, err := New("", 0)
	require.NoError(t, err)
	assert.IsType(t, &BlockingPool{}, p)

	p, err = New("Polling", 0)
	require.NoError(t, err)
	pp, ok := p.(*PollingPool)
	require.True(t, ok)
	assert.Equal(t, DefaultPollInterval, pp.Interval())

	_, err = New("threaded", 0)
	assert.ErrorIs(t, err, ErrUnknownPoolKind)
}

func TestScheduleRunsInOrderWithoutOverlap(t *testing.T) {
	testlog.Start(t)
	for name, p := range pools(t) {
		t.Run(name, func(t *testing.T) {
			const n = 200
			var (
				mu      sync.Mutex
				got     []int
				running atomic.Int32
				overlap atomic.Bool
				done    = make(chan struct{})
			)
			for i := 0; i < n; i++ {
				require.NoError(t, p.Schedule(1, Work{Kind: KindDeliver, Run: func() error {
					if running.Add(1) > 1 {
						overlap.Store(true)
					}
					defer running.Add(-1)
					mu.Lock()
					got = append(got, i)
					last := len(got) == n
					mu.Unlock()
					if last {
						close(done)
					}
					return nil
				}}))
			}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("work did not finish")
			}
			assert.False(t, overlap.Load())
			for i, v := range got {
				require.Equal(t, i, v)
			}
			p.StopAll()
			p.Wait()
		})
	}
}

func TestChannelsRunIndependently(t *testing.T) {
	testlog.Start(t)
	p := NewBlockingPool()
	release := make(chan struct{})
	other := make(chan struct{})
	require.NoError(t, p.Schedule(1, Work{Run: func() error {
		<-release
		return nil
	}}))
	require.NoError(t, p.Schedule(2, Work{Run: func() error {
		close(other)
		return nil
	}}))
	select {
	case <-other:
	case <-time.After(5 * time.Second):
		t.Fatalf("channel 2 blocked behind channel 1")
	}
	close(release)
	p.StopAll()
	p.Wait()
}

func TestCallbackFailuresAreIsolated(t *testing.T) {
	testlog.Start(t)
	for name, p := range pools(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			errs := make(chan CallbackError, 2)
			report := func(e CallbackError) { errs <- e }
			consumer := "consumer-a"
			ran := make(chan struct{})

			require.NoError(t, p.Schedule(3, Work{Kind: KindDeliver, Consumer: consumer, OnError: report, Run: func() error {
				return boom
			}}))
			require.NoError(t, p.Schedule(3, Work{Kind: KindCancel, Consumer: consumer, OnError: report, Run: func() error {
				panic("bad consumer")
			}}))
			require.NoError(t, p.Schedule(3, Work{Kind: KindShutdown, Run: func() error {
				close(ran)
				return nil
			}}))

			select {
			case <-ran:
			case <-time.After(5 * time.Second):
				t.Fatalf("worker stopped after callback failure")
			}
			first := <-errs
			assert.Equal(t, "HandleDelivery", first.Operation)
			assert.Equal(t, consumer, first.Consumer)
			assert.ErrorIs(t, first, boom)
			second := <-errs
			assert.Equal(t, "HandleCancel", second.Operation)
			assert.ErrorIs(t, second, ErrCallbackPanic)
			p.StopAll()
			p.Wait()
		})
	}
}

func TestStopRunsQueuedItemsThenRestartsLazily(t *testing.T) {
	testlog.Start(t)
	for name, p := range pools(t) {
		t.Run(name, func(t *testing.T) {
			var count atomic.Int32
			gate := make(chan struct{})
			require.NoError(t, p.Schedule(5, Work{Run: func() error {
				<-gate
				count.Add(1)
				return nil
			}}))
			for i := 0; i < 3; i++ {
				require.NoError(t, p.Schedule(5, Work{Run: func() error {
					count.Add(1)
					return nil
				}}))
			}
			p.Stop(5)
			close(gate)
			p.Wait()
			assert.Equal(t, int32(4), count.Load())

			again := make(chan struct{})
			require.NoError(t, p.Schedule(5, Work{Run: func() error {
				close(again)
				return nil
			}}))
			select {
			case <-again:
			case <-time.After(5 * time.Second):
				t.Fatalf("reopened channel not served")
			}
			p.StopAll()
			p.Wait()
		})
	}
}

func TestScheduleRejectsNilWork(t *testing.T) {
	testlog.Start(t)
	p := NewBlockingPool()
	assert.ErrorIs(t, p.Schedule(1, Work{}), ErrNilWork)
}

func internals(t *testing.T, p Pool) *pool {
	t.Helper()
	switch v := p.(type) {
	case *BlockingPool:
		return v.pool
	case *PollingPool:
		return v.pool
	}
	t.Fatalf("unknown pool type %T", p)
	return nil
}

func waitExited(t *testing.T, p Pool) {
	t.Helper()
	exited := make(chan struct{})
	go func() {
		p.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatalf("workers did not exit")
	}
}

func TestConcurrentFirstScheduleStartsOneWorker(t *testing.T) {
	testlog.Start(t)
	for name, p := range pools(t) {
		t.Run(name, func(t *testing.T) {
			const n = 32
			var (
				start   = make(chan struct{})
				wg      sync.WaitGroup
				running atomic.Int32
				overlap atomic.Bool
				ran     atomic.Int32
				done    = make(chan struct{})
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					assert.NoError(t, p.Schedule(1, Work{Kind: KindDeliver, Run: func() error {
						if running.Add(1) > 1 {
							overlap.Store(true)
						}
						time.Sleep(100 * time.Microsecond)
						running.Add(-1)
						if ran.Add(1) == n {
							close(done)
						}
						return nil
					}}))
				}()
			}
			close(start)
			wg.Wait()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("work did not finish")
			}
			assert.False(t, overlap.Load())

			inner := internals(t, p)
			inner.mu.Lock()
			assert.Len(t, inner.workers, 1)
			inner.mu.Unlock()

			// A second worker started by the race would never be stopped.
			p.Stop(1)
			waitExited(t, p)
		})
	}
}

func TestConcurrentSchedulersKeepEnqueueOrder(t *testing.T) {
	testlog.Start(t)
	for name, p := range pools(t) {
		t.Run(name, func(t *testing.T) {
			const schedulers, each = 8, 50
			var (
				enqMu    sync.Mutex
				enqueued []int
				next     int
				execMu   sync.Mutex
				executed []int
				wg       sync.WaitGroup
				done     = make(chan struct{})
			)
			for g := 0; g < schedulers; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < each; i++ {
						enqMu.Lock()
						id := next
						next++
						enqueued = append(enqueued, id)
						err := p.Schedule(1, Work{Kind: KindDeliver, Run: func() error {
							execMu.Lock()
							executed = append(executed, id)
							last := len(executed) == schedulers*each
							execMu.Unlock()
							if last {
								close(done)
							}
							return nil
						}})
						enqMu.Unlock()
						assert.NoError(t, err)
					}
				}()
			}
			wg.Wait()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("work did not finish")
			}
			execMu.Lock()
			assert.Equal(t, enqueued, executed)
			execMu.Unlock()
			p.StopAll()
			waitExited(t, p)
		})
	}
}
