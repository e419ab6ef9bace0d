package dispatch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	KindBlocking = "blocking"
	KindPolling  = "polling"

	DefaultPollInterval = 10 * time.Millisecond
)

// Pool runs consumer work with one worker per channel. Items scheduled for
// the same channel run one at a time in scheduling order; different channels
// run concurrently.
type Pool interface {
	Schedule(channel uint16, w Work) error
	// Stop retires the channel's worker once its queued items have run.
	// Later Schedule calls for the channel start a fresh worker.
	Stop(channel uint16)
	StopAll()
	// Wait blocks until every retired worker has exited.
	Wait()
}

// New builds the pool named by kind ("blocking" or "polling").
func New(kind string, pollInterval time.Duration) (Pool, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindBlocking:
		return NewBlockingPool(), nil
	case KindPolling:
		return NewPollingPool(pollInterval), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPoolKind, kind)
	}
}

type worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Work
	stopped bool
}

func newWorker() *worker {
	wk := &worker{}
	wk.cond = sync.NewCond(&wk.mu)
	return wk
}

func (wk *worker) push(w Work) bool {
	wk.mu.Lock()
	defer wk.mu.Unlock()
	if wk.stopped {
		return false
	}
	wk.items = append(wk.items, w)
	wk.cond.Signal()
	return true
}

func (wk *worker) stop() {
	wk.mu.Lock()
	wk.stopped = true
	wk.cond.Broadcast()
	wk.mu.Unlock()
}

// take blocks until an item is queued. ok is false once the worker is
// stopped and drained.
func (wk *worker) take() (Work, bool) {
	wk.mu.Lock()
	defer wk.mu.Unlock()
	for len(wk.items) == 0 && !wk.stopped {
		wk.cond.Wait()
	}
	if len(wk.items) == 0 {
		return Work{}, false
	}
	w := wk.items[0]
	wk.items[0] = Work{}
	wk.items = wk.items[1:]
	return w, true
}

func (wk *worker) drain() ([]Work, bool) {
	wk.mu.Lock()
	defer wk.mu.Unlock()
	items := wk.items
	wk.items = nil
	return items, wk.stopped
}

// pool holds the per-channel worker table shared by both strategies.
type pool struct {
	mu      sync.Mutex
	workers map[uint16]*worker
	wg      sync.WaitGroup
	loop    func(channel uint16, wk *worker)
	log     zerolog.Logger
}

func newPool(name string) *pool {
	return &pool{
		workers: make(map[uint16]*worker),
		log:     log.With().Str("component", "dispatch").Str("pool", name).Logger(),
	}
}

func (p *pool) Schedule(channel uint16, w Work) error {
	if w.Run == nil {
		return ErrNilWork
	}
	for {
		wk := p.workerFor(channel)
		if wk.push(w) {
			return nil
		}
		// Lost a race with Stop; the retired worker is gone from the table.
	}
}

func (p *pool) workerFor(channel uint16) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wk, ok := p.workers[channel]; ok {
		return wk
	}
	wk := newWorker()
	p.workers[channel] = wk
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(channel, wk)
		p.log.Debug().Uint16("channel", channel).Msg("worker exited")
	}()
	return wk
}

func (p *pool) Stop(channel uint16) {
	p.mu.Lock()
	wk, ok := p.workers[channel]
	delete(p.workers, channel)
	p.mu.Unlock()
	if ok {
		wk.stop()
	}
}

func (p *pool) StopAll() {
	p.mu.Lock()
	workers := p.workers
	p.workers = make(map[uint16]*worker)
	p.mu.Unlock()
	for _, wk := range workers {
		wk.stop()
	}
}

func (p *pool) Wait() {
	p.wg.Wait()
}

func (p *pool) execute(channel uint16, w Work) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
			}
		}()
		return w.Run()
	}()
	if err == nil {
		return
	}
	cbErr := CallbackError{Operation: w.Kind.Operation(), Consumer: w.Consumer, Err: err}
	if w.OnError != nil {
		w.OnError(cbErr)
		return
	}
	p.log.Warn().Err(err).Uint16("channel", channel).Str("operation", cbErr.Operation).Msg("consumer callback failed")
}

// BlockingPool wakes a channel's worker as soon as work is scheduled.
type BlockingPool struct {
	*pool
}

func NewBlockingPool() *BlockingPool {
	p := newPool(KindBlocking)
	p.loop = func(channel uint16, wk *worker) {
		for {
			w, ok := wk.take()
			if !ok {
				return
			}
			p.execute(channel, w)
		}
	}
	return &BlockingPool{pool: p}
}

// PollingPool checks each channel queue on a fixed interval instead of being
// woken. It trades delivery latency for fewer wakeups under steady load.
type PollingPool struct {
	*pool
	interval time.Duration
}

func NewPollingPool(interval time.Duration) *PollingPool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := newPool(KindPolling)
	p.loop = func(channel uint16, wk *worker) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			items, stopped := wk.drain()
			for _, w := range items {
				p.execute(channel, w)
			}
			if stopped && len(items) == 0 {
				return
			}
			if !stopped {
				<-ticker.C
			}
		}
	}
	return &PollingPool{pool: p, interval: interval}
}

func (p *PollingPool) Interval() time.Duration {
	return p.interval
}
