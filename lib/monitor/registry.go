package monitor

import (
	"context"
	"sync"
)

// RunFunc is a worker body. It must return once ctx is cancelled.
type RunFunc func(ctx context.Context, watchID uint, alarm *alarmClock)

type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	alarm  *alarmClock
}

func (h *workerHandle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Registry guarantees at most one live worker per watch.
type Registry struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	run      RunFunc
	workers  map[uint]*workerHandle
	retiring map[uint]*workerHandle
	gauge    func(n int)
}

func NewRegistry(run RunFunc) *Registry {
	return &Registry{
		run:      run,
		workers:  make(map[uint]*workerHandle),
		retiring: make(map[uint]*workerHandle),
		gauge:    func(int) {},
	}
}

// Start spawns a worker for watchID unless one is already alive. It reports
// whether a new worker was spawned.
func (r *Registry) Start(watchID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(watchID)
}

func (r *Registry) startLocked(watchID uint) bool {
	if h, ok := r.workers[watchID]; ok && h.alive() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &workerHandle{cancel: cancel, done: make(chan struct{}), alarm: newAlarmClock()}
	prev := r.retiring[watchID]
	r.workers[watchID] = h
	r.gauge(len(r.workers))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer r.remove(watchID, h)

		// A stopped predecessor may still be finishing its cycle.
		if prev != nil {
			<-prev.done
		}
		r.run(ctx, watchID, h.alarm)
	}()
	return true
}

// Stop cancels the worker for watchID, if any, without waiting for it to exit.
func (r *Registry) Stop(watchID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.workers[watchID]
	if !ok {
		return
	}
	h.cancel()
	delete(r.workers, watchID)
	r.retiring[watchID] = h
	r.gauge(len(r.workers))
}

// StopAll cancels every registered worker and clears the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, h := range r.workers {
		h.cancel()
		r.retiring[id] = h
	}
	clear(r.workers)
	r.gauge(0)
}

// Wake cuts the current sleep of watchID's worker short, starting one if
// none is alive.
func (r *Registry) Wake(watchID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startLocked(watchID) {
		return
	}
	r.workers[watchID].alarm.Wake()
}

// release deregisters the worker holding alarm so that a later Start spawns
// a successor instead of being absorbed by a worker on its way out. It
// reports false when that worker was already stopped or replaced.
func (r *Registry) release(watchID uint, alarm *alarmClock) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.workers[watchID]
	if !ok || h.alarm != alarm {
		return false
	}
	delete(r.workers, watchID)
	r.retiring[watchID] = h
	r.gauge(len(r.workers))
	return true
}

func (r *Registry) Running(watchID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.workers[watchID]
	return ok && h.alive()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Wait blocks until every worker goroutine has returned or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) remove(watchID uint, h *workerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.workers[watchID] == h {
		delete(r.workers, watchID)
		r.gauge(len(r.workers))
	}
	if r.retiring[watchID] == h {
		delete(r.retiring, watchID)
	}
}
