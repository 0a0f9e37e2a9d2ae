// Package registry tracks the asynchronous operation currently running for
// each stored file. An entry in the registry means the file is busy; at most
// one entry exists per file at any time.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handle is an in-flight operation. Done is closed once the operation has
// finished; Success is meaningful only after that.
type Handle struct {
	done    chan struct{}
	once    sync.Once
	success bool
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done returns a channel closed when the operation finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Success reports the outcome of a finished operation. It returns false while
// the operation is still running.
func (h *Handle) Success() bool {
	select {
	case <-h.done:
		return h.success
	default:
		return false
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (bool, error) {
	select {
	case <-h.done:
		return h.success, nil
	case <-ctx.Done():
		return false, ctx.Err() //nolint:wrapcheck
	}
}

func (h *Handle) finish(success bool) {
	h.once.Do(func() {
		h.success = success
		close(h.done)
	})
}

// Registry maps file IDs to their running operation.
type Registry struct {
	mu      sync.RWMutex
	running map[uuid.UUID]*Handle
	workers sync.WaitGroup
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{running: make(map[uuid.UUID]*Handle)}
}

// TryBegin marks id as busy and returns the handle for the new operation.
// It returns false without side effects when id is already busy.
func (r *Registry) TryBegin(id uuid.UUID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[id]; busy {
		return nil, false
	}
	h := newHandle()
	r.running[id] = h
	return h, true
}

// End releases id and completes h with the given outcome. The entry is only
// removed if it still belongs to h, so repeated calls are harmless.
func (r *Registry) End(id uuid.UUID, h *Handle, success bool) {
	if h == nil {
		return
	}
	r.mu.Lock()
	if current, ok := r.running[id]; ok && current == h {
		delete(r.running, id)
	}
	r.mu.Unlock()
	h.finish(success)
}

// IsBusy reports whether an operation is running for id.
func (r *Registry) IsBusy(id uuid.UUID) bool {
	r.mu.RLock()
	_, busy := r.running[id]
	r.mu.RUnlock()
	return busy
}

// Len returns the number of busy files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.running)
}

// Chain runs fn after the operation currently registered for id finishes, or
// right away when id is idle. fn always runs on its own goroutine. The
// returned handle completes with fn's result and is not registered under id.
func (r *Registry) Chain(id uuid.UUID, fn func() bool) *Handle {
	r.mu.RLock()
	pending := r.running[id]
	r.mu.RUnlock()

	chained := newHandle()
	r.Go(func() {
		if pending != nil {
			<-pending.Done()
		}
		chained.finish(fn())
	})
	return chained
}

// Go runs fn on a goroutine tracked by Wait.
func (r *Registry) Go(fn func()) {
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		fn()
	}()
}

// Wait blocks until every goroutine started through Go or Chain has returned.
// It returns false if ctx is done first.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
