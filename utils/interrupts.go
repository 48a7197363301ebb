package pedalutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board"
)

// A Handler is called with the new level of an interrupt line.
// Handlers run on the dispatching goroutine and must not block.
type Handler func(high bool)

// An InterruptTable routes board ticks to the handler registered for their
// interrupt line. It stands in for a static interrupt vector table: the
// board reports ticks by name, and the table finds the limb that owns it.
type InterruptTable struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	dropped int64
}

// NewInterruptTable returns an empty table.
func NewInterruptTable() *InterruptTable {
	return &InterruptTable{handlers: map[string]Handler{}}
}

// Register attaches h to the named interrupt line.
func (t *InterruptTable) Register(name string, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[name]; ok {
		return errors.Errorf("interrupt %s already has a handler", name)
	}
	t.handlers[name] = h
	return nil
}

// Unregister removes the handler of the named interrupt line, if any.
func (t *InterruptTable) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, name)
}

// Dispatch calls the handler for tick's line. It returns false when no
// handler is registered, in which case the tick is counted as dropped.
func (t *InterruptTable) Dispatch(tick board.Tick) bool {
	t.mu.RLock()
	h, ok := t.handlers[tick.Name]
	t.mu.RUnlock()
	if !ok {
		atomic.AddInt64(&t.dropped, 1)
		return false
	}
	h(tick.High)
	return true
}

// Dropped returns how many ticks arrived for lines without a handler.
func (t *InterruptTable) Dropped() int64 {
	return atomic.LoadInt64(&t.dropped)
}

// Run dispatches ticks from ch until ctx is done or ch is closed.
func (t *InterruptTable) Run(ctx context.Context, ch <-chan board.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			t.Dispatch(tick)
		}
	}
}
