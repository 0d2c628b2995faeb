// Package events dispatches post-commit mutation events to handlers.
// Handlers run inline, or in the background with concurrent requests for the
// same event type and item coalesced.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nathoo/lorekeep/types"
)

// Handler reacts to one event.
type Handler func(ctx context.Context, ev types.Event) error

// Dispatcher routes events to the handlers registered for their type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	async bool
	log   *slog.Logger
	group singleflight.Group
	wg    sync.WaitGroup
}

// New creates a dispatcher. With async set, Dispatch returns immediately
// and handler failures are only logged.
func New(async bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: map[string][]Handler{}, async: async, log: logger}
}

// On registers h for events of type typ. Handlers run in registration order.
func (d *Dispatcher) On(typ string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = append(d.handlers[typ], h)
}

// Async reports whether handlers run in the background.
func (d *Dispatcher) Async() bool { return d.async }

// Dispatch delivers events in order. Synchronously it runs every handler and
// returns their joined errors.
func (d *Dispatcher) Dispatch(ctx context.Context, events []types.Event) error {
	if !d.async {
		var errs []error
		for _, ev := range events {
			if err := d.run(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	// The caller's request may end before the handlers do.
	bg := context.WithoutCancel(ctx)
	for _, ev := range events {
		if len(d.lookup(ev.Type)) == 0 {
			continue
		}
		d.wg.Add(1)
		go func(ev types.Event) {
			defer d.wg.Done()
			d.coalesce(bg, ev)
		}(ev)
	}
	return nil
}

// Wait blocks until every background handler has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// coalesce runs the handlers for ev unless a run for the same key is already
// in flight, in which case it waits for that run and then repeats once so
// the latest committed state is observed.
func (d *Dispatcher) coalesce(ctx context.Context, ev types.Event) {
	key := fmt.Sprintf("%s:%v", ev.Type, ev.Data["item"])
	fn := func() (any, error) { return nil, d.run(ctx, ev) }

	_, err, shared := d.group.Do(key, fn)
	if shared {
		_, err, _ = d.group.Do(key, fn)
	}
	if err != nil {
		d.log.Warn("background event handler failed", "event", ev.Type, "item", ev.Data["item"], "error", err)
	}
}

func (d *Dispatcher) run(ctx context.Context, ev types.Event) error {
	var errs []error
	for _, h := range d.lookup(ev.Type) {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) lookup(typ string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[typ]
}
