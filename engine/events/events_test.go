package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nathoo/lorekeep/types"
)

func event(typ string, item int64) types.Event {
	return types.Event{Type: typ, Data: map[string]any{"item": item}}
}

func TestDispatch_SyncOrder(t *testing.T) {
	d := New(false, nil)
	var got []string
	d.On("a", func(_ context.Context, ev types.Event) error {
		got = append(got, "a1")
		return nil
	})
	d.On("a", func(_ context.Context, ev types.Event) error {
		got = append(got, "a2")
		return nil
	})
	d.On("b", func(_ context.Context, ev types.Event) error {
		got = append(got, "b")
		return nil
	})

	err := d.Dispatch(context.Background(), []types.Event{event("b", 1), event("a", 1), event("c", 1)})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := []string{"b", "a1", "a2"}
	if len(got) != len(want) {
		t.Fatalf("handlers ran %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handlers ran %v, want %v", got, want)
			break
		}
	}
}

func TestDispatch_SyncErrors(t *testing.T) {
	boom := errors.New("boom")
	d := New(false, nil)
	ran := 0
	d.On("a", func(context.Context, types.Event) error { return boom })
	d.On("a", func(context.Context, types.Event) error {
		ran++
		return nil
	})

	err := d.Dispatch(context.Background(), []types.Event{event("a", 1)})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if ran != 1 {
		t.Errorf("later handler ran %d times, want 1", ran)
	}
}

func TestDispatch_Async(t *testing.T) {
	d := New(true, nil)
	var count atomic.Int32
	d.On("a", func(context.Context, types.Event) error {
		count.Add(1)
		return nil
	})

	if err := d.Dispatch(context.Background(), []types.Event{event("a", 1), event("a", 2)}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()
	if got := count.Load(); got != 2 {
		t.Errorf("handled %d events, want 2", got)
	}
}

func TestDispatch_AsyncOutlivesCaller(t *testing.T) {
	d := New(true, nil)
	var seen error
	var mu sync.Mutex
	d.On("a", func(ctx context.Context, _ types.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Dispatch(ctx, []types.Event{event("a", 1)}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	cancel()
	d.Wait()
	if seen != nil {
		t.Errorf("handler context err = %v, want nil", seen)
	}
}

func TestDispatch_AsyncCoalescesAndSeesLatest(t *testing.T) {
	d := New(true, nil)
	release := make(chan struct{})
	var version, lastSeen, runs atomic.Int32
	version.Store(1)
	d.On("a", func(context.Context, types.Event) error {
		<-release
		runs.Add(1)
		lastSeen.Store(version.Load())
		return nil
	})

	events := make([]types.Event, 5)
	for i := range events {
		events[i] = event("a", 7)
	}
	if err := d.Dispatch(context.Background(), events); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	version.Store(2)
	close(release)
	d.Wait()

	if runs.Load() < 1 {
		t.Fatalf("handler never ran")
	}
	if got := lastSeen.Load(); got != 2 {
		t.Errorf("last run saw version %d, want 2", got)
	}
}

func TestDispatch_AsyncErrorIsLogged(t *testing.T) {
	d := New(true, nil)
	d.On("a", func(context.Context, types.Event) error { return errors.New("boom") })
	if err := d.Dispatch(context.Background(), []types.Event{event("a", 1)}); err != nil {
		t.Errorf("async Dispatch returned %v, want nil", err)
	}
	d.Wait()
}
