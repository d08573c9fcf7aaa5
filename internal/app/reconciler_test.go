package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sixoverme/cqec-os/internal/bus"
	"github.com/sixoverme/cqec-os/internal/store"
)

type fakeSubscriber struct {
	events chan bus.ChangeEvent
	err    error
}

func (f *fakeSubscriber) Subscribe(ctx context.Context) (<-chan bus.ChangeEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func TestReconcilerCoalescesBursts(t *testing.T) {
	var loads atomic.Int32
	fs := &fakeStore{
		loadSnapshot: func(ctx context.Context) (store.Snapshot, error) {
			loads.Add(1)
			return store.Snapshot{}, nil
		},
	}
	s := newService(testConfig(), fs, nil, nil)
	sub := &fakeSubscriber{events: make(chan bus.ChangeEvent, 8)}
	rec := NewReconciler(s, sub, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	for i := 0; i < 5; i++ {
		sub.events <- bus.ChangeEvent{Table: "blips", Type: bus.EventInsert}
	}
	time.Sleep(150 * time.Millisecond)

	if got := loads.Load(); got != 1 {
		t.Fatalf("snapshot loads = %d, want the burst coalesced into 1", got)
	}

	sub.events <- bus.ChangeEvent{Table: "waves", Type: bus.EventUpdate}
	time.Sleep(150 * time.Millisecond)
	if got := loads.Load(); got != 2 {
		t.Fatalf("snapshot loads = %d, want a second reload after the window", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestReconcilerIgnoresIrrelevantTables(t *testing.T) {
	var loads atomic.Int32
	fs := &fakeStore{
		loadSnapshot: func(ctx context.Context) (store.Snapshot, error) {
			loads.Add(1)
			return store.Snapshot{}, nil
		},
	}
	s := newService(testConfig(), fs, nil, nil)
	sub := &fakeSubscriber{events: make(chan bus.ChangeEvent, 1)}
	rec := NewReconciler(s, sub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	sub.events <- bus.ChangeEvent{Table: "sessions", Type: bus.EventInsert}
	time.Sleep(100 * time.Millisecond)

	if got := loads.Load(); got != 0 {
		t.Fatalf("snapshot loads = %d, want none for an irrelevant table", got)
	}
}

func TestReconcilerStopsOnClosedChannel(t *testing.T) {
	s := newService(testConfig(), &fakeStore{}, nil, nil)
	sub := &fakeSubscriber{events: make(chan bus.ChangeEvent)}
	rec := NewReconciler(s, sub, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()

	close(sub.events)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on channel close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
}

func TestReconcilerSubscribeFailure(t *testing.T) {
	s := newService(testConfig(), &fakeStore{}, nil, nil)
	sub := &fakeSubscriber{err: errors.New("redis down")}
	rec := NewReconciler(s, sub, 10*time.Millisecond)

	if err := rec.Run(context.Background()); err == nil {
		t.Fatal("Run should surface the subscribe failure")
	}
}
