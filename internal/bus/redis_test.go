package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestBus(t *testing.T) *RedisBus {
	t.Helper()
	s := miniredis.RunT(t)
	b, err := NewRedisBus("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis bus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishSubscribe(t *testing.T) {
	b := setupTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	want := ChangeEvent{Table: "blips", Type: EventInsert}
	if err := b.Publish(ctx, want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-events:
		if got != want {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	b := setupTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected channel to close without an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestNewRedisBusBadURL(t *testing.T) {
	if _, err := NewRedisBus("not-a-url"); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}
