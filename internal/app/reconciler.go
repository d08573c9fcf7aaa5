package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sixoverme/cqec-os/internal/bus"
)

// reconcileTables are the entity kinds whose changes can affect a wave
// tree or its surroundings. Anything else on the channel is ignored.
var reconcileTables = map[string]struct{}{
	"profiles":          {},
	"domains":           {},
	"roles":             {},
	"waves":             {},
	"wave_participants": {},
	"blips":             {},
	"blip_versions":     {},
}

// Reconciler drives the invalidate-and-reload strategy: any relevant change
// notification schedules a full snapshot reload. Event payloads are ignored;
// the authoritative state is whatever the next LoadSnapshot returns. Bursts
// of notifications within the debounce window coalesce into one reload.
type Reconciler struct {
	service  *Service
	sub      bus.Subscriber
	debounce time.Duration
}

func NewReconciler(service *Service, sub bus.Subscriber, debounce time.Duration) *Reconciler {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Reconciler{service: service, sub: sub, debounce: debounce}
}

// Run blocks consuming change events until the context is cancelled or the
// event channel closes.
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := r.sub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe changes: %w", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if _, relevant := reconcileTables[event.Table]; !relevant {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			if err := r.service.LoadSnapshot(ctx); err != nil {
				log.Printf("reconcile: %v", err)
			}
		}
	}
}
