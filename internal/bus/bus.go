// Package bus carries change notifications between sessions. An event names
// the table that changed and how; consumers are expected to ignore the
// payload beyond that and reconcile by reloading.
package bus

import "context"

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

type ChangeEvent struct {
	Table string    `json:"table"`
	Type  EventType `json:"eventType"`
}

// Publisher is the producing half, used after a local mutation persists.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// Subscriber is the consuming half, used by the sync reconciler. The
// returned channel closes when the context is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}
