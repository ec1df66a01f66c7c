// Package events publishes loyalty domain events to interested
// consumers. The ingest path treats publishing as best-effort: a
// failed publish is logged by the caller and never fails the write
// that produced the event.
package events

import (
	"context"
	"time"
)

// TypePointsEarned is raised when a purchase awards points.
const TypePointsEarned = "points_earned"

// Event is a loyalty domain event.
type Event struct {
	Type       string
	UserID     int64
	OccurredAt time.Time
	Payload    map[string]any
}

// Publisher delivers domain events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events. Used when no broker is configured and
// in tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
