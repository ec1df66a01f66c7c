package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// natsConn is the subset of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subj string, data []byte) error
}

// envelope is the wire format for published events.
type envelope struct {
	EventID    string         `json:"eventId"`
	EventType  string         `json:"eventType"`
	UserID     int64          `json:"userId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NATSPublisher publishes events to NATS, one subject per event type
// under a configurable prefix (e.g. "loyalty.events.points_earned").
type NATSPublisher struct {
	conn          natsConn
	subjectPrefix string
}

func NewNATSPublisher(conn *nats.Conn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(envelope{
		EventID:    uuid.New().String(),
		EventType:  event.Type,
		UserID:     event.UserID,
		OccurredAt: occurredAt,
		Payload:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	subject := p.subjectPrefix + "." + event.Type
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}

	return nil
}
