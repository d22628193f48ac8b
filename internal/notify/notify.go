// Package notify publishes user-facing notifications (points granted, badge
// earned, event cancelled). Delivery to email or push lives downstream of the
// exchange and is not handled here.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is the message body published for each user-facing change.
type Notification struct {
	ID         uuid.UUID   `json:"id"`
	Kind       string      `json:"kind"`
	Title      string      `json:"title"`
	Message    string      `json:"message"`
	Priority   Priority    `json:"priority"`
	Recipients []uuid.UUID `json:"recipients"`
	CreatedBy  uuid.UUID   `json:"created_by,omitzero"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Publisher sends a notification under a routing key such as "rewards.points".
type Publisher interface {
	Publish(ctx context.Context, key string, n Notification) error
}

// LogPublisher writes notifications to the log. It is used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, key string, n Notification) error {
	p.log.Info("notification",
		"key", key,
		"kind", n.Kind,
		"title", n.Title,
		"recipients", len(n.Recipients),
	)
	return nil
}

// New fills the id and timestamp of a notification.
func New(kind, title, message string, priority Priority, createdBy uuid.UUID, recipients ...uuid.UUID) Notification {
	return Notification{
		ID:         uuid.New(),
		Kind:       kind,
		Title:      title,
		Message:    message,
		Priority:   priority,
		Recipients: recipients,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now().UTC(),
	}
}
