// Package messaging publishes notifications to external brokers.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
)

const envelopeVersion = 1

// Envelope is the wire format shared by every broker sink.
type Envelope struct {
	EventID      string              `json:"event_id"`
	EventType    string              `json:"event_type"`
	EventVersion int                 `json:"event_version"`
	OccurredAt   time.Time           `json:"occurred_at"`
	Producer     string              `json:"producer"`
	UserID       string              `json:"user_id"`
	Payload      notificationPayload `json:"payload"`
}

type notificationPayload struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewEnvelope wraps a notification for publishing.
func NewEnvelope(producer string, n domain.Notification) Envelope {
	occurred := n.CreatedAt.UTC()
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return Envelope{
		EventID:      n.ID,
		EventType:    string(n.Type),
		EventVersion: envelopeVersion,
		OccurredAt:   occurred,
		Producer:     producer,
		UserID:       n.UserID,
		Payload: notificationPayload{
			Title:   n.Title,
			Message: n.Message,
			Data:    n.Data,
		},
	}
}

func encode(producer string, n domain.Notification) ([]byte, error) {
	data, err := json.Marshal(NewEnvelope(producer, n))
	if err != nil {
		return nil, fmt.Errorf("messaging: encode notification %s: %w", n.ID, err)
	}
	return data, nil
}
