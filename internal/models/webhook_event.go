package models

import "time"

type WebhookEvent struct {
	EventID     string     `json:"event_id" db:"event_id"`
	EventType   string     `json:"event_type" db:"event_type"`
	ReceivedAt  time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}
