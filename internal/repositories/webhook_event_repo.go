package repositories

import (
	"context"

	"estatehub/internal/models"
)

// WebhookEventRepository is the log of gateway events that finished processing.
type WebhookEventRepository interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, event *models.WebhookEvent) error
}

type webhookEventRepo struct {
	db Database
}

func NewWebhookEventRepo(db Database) WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	query := `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1 AND processed_at IS NOT NULL)`
	if err := r.db.QueryRow(ctx, query, eventID).Scan(&processed); err != nil {
		return false, err
	}
	return processed, nil
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, event *models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (event_id, event_type, received_at, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id) DO UPDATE SET processed_at = COALESCE(webhook_events.processed_at, EXCLUDED.processed_at)
	`
	_, err := r.db.Exec(ctx, query, event.EventID, event.EventType, event.ReceivedAt)
	return err
}
