package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/pkg/models"
)

// MailEvent is the JSON message published to the mail topic. The mail
// service owns templates and actual SMTP delivery.
type MailEvent struct {
	Recipient string          `json:"recipient"`
	Template  string          `json:"template"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	QueuedAt  string          `json:"queued_at"`
}

// MailPublisher is the single capability the worker needs from the broker.
type MailPublisher interface {
	PublishMessage(key, value []byte) error
}

const outboxMaxAttempts = 5

// OutboxWorker drains pending EmailOutbox rows into the mail topic.
// Rows that keep failing are parked as failed after outboxMaxAttempts.
type OutboxWorker struct {
	db       *gorm.DB
	pub      MailPublisher
	interval time.Duration
	log      zerolog.Logger
}

func NewOutboxWorker(db *gorm.DB, pub MailPublisher, interval time.Duration, baseLogger zerolog.Logger) *OutboxWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &OutboxWorker{
		db:       db,
		pub:      pub,
		interval: interval,
		log:      baseLogger.With().Str("component", "email_outbox").Logger(),
	}
}

// Run blocks until ctx is cancelled, draining the outbox on a ticker.
func (w *OutboxWorker) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("outbox worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopped")
			return
		case <-ticker.C:
			if n, err := w.DrainOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("outbox drain failed")
			} else if n > 0 {
				w.log.Info().Int("published", n).Msg("outbox drained")
			}
		}
	}
}

// DrainOnce publishes one batch of pending rows and reports how many went
// out. Each row is handled independently so one bad row cannot wedge the
// queue.
func (w *OutboxWorker) DrainOnce(ctx context.Context) (int, error) {
	// No broker configured: rows stay pending until one shows up.
	if w.pub == nil {
		w.log.Debug().Msg("mail publisher not configured, leaving outbox untouched")
		return 0, nil
	}

	var rows []models.EmailOutbox
	err := w.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", models.OutboxPending, outboxMaxAttempts).
		Order("created_at ASC").
		Limit(50).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		event := MailEvent{
			Recipient: row.Recipient,
			Template:  row.Template,
			Payload:   json.RawMessage(row.Payload),
			QueuedAt:  row.CreatedAt.UTC().Format(time.RFC3339),
		}
		value, _ := json.Marshal(event)

		if err := w.publish(row.ID.String(), value); err != nil {
			w.markFailure(ctx, row, err)
			continue
		}

		if err := w.db.WithContext(ctx).Model(&models.EmailOutbox{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":   models.OutboxSent,
				"attempts": row.Attempts + 1,
			}).Error; err != nil {
			w.log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("failed to mark outbox row sent")
			continue
		}
		sent++
	}
	return sent, nil
}

func (w *OutboxWorker) publish(key string, value []byte) error {
	return w.pub.PublishMessage([]byte(key), value)
}

func (w *OutboxWorker) markFailure(ctx context.Context, row models.EmailOutbox, cause error) {
	attempts := row.Attempts + 1
	status := models.OutboxPending
	if attempts >= outboxMaxAttempts {
		status = models.OutboxFailed
	}
	if err := w.db.WithContext(ctx).Model(&models.EmailOutbox{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": cause.Error(),
		}).Error; err != nil {
		w.log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("failed to record outbox failure")
		return
	}
	w.log.Warn().Err(cause).
		Str("outbox_id", row.ID.String()).
		Int("attempts", attempts).
		Msg("mail publish failed")
}
