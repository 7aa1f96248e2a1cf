package notifications

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/internal/identity"
	"github.com/lexhaven/legal-services-backend/pkg/models"
)

// Notification type tags used across the workflows.
const (
	TypeCaseAvailable = "case_available"
	TypeCaseAssigned  = "case_assigned"
	TypeCaseAccepted  = "case_accepted"
	TypeCaseDeclined  = "case_declined"
	TypeCaseCompleted = "case_completed"
	TypeConsultation  = "consultation"
	TypePayment       = "payment"
)

// Dispatcher persists notifications and queues email intents.
// It is best-effort by contract: a failed dispatch is logged and
// swallowed so the caller's primary operation never fails because of it.
type Dispatcher struct {
	db       *gorm.DB
	resolver *identity.Resolver
	log      zerolog.Logger
}

func NewDispatcher(db *gorm.DB, resolver *identity.Resolver, baseLogger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		resolver: resolver,
		log:      baseLogger.With().Str("component", "notifications").Logger(),
	}
}

// Notify resolves targetRef (user UUID or email), inserts a notification
// row, and returns it. An unresolvable target returns (nil, nil): the
// caller proceeds, we just log that the alert went nowhere.
func (d *Dispatcher) Notify(targetRef, typ, title, message string, payload map[string]any) (*models.Notification, error) {
	user, err := d.resolver.Resolve(targetRef)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			d.log.Warn().Str("target", targetRef).Str("type", typ).Msg("notification target not found, skipping")
			return nil, nil
		}
		return nil, err
	}

	var raw datatypes.JSON
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = datatypes.JSON(b)
	}

	n := models.Notification{
		UserID:  user.ID,
		Type:    typ,
		Title:   title,
		Message: message,
		Payload: raw,
	}
	if err := d.db.Create(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// NotifyWithEmail persists the notification and additionally queues an
// email intent in the outbox for the background worker.
func (d *Dispatcher) NotifyWithEmail(targetRef, typ, title, message string, payload map[string]any) (*models.Notification, error) {
	n, err := d.Notify(targetRef, typ, title, message, payload)
	if err != nil || n == nil {
		return n, err
	}

	user, err := d.resolver.Resolve(n.UserID.String())
	if err != nil {
		return n, nil // notification row exists; email is best-effort
	}

	body := map[string]any{"title": title, "message": message}
	for k, v := range payload {
		body[k] = v
	}
	raw, _ := json.Marshal(body)

	if err := d.db.Create(&models.EmailOutbox{
		Recipient: user.Email,
		Template:  typ,
		Payload:   datatypes.JSON(raw),
		Status:    models.OutboxPending,
	}).Error; err != nil {
		d.log.Error().Err(err).Str("recipient", user.Email).Msg("failed to enqueue email intent")
	}
	return n, nil
}

// Fire is Notify with the error swallowed, for call sites where the
// notification is strictly a side effect.
func (d *Dispatcher) Fire(targetRef, typ, title, message string, payload map[string]any) {
	if _, err := d.Notify(targetRef, typ, title, message, payload); err != nil {
		d.log.Error().Err(err).Str("type", typ).Msg("notification dispatch failed")
	}
}

// FireWithEmail is NotifyWithEmail with the error swallowed.
func (d *Dispatcher) FireWithEmail(targetRef, typ, title, message string, payload map[string]any) {
	if _, err := d.NotifyWithEmail(targetRef, typ, title, message, payload); err != nil {
		d.log.Error().Err(err).Str("type", typ).Msg("notification dispatch failed")
	}
}
