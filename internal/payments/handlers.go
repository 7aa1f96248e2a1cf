package payments

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/pkg/models"
	"github.com/lexhaven/legal-services-backend/pkg/pricing"
	"github.com/lexhaven/legal-services-backend/pkg/validation"
)

type Handler struct {
	db            *gorm.DB
	notify        *notifications.Dispatcher
	prices        pricing.Policy
	webhookSecret string
	frontendBase  string
	log           zerolog.Logger
}

func NewHandler(db *gorm.DB, notify *notifications.Dispatcher, prices pricing.Policy,
	stripeKey, webhookSecret, frontendBase string, baseLogger zerolog.Logger) *Handler {
	stripe.Key = stripeKey
	return &Handler{
		db:            db,
		notify:        notify,
		prices:        prices,
		webhookSecret: webhookSecret,
		frontendBase:  frontendBase,
		log:           baseLogger.With().Str("component", "payments").Logger(),
	}
}

type CheckoutRequest struct {
	Service        string `json:"service" validate:"required,oneof=consultation document"`
	ConsultationID string `json:"consultation_id" validate:"omitempty,uuid"`
	CaseID         string `json:"case_id" validate:"omitempty,uuid"`
}

// Create Checkout godoc
// @Summary      Start a Stripe checkout
// @Description  Creates a checkout session for a consultation or document fee
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CheckoutRequest  true  "what to pay for"
// @Success      201  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse  "already paid"
// @Router       /payments/checkout [post]
func (h *Handler) CreateCheckout(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)

	var in CheckoutRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	pay := models.Payment{
		ClientID: uuid.MustParse(clientID),
		Currency: "usd",
		Status:   models.PayPending,
	}
	var label string

	switch models.ServiceType(in.Service) {
	case models.ServiceConsultation:
		if in.ConsultationID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "consultation_id is required")
		}
		var cons models.Consultation
		if err := h.db.First(&cons, "id = ?", in.ConsultationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if cons.ClientID.String() != clientID {
			return fiber.ErrForbidden
		}
		// One payment per consultation. A second checkout attempt returns
		// the existing row instead of double-charging.
		var existing models.Payment
		if err := h.db.First(&existing, "consultation_id = ?", cons.ID).Error; err == nil {
			if existing.Status == models.PayCompleted {
				return fiber.NewError(fiber.StatusConflict, "consultation is already paid")
			}
			return c.Status(fiber.StatusCreated).JSON(fiber.Map{
				"payment_id":   existing.ID,
				"checkout_url": checkoutURLOf(existing),
			})
		}
		pay.ConsultationID = &cons.ID
		pay.Service = models.ServiceConsultation
		pay.AmountCents = cons.FeeCents
		label = "Legal consultation"
	case models.ServiceDocument:
		if in.CaseID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "case_id is required")
		}
		var cs models.Case
		if err := h.db.First(&cs, "id = ?", in.CaseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if cs.ClientID.String() != clientID {
			return fiber.ErrForbidden
		}
		pay.CaseID = &cs.ID
		pay.Service = models.ServiceDocument
		pay.AmountCents = h.prices.DocumentFeeCents()
		label = "Legal document fee"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(pay.Currency),
				UnitAmount: stripe.Int64(pay.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(label),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(h.frontendBase + "/payments/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(h.frontendBase + "/payments/cancelled"),
	}
	sess, err := session.New(params)
	if err != nil {
		h.log.Error().Err(err).Str("service", in.Service).Msg("stripe session creation failed")
		return fiber.NewError(fiber.StatusBadGateway, "payment provider unavailable")
	}

	pay.StripeSessionID = &sess.ID
	if err := h.db.Create(&pay).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if pay.ConsultationID != nil {
		h.db.Model(&models.Consultation{}).
			Where("id = ?", pay.ConsultationID).
			UpdateColumn("payment_id", pay.ID)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":   pay.ID,
		"checkout_url": sess.URL,
	})
}

func checkoutURLOf(p models.Payment) string {
	if p.StripeSessionID == nil {
		return ""
	}
	// Stripe re-serves the hosted page by session id; good enough for a
	// retried checkout that never completed.
	return "https://checkout.stripe.com/c/pay/" + *p.StripeSessionID
}

// ListMine godoc
// @Summary      My payments
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  models.Payment
// @Router       /payments [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	var rows []models.Payment
	if err := h.db.Where("client_id = ?", clientID).
		Order("created_at DESC").Limit(100).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(rows)
}

// markSession flips the payment bound to a checkout session. FOR UPDATE
// makes redelivered webhooks idempotent: the second delivery sees the
// terminal status and leaves the row alone, and the changed flag tells
// the caller whether this delivery actually moved the row.
func (h *Handler) markSession(sessionID, paymentIntent string, to models.PayStatus) (*models.Payment, bool, error) {
	var pay models.Payment
	changed := false
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&pay, "stripe_session_id = ?", sessionID).Error; err != nil {
			return err
		}
		if pay.Status == models.PayCompleted || pay.Status == models.PayRefunded {
			return nil
		}
		updates := map[string]any{"status": to, "updated_at": time.Now()}
		if paymentIntent != "" {
			updates["stripe_payment_intent"] = paymentIntent
		}
		if err := tx.Model(&pay).Updates(updates).Error; err != nil {
			return err
		}
		pay.Status = to
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &pay, changed, nil
}
