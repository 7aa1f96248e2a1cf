package payments

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/pkg/models"
)

// Webhook godoc
// @Summary      Stripe webhook receiver
// @Description  Verifies the Stripe signature over the raw body and settles payments
// @Tags         payments
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  models.ErrorResponse  "bad signature"
// @Router       /payments/webhook [post]
func (h *Handler) Webhook(c *fiber.Ctx) error {
	// Signature is computed over the exact bytes Stripe sent, so the raw
	// body goes to ConstructEvent untouched.
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook signature verification failed")
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	switch event.Type {
	case "checkout.session.completed":
		return h.settleSession(c, event, models.PayCompleted)
	case "checkout.session.expired":
		return h.settleSession(c, event, models.PayFailed)
	default:
		// Unhandled event types are acknowledged so Stripe stops retrying.
		h.log.Debug().Str("type", string(event.Type)).Msg("ignoring stripe event")
		return c.JSON(fiber.Map{"received": true})
	}
}

func (h *Handler) settleSession(c *fiber.Ctx, event stripe.Event, to models.PayStatus) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed event payload")
	}

	intent := ""
	if sess.PaymentIntent != nil {
		intent = sess.PaymentIntent.ID
	}

	pay, changed, err := h.markSession(sess.ID, intent, to)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Session we never issued; acknowledge and move on.
			h.log.Warn().Str("session", sess.ID).Msg("webhook for unknown checkout session")
			return c.JSON(fiber.Map{"received": true})
		}
		return fiber.ErrInternalServerError
	}
	if !changed {
		// Redelivery or a late event against an already settled payment;
		// ack without telling the client anything new.
		h.log.Debug().Str("session", sess.ID).Msg("checkout session already settled")
		return c.JSON(fiber.Map{"received": true})
	}

	if to == models.PayCompleted {
		h.notify.FireWithEmail(pay.ClientID.String(), notifications.TypePayment,
			"Payment received",
			"Your payment was processed successfully.",
			map[string]any{"payment_id": pay.ID.String(), "amount_cents": pay.AmountCents})
	} else {
		h.notify.Fire(pay.ClientID.String(), notifications.TypePayment,
			"Payment not completed",
			"Your checkout session expired before payment completed.",
			map[string]any{"payment_id": pay.ID.String()})
	}

	h.log.Info().Str("session", sess.ID).Str("status", string(to)).Msg("payment settled")
	return c.JSON(fiber.Map{"received": true})
}
