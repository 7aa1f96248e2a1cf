package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/internal/identity"
	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/pkg/models"
	"github.com/lexhaven/legal-services-backend/pkg/pricing"
)

/* ============================================================================
   Helpers
   ============================================================================ */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Consultation{}, &models.Payment{},
		&models.Notification{}, &models.EmailOutbox{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	payments,
	consultations,
	email_outboxes,
	notifications,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func withTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	fn(tx)
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

func injectAuth(userID uuid.UUID) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", string(models.RoleClient))
		return c.Next()
	}
}

func newTestHandler(tx *gorm.DB) *Handler {
	dispatcher := notifications.NewDispatcher(tx, identity.NewResolver(tx), zerolog.Nop())
	return NewHandler(tx, dispatcher, pricing.DefaultFlat(),
		"sk_test_unused", "whsec_test", "https://app.example.com", zerolog.Nop())
}

func newTestApp(h *Handler, userID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID))
	app.Post("/api/payments/checkout", h.CreateCheckout)
	app.Get("/api/payments", h.ListMine)
	app.Post("/api/payments/webhook", h.Webhook)
	return app
}

func seedClient(t *testing.T, tx *gorm.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := tx.Create(&models.User{
		ID:    id,
		Email: "client_" + id.String()[:8] + "@x.com",
		Role:  models.RoleClient,
	}).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

func seedConsultation(t *testing.T, tx *gorm.DB, clientID uuid.UUID) uuid.UUID {
	t.Helper()
	cons := models.Consultation{
		ID:             uuid.New(),
		ClientID:       clientID,
		ProfessionalID: uuid.New(),
		Kind:           models.AssigneeFreelancer,
		Type:           models.ConsultationChat,
		ScheduledAt:    time.Now().Add(24 * time.Hour),
		DurationMin:    30,
		Status:         models.ConsultationScheduled,
		FeeCents:       5000,
	}
	if err := tx.Create(&cons).Error; err != nil {
		t.Fatal(err)
	}
	return cons.ID
}

func seedPayment(t *testing.T, tx *gorm.DB, clientID uuid.UUID, consID *uuid.UUID, status models.PayStatus) models.Payment {
	t.Helper()
	sess := "cs_test_" + uuid.NewString()[:12]
	pay := models.Payment{
		ConsultationID:  consID,
		ClientID:        clientID,
		AmountCents:     5000,
		Currency:        "usd",
		Service:         models.ServiceConsultation,
		Status:          status,
		StripeSessionID: &sess,
	}
	if err := tx.Create(&pay).Error; err != nil {
		t.Fatal(err)
	}
	return pay
}

/* ============================================================================
   Tests — checkout idempotency and ownership
   ============================================================================ */

// A retried checkout for a consultation that already has a pending payment
// returns the existing session instead of creating a second charge.
func Test_Checkout_ExistingPending_Reused(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		consID := seedConsultation(t, tx, clientID)
		existing := seedPayment(t, tx, clientID, &consID, models.PayPending)

		app := newTestApp(newTestHandler(tx), clientID)
		body := `{"service":"consultation","consultation_id":"` + consID.String() + `"}`
		req := httptest.NewRequest("POST", "/api/payments/checkout", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 201 {
			t.Fatalf("want 201, got %d", resp.StatusCode)
		}

		var out struct {
			PaymentID   string `json:"payment_id"`
			CheckoutURL string `json:"checkout_url"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.PaymentID != existing.ID.String() {
			t.Fatalf("should reuse the pending payment, got %s", out.PaymentID)
		}
		if !strings.Contains(out.CheckoutURL, *existing.StripeSessionID) {
			t.Fatalf("checkout URL should point at the existing session")
		}

		var cnt int64
		_ = tx.Model(&models.Payment{}).Count(&cnt).Error
		if cnt != 1 {
			t.Fatalf("no second payment row expected, got %d", cnt)
		}
	})
}

// A completed payment blocks another checkout for the same consultation.
func Test_Checkout_AlreadyPaid_Conflict(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		consID := seedConsultation(t, tx, clientID)
		seedPayment(t, tx, clientID, &consID, models.PayCompleted)

		app := newTestApp(newTestHandler(tx), clientID)
		body := `{"service":"consultation","consultation_id":"` + consID.String() + `"}`
		req := httptest.NewRequest("POST", "/api/payments/checkout", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 409 {
			t.Fatalf("want 409, got %d", resp.StatusCode)
		}
	})
}

// Paying for someone else's consultation is forbidden.
func Test_Checkout_ForeignConsultation_Forbidden(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		owner := seedClient(t, tx)
		intruder := seedClient(t, tx)
		consID := seedConsultation(t, tx, owner)

		app := newTestApp(newTestHandler(tx), intruder)
		body := `{"service":"consultation","consultation_id":"` + consID.String() + `"}`
		req := httptest.NewRequest("POST", "/api/payments/checkout", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 403 {
			t.Fatalf("want 403, got %d", resp.StatusCode)
		}
	})
}

// A consultation checkout without the consultation id is a 400.
func Test_Checkout_MissingConsultationID(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		app := newTestApp(newTestHandler(tx), clientID)

		req := httptest.NewRequest("POST", "/api/payments/checkout",
			strings.NewReader(`{"service":"consultation"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 400 {
			t.Fatalf("want 400, got %d", resp.StatusCode)
		}
	})
}

/* ============================================================================
   Tests — webhook settlement
   ============================================================================ */

// Garbage signatures never reach the settlement path.
func Test_Webhook_BadSignature_Rejected(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		app := newTestApp(newTestHandler(tx), clientID)

		req := httptest.NewRequest("POST", "/api/payments/webhook",
			strings.NewReader(`{"type":"checkout.session.completed"}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
		resp, _ := app.Test(req)
		if resp.StatusCode != 400 {
			t.Fatalf("want 400, got %d", resp.StatusCode)
		}
	})
}

// stripeSign builds a Stripe-Signature header over the raw payload the way
// Stripe signs deliveries: HMAC-SHA256 of "<ts>.<payload>" with the
// endpoint secret.
func stripeSign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(app *fiber.App, payload string) int {
	req := httptest.NewRequest("POST", "/api/payments/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", stripeSign([]byte(payload), "whsec_test", time.Now()))
	resp, _ := app.Test(req)
	return resp.StatusCode
}

// The client hears about a settlement exactly once: a redelivered completed
// event and a late expired event both ack without another notification or a
// status flip.
func Test_Webhook_Redelivery_NotifiesOnce(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		pay := seedPayment(t, tx, clientID, nil, models.PayPending)
		app := newTestApp(newTestHandler(tx), clientID)

		// ConstructEvent rejects events from a different API version, so
		// the fixtures pin the one the library speaks.
		completed := `{"id":"evt_1","api_version":"` + stripe.APIVersion + `",` +
			`"type":"checkout.session.completed",` +
			`"data":{"object":{"id":"` + *pay.StripeSessionID + `"}}}`
		expired := `{"id":"evt_2","api_version":"` + stripe.APIVersion + `",` +
			`"type":"checkout.session.expired",` +
			`"data":{"object":{"id":"` + *pay.StripeSessionID + `"}}}`

		countNotes := func() int64 {
			var n int64
			_ = tx.Model(&models.Notification{}).Where("user_id = ?", clientID).Count(&n).Error
			return n
		}

		if code := postWebhook(app, completed); code != 200 {
			t.Fatalf("first delivery want 200, got %d", code)
		}
		if n := countNotes(); n != 1 {
			t.Fatalf("want 1 notification after settlement, got %d", n)
		}

		if code := postWebhook(app, completed); code != 200 {
			t.Fatalf("redelivery want 200, got %d", code)
		}
		if code := postWebhook(app, expired); code != 200 {
			t.Fatalf("late expiry want 200, got %d", code)
		}
		if n := countNotes(); n != 1 {
			t.Fatalf("settled payment must not be re-announced, got %d notifications", n)
		}

		var row models.Payment
		_ = tx.First(&row, "id = ?", pay.ID).Error
		if row.Status != models.PayCompleted {
			t.Fatalf("late expiry must not flip a completed payment, got %s", row.Status)
		}
	})
}

// markSession settles a pending payment exactly once: the first delivery
// reports a change, a redelivered event finds a terminal row, reports no
// change, and leaves everything as is.
func Test_MarkSession_Idempotent(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		pay := seedPayment(t, tx, clientID, nil, models.PayPending)
		h := newTestHandler(tx)

		got, changed, err := h.markSession(*pay.StripeSessionID, "pi_123", models.PayCompleted)
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		if !changed {
			t.Fatal("first delivery must report a change")
		}
		if got.Status != models.PayCompleted {
			t.Fatalf("want completed, got %s", got.Status)
		}

		// Redelivery with a different outcome must not flip the row back,
		// and must not look like a fresh transition either.
		again, changed, err := h.markSession(*pay.StripeSessionID, "", models.PayFailed)
		if err != nil {
			t.Fatalf("redelivery: %v", err)
		}
		if changed {
			t.Fatal("redelivery must not report a change")
		}
		if again.Status != models.PayCompleted {
			t.Fatalf("redelivery must not change a settled payment, got %s", again.Status)
		}

		var row models.Payment
		_ = tx.First(&row, "id = ?", pay.ID).Error
		if row.Status != models.PayCompleted || row.StripePaymentIntent == nil || *row.StripePaymentIntent != "pi_123" {
			t.Fatalf("row not settled correctly: %s", row.Status)
		}
	})
}

// An expired session marks the payment failed.
func Test_MarkSession_ExpiredFails(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		pay := seedPayment(t, tx, clientID, nil, models.PayPending)
		h := newTestHandler(tx)

		got, changed, err := h.markSession(*pay.StripeSessionID, "", models.PayFailed)
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		if !changed {
			t.Fatal("expiry of a pending payment is a real transition")
		}
		if got.Status != models.PayFailed {
			t.Fatalf("want failed, got %s", got.Status)
		}
	})
}

// Listing is scoped to the caller.
func Test_ListMine_Scoped(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		mine := seedClient(t, tx)
		other := seedClient(t, tx)
		seedPayment(t, tx, mine, nil, models.PayCompleted)
		seedPayment(t, tx, other, nil, models.PayCompleted)

		app := newTestApp(newTestHandler(tx), mine)
		resp, _ := app.Test(httptest.NewRequest("GET", "/api/payments", nil))
		if resp.StatusCode != 200 {
			t.Fatalf("got %d", resp.StatusCode)
		}

		var rows []models.Payment
		_ = json.NewDecoder(resp.Body).Decode(&rows)
		if len(rows) != 1 || rows[0].ClientID != mine {
			t.Fatalf("want exactly my 1 payment, got %d", len(rows))
		}
	})
}
