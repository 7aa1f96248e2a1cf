package consultations

import (
	"encoding/json"
	"math"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
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
		&models.User{}, &models.Freelancer{}, &models.Barrister{},
		&models.Case{}, &models.Consultation{}, &models.Feedback{},
		&models.Notification{}, &models.EmailOutbox{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	feedbacks,
	consultations,
	notifications,
	email_outboxes,
	cases,
	freelancers,
	barristers,
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

func injectAuth(userID uuid.UUID, role string) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", role)
		return c.Next()
	}
}

func newTestHandler(tx *gorm.DB) *Handler {
	dispatcher := notifications.NewDispatcher(tx, identity.NewResolver(tx), zerolog.Nop())
	return NewHandler(tx, dispatcher, pricing.DefaultFlat(), zerolog.Nop())
}

func newTestApp(h *Handler, userID uuid.UUID, role string) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID, role))

	app.Get("/api/consultations/mine", h.ListMine)
	app.Post("/api/consultations/:id/feedback", h.SubmitFeedback)
	app.Patch("/api/consultations/:id", h.Update)
	app.Post("/api/consultations", h.Book)

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

func seedFreelancer(t *testing.T, tx *gorm.DB, available bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := tx.Create(&models.User{
		ID:    id,
		Email: "fl_" + id.String()[:8] + "@x.com",
		Role:  models.RoleFreelancer,
	}).Error; err != nil {
		t.Fatal(err)
	}
	if err := tx.Create(&models.Freelancer{
		UserID:       id,
		Verification: models.VerificationApproved,
		IsAvailable:  available,
	}).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

// seedConsultation inserts a session in the given status directly.
func seedConsultation(t *testing.T, tx *gorm.DB, clientID, proID uuid.UUID, status models.ConsultationStatus) uuid.UUID {
	t.Helper()
	cons := models.Consultation{
		ID:             uuid.New(),
		ClientID:       clientID,
		ProfessionalID: proID,
		Kind:           models.AssigneeFreelancer,
		Type:           models.ConsultationChat,
		ScheduledAt:    time.Now().Add(24 * time.Hour),
		DurationMin:    30,
		Status:         status,
		FeeCents:       5000,
	}
	if err := tx.Create(&cons).Error; err != nil {
		t.Fatal(err)
	}
	return cons.ID
}

/* ============================================================================
   Tests — booking
   ============================================================================ */

// Booking a video session returns 201, prices a full hour as two half-hour
// blocks, and mints a meeting link.
func Test_Book_Video_PricesAndLink(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		app := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))

		when := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
		body := `{"professional_id":"` + proID.String() + `","kind":"freelancer","type":"video","scheduled_at":"` + when + `","duration_min":60}`
		req := httptest.NewRequest("POST", "/api/consultations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 201 {
			t.Fatalf("want 201, got %d", resp.StatusCode)
		}

		var out models.Consultation
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.Status != models.ConsultationScheduled {
			t.Fatalf("want scheduled, got %s", out.Status)
		}
		if out.FeeCents != 10000 {
			t.Fatalf("60 min should price as two blocks (10000), got %d", out.FeeCents)
		}
		if !strings.Contains(out.MeetingLink, out.ID.String()) {
			t.Fatalf("video booking should carry a meeting link, got %q", out.MeetingLink)
		}

		var n int64
		_ = tx.Model(&models.Notification{}).Where("user_id = ?", proID).Count(&n).Error
		if n != 1 {
			t.Fatalf("professional should be notified, got %d rows", n)
		}
	})
}

// Past times are rejected up front.
func Test_Book_PastTime_Rejected(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		app := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))

		when := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
		body := `{"professional_id":"` + proID.String() + `","kind":"freelancer","type":"chat","scheduled_at":"` + when + `"}`
		req := httptest.NewRequest("POST", "/api/consultations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 400 {
			t.Fatalf("want 400, got %d", resp.StatusCode)
		}
	})
}

// An unavailable professional cannot be booked.
func Test_Book_UnavailableProfessional_Rejected(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, false)
		app := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))

		when := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		body := `{"professional_id":"` + proID.String() + `","kind":"freelancer","type":"chat","scheduled_at":"` + when + `"}`
		req := httptest.NewRequest("POST", "/api/consultations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 400 {
			t.Fatalf("want 400, got %d", resp.StatusCode)
		}
	})
}

/* ============================================================================
   Tests — cancel / reschedule
   ============================================================================ */

// Cancel works once; the second cancel is a 409, not a silent no-op.
func Test_Cancel_SecondCancelConflicts(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)

		app := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))
		cancel := func() int {
			req := httptest.NewRequest("PATCH", "/api/consultations/"+consID.String(),
				strings.NewReader(`{"action":"cancel"}`))
			req.Header.Set("Content-Type", "application/json")
			resp, _ := app.Test(req)
			return resp.StatusCode
		}

		if got := cancel(); got != 200 {
			t.Fatalf("first cancel want 200, got %d", got)
		}
		if got := cancel(); got != 409 {
			t.Fatalf("second cancel want 409, got %d", got)
		}
	})
}

// Rescheduling moves the time and flips status to rescheduled; the
// professional may do it too.
func Test_Reschedule_ByProfessional(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)

		app := newTestApp(newTestHandler(tx), proID, string(models.RoleFreelancer))
		newTime := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
		body := `{"action":"reschedule","scheduled_at":"` + newTime.Format(time.RFC3339) + `"}`
		req := httptest.NewRequest("PATCH", "/api/consultations/"+consID.String(), strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Fatalf("want 200, got %d", resp.StatusCode)
		}

		var cons models.Consultation
		_ = tx.First(&cons, "id = ?", consID).Error
		if cons.Status != models.ConsultationRescheduled {
			t.Fatalf("want rescheduled, got %s", cons.Status)
		}
		if !cons.ScheduledAt.UTC().Truncate(time.Second).Equal(newTime) {
			t.Fatalf("scheduled_at not moved: %s", cons.ScheduledAt)
		}

		// The client is the other party and gets the alert.
		var n int64
		_ = tx.Model(&models.Notification{}).Where("user_id = ?", clientID).Count(&n).Error
		if n != 1 {
			t.Fatalf("client should be notified, got %d", n)
		}
	})
}

// A third party can touch nobody's consultation.
func Test_Update_StrangerForbidden(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		stranger := seedClient(t, tx)
		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)

		app := newTestApp(newTestHandler(tx), stranger, string(models.RoleClient))
		req := httptest.NewRequest("PATCH", "/api/consultations/"+consID.String(),
			strings.NewReader(`{"action":"cancel"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 403 {
			t.Fatalf("want 403, got %d", resp.StatusCode)
		}
	})
}

/* ============================================================================
   Tests — session lifecycle
   ============================================================================ */

// The professional drives the session from scheduled through completed,
// after which the client can leave feedback — all over the API.
func Test_Lifecycle_StartCompleteThenFeedback(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)

		proApp := newTestApp(newTestHandler(tx), proID, string(models.RoleFreelancer))
		act := func(action string) int {
			req := httptest.NewRequest("PATCH", "/api/consultations/"+consID.String(),
				strings.NewReader(`{"action":"`+action+`"}`))
			req.Header.Set("Content-Type", "application/json")
			resp, _ := proApp.Test(req)
			return resp.StatusCode
		}

		if got := act("complete"); got != 409 {
			t.Fatalf("complete before start want 409, got %d", got)
		}
		if got := act("start"); got != 200 {
			t.Fatalf("start want 200, got %d", got)
		}
		if got := act("complete"); got != 200 {
			t.Fatalf("complete want 200, got %d", got)
		}

		var cons models.Consultation
		_ = tx.First(&cons, "id = ?", consID).Error
		if cons.Status != models.ConsultationCompleted {
			t.Fatalf("want completed, got %s", cons.Status)
		}

		clientApp := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))
		req := httptest.NewRequest("POST", "/api/consultations/"+consID.String()+"/feedback",
			strings.NewReader(`{"rating":5,"comment":"clear and quick"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := clientApp.Test(req)
		if resp.StatusCode != 201 {
			t.Fatalf("feedback after completion want 201, got %d", resp.StatusCode)
		}
	})
}

// Session actions belong to the professional; the client is turned away.
func Test_Lifecycle_ClientCannotStart(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)

		app := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))
		req := httptest.NewRequest("PATCH", "/api/consultations/"+consID.String(),
			strings.NewReader(`{"action":"start"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 403 {
			t.Fatalf("want 403, got %d", resp.StatusCode)
		}
	})
}

// A no-show is terminal: nothing else can be done with the session after.
func Test_Lifecycle_NoShowIsTerminal(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)

		app := newTestApp(newTestHandler(tx), proID, string(models.RoleFreelancer))
		act := func(action string) int {
			req := httptest.NewRequest("PATCH", "/api/consultations/"+consID.String(),
				strings.NewReader(`{"action":"`+action+`"}`))
			req.Header.Set("Content-Type", "application/json")
			resp, _ := app.Test(req)
			return resp.StatusCode
		}

		if got := act("no_show"); got != 200 {
			t.Fatalf("no_show want 200, got %d", got)
		}
		if got := act("start"); got != 409 {
			t.Fatalf("start after no_show want 409, got %d", got)
		}

		var cons models.Consultation
		_ = tx.First(&cons, "id = ?", consID).Error
		if cons.Status != models.ConsultationNoShow {
			t.Fatalf("want no_show, got %s", cons.Status)
		}
	})
}

/* ============================================================================
   Tests — feedback
   ============================================================================ */

// Feedback lands once and folds into the running average; the second
// submission conflicts.
func Test_Feedback_OnceAndAverages(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)

		// Pre-existing track record: one rating of 5.
		_ = tx.Model(&models.Freelancer{}).Where("user_id = ?", proID).
			Updates(map[string]any{"performance_score": 5.0, "ratings_count": 1}).Error

		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationCompleted)
		app := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))

		submit := func(rating string) int {
			req := httptest.NewRequest("POST", "/api/consultations/"+consID.String()+"/feedback",
				strings.NewReader(`{"rating":`+rating+`,"comment":"solid advice"}`))
			req.Header.Set("Content-Type", "application/json")
			resp, _ := app.Test(req)
			return resp.StatusCode
		}

		if got := submit("3"); got != 201 {
			t.Fatalf("first feedback want 201, got %d", got)
		}
		if got := submit("5"); got != 409 {
			t.Fatalf("second feedback want 409, got %d", got)
		}

		var fl models.Freelancer
		_ = tx.First(&fl, "user_id = ?", proID).Error
		if fl.RatingsCount != 2 {
			t.Fatalf("want 2 ratings, got %d", fl.RatingsCount)
		}
		if math.Abs(fl.PerformanceScore-4.0) > 1e-9 {
			t.Fatalf("want average 4.0, got %f", fl.PerformanceScore)
		}
	})
}

// Feedback on anything but a completed session conflicts.
func Test_Feedback_NotCompleted_Conflict(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)
		consID := seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)

		app := newTestApp(newTestHandler(tx), clientID, string(models.RoleClient))
		req := httptest.NewRequest("POST", "/api/consultations/"+consID.String()+"/feedback",
			strings.NewReader(`{"rating":4}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 409 {
			t.Fatalf("want 409, got %d", resp.StatusCode)
		}
	})
}

/* ============================================================================
   Tests — listing
   ============================================================================ */

// Clients see what they booked, professionals see what was booked with them.
func Test_ListMine_RoleScoped(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		clientID := seedClient(t, tx)
		otherClient := seedClient(t, tx)
		proID := seedFreelancer(t, tx, true)

		seedConsultation(t, tx, clientID, proID, models.ConsultationScheduled)
		seedConsultation(t, tx, otherClient, proID, models.ConsultationScheduled)

		h := newTestHandler(tx)

		appClient := newTestApp(h, clientID, string(models.RoleClient))
		resp1, _ := appClient.Test(httptest.NewRequest("GET", "/api/consultations/mine", nil))
		var out1 struct {
			Total int64 `json:"total"`
		}
		_ = json.NewDecoder(resp1.Body).Decode(&out1)
		if out1.Total != 1 {
			t.Fatalf("client should see 1, got %d", out1.Total)
		}

		appPro := newTestApp(h, proID, string(models.RoleFreelancer))
		resp2, _ := appPro.Test(httptest.NewRequest("GET", "/api/consultations/mine", nil))
		var out2 struct {
			Total int64 `json:"total"`
		}
		_ = json.NewDecoder(resp2.Body).Decode(&out2)
		if out2.Total != 2 {
			t.Fatalf("professional should see 2, got %d", out2.Total)
		}
	})
}
