package auth

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/pkg/models"
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
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
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

func newTestApp(tx *gorm.DB) *fiber.App {
	h := NewHandler(tx, "test-secret")
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/api/signup", h.Signup)
	app.Post("/api/login", h.Login)
	return app
}

func postJSON(app *fiber.App, target, body string) (int, []byte) {
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	buf := make([]byte, 0)
	if resp.Body != nil {
		var out json.RawMessage
		_ = json.NewDecoder(resp.Body).Decode(&out)
		buf = out
	}
	return resp.StatusCode, buf
}

/* ============================================================================
   Tests
   ============================================================================ */

// A barrister signup carries its practice areas into the profile row so
// the case broadcast filter can match on them from day one.
func Test_Signup_Barrister_PersistsPracticeAreas(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		app := newTestApp(tx)

		code, _ := postJSON(app, "/api/signup", `{
			"role": "barrister",
			"name": "Jordan QC",
			"email": "jordan.qc@x.com",
			"password": "hunter22",
			"expertise_areas": ["employment_law", "contract_law"],
			"bar_number": "BR-778899",
			"chambers": "Gray's Inn"
		}`)
		if code != 201 {
			t.Fatalf("want 201, got %d", code)
		}

		var u models.User
		if err := tx.First(&u, "email = ?", "jordan.qc@x.com").Error; err != nil {
			t.Fatalf("user not created: %v", err)
		}
		var br models.Barrister
		if err := tx.First(&br, "user_id = ?", u.ID).Error; err != nil {
			t.Fatalf("barrister profile not created: %v", err)
		}
		var areas []string
		_ = json.Unmarshal(br.PracticeAreas, &areas)
		if len(areas) != 2 || areas[0] != "employment_law" {
			t.Fatalf("practice areas not persisted, got %v", areas)
		}
		if br.Stage != models.StageEligibilityCheck || br.Status != models.BarristerPendingVerification {
			t.Fatalf("unexpected onboarding state: %s / %s", br.Stage, br.Status)
		}
	})
}

// Duplicate email conflicts instead of leaking a half-created profile.
func Test_Signup_DuplicateEmail_Conflict(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		app := newTestApp(tx)

		body := `{"role":"client","name":"Sam","email":"sam@x.com","password":"hunter22"}`
		if code, _ := postJSON(app, "/api/signup", body); code != 201 {
			t.Fatalf("first signup want 201, got %d", code)
		}
		if code, _ := postJSON(app, "/api/signup", body); code != 409 {
			t.Fatalf("duplicate signup want 409, got %d", code)
		}
	})
}
