package professionals

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/pkg/models"
	"github.com/lexhaven/legal-services-backend/pkg/validation"
)

type Handler struct {
	db     *gorm.DB
	notify *notifications.Dispatcher
	log    zerolog.Logger
}

func NewHandler(db *gorm.DB, notify *notifications.Dispatcher, baseLogger zerolog.Logger) *Handler {
	return &Handler{
		db:     db,
		notify: notify,
		log:    baseLogger.With().Str("component", "professionals").Logger(),
	}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

/* ============================= Freelancers ============================== */

type FreelancerListItem struct {
	UserID           uuid.UUID      `json:"user_id"`
	Name             string         `json:"name"`
	ExpertiseAreas   datatypes.JSON `json:"expertise_areas"`
	PerformanceScore float64        `json:"performance_score"`
	RatingsCount     int            `json:"ratings_count"`
}

// List Freelancers godoc
// @Summary      Browse available freelancers
// @Description  Approved, available freelancers, best-rated first
// @Tags         professionals
// @Security     BearerAuth
// @Produce      json
// @Param        expertise_area query string false "expertise area"
// @Success      200  {object}  map[string]any
// @Router       /freelancers [get]
func (h *Handler) ListFreelancers(c *fiber.Ctx) error {
	page, size := parsePage(c)
	area := strings.TrimSpace(c.Query("expertise_area"))

	base := func() *gorm.DB {
		q := h.db.Table("freelancers").
			Joins("JOIN users ON users.id = freelancers.user_id").
			Where("freelancers.verification = ? AND freelancers.is_available = true", models.VerificationApproved)
		if area != "" {
			q = q.Where("freelancers.expertise_areas @> to_jsonb(?::text)", area)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]FreelancerListItem, 0, size)
	if err := base().
		Select("freelancers.user_id, users.name, freelancers.expertise_areas, freelancers.performance_score, freelancers.ratings_count").
		Order("freelancers.performance_score DESC, freelancers.ratings_count DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

type AvailabilityRequest struct {
	IsAvailable bool `json:"is_available"`
}

// Set Availability godoc
// @Summary      Toggle my availability
// @Description  Only meaningful for approved professionals
// @Tags         professionals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  AvailabilityRequest  true  "availability"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse  "profile not approved"
// @Router       /professionals/me/availability [patch]
func (h *Handler) SetAvailability(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	role := auth.MustRole(c)

	var in AvailabilityRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}

	switch role {
	case string(models.RoleFreelancer):
		var fl models.Freelancer
		if err := h.db.First(&fl, "user_id = ?", userID).Error; err != nil {
			return fiber.ErrNotFound
		}
		if fl.Verification != models.VerificationApproved {
			return fiber.NewError(fiber.StatusConflict, "profile is not approved yet")
		}
		if err := h.db.Model(&fl).UpdateColumn("is_available", in.IsAvailable).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	case string(models.RoleBarrister):
		var br models.Barrister
		if err := h.db.First(&br, "user_id = ?", userID).Error; err != nil {
			return fiber.ErrNotFound
		}
		if br.Status != models.BarristerApproved {
			return fiber.NewError(fiber.StatusConflict, "profile is not approved yet")
		}
		if err := h.db.Model(&br).UpdateColumn("is_available", in.IsAvailable).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	default:
		return fiber.ErrForbidden
	}

	return c.JSON(fiber.Map{"ok": true, "is_available": in.IsAvailable})
}

type UpdateExpertiseRequest struct {
	ExpertiseAreas []string `json:"expertise_areas" validate:"required,min=1,dive,expertise"`
}

// Update Expertise godoc
// @Summary      Update my expertise areas
// @Description  Freelancers update expertise areas, barristers their practice areas
// @Tags         professionals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  UpdateExpertiseRequest  true  "areas"
// @Success      200  {object}  map[string]any
// @Router       /professionals/me/expertise [patch]
func (h *Handler) UpdateExpertise(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	role := auth.MustRole(c)

	var in UpdateExpertiseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	areas, _ := json.Marshal(in.ExpertiseAreas)

	switch role {
	case string(models.RoleFreelancer):
		var fl models.Freelancer
		if err := h.db.First(&fl, "user_id = ?", userID).Error; err != nil {
			return fiber.ErrNotFound
		}
		if err := h.db.Model(&fl).UpdateColumn("expertise_areas", datatypes.JSON(areas)).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		fl.ExpertiseAreas = datatypes.JSON(areas)
		return c.JSON(fl)
	case string(models.RoleBarrister):
		var br models.Barrister
		if err := h.db.First(&br, "user_id = ?", userID).Error; err != nil {
			return fiber.ErrNotFound
		}
		if err := h.db.Model(&br).UpdateColumn("practice_areas", datatypes.JSON(areas)).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		br.PracticeAreas = datatypes.JSON(areas)
		return c.JSON(br)
	default:
		return fiber.ErrForbidden
	}
}

type VerifyRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

// Verify Freelancer godoc
// @Summary      Approve or reject a freelancer profile
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "freelancer user id (uuid)"
// @Param        payload  body  VerifyRequest  true  "verdict"
// @Success      200  {object}  models.Freelancer
// @Router       /admin/freelancers/{id}/verify [patch]
func (h *Handler) VerifyFreelancer(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid freelancer id")
	}

	var in VerifyRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var fl models.Freelancer
	if err := h.db.First(&fl, "user_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	status := models.VerificationStatus(in.Status)
	if err := h.db.Model(&fl).UpdateColumn("verification", status).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	fl.Verification = status

	h.notify.FireWithEmail(id, "verification",
		"Profile "+in.Status, "Your freelancer profile has been "+in.Status+".", nil)

	return c.JSON(fl)
}

/* ====================== Barrister onboarding ============================ */

// Barrister Profile godoc
// @Summary      My barrister profile
// @Tags         professionals
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.Barrister
// @Router       /barristers/me [get]
func (h *Handler) BarristerProfile(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	var br models.Barrister
	if err := h.db.First(&br, "user_id = ?", userID).Error; err != nil {
		return fiber.ErrNotFound
	}
	return c.JSON(br)
}

type AdvanceStageRequest struct {
	Stage string `json:"stage" validate:"required"`
}

// Advance Onboarding Stage godoc
// @Summary      Advance my onboarding stage
// @Description  Stages only move forward one step; the final step requires admin review
// @Tags         professionals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  AdvanceStageRequest  true  "target stage"
// @Success      200  {object}  models.Barrister
// @Failure      409  {object}  models.ErrorResponse  "stage order violated"
// @Router       /barristers/me/stage [patch]
func (h *Handler) AdvanceStage(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	var in AdvanceStageRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	target := models.OnboardingStage(in.Stage)
	if !target.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "unknown onboarding stage")
	}

	var br models.Barrister
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&br, "user_id = ?", userID).Error; err != nil {
			return fiber.ErrNotFound
		}
		if br.Status == models.BarristerRejected {
			return fiber.NewError(fiber.StatusConflict, "onboarding was rejected")
		}
		// Self-service moves exactly one step forward and stops before
		// "completed", which only admin review can grant.
		if target != br.Stage.Next() || br.Stage == target {
			return fiber.NewError(fiber.StatusConflict,
				"stage must advance from "+string(br.Stage)+" to "+string(br.Stage.Next()))
		}
		if target == models.StageCompleted {
			return fiber.NewError(fiber.StatusConflict, "completion requires admin review")
		}
		if err := tx.Model(&br).UpdateColumn("stage", target).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		br.Stage = target
		return nil
	})
	if err != nil {
		return err
	}

	return c.JSON(br)
}

type ReviewRequest struct {
	Status string `json:"status" validate:"required,oneof=APPROVED REJECTED INCOMPLETE"`
	Reason string `json:"reason" validate:"max=500"`
}

// Review Barrister godoc
// @Summary      Review a barrister application
// @Description  Admin verdict on a barrister at the review stage
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "barrister user id (uuid)"
// @Param        payload  body  ReviewRequest  true  "verdict"
// @Success      200  {object}  models.Barrister
// @Failure      409  {object}  models.ErrorResponse  "not at review stage"
// @Router       /admin/barristers/{id}/review [patch]
func (h *Handler) ReviewBarrister(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid barrister id")
	}

	var in ReviewRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	verdict := models.BarristerStatus(in.Status)

	var br models.Barrister
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&br, "user_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if br.Stage != models.StageReview {
			return fiber.NewError(fiber.StatusConflict, "barrister is not at the review stage")
		}

		updates := map[string]any{"status": verdict}
		if verdict == models.BarristerApproved {
			updates["stage"] = models.StageCompleted
			br.Stage = models.StageCompleted
		}
		if err := tx.Model(&br).Updates(updates).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		br.Status = verdict
		return nil
	})
	if err != nil {
		return err
	}

	h.notify.FireWithEmail(id, "onboarding",
		"Onboarding "+strings.ToLower(in.Status),
		"Your barrister application is now "+strings.ToLower(in.Status)+".",
		map[string]any{"reason": in.Reason})

	return c.JSON(br)
}
