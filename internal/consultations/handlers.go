package consultations

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/pkg/models"
	"github.com/lexhaven/legal-services-backend/pkg/pricing"
	"github.com/lexhaven/legal-services-backend/pkg/validation"
)

type Handler struct {
	db     *gorm.DB
	notify *notifications.Dispatcher
	prices pricing.Policy
	log    zerolog.Logger
}

func NewHandler(db *gorm.DB, notify *notifications.Dispatcher, prices pricing.Policy, baseLogger zerolog.Logger) *Handler {
	return &Handler{
		db:     db,
		notify: notify,
		prices: prices,
		log:    baseLogger.With().Str("component", "consultations").Logger(),
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

/* ================================= Book ================================= */

type BookRequest struct {
	ProfessionalID string `json:"professional_id" validate:"required,uuid4"`
	Kind           string `json:"kind" validate:"required,oneof=freelancer barrister"`
	CaseID         string `json:"case_id" validate:"omitempty,uuid4"`
	Type           string `json:"type" validate:"required,oneof=chat video voice audio"`
	ScheduledAt    string `json:"scheduled_at" validate:"required"`
	DurationMin    int    `json:"duration_min" validate:"omitempty,gte=15,lte=240"`
	Notes          string `json:"notes" validate:"max=1000"`
}

// Book Consultation godoc
// @Summary      Book a consultation
// @Description  Client books a timed session with an available professional
// @Tags         consultations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  BookRequest  true  "Booking payload"
// @Success      201  {object}  models.Consultation
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /consultations [post]
func (h *Handler) Book(c *fiber.Ctx) error {
	clientID, _ := uuid.Parse(auth.MustUserID(c))

	var in BookRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	scheduledAt, err := time.Parse(time.RFC3339, in.ScheduledAt)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "scheduled_at must be RFC3339")
	}
	if scheduledAt.Before(time.Now()) {
		return fiber.NewError(fiber.StatusBadRequest, "scheduled_at must be in the future")
	}

	proID, _ := uuid.Parse(in.ProfessionalID)
	kind := models.AssigneeKind(in.Kind)
	if err := h.checkAvailability(kind, proID); err != nil {
		return err
	}

	if in.DurationMin == 0 {
		in.DurationMin = 30
	}

	var caseID *uuid.UUID
	if in.CaseID != "" {
		id, _ := uuid.Parse(in.CaseID)
		var cnt int64
		if err := h.db.Model(&models.Case{}).
			Where("id = ? AND client_id = ?", id, clientID).
			Count(&cnt).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		if cnt == 0 {
			return fiber.NewError(fiber.StatusNotFound, "case not found")
		}
		caseID = &id
	}

	cons := models.Consultation{
		CaseID:         caseID,
		ClientID:       clientID,
		ProfessionalID: proID,
		Kind:           kind,
		Type:           models.ConsultationType(in.Type),
		ScheduledAt:    scheduledAt,
		DurationMin:    in.DurationMin,
		Status:         models.ConsultationScheduled,
		FeeCents:       h.prices.ConsultationFeeCents(models.ConsultationType(in.Type), in.DurationMin),
		Notes:          strings.TrimSpace(in.Notes),
	}
	if err := h.db.Create(&cons).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Video sessions get a deterministic room link derived from the id.
	if cons.Type == models.ConsultationVideo {
		link := "https://meet.lexhaven.io/r/" + cons.ID.String()
		if err := h.db.Model(&cons).UpdateColumn("meeting_link", link).Error; err == nil {
			cons.MeetingLink = link
		}
	}

	h.notify.Fire(proID.String(), notifications.TypeConsultation,
		"New consultation booked",
		"A client booked a "+in.Type+" consultation for "+scheduledAt.UTC().Format(time.RFC3339)+".",
		map[string]any{"consultation_id": cons.ID.String()})

	return c.Status(fiber.StatusCreated).JSON(cons)
}

// checkAvailability mirrors case-assignment eligibility for bookings.
func (h *Handler) checkAvailability(kind models.AssigneeKind, id uuid.UUID) error {
	switch kind {
	case models.AssigneeFreelancer:
		var fl models.Freelancer
		if err := h.db.First(&fl, "user_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "freelancer not found")
			}
			return fiber.ErrInternalServerError
		}
		if fl.Verification != models.VerificationApproved || !fl.IsAvailable {
			return fiber.NewError(fiber.StatusBadRequest, "freelancer is not available")
		}
	case models.AssigneeBarrister:
		var br models.Barrister
		if err := h.db.First(&br, "user_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "barrister not found")
			}
			return fiber.ErrInternalServerError
		}
		if br.Status != models.BarristerApproved || !br.IsAvailable {
			return fiber.NewError(fiber.StatusBadRequest, "barrister is not available")
		}
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown professional kind")
	}
	return nil
}

/* =========================== Lifecycle actions ========================== */

type UpdateRequest struct {
	Action      string `json:"action" validate:"required,oneof=cancel reschedule start complete no_show"`
	ScheduledAt string `json:"scheduled_at" validate:"omitempty"`
}

// Update Consultation godoc
// @Summary      Drive the consultation lifecycle
// @Description  Either party cancels or reschedules; the professional starts, completes, or records a no-show
// @Tags         consultations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "consultation id (uuid)"
// @Param        payload  body  UpdateRequest  true  "action"
// @Success      200  {object}  models.Consultation
// @Failure      409  {object}  models.ErrorResponse  "already cancelled"
// @Router       /consultations/{id} [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}

	var in UpdateRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var cons models.Consultation
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cons, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if cons.ClientID.String() != userID && cons.ProfessionalID.String() != userID {
			return fiber.ErrForbidden
		}

		switch in.Action {
		case "cancel":
			if cons.Status == models.ConsultationCancelled {
				return fiber.NewError(fiber.StatusConflict, "consultation is already cancelled")
			}
			if !cons.Status.CanTransitionTo(models.ConsultationCancelled) {
				return fiber.NewError(fiber.StatusConflict,
					"cannot cancel a "+string(cons.Status)+" consultation")
			}
			if err := tx.Model(&cons).UpdateColumn("status", models.ConsultationCancelled).Error; err != nil {
				return fiber.ErrInternalServerError
			}
			cons.Status = models.ConsultationCancelled

		case "reschedule":
			if in.ScheduledAt == "" {
				return fiber.NewError(fiber.StatusBadRequest, "scheduled_at is required to reschedule")
			}
			newTime, err := time.Parse(time.RFC3339, in.ScheduledAt)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "scheduled_at must be RFC3339")
			}
			if !cons.Status.CanTransitionTo(models.ConsultationRescheduled) {
				return fiber.NewError(fiber.StatusConflict,
					"cannot reschedule a "+string(cons.Status)+" consultation")
			}
			if err := tx.Model(&cons).Updates(map[string]any{
				"status":       models.ConsultationRescheduled,
				"scheduled_at": newTime,
			}).Error; err != nil {
				return fiber.ErrInternalServerError
			}
			cons.Status = models.ConsultationRescheduled
			cons.ScheduledAt = newTime

		case "start", "complete", "no_show":
			// Only the professional drives the session itself.
			if cons.ProfessionalID.String() != userID {
				return fiber.ErrForbidden
			}
			target := map[string]models.ConsultationStatus{
				"start":    models.ConsultationInProgress,
				"complete": models.ConsultationCompleted,
				"no_show":  models.ConsultationNoShow,
			}[in.Action]
			if !cons.Status.CanTransitionTo(target) {
				return fiber.NewError(fiber.StatusConflict,
					"cannot mark a "+string(cons.Status)+" consultation as "+string(target))
			}
			if err := tx.Model(&cons).UpdateColumn("status", target).Error; err != nil {
				return fiber.ErrInternalServerError
			}
			cons.Status = target
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Alert the other party.
	other := cons.ProfessionalID
	if other.String() == userID {
		other = cons.ClientID
	}
	h.notify.Fire(other.String(), notifications.TypeConsultation,
		"Consultation "+string(cons.Status),
		"The consultation was updated to "+string(cons.Status)+".",
		map[string]any{"consultation_id": cons.ID.String()})

	return c.JSON(cons)
}

/* =============================== Feedback =============================== */

type FeedbackRequest struct {
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

// Submit Feedback godoc
// @Summary      Rate a completed consultation
// @Description  Client submits exactly one 1-5 rating; the professional's running average is updated
// @Tags         consultations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string           true  "consultation id (uuid)"
// @Param        payload  body  FeedbackRequest  true  "rating"
// @Success      201  {object}  models.Feedback
// @Failure      409  {object}  models.ErrorResponse  "feedback already submitted"
// @Router       /consultations/{id}/feedback [post]
func (h *Handler) SubmitFeedback(c *fiber.Ctx) error {
	clientID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	consID, err := uuid.Parse(id)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid consultation id")
	}

	var in FeedbackRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var fb models.Feedback
	err = h.db.Transaction(func(tx *gorm.DB) error {
		var cons models.Consultation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cons, "id = ?", consID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if cons.ClientID != clientID {
			return fiber.ErrForbidden
		}
		if cons.Status != models.ConsultationCompleted {
			return fiber.NewError(fiber.StatusConflict, "consultation is not completed")
		}

		// One feedback per consultation: existence check first, the
		// unique index backs it up against races.
		var cnt int64
		if err := tx.Model(&models.Feedback{}).
			Where("consultation_id = ?", consID).
			Count(&cnt).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		if cnt > 0 {
			return fiber.NewError(fiber.StatusConflict, "feedback already submitted")
		}

		fb = models.Feedback{
			ConsultationID: consID,
			ClientID:       clientID,
			Rating:         in.Rating,
			Comment:        strings.TrimSpace(in.Comment),
		}
		if err := tx.Create(&fb).Error; err != nil {
			return fiber.NewError(fiber.StatusConflict, "feedback already submitted")
		}

		return h.applyRating(tx, cons.Kind, cons.ProfessionalID, in.Rating)
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fb)
}

// applyRating folds one new rating into the professional's running average.
func (h *Handler) applyRating(tx *gorm.DB, kind models.AssigneeKind, proID uuid.UUID, rating int) error {
	switch kind {
	case models.AssigneeFreelancer:
		var fl models.Freelancer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&fl, "user_id = ?", proID).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		newCount := fl.RatingsCount + 1
		newScore := (fl.PerformanceScore*float64(fl.RatingsCount) + float64(rating)) / float64(newCount)
		return tx.Model(&fl).Updates(map[string]any{
			"performance_score": newScore,
			"ratings_count":     newCount,
		}).Error
	case models.AssigneeBarrister:
		var br models.Barrister
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&br, "user_id = ?", proID).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		newCount := br.RatingsCount + 1
		newScore := (br.PerformanceScore*float64(br.RatingsCount) + float64(rating)) / float64(newCount)
		return tx.Model(&br).Updates(map[string]any{
			"performance_score": newScore,
			"ratings_count":     newCount,
		}).Error
	}
	return nil
}

/* ================================= List ================================= */

// List My Consultations godoc
// @Summary      List my consultations
// @Description  Clients see sessions they booked; professionals see sessions booked with them
// @Tags         consultations
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /consultations/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	role := auth.MustRole(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Consultation{})
	if role == string(models.RoleClient) {
		q = q.Where("client_id = ?", userID)
	} else {
		q = q.Where("professional_id = ?", userID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]models.Consultation, 0, size)
	if err := q.Order("scheduled_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}
