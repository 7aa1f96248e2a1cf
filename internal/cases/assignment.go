package cases

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/pkg/models"
	"github.com/lexhaven/legal-services-backend/pkg/sanitize"
	"github.com/lexhaven/legal-services-backend/pkg/validation"
)

// checkEligibility verifies a professional may take work: freelancers must
// be approved and available, barristers must have completed onboarding.
func (h *Handler) checkEligibility(tx *gorm.DB, kind models.AssigneeKind, id uuid.UUID) error {
	switch kind {
	case models.AssigneeFreelancer:
		var fl models.Freelancer
		if err := tx.First(&fl, "user_id = ?", id).Error; err != nil {
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
		if err := tx.First(&br, "user_id = ?", id).Error; err != nil {
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

/* ========================= Direct assignment ============================ */

type AssignRequest struct {
	FreelancerID string `json:"freelancer_id" validate:"omitempty,uuid4"`
	BarristerID  string `json:"barrister_id" validate:"omitempty,uuid4"`
}

// Assign Case godoc
// @Summary      Assign a case to a professional
// @Description  Owner client binds a pending case to exactly one professional
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "case id (uuid)"
// @Param        payload  body  AssignRequest  true  "exactly one professional id"
// @Success      200  {object}  models.Case
// @Failure      400  {object}  models.ErrorResponse  "professional not available"
// @Failure      409  {object}  models.ErrorResponse  "both ids supplied / case not pending"
// @Router       /cases/{id}/assign [post]
func (h *Handler) Assign(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var in AssignRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	if in.FreelancerID != "" && in.BarristerID != "" {
		return fiber.NewError(fiber.StatusConflict, "supply either freelancer_id or barrister_id, not both")
	}
	if in.FreelancerID == "" && in.BarristerID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "freelancer_id or barrister_id is required")
	}

	kind := models.AssigneeFreelancer
	idStr := in.FreelancerID
	if in.BarristerID != "" {
		kind, idStr = models.AssigneeBarrister, in.BarristerID
	}
	proID, _ := uuid.Parse(idStr)

	var cs models.Case
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if cs.ClientID.String() != clientID {
			return fiber.ErrForbidden
		}
		if cs.Status != models.CasePending {
			return fiber.NewError(fiber.StatusConflict, "case is not pending")
		}
		if err := h.checkEligibility(tx, kind, proID); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&cs).Updates(map[string]any{
			"assignee_kind": kind,
			"assignee_id":   proID,
			"assigned_at":   now,
		}).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		cs.AssigneeKind, cs.AssigneeID, cs.AssignedAt = kind, &proID, &now

		logHistory(tx, cs.ID, cs.ClientID, actionAssigned, cs.Status, cs.Status, string(kind))
		return nil
	})
	if err != nil {
		return err
	}

	h.notify.FireWithEmail(proID.String(), notifications.TypeCaseAssigned,
		"New case assigned", "You have been assigned the case \""+cs.Title+"\".",
		map[string]any{"case_id": cs.ID.String()})

	return c.JSON(cs)
}

/* =========================== Open-case accept =========================== */

// Accept Case godoc
// @Summary      Accept an open case
// @Description  Professional claims an unassigned pending case; exactly one concurrent accepter wins
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.Case
// @Failure      409  {object}  models.ErrorResponse  "case already taken"
// @Router       /cases/{id}/accept [post]
func (h *Handler) Accept(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	role := auth.MustRole(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	kind := models.AssigneeFreelancer
	if role == string(models.RoleBarrister) {
		kind = models.AssigneeBarrister
	}
	if err := h.checkEligibility(h.db, kind, userID); err != nil {
		return err
	}

	// Compare-and-swap: only an unassigned pending case can be claimed,
	// so concurrent accepts produce exactly one winner.
	now := time.Now()
	res := h.db.Model(&models.Case{}).
		Where("id = ? AND status = ? AND assignee_kind = ?", caseID, models.CasePending, models.AssigneeNone).
		Updates(map[string]any{
			"assignee_kind": kind,
			"assignee_id":   userID,
			"status":        models.CaseActive,
			"assigned_at":   now,
			"accepted_at":   now,
		})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		// Either the case does not exist or someone else won the race.
		var cnt int64
		h.db.Model(&models.Case{}).Where("id = ?", caseID).Count(&cnt)
		if cnt == 0 {
			return fiber.ErrNotFound
		}
		return fiber.NewError(fiber.StatusConflict, "case is no longer open")
	}

	var cs models.Case
	if err := h.db.First(&cs, "id = ?", caseID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	logHistory(h.db, cs.ID, userID, actionAccepted, models.CasePending, models.CaseActive, "")

	h.notify.FireWithEmail(cs.ClientID.String(), notifications.TypeCaseAccepted,
		"Case accepted", "A professional has taken your case \""+cs.Title+"\".",
		map[string]any{"case_id": cs.ID.String()})

	return c.JSON(cs)
}

/* ========================== Status transitions ========================== */

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending active completed declined"`
	Reason string `json:"reason" validate:"max=500"`
}

// Update Case Status godoc
// @Summary      Transition case status
// @Description  Assigned professional moves the case along pending→active|declined, active→completed
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string               true  "case id (uuid)"
// @Param        payload  body  UpdateStatusRequest  true  "new status"
// @Success      200  {object}  models.Case
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "invalid transition"
// @Router       /cases/{id}/status [patch]
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var in UpdateStatusRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	newStatus := models.CaseStatus(in.Status)

	var cs models.Case
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if cs.AssigneeID == nil || cs.AssigneeID.String() != userID {
			return fiber.ErrForbidden
		}
		if !cs.Status.CanTransitionTo(newStatus) {
			return fiber.NewError(fiber.StatusConflict,
				"cannot transition from "+string(cs.Status)+" to "+string(newStatus))
		}

		now := time.Now()
		updates := map[string]any{"status": newStatus}
		switch newStatus {
		case models.CaseActive:
			updates["accepted_at"] = now
			cs.AcceptedAt = &now
		case models.CaseDeclined:
			updates["declined_at"] = now
			cs.DeclinedAt = &now
		case models.CaseCompleted:
			updates["completed_at"] = now
			cs.CompletedAt = &now
		}
		if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
			Updates(updates).Error; err != nil {
			return fiber.ErrInternalServerError
		}

		// Completion bookkeeping: credit the professional and record a
		// flat completion payment, inside the same transaction.
		if newStatus == models.CaseCompleted {
			if err := h.creditCompletion(tx, &cs); err != nil {
				return err
			}
		}

		logHistory(tx, cs.ID, *cs.AssigneeID, actionFor(newStatus), cs.Status, newStatus, in.Reason)
		cs.Status = newStatus
		return nil
	})
	if err != nil {
		return err
	}

	h.notifyTransition(&cs)
	return c.JSON(cs)
}

// creditCompletion adds the completion fee to the professional's earnings
// accumulator and records the internal payment row.
func (h *Handler) creditCompletion(tx *gorm.DB, cs *models.Case) error {
	fee := h.prices.CaseCompletionFeeCents()

	var err error
	switch cs.AssigneeKind {
	case models.AssigneeFreelancer:
		err = tx.Model(&models.Freelancer{}).
			Where("user_id = ?", cs.AssigneeID).
			UpdateColumn("total_earnings_cents", gorm.Expr("total_earnings_cents + ?", fee)).Error
	case models.AssigneeBarrister:
		err = tx.Model(&models.Barrister{}).
			Where("user_id = ?", cs.AssigneeID).
			UpdateColumn("total_earnings_cents", gorm.Expr("total_earnings_cents + ?", fee)).Error
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	pay := models.Payment{
		CaseID:      &cs.ID,
		ClientID:    cs.ClientID,
		AmountCents: fee,
		Service:     models.ServiceCaseCompletion,
		Status:      models.PayCompleted,
	}
	if err := tx.Create(&pay).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return nil
}

// notifyTransition sends the client-facing alert for a finished transition.
func (h *Handler) notifyTransition(cs *models.Case) {
	payload := map[string]any{"case_id": cs.ID.String()}
	switch cs.Status {
	case models.CaseActive:
		h.notify.FireWithEmail(cs.ClientID.String(), notifications.TypeCaseAccepted,
			"Case accepted", "Your case \""+cs.Title+"\" is now active.", payload)
	case models.CaseDeclined:
		h.notify.FireWithEmail(cs.ClientID.String(), notifications.TypeCaseDeclined,
			"Case declined", "The professional declined your case \""+cs.Title+"\".", payload)
	case models.CaseCompleted:
		h.notify.FireWithEmail(cs.ClientID.String(), notifications.TypeCaseCompleted,
			"Case completed", "Your case \""+cs.Title+"\" has been completed.", payload)
	}
}

/* =========================== Fan-out broadcast ========================== */

// broadcastAvailability alerts every eligible professional about a new
// open case. At-least-once and non-transactional: a failure for one
// recipient is logged and the loop continues.
func (h *Handler) broadcastAvailability(cs *models.Case) {
	preview := sanitize.Summary(sanitize.RedactPII(cs.Description), 160)
	payload := map[string]any{
		"case_id":        cs.ID.String(),
		"expertise_area": cs.ExpertiseArea,
		"priority":       cs.Priority,
	}

	var freelancerIDs []uuid.UUID
	q := h.db.Model(&models.Freelancer{}).
		Where("verification = ? AND is_available = true", models.VerificationApproved)
	if cs.ExpertiseArea != "" {
		q = q.Where("expertise_areas @> to_jsonb(?::text)", cs.ExpertiseArea)
	}
	if err := q.Pluck("user_id", &freelancerIDs).Error; err != nil {
		h.log.Error().Err(err).Str("case_id", cs.ID.String()).Msg("freelancer fan-out query failed")
	}

	var barristerIDs []uuid.UUID
	bq := h.db.Model(&models.Barrister{}).
		Where("status = ? AND is_available = true", models.BarristerApproved)
	if cs.ExpertiseArea != "" {
		bq = bq.Where("practice_areas @> to_jsonb(?::text)", cs.ExpertiseArea)
	}
	if err := bq.Pluck("user_id", &barristerIDs).Error; err != nil {
		h.log.Error().Err(err).Str("case_id", cs.ID.String()).Msg("barrister fan-out query failed")
	}

	targets := append(freelancerIDs, barristerIDs...)
	for _, id := range targets {
		h.notify.Fire(id.String(), notifications.TypeCaseAvailable,
			"New case available", "\""+cs.Title+"\": "+preview, payload)
	}
	h.log.Info().Str("case_id", cs.ID.String()).Int("recipients", len(targets)).Msg("case availability broadcast")
}
