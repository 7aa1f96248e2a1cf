package cases

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/internal/storage"
	"github.com/lexhaven/legal-services-backend/pkg/models"
	"github.com/lexhaven/legal-services-backend/pkg/pricing"
	"github.com/lexhaven/legal-services-backend/pkg/sanitize"
	"github.com/lexhaven/legal-services-backend/pkg/validation"
)

// ===== DTOs =====

type CreateCaseRequest struct {
	Title         string `json:"title" validate:"required,max=120"`
	Description   string `json:"description" validate:"max=2000"`
	ExpertiseArea string `json:"expertise_area" validate:"omitempty,expertise,max=40"`
	Priority      string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	FreelancerID  string `json:"freelancer_id" validate:"omitempty,uuid4"`
	BarristerID   string `json:"barrister_id" validate:"omitempty,uuid4"`
}

type CaseListItem struct {
	ID            uuid.UUID           `json:"id"`
	Title         string              `json:"title"`
	ExpertiseArea string              `json:"expertise_area"`
	Priority      string              `json:"priority"`
	Status        models.CaseStatus   `json:"status"`
	AssigneeKind  models.AssigneeKind `json:"assignee_kind"`
	CreatedAt     time.Time           `json:"created_at"`
}

type Handler struct {
	db       *gorm.DB
	uploader storage.Uploader
	notify   *notifications.Dispatcher
	prices   pricing.Policy
	log      zerolog.Logger
}

func NewHandler(db *gorm.DB, uploader storage.Uploader, notify *notifications.Dispatcher, prices pricing.Policy, baseLogger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		uploader: uploader,
		notify:   notify,
		prices:   prices,
		log:      baseLogger.With().Str("component", "cases").Logger(),
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

// Create Case godoc
// @Summary      Create case
// @Description  Client creates a case; optionally pre-assigned to one professional and with an attached document
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCaseRequest  true  "Case payload"
// @Success      201  {object}  models.Case
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "both professional ids supplied"
// @Router       /cases [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateCaseRequest
	isMultipart := strings.HasPrefix(c.Get("Content-Type"), "multipart/form-data")
	if isMultipart {
		in = CreateCaseRequest{
			Title:         c.FormValue("title"),
			Description:   c.FormValue("description"),
			ExpertiseArea: c.FormValue("expertise_area"),
			Priority:      c.FormValue("priority"),
			FreelancerID:  c.FormValue("freelancer_id"),
			BarristerID:   c.FormValue("barrister_id"),
		}
	} else if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// Exactly one professional reference may be supplied.
	if in.FreelancerID != "" && in.BarristerID != "" {
		return fiber.NewError(fiber.StatusConflict, "supply either freelancer_id or barrister_id, not both")
	}

	kind := models.AssigneeNone
	var assigneeID *uuid.UUID
	if in.FreelancerID != "" {
		id, _ := uuid.Parse(in.FreelancerID)
		kind, assigneeID = models.AssigneeFreelancer, &id
	} else if in.BarristerID != "" {
		id, _ := uuid.Parse(in.BarristerID)
		kind, assigneeID = models.AssigneeBarrister, &id
	}

	if kind.Professional() {
		if err := h.checkEligibility(h.db, kind, *assigneeID); err != nil {
			return err
		}
	}

	// Upload any attached document before touching the database: a failed
	// upload fails the whole request instead of leaving a case without
	// its document.
	docURLs, err := h.collectDocuments(c, isMultipart)
	if err != nil {
		return err
	}

	if in.Priority == "" {
		in.Priority = "normal"
	}

	clientUUID, _ := uuid.Parse(auth.MustUserID(c))
	cs := models.Case{
		ClientID:      clientUUID,
		Title:         strings.TrimSpace(in.Title),
		Description:   strings.TrimSpace(in.Description),
		ExpertiseArea: strings.TrimSpace(in.ExpertiseArea),
		Priority:      in.Priority,
		Status:        models.CasePending,
		AssigneeKind:  kind,
		AssigneeID:    assigneeID,
		DocumentURLs:  docURLs,
	}
	if kind.Professional() {
		now := time.Now()
		cs.AssignedAt = &now
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cs).Error; err != nil {
			return err
		}
		logHistory(tx, cs.ID, clientUUID, actionCreated, "", models.CasePending, "")
		return nil
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}

	// Fan-out after commit; never fails the request.
	if kind.Professional() {
		h.notify.FireWithEmail(assigneeID.String(), notifications.TypeCaseAssigned,
			"New case assigned", "You have been assigned the case \""+cs.Title+"\".",
			map[string]any{"case_id": cs.ID.String()})
	} else {
		h.broadcastAvailability(&cs)
	}

	return c.Status(fiber.StatusCreated).JSON(cs)
}

// collectDocuments uploads multipart "documents" files and returns their
// URLs as a JSON array. Non-multipart requests return nil.
func (h *Handler) collectDocuments(c *fiber.Ctx, isMultipart bool) ([]byte, error) {
	if !isMultipart {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}
	files := form.File["documents[]"]
	if len(files) == 0 {
		files = form.File["documents"]
	}
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 10 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "max 10 documents allowed")
	}

	urls, err := h.uploadAll(c, uuid.NewString(), files)
	if err != nil {
		return nil, err
	}
	return marshalURLs(urls), nil
}

// List My Cases godoc
// @Summary      List my cases
// @Description  Client lists their own cases (paginated)
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	page, size := parsePage(c)

	var total int64
	if err := h.db.Model(&models.Case{}).
		Where("client_id = ?", clientID).
		Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]CaseListItem, 0, size)
	if err := h.db.Model(&models.Case{}).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
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

// Case Detail godoc
// @Summary      Case detail
// @Description  Owner client or the assigned professional gets the full case
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {object}  models.Case
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var cs models.Case
	if err := h.db.First(&cs, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	allowed := cs.ClientID.String() == userID
	if cs.AssigneeID != nil && cs.AssigneeID.String() == userID {
		allowed = true
	}
	if !allowed {
		return fiber.ErrForbidden
	}

	return c.JSON(cs)
}

// ====== Open-case browsing (professionals) ======

type OpenCaseItem struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	ExpertiseArea string    `json:"expertise_area"`
	Priority      string    `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
	Preview       string    `json:"preview"`
}

// Open Cases godoc
// @Summary      Browse open cases
// @Description  Professional browses unassigned pending cases (no client identity, PII redacted)
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page            query int    false "page"
// @Param        pageSize        query int    false "pageSize"
// @Param        expertise_area  query string false "expertise area"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases/open [get]
func (h *Handler) ListOpen(c *fiber.Ctx) error {
	page, size := parsePage(c)
	area := strings.TrimSpace(c.Query("expertise_area"))

	dbq := h.db.Model(&models.Case{}).
		Where("status = ? AND assignee_kind = ?", models.CasePending, models.AssigneeNone)
	if area != "" {
		dbq = dbq.Where("expertise_area = ?", area)
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Case
	if err := dbq.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]OpenCaseItem, 0, len(list))
	for _, cs := range list {
		items = append(items, OpenCaseItem{
			ID:            cs.ID,
			Title:         cs.Title,
			ExpertiseArea: cs.ExpertiseArea,
			Priority:      cs.Priority,
			CreatedAt:     cs.CreatedAt,
			Preview:       sanitize.Summary(sanitize.RedactPII(cs.Description), 240),
		})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}
