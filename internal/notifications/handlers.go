package notifications

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/pkg/models"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return
}

// List Notifications godoc
// @Summary      List my notifications
// @Description  Newest first; unread_only=true filters to unread
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        page        query int    false "page"
// @Param        pageSize    query int    false "pageSize"
// @Param        unread_only query bool   false "unread only"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /notifications [get]
func (h *Handler) List(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if c.Query("unread_only") == "true" {
		q = q.Where("is_read = false")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]models.Notification, 0, size)
	if err := q.Order("created_at DESC").
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

// Mark Read godoc
// @Summary      Mark one notification as read
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "notification id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Router       /notifications/{id}/read [patch]
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid notification id")
	}

	var n models.Notification
	if err := h.db.First(&n, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if !n.IsRead {
		now := time.Now()
		if err := h.db.Model(&n).Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		}).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Mark All Read godoc
// @Summary      Mark all my notifications as read
// @Description  Idempotent: a second call matches no rows
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]any  "ok, updated"
// @Failure      401  {object}  models.ErrorResponse
// @Router       /notifications/read-all [post]
func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	res := h.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = false", userID).
		Updates(map[string]any{
			"is_read": true,
			"read_at": time.Now(),
		})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true, "updated": res.RowsAffected})
}
