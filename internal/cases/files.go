package cases

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/pkg/models"
)

const maxDocumentBytes = 10 * 1024 * 1024

// uploadAll pushes every file to object storage and returns the URLs.
// The first failure aborts the whole batch.
func (h *Handler) uploadAll(c *fiber.Ctx, folderID string, files []*multipart.FileHeader) ([]string, error) {
	urls := make([]string, 0, len(files))
	for _, fh := range files {
		if fh.Size <= 0 {
			return nil, fiber.NewError(fiber.StatusBadRequest, "empty file: "+fh.Filename)
		}
		if fh.Size > maxDocumentBytes {
			return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge, "max 10MB per file")
		}

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}
		switch ct {
		case "application/pdf", "image/png", "image/jpeg":
			// ok
		default:
			return nil, fiber.NewError(fiber.StatusBadRequest, "only PDF, PNG, or JPEG are allowed")
		}

		f, err := fh.Open()
		if err != nil {
			return nil, fiber.ErrInternalServerError
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fiber.ErrInternalServerError
		}

		if h.uploader == nil {
			return nil, fiber.NewError(fiber.StatusBadGateway, "document storage is not configured")
		}
		// Unique object name, keep the extension for content hints.
		name := uuid.NewString() + filepath.Ext(fh.Filename)
		url, err := h.uploader.UploadBytes(c.Context(), "case/"+folderID, name, data)
		if err != nil {
			h.log.Error().Err(err).Str("file", fh.Filename).Msg("document upload failed")
			return nil, fiber.NewError(fiber.StatusBadGateway, "document upload failed")
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func marshalURLs(urls []string) []byte {
	b, _ := json.Marshal(urls)
	return b
}

// Upload Case Documents godoc
// @Summary      Upload documents to an existing case
// @Description  Owner client attaches up to 10 PDF/PNG/JPEG files; any upload failure fails the request
// @Tags         files
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id         path      string   true  "case id (uuid)"
// @Param        documents  formData  []file   true  "documents (max 10)"
// @Success      201  {object}  map[string]any  "urls"
// @Failure      400  {object}  models.ErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      502  {object}  models.ErrorResponse
// @Router       /cases/{id}/documents [post]
func (h *Handler) UploadDocuments(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	caseID := c.Params("id")

	var cs models.Case
	if err := h.db.Where("id = ? AND client_id = ?", caseID, clientID).First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrForbidden
		}
		return fiber.ErrInternalServerError
	}
	if cs.Status.Terminal() {
		return fiber.NewError(fiber.StatusConflict, "case is closed")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required; use documents[]")
	}
	files := form.File["documents[]"]
	if len(files) == 0 {
		files = form.File["documents"]
	}
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "documents are required (use key: documents[])")
	}
	if len(files) > 10 {
		return fiber.NewError(fiber.StatusBadRequest, "max 10 documents allowed")
	}

	urls, err := h.uploadAll(c, cs.ID.String(), files)
	if err != nil {
		return err
	}

	// Append to the existing URL list.
	existing := make([]string, 0, len(urls))
	if len(cs.DocumentURLs) > 0 {
		_ = json.Unmarshal(cs.DocumentURLs, &existing)
	}
	existing = append(existing, urls...)

	if err := h.db.Model(&cs).
		UpdateColumn("document_urls", datatypes.JSON(marshalURLs(existing))).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"urls": urls, "total": len(existing)})
}
