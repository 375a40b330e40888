package server

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"vibesync/internal/config"
	"vibesync/internal/models"
	"vibesync/internal/service"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageLimit   = 20
	maxPaginationLimit = 100
)

// respondError writes err with the status its code maps to. Errors that are
// not AppErrors are reported as internal errors.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return models.RespondWithError(c, appErr.Status(), appErr)
	}
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// parseLimit reads the limit query parameter, clamped to [1, maxPaginationLimit].
func parseLimit(c *fiber.Ctx, defaultLimit int) int {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}
	return limit
}

// parseBody decodes a JSON or form body into v. An empty body leaves v
// untouched.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

// readUploads reads the files posted under field. Requests that are not
// multipart carry no uploads.
func readUploads(c *fiber.Ctx, field, ownerID string) ([]service.UploadInput, error) {
	if !isMultipart(c) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, models.NewValidationError("Invalid multipart form")
	}
	headers := form.File[field]
	out := make([]service.UploadInput, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, models.NewValidationError(fmt.Sprintf("Unreadable file %q", fh.Filename))
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, models.NewValidationError(fmt.Sprintf("Unreadable file %q", fh.Filename))
		}
		out = append(out, service.UploadInput{
			OwnerID:     ownerID,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     data,
		})
	}
	return out, nil
}

// readUpload returns the single file posted under field, or nil.
func readUpload(c *fiber.Ctx, field, ownerID string) (*service.UploadInput, error) {
	uploads, err := readUploads(c, field, ownerID)
	if err != nil || len(uploads) == 0 {
		return nil, err
	}
	if len(uploads) > 1 {
		return nil, models.NewValidationError(fmt.Sprintf("Only one %s file is allowed", field))
	}
	return &uploads[0], nil
}

func maxUploadBytes(cfg *config.Config) int64 {
	limit := int64(service.DefaultMaxVideoBytes)
	if cfg != nil && cfg.MaxVideoBytes > 0 {
		limit = cfg.MaxVideoBytes
	}
	return limit
}
