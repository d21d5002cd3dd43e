package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"sharelink/internal/server/service"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether the metadata store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the file sharing API.
type Handler struct {
	svc         *service.AccessService
	health      HealthChecker
	maxFileSize int64
}

// NewHandler creates a new handler. maxFileSize lets uploads that are
// obviously too large be rejected before they reach storage; zero disables
// the early check.
func NewHandler(svc *service.AccessService, health HealthChecker, maxFileSize int64) *Handler {
	return &Handler{svc: svc, health: health, maxFileSize: maxFileSize}
}

// HandleUpload handles POST /api/files/upload.
// Accepts a multipart form with a "file" field and optional "password",
// "ttl_days", "ttl_hours", "max_downloads" and "owner_id" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}
	if h.maxFileSize > 0 && fileHeader.Size > h.maxFileSize {
		return mapServiceError(c, service.ErrFileTooLarge)
	}

	req := service.UploadRequest{
		Filename: fileHeader.Filename,
		Password: c.FormValue("password"),
		OwnerID:  c.FormValue("owner_id"),
	}
	for _, f := range []struct {
		name string
		dest **int
	}{
		{"ttl_days", &req.TTLDays},
		{"ttl_hours", &req.TTLHours},
		{"max_downloads", &req.MaxDownloads},
	} {
		v, err := optionalInt(c.FormValue(f.name))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": fmt.Sprintf("invalid %s: must be an integer", f.name),
			})
		}
		*f.dest = v
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	result, err := h.svc.Upload(c.Request().Context(), req, src)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleDownload handles GET /api/files/download/:token.
// Streams the file as an attachment. Accepts an optional "password" query param.
func (h *Handler) HandleDownload(c echo.Context) error {
	token := c.Param("token")
	password := c.QueryParam("password")

	d, err := h.svc.Retrieve(c.Request().Context(), token, password)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer d.Content.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": d.Filename,
	}))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(d.Size, 10))
	header.Set("X-Downloads-Count", strconv.Itoa(d.DownloadsCount))

	return c.Stream(http.StatusOK, echo.MIMEOctetStream, d.Content)
}

// HandleInfo handles GET /api/files/info/:token.
// Returns file metadata without serving the file.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.svc.Info(c.Request().Context(), c.Param("token"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleListByOwner handles GET /api/files/user/:owner.
func (h *Handler) HandleListByOwner(c echo.Context) error {
	files, err := h.svc.ListForOwner(c.Request().Context(), c.Param("owner"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, files)
}

// HandleDelete handles DELETE /api/files/:token.
// When the "owner_id" query param is given it must match the file's owner.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("token"), c.QueryParam("owner_id")); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleUpdatePolicy handles PATCH /api/files/:token.
// Accepts a JSON policy update; the "owner_id" query param works as in delete.
func (h *Handler) HandleUpdatePolicy(c echo.Context) error {
	var update service.PolicyUpdate
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON body"})
	}

	info, err := h.svc.UpdatePolicy(c.Request().Context(), c.Param("token"), c.QueryParam("owner_id"), update)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleTransfer handles POST /api/files/transfer/:from/:to.
// Moves every file of one owner to another, e.g. when a guest signs up.
func (h *Handler) HandleTransfer(c echo.Context) error {
	n, err := h.svc.TransferOwner(c.Request().Context(), c.Param("from"), c.Param("to"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"count": n})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including metadata store connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":        stats.TotalFiles,
		"active_files":       stats.ActiveFiles,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "file has expired"})
	case errors.Is(err, service.ErrPasswordRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password_required"})
	case errors.Is(err, service.ErrPasswordMismatch):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_password"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not the owner of this file"})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// optionalInt parses a form value; an empty value means "not set".
func optionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
