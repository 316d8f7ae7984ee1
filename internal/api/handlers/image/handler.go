package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/pixelforge/image-optimizer/internal/api/respond"
	"github.com/pixelforge/image-optimizer/internal/metrics"
	"github.com/pixelforge/image-optimizer/internal/model"
	"github.com/pixelforge/image-optimizer/internal/repository/image"
	imagesvc "github.com/pixelforge/image-optimizer/internal/service/image"
)

// service defines the interface for image-related operations.
type service interface {
	SaveImage(ctx context.Context, filename string, file io.Reader) (uuid.UUID, string, error)
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, error)
	GetDerivative(ctx context.Context, id uuid.UUID, presetName string) ([]byte, string, error)
	DeleteImage(ctx context.Context, id uuid.UUID) error
	OptimizeBatch(ctx context.Context, imagePaths []string) error
	EnqueueReprocess(ctx context.Context, id uuid.UUID) error
}

// statsProvider exposes the pipeline counters.
type statsProvider interface {
	Snapshot() metrics.Snapshot
}

// Handler provides HTTP handlers for image-related endpoints.
type Handler struct {
	service service
	stats   statsProvider
}

// NewHandler creates a new Handler with the given service and counters.
func NewHandler(s service, stats statsProvider) *Handler {
	return &Handler{service: s, stats: stats}
}

// BatchRequest represents the source paths submitted for batch optimization.
type BatchRequest struct {
	Paths []string `json:"paths"`
}

// Upload handles the HTTP request for uploading an image. It reads the
// multipart form, saves the original via the service, and responds with the
// new image's ID; derivative production happens asynchronously through the
// queue.
func (h *Handler) Upload(c *ginext.Context) {
	// Parse the multipart form with a 10MB max memory limit.
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to retrieve the uploaded file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to retrieve the file"))
		return
	}
	defer file.Close()

	id, dst, err := h.service.SaveImage(c.Request.Context(), header.Filename, file)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to save the image")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to save the image: %v", err))
		return
	}

	respond.Created(c, map[string]interface{}{
		"id":       id,
		"filename": header.Filename,
		"path":     dst,
	})
}

// Get returns metadata about the image, including its derivative path map.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	img, err := h.service.GetImage(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, image.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to get image")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get image: %v", err))
		return
	}

	respond.OK(c, img)
}

// GetDerivative serves the bytes of one derivative.
func (h *Handler) GetDerivative(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	preset := c.Param("preset")
	data, contentType, err := h.service.GetDerivative(c.Request.Context(), id, preset)
	if err != nil {
		if errors.Is(err, imagesvc.ErrUnknownPreset) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		respond.Fail(c, http.StatusNotFound, fmt.Errorf("derivative not found"))
		return
	}

	respond.Image(c, http.StatusOK, contentType, data)
}

// OptimizeBatch synchronously optimizes a list of local source paths. A
// partial failure still responds 200 with a warning, per best-effort batch
// semantics; callers inspect the warnings list.
func (h *Handler) OptimizeBatch(c *ginext.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}
	if len(req.Paths) == 0 {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("paths field is required"))
		return
	}

	if err := h.service.OptimizeBatch(c.Request.Context(), req.Paths); err != nil {
		respond.OKWithWarnings(c, map[string]interface{}{
			"submitted": len(req.Paths),
		}, []string{err.Error()})
		return
	}

	respond.OK(c, map[string]interface{}{
		"submitted": len(req.Paths),
	})
}

// Reprocess enqueues an existing image for background reprocessing.
func (h *Handler) Reprocess(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.EnqueueReprocess(c.Request.Context(), id); err != nil {
		if errors.Is(err, image.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to enqueue reprocess")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to enqueue reprocess: %v", err))
		return
	}

	respond.JSON(c, http.StatusAccepted, map[string]interface{}{"id": id})
}

// Stats returns the pipeline counter snapshot.
func (h *Handler) Stats(c *ginext.Context) {
	respond.OK(c, h.stats.Snapshot())
}

// Delete removes an image, its original and all derivatives.
func (h *Handler) Delete(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteImage(c.Request.Context(), id); err != nil {
		if errors.Is(err, image.ErrImageNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to delete the image")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to delete image: %v", err))
		return
	}

	c.Status(http.StatusNoContent)
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	if idStr == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("missing id"))
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %v", err))
		return uuid.Nil, false
	}

	return id, true
}
