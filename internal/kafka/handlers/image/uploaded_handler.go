package image

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/pixelforge/image-optimizer/internal/model"
)

// service defines the interface for processing uploaded-image tasks.
type service interface {
	ProcessUploaded(ctx context.Context, task model.Task) error
}

// UploadedHandler handles Kafka messages for newly uploaded images. It
// relies on a service that drives the optimization pipeline.
type UploadedHandler struct {
	service service
}

// NewUploadedHandler creates a new handler with the given service.
func NewUploadedHandler(s service) *UploadedHandler {
	return &UploadedHandler{service: s}
}

// Handle processes a Kafka message containing an optimization task. It
// unmarshals the message, runs the pipeline via the service, and logs the
// result.
func (h *UploadedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var task model.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return fmt.Errorf("unmarshal task: %w", err)
	}

	if err := h.service.ProcessUploaded(ctx, task); err != nil {
		return fmt.Errorf("process task: %w", err)
	}

	zlog.Logger.Info().Str("image_id", task.ID.String()).Msg("image processed")

	return nil
}
