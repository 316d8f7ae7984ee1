package model

import (
	"time"

	"github.com/google/uuid"
)

// Image statuses as stored in the repository.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusPartial   = "partial" // some derivatives produced, some failed
	StatusFailed    = "failed"
)

// Image represents an uploaded source image and the derivatives produced
// from it.
type Image struct {
	ID          uuid.UUID         `json:"id"`
	Filename    string            `json:"filename"`
	Path        string            `json:"file_path"`   // origin-store path of the original
	Derivatives map[string]string `json:"derivatives"` // preset name -> derivative path
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Task represents an optimization job that is sent to the queue.
type Task struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	Path     string    `json:"file_path"`
}
