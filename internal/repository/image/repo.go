package image

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/pixelforge/image-optimizer/internal/model"
)

var ErrImageNotFound = errors.New("image not found")

// Repository provides CRUD operations for image records and their
// derivative path maps.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// SaveImage inserts a new image record and returns its UUID.
func (r *Repository) SaveImage(ctx context.Context, img model.Image) (uuid.UUID, error) {
	query := `
		INSERT INTO images (filename, path, derivatives, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
   `

	derivativesJSON, err := json.Marshal(img.Derivatives)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal derivatives: %w", err)
	}

	var id uuid.UUID
	err = r.db.QueryRowContext(
		ctx, query, img.Filename, img.Path, derivativesJSON, img.Status,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save: failed to save image: %w", err)
	}

	return id, nil
}

// GetImage retrieves an image record by ID.
func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	query := `
		SELECT filename, path, derivatives, status, created_at
		FROM images
		WHERE id = $1
    `

	var img model.Image
	var derivativesBytes []byte

	err := r.db.QueryRowContext(
		ctx, query, id,
	).Scan(&img.Filename, &img.Path, &derivativesBytes, &img.Status, &img.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Image{}, ErrImageNotFound
		}

		return model.Image{}, fmt.Errorf("get: failed to get image: %w", err)
	}

	if len(derivativesBytes) > 0 {
		if err := json.Unmarshal(derivativesBytes, &img.Derivatives); err != nil {
			return model.Image{}, fmt.Errorf("get: failed to unmarshal derivatives: %w", err)
		}
	}

	img.ID = id

	return img, nil
}

// UpdateDerivatives stores the produced derivative path map and the final
// processing status for an image.
func (r *Repository) UpdateDerivatives(ctx context.Context, id uuid.UUID, derivatives map[string]string, status string) error {
	query := `
		UPDATE images
		SET derivatives = $1, status = $2
		WHERE id = $3
    `

	derivativesJSON, err := json.Marshal(derivatives)
	if err != nil {
		return fmt.Errorf("update: failed to marshal derivatives: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, derivativesJSON, status, id)
	if err != nil {
		return fmt.Errorf("update: failed to update image: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrImageNotFound
	}

	return nil
}

// DeleteImage deletes an image record by ID.
func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM images WHERE id = $1
    `

	rows, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete: failed to delete image: %w", err)
	}

	n, err := rows.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrImageNotFound
	}

	return nil
}
