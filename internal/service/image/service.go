package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/pixelforge/image-optimizer/internal/model"
	"github.com/pixelforge/image-optimizer/internal/optimizer"
	"github.com/pixelforge/image-optimizer/internal/sizes"
	"github.com/pixelforge/image-optimizer/internal/storage/minio"
	"github.com/pixelforge/image-optimizer/internal/workerpool"
)

var ErrUnknownPreset = errors.New("unknown preset")

// fileStorage defines the interface for the origin store holding originals
// and mirrored derivatives.
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader, contentType string) (string, error)
	SaveBytes(ctx context.Context, subdir, filename string, data []byte, contentType string) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// producer defines the interface for enqueueing optimization tasks into a
// message broker.
type producer interface {
	Produce(ctx context.Context, task model.Task) error
}

// repository defines the persistence interface for image records.
type repository interface {
	SaveImage(ctx context.Context, img model.Image) (uuid.UUID, error)
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, error)
	UpdateDerivatives(ctx context.Context, id uuid.UUID, derivatives map[string]string, status string) error
	DeleteImage(ctx context.Context, id uuid.UUID) error
}

// pipeline defines the optimization operations the service drives.
type pipeline interface {
	ProcessImage(ctx context.Context, sourcePath, imageID string) (map[string]string, error)
	OptimizeBatch(ctx context.Context, imagePaths []string) error
	Derivative(imageID string, p sizes.Preset) ([]byte, string, error)
	RemoveDerivatives(imageID string)
}

// Service provides the business logic around the optimization pipeline:
// storing originals, enqueueing tasks, running the pipeline for consumed
// tasks, and recording the produced derivative paths.
type Service struct {
	fileStorage fileStorage
	producer    producer
	repo        repository
	pipeline    pipeline
	pool        *workerpool.Pool[model.Task]
	scratchDir  string
}

// NewService creates a Service. workers sizes the background reprocessing
// pool; scratchDir is where originals are staged before decoding.
func NewService(fs fileStorage, p producer, repo repository, pipe pipeline, workers int, scratchDir string) *Service {
	s := &Service{
		fileStorage: fs,
		producer:    p,
		repo:        repo,
		pipeline:    pipe,
		scratchDir:  scratchDir,
	}
	s.pool = workerpool.New(workers, s.runTask)

	return s
}

// Start launches the background worker pool.
func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop drains the background worker pool.
func (s *Service) Stop() {
	s.pool.Stop()
}

// SaveImage saves the uploaded file to the origin store, records it, and
// enqueues an optimization task. Returns the new image ID and origin path.
func (s *Service) SaveImage(ctx context.Context, filename string, file io.Reader) (uuid.UUID, string, error) {
	dst, err := s.fileStorage.Save(ctx, minio.SubdirOriginal, filename, file, "")
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("upload: failed to save file: %w", err)
	}

	id, err := s.repo.SaveImage(ctx, model.Image{
		Filename: filename,
		Path:     dst,
		Status:   model.StatusPending,
	})
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("upload: failed to save image record: %w", err)
	}

	task := model.Task{
		ID:       id,
		Filename: filename,
		Path:     dst,
	}
	if err := s.producer.Produce(ctx, task); err != nil {
		return uuid.Nil, "", fmt.Errorf("upload: failed to enqueue task: %w", err)
	}

	return id, dst, nil
}

// ProcessUploaded pulls the original from the origin store, runs the
// optimization pipeline and records the outcome. Partial success is
// recorded as such, not treated as a hard failure; only a task producing
// zero derivatives returns an error.
func (s *Service) ProcessUploaded(ctx context.Context, task model.Task) error {
	srcPath, err := s.stageOriginal(ctx, task)
	if err != nil {
		s.recordStatus(ctx, task.ID, nil, model.StatusFailed)
		return err
	}
	defer os.Remove(srcPath)

	results, procErr := s.pipeline.ProcessImage(ctx, srcPath, task.ID.String())

	produced := 0
	for name, path := range results {
		if name == optimizer.SrcsetKey {
			continue
		}
		produced++
		s.mirrorDerivative(ctx, task.ID.String(), name, path)
	}

	status := model.StatusProcessed
	switch {
	case procErr != nil && produced == 0:
		status = model.StatusFailed
	case procErr != nil:
		status = model.StatusPartial
	}
	s.recordStatus(ctx, task.ID, results, status)

	if status == model.StatusFailed {
		return fmt.Errorf("process uploaded %s: %w", task.ID, procErr)
	}
	if procErr != nil {
		zlog.Logger.Warn().Err(procErr).
			Str("image_id", task.ID.String()).
			Int("produced", produced).
			Msg("image processed partially")
	}

	return nil
}

// OptimizeBatch runs the pipeline over local source paths with the
// pipeline's own concurrency bound.
func (s *Service) OptimizeBatch(ctx context.Context, imagePaths []string) error {
	return s.pipeline.OptimizeBatch(ctx, imagePaths)
}

// EnqueueReprocess submits an existing image for background reprocessing
// through the worker pool. Blocks if the pool queue is full.
func (s *Service) EnqueueReprocess(ctx context.Context, id uuid.UUID) error {
	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return fmt.Errorf("reprocess: %w", err)
	}

	job := workerpool.Job[model.Task]{
		ID: id.String(),
		Payload: model.Task{
			ID:       img.ID,
			Filename: img.Filename,
			Path:     img.Path,
		},
		OnComplete: func(err error) {
			if err != nil {
				zlog.Logger.Err(err).Str("image_id", id.String()).Msg("reprocess failed")
				return
			}
			zlog.Logger.Info().Str("image_id", id.String()).Msg("reprocess finished")
		},
	}

	if err := s.pool.Submit(job); err != nil {
		return fmt.Errorf("reprocess: %w", err)
	}

	return nil
}

// GetImage retrieves an image record.
func (s *Service) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	return s.repo.GetImage(ctx, id)
}

// GetDerivative returns the bytes and content type of one derivative.
func (s *Service) GetDerivative(ctx context.Context, id uuid.UUID, presetName string) ([]byte, string, error) {
	p, ok := sizes.ByName(presetName)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPreset, presetName)
	}

	return s.pipeline.Derivative(id.String(), p)
}

// DeleteImage removes the record, the original and all derivatives.
func (s *Service) DeleteImage(ctx context.Context, id uuid.UUID) error {
	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteImage(ctx, id); err != nil {
		return err
	}

	if err := s.fileStorage.Delete(ctx, img.Path); err != nil {
		zlog.Logger.Warn().Err(err).Str("path", img.Path).Msg("failed to delete original")
	}
	s.pipeline.RemoveDerivatives(id.String())

	return nil
}

// runTask is the worker pool's execution function.
func (s *Service) runTask(ctx context.Context, task model.Task) error {
	return s.ProcessUploaded(ctx, task)
}

// stageOriginal copies the original from the origin store into the scratch
// directory so the pipeline can decode it from local disk.
func (s *Service) stageOriginal(ctx context.Context, task model.Task) (string, error) {
	src, err := s.fileStorage.Load(ctx, task.Path)
	if err != nil {
		return "", fmt.Errorf("failed to load original %s: %w", task.Path, err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}

	dstPath := filepath.Join(s.scratchDir, task.ID.String()+filepath.Ext(task.Filename))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to stage original %s: %w", task.Path, err)
	}

	return dstPath, nil
}

// mirrorDerivative uploads one produced derivative to the origin store.
// Best-effort: a mirror failure is logged, never propagated.
func (s *Service) mirrorDerivative(ctx context.Context, imageID, presetName, relPath string) {
	p, ok := sizes.ByName(presetName)
	if !ok {
		return
	}

	data, contentType, err := s.pipeline.Derivative(imageID, p)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("preset", presetName).Msg("failed to read derivative for mirroring")
		return
	}

	if _, err := s.fileStorage.SaveBytes(ctx, minio.SubdirDerivatives, relPath, data, contentType); err != nil {
		zlog.Logger.Warn().Err(err).Str("preset", presetName).Msg("failed to mirror derivative")
	}
}

func (s *Service) recordStatus(ctx context.Context, id uuid.UUID, derivatives map[string]string, status string) {
	if err := s.repo.UpdateDerivatives(ctx, id, derivatives, status); err != nil {
		zlog.Logger.Err(err).Str("image_id", id.String()).Msg("failed to record processing result")
	}
}
