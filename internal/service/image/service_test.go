package image

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/pixelforge/image-optimizer/internal/model"
	"github.com/pixelforge/image-optimizer/internal/optimizer"
	"github.com/pixelforge/image-optimizer/internal/sizes"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	mirrored map[string][]byte
	saveErr  error
	loadErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		objects:  make(map[string][]byte),
		mirrored: make(map[string][]byte),
	}
}

func (f *fakeStorage) Save(ctx context.Context, subdir, filename string, src io.Reader, contentType string) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	path := subdir + "/" + filename
	f.mu.Lock()
	f.objects[path] = data
	f.mu.Unlock()
	return path, nil
}

func (f *fakeStorage) SaveBytes(ctx context.Context, subdir, filename string, data []byte, contentType string) (string, error) {
	path := subdir + "/" + filename
	f.mu.Lock()
	f.mirrored[path] = data
	f.mu.Unlock()
	return path, nil
}

func (f *fakeStorage) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	data, ok := f.objects[path]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	delete(f.objects, path)
	f.mu.Unlock()
	return nil
}

type fakeProducer struct {
	mu    sync.Mutex
	tasks []model.Task
	err   error
}

func (f *fakeProducer) Produce(ctx context.Context, task model.Task) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	return nil
}

type fakeRepo struct {
	mu       sync.Mutex
	images   map[uuid.UUID]model.Image
	statuses map[uuid.UUID]string
	saved    map[uuid.UUID]map[string]string
	saveErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		images:   make(map[uuid.UUID]model.Image),
		statuses: make(map[uuid.UUID]string),
		saved:    make(map[uuid.UUID]map[string]string),
	}
}

func (f *fakeRepo) SaveImage(ctx context.Context, img model.Image) (uuid.UUID, error) {
	if f.saveErr != nil {
		return uuid.Nil, f.saveErr
	}
	id := uuid.New()
	img.ID = id
	f.mu.Lock()
	f.images[id] = img
	f.statuses[id] = img.Status
	f.mu.Unlock()
	return id, nil
}

func (f *fakeRepo) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return model.Image{}, errors.New("image not found")
	}
	return img, nil
}

func (f *fakeRepo) UpdateDerivatives(ctx context.Context, id uuid.UUID, derivatives map[string]string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	f.saved[id] = derivatives
	return nil
}

func (f *fakeRepo) DeleteImage(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, id)
	return nil
}

func (f *fakeRepo) statusOf(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakePipeline struct {
	mu          sync.Mutex
	results     map[string]string
	processErr  error
	processed   []string
	removed     []string
	derivatives map[string][]byte
}

func (f *fakePipeline) ProcessImage(ctx context.Context, sourcePath, imageID string) (map[string]string, error) {
	f.mu.Lock()
	f.processed = append(f.processed, imageID)
	f.mu.Unlock()
	return f.results, f.processErr
}

func (f *fakePipeline) OptimizeBatch(ctx context.Context, imagePaths []string) error {
	return f.processErr
}

func (f *fakePipeline) Derivative(imageID string, p sizes.Preset) ([]byte, string, error) {
	key := imageID + "_" + p.Name
	if data, ok := f.derivatives[key]; ok {
		return data, p.ContentType(), nil
	}
	return nil, "", errors.New("derivative not found")
}

func (f *fakePipeline) RemoveDerivatives(imageID string) {
	f.mu.Lock()
	f.removed = append(f.removed, imageID)
	f.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *fakeStorage, *fakeProducer, *fakeRepo, *fakePipeline) {
	t.Helper()
	fs := newFakeStorage()
	prod := &fakeProducer{}
	repo := newFakeRepo()
	pipe := &fakePipeline{derivatives: make(map[string][]byte)}
	svc := NewService(fs, prod, repo, pipe, 2, t.TempDir())
	return svc, fs, prod, repo, pipe
}

func TestSaveImageStoresRecordsAndEnqueues(t *testing.T) {
	svc, fs, prod, repo, _ := newTestService(t)

	id, path, err := svc.SaveImage(context.Background(), "cat.jpg", strings.NewReader("image bytes"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, "original/cat.jpg", path)

	assert.Contains(t, fs.objects, path)

	img, err := repo.GetImage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, img.Status)

	require.Len(t, prod.tasks, 1)
	assert.Equal(t, id, prod.tasks[0].ID)
	assert.Equal(t, path, prod.tasks[0].Path)
}

func TestSaveImageFailsWhenProducerFails(t *testing.T) {
	svc, _, prod, _, _ := newTestService(t)
	prod.err = errors.New("broker down")

	_, _, err := svc.SaveImage(context.Background(), "cat.jpg", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue")
}

func TestProcessUploadedRecordsSuccess(t *testing.T) {
	svc, fs, _, repo, pipe := newTestService(t)

	id, path, err := svc.SaveImage(context.Background(), "cat.jpg", strings.NewReader("image bytes"))
	require.NoError(t, err)

	pipe.results = map[string]string{
		"thumb":             "ca/t1/thumb.jpg",
		"small":             "ca/t1/small.jpg",
		optimizer.SrcsetKey: "ca/t1/small.jpg 320w",
	}
	pipe.derivatives[id.String()+"_thumb"] = []byte("thumb-bytes")
	pipe.derivatives[id.String()+"_small"] = []byte("small-bytes")

	err = svc.ProcessUploaded(context.Background(), model.Task{ID: id, Filename: "cat.jpg", Path: path})
	require.NoError(t, err)

	assert.Equal(t, model.StatusProcessed, repo.statusOf(id))
	assert.Equal(t, pipe.results, repo.saved[id])

	// Derivatives are mirrored to the origin store.
	assert.Contains(t, fs.mirrored, "derivatives/ca/t1/thumb.jpg")
	assert.Contains(t, fs.mirrored, "derivatives/ca/t1/small.jpg")
}

func TestProcessUploadedPartialFailureIsNotAnError(t *testing.T) {
	svc, _, _, repo, pipe := newTestService(t)

	id, path, err := svc.SaveImage(context.Background(), "cat.jpg", strings.NewReader("image bytes"))
	require.NoError(t, err)

	pipe.results = map[string]string{"thumb": "ca/t1/thumb.jpg"}
	pipe.processErr = errors.New("2 of 5 presets failed")

	err = svc.ProcessUploaded(context.Background(), model.Task{ID: id, Filename: "cat.jpg", Path: path})
	require.NoError(t, err, "partial success must not fail the task")

	assert.Equal(t, model.StatusPartial, repo.statusOf(id))
}

func TestProcessUploadedTotalFailure(t *testing.T) {
	svc, _, _, repo, pipe := newTestService(t)

	id, path, err := svc.SaveImage(context.Background(), "cat.jpg", strings.NewReader("image bytes"))
	require.NoError(t, err)

	pipe.results = nil
	pipe.processErr = errors.New("decode failed")

	err = svc.ProcessUploaded(context.Background(), model.Task{ID: id, Filename: "cat.jpg", Path: path})
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, repo.statusOf(id))
}

func TestProcessUploadedMissingOriginal(t *testing.T) {
	svc, _, _, repo, _ := newTestService(t)

	id := uuid.New()
	repo.images[id] = model.Image{ID: id}
	repo.statuses[id] = model.StatusPending

	err := svc.ProcessUploaded(context.Background(), model.Task{ID: id, Filename: "gone.jpg", Path: "original/gone.jpg"})
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, repo.statusOf(id))
}

func TestEnqueueReprocessRunsThroughPool(t *testing.T) {
	svc, _, _, repo, pipe := newTestService(t)

	id, _, err := svc.SaveImage(context.Background(), "cat.jpg", strings.NewReader("image bytes"))
	require.NoError(t, err)

	pipe.results = map[string]string{"thumb": "ca/t1/thumb.jpg"}

	svc.Start(context.Background())
	require.NoError(t, svc.EnqueueReprocess(context.Background(), id))
	svc.Stop()

	pipe.mu.Lock()
	processed := append([]string(nil), pipe.processed...)
	pipe.mu.Unlock()
	assert.Contains(t, processed, id.String())
	assert.Equal(t, model.StatusProcessed, repo.statusOf(id))
}

func TestEnqueueReprocessUnknownImage(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	svc.Start(context.Background())
	defer svc.Stop()

	err := svc.EnqueueReprocess(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestGetDerivative(t *testing.T) {
	svc, _, _, _, pipe := newTestService(t)

	id := uuid.New()
	pipe.derivatives[id.String()+"_thumb"] = []byte("bytes")

	data, contentType, err := svc.GetDerivative(context.Background(), id, "thumb")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)
	assert.Equal(t, "image/jpeg", contentType)

	_, _, err = svc.GetDerivative(context.Background(), id, "gigantic")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestDeleteImageRemovesEverything(t *testing.T) {
	svc, fs, _, repo, pipe := newTestService(t)

	id, path, err := svc.SaveImage(context.Background(), "cat.jpg", strings.NewReader("image bytes"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteImage(context.Background(), id))

	_, err = repo.GetImage(context.Background(), id)
	assert.Error(t, err)
	assert.NotContains(t, fs.objects, path)
	assert.Contains(t, pipe.removed, id.String())
}

func TestDeleteImageUnknownID(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	err := svc.DeleteImage(context.Background(), uuid.New())
	assert.Error(t, err)
}
