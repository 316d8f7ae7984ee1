package optimizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/pixelforge/image-optimizer/internal/cache"
	"github.com/pixelforge/image-optimizer/internal/encoder"
	"github.com/pixelforge/image-optimizer/internal/metrics"
	"github.com/pixelforge/image-optimizer/internal/sizes"
)

// Error taxonomy. Decode failures are fatal for the whole image; encode and
// persist failures are fatal for a single preset and never abort siblings.
var (
	ErrDecode  = errors.New("decode failed")
	ErrEncode  = errors.New("encode failed")
	ErrPersist = errors.New("persist failed")
)

// SrcsetKey is the synthetic entry added to the result map describing the
// responsive derivative set.
const SrcsetKey = "srcset"

// batchConcurrency caps how many whole-image jobs run at once in
// OptimizeBatch, independent of the per-image preset fan-out.
const batchConcurrency = 4

// EncodeFunc resizes and encodes a decoded image for one preset.
type EncodeFunc func(img image.Image, p sizes.Preset) ([]byte, error)

// Optimizer produces resized, re-encoded derivatives for source images and
// keeps already-produced derivatives in a size-bounded result cache.
type Optimizer struct {
	outputDir  string
	cdnBaseURL string
	cache      *cache.Cache
	metrics    *metrics.Metrics
	batchSem   chan struct{}
	encode     EncodeFunc
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithEncodeFunc overrides the resize+encode step. Used by tests to inject
// encode failures.
func WithEncodeFunc(fn EncodeFunc) Option {
	return func(o *Optimizer) { o.encode = fn }
}

// New creates an Optimizer writing derivatives under outputDir.
func New(outputDir, cdnBaseURL string, c *cache.Cache, m *metrics.Metrics, opts ...Option) *Optimizer {
	o := &Optimizer{
		outputDir:  outputDir,
		cdnBaseURL: cdnBaseURL,
		cache:      c,
		metrics:    m,
		batchSem:   make(chan struct{}, batchConcurrency),
		encode:     encoder.Process,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CacheKey derives the deterministic cache key for one derivative. The key
// doubles as the derivative's filename.
func CacheKey(imageID string, p sizes.Preset) string {
	return fmt.Sprintf("%s_%s.%s", imageID, p.Suffix, p.Ext())
}

// ShardPath maps a derivative filename onto a two-level directory shard
// derived from its first four characters, bounding directory fan-out as the
// corpus grows.
func ShardPath(name string) string {
	if len(name) < 4 {
		return name
	}
	return filepath.Join(name[0:2], name[2:4], name)
}

// DiskLoader returns a cache.LoadFunc that warms cache entries from the
// derivative files under outputDir.
func DiskLoader(outputDir string) cache.LoadFunc {
	return func(key string) ([]byte, string, error) {
		data, err := os.ReadFile(filepath.Join(outputDir, ShardPath(key)))
		if err != nil {
			return nil, "", err
		}
		return data, contentTypeForName(key), nil
	}
}

func contentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// ProcessImage decodes the source once and produces one derivative per
// applicable preset, all presets concurrently. Derivatives already present
// in the result cache are not re-encoded. The returned map holds the
// relative output path per preset name plus a synthetic "srcset" entry.
//
// Preset failures are local: the successful subset is always returned, and
// if any preset failed a single aggregated error referencing the first
// failure is returned alongside it.
func (o *Optimizer) ProcessImage(ctx context.Context, sourcePath, imageID string) (map[string]string, error) {
	start := time.Now()
	defer func() {
		o.metrics.AddProcessingTime(time.Since(start))
	}()

	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img, err := encoder.Decode(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	presets := sizes.For(bounds.Dx(), bounds.Dy())

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  = make(map[string]string, len(presets)+1)
		firstErr error
		failed   int
	)

	launched := 0
	for _, p := range presets {
		// Cancellation is honored between preset units: units that have not
		// started yet are abandoned, units already running always finish
		// their rename.
		if ctx.Err() != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			failed += len(presets) - launched
			mu.Unlock()
			break
		}
		launched++

		wg.Add(1)
		go func(p sizes.Preset) {
			defer wg.Done()

			path, err := o.processPreset(img, srcInfo.Size(), imageID, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				zlog.Logger.Err(err).
					Str("image_id", imageID).
					Str("preset", p.Name).
					Msg("preset processing failed")
				return
			}
			results[p.Name] = path
		}(p)
	}
	wg.Wait()

	if srcset := buildSrcset(presets, results); srcset != "" {
		results[SrcsetKey] = srcset
	}

	if failed > 0 {
		return results, fmt.Errorf("process image %s: %d of %d presets failed: %w",
			imageID, failed, len(presets), firstErr)
	}

	o.metrics.AddOptimized()

	return results, nil
}

// processPreset is one preset unit: cache check, then on a miss
// resize, encode, atomic persist and cache insert.
func (o *Optimizer) processPreset(img image.Image, srcSize int64, imageID string, p sizes.Preset) (string, error) {
	key := CacheKey(imageID, p)
	relPath := ShardPath(key)

	if _, _, ok := o.cache.Get(key); ok {
		o.metrics.AddCacheHit()
		return relPath, nil
	}
	o.metrics.AddCacheMiss()

	data, err := o.encode(img, p)
	if err != nil {
		return "", fmt.Errorf("%w: preset %s: %v", ErrEncode, p.Name, err)
	}

	fullPath := filepath.Join(o.outputDir, relPath)
	if err := writeFileAtomic(fullPath, data); err != nil {
		return "", fmt.Errorf("%w: preset %s: %v", ErrPersist, p.Name, err)
	}

	o.cache.Set(key, data, p.ContentType())
	o.metrics.AddProcessed(1)
	o.metrics.AddBytesSaved(srcSize - int64(len(data)))

	return relPath, nil
}

// buildSrcset assembles the responsive descriptor from the successful
// srcset-eligible presets, in ascending width order.
func buildSrcset(presets []sizes.Preset, results map[string]string) string {
	var parts []string
	for _, p := range presets {
		if !p.InSrcset {
			continue
		}
		if path, ok := results[p.Name]; ok {
			parts = append(parts, fmt.Sprintf("%s %dw", path, p.TargetWidth))
		}
	}
	return strings.Join(parts, ", ")
}

// OptimizeBatch processes many source images, each under a freshly
// generated identifier, with at most batchConcurrency images in flight at
// once. A failing image never aborts the rest; the aggregated failure count
// is returned at the end.
func (o *Optimizer) OptimizeBatch(ctx context.Context, imagePaths []string) error {
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)

	for _, path := range imagePaths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()

			select {
			case o.batchSem <- struct{}{}:
			case <-ctx.Done():
				failed.Add(1)
				return
			}
			defer func() { <-o.batchSem }()

			id := uuid.New().String()
			if _, err := o.ProcessImage(ctx, path, id); err != nil {
				failed.Add(1)
				zlog.Logger.Err(err).
					Str("source", path).
					Msg("batch image failed")
			}
		}(path)
	}
	wg.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("optimize batch: %d of %d images failed", n, len(imagePaths))
	}

	return nil
}

// Derivative returns the bytes and content type of one derivative, served
// from the result cache when possible and warmed from disk otherwise.
func (o *Optimizer) Derivative(imageID string, p sizes.Preset) ([]byte, string, error) {
	key := CacheKey(imageID, p)

	if data, contentType, ok := o.cache.Get(key); ok {
		o.metrics.AddCacheHit()
		return data, contentType, nil
	}
	o.metrics.AddCacheMiss()

	o.cache.Preload(key)
	if data, contentType, ok := o.cache.Get(key); ok {
		return data, contentType, nil
	}

	data, err := os.ReadFile(filepath.Join(o.outputDir, ShardPath(key)))
	if err != nil {
		return nil, "", fmt.Errorf("derivative %s: %w", key, err)
	}
	return data, contentTypeForName(key), nil
}

// RemoveDerivatives deletes every derivative of an image from disk and from
// the result cache. Missing files are ignored.
func (o *Optimizer) RemoveDerivatives(imageID string) {
	for _, p := range sizes.All() {
		key := CacheKey(imageID, p)
		o.cache.Remove(key)
		if err := os.Remove(filepath.Join(o.outputDir, ShardPath(key))); err != nil && !os.IsNotExist(err) {
			zlog.Logger.Warn().Err(err).Str("key", key).Msg("failed to remove derivative")
		}
	}
}

// CleanupOlderThan deletes derivative files whose modification time is older
// than now-age. Individual failures are logged and never abort the walk.
// It returns the number of files removed.
func (o *Optimizer) CleanupOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	removed := 0

	err := filepath.WalkDir(o.outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("path", path).Msg("cleanup: walk error")
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("path", path).Msg("cleanup: stat failed")
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			zlog.Logger.Warn().Err(err).Str("path", path).Msg("cleanup: remove failed")
			return nil
		}
		o.cache.Remove(filepath.Base(path))
		removed++
		return nil
	})
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("cleanup: walk aborted")
	}

	return removed
}

// CDNURL composes the public URL for a derivative path. Pure string
// composition, no I/O.
func (o *Optimizer) CDNURL(path string) string {
	if o.cdnBaseURL == "" {
		return "/" + strings.TrimPrefix(path, "/")
	}
	return strings.TrimSuffix(o.cdnBaseURL, "/") + "/" + strings.TrimPrefix(filepath.ToSlash(path), "/")
}

// CacheStats exposes the result cache counters.
func (o *Optimizer) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it over the final path, so a concurrent reader never observes
// a partially written file. The rename is the commit point.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename temp file over %s: %w", path, err)
	}

	return nil
}
