package video

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vidstore/internal/metrics"
	"vidstore/internal/registry"
	"vidstore/internal/status"
	"vidstore/internal/transcode"

	"github.com/google/uuid"
)

// Engine runs ingest, transform and purge against stored files, allowing at
// most one of them per file at a time.
type Engine struct {
	mu                sync.RWMutex
	baseCtx           context.Context
	dataDir           string
	allowedExtensions map[string]struct{}
	store             status.Store
	registry          *registry.Registry
	transcoder        transcode.Transcoder
	transcodeTimeout  time.Duration
	transcodeSlots    chan struct{}
	metrics           *metrics.Metrics
}

// NewEngineWithOptions creates an engine with provided configuration.
// A nil Store falls back to a FileStore under DataDir, a nil Transcoder to
// ffmpeg on PATH.
func NewEngineWithOptions(opts Options) *Engine {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = []string{storedExtension}
	}
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	if opts.Store == nil {
		opts.Store = status.NewFileStore(opts.DataDir)
	}
	if opts.Transcoder == nil {
		opts.Transcoder = transcode.NewFFmpeg("")
	}
	if opts.TranscodeTimeout <= 0 {
		opts.TranscodeTimeout = defaultTranscodeTimeout
	}
	if opts.MaxConcurrentTranscodes <= 0 {
		opts.MaxConcurrentTranscodes = defaultMaxConcurrentTranscodes
	}
	return &Engine{
		baseCtx:           context.Background(),
		dataDir:           opts.DataDir,
		allowedExtensions: allowed,
		store:             opts.Store,
		registry:          registry.New(),
		transcoder:        opts.Transcoder,
		transcodeTimeout:  opts.TranscodeTimeout,
		transcodeSlots:    make(chan struct{}, opts.MaxConcurrentTranscodes),
		metrics:           opts.Metrics,
	}
}

// Registry exposes the busy-file registry, e.g. for metrics sampling.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// SetBaseContext sets the context that bounds background transcodes.
// Intended to be set at process startup and cancelled during shutdown.
func (e *Engine) SetBaseContext(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()
}

func (e *Engine) backgroundContext() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.baseCtx == nil {
		return context.Background()
	}
	return e.baseCtx
}

// WaitAll blocks until all background operations finish or ctx is done.
// Returns true if all of them finished.
func (e *Engine) WaitAll(ctx context.Context) bool {
	return e.registry.Wait(ctx)
}

// acquireTranscodeSlot blocks until fewer than MaxConcurrentTranscodes
// resizes are running or ctx is done.
func (e *Engine) acquireTranscodeSlot(ctx context.Context) error {
	select {
	case e.transcodeSlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}

func (e *Engine) releaseTranscodeSlot() { <-e.transcodeSlots }

// GetInfo combines the stored status with the busy flag. It never waits for
// a running operation.
func (e *Engine) GetInfo(ctx context.Context, id uuid.UUID) (FileInfo, error) {
	rec, found, err := e.store.Get(ctx, id)
	if err != nil {
		return FileInfo{}, fmt.Errorf("read status: %w", err)
	}
	if !found {
		return FileInfo{}, ErrNonExistentID
	}
	return e.toInfo(rec), nil
}

// List returns every known file, oldest first.
func (e *Engine) List(ctx context.Context) ([]FileInfo, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	infos := make([]FileInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, e.toInfo(rec))
	}
	return infos, nil
}

func (e *Engine) toInfo(rec status.Record) FileInfo {
	return FileInfo{
		ID:          rec.ID,
		Filename:    rec.Filename,
		LastSuccess: rec.LastSuccess,
		Processing:  e.registry.IsBusy(rec.ID),
	}
}

func (e *Engine) videoPath(id uuid.UUID) string {
	return filepath.Join(e.dataDir, "videos", id.String()+storedExtension)
}

func (e *Engine) tempDir() string {
	return filepath.Join(e.dataDir, "temp")
}

func (e *Engine) tempPath(id uuid.UUID) string {
	return filepath.Join(e.tempDir(), id.String()+storedExtension)
}

func (e *Engine) checkFormat(filename string) error {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if _, ok := e.allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: %q", ErrFormat, ext)
	}
	return nil
}

func checkSize(width, height int) error {
	if width <= minDimension || height <= minDimension || width%2 != 0 || height%2 != 0 {
		return ErrIncorrectSize
	}
	return nil
}

func (e *Engine) requireExisting(ctx context.Context, id uuid.UUID) error {
	has, err := e.store.Has(ctx, id)
	if err != nil {
		return fmt.Errorf("check status: %w", err)
	}
	if !has {
		return ErrNonExistentID
	}
	return nil
}
