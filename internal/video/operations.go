package video

import (
	"context"
	"fmt"
	"io"
	"time"

	fileutil "vidstore/internal/file"
	"vidstore/internal/registry"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ingest registers a new file and copies src into storage in the background.
// The returned handle completes once the copy has finished and its outcome
// has been recorded. If src is an io.Closer it is closed after the copy.
func (e *Engine) Ingest(ctx context.Context, filename string, src io.Reader) (uuid.UUID, *registry.Handle, error) {
	if err := e.checkFormat(filename); err != nil {
		return uuid.Nil, nil, err
	}
	id := uuid.New()
	// busy before the record exists, so the new id is never seen idle
	handle, ok := e.registry.TryBegin(id)
	if !ok {
		return uuid.Nil, nil, fmt.Errorf("register %s: %w", id, ErrProcessing)
	}
	rec, err := e.store.Create(ctx, id, filename)
	if err != nil {
		e.registry.End(id, handle, false)
		return uuid.Nil, nil, fmt.Errorf("create status: %w", err)
	}
	e.metrics.OperationStarted(opIngest)
	log.Info().Str("file_id", rec.ID.String()).Str("filename", filename).Msg("upload accepted")

	e.registry.Go(func() {
		started := time.Now()
		written, err := fileutil.CopyAtomic(e.videoPath(rec.ID), src)
		if closer, ok := src.(io.Closer); ok {
			_ = closer.Close()
		}
		if err != nil {
			log.Error().Str("file_id", rec.ID.String()).Err(err).Msg("storing upload failed")
		} else {
			log.Info().Str("file_id", rec.ID.String()).Int64("bytes", written).Msg("upload stored")
		}
		e.finish(rec.ID, handle, opIngest, err == nil, started)
	})
	return rec.ID, handle, nil
}

// Transform resizes the stored file to width x height in the background.
// Only precondition failures are returned; an encoder failure shows up later
// as LastSuccess=false.
func (e *Engine) Transform(ctx context.Context, id uuid.UUID, width, height int) (*registry.Handle, error) {
	if err := e.requireExisting(ctx, id); err != nil {
		return nil, err
	}
	if err := checkSize(width, height); err != nil {
		return nil, err
	}
	handle, ok := e.registry.TryBegin(id)
	if !ok {
		return nil, ErrProcessing
	}
	if err := e.store.MarkProcessing(ctx, id); err != nil {
		e.registry.End(id, handle, false)
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	e.metrics.OperationStarted(opTransform)
	log.Info().Str("file_id", id.String()).Int("width", width).Int("height", height).Msg("resize started")

	e.registry.Go(func() {
		started := time.Now()
		err := e.resize(id, width, height)
		if err != nil {
			log.Error().Str("file_id", id.String()).Err(err).Msg("resize failed")
		} else {
			log.Info().Str("file_id", id.String()).Dur("took", time.Since(started)).Msg("resize finished")
		}
		e.finish(id, handle, opTransform, err == nil, started)
	})
	return handle, nil
}

func (e *Engine) resize(id uuid.UUID, width, height int) error {
	baseCtx := e.backgroundContext()
	if err := e.acquireTranscodeSlot(baseCtx); err != nil {
		return fmt.Errorf("wait for transcode slot: %w", err)
	}
	defer e.releaseTranscodeSlot()

	ctx, cancel := context.WithTimeout(baseCtx, e.transcodeTimeout)
	defer cancel()

	target := e.videoPath(id)
	temp := e.tempPath(id)
	defer func() {
		if err := fileutil.RemoveIfExists(temp); err != nil {
			log.Warn().Str("file_id", id.String()).Err(err).Msg("temp cleanup failed")
		}
	}()

	if !fileutil.Exists(target) {
		return fmt.Errorf("stored bytes for %s are missing", id)
	}
	if err := fileutil.EnsureDir(e.tempDir()); err != nil {
		return fmt.Errorf("prepare temp dir: %w", err)
	}
	if err := e.transcoder.Resize(ctx, target, temp, width, height); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	// a purge queued behind us deletes the bytes next; don't resurrect them
	if has, err := e.store.Has(ctx, id); err == nil && !has {
		return fmt.Errorf("file %s was removed during resize", id)
	}
	if err := fileutil.Replace(temp, target); err != nil {
		return fmt.Errorf("swap resized file: %w", err)
	}
	return nil
}

// Purge forgets the file right away and deletes its bytes in the background.
// When an operation is in flight the deletion waits for it to finish.
func (e *Engine) Purge(ctx context.Context, id uuid.UUID) (*registry.Handle, error) {
	if err := e.requireExisting(ctx, id); err != nil {
		return nil, err
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete status: %w", err)
	}
	queued := e.registry.IsBusy(id)
	e.metrics.OperationStarted(opPurge)
	log.Info().Str("file_id", id.String()).Bool("queued", queued).Msg("file removed")

	return e.registry.Chain(id, func() bool {
		started := time.Now()
		err := fileutil.RemoveIfExists(e.videoPath(id))
		if err != nil {
			log.Error().Str("file_id", id.String()).Err(err).Msg("deleting stored bytes failed")
		}
		e.metrics.OperationFinished(opPurge, err == nil, time.Since(started))
		return err == nil
	}), nil
}

// finish persists the outcome and only then releases the file, so a reader
// that sees Processing=false also sees the final LastSuccess.
func (e *Engine) finish(id uuid.UUID, handle *registry.Handle, op string, success bool, started time.Time) {
	if err := e.store.SetLastSuccess(context.Background(), id, success); err != nil {
		log.Warn().Str("file_id", id.String()).Str("op", op).Err(err).Msg("persist outcome failed")
	}
	e.metrics.OperationFinished(op, success, time.Since(started))
	e.registry.End(id, handle, success)
}
