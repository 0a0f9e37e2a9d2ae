package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fileutil "vidstore/internal/file"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Recover reconciles storage after a restart. Records left without an outcome
// belonged to operations that died with the previous process and are marked
// failed. Leftover temp files and bytes of already purged files are removed.
func (e *Engine) Recover(ctx context.Context) error {
	records, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load statuses: %w", err)
	}
	known := make(map[uuid.UUID]struct{}, len(records))
	for _, rec := range records {
		known[rec.ID] = struct{}{}
		if rec.LastSuccess != nil || e.registry.IsBusy(rec.ID) {
			continue
		}
		if err := e.store.SetLastSuccess(ctx, rec.ID, false); err != nil {
			log.Warn().Str("file_id", rec.ID.String()).Err(err).Msg("mark interrupted operation failed")
			continue
		}
		log.Info().Str("file_id", rec.ID.String()).Msg("interrupted operation marked failed")
	}

	sweep(e.tempDir(), func(uuid.UUID) bool { return true })
	sweep(filepath.Join(e.dataDir, "videos"), func(id uuid.UUID) bool {
		_, ok := known[id]
		return !ok
	})
	return nil
}

// sweep deletes files named <uuid>.mp4 in dir for which remove returns true.
func sweep(dir string, remove func(uuid.UUID) bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("dir", dir).Err(err).Msg("scan for leftovers failed")
		}
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".tmp-") {
			_ = fileutil.RemoveIfExists(filepath.Join(dir, name))
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, storedExtension))
		if err != nil || !remove(id) {
			continue
		}
		if err := fileutil.RemoveIfExists(filepath.Join(dir, name)); err != nil {
			log.Warn().Str("path", name).Err(err).Msg("remove leftover failed")
		}
	}
}
