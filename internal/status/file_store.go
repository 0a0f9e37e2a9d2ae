package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	fileutil "vidstore/internal/file"

	"github.com/google/uuid"
)

// FileStore keeps one JSON document per record under <dataDir>/status.
type FileStore struct {
	mu      sync.Mutex
	dataDir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dataDir string) *FileStore {
	if dataDir == "" {
		dataDir = "data"
	}
	return &FileStore{dataDir: dataDir}
}

func (s *FileStore) statusDir() string {
	return filepath.Join(s.dataDir, "status")
}

func (s *FileStore) recordPath(id uuid.UUID) string {
	return filepath.Join(s.statusDir(), id.String()+".json")
}

func (s *FileStore) Create(_ context.Context, id uuid.UUID, filename string) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		ID:        id,
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fileutil.Exists(s.recordPath(id)) {
		return Record{}, fmt.Errorf("status %s already exists", id)
	}
	if err := fileutil.WriteJSONAtomic(s.recordPath(rec.ID), rec); err != nil {
		return Record{}, fmt.Errorf("save status: %w", err)
	}
	return rec, nil
}

func (s *FileStore) Get(_ context.Context, id uuid.UUID) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) Has(ctx context.Context, id uuid.UUID) (bool, error) {
	_, found, err := s.Get(ctx, id)
	return found, err
}

func (s *FileStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(rec *Record) { rec.LastSuccess = nil })
}

func (s *FileStore) SetLastSuccess(_ context.Context, id uuid.UUID, success bool) error {
	return s.update(id, func(rec *Record) { rec.LastSuccess = boolPtr(success) })
}

func (s *FileStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fileutil.RemoveIfExists(s.recordPath(id)) //nolint:wrapcheck
}

func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.statusDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		rec, found, err := s.read(id)
		if err != nil || !found {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (s *FileStore) Close() error { return nil }

// read expects s.mu to be held.
func (s *FileStore) read(id uuid.UUID) (Record, bool, error) {
	b, err := os.ReadFile(s.recordPath(id)) //nolint:gosec // path is built from a parsed uuid
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read status: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode status %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *FileStore) update(id uuid.UUID, mutate func(rec *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found, err := s.read(id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	mutate(&rec)
	rec.UpdatedAt = time.Now().UTC()
	if err := fileutil.WriteJSONAtomic(s.recordPath(id), rec); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}
