package status

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the durable status of one stored file.
type Record struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	// LastSuccess is nil until an operation finishes, and reset to nil when
	// the next one starts.
	LastSuccess *bool     `json:"last_success"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists status records keyed by file ID. IDs are chosen by the
// caller so the file can be marked busy before its record becomes visible.
//
// MarkProcessing and SetLastSuccess silently ignore unknown IDs: they are
// only called from operations that already validated the ID, and a purge may
// legitimately have removed the record while the operation was running.
type Store interface {
	Create(ctx context.Context, id uuid.UUID, filename string) (Record, error)
	Get(ctx context.Context, id uuid.UUID) (Record, bool, error)
	Has(ctx context.Context, id uuid.UUID) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetLastSuccess(ctx context.Context, id uuid.UUID, success bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

func boolPtr(b bool) *bool { return &b }
