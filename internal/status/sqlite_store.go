package status

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps status records in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens the database at path and applies pending migrations.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer at a time; readers queue behind it instead of hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, id uuid.UUID, filename string) (Record, error) {
	now := time.Now().UTC()
	rec := Record{ID: id, Filename: filename, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, filename, last_success, created_at, updated_at) VALUES (?, ?, NULL, ?, ?)`,
		rec.ID.String(), rec.Filename, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert file status: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, last_success, created_at, updated_at FROM files WHERE id = ?`, id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get file status: %w", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) Has(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM files WHERE id = ?`, id.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check file status: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET last_success = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetLastSuccess(ctx context.Context, id uuid.UUID, success bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET last_success = ?, updated_at = ? WHERE id = ?`,
		success, time.Now().UTC().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("set last success: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete file status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, last_success, created_at, updated_at FROM files ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list file statuses: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file status: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file statuses: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close() //nolint:wrapcheck
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rawID              string
		rec                Record
		lastSuccess        sql.NullBool
		createdAt, updated int64
	)
	if err := sc.Scan(&rawID, &rec.Filename, &lastSuccess, &createdAt, &updated); err != nil {
		return Record{}, err //nolint:wrapcheck
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Record{}, fmt.Errorf("parse id %q: %w", rawID, err)
	}
	rec.ID = id
	if lastSuccess.Valid {
		rec.LastSuccess = boolPtr(lastSuccess.Bool)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}
