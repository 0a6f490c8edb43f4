//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"cgae/internal/model"

	_ "modernc.org/sqlite"
)

func DefaultStoreKind() string {
	return "sqlite"
}

func newSQLiteStore(path string, compress bool) (Store, error) {
	store := NewSQLiteStore(path)
	store.Compress = compress
	return store, nil
}

// SQLiteStore keeps one row per run and one row per (run, epoch) summary.
// Each row records whether its payload is compressed, so stores written with
// either setting stay readable.
type SQLiteStore struct {
	path     string
	Compress bool

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := Codec{Compress: s.Compress}.EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, schema_version, codec_version, created_at, compressed, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			created_at = excluded.created_at,
			compressed = excluded.compressed,
			payload = excluded.payload
	`, run.ID, run.SchemaVersion, run.CodecVersion, run.CreatedAt.UnixNano(), s.Compress, payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	var (
		payload    []byte
		compressed bool
	)
	err = db.QueryRowContext(ctx, `SELECT payload, compressed FROM runs WHERE id = ?`, id).Scan(&payload, &compressed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	run, err := Codec{Compress: compressed}.DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload, compressed FROM runs ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var (
			id         string
			payload    []byte
			compressed bool
		)
		if err := rows.Scan(&id, &payload, &compressed); err != nil {
			return nil, err
		}
		run, err := Codec{Compress: compressed}.DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		out = append(out, run.Summary())
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveEpochSummary(ctx context.Context, runID string, summary model.EpochSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := Codec{Compress: s.Compress}.EncodeEpochSummary(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO epoch_summaries (run_id, epoch, compressed, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, epoch) DO UPDATE SET
			compressed = excluded.compressed,
			payload = excluded.payload
	`, runID, summary.Epoch, s.Compress, payload)
	return err
}

func (s *SQLiteStore) ListEpochSummaries(ctx context.Context, runID string) ([]model.EpochSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT epoch, payload, compressed FROM epoch_summaries WHERE run_id = ? ORDER BY epoch ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.EpochSummary{}
	for rows.Next() {
		var (
			epoch      int
			payload    []byte
			compressed bool
		)
		if err := rows.Scan(&epoch, &payload, &compressed); err != nil {
			return nil, err
		}
		summary, err := Codec{Compress: compressed}.DecodeEpochSummary(payload)
		if err != nil {
			return nil, fmt.Errorf("decode summary %s/%d: %w", runID, epoch, err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			compressed INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS epoch_summaries (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			compressed INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);
	`)
	return err
}
