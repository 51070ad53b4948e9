package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"paperdigest/internal/models"
	"paperdigest/internal/providers"
	"paperdigest/internal/util"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-file backend for local runs. It serves as status
// store, vector index and call audit at once.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations. ":memory:" opens an in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := util.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: in-memory databases are per connection and writers serialize anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	entries, err := migrationsFS.ReadDir("migrations/sqlite")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		version, err := migrationVersion(e.Name())
		if err != nil {
			return err
		}
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version WHERE version = ?`, version).Scan(&n); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if n > 0 {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/sqlite/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, version, now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// migrationVersion reads the numeric prefix of names like "001_init.sql".
func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s has no version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s: %w", name, err)
	}
	return v, nil
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func (s *SQLiteStore) Exists(ctx context.Context, paperID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paper_status WHERE paper_id = ?`, paperID).Scan(&n); err != nil {
		return false, fmt.Errorf("check status exists: %w", err)
	}
	return n > 0, nil
}

const sqliteStatusColumns = `paper_id, source_id, title, status, questions, ingested_at, chunk_count, fail_reason, correlation_id, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, paperID string) (models.IngestionStatus, error) {
	rec, err := scanSQLiteStatus(s.db.QueryRowContext(ctx, `SELECT `+sqliteStatusColumns+` FROM paper_status WHERE paper_id = ?`, paperID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.IngestionStatus{}, fmt.Errorf("get status %s: %w", paperID, util.ErrStatusRecordNotFound)
	}
	if err != nil {
		return models.IngestionStatus{}, fmt.Errorf("get status %s: %w", paperID, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Store(ctx context.Context, rec models.IngestionStatus) error {
	q, err := encodeQuestions(rec.Questions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO paper_status (paper_id, source_id, title, status, questions, ingested_at, chunk_count, fail_reason, correlation_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (paper_id) DO UPDATE SET
  source_id = excluded.source_id,
  title = excluded.title,
  status = excluded.status,
  questions = excluded.questions,
  ingested_at = excluded.ingested_at,
  chunk_count = excluded.chunk_count,
  fail_reason = excluded.fail_reason,
  correlation_id = excluded.correlation_id,
  updated_at = excluded.updated_at`,
		rec.PaperID, rec.SourceID, rec.Title, string(rec.Status), q, rec.IngestedAt, rec.ChunkCount, rec.FailReason, rec.CorrelationID, now(),
	)
	if err != nil {
		return fmt.Errorf("store status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Claim(ctx context.Context, rec models.IngestionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO paper_status (paper_id, source_id, title, status, correlation_id, updated_at)
VALUES (?, ?, ?, 'NEW', ?, ?)
ON CONFLICT (paper_id) DO NOTHING`,
		rec.PaperID, rec.SourceID, rec.Title, rec.CorrelationID, now(),
	)
	if err != nil {
		return false, fmt.Errorf("claim status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim status: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Reclaim(ctx context.Context, paperID, correlationID string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE paper_status SET status = 'NEW', fail_reason = '', correlation_id = ?, updated_at = ?
WHERE paper_id = ? AND (status = 'FAILED' OR (status = 'NEW' AND updated_at < ?))`,
		correlationID, now(), paperID, staleBefore.UTC().Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("reclaim status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaim status: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, rec models.IngestionStatus) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO paper_status (paper_id, source_id, title, status, fail_reason, correlation_id, updated_at)
VALUES (?, ?, ?, 'FAILED', ?, ?, ?)
ON CONFLICT (paper_id) DO UPDATE SET
  status = 'FAILED',
  fail_reason = excluded.fail_reason,
  correlation_id = excluded.correlation_id,
  updated_at = excluded.updated_at
WHERE paper_status.status NOT IN ('INGESTED', 'GENERATED')`,
		rec.PaperID, rec.SourceID, rec.Title, rec.FailReason, rec.CorrelationID, now(),
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.IngestionStatus, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteStatusColumns+`
FROM paper_status
WHERE status = ?
ORDER BY updated_at DESC
LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	out := make([]models.IngestionStatus, 0)
	for rows.Next() {
		rec, err := scanSQLiteStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteStatus(row rowScanner) (models.IngestionStatus, error) {
	var (
		rec       models.IngestionStatus
		status    string
		questions string
		updatedAt string
	)
	if err := row.Scan(&rec.PaperID, &rec.SourceID, &rec.Title, &status, &questions, &rec.IngestedAt, &rec.ChunkCount, &rec.FailReason, &rec.CorrelationID, &updatedAt); err != nil {
		return models.IngestionStatus{}, err
	}
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return finishStatus(rec, status, []byte(questions))
}

func (s *SQLiteStore) WriteChunks(ctx context.Context, index string, recs []models.VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx write chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range recs {
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding %s: %w", c.ChunkID, err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO paper_chunks (chunk_id, index_name, paper_id, chunk_index, page, text, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chunk_id) DO UPDATE SET
  index_name = excluded.index_name,
  text = excluded.text,
  embedding = excluded.embedding`,
			c.ChunkID, index, c.PaperID, c.Index, c.Page, c.Text, string(emb),
		)
		if err != nil {
			return fmt.Errorf("write chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordCall(ctx context.Context, rec providers.CallRecord) error {
	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO llm_calls (call_id, operation, paper_id, provider_name, model, status, error_type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Operation, rec.PaperID, rec.ProviderName, rec.Model, rec.Status, rec.ErrorType, now())
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

var _ StatusStore = (*SQLiteStore)(nil)
var _ ChunkWriter = (*SQLiteStore)(nil)
var _ providers.CallRecorder = (*SQLiteStore)(nil)
