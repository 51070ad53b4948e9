package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paperdigest/internal/models"
	"paperdigest/internal/util"

	"github.com/jackc/pgx/v5"
)

const statusColumns = `paper_id, source_id, title, status, questions, COALESCE(ingested_at,''), chunk_count,
       COALESCE(fail_reason,''), COALESCE(correlation_id,''), updated_at`

type StatusRepo struct {
	db *DB
}

func NewStatusRepo(db *DB) *StatusRepo {
	return &StatusRepo{db: db}
}

func (r *StatusRepo) Exists(ctx context.Context, paperID string) (bool, error) {
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM paper_status WHERE paper_id=$1)`, paperID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check status exists: %w", err)
	}
	return ok, nil
}

func (r *StatusRepo) Get(ctx context.Context, paperID string) (models.IngestionStatus, error) {
	rec, err := scanStatus(r.db.Pool.QueryRow(ctx, `SELECT `+statusColumns+` FROM paper_status WHERE paper_id=$1`, paperID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.IngestionStatus{}, fmt.Errorf("get status %s: %w", paperID, util.ErrStatusRecordNotFound)
	}
	if err != nil {
		return models.IngestionStatus{}, fmt.Errorf("get status %s: %w", paperID, err)
	}
	return rec, nil
}

func (r *StatusRepo) Store(ctx context.Context, rec models.IngestionStatus) error {
	q, err := encodeQuestions(rec.Questions)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO paper_status (paper_id, source_id, title, status, questions, ingested_at, chunk_count, fail_reason, correlation_id)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, NULLIF($8,''), NULLIF($9,''))
ON CONFLICT (paper_id)
DO UPDATE SET
  source_id = EXCLUDED.source_id,
  title = EXCLUDED.title,
  status = EXCLUDED.status,
  questions = EXCLUDED.questions,
  ingested_at = EXCLUDED.ingested_at,
  chunk_count = EXCLUDED.chunk_count,
  fail_reason = EXCLUDED.fail_reason,
  correlation_id = EXCLUDED.correlation_id,
  updated_at = NOW()`,
		rec.PaperID, rec.SourceID, rec.Title, string(rec.Status), q, rec.IngestedAt, rec.ChunkCount, rec.FailReason, rec.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("store status: %w", err)
	}
	return nil
}

func (r *StatusRepo) Claim(ctx context.Context, rec models.IngestionStatus) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
INSERT INTO paper_status (paper_id, source_id, title, status, correlation_id)
VALUES ($1, $2, $3, 'NEW', NULLIF($4,''))
ON CONFLICT (paper_id) DO NOTHING`,
		rec.PaperID, rec.SourceID, rec.Title, rec.CorrelationID,
	)
	if err != nil {
		return false, fmt.Errorf("claim status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *StatusRepo) Reclaim(ctx context.Context, paperID, correlationID string, staleBefore time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE paper_status SET status='NEW', fail_reason=NULL, correlation_id=NULLIF($2,''), updated_at=NOW()
WHERE paper_id=$1 AND (status='FAILED' OR (status='NEW' AND updated_at < $3))`, paperID, correlationID, staleBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("reclaim status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *StatusRepo) RecordFailure(ctx context.Context, rec models.IngestionStatus) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO paper_status (paper_id, source_id, title, status, fail_reason, correlation_id)
VALUES ($1, $2, $3, 'FAILED', NULLIF($4,''), NULLIF($5,''))
ON CONFLICT (paper_id)
DO UPDATE SET
  status = 'FAILED',
  fail_reason = EXCLUDED.fail_reason,
  correlation_id = EXCLUDED.correlation_id,
  updated_at = NOW()
WHERE paper_status.status NOT IN ('INGESTED', 'GENERATED')`,
		rec.PaperID, rec.SourceID, rec.Title, rec.FailReason, rec.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (r *StatusRepo) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.IngestionStatus, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+statusColumns+`
FROM paper_status
WHERE status=$1
ORDER BY updated_at DESC
LIMIT NULLIF($2, 0)`, string(status), max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	out := make([]models.IngestionStatus, 0)
	for rows.Next() {
		rec, err := scanStatus(rows)
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

func scanStatus(row pgx.Row) (models.IngestionStatus, error) {
	var (
		rec    models.IngestionStatus
		status string
		q      []byte
	)
	if err := row.Scan(&rec.PaperID, &rec.SourceID, &rec.Title, &status, &q, &rec.IngestedAt, &rec.ChunkCount, &rec.FailReason, &rec.CorrelationID, &rec.UpdatedAt); err != nil {
		return models.IngestionStatus{}, err
	}
	return finishStatus(rec, status, q)
}

func finishStatus(rec models.IngestionStatus, status string, questions []byte) (models.IngestionStatus, error) {
	st, err := models.ParseStatus(status)
	if err != nil {
		return models.IngestionStatus{}, err
	}
	rec.Status = st
	rec.Questions = []string{}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &rec.Questions); err != nil {
			return models.IngestionStatus{}, fmt.Errorf("decode questions: %w", err)
		}
	}
	return rec, nil
}

func encodeQuestions(q []string) (string, error) {
	if q == nil {
		q = []string{}
	}
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode questions: %w", err)
	}
	return string(b), nil
}

var _ StatusStore = (*StatusRepo)(nil)
