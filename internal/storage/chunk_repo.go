package storage

import (
	"context"
	"fmt"

	"paperdigest/internal/models"

	"github.com/pgvector/pgvector-go"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// WriteChunks upserts by chunk id, so writing the same paper twice leaves one
// row per chunk.
func (r *ChunkRepo) WriteChunks(ctx context.Context, index string, recs []models.VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx write chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range recs {
		_, err := tx.Exec(ctx, `
INSERT INTO paper_chunks (chunk_id, index_name, paper_id, chunk_index, page, text, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (chunk_id)
DO UPDATE SET
  index_name = EXCLUDED.index_name,
  text = EXCLUDED.text,
  embedding = EXCLUDED.embedding`,
			c.ChunkID, index, c.PaperID, c.Index, c.Page, c.Text, pgvector.NewVector(c.Embedding),
		)
		if err != nil {
			return fmt.Errorf("write chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

var _ ChunkWriter = (*ChunkRepo)(nil)
