package storage

import (
	"context"
	"embed"
	"fmt"
	"time"

	"paperdigest/internal/config"
	"paperdigest/internal/models"
	"paperdigest/internal/providers"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// StatusStore keeps one IngestionStatus per paper id.
type StatusStore interface {
	Exists(ctx context.Context, paperID string) (bool, error)
	// Get returns util.ErrStatusRecordNotFound when no record exists.
	Get(ctx context.Context, paperID string) (models.IngestionStatus, error)
	// Store creates or overwrites the record.
	Store(ctx context.Context, rec models.IngestionStatus) error
	// Claim inserts rec as NEW only if no record exists and reports whether it did.
	Claim(ctx context.Context, rec models.IngestionStatus) (bool, error)
	// Reclaim moves a FAILED record, or a NEW record last updated before
	// staleBefore, to NEW under correlationID and reports whether it did.
	Reclaim(ctx context.Context, paperID, correlationID string, staleBefore time.Time) (bool, error)
	// RecordFailure writes FAILED unless the record is already INGESTED or GENERATED.
	RecordFailure(ctx context.Context, rec models.IngestionStatus) error
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.IngestionStatus, error)
}

// ChunkWriter upserts embedded chunks into a named index.
type ChunkWriter interface {
	WriteChunks(ctx context.Context, index string, recs []models.VectorRecord) error
}

// Backend bundles the persistence the pipeline and API need.
type Backend struct {
	Status StatusStore
	Chunks ChunkWriter
	Audit  providers.CallRecorder
	close  func()
}

func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// Open selects the backend named by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Status: NewStatusRepo(db),
			Chunks: NewChunkRepo(db),
			Audit:  NewLLMAuditRepo(db),
			close:  db.Close,
		}, nil
	case "sqlite":
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Status: s,
			Chunks: s,
			Audit:  s,
			close:  func() { _ = s.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
