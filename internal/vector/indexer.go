// Package vector embeds chunk text and writes it to the named vector index.
package vector

import (
	"context"
	"fmt"

	"paperdigest/internal/models"
	"paperdigest/internal/providers"
	"paperdigest/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const OpEmbedChunks = "embed_chunks"

type Embedder interface {
	Embed(ctx context.Context, operation string, inputs []string) ([][]float32, providers.ProviderInfo, error)
}

type ChunkWriter interface {
	WriteChunks(ctx context.Context, index string, recs []models.VectorRecord) error
}

type Options struct {
	Index       string
	BatchSize   int
	Concurrency int
}

type Indexer struct {
	embedder Embedder
	writer   ChunkWriter
	opts     Options
	log      *zap.Logger
}

func NewIndexer(embedder Embedder, writer ChunkWriter, opts Options, log *zap.Logger) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{embedder: embedder, writer: writer, opts: opts, log: log}
}

func (ix *Indexer) IndexName() string {
	return ix.opts.Index
}

// Index embeds every chunk and upserts them in one write. It returns the
// number of records written.
func (ix *Indexer) Index(ctx context.Context, paper models.PaperRecord, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	vecs := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for start := 0; start < len(chunks); start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, len(chunks))
		g.Go(func() error {
			inputs := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				inputs = append(inputs, c.Text)
			}
			out, info, err := ix.embedder.Embed(gctx, OpEmbedChunks, inputs)
			if err != nil {
				return fmt.Errorf("%w: embed chunks %d-%d: %w", util.ErrModel, start, end-1, err)
			}
			if len(out) != len(inputs) {
				return fmt.Errorf("%w: %s returned %d vectors for %d inputs", util.ErrModel, info.Name, len(out), len(inputs))
			}
			copy(vecs[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	dim := len(vecs[0])
	recs := make([]models.VectorRecord, len(chunks))
	for i, c := range chunks {
		if len(vecs[i]) == 0 || len(vecs[i]) != dim {
			return 0, fmt.Errorf("%w: chunk %d embedding has dimension %d, want %d", util.ErrModel, c.Index, len(vecs[i]), dim)
		}
		recs[i] = models.VectorRecord{
			ChunkID:   util.ChunkID(paper.PaperID, c.Index, c.Text),
			PaperID:   paper.PaperID,
			Index:     c.Index,
			Page:      c.Page,
			Text:      c.Text,
			Embedding: vecs[i],
		}
	}
	if err := ix.writer.WriteChunks(ctx, ix.opts.Index, recs); err != nil {
		return 0, fmt.Errorf("%w: write %d chunks to %s: %w", util.ErrStore, len(recs), ix.opts.Index, err)
	}
	ix.log.Debug("chunks indexed",
		zap.String("paper_id", paper.PaperID),
		zap.String("index", ix.opts.Index),
		zap.Int("chunks", len(recs)),
		zap.Int("dim", dim))
	return len(recs), nil
}
