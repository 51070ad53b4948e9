// Package questions derives the five ordered reader questions for a paper.
package questions

import (
	"context"
	"fmt"
	"strings"

	"paperdigest/internal/models"
	"paperdigest/internal/providers"
	"paperdigest/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	OpChunkQuestion = "chunk_question"
	OpConsolidate   = "consolidate_questions"

	// Delimiter separates the consolidated questions in the model output.
	Delimiter = "||"
	Count     = 5
)

const chunkSystemPrompt = "You are a helpful research assistant. Read the context and write one clear, insightful question that a curious reader would ask about its key information. " +
	"Answer with the question only, as plain text without markdown, numbering or quotes."

const consolidateSystemPrompt = "You are a helpful research assistant. From the list of questions, write 5 short and simple questions that together explain the topic like an article: " +
	"start with an introduction, move to the detailed aspects, and finish with a conclusion. Each question must be plain text without markdown or numbering."

// ChatModel is the subset of the provider manager the synthesizer needs.
type ChatModel interface {
	Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, providers.ProviderInfo, error)
}

type Synthesizer struct {
	model       ChatModel
	concurrency int
	log         *zap.Logger
}

func New(model ChatModel, concurrency int, log *zap.Logger) *Synthesizer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{model: model, concurrency: concurrency, log: log}
}

// Synthesize runs both phases and returns exactly Count questions.
func (s *Synthesizer) Synthesize(ctx context.Context, chunks []models.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %w", util.ErrExtraction, util.ErrNoChunks)
	}
	perChunk, err := s.ChunkQuestions(ctx, chunks)
	if err != nil {
		return nil, err
	}
	return s.Consolidate(ctx, perChunk)
}

// ChunkQuestions asks one question per chunk. Order follows the chunks.
func (s *Synthesizer) ChunkQuestions(ctx context.Context, chunks []models.Chunk) ([]string, error) {
	out := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ch := range chunks {
		g.Go(func() error {
			resp, _, err := s.model.Chat(gctx, providers.ChatRequest{
				Operation: OpChunkQuestion,
				Messages: []providers.Message{
					providers.System(chunkSystemPrompt),
					providers.User("Context:\n" + ch.Text + "\n\nWrite one relevant question about the context above."),
				},
			})
			if err != nil {
				return fmt.Errorf("%w: chunk %d question: %w", util.ErrModel, ch.Index, err)
			}
			q := strings.TrimSpace(resp.Text)
			if q == "" {
				return fmt.Errorf("%w: chunk %d question is empty", util.ErrModel, ch.Index)
			}
			out[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.log.Debug("chunk questions ready", zap.Int("count", len(out)))
	return out, nil
}

// Consolidate reduces the per-chunk questions to the final ordered set.
func (s *Synthesizer) Consolidate(ctx context.Context, perChunk []string) ([]string, error) {
	if len(perChunk) == 0 {
		return nil, fmt.Errorf("%w: %w", util.ErrExtraction, util.ErrNoChunks)
	}
	var b strings.Builder
	b.WriteString("Questions:\n")
	for _, q := range perChunk {
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nWrite %d logically ordered questions (introduction, details, conclusion) based on the questions above. "+
		"Return only the questions as text separated by the %q symbol.", Count, Delimiter)

	resp, _, err := s.model.Chat(ctx, providers.ChatRequest{
		Operation: OpConsolidate,
		Messages: []providers.Message{
			providers.System(consolidateSystemPrompt),
			providers.User(b.String()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: consolidate questions: %w", util.ErrModel, err)
	}
	return ParseConsolidated(resp.Text)
}

// ParseConsolidated splits model output on Delimiter. Blank items are
// dropped. Anything other than exactly Count questions is a model error.
func ParseConsolidated(text string) ([]string, error) {
	parts := strings.Split(stripCodeFence(strings.TrimSpace(text)), Delimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) != Count {
		return nil, fmt.Errorf("%w: %w: want %d questions separated by %q, got %d", util.ErrModel, util.ErrMalformedQuestions, Count, Delimiter, len(out))
	}
	return out, nil
}

func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```text")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
