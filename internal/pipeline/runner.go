// Package pipeline runs the per-date ingestion cycle: discover, resolve,
// dedup, download, extract, chunk, synthesize, index and record status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paperdigest/internal/arxiv"
	"paperdigest/internal/models"
	"paperdigest/internal/providers"
	"paperdigest/internal/storage"
	"paperdigest/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Feed interface {
	Candidates(ctx context.Context, q models.FeedQuery) ([]models.Candidate, error)
}

type Resolver interface {
	Resolve(ctx context.Context, upstreamID string) (models.PaperRecord, error)
}

type PDFFetcher interface {
	FetchPDF(ctx context.Context, url string) ([]byte, error)
}

type Extractor interface {
	Pages(content []byte) []models.Page
}

type Chunker interface {
	Split(pages []models.Page) []models.Chunk
}

type Synthesizer interface {
	Synthesize(ctx context.Context, chunks []models.Chunk) ([]string, error)
}

type Indexer interface {
	Index(ctx context.Context, paper models.PaperRecord, chunks []models.Chunk) (int, error)
}

type Archiver interface {
	Archive(ctx context.Context, paperID string, pdf []byte) (string, error)
}

// Deps are the stage implementations. Archiver is optional.
type Deps struct {
	Feed        Feed
	Resolver    Resolver
	Fetcher     PDFFetcher
	Extractor   Extractor
	Chunker     Chunker
	Synthesizer Synthesizer
	Indexer     Indexer
	Status      storage.StatusStore
	Archiver    Archiver
	Logger      *zap.Logger
	Now         func() time.Time
}

type Settings struct {
	FeedURL      string
	DownloadDir  string
	Workers      int
	PaperTimeout time.Duration
}

// RunOptions override Settings for one cycle. Zero values fall back.
type RunOptions struct {
	Date        time.Time
	FeedURL     string
	DownloadDir string
}

type Result string

const (
	ResultIngested Result = "ingested"
	ResultSkipped  Result = "skipped"
	ResultFailed   Result = "failed"
)

type Outcome struct {
	UpstreamID    string   `json:"upstream_id"`
	PaperID       string   `json:"paper_id,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	Result        Result   `json:"result"`
	Chunks        int      `json:"chunks,omitempty"`
	Questions     []string `json:"questions,omitempty"`
	ErrorKind     string   `json:"error_kind,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type Summary struct {
	CycleID    string    `json:"cycle_id"`
	Date       string    `json:"date"`
	Discovered int       `json:"discovered"`
	Skipped    int       `json:"skipped"`
	Ingested   int       `json:"ingested"`
	Failed     int       `json:"failed"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Add appends o and updates the counters.
func (s *Summary) Add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Result {
	case ResultIngested:
		s.Ingested++
	case ResultSkipped:
		s.Skipped++
	case ResultFailed:
		s.Failed++
	}
}

type Runner struct {
	deps     Deps
	settings Settings
	log      *zap.Logger
	now      func() time.Time
}

func NewRunner(deps Deps, settings Settings) *Runner {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	return &Runner{deps: deps, settings: settings, log: log, now: now}
}

// Normalize fills unset options from the runner settings.
func (r *Runner) Normalize(opts RunOptions) RunOptions {
	if opts.Date.IsZero() {
		opts.Date = r.now()
	}
	if opts.FeedURL == "" {
		opts.FeedURL = r.settings.FeedURL
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = r.settings.DownloadDir
	}
	return opts
}

// Candidates lists the feed entries for opts.Date.
func (r *Runner) Candidates(ctx context.Context, opts RunOptions) ([]models.Candidate, error) {
	opts = r.Normalize(opts)
	cands, err := r.deps.Feed.Candidates(ctx, models.FeedQuery{Date: opts.Date, URL: opts.FeedURL})
	if err != nil {
		return nil, fmt.Errorf("%w: list candidates for %s: %w", util.ErrFeed, opts.Date.Format(models.DateLayout), err)
	}
	return cands, nil
}

// RunCycle processes every candidate of the date and returns once all are
// done. A feed failure or a cancelled ctx is returned as an error; per-paper
// failures are recorded in the summary.
func (r *Runner) RunCycle(ctx context.Context, opts RunOptions) (Summary, error) {
	opts = r.Normalize(opts)
	sum := Summary{CycleID: uuid.NewString(), Date: opts.Date.Format(models.DateLayout)}
	log := r.log.With(zap.String("cycle_id", sum.CycleID), zap.String("date", sum.Date))
	log.Info("cycle started", zap.Int("workers", r.settings.Workers))

	cands, err := r.Candidates(ctx, opts)
	if err != nil {
		log.Error("cycle aborted", zap.String("error_kind", util.KindName(err)), zap.Error(err))
		return sum, err
	}
	sum.Discovered = len(cands)

	// A cancelled cycle stops taking candidates; the ones never started keep
	// no outcome and are picked up by the next cycle.
	outcomes := make([]Outcome, len(cands))
	if r.settings.Workers == 1 {
		for i, c := range cands {
			if ctx.Err() != nil {
				break
			}
			outcomes[i] = r.processCandidate(ctx, c, opts, r.recordGate, log)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.settings.Workers)
		for i, c := range cands {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				outcomes[i] = r.processCandidate(ctx, c, opts, r.claimGate, log)
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, o := range outcomes {
		if o.Result != "" {
			sum.Add(o)
		}
	}
	if err := ctx.Err(); err != nil {
		log.Warn("cycle interrupted",
			zap.Int("processed", len(sum.Outcomes)),
			zap.Int("discovered", sum.Discovered))
		return sum, fmt.Errorf("cycle interrupted after %d of %d candidates: %w", len(sum.Outcomes), sum.Discovered, err)
	}

	log.Info("cycle finished",
		zap.Int("discovered", sum.Discovered),
		zap.Int("ingested", sum.Ingested),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// ProcessCandidate runs one candidate through the pipeline behind the atomic
// claim gate. Callers such as workflow activities may run in several
// processes at once, so the sequential record check is not enough here.
func (r *Runner) ProcessCandidate(ctx context.Context, c models.Candidate, opts RunOptions) Outcome {
	return r.processCandidate(ctx, c, r.Normalize(opts), r.claimGate, r.log)
}

// RetryFailed reprocesses up to limit FAILED records, bypassing the dedup gate.
func (r *Runner) RetryFailed(ctx context.Context, opts RunOptions, limit int) (Summary, error) {
	opts = r.Normalize(opts)
	sum := Summary{CycleID: uuid.NewString(), Date: opts.Date.Format(models.DateLayout)}
	log := r.log.With(zap.String("cycle_id", sum.CycleID), zap.Bool("retry", true))

	failed, err := r.deps.Status.ListByStatus(ctx, models.StatusFailed, limit)
	if err != nil {
		return sum, fmt.Errorf("%w: list failed papers: %w", util.ErrStore, err)
	}
	sum.Discovered = len(failed)
	log.Info("retry started", zap.Int("failed", len(failed)))

	for _, rec := range failed {
		if ctx.Err() != nil {
			break
		}
		sum.Add(r.retryPaper(ctx, rec, opts, log))
	}
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("retry interrupted after %d of %d papers: %w", len(sum.Outcomes), sum.Discovered, err)
	}

	log.Info("retry finished",
		zap.Int("ingested", sum.Ingested),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// RetryPaper reprocesses one FAILED record. A record that is no longer
// FAILED is skipped.
func (r *Runner) RetryPaper(ctx context.Context, rec models.IngestionStatus, opts RunOptions) Outcome {
	return r.retryPaper(ctx, rec, r.Normalize(opts), r.log.With(zap.Bool("retry", true)))
}

func (r *Runner) retryPaper(ctx context.Context, rec models.IngestionStatus, opts RunOptions, log *zap.Logger) Outcome {
	if !rec.Status.Retryable() {
		reason := "record is not retryable"
		if rec.Status.Completed() {
			reason = "record already completed"
		}
		return Outcome{UpstreamID: rec.PaperID, PaperID: rec.PaperID, Result: ResultSkipped, Error: reason}
	}
	sourceID, ok := arxiv.SourceID(rec.PaperID)
	if !ok {
		return Outcome{
			UpstreamID: rec.PaperID,
			PaperID:    rec.PaperID,
			Result:     ResultSkipped,
			Error:      "paper id has no known source",
		}
	}
	return r.processCandidate(ctx, models.Candidate{UpstreamID: sourceID, Title: rec.Title}, opts, r.reclaimGate, log)
}

// gate decides whether a resolved paper proceeds past the dedup check.
type gate func(ctx context.Context, paper models.PaperRecord, correlationID string) (bool, error)

// recordGate is the sequential gate: no record, or a record whose status is
// retryable, lets the paper through. Completed records are skipped, and a NEW
// record only passes when its claim has gone stale.
func (r *Runner) recordGate(ctx context.Context, paper models.PaperRecord, correlationID string) (bool, error) {
	rec, err := r.deps.Status.Get(ctx, paper.PaperID)
	if errors.Is(err, util.ErrStatusRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Status == models.StatusNew {
		return r.reclaimGate(ctx, paper, correlationID)
	}
	return rec.Status.Retryable(), nil
}

// claimGate inserts a NEW record if none exists. A FAILED record, or a NEW
// one abandoned for longer than twice the paper deadline, is taken over with
// Reclaim instead.
func (r *Runner) claimGate(ctx context.Context, paper models.PaperRecord, correlationID string) (bool, error) {
	ok, err := r.deps.Status.Claim(ctx, models.IngestionStatus{
		PaperID:       paper.PaperID,
		SourceID:      paper.SourceID,
		Title:         paper.Title,
		CorrelationID: correlationID,
	})
	if err != nil || ok {
		return ok, err
	}
	return r.reclaimGate(ctx, paper, correlationID)
}

func (r *Runner) reclaimGate(ctx context.Context, paper models.PaperRecord, correlationID string) (bool, error) {
	var staleBefore time.Time
	if r.settings.PaperTimeout > 0 {
		staleBefore = time.Now().Add(-2 * r.settings.PaperTimeout)
	}
	return r.deps.Status.Reclaim(ctx, paper.PaperID, correlationID, staleBefore)
}

func (r *Runner) processCandidate(ctx context.Context, c models.Candidate, opts RunOptions, pass gate, cycleLog *zap.Logger) (out Outcome) {
	out = Outcome{
		UpstreamID:    c.UpstreamID,
		PaperID:       arxiv.PaperID(c.UpstreamID),
		CorrelationID: uuid.NewString(),
	}
	log := cycleLog.With(zap.String("correlation_id", out.CorrelationID), zap.String("upstream_id", c.UpstreamID))

	parent := ctx
	if r.settings.PaperTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.PaperTimeout)
		defer cancel()
	}
	paper := models.PaperRecord{PaperID: out.PaperID, SourceID: c.UpstreamID, Title: c.Title}

	defer func() {
		if rec := recover(); rec != nil {
			out = r.fail(parent, out, paper, fmt.Errorf("panic while processing: %v", rec), log)
		}
	}()

	resolved, err := r.deps.Resolver.Resolve(ctx, c.UpstreamID)
	if err != nil {
		return r.fail(parent, out, paper, fmt.Errorf("%w: resolve %s: %w", util.ErrFeed, c.UpstreamID, err), log)
	}
	paper = resolved
	if paper.DiscoveredOn == "" {
		paper.DiscoveredOn = opts.Date.Format(models.DateLayout)
	}
	out.PaperID = paper.PaperID
	log = log.With(zap.String("paper_id", paper.PaperID))
	ctx = providers.WithPaperID(ctx, paper.PaperID)

	proceed, err := pass(ctx, paper, out.CorrelationID)
	if err != nil {
		return r.fail(parent, out, paper, fmt.Errorf("%w: dedup check: %w", util.ErrStore, err), log)
	}
	if !proceed {
		log.Info("paper skipped, status record exists or is claimed")
		out.Result = ResultSkipped
		return out
	}

	chunks, questions, err := r.ingest(ctx, paper, opts, out.CorrelationID, log)
	if err != nil {
		return r.fail(parent, out, paper, err, log)
	}
	out.Result = ResultIngested
	out.Chunks = chunks
	out.Questions = questions
	log.Info("paper ingested", zap.Int("chunks", chunks), zap.Int("questions", len(questions)))
	return out
}

// ingest runs the stages after the gate. The index write precedes the status
// write, so a completed status always has its chunks indexed.
func (r *Runner) ingest(ctx context.Context, paper models.PaperRecord, opts RunOptions, correlationID string, log *zap.Logger) (int, []string, error) {
	pdf, err := r.deps.Fetcher.FetchPDF(ctx, paper.PDFURL)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: download %s: %w", util.ErrFetch, paper.PDFURL, err)
	}
	path := util.SafeJoin(opts.DownloadDir, paper.PaperID+".pdf")
	if err := util.WriteFileAtomic(path, pdf); err != nil {
		return 0, nil, fmt.Errorf("%w: save pdf: %w", util.ErrFetch, err)
	}
	log.Debug("pdf saved", zap.String("path", path), zap.Int("bytes", len(pdf)))

	if r.deps.Archiver != nil {
		if loc, err := r.deps.Archiver.Archive(ctx, paper.PaperID, pdf); err != nil {
			log.Warn("pdf archive failed", zap.Error(err))
		} else {
			log.Debug("pdf archived", zap.String("location", loc))
		}
	}

	pages := r.deps.Extractor.Pages(pdf)
	chunks := r.deps.Chunker.Split(pages)
	if len(chunks) == 0 {
		return 0, nil, fmt.Errorf("%w: %w", util.ErrExtraction, util.ErrNoExtractableText)
	}
	log.Debug("pdf chunked", zap.Int("pages", len(pages)), zap.Int("chunks", len(chunks)))

	questions, err := r.deps.Synthesizer.Synthesize(ctx, chunks)
	if err != nil {
		return 0, nil, fmt.Errorf("synthesize questions: %w", err)
	}

	n, err := r.deps.Indexer.Index(ctx, paper, chunks)
	if err != nil {
		return 0, nil, fmt.Errorf("index chunks: %w", err)
	}

	err = r.deps.Status.Store(ctx, models.IngestionStatus{
		PaperID:       paper.PaperID,
		SourceID:      paper.SourceID,
		Title:         paper.Title,
		Status:        models.StatusIngested,
		Questions:     questions,
		IngestedAt:    r.now().Format(models.DateLayout),
		ChunkCount:    n,
		CorrelationID: correlationID,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("%w: store status: %w", util.ErrStore, err)
	}
	return n, questions, nil
}

// fail logs err and records FAILED for the paper. The record is written on a
// context detached from the paper deadline, which may already have expired.
func (r *Runner) fail(parent context.Context, out Outcome, paper models.PaperRecord, err error, log *zap.Logger) Outcome {
	out.Result = ResultFailed
	out.ErrorKind = util.KindName(err)
	out.Error = err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		log = log.With(zap.Bool("deadline_exceeded", true))
	}
	log.Error("paper failed", zap.String("error_kind", out.ErrorKind), zap.Error(err))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer cancel()
	rerr := r.deps.Status.RecordFailure(ctx, models.IngestionStatus{
		PaperID:       paper.PaperID,
		SourceID:      paper.SourceID,
		Title:         paper.Title,
		FailReason:    truncate(out.ErrorKind+": "+err.Error(), 500),
		CorrelationID: out.CorrelationID,
	})
	if rerr != nil {
		log.Error("record failure", zap.Error(rerr))
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
