package activities

import (
	"context"
	"fmt"
	"time"

	"paperdigest/internal/models"
	"paperdigest/internal/pipeline"
	"paperdigest/internal/storage"
	"paperdigest/internal/util"

	"go.temporal.io/sdk/activity"
)

// Activities expose the pipeline runner to Temporal workflows. Per-paper
// failures are recorded by the runner and reported in the outcome, so the
// paper activities only error on infrastructure problems.
type Activities struct {
	runner  *pipeline.Runner
	status  storage.StatusStore
	runsDir string
}

func New(runner *pipeline.Runner, status storage.StatusStore, runsDir string) *Activities {
	return &Activities{runner: runner, status: status, runsDir: runsDir}
}

func (a *Activities) DiscoverCandidatesActivity(ctx context.Context, in DiscoverCandidatesInput) (DiscoverCandidatesOutput, error) {
	date, err := parseDate(in.Date)
	if err != nil {
		return DiscoverCandidatesOutput{}, err
	}
	cands, err := a.runner.Candidates(ctx, pipeline.RunOptions{Date: date, FeedURL: in.FeedURL})
	if err != nil {
		return DiscoverCandidatesOutput{}, err
	}
	return DiscoverCandidatesOutput{Candidates: cands}, nil
}

func (a *Activities) ProcessPaperActivity(ctx context.Context, in ProcessPaperInput) (pipeline.Outcome, error) {
	date, err := parseDate(in.Date)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	activity.GetLogger(ctx).Info("processing candidate", "upstream_id", in.Candidate.UpstreamID)
	return a.runner.ProcessCandidate(ctx, in.Candidate, pipeline.RunOptions{Date: date, DownloadDir: in.DownloadDir}), nil
}

func (a *Activities) ListFailedPapersActivity(ctx context.Context, in ListFailedPapersInput) (ListFailedPapersOutput, error) {
	papers, err := a.status.ListByStatus(ctx, models.StatusFailed, in.Limit)
	if err != nil {
		return ListFailedPapersOutput{}, fmt.Errorf("list failed papers: %w", err)
	}
	return ListFailedPapersOutput{Papers: papers}, nil
}

func (a *Activities) RetryPaperActivity(ctx context.Context, in RetryPaperInput) (pipeline.Outcome, error) {
	return a.runner.RetryPaper(ctx, in.Paper, pipeline.RunOptions{DownloadDir: in.DownloadDir}), nil
}

// WriteCycleSummaryActivity keeps a JSON copy of each cycle summary on disk.
func (a *Activities) WriteCycleSummaryActivity(ctx context.Context, in WriteCycleSummaryInput) error {
	_ = ctx
	name := fmt.Sprintf("%s-%s.json", in.Summary.Date, in.Summary.CycleID)
	return util.WriteJSONAtomic(util.SafeJoin(a.runsDir, name), in.Summary)
}

// parseDate accepts YYYY-MM-DD. Empty means the zero time, which the runner
// resolves to today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
