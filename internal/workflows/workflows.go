package workflows

import (
	"time"

	"paperdigest/internal/activities"
	"paperdigest/internal/models"
	"paperdigest/internal/pipeline"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetProgress = "GetProgress"

// Papers run one at a time; the runner records failures itself, so the
// paper activity is never retried by Temporal.
var (
	discoverOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	paperOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
)

func (p *CycleProgress) record(out pipeline.Outcome) {
	p.Done++
	switch out.Result {
	case pipeline.ResultIngested:
		p.Ingested++
	case pipeline.ResultSkipped:
		p.Skipped++
	case pipeline.ResultFailed:
		p.Failed++
	}
	p.PerPaper[out.UpstreamID] = string(out.Result)
}

// IngestCycleWorkflow discovers the day's candidates and processes each one.
func IngestCycleWorkflow(ctx workflow.Context, input IngestCycleInput) (pipeline.Summary, error) {
	date := input.Date
	if date == "" {
		date = workflow.Now(ctx).UTC().Format(models.DateLayout)
	}
	progress := CycleProgress{Date: date, PerPaper: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (CycleProgress, error) {
		return progress, nil
	}); err != nil {
		return pipeline.Summary{}, err
	}
	sum := pipeline.Summary{CycleID: workflow.GetInfo(ctx).WorkflowExecution.ID, Date: date}

	actx := workflow.WithActivityOptions(ctx, discoverOptions)
	var disc activities.DiscoverCandidatesOutput
	if err := workflow.ExecuteActivity(actx, "DiscoverCandidatesActivity", activities.DiscoverCandidatesInput{Date: date, FeedURL: input.FeedURL}).Get(ctx, &disc); err != nil {
		return sum, err
	}
	sum.Discovered = len(disc.Candidates)
	progress.Total = len(disc.Candidates)
	for _, c := range disc.Candidates {
		progress.PerPaper[c.UpstreamID] = "pending"
	}

	pctx := workflow.WithActivityOptions(ctx, paperOptions)
	for _, c := range disc.Candidates {
		progress.PerPaper[c.UpstreamID] = "processing"
		var out pipeline.Outcome
		err := workflow.ExecuteActivity(pctx, "ProcessPaperActivity", activities.ProcessPaperInput{
			Candidate:   c,
			Date:        date,
			DownloadDir: input.DownloadDir,
		}).Get(ctx, &out)
		if err != nil {
			out = pipeline.Outcome{UpstreamID: c.UpstreamID, Result: pipeline.ResultFailed, Error: err.Error()}
		}
		sum.Add(out)
		progress.record(out)
	}

	_ = workflow.ExecuteActivity(actx, "WriteCycleSummaryActivity", activities.WriteCycleSummaryInput{Summary: sum}).Get(ctx, nil)
	progress.Finished = true
	return sum, nil
}

// RetryFailedWorkflow reprocesses FAILED papers without the dedup gate.
func RetryFailedWorkflow(ctx workflow.Context, input RetryFailedInput) (pipeline.Summary, error) {
	date := workflow.Now(ctx).UTC().Format(models.DateLayout)
	progress := CycleProgress{Date: date, PerPaper: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (CycleProgress, error) {
		return progress, nil
	}); err != nil {
		return pipeline.Summary{}, err
	}
	sum := pipeline.Summary{CycleID: workflow.GetInfo(ctx).WorkflowExecution.ID, Date: date}

	actx := workflow.WithActivityOptions(ctx, discoverOptions)
	var failed activities.ListFailedPapersOutput
	if err := workflow.ExecuteActivity(actx, "ListFailedPapersActivity", activities.ListFailedPapersInput{Limit: input.Limit}).Get(ctx, &failed); err != nil {
		return sum, err
	}
	sum.Discovered = len(failed.Papers)
	progress.Total = len(failed.Papers)

	pctx := workflow.WithActivityOptions(ctx, paperOptions)
	for _, p := range failed.Papers {
		var out pipeline.Outcome
		err := workflow.ExecuteActivity(pctx, "RetryPaperActivity", activities.RetryPaperInput{Paper: p, DownloadDir: input.DownloadDir}).Get(ctx, &out)
		if err != nil {
			out = pipeline.Outcome{UpstreamID: p.SourceID, PaperID: p.PaperID, Result: pipeline.ResultFailed, Error: err.Error()}
		}
		if out.UpstreamID == "" {
			out.UpstreamID = p.PaperID
		}
		sum.Add(out)
		progress.record(out)
	}
	progress.Finished = true
	return sum, nil
}
