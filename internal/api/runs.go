package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"paperdigest/internal/models"
	"paperdigest/internal/pipeline"
	"paperdigest/internal/scheduler"
	"paperdigest/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

var (
	ErrRunActive   = errors.New("an ingest run is already active")
	ErrRunNotFound = errors.New("run not found")
)

// Runs starts ingest cycles and reports their progress.
type Runs interface {
	Start(ctx context.Context, in workflows.IngestCycleInput) (string, error)
	Progress(ctx context.Context, runID string) (workflows.CycleProgress, error)
}

// TemporalRuns starts IngestCycleWorkflow executions.
type TemporalRuns struct {
	client    tclient.Client
	taskQueue string
}

func NewTemporalRuns(c tclient.Client, taskQueue string) *TemporalRuns {
	return &TemporalRuns{client: c, taskQueue: taskQueue}
}

func (t *TemporalRuns) Start(ctx context.Context, in workflows.IngestCycleInput) (string, error) {
	id := "ingest-cycle-" + uuid.NewString()
	we, err := t.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             t.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, workflows.IngestCycleWorkflow, in)
	if err != nil {
		return "", fmt.Errorf("start ingest workflow: %w", err)
	}
	return we.GetID(), nil
}

func (t *TemporalRuns) Progress(ctx context.Context, runID string) (workflows.CycleProgress, error) {
	resp, err := t.client.QueryWorkflow(ctx, runID, "", workflows.QueryGetProgress)
	if err != nil {
		return workflows.CycleProgress{}, fmt.Errorf("%w: %w", ErrRunNotFound, err)
	}
	var p workflows.CycleProgress
	if err := resp.Get(&p); err != nil {
		return workflows.CycleProgress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

// LocalRuns runs cycles in-process, sharing the scheduler's run state so a
// manual run never overlaps a scheduled one.
type LocalRuns struct {
	runner *pipeline.Runner
	state  *scheduler.RunState
	log    *zap.Logger

	mu   sync.Mutex
	runs map[string]workflows.CycleProgress
}

func NewLocalRuns(runner *pipeline.Runner, state *scheduler.RunState, log *zap.Logger) *LocalRuns {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalRuns{runner: runner, state: state, log: log, runs: map[string]workflows.CycleProgress{}}
}

func (l *LocalRuns) Start(ctx context.Context, in workflows.IngestCycleInput) (string, error) {
	opts := pipeline.RunOptions{FeedURL: in.FeedURL, DownloadDir: in.DownloadDir}
	if in.Date != "" {
		d, err := parseDate(in.Date)
		if err != nil {
			return "", err
		}
		opts.Date = d
	}
	release, ok := l.state.TryAcquire()
	if !ok {
		return "", ErrRunActive
	}
	opts = l.runner.Normalize(opts)
	id := "local-" + uuid.NewString()
	l.set(id, workflows.CycleProgress{Date: opts.Date.Format(models.DateLayout), PerPaper: map[string]string{}})

	go func() {
		defer release()
		sum, err := l.runner.RunCycle(context.WithoutCancel(ctx), opts)
		p := workflows.CycleProgress{
			Date:     sum.Date,
			Total:    sum.Discovered,
			Done:     len(sum.Outcomes),
			Ingested: sum.Ingested,
			Skipped:  sum.Skipped,
			Failed:   sum.Failed,
			PerPaper: map[string]string{},
			Finished: true,
		}
		for _, o := range sum.Outcomes {
			p.PerPaper[o.UpstreamID] = string(o.Result)
		}
		if err != nil {
			l.log.Error("manual run failed", zap.String("run_id", id), zap.Error(err))
		}
		l.set(id, p)
	}()
	return id, nil
}

func (l *LocalRuns) Progress(_ context.Context, runID string) (workflows.CycleProgress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.runs[runID]
	if !ok {
		return workflows.CycleProgress{}, ErrRunNotFound
	}
	return p, nil
}

func (l *LocalRuns) set(id string, p workflows.CycleProgress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[id] = p
}
