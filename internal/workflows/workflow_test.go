package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"paperdigest/internal/activities"
	"paperdigest/internal/models"
	"paperdigest/internal/pipeline"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func registerCycleActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "DiscoverCandidatesActivity", func(context.Context, activities.DiscoverCandidatesInput) (activities.DiscoverCandidatesOutput, error) {
		return activities.DiscoverCandidatesOutput{}, nil
	})
	registerActivityName(env, "ProcessPaperActivity", func(context.Context, activities.ProcessPaperInput) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, nil
	})
	registerActivityName(env, "WriteCycleSummaryActivity", func(context.Context, activities.WriteCycleSummaryInput) error { return nil })
}

func candidate(id string) models.Candidate {
	return models.Candidate{UpstreamID: id}
}

func TestIngestCycleWorkflowProcessesEveryCandidate(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IngestCycleWorkflow)
	registerCycleActivities(env)

	env.OnActivity("DiscoverCandidatesActivity", mock.Anything, activities.DiscoverCandidatesInput{Date: "2025-07-22"}).
		Return(activities.DiscoverCandidatesOutput{Candidates: []models.Candidate{candidate("2507.00001"), candidate("2507.00002"), candidate("2507.00003")}}, nil)
	env.OnActivity("ProcessPaperActivity", mock.Anything, activities.ProcessPaperInput{Candidate: candidate("2507.00001"), Date: "2025-07-22"}).
		Return(pipeline.Outcome{UpstreamID: "2507.00001", Result: pipeline.ResultIngested, Chunks: 30}, nil)
	env.OnActivity("ProcessPaperActivity", mock.Anything, activities.ProcessPaperInput{Candidate: candidate("2507.00002"), Date: "2025-07-22"}).
		Return(pipeline.Outcome{UpstreamID: "2507.00002", Result: pipeline.ResultFailed, ErrorKind: "FetchError"}, nil)
	env.OnActivity("ProcessPaperActivity", mock.Anything, activities.ProcessPaperInput{Candidate: candidate("2507.00003"), Date: "2025-07-22"}).
		Return(pipeline.Outcome{UpstreamID: "2507.00003", Result: pipeline.ResultSkipped}, nil)
	env.OnActivity("WriteCycleSummaryActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(IngestCycleWorkflow, IngestCycleInput{Date: "2025-07-22"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var sum pipeline.Summary
	require.NoError(t, env.GetWorkflowResult(&sum))
	require.Equal(t, "2025-07-22", sum.Date)
	require.Equal(t, 3, sum.Discovered)
	require.Equal(t, 1, sum.Ingested)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 1, sum.Skipped)
	require.Len(t, sum.Outcomes, 3)

	val, err := env.QueryWorkflow(QueryGetProgress)
	require.NoError(t, err)
	var progress CycleProgress
	require.NoError(t, val.Get(&progress))
	require.True(t, progress.Finished)
	require.Equal(t, 3, progress.Done)
	require.Equal(t, "failed", progress.PerPaper["2507.00002"])
}

func TestIngestCycleWorkflowDefaultsDateToWorkflowDay(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.SetStartTime(time.Date(2025, 7, 22, 12, 0, 0, 0, time.UTC))
	env.RegisterWorkflow(IngestCycleWorkflow)
	registerCycleActivities(env)

	env.OnActivity("DiscoverCandidatesActivity", mock.Anything, activities.DiscoverCandidatesInput{Date: "2025-07-22", FeedURL: "http://feed.local"}).
		Return(activities.DiscoverCandidatesOutput{}, nil).Once()
	env.OnActivity("WriteCycleSummaryActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(IngestCycleWorkflow, IngestCycleInput{FeedURL: "http://feed.local"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestIngestCycleWorkflowContinuesAfterActivityError(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IngestCycleWorkflow)
	registerCycleActivities(env)

	env.OnActivity("DiscoverCandidatesActivity", mock.Anything, mock.Anything).
		Return(activities.DiscoverCandidatesOutput{Candidates: []models.Candidate{candidate("a"), candidate("b")}}, nil)
	env.OnActivity("ProcessPaperActivity", mock.Anything, activities.ProcessPaperInput{Candidate: candidate("a"), Date: "2025-07-22"}).
		Return(pipeline.Outcome{}, errors.New("worker lost"))
	env.OnActivity("ProcessPaperActivity", mock.Anything, activities.ProcessPaperInput{Candidate: candidate("b"), Date: "2025-07-22"}).
		Return(pipeline.Outcome{UpstreamID: "b", Result: pipeline.ResultIngested}, nil)
	env.OnActivity("WriteCycleSummaryActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(IngestCycleWorkflow, IngestCycleInput{Date: "2025-07-22"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var sum pipeline.Summary
	require.NoError(t, env.GetWorkflowResult(&sum))
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 1, sum.Ingested)
	require.Equal(t, "a", sum.Outcomes[0].UpstreamID)
}

func TestIngestCycleWorkflowFeedFailure(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(IngestCycleWorkflow)
	registerCycleActivities(env)

	env.OnActivity("DiscoverCandidatesActivity", mock.Anything, mock.Anything).
		Return(activities.DiscoverCandidatesOutput{}, errors.New("feed error 502"))

	env.ExecuteWorkflow(IngestCycleWorkflow, IngestCycleInput{Date: "2025-07-22"})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestRetryFailedWorkflow(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(RetryFailedWorkflow)
	registerActivityName(env, "ListFailedPapersActivity", func(context.Context, activities.ListFailedPapersInput) (activities.ListFailedPapersOutput, error) {
		return activities.ListFailedPapersOutput{}, nil
	})
	registerActivityName(env, "RetryPaperActivity", func(context.Context, activities.RetryPaperInput) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, nil
	})

	failed := []models.IngestionStatus{
		{PaperID: "arxiv_2507.00001", SourceID: "2507.00001", Status: models.StatusFailed},
		{PaperID: "arxiv_2507.00002", SourceID: "2507.00002", Status: models.StatusFailed},
	}
	env.OnActivity("ListFailedPapersActivity", mock.Anything, activities.ListFailedPapersInput{Limit: 10}).
		Return(activities.ListFailedPapersOutput{Papers: failed}, nil)
	env.OnActivity("RetryPaperActivity", mock.Anything, activities.RetryPaperInput{Paper: failed[0]}).
		Return(pipeline.Outcome{UpstreamID: "2507.00001", PaperID: "arxiv_2507.00001", Result: pipeline.ResultIngested}, nil)
	env.OnActivity("RetryPaperActivity", mock.Anything, activities.RetryPaperInput{Paper: failed[1]}).
		Return(pipeline.Outcome{UpstreamID: "2507.00002", PaperID: "arxiv_2507.00002", Result: pipeline.ResultFailed, ErrorKind: "ModelError"}, nil)

	env.ExecuteWorkflow(RetryFailedWorkflow, RetryFailedInput{Limit: 10})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var sum pipeline.Summary
	require.NoError(t, env.GetWorkflowResult(&sum))
	require.Equal(t, 2, sum.Discovered)
	require.Equal(t, 1, sum.Ingested)
	require.Equal(t, 1, sum.Failed)
}
