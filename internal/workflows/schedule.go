package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

type ScheduleConfig struct {
	ID        string
	Every     time.Duration
	TaskQueue string
	// RunOnStart triggers one cycle as soon as the schedule is created.
	RunOnStart bool
}

// EnsureSchedule creates the recurring ingest schedule. An existing schedule
// with the same id is left as is. Overlapping runs are skipped.
func EnsureSchedule(ctx context.Context, sc client.ScheduleClient, cfg ScheduleConfig) (bool, error) {
	_, err := sc.Create(ctx, client.ScheduleOptions{
		ID: cfg.ID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: cfg.Every}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        cfg.ID + "-cycle",
			Workflow:  IngestCycleWorkflow,
			Args:      []any{IngestCycleInput{}},
			TaskQueue: cfg.TaskQueue,
		},
		Overlap:            enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		TriggerImmediately: cfg.RunOnStart,
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create schedule %s: %w", cfg.ID, err)
	}
	return true, nil
}
