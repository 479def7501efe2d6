package chainexecservice

import (
	"context"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/libtracker"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Estimate(ctx context.Context, chainID string, sourceText string) (*EstimateResponse, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"estimate",
		"chain_run",
		"chain_id", chainID,
	)
	defer endFn()

	resp, err := d.service.Estimate(ctx, chainID, sourceText)
	if err != nil {
		reportErrFn(err)
	}

	return resp, err
}

func (d *activityTrackerDecorator) DryRun(ctx context.Context, chainID string, sourceText string) (*chainengine.Estimate, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"dry_run",
		"chain_run",
		"chain_id", chainID,
	)
	defer endFn()

	estimate, err := d.service.DryRun(ctx, chainID, sourceText)
	if err != nil {
		reportErrFn(err)
	}

	return estimate, err
}

func (d *activityTrackerDecorator) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	chainID := ""
	if request != nil {
		chainID = request.ChainID
	}
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"execute",
		"chain_run",
		"chain_id", chainID,
	)
	defer endFn()

	resp, err := d.service.Execute(ctx, request)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(resp.RunID, map[string]interface{}{
			"chainId": chainID,
			"status":  resp.Result.Status,
		})
	}

	return resp, err
}

func (d *activityTrackerDecorator) ExecuteStream(ctx context.Context, request *ExecuteRequest) (string, <-chan chainengine.StreamParcel, error) {
	chainID := ""
	if request != nil {
		chainID = request.ChainID
	}
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"execute_stream",
		"chain_run",
		"chain_id", chainID,
	)
	defer endFn()

	runID, stream, err := d.service.ExecuteStream(ctx, request)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(runID, map[string]interface{}{"chainId": chainID})
	}

	return runID, stream, err
}

func (d *activityTrackerDecorator) Busy(chainID string) bool {
	return d.service.Busy(chainID)
}

// WithActivityTracker wraps an execution service with activity tracking capabilities
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}
