package chainengine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/chainscribe/chainscribe/libtracker"
)

// ExecOverrides are call-time overrides for one execution.
type ExecOverrides struct {
	ModelID       string         `json:"modelId,omitempty" yaml:"modelId,omitempty"`
	LLMParameters map[string]any `json:"llmParameters,omitempty" yaml:"llmParameters,omitempty"`
}

// ExecRequest is the request contract of the execution backend: the
// assembled payload plus the source text and optional overrides.
type ExecRequest struct {
	Payload    *ChainPayload  `json:"payload"`
	SourceText string         `json:"sourceText"`
	Overrides  *ExecOverrides `json:"overrides,omitempty"`
}

// StreamParcel is one event of a streaming execution: either an incremental
// text chunk, or the terminal result or error. Exactly one terminal parcel
// (Result or Err set) is delivered per stream, after which the channel
// closes.
type StreamParcel struct {
	Chunk  string
	Result *ExecutionResult
	Err    error
}

// Terminal reports whether the parcel ends the stream.
func (p StreamParcel) Terminal() bool {
	return p.Result != nil || p.Err != nil
}

// ExecutionBackend is the external execution collaborator. Timeouts are the
// backend's concern; the engine only surfaces whatever failure it receives.
type ExecutionBackend interface {
	ExecuteChain(ctx context.Context, req *ExecRequest) (*ExecutionResult, error)
	DryRunChain(ctx context.Context, req *ExecRequest) (*Estimate, error)
	StreamChain(ctx context.Context, req *ExecRequest) (<-chan StreamParcel, error)
}

// Executor drives execute and dry-run calls for one chain session and
// aggregates results. At most one execution may be in flight per session; a
// concurrent call fails with ErrChainBusy instead of queuing. The guard is a
// session-scoped flag, not a distributed lock: sessions share no mutable
// state.
type Executor struct {
	backend ExecutionBackend
	tracker libtracker.ActivityTracker
	busy    atomic.Bool
}

// NewExecutor returns an executor for one chain session.
func NewExecutor(backend ExecutionBackend, tracker libtracker.ActivityTracker) *Executor {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &Executor{backend: backend, tracker: tracker}
}

// Busy reports whether an execution is currently in flight.
func (e *Executor) Busy() bool {
	return e.busy.Load()
}

// DryRun asks the backend for a cost estimate of the chain without executing
// it. It never mutates chain state and is not subject to the busy guard.
func (e *Executor) DryRun(ctx context.Context, sourceText string, payload *ChainPayload) (*Estimate, error) {
	reportErr, _, end := e.tracker.Start(ctx, "dry_run", "chain", "chain_name", payload.Name)
	defer end()

	estimate, err := e.backend.DryRunChain(ctx, &ExecRequest{Payload: payload, SourceText: sourceText})
	if err != nil {
		reportErr(err)
		return nil, fmt.Errorf("dry run: %w", err)
	}
	return estimate, nil
}

// Execute runs the chain against the backend and blocks until the full
// result is available. Backend failures are folded into the returned
// ExecutionResult as a chain-abort step rather than surfaced as a bare
// error, so callers always receive a coherent result for anything
// execution-related.
func (e *Executor) Execute(ctx context.Context, sourceText string, payload *ChainPayload, overrides *ExecOverrides) (*ExecutionResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("execute chain %q: %w", payload.Name, ErrChainBusy)
	}
	defer e.busy.Store(false)

	reportErr, reportChange, end := e.tracker.Start(ctx, "execute", "chain", "chain_name", payload.Name)
	defer end()

	result, err := e.backend.ExecuteChain(ctx, &ExecRequest{
		Payload:    payload,
		SourceText: sourceText,
		Overrides:  overrides,
	})
	if err != nil {
		reportErr(err)
		return abortedResult(payload, err), nil
	}
	e.finalize(ctx, payload, result)
	reportChange("status", string(result.Status))
	return result, nil
}

// ExecuteStream runs the chain in streaming mode. The caller receives
// incremental chunks in strict arrival order followed by exactly one
// terminal parcel, after which the channel closes. Cancellation detaches
// the consumer; the terminal parcel then carries the context error.
func (e *Executor) ExecuteStream(ctx context.Context, sourceText string, payload *ChainPayload, overrides *ExecOverrides) (<-chan StreamParcel, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("execute chain %q: %w", payload.Name, ErrChainBusy)
	}

	reportErr, reportChange, end := e.tracker.Start(ctx, "execute_stream", "chain", "chain_name", payload.Name)

	upstream, err := e.backend.StreamChain(ctx, &ExecRequest{
		Payload:    payload,
		SourceText: sourceText,
		Overrides:  overrides,
	})
	if err != nil {
		e.busy.Store(false)
		reportErr(err)
		end()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	out := make(chan StreamParcel)
	go func() {
		defer close(out)
		defer e.busy.Store(false)
		defer end()

		terminate := func(parcel StreamParcel) {
			if parcel.Err != nil {
				reportErr(parcel.Err)
				parcel.Result = abortedResult(payload, parcel.Err)
				parcel.Err = nil
			} else if parcel.Result != nil {
				e.finalize(ctx, payload, parcel.Result)
				reportChange("status", string(parcel.Result.Status))
			}
			select {
			case out <- parcel:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				terminate(StreamParcel{Err: ctx.Err()})
				return
			case parcel, ok := <-upstream:
				if !ok {
					// Upstream closed without a terminal parcel.
					terminate(StreamParcel{Err: fmt.Errorf("stream ended without a result")})
					return
				}
				if parcel.Terminal() {
					terminate(parcel)
					return
				}
				select {
				case out <- parcel:
				case <-ctx.Done():
					terminate(StreamParcel{Err: ctx.Err()})
					return
				}
			}
		}
	}()
	return out, nil
}

// finalize applies post-processing rules to step outputs and derives the
// overall status. Rule failures are recorded on the affected step and
// tracked; they never fail the run.
func (e *Executor) finalize(ctx context.Context, payload *ChainPayload, result *ExecutionResult) {
	rulesByOrder := make(map[int][]Rule)
	lastRuleOrder := -1
	for _, record := range payload.Steps {
		if len(record.PostProcessingRules) > 0 {
			rulesByOrder[record.Order] = record.PostProcessingRules
			if record.Order > lastRuleOrder {
				lastRuleOrder = record.Order
			}
		}
	}

	for i := range result.Steps {
		step := &result.Steps[i]
		rules, ok := rulesByOrder[step.Order]
		if !ok || step.Status != StepStatusSuccess {
			continue
		}
		processed, err := ApplyRules(step.OutputSnippet, rules)
		if err != nil {
			reportErr, _, endRule := e.tracker.Start(ctx, "post_process", "step", "order", step.Order)
			reportErr(err)
			endRule()
			step.Error = err.Error()
			continue
		}
		step.OutputSnippet = processed
		// The final step's rules shape the chain output as well.
		if len(result.Steps) > 0 && step.Order == result.Steps[len(result.Steps)-1].Order && step.Order == lastRuleOrder {
			if finalText, ferr := ApplyRules(result.FinalOutputText, rules); ferr == nil {
				result.FinalOutputText = finalText
			}
		}
	}

	if result.Status == "" {
		result.Status = DeriveStatus(result.Steps)
	}
}

// abortedResult folds a backend failure into a coherent result carrying a
// single chain-abort step.
func abortedResult(payload *ChainPayload, cause error) *ExecutionResult {
	return &ExecutionResult{
		ChainID:   payload.ID,
		ChainName: payload.Name,
		Status:    StatusFailure,
		Steps: []StepResult{{
			Order:    0,
			TaskType: TaskTypeChainAbort,
			Status:   StepStatusFailure,
			Error:    cause.Error(),
		}},
	}
}
