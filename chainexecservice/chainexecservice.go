// Package chainexecservice runs stored rule chains: it assembles the step
// list, hydrates template references, estimates cost, and drives the
// execution backend through per-chain executors.
package chainexecservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/chainstore"
	"github.com/chainscribe/chainscribe/libbus"
	libdb "github.com/chainscribe/chainscribe/libdbexec"
	"github.com/chainscribe/chainscribe/libtracker"
	"github.com/google/uuid"
)

// ExecuteRequest names a stored chain and the source text to run it on.
type ExecuteRequest struct {
	ChainID    string                     `json:"chainId"`
	SourceText string                     `json:"sourceText"`
	Overrides  *chainengine.ExecOverrides `json:"overrides,omitempty"`
}

// ExecuteResponse pairs the run identity with the aggregated result.
type ExecuteResponse struct {
	RunID    string                       `json:"runId"`
	Warnings []string                     `json:"warnings,omitempty"`
	Result   *chainengine.ExecutionResult `json:"result"`
}

// EstimateResponse carries the advisory estimate plus hydration warnings.
type EstimateResponse struct {
	Warnings []string              `json:"warnings,omitempty"`
	Estimate *chainengine.Estimate `json:"estimate"`
}

type Service interface {
	// Estimate computes the local advisory token estimate for a stored chain.
	Estimate(ctx context.Context, chainID string, sourceText string) (*EstimateResponse, error)

	// DryRun asks the execution backend for its estimate without executing.
	DryRun(ctx context.Context, chainID string, sourceText string) (*chainengine.Estimate, error)

	// Execute runs a stored chain to completion.
	Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error)

	// ExecuteStream runs a stored chain and streams chunks as they arrive.
	// The returned run ID identifies the bus subject carrying the chunks.
	ExecuteStream(ctx context.Context, request *ExecuteRequest) (string, <-chan chainengine.StreamParcel, error)

	// Busy reports whether an execution is in flight for the chain.
	Busy(chainID string) bool
}

type service struct {
	db        libdb.DBManager
	fetcher   chainengine.TemplateFetcher
	backend   chainengine.ExecutionBackend
	assembler *chainengine.Assembler
	estimator *chainengine.Estimator
	bus       libbus.Messenger
	tracker   libtracker.ActivityTracker

	mu        sync.Mutex
	executors map[string]*chainengine.Executor
}

func New(
	db libdb.DBManager,
	catalog *chainengine.Catalog,
	fetcher chainengine.TemplateFetcher,
	backend chainengine.ExecutionBackend,
	bus libbus.Messenger,
	tracker libtracker.ActivityTracker,
) Service {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &service{
		db:        db,
		fetcher:   fetcher,
		backend:   backend,
		assembler: chainengine.NewAssembler(catalog),
		estimator: chainengine.NewEstimator(chainengine.DefaultEstimatorConfig()),
		bus:       bus,
		tracker:   tracker,
		executors: make(map[string]*chainengine.Executor),
	}
}

// executorFor returns the session executor for a chain, creating it on first
// use. The executor's busy guard serializes runs per chain.
func (s *service) executorFor(chainID string) *chainengine.Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec, ok := s.executors[chainID]; ok {
		return exec
	}
	exec := chainengine.NewExecutor(s.backend, s.tracker)
	s.executors[chainID] = exec
	return exec
}

func (s *service) Busy(chainID string) bool {
	s.mu.Lock()
	exec, ok := s.executors[chainID]
	s.mu.Unlock()
	return ok && exec.Busy()
}

// hydrate loads a stored chain, rebuilds its step list, and fills template
// snapshots. Unavailable templates degrade to placeholders with warnings.
func (s *service) hydrate(ctx context.Context, chainID string) (*chainstore.StoredChain, *chainengine.StepList, []string, error) {
	if chainID == "" {
		return nil, nil, nil, chainengine.NewValidationError("chainId", "chain ID is required", nil)
	}
	storeInstance := chainstore.New(s.db.WithoutTransaction())
	chain, err := storeInstance.GetChain(ctx, chainID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load chain: %w", err)
	}
	list, err := s.assembler.FromStored(&chain.ChainPayload)
	if err != nil {
		return nil, nil, nil, err
	}
	warnings, err := s.assembler.HydrateTemplates(ctx, list, s.fetcher)
	if err != nil {
		return nil, nil, nil, err
	}
	return chain, list, warnings, nil
}

func (s *service) Estimate(ctx context.Context, chainID string, sourceText string) (*EstimateResponse, error) {
	chain, list, warnings, err := s.hydrate(ctx, chainID)
	if err != nil {
		return nil, err
	}
	estimate := s.estimator.EstimateChain(sourceText, ruleChainFromPayload(&chain.ChainPayload), list.Steps())
	return &EstimateResponse{Warnings: warnings, Estimate: estimate}, nil
}

func (s *service) DryRun(ctx context.Context, chainID string, sourceText string) (*chainengine.Estimate, error) {
	chain, _, _, err := s.hydrate(ctx, chainID)
	if err != nil {
		return nil, err
	}
	exec := s.executorFor(chainID)
	return exec.DryRun(ctx, sourceText, &chain.ChainPayload)
}

func (s *service) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	if request == nil {
		return nil, chainengine.NewValidationError("request", "request body is required", nil)
	}
	if request.SourceText == "" {
		return nil, chainengine.NewValidationError("sourceText", "source text is required", nil)
	}
	chain, _, warnings, err := s.hydrate(ctx, request.ChainID)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	exec := s.executorFor(request.ChainID)
	result, err := exec.Execute(ctx, request.SourceText, &chain.ChainPayload, request.Overrides)
	if err != nil {
		return nil, err
	}
	s.publishTerminal(ctx, runID, result)
	return &ExecuteResponse{RunID: runID, Warnings: warnings, Result: result}, nil
}

func (s *service) ExecuteStream(ctx context.Context, request *ExecuteRequest) (string, <-chan chainengine.StreamParcel, error) {
	if request == nil {
		return "", nil, chainengine.NewValidationError("request", "request body is required", nil)
	}
	if request.SourceText == "" {
		return "", nil, chainengine.NewValidationError("sourceText", "source text is required", nil)
	}
	chain, _, _, err := s.hydrate(ctx, request.ChainID)
	if err != nil {
		return "", nil, err
	}

	runID := uuid.NewString()
	exec := s.executorFor(request.ChainID)
	upstream, err := exec.ExecuteStream(ctx, request.SourceText, &chain.ChainPayload, request.Overrides)
	if err != nil {
		return "", nil, err
	}

	// Tee parcels onto the bus so a second process can observe the run.
	out := make(chan chainengine.StreamParcel)
	go func() {
		defer close(out)
		for parcel := range upstream {
			if parcel.Chunk != "" {
				s.publishChunk(ctx, runID, parcel.Chunk)
			}
			if parcel.Result != nil {
				s.publishTerminal(ctx, runID, parcel.Result)
			}
			out <- parcel
		}
	}()
	return runID, out, nil
}

func (s *service) publishChunk(ctx context.Context, runID string, chunk string) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(map[string]string{"runId": runID, "chunk": chunk})
	if err != nil {
		return
	}
	// best effort; observers are advisory
	_ = s.bus.Publish(ctx, "exec."+runID+".chunks", data)
}

func (s *service) publishTerminal(ctx context.Context, runID string, result *chainengine.ExecutionResult) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(map[string]any{"runId": runID, "result": result})
	if err != nil {
		return
	}
	_ = s.bus.Publish(ctx, "exec."+runID+".done", data)
}

// ruleChainFromPayload projects the payload's metadata back into the
// session-side chain shape the estimator consumes.
func ruleChainFromPayload(payload *chainengine.ChainPayload) *chainengine.RuleChain {
	overrideJSON := ""
	if len(payload.GlobalLLMOverrideParameters) > 0 {
		if raw, err := json.Marshal(payload.GlobalLLMOverrideParameters); err == nil {
			overrideJSON = string(raw)
		}
	}
	return &chainengine.RuleChain{
		ID:                    payload.ID,
		Name:                  payload.Name,
		Description:           payload.Description,
		IsTemplate:            payload.IsTemplate,
		NovelID:               payload.NovelID,
		GlobalModelID:         payload.GlobalModelID,
		GlobalLLMOverrideJSON: overrideJSON,
		GlobalConstraints:     payload.GlobalGenerationConstraints,
	}
}
