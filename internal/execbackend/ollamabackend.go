package execbackend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"dario.cat/mergo"
	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/libtracker"
	"github.com/ollama/ollama/api"
)

var _ chainengine.ExecutionBackend = (*OllamaBackend)(nil)

// OllamaBackend runs chains natively against a local ollama instance, one
// generate call per enabled private step. Template reference steps are
// skipped with a failure record; the local runner has no template expansion.
type OllamaBackend struct {
	client       *api.Client
	defaultModel string
	catalog      *chainengine.Catalog
	estimator    *chainengine.Estimator
	tracker      libtracker.ActivityTracker
}

func NewOllamaBackend(baseURL, defaultModel string, httpClient *http.Client, catalog *chainengine.Catalog, tracker libtracker.ActivityTracker) (*OllamaBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &OllamaBackend{
		client:       api.NewClient(u, httpClient),
		defaultModel: defaultModel,
		catalog:      catalog,
		estimator:    chainengine.NewEstimator(chainengine.DefaultEstimatorConfig()),
		tracker:      tracker,
	}, nil
}

// modelFor picks the model for a step: step override, then call-time
// override, then chain global, then the runner default.
func (o *OllamaBackend) modelFor(req *chainengine.ExecRequest, record chainengine.PrivateStepRecord) string {
	if record.ModelOverride != "" {
		return record.ModelOverride
	}
	if req.Overrides != nil && req.Overrides.ModelID != "" {
		return req.Overrides.ModelID
	}
	if req.Payload.GlobalModelID != "" {
		return req.Payload.GlobalModelID
	}
	return o.defaultModel
}

// optionsFor merges LLM parameters for a step. Step overrides win over
// call-time overrides, which win over chain globals.
func (o *OllamaBackend) optionsFor(req *chainengine.ExecRequest, record chainengine.PrivateStepRecord) (map[string]any, error) {
	options := map[string]any{}
	for k, v := range record.LLMOverrideParameters {
		options[k] = v
	}
	if req.Overrides != nil && req.Overrides.LLMParameters != nil {
		if err := mergo.Merge(&options, req.Overrides.LLMParameters); err != nil {
			return nil, fmt.Errorf("failed to merge call overrides: %w", err)
		}
	}
	if err := mergo.Merge(&options, req.Payload.GlobalLLMOverrideParameters); err != nil {
		return nil, fmt.Errorf("failed to merge global overrides: %w", err)
	}

	constraints := record.GenerationConstraints
	if constraints == nil {
		constraints = req.Payload.GlobalGenerationConstraints
	}
	if constraints != nil && constraints.MaxTokens > 0 {
		if _, ok := options["num_predict"]; !ok {
			options["num_predict"] = constraints.MaxTokens
		}
	}
	return options, nil
}

func (o *OllamaBackend) generate(ctx context.Context, model, system, prompt string, options map[string]any, onChunk func(string)) (string, error) {
	stream := onChunk != nil
	req := &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  system,
		Stream:  &stream,
		Options: options,
	}

	var (
		content       string
		finalResponse api.GenerateResponse
	)
	err := o.client.Generate(ctx, req, func(gr api.GenerateResponse) error {
		content += gr.Response
		if onChunk != nil && gr.Response != "" {
			onChunk(gr.Response)
		}
		if gr.Done {
			finalResponse = gr
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate API call failed for model %s: %w", model, err)
	}
	if !finalResponse.Done {
		return "", fmt.Errorf("no completion received from ollama for model %s", model)
	}
	if finalResponse.DoneReason == "error" {
		return "", fmt.Errorf("ollama generation error for model %s", model)
	}
	return content, nil
}

// run executes all enabled steps in order, feeding each step's input per
// its input source. A step failure records the failure and continues; the
// pipeline input for downstream previous_output steps is the last
// successful output.
func (o *OllamaBackend) run(ctx context.Context, req *chainengine.ExecRequest, onChunk func(string)) (*chainengine.ExecutionResult, error) {
	start := time.Now()
	result := &chainengine.ExecutionResult{
		ChainID:   req.Payload.ID,
		ChainName: req.Payload.Name,
	}

	previousOutput := req.SourceText
	for _, record := range req.Payload.Steps {
		if !record.Enabled {
			continue
		}

		input := req.SourceText
		if record.InputSource == chainengine.InputPreviousOutput {
			input = previousOutput
		}

		reportErr, _, end := o.tracker.Start(ctx, "step", "ollama_run",
			"task_type", record.TaskType, "order", record.Order)

		stepResult := chainengine.StepResult{
			Order:              record.Order,
			TaskType:           record.TaskType,
			InputSnippet:       snippet(input),
			ConstraintsApplied: record.GenerationConstraints,
		}

		model := o.modelFor(req, record)
		options, err := o.optionsFor(req, record)
		if err == nil {
			system, prompt := buildPrompt(record, input)
			var output string
			output, err = o.generate(ctx, model, system, prompt, options, onChunk)
			if err == nil {
				stepResult.Status = chainengine.StepStatusSuccess
				stepResult.OutputSnippet = output
				stepResult.ModelUsed = model
				previousOutput = output
				result.FinalOutputText = output
			}
		}
		if err != nil {
			reportErr(err)
			stepResult.Status = chainengine.StepStatusFailure
			stepResult.Error = err.Error()
		}
		end()
		result.Steps = append(result.Steps, stepResult)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	for _, ref := range req.Payload.TemplateAssociations {
		if !ref.Enabled {
			continue
		}
		result.Steps = append(result.Steps, chainengine.StepResult{
			Order:    ref.Order,
			TaskType: "template_ref",
			Status:   chainengine.StepStatusFailure,
			Error:    fmt.Sprintf("local runner cannot expand template %s", ref.TemplateID),
		})
	}

	result.Status = chainengine.DeriveStatus(result.Steps)
	result.TotalElapsedSeconds = time.Since(start).Seconds()
	return result, nil
}

func (o *OllamaBackend) ExecuteChain(ctx context.Context, req *chainengine.ExecRequest) (*chainengine.ExecutionResult, error) {
	return o.run(ctx, req, nil)
}

// DryRunChain estimates locally; the local runner has no pricing service.
func (o *OllamaBackend) DryRunChain(ctx context.Context, req *chainengine.ExecRequest) (*chainengine.Estimate, error) {
	assembler := chainengine.NewAssembler(o.catalog)
	list, err := assembler.FromStored(req.Payload)
	if err != nil {
		return nil, err
	}
	chain := &chainengine.RuleChain{
		ID:                req.Payload.ID,
		Name:              req.Payload.Name,
		GlobalModelID:     req.Payload.GlobalModelID,
		GlobalConstraints: req.Payload.GlobalGenerationConstraints,
	}
	return o.estimator.EstimateChain(req.SourceText, chain, list.Steps()), nil
}

// StreamChain runs the chain while forwarding generation chunks. Chunks from
// all steps share one stream in execution order.
func (o *OllamaBackend) StreamChain(ctx context.Context, req *chainengine.ExecRequest) (<-chan chainengine.StreamParcel, error) {
	ch := make(chan chainengine.StreamParcel)
	go func() {
		defer close(ch)
		onChunk := func(chunk string) {
			select {
			case ch <- chainengine.StreamParcel{Chunk: chunk}:
			case <-ctx.Done():
			}
		}
		result, err := o.run(ctx, req, onChunk)
		parcel := chainengine.StreamParcel{Result: result, Err: err}
		select {
		case ch <- parcel:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

const snippetLimit = 2000

// snippet bounds recorded step inputs so results stay small. The cut backs
// up to a rune boundary so a multi-byte character is never split.
func snippet(text string) string {
	if len(text) <= snippetLimit {
		return text
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
