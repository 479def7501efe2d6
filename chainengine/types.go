// Package chainengine is the core domain of the rule-chain runtime. A rule
// chain is a named, ordered sequence of text-transformation steps applied to
// source content by a language model. Each step is either a private step,
// fully configured inline and owned by one chain, or a template reference
// pointing at a shared step definition of which only position and enabled
// state are chain-local.
package chainengine

import "time"

// StepKind discriminates the two step variants. Consumers must switch on the
// kind exhaustively; the variants share no structural overlap.
type StepKind string

const (
	StepKindPrivate     StepKind = "private"
	StepKindTemplateRef StepKind = "template_ref"
)

// InputSource selects what a step reads as its input text.
type InputSource string

const (
	// InputSourceText feeds the chain's source text into the step.
	InputSourceText InputSource = "source_text"
	// InputPreviousOutput chains the step onto the prior step's output. Its
	// true input length is unknowable before execution, so token estimates
	// for such steps are advisory only.
	InputPreviousOutput InputSource = "previous_output"
)

// RuleKind names a post-processing transformation applied to a step's output.
type RuleKind string

const (
	RuleKindTrim     RuleKind = "trim"
	RuleKindReplace  RuleKind = "replace"
	RuleKindJSONPath RuleKind = "jsonpath"
	RuleKindScript   RuleKind = "script"
)

// Rule is one post-processing transformation. Which fields apply depends on
// the kind: replace uses Pattern and Replacement, jsonpath uses Path, script
// uses Script.
type Rule struct {
	Kind        RuleKind `json:"kind" yaml:"kind"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Replacement string   `json:"replacement,omitempty" yaml:"replacement,omitempty"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`
	Script      string   `json:"script,omitempty" yaml:"script,omitempty"`
}

// GenerationConstraints bound what the model may produce for a step or for
// the chain as a whole.
type GenerationConstraints struct {
	MaxTokens int `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	MinWords  int `json:"minWords,omitempty" yaml:"minWords,omitempty"`
	MaxWords  int `json:"maxWords,omitempty" yaml:"maxWords,omitempty"`
}

// PrivateStep is the full inline configuration of a chain-owned step.
// LLMOverrideJSON holds the user-entered override text verbatim; it is parsed
// only during payload assembly so malformed JSON surfaces as a validation
// error instead of corrupting the editing session.
type PrivateStep struct {
	TaskType              string                 `json:"taskType" yaml:"taskType"`
	ParameterValues       map[string]any         `json:"parameterValues,omitempty" yaml:"parameterValues,omitempty"`
	CustomInstruction     string                 `json:"customInstruction,omitempty" yaml:"customInstruction,omitempty"`
	PostProcessingRules   []Rule                 `json:"postProcessingRules,omitempty" yaml:"postProcessingRules,omitempty"`
	InputSource           InputSource            `json:"inputSource,omitempty" yaml:"inputSource,omitempty"`
	ModelOverride         string                 `json:"modelOverride,omitempty" yaml:"modelOverride,omitempty"`
	LLMOverrideJSON       string                 `json:"llmOverrideJson,omitempty" yaml:"llmOverrideJson,omitempty"`
	GenerationConstraints *GenerationConstraints `json:"generationConstraints,omitempty" yaml:"generationConstraints,omitempty"`
	OutputVariableName    string                 `json:"outputVariableName,omitempty" yaml:"outputVariableName,omitempty"`
	Description           string                 `json:"description,omitempty" yaml:"description,omitempty"`
	// PersistedID is the stored record's ID, 0 while the step is unsaved.
	PersistedID int64 `json:"persistedId,omitempty" yaml:"persistedId,omitempty"`
}

// TemplateSnapshot is the read-only view of a shared template a chain caches
// alongside a template reference.
type TemplateSnapshot struct {
	ID              string                         `json:"id" yaml:"id"`
	Name            string                         `json:"name" yaml:"name"`
	TaskType        string                         `json:"taskType" yaml:"taskType"`
	Description     string                         `json:"description,omitempty" yaml:"description,omitempty"`
	ParameterSchema map[string]ParameterDefinition `json:"parameterSchema,omitempty" yaml:"parameterSchema,omitempty"`
	CreatedAt       time.Time                      `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt       time.Time                      `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// TemplateRefStep points at a shared template. It never stores parameter
// values locally; Cached is a read-only snapshot of the template, possibly a
// schema-less placeholder until hydration completes.
type TemplateRefStep struct {
	TemplateID string            `json:"templateId" yaml:"templateId"`
	Cached     *TemplateSnapshot `json:"cachedTemplate,omitempty" yaml:"cachedTemplate,omitempty"`
}

// Step is one entry of a chain's ordered list. Exactly one of Private and
// TemplateRef is set, matching Kind. LocalID is the only stable identity
// while a step has no persisted ID; it is unique within the session's
// lifetime and never reused.
type Step struct {
	LocalID     string           `json:"localId" yaml:"localId"`
	Order       int              `json:"order" yaml:"order"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Kind        StepKind         `json:"kind" yaml:"kind"`
	Private     *PrivateStep     `json:"private,omitempty" yaml:"private,omitempty"`
	TemplateRef *TemplateRefStep `json:"templateRef,omitempty" yaml:"templateRef,omitempty"`
}

// RuleChain is the chain's metadata. The step list itself lives in a
// StepList owned by the editing session; viewers borrow it read-only.
// GlobalLLMOverrideJSON holds user-entered override text verbatim, parsed
// during payload assembly.
type RuleChain struct {
	ID                    string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Name                  string                 `json:"name" yaml:"name"`
	Description           string                 `json:"description,omitempty" yaml:"description,omitempty"`
	IsTemplate            bool                   `json:"isTemplate" yaml:"isTemplate"`
	NovelID               string                 `json:"novelId,omitempty" yaml:"novelId,omitempty"`
	GlobalModelID         string                 `json:"globalModelId,omitempty" yaml:"globalModelId,omitempty"`
	GlobalLLMOverrideJSON string                 `json:"globalLlmOverrideJson,omitempty" yaml:"globalLlmOverrideJson,omitempty"`
	GlobalConstraints     *GenerationConstraints `json:"globalConstraints,omitempty" yaml:"globalConstraints,omitempty"`
}

// PrivateStepRecord is the wire form of a private step inside a chain
// payload. Order carries the step's final position in the merged list, not a
// kind-local index.
type PrivateStepRecord struct {
	PersistedID           int64                        `json:"id,omitempty" yaml:"id,omitempty"`
	Order                 int                          `json:"order" yaml:"order"`
	Enabled               bool                         `json:"enabled" yaml:"enabled"`
	TaskType              string                       `json:"taskType" yaml:"taskType"`
	Parameters            map[string]ResolvedParameter `json:"parameters" yaml:"parameters"`
	CustomInstruction     string                       `json:"customInstruction,omitempty" yaml:"customInstruction,omitempty"`
	PostProcessingRules   []Rule                       `json:"postProcessingRules,omitempty" yaml:"postProcessingRules,omitempty"`
	InputSource           InputSource                  `json:"inputSource,omitempty" yaml:"inputSource,omitempty"`
	ModelOverride         string                       `json:"modelOverride,omitempty" yaml:"modelOverride,omitempty"`
	LLMOverrideParameters map[string]any               `json:"llmOverrideParameters,omitempty" yaml:"llmOverrideParameters,omitempty"`
	GenerationConstraints *GenerationConstraints       `json:"generationConstraints,omitempty" yaml:"generationConstraints,omitempty"`
	OutputVariableName    string                       `json:"outputVariableName,omitempty" yaml:"outputVariableName,omitempty"`
	Description           string                       `json:"description,omitempty" yaml:"description,omitempty"`
}

// TemplateRefRecord is the wire form of a template association. Only the
// reference, position, and enabled flag are chain-local.
type TemplateRefRecord struct {
	TemplateID string `json:"templateId" yaml:"templateId"`
	Order      int    `json:"order" yaml:"order"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

// ChainPayload is the persisted and wire shape of a chain. Both record
// arrays share one globally unique order sequence spanning the whole chain.
type ChainPayload struct {
	ID                          string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Name                        string                 `json:"name" yaml:"name"`
	Description                 string                 `json:"description,omitempty" yaml:"description,omitempty"`
	IsTemplate                  bool                   `json:"isTemplate" yaml:"isTemplate"`
	NovelID                     string                 `json:"novelId,omitempty" yaml:"novelId,omitempty"`
	GlobalModelID               string                 `json:"globalModelId,omitempty" yaml:"globalModelId,omitempty"`
	GlobalLLMOverrideParameters map[string]any         `json:"globalLlmOverrideParameters" yaml:"globalLlmOverrideParameters"`
	GlobalGenerationConstraints *GenerationConstraints `json:"globalGenerationConstraints" yaml:"globalGenerationConstraints"`
	Steps                       []PrivateStepRecord    `json:"steps" yaml:"steps"`
	TemplateAssociations        []TemplateRefRecord    `json:"templateAssociations" yaml:"templateAssociations"`
}

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailure StepStatus = "failure"
)

// ChainStatus is the overall outcome of a chain run.
type ChainStatus string

const (
	StatusUnknown        ChainStatus = "unknown"
	StatusSuccess        ChainStatus = "success"
	StatusFailure        ChainStatus = "failure"
	StatusPartialSuccess ChainStatus = "partial_success"
)

// TaskTypeChainAbort is the sentinel task type the backend injects as the
// final step when a chain-level error aborts execution. Its presence forces
// the overall status to failure.
const TaskTypeChainAbort = "chain_abort"

// StepResult is the recorded outcome of one executed step.
type StepResult struct {
	Order                int                    `json:"order" yaml:"order"`
	TaskType             string                 `json:"taskType" yaml:"taskType"`
	Status               StepStatus             `json:"status" yaml:"status"`
	InputSnippet         string                 `json:"inputSnippet,omitempty" yaml:"inputSnippet,omitempty"`
	OutputSnippet        string                 `json:"outputSnippet,omitempty" yaml:"outputSnippet,omitempty"`
	Error                string                 `json:"error,omitempty" yaml:"error,omitempty"`
	ModelUsed            string                 `json:"modelUsed,omitempty" yaml:"modelUsed,omitempty"`
	ParametersUsed       map[string]any         `json:"parametersUsed,omitempty" yaml:"parametersUsed,omitempty"`
	ConstraintsApplied   *GenerationConstraints `json:"constraintsApplied,omitempty" yaml:"constraintsApplied,omitempty"`
	ConstraintsSatisfied *bool                  `json:"constraintsSatisfied,omitempty" yaml:"constraintsSatisfied,omitempty"`
}

// ExecutionResult is the aggregated outcome of a chain run. Execution
// failures are captured here as failed steps and an overall status; callers
// always receive a coherent result object for anything execution-related.
type ExecutionResult struct {
	ChainID             string       `json:"chainId,omitempty" yaml:"chainId,omitempty"`
	ChainName           string       `json:"chainName" yaml:"chainName"`
	Status              ChainStatus  `json:"status" yaml:"status"`
	FinalOutputText     string       `json:"finalOutputText" yaml:"finalOutputText"`
	Steps               []StepResult `json:"perStepResults" yaml:"perStepResults"`
	TotalElapsedSeconds float64      `json:"totalElapsedSeconds,omitempty" yaml:"totalElapsedSeconds,omitempty"`
}

// DeriveStatus computes the overall chain status from per-step results.
// Zero executed steps yield unknown. A chain-abort sentinel step forces
// failure. Otherwise the status is success when every step succeeded,
// failure when none did, and partial success in between.
func DeriveStatus(steps []StepResult) ChainStatus {
	if len(steps) == 0 {
		return StatusUnknown
	}
	succeeded := 0
	for _, s := range steps {
		if s.TaskType == TaskTypeChainAbort {
			return StatusFailure
		}
		if s.Status == StepStatusSuccess {
			succeeded++
		}
	}
	switch succeeded {
	case len(steps):
		return StatusSuccess
	case 0:
		return StatusFailure
	default:
		return StatusPartialSuccess
	}
}

// CostTier is the advisory cost classification of an estimated run.
type CostTier string

const (
	TierLow     CostTier = "low"
	TierMedium  CostTier = "medium"
	TierHigh    CostTier = "high"
	TierUnknown CostTier = "unknown"
)

// StepEstimate is the advisory token estimate for one enabled step. Dynamic
// marks steps whose input is a prior step's output: their prompt estimate is
// zero because the true input length is unknowable before execution, and
// that zero must not be read as a real measurement.
type StepEstimate struct {
	LocalID          string `json:"localId,omitempty" yaml:"localId,omitempty"`
	Order            int    `json:"order" yaml:"order"`
	TaskType         string `json:"taskType" yaml:"taskType"`
	PromptTokens     int    `json:"promptTokens" yaml:"promptTokens"`
	CompletionTokens int    `json:"completionTokens" yaml:"completionTokens"`
	Dynamic          bool   `json:"dynamic" yaml:"dynamic"`
}

// Estimate is the advisory cost of a chain run before execution.
type Estimate struct {
	TotalTokens int            `json:"totalTokens" yaml:"totalTokens"`
	Tier        CostTier       `json:"tier" yaml:"tier"`
	Steps       []StepEstimate `json:"steps" yaml:"steps"`
	Warnings    []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}
