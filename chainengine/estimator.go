package chainengine

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// EstimatorConfig carries the ratio and tier thresholds for cost estimation.
// Thresholds at zero mean the configuration is not loaded, in which case
// classification yields the unknown tier.
type EstimatorConfig struct {
	// CharsPerToken is the rough character-to-token ratio. This is not a
	// tokenizer; every estimate derived from it is an approximation.
	CharsPerToken float64 `json:"charsPerToken" yaml:"charsPerToken"`
	// DefaultMaxCompletionTokens is assumed for steps without an explicit
	// max-token constraint.
	DefaultMaxCompletionTokens int `json:"defaultMaxCompletionTokens" yaml:"defaultMaxCompletionTokens"`
	// LowMax is the exclusive upper bound of the low tier.
	LowMax int `json:"lowMax" yaml:"lowMax"`
	// MediumMax is the exclusive upper bound of the medium tier.
	MediumMax int `json:"mediumMax" yaml:"mediumMax"`
}

// DefaultEstimatorConfig returns the stock configuration.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		CharsPerToken:              2.5,
		DefaultMaxCompletionTokens: 1024,
		LowMax:                     4000,
		MediumMax:                  20000,
	}
}

// Estimator produces advisory token estimates and cost tiers for a chain
// before a paid execution. All numbers are rough character-ratio guesses,
// never tokenizer-exact counts.
type Estimator struct {
	cfg EstimatorConfig
}

// NewEstimator returns an estimator using cfg. A non-positive ratio falls
// back to the default.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = DefaultEstimatorConfig().CharsPerToken
	}
	if cfg.DefaultMaxCompletionTokens <= 0 {
		cfg.DefaultMaxCompletionTokens = DefaultEstimatorConfig().DefaultMaxCompletionTokens
	}
	return &Estimator{cfg: cfg}
}

// EstimateTokens approximates the token count of text by dividing its rune
// count by the configured ratio, rounded up.
func (e *Estimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / e.cfg.CharsPerToken))
}

// EstimateChain sums, over every enabled step, the estimated prompt tokens
// (input plus instruction text) and the step's maximum completion tokens or
// the configured default. Steps reading a prior step's output are marked
// dynamic: their prompt estimate is zero because the true input length is
// unknowable before execution, and the zero is flagged rather than reported
// as a real number.
func (e *Estimator) EstimateChain(sourceText string, chain *RuleChain, steps []Step) *Estimate {
	estimate := &Estimate{Steps: []StepEstimate{}}
	sourceTokens := e.EstimateTokens(sourceText)

	for _, step := range steps {
		if !step.Enabled {
			continue
		}
		se := StepEstimate{
			LocalID:          step.LocalID,
			Order:            step.Order,
			CompletionTokens: e.completionTokens(chain, step),
		}
		switch step.Kind {
		case StepKindPrivate:
			se.TaskType = step.Private.TaskType
			if step.Private.InputSource == InputPreviousOutput {
				se.Dynamic = true
				estimate.Warnings = append(estimate.Warnings,
					fmt.Sprintf("step %d reads a prior step's output; its prompt size is unknown before execution", step.Order))
			} else {
				se.PromptTokens = sourceTokens + e.EstimateTokens(step.Private.CustomInstruction)
			}
		case StepKindTemplateRef:
			if step.TemplateRef.Cached != nil {
				se.TaskType = step.TemplateRef.Cached.TaskType
			}
			se.PromptTokens = sourceTokens
		}
		estimate.TotalTokens += se.PromptTokens + se.CompletionTokens
		estimate.Steps = append(estimate.Steps, se)
	}

	estimate.Tier = e.Classify(estimate.TotalTokens)
	return estimate
}

func (e *Estimator) completionTokens(chain *RuleChain, step Step) int {
	if step.Kind == StepKindPrivate {
		if c := step.Private.GenerationConstraints; c != nil && c.MaxTokens > 0 {
			return c.MaxTokens
		}
	}
	if chain != nil && chain.GlobalConstraints != nil && chain.GlobalConstraints.MaxTokens > 0 {
		return chain.GlobalConstraints.MaxTokens
	}
	return e.cfg.DefaultMaxCompletionTokens
}

// Classify maps a total token count to a cost tier. Non-positive totals and
// missing thresholds yield the unknown tier. A total exactly at a tier's
// upper bound belongs to the next tier: low is strictly below LowMax and
// medium strictly below MediumMax.
func (e *Estimator) Classify(totalTokens int) CostTier {
	if totalTokens <= 0 || e.cfg.LowMax <= 0 || e.cfg.MediumMax <= 0 {
		return TierUnknown
	}
	switch {
	case totalTokens < e.cfg.LowMax:
		return TierLow
	case totalTokens < e.cfg.MediumMax:
		return TierMedium
	default:
		return TierHigh
	}
}
