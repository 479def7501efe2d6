package chainengine_test

import (
	"strings"
	"testing"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/stretchr/testify/require"
)

func TestUnit_Estimator_EstimateTokens(t *testing.T) {
	est := chainengine.NewEstimator(chainengine.DefaultEstimatorConfig())

	require.Equal(t, 0, est.EstimateTokens(""))
	require.Equal(t, 400, est.EstimateTokens(strings.Repeat("a", 1000)), "1000 chars at 2.5 chars/token")
	require.Equal(t, 1, est.EstimateTokens("ab"), "partial tokens round up")
	require.Equal(t, 2, est.EstimateTokens("abcd"))
	// Rune count, not byte count.
	require.Equal(t, 2, est.EstimateTokens("日本語五文字"[:15]))
}

func TestUnit_Estimator_ClassifyBoundaries(t *testing.T) {
	est := chainengine.NewEstimator(chainengine.EstimatorConfig{
		CharsPerToken:              2.5,
		DefaultMaxCompletionTokens: 1024,
		LowMax:                     1000,
		MediumMax:                  5000,
	})

	cases := []struct {
		total int
		want  chainengine.CostTier
	}{
		{0, chainengine.TierUnknown},
		{-5, chainengine.TierUnknown},
		{1, chainengine.TierLow},
		{999, chainengine.TierLow},
		{1000, chainengine.TierMedium}, // exactly at the bound belongs to the next tier
		{1001, chainengine.TierMedium},
		{4999, chainengine.TierMedium},
		{5000, chainengine.TierHigh},
		{50000, chainengine.TierHigh},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, est.Classify(tc.total), "total=%d", tc.total)
	}
}

func TestUnit_Estimator_ClassifyWithoutThresholds(t *testing.T) {
	est := chainengine.NewEstimator(chainengine.EstimatorConfig{CharsPerToken: 2.5})
	require.Equal(t, chainengine.TierUnknown, est.Classify(1234))
}

func TestUnit_Estimator_EstimateChainEndToEnd(t *testing.T) {
	est := chainengine.NewEstimator(chainengine.DefaultEstimatorConfig())
	sourceText := strings.Repeat("x", 1000)

	chain := &chainengine.RuleChain{Name: "summary pass"}
	steps := []chainengine.Step{
		{
			LocalID: "a",
			Order:   0,
			Enabled: true,
			Kind:    chainengine.StepKindPrivate,
			Private: &chainengine.PrivateStep{
				TaskType:              chainengine.TaskTypeSummarize,
				InputSource:           chainengine.InputSourceText,
				GenerationConstraints: &chainengine.GenerationConstraints{MaxTokens: 300},
			},
		},
		{
			LocalID: "b",
			Order:   1,
			Enabled: true,
			Kind:    chainengine.StepKindTemplateRef,
			TemplateRef: &chainengine.TemplateRefStep{
				TemplateID: "tpl-1",
				Cached:     &chainengine.TemplateSnapshot{ID: "tpl-1", Name: "polish", TaskType: chainengine.TaskTypeProofread},
			},
		},
	}

	estimate := est.EstimateChain(sourceText, chain, steps)
	require.Len(t, estimate.Steps, 2)

	// Private step: ceil(1000/2.5) = 400 prompt tokens plus its own cap.
	require.Equal(t, 400, estimate.Steps[0].PromptTokens)
	require.Equal(t, 300, estimate.Steps[0].CompletionTokens)
	require.False(t, estimate.Steps[0].Dynamic)

	// Template step: same source text, system default completion cap.
	require.Equal(t, 400, estimate.Steps[1].PromptTokens)
	require.Equal(t, 1024, estimate.Steps[1].CompletionTokens)

	require.Equal(t, 400+300+400+1024, estimate.TotalTokens)
	require.Equal(t, chainengine.TierLow, estimate.Tier)
}

func TestUnit_Estimator_DisabledStepsAreSkipped(t *testing.T) {
	est := chainengine.NewEstimator(chainengine.DefaultEstimatorConfig())

	steps := []chainengine.Step{
		{
			LocalID: "off",
			Enabled: false,
			Kind:    chainengine.StepKindPrivate,
			Private: &chainengine.PrivateStep{TaskType: chainengine.TaskTypeSummarize},
		},
	}
	estimate := est.EstimateChain("some text", &chainengine.RuleChain{Name: "n"}, steps)
	require.Empty(t, estimate.Steps)
	require.Zero(t, estimate.TotalTokens)
	require.Equal(t, chainengine.TierUnknown, estimate.Tier)
}

func TestUnit_Estimator_DynamicInputIsFlaggedNotZeroed(t *testing.T) {
	est := chainengine.NewEstimator(chainengine.DefaultEstimatorConfig())

	steps := []chainengine.Step{
		{
			LocalID: "a",
			Order:   0,
			Enabled: true,
			Kind:    chainengine.StepKindPrivate,
			Private: &chainengine.PrivateStep{
				TaskType:    chainengine.TaskTypeSummarize,
				InputSource: chainengine.InputSourceText,
			},
		},
		{
			LocalID: "b",
			Order:   1,
			Enabled: true,
			Kind:    chainengine.StepKindPrivate,
			Private: &chainengine.PrivateStep{
				TaskType:    chainengine.TaskTypeRewrite,
				InputSource: chainengine.InputPreviousOutput,
			},
		},
	}

	estimate := est.EstimateChain(strings.Repeat("x", 250), &chainengine.RuleChain{Name: "n"}, steps)
	require.Len(t, estimate.Steps, 2)

	require.False(t, estimate.Steps[0].Dynamic)
	require.Equal(t, 100, estimate.Steps[0].PromptTokens)

	require.True(t, estimate.Steps[1].Dynamic, "chained input must be flagged dynamic")
	require.Zero(t, estimate.Steps[1].PromptTokens)
	require.NotEmpty(t, estimate.Warnings, "the unknown prompt size must surface as a warning")
}

func TestUnit_Estimator_CompletionCapPrecedence(t *testing.T) {
	est := chainengine.NewEstimator(chainengine.DefaultEstimatorConfig())
	chain := &chainengine.RuleChain{
		Name:              "capped",
		GlobalConstraints: &chainengine.GenerationConstraints{MaxTokens: 512},
	}

	steps := []chainengine.Step{
		{
			LocalID: "own-cap",
			Order:   0,
			Enabled: true,
			Kind:    chainengine.StepKindPrivate,
			Private: &chainengine.PrivateStep{
				TaskType:              chainengine.TaskTypeSummarize,
				GenerationConstraints: &chainengine.GenerationConstraints{MaxTokens: 128},
			},
		},
		{
			LocalID: "global-cap",
			Order:   1,
			Enabled: true,
			Kind:    chainengine.StepKindPrivate,
			Private: &chainengine.PrivateStep{TaskType: chainengine.TaskTypeRewrite},
		},
	}

	estimate := est.EstimateChain("text", chain, steps)
	require.Equal(t, 128, estimate.Steps[0].CompletionTokens, "step cap wins")
	require.Equal(t, 512, estimate.Steps[1].CompletionTokens, "global cap fills in")
}
