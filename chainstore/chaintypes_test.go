package chainstore_test

import (
	"testing"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/chainstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleChain(name string) *chainstore.StoredChain {
	return &chainstore.StoredChain{
		ChainPayload: chainengine.ChainPayload{
			ID:            uuid.NewString(),
			Name:          name,
			Description:   "tightens prose before translation",
			GlobalModelID: "llama3:8b",
			GlobalLLMOverrideParameters: map[string]any{
				"temperature": 0.2,
			},
			Steps: []chainengine.PrivateStepRecord{
				{
					Order:    0,
					Enabled:  true,
					TaskType: chainengine.TaskTypeSummarize,
					Parameters: map[string]chainengine.ResolvedParameter{
						"length": {
							ParameterDefinition: chainengine.ParameterDefinition{
								Key:   "length",
								Type:  chainengine.ParameterChoice,
								Label: "Length",
							},
							Value: "short",
						},
					},
					InputSource: chainengine.InputSourceText,
					PostProcessingRules: []chainengine.Rule{
						{Kind: chainengine.RuleKindTrim},
						{Kind: chainengine.RuleKindReplace, Pattern: "\r\n", Replacement: "\n"},
					},
					LLMOverrideParameters: map[string]any{
						"top_p": 0.9,
					},
				},
				{
					Order:       2,
					Enabled:     true,
					TaskType:    chainengine.TaskTypeTranslate,
					Parameters:  map[string]chainengine.ResolvedParameter{},
					InputSource: chainengine.InputPreviousOutput,
				},
			},
			TemplateAssociations: []chainengine.TemplateRefRecord{
				{TemplateID: uuid.NewString(), Order: 1, Enabled: true},
			},
		},
	}
}

func TestUnit_ChainStore_CreateAndGetChain(t *testing.T) {
	ctx, s := SetupStore(t)

	chain := sampleChain("polish-pass")
	require.NoError(t, s.CreateChain(ctx, chain))
	require.False(t, chain.CreatedAt.IsZero())
	require.False(t, chain.UpdatedAt.IsZero())

	got, err := s.GetChain(ctx, chain.ID)
	require.NoError(t, err)
	require.Equal(t, chain.ID, got.ID)
	require.Equal(t, chain.Name, got.Name)
	require.Equal(t, chain.Description, got.Description)
	require.Equal(t, chain.GlobalModelID, got.GlobalModelID)
	require.Len(t, got.Steps, 2)
	require.Len(t, got.TemplateAssociations, 1)

	// step records survive the JSONB round-trip intact
	require.Equal(t, chainengine.TaskTypeSummarize, got.Steps[0].TaskType)
	require.Equal(t, "short", got.Steps[0].Parameters["length"].Value)
	require.Len(t, got.Steps[0].PostProcessingRules, 2)
	require.Equal(t, chainengine.RuleKindReplace, got.Steps[0].PostProcessingRules[1].Kind)
	require.Equal(t, 0.9, got.Steps[0].LLMOverrideParameters["top_p"])
	require.Equal(t, chainengine.InputPreviousOutput, got.Steps[1].InputSource)

	require.Equal(t, chain.TemplateAssociations[0].TemplateID, got.TemplateAssociations[0].TemplateID)
	require.Equal(t, 1, got.TemplateAssociations[0].Order)
}

func TestUnit_ChainStore_GetChainNotFound(t *testing.T) {
	ctx, s := SetupStore(t)

	_, err := s.GetChain(ctx, uuid.NewString())
	require.ErrorIs(t, err, chainstore.ErrNotFound)
}

func TestUnit_ChainStore_UpdateChainReplacesSteps(t *testing.T) {
	ctx, s := SetupStore(t)

	chain := sampleChain("rewrite-pass")
	require.NoError(t, s.CreateChain(ctx, chain))

	chain.Name = "rewrite-pass-v2"
	chain.Steps = []chainengine.PrivateStepRecord{
		{
			Order:       0,
			Enabled:     false,
			TaskType:    chainengine.TaskTypeProofread,
			Parameters:  map[string]chainengine.ResolvedParameter{},
			InputSource: chainengine.InputSourceText,
		},
	}
	chain.TemplateAssociations = nil
	require.NoError(t, s.UpdateChain(ctx, chain))

	got, err := s.GetChain(ctx, chain.ID)
	require.NoError(t, err)
	require.Equal(t, "rewrite-pass-v2", got.Name)
	require.Len(t, got.Steps, 1)
	require.Equal(t, chainengine.TaskTypeProofread, got.Steps[0].TaskType)
	require.False(t, got.Steps[0].Enabled)
	require.Empty(t, got.TemplateAssociations)
	require.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))
}

func TestUnit_ChainStore_UpdateChainNotFound(t *testing.T) {
	ctx, s := SetupStore(t)

	chain := sampleChain("ghost")
	err := s.UpdateChain(ctx, chain)
	require.ErrorIs(t, err, chainstore.ErrNotFound)
}

func TestUnit_ChainStore_DeleteChain(t *testing.T) {
	ctx, s := SetupStore(t)

	chain := sampleChain("short-lived")
	require.NoError(t, s.CreateChain(ctx, chain))
	require.NoError(t, s.DeleteChain(ctx, chain.ID))

	_, err := s.GetChain(ctx, chain.ID)
	require.ErrorIs(t, err, chainstore.ErrNotFound)

	err = s.DeleteChain(ctx, chain.ID)
	require.ErrorIs(t, err, chainstore.ErrNotFound)
}

func TestUnit_ChainStore_ListChains(t *testing.T) {
	ctx, s := SetupStore(t)

	names := []string{"alpha", "beta", "gamma"}
	for _, name := range names {
		require.NoError(t, s.CreateChain(ctx, sampleChain(name)))
		time.Sleep(10 * time.Millisecond)
	}

	cursor := time.Now().UTC().Add(1 * time.Hour)
	page, err := s.ListChains(ctx, &cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	// newest first
	require.Equal(t, "gamma", page[0].Name)
	require.Equal(t, "beta", page[1].Name)
	require.Equal(t, 3, page[0].StepCount)

	next := page[len(page)-1].CreatedAt
	rest, err := s.ListChains(ctx, &next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "alpha", rest[0].Name)
}

func TestUnit_ChainStore_ListChainsLimitExceeded(t *testing.T) {
	ctx, s := SetupStore(t)

	cursor := time.Now().UTC().Add(1 * time.Hour)
	_, err := s.ListChains(ctx, &cursor, chainstore.MAXLIMIT+1)
	require.ErrorIs(t, err, chainstore.ErrLimitParamExceeded)
}

func TestUnit_ChainStore_EstimateAndEnforceRowCount(t *testing.T) {
	ctx, s := SetupStore(t)

	require.NoError(t, s.CreateChain(ctx, sampleChain("counted")))

	count, err := s.EstimateChainCount(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, int64(0))

	require.NoError(t, s.EnforceMaxRowCount(ctx, count+10))
}
