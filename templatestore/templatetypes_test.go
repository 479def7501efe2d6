package templatestore_test

import (
	"testing"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/templatestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleTemplate(name string) *chainengine.TemplateSnapshot {
	return &chainengine.TemplateSnapshot{
		ID:          uuid.NewString(),
		Name:        name,
		TaskType:    chainengine.TaskTypeRewrite,
		Description: "house style rewrite",
		ParameterSchema: map[string]chainengine.ParameterDefinition{
			"tone": {
				Key:   "tone",
				Type:  chainengine.ParameterChoice,
				Label: "Tone",
				Config: &chainengine.ParameterConfig{
					Choices:      []string{"formal", "casual"},
					DefaultValue: "formal",
				},
			},
			"intensity": {
				Key:   "intensity",
				Type:  chainengine.ParameterNumber,
				Label: "Intensity",
			},
		},
	}
}

func TestUnit_TemplateStore_CreateAndGetTemplate(t *testing.T) {
	ctx, s := SetupStore(t)

	tmpl := sampleTemplate("house-rewrite")
	require.NoError(t, s.CreateTemplate(ctx, tmpl))
	require.False(t, tmpl.CreatedAt.IsZero())

	got, err := s.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, tmpl.ID, got.ID)
	require.Equal(t, tmpl.Name, got.Name)
	require.Equal(t, chainengine.TaskTypeRewrite, got.TaskType)
	require.Len(t, got.ParameterSchema, 2)
	require.Equal(t, chainengine.ParameterChoice, got.ParameterSchema["tone"].Type)
	require.Equal(t, []string{"formal", "casual"}, got.ParameterSchema["tone"].Config.Choices)
	require.Equal(t, "formal", got.ParameterSchema["tone"].Config.DefaultValue)
}

func TestUnit_TemplateStore_GetTemplateNotFound(t *testing.T) {
	ctx, s := SetupStore(t)

	_, err := s.GetTemplate(ctx, uuid.NewString())
	require.ErrorIs(t, err, templatestore.ErrNotFound)
}

func TestUnit_TemplateStore_UpdateTemplate(t *testing.T) {
	ctx, s := SetupStore(t)

	tmpl := sampleTemplate("draft")
	require.NoError(t, s.CreateTemplate(ctx, tmpl))

	tmpl.Name = "draft-v2"
	tmpl.TaskType = chainengine.TaskTypeProofread
	tmpl.ParameterSchema = nil
	require.NoError(t, s.UpdateTemplate(ctx, tmpl))

	got, err := s.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, "draft-v2", got.Name)
	require.Equal(t, chainengine.TaskTypeProofread, got.TaskType)
	require.Empty(t, got.ParameterSchema)
}

func TestUnit_TemplateStore_UpdateTemplateNotFound(t *testing.T) {
	ctx, s := SetupStore(t)

	err := s.UpdateTemplate(ctx, sampleTemplate("ghost"))
	require.ErrorIs(t, err, templatestore.ErrNotFound)
}

func TestUnit_TemplateStore_DeleteTemplate(t *testing.T) {
	ctx, s := SetupStore(t)

	tmpl := sampleTemplate("short-lived")
	require.NoError(t, s.CreateTemplate(ctx, tmpl))
	require.NoError(t, s.DeleteTemplate(ctx, tmpl.ID))

	_, err := s.GetTemplate(ctx, tmpl.ID)
	require.ErrorIs(t, err, templatestore.ErrNotFound)

	err = s.DeleteTemplate(ctx, tmpl.ID)
	require.ErrorIs(t, err, templatestore.ErrNotFound)
}

func TestUnit_TemplateStore_ListTemplates(t *testing.T) {
	ctx, s := SetupStore(t)

	names := []string{"alpha", "beta", "gamma"}
	for _, name := range names {
		require.NoError(t, s.CreateTemplate(ctx, sampleTemplate(name)))
		time.Sleep(10 * time.Millisecond)
	}

	cursor := time.Now().UTC().Add(1 * time.Hour)
	page, err := s.ListTemplates(ctx, &cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "gamma", page[0].Name)
	require.Equal(t, "beta", page[1].Name)

	next := page[len(page)-1].CreatedAt
	rest, err := s.ListTemplates(ctx, &next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "alpha", rest[0].Name)
}

func TestUnit_TemplateStore_ListTemplatesLimitExceeded(t *testing.T) {
	ctx, s := SetupStore(t)

	cursor := time.Now().UTC().Add(1 * time.Hour)
	_, err := s.ListTemplates(ctx, &cursor, templatestore.MAXLIMIT+1)
	require.ErrorIs(t, err, templatestore.ErrLimitParamExceeded)
}
