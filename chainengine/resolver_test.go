package chainengine_test

import (
	"testing"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/stretchr/testify/require"
)

func TestUnit_ResolveParameters_EmptyRawMapCoversEverySchemaKey(t *testing.T) {
	catalog := chainengine.NewCatalog()

	for _, taskType := range catalog.TaskTypes() {
		schema, ok := catalog.SchemaFor(taskType)
		require.True(t, ok)

		resolved := chainengine.ResolveParameters(schema, nil)
		require.Len(t, resolved, len(schema), "task type %s", taskType)
		for key := range schema {
			require.Contains(t, resolved, key, "task type %s must resolve key %s", taskType, key)
		}
	}
}

func TestUnit_ResolveParameters_Precedence(t *testing.T) {
	schema := map[string]chainengine.ParameterDefinition{
		"tone": {
			Key:    "tone",
			Type:   chainengine.ParameterChoice,
			Config: &chainengine.ParameterConfig{DefaultValue: "neutral", Choices: []string{"neutral", "formal"}},
		},
		"focus": {
			Key:  "focus",
			Type: chainengine.ParameterString,
		},
		"strict": {
			Key:    "strict",
			Type:   chainengine.ParameterBoolean,
			Config: &chainengine.ParameterConfig{DefaultValue: true},
		},
	}

	resolved := chainengine.ResolveParameters(schema, map[string]any{
		"tone": "formal",
	})

	require.Equal(t, "formal", resolved["tone"].Value, "explicit value wins over default")
	require.Equal(t, "", resolved["focus"].Value, "string without default resolves to empty string")
	require.Equal(t, true, resolved["strict"].Value, "configured default applies when no value given")
}

func TestUnit_ResolveParameters_TypeDrivenEmptyDefaults(t *testing.T) {
	schema := map[string]chainengine.ParameterDefinition{
		"flag":   {Key: "flag", Type: chainengine.ParameterBoolean},
		"text":   {Key: "text", Type: chainengine.ParameterString},
		"count":  {Key: "count", Type: chainengine.ParameterNumber},
		"tags":   {Key: "tags", Type: chainengine.ParameterChoice, Config: &chainengine.ParameterConfig{IsMulti: true}},
		"choice": {Key: "choice", Type: chainengine.ParameterChoice},
	}

	resolved := chainengine.ResolveParameters(schema, nil)

	require.Equal(t, false, resolved["flag"].Value)
	require.Equal(t, "", resolved["text"].Value)
	require.Nil(t, resolved["count"].Value, "numbers stay unset instead of defaulting to zero")
	require.Equal(t, []any{}, resolved["tags"].Value)
	require.Nil(t, resolved["choice"].Value)
}

func TestUnit_ResolveParameters_NestedObject(t *testing.T) {
	schema := map[string]chainengine.ParameterDefinition{
		"detail": {
			Key:  "detail",
			Type: chainengine.ParameterObject,
			NestedSchema: map[string]chainengine.ParameterDefinition{
				"sensory": {
					Key:    "sensory",
					Type:   chainengine.ParameterBoolean,
					Config: &chainengine.ParameterConfig{DefaultValue: true},
				},
				"weight": {Key: "weight", Type: chainengine.ParameterNumber},
			},
		},
	}

	resolved := chainengine.ResolveParameters(schema, map[string]any{
		"detail": map[string]any{"weight": float64(2)},
	})

	nested, ok := resolved["detail"].Value.(map[string]chainengine.ResolvedParameter)
	require.True(t, ok, "object parameters resolve their nested schema recursively")
	require.Equal(t, true, nested["sensory"].Value)
	require.Equal(t, float64(2), nested["weight"].Value)
}

func TestUnit_ResolveParameters_SchemaIsAuthoritative(t *testing.T) {
	schema := map[string]chainengine.ParameterDefinition{
		"focus": {Key: "focus", Type: chainengine.ParameterString},
	}

	resolved := chainengine.ResolveParameters(schema, map[string]any{
		"focus":    "plot",
		"leftover": "from another task",
	})

	require.Len(t, resolved, 1)
	require.NotContains(t, resolved, "leftover")
}

func TestUnit_ResolveParameters_TaskTypeChangeResetsValues(t *testing.T) {
	catalog := chainengine.NewCatalog()

	summarizeSchema, ok := catalog.SchemaFor(chainengine.TaskTypeSummarize)
	require.True(t, ok)
	first := chainengine.ResolveParameters(summarizeSchema, map[string]any{"focus": "pacing"})
	require.Equal(t, "pacing", first["focus"].Value)

	// On task-type change the resolver runs with an empty raw map, never the
	// previous task's values.
	rewriteSchema, ok := catalog.SchemaFor(chainengine.TaskTypeRewrite)
	require.True(t, ok)
	second := chainengine.ResolveParameters(rewriteSchema, nil)

	for key := range summarizeSchema {
		require.NotContains(t, second, key, "no key of the previous schema may survive")
	}
	require.Len(t, second, len(rewriteSchema))
}
