package chainengine_test

import (
	"testing"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/require"
)

func TestUnit_ParameterSchemaToOpenAPI(t *testing.T) {
	catalog := chainengine.NewCatalog()
	schema, ok := catalog.SchemaFor(chainengine.TaskTypeRewrite)
	require.True(t, ok)

	out := chainengine.ParameterSchemaToOpenAPI(schema)
	require.True(t, out.Type.Is(openapi3.TypeObject))

	tone := out.Properties["tone"].Value
	require.True(t, tone.Type.Is(openapi3.TypeString))
	require.Contains(t, tone.Enum, "formal")
	require.Equal(t, "neutral", tone.Default)

	intensity := out.Properties["intensity"].Value
	require.True(t, intensity.Type.Is(openapi3.TypeNumber))

	preserve := out.Properties["preserve"].Value
	require.True(t, preserve.Type.Is(openapi3.TypeArray), "multi-choice renders as an array")
	require.Contains(t, preserve.Items.Value.Enum, "dialogue")
}

func TestUnit_ParameterSchemaToOpenAPI_NestedObject(t *testing.T) {
	catalog := chainengine.NewCatalog()
	schema, ok := catalog.SchemaFor(chainengine.TaskTypeExpand)
	require.True(t, ok)

	out := chainengine.ParameterSchemaToOpenAPI(schema)
	detail := out.Properties["detail"].Value
	require.True(t, detail.Type.Is(openapi3.TypeObject))
	require.Contains(t, detail.Properties, "sensory")
	require.True(t, detail.Properties["sensory"].Value.Type.Is(openapi3.TypeBoolean))
}
