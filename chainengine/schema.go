package chainengine

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// ParameterSchemaToOpenAPI renders a parameter schema as an openapi3 object
// schema so external form renderers can consume it without knowing the
// engine's types.
func ParameterSchemaToOpenAPI(schema map[string]ParameterDefinition) *openapi3.Schema {
	object := &openapi3.Schema{
		Type:       &openapi3.Types{openapi3.TypeObject},
		Properties: make(map[string]*openapi3.SchemaRef, len(schema)),
	}
	for key, def := range schema {
		object.Properties[key] = &openapi3.SchemaRef{Value: definitionToOpenAPI(def)}
	}
	return object
}

func definitionToOpenAPI(def ParameterDefinition) *openapi3.Schema {
	out := &openapi3.Schema{
		Title:       def.Label,
		Description: def.Description,
	}
	if def.Config != nil && def.Config.DefaultValue != nil {
		out.Default = def.Config.DefaultValue
	}

	switch def.Type {
	case ParameterString:
		out.Type = &openapi3.Types{openapi3.TypeString}
	case ParameterNumber:
		out.Type = &openapi3.Types{openapi3.TypeNumber}
	case ParameterBoolean:
		out.Type = &openapi3.Types{openapi3.TypeBoolean}
	case ParameterChoice:
		choice := &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeString}}
		if def.Config != nil {
			for _, c := range def.Config.Choices {
				choice.Enum = append(choice.Enum, c)
			}
		}
		if def.Config != nil && def.Config.IsMulti {
			out.Type = &openapi3.Types{openapi3.TypeArray}
			out.Items = &openapi3.SchemaRef{Value: choice}
		} else {
			out.Type = choice.Type
			out.Enum = choice.Enum
		}
	case ParameterObject:
		nested := ParameterSchemaToOpenAPI(def.NestedSchema)
		out.Type = nested.Type
		out.Properties = nested.Properties
	default:
		out.Type = &openapi3.Types{openapi3.TypeString}
	}
	return out
}
