package chainengine

// ResolvedParameter co-locates a parameter definition with its bound value,
// matching the shape the execution backend expects.
type ResolvedParameter struct {
	ParameterDefinition
	Value any `json:"value" yaml:"value"`
}

// ResolveParameters merges a parameter schema with user-entered raw values
// into a request-ready map. For every key of the schema the value is taken
// in precedence order: the explicit raw value when present and non-nil, the
// schema's configured default, then a type-driven empty default. Object
// parameters resolve their nested schema recursively the same way. Keys in
// the raw map that the schema does not know are dropped; the schema is
// authoritative.
//
// When a step's task type changes, callers must re-resolve with an empty raw
// map so values from the previous task's schema are never carried over.
func ResolveParameters(schema map[string]ParameterDefinition, raw map[string]any) map[string]ResolvedParameter {
	resolved := make(map[string]ResolvedParameter, len(schema))
	for key, def := range schema {
		resolved[key] = ResolvedParameter{
			ParameterDefinition: def,
			Value:               resolveValue(def, raw[key]),
		}
	}
	return resolved
}

func resolveValue(def ParameterDefinition, rawValue any) any {
	if def.Type == ParameterObject {
		nestedRaw, _ := rawValue.(map[string]any)
		return ResolveParameters(def.NestedSchema, nestedRaw)
	}
	if rawValue != nil {
		return rawValue
	}
	if def.Config != nil && def.Config.DefaultValue != nil {
		return def.Config.DefaultValue
	}
	return emptyDefault(def)
}

// emptyDefault is the type-driven fallback used when neither a raw value nor
// a configured default exists.
func emptyDefault(def ParameterDefinition) any {
	switch def.Type {
	case ParameterBoolean:
		return false
	case ParameterString:
		return ""
	case ParameterChoice:
		if def.Config != nil && def.Config.IsMulti {
			return []any{}
		}
		return nil
	default:
		// Numbers stay unset rather than defaulting to zero, which would be
		// indistinguishable from a deliberate zero.
		return nil
	}
}
