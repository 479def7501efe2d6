package chainengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/google/uuid"
)

// TemplateFetcher resolves template snapshots from the template store.
type TemplateFetcher interface {
	GetTemplate(ctx context.Context, id string) (*TemplateSnapshot, error)
}

// Assembler converts between the stored chain representation and a live
// StepList, and between a StepList and the save/execute payload.
type Assembler struct {
	catalog *Catalog
}

// NewAssembler returns an assembler resolving parameters against catalog.
func NewAssembler(catalog *Catalog) *Assembler {
	return &Assembler{catalog: catalog}
}

// FromStored merges a stored chain's private steps and template associations
// into one list ordered by each record's own order value, then re-indexes to
// 0..n-1 in that merged order. Ties on equal order are broken private before
// template for determinism. Template associations without a loaded snapshot
// get a placeholder name until HydrateTemplates resolves them.
func (a *Assembler) FromStored(chain *ChainPayload) (*StepList, error) {
	if chain == nil {
		return nil, fmt.Errorf("assemble from stored chain: %w", ErrNotFound)
	}

	type mergedEntry struct {
		order    int
		kindRank int
		step     Step
	}
	entries := make([]mergedEntry, 0, len(chain.Steps)+len(chain.TemplateAssociations))

	for _, record := range chain.Steps {
		private, err := privateStepFromRecord(record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, mergedEntry{
			order:    record.Order,
			kindRank: 0,
			step: Step{
				LocalID: uuid.NewString(),
				Enabled: record.Enabled,
				Kind:    StepKindPrivate,
				Private: private,
			},
		})
	}
	for _, record := range chain.TemplateAssociations {
		entries = append(entries, mergedEntry{
			order:    record.Order,
			kindRank: 1,
			step: Step{
				LocalID: uuid.NewString(),
				Enabled: record.Enabled,
				Kind:    StepKindTemplateRef,
				TemplateRef: &TemplateRefStep{
					TemplateID: record.TemplateID,
					Cached: &TemplateSnapshot{
						ID:   record.TemplateID,
						Name: placeholderTemplateName(record.TemplateID),
					},
				},
			},
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		return entries[i].kindRank < entries[j].kindRank
	})

	list := NewStepList()
	list.steps = make([]Step, len(entries))
	for i, e := range entries {
		list.steps[i] = e.step
	}
	list.normalize()
	return list, nil
}

// HydrateTemplates fetches the full template definition for every template
// reference whose cached schema is missing or empty. A failed fetch degrades
// that single step to a named, schema-less placeholder and records a
// warning; it does not abort hydration of the remaining steps. The returned
// warnings describe the partial failures.
func (a *Assembler) HydrateTemplates(ctx context.Context, list *StepList, fetcher TemplateFetcher) ([]string, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("hydrate templates: fetcher is nil")
	}
	var warnings []string
	for i := range list.steps {
		step := &list.steps[i]
		if step.Kind != StepKindTemplateRef || step.TemplateRef == nil {
			continue
		}
		ref := step.TemplateRef
		if ref.Cached != nil && len(ref.Cached.ParameterSchema) > 0 {
			continue
		}
		snapshot, err := fetcher.GetTemplate(ctx, ref.TemplateID)
		if err != nil {
			ref.Cached = &TemplateSnapshot{
				ID:   ref.TemplateID,
				Name: placeholderTemplateName(ref.TemplateID),
			}
			warnings = append(warnings, fmt.Sprintf("template %s unavailable: %v", ref.TemplateID, err))
			continue
		}
		ref.Cached = snapshot
	}
	list.normalize()
	return warnings, nil
}

// ToPayload serializes chain metadata and the step list into the wire
// payload. Steps are split into private-step records carrying their resolved
// parameter maps and template-reference records; both arrays carry the final
// list position as their order, independent of kind-local numbering.
// User-entered override JSON is parsed here; malformed JSON is a validation
// error and never crashes assembly.
func (a *Assembler) ToPayload(chain *RuleChain, list *StepList) (*ChainPayload, error) {
	if chain == nil || strings.TrimSpace(chain.Name) == "" {
		return nil, NewValidationError("name", "chain name is required", nil)
	}

	globalOverrides, err := parseOverrideJSON("globalLlmOverrideParams", chain.GlobalLLMOverrideJSON)
	if err != nil {
		return nil, err
	}
	if globalOverrides == nil {
		globalOverrides = map[string]any{}
	}

	payload := &ChainPayload{
		ID:                          chain.ID,
		Name:                        chain.Name,
		Description:                 chain.Description,
		IsTemplate:                  chain.IsTemplate,
		NovelID:                     chain.NovelID,
		GlobalModelID:               chain.GlobalModelID,
		GlobalLLMOverrideParameters: globalOverrides,
		GlobalGenerationConstraints: chain.GlobalConstraints,
		Steps:                       []PrivateStepRecord{},
		TemplateAssociations:        []TemplateRefRecord{},
	}

	for _, step := range list.steps {
		switch step.Kind {
		case StepKindPrivate:
			record, err := a.privateRecord(step, globalOverrides)
			if err != nil {
				return nil, err
			}
			payload.Steps = append(payload.Steps, record)
		case StepKindTemplateRef:
			payload.TemplateAssociations = append(payload.TemplateAssociations, TemplateRefRecord{
				TemplateID: step.TemplateRef.TemplateID,
				Order:      step.Order,
				Enabled:    step.Enabled,
			})
		default:
			return nil, fmt.Errorf("serialize step %q of kind %q: %w", step.LocalID, step.Kind, ErrInvalidStepKind)
		}
	}
	return payload, nil
}

func (a *Assembler) privateRecord(step Step, globalOverrides map[string]any) (PrivateStepRecord, error) {
	private := step.Private
	schema, ok := a.catalog.SchemaFor(private.TaskType)
	if !ok {
		return PrivateStepRecord{}, NewValidationError("taskType",
			fmt.Sprintf("unknown task type %q", private.TaskType), ErrNotFound)
	}

	stepOverrides, err := parseOverrideJSON(fmt.Sprintf("step %q llmOverrideParams", step.LocalID), private.LLMOverrideJSON)
	if err != nil {
		return PrivateStepRecord{}, err
	}
	// Step-level overrides win; global values fill the gaps.
	if len(globalOverrides) > 0 {
		if stepOverrides == nil {
			stepOverrides = map[string]any{}
		}
		if err := mergo.Merge(&stepOverrides, globalOverrides); err != nil {
			return PrivateStepRecord{}, fmt.Errorf("merge llm overrides for step %q: %w", step.LocalID, err)
		}
	}

	return PrivateStepRecord{
		PersistedID:           private.PersistedID,
		Order:                 step.Order,
		Enabled:               step.Enabled,
		TaskType:              private.TaskType,
		Parameters:            ResolveParameters(schema, private.ParameterValues),
		CustomInstruction:     private.CustomInstruction,
		PostProcessingRules:   private.PostProcessingRules,
		InputSource:           private.InputSource,
		ModelOverride:         private.ModelOverride,
		LLMOverrideParameters: stepOverrides,
		GenerationConstraints: private.GenerationConstraints,
		OutputVariableName:    private.OutputVariableName,
		Description:           private.Description,
	}, nil
}

// parseOverrideJSON parses a user-entered override field. Empty text means
// no overrides; anything else must be a JSON object.
func parseOverrideJSON(field, text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, NewValidationError(field, "not a valid JSON object", fmt.Errorf("%w: %v", ErrInvalidOverrideJSON, err))
	}
	return parsed, nil
}

func privateStepFromRecord(record PrivateStepRecord) (*PrivateStep, error) {
	private := &PrivateStep{
		TaskType:              record.TaskType,
		ParameterValues:       parameterValuesFromResolved(record.Parameters),
		CustomInstruction:     record.CustomInstruction,
		PostProcessingRules:   record.PostProcessingRules,
		InputSource:           record.InputSource,
		ModelOverride:         record.ModelOverride,
		GenerationConstraints: record.GenerationConstraints,
		OutputVariableName:    record.OutputVariableName,
		Description:           record.Description,
		PersistedID:           record.PersistedID,
	}
	if len(record.LLMOverrideParameters) > 0 {
		encoded, err := json.Marshal(record.LLMOverrideParameters)
		if err != nil {
			return nil, fmt.Errorf("encode llm overrides for stored step %d: %w", record.PersistedID, err)
		}
		private.LLMOverrideJSON = string(encoded)
	}
	return private, nil
}

// parameterValuesFromResolved strips resolved parameters back down to their
// bare values for editing.
func parameterValuesFromResolved(params map[string]ResolvedParameter) map[string]any {
	if len(params) == 0 {
		return nil
	}
	values := make(map[string]any, len(params))
	for key, param := range params {
		if nested, ok := param.Value.(map[string]ResolvedParameter); ok {
			values[key] = parameterValuesFromResolved(nested)
			continue
		}
		values[key] = param.Value
	}
	return values
}

func placeholderTemplateName(id string) string {
	return fmt.Sprintf("template %s", id)
}
