package chainengine

import (
	"fmt"
	"sort"
	"sync"
)

// ParameterType enumerates the value shapes a parameter definition can take.
type ParameterType string

const (
	ParameterString  ParameterType = "string"
	ParameterNumber  ParameterType = "number"
	ParameterBoolean ParameterType = "boolean"
	ParameterChoice  ParameterType = "choice"
	ParameterObject  ParameterType = "object"
)

// ParameterConfig refines a parameter definition with a default value,
// multi-select behaviour for choices, and the allowed choice set.
type ParameterConfig struct {
	DefaultValue any      `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	IsMulti      bool     `json:"isMulti,omitempty" yaml:"isMulti,omitempty"`
	Choices      []string `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// ParameterDefinition is pure schema for one parameter of a task type. It
// never carries a value; values are bound by the resolver.
type ParameterDefinition struct {
	Key          string                         `json:"key" yaml:"key"`
	Type         ParameterType                  `json:"type" yaml:"type"`
	Label        string                         `json:"label" yaml:"label"`
	Description  string                         `json:"description,omitempty" yaml:"description,omitempty"`
	Config       *ParameterConfig               `json:"config,omitempty" yaml:"config,omitempty"`
	NestedSchema map[string]ParameterDefinition `json:"nestedSchema,omitempty" yaml:"nestedSchema,omitempty"`
}

// Built-in task types.
const (
	TaskTypeSummarize = "summarize"
	TaskTypeRewrite   = "rewrite"
	TaskTypeTranslate = "translate"
	TaskTypeExpand    = "expand"
	TaskTypeProofread = "proofread"
	TaskTypeCustom    = "custom"
)

// Catalog maps a task type to its parameter schema. The zero set of built-in
// schemas is seeded by NewCatalog; additional task types may be registered at
// startup. Safe for concurrent reads after registration.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]map[string]ParameterDefinition
}

// NewCatalog returns a catalog seeded with the built-in task types.
func NewCatalog() *Catalog {
	c := &Catalog{schemas: make(map[string]map[string]ParameterDefinition)}
	for taskType, schema := range builtinSchemas() {
		c.schemas[taskType] = schema
	}
	return c
}

// Register adds or replaces the schema for a task type.
func (c *Catalog) Register(taskType string, schema map[string]ParameterDefinition) error {
	if taskType == "" {
		return fmt.Errorf("chainengine: task type is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[taskType] = schema
	return nil
}

// SchemaFor returns the parameter schema for a task type.
func (c *Catalog) SchemaFor(taskType string) (map[string]ParameterDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.schemas[taskType]
	return schema, ok
}

// TaskTypes lists the registered task types in sorted order.
func (c *Catalog) TaskTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]string, 0, len(c.schemas))
	for t := range c.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func builtinSchemas() map[string]map[string]ParameterDefinition {
	return map[string]map[string]ParameterDefinition{
		TaskTypeSummarize: {
			"length": {
				Key:   "length",
				Type:  ParameterChoice,
				Label: "Summary length",
				Config: &ParameterConfig{
					DefaultValue: "medium",
					Choices:      []string{"short", "medium", "long"},
				},
			},
			"focus": {
				Key:         "focus",
				Type:        ParameterString,
				Label:       "Focus",
				Description: "Aspect of the text the summary should emphasize.",
			},
			"keepQuotes": {
				Key:    "keepQuotes",
				Type:   ParameterBoolean,
				Label:  "Keep direct quotes",
				Config: &ParameterConfig{DefaultValue: false},
			},
		},
		TaskTypeRewrite: {
			"tone": {
				Key:   "tone",
				Type:  ParameterChoice,
				Label: "Tone",
				Config: &ParameterConfig{
					DefaultValue: "neutral",
					Choices:      []string{"neutral", "formal", "casual", "dramatic"},
				},
			},
			"intensity": {
				Key:         "intensity",
				Type:        ParameterNumber,
				Label:       "Rewrite intensity",
				Description: "How far the rewrite may drift from the original, 0 to 1.",
				Config:      &ParameterConfig{DefaultValue: float64(0.5)},
			},
			"preserve": {
				Key:   "preserve",
				Type:  ParameterChoice,
				Label: "Elements to preserve",
				Config: &ParameterConfig{
					IsMulti: true,
					Choices: []string{"names", "dialogue", "structure", "terminology"},
				},
			},
		},
		TaskTypeTranslate: {
			"targetLanguage": {
				Key:    "targetLanguage",
				Type:   ParameterString,
				Label:  "Target language",
				Config: &ParameterConfig{DefaultValue: "en"},
			},
			"register": {
				Key:   "register",
				Type:  ParameterChoice,
				Label: "Register",
				Config: &ParameterConfig{
					DefaultValue: "standard",
					Choices:      []string{"standard", "literary", "technical"},
				},
			},
		},
		TaskTypeExpand: {
			"targetWords": {
				Key:    "targetWords",
				Type:   ParameterNumber,
				Label:  "Target word count",
				Config: &ParameterConfig{DefaultValue: float64(500)},
			},
			"detail": {
				Key:   "detail",
				Type:  ParameterObject,
				Label: "Detail emphasis",
				NestedSchema: map[string]ParameterDefinition{
					"sensory": {
						Key:    "sensory",
						Type:   ParameterBoolean,
						Label:  "Add sensory detail",
						Config: &ParameterConfig{DefaultValue: true},
					},
					"dialogue": {
						Key:    "dialogue",
						Type:   ParameterBoolean,
						Label:  "Expand dialogue",
						Config: &ParameterConfig{DefaultValue: false},
					},
					"weight": {
						Key:   "weight",
						Type:  ParameterNumber,
						Label: "Expansion weight",
					},
				},
			},
		},
		TaskTypeProofread: {
			"fixGrammar": {
				Key:    "fixGrammar",
				Type:   ParameterBoolean,
				Label:  "Fix grammar",
				Config: &ParameterConfig{DefaultValue: true},
			},
			"fixPunctuation": {
				Key:    "fixPunctuation",
				Type:   ParameterBoolean,
				Label:  "Fix punctuation",
				Config: &ParameterConfig{DefaultValue: true},
			},
			"dialect": {
				Key:   "dialect",
				Type:  ParameterChoice,
				Label: "Dialect",
				Config: &ParameterConfig{
					Choices: []string{"en-US", "en-GB"},
				},
			},
		},
		TaskTypeCustom: {
			"instruction": {
				Key:         "instruction",
				Type:        ParameterString,
				Label:       "Instruction",
				Description: "Free-form instruction sent to the model verbatim.",
			},
		},
	}
}
