package execbackend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chainscribe/chainscribe/chainengine"
)

// systemInstructions maps built-in task types to the fixed system prompt
// the local runner sends alongside the step parameters.
var systemInstructions = map[string]string{
	chainengine.TaskTypeSummarize: "You are a text transformation engine. Summarize the given text. Return only the summary.",
	chainengine.TaskTypeRewrite:   "You are a text transformation engine. Rewrite the given text per the stated settings. Return only the rewritten text.",
	chainengine.TaskTypeTranslate: "You are a text transformation engine. Translate the given text. Return only the translation.",
	chainengine.TaskTypeExpand:    "You are a text transformation engine. Expand the given text per the stated settings. Return only the expanded text.",
	chainengine.TaskTypeProofread: "You are a text transformation engine. Correct grammar, spelling, and punctuation without changing meaning. Return only the corrected text.",
	chainengine.TaskTypeCustom:    "You are a text transformation engine. Follow the instruction exactly. Return only the transformed text.",
}

// buildPrompt renders one step's prompt from its record and input text.
// Parameters are listed in sorted key order so identical steps always
// produce identical prompts.
func buildPrompt(record chainengine.PrivateStepRecord, input string) (system string, prompt string) {
	system, ok := systemInstructions[record.TaskType]
	if !ok {
		system = systemInstructions[chainengine.TaskTypeCustom]
	}

	var sb strings.Builder
	if len(record.Parameters) > 0 {
		keys := make([]string, 0, len(record.Parameters))
		for k := range record.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Settings:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, record.Parameters[k].Value)
		}
		sb.WriteString("\n")
	}
	if record.CustomInstruction != "" {
		sb.WriteString("Instruction: ")
		sb.WriteString(record.CustomInstruction)
		sb.WriteString("\n\n")
	}
	if record.GenerationConstraints != nil {
		c := record.GenerationConstraints
		if c.MinWords > 0 || c.MaxWords > 0 {
			fmt.Fprintf(&sb, "Length: between %d and %d words.\n\n", c.MinWords, c.MaxWords)
		}
	}
	sb.WriteString("Text:\n")
	sb.WriteString(input)
	return system, sb.String()
}
