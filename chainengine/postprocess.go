package chainengine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"
)

// scriptTimeout bounds a post-processing script run. Scripts transform a
// single step output and have no business running longer.
const scriptTimeout = 500 * time.Millisecond

// ApplyRules runs a step's post-processing rules over its output text in
// order. A failing rule stops the sequence and returns the text as
// transformed so far alongside the error.
func ApplyRules(output string, rules []Rule) (string, error) {
	var err error
	for i, rule := range rules {
		output, err = applyRule(output, rule)
		if err != nil {
			return output, fmt.Errorf("post-processing rule %d (%s): %w", i, rule.Kind, err)
		}
	}
	return output, nil
}

func applyRule(output string, rule Rule) (string, error) {
	switch rule.Kind {
	case RuleKindTrim:
		return strings.TrimSpace(output), nil
	case RuleKindReplace:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return output, fmt.Errorf("compile pattern %q: %w", rule.Pattern, err)
		}
		return re.ReplaceAllString(output, rule.Replacement), nil
	case RuleKindJSONPath:
		return applyJSONPath(output, rule.Path)
	case RuleKindScript:
		return applyScript(output, rule.Script)
	default:
		return output, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

func applyJSONPath(output, path string) (string, error) {
	var doc any
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		return output, fmt.Errorf("step output is not json: %w", err)
	}
	result, err := jsonpath.Get(path, doc)
	if err != nil {
		return output, fmt.Errorf("evaluate %q: %w", path, err)
	}
	return stringifyJSONValue(result)
}

func stringifyJSONValue(v any) (string, error) {
	switch value := v.(type) {
	case nil:
		return "", nil
	case string:
		return value, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("encode jsonpath result: %w", err)
		}
		return string(encoded), nil
	}
}

// applyScript runs the transform in a sandboxed VM. The script sees the step
// output as the global `output` and its final expression value becomes the
// new output.
func applyScript(output, script string) (string, error) {
	vm := goja.New()
	if err := vm.Set("output", output); err != nil {
		return output, fmt.Errorf("prepare vm: %w", err)
	}
	timer := time.AfterFunc(scriptTimeout, func() {
		vm.Interrupt("script timeout")
	})
	defer timer.Stop()

	value, err := vm.RunString(script)
	if err != nil {
		return output, fmt.Errorf("run script: %w", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return output, nil
	}
	return value.String(), nil
}
