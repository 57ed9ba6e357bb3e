package workflow

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directive keys recognized in node notes.
const (
	directiveCapResults = "CAP_RESULTS_LENGTH"
	directiveIgnored    = "IGNORED_PROPERTIES"
	directiveKeepOnly   = "KEEP_ONLY_PROPERTIES"
)

// Rules are the redaction directives for a single node.
type Rules struct {
	// CapResults truncates each item-group to at most this many items.
	CapResults *int

	// IgnoredProperties are deleted from every item's json payload.
	IgnoredProperties []string

	// KeepOnlyProperties rebuilds the json payload keeping only these
	// fields. Applied after IgnoredProperties and wins on overlap.
	KeepOnlyProperties []string
}

// Empty reports whether no directive is set.
func (r Rules) Empty() bool {
	return r.CapResults == nil && len(r.IgnoredProperties) == 0 && len(r.KeepOnlyProperties) == 0
}

// RuleSet maps node name to its rules. Derived per run, never persisted.
type RuleSet map[string]Rules

// ParseNodeRules extracts redaction rules from every node's notes field.
// Lines are split on the first "="; unknown keys and malformed lines are
// ignored so existing free-text annotations keep working.
func ParseNodeRules(def Definition) RuleSet {
	rules := make(RuleSet)
	for _, node := range def.Nodes {
		r := parseNotes(node.Notes)
		if !r.Empty() {
			rules[node.Name] = r
		}
	}
	return rules
}

func parseNotes(notes string) Rules {
	var r Rules
	for _, line := range strings.Split(notes, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case directiveCapResults:
			r.CapResults = capValue(value)
		case directiveIgnored:
			r.IgnoredProperties = splitList(value)
		case directiveKeepOnly:
			r.KeepOnlyProperties = splitList(value)
		}
	}
	return r
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Overrides supply or replace node rules per workflow id from a YAML file,
// taking precedence over notes-derived directives.
type Overrides struct {
	Workflows map[string]WorkflowOverride `yaml:"workflows"`
}

// WorkflowOverride holds the per-node rule overrides for one workflow.
type WorkflowOverride struct {
	Nodes map[string]RuleOverride `yaml:"nodes"`
}

// RuleOverride mirrors Rules with optional fields; only set fields replace
// the notes-derived value.
type RuleOverride struct {
	CapResults         *int     `yaml:"cap_results,omitempty"`
	IgnoredProperties  []string `yaml:"ignored_properties,omitempty"`
	KeepOnlyProperties []string `yaml:"keep_only_properties,omitempty"`
}

// LoadOverrides reads the rule-override file. Unknown fields are rejected to
// catch typos. A missing path yields nil overrides.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}

	var ov Overrides
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&ov); err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}
	return &ov, nil
}

// Merge applies the overrides for the given workflow id onto a notes-derived
// rule set, returning the effective rules.
func (o *Overrides) Merge(workflowID string, rules RuleSet) RuleSet {
	if o == nil {
		return rules
	}
	wf, ok := o.Workflows[workflowID]
	if !ok {
		return rules
	}

	merged := make(RuleSet, len(rules))
	for name, r := range rules {
		merged[name] = r
	}
	for name, ov := range wf.Nodes {
		r := merged[name]
		if ov.CapResults != nil {
			r.CapResults = ov.CapResults
		}
		if ov.IgnoredProperties != nil {
			r.IgnoredProperties = ov.IgnoredProperties
		}
		if ov.KeepOnlyProperties != nil {
			r.KeepOnlyProperties = ov.KeepOnlyProperties
		}
		merged[name] = r
	}
	return merged
}
