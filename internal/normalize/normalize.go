// Package normalize strips non-deterministic content from execution traces
// so they can be compared across runs.
package normalize

import (
	"github.com/calvw/flowcheck/internal/workflow"
)

// DefaultVolatileFields are stripped from every object in the trace,
// whatever its depth: execution timing, container identity and run counters
// change on every execution. The list is a default; deployments can override
// it through configuration.
var DefaultVolatileFields = []string{
	"startTime",
	"executionTime",
	"executionDuration",
	"executionIndex",
	"executionStatus",
	"containerId",
	"source",
	"hints",
}

// ArrayMarker is the placeholder shallow mode substitutes for array-valued
// payload fields. A fresh value is returned each call because traces are
// mutated in place.
func ArrayMarker() []any { return []any{"<array>"} }

// ObjectMarker is the placeholder shallow mode substitutes for object-valued
// payload fields.
func ObjectMarker() map[string]any { return map[string]any{"<object>": true} }

// Normalizer rewrites an execution trace in place.
type Normalizer struct {
	// VolatileFields overrides DefaultVolatileFields when non-nil.
	VolatileFields []string

	// Shallow collapses nested payload values to fixed markers after rule
	// application.
	Shallow bool
}

// Normalize mutates result: volatile fields are stripped everywhere, then
// node rules are applied to each item-group, then shallow mode (if enabled)
// collapses what remains. Normalization is idempotent.
func (n *Normalizer) Normalize(result map[string]any, rules workflow.RuleSet) {
	fields := n.VolatileFields
	if fields == nil {
		fields = DefaultVolatileFields
	}
	volatile := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		volatile[f] = struct{}{}
	}

	stripVolatile(result, volatile)

	runData := runData(result)
	for nodeName, runsVal := range runData {
		runs, ok := runsVal.([]any)
		if !ok {
			continue
		}
		n.normalizeRuns(runs, rules[nodeName])
	}
}

// runData digs out data.resultData.runData; an absent or differently shaped
// tree yields nil and normalization of rules is a no-op.
func runData(result map[string]any) map[string]any {
	data, _ := result["data"].(map[string]any)
	resultData, _ := data["resultData"].(map[string]any)
	rd, _ := resultData["runData"].(map[string]any)
	return rd
}

// normalizeRuns applies rules and shallow collapse to every run of one node.
// Cap applies first; then keep-only rebuilds the payload, taking precedence
// over the ignore list on overlap, and the ignore list deletes fields only
// when no keep list is set. Shallow collapse runs for every item in every
// output channel, with or without node rules.
func (n *Normalizer) normalizeRuns(runs []any, rules workflow.Rules) {
	for _, runVal := range runs {
		run, ok := runVal.(map[string]any)
		if !ok {
			continue
		}
		channels, ok := run["data"].(map[string]any)
		if !ok {
			continue
		}

		for name, channelVal := range channels {
			groups, ok := channelVal.([]any)
			if !ok {
				continue
			}
			for gi, groupVal := range groups {
				group, ok := groupVal.([]any)
				if !ok {
					continue
				}
				if rules.CapResults != nil && len(group) > *rules.CapResults {
					group = group[:*rules.CapResults]
					groups[gi] = group
				}
				for _, itemVal := range group {
					n.normalizeItem(itemVal, rules)
				}
			}
			channels[name] = groups
		}
	}
}

func (n *Normalizer) normalizeItem(itemVal any, rules workflow.Rules) {
	item, ok := itemVal.(map[string]any)
	if !ok {
		return
	}
	payload, ok := item["json"].(map[string]any)
	if !ok {
		return
	}

	// Keep-only wins over the ignore list: a field named on both survives,
	// so the kept payload is built before any ignored field is deleted.
	if len(rules.KeepOnlyProperties) > 0 {
		kept := make(map[string]any, len(rules.KeepOnlyProperties))
		for _, field := range rules.KeepOnlyProperties {
			if v, ok := payload[field]; ok {
				kept[field] = v
			}
		}
		item["json"] = kept
		payload = kept
	} else {
		for _, field := range rules.IgnoredProperties {
			delete(payload, field)
		}
	}

	if n.Shallow {
		collapse(payload)
	}
}

// collapse replaces every remaining nested value with its fixed marker.
func collapse(payload map[string]any) {
	for k, v := range payload {
		switch v.(type) {
		case []any:
			payload[k] = ArrayMarker()
		case map[string]any:
			payload[k] = ObjectMarker()
		}
	}
}

// stripVolatile removes volatile field names from every object at every
// depth, descending through arrays as well.
func stripVolatile(v any, volatile map[string]struct{}) {
	switch val := v.(type) {
	case map[string]any:
		for k := range val {
			if _, drop := volatile[k]; drop {
				delete(val, k)
				continue
			}
			stripVolatile(val[k], volatile)
		}
	case []any:
		for _, elem := range val {
			stripVolatile(elem, volatile)
		}
	}
}
