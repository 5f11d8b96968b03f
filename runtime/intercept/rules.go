// Package intercept implements the tool-result interception stage: it watches
// an agent's update stream for registered state-producing tool calls,
// correlates each call with its result, and inserts a synthetic snapshot or
// delta event immediately after the event carrying the result. The original
// stream passes through untouched and in order.
package intercept

import (
	"fmt"

	"gopkg.in/yaml.v3"
	"goa.design/statesync/runtime/update"
)

type (
	// Kind selects the media kind of the synthetic events emitted for a
	// tool's results.
	Kind string

	// Rules maps tool names to the emission kind of their results. Tools
	// absent from the map are ignored by the emitter.
	Rules map[string]Kind
)

// Emission kinds.
const (
	// KindSnapshot marks tool results that carry a complete state document.
	KindSnapshot Kind = "snapshot"
	// KindDelta marks tool results that carry a JSON-Patch document.
	KindDelta Kind = "delta"
)

// MediaKind returns the update media kind for synthetic events of this kind.
func (k Kind) MediaKind() update.MediaKind {
	if k == KindDelta {
		return update.MediaDelta
	}
	return update.MediaSnapshot
}

// RulesFromYAML parses an emission rules document of the form:
//
//	create_plan: snapshot
//	update_plan: delta
//
// Unknown emission kinds are rejected.
func RulesFromYAML(data []byte) (Rules, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("intercept: parse rules: %w", err)
	}
	rules := make(Rules, len(raw))
	for tool, kind := range raw {
		switch Kind(kind) {
		case KindSnapshot, KindDelta:
			rules[tool] = Kind(kind)
		default:
			return nil, fmt.Errorf("intercept: tool %q: unknown emission kind %q", tool, kind)
		}
	}
	return rules, nil
}
