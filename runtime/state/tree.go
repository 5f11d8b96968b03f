// Package state implements the generic JSON tree that clients hold as their
// synchronized state, together with the patch engine that mutates it. The tree
// is schema-less: it is the plain encoding/json representation of a JSON value
// (map[string]any for objects, []any for arrays, string/float64/bool/nil for
// scalars). Consumers interpret the tree as a plan, recipe, document, or any
// other shape; this package never assumes one.
//
// All functions are pure: they never mutate their inputs and are safe to call
// concurrently from independent runs.
package state

import (
	"encoding/json"
	"fmt"
)

// FromSnapshot decodes a full-state snapshot document into a generic tree.
// The document must be a valid JSON value; objects, arrays and scalars are
// all accepted.
func FromSnapshot(doc []byte) (any, error) {
	var tree any
	if err := json.Unmarshal(doc, &tree); err != nil {
		return nil, fmt.Errorf("state: decode snapshot: %w", err)
	}
	return tree, nil
}

// ToJSON encodes a generic tree back into its canonical (compact) JSON form.
func ToJSON(tree any) ([]byte, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("state: encode tree: %w", err)
	}
	return data, nil
}

// canonicalize converts an arbitrary Go value into the generic tree
// representation via a JSON round trip. This both deep-copies the input and
// normalizes typed structs into maps/slices so the patch engine can navigate
// them uniformly.
func canonicalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}
