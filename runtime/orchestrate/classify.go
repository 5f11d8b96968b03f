// Package orchestrate implements the two-phase shared-state flow: classify a
// caller-supplied state blob, run a completion with a shape-appropriate
// response format, emit the decoded result as a snapshot event, then run a
// short follow-up completion summarizing the change.
package orchestrate

import "encoding/json"

// Shape is the result of the structural state classification.
type Shape string

// Classification outcomes.
const (
	// ShapeRecipe marks state recognized as the known recipe shape.
	ShapeRecipe Shape = "recipe"
	// ShapeGeneric marks every other state, including non-object input.
	ShapeGeneric Shape = "generic"
)

// Classify inspects an arbitrary JSON document and reports its shape. An
// object is a recipe when it carries a "recipe" property, or when it carries
// both "title" and "ingredients". Arrays, scalars, empty objects and
// unparseable input all classify as generic; Classify never fails.
func Classify(doc []byte) Shape {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return ShapeGeneric
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return ShapeGeneric
	}
	if _, ok := obj["recipe"]; ok {
		return ShapeRecipe
	}
	_, hasTitle := obj["title"]
	_, hasIngredients := obj["ingredients"]
	if hasTitle && hasIngredients {
		return ShapeRecipe
	}
	return ShapeGeneric
}
