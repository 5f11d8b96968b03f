package orchestrate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed recipe_schema.json
var recipeSchemaJSON []byte

var (
	recipeSchemaOnce sync.Once
	recipeSchema     *jsonschema.Schema
	recipeSchemaErr  error
)

// compiledRecipeSchema compiles the embedded recipe schema on first use.
func compiledRecipeSchema() (*jsonschema.Schema, error) {
	recipeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(recipeSchemaJSON))
		if err != nil {
			recipeSchemaErr = fmt.Errorf("orchestrate: parse recipe schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("recipe.json", doc); err != nil {
			recipeSchemaErr = fmt.Errorf("orchestrate: add recipe schema: %w", err)
			return
		}
		recipeSchema, recipeSchemaErr = compiler.Compile("recipe.json")
	})
	return recipeSchema, recipeSchemaErr
}

// recipeSchemaMap returns the schema as a generic map for use in model
// response format requests.
func recipeSchemaMap() map[string]any {
	var m map[string]any
	// The embedded document is valid JSON by construction.
	_ = json.Unmarshal(recipeSchemaJSON, &m)
	return m
}

// validateRecipe checks doc against the recipe schema. When doc wraps the
// recipe under a top-level "recipe" property the inner object is validated
// and returned; otherwise doc itself is. The returned value is the decoded
// generic tree of the validated document.
func validateRecipe(doc []byte) (any, error) {
	schema, err := compiledRecipeSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("orchestrate: parse response: %w", err)
	}
	if obj, ok := inst.(map[string]any); ok {
		if inner, ok := obj["recipe"].(map[string]any); ok {
			inst = inner
		}
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("orchestrate: response does not match recipe shape: %w", err)
	}
	return inst, nil
}
