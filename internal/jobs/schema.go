package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// plannerOutputSchema and criticOutputSchema describe the LLM-generated
// JSON contracts the Plan and Synthesize phases parse (internal/pipeline's
// plannerOutput/criticOutput structs). Validating against a schema before
// unmarshalling gives a structural reason for a degrade-to-default
// decision instead of only a json.Unmarshal error, matching
// internal/queue/streams's own schema-first validation of its event
// payloads.
const plannerOutputSchema = `{
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "tool_hint": {"type": "string"},
          "theme": {"type": "string"}
        }
      }
    }
  }
}`

const criticOutputSchema = `{
  "type": "object",
  "properties": {
    "issues": {"type": "array", "items": {"type": "string"}},
    "follow_up": {"type": "array", "items": {"type": "string"}},
    "limitations": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaOnce        sync.Once
	plannerSchema     *jsonschema.Schema
	criticSchema      *jsonschema.Schema
	plannerCompileErr error
	criticCompileErr  error
)

func compileSchemas() {
	plannerSchema, plannerCompileErr = compileOne("planner-output.json", plannerOutputSchema)
	criticSchema, criticCompileErr = compileOne("critic-output.json", criticOutputSchema)
}

func compileOne(name, schemaText string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schemaText))); err != nil {
		return nil, fmt.Errorf("add resource %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return compiled, nil
}

// ValidatePlannerOutput checks a raw planner-LLM JSON response against the
// expected {"steps":[{"title":...}]} contract.
func ValidatePlannerOutput(raw []byte) error {
	schemaOnce.Do(compileSchemas)
	if plannerCompileErr != nil {
		return fmt.Errorf("planner schema unavailable: %w", plannerCompileErr)
	}
	return validateAgainst(plannerSchema, raw)
}

// ValidateCriticOutput checks a raw critic-LLM JSON response against the
// expected {"issues":[...],"follow_up":[...],"limitations":[...]} contract.
func ValidateCriticOutput(raw []byte) error {
	schemaOnce.Do(compileSchemas)
	if criticCompileErr != nil {
		return fmt.Errorf("critic schema unavailable: %w", criticCompileErr)
	}
	return validateAgainst(criticSchema, raw)
}

func validateAgainst(schema *jsonschema.Schema, raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validate: %w", err)
	}
	return nil
}
