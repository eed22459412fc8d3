package streams

import "fmt"

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

// StreamJobEvents is the Redis Stream job.rescued events are published to
// (spec.md §6's optional event-publication surface). A job.completed schema
// is registered below, but nothing in the engine publishes that event.
const StreamJobEvents = "engine:job-events"

var baseDefinitions = []Definition{
	{
		EventType: "job.completed",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "status"],
  "properties": {
    "job_id": {"type": "string"},
    "status": {"type": "string"},
    "report_ref": {"type": "string"},
    "citation_count": {"type": "integer", "minimum": 0},
    "step_count": {"type": "integer", "minimum": 0},
    "duration_seconds": {"type": "number", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "job.rescued",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "reason"],
  "properties": {
    "job_id": {"type": "string"},
    "reason": {"type": "string"},
    "silent_for_seconds": {"type": "number", "minimum": 0},
    "had_steps": {"type": "boolean"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "job.clarification_required",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "question"],
  "properties": {
    "job_id": {"type": "string"},
    "question": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the baseline event schemas into the provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
