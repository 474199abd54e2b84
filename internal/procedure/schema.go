package procedure

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// The parameters map is an opaque contract owned by the authoring subsystem.
// We validate its envelope before deriving steps so malformed authoring output
// fails at build time instead of mid-session.
const parametersSchema = `{
	"type": "object",
	"properties": {
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"kind": {"type": "string", "enum": ["audio-cue", "timed-wait", "recording-window"]},
					"media": {"type": "string"},
					"timeout_seconds": {"type": "integer", "minimum": 0},
					"recording_duration_seconds": {"type": "integer", "minimum": 1},
					"warning_offset_seconds": {"type": "integer", "minimum": 0},
					"cue_before_start": {"type": "boolean"},
					"cue_after_end": {"type": "boolean"}
				},
				"required": ["kind"]
			}
		},
		"start_value": {"type": "integer"},
		"subtract_by": {"type": "integer", "minimum": 1},
		"answer_seconds": {"type": "integer", "minimum": 1}
	},
	"required": ["steps"]
}`

var compiledParametersSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(parametersSchema))
	if err != nil {
		panic(fmt.Sprintf("compile parameters schema: %v", err))
	}
	compiledParametersSchema = schema
}

// ValidateParameters checks an instance's parameters map against the step
// envelope schema.
func ValidateParameters(params map[string]any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	result := compiledParametersSchema.ValidateJSON(data)
	if !result.IsValid() {
		return fmt.Errorf("parameters schema validation failed: %v", result.Errors)
	}
	return nil
}
