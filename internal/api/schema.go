package api

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const draftSchemaURL = "https://applytrack.dev/schemas/action-draft.json"

// draftSchemaJSON describes the body of POST /api/actions. Method and
// priority casing are normalised later by actions.Draft.Validate.
const draftSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind", "endpoint", "method"],
  "additionalProperties": false,
  "properties": {
    "kind":       {"type": "string", "minLength": 1},
    "payload":    {"type": "object"},
    "endpoint":   {"type": "string", "minLength": 1},
    "method":     {"type": "string", "minLength": 1},
    "headers":    {"type": "object", "additionalProperties": {"type": "string"}},
    "priority":   {"enum": ["low", "medium", "high"]},
    "maxRetries": {"type": "integer", "minimum": 0}
  }
}`

var draftSchema = mustCompileDraftSchema()

func mustCompileDraftSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(draftSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("draft schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(draftSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("draft schema: %v", err))
	}
	sch, err := c.Compile(draftSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("draft schema: %v", err))
	}
	return sch
}

// validateDraftJSON checks a raw request body against the draft schema.
func validateDraftJSON(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := draftSchema.Validate(inst); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}
