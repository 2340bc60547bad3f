package server

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// submitSchema validates the structural shape of a reindex submission
// before any field is interpreted. Semantic rules (start <= end, empty
// id lists) are enforced by the selector itself.
const submitSchema = `{
	"type": "object",
	"required": ["job_type", "selector_kind"],
	"additionalProperties": false,
	"properties": {
		"job_type": {"type": "string", "enum": ["full", "slim"]},
		"selector_kind": {"type": "string", "enum": ["date_range", "user", "group", "ids"]},
		"force": {"type": "boolean"},
		"selector_params": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"start": {"type": "string"},
				"end": {"type": "string"},
				"username": {"type": "string"},
				"group_id": {"type": "string"},
				"annotation_ids": {"type": "string"}
			}
		}
	}
}`

var submitSchemaLoader = gojsonschema.NewStringLoader(submitSchema)

// validateSubmitPayload checks raw JSON against the submission schema.
// Returns a joined message of all violations, or "" when valid.
func validateSubmitPayload(raw []byte) (string, error) {
	result, err := gojsonschema.Validate(submitSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return "", err
	}
	if result.Valid() {
		return "", nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return strings.Join(msgs, "; "), nil
}
