package models

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// workflowDefinitionSchema validates workflow definition documents supplied
// as raw JSON (for example via the import endpoint), before they are decoded
// into a WorkflowDefinition.
const workflowDefinitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "description", "category", "steps"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"description": {"type": "string", "minLength": 1},
		"category": {"type": "string", "minLength": 1},
		"priority": {"type": "integer", "minimum": 0},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["order", "name", "required_role", "time_limit_days"],
				"properties": {
					"order": {"type": "integer", "minimum": 1},
					"name": {"type": "string", "minLength": 1},
					"required_role": {
						"type": "string",
						"enum": ["branch_manager", "financial_manager", "procurement_officer", "legal_officer", "general_manager"]
					},
					"required_user_id": {"type": "string"},
					"is_required": {"type": "boolean"},
					"time_limit_days": {"type": "integer", "minimum": 1},
					"can_delegate": {"type": "boolean"},
					"can_reject": {"type": "boolean"},
					"can_return": {"type": "boolean"}
				}
			}
		}
	}
}`

// ErrInvalidDefinitionDocument indicates a workflow definition document does
// not match the schema.
var ErrInvalidDefinitionDocument = errors.New("invalid workflow definition document")

// ValidateDefinitionDocument checks a raw workflow definition document
// against the JSON schema. It returns the list of schema violations, empty
// when the document is valid.
func ValidateDefinitionDocument(document []byte) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(workflowDefinitionSchema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate workflow definition document: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}

	return issues, ErrInvalidDefinitionDocument
}
