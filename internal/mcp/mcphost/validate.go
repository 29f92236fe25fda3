package mcphost

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// compileSchema resolves a tool's parameter schema for validation. A nil
// schema accepts any JSON object.
func compileSchema(params map[string]any) (*jsonschema.Resolved, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcp host: encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("mcp host: decode schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("mcp host: resolve schema: %w", err)
	}
	return resolved, nil
}

// validate decodes args as a JSON object and checks it against schema. An
// empty string is treated as an empty object.
func validate(schema *jsonschema.Resolved, args string) (map[string]any, error) {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	var instance map[string]any
	if err := json.Unmarshal([]byte(args), &instance); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if instance == nil {
		instance = map[string]any{}
	}
	if schema == nil {
		return instance, nil
	}
	if err := schema.Validate(instance); err != nil {
		return nil, err
	}
	return instance, nil
}
