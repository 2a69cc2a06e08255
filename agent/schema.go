package agent

import (
	"encoding/json"
	"log/slog"

	"github.com/invopop/jsonschema"
)

// generateToolSchema reflects a Go struct into the JSON Schema shape an
// LLM tool definition expects, following functiontool/schema.go's
// generateSchema: required-from-tag reflection, inlined definitions, no
// $schema/$id noise.
func generateToolSchema[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		slog.Default().Warn("agent: failed to marshal generated tool schema", "err", err)
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Default().Warn("agent: failed to decode generated tool schema", "err", err)
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}
