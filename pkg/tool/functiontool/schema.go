package functiontool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflectSchema derives a JSON schema map from the Args struct type.
func reflectSchema[Args any]() map[string]any {
	reflector := &jsonschema.Reflector{
		// Fields are optional unless tagged jsonschema:"required".
		RequiredFromJSONSchemaTags: true,
		// Inline everything so providers get a single self-contained
		// object schema instead of $ref definitions.
		ExpandedStruct: true,
		DoNotReference: true,
	}

	var zero Args
	schema := reflector.Reflect(&zero)
	m := schemaToMap(schema)
	if m == nil {
		m = map[string]any{"type": "object"}
	}
	// Providers reject schemas that carry a $schema marker.
	delete(m, "$schema")
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

// schemaToMap flattens a reflected schema into a plain map through a
// JSON roundtrip.
func schemaToMap(schema *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
