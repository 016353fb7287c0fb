package functiontool

import (
	"encoding/json"
	"fmt"
)

// mapToStruct decodes a loosely-typed argument map into a typed struct
// through a JSON roundtrip, so the same tag conventions drive both the
// schema and the decoding.
func mapToStruct(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}
