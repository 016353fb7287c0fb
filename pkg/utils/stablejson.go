// Package utils provides small shared helpers: canonical JSON rendering,
// field hashing, and token estimation.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StableStringify renders v as canonical JSON: object keys sorted
// alphabetically at every depth, arrays kept in order, primitives as
// standard JSON. Semantically equal values produce byte-equal output
// regardless of map insertion order, which makes the result safe to hash.
func StableStringify(v any) (string, error) {
	normalized, err := normalizeValue(v)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := writeCanonical(&sb, normalized); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// normalizeValue routes v through encoding/json so structs, typed slices and
// numeric types all collapse to the generic JSON forms. Numbers are decoded
// as json.Number to preserve their exact textual rendering.
func normalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("stable stringify: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("stable stringify: %w", err)
	}
	return out, nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")

	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}

	case json.Number:
		sb.WriteString(val.String())

	case string:
		encoded, err := encodeJSONString(val)
		if err != nil {
			return err
		}
		sb.Write(encoded)

	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodedKey, err := encodeJSONString(k)
			if err != nil {
				return err
			}
			sb.Write(encodedKey)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')

	default:
		return fmt.Errorf("stable stringify: unsupported value of type %T", v)
	}
	return nil
}

// encodeJSONString escapes s as a JSON string without the HTML escaping that
// json.Marshal applies. Hashes over canonical JSON must not depend on
// transport-level escaping choices.
func encodeJSONString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
