package result

import (
	"encoding/json"
	"fmt"
)

// Decode returns a Mapper that converts a decoded payload (maps, slices,
// numbers, strings) into T using T's json tags. Payloads from the JSON
// poll transport and from the CBOR push stream both decode to the same
// generic shapes, so one mapper serves either transport.
func Decode[T any]() Mapper[T] {
	return func(raw any) (T, error) {
		var value T
		if raw == nil {
			return value, nil
		}
		data, err := json.Marshal(normalize(raw))
		if err != nil {
			return value, fmt.Errorf("re-encode payload: %w", err)
		}
		if err := json.Unmarshal(data, &value); err != nil {
			return value, fmt.Errorf("decode payload into %T: %w", value, err)
		}
		return value, nil
	}
}

// Field returns a Mapper that extracts one key of a map payload and
// decodes it into T.
func Field[T any](key string) Mapper[T] {
	decode := Decode[T]()
	return func(raw any) (T, error) {
		m, ok := raw.(map[string]any)
		if !ok {
			var zero T
			return zero, fmt.Errorf("payload of type %T has no field %q", raw, key)
		}
		return decode(m[key])
	}
}

// normalize rewrites map[any]any values, which a CBOR decoder may produce
// for maps with non-string keys, into map[string]any so encoding/json
// accepts them.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
