package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// applyFields merges fields into doc, resolving ArrayUnion and ArrayRemove
// against the current value of the field.
func applyFields(doc map[string]any, fields map[string]any) error {
	for k, v := range fields {
		switch v := v.(type) {
		case ArrayUnion:
			current, err := arrayField(doc, k)
			if err != nil {
				return err
			}
			for _, e := range v {
				ne, err := normalize(e)
				if err != nil {
					return err
				}
				if !containsValue(current, ne) {
					current = append(current, ne)
				}
			}
			doc[k] = current
		case ArrayRemove:
			current, err := arrayField(doc, k)
			if err != nil {
				return err
			}
			kept := make([]any, 0, len(current))
			for _, c := range current {
				remove := false
				for _, e := range v {
					ne, err := normalize(e)
					if err != nil {
						return err
					}
					if reflect.DeepEqual(c, ne) {
						remove = true
						break
					}
				}
				if !remove {
					kept = append(kept, c)
				}
			}
			doc[k] = kept
		default:
			nv, err := normalize(v)
			if err != nil {
				return err
			}
			doc[k] = nv
		}
	}
	return nil
}

func arrayField(doc map[string]any, field string) ([]any, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return []any{}, nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", field)
	}
	return arr, nil
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// normalize round-trips v through JSON so that it compares equal to values
// decoded from stored documents.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return out, nil
}
