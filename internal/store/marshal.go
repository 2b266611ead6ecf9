package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/upkeep/internal/record"
)

// marshalAttrs serializes an attr map to canonical JSON per RFC 8785.
// Deterministic: the same attrs always produce the same bytes, so stored
// values compare by byte equality.
func marshalAttrs(attrs record.Object) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := record.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

func unmarshalAttrs(data string) (record.Object, error) {
	if data == "" || data == "{}" {
		return record.Object{}, nil
	}
	var attrs record.Object
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return attrs, nil
}
