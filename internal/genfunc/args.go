package genfunc

import (
	"fmt"

	"github.com/roach88/upkeep/internal/record"
)

func requiredString(args record.Object, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required arg %q", key)
	}
	s, ok := v.(record.String)
	if !ok {
		return "", fmt.Errorf("arg %q must be a string", key)
	}
	return string(s), nil
}

func optionalString(args record.Object, key, def string) (string, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(record.String)
	if !ok {
		return "", fmt.Errorf("arg %q must be a string", key)
	}
	return string(s), nil
}
