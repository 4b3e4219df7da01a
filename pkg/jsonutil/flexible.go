// Package jsonutil reads loosely typed JSON written by language models and
// MCP clients.
package jsonutil

import (
	"encoding/json"
	"strconv"
)

// FlexibleStringValue converts a json.RawMessage to a string, accepting
// numbers and booleans where a string was asked for. Returns "" for null or
// empty input.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if s, ok := scalarString(v); ok {
		return s
	}
	return string(raw)
}

// FlexibleStringMap flattens a decoded JSON object into request-style
// strings. Null members are dropped; nested values keep their JSON text.
// Returns nil when v is not an object.
func FlexibleStringMap(v any) map[string]string {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		if val == nil {
			continue
		}
		if s, ok := scalarString(val); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(val)
		if err != nil {
			continue
		}
		out[k] = string(b)
	}
	return out
}

func scalarString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}
