package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{"string value", json.RawMessage(`"SELECT 1"`), "SELECT 1"},
		{"integer value", json.RawMessage(`30`), "30"},
		{"float value", json.RawMessage(`3.14`), "3.14"},
		{"negative integer", json.RawMessage(`-7`), "-7"},
		{"boolean", json.RawMessage(`false`), "false"},
		{"null value", json.RawMessage(`null`), ""},
		{"nil raw message", nil, ""},
		{"empty string", json.RawMessage(`""`), ""},
		{"object falls back to raw text", json.RawMessage(`{"sql":"x"}`), `{"sql":"x"}`},
		{"invalid JSON falls back to raw text", json.RawMessage(`SELECT`), "SELECT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleStringValue(tt.input)
			if got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", string(tt.input), got, tt.want)
			}
		})
	}
}

func TestFlexibleStringMap(t *testing.T) {
	got := FlexibleStringMap(map[string]any{
		"date_from":    "2025-01-01",
		"days":         30.0,
		"include_paul": true,
		"client_id":    nil,
		"tags":         []any{"a", "b"},
	})

	want := map[string]string{
		"date_from":    "2025-01-01",
		"days":         "30",
		"include_paul": "true",
		"tags":         `["a","b"]`,
	}
	if len(got) != len(want) {
		t.Fatalf("FlexibleStringMap() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("FlexibleStringMap()[%q] = %q, want %q", k, got[k], v)
		}
	}

	if m := FlexibleStringMap("not an object"); m != nil {
		t.Errorf("expected nil for non-object input, got %v", m)
	}
}
