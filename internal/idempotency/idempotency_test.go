package idempotency

import (
	"encoding/json"
	"testing"
)

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
		wantErr  bool
	}{
		{
			name:     "empty map",
			input:    map[string]interface{}{},
			expected: "{}",
			wantErr:  false,
		},
		{
			name: "sorted keys",
			input: map[string]interface{}{
				"z": 1,
				"a": 2,
				"m": 3,
			},
			expected: `{"a":2,"m":3,"z":1}`,
			wantErr:  false,
		},
		{
			name: "nested maps",
			input: map[string]interface{}{
				"outer": map[string]interface{}{
					"z": "last",
					"a": "first",
				},
			},
			expected: `{"outer":{"a":"first","z":"last"}}`,
			wantErr:  false,
		},
		{
			name: "arrays preserved",
			input: map[string]interface{}{
				"items": []interface{}{"z", "a", "m"},
			},
			expected: `{"items":["z","a","m"]}`,
			wantErr:  false,
		},
		{
			name: "complex nested structure",
			input: map[string]interface{}{
				"z_field": "value",
				"a_field": map[string]interface{}{
					"nested_z": 1,
					"nested_a": 2,
				},
				"m_field": []interface{}{
					map[string]interface{}{
						"z": 1,
						"a": 2,
					},
				},
			},
			expected: `{"a_field":{"nested_a":2,"nested_z":1},"m_field":[{"a":2,"z":1}],"z_field":"value"}`,
			wantErr:  false,
		},
		{
			name: "different order same content",
			input: map[string]interface{}{
				"b": 2,
				"a": 1,
			},
			expected: `{"a":1,"b":2}`,
			wantErr:  false,
		},
		{
			name:     "string value",
			input:    "simple string",
			expected: `"simple string"`,
			wantErr:  false,
		},
		{
			name:     "number value",
			input:    42,
			expected: `42`,
			wantErr:  false,
		},
		{
			name:     "nil value",
			input:    nil,
			expected: "null",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CanonicalJSON(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("CanonicalJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && string(result) != tt.expected {
				t.Errorf("CanonicalJSON() = %s, want %s", string(result), tt.expected)
			}
		})
	}
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	// Same logical content, different construction order
	input1 := map[string]interface{}{
		"a": 1,
		"b": 2,
		"c": 3,
	}

	input2 := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	result1, err1 := CanonicalJSON(input1)
	result2, err2 := CanonicalJSON(input2)

	if err1 != nil || err2 != nil {
		t.Fatalf("CanonicalJSON() errors: %v, %v", err1, err2)
	}

	if string(result1) != string(result2) {
		t.Errorf("CanonicalJSON() not deterministic:\n  %s\n  %s", string(result1), string(result2))
	}
}

func TestCanonicalJSONRoundTripsThroughGenericUnmarshal(t *testing.T) {
	// Mirrors how internal/supervisor canonicalizes a capsule: marshal a
	// struct, unmarshal into a generic any, then canonicalize. Two structs
	// with the same fields in a different literal order must hash the same.
	type capsule struct {
		TaskID string `json:"task_id"`
		Role   string `json:"role"`
	}

	a := capsule{TaskID: "task-a", Role: "implementer"}
	b := capsule{Role: "implementer", TaskID: "task-a"}

	aJSON, _ := CanonicalJSON(toGeneric(t, a))
	bJSON, _ := CanonicalJSON(toGeneric(t, b))

	if string(aJSON) != string(bJSON) {
		t.Errorf("canonical forms differ: %s vs %s", aJSON, bJSON)
	}
}

func toGeneric(t *testing.T, v interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return generic
}
