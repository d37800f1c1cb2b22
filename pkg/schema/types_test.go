package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		name string
	}{
		{"string", "string"},
		{"int", "int"},
		{"float", "float"},
		{"bool", "bool"},
		{"map", "map"},
		{"", "any"},
		{" any ", "any"},
		{"[string]", "[string]"},
		{"[[int]]", "[[int]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := ParseType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.name, typ.Name())
		})
	}

	for _, bad := range []string{"uuid", "[]", "[nope]", "[string"} {
		_, err := ParseType(bad)
		assert.Error(t, err, bad)
	}
}

func TestTypes_Validate(t *testing.T) {
	tests := []struct {
		typ   string
		value any
		ok    bool
	}{
		{"string", "x", true},
		{"string", 1, false},
		{"int", 3, true},
		{"int", int64(3), true},
		{"int", uint8(3), true},
		{"int", 3.0, true},
		{"int", 3.5, false},
		{"int", "3", false},
		{"float", 3, true},
		{"float", 3.5, true},
		{"float", true, false},
		{"bool", false, true},
		{"bool", "false", false},
		{"map", map[string]any{"a": 1}, true},
		{"map", map[int]any{1: 1}, false},
		{"any", nil, true},
		{"[string]", []any{"a", "b"}, true},
		{"[string]", []string{"a"}, true},
		{"[string]", []any{"a", 1}, false},
		{"[int]", "nope", false},
		{"[[int]]", []any{[]any{1.0, 2}}, true},
	}
	for _, tt := range tests {
		err := MustParse(tt.typ).Validate(tt.value)
		if tt.ok {
			assert.NoError(t, err, "%s accepts %#v", tt.typ, tt.value)
		} else {
			assert.Error(t, err, "%s rejects %#v", tt.typ, tt.value)
		}
	}
}

func TestList_ElementErrorNamesIndex(t *testing.T) {
	err := MustParse("[int]").Validate([]any{1, "two"})
	assert.EqualError(t, err, "element 1: expected int, got string")
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("uuid") })
}
