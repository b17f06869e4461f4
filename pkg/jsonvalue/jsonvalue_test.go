package jsonvalue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	type item struct {
		Name string    `json:"name"`
		At   time.Time `json:"at"`
	}
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"nil", nil, nil},
		{"generic map", map[string]any{"a": "b"}, map[string]any{"a": "b"}},
		{"nested slice", map[string]any{"tags": []string{"x"}}, map[string]any{"tags": []any{"x"}}},
		{"string map", map[string]string{"k": "v"}, map[string]any{"k": "v"}},
		{"raw", []byte(`{"n":1}`), map[string]any{"n": float64(1)}},
		{"struct", item{Name: "a", At: at}, map[string]any{"name": "a", "at": "2024-01-15T12:00:00Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Normalize(make(chan int))
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	_, err := Decode([]byte("  "))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"a":1} trailing`))
	assert.Error(t, err)

	v, err := Decode([]byte(`[1,"x",null]`))
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "x", nil}, v)
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "object", TypeName(map[string]any{}))
	assert.Equal(t, "array", TypeName([]any{}))
	assert.Equal(t, "null", TypeName(nil))
	assert.Equal(t, "number", TypeName(3))
}
