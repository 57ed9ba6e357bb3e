package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{"b": float64(2), "a": float64(1)})
	require.NoError(t, err)

	expected := "{\n  \"a\": 1,\n  \"b\": 2\n}\n"
	assert.Equal(t, expected, string(data))
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	doc := map[string]any{
		"z": []any{float64(1), "two", true, nil},
		"a": map[string]any{"nested": map[string]any{"k": "v"}},
	}

	first, err := MarshalCanonical(doc)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalCanonical(doc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMarshalCanonical_AllowsFloatsAndNulls(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{"pi": 3.5, "missing": nil})
	require.NoError(t, err)
	assert.Contains(t, string(data), "3.5")
	assert.Contains(t, string(data), "null")
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{"q": "a < b && c > d"})
	require.NoError(t, err)
	assert.Contains(t, string(data), "a < b && c > d")
	assert.NotContains(t, string(data), "\\u003c")
}

func TestMarshalCanonical_NFCNormalizesStrings(t *testing.T) {
	// "e" + COMBINING ACUTE ACCENT normalizes to the precomposed é.
	decomposed := "café"
	data, err := MarshalCanonical(map[string]any{"name": decomposed})
	require.NoError(t, err)
	assert.Contains(t, string(data), "café")
}

func TestMarshalCanonical_EmptyContainers(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{"arr": []any{}, "obj": map[string]any{}})
	require.NoError(t, err)

	expected := "{\n  \"arr\": [],\n  \"obj\": {}\n}\n"
	assert.Equal(t, expected, string(data))
}

func TestMarshalCanonical_OutputIsValidJSON(t *testing.T) {
	doc := map[string]any{
		"runs": []any{
			map[string]any{"json": map[string]any{"id": float64(1), "name": "a"}},
		},
	}
	data, err := MarshalCanonical(doc)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Empty(t, Diff(doc, back))
}
