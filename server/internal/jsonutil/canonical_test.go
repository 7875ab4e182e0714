package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsMapKeys(t *testing.T) {
	first, err := Marshal(map[string]int{"z": 1, "a": 2, "m": 3})
	require.NoError(t, err)

	second, err := Marshal(map[string]int{"a": 2, "m": 3, "z": 1})
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "two maps with the same entries must serialize identically regardless of insertion order")
	assert.Equal(t, `{"a":2,"m":3,"z":1}`, string(first))
}

func TestUnmarshalRoundTrip(t *testing.T) {
	type doc struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	raw, err := Marshal(doc{Name: "ada", Age: 30})
	require.NoError(t, err)

	var out doc
	require.NoError(t, Unmarshal(raw, &out))
	assert.Equal(t, doc{Name: "ada", Age: 30}, out)
}
