package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArrayValueRoundTripsThroughScan(t *testing.T) {
	original := StringArray{"billing", "refunds"}

	value, err := original.Value()
	require.NoError(t, err)

	var scanned StringArray
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)
}

func TestStringArrayValueEmptyIsPostgresEmptyArray(t *testing.T) {
	var empty StringArray

	value, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", value)
}
