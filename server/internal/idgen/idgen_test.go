package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBlockHasExpectedPrefixAndFormat(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
	id := Block(now)

	assert.Regexp(t, `^bb_20260305T123000\.000000Z_[0-9a-f]{8}$`, id)
}

func TestTurnHasExpectedPrefixAndFormat(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
	id := Turn(now)

	assert.Equal(t, "turn_20260305T123000.000000Z", id)
}

func TestDossierHasExpectedPrefixAndFormat(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
	id := Dossier(now)

	assert.Regexp(t, `^dos_20260305T123000\.000000Z_[0-9a-f]{8}$`, id)
}

func TestBlockIDsAreUniqueAcrossCalls(t *testing.T) {
	now := time.Now()
	first := Block(now)
	second := Block(now)

	assert.NotEqual(t, first, second, "hex suffix must differentiate same-timestamp IDs")
}

func TestTimestampsAreNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	local := time.Date(2026, 3, 5, 7, 30, 0, 0, loc)

	id := Turn(local)

	assert.Equal(t, "turn_20260305T123000.000000Z", id)
}
