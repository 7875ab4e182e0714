// Package idgen mints the timestamp-carrying IDs used for bridge blocks,
// turns, and dossiers (`bb_<UTC>_<hex>`, `turn_<UTC>`, `dos_<UTC>_<hex>`).
// Surrogate IDs elsewhere use uuid, but these IDs must embed a sortable
// timestamp, so stdlib crypto/rand + time is the justified choice (see
// DESIGN.md).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const timeLayout = "20060102T150405.000000Z"

func hexSuffix(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Block mints a new bridge block ID: bb_<UTC>_<hex>.
func Block(now time.Time) string {
	return fmt.Sprintf("bb_%s_%s", now.UTC().Format(timeLayout), hexSuffix(4))
}

// Turn mints a new turn ID: turn_<UTC>.
func Turn(now time.Time) string {
	return fmt.Sprintf("turn_%s", now.UTC().Format(timeLayout))
}

// Dossier mints a new dossier ID: dos_<UTC>_<hex>.
func Dossier(now time.Time) string {
	return fmt.Sprintf("dos_%s_%s", now.UTC().Format(timeLayout), hexSuffix(4))
}
