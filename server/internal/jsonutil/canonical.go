// Package jsonutil provides the canonical JSON encoding used for every JSON
// column and document HMLR persists (block_metadata tags, section rules,
// the user profile document). "Canonical" here means
// map keys sorted so two semantically equal documents serialize identically,
// which keeps diffed audit logs and content-addressed caching meaningful.
package jsonutil

import jsoniter "github.com/json-iterator/go"

// Canonical is configured with sorted map keys, unlike
// jsoniter.ConfigCompatibleWithStandardLibrary.
var Canonical = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Marshal encodes v as canonical JSON.
func Marshal(v interface{}) ([]byte, error) {
	return Canonical.Marshal(v)
}

// Unmarshal decodes canonical (or any valid) JSON into v.
func Unmarshal(data []byte, v interface{}) error {
	return Canonical.Unmarshal(data, v)
}
