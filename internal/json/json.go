// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package json provides internal JSON utilities.
//
// Unmarshal is backed by github.com/segmentio/encoding/json, which matches
// JSON object keys against struct field names and tags case-sensitively.
// encoding/json matches case-insensitively as a fallback, which would let a
// peer smuggle a field past a case-sensitive protocol check by capitalizing
// it differently (see internal/jsonrpc2.StrictUnmarshal for the stricter
// variant used on fully untrusted wire input). Every decode of a protocol
// message goes through this package instead of encoding/json directly so
// that behavior is uniform.
package json

import (
	segjson "github.com/segmentio/encoding/json"
)

// Unmarshal decodes data into v, matching field names case-sensitively.
func Unmarshal(data []byte, v any) error {
	_, err := segjson.Parse(data, v, segjson.DontMatchCaseInsensitiveStructFields)
	return err
}

// Marshal encodes v as compact JSON.
func Marshal(v any) ([]byte, error) {
	return segjson.Marshal(v)
}
