// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"sort"
)

// cursorParams is implemented by every List*Params type: its Cursor field
// names the key of the last item seen by the caller.
type cursorParams interface {
	cursorPtr() *string
}

// cursorResult is implemented by every List*Result type: its NextCursor
// field is populated when more items remain.
type cursorResult interface {
	nextCursorPtr() *string
}

// encodeCursor opaquely encodes a feature's key as a pagination cursor.
func encodeCursor(key string) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeCursor reverses encodeCursor.
func decodeCursor(cursor string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("decoding cursor: %w", err)
	}
	var key string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&key); err != nil {
		return "", fmt.Errorf("decoding cursor: %w", err)
	}
	return key, nil
}

// paginateList returns the page of fs's items starting just after the
// cursor in params (if any), writing up to pageSize of them into result
// via assign and setting result's NextCursor if more items remain. A
// non-positive pageSize means "return everything in one page". The sort
// order is fs's key order, so items are returned in a stable order
// regardless of insertion order or duplicate registration.
func paginateList[T any, P cursorParams, R cursorResult](fs *featureSet[T], pageSize int, params P, result R, assign func(R, []T)) (R, error) {
	var zero R
	items := fs.sorted()

	startKey := ""
	if cursor := *params.cursorPtr(); cursor != "" {
		key, err := decodeCursor(cursor)
		if err != nil {
			return zero, err
		}
		startKey = key
	}

	start := sort.Search(len(items), func(i int) bool {
		return fs.keyFunc(items[i]) > startKey
	})

	if pageSize <= 0 {
		pageSize = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	var page []T
	if start < end {
		page = items[start:end]
	}
	assign(result, page)

	if end < len(items) {
		cursor, err := encodeCursor(fs.keyFunc(items[end-1]))
		if err != nil {
			return zero, err
		}
		*result.nextCursorPtr() = cursor
	}
	return result, nil
}
