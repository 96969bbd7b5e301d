// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"fmt"

	"github.com/relaymcp/relaymcp-go/jsonrpc"
)

// CodeResourceNotFound is the wire error code returned when a resource
// handler cannot find the resource named by a ReadResourceParams.URI.
const CodeResourceNotFound = jsonrpc.CodeResourceNotFound

// ErrConnectionClosed is returned (or wrapped) by session calls made
// after the underlying connection has been closed. Match it with
// errors.Is; the *jsonrpc.Error values actually returned carry the same
// code but distinct messages.
var ErrConnectionClosed = jsonrpc.NewError(jsonrpc.CodeConnectionClosed, "connection closed", nil)

// errInvalidParams and errMethodNotFound are wrapped (via fmt.Errorf's
// %w) by dispatch-layer errors so toWireError can recover the
// appropriate JSON-RPC error code while still reporting a specific
// message.
var (
	errInvalidParams  = jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params", nil)
	errMethodNotFound = jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found", nil)
	errInvalidRequest = jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "invalid request", nil)
)

// ResourceNotFoundError returns an error indicating that a resource with
// the given URI does not exist. Resource handlers should return this (or
// an error wrapping it) rather than a generic error so that clients can
// distinguish "not found" from other failures.
func ResourceNotFoundError(uri string) error {
	return &jsonrpc.Error{
		Code:    CodeResourceNotFound,
		Message: fmt.Sprintf("resource %q not found", uri),
	}
}
