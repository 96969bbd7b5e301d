// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import "github.com/relaymcp/relaymcp-go/jsonrpc"

// Sentinel errors for the standard JSON-RPC error codes, for use with
// fmt.Errorf("%w: ...", ...) and errors.Is at call sites that want to
// signal a specific wire error code without importing the full
// jsonrpc.Error construction path.
var (
	ErrParseError     = &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: "parse error"}
	ErrInvalidRequest = &jsonrpc.Error{Code: jsonrpc.CodeInvalidRequest, Message: "invalid request"}
	ErrMethodNotFound = &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found"}
	ErrInvalidParams  = &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "invalid params"}
	ErrInternal       = &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "internal error"}
)
