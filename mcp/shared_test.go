// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type sharedTestReq struct {
	I int
	B bool
	S string `json:",omitempty"`
	P *int   `json:",omitempty"`
}

type sharedTestResult struct{}

// TODO(jba): this shouldn't be in this file, but tool_test.go doesn't have access to unexported symbols.
func TestNewServerToolValidate(t *testing.T) {
	// Check that the tool returned from NewServerTool properly validates its input schema.

	dummyHandler := func(context.Context, *CallToolRequest, *sharedTestReq) (*CallToolResult, *sharedTestResult, error) {
		return nil, &sharedTestResult{}, nil
	}

	tool := NewServerTool[*sharedTestReq, *sharedTestResult]("test", "test", dummyHandler)

	for _, tt := range []struct {
		desc string
		args map[string]any
		want string // error should contain this string; empty for success
	}{
		{
			"both required",
			map[string]any{"I": 1, "B": true},
			"",
		},
		{
			"optional",
			map[string]any{"I": 1, "B": true, "S": "foo"},
			"",
		},
		{
			"wrong type",
			map[string]any{"I": 1.5, "B": true},
			"unmarshaling",
		},
		{
			"extra property",
			map[string]any{"I": 1, "B": true, "C": 2},
			"unknown field",
		},
		{
			"value for pointer",
			map[string]any{"I": 1, "B": true, "P": 3},
			"",
		},
		{
			"null for pointer",
			map[string]any{"I": 1, "B": true, "P": nil},
			"",
		},
	} {
		t.Run(tt.desc, func(t *testing.T) {
			raw, err := json.Marshal(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			req := &CallToolRequest{Params: &CallToolParamsRaw{Name: "test", Arguments: json.RawMessage(raw)}}
			res, err := tool.Handler(context.Background(), req)
			gotErr := ""
			if err != nil {
				gotErr = err.Error()
			} else if res != nil && res.IsError {
				gotErr = res.Content[0].(*TextContent).Text
			}
			if gotErr == "" && tt.want != "" {
				t.Error("got success, wanted failure")
			}
			if gotErr != "" {
				if tt.want == "" {
					t.Fatalf("failed with:\n%s\nwanted success", gotErr)
				}
				if !strings.Contains(gotErr, tt.want) {
					t.Fatalf("got:\n%s\nwanted to contain %q", gotErr, tt.want)
				}
			}
		})
	}
}
