// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// rawToolHandler handles a call to tools/call with its arguments still
// encoded as JSON. Unlike a typed tool handler, it is responsible for its
// own argument unmarshaling and validation, and its returned error is a
// protocol-level failure (invalid arguments), not a tool-execution
// failure: the latter is reported inside the returned CallToolResult with
// IsError set, never as a Go error from this function.
type rawToolHandler func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error)

// A ServerTool is a Tool definition bound to a handler, ready to register
// on a Server with AddTools.
type ServerTool struct {
	Tool    *Tool
	Handler rawToolHandler
}

// AddTool registers a tool on s using a typed handler. In is the type
// arguments are unmarshaled into; if tool.InputSchema is unset, it is
// inferred from In via reflection. Out is the type of the tool's
// structured output; if tool.OutputSchema is unset and Out is not any, it
// is inferred from Out as well.
//
// AddTool panics if the tool's schema cannot be resolved; this is treated
// as a programmer error, since schemas are static.
func AddTool[In, Out any](s *Server, tool *Tool, handler func(context.Context, *CallToolRequest, In) (*CallToolResult, Out, error)) {
	t, h, err := toolForErr(tool, handler)
	if err != nil {
		panic(fmt.Sprintf("AddTool %q: %v", tool.Name, err))
	}
	s.AddTools(&ServerTool{Tool: t, Handler: h})
}

// NewServerTool builds a ServerTool without registering it on a server,
// for direct use with Server.AddTools.
func NewServerTool[In, Out any](name, description string, handler func(context.Context, *CallToolRequest, In) (*CallToolResult, Out, error)) *ServerTool {
	t, h, err := toolForErr(&Tool{Name: name, Description: description}, handler)
	if err != nil {
		panic(fmt.Sprintf("NewServerTool %q: %v", name, err))
	}
	return &ServerTool{Tool: t, Handler: h}
}

// toolForErr resolves t's input/output schemas (inferring them from In/Out
// via reflection when unset) and builds a rawToolHandler around h. The
// handler unmarshals and validates its arguments before calling h; a
// validation failure is returned as a Go error (to become a
// jsonrpc.CodeInvalidParams response at the dispatch layer), while an
// error from h itself is folded into an IsError CallToolResult, since tool
// execution failures must be visible to the model, not just the caller.
func toolForErr[In, Out any](t *Tool, h func(context.Context, *CallToolRequest, In) (*CallToolResult, Out, error)) (*Tool, rawToolHandler, error) {
	assert(t.newArgs == nil, "newArgs already set")
	t.newArgs = func() any { var x In; return &x }

	if t.InputSchema == nil {
		s, err := jsonschema.For[In](nil)
		if err != nil {
			return nil, nil, fmt.Errorf("inferring input schema: %w", err)
		}
		t.InputSchema = s
	}
	inputSchema, err := schemaOf(t.InputSchema)
	if err != nil {
		return nil, nil, fmt.Errorf("input schema: %w", err)
	}
	inputResolved, err := inputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, nil, fmt.Errorf("resolving input schema: %w", err)
	}

	hasOutputSchema := t.OutputSchema != nil
	if !hasOutputSchema && reflect.TypeFor[Out]() != reflect.TypeFor[any]() {
		s, err := jsonschema.For[Out](nil)
		if err != nil {
			return nil, nil, fmt.Errorf("inferring output schema: %w", err)
		}
		t.OutputSchema = s
		hasOutputSchema = true
	}
	var outputResolved *jsonschema.Resolved
	if hasOutputSchema {
		outputSchema, err := schemaOf(t.OutputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("output schema: %w", err)
		}
		outputResolved, err = outputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, nil, fmt.Errorf("resolving output schema: %w", err)
		}
	}

	handler := func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		rawArgs := req.Params.Arguments
		argsPtr := t.newArgs().(*In)
		if err := unmarshalSchema(rawArgs, inputResolved, argsPtr); err != nil {
			return nil, err
		}
		res, out, err := h(ctx, req, *argsPtr)
		if err != nil {
			if res == nil {
				res = &CallToolResult{}
			}
			res.SetError(err)
			return res, nil
		}
		if res == nil {
			res = &CallToolResult{}
		}
		if hasOutputSchema {
			if outputResolved != nil {
				if err := outputResolved.Validate(out); err != nil {
					return nil, fmt.Errorf("validating output: %w", err)
				}
			}
			data, merr := json.Marshal(out)
			if merr == nil {
				res.StructuredContent = json.RawMessage(data)
				if res.Content == nil {
					res.Content = []Content{&TextContent{Text: string(data)}}
				}
			}
		}
		return res, nil
	}
	return t, handler, nil
}

// schemaOf normalizes v (a Tool.InputSchema or Tool.OutputSchema value,
// which may already be *jsonschema.Schema, or may be any value that
// marshals to a JSON Schema object) into a *jsonschema.Schema.
func schemaOf(v any) (*jsonschema.Schema, error) {
	if v == nil {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	if s, ok := v.(*jsonschema.Schema); ok {
		return s, nil
	}
	var s jsonschema.Schema
	if err := remarshal(v, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// unmarshalSchema unmarshals data into v and validates the result against
// resolved, which may be nil if there is no schema to validate against.
func unmarshalSchema(data json.RawMessage, resolved *jsonschema.Resolved, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshaling: %w", err)
	}
	if resolved != nil {
		if err := resolved.ApplyDefaults(v); err != nil {
			return fmt.Errorf("applying defaults from \n\t%s\nto\n\t%s:\n%w", schemaJSON(resolved.Schema()), data, err)
		}
		if err := resolved.Validate(v); err != nil {
			return fmt.Errorf("validating\n\t%s\nagainst\n\t%s:\n%w", data, schemaJSON(resolved.Schema()), err)
		}
	}
	return nil
}

// schemaJSON returns the JSON value for s as a string, or a string
// indicating an error, for use in error messages.
func schemaJSON(s *jsonschema.Schema) string {
	m, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("<!%s>", err)
	}
	return string(m)
}
