// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"regexp"
)

// A ServerPrompt is a Prompt definition bound to a handler, ready to
// register on a Server with AddPrompts.
type ServerPrompt struct {
	Prompt  *Prompt
	Handler func(ctx context.Context, req *GetPromptRequest) (*GetPromptResult, error)
}

// A ServerResource is a concrete Resource bound to a handler that reads
// it, ready to register on a Server with AddResources.
type ServerResource struct {
	Resource *Resource
	Handler  func(ctx context.Context, req *ReadResourceRequest) (*ReadResourceResult, error)
}

// A ServerResourceTemplate is a ResourceTemplate bound to a handler that
// reads any resource whose URI matches the template, ready to register on
// a Server with AddResourceTemplates.
type ServerResourceTemplate struct {
	ResourceTemplate *ResourceTemplate
	Handler          func(ctx context.Context, req *ReadResourceRequest) (*ReadResourceResult, error)

	// pattern is compiled from ResourceTemplate.URITemplate by
	// Server.AddResourceTemplate(s); it is nil until then.
	pattern *regexp.Regexp
}
