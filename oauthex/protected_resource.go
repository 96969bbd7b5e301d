// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package oauthex

// ProtectedResourceMetadata is the well-known document a resource server
// publishes to describe itself per RFC 9728
// (https://www.rfc-editor.org/rfc/rfc9728.html), so a client can discover
// which authorization servers protect it and what scopes it understands.
type ProtectedResourceMetadata struct {
	// Resource is the protected resource's identifier, typically the URL
	// clients use to reach it.
	Resource string `json:"resource"`
	// AuthorizationServers lists the issuer URLs of authorization servers
	// clients may use to obtain tokens accepted by this resource.
	AuthorizationServers []string `json:"authorization_servers,omitempty"`
	// ScopesSupported lists the OAuth scopes this resource understands.
	ScopesSupported []string `json:"scopes_supported,omitempty"`
}
