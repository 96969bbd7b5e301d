// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/relaymcp/relaymcp-go/oauthex"
)

// ErrInvalidToken is returned by a TokenVerifier when the presented token is
// not recognized or has been revoked.
var ErrInvalidToken = errors.New("invalid token")

// ErrOAuth is returned by a TokenVerifier when verification itself failed
// for a reason attributable to the authorization server (an introspection
// call erroring out, a malformed response), rather than to the token.
var ErrOAuth = errors.New("oauth error")

// TokenInfo describes a verified bearer token.
type TokenInfo struct {
	// Scopes lists the OAuth scopes granted to the token.
	Scopes []string
	// Expiration is when the token stops being valid. The zero value is
	// treated as "never verified an expiration", which RequireBearerToken
	// rejects rather than treating as non-expiring.
	Expiration time.Time
	// UserID identifies the subject the token was issued to, if known.
	UserID string
}

// TokenVerifier validates a bearer token extracted from an incoming
// request, returning the information it carries. A verifier should return
// ErrInvalidToken for a token that is simply not valid, and ErrOAuth for a
// failure in talking to the authorization server itself.
type TokenVerifier func(ctx context.Context, token string, req *http.Request) (*TokenInfo, error)

// RequireBearerTokenOptions configures RequireBearerToken.
type RequireBearerTokenOptions struct {
	// Scopes, if non-empty, lists the scopes a token must carry; a token
	// missing any of them is rejected with 403.
	Scopes []string
	// ResourceMetadataURL, if set, is advertised in the WWW-Authenticate
	// header of a 401 or 403 response, per RFC 9728 section 5.1, so a
	// client can discover where to find this resource's protected resource
	// metadata.
	ResourceMetadataURL string
}

// verify extracts and validates the bearer token from req, returning the
// verified TokenInfo on success, or a response message and HTTP status code
// to report on failure (code == 0 on success).
func verify(req *http.Request, verifier TokenVerifier, opts *RequireBearerTokenOptions) (*TokenInfo, string, int) {
	header := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, "no bearer token", http.StatusUnauthorized
	}

	info, err := verifier(req.Context(), token, req)
	if err != nil {
		if errors.Is(err, ErrOAuth) {
			return nil, "oauth error", http.StatusBadRequest
		}
		return nil, "invalid token", http.StatusUnauthorized
	}

	if info.Expiration.IsZero() {
		return nil, "token missing expiration", http.StatusUnauthorized
	}
	if time.Now().After(info.Expiration) {
		return nil, "token expired", http.StatusUnauthorized
	}

	for _, want := range opts.scopes() {
		if !containsString(info.Scopes, want) {
			return nil, "insufficient scope", http.StatusForbidden
		}
	}

	return info, "", 0
}

func (o *RequireBearerTokenOptions) scopes() []string {
	if o == nil {
		return nil
	}
	return o.Scopes
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// RequireBearerToken returns HTTP middleware that rejects requests lacking
// a valid bearer token, as verified by verifier, and otherwise carries the
// verified TokenInfo on the request's context (see InfoFromContext).
//
// On failure it writes a 401 or 403 response, or 400 when the verifier
// returns ErrOAuth. On a 401 or 403 it also sets WWW-Authenticate when
// opts.ResourceMetadataURL is configured, so a compliant client can discover
// and follow the resource's authorization flow.
func RequireBearerToken(verifier TokenVerifier, opts *RequireBearerTokenOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, msg, code := verify(r, verifier, opts)
			if code != 0 {
				if (code == http.StatusUnauthorized || code == http.StatusForbidden) && opts != nil && opts.ResourceMetadataURL != "" {
					w.Header().Set("WWW-Authenticate", "Bearer resource_metadata="+opts.ResourceMetadataURL)
				}
				http.Error(w, msg, code)
				return
			}
			next.ServeHTTP(w, r.WithContext(newContext(r.Context(), info)))
		})
	}
}

type contextKey struct{}

func newContext(ctx context.Context, info *TokenInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// InfoFromContext returns the TokenInfo that RequireBearerToken verified
// for the current request, if any.
func InfoFromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(contextKey{}).(*TokenInfo)
	return info, ok
}

// ProtectedResourceMetadataHandler serves metadata at a resource server's
// well-known Protected Resource Metadata endpoint
// (/.well-known/oauth-protected-resource), per RFC 9728.
func ProtectedResourceMetadataHandler(metadata *oauthex.ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metadata); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
