// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// fileResourceHandler returns a handler that reads resources from the local
// filesystem under dir. A resource's URI must have the form
// "file:///<path>", where <path> is interpreted relative to dir.
//
// The returned handler honors roots reported by the connected client: if the
// client has any file:// roots, a read is only served when the resolved path
// falls under one of them. It also rejects any URI whose path escapes dir,
// whether lexically (via "..") or through a symlink.
func fileResourceHandler(dir string) func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error) {
	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		panic(err)
	}
	return func(ctx context.Context, req *ReadResourceRequest) (*ReadResourceResult, error) {
		rel, err := localFilePath(req.Params.URI)
		if err != nil {
			return nil, ResourceNotFoundError(req.Params.URI)
		}

		rootRes, err := req.Session.ListRoots(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("listing roots: %w", err)
		}
		if roots, err := fileRootPaths(rootRes.Roots); err != nil {
			return nil, err
		} else if len(roots) > 0 && !underAnyRoot(filepath.Join(dirAbs, rel), roots) {
			return nil, ResourceNotFoundError(req.Params.URI)
		}

		data, err := readFileUnder(dirAbs, rel)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ResourceNotFoundError(req.Params.URI)
			}
			return nil, err
		}
		return &ReadResourceResult{
			Contents: []*ResourceContents{{URI: req.Params.URI, Text: string(data)}},
		}, nil
	}
}

// localFilePath extracts the filesystem path a "file://" resource URI
// refers to, rejecting any path that escapes its base directory once
// joined with it.
func localFilePath(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%q is not a file URI", rawURI)
	}
	if u.Path == "" {
		return "", errors.New("empty path")
	}
	return filepath.Localize(strings.TrimPrefix(u.Path, "/"))
}

// readFileUnder reads the file at join(dir, rel), using an os.Root rooted
// at dir so that a symlink under dir cannot be followed outside of it.
func readFileUnder(dir, rel string) (_ []byte, err error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	f, err := root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	return io.ReadAll(f)
}

// fileRootPaths converts the client's reported roots to absolute
// filesystem paths, ignoring any root that isn't a "file://" URI.
func fileRootPaths(roots []*Root) ([]string, error) {
	var out []string
	for _, r := range roots {
		u, err := url.Parse(r.URI)
		if err != nil {
			return nil, fmt.Errorf("root %q: %w", r.URI, err)
		}
		if u.Scheme != "file" || u.Path == "" {
			continue
		}
		out = append(out, filepath.Clean(filepath.FromSlash(u.Path)))
	}
	return out, nil
}

// underAnyRoot reports whether the absolute path p falls under one of
// roots (also absolute paths).
func underAnyRoot(p string, roots []string) bool {
	for _, root := range roots {
		if rel, err := filepath.Rel(root, p); err == nil && filepath.IsLocal(rel) {
			return true
		}
	}
	return false
}
