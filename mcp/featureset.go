// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"iter"
	"sort"
)

// A featureSet holds a keyed collection of tools, prompts, resources, or
// resource templates, kept retrievable by key and listable in a stable,
// sorted order for pagination.
type featureSet[T any] struct {
	keyFunc func(T) string
	items   map[string]T
}

func newFeatureSet[T any](keyFunc func(T) string) *featureSet[T] {
	return &featureSet[T]{keyFunc: keyFunc, items: make(map[string]T)}
}

// add inserts or replaces items by key.
func (fs *featureSet[T]) add(items ...T) {
	for _, it := range items {
		fs.items[fs.keyFunc(it)] = it
	}
}

// remove deletes items by key; missing keys are ignored.
func (fs *featureSet[T]) remove(keys ...string) {
	for _, k := range keys {
		delete(fs.items, k)
	}
}

func (fs *featureSet[T]) get(key string) (T, bool) {
	v, ok := fs.items[key]
	return v, ok
}

func (fs *featureSet[T]) len() int { return len(fs.items) }

// all iterates over every item, in ascending key order.
func (fs *featureSet[T]) all() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range fs.sorted() {
			if !yield(item) {
				return
			}
		}
	}
}

// above iterates over the items whose keys are greater than key, in
// ascending key order.
func (fs *featureSet[T]) above(key string) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range fs.sorted() {
			if fs.keyFunc(item) > key && !yield(item) {
				return
			}
		}
	}
}

// sorted returns all items in ascending key order.
func (fs *featureSet[T]) sorted() []T {
	keys := make([]string, 0, len(fs.items))
	for k := range fs.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = fs.items[k]
	}
	return out
}
