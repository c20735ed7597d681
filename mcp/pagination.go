// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
)

// featureSet holds a deduplicated, key-sorted collection of items of type T,
// the structure every List* RPC (tools/list, prompts/list, resources/list,
// resources/templates/list) pages over. Sorting by key rather than
// insertion order means a cursor — the key of the last item returned — stays
// valid even if items are added or removed between pages, as long as the new
// item's key doesn't fall inside the already-paged range.
type featureSet[T any] struct {
	mu     sync.Mutex
	keyOf  func(T) string
	byKey  map[string]T
	sorted []string
}

func newFeatureSet[T any](keyOf func(T) string) *featureSet[T] {
	return &featureSet[T]{keyOf: keyOf, byKey: make(map[string]T)}
}

// add inserts or overwrites items by their key, keeping sorted current.
func (fs *featureSet[T]) add(items ...T) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, item := range items {
		k := fs.keyOf(item)
		if _, ok := fs.byKey[k]; !ok {
			i := sort.SearchStrings(fs.sorted, k)
			fs.sorted = append(fs.sorted, "")
			copy(fs.sorted[i+1:], fs.sorted[i:])
			fs.sorted[i] = k
		}
		fs.byKey[k] = item
	}
}

// remove deletes the item with the given key, if present.
func (fs *featureSet[T]) remove(key string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.byKey[key]; !ok {
		return
	}
	delete(fs.byKey, key)
	i := sort.SearchStrings(fs.sorted, key)
	if i < len(fs.sorted) && fs.sorted[i] == key {
		fs.sorted = append(fs.sorted[:i], fs.sorted[i+1:]...)
	}
}

// list returns every item in key order.
func (fs *featureSet[T]) list() []T {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.sorted) == 0 {
		return nil
	}
	out := make([]T, len(fs.sorted))
	for i, k := range fs.sorted {
		out[i] = fs.byKey[k]
	}
	return out
}

// after returns up to pageSize items whose key sorts strictly after cursor
// (the empty cursor means the beginning), plus the cursor for the next
// page, empty once the end is reached.
func (fs *featureSet[T]) after(cursor string, pageSize int) (items []T, nextCursor string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(fs.sorted, cursor)
		if start < len(fs.sorted) && fs.sorted[start] == cursor {
			start++
		}
	}
	end := start + pageSize
	if end > len(fs.sorted) {
		end = len(fs.sorted)
	}
	keys := fs.sorted[start:end]
	if len(keys) > 0 {
		items = make([]T, len(keys))
		for i, k := range keys {
			items[i] = fs.byKey[k]
		}
	}
	if end < len(fs.sorted) {
		nextCursor = fs.sorted[end-1]
	}
	return items, nextCursor
}

// cursorParams is implemented by every List*Params type, via the private
// cursorPtr accessor declared alongside each type in protocol.go.
type cursorParams interface {
	cursorPtr() *string
}

// cursorResult is implemented by every List*Result type, via the private
// nextCursorPtr accessor declared alongside each type in protocol.go.
type cursorResult interface {
	nextCursorPtr() *string
}

// paginateList pages fs according to params.cursorPtr(), writes the page
// into result via assign, sets result's next cursor, and returns result.
func paginateList[T any, P cursorParams, R cursorResult](fs *featureSet[T], pageSize int, params P, result R, assign func(R, []T)) (R, error) {
	cursor := ""
	if cp := params.cursorPtr(); cp != nil {
		cursor = *cp
	}
	after := ""
	if cursor != "" {
		key, err := decodeCursor(cursor)
		if err != nil {
			return result, fmt.Errorf("mcp: invalid cursor: %w", err)
		}
		after = key
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	items, nextKey := fs.after(after, pageSize)
	assign(result, items)
	if nextKey != "" {
		next, err := encodeCursor(nextKey)
		if err != nil {
			return result, err
		}
		*result.nextCursorPtr() = next
	}
	return result, nil
}

// encodeCursor and decodeCursor turn a feature's key into an opaque token
// and back, so a client sees an opaque handle rather than a key it might be
// tempted to construct itself.
func encodeCursor(key string) (string, error) {
	return base64.URLEncoding.EncodeToString([]byte(key)), nil
}

func decodeCursor(cursor string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
