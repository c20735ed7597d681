// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"reflect"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemaCache provides concurrent-safe caching for JSON schemas.
// It caches both by reflect.Type (for auto-generated schemas) and
// by schema pointer (for pre-defined schemas).
//
// This cache significantly improves performance for stateless server deployments
// where tools are re-registered on every request. Without caching, each AddTool
// call would trigger expensive reflection-based schema generation and resolution.
//
// Create a cache using [NewSchemaCache] and pass it to [ServerOptions.SchemaCache].
type schemaCache struct {
	// byType caches schemas generated from Go types via jsonschema.ForType.
	// Key: reflect.Type, Value: *cachedSchema
	byType sync.Map

	// bySchema caches resolved schemas for pre-defined Schema objects.
	// Key: *jsonschema.Schema (pointer identity), Value: *jsonschema.Resolved
	// This uses pointer identity because integrators typically reuse the same
	// Tool objects across requests, so the schema pointer remains stable.
	bySchema sync.Map
}

// cachedSchema holds both the generated schema and its resolved form.
type cachedSchema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// NewSchemaCache creates a new schema cache for use with [ServerOptions.SchemaCache].
// Safe for concurrent use, unbounded.
func NewSchemaCache() *schemaCache {
	return &schemaCache{}
}

// getByType retrieves a cached schema by Go type.
// Returns the schema, resolved schema, and whether the cache hit.
func (c *schemaCache) getByType(t reflect.Type) (*jsonschema.Schema, *jsonschema.Resolved, bool) {
	if v, ok := c.byType.Load(t); ok {
		cs := v.(*cachedSchema)
		return cs.schema, cs.resolved, true
	}
	return nil, nil, false
}

// setByType caches a schema by Go type.
func (c *schemaCache) setByType(t reflect.Type, schema *jsonschema.Schema, resolved *jsonschema.Resolved) {
	c.byType.Store(t, &cachedSchema{schema: schema, resolved: resolved})
}

// getBySchema retrieves a cached resolved schema by the original schema pointer.
// This is used when integrators provide pre-defined schemas (e.g., github-mcp-server pattern).
func (c *schemaCache) getBySchema(schema *jsonschema.Schema) (*jsonschema.Resolved, bool) {
	if v, ok := c.bySchema.Load(schema); ok {
		return v.(*jsonschema.Resolved), true
	}
	return nil, false
}

// setBySchema caches a resolved schema by the original schema pointer.
func (c *schemaCache) setBySchema(schema *jsonschema.Schema, resolved *jsonschema.Resolved) {
	c.bySchema.Store(schema, resolved)
}

// setSchema resolves the schema for type T, consulting and populating cache
// along the way, and stores the results through schemaField and resolved.
//
// If *schemaField already holds a *jsonschema.Schema (the caller supplied an
// explicit schema, e.g. a pre-built Tool.InputSchema), that schema is
// resolved and cached by pointer identity: repeated registration of the same
// Tool value, as happens with a stateless server recreated per request,
// resolves it once. Otherwise a schema is inferred from T via
// jsonschema.For and cached by reflect.Type, so repeated AddTool[T] calls
// for the same Go type skip both inference and resolution.
//
// cache may be nil, in which case schemas are generated fresh on every call.
func setSchema[T any](schemaField *any, resolved **jsonschema.Resolved, cache *schemaCache) (*jsonschema.Schema, error) {
	if existing, ok := (*schemaField).(*jsonschema.Schema); ok && existing != nil {
		if cache != nil {
			if r, ok := cache.getBySchema(existing); ok {
				*resolved = r
				return existing, nil
			}
		}
		r, err := existing.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, err
		}
		if cache != nil {
			cache.setBySchema(existing, r)
		}
		*resolved = r
		return existing, nil
	}

	rt := reflect.TypeFor[T]()
	if cache != nil {
		if s, r, ok := cache.getByType(rt); ok {
			*schemaField = s
			*resolved = r
			return s, nil
		}
	}
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, err
	}
	r, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.setByType(rt, schema, r)
	}
	*schemaField = schema
	*resolved = r
	return schema, nil
}
