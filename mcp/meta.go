// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import "reflect"

// Meta is the free-form mapping attached to any request or notification.
// Params types embed Meta anonymously so that GetMeta is promoted,
// satisfying the Params interface used by the session engine and router
// core to read progressToken and other extension keys uniformly.
type Meta map[string]any

// GetMeta returns m itself, satisfying the Params interface for any type
// that embeds Meta.
func (m Meta) GetMeta() Meta { return m }

// SetMeta replaces m with x. It is promoted to any type that embeds Meta.
func (m *Meta) SetMeta(x Meta) { *m = x }

// progressTokenKey is the reserved meta key naming the progress stream the
// sender owns, per the wire model (spec section on Meta).
const progressTokenKey = "progressToken"

// Params is the sealed set of request/notification parameter types: they all
// embed Meta (promoting GetMeta) and declare an isParams marker method,
// closing the set to types defined in this package.
type Params interface {
	GetMeta() Meta
	isParams()
}

// Result is the sealed set of response result types, mirroring Params.
type Result interface {
	GetMeta() Meta
	isResult()
}

// getProgressToken extracts the progress token from p's meta, if any.
func getProgressToken(p Params) any {
	if p == nil {
		return nil
	}
	return p.GetMeta()[progressTokenKey]
}

// setProgressToken records t as the progress token in p's meta, allocating
// the Meta map if necessary. Since Meta is a map, once allocated this
// mutates the same underlying storage p.GetMeta() will later read from; a
// nil Meta has no storage to mutate, so allocating it requires reaching
// into p's embedded Meta field directly via reflection, since Params has no
// setter for it.
func setProgressToken(p Params, t any) {
	m := p.GetMeta()
	if m == nil {
		m = make(Meta)
		if f := reflect.ValueOf(p).Elem().FieldByName("Meta"); f.IsValid() && f.CanSet() {
			f.Set(reflect.ValueOf(m))
		} else {
			return
		}
	}
	m[progressTokenKey] = t
}
