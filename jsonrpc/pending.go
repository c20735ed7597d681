// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc

import "sync"

// Outcome is the result delivered to a pending request's waiter: either a
// successful Result or an error (transport failure, timeout, or a peer
// *WireError promoted to a Go error).
type Outcome struct {
	Result any
	Err    error
}

// replySlot is a single-consumer delivery channel for one outstanding
// request id.
type replySlot chan Outcome

// PendingRequests correlates outgoing request ids with one-shot reply
// slots. It implements the pending-request table of the session engine
// (component B): insertion happens-before send, at most one reply is
// delivered per id, and Clear resolves every outstanding slot at once.
//
// Safe for concurrent use.
type PendingRequests struct {
	mu      sync.Mutex
	pending map[ID]replySlot
}

// NewPendingRequests returns an empty table.
func NewPendingRequests() *PendingRequests {
	return &PendingRequests{pending: make(map[ID]replySlot)}
}

// Insert registers id as outstanding and returns the channel that will
// receive its single Outcome. Insert panics if id is already outstanding,
// since that would indicate an id-allocation bug upstream.
func (p *PendingRequests) Insert(id ID) <-chan Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; ok {
		panic("jsonrpc: duplicate pending request id " + id.String())
	}
	slot := make(replySlot, 1)
	p.pending[id] = slot
	return slot
}

// Resolve delivers outcome to the waiter registered for id, if any, and
// removes it from the table. A resolve for an unknown id (a late or
// duplicate reply) is a no-op; callers should log it as dropped.
func (p *PendingRequests) Resolve(id ID, outcome Outcome) (delivered bool) {
	p.mu.Lock()
	slot, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	slot <- outcome
	close(slot)
	return true
}

// Forget removes id from the table without delivering anything, for the
// case where the caller gave up (e.g. a local timeout already resolved the
// waiter) but the id may still receive a late reply that must be dropped
// silently rather than panicking on a closed channel send.
func (p *PendingRequests) Forget(id ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, id)
}

// Clear resolves every present slot with err and empties the table. Used
// when the underlying transport is lost so that no caller blocks forever.
func (p *PendingRequests) Clear(err error) {
	p.mu.Lock()
	slots := p.pending
	p.pending = make(map[ID]replySlot)
	p.mu.Unlock()
	for _, slot := range slots {
		slot <- Outcome{Err: err}
		close(slot)
	}
}

// Len reports the number of outstanding requests, for tests and metrics.
func (p *PendingRequests) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
