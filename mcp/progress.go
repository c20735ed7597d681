// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"sync"
)

var ErrNoProgressToken = errors.New("no progress token")

// Subscriber is a handle on a progress subscription returned by
// [ClientSession.SubscribeProgress]/[ServerSession.SubscribeProgress]. C
// delivers every notifications/progress message carrying the subscribed
// token until Unsubscribe is called or the session closes.
type Subscriber struct {
	C     <-chan *ProgressNotificationParams
	token any
	d     *progressDispatcher
	once  sync.Once
}

// Unsubscribe removes this subscription from the dispatcher and closes C.
// It is idempotent and safe to call more than once, including from a defer
// placed immediately after subscribing.
func (s *Subscriber) Unsubscribe() {
	s.once.Do(func() { s.d.unsubscribe(s.token) })
}

// progressDispatcher is a ProgressToken -> channel registry: the session
// engine's half of progress notification delivery, separate from (and in
// addition to) a configured ProgressNotificationHandler, which still sees
// every progress notification regardless of per-token subscriptions.
type progressDispatcher struct {
	mu   sync.Mutex
	subs map[any]chan *ProgressNotificationParams
}

func newProgressDispatcher() *progressDispatcher {
	return &progressDispatcher{subs: make(map[any]chan *ProgressNotificationParams)}
}

// subscribe registers token, returning a Subscriber whose channel receives
// matching notifications until the handle is unsubscribed.
func (d *progressDispatcher) subscribe(token any) *Subscriber {
	ch := make(chan *ProgressNotificationParams, 16)
	d.mu.Lock()
	d.subs[token] = ch
	d.mu.Unlock()
	return &Subscriber{C: ch, token: token, d: d}
}

func (d *progressDispatcher) unsubscribe(token any) {
	d.mu.Lock()
	ch, ok := d.subs[token]
	delete(d.subs, token)
	d.mu.Unlock()
	if ok {
		close(ch)
	}
}

// handleNotification looks up n's progress token and, if a subscriber is
// registered, delivers n best-effort: a full channel (a caller that isn't
// reading, equivalent to a dropped receiver) unsubscribes it rather than
// blocking the receive loop.
func (d *progressDispatcher) handleNotification(n *ProgressNotificationParams) {
	d.mu.Lock()
	ch, ok := d.subs[n.ProgressToken]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- n:
	default:
		d.unsubscribe(n.ProgressToken)
	}
}

// clear unsubscribes every pending subscriber, closing their channels. It is
// called when the owning session closes.
func (d *progressDispatcher) clear() {
	d.mu.Lock()
	subs := d.subs
	d.subs = make(map[any]chan *ProgressNotificationParams)
	d.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// Progress reports progress on the current request.
//
// An error is returned if sending progress failed. If there was no progress
// token, this error is ErrNoProgressToken.
func (r *ServerRequest[P]) Progress(ctx context.Context, msg string, progress, total float64) error {
	token, ok := r.Params.GetMeta()[progressTokenKey]
	if !ok {
		return ErrNoProgressToken
	}
	params := &ProgressNotificationParams{
		Message:       msg,
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
	}
	return r.Session.NotifyProgress(ctx, params)
}
