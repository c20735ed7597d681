// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxLineBytes bounds a single newline-framed message on a byte transport,
// per the transport contract's framing adapter.
const maxLineBytes = 2 * 1024 * 1024 // 2 MiB

// ErrLineTooLong is returned by a byte-stream Connection's Read when an
// incoming line exceeds maxLineBytes.
var ErrLineTooLong = errors.New("jsonrpc: message line exceeds 2 MiB limit")

// Transport is the polymorphic contract over one duplex connection: at most
// one outstanding Receive at a time, Send may be called concurrently with
// Receive and with itself, and Close is idempotent.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// byteStreamTransport adapts a newline-delimited JSON byte stream (an
// io.Reader/io.Writer pair) to the Transport contract. This is the shape
// used by stdio and by any other line-oriented transport.
type byteStreamTransport struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer

	closeOnce sync.Once
	closer    io.Closer
	closeErr  error
}

// NewByteStreamTransport frames r/w as newline-terminated JSON messages. If
// c is non-nil, Close calls c.Close(); otherwise Close is a no-op beyond
// marking the transport closed.
func NewByteStreamTransport(r io.Reader, w io.Writer, c io.Closer) Transport {
	return &byteStreamTransport{
		r:      bufio.NewReaderSize(r, 64*1024),
		w:      w,
		closer: c,
	}
}

func (t *byteStreamTransport) Send(ctx context.Context, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.w.Write(data); err != nil {
		return err
	}
	_, err = t.w.Write([]byte{'\n'})
	return err
}

func (t *byteStreamTransport) Receive(ctx context.Context) (Message, error) {
	for {
		line, err := t.r.ReadString('\n')
		if len(line) > maxLineBytes {
			return nil, ErrLineTooLong
		}
		trimmed := trimNewline(line)
		if len(trimmed) == 0 {
			if err != nil {
				return nil, err
			}
			continue // blank lines between messages are ignored
		}
		msg, decErr := DecodeMessage(trimmed)
		if decErr != nil {
			return nil, decErr
		}
		return msg, err
	}
}

func trimNewline(s string) []byte {
	n := len(s)
	for n > 0 && (s[n-1] == '\n' || s[n-1] == '\r') {
		n--
	}
	return []byte(s[:n])
}

func (t *byteStreamTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.closer != nil {
			t.closeErr = t.closer.Close()
		}
	})
	return t.closeErr
}

// SinkStreamTransport adapts a pair of already-typed message channels to
// the Transport contract: a pass-through adapter used by in-process and
// test transports, and the base for message-framed (non-byte) transports
// like WebSocket and streamable-HTTP.
type SinkStreamTransport struct {
	Outgoing chan<- Message
	Incoming <-chan Message

	CloseFunc func() error
	closeOnce sync.Once
	closeErr  error
}

func (t *SinkStreamTransport) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.Outgoing <- msg:
		return nil
	}
}

func (t *SinkStreamTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-t.Incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

func (t *SinkStreamTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.CloseFunc != nil {
			t.closeErr = t.CloseFunc()
		}
	})
	return t.closeErr
}

// ErrTransportClosed is surfaced to pending requests when a transport is
// lost and PendingRequests.Clear is invoked.
var ErrTransportClosed = errors.New("jsonrpc: transport closed")

// WrapTransportError annotates a low-level transport failure for surfacing
// through Clear, keeping the original error visible via errors.Is/As.
func WrapTransportError(err error) error {
	if err == nil {
		return ErrTransportClosed
	}
	return fmt.Errorf("%w: %w", ErrTransportClosed, err)
}
