// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"strings"
)

// event is a single server-sent event, as used by the streamable HTTP
// transport to push JSON-RPC messages and replay them on reconnect.
type event struct {
	name string
	id   string
	data []byte
}

// writeEvent writes e to w in the text/event-stream wire format, flushing
// immediately if w supports it so the peer observes the event without
// buffering delay.
func writeEvent(w io.Writer, e event) (int, error) {
	var buf bytes.Buffer
	if e.id != "" {
		fmt.Fprintf(&buf, "id: %s\n", e.id)
	}
	if e.name != "" {
		fmt.Fprintf(&buf, "event: %s\n", e.name)
	}
	for _, line := range bytes.Split(e.data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	n, err := w.Write(buf.Bytes())
	if err == nil {
		if f, ok := w.(interface{ Flush() }); ok {
			f.Flush()
		}
	}
	return n, err
}

// scanEvents reads a text/event-stream body from r, yielding each decoded
// event in turn. The iteration ends, with a final io.EOF error, when r is
// exhausted; any other error aborts iteration immediately.
func scanEvents(r io.Reader) iter.Seq2[event, error] {
	return func(yield func(event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

		var cur event
		var data bytes.Buffer
		haveEvent := false

		emit := func() bool {
			if !haveEvent {
				return true
			}
			cur.data = append([]byte(nil), bytes.TrimSuffix(data.Bytes(), []byte("\n"))...)
			ok := yield(cur, nil)
			cur = event{}
			data.Reset()
			haveEvent = false
			return ok
		}

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				// Blank line: dispatch the event accumulated so far.
				if !emit() {
					return
				}
				continue
			}
			haveEvent = true
			switch {
			case strings.HasPrefix(line, "id:"):
				cur.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			case strings.HasPrefix(line, "event:"):
				cur.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
				data.WriteByte('\n')
			case strings.HasPrefix(line, ":"):
				// Comment line, ignored.
			}
		}
		if err := scanner.Err(); err != nil {
			yield(event{}, err)
			return
		}
		// Dispatch a trailing event not terminated by a blank line.
		if !emit() {
			return
		}
		yield(event{}, io.EOF)
	}
}
