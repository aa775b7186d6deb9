// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package asyncio implements the buffered, line-oriented transport the
// debug engine speaks over its single peer connection.
//
// The transport accumulates partial reads into complete lines and
// dispatches each complete line to a handler, and it buffers writes
// until they are explicitly flushed. It knows nothing about the
// protocol; malformed lines are the dispatcher's problem.
package asyncio

import (
	"bytes"
	"io"
	"sync"
)

// chunkSize is the maximum number of bytes consumed per ReadReady call.
const chunkSize = 4096

// Handler receives complete lines and the end-of-stream notification.
type Handler interface {
	// HandleLine is called once per complete received line, with the
	// trailing newline stripped. A panic inside one line's handling
	// must not corrupt the buffering of subsequent lines.
	HandleLine(line string)

	// SessionClose is called when the peer disconnects (zero-length
	// read).
	SessionClose()
}

// Conn is the buffered line transport over one duplex byte channel.
// It is owned by a single engine; Write and WriteReady may be called
// while a reader loop drives ReadReady, so buffer access is locked.
type Conn struct {
	handler Handler

	mu     sync.Mutex
	reader io.Reader
	writer io.Writer
	inbuf  []byte
	outbuf []byte
}

// New creates a transport dispatching to the given handler.
func New(handler Handler) *Conn {
	return &Conn{handler: handler}
}

// SetDescriptors binds the read and write byte streams and resets both
// internal buffers. It may be called again to support reconnection.
func (c *Conn) SetDescriptors(r io.Reader, w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reader = r
	c.writer = w
	c.inbuf = nil
	c.outbuf = nil
}

// Disconnect clears both stream handles. Calling it twice is a no-op
// the second time.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reader = nil
	c.writer = nil
}

// Connected reports whether stream handles are currently bound.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reader != nil
}

// ReadReady consumes one chunk from the read stream and dispatches
// every complete line accumulated so far. A zero-length read means the
// peer has disconnected: the handler's SessionClose is invoked and
// io.EOF returned. Any trailing partial line stays buffered for the
// next call.
func (c *Conn) ReadReady() error {
	c.mu.Lock()
	r := c.reader
	c.mu.Unlock()
	if r == nil {
		return io.EOF
	}

	chunk := make([]byte, chunkSize)
	n, err := r.Read(chunk)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		c.handler.SessionClose()
		return err
	}

	c.mu.Lock()
	c.inbuf = append(c.inbuf, chunk[:n]...)
	var lines []string
	for {
		i := bytes.IndexByte(c.inbuf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(c.inbuf[:i]))
		c.inbuf = c.inbuf[i+1:]
	}
	c.mu.Unlock()

	// Dispatch outside the lock; handlers write replies through this
	// same connection.
	for _, line := range lines {
		c.dispatch(line)
	}
	return nil
}

// dispatch delivers one line, isolating the buffers from handler
// panics so each line remains independent.
func (c *Conn) dispatch(line string) {
	defer func() {
		_ = recover()
	}()
	c.handler.HandleLine(line)
}

// Write appends s to the pending-output buffer. It does not flush;
// flushing happens via WriteReady.
func (c *Conn) Write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbuf = append(c.outbuf, s...)
}

// PendingWrite reports whether flushable output is buffered.
func (c *Conn) PendingWrite() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbuf) > 0
}

// WriteReady writes the entire pending-output buffer in one call,
// clears it, and flushes the stream if it supports flushing. Protocol
// replies are sent with a Write/WriteReady pair so each reply reaches
// the peer before the engine blocks again.
func (c *Conn) WriteReady() error {
	c.mu.Lock()
	w := c.writer
	buf := c.outbuf
	c.outbuf = nil
	c.mu.Unlock()

	if w == nil || len(buf) == 0 {
		return nil
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
