// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"errors"
	"io"
)

// ErrPartialData is returned by Handler.Serve when the request bytes hold
// an incomplete message and more input is required before progress can
// resume. It pauses processing without closing the session.
var ErrPartialData = errors.New("streamserve: partial data")

// ResponseWriter is the append-only sink a handler writes responses to.
// Writes never fail; the accumulated bytes are flushed to the peer in one
// transport write after the current processing pass.
type ResponseWriter interface {
	io.Writer
	io.StringWriter
	io.ByteWriter
}

// Handler implements the protocol logic for one session. A handler instance
// is owned by exactly one session and never called concurrently with itself.
//
// Serve receives a view of the unconsumed inbound bytes and reports how many
// of them it consumed. It must not claim to consume more bytes than offered.
//   - nil error with consumed == 0 or consumed >= len(req) finishes the pass
//     and clears the inbound buffer.
//   - nil error with 0 < consumed < len(req) advances the view and Serve is
//     invoked again immediately with the remainder.
//   - ErrPartialData retains the unconsumed tail for the next read.
//   - any other error closes the session; output staged in the current pass
//     is discarded.
type Handler interface {
	// OnSessionStart is called once, before any I/O. A non-nil error
	// aborts the session before reading begins.
	OnSessionStart(remoteAddr string) error

	Serve(req []byte, w ResponseWriter) (consumed int, err error)

	// OnSessionClose is called exactly once, after any pending I/O has
	// been canceled and before the transport is shut down.
	OnSessionClose()
}

// HandlerFactory creates one Handler per accepted connection. It may be
// invoked concurrently for different connections and must not fail.
type HandlerFactory interface {
	NewHandler() Handler
}

// The HandlerFactoryFunc type is an adapter to allow the use of
// ordinary functions as handler factories.
type HandlerFactoryFunc func() Handler

// NewHandler calls f().
func (f HandlerFactoryFunc) NewHandler() Handler {
	return f()
}

// responseBuffer accumulates handler output across the invocations of one
// processing pass. It is flushed by a single write and cleared after.
type responseBuffer struct {
	b []byte
}

func (w *responseBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *responseBuffer) WriteString(s string) (int, error) {
	w.b = append(w.b, s...)
	return len(s), nil
}

func (w *responseBuffer) WriteByte(c byte) error {
	w.b = append(w.b, c)
	return nil
}

func (w *responseBuffer) reset() {
	w.b = w.b[:0]
}
