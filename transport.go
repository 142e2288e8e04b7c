// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Transport is the capability set a session drives a connection through.
// Both socket families (stream TCP, Unix-domain stream) satisfy the same
// contract, so sessions and servers are written once and parameterized
// over it. New transports are added by implementing this interface.
type Transport interface {
	// Read blocks until at least one byte is available, EOF, an error,
	// or CancelIO.
	Read(p []byte) (n int, err error)

	// Write blocks until all bytes are accepted by the peer's direction
	// of the connection or an error occurs.
	Write(p []byte) (n int, err error)

	// CancelIO aborts any outstanding Read or Write; they return a
	// cancellation error. The connection itself stays open.
	CancelIO() error

	// Shutdown half-closes both directions, best effort.
	Shutdown() error

	Close() error

	RemoteAddr() string
}

// Listener accepts transports. Closing the listener surfaces a pending
// Accept as a cancellation error.
type Listener interface {
	Accept() (Transport, error)
	Close() error
	Addr() string
}

// aLongTimeAgo is a non-zero time in the distant past, used to force
// pending deadline-aware I/O to return immediately.
var aLongTimeAgo = time.Unix(1, 0)

// isCanceled reports whether err is the result of CancelIO or of the
// owning listener/connection being closed underneath the operation.
func isCanceled(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed)
}

// isPeerClosed reports whether err means the peer ended the stream.
func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF)
}

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

type netTransport struct {
	conn net.Conn
}

// NetTransport converts a net.Conn to a Transport. TCP and Unix-domain
// stream connections are both served by it.
func NetTransport(conn net.Conn) Transport {
	return &netTransport{conn: conn}
}

func (t *netTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

func (t *netTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *netTransport) CancelIO() error {
	return t.conn.SetDeadline(aLongTimeAgo)
}

func (t *netTransport) Shutdown() error {
	var first error
	if cw, ok := t.conn.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil {
			first = err
		}
	}
	if cr, ok := t.conn.(closeReader); ok {
		if err := cr.CloseRead(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

func (t *netTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

type netListener struct {
	ln net.Listener
}

// NetListener converts a net.Listener to a Listener. Accepted connections
// are wrapped with NetTransport.
func NetListener(ln net.Listener) Listener {
	return &netListener{ln: ln}
}

func (l *netListener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NetTransport(conn), nil
}

func (l *netListener) Close() error {
	return l.ln.Close()
}

func (l *netListener) Addr() string {
	if addr := l.ln.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}
