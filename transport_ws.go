// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketConn interface, see https://godoc.org/github.com/gorilla/websocket/#Conn
type WebsocketConn interface {
	NextReader() (messageType int, r io.Reader, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

const wsShutdownTimeout = time.Second

// WebsocketTransport converts a WebsocketConn to a Transport. Message
// boundaries are not preserved: the payloads of binary and text messages
// form one byte stream, control messages are skipped.
func WebsocketTransport(conn WebsocketConn) Transport {
	return &websocketTransport{conn: conn}
}

type websocketTransport struct {
	conn WebsocketConn
	r    io.Reader // current message, nil between messages
}

func (t *websocketTransport) Read(p []byte) (int, error) {
	for {
		if t.r == nil {
			mt, r, err := t.conn.NextReader()
			if err != nil {
				return 0, wsReadErr(err)
			}
			if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
				continue
			}
			t.r = r
		}

		n, err := t.r.Read(p)
		if err == io.EOF {
			t.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (t *websocketTransport) Write(p []byte) (int, error) {
	w, err := t.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(p)
	if err != nil {
		w.Close()
		return n, err
	}

	return n, w.Close()
}

func (t *websocketTransport) CancelIO() error {
	err := t.conn.SetReadDeadline(aLongTimeAgo)
	if werr := t.conn.SetWriteDeadline(aLongTimeAgo); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (t *websocketTransport) Shutdown() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsShutdownTimeout))
}

func (t *websocketTransport) Close() error {
	return t.conn.Close()
}

func (t *websocketTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// wsReadErr maps websocket close frames to io.EOF so sessions treat a
// clean websocket closure like a peer ending a byte stream.
func wsReadErr(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}

// WebsocketListener upgrades HTTP requests to websocket connections and
// hands them to an accept loop as Transports. Mount it on an HTTP mux and
// pass it to Builder.Listener.
type WebsocketListener struct {
	upgrader websocket.Upgrader

	connC     chan Transport
	doneC     chan struct{}
	closeOnce sync.Once

	addr string
}

// NewWebsocketListener allocates and returns a new WebsocketListener.
// The addr is informational only, it is what Addr reports.
func NewWebsocketListener(addr string) *WebsocketListener {
	return &WebsocketListener{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connC: make(chan Transport),
		doneC: make(chan struct{}),
		addr:  addr,
	}
}

func (l *WebsocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		return
	}

	select {
	case l.connC <- WebsocketTransport(conn):
	case <-l.doneC:
		conn.Close()
	}
}

func (l *WebsocketListener) Accept() (Transport, error) {
	select {
	case t := <-l.connC:
		return t, nil
	case <-l.doneC:
		return nil, net.ErrClosed
	}
}

func (l *WebsocketListener) Close() error {
	l.closeOnce.Do(func() { close(l.doneC) })
	return nil
}

func (l *WebsocketListener) Addr() string {
	return l.addr
}
