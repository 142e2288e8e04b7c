// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package streamserve provides a reusable asynchronous stream-server
// engine.
//
// The engine accepts connections over TCP or Unix-domain sockets and
// drives each one through a read/process/respond cycle. All protocol
// semantics live in an externally supplied Handler; the engine owns the
// buffers, the partial-message reassembly and the close protocol.
//
// Within one session, read, process and write strictly alternate and a
// handler is never called concurrently with itself, so handler code needs
// no locking for session-local state. Different sessions run fully
// concurrently with each other.
//
// The transport layer is defined by the Transport interface, there are
// two default implementations:
//
//	NetTransport over net.Conn (TCP and Unix-domain stream)
//	WebsocketTransport over a websocket connection
//
// Here is a quick example, a newline-terminated line echo server.
//
// Handler
//
//	type EchoHandler struct{}
//
//	func (h *EchoHandler) OnSessionStart(remoteAddr string) error {
//		log.Printf("session from %v", remoteAddr)
//		return nil
//	}
//
//	func (h *EchoHandler) Serve(req []byte, w streamserve.ResponseWriter) (int, error) {
//		i := bytes.IndexByte(req, '\n')
//		if i < 0 {
//			return 0, streamserve.ErrPartialData
//		}
//		w.Write(req[:i+1])
//		return i + 1, nil
//	}
//
//	func (h *EchoHandler) OnSessionClose() {}
//
// Server
//
//	server, err := streamserve.NewBuilder().
//		Endpoint(streamserve.ProtocolTCP, "127.0.0.1:7000").
//		HandlerFactory(streamserve.HandlerFactoryFunc(func() streamserve.Handler {
//			return &EchoHandler{}
//		})).
//		Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	server.Run()
//	defer server.Stop()
//
// A handler that returns ErrPartialData pauses processing until more
// bytes arrive; the unconsumed tail is retained, so a message split
// across reads is reassembled without loss or duplication. A handler
// that consumes only part of the offered bytes is re-invoked immediately
// with the remainder, so several messages packed into one read are each
// dispatched separately and their responses are written out in call
// order.
package streamserve
