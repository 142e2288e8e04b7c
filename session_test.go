// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(e string) int {
	n := 0
	for _, ev := range l.snapshot() {
		if ev == e {
			n++
		}
	}
	return n
}

type mockTransport struct {
	ev    *eventLog
	readC chan []byte

	mu       sync.Mutex
	wb       bytes.Buffer
	writeErr error

	cancelOnce sync.Once
	canceled   chan struct{}
}

func newMockTransport(ev *eventLog) *mockTransport {
	return &mockTransport{
		ev:       ev,
		readC:    make(chan []byte, 16),
		canceled: make(chan struct{}),
	}
}

func (m *mockTransport) feed(s string) {
	m.readC <- []byte(s)
}

func (m *mockTransport) eof() {
	close(m.readC)
}

func (m *mockTransport) Read(p []byte) (int, error) {
	select {
	case b, ok := <-m.readC:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	case <-m.canceled:
		return 0, os.ErrDeadlineExceeded
	}
}

func (m *mockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.wb.Write(p)
	return len(p), nil
}

func (m *mockTransport) written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wb.String()
}

func (m *mockTransport) CancelIO() error {
	m.cancelOnce.Do(func() { close(m.canceled) })
	return nil
}

func (m *mockTransport) Shutdown() error {
	m.ev.add("shutdown")
	return nil
}

func (m *mockTransport) Close() error {
	m.ev.add("transport-close")
	return nil
}

func (m *mockTransport) RemoteAddr() string {
	return "mock:1"
}

type testHandler struct {
	ev       *eventLog
	startErr error
	serve    func(req []byte, w ResponseWriter) (int, error)
}

func (h *testHandler) OnSessionStart(remoteAddr string) error {
	h.ev.add("start")
	return h.startErr
}

func (h *testHandler) Serve(req []byte, w ResponseWriter) (int, error) {
	h.ev.add("serve:" + string(req))
	return h.serve(req, w)
}

func (h *testHandler) OnSessionClose() {
	h.ev.add("handler-close")
}

func lineEcho(req []byte, w ResponseWriter) (int, error) {
	i := bytes.IndexByte(req, '\n')
	if i < 0 {
		return 0, ErrPartialData
	}
	w.Write(req[:i+1])
	return i + 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestSession(tr Transport, h Handler) *Session {
	s := NewSession(tr, h)
	s.SetLogger(discardLogger())
	s.Start()
	return s
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.StopD():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionEchoAndCloseOrder(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: lineEcho}

	tr.feed("hello\n")
	tr.eof()

	s := startTestSession(tr, h)
	waitClosed(t, s)

	if got := tr.written(); got != "hello\n" {
		t.Fatal("echo output", got)
	}

	want := []string{"start", "serve:hello\n", "handler-close", "shutdown", "transport-close"}
	got := ev.snapshot()
	if len(got) != len(want) {
		t.Fatal("event sequence", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatal("event sequence", got)
		}
	}

	if s.State() != StateClosed || s.IsOpen() {
		t.Fatal("session state", s.State())
	}
}

func TestSessionSplitMessage(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: lineEcho}

	tr.feed("hel")
	tr.feed("lo\n")
	tr.eof()

	s := startTestSession(tr, h)
	waitClosed(t, s)

	if got := tr.written(); got != "hello\n" {
		t.Fatal("split message output", got)
	}
	if ev.count("serve:hel") != 1 || ev.count("serve:hello\n") != 1 {
		t.Fatal("serve calls", ev.snapshot())
	}
}

func TestSessionPackedMessages(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: lineEcho}

	tr.feed("a\n b\n")
	tr.eof()

	s := startTestSession(tr, h)
	waitClosed(t, s)

	// both lines dispatched separately, responses concatenate in order
	if got := tr.written(); got != "a\n b\n" {
		t.Fatal("packed messages output", got)
	}
	if ev.count("serve:a\n b\n") != 1 || ev.count("serve: b\n") != 1 {
		t.Fatal("serve calls", ev.snapshot())
	}
}

func TestSessionPartialAfterCompleteWritesStaged(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: lineEcho}

	tr.feed("a\nxy")
	tr.feed("z\n")
	tr.eof()

	s := startTestSession(tr, h)
	waitClosed(t, s)

	// the complete first line is answered right away, the tail is
	// retained and completed by the second read
	if got := tr.written(); got != "a\nxyz\n" {
		t.Fatal("staged output", got)
	}
	if ev.count("serve:xyz\n") != 1 {
		t.Fatal("retained tail", ev.snapshot())
	}
}

func TestSessionZeroConsumedClearsBuffer(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: func(req []byte, w ResponseWriter) (int, error) {
		return 0, nil
	}}

	tr.feed("abc")
	tr.feed("def")
	tr.eof()

	s := startTestSession(tr, h)
	waitClosed(t, s)

	// consumed zero clears the whole inbound buffer
	if ev.count("serve:abc") != 1 || ev.count("serve:def") != 1 {
		t.Fatal("serve calls", ev.snapshot())
	}
}

func TestSessionOverclaimIsClamped(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: func(req []byte, w ResponseWriter) (int, error) {
		w.Write(req)
		return 10 * len(req), nil
	}}

	tr.feed("abc")
	tr.eof()

	s := startTestSession(tr, h)
	waitClosed(t, s)

	if got := tr.written(); got != "abc" {
		t.Fatal("overclaim output", got)
	}
	if ev.count("serve:abc") != 1 {
		t.Fatal("serve calls", ev.snapshot())
	}
}

func TestSessionNegativeConsumedIsClamped(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: func(req []byte, w ResponseWriter) (int, error) {
		w.Write(req)
		return -1, nil
	}}

	tr.feed("ab")
	tr.eof()

	s := startTestSession(tr, h)
	waitClosed(t, s)

	// a negative count is treated as consumed-nothing, the staged output
	// is still written out, not lost to a reslice panic
	if got := tr.written(); got != "ab" {
		t.Fatal("negative consumed output", got)
	}
	if ev.count("serve:ab") != 1 {
		t.Fatal("serve calls", ev.snapshot())
	}
}

func TestSessionHandlerErrorDiscardsStagedOutput(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	errBoom := errors.New("boom")
	h := &testHandler{ev: ev, serve: func(req []byte, w ResponseWriter) (int, error) {
		w.WriteString("staged")
		return 0, errBoom
	}}

	tr.feed("x")

	s := startTestSession(tr, h)
	waitClosed(t, s)

	if got := tr.written(); got != "" {
		t.Fatal("output not discarded", got)
	}
	if ev.count("handler-close") != 1 || ev.count("transport-close") != 1 {
		t.Fatal("close sequence", ev.snapshot())
	}
}

func TestSessionExternalClose(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	served := make(chan struct{}, 1)
	h := &testHandler{ev: ev, serve: func(req []byte, w ResponseWriter) (int, error) {
		select {
		case served <- struct{}{}:
		default:
		}
		return 0, ErrPartialData
	}}

	tr.feed("x")

	s := startTestSession(tr, h)
	<-served

	s.Close()
	waitClosed(t, s)

	// repeated close is harmless
	s.Close()

	if got := tr.written(); got != "" {
		t.Fatal("unexpected output", got)
	}
	if ev.count("handler-close") != 1 || ev.count("shutdown") != 1 || ev.count("transport-close") != 1 {
		t.Fatal("close sequence", ev.snapshot())
	}
}

func TestSessionStartRejected(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, startErr: errors.New("not welcome"), serve: lineEcho}

	s := NewSession(tr, h)
	s.SetLogger(discardLogger())
	s.Start()
	waitClosed(t, s)

	if ev.count("handler-close") != 0 {
		t.Fatal("handler close after rejected start", ev.snapshot())
	}
	if ev.count("transport-close") != 1 {
		t.Fatal("transport not released", ev.snapshot())
	}
	if s.IsOpen() {
		t.Fatal("session still open")
	}
}

func TestSessionWriteError(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	tr.writeErr = errors.New("socket gone")
	h := &testHandler{ev: ev, serve: lineEcho}

	tr.feed("hello\n")

	s := startTestSession(tr, h)
	waitClosed(t, s)

	if ev.count("handler-close") != 1 || ev.count("transport-close") != 1 {
		t.Fatal("close sequence", ev.snapshot())
	}
}

func TestSessionHandlerPanic(t *testing.T) {
	ev := &eventLog{}
	tr := newMockTransport(ev)
	h := &testHandler{ev: ev, serve: func(req []byte, w ResponseWriter) (int, error) {
		panic("handler bug")
	}}

	tr.feed("x")

	s := startTestSession(tr, h)
	waitClosed(t, s)

	if ev.count("handler-close") != 1 || ev.count("transport-close") != 1 {
		t.Fatal("close sequence", ev.snapshot())
	}
}
