// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/someonegg/gox/syncx"
)

// Statistics is a point-in-time snapshot of server counters.
type Statistics struct {
	// sessions
	AcceptedCount int64
	ActiveCount   int64

	// transport bytes
	ReadBytes    int64
	WrittenBytes int64

	// failed sessions (handler, transport or panic)
	SessionErrors int64
}

type stats struct {
	accepted      atomic.Int64
	active        atomic.Int64
	readBytes     atomic.Int64
	writtenBytes  atomic.Int64
	sessionErrors atomic.Int64
}

func (st *stats) sessionOpened() {
	if st == nil {
		return
	}
	st.accepted.Add(1)
	st.active.Add(1)
}

func (st *stats) sessionClosed() {
	if st == nil {
		return
	}
	st.active.Add(-1)
}

func (st *stats) addRead(n int) {
	if st == nil {
		return
	}
	st.readBytes.Add(int64(n))
}

func (st *stats) addWritten(n int) {
	if st == nil {
		return
	}
	st.writtenBytes.Add(int64(n))
}

func (st *stats) addSessionError() {
	if st == nil {
		return
	}
	st.sessionErrors.Add(1)
}

func (st *stats) snapshot() Statistics {
	return Statistics{
		AcceptedCount: st.accepted.Load(),
		ActiveCount:   st.active.Load(),
		ReadBytes:     st.readBytes.Load(),
		WrittenBytes:  st.writtenBytes.Load(),
		SessionErrors: st.sessionErrors.Load(),
	}
}

// Server accepts connections and runs one Session per accepted connection.
// Build one with a Builder.
//
// Server supports concurrent access.
type Server struct {
	impl *streamServer
}

// Run starts the accept loop and returns immediately.
func (s *Server) Run() {
	s.impl.startAccepting()
}

// Stop first stops intake, then requests every live session to close. It
// is idempotent and returns without waiting for the sessions to finish
// their close sequences.
func (s *Server) Stop() {
	s.impl.stopAccepting()
	s.impl.closeAllSessions()
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.impl.ln.Addr()
}

// StopD returns a done channel, it will be signaled when the accept loop
// has ended.
func (s *Server) StopD() syncx.DoneChanR {
	return s.impl.stopD.R()
}

// Statistics returns a snapshot of the server counters.
func (s *Server) Statistics() Statistics {
	return s.impl.st.snapshot()
}

// streamServer owns the listening transport and the set of live sessions.
// One implementation serves every transport variant, parameterized over
// the Listener interface.
type streamServer struct {
	ln      Listener
	factory HandlerFactory
	log     *slog.Logger

	readReserve  int
	writeReserve int

	st *stats
	m  *Metrics

	stopD  syncx.DoneChan
	lnOnce sync.Once

	mu       sync.Mutex
	closed   bool
	sessions []*Session
}

func newStreamServer(ln Listener, factory HandlerFactory, log *slog.Logger, readReserve, writeReserve int, m *Metrics) *streamServer {
	return &streamServer{
		ln:           ln,
		factory:      factory,
		log:          log.With("component", "streamserve", "listen", ln.Addr()),
		readReserve:  readReserve,
		writeReserve: writeReserve,
		st:           &stats{},
		m:            m,
		stopD:        syncx.NewDoneChan(),
	}
}

func (sv *streamServer) startAccepting() {
	sv.log.Debug("start accepting")
	go sv.acceptLoop()
}

func (sv *streamServer) acceptLoop() {
	defer sv.stopD.SetDone()

	for {
		tr, err := sv.ln.Accept()
		if err != nil {
			if isCanceled(err) {
				sv.log.Debug("accepting canceled")
			} else {
				sv.log.Error("accept failed", "error", err)
			}
			sv.log.Debug("accept loop ended")
			return
		}

		sv.startSession(tr)
	}
}

// startSession creates and records a session for an accepted transport.
// A failure here (including a panicking handler factory) is logged and
// does not end the accept loop.
func (sv *streamServer) startSession(tr Transport) {
	defer func() {
		if e := recover(); e != nil {
			sv.log.Error("session setup failed", "panic", e)
			if err := tr.Close(); err != nil {
				sv.log.Error("transport close failed", "error", err)
			}
		}
	}()

	sv.log.Debug("accepted connection", "remote", tr.RemoteAddr())

	sess := newSession(tr, sv.factory.NewHandler(), sv.log,
		sv.readReserve, sv.writeReserve, sv.st, sv.m)

	sv.st.sessionOpened()
	sv.m.sessionOpened()
	sess.Start()

	// an accept can complete just before the listener is closed; a session
	// arriving after close-all is told to close instead of being recorded
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		sess.Close()
		return
	}

	// remove already closed sessions before recording the new one
	live := sv.sessions[:0]
	for _, s := range sv.sessions {
		if s.IsOpen() {
			live = append(live, s)
		}
	}
	sv.sessions = append(live, sess)
	n := len(sv.sessions)
	sv.mu.Unlock()

	sv.log.Debug("sessions open", "count", n)
}

func (sv *streamServer) stopAccepting() {
	sv.log.Debug("stop accepting")
	sv.lnOnce.Do(func() {
		if err := sv.ln.Close(); err != nil {
			sv.log.Error("listener close failed", "error", err)
		}
	})
}

// closeAllSessions requests every live session to close and clears the
// set. Sessions finish their close sequences asynchronously.
func (sv *streamServer) closeAllSessions() {
	sv.log.Debug("close all sessions")

	sv.mu.Lock()
	sv.closed = true
	sessions := sv.sessions
	sv.sessions = nil
	sv.mu.Unlock()

	for _, s := range sessions {
		if s.IsOpen() {
			s.Close()
		}
	}
}
