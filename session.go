// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/someonegg/gox/syncx"
)

// SessionState is the observable progress state of a session.
type SessionState int32

const (
	StateStarting SessionState = iota
	StateReadWait
	StateProcessing
	StateWriteWait
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReadWait:
		return "read-wait"
	case StateProcessing:
		return "processing"
	case StateWriteWait:
		return "write-wait"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Buffer capacity reserved per direction when a session is created. The
// inbound buffer may still grow past the reserve, it never shrinks back
// during the connection.
const (
	DefaultReadReserve  = 64 << 10
	DefaultWriteReserve = 64 << 10
)

// minReadSpace is the least spare inbound capacity a read is issued with.
const minReadSpace = 4 << 10

// Session drives one accepted connection through its read/process/respond
// cycle. It owns the transport, one inbound and one outbound buffer and the
// handler instance; at most one read or write is outstanding at a time and
// the cycle never runs two steps concurrently with itself.
//
// Start and Close may be called from other goroutines; the close sequence
// runs exactly once whether it is triggered by EOF, a transport or handler
// error, or an external Close.
type Session struct {
	id  string
	tr  Transport
	h   Handler
	log *slog.Logger

	in  []byte
	out responseBuffer

	state     atomic.Int32
	closeOnce sync.Once
	stopD     syncx.DoneChan

	st *stats
	m  *Metrics
}

// NewSession allocates and returns a new Session wrapping tr and h.
func NewSession(tr Transport, h Handler) *Session {
	return newSession(tr, h, slog.Default(), DefaultReadReserve, DefaultWriteReserve, nil, nil)
}

func newSession(tr Transport, h Handler, log *slog.Logger, readReserve, writeReserve int, st *stats, m *Metrics) *Session {
	s := &Session{
		id:    uuid.NewString(),
		tr:    tr,
		h:     h,
		in:    make([]byte, 0, readReserve),
		stopD: syncx.NewDoneChan(),
		st:    st,
		m:     m,
	}
	s.out.b = make([]byte, 0, writeReserve)
	s.log = log.With("session_id", s.id, "remote", tr.RemoteAddr())
	return s
}

// SetLogger is optional, it must be called before Start.
func (s *Session) SetLogger(log *slog.Logger) {
	s.log = log.With("session_id", s.id, "remote", s.tr.RemoteAddr())
}

// ID returns the session identifier used in log records.
func (s *Session) ID() string {
	return s.id
}

// State returns the current progress state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsOpen reports whether the session has not finished its close sequence.
func (s *Session) IsOpen() bool {
	return s.State() != StateClosed
}

// StopD returns a done channel, it will be signaled when the session is
// closed.
func (s *Session) StopD() syncx.DoneChanR {
	return s.stopD.R()
}

// Start notifies the handler and, on success, launches the working loop.
// If the handler rejects the session no I/O is ever issued and the
// transport is released.
func (s *Session) Start() {
	if err := s.h.OnSessionStart(s.tr.RemoteAddr()); err != nil {
		s.log.Warn("session not started, handler rejected it", "error", err)
		s.closeOnce.Do(func() {
			s.state.Store(int32(StateClosing))
			if cerr := s.tr.Close(); cerr != nil {
				s.log.Error("transport close failed", "error", cerr)
			}
			s.state.Store(int32(StateClosed))
			s.st.sessionClosed()
			s.m.sessionClosed()
			s.stopD.SetDone()
		})
		return
	}

	s.log.Debug("session started")
	go s.run()
}

// Close requests the session to close. It cancels any outstanding read or
// write, which drives the working loop into the close sequence; the
// sequence itself runs at most once. Close is safe to call concurrently
// and repeatedly.
func (s *Session) Close() {
	if !s.IsOpen() {
		s.log.Debug("session already closed")
		return
	}

	s.log.Debug("close session")
	if err := s.tr.CancelIO(); err != nil {
		s.log.Debug("cancel failed", "error", err)
	}
}

func (s *Session) run() {
	defer func() {
		if e := recover(); e != nil {
			s.log.Error("session panic", "panic", e)
			s.st.addSessionError()
			s.m.sessionError("panic")
		}
		s.finish()
	}()

	for {
		s.state.Store(int32(StateReadWait))
		n, err := s.readMore()
		if err != nil {
			s.logReadWriteErr("read", err)
			return
		}
		s.log.Debug("read", "bytes", n)

		s.state.Store(int32(StateProcessing))
		if !s.process() {
			return
		}

		if len(s.out.b) == 0 {
			continue
		}

		s.state.Store(int32(StateWriteWait))
		n, err = s.tr.Write(s.out.b)
		if err != nil {
			s.logReadWriteErr("write", err)
			return
		}
		s.log.Debug("written", "bytes", n)
		s.st.addWritten(n)
		s.m.addWritten(n)

		// clear after every write
		s.out.reset()
	}
}

// readMore issues one read for at least 1 byte, appending to the inbound
// buffer. The buffer is grown when it has little spare capacity.
func (s *Session) readMore() (int, error) {
	if cap(s.in)-len(s.in) < minReadSpace {
		grown := make([]byte, len(s.in), 2*cap(s.in)+minReadSpace)
		copy(grown, s.in)
		s.in = grown
	}

	n, err := s.tr.Read(s.in[len(s.in):cap(s.in)])
	if n > 0 {
		s.in = s.in[:len(s.in)+n]
		s.st.addRead(n)
		s.m.addRead(n)
	}
	return n, err
}

// process repeatedly invokes the handler over the unconsumed portion of
// the inbound buffer. It reports false when the session must close; any
// output staged in the current pass is discarded then.
func (s *Session) process() bool {
	off := 0
	for {
		view := s.in[off:]

		consumed, err := s.h.Serve(view, &s.out)
		// handlers must not claim outside [0, len(view)]
		if consumed < 0 {
			consumed = 0
		} else if consumed > len(view) {
			consumed = len(view)
		}

		if err == nil {
			if consumed == 0 || consumed >= len(view) {
				s.in = s.in[:0]
				return true
			}
			off += consumed
			continue
		}

		if errors.Is(err, ErrPartialData) {
			// drop the fully consumed leading bytes, keep the tail
			if consumed > 0 {
				off += consumed
			}
			tail := copy(s.in, s.in[off:])
			s.in = s.in[:tail]

			s.log.Debug("partial data in request", "retained", tail)
			return true
		}

		s.log.Error("handler failed", "error", err)
		s.st.addSessionError()
		s.m.sessionError("handler")
		s.out.reset()
		return false
	}
}

func (s *Session) logReadWriteErr(op string, err error) {
	switch {
	case isPeerClosed(err):
		s.log.Debug("peer closed connection")
	case isCanceled(err):
		s.log.Debug("session canceled")
	default:
		s.log.Error(op+" failed", "error", err)
		s.st.addSessionError()
		s.m.sessionError("transport")
	}
}

// finish runs the close sequence: handler notification, transport
// shutdown, transport close. Close-time errors are logged, never
// escalated.
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.log.Debug("session closing")

		s.h.OnSessionClose()

		if err := s.tr.Shutdown(); err != nil {
			s.log.Debug("transport shutdown failed", "error", err)
		}
		if err := s.tr.Close(); err != nil {
			s.log.Error("transport close failed", "error", err)
		}

		s.state.Store(int32(StateClosed))
		s.st.sessionClosed()
		s.m.sessionClosed()
		s.stopD.SetDone()
	})
}
