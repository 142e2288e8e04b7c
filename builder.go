// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Protocol selects the listening transport variant.
type Protocol int

const (
	// ProtocolTCP listens on a stream TCP socket, the endpoint is
	// "host:port" with a literal host address.
	ProtocolTCP Protocol = iota
	// ProtocolUnix listens on a Unix-domain stream socket, the endpoint
	// is a filesystem path taken verbatim.
	ProtocolUnix
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUnix:
		return "unix"
	default:
		return "unknown"
	}
}

// Builder configuration mistakes, reported by Build. They are programmer
// errors, never retried at runtime.
var (
	ErrNoHandlerFactory = errors.New("streamserve: no handler factory")
	ErrBadEndpoint      = errors.New("streamserve: bad endpoint")
)

// Builder accumulates server configuration and produces a ready-to-run
// Server. The zero value is not usable, allocate one with NewBuilder.
type Builder struct {
	proto    Protocol
	endpoint string
	ln       Listener

	factory HandlerFactory

	log          *slog.Logger
	reg          prometheus.Registerer
	readReserve  int
	writeReserve int
}

// NewBuilder allocates and returns a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		readReserve:  DefaultReadReserve,
		writeReserve: DefaultWriteReserve,
	}
}

// Endpoint sets the protocol selector and the endpoint string.
func (b *Builder) Endpoint(proto Protocol, endpoint string) *Builder {
	b.proto = proto
	b.endpoint = endpoint
	return b
}

// Listener sets a custom listening transport, overriding Endpoint. Use it
// to serve transports the builder cannot construct itself, like a
// WebsocketListener or a pre-bound net.Listener.
func (b *Builder) Listener(ln Listener) *Builder {
	b.ln = ln
	return b
}

// HandlerFactory sets the factory invoked once per accepted connection.
// It is required.
func (b *Builder) HandlerFactory(factory HandlerFactory) *Builder {
	b.factory = factory
	return b
}

// Logger is optional, the default is slog.Default.
func (b *Builder) Logger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// MetricsRegisterer is optional. When set, the server registers and
// updates Prometheus metrics on it.
func (b *Builder) MetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.reg = reg
	return b
}

// BufferReserve sets the capacity reserved for the per-session inbound
// and outbound buffers.
func (b *Builder) BufferReserve(read, write int) *Builder {
	b.readReserve = read
	b.writeReserve = write
	return b
}

// Build validates the configuration, binds the listening socket and
// returns a server ready for Run. All failures are immediate and
// synchronous.
func (b *Builder) Build() (*Server, error) {
	if b.factory == nil {
		return nil, ErrNoHandlerFactory
	}

	log := b.log
	if log == nil {
		log = slog.Default()
	}

	ln := b.ln
	if ln == nil {
		var err error
		ln, err = listen(b.proto, b.endpoint)
		if err != nil {
			return nil, err
		}
	}

	var m *Metrics
	if b.reg != nil {
		m = newMetrics(b.reg)
	}

	impl := newStreamServer(ln, b.factory, log, b.readReserve, b.writeReserve, m)
	return &Server{impl: impl}, nil
}

func listen(proto Protocol, endpoint string) (Listener, error) {
	switch proto {
	case ProtocolTCP:
		host, port, err := parseHostPort(endpoint)
		if err != nil {
			return nil, err
		}
		// the net package enables address reuse on listeners itself
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil, fmt.Errorf("%w: listen %q: %v", ErrBadEndpoint, endpoint, err)
		}
		return NetListener(ln), nil

	case ProtocolUnix:
		ln, err := net.Listen("unix", endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: listen %q: %v", ErrBadEndpoint, endpoint, err)
		}
		return NetListener(ln), nil

	default:
		return nil, fmt.Errorf("%w: unknown protocol %d", ErrBadEndpoint, proto)
	}
}

// parseHostPort splits endpoint on the last ':' and validates both parts:
// the port must be decimal in 1..65535, the host a literal IP address
// (IPv6 may be bracketed).
func parseHostPort(endpoint string) (string, int, error) {
	i := strings.LastIndexByte(endpoint, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("%w: %q is not host:port", ErrBadEndpoint, endpoint)
	}

	host, portStr := endpoint[:i], endpoint[i+1:]

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("%w: invalid port %q", ErrBadEndpoint, portStr)
	}

	trimmed := host
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	if net.ParseIP(trimmed) == nil {
		return "", 0, fmt.Errorf("%w: invalid address %q", ErrBadEndpoint, host)
	}

	return trimmed, int(port), nil
}
