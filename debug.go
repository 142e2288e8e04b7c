// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"fmt"
	"io"
)

// TransportDump is a debugging helper, it implements the Transport
// interface and provides traffic dump function.
//
// The dump format is:
//
//	R|W:Size\nData\n\n
type TransportDump struct {
	T    Transport
	Dump io.Writer

	// Filter can be nil. If nil, dump all traffic.
	Filter func(p []byte, read bool) bool
}

func (d *TransportDump) needDump(p []byte, read bool) bool {
	if d.Filter != nil {
		return d.Filter(p, read)
	}
	return true
}

func (d *TransportDump) Read(p []byte) (n int, err error) {
	n, err = d.T.Read(p)
	if err != nil {
		return
	}

	if !d.needDump(p[:n], true) {
		return
	}

	fmt.Fprintf(d.Dump, "R:%v\n", n)
	d.Dump.Write(p[:n])
	fmt.Fprintf(d.Dump, "\n\n")

	return
}

func (d *TransportDump) Write(p []byte) (n int, err error) {
	n, err = d.T.Write(p)
	if err != nil {
		return
	}

	if !d.needDump(p[:n], false) {
		return
	}

	fmt.Fprintf(d.Dump, "W:%v\n", n)
	d.Dump.Write(p[:n])
	fmt.Fprintf(d.Dump, "\n\n")

	return
}

func (d *TransportDump) CancelIO() error {
	return d.T.CancelIO()
}

func (d *TransportDump) Shutdown() error {
	return d.T.Shutdown()
}

func (d *TransportDump) Close() error {
	return d.T.Close()
}

func (d *TransportDump) RemoteAddr() string {
	return d.T.RemoteAddr()
}
