// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package displayfd implements the -displayfd handshake with an X server.
//
// The X server picks a free display number, binds it, and writes the
// number as a line of ASCII digits to the file descriptor named by its
// -displayfd argument. The handshake is one-shot:
//
//	h, err := displayfd.Begin()
//	// start the server with h.Writer() as fd 3 and h.Args(3)
//	h.CloseWriter()
//	display, err := h.Resolve(timeout) // e.g. ":7"
//
// The parent must close its copy of the write end once the server is
// started; otherwise the read never sees end of file if the server dies.
package displayfd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// DefaultTimeout is how long Resolve waits for the server to report.
const DefaultTimeout = 30 * time.Second

var (
	// ErrMalformed is returned when the server reported something that is
	// not a display number.
	ErrMalformed = errors.New("malformed display number")

	v = func(string, ...interface{}) {}
)

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// HandshakeError is returned when no display number could be read.
type HandshakeError struct {
	Raw []byte
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("display handshake: read %q: %v", e.Raw, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Handshake is the pipe between the helper and the X server.
type Handshake struct {
	r *os.File
	w *os.File
}

// Begin allocates the pipe.
func Begin() (*Handshake, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, &HandshakeError{Err: fmt.Errorf("os.Pipe(): %w", err)}
	}
	return &Handshake{r: r, w: w}, nil
}

// Writer returns the end of the pipe to hand to the server.
func (h *Handshake) Writer() *os.File {
	return h.w
}

// Args returns the server arguments that name fd, the number the write
// end has in the server.
func (h *Handshake) Args(fd int) []string {
	return []string{"-displayfd", strconv.Itoa(fd)}
}

// CloseWriter closes the helper's copy of the write end. Call it once the
// server has been started, or given up on.
func (h *Handshake) CloseWriter() error {
	if h.w == nil {
		return nil
	}
	err := h.w.Close()
	h.w = nil
	return err
}

// Close releases both ends of the pipe.
func (h *Handshake) Close() {
	h.CloseWriter() //nolint
	if h.r != nil {
		h.r.Close()
		h.r = nil
	}
}

// Resolve reads the display number the server reports and returns the
// display name, e.g. ":7". A timeout that is not positive means
// DefaultTimeout. The pipe is closed when Resolve returns.
func (h *Handshake) Resolve(timeout time.Duration) (string, error) {
	defer h.Close()
	if h.r == nil {
		return "", &HandshakeError{Err: os.ErrClosed}
	}
	if err := h.r.SetReadDeadline(time.Now().Add(bound(timeout))); err != nil {
		return "", &HandshakeError{Err: fmt.Errorf("SetReadDeadline: %w", err)}
	}
	raw, err := bufio.NewReader(h.r).ReadBytes('\n')
	v("displayfd: read %q, %v", raw, err)
	// EOF means the server wrote what it had and closed, or died; Parse
	// decides whether what it wrote is enough.
	if err != nil && !errors.Is(err, io.EOF) {
		return "", &HandshakeError{Raw: raw, Err: err}
	}
	return Parse(raw)
}

// bound returns timeout, or DefaultTimeout if timeout is not positive: the
// server is never waited for forever.
func bound(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

// Parse turns the line written by the server into a display name.
// Anything shorter than two bytes, one digit and the newline, is
// malformed, as is anything that is not digits once trailing white space
// is removed.
func Parse(raw []byte) (string, error) {
	if len(raw) < 2 {
		return "", &HandshakeError{Raw: raw, Err: ErrMalformed}
	}
	n := bytes.TrimRight(raw, " \t\r\n")
	if len(n) == 0 {
		return "", &HandshakeError{Raw: raw, Err: ErrMalformed}
	}
	for _, c := range n {
		if c < '0' || c > '9' {
			return "", &HandshakeError{Raw: raw, Err: ErrMalformed}
		}
	}
	return ":" + string(n), nil
}
