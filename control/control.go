// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package control is the one-way channel from the session helper back to
// the display manager that started it.
//
// The display manager passes the helper a file descriptor with -fd. Once
// the X server has reported its display, the helper writes the display
// name, e.g. ":7", to that descriptor, once, with no framing. Nothing is
// ever read back.
package control

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrBadName is returned by Validate for anything that is not :<N>.
var ErrBadName = errors.New("not a display name")

// Channel is the helper's side of the control channel. A nil *Channel,
// or one made from a descriptor that is not positive, reports nothing.
type Channel struct {
	mu       sync.Mutex
	w        io.WriteCloser
	reported bool
}

// New returns a Channel for the inherited descriptor fd. Descriptors
// less than 1 mean there is no channel.
func New(fd int) *Channel {
	if fd <= 0 {
		return &Channel{}
	}
	// The X server and the client have no business with it.
	unix.CloseOnExec(fd)
	return &Channel{w: os.NewFile(uintptr(fd), fmt.Sprintf("control-fd-%d", fd))}
}

// NewWriter returns a Channel that reports to w.
func NewWriter(w io.WriteCloser) *Channel {
	return &Channel{w: w}
}

// Report writes display to the channel. Only the first call writes;
// later calls do nothing.
func (c *Channel) Report(display string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil || c.reported {
		return nil
	}
	c.reported = true
	if _, err := io.WriteString(c.w, display); err != nil {
		return fmt.Errorf("control: report %q: %w", display, err)
	}
	return nil
}

// Reported reports whether Report has written.
func (c *Channel) Reported() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reported
}

// Close closes the descriptor.
func (c *Channel) Close() error {
	if c == nil || c.w == nil {
		return nil
	}
	return c.w.Close()
}

// Validate checks that s is a display name, :<N>, allowing trailing
// white space, which it removes.
func Validate(s string) (string, error) {
	d := strings.TrimRight(s, " \t\r\n")
	n, ok := strings.CutPrefix(d, ":")
	if !ok || n == "" {
		return "", fmt.Errorf("control: %q: %w", s, ErrBadName)
	}
	for _, c := range n {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("control: %q: %w", s, ErrBadName)
		}
	}
	return d, nil
}
