// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/u-root/u-root/pkg/ulog"
	"github.com/u-root/xsession/control"
	"github.com/u-root/xsession/process"
	"golang.org/x/sys/unix"
)

// controlFD is where the helper finds the control pipe: the only entry in
// ExtraFiles.
const controlFD = 3

var (
	// Log is where Launch and the helpers it starts log.
	Log ulog.Logger = ulog.Log

	// errNoDisplay means the helper has not reported yet.
	errNoDisplay = errors.New("no display reported yet")

	v = func(string, ...interface{}) {}
)

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Helper is a running session helper.
type Helper struct {
	// Display is what the helper reported, e.g. ":7".
	Display string

	sup *process.Supervisor
	p   *process.Process
	r   *os.File
}

// Launch runs the session helper, with args after -fd, and waits until
// it reports its display on the control pipe, it exits, or ctx is done.
// The helper keeps running after Launch returns; stop it with Stop.
func Launch(ctx context.Context, helper string, args []string) (*Helper, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("os.Pipe(): %v", err)
	}
	cmd := strings.Join([]string{helper, "-fd", fmt.Sprint(controlFD), process.Join(args...)}, " ")
	h := &Helper{sup: process.New(Log), r: r}
	Log.Printf("display: running helper: %s", cmd)
	h.p, err = h.sup.Start("helper", cmd, process.Options{ExtraFiles: []*os.File{w}})
	w.Close()
	if err != nil {
		r.Close()
		return nil, err
	}
	// Fd puts r in blocking mode; readDisplay wants to see EAGAIN.
	fd := int(r.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		h.Stop(0)
		return nil, fmt.Errorf("SetNonblock(%d): %v", fd, err)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	var got []byte
	h.Display, err = backoff.RetryWithData(func() (string, error) {
		return readDisplay(fd, &got)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		h.Stop(process.DefaultStartTimeout)
		return nil, fmt.Errorf("display: helper %q: %w", cmd, err)
	}
	Log.Printf("display: helper pid %d reported %s", h.p.Pid(), h.Display)
	return h, nil
}

// readDisplay reads what is available on the control pipe into got. It
// returns errNoDisplay while the helper is still to report, and a
// permanent error once it never will.
func readDisplay(fd int, got *[]byte) (string, error) {
	var buf [64]byte
	n, err := unix.Read(fd, buf[:])
	switch {
	case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
		return "", errNoDisplay
	case err != nil:
		return "", backoff.Permanent(fmt.Errorf("read control pipe: %w", err))
	case n == 0:
		// The helper exited, or closed the pipe, without a display.
		d, err := control.Validate(string(*got))
		if err != nil {
			return "", backoff.Permanent(err)
		}
		return d, nil
	}
	// The helper reports with a single write of a few bytes, well under
	// PIPE_BUF, so a read never sees part of a name, e.g. ":1" of ":12".
	*got = append(*got, buf[:n]...)
	v("display: control pipe: %q", *got)
	d, err := control.Validate(string(*got))
	if err != nil {
		return "", errNoDisplay
	}
	return d, nil
}

// Pid returns the helper's process id.
func (h *Helper) Pid() int {
	return h.p.Pid()
}

// Done is closed when the helper has exited.
func (h *Helper) Done() <-chan struct{} {
	return h.p.Done()
}

// Exit returns how the helper exited. It is only valid after Done.
func (h *Helper) Exit() process.Exit {
	return h.p.Exit()
}

// Stop asks the helper to end the session and waits for it to exit. A
// helper still running after grace is killed.
func (h *Helper) Stop(grace time.Duration) {
	h.p.Terminate(grace)
	h.sup.Close()
	h.r.Close()
}
