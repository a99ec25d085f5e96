// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package process supervises the child processes of an X session helper.
//
// A Supervisor starts commands given as shell-like strings, e.g.
// "Xorg -nolisten tcp", with the helper's own stdin, stdout and stderr
// so that a display server can inherit the controlling terminal. The
// environment of the child is the helper's environment with a set of
// overrides applied; it is never replaced wholesale.
//
// Processes started with Options.Watch have their exit delivered on
// Supervisor.Exits. The session code uses that channel to learn that the
// X server or the client went away. Auxiliary processes, such as display
// setup scripts, are started with Run, which waits a bounded time,
// kills the process if it overruns, and reports nothing to the caller.
//
// Terminate is graceful first: SIGTERM, a grace period, then SIGKILL.
package process
