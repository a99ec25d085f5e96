// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session runs one rootless X11 session: the X server, its
// authority file, and the client, e.g. a desktop session script.
//
// New(cfg, log) creates a Session. Start goes through the steps of
// bringing a session up, in order:
//
//	Idle -> AuthoritySetup -> ServerStarting -> DisplayAcquired ->
//	ClientStarting -> Running
//
// It creates an empty authority file, starts the X server with
// -displayfd, reads back the display number, writes a cookie for that
// display, tells the display manager the display name over the control
// channel, runs the cursor and display setup commands, and finally starts
// the client with DISPLAY and XAUTHORITY set. If a step fails, Start
// stops whatever it started, removes the authority file, and leaves the
// Session Failed.
//
// Stop takes a Running session to Stopped: the client is stopped before
// the server, and the display stop command runs and the authority file is
// removed only once the server is gone.
//
// Run is Start followed by waiting: a session ends when its context is
// done, or when the X server or the client exits. An abnormal exit is
// returned as a *FaultError, whose ExitCode the helper exits with.
package session
