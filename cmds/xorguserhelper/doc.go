// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// xorguserhelper runs a rootless X11 session for a display manager.
//
// Synopsis:
//
//	xorguserhelper [OPTIONS] -server "Xorg ..." -client "startplasma-x11"
//
// Description:
//
//	xorguserhelper starts the X server as the calling user, writes an
//	X authority file for it, reports the display name on the -fd
//	descriptor, and runs the client on that display. The session ends
//	when the client or the X server exits, or on SIGINT or SIGTERM, and
//	everything is cleaned up: the client is stopped, then the server,
//	and the authority file is removed.
//
//	It is started by a display manager and is not meant to be run by
//	hand.
//
// Exit status:
//
//	0 if the session ended normally; 127 if it could not start; the
//	exit status of the X server or client that failed, or 1 if there
//	is none, e.g. because it was killed by a signal.
//
// Options:
//
//	-fd:                   descriptor to report the display name on (default: none)
//	-server:               X server command
//	-client:               session command
//	-cursor-command:       run once the display is up (default: xsetroot -cursor_name left_ptr)
//	-display-command:      display setup script
//	-display-stop-command: display stop script
//	-runtime-dir:          where the authority file goes (default: $XDG_RUNTIME_DIR)
//	-handshake-timeout:    how long the X server has to report its display (default: 30s)
//	-d:                    enable debug prints
//	-klog:                 log to the kernel log, not stderr
package main
