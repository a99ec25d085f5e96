// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// xsession starts a rootless X11 session the way a display manager does,
// by running xorguserhelper and waiting for it to report its display.
//
// Synopsis:
//
//	xsession [OPTIONS] COMMAND [ARGS]...
//
// Description:
//
//	COMMAND runs as the session client on a new X display. With -test,
//	the display is an 800x600 Xephyr window on the current display.
//	xsession prints the display name and waits until the session ends or
//	it gets SIGINT or SIGTERM.
//
// Options:
//
//	-helper:      session helper command (default: xorguserhelper)
//	-server-path: X server (default: /usr/bin/X)
//	-server-args: extra X server arguments
//	-seat:        seat to run on (default: seat0)
//	-test:        use Xephyr
//	-timeout:     how long the helper has to report a display (default: 1m)
//	-d:           enable debug prints
package main
