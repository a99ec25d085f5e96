// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package display is the display manager's side of a rootless X11
// session. Command builds the X server command line for the session
// helper, Launch starts the helper and waits for it to report its
// display, and Server tracks whether that display is up.
package display
