// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"os"
	"strings"

	"github.com/u-root/xsession/process"
)

// handshakeFD is the descriptor the X server sees the handshake pipe as:
// it is the only entry in ExtraFiles.
const handshakeFD = 3

func verbose(f string, a ...interface{}) {
	v("session:"+f, a...)
}

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// serverCommand appends what the helper needs to the configured X server
// command: the authority file, the handshake descriptor, the VT the
// session runs on, if known, and a log file, since the server logs to
// stderr anyway.
func serverCommand(base, authPath string, displayfdArgs []string) string {
	args := []string{base, "-auth", process.Quote(authPath)}
	args = append(args, displayfdArgs...)
	if vt := os.Getenv("XDG_VTNR"); vt != "" {
		args = append(args, "vt"+process.Quote(vt))
	}
	args = append(args, "-logfile", os.DevNull)
	return strings.Join(args, " ")
}
