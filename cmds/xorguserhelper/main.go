// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/u-root/u-root/pkg/ulog"
	"github.com/u-root/xsession/control"
	"github.com/u-root/xsession/displayfd"
	"github.com/u-root/xsession/process"
	"github.com/u-root/xsession/session"
	"golang.org/x/sys/unix"
)

// exitStartFailure is the exit status when there is no session to run.
const exitStartFailure = 127

var (
	fd                 = flag.Int("fd", -1, "descriptor to report the display name on")
	server             = flag.String("server", "", "X server command")
	client             = flag.String("client", "", "session command")
	cursorCommand      = flag.String("cursor-command", session.DefaultCursorCommand, "command run once the display is up")
	displayCommand     = flag.String("display-command", "", "display setup script")
	displayStopCommand = flag.String("display-stop-command", "", "display stop script")
	runtimeDir         = flag.String("runtime-dir", defaultRuntimeDir(), "directory for the X authority file")
	handshakeTimeout   = flag.Duration("handshake-timeout", session.DefaultHandshakeTimeout, "how long the X server has to report its display")
	debug              = flag.Bool("d", false, "enable debug prints")
	klog               = flag.Bool("klog", false, "Log xorguserhelper messages in kernel log, not stderr")

	// v allows debug printing.
	// Do not call it directly, call verbose instead.
	v = func(string, ...interface{}) {}
)

func verbose(f string, a ...interface{}) {
	v("XORGUSERHELPER:"+f, a...)
}

func defaultRuntimeDir() string {
	if d, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok && d != "" {
		return d
	}
	return os.TempDir()
}

func logger() ulog.Logger {
	var l ulog.Logger = ulog.Log
	if *klog {
		ulog.KernelLog.Reinit()
		l = ulog.KernelLog
	}
	if *debug {
		v = l.Printf
		session.SetVerbose(l.Printf)
		process.SetVerbose(l.Printf)
		displayfd.SetVerbose(l.Printf)
	}
	return l
}

// exitCode maps how the session ended to the helper's exit status.
func exitCode(err error) int {
	var fe *session.FaultError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &fe):
		return fe.ExitCode()
	}
	return exitStartFailure
}

func run(l ulog.Logger) error {
	if *server == "" || *client == "" {
		l.Printf("This application is not supposed to be executed manually")
		return session.ErrConfiguration
	}
	ctl := control.New(*fd)
	defer ctl.Close()

	s := session.New(session.Config{
		Server:             *server,
		Client:             *client,
		Control:            ctl,
		RuntimeDir:         *runtimeDir,
		CursorCommand:      *cursorCommand,
		DisplayCommand:     *displayCommand,
		DisplayStopCommand: *displayStopCommand,
		HandshakeTimeout:   *handshakeTimeout,
		Stdin:              os.Stdin,
		Stdout:             os.Stdout,
		Stderr:             os.Stderr,
	}, l)
	verbose("session %s: args %q, control fd %d", s.ID, os.Args, *fd)
	if err := s.DropPrivs(); err != nil {
		return &session.StartError{Stage: "drop privileges", Err: err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func main() {
	flag.Parse()
	l := logger()
	err := run(l)
	if err != nil {
		l.Printf("XORGUSERHELPER: %v", err)
	}
	if code := exitCode(err); code != 0 {
		os.Exit(code)
	}
}
