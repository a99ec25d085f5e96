// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/u-root/u-root/pkg/ulog/ulogtest"
	"github.com/u-root/xsession/process"
	"github.com/u-root/xsession/session"
)

func TestExitCode(t *testing.T) {
	var tests = []struct {
		err  error
		code int
	}{
		{nil, 0},
		{session.ErrConfiguration, 127},
		{&session.StartError{Stage: "handshake", Err: errors.New("bad")}, 127},
		{&session.FaultError{Exit: process.Exit{Name: "client", Code: 3}}, 3},
		{fmt.Errorf("run: %w", &session.FaultError{Exit: process.Exit{Name: "server", Code: -1, Signaled: true}}), 1},
	}
	for _, tt := range tests {
		if code := exitCode(tt.err); code != tt.code {
			t.Errorf("exitCode(%v): %d != %d", tt.err, code, tt.code)
		}
	}
}

func TestDefaultRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if d := defaultRuntimeDir(); d != "/run/user/1000" {
		t.Errorf("defaultRuntimeDir(): %q != %q", d, "/run/user/1000")
	}
	t.Setenv("XDG_RUNTIME_DIR", "")
	if d := defaultRuntimeDir(); d != os.TempDir() {
		t.Errorf("defaultRuntimeDir() with no XDG_RUNTIME_DIR: %q != %q", d, os.TempDir())
	}
}

func TestRunManually(t *testing.T) {
	*server, *client = "", "xterm"
	if err := run(ulogtest.Logger{TB: t}); !errors.Is(err, session.ErrConfiguration) {
		t.Errorf("run() with no server: %v, want %v", err, session.ErrConfiguration)
	}
	*server, *client = "Xorg", ""
	if err := run(ulogtest.Logger{TB: t}); !errors.Is(err, session.ErrConfiguration) {
		t.Errorf("run() with no client: %v, want %v", err, session.ErrConfiguration)
	}
}
