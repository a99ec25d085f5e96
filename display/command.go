// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package display

import (
	"strings"

	"golang.org/x/exp/slices"
)

// Defaults for CommandConfig.
const (
	DefaultServerPath = "/usr/bin/X"
	DefaultXephyrPath = "/usr/bin/Xephyr"
	DefaultSeat       = "seat0"
)

// CommandConfig describes the X server to run.
type CommandConfig struct {
	// Testing runs Xephyr in a window instead of Xorg on a seat.
	Testing bool

	ServerPath string
	// ServerArgs are extra arguments for Xorg, separated by spaces. A
	// -seat among them replaces Seat.
	ServerArgs string
	XephyrPath string
	Seat       string
}

// xorgArgs follow the configured server arguments on every Xorg command.
func xorgArgs(seat string) []string {
	return []string{"-background", "none", "-seat", seat, "-noreset", "-keeptty", "-novtswitch", "-verbose", "3"}
}

// Command returns the X server command line. The session helper adds
// the arguments it owns: -auth, -displayfd, vtN and -logfile.
func Command(cfg CommandConfig) string {
	if cfg.Testing {
		p := cfg.XephyrPath
		if p == "" {
			p = DefaultXephyrPath
		}
		return strings.Join([]string{p, "-br", "-screen", "800x600"}, " ")
	}
	p, seat := cfg.ServerPath, cfg.Seat
	if p == "" {
		p = DefaultServerPath
	}
	if seat == "" {
		seat = DefaultSeat
	}
	extra, std := strings.Fields(cfg.ServerArgs), xorgArgs(seat)
	// A seat among the configured arguments wins; Xorg takes one.
	if slices.Contains(extra, "-seat") {
		i := slices.Index(std, "-seat")
		std = slices.Delete(std, i, i+2)
	}
	args := append(append([]string{p}, extra...), std...)
	return strings.Join(args, " ")
}
