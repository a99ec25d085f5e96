// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/u-root/xsession/display"
	"github.com/u-root/xsession/process"
	"golang.org/x/sys/unix"
)

var (
	helper     = flag.String("helper", "xorguserhelper", "session helper command")
	serverPath = flag.String("server-path", display.DefaultServerPath, "X server")
	serverArgs = flag.String("server-args", "", "extra X server arguments")
	seat       = flag.String("seat", display.DefaultSeat, "seat to run on")
	xephyr     = flag.Bool("test", false, "run the session in an Xephyr window")
	timeout    = flag.Duration("timeout", time.Minute, "how long the helper has to report a display")
	debug      = flag.Bool("d", false, "enable debug prints")

	v = func(string, ...interface{}) {}
)

// helperArgs are the arguments for the session helper.
func helperArgs(server string, client []string, debug bool) []string {
	args := []string{"-server", server, "-client", process.Join(client...)}
	if debug {
		args = append(args, "-d")
	}
	return args
}

func main() {
	flag.Parse()
	if *debug {
		v = log.Printf
		display.SetVerbose(log.Printf)
		process.SetVerbose(log.Printf)
	}
	if flag.NArg() == 0 {
		log.Fatalf("usage: xsession [OPTIONS] COMMAND [ARGS]...")
	}
	server := display.Command(display.CommandConfig{
		Testing:    *xephyr,
		ServerPath: *serverPath,
		ServerArgs: *serverArgs,
		Seat:       *seat,
	})
	args := helperArgs(server, flag.Args(), *debug)
	v("xsession: helper %q args %q", *helper, args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	h, err := display.Launch(ctx, *helper, args)
	cancel()
	if err != nil {
		log.Fatal(err)
	}

	d := &display.Server{
		OnStarted: func() { log.Printf("xsession: display started") },
		OnStopped: func() { log.Printf("xsession: display stopped") },
	}
	d.SetDisplayName(h.Display)
	d.Start()
	fmt.Printf("DISPLAY=%s\n", d.DisplayName())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	select {
	case s := <-sigs:
		v("xsession: %v, stopping helper", s)
		h.Stop(10 * time.Second)
	case <-h.Done():
	}
	d.Stop()
	if e := h.Exit(); e.Fault() {
		log.Fatalf("xsession: %s %v", d.SessionType(), e)
	}
}
