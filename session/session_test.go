// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	ps "github.com/shirou/gopsutil/process"
	"github.com/u-root/u-root/pkg/ulog/ulogtest"
	"github.com/u-root/xsession/control"
	"github.com/u-root/xsession/displayfd"
	"github.com/u-root/xsession/process"
	"github.com/u-root/xsession/xauth"
)

// TestHelperProcess is not a test. It plays the X server, the client and
// the display scripts; the role is the first argument after "--".
func TestHelperProcess(t *testing.T) {
	if _, ok := os.LookupEnv("GO_WANT_HELPER_PROCESS"); !ok {
		t.Logf("just a helper")
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	role, args := args[1], args[2:]
	switch {
	case strings.HasPrefix(role, "xserver"):
		fakeServer(role, args)
	case strings.HasPrefix(role, "client"):
		record("client")
		switch role {
		case "client-exit0":
			os.Exit(0)
		case "client-exit1":
			os.Exit(1)
		}
	case role == "script":
		record(args[0])
		os.Exit(0)
	}
	time.Sleep(time.Hour)
	os.Exit(2)
}

func fakeServer(role string, args []string) {
	fd, auth := -1, ""
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "-displayfd":
			fd, _ = strconv.Atoi(args[i+1])
		case "-auth":
			auth = args[i+1]
		}
	}
	if _, err := os.Stat(auth); err != nil || fd < 0 || os.Getenv("XORG_RUN_AS_USER_OK") != "1" {
		os.Exit(3)
	}
	os.WriteFile(os.Getenv("HELPER_LOG")+".server", []byte(strconv.Itoa(os.Getpid())), 0o644)
	w := os.NewFile(uintptr(fd), "displayfd")
	switch role {
	case "xserver", "xserver-crash":
		fmt.Fprintf(w, "7\n")
	case "xserver-blank":
		fmt.Fprintf(w, " \n")
	case "xserver-norundir":
		// The authority file goes away between the handshake and the cookie.
		os.RemoveAll(filepath.Dir(auth))
		fmt.Fprintf(w, "7\n")
	case "xserver-exit":
		os.Exit(1)
	case "xserver-silent":
		time.Sleep(time.Hour)
	}
	w.Close()
	if role == "xserver-crash" {
		time.Sleep(500 * time.Millisecond)
		os.Exit(4)
	}
	time.Sleep(time.Hour)
}

// record appends what a child saw to $HELPER_LOG.
func record(name string) {
	authz := "missing"
	if fi, err := os.Stat(os.Getenv("XAUTHORITY")); err == nil && fi.Size() > 0 {
		authz = "issued"
	}
	f, err := os.OpenFile(os.Getenv("HELPER_LOG"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		os.Exit(5)
	}
	fmt.Fprintf(f, "%s DISPLAY=%s XAUTHORITY=%s QT_QPA_PLATFORM=%s cookie=%s\n",
		name, os.Getenv("DISPLAY"), os.Getenv("XAUTHORITY"), os.Getenv("QT_QPA_PLATFORM"), authz)
	f.Close()
}

func helper(role ...string) string {
	return fmt.Sprintf("%q -test.run=^TestHelperProcess$ -- %s", os.Args[0], strings.Join(role, " "))
}

type buffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *buffer) Close() error { return nil }

func (b *buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.String()
}

type fixture struct {
	log    string
	report *buffer
	cfg    Config
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{log: filepath.Join(t.TempDir(), "log"), report: &buffer{}}
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("HELPER_LOG", f.log)
	t.Setenv("QT_QPA_PLATFORM", "")
	f.cfg = Config{
		Server:             helper("xserver"),
		Client:             helper("client"),
		Control:            control.NewWriter(f.report),
		RuntimeDir:         filepath.Join(t.TempDir(), "run"),
		CursorCommand:      helper("script", "cursor"),
		DisplayCommand:     helper("script", "setup"),
		DisplayStopCommand: helper("script", "stop"),
		HandshakeTimeout:   10 * time.Second,
	}
	return f
}

func (f *fixture) lines(t *testing.T) []string {
	b, err := os.ReadFile(f.log)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("ReadFile(%q): %v != nil", f.log, err)
	}
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

// count returns how many children called name have run so far.
func (f *fixture) count(t *testing.T, name string) int {
	n := 0
	for _, l := range f.lines(t) {
		if strings.HasPrefix(l, name+" ") {
			n++
		}
	}
	return n
}

// waitFor waits until a child called name has recorded itself.
func (f *fixture) waitFor(t *testing.T, name string) {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 200)
	if err := backoff.Retry(func() error {
		if f.count(t, name) == 0 {
			return fmt.Errorf("%s has not run", name)
		}
		return nil
	}, b); err != nil {
		t.Fatalf("waiting for %s: %v; log %q", name, err, f.lines(t))
	}
}

func gone(t *testing.T, what string, pid int) {
	if ok, err := ps.PidExists(int32(pid)); err != nil || ok {
		t.Errorf("%s pid %d: PidExists: (%v, %v) != (false, nil)", what, pid, ok, err)
	}
}

// serverGone checks that the fake X server the fixture started has exited.
func serverGone(t *testing.T, f *fixture) {
	b, err := os.ReadFile(f.log + ".server")
	if err != nil {
		t.Fatalf("server pid: %v", err)
	}
	pid, err := strconv.Atoi(string(b))
	if err != nil {
		t.Fatalf("server pid %q: %v", b, err)
	}
	gone(t, "server", pid)
}

func noFile(t *testing.T, path string) {
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat(%q): %v, want ErrNotExist", path, err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	s := New(f.cfg, ulogtest.Logger{TB: t})
	if err := s.Start(); err != nil {
		t.Fatalf("Start(): %v != nil", err)
	}
	if s.State() != Running || s.Display() != ":7" {
		t.Fatalf("after Start: (%v, %q) != (%v, %q)", s.State(), s.Display(), Running, ":7")
	}
	if got := f.report.String(); got != ":7" {
		t.Errorf("control channel got %q, want %q", got, ":7")
	}
	a, err := os.Open(s.AuthorityPath())
	if err != nil {
		t.Fatalf("authority file: %v", err)
	}
	recs, err := xauth.ParseRecords(a)
	a.Close()
	if err != nil || len(recs) != 1 || recs[0].Number != "7" {
		t.Errorf("authority records: (%+v, %v), want one for display 7", recs, err)
	}

	f.waitFor(t, "client")
	want := fmt.Sprintf("DISPLAY=:7 XAUTHORITY=%s QT_QPA_PLATFORM= cookie=issued", s.AuthorityPath())
	for i, name := range []string{"cursor", "setup", "client"} {
		l := f.lines(t)
		if len(l) <= i || l[i] != name+" "+want {
			t.Errorf("log line %d: %q, want %q", i, l, name+" "+want)
		}
	}

	server, client := s.server, s.client
	if err := s.Stop(); err != nil {
		t.Errorf("Stop(): %v != nil", err)
	}
	if s.State() != Stopped || s.Display() != "" || s.server != nil || s.client != nil {
		t.Errorf("after Stop: state %v, display %q, server %v, client %v", s.State(), s.Display(), s.server, s.client)
	}
	if server.Killed() || client.Killed() {
		t.Errorf("Stop killed: server %v, client %v; want SIGTERM to be enough", server.Killed(), client.Killed())
	}
	gone(t, "server", server.Pid())
	gone(t, "client", client.Pid())
	noFile(t, s.AuthorityPath())
	stop := fmt.Sprintf("stop DISPLAY=:7 XAUTHORITY=%s QT_QPA_PLATFORM=xcb cookie=issued", s.AuthorityPath())
	if l := f.lines(t); l[len(l)-1] != stop {
		t.Errorf("last log line %q, want %q", l[len(l)-1], stop)
	}

	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop(): %v != nil", err)
	}
	if n := f.count(t, "stop"); n != 1 {
		t.Errorf("display stop script ran %d times, want 1", n)
	}
	select {
	case <-s.Done():
	default:
		t.Errorf("Done() not closed after Stop")
	}
	if err := s.Start(); !errors.Is(err, ErrState) {
		t.Errorf("Start() after Stop: %v, want %v", err, ErrState)
	}
}

func TestStartFailures(t *testing.T) {
	for _, tt := range []struct {
		name   string
		server string
		client string
		stage  string
		err    error
	}{
		{name: "blank display", server: helper("xserver-blank"), stage: "handshake", err: displayfd.ErrMalformed},
		{name: "server exits", server: helper("xserver-exit"), stage: "handshake", err: displayfd.ErrMalformed},
		{name: "server hangs", server: helper("xserver-silent"), stage: "handshake", err: os.ErrDeadlineExceeded},
		{name: "runtime dir removed", server: helper("xserver-norundir"), stage: "authority issue", err: os.ErrNotExist},
		{name: "no server", server: "/this/does/not/exist", stage: "server spawn", err: os.ErrNotExist},
		{name: "no client", client: "/this/does/not/exist", stage: "client spawn", err: os.ErrNotExist},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.HandshakeTimeout = time.Second
			if tt.server != "" {
				f.cfg.Server = tt.server
			}
			if tt.client != "" {
				f.cfg.Client = tt.client
			}
			s := New(f.cfg, ulogtest.Logger{TB: t})
			err := s.Start()
			var se *StartError
			if !errors.As(err, &se) || se.Stage != tt.stage || !errors.Is(err, tt.err) {
				t.Fatalf("Start(): %v, want stage %q and %v", err, tt.stage, tt.err)
			}
			if s.State() != Failed || s.Display() != "" {
				t.Errorf("after Start: (%v, %q) != (%v, \"\")", s.State(), s.Display(), Failed)
			}
			noFile(t, s.AuthorityPath())
			if n := f.count(t, "client"); n != 0 {
				t.Errorf("client ran %d times, want 0", n)
			}
			if tt.stage != "server spawn" {
				serverGone(t, f)
			}
			if tt.stage != "client spawn" && f.report.String() != "" {
				t.Errorf("control channel got %q before the display was usable", f.report.String())
			}
			// A failed session has nothing to stop.
			if err := s.Stop(); err != nil || s.State() != Failed {
				t.Errorf("Stop(): (%v, %v) != (nil, %v)", err, s.State(), Failed)
			}
			if n := f.count(t, "stop"); n != 0 {
				t.Errorf("display stop script ran %d times, want 0", n)
			}
		})
	}
}

func TestStartFailureStopsServer(t *testing.T) {
	f := newFixture(t)
	f.cfg.Client = "/this/does/not/exist"
	s := New(f.cfg, ulogtest.Logger{TB: t})
	if err := s.Start(); err == nil {
		t.Fatalf("Start(): nil != error")
	}
	if l := f.lines(t); len(l) == 0 || !strings.HasPrefix(l[0], "cursor DISPLAY=:7") {
		t.Fatalf("log %q: server never reached the display", l)
	}
	serverGone(t, f)
}

func TestMissingCommand(t *testing.T) {
	for _, tt := range []struct {
		name, server, client string
	}{
		{name: "no client", server: "Xorg"},
		{name: "no server", client: "xterm"},
		{name: "neither"},
	} {
		f := newFixture(t)
		f.cfg.Server, f.cfg.Client = tt.server, tt.client
		s := New(f.cfg, ulogtest.Logger{TB: t})
		if err := s.Start(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: Start(): %v, want %v", tt.name, err, ErrConfiguration)
		}
		if s.State() != Idle {
			t.Errorf("%s: state %v, want %v", tt.name, s.State(), Idle)
		}
		if _, err := os.Stat(f.cfg.RuntimeDir); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s: runtime dir was created: %v", tt.name, err)
		}
		if l := f.lines(t); len(l) != 0 {
			t.Errorf("%s: children ran: %q", tt.name, l)
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	f := newFixture(t)
	s := New(f.cfg, ulogtest.Logger{TB: t})
	for i := 0; i < 2; i++ {
		if err := s.Stop(); err != nil || s.State() != Idle {
			t.Errorf("Stop() #%d: (%v, %v) != (nil, %v)", i, err, s.State(), Idle)
		}
	}
	if l := f.lines(t); len(l) != 0 {
		t.Errorf("children ran: %q", l)
	}
}

func TestRunFault(t *testing.T) {
	for _, tt := range []struct {
		name   string
		server string
		client string
		code   int
	}{
		{name: "client exits 1", client: helper("client-exit1"), code: 1},
		{name: "server crashes", server: helper("xserver-crash"), code: 4},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.server != "" {
				f.cfg.Server = tt.server
			}
			if tt.client != "" {
				f.cfg.Client = tt.client
			}
			s := New(f.cfg, ulogtest.Logger{TB: t})
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			err := s.Run(ctx)
			var fe *FaultError
			if !errors.As(err, &fe) || fe.ExitCode() != tt.code {
				t.Fatalf("Run(): %v, want a fault with exit code %d", err, tt.code)
			}
			if s.State() != Stopped {
				t.Errorf("state %v, want %v", s.State(), Stopped)
			}
			noFile(t, s.AuthorityPath())
			if n := f.count(t, "stop"); n != 1 {
				t.Errorf("display stop script ran %d times, want 1", n)
			}
		})
	}
}

func TestRunClientExit(t *testing.T) {
	f := newFixture(t)
	f.cfg.Client = helper("client-exit0")
	s := New(f.cfg, ulogtest.Logger{TB: t})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run(): %v != nil", err)
	}
	if s.State() != Stopped {
		t.Errorf("state %v, want %v", s.State(), Stopped)
	}
	noFile(t, s.AuthorityPath())
}

func TestRunCancel(t *testing.T) {
	f := newFixture(t)
	s := New(f.cfg, ulogtest.Logger{TB: t})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var server, client *process.Process
	go func() {
		b := backoff.WithMaxRetries(backoff.NewConstantBackOff(20*time.Millisecond), 1000)
		_ = backoff.Retry(func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.state != Running {
				return fmt.Errorf("state %v", s.state)
			}
			server, client = s.server, s.client
			return nil
		}, b)
		cancel()
	}()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run(): %v != nil", err)
	}
	if s.State() != Stopped || server == nil || client == nil {
		t.Fatalf("state %v, server %v, client %v; want a stopped session that ran", s.State(), server, client)
	}
	if server.Killed() || client.Killed() {
		t.Errorf("killed: server %v, client %v; want SIGTERM to be enough", server.Killed(), client.Killed())
	}
	gone(t, "server", server.Pid())
	gone(t, "client", client.Pid())
	noFile(t, s.AuthorityPath())
	if n := f.count(t, "stop"); n != 1 {
		t.Errorf("display stop script ran %d times, want 1", n)
	}
}

func TestRunStop(t *testing.T) {
	f := newFixture(t)
	s := New(f.cfg, ulogtest.Logger{TB: t})
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(context.Background())
	}()
	f.waitFor(t, "client")
	if err := s.Stop(); err != nil {
		t.Errorf("Stop(): %v != nil", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run(): %v != nil", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}

func TestTimeoutDefaults(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		s := New(Config{Server: "Xorg", Client: "xterm", HandshakeTimeout: d, StopGrace: d}, nil)
		if s.cfg.HandshakeTimeout != DefaultHandshakeTimeout || s.cfg.StopGrace != DefaultStopGrace {
			t.Errorf("New with timeouts %v: (%v, %v) != (%v, %v)", d, s.cfg.HandshakeTimeout, s.cfg.StopGrace, DefaultHandshakeTimeout, DefaultStopGrace)
		}
	}
}

func TestServerCommand(t *testing.T) {
	t.Setenv("XDG_VTNR", "")
	for _, tt := range []struct {
		base string
		auth string
		vt   string
		want string
	}{
		{base: "Xorg", auth: "/run/user/1000/xauth_1", want: "Xorg -auth /run/user/1000/xauth_1 -displayfd 3 -logfile /dev/null"},
		{base: "Xorg -nolisten tcp", auth: "/tmp/a b", vt: "2", want: "Xorg -nolisten tcp -auth '/tmp/a b' -displayfd 3 vt2 -logfile /dev/null"},
		{base: "Xorg", auth: "/tmp/it's", want: `Xorg -auth '/tmp/it'\''s' -displayfd 3 -logfile /dev/null`},
	} {
		os.Setenv("XDG_VTNR", tt.vt)
		got := serverCommand(tt.base, tt.auth, []string{"-displayfd", "3"})
		if got != tt.want {
			t.Errorf("serverCommand(%q, %q) with vt %q: %q != %q", tt.base, tt.auth, tt.vt, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "Idle", Running: "Running", Failed: "Failed", State(42): "State(42)"} {
		if s.String() != want {
			t.Errorf("State(%d).String(): %q != %q", int(s), s.String(), want)
		}
	}
	if !Stopped.Terminal() || !Failed.Terminal() || Running.Terminal() {
		t.Errorf("Terminal() is wrong for Stopped, Failed or Running")
	}
}

// Not sure testing this is a great idea but ... it works so ...
func TestDropPrivs(t *testing.T) {
	s := New(Config{Server: "/bin/true", Client: "/bin/true"}, nil)
	if err := s.DropPrivs(); err != nil {
		t.Fatalf("s.DropPrivs(): %v != nil", err)
	}
}
