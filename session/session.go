// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/u-root/u-root/pkg/ulog"
	"github.com/u-root/xsession/control"
	"github.com/u-root/xsession/displayfd"
	"github.com/u-root/xsession/process"
	"github.com/u-root/xsession/xauth"
	"golang.org/x/sys/unix"
)

// Timeouts for the steps of a session.
const (
	DefaultHandshakeTimeout = displayfd.DefaultTimeout
	DefaultStopGrace        = 5 * time.Second
	CursorGrace             = 1 * time.Second
	DisplaySetupGrace       = 30 * time.Second
	DisplayStopGrace        = 5 * time.Second

	// DefaultCursorCommand sets the root window cursor, which is
	// otherwise an X.
	DefaultCursorCommand = "xsetroot -cursor_name left_ptr"
)

var (
	// ErrConfiguration is returned by Start if the server or client
	// command is missing.
	ErrConfiguration = errors.New("server and client commands are required")
	// ErrState is returned by Start on a Session that was already started.
	ErrState = errors.New("session already started")

	v = func(string, ...interface{}) {}
)

// StartError is returned by Start. Stage names the step that failed.
type StartError struct {
	Stage string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// FaultError is returned by Run when the X server or the client exited
// abnormally while the session was running.
type FaultError struct {
	Exit process.Exit
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("session fault: %v", e.Exit)
}

// ExitCode is the status the helper should exit with: that of the child,
// or 1 if the child has none, e.g. because it was killed.
func (e *FaultError) ExitCode() int {
	if e.Exit.Code > 0 {
		return e.Exit.Code
	}
	return 1
}

// Config is what a Session needs to know. Only Server and Client are
// required.
type Config struct {
	// Server is the X server command, without the arguments the session
	// adds: -auth, -displayfd, vtN and -logfile.
	Server string
	// Client is the session command, run with DISPLAY and XAUTHORITY set.
	Client string
	// Control receives the display name once it is known. It may be nil.
	Control *control.Channel
	// RuntimeDir holds the authority file.
	RuntimeDir string

	CursorCommand      string
	DisplayCommand     string
	DisplayStopCommand string

	StartTimeout     time.Duration
	HandshakeTimeout time.Duration
	StopGrace        time.Duration

	// Stdin, Stdout and Stderr are given to every child. Nil is the null
	// device. The helper passes its own so the X server gets the terminal.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Session is one X session: an X server, an authority file and a client.
// A Session is single use.
type Session struct {
	// ID identifies the session in logs.
	ID string

	cfg  Config
	log  ulog.Logger
	sup  *process.Supervisor
	auth *xauth.Authority

	// mu serializes Start and Stop.
	mu      sync.Mutex
	state   State
	display string
	server  *process.Process
	client  *process.Process
	done    chan struct{}
}

// New returns a Session for cfg, logging to l.
func New(cfg Config, l ulog.Logger) *Session {
	if l == nil {
		l = ulog.Null
	}
	if cfg.RuntimeDir == "" {
		cfg.RuntimeDir = os.TempDir()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	s := &Session{
		ID:   uuid.NewString(),
		cfg:  cfg,
		log:  l,
		sup:  process.New(l),
		auth: xauth.New(cfg.RuntimeDir),
		done: make(chan struct{}),
	}
	s.sup.Stdin, s.sup.Stdout, s.sup.Stderr = cfg.Stdin, cfg.Stdout, cfg.Stderr
	if cfg.StartTimeout != 0 {
		s.sup.StartTimeout = cfg.StartTimeout
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Display returns the display name, e.g. ":7", or "" if there is none.
func (s *Session) Display() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// AuthorityPath returns the path of the session's authority file.
func (s *Session) AuthorityPath() string {
	return s.auth.Path()
}

// Done is closed when the session is Stopped or Failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// DropPrivs sets the effective uid and gid to the real ones. A helper
// that was started setuid must not start the X server as root.
func (s *Session) DropPrivs() error {
	uid, euid := unix.Getuid(), unix.Geteuid()
	gid, egid := unix.Getgid(), unix.Getegid()
	verbose("dropPrivs: uid %d euid %d gid %d egid %d", uid, euid, gid, egid)
	if gid != egid {
		if err := unix.Setregid(-1, gid); err != nil {
			return fmt.Errorf("Setregid(-1, %d): %v", gid, err)
		}
	}
	if uid != euid {
		if err := unix.Setreuid(-1, uid); err != nil {
			return fmt.Errorf("Setreuid(-1, %d): %v", uid, err)
		}
	}
	return nil
}

// Start brings the session up: the authority file, the X server, the
// display setup and the client. It returns once the client is running.
// If any step fails, whatever was started is stopped again, the
// authority file is removed, and the session is Failed.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return &StartError{Stage: "start", Err: fmt.Errorf("%w: state %v", ErrState, s.state)}
	}
	if s.cfg.Server == "" || s.cfg.Client == "" {
		s.log.Printf("%s: server %q, client %q: %v", s.ID, s.cfg.Server, s.cfg.Client, ErrConfiguration)
		return &StartError{Stage: "configuration", Err: ErrConfiguration}
	}

	s.state = AuthoritySetup
	if err := s.auth.Setup(); err != nil {
		return s.fail("authority setup", err)
	}

	s.state = ServerStarting
	h, err := displayfd.Begin()
	if err != nil {
		return s.fail("handshake", err)
	}
	cmd := serverCommand(s.cfg.Server, s.auth.Path(), h.Args(handshakeFD))
	s.log.Printf("%s: running server: %s", s.ID, cmd)
	s.server, err = s.sup.Start("server", cmd, process.Options{
		// Without it, distributions carrying the Fedora patch insist on
		// running Xorg as root.
		Env:        map[string]string{"XORG_RUN_AS_USER_OK": "1"},
		ExtraFiles: []*os.File{h.Writer()},
		Watch:      true,
	})
	// The server has its own copy now; ours would keep the read below
	// from seeing end of file should the server die.
	h.CloseWriter() //nolint
	if err != nil {
		h.Close()
		return s.fail("server spawn", err)
	}
	display, err := h.Resolve(s.cfg.HandshakeTimeout)
	if err != nil {
		return s.fail("handshake", err)
	}
	s.display = display
	s.log.Printf("%s: X11 display %s", s.ID, display)
	if err := s.auth.Issue(display); err != nil {
		return s.fail("authority issue", err)
	}
	if err := s.cfg.Control.Report(display); err != nil {
		s.log.Printf("%s: %v", s.ID, err)
	}

	s.state = DisplayAcquired
	env := s.displayEnv()
	s.log.Printf("%s: setting default cursor", s.ID)
	s.sup.Run("cursor", s.cfg.CursorCommand, env, CursorGrace)
	if s.cfg.DisplayCommand != "" {
		s.log.Printf("%s: running display setup script: %s", s.ID, s.cfg.DisplayCommand)
	}
	s.sup.Run("display setup", s.cfg.DisplayCommand, env, DisplaySetupGrace)

	s.state = ClientStarting
	s.log.Printf("%s: running client: %s", s.ID, s.cfg.Client)
	s.client, err = s.sup.Start("client", s.cfg.Client, process.Options{Env: env, Watch: true})
	if err != nil {
		return s.fail("client spawn", err)
	}
	s.state = Running
	return nil
}

// fail undoes a partial Start. s.mu is held.
func (s *Session) fail(stage string, err error) error {
	s.log.Printf("%s: %s failed in state %v: %v", s.ID, stage, s.state, err)
	s.client.Terminate(s.cfg.StopGrace)
	s.server.Terminate(s.cfg.StopGrace)
	if rerr := s.auth.Revoke(); rerr != nil {
		s.log.Printf("%s: %v", s.ID, rerr)
	}
	s.client, s.server, s.display = nil, nil, ""
	s.state = Failed
	s.sup.Close()
	close(s.done)
	return &StartError{Stage: stage, Err: err}
}

// displayEnv is the environment of everything that talks to the display.
// s.mu is held.
func (s *Session) displayEnv() map[string]string {
	return map[string]string{
		"DISPLAY":    s.display,
		"XAUTHORITY": s.auth.Path(),
	}
}

// Stop tears a running session down: the client is stopped, then the
// server, then the display stop script runs and the authority file is
// removed. Stop is a no-op unless the session is Running; in particular
// it may be called any number of times. The error, if any, lists the
// cleanup steps that went wrong; it is for logging only.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		verbose("Stop in state %v: nothing to do", s.state)
		return nil
	}
	s.state = Stopping
	var result error
	if s.client != nil {
		s.log.Printf("%s: stopping client", s.ID)
		s.client.Terminate(s.cfg.StopGrace)
	}
	if s.server != nil {
		s.log.Printf("%s: stopping server", s.ID)
		s.server.Terminate(s.cfg.StopGrace)

		env := s.displayEnv()
		env["QT_QPA_PLATFORM"] = "xcb"
		if s.cfg.DisplayStopCommand != "" {
			s.log.Printf("%s: running display stop script: %s", s.ID, s.cfg.DisplayStopCommand)
		}
		if p := s.sup.Run("display stop", s.cfg.DisplayStopCommand, env, DisplayStopGrace); p != nil && p.Exit().Fault() {
			result = multierror.Append(result, fmt.Errorf("display stop script: %v", p.Exit()))
		}
		if err := s.auth.Revoke(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.client, s.server, s.display = nil, nil, ""
	s.state = Stopped
	s.sup.Close()
	close(s.done)
	return result
}

// Run starts the session and then waits for it to end: because ctx is
// done, because the X server or the client exited, or because Stop was
// called. In the first two cases Run stops the session. Run returns the
// Start error, if any, or a *FaultError if a child exited abnormally.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		s.log.Printf("%s: quitting", s.ID)
		s.stop()
		return nil
	case <-s.done:
		return nil
	case e := <-s.sup.Exits():
		// Stop blocks State until it is done; exits it caused are not faults.
		if s.State() != Running {
			return nil
		}
		s.log.Printf("%s: %v", s.ID, e)
		s.stop()
		if e.Fault() {
			return &FaultError{Exit: e}
		}
		return nil
	}
}

func (s *Session) stop() {
	if err := s.Stop(); err != nil {
		s.log.Printf("%s: stop: %v", s.ID, err)
	}
}
