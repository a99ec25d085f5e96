// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/u-root/u-root/pkg/ulog"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// DefaultStartTimeout is how long Start waits for the OS to confirm that
// a command is running.
const DefaultStartTimeout = 10 * time.Second

var (
	// ErrEmptyCommand is returned when a command string has no program.
	ErrEmptyCommand = errors.New("empty command")
	// ErrStartTimeout is returned when a command did not start in time.
	ErrStartTimeout = errors.New("timed out waiting for process to start")

	v = func(string, ...interface{}) {}
)

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// SpawnError is returned by Start when a command could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Exit describes how a process ended.
type Exit struct {
	Name string
	Pid  int
	// Code is the exit status, or -1 if the process was killed by a signal.
	Code     int
	Signaled bool
	Signal   syscall.Signal
	// Err is set if the process could not be waited for.
	Err error
}

// Fault reports whether the exit was abnormal or non-zero.
func (e Exit) Fault() bool {
	return e.Signaled || e.Code != 0 || e.Err != nil
}

func (e Exit) String() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s(%d): wait: %v", e.Name, e.Pid, e.Err)
	case e.Signaled:
		return fmt.Sprintf("%s(%d): killed by %v", e.Name, e.Pid, e.Signal)
	}
	return fmt.Sprintf("%s(%d): exit status %d", e.Name, e.Pid, e.Code)
}

// Options control how Start runs a command.
type Options struct {
	// Env is overlaid on the helper's environment.
	Env map[string]string
	// ExtraFiles are inherited by the child as fd 3, 4, ...
	ExtraFiles []*os.File
	// Watch delivers the exit of the process on Supervisor.Exits.
	Watch bool
}

// Supervisor starts and watches processes.
type Supervisor struct {
	// Stdin, Stdout and Stderr are given to every child.
	// A nil file connects the child to the null device.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
	// StartTimeout bounds Start.
	StartTimeout time.Duration

	log       ulog.Logger
	exits     chan Exit
	closed    chan struct{}
	closeOnce sync.Once
	ttyOnce   sync.Once
}

// New returns a Supervisor that forwards the helper's stdio to its children.
func New(l ulog.Logger) *Supervisor {
	if l == nil {
		l = ulog.Null
	}
	return &Supervisor{
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		StartTimeout: DefaultStartTimeout,
		log:          l,
		exits:        make(chan Exit),
		closed:       make(chan struct{}),
	}
}

// Exits returns the channel on which the exits of watched processes are
// delivered.
func (s *Supervisor) Exits() <-chan Exit {
	return s.exits
}

// Close releases any watcher still waiting to deliver an exit. Exits that
// were not received by then are dropped.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Process is one started command.
type Process struct {
	Name string
	// Env is the full environment the process was started with.
	Env []string

	cmd   *exec.Cmd
	log   ulog.Logger
	done  chan struct{}
	exit  Exit
	kills int32
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Exit returns the exit status. It is only meaningful once Done is closed.
func (p *Process) Exit() Exit {
	<-p.done
	return p.exit
}

// Killed reports whether Terminate had to use SIGKILL.
func (p *Process) Killed() bool {
	return p.Kills() > 0
}

// Kills returns the number of SIGKILLs sent to the process.
func (p *Process) Kills() int {
	return int(atomic.LoadInt32(&p.kills))
}

// Start splits command into a program and arguments and starts it.
// It returns once the program is running, or with a *SpawnError if that
// did not happen within s.StartTimeout.
func (s *Supervisor) Start(name, command string, opts Options) (*Process, error) {
	args, err := shlex.Split(command, true)
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	if len(args) == 0 {
		return nil, &SpawnError{Command: command, Err: ErrEmptyCommand}
	}
	c := exec.Command(args[0], args[1:]...)
	c.Env = Environ(opts.Env)
	// Assigning a nil *os.File to an io.Reader would not be nil.
	if s.Stdin != nil {
		s.checkTTY()
		c.Stdin = s.Stdin
	}
	if s.Stdout != nil {
		c.Stdout = s.Stdout
	}
	if s.Stderr != nil {
		c.Stderr = s.Stderr
	}
	c.ExtraFiles = opts.ExtraFiles

	v("process: start %s: %q", name, c.Args)
	started := make(chan error, 1)
	go func() {
		started <- c.Start()
	}()
	t := time.NewTimer(s.StartTimeout)
	defer t.Stop()
	select {
	case err := <-started:
		if err != nil {
			return nil, &SpawnError{Command: command, Err: err}
		}
	case <-t.C:
		// Nobody will own the process if it shows up late.
		go func() {
			if err := <-started; err == nil {
				c.Process.Kill() //nolint
				c.Wait()         //nolint
			}
		}()
		return nil, &SpawnError{Command: command, Err: ErrStartTimeout}
	}

	p := &Process{Name: name, Env: c.Env, cmd: c, log: s.log, done: make(chan struct{})}
	s.log.Printf("%s: started %q as pid %d", name, command, p.Pid())
	go s.watch(p, opts.Watch)
	return p, nil
}

func (s *Supervisor) watch(p *Process, watched bool) {
	err := p.cmd.Wait()
	p.exit = exitStatus(p.Name, p.cmd, err)
	close(p.done)
	v("process: %v", p.exit)
	if !watched {
		return
	}
	select {
	case s.exits <- p.exit:
	case <-s.closed:
	}
}

func exitStatus(name string, c *exec.Cmd, err error) Exit {
	e := Exit{Name: name, Pid: c.Process.Pid, Code: -1}
	ps := c.ProcessState
	if ps == nil {
		e.Err = err
		return e
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		e.Signaled, e.Signal = true, ws.Signal()
		return e
	}
	e.Code = ps.ExitCode()
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		e.Err = err
	}
	return e
}

// Terminate asks the process to stop with SIGTERM and waits up to grace for
// it to exit. If it is still running after that, it is killed. Terminate
// returns once the process has been reaped. It is a no-op on a process that
// already exited, and on a nil *Process.
func (p *Process) Terminate(grace time.Duration) {
	if p == nil || p.Exited() {
		return
	}
	p.log.Printf("%s: stopping pid %d", p.Name, p.Pid())
	if err := p.cmd.Process.Signal(unix.SIGTERM); err != nil {
		v("process: SIGTERM %s: %v", p.Name, err)
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		return
	case <-t.C:
	}
	p.log.Printf("%s: still running after %v, killing pid %d", p.Name, grace, p.Pid())
	p.kill()
}

func (p *Process) kill() {
	atomic.AddInt32(&p.kills, 1)
	if err := p.cmd.Process.Signal(unix.SIGKILL); err != nil {
		v("process: SIGKILL %s: %v", p.Name, err)
	}
	<-p.done
}

// Run starts an auxiliary command and waits up to grace for it to finish.
// A command that overruns is killed. Failures are logged and otherwise
// ignored; an empty command is skipped. The returned Process, if any, has
// exited.
func (s *Supervisor) Run(name, command string, env map[string]string, grace time.Duration) *Process {
	if command == "" {
		v("process: %s: no command, skipping", name)
		return nil
	}
	p, err := s.Start(name, command, Options{Env: env})
	if err != nil {
		s.log.Printf("%s: %v", name, err)
		return nil
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		if p.exit.Fault() {
			s.log.Printf("%s: %v", name, p.exit)
		}
	case <-t.C:
		s.log.Printf("%s: did not finish within %v, killing pid %d", name, grace, p.Pid())
		p.kill()
	}
	return p
}

// checkTTY warns once if stdin is not a terminal: rootless X servers refuse
// to start for users that are not on a console.
func (s *Supervisor) checkTTY() {
	s.ttyOnce.Do(func() {
		if !term.IsTerminal(int(s.Stdin.Fd())) {
			s.log.Printf("stdin is not a terminal; the X server may refuse to start")
		}
	})
}
