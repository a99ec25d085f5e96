// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package display

import "sync"

// Server is the display manager's record of a rootless X server. The
// helper owns the real X server; Server only remembers whether the
// display is up and what it is called.
type Server struct {
	// OnStarted and OnStopped, if set, are called when Start and Stop
	// change the state.
	OnStarted func()
	OnStopped func()

	mu      sync.Mutex
	started bool
	display string
}

// SessionType is the XDG session type of displays from this server.
func (s *Server) SessionType() string {
	return "x11"
}

// SetDisplayName records the display the helper reported.
func (s *Server) SetDisplayName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display = name
}

// DisplayName returns the name set by SetDisplayName.
func (s *Server) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// Started reports whether the server is started.
func (s *Server) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Start marks the server started. It returns false if it already was.
func (s *Server) Start() bool {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return false
	}
	s.started = true
	s.mu.Unlock()
	if s.OnStarted != nil {
		s.OnStarted()
	}
	return true
}

// Stop marks the server stopped, if it was started.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	if s.OnStopped != nil {
		s.OnStopped()
	}
}
