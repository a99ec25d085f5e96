// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import "fmt"

// State is where a Session is in its life.
type State int

// The states of a Session, in the order a successful one visits them.
// Failed is reachable from every state before Running.
const (
	Idle State = iota
	AuthoritySetup
	ServerStarting
	DisplayAcquired
	ClientStarting
	Running
	Stopping
	Stopped
	Failed
)

var stateNames = [...]string{
	Idle:            "Idle",
	AuthoritySetup:  "AuthoritySetup",
	ServerStarting:  "ServerStarting",
	DisplayAcquired: "DisplayAcquired",
	ClientStarting:  "ClientStarting",
	Running:         "Running",
	Stopping:        "Stopping",
	Stopped:         "Stopped",
	Failed:          "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether a Session in state s is done.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed
}
