// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"reflect"
	"testing"
)

func TestHelperArgs(t *testing.T) {
	var tests = []struct {
		server string
		client []string
		debug  bool
		out    []string
	}{
		{"Xorg", []string{"xterm"}, false, []string{"-server", "Xorg", "-client", "xterm"}},
		{"Xephyr -br", []string{"xterm", "-title", "a b"}, true, []string{"-server", "Xephyr -br", "-client", "xterm -title 'a b'", "-d"}},
	}
	for _, tt := range tests {
		if out := helperArgs(tt.server, tt.client, tt.debug); !reflect.DeepEqual(out, tt.out) {
			t.Errorf("helperArgs(%q, %q, %v): %q != %q", tt.server, tt.client, tt.debug, out, tt.out)
		}
	}
}
