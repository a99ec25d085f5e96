// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package process

import (
	"os"
	"sort"
	"strings"
)

// Environ returns the environment of this process, with the variables
// in overrides added or replaced.
func Environ(overrides map[string]string) []string {
	return overlay(os.Environ(), overrides)
}

// overlay applies overrides to base. Overridden variables are dropped from
// their original position and appended in key order, so the result is
// deterministic.
func overlay(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
