// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo exposes version metadata injected at link time via
// -ldflags, for --version output and the process's HTTP user agent.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is set in init() so it's ready before any caller needs it,
// without forcing every caller to know the format.
var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("dbcore/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String renders build metadata as the three-line form printed by
// --version.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", Version, Commit, Date)
}

// JSON renders build metadata as a JSON object with version, commit
// and date fields.
func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
	}{Version: Version, Commit: Commit, Date: Date})
}
