// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package report centralizes timestamped run-time reporting (connection
// errors, setup failures, reconnect/backoff events) and the final
// tables/CSV/JSON printers over the stats data model. No logging framework
// is used, matching the rest of the pack: plain fmt.Printf timestamped with
// time.Now().Format(time.RFC3339), ANSI color on error, warning and
// summary lines.
package report

import (
	"fmt"
	"os"
	"time"
)

const (
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

var colorEnabled = os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"

// Errorf prints a timestamped, red-highlighted error line to stderr.
func Errorf(format string, args ...any) {
	ts := time.Now().Format(time.RFC3339)
	msg := fmt.Sprintf(format, args...)
	if colorEnabled {
		fmt.Fprintf(os.Stderr, "%s[%s] %s%s\n", colorRed, ts, msg, colorReset)
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", ts, msg)
}

// Infof prints a timestamped informational line to stdout.
func Infof(format string, args ...any) {
	ts := time.Now().Format(time.RFC3339)
	fmt.Printf("[%s] %s\n", ts, fmt.Sprintf(format, args...))
}

// Warnf prints a timestamped, yellow-highlighted warning line to stdout.
func Warnf(format string, args ...any) {
	ts := time.Now().Format(time.RFC3339)
	msg := fmt.Sprintf(format, args...)
	if colorEnabled {
		fmt.Printf("%s[%s] %s%s\n", colorYellow, ts, msg, colorReset)
		return
	}
	fmt.Printf("[%s] %s\n", ts, msg)
}
