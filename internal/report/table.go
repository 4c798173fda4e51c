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

package report

import (
	"fmt"
	"strings"
	"time"

	"memtiergo/internal/stats"
)

// PrintSummary renders totals as a columnar table, one row per command kind
// plus a TOTAL row, in the teacher's yellow-banner final-metrics style.
func PrintSummary(totals stats.Totals) {
	sep := strings.Repeat("-", 96)
	now := time.Now().Format(time.RFC3339)

	fmt.Printf("%s[%s] Run summary (%.0fs, seconds %d..%d)\n", colorYellow, now, totals.DurationSecs, totals.FirstSecond, totals.LastSecond)
	fmt.Println(sep)
	fmt.Printf("%-12s %10s %14s %10s %10s %9s %12s %10s %10s %10s\n",
		"Type", "Ops/sec", "Bytes/sec", "Hits", "Misses", "Errors", "AvgLat(us)", "p50(us)", "p99(us)", "p999(us)")
	fmt.Println(sep)
	for _, kt := range totals.ByKind {
		printRow(kt, totals.DurationSecs)
	}
	fmt.Println(sep)
	printRow(totals.Grand, totals.DurationSecs)
	fmt.Println(sep)
	fmt.Print(colorReset)
}

func printRow(kt stats.KindTotal, durationSecs float64) {
	var opsPerSec, bytesPerSec float64
	if durationSecs > 0 {
		opsPerSec = float64(kt.Ops) / durationSecs
		bytesPerSec = float64(kt.Bytes) / durationSecs
	}
	fmt.Printf("%-12s %10.1f %14.1f %10d %10d %9d %12.1f %10d %10d %10d\n",
		kt.Kind, opsPerSec, bytesPerSec, kt.Hits, kt.Misses, kt.Errors, kt.AvgLatencyUs, kt.P50, kt.P99, kt.P999)
}
