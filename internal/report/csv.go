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
	"encoding/csv"
	"io"
	"strconv"

	"memtiergo/internal/stats"
)

// csvHeader mirrors the original implementation's run_stats.cpp column
// ordering: per-kind rows first (Sets, Gets, Waits, ...), then a Totals row.
var csvHeader = []string{
	"Type", "Ops", "Ops/sec", "Bytes/sec", "Hits", "Misses", "Errors",
	"AvgLatencyUs", "P50Us", "P99Us", "P999Us",
}

// WriteCSV renders totals as CSV onto w, one row per kind plus a Totals row,
// in the column order the original run_stats.cpp report used.
func WriteCSV(w io.Writer, totals stats.Totals) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, kt := range totals.ByKind {
		if err := cw.Write(csvRow(kt, totals.DurationSecs)); err != nil {
			return err
		}
	}
	if err := cw.Write(csvRow(totals.Grand, totals.DurationSecs)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(kt stats.KindTotal, durationSecs float64) []string {
	var opsPerSec, bytesPerSec float64
	if durationSecs > 0 {
		opsPerSec = float64(kt.Ops) / durationSecs
		bytesPerSec = float64(kt.Bytes) / durationSecs
	}
	return []string{
		kt.Kind,
		strconv.FormatUint(kt.Ops, 10),
		strconv.FormatFloat(opsPerSec, 'f', 1, 64),
		strconv.FormatFloat(bytesPerSec, 'f', 1, 64),
		strconv.FormatUint(kt.Hits, 10),
		strconv.FormatUint(kt.Misses, 10),
		strconv.FormatUint(kt.Errors, 10),
		strconv.FormatFloat(kt.AvgLatencyUs, 'f', 1, 64),
		strconv.FormatInt(kt.P50, 10),
		strconv.FormatInt(kt.P99, 10),
		strconv.FormatInt(kt.P999, 10),
	}
}
