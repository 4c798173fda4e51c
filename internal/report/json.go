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
	"encoding/json"
	"io"

	"memtiergo/internal/stats"
)

// jsonKind is the JSON-facing shape of one stats.KindTotal row, with derived
// per-second rates the raw counters don't carry.
type jsonKind struct {
	Type         string  `json:"type"`
	Ops          uint64  `json:"ops"`
	OpsPerSec    float64 `json:"ops_per_sec"`
	BytesPerSec  float64 `json:"bytes_per_sec"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Errors       uint64  `json:"errors"`
	AvgLatencyUs float64 `json:"avg_latency_us"`
	P50Us        int64   `json:"p50_us"`
	P99Us        int64   `json:"p99_us"`
	P999Us       int64   `json:"p999_us"`
}

type jsonSummary struct {
	DurationSecs float64    `json:"duration_secs"`
	FirstSecond  int64      `json:"first_second"`
	LastSecond   int64      `json:"last_second"`
	ByKind       []jsonKind `json:"by_kind"`
	Total        jsonKind   `json:"total"`
}

func toJSONKind(kt stats.KindTotal, durationSecs float64) jsonKind {
	var opsPerSec, bytesPerSec float64
	if durationSecs > 0 {
		opsPerSec = float64(kt.Ops) / durationSecs
		bytesPerSec = float64(kt.Bytes) / durationSecs
	}
	return jsonKind{
		Type: kt.Kind, Ops: kt.Ops, OpsPerSec: opsPerSec, BytesPerSec: bytesPerSec,
		Hits: kt.Hits, Misses: kt.Misses, Errors: kt.Errors,
		AvgLatencyUs: kt.AvgLatencyUs, P50Us: kt.P50, P99Us: kt.P99, P999Us: kt.P999,
	}
}

// WriteJSON renders totals as a single indented JSON object onto w.
func WriteJSON(w io.Writer, totals stats.Totals) error {
	out := jsonSummary{
		DurationSecs: totals.DurationSecs,
		FirstSecond:  totals.FirstSecond,
		LastSecond:   totals.LastSecond,
		Total:        toJSONKind(totals.Grand, totals.DurationSecs),
	}
	for _, kt := range totals.ByKind {
		out.ByKind = append(out.ByKind, toJSONKind(kt, totals.DurationSecs))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
