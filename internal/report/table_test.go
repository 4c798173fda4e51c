package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"memtiergo/internal/stats"
)

func sampleTotals() stats.Totals {
	sets := stats.KindTotal{Kind: "SET", Ops: 100, Bytes: 4000, Hits: 100, AvgLatencyUs: 120.5, P50: 100, P99: 300, P999: 900}
	gets := stats.KindTotal{Kind: "GET", Ops: 900, Bytes: 36000, Hits: 850, Misses: 50, AvgLatencyUs: 80.1, P50: 60, P99: 200, P999: 700}
	grand := stats.KindTotal{Kind: "TOTAL", Ops: 1000, Bytes: 40000, Hits: 950, Misses: 50, AvgLatencyUs: 84.6, P50: 65, P99: 210, P999: 710}
	return stats.Totals{ByKind: []stats.KindTotal{sets, gets}, Grand: grand, FirstSecond: 10, LastSecond: 19, DurationSecs: 10}
}

func Test_WriteCSVIncludesHeaderAndTotalsRow(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleTotals()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 { // header + SET + GET + TOTAL
		t.Fatalf("expected 4 CSV lines, got %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "Type,Ops,") {
		t.Fatalf("expected CSV header to start with Type,Ops,, got %q", lines[0])
	}
	if !strings.HasPrefix(lines[3], "TOTAL,1000,") {
		t.Fatalf("expected the final row to be the TOTAL row, got %q", lines[3])
	}
}

func Test_WriteJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleTotals()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var out jsonSummary
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Total.Ops != 1000 {
		t.Fatalf("expected total ops 1000, got %d", out.Total.Ops)
	}
	if len(out.ByKind) != 2 {
		t.Fatalf("expected 2 by-kind rows, got %d", len(out.ByKind))
	}
	if out.ByKind[1].OpsPerSec != 90 {
		t.Fatalf("expected GET ops/sec 900/10s=90, got %v", out.ByKind[1].OpsPerSec)
	}
}

func Test_PrintSummaryDoesNotPanicOnEmptyTotals(t *testing.T) {
	PrintSummary(stats.Totals{})
}
