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

// Package stats records per-second, per-command-kind counters and HDR
// latency histograms, and merges/aggregates/summarizes them across workers
// at run end.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Well-known command kinds. Arbitrary commands use ArbKind(i).
const (
	KindSet  = "SET"
	KindGet  = "GET"
	KindWait = "WAIT"
)

// ArbKind names the i-th configured arbitrary command for bucket keys.
func ArbKind(i int) string {
	const letters = "0123456789"
	if i < 10 {
		return "ARB:" + string(letters[i])
	}
	buf := make([]byte, 0, 8)
	buf = append(buf, "ARB:"...)
	buf = appendInt(buf, i)
	return string(buf)
}

func appendInt(buf []byte, n int) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	// reverse the digits just appended
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

// Marker distinguishes a normal response from a cluster redirection.
type Marker int

const (
	MarkerNormal Marker = iota
	MarkerMoved
	MarkerAsk
)

// KindCounters is one command kind's counters within a single bucket.
type KindCounters struct {
	Ops            uint64
	Bytes          uint64
	TotalLatencyUs uint64
	Hits           uint64
	Misses         uint64
	Moved          uint64
	Ask            uint64
	Errors         uint64
}

func (c *KindCounters) add(o KindCounters) {
	c.Ops += o.Ops
	c.Bytes += o.Bytes
	c.TotalLatencyUs += o.TotalLatencyUs
	c.Hits += o.Hits
	c.Misses += o.Misses
	c.Moved += o.Moved
	c.Ask += o.Ask
	c.Errors += o.Errors
}

// Bucket is one second's counters, broken down by command kind.
type Bucket struct {
	Second int64
	ByKind map[string]*KindCounters
}

func newBucket(second int64) *Bucket {
	return &Bucket{Second: second, ByKind: make(map[string]*KindCounters)}
}

func (b *Bucket) counters(kind string) *KindCounters {
	c, ok := b.ByKind[kind]
	if !ok {
		c = &KindCounters{}
		b.ByKind[kind] = c
	}
	return c
}

// histogramBounds mirror the ecosystem HDR defaults this engine is
// configured with: 1 microsecond to 1 hour, 3 significant figures.
const (
	histMinUs  = 1
	histMaxUs  = int64(time.Hour / time.Microsecond)
	histSigFig = 3
)

// Engine accumulates per-second buckets and per-kind latency histograms for
// one worker/client. Safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	start   time.Time
	buckets map[int64]*Bucket
	hist    map[string]*hdrhistogram.Histogram
	totals  *hdrhistogram.Histogram
}

// NewEngine constructs an Engine anchored at start (the test's t=0).
func NewEngine(start time.Time) *Engine {
	return &Engine{
		start:   start,
		buckets: make(map[int64]*Bucket),
		hist:    make(map[string]*hdrhistogram.Histogram),
		totals:  hdrhistogram.New(histMinUs, histMaxUs, histSigFig),
	}
}

// CurrentSecond returns floor((now-start)/1s), the bucket index 'now' falls
// into.
func (e *Engine) CurrentSecond(now time.Time) int64 {
	return int64(now.Sub(e.start) / time.Second)
}

// RecordOp records one completed operation: latencyUs drives the histogram,
// bytes/hits/misses/marker drive the per-second counters.
func (e *Engine) RecordOp(kind string, now time.Time, bytes int, latencyUs int64, hits, misses int, marker Marker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	second := e.CurrentSecond(now)
	b, ok := e.buckets[second]
	if !ok {
		b = newBucket(second)
		e.buckets[second] = b
	}
	c := b.counters(kind)
	c.Ops++
	c.Bytes += uint64(bytes)
	c.TotalLatencyUs += uint64(latencyUs)
	c.Hits += uint64(hits)
	c.Misses += uint64(misses)
	switch marker {
	case MarkerMoved:
		c.Moved++
	case MarkerAsk:
		c.Ask++
	}

	h, ok := e.hist[kind]
	if !ok {
		h = hdrhistogram.New(histMinUs, histMaxUs, histSigFig)
		e.hist[kind] = h
	}
	v := latencyUs
	if v < histMinUs {
		v = histMinUs
	}
	if v > histMaxUs {
		v = histMaxUs
	}
	_ = h.RecordValue(v)
	_ = e.totals.RecordValue(v)
}

// RecordError increments the error counter for kind in the current bucket
// without touching the latency histogram (errored responses have no
// meaningful service-time sample).
func (e *Engine) RecordError(kind string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	second := e.CurrentSecond(now)
	b, ok := e.buckets[second]
	if !ok {
		b = newBucket(second)
		e.buckets[second] = b
	}
	b.counters(kind).Errors++
}

// Merge folds other into e, associatively and commutatively: matching
// (second, kind) counters are summed, and histograms are merged by
// addition. Both engines must share the same start time (true for any two
// workers/clients of the same run).
func (e *Engine) Merge(other *Engine) {
	other.mu.Lock()
	snapshotBuckets := make(map[int64]*Bucket, len(other.buckets))
	for s, b := range other.buckets {
		nb := newBucket(s)
		for k, c := range b.ByKind {
			cc := *c
			nb.ByKind[k] = &cc
		}
		snapshotBuckets[s] = nb
	}
	snapshotHist := make(map[string]*hdrhistogram.Histogram, len(other.hist))
	for k, h := range other.hist {
		snapshotHist[k] = h
	}
	otherTotals := other.totals
	other.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	for s, ob := range snapshotBuckets {
		b, ok := e.buckets[s]
		if !ok {
			b = newBucket(s)
			e.buckets[s] = b
		}
		for k, oc := range ob.ByKind {
			b.counters(k).add(*oc)
		}
	}
	for k, oh := range snapshotHist {
		h, ok := e.hist[k]
		if !ok {
			h = hdrhistogram.New(histMinUs, histMaxUs, histSigFig)
			e.hist[k] = h
		}
		h.Merge(oh)
	}
	e.totals.Merge(otherTotals)
}

// KindTotal is one kind's summed counters plus latency percentiles over the
// whole run.
type KindTotal struct {
	Kind           string
	Ops            uint64
	Bytes          uint64
	Hits           uint64
	Misses         uint64
	Moved          uint64
	Ask            uint64
	Errors         uint64
	AvgLatencyUs   float64
	P50, P99, P999 int64
}

// Totals is the full-run summary: per-kind totals, a grand-total row, and
// the observed second range.
type Totals struct {
	ByKind       []KindTotal
	Grand        KindTotal
	FirstSecond  int64
	LastSecond   int64
	DurationSecs float64
}

// Summarize aggregates all sealed and current-second buckets into a Totals
// snapshot. It does not mutate the Engine (safe to call on a live, unsealed
// Engine for progress reporting).
func (e *Engine) Summarize() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()

	kinds := make(map[string]*KindCounters)
	var firstSecond, lastSecond int64
	first := true
	for s, b := range e.buckets {
		if first || s < firstSecond {
			firstSecond = s
		}
		if first || s > lastSecond {
			lastSecond = s
		}
		first = false
		for k, c := range b.ByKind {
			acc, ok := kinds[k]
			if !ok {
				acc = &KindCounters{}
				kinds[k] = acc
			}
			acc.add(*c)
		}
	}

	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)

	var grand KindCounters
	byKind := make([]KindTotal, 0, len(names))
	for _, name := range names {
		c := kinds[name]
		grand.add(*c)
		kt := KindTotal{Kind: name, Ops: c.Ops, Bytes: c.Bytes, Hits: c.Hits, Misses: c.Misses, Moved: c.Moved, Ask: c.Ask, Errors: c.Errors}
		if c.Ops > 0 {
			kt.AvgLatencyUs = float64(c.TotalLatencyUs) / float64(c.Ops)
		}
		if h, ok := e.hist[name]; ok {
			kt.P50 = h.ValueAtQuantile(50)
			kt.P99 = h.ValueAtQuantile(99)
			kt.P999 = h.ValueAtQuantile(99.9)
		}
		byKind = append(byKind, kt)
	}

	grandTotal := KindTotal{Kind: "TOTAL", Ops: grand.Ops, Bytes: grand.Bytes, Hits: grand.Hits, Misses: grand.Misses, Moved: grand.Moved, Ask: grand.Ask, Errors: grand.Errors}
	if grand.Ops > 0 {
		grandTotal.AvgLatencyUs = float64(grand.TotalLatencyUs) / float64(grand.Ops)
	}
	grandTotal.P50 = e.totals.ValueAtQuantile(50)
	grandTotal.P99 = e.totals.ValueAtQuantile(99)
	grandTotal.P999 = e.totals.ValueAtQuantile(99.9)

	duration := float64(lastSecond-firstSecond) + 1
	if len(e.buckets) == 0 {
		duration = 0
	}

	return Totals{ByKind: byKind, Grand: grandTotal, FirstSecond: firstSecond, LastSecond: lastSecond, DurationSecs: duration}
}
