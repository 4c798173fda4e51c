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

// Package export optionally exposes the live stats engine on a Prometheus
// /metrics endpoint. It is entirely opt-in: with Config.Enabled false, every
// exported function is a no-op, matching the pack's churn telemetry module.
package export

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"memtiergo/internal/stats"
)

// Config controls whether and where the metrics endpoint is served.
type Config struct {
	Enabled     bool
	MetricsAddr string // e.g. ":9090"
}

// These are exported as gauges, not counters, because each snapshot carries
// the stats engine's cumulative run-to-date total rather than a per-tick
// delta (the engine itself is the source of truth for monotonic counting).
var (
	opsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memtier_ops_total",
		Help: "Total completed operations by command kind",
	}, []string{"kind"})
	bytesTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memtier_bytes_total",
		Help: "Total bytes exchanged by command kind",
	}, []string{"kind"})
	hitsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memtier_hits_total",
		Help: "Total cache hits by command kind",
	}, []string{"kind"})
	missesTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memtier_misses_total",
		Help: "Total cache misses by command kind",
	}, []string{"kind"})
	latencyP99Us = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memtier_latency_p99_microseconds",
		Help: "Most recently observed p99 latency by command kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(opsTotal, bytesTotal, hitsTotal, missesTotal, latencyP99Us)
}

// Exporter periodically snapshots an Engine's Totals into the registered
// Prometheus vectors.
type Exporter struct {
	engine   *stats.Engine
	interval time.Duration
	stopChan chan struct{}
}

// Start configures the registry per cfg, and if enabled, begins polling
// engine on the given interval and serving /metrics on cfg.MetricsAddr.
// Returns nil when cfg.Enabled is false.
func Start(cfg Config, engine *stats.Engine, interval time.Duration) *Exporter {
	if !cfg.Enabled {
		return nil
	}
	e := &Exporter{engine: engine, interval: interval, stopChan: make(chan struct{})}
	if cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
	go e.loop()
	return e
}

// Stop halts the polling loop. Safe to call on a nil *Exporter.
func (e *Exporter) Stop() {
	if e == nil {
		return
	}
	close(e.stopChan)
}

func (e *Exporter) loop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.snapshot()
		case <-e.stopChan:
			return
		}
	}
}

func (e *Exporter) snapshot() {
	totals := e.engine.Summarize()
	for _, kt := range totals.ByKind {
		opsTotal.WithLabelValues(kt.Kind).Set(float64(kt.Ops))
		bytesTotal.WithLabelValues(kt.Kind).Set(float64(kt.Bytes))
		hitsTotal.WithLabelValues(kt.Kind).Set(float64(kt.Hits))
		missesTotal.WithLabelValues(kt.Kind).Set(float64(kt.Misses))
		latencyP99Us.WithLabelValues(kt.Kind).Set(float64(kt.P99))
	}
}

func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
