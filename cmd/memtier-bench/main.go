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

// Package main is the entry point for memtier-bench: it parses flags into a
// config.Config, assembles one worker per thread (each driving
// clients-per-thread client.Client or client.ClusterClient instances over
// their own shard connections), runs the traffic until every client's stop
// condition is reached or the process is interrupted, and prints the final
// summary.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memtiergo/internal/client"
	"memtiergo/internal/cluster"
	"memtiergo/internal/config"
	"memtiergo/internal/conn"
	"memtiergo/internal/objgen"
	"memtiergo/internal/ratelimit"
	"memtiergo/internal/report"
	"memtiergo/internal/stats"
	"memtiergo/internal/worker"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Server host")
	port := flag.Int("port", 6379, "Server port")
	unixSocket := flag.String("unix-socket", "", "Unix domain socket path (mutually exclusive with host/port, cluster)")
	uri := flag.String("uri", "", "redis://[user:pass@]host:port[/db] or rediss:// URI; overrides host/port/auth/db on conflict")
	protocol := flag.String("protocol", "redis", "Wire protocol: redis, resp2, resp3, memcache_text, memcache_binary")

	authUser := flag.String("user", "", "ACL username (RESP3 HELLO)")
	authPass := flag.String("password", "", "AUTH/HELLO password")
	db := flag.Int("db", 0, "SELECT database index")

	tlsEnabled := flag.Bool("tls", false, "Enable TLS")
	tlsCert := flag.String("tls-cert", "", "Client certificate file")
	tlsKey := flag.String("tls-key", "", "Client key file")
	tlsCA := flag.String("tls-ca", "", "CA certificate file")
	tlsSkipVerify := flag.Bool("tls-skip-verify", false, "Skip server certificate verification")
	tlsSNI := flag.String("tls-sni", "", "TLS server name indication override")

	threads := flag.Int("threads", 4, "Number of worker threads")
	clientsPerThread := flag.Int("clients", 4, "Number of clients per thread")
	pipeline := flag.Int("pipeline", 1, "Pipeline depth per connection")

	requests := flag.Uint64("requests", 0, "Stop after this many requests per client (0 = unbounded)")
	testDuration := flag.Duration("test-time", 0, "Stop after this wall-clock duration (0 = unbounded)")

	ratioStr := flag.String("ratio", "1:10", "SET:GET ratio, e.g. 1:10")
	multiKeyGet := flag.Int("multi-key-get", 0, "Batch this many keys per MGET (0 or 1 disables batching)")
	waitRatioStr := flag.String("wait-ratio", "0:0", "total_set_ops:total_wait_ops ratio for WAIT")
	waitNumSlavesMin := flag.Int("wait-num-slaves-min", 0, "WAIT num_slaves range minimum")
	waitNumSlavesMax := flag.Int("wait-num-slaves-max", 0, "WAIT num_slaves range maximum")
	waitTimeoutMin := flag.Int("wait-timeout-min-ms", 0, "WAIT timeout range minimum, milliseconds")
	waitTimeoutMax := flag.Int("wait-timeout-max-ms", 0, "WAIT timeout range maximum, milliseconds")

	keyPrefix := flag.String("key-prefix", "memtier-", "Key prefix")
	keyMin := flag.Uint64("key-minimum", 0, "Key index range minimum (inclusive)")
	keyMax := flag.Uint64("key-maximum", 10000000, "Key index range maximum (inclusive)")
	keyPattern := flag.String("key-pattern", "R:R", "SET:GET iterator pattern, each side one of S,R,G,P,Z")
	gaussianMu := flag.Float64("key-gaussian-mu", 0, "Gaussian key distribution median (0 = range midpoint)")
	gaussianSigma := flag.Float64("key-gaussian-sigma", 0, "Gaussian key distribution stddev")
	zipfS := flag.Float64("key-zipf-s", 0, "Zipf key distribution skew parameter (0 disables)")

	dataSize := flag.Uint64("data-size", 32, "Fixed value size in bytes")
	dataSizeMin := flag.Uint64("data-size-min", 0, "Value size range minimum (enables range sizing)")
	dataSizeMax := flag.Uint64("data-size-max", 0, "Value size range maximum")
	randomData := flag.Bool("random-data", false, "Rotate value bytes per object instead of a fixed pattern")

	expiryMin := flag.Uint64("expiry-min", 0, "Expiry range minimum, seconds (0 with max=0 disables expiry)")
	expiryMax := flag.Uint64("expiry-max", 0, "Expiry range maximum, seconds")

	rateLimit := flag.Int("rate-limit", 0, "Per-connection requests/sec cap (0 = unlimited)")

	reconnectInterval := flag.Int("reconnect-interval", 0, "Reconnect after this many processed requests (0 disables)")
	reconnectOnError := flag.Bool("reconnect-on-error", true, "Reconnect (with backoff) after a socket error")
	maxReconnectAttempts := flag.Int("max-reconnect-attempts", 0, "Cap reconnect attempts (0 = unlimited)")
	reconnectBackoffFactor := flag.Float64("reconnect-backoff-factor", 2.0, "Exponential backoff multiplier")
	reconnectInitialBackoff := flag.Duration("reconnect-initial-backoff", 100*time.Millisecond, "Initial reconnect backoff")

	clusterMode := flag.Bool("cluster-mode", false, "Enable Redis Cluster hash-slot routing")
	scanIncremental := flag.Bool("scan-incremental", false, "Use SCAN instead of sequential key generation during warmup (parsed into the config but not used by the run)")
	verify := flag.Bool("verify", false, "Verify GET replies against the value last SET for the same key")

	csvPath := flag.String("csv-out", "", "Write a final CSV summary to this path")
	jsonPath := flag.String("json-out", "", "Write a final JSON summary to this path")

	flag.Parse()

	cfg := config.Config{
		Host: *host, Port: *port, UnixSocket: *unixSocket,
		Username: *authUser, Password: *authPass, DB: *db,
		TLS: config.TLSConfig{
			Enabled: *tlsEnabled, CertFile: *tlsCert, KeyFile: *tlsKey, CAFile: *tlsCA,
			SkipVerify: *tlsSkipVerify, ServerName: *tlsSNI,
		},
		Threads: *threads, ClientsPerThread: *clientsPerThread, PipelineDepth: *pipeline,
		Requests: *requests, TestDuration: *testDuration,
		MultiKeyGet: *multiKeyGet,
		Wait: config.WaitRatio{
			NumSlavesMin: *waitNumSlavesMin, NumSlavesMax: *waitNumSlavesMax,
			TimeoutMsMin: *waitTimeoutMin, TimeoutMsMax: *waitTimeoutMax,
		},
		KeyPrefix: *keyPrefix, KeyMin: *keyMin, KeyMax: *keyMax,
		GaussianMu: *gaussianMu, GaussianSigma: *gaussianSigma, ZipfS: *zipfS,
		ExpiryMin: *expiryMin, ExpiryMax: *expiryMax,
		RandomData: *randomData,
		RateLimit:  *rateLimit,
		ReconnectInterval: *reconnectInterval, ReconnectOnError: *reconnectOnError,
		MaxReconnectAttempts: *maxReconnectAttempts, ReconnectBackoffFactor: *reconnectBackoffFactor,
		ReconnectInitialBackoff: *reconnectInitialBackoff,
		Cluster: *clusterMode, ScanIncremental: *scanIncremental, Verify: *verify,
	}

	var err error
	cfg.Protocol, err = parseProtocol(*protocol)
	if err != nil {
		report.Errorf("memtier-bench: %v", err)
		os.Exit(2)
	}
	if cfg.Ratio, err = parseRatio(*ratioStr); err != nil {
		report.Errorf("memtier-bench: %v", err)
		os.Exit(2)
	}
	if waitA, waitB, err := parseRatioInts(*waitRatioStr); err != nil {
		report.Errorf("memtier-bench: %v", err)
		os.Exit(2)
	} else {
		cfg.Wait.A, cfg.Wait.B = waitA, waitB
	}
	if cfg.SetPattern, cfg.GetPattern, err = parseKeyPattern(*keyPattern); err != nil {
		report.Errorf("memtier-bench: %v", err)
		os.Exit(2)
	}

	if *dataSizeMin > 0 || *dataSizeMax > 0 {
		cfg.Size = objgen.SizePolicy{Kind: objgen.SizeRange, Min: *dataSizeMin, Max: *dataSizeMax}
	} else {
		cfg.Size = objgen.SizePolicy{Kind: objgen.SizeFixed, Fixed: *dataSize}
	}

	if *uri != "" {
		if err := cfg.ApplyURI(*uri); err != nil {
			report.Errorf("memtier-bench: %v", err)
			os.Exit(2)
		}
	}

	if err := cfg.Validate(); err != nil {
		report.Errorf("memtier-bench: %v", err)
		os.Exit(2)
	}

	start := time.Now()
	engine := stats.NewEngine(start)

	plan, err := buildRun(cfg, start)
	if err != nil {
		report.Errorf("memtier-bench: %v", err)
		os.Exit(1)
	}

	for _, w := range plan.workers {
		if err := w.Start(); err != nil {
			report.Errorf("memtier-bench: worker %d failed to start: %v", w.ID, err)
			os.Exit(1)
		}
	}
	report.Infof("memtier-bench: running %d threads x %d clients against %s", cfg.Threads, cfg.ClientsPerThread, endpointLabel(cfg))

	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, syscall.SIGINT, syscall.SIGTERM)

	allDone := make(chan struct{})
	go func() {
		for _, w := range plan.workers {
			<-w.Done()
		}
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-stopSig:
		report.Warnf("memtier-bench: interrupted, stopping workers")
		for _, w := range plan.workers {
			w.Stop()
		}
	}

	for _, w := range plan.workers {
		w.Stop()
		w.MergeInto(engine)
	}

	totals := engine.Summarize()
	report.PrintSummary(totals)

	if *csvPath != "" {
		if err := writeCSVFile(*csvPath, totals); err != nil {
			report.Errorf("memtier-bench: writing CSV summary: %v", err)
		}
	}
	if *jsonPath != "" {
		if err := writeJSONFile(*jsonPath, totals); err != nil {
			report.Errorf("memtier-bench: writing JSON summary: %v", err)
		}
	}
}

// runPlan is the assembled set of workers ready to Start.
type runPlan struct {
	workers []*worker.Worker
}

// buildRun constructs one worker per thread, each owning clientsPerThread
// client groups, wiring codecs/rate limiters/connections per cfg.
func buildRun(cfg config.Config, start time.Time) (*runPlan, error) {
	baseGen, err := objgen.New(objgen.Config{
		Prefix: cfg.KeyPrefix, KeyMin: cfg.KeyMin, KeyMax: cfg.KeyMax,
		Size: cfg.Size, ExpiryMin: cfg.ExpiryMin, ExpiryMax: cfg.ExpiryMax,
		GaussianMu: cfg.GaussianMu, GaussianSigma: cfg.GaussianSigma, ZipfS: cfg.ZipfS,
		RandomData: cfg.RandomData, DistinctClientSeed: true, Seed: uint64(start.UnixNano()),
	})
	if err != nil {
		return nil, fmt.Errorf("building object generator: %w", err)
	}

	if cfg.TLS.Enabled {
		if _, err := cfg.TLS.Build(); err != nil {
			return nil, fmt.Errorf("building TLS config: %w", err)
		}
	}

	clientCfg := client.Config{
		Ratio:         client.Ratio{A: cfg.Ratio.A, B: cfg.Ratio.B},
		Wait:          client.WaitRatio{A: cfg.Wait.A, B: cfg.Wait.B, NumSlavesMin: cfg.Wait.NumSlavesMin, NumSlavesMax: cfg.Wait.NumSlavesMax, TimeoutMsMin: cfg.Wait.TimeoutMsMin, TimeoutMsMax: cfg.Wait.TimeoutMsMax},
		MultiKeyGet:   cfg.MultiKeyGet,
		Requests:      cfg.Requests,
		TestDuration:  cfg.TestDuration,
		Verify:        cfg.Verify,
		SetIterKind:   cfg.SetPattern,
		GetIterKind:   cfg.GetPattern,
	}

	setupSpec := conn.SetupSpec{
		Username: cfg.Username, Password: cfg.Password, NeedAuth: cfg.Username != "" || cfg.Password != "",
		DB: cfg.DB, NeedSelect: cfg.DB > 0,
		Protover: protoverFor(cfg.Protocol), NeedHello: cfg.Protocol == config.ProtoRESP3,
	}

	r := &runPlan{}
	clientIndex := 0
	for t := 0; t < cfg.Threads; t++ {
		var groups []worker.Group
		for i := 0; i < cfg.ClientsPerThread; i++ {
			gen := baseGen.Clone(clientIndex)
			clientIndex++

			if cfg.Cluster {
				cc, conns, err := buildClusterClient(cfg, clientCfg, gen, start, setupSpec)
				if err != nil {
					return nil, err
				}
				groups = append(groups, worker.Group{Owner: cc, Conns: conns})
				continue
			}

			cl := client.New(clientCfg, gen, start)
			cl.SetSetup(setupSpec)
			codec := newCodec(cfg)
			bucket := newBucket(cfg)
			sc := conn.NewShardConn(0, endpointAddr(cfg), codec, cl, bucket, cfg.PipelineDepth, cfg.ReconnectInterval, reconnectConfig(cfg))
			if cfg.UnixSocket != "" {
				sc.Network = "unix"
			}
			applyTLSConf(sc, cfg)
			cl.AddConn(0, sc)
			groups = append(groups, worker.Group{Owner: cl, Conns: []*conn.ShardConn{sc}})
		}
		r.workers = append(r.workers, worker.New(t, groups, 20*time.Millisecond))
	}
	return r, nil
}

// buildClusterClient bootstraps one ClusterClient against the configured
// seed node, waits for its first CLUSTER SLOTS reply, and opens one
// ShardConn per discovered master shard.
func buildClusterClient(cfg config.Config, clientCfg client.Config, gen *objgen.Generator, start time.Time, setupSpec conn.SetupSpec) (*client.ClusterClient, []*conn.ShardConn, error) {
	cc := client.NewClusterClient(clientCfg, gen, start)
	cc.SetSetup(setupSpec)

	seedAddr := endpointAddr(cfg)
	seedCodec := newCodec(cfg)
	seedConn := conn.NewShardConn(0, seedAddr, seedCodec, cc, newBucket(cfg), cfg.PipelineDepth, 0, conn.ReconnectConfig{})
	applyTLSConf(seedConn, cfg)
	cc.AddShardConn(seedAddr, 0, seedConn)
	if err := seedConn.Connect(); err != nil {
		return nil, nil, fmt.Errorf("cluster bootstrap: %w", err)
	}

	var shards []cluster.Shard
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		shards = cc.Shards()
		if len(shards) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(shards) == 0 {
		return nil, nil, fmt.Errorf("cluster bootstrap: no CLUSTER SLOTS reply from %s within timeout", seedAddr)
	}

	conns := []*conn.ShardConn{seedConn}
	nextID := 1
	for _, shard := range shards {
		addrKey := shard.Key()
		if addrKey == seedAddr {
			continue
		}
		codec := newCodec(cfg)
		sc := conn.NewShardConn(nextID, addrKey, codec, cc, newBucket(cfg), cfg.PipelineDepth, 0, conn.ReconnectConfig{})
		applyTLSConf(sc, cfg)
		cc.AddShardConn(addrKey, nextID, sc)
		if err := sc.Connect(); err != nil {
			return nil, nil, fmt.Errorf("cluster: connecting to shard %s: %w", addrKey, err)
		}
		conns = append(conns, sc)
		nextID++
	}
	return cc, conns, nil
}

func newCodec(cfg config.Config) conn.Codec {
	switch cfg.CodecKind() {
	case config.CodecResp3:
		return conn.NewRespCodec(cfg.Verify)
	case config.CodecMemcacheText:
		return conn.NewMemcacheTextCodec(cfg.Verify)
	case config.CodecMemcacheBinary:
		return conn.NewMemcacheBinaryCodec(cfg.Verify)
	default:
		return conn.NewRespCodec(cfg.Verify)
	}
}

func newBucket(cfg config.Config) *ratelimit.Bucket {
	return ratelimit.New(cfg.RateLimit, nil)
}

func reconnectConfig(cfg config.Config) conn.ReconnectConfig {
	return conn.ReconnectConfig{
		OnError: cfg.ReconnectOnError, MaxAttempts: cfg.MaxReconnectAttempts,
		BackoffFactor: cfg.ReconnectBackoffFactor, InitialBackoff: cfg.ReconnectInitialBackoff,
	}
}

func applyTLSConf(sc *conn.ShardConn, cfg config.Config) {
	if !cfg.TLS.Enabled {
		return
	}
	tlsConf, err := cfg.TLS.Build()
	if err != nil {
		report.Errorf("memtier-bench: building TLS config: %v", err)
		return
	}
	sc.UseTLS = true
	sc.TLSConfig = tlsConf
}

func endpointAddr(cfg config.Config) string {
	if cfg.UnixSocket != "" {
		return cfg.UnixSocket
	}
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

func endpointLabel(cfg config.Config) string {
	if cfg.UnixSocket != "" {
		return "unix:" + cfg.UnixSocket
	}
	return endpointAddr(cfg)
}

func protoverFor(p config.Protocol) int {
	if p == config.ProtoRESP3 {
		return 3
	}
	return 2
}

func parseProtocol(s string) (config.Protocol, error) {
	switch s {
	case "redis", "":
		return config.ProtoRedisDefault, nil
	case "resp2":
		return config.ProtoRESP2, nil
	case "resp3":
		return config.ProtoRESP3, nil
	case "memcache_text":
		return config.ProtoMemcacheText, nil
	case "memcache_binary":
		return config.ProtoMemcacheBinary, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func parseRatio(s string) (config.Ratio, error) {
	a, b, err := parseRatioInts(s)
	if err != nil {
		return config.Ratio{}, err
	}
	return config.Ratio{A: a, B: b}, nil
}

func parseRatioInts(s string) (int, int, error) {
	var a, b int
	if _, err := fmt.Sscanf(s, "%d:%d", &a, &b); err != nil {
		return 0, 0, fmt.Errorf("bad ratio %q, want A:B", s)
	}
	return a, b, nil
}

func parseKeyPattern(s string) (objgen.IteratorKind, objgen.IteratorKind, error) {
	if len(s) != 3 || s[1] != ':' {
		return 0, 0, fmt.Errorf("bad key pattern %q, want one of S,R,G,P,Z on each side of ':'", s)
	}
	setK, err := parsePatternChar(s[0])
	if err != nil {
		return 0, 0, err
	}
	getK, err := parsePatternChar(s[2])
	if err != nil {
		return 0, 0, err
	}
	return setK, getK, nil
}

func parsePatternChar(c byte) (objgen.IteratorKind, error) {
	switch c {
	case 'S':
		return objgen.SetSeq, nil
	case 'G':
		return objgen.GetSeq, nil
	case 'R':
		return objgen.UniformRandom, nil
	case 'P':
		return objgen.GaussianRandom, nil
	case 'Z':
		return objgen.ZipfRandom, nil
	default:
		return 0, fmt.Errorf("unknown key-pattern character %q", string(c))
	}
}

func writeCSVFile(path string, totals stats.Totals) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.WriteCSV(f, totals)
}

func writeJSONFile(path string, totals stats.Totals) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.WriteJSON(f, totals)
}
