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

// Package config is the immutable, parsed configuration data model (§3):
// server endpoint, protocol, TLS, thread/client/pipeline shape, the SET:GET
// and WAIT mixes, key/size/expiry distributions, rate limiting, reconnect
// policy, arbitrary commands, and cluster mode. cmd/memtier-bench builds one
// of these from flags (plus an optional URI) and calls Validate before
// handing it to the rest of the engine.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"memtiergo/internal/objgen"
	"memtiergo/internal/protocol/arbitrary"
	"memtiergo/internal/report"
)

func loadCAFile(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("config: no certificates found in %s", path)
	}
	return pool, nil
}

// Protocol selects the wire dialect a Config's connections speak.
type Protocol int

const (
	ProtoRedisDefault Protocol = iota // RESP2; no HELLO is sent (only ProtoRESP3 sends HELLO 3)
	ProtoRESP2
	ProtoRESP3
	ProtoMemcacheText
	ProtoMemcacheBinary
)

func (p Protocol) String() string {
	switch p {
	case ProtoRESP2:
		return "resp2"
	case ProtoRESP3:
		return "resp3"
	case ProtoMemcacheText:
		return "memcache_text"
	case ProtoMemcacheBinary:
		return "memcache_binary"
	default:
		return "redis_default"
	}
}

// isRESP reports whether p speaks a RESP dialect, used by cluster mode's
// "non-RESP protocols" rejection.
func (p Protocol) isRESP() bool {
	switch p {
	case ProtoRedisDefault, ProtoRESP2, ProtoRESP3:
		return true
	default:
		return false
	}
}

// Ratio is a SET:GET mix, e.g. 1:10.
type Ratio struct {
	A, B int
}

// WaitRatio is the total_set_ops:total_wait_ops ratio plus the num_slaves and
// timeout ranges a WAIT draws from.
type WaitRatio struct {
	A, B                       int
	NumSlavesMin, NumSlavesMax int
	TimeoutMsMin, TimeoutMsMax int
}

// TLSConfig controls whether and how a connection wraps its socket in TLS.
type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	CAFile     string
	SkipVerify bool
	ServerName string
}

// Build constructs a *tls.Config from TLSConfig, or nil if TLS is disabled.
// Certificate loading failures are configuration errors (§7): fatal before
// any connection is attempted.
func (t TLSConfig) Build() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{InsecureSkipVerify: t.SkipVerify, ServerName: t.ServerName}
	if t.CertFile != "" || t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("config: loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if t.CAFile != "" {
		pool, err := loadCAFile(t.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Config is the full immutable configuration for one run.
type Config struct {
	// Endpoint. Exactly one of Host+Port, UnixSocket, or URI should be set;
	// ApplyURI resolves a URI into Host/Port/Username/Password/DB/TLS,
	// warning on any conflict with values already set directly (§6 URI:
	// "conflicts ... resolved in the URI's favor and warned").
	Host       string
	Port       int
	UnixSocket string
	URI        string

	Protocol Protocol
	TLS      TLSConfig

	Username, Password string
	DB                 int

	Threads          int
	ClientsPerThread int
	PipelineDepth    int

	Requests     uint64
	TestDuration time.Duration

	Ratio       Ratio
	Wait        WaitRatio
	MultiKeyGet int

	KeyPrefix              string
	KeyMin, KeyMax         uint64
	SetPattern, GetPattern objgen.IteratorKind
	GaussianMu, GaussianSigma float64
	ZipfS                  float64

	Size                 objgen.SizePolicy
	ExpiryMin, ExpiryMax uint64
	RandomData           bool

	RateLimit int // ops/sec per connection; 0 = unlimited

	ReconnectInterval       int
	ReconnectOnError        bool
	MaxReconnectAttempts    int
	ReconnectBackoffFactor  float64
	ReconnectInitialBackoff time.Duration

	ArbitraryCommands []string

	Cluster         bool
	ScanIncremental bool

	Verify bool
}

// ApplyURI parses a redis://[user:pass@]host[:port][/db] or rediss:// URI
// (delegated to go-redis's URL parser per SPEC_FULL.md §10.C) and overlays
// it onto cfg, warning on every field it overrides that was already set by a
// discrete flag.
func (c *Config) ApplyURI(uri string) error {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return fmt.Errorf("config: parsing URI: %w", err)
	}

	if opts.Network == "unix" {
		if c.UnixSocket != "" && c.UnixSocket != opts.Addr {
			report.Warnf("config: URI unix socket %q overrides --unix-socket %q", opts.Addr, c.UnixSocket)
		}
		c.UnixSocket = opts.Addr
		c.Host, c.Port = "", 0
	} else if opts.Addr != "" {
		host, port, splitErr := splitHostPort(opts.Addr)
		if splitErr != nil {
			return fmt.Errorf("config: URI address %q: %w", opts.Addr, splitErr)
		}
		if c.Host != "" && c.Host != host {
			report.Warnf("config: URI host %q overrides --host %q", host, c.Host)
		}
		if c.Port != 0 && c.Port != port {
			report.Warnf("config: URI port %d overrides --port %d", port, c.Port)
		}
		c.Host, c.Port = host, port
		c.UnixSocket = ""
	}

	if opts.Username != "" {
		if c.Username != "" && c.Username != opts.Username {
			report.Warnf("config: URI username overrides --user")
		}
		c.Username = opts.Username
	}
	if opts.Password != "" {
		if c.Password != "" && c.Password != opts.Password {
			report.Warnf("config: URI password overrides --password")
		}
		c.Password = opts.Password
	}
	if opts.DB != 0 {
		if c.DB != 0 && c.DB != opts.DB {
			report.Warnf("config: URI db %d overrides --db %d", opts.DB, c.DB)
		}
		c.DB = opts.DB
	}
	if opts.TLSConfig != nil {
		c.TLS.Enabled = true
	}
	c.URI = uri
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := splitLastColon(addr)
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("bad port %q: %w", portStr, err)
	}
	return host, port, nil
}

func splitLastColon(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no port in %q", addr)
}

// Validate enforces the range/mutual-exclusion rules of §3 and the cluster
// mode constraints of §4.E. A non-nil error here is a configuration error
// (§7): fatal before any connection is attempted.
func (c *Config) Validate() error {
	if c.Host == "" && c.UnixSocket == "" {
		return fmt.Errorf("config: one of host or unix socket is required")
	}
	if c.Host != "" && c.UnixSocket != "" {
		return fmt.Errorf("config: host and unix socket are mutually exclusive")
	}
	if c.Threads <= 0 {
		return fmt.Errorf("config: threads must be positive, got %d", c.Threads)
	}
	if c.ClientsPerThread <= 0 {
		return fmt.Errorf("config: clients-per-thread must be positive, got %d", c.ClientsPerThread)
	}
	if c.PipelineDepth <= 0 {
		return fmt.Errorf("config: pipeline depth must be positive, got %d", c.PipelineDepth)
	}
	if c.Requests == 0 && c.TestDuration == 0 {
		return fmt.Errorf("config: one of requests or test-duration is required")
	}
	if c.KeyMin >= c.KeyMax {
		return fmt.Errorf("config: key-minimum (%d) must be < key-maximum (%d)", c.KeyMin, c.KeyMax)
	}
	if c.Ratio.A < 0 || c.Ratio.B < 0 || c.Ratio.A+c.Ratio.B == 0 {
		return fmt.Errorf("config: ratio must have at least one non-zero side")
	}

	for i, raw := range c.ArbitraryCommands {
		tmpl, err := arbitrary.Parse(raw)
		if err != nil {
			return fmt.Errorf("config: arbitrary command %d: %w", i, err)
		}
		if c.Cluster && tmpl.KeyCount() > 1 {
			return fmt.Errorf("config: cluster mode rejects arbitrary command %d (%q): more than one __key__", i, tmpl.Name)
		}
	}

	if c.Cluster {
		if c.ReconnectInterval > 0 {
			return fmt.Errorf("config: cluster mode rejects reconnect-interval")
		}
		if c.MultiKeyGet > 1 {
			return fmt.Errorf("config: cluster mode rejects multi-key-get")
		}
		if c.Wait.A > 0 || c.Wait.B > 0 {
			return fmt.Errorf("config: cluster mode rejects wait-ratio")
		}
		if c.UnixSocket != "" {
			return fmt.Errorf("config: cluster mode rejects unix socket")
		}
		if !c.Protocol.isRESP() {
			return fmt.Errorf("config: cluster mode requires a RESP protocol, got %s", c.Protocol)
		}
		if c.DB > 0 {
			return fmt.Errorf("config: cluster mode only supports db 0, got %d", c.DB)
		}
	}

	return nil
}

// CodecKind reports which conn.Codec constructor the endpoint needs,
// resolved from Protocol.
type CodecKind int

const (
	CodecResp2 CodecKind = iota
	CodecResp3
	CodecMemcacheText
	CodecMemcacheBinary
)

func (c *Config) CodecKind() CodecKind {
	switch c.Protocol {
	case ProtoRESP3:
		return CodecResp3
	case ProtoMemcacheText:
		return CodecMemcacheText
	case ProtoMemcacheBinary:
		return CodecMemcacheBinary
	default:
		return CodecResp2
	}
}
