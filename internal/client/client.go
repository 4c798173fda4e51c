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

// Package client implements the non-cluster Client (and its byte-for-byte
// Verify variant) and the Cluster client, both satisfying internal/conn's
// Owner role interface: they decide what to send next, decide when to hold
// the pipeline, and fold completed responses into the stats engine.
package client

import (
	"bytes"
	"math/rand/v2"
	"sync"
	"time"

	"memtiergo/internal/conn"
	"memtiergo/internal/objgen"
	"memtiergo/internal/report"
	"memtiergo/internal/stats"
)

// Ratio is a SET:GET mix, e.g. 1:10.
type Ratio struct {
	A, B int
}

// WaitRatio is the total_set_ops:total_wait_ops ratio, with the num_slaves
// and timeout ranges a WAIT draws from.
type WaitRatio struct {
	A, B                   int
	NumSlavesMin, NumSlavesMax int
	TimeoutMsMin, TimeoutMsMax int
}

// Config is one Client's immutable share of the run configuration.
type Config struct {
	Ratio        Ratio
	Wait         WaitRatio
	MultiKeyGet  int // 0 or 1 disables MGET batching
	Requests     uint64 // 0 disables the request-count stop condition
	TestDuration time.Duration // 0 disables the wall-clock stop condition
	PerConnBudget int // hold_pipeline's per-connection generated-request budget; 0 = unbounded
	Verify       bool

	// SetIterKind/GetIterKind select which objgen iterator the SET and GET
	// sides of the mix draw from (key-pattern, e.g. "S:S", "R:G"). The zero
	// value of GetIterKind is objgen.SetSeq, which no caller ever wants for
	// the GET side, so it is special-cased by getIterKind to mean
	// objgen.GetSeq — every existing Config{} literal that never set this
	// field keeps behaving exactly as before this field was added.
	SetIterKind objgen.IteratorKind
	GetIterKind objgen.IteratorKind
}

func (c Config) getIterKind() objgen.IteratorKind {
	if c.GetIterKind == objgen.SetSeq {
		return objgen.GetSeq
	}
	return c.GetIterKind
}

// Client owns one logical client's generator, stats engine, and mix-selection
// state. It implements conn.Owner; a *conn.ShardConn (or several, for a
// multi-connection client) is constructed with it as owner.
//
// mu guards every field below the blank line: a client with more than one
// connection (and ClusterClient always has one per shard) drives them from
// one goroutine per connection, all calling into the same Client
// concurrently, and neither the ratio counters, the generator, nor the rng
// are safe for unsynchronized concurrent use.
type Client struct {
	cfg   Config
	gen   *objgen.Generator
	stats *stats.Engine
	rng   *rand.Rand

	start time.Time

	mu sync.Mutex

	setRatioCount uint64
	getRatioCount uint64
	totalSetOps   uint64
	totalWaitOps  uint64

	processed         uint64
	generatedThisConn map[int]int

	verifiedKeys uint64
	verifyErrors uint64

	finished bool

	conns     map[int]*conn.ShardConn
	setupSpec conn.SetupSpec
}

// AddConn registers a shard connection this client drives. Most clients have
// exactly one; the cluster client registers one per shard, including live
// during a run as CLUSTER SLOTS reshapes the topology.
func (c *Client) AddConn(id int, sc *conn.ShardConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns == nil {
		c.conns = make(map[int]*conn.ShardConn)
	}
	c.conns[id] = sc
}

// SetSetup configures which setup commands Connect should issue; run-wide
// decisions (AUTH/SELECT/HELLO) are threaded in by the caller that owns the
// parsed Configuration, not decided by the client itself.
func (c *Client) SetSetup(spec conn.SetupSpec) { c.setupSpec = spec }

// VerifiedKeys and VerifyErrors expose the verify client's tallies.
func (c *Client) VerifiedKeys() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifiedKeys
}
func (c *Client) VerifyErrors() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyErrors
}

// New constructs a Client. start anchors both the stats engine and the
// test-duration stop condition.
func New(cfg Config, gen *objgen.Generator, start time.Time) *Client {
	return &Client{
		cfg:               cfg,
		gen:               gen,
		stats:             stats.NewEngine(start),
		rng:               rand.New(rand.NewPCG(seedFromTime(start), 0)),
		start:             start,
		generatedThisConn: make(map[int]int),
	}
}

func seedFromTime(t time.Time) uint64 {
	return uint64(t.UnixNano())
}

// Stats exposes the client's stats engine (for periodic live reads and for
// the final merge).
func (c *Client) Stats() *stats.Engine { return c.stats }

// Finished implements conn.Owner: true once the request-count or wall-clock
// stop condition is reached.
func (c *Client) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return true
	}
	if c.cfg.Requests > 0 && c.processed >= c.cfg.Requests {
		c.finished = true
		return true
	}
	if c.cfg.TestDuration > 0 && time.Since(c.start) >= c.cfg.TestDuration {
		c.finished = true
		return true
	}
	return false
}

// HoldPipeline implements conn.Owner's per-connection generated-request
// budget half of hold_pipeline (the reconnect-interval half lives in
// conn.ShardConn itself).
func (c *Client) HoldPipeline(connID int) bool {
	if c.cfg.PerConnBudget <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generatedThisConn[connID] >= c.cfg.PerConnBudget
}

// SetupConfig implements conn.Owner. Non-cluster clients never request
// CLUSTER SLOTS; ClusterClient overrides this to turn NeedClusterSlots on.
func (c *Client) SetupConfig() conn.SetupSpec {
	return c.setupSpec
}

// CreateRequest implements conn.Owner's create_request policy (§4.D):
// WAIT ratio check first, then SET ratio, then GET ratio, else reset. Loops
// internally (rather than recursing) past verify-mode GET positions, which
// advance the iterator without putting anything on the wire.
func (c *Client) CreateRequest(now time.Time, connID int) bool {
	for {
		sent, loopAgain := c.createRequestOnce(now, connID)
		if !loopAgain {
			return sent
		}
	}
}

func (c *Client) createRequestOnce(now time.Time, connID int) (sent bool, loopAgain bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.conns[connID]
	if !ok {
		return false, false
	}

	if c.cfg.Wait.A > 0 || c.cfg.Wait.B > 0 {
		waitDue := c.totalWaitOps == 0
		if c.totalWaitOps > 0 {
			waitDue = float64(c.totalSetOps)/float64(c.totalWaitOps) > float64(c.cfg.Wait.A)/float64(c.cfg.Wait.B)
		}
		if waitDue {
			numSlaves := c.cfg.Wait.NumSlavesMin
			if c.cfg.Wait.NumSlavesMax > c.cfg.Wait.NumSlavesMin {
				numSlaves = c.cfg.Wait.NumSlavesMin + int(c.rng.IntN(c.cfg.Wait.NumSlavesMax-c.cfg.Wait.NumSlavesMin+1))
			}
			timeoutMs := gaussianInRange(c.rng, c.cfg.Wait.TimeoutMsMin, c.cfg.Wait.TimeoutMsMax)
			if err := sc.SendWait(numSlaves, timeoutMs); err != nil {
				return false, false
			}
			c.totalWaitOps++
			c.generatedThisConn[connID]++
			return true, false
		}
	}

	if c.setRatioCount < uint64(c.cfg.Ratio.A) {
		obj := c.gen.GetObject(c.cfg.SetIterKind)
		c.setRatioCount++
		c.totalSetOps++
		c.generatedThisConn[connID]++
		if c.cfg.Verify {
			// Verify what the original run's SET would have written,
			// instead of writing it again.
			sc.SendVerifyGet(obj.Key, obj.Value)
			return true, false
		}
		sc.SendSet(obj.Key, obj.Value, obj.Expiry)
		return true, false
	}

	if c.getRatioCount < uint64(c.cfg.Ratio.B) {
		remaining := uint64(c.cfg.Ratio.B) - c.getRatioCount
		getKind := c.cfg.getIterKind()
		if c.cfg.Verify {
			// Non-SET positions have no known expected value to verify
			// against; just advance the iterator to stay aligned with the
			// original run, without putting anything on the wire.
			c.gen.GetKey(getKind)
			c.getRatioCount++
			return false, true
		}
		if c.cfg.MultiKeyGet > 1 {
			batch := uint64(c.cfg.MultiKeyGet)
			if batch > remaining {
				batch = remaining
			}
			keys := make([][]byte, 0, batch)
			for i := uint64(0); i < batch; i++ {
				key, _ := c.gen.GetKey(getKind)
				keys = append(keys, key)
			}
			if err := sc.SendMGet(keys); err != nil {
				return false, false
			}
			c.getRatioCount += batch
			c.generatedThisConn[connID]++
			return true, false
		}
		key, _ := c.gen.GetKey(getKind)
		sc.SendGet(key)
		c.getRatioCount++
		c.generatedThisConn[connID]++
		return true, false
	}

	c.setRatioCount = 0
	c.getRatioCount = 0
	return false, false
}

// gaussianInRange draws a value centered between lo and hi, clamped to the
// range; sigma is a sixth of the range so ~99.7% of draws land inside it.
func gaussianInRange(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	mu := float64(lo+hi) / 2
	sigma := float64(hi-lo) / 6
	v := rng.NormFloat64()*sigma + mu
	if v < float64(lo) {
		v = float64(lo)
	}
	if v > float64(hi) {
		v = float64(hi)
	}
	return int(v)
}

// HandleResponse implements conn.Owner: fold one completed response into the
// stats engine, or into the verify client's byte comparison.
func (c *Client) HandleResponse(connID int, now time.Time, req conn.Request, pr *conn.ParsedResponse) {
	c.mu.Lock()
	c.processed++
	c.mu.Unlock()
	kind := kindName(req)
	latencyUs := now.Sub(req.SentAt).Microseconds()

	if req.Kind == conn.KindVerifyGet {
		c.handleVerify(req, pr)
		return
	}

	if pr.IsError {
		report.Errorf("client: %s error on conn %d: %s", kind, connID, pr.ErrorMsg)
		c.stats.RecordError(kind, now)
		return
	}

	nbytes := pr.TotalLen + req.Size
	hits := pr.Hits
	misses := req.KeyCount - pr.Hits
	if misses < 0 {
		misses = 0
	}
	c.stats.RecordOp(kind, now, nbytes, latencyUs, hits, misses, stats.MarkerNormal)
}

// handleVerify compares resp.value to req.expected_value byte-for-byte (§4.D):
// on mismatch increment errors, else verified_keys.
func (c *Client) handleVerify(req conn.Request, pr *conn.ParsedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pr.IsError || !bytes.Equal(pr.Value, req.ExpectedValue) {
		c.verifyErrors++
		return
	}
	c.verifiedKeys++
}

// HandleClusterSlotsReply implements conn.Owner. The plain Client never asks
// for CLUSTER SLOTS, so this is unreachable in practice.
func (c *Client) HandleClusterSlotsReply(connID int, tree interface{}) {}

func kindName(req conn.Request) string {
	switch req.Kind {
	case conn.KindSet:
		return stats.KindSet
	case conn.KindGet, conn.KindMGet, conn.KindVerifyGet:
		return stats.KindGet
	case conn.KindWait:
		return stats.KindWait
	case conn.KindArbitrary:
		return stats.ArbKind(req.ArbitraryIdx)
	default:
		return "OTHER"
	}
}
