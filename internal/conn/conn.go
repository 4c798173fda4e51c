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

package conn

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"memtiergo/internal/ratelimit"
	"memtiergo/internal/report"
)

// State is the connection's top-level lifecycle state.
type State int

const (
	Disconnected State = iota
	InProgress
	Connected
	SetupFailed
)

// SetupState tracks one setup command's progress.
type SetupState int

const (
	SetupNone SetupState = iota
	SetupSent
	SetupDone
)

// RequestKind classifies a pipelined request for response dispatch.
type RequestKind int

const (
	KindSet RequestKind = iota
	KindGet
	KindMGet
	KindWait
	KindVerifyGet
	KindArbitrary
	KindAuth
	KindSelectDB
	KindHello
	KindClusterSlots
)

// Request is one FIFO pipeline entry: created at send time, destroyed when
// its matching response is handled or the connection is dropped.
type Request struct {
	Kind         RequestKind
	SentAt       time.Time
	Size         int
	KeyCount     int // number of keys requested (MGET batches several)
	ArbitraryIdx int
	ExpectedValue []byte // verify_request payload
	ExpectedKey   []byte
}

// Owner is the narrow role interface a ShardConn calls back into — the
// idiomatic equivalent of the source's connections_manager abstract base.
// Client and ClusterClient implement it.
type Owner interface {
	Finished() bool
	HoldPipeline(connID int) bool
	// CreateRequest asks the owner to decide and send the next command on
	// connID (through the ShardConn the owner registered under that ID). It
	// returns false when the owner had nothing to send this call.
	CreateRequest(now time.Time, connID int) bool
	HandleResponse(connID int, now time.Time, req Request, resp *ParsedResponse)
	HandleClusterSlotsReply(connID int, tree interface{})
	// SetupConfig reports which setup commands this owner wants, in order;
	// entries the codec doesn't support are skipped by the connection.
	SetupConfig() SetupSpec
}

// SetupSpec describes which optional setup commands a client wants issued
// right after connect, in AUTH -> SELECT_DB -> HELLO -> CLUSTER_SLOTS order.
type SetupSpec struct {
	Username, Password string
	NeedAuth            bool
	DB                  int
	NeedSelect          bool
	Protover            int
	NeedHello           bool
	NeedClusterSlots    bool
}

// ReconnectConfig configures the reconnect supervisor (§4.I).
type ReconnectConfig struct {
	OnError        bool
	MaxAttempts    int // 0 = unlimited
	BackoffFactor  float64
	InitialBackoff time.Duration
}

// ShardConn owns one duplex byte stream and the pipeline/state machine
// layered over it.
type ShardConn struct {
	ID    int
	Addr  string
	// Network is the dial network: "tcp" (default, zero value) or "unix" for
	// a Unix domain socket endpoint (§3's unix-socket option; mutually
	// exclusive with cluster mode, enforced by config.Validate).
	Network string
	UseTLS    bool
	TLSConfig *tls.Config

	codec Codec
	owner Owner
	bucket *ratelimit.Bucket

	pipelineDepth     int
	reconnectInterval int

	reconnect ReconnectConfig

	mu                     sync.Mutex
	state                  State
	pipeline               []Request
	setupAuth, setupSelect, setupHello, setupClusterSlots SetupState
	processedSinceConnect  int
	attempts               int
	backoff                time.Duration

	netConn net.Conn
	readBuf []byte

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewShardConn constructs a ShardConn in the Disconnected state.
func NewShardConn(id int, addr string, codec Codec, owner Owner, bucket *ratelimit.Bucket, pipelineDepth, reconnectInterval int, rc ReconnectConfig) *ShardConn {
	return &ShardConn{
		ID:                id,
		Addr:              addr,
		codec:             codec,
		owner:             owner,
		bucket:            bucket,
		pipelineDepth:     pipelineDepth,
		reconnectInterval: reconnectInterval,
		reconnect:         rc,
		backoff:           rc.InitialBackoff,
		stopChan:          make(chan struct{}),
	}
}

// State returns the current connection state (test/introspection use).
func (c *ShardConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PipelineLen returns the current number of in-flight requests.
func (c *ShardConn) PipelineLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pipeline)
}

// Connect dials Addr, transitions Disconnected->InProgress->Connected, and
// starts the read loop. On success it issues setup commands (if any are
// pending) or fills the pipeline directly.
func (c *ShardConn) Connect() error {
	c.mu.Lock()
	c.state = InProgress
	c.mu.Unlock()

	network := c.Network
	if network == "" {
		network = "tcp"
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	var nc net.Conn
	var err error
	if c.UseTLS {
		nc, err = tls.DialWithDialer(&dialer, network, c.Addr, c.TLSConfig)
	} else {
		nc, err = dialer.Dial(network, c.Addr)
	}
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("conn: dial %s: %w", c.Addr, err)
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetLinger(0)
	}

	c.mu.Lock()
	c.netConn = nc
	c.state = Connected
	c.processedSinceConnect = 0
	spec := c.owner.SetupConfig()
	c.setupAuth = stateFor(spec.NeedAuth)
	c.setupSelect = stateFor(spec.NeedSelect)
	c.setupHello = stateFor(spec.NeedHello)
	c.setupClusterSlots = stateFor(spec.NeedClusterSlots)
	c.mu.Unlock()

	c.attempts = 0
	c.backoff = c.reconnect.InitialBackoff

	c.wg.Add(1)
	go c.readLoop()

	c.FillPipeline()
	return nil
}

func stateFor(need bool) SetupState {
	if need {
		return SetupNone
	}
	return SetupDone
}

// Disconnect tears down the socket, drops in-flight requests (counted as
// losses by the caller via the returned slice), and marks every setup step
// Done until the next Connect, which re-derives the setup states from the
// owner's SetupConfig and so issues the configured setup commands again.
func (c *ShardConn) Disconnect() []Request {
	c.mu.Lock()
	lost := c.pipeline
	c.pipeline = nil
	c.state = Disconnected
	c.setupAuth, c.setupSelect, c.setupHello, c.setupClusterSlots = SetupDone, SetupDone, SetupDone, SetupDone
	nc := c.netConn
	c.netConn = nil
	c.mu.Unlock()

	if nc != nil {
		_ = nc.Close()
	}
	if c.bucket != nil {
		c.bucket.Stop()
	}
	return lost
}

// Close permanently shuts the connection down (thread shutdown).
func (c *ShardConn) Close() {
	close(c.stopChan)
	c.Disconnect()
	c.wg.Wait()
}

func (c *ShardConn) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		c.mu.Lock()
		nc := c.netConn
		c.mu.Unlock()
		if nc == nil {
			return
		}
		n, err := nc.Read(buf)
		if n > 0 {
			c.processResponses(buf[:n])
		}
		if err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}
			c.onConnectionError(err)
			return
		}
	}
}

// processResponses feeds newly-read bytes to the codec and dispatches every
// complete response in FIFO order against the pipeline.
func (c *ShardConn) processResponses(data []byte) {
	first := true
	for {
		var feed []byte
		if first {
			feed = data
			first = false
		}
		pr, err := c.codec.Feed(feed)
		if err == ErrNeedMore {
			return
		}
		if err != nil {
			report.Errorf("conn %d: parse error (pipeline_pos=%d): %v", c.ID, c.PipelineLen(), err)
			c.onConnectionError(err)
			return
		}
		c.dispatch(pr)
	}
}

func (c *ShardConn) dispatch(pr *ParsedResponse) {
	c.mu.Lock()
	if len(c.pipeline) == 0 {
		c.mu.Unlock()
		return
	}
	req := c.pipeline[0]
	c.pipeline = c.pipeline[1:]
	c.processedSinceConnect++
	processed := c.processedSinceConnect
	c.mu.Unlock()

	now := time.Now()
	switch req.Kind {
	case KindAuth, KindSelectDB, KindHello:
		if pr.IsError {
			report.Errorf("conn %d: setup command failed: %s", c.ID, pr.ErrorMsg)
			c.mu.Lock()
			c.state = SetupFailed
			c.mu.Unlock()
			return
		}
		c.markSetupDone(req.Kind)
	case KindClusterSlots:
		if !pr.IsError && pr.ClusterSlotsTree != nil {
			c.owner.HandleClusterSlotsReply(c.ID, pr.ClusterSlotsTree)
		}
		c.markSetupDone(req.Kind)
		if rc, ok := c.codec.(*RespCodec); ok {
			rc.SetKeepValue(false)
		}
	default:
		c.owner.HandleResponse(c.ID, now, req, pr)
	}

	if c.reconnectInterval > 0 && processed%c.reconnectInterval == 0 {
		c.Disconnect()
		go c.reconnectWithBackoff()
		return
	}
	c.FillPipeline()
}

func (c *ShardConn) markSetupDone(kind RequestKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindAuth:
		c.setupAuth = SetupDone
	case KindSelectDB:
		c.setupSelect = SetupDone
	case KindHello:
		c.setupHello = SetupDone
	case KindClusterSlots:
		c.setupClusterSlots = SetupDone
	}
}

// RequestClusterSlotsRefresh marks CLUSTER SLOTS as pending again without a
// full reconnect, per §4.E's MOVED handling: the owner clears its pool and
// asks for a fresh topology read on this same connection.
func (c *ShardConn) RequestClusterSlotsRefresh() {
	c.mu.Lock()
	c.setupClusterSlots = SetupNone
	c.mu.Unlock()
	c.FillPipeline()
}

// nextSetupCommand returns the next pending setup step in AUTH -> SELECT_DB
// -> HELLO -> CLUSTER_SLOTS order, or none if all are Done.
func (c *ShardConn) nextSetupCommand() (RequestKind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setupAuth == SetupNone {
		return KindAuth, true
	}
	if c.setupSelect == SetupNone {
		return KindSelectDB, true
	}
	if c.setupHello == SetupNone {
		return KindHello, true
	}
	if c.setupClusterSlots == SetupNone {
		return KindClusterSlots, true
	}
	return 0, false
}

// reconnectBoundaryHeld implements hold_pipeline's reconnect-interval half:
// issuing one more request must not cross the next reconnect boundary, so
// the pipeline is held (not refilled) once the in-flight count would reach
// it, letting the pipeline drain to empty exactly at the Nth processed
// response before reconnecting.
func (c *ShardConn) reconnectBoundaryHeld() bool {
	if c.reconnectInterval <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processedSinceConnect+len(c.pipeline) >= c.reconnectInterval
}

// FillPipeline implements fill_pipeline: while the owner isn't finished and
// |pipeline| < P, issue setup commands first, then defer to the owner's
// hold_pipeline and the rate limiter, then ask the owner to create a
// request.
func (c *ShardConn) FillPipeline() {
	for {
		if c.owner.Finished() {
			return
		}
		if c.PipelineLen() >= c.pipelineDepth {
			return
		}
		if kind, ok := c.nextSetupCommand(); ok {
			c.issueSetup(kind)
			continue
		}
		if c.owner.HoldPipeline(c.ID) || c.reconnectBoundaryHeld() {
			return
		}
		if c.bucket != nil && !c.bucket.Take() {
			return
		}
		if !c.owner.CreateRequest(time.Now(), c.ID) {
			return
		}
	}
}

func (c *ShardConn) issueSetup(kind RequestKind) {
	spec := c.owner.SetupConfig()
	var buf bytes.Buffer
	var err error
	switch kind {
	case KindAuth:
		err = c.codec.EncodeAuth(&buf, spec.Username, spec.Password)
	case KindSelectDB:
		err = c.codec.EncodeSelect(&buf, spec.DB)
	case KindHello:
		err = c.codec.EncodeHello(&buf, spec.Protover)
	case KindClusterSlots:
		if rc, ok := c.codec.(*RespCodec); ok {
			rc.SetKeepValue(true)
		}
		err = c.codec.EncodeClusterSlots(&buf)
	}
	if err != nil {
		// The codec doesn't support this setup step; treat it as already done.
		c.markSetupDone(kind)
		return
	}
	c.writeAndEnqueue(buf.Bytes(), Request{Kind: kind, SentAt: time.Now(), Size: buf.Len()})
	c.markSetupSent(kind)
}

func (c *ShardConn) markSetupSent(kind RequestKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindAuth:
		c.setupAuth = SetupSent
	case KindSelectDB:
		c.setupSelect = SetupSent
	case KindHello:
		c.setupHello = SetupSent
	case KindClusterSlots:
		c.setupClusterSlots = SetupSent
	}
}

// writeAndEnqueue appends wire to the socket and pushes req onto the
// pipeline in the same call, matching send_*_command's atomicity contract.
func (c *ShardConn) writeAndEnqueue(wire []byte, req Request) {
	c.mu.Lock()
	nc := c.netConn
	c.mu.Unlock()
	if nc == nil {
		return
	}
	if _, err := nc.Write(wire); err != nil {
		c.onConnectionError(err)
		return
	}
	c.mu.Lock()
	c.pipeline = append(c.pipeline, req)
	c.mu.Unlock()
}

// SendSet encodes and enqueues a SET request.
func (c *ShardConn) SendSet(key, value []byte, expirySeconds uint64) {
	var buf bytes.Buffer
	c.codec.EncodeSet(&buf, key, value, expirySeconds)
	c.writeAndEnqueue(buf.Bytes(), Request{Kind: KindSet, SentAt: time.Now(), Size: buf.Len(), KeyCount: 1})
}

// SendGet encodes and enqueues a GET request.
func (c *ShardConn) SendGet(key []byte) {
	var buf bytes.Buffer
	c.codec.EncodeGet(&buf, key)
	c.writeAndEnqueue(buf.Bytes(), Request{Kind: KindGet, SentAt: time.Now(), Size: buf.Len(), KeyCount: 1})
}

// SendMGet encodes and enqueues a single MGET request batching all of keys.
func (c *ShardConn) SendMGet(keys [][]byte) error {
	var buf bytes.Buffer
	if err := c.codec.EncodeMGet(&buf, keys); err != nil {
		return err
	}
	c.writeAndEnqueue(buf.Bytes(), Request{Kind: KindMGet, SentAt: time.Now(), Size: buf.Len(), KeyCount: len(keys)})
	return nil
}

// SendWait encodes and enqueues a WAIT request.
func (c *ShardConn) SendWait(numReplicas, timeoutMillis int) error {
	var buf bytes.Buffer
	if err := c.codec.EncodeWait(&buf, numReplicas, timeoutMillis); err != nil {
		return err
	}
	c.writeAndEnqueue(buf.Bytes(), Request{Kind: KindWait, SentAt: time.Now(), Size: buf.Len()})
	return nil
}

// SendVerifyGet encodes and enqueues a GET request carrying the expected
// value for the verify client's byte-for-byte comparison.
func (c *ShardConn) SendVerifyGet(key, expectedValue []byte) {
	var buf bytes.Buffer
	c.codec.EncodeGet(&buf, key)
	c.writeAndEnqueue(buf.Bytes(), Request{Kind: KindVerifyGet, SentAt: time.Now(), Size: buf.Len(), KeyCount: 1, ExpectedKey: key, ExpectedValue: expectedValue})
}

// SendRaw enqueues pre-encoded bytes (used by the arbitrary-command path,
// whose formatting lives in internal/protocol/arbitrary) as an Arbitrary
// request.
func (c *ShardConn) SendRaw(wire []byte, kind RequestKind, arbitraryIdx int) {
	c.writeAndEnqueue(wire, Request{Kind: kind, SentAt: time.Now(), Size: len(wire), ArbitraryIdx: arbitraryIdx})
}

func (c *ShardConn) onConnectionError(err error) {
	c.Disconnect()
	if !c.reconnect.OnError {
		report.Errorf("conn %d: connection error, reconnect disabled: %v", c.ID, err)
		return
	}
	go c.reconnectWithBackoff()
}

// reconnectWithBackoff implements the reconnect supervisor (§4.I):
// exponential backoff multiplied by BackoffFactor each failed attempt, up to
// MaxAttempts (0 = unlimited). Success resets attempts and backoff.
func (c *ShardConn) reconnectWithBackoff() {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if c.reconnect.MaxAttempts > 0 && attempt > c.reconnect.MaxAttempts {
		report.Errorf("conn %d: exhausted %d reconnect attempts", c.ID, c.reconnect.MaxAttempts)
		return
	}

	wait := c.backoff
	if wait <= 0 {
		wait = time.Second
	}
	timer := time.NewTimer(wait)
	select {
	case <-timer.C:
	case <-c.stopChan:
		timer.Stop()
		return
	}

	c.mu.Lock()
	factor := c.reconnect.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	c.backoff = time.Duration(float64(c.backoff) * factor)
	c.mu.Unlock()

	if err := c.Connect(); err != nil {
		report.Errorf("conn %d: reconnect attempt %d failed: %v", c.ID, attempt, err)
		go c.reconnectWithBackoff()
		return
	}
	c.mu.Lock()
	c.attempts = 0
	c.backoff = c.reconnect.InitialBackoff
	c.mu.Unlock()
}
