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

package client

import (
	"time"

	"memtiergo/internal/cluster"
	"memtiergo/internal/conn"
	"memtiergo/internal/objgen"
	"memtiergo/internal/protocol/resp"
	"memtiergo/internal/report"
	"memtiergo/internal/stats"
)

// pendingOp is what ClusterClient's own side table remembers about a key
// deposited into another shard's pool: the cluster.KeyPool entry only
// carries the key and an opaque index (§4.E), so the SET/GET distinction and
// a SET's value/expiry live here, addressed by that same index.
type pendingOp struct {
	isSet  bool
	value  []byte
	expiry uint64
}

// ClusterClient extends Client with hash-slot routing, one ShardConn per
// master, and MOVED/ASK handling (§4.E). It embeds *Client to reuse
// Finished/HoldPipeline/stats bookkeeping and shadows CreateRequest,
// HandleResponse, HandleClusterSlotsReply, and SetupConfig.
//
// It has no mutex of its own: every field below, and every field of the
// embedded Client, is guarded by the embedded Client's own mu. One shard's
// ShardConn never knows about another's goroutine, so all of this state
// (slot map, pools, ratio counters, the object generator) must serialize
// through a single lock shared across every shard connection.
type ClusterClient struct {
	*Client

	slotMap   *cluster.SlotMap
	pool      *cluster.KeyPool
	connByKey map[string]int // shard "addr:port" -> connID
	keyByConn map[int]string

	pendingSeq  int
	pendingMeta map[int]pendingOp

	slotsInFlight map[int]bool // connID -> already mid a CLUSTER SLOTS round-trip
}

// NewClusterClient constructs a ClusterClient. The caller still owns dialing
// and must call AddShardConn once per shard after each CLUSTER SLOTS
// refresh; the very first connection (bootstrapped before any topology is
// known) is added the same way under a synthetic addr key.
func NewClusterClient(cfg Config, gen *objgen.Generator, start time.Time) *ClusterClient {
	return &ClusterClient{
		Client:        New(cfg, gen, start),
		pool:          cluster.NewKeyPool(),
		connByKey:     make(map[string]int),
		keyByConn:     make(map[int]string),
		pendingMeta:   make(map[int]pendingOp),
		slotsInFlight: make(map[int]bool),
	}
}

// AddShardConn registers sc as the connection for shard addrKey ("host:port"),
// assigning it connID. Call again with the same addrKey after a topology
// refresh keeps an existing connection; a new addrKey opens a new one.
func (cc *ClusterClient) AddShardConn(addrKey string, connID int, sc *conn.ShardConn) {
	cc.mu.Lock()
	cc.connByKey[addrKey] = connID
	cc.keyByConn[connID] = addrKey
	cc.mu.Unlock()
	cc.AddConn(connID, sc)
}

// SetupConfig implements conn.Owner: cluster connections always request
// CLUSTER SLOTS in addition to whatever AUTH/SELECT/HELLO the run-wide
// configuration asks for (SELECT is never needed: cluster mode only
// supports db 0, enforced by configuration validation).
func (cc *ClusterClient) SetupConfig() conn.SetupSpec {
	spec := cc.Client.SetupConfig()
	spec.NeedClusterSlots = true
	return spec
}

// HandleClusterSlotsReply implements conn.Owner: parse the nested multi-bulk
// tree into shards and rebuild the slot map. It opens and closes no
// connections: cmd/memtier-bench reads Shards() once, after the first reply,
// and calls AddShardConn for each shard it dials. Later replies only replace
// the slot map; connections to shards they no longer cover stay open, and
// nothing calls RemoveShardConn.
func (cc *ClusterClient) HandleClusterSlotsReply(connID int, tree interface{}) {
	node, ok := tree.(*resp.Node)
	if !ok {
		report.Errorf("client: CLUSTER SLOTS reply had unexpected tree type %T", tree)
		return
	}
	shards, err := cluster.ParseClusterSlots(node)
	if err != nil {
		report.Errorf("client: %v", err)
		return
	}
	cc.mu.Lock()
	cc.slotMap = cluster.NewSlotMap(shards)
	delete(cc.slotsInFlight, connID)
	cc.mu.Unlock()
	cc.pool.SetSetupInProgress(connID, false)
}

// Shards returns the most recently parsed topology, for the caller's
// connection-reconciliation sweep.
func (cc *ClusterClient) Shards() []cluster.Shard {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.slotMap == nil {
		return nil
	}
	return cc.slotMap.Shards()
}

// RemoveShardConn drops bookkeeping for a shard no longer covered by the
// topology; the caller is responsible for calling sc.Close() first.
func (cc *ClusterClient) RemoveShardConn(addrKey string) {
	cc.mu.Lock()
	connID, ok := cc.connByKey[addrKey]
	delete(cc.connByKey, addrKey)
	delete(cc.keyByConn, connID)
	if ok {
		delete(cc.conns, connID)
	}
	cc.mu.Unlock()
	if ok {
		cc.pool.Clear(connID)
	}
}

// MarkShardSetupInProgress flags/unflags a shard's pool as mid-CLUSTER-SLOTS,
// per get_key_for_conn's NotAvailable case.
func (cc *ClusterClient) MarkShardSetupInProgress(connID int, inProgress bool) {
	cc.pool.SetSetupInProgress(connID, inProgress)
}

// CreateRequest implements conn.Owner for cluster mode: drain connID's own
// key pool first, then route freshly-generated keys to the connection that
// owns their slot, depositing on another shard's pool when this isn't it.
//
// Unlike the single-connection Client, one ClusterClient is shared by every
// shard's ShardConn, each driven by its own goroutine; the ratio counters
// and the object generator are not safe for concurrent use, so the whole
// routing decision runs under cc.mu rather than just the map lookups.
func (cc *ClusterClient) CreateRequest(now time.Time, connID int) bool {
	cc.mu.Lock()
	sc, ok := cc.conns[connID]
	cc.mu.Unlock()
	if !ok {
		return false
	}

	if pk, ok := cc.pool.Take(connID); ok {
		meta, hasMeta := cc.takeMeta(pk.CmdIdx)
		if hasMeta && meta.isSet {
			sc.SendSet(pk.Key, meta.value, meta.expiry)
		} else {
			sc.SendGet(pk.Key)
		}
		cc.mu.Lock()
		cc.generatedThisConn[connID]++
		cc.mu.Unlock()
		return true
	}

	cc.mu.Lock()
	sm := cc.slotMap
	if sm == nil {
		cc.mu.Unlock()
		// Topology not yet known; nothing to route.
		return false
	}

	isSet := cc.setRatioCount < uint64(cc.cfg.Ratio.A)
	if !isSet && cc.getRatioCount >= uint64(cc.cfg.Ratio.B) {
		// Both sides of the ratio are used up: start a new round and pick
		// its first command in this same call.
		cc.setRatioCount = 0
		cc.getRatioCount = 0
		isSet = cc.cfg.Ratio.A > 0
	}

	var obj objgen.Object
	if isSet {
		obj = cc.gen.GetObject(cc.cfg.SetIterKind)
	} else {
		key, _ := cc.gen.GetKey(cc.cfg.getIterKind())
		obj = objgen.Object{Key: key}
	}

	shard, covered := sm.ShardForKey(obj.Key)
	if !covered {
		// Uncovered slot range; drop this position rather than block.
		cc.advanceRatioLocked(isSet)
		cc.mu.Unlock()
		return false
	}

	targetConn, known := cc.connByKey[shard.Key()]
	if !known {
		cc.advanceRatioLocked(isSet)
		cc.mu.Unlock()
		return false
	}

	if targetConn == connID {
		cc.generatedThisConn[connID]++
		cc.advanceRatioLocked(isSet)
		cc.mu.Unlock()
		if isSet {
			sc.SendSet(obj.Key, obj.Value, obj.Expiry)
		} else {
			sc.SendGet(obj.Key)
		}
		return true
	}

	cc.pendingSeq++
	idx := cc.pendingSeq
	cc.pendingMeta[idx] = pendingOp{isSet: isSet, value: obj.Value, expiry: obj.Expiry}
	cc.advanceRatioLocked(isSet)
	targetSc := cc.conns[targetConn]
	cc.mu.Unlock()

	deposited := cc.pool.Deposit(targetConn, obj.Key, idx)
	if !deposited {
		report.Warnf("client: shard pool for conn %d full, dropping key", targetConn)
	}

	// The target shard's own connection has no other reason to notice a key
	// was just pooled for it; nudge its pipeline now instead of waiting on
	// traffic of its own to trigger the next fill_pipeline.
	if deposited && targetSc != nil {
		targetSc.FillPipeline()
	}
	return true
}

// advanceRatioLocked requires cc.mu to already be held.
func (cc *ClusterClient) advanceRatioLocked(wasSet bool) {
	if wasSet {
		cc.setRatioCount++
		cc.totalSetOps++
		return
	}
	cc.getRatioCount++
}

func (cc *ClusterClient) takeMeta(idx int) (pendingOp, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	op, ok := cc.pendingMeta[idx]
	delete(cc.pendingMeta, idx)
	return op, ok
}

// HandleResponse implements conn.Owner for cluster mode: MOVED/ASK are
// intercepted before falling through to the base Client's ordinary
// accounting (§4.E).
func (cc *ClusterClient) HandleResponse(connID int, now time.Time, req conn.Request, pr *conn.ParsedResponse) {
	if pr.IsError {
		switch classifyRedirect(pr.ErrorMsg) {
		case redirectMoved:
			cc.stats.RecordOp(kindName(req), now, pr.TotalLen+req.Size, 0, 0, 0, stats.MarkerMoved)
			cc.mu.Lock()
			cc.processed++
			alreadyInFlight := cc.slotsInFlight[connID]
			if !alreadyInFlight {
				cc.slotsInFlight[connID] = true
			}
			sc := cc.conns[connID]
			cc.mu.Unlock()
			if !alreadyInFlight {
				cc.pool.Clear(connID)
				cc.pool.SetSetupInProgress(connID, true)
				if sc != nil {
					sc.RequestClusterSlotsRefresh()
				}
			}
			return
		case redirectAsk:
			cc.stats.RecordOp(kindName(req), now, pr.TotalLen+req.Size, 0, 0, 0, stats.MarkerAsk)
			cc.mu.Lock()
			cc.processed++
			cc.mu.Unlock()
			return
		}
	}
	cc.Client.HandleResponse(connID, now, req, pr)
}

type redirectKind int

const (
	redirectNone redirectKind = iota
	redirectMoved
	redirectAsk
)

func classifyRedirect(msg string) redirectKind {
	switch {
	case len(msg) >= 5 && msg[:5] == "MOVED":
		return redirectMoved
	case len(msg) >= 3 && msg[:3] == "ASK":
		return redirectAsk
	default:
		return redirectNone
	}
}
