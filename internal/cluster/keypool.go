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

package cluster

import "sync"

// KeyPoolCap is the maximum number of deposited (key, command index) pairs
// held per shard before deposits are rejected.
const KeyPoolCap = 1_000_000

// PooledKey is one key generated for a shard whose pipeline wasn't the one
// asking for work at the time.
type PooledKey struct {
	Key    []byte
	CmdIdx int
}

// Availability is the outcome of a get_key_for_conn lookup.
type Availability int

const (
	AvailableForConn Availability = iota
	AvailableForOtherConn
	NotAvailable
)

// KeyPool holds, per shard index, keys generated for that shard while a
// different connection's pipeline was being filled.
type KeyPool struct {
	mu      sync.Mutex
	pools   map[int][]PooledKey
	setupInProgress map[int]bool
}

// NewKeyPool constructs an empty KeyPool.
func NewKeyPool() *KeyPool {
	return &KeyPool{pools: make(map[int][]PooledKey), setupInProgress: make(map[int]bool)}
}

// Deposit enqueues key onto shardIdx's pool. It reports false if the pool is
// at capacity, in which case the caller must drop or retry the key.
func (p *KeyPool) Deposit(shardIdx int, key []byte, cmdIdx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pools[shardIdx]) >= KeyPoolCap {
		return false
	}
	p.pools[shardIdx] = append(p.pools[shardIdx], PooledKey{Key: key, CmdIdx: cmdIdx})
	return true
}

// Take drains one key from shardIdx's pool, if any.
func (p *KeyPool) Take(shardIdx int) (PooledKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.pools[shardIdx]
	if len(q) == 0 {
		return PooledKey{}, false
	}
	k := q[0]
	p.pools[shardIdx] = q[1:]
	return k, true
}

// Clear discards shardIdx's pool (stale mappings after a MOVED-triggered
// topology refresh).
func (p *KeyPool) Clear(shardIdx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, shardIdx)
}

// SetSetupInProgress marks whether shardIdx's connection is mid-CLUSTER-SLOTS
// setup; GetKeyForConn reports NotAvailable for peers in this state.
func (p *KeyPool) SetSetupInProgress(shardIdx int, inProgress bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inProgress {
		p.setupInProgress[shardIdx] = true
	} else {
		delete(p.setupInProgress, shardIdx)
	}
}

// GetKeyForConn implements get_key_for_conn: it returns AvailableForConn
// when ownerIdx == forConnIdx (the caller sends the key itself),
// AvailableForOtherConn when ownerIdx's pool can take a deposited key (not
// full and not mid-setup), or NotAvailable when it cannot (peer pool full,
// or peer still mid-setup). No key is returned; it only classifies.
func (p *KeyPool) GetKeyForConn(forConnIdx, ownerIdx int) Availability {
	if ownerIdx == forConnIdx {
		return AvailableForConn
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setupInProgress[ownerIdx] {
		return NotAvailable
	}
	if len(p.pools[ownerIdx]) >= KeyPoolCap {
		return NotAvailable
	}
	return AvailableForOtherConn
}
