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

import (
	"fmt"
	"strconv"

	"memtiergo/internal/protocol/resp"
)

// Shard is one CLUSTER SLOTS row: the slot range it owns and its master
// address.
type Shard struct {
	MinSlot, MaxSlot int
	Addr             string
	Port             int
}

// Key returns the addr:port identity used to match shards across topology
// refreshes.
func (s Shard) Key() string { return fmt.Sprintf("%s:%d", s.Addr, s.Port) }

// ParseClusterSlots decodes a CLUSTER SLOTS reply into one Shard per row.
// The reply is a top-level array of [min_slot, max_slot, [addr, port, id?], ...]
// rows; only the master entry (first address row) is used for routing.
func ParseClusterSlots(root *resp.Node) ([]Shard, error) {
	if root.Kind != resp.KindAggregate {
		return nil, fmt.Errorf("cluster: CLUSTER SLOTS reply is not an array")
	}
	shards := make([]Shard, 0, len(root.Children))
	for _, row := range root.Children {
		if row.Kind != resp.KindAggregate || len(row.Children) < 3 {
			return nil, fmt.Errorf("cluster: malformed CLUSTER SLOTS row")
		}
		minSlot, err := scalarInt(row.Children[0])
		if err != nil {
			return nil, fmt.Errorf("cluster: bad min_slot: %w", err)
		}
		maxSlot, err := scalarInt(row.Children[1])
		if err != nil {
			return nil, fmt.Errorf("cluster: bad max_slot: %w", err)
		}
		master := row.Children[2]
		if master.Kind != resp.KindAggregate || len(master.Children) < 2 {
			return nil, fmt.Errorf("cluster: malformed master entry")
		}
		addr := string(master.Children[0].Raw)
		port, err := scalarInt(master.Children[1])
		if err != nil {
			return nil, fmt.Errorf("cluster: bad port: %w", err)
		}
		shards = append(shards, Shard{MinSlot: minSlot, MaxSlot: maxSlot, Addr: addr, Port: port})
	}
	return shards, nil
}

func scalarInt(n *resp.Node) (int, error) {
	return strconv.Atoi(string(n.Raw))
}

// SlotMap maps hash slots to owning shards, rebuilt wholesale on each
// CLUSTER SLOTS response.
type SlotMap struct {
	shards   []Shard
	bySlot   [SlotCount]int // index into shards, -1 if uncovered
}

// NewSlotMap builds a SlotMap from parsed Shard rows.
func NewSlotMap(shards []Shard) *SlotMap {
	m := &SlotMap{shards: shards}
	for i := range m.bySlot {
		m.bySlot[i] = -1
	}
	for i, s := range shards {
		for slot := s.MinSlot; slot <= s.MaxSlot && slot < SlotCount; slot++ {
			m.bySlot[slot] = i
		}
	}
	return m
}

// ShardForKey returns the Shard owning key's slot, and whether the slot is
// covered by the current topology.
func (m *SlotMap) ShardForKey(key []byte) (Shard, bool) {
	return m.ShardForSlot(Slot(key))
}

// ShardForSlot returns the Shard owning slot, and whether it is covered.
func (m *SlotMap) ShardForSlot(slot int) (Shard, bool) {
	idx := m.bySlot[slot]
	if idx < 0 {
		return Shard{}, false
	}
	return m.shards[idx], true
}

// Shards returns all shards known to this map.
func (m *SlotMap) Shards() []Shard { return m.shards }
