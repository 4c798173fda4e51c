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
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"memtiergo/internal/conn"
	"memtiergo/internal/objgen"
)

// clusterSlotsReply builds a single-shard CLUSTER SLOTS reply covering the
// whole slot range, pointing back at 127.0.0.1:port.
func clusterSlotsReply(port int) []byte {
	portStr := strconv.Itoa(port)
	return []byte(fmt.Sprintf(
		"*1\r\n*3\r\n:0\r\n:16383\r\n*2\r\n$9\r\n127.0.0.1\r\n$%d\r\n%s\r\n",
		len(portStr), portStr))
}

// Test_E4_MovedTriggersClusterSlotsRefreshWithoutReconnect is literal
// scenario E4: a MOVED reply on a GET is counted in stats, clears the
// shard's key pool, and triggers a fresh CLUSTER SLOTS round-trip on the
// same connection (no reconnect), after which traffic resumes.
func Test_E4_MovedTriggersClusterSlotsRefreshWithoutReconnect(t *testing.T) {
	var mu sync.Mutex
	clusterSlotsSeen := 0
	getsSeen := 0
	var fs *fakeServer
	fs = startFakeServer(t, func(cmd []string) []byte {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case cmd[0] == "CLUSTER" && len(cmd) > 1 && cmd[1] == "SLOTS":
			clusterSlotsSeen++
			_, port, _ := splitHostPort(fs.addr())
			return clusterSlotsReply(port)
		case cmd[0] == "GET":
			getsSeen++
			if getsSeen == 1 {
				return []byte("-MOVED 1234 127.0.0.1:0\r\n")
			}
			return []byte("$-1\r\n")
		}
		return []byte("-ERR unexpected\r\n")
	})
	defer fs.close()

	gcfg := objgen.Config{Prefix: "k", KeyMin: 0, KeyMax: 100, Size: objgen.SizePolicy{Kind: objgen.SizeFixed, Fixed: 8}}
	gen, err := objgen.New(gcfg)
	if err != nil {
		t.Fatalf("objgen.New: %v", err)
	}
	cfg := Config{Ratio: Ratio{A: 0, B: 1}, Requests: 2}
	cc := NewClusterClient(cfg, gen, time.Now())
	codec := conn.NewRespCodec(false)
	sc := conn.NewShardConn(0, fs.addr(), codec, cc, nil, 1, 0, conn.ReconnectConfig{})
	cc.AddShardConn(fs.addr(), 0, sc)
	if err := sc.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sc.Close()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := clusterSlotsSeen >= 2 && getsSeen >= 2
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out: clusterSlotsSeen=%d getsSeen=%d", clusterSlotsSeen, getsSeen)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if clusterSlotsSeen != 2 {
		t.Fatalf("expected exactly 2 CLUSTER SLOTS round-trips (initial + MOVED refresh), got %d", clusterSlotsSeen)
	}
	if getsSeen != 2 {
		t.Fatalf("expected exactly 2 GETs (moved + retried), got %d", getsSeen)
	}

	cc.mu.Lock()
	inFlight := len(cc.slotsInFlight)
	cc.mu.Unlock()
	if inFlight != 0 {
		t.Fatalf("expected slotsInFlight to clear once the refreshed topology arrived, got %d entries", inFlight)
	}
}

func splitHostPort(addr string) (string, int, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port, err := strconv.Atoi(addr[i+1:])
			return addr[:i], port, err
		}
	}
	return "", 0, fmt.Errorf("no port in %q", addr)
}

// Test_ClusterClientDepositsKeyOnOtherShardPool exercises the pool side of
// cluster routing directly: a key whose slot maps to a shard other than the
// one currently filling its pipeline is deposited, not sent, and is drained
// the next time that other shard's connection asks for work.
func Test_ClusterClientDepositsKeyOnOtherShardPool(t *testing.T) {
	seenA := make(chan []string, 16)
	seenB := make(chan []string, 16)
	// Both fake servers start with a placeholder reply; the real CLUSTER
	// SLOTS payload is installed below once both listener ports are known.
	fsA := startFakeServer(t, func(cmd []string) []byte { return []byte("$-1\r\n") })
	defer fsA.close()
	fsB := startFakeServer(t, func(cmd []string) []byte {
		seenB <- cmd
		if cmd[0] == "SET" {
			return []byte("+OK\r\n")
		}
		return []byte("$-1\r\n")
	})
	defer fsB.close()

	gcfg := objgen.Config{Prefix: "k", KeyMin: 0, KeyMax: 2000, Size: objgen.SizePolicy{Kind: objgen.SizeFixed, Fixed: 8}}
	gen, err := objgen.New(gcfg)
	if err != nil {
		t.Fatalf("objgen.New: %v", err)
	}
	cfg := Config{Ratio: Ratio{A: 1, B: 0}, Requests: 40}
	cc := NewClusterClient(cfg, gen, time.Now())

	_, portA, _ := splitHostPort(fsA.addr())
	_, portB, _ := splitHostPort(fsB.addr())
	// A owns the low half of the slot space, B the high half, split so both
	// shards are exercised regardless of which keys hash where.
	shards := []byte(fmt.Sprintf(
		"*2\r\n*3\r\n:0\r\n:8191\r\n*2\r\n$9\r\n127.0.0.1\r\n$%d\r\n%d\r\n"+
			"*3\r\n:8192\r\n:16383\r\n*2\r\n$9\r\n127.0.0.1\r\n$%d\r\n%d\r\n",
		len(strconv.Itoa(portA)), portA, len(strconv.Itoa(portB)), portB))

	codecA := conn.NewRespCodec(false)
	scA := conn.NewShardConn(0, fsA.addr(), codecA, cc, nil, 4, 0, conn.ReconnectConfig{})
	cc.AddShardConn(fsA.addr(), 0, scA)
	codecB := conn.NewRespCodec(false)
	scB := conn.NewShardConn(1, fsB.addr(), codecB, cc, nil, 4, 0, conn.ReconnectConfig{})
	cc.AddShardConn(fsB.addr(), 1, scB)

	fsA.reply = func(cmd []string) []byte {
		seenA <- cmd
		if cmd[0] == "CLUSTER" {
			return shards
		}
		if cmd[0] == "SET" {
			return []byte("+OK\r\n")
		}
		return []byte("$-1\r\n")
	}

	if err := scA.Connect(); err != nil {
		t.Fatalf("connect A: %v", err)
	}
	defer scA.Close()
	if err := scB.Connect(); err != nil {
		t.Fatalf("connect B: %v", err)
	}
	defer scB.Close()

	deadline := time.After(2 * time.Second)
	total := 0
	for total < 40 {
		select {
		case <-seenA:
			total++
		case <-seenB:
			total++
		case <-deadline:
			t.Fatalf("timed out after %d of 40 SETs", total)
		}
	}
}
