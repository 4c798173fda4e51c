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

// Package conn implements the shard connection state machine: one duplex
// byte stream, its pipeline of in-flight requests, setup sequencing
// (AUTH/SELECT/HELLO/CLUSTER SLOTS), and the reconnect supervisor.
package conn

import (
	"bytes"
	"errors"

	"memtiergo/internal/protocol/resp"
)

// ErrNeedMore is returned by Codec.Feed when more bytes are required before
// the next response completes.
var ErrNeedMore = errors.New("conn: need more data")

// ErrUnsupported is returned by a Codec operation the active protocol
// variant does not implement (e.g. HELLO on memcache text).
var ErrUnsupported = errors.New("conn: operation not supported by this protocol")

// ParsedResponse is the protocol-agnostic shape ShardConn dispatches on.
// ClusterSlotsTree is populated only by the RESP codec when the in-flight
// request was CLUSTER SLOTS, so cluster.ParseClusterSlots can consume it
// without the conn package depending on cluster routing details.
type ParsedResponse struct {
	TotalLen         int
	Hits             int
	Misses           int
	IsError          bool
	ErrorMsg         string
	ClusterSlotsTree *resp.Node
	// Value carries the retrieved payload when the codec was asked to keep
	// it (the verify client's byte-for-byte comparison path). Empty
	// otherwise, including on ordinary runs where keep_value stays off.
	Value []byte
}

// Codec translates outgoing commands to wire bytes and incoming bytes to
// ParsedResponse values. The three wire formats (RESP, memcache text,
// memcache binary) each implement this once.
type Codec interface {
	Feed(data []byte) (*ParsedResponse, error)

	EncodeSet(w *bytes.Buffer, key, value []byte, expirySeconds uint64)
	EncodeGet(w *bytes.Buffer, key []byte)
	EncodeMGet(w *bytes.Buffer, keys [][]byte) error
	EncodeWait(w *bytes.Buffer, numReplicas, timeoutMillis int) error
	EncodeAuth(w *bytes.Buffer, username, password string) error
	EncodeSelect(w *bytes.Buffer, db int) error
	EncodeHello(w *bytes.Buffer, protover int) error
	EncodeClusterSlots(w *bytes.Buffer) error

	// SupportsSetup reports whether this codec implements AUTH/SELECT/HELLO
	// at all (only RESP variants do; memcache relies on SASL out of band).
	SupportsSetup() bool
	// SupportsClusterSlots, SupportsWait report per-capability support. The
	// connection itself does not consult these: issueSetup marks a setup step
	// done when its Encode method returns an error.
	SupportsClusterSlots() bool
	SupportsWait() bool
}
