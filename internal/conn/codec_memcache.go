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

	"memtiergo/internal/protocol/memcachebinary"
	"memtiergo/internal/protocol/memcachetext"
)

// MemcacheTextCodec adapts the memcache text protocol to Codec. It does not
// implement setup (AUTH/HELLO), WAIT, CLUSTER SLOTS, or arbitrary commands.
type MemcacheTextCodec struct {
	parser *memcachetext.Parser
}

// NewMemcacheTextCodec constructs a MemcacheTextCodec.
func NewMemcacheTextCodec(keepValue bool) *MemcacheTextCodec {
	return &MemcacheTextCodec{parser: memcachetext.NewParser(keepValue)}
}

func (c *MemcacheTextCodec) Feed(data []byte) (*ParsedResponse, error) {
	r, err := c.parser.Feed(data)
	if err == memcachetext.ErrNeedMore {
		return nil, ErrNeedMore
	}
	if err != nil {
		return nil, err
	}
	out := &ParsedResponse{TotalLen: r.TotalLen, Hits: r.Hits}
	if len(r.Entries) > r.Hits {
		out.Misses = len(r.Entries) - r.Hits
	}
	line := string(r.Line)
	if line == "ERROR" || bytes.HasPrefix(r.Line, []byte("CLIENT_ERROR")) || bytes.HasPrefix(r.Line, []byte("SERVER_ERROR")) {
		out.IsError = true
		out.ErrorMsg = line
	}
	if len(r.Entries) == 1 {
		out.Value = r.Entries[0].Value
	}
	return out, nil
}

func (c *MemcacheTextCodec) EncodeSet(w *bytes.Buffer, key, value []byte, expirySeconds uint64) {
	memcachetext.EncodeSet(w, key, 0, expirySeconds, value)
}

func (c *MemcacheTextCodec) EncodeGet(w *bytes.Buffer, key []byte) {
	memcachetext.EncodeGet(w, [][]byte{key})
}

func (c *MemcacheTextCodec) EncodeMGet(w *bytes.Buffer, keys [][]byte) error {
	memcachetext.EncodeGet(w, keys)
	return nil
}

func (c *MemcacheTextCodec) EncodeWait(w *bytes.Buffer, numReplicas, timeoutMillis int) error {
	return ErrUnsupported
}
func (c *MemcacheTextCodec) EncodeAuth(w *bytes.Buffer, username, password string) error {
	return ErrUnsupported
}
func (c *MemcacheTextCodec) EncodeSelect(w *bytes.Buffer, db int) error { return ErrUnsupported }
func (c *MemcacheTextCodec) EncodeHello(w *bytes.Buffer, protover int) error { return ErrUnsupported }
func (c *MemcacheTextCodec) EncodeClusterSlots(w *bytes.Buffer) error        { return ErrUnsupported }

func (c *MemcacheTextCodec) SupportsSetup() bool        { return false }
func (c *MemcacheTextCodec) SupportsClusterSlots() bool { return false }
func (c *MemcacheTextCodec) SupportsWait() bool         { return false }

// MemcacheBinaryCodec adapts the memcache binary protocol to Codec. Like
// memcache text, it has no setup/WAIT/CLUSTER-SLOTS/arbitrary support; AUTH
// is not mapped to SASL_AUTH either (EncodeAuth returns ErrUnsupported, so
// the AUTH setup step is skipped).
type MemcacheBinaryCodec struct {
	parser *memcachebinary.Parser
}

// NewMemcacheBinaryCodec constructs a MemcacheBinaryCodec.
func NewMemcacheBinaryCodec(keepValue bool) *MemcacheBinaryCodec {
	return &MemcacheBinaryCodec{parser: memcachebinary.NewParser(keepValue)}
}

func (c *MemcacheBinaryCodec) Feed(data []byte) (*ParsedResponse, error) {
	r, err := c.parser.Feed(data)
	if err == memcachebinary.ErrNeedMore {
		return nil, ErrNeedMore
	}
	if err != nil {
		return nil, err
	}
	out := &ParsedResponse{TotalLen: r.TotalLen, Hits: r.Hits}
	if r.Opcode == memcachebinary.OpGet && r.Status == memcachebinary.StatusKeyNotFound {
		out.Misses = 1
	}
	if r.Status != memcachebinary.StatusNoError && r.Status != memcachebinary.StatusKeyNotFound {
		out.IsError = true
	}
	if r.Opcode == memcachebinary.OpGet && r.Status == memcachebinary.StatusNoError {
		out.Value = r.Value
	}
	return out, nil
}

func (c *MemcacheBinaryCodec) EncodeSet(w *bytes.Buffer, key, value []byte, expirySeconds uint64) {
	memcachebinary.EncodeSet(w, key, value, 0, uint32(expirySeconds))
}

func (c *MemcacheBinaryCodec) EncodeGet(w *bytes.Buffer, key []byte) {
	memcachebinary.EncodeGet(w, key)
}

func (c *MemcacheBinaryCodec) EncodeMGet(w *bytes.Buffer, keys [][]byte) error {
	// The binary protocol has no multi-key get; callers fall back to one GET
	// per key, mirroring the source's per-protocol capability gating.
	return ErrUnsupported
}

func (c *MemcacheBinaryCodec) EncodeWait(w *bytes.Buffer, numReplicas, timeoutMillis int) error {
	return ErrUnsupported
}
func (c *MemcacheBinaryCodec) EncodeAuth(w *bytes.Buffer, username, password string) error {
	return ErrUnsupported
}
func (c *MemcacheBinaryCodec) EncodeSelect(w *bytes.Buffer, db int) error { return ErrUnsupported }
func (c *MemcacheBinaryCodec) EncodeHello(w *bytes.Buffer, protover int) error {
	return ErrUnsupported
}
func (c *MemcacheBinaryCodec) EncodeClusterSlots(w *bytes.Buffer) error { return ErrUnsupported }

func (c *MemcacheBinaryCodec) SupportsSetup() bool        { return false }
func (c *MemcacheBinaryCodec) SupportsClusterSlots() bool { return false }
func (c *MemcacheBinaryCodec) SupportsWait() bool         { return false }
