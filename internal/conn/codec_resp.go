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

	"memtiergo/internal/protocol/resp"
)

// RespCodec adapts the RESP2/RESP3 parser/encoder to the Codec interface.
// RESP is the only variant that supports WAIT, HELLO, CLUSTER SLOTS, and
// arbitrary commands.
type RespCodec struct {
	parser *resp.Parser
}

// NewRespCodec constructs a RespCodec. keepValue should be true only while
// verification or CLUSTER SLOTS parsing is active.
func NewRespCodec(keepValue bool) *RespCodec {
	return &RespCodec{parser: resp.NewParser(keepValue)}
}

// SetKeepValue toggles tree retention (disabled again once a CLUSTER SLOTS
// response has been consumed, per §4.C's process_response contract).
func (c *RespCodec) SetKeepValue(v bool) { c.parser.SetKeepValue(v) }

func (c *RespCodec) Feed(data []byte) (*ParsedResponse, error) {
	r, err := c.parser.Feed(data)
	if err == resp.ErrNeedMore {
		return nil, ErrNeedMore
	}
	if err != nil {
		return nil, err
	}
	out := &ParsedResponse{TotalLen: r.TotalLen, Hits: r.Hits}
	if r.Root != nil && r.Root.IsError {
		out.IsError = true
		out.ErrorMsg = string(r.Root.Raw)
	}
	if r.Root != nil && r.Root.Kind == resp.KindAggregate {
		out.ClusterSlotsTree = r.Root
	}
	if r.Root != nil && r.Root.Kind == resp.KindBlob && !r.Root.IsNull && !r.Root.IsError {
		out.Value = r.Root.Raw
	}
	return out, nil
}

func (c *RespCodec) EncodeSet(w *bytes.Buffer, key, value []byte, expirySeconds uint64) {
	resp.Set(w, key, value, expirySeconds)
}

func (c *RespCodec) EncodeGet(w *bytes.Buffer, key []byte) { resp.Get(w, key) }

func (c *RespCodec) EncodeMGet(w *bytes.Buffer, keys [][]byte) error {
	resp.MGet(w, keys)
	return nil
}

func (c *RespCodec) EncodeWait(w *bytes.Buffer, numReplicas, timeoutMillis int) error {
	resp.Wait(w, numReplicas, timeoutMillis)
	return nil
}

func (c *RespCodec) EncodeAuth(w *bytes.Buffer, username, password string) error {
	resp.Auth(w, username, password)
	return nil
}

func (c *RespCodec) EncodeSelect(w *bytes.Buffer, db int) error {
	resp.Select(w, db)
	return nil
}

func (c *RespCodec) EncodeHello(w *bytes.Buffer, protover int) error {
	resp.Hello(w, protover)
	return nil
}

func (c *RespCodec) EncodeClusterSlots(w *bytes.Buffer) error {
	resp.ClusterSlots(w)
	return nil
}

func (c *RespCodec) SupportsSetup() bool        { return true }
func (c *RespCodec) SupportsClusterSlots() bool { return true }
func (c *RespCodec) SupportsWait() bool         { return true }
