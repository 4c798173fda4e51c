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

package resp

import (
	"bytes"
	"strconv"
)

// EncodeCommand appends a RESP multibulk command (the wire format every
// client-to-server request uses, regardless of which scalar/aggregate types
// the server may reply with) to w.
func EncodeCommand(w *bytes.Buffer, args ...[]byte) {
	w.WriteByte('*')
	w.WriteString(strconv.Itoa(len(args)))
	w.WriteString("\r\n")
	for _, a := range args {
		w.WriteByte('$')
		w.WriteString(strconv.Itoa(len(a)))
		w.WriteString("\r\n")
		w.Write(a)
		w.WriteString("\r\n")
	}
}

// EncodeCommandStrings is a convenience wrapper for string arguments.
func EncodeCommandStrings(w *bytes.Buffer, args ...string) {
	b := make([][]byte, len(args))
	for i, a := range args {
		b[i] = []byte(a)
	}
	EncodeCommand(w, b...)
}

var (
	cmdGET     = []byte("GET")
	cmdSET     = []byte("SET")
	cmdEX      = []byte("EX")
	cmdMGET    = []byte("MGET")
	cmdWAIT    = []byte("WAIT")
	cmdAUTH    = []byte("AUTH")
	cmdSELECT  = []byte("SELECT")
	cmdHELLO   = []byte("HELLO")
	cmdCluster = []byte("CLUSTER")
	cmdSlots   = []byte("SLOTS")
)

// Get encodes GET key.
func Get(w *bytes.Buffer, key []byte) { EncodeCommand(w, cmdGET, key) }

// Set encodes SET key value [EX seconds].
func Set(w *bytes.Buffer, key, value []byte, expirySeconds uint64) {
	if expirySeconds > 0 {
		EncodeCommand(w, cmdSET, key, value, cmdEX, []byte(strconv.FormatUint(expirySeconds, 10)))
		return
	}
	EncodeCommand(w, cmdSET, key, value)
}

// MGet encodes a single MGET request batching all of keys (component B's
// "MGET single-request batching" requirement, per literal scenario E2).
func MGet(w *bytes.Buffer, keys [][]byte) {
	args := make([][]byte, 0, len(keys)+1)
	args = append(args, cmdMGET)
	args = append(args, keys...)
	EncodeCommand(w, args...)
}

// Wait encodes WAIT numreplicas timeout.
func Wait(w *bytes.Buffer, numReplicas int, timeoutMillis int) {
	EncodeCommand(w, cmdWAIT,
		[]byte(strconv.Itoa(numReplicas)),
		[]byte(strconv.Itoa(timeoutMillis)))
}

// Auth encodes AUTH password, or AUTH username password when username is non-empty.
func Auth(w *bytes.Buffer, username, password string) {
	if username != "" {
		EncodeCommandStrings(w, "AUTH", username, password)
		return
	}
	EncodeCommandStrings(w, "AUTH", password)
}

// Select encodes SELECT db.
func Select(w *bytes.Buffer, db int) {
	EncodeCommand(w, cmdSELECT, []byte(strconv.Itoa(db)))
}

// Hello encodes HELLO protover, used to negotiate RESP3.
func Hello(w *bytes.Buffer, protover int) {
	EncodeCommand(w, cmdHELLO, []byte(strconv.Itoa(protover)))
}

// ClusterSlots encodes CLUSTER SLOTS.
func ClusterSlots(w *bytes.Buffer) {
	EncodeCommand(w, cmdCluster, cmdSlots)
}
