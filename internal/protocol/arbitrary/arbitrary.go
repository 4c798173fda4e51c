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

// Package arbitrary classifies and expands user-supplied command templates
// ("arbitrary commands"): positional argument tokens containing __key__,
// __data__, or __monitor_lineN__ placeholders are substituted per request and
// framed by the caller's wire codec.
package arbitrary

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"memtiergo/internal/protocol/resp"
)

// ArgKind classifies one positional argument of an arbitrary-command template.
type ArgKind int

const (
	ArgConst ArgKind = iota
	ArgKey
	ArgData
	ArgMonitorRandom
)

const (
	tokenKey = "__key__"
	tokenData = "__data__"
)

// Arg is one classified, parsed template token.
type Arg struct {
	Kind ArgKind
	// Literal holds the verbatim text for ArgConst.
	Literal string
	// MonitorLine holds the 1-based line index for ArgMonitorRandom
	// (__monitor_line3__ -> 3).
	MonitorLine int
}

// Template is a parsed arbitrary-command definition: one command name plus
// its classified argument list.
type Template struct {
	Name string
	Args []Arg
}

// Parse classifies each whitespace-separated token of raw into a Template.
// A token is classified as a placeholder only when the ENTIRE token matches.
// A placeholder appearing as a substring of a larger token is not a silently
// accepted literal: the key and data placeholders can't be combined with
// other data within the same argument, so such a token is a parse error.
func Parse(raw string) (*Template, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("arbitrary: empty command template")
	}
	t := &Template{Name: fields[0]}
	for _, tok := range fields[1:] {
		switch {
		case tok == tokenKey:
			t.Args = append(t.Args, Arg{Kind: ArgKey})
		case tok == tokenData:
			t.Args = append(t.Args, Arg{Kind: ArgData})
		case strings.HasPrefix(tok, "__monitor_line") && strings.HasSuffix(tok, "__"):
			numStr := strings.TrimSuffix(strings.TrimPrefix(tok, "__monitor_line"), "__")
			n, err := strconv.Atoi(numStr)
			if err != nil {
				return nil, fmt.Errorf("arbitrary: bad monitor line token %q: %w", tok, err)
			}
			t.Args = append(t.Args, Arg{Kind: ArgMonitorRandom, MonitorLine: n})
		case strings.Contains(tok, tokenKey):
			return nil, fmt.Errorf("arbitrary: %s placeholder can't be combined with other data: %q", tokenKey, tok)
		case strings.Contains(tok, tokenData):
			return nil, fmt.Errorf("arbitrary: %s placeholder can't be combined with other data: %q", tokenData, tok)
		default:
			t.Args = append(t.Args, Arg{Kind: ArgConst, Literal: tok})
		}
	}
	return t, nil
}

// MonitorLines returns lines drawn at random from a monitor capture file,
// indexed 1-based by the template's __monitor_lineN__ tokens.
type MonitorLines interface {
	Line(n int) []byte
}

// EncodeRESP renders t against one (key, data) pair as a RESP multibulk
// command. Only RESP variants support arbitrary commands per the codec
// capability set.
func EncodeRESP(w *bytes.Buffer, t *Template, key, data []byte, monitor MonitorLines) error {
	args := make([][]byte, 0, len(t.Args)+1)
	args = append(args, []byte(t.Name))
	for _, a := range t.Args {
		switch a.Kind {
		case ArgConst:
			args = append(args, []byte(a.Literal))
		case ArgKey:
			args = append(args, key)
		case ArgData:
			args = append(args, data)
		case ArgMonitorRandom:
			if monitor == nil {
				return fmt.Errorf("arbitrary: template %q needs monitor lines but none configured", t.Name)
			}
			args = append(args, monitor.Line(a.MonitorLine))
		}
	}
	resp.EncodeCommand(w, args...)
	return nil
}

// KeyCount reports how many arguments of t are the key placeholder, used by cluster
// mode's "arbitrary commands with more than one key" rejection (an arbitrary
// command may reference __key__ at most once).
func (t *Template) KeyCount() int {
	n := 0
	for _, a := range t.Args {
		if a.Kind == ArgKey {
			n++
		}
	}
	return n
}
