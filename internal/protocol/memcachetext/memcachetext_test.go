package memcachetext

import (
	"bytes"
	"testing"
)

func feedAll(t *testing.T, p *Parser, chunks ...[]byte) *Response {
	t.Helper()
	var resp *Response
	var err error
	for _, c := range chunks {
		resp, err = p.Feed(c)
		if err == nil {
			return resp
		}
		if err != ErrNeedMore {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	t.Fatalf("response never completed")
	return nil
}

func TestStoredLine(t *testing.T) {
	p := NewParser(false)
	resp := feedAll(t, p, []byte("STORED\r\n"))
	if string(resp.Line) != "STORED" {
		t.Fatalf("got %q", resp.Line)
	}
}

func TestGetSingleValue(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("VALUE foo 0 3\r\nbar\r\nEND\r\n"))
	if string(resp.Line) != "END" {
		t.Fatalf("got line %q", resp.Line)
	}
	if len(resp.Entries) != 1 || string(resp.Entries[0].Value) != "bar" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}
	if resp.Hits != 1 {
		t.Fatalf("hits = %d, want 1", resp.Hits)
	}
}

func TestGetMultiValueMiss(t *testing.T) {
	p := NewParser(false)
	resp := feedAll(t, p, []byte("VALUE k1 0 1\r\nx\r\nEND\r\n"))
	if resp.Hits != 1 || len(resp.Entries) != 1 {
		t.Fatalf("unexpected: hits=%d entries=%d", resp.Hits, len(resp.Entries))
	}
}

func TestGetMissReturnsEndWithNoEntries(t *testing.T) {
	p := NewParser(false)
	resp := feedAll(t, p, []byte("END\r\n"))
	if len(resp.Entries) != 0 || resp.Hits != 0 {
		t.Fatalf("expected empty miss reply, got %+v", resp)
	}
}

func TestSplitBufferParsingEquivalence(t *testing.T) {
	whole := []byte("VALUE foo 0 3\r\nbar\r\nEND\r\n")
	for split := 1; split < len(whole); split++ {
		p := NewParser(true)
		resp := feedAll(t, p, whole[:split], whole[split:])
		if resp.TotalLen != len(whole) {
			t.Fatalf("split=%d: total len = %d, want %d", split, resp.TotalLen, len(whole))
		}
		if len(resp.Entries) != 1 || string(resp.Entries[0].Value) != "bar" {
			t.Fatalf("split=%d: unexpected entries %+v", split, resp.Entries)
		}
	}
}

func TestEncodeSetAndGet(t *testing.T) {
	var buf bytes.Buffer
	EncodeSet(&buf, []byte("k"), 0, 0, []byte("v"))
	if buf.String() != "set k 0 0 1\r\nv\r\n" {
		t.Fatalf("unexpected encoding: %q", buf.String())
	}

	buf.Reset()
	EncodeGet(&buf, [][]byte{[]byte("a"), []byte("b")})
	if buf.String() != "get a b\r\n" {
		t.Fatalf("unexpected get encoding: %q", buf.String())
	}
}
