package resp

import "testing"

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
	t.Fatalf("response never completed after %d chunks", len(chunks))
	return nil
}

func TestSimpleStringRoundTrip(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("+OK\r\n"))
	if resp.Root.Kind != KindScalar || string(resp.Root.Raw) != "OK" {
		t.Fatalf("unexpected root: %+v", resp.Root)
	}
	if resp.TotalLen != len("+OK\r\n") {
		t.Fatalf("total len = %d, want %d", resp.TotalLen, len("+OK\r\n"))
	}
}

func TestErrorLineMarksIsError(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("-ERR bad thing\r\n"))
	if !resp.Root.IsError {
		t.Fatal("expected IsError true")
	}
}

// TestBulkHitAccounting is testable property #5: non-null, non-empty blobs
// count as hits; a null bulk and an empty bulk do not.
func TestBulkHitAccounting(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"non-empty", "$3\r\nabc\r\n", 1},
		{"null-bulk", "$-1\r\n", 0},
		{"empty-bulk", "$0\r\n\r\n", 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := NewParser(false)
			resp := feedAll(t, p, []byte(c.in))
			if resp.Hits != c.want {
				t.Fatalf("hits = %d, want %d", resp.Hits, c.want)
			}
		})
	}
}

// TestSplitBufferParsingEquivalence is testable property #4: feeding bytes
// split at an arbitrary boundary produces the same response as feeding them
// whole.
func TestSplitBufferParsingEquivalence(t *testing.T) {
	whole := []byte("*3\r\n$3\r\nfoo\r\n$3\r\nbar\r\n$-1\r\n")
	for split := 1; split < len(whole); split++ {
		p := NewParser(true)
		resp := feedAll(t, p, whole[:split], whole[split:])
		if resp.Root.Kind != KindAggregate || len(resp.Root.Children) != 3 {
			t.Fatalf("split=%d: unexpected root %+v", split, resp.Root)
		}
		if resp.TotalLen != len(whole) {
			t.Fatalf("split=%d: total len = %d, want %d", split, resp.TotalLen, len(whole))
		}
		if !resp.Root.Children[2].IsNull {
			t.Fatalf("split=%d: expected third element null", split)
		}
	}
}

// TestAttributeThenOneMoreElement mirrors literal scenario E3: an attribute
// map of length 1 is followed by exactly one more top-level element, and
// that element (not the attribute) is the response.
func TestAttributeThenOneMoreElement(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("|1\r\n+k\r\n+v\r\n+OK\r\n"))
	if resp.Root.Kind != KindScalar || string(resp.Root.Raw) != "OK" {
		t.Fatalf("expected scalar OK as the response, got %+v", resp.Root)
	}
}

// TestNestedAttributeDoesNotConsumeParentSlot is the literal E3 scenario: the
// attribute sits inside an aggregate, not at the top level. The attribute
// must still not count as one of the aggregate's elements; the aggregate
// should end up with exactly the one real child, and the whole five-line
// message must be consumed.
func TestNestedAttributeDoesNotConsumeParentSlot(t *testing.T) {
	whole := []byte("*1\r\n|1\r\n+k\r\n+v\r\n+OK\r\n")
	p := NewParser(true)
	resp := feedAll(t, p, whole)
	if resp.Root.Kind != KindAggregate || len(resp.Root.Children) != 1 {
		t.Fatalf("expected aggregate with 1 child, got %+v", resp.Root)
	}
	if got := resp.Root.Children[0]; got.Kind != KindScalar || string(got.Raw) != "OK" {
		t.Fatalf("expected the single child to be scalar OK, got %+v", got)
	}
	if resp.TotalLen != len(whole) {
		t.Fatalf("total len = %d, want %d (all 5 lines consumed)", resp.TotalLen, len(whole))
	}
}

func TestMapDoublesElementCount(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("%2\r\n+k1\r\n+v1\r\n+k2\r\n+v2\r\n"))
	if len(resp.Root.Children) != 4 {
		t.Fatalf("expected 4 children (2 pairs), got %d", len(resp.Root.Children))
	}
}

func TestSetTypeDoesNotDoubleElementCount(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("~2\r\n+a\r\n+b\r\n"))
	if len(resp.Root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(resp.Root.Children))
	}
}

func TestNestedAggregates(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("*2\r\n*1\r\n:1\r\n$-1\r\n"))
	if len(resp.Root.Children) != 2 {
		t.Fatalf("expected 2 top-level children, got %d", len(resp.Root.Children))
	}
	inner := resp.Root.Children[0]
	if inner.Kind != KindAggregate || len(inner.Children) != 1 {
		t.Fatalf("unexpected inner aggregate: %+v", inner)
	}
}

func TestNegativeLengthAggregateIsEmpty(t *testing.T) {
	p := NewParser(true)
	resp := feedAll(t, p, []byte("*-1\r\n"))
	if resp.Root.Kind != KindAggregate || len(resp.Root.Children) != 0 {
		t.Fatalf("expected empty aggregate, got %+v", resp.Root)
	}
}

func TestConsecutiveResponsesOnSameParser(t *testing.T) {
	p := NewParser(true)
	stream := []byte("+OK\r\n:42\r\n")
	r1, err := p.Feed(stream)
	if err != nil {
		t.Fatalf("first response: %v", err)
	}
	if string(r1.Root.Raw) != "OK" {
		t.Fatalf("unexpected first: %+v", r1.Root)
	}
	r2, err := p.Feed(nil)
	if err != nil {
		t.Fatalf("second response: %v", err)
	}
	if string(r2.Root.Raw) != "42" {
		t.Fatalf("unexpected second: %+v", r2.Root)
	}
}

func TestKeepValueFalseDropsBytesButCountsHits(t *testing.T) {
	p := NewParser(false)
	resp := feedAll(t, p, []byte("*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))
	if resp.Root.Children != nil {
		t.Fatalf("expected no retained children, got %+v", resp.Root.Children)
	}
	if resp.Hits != 2 {
		t.Fatalf("hits = %d, want 2", resp.Hits)
	}
}
