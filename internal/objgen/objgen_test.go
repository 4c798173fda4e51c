package objgen

import (
	"math"
	"testing"
)

func TestNewRejectsInvalidRange(t *testing.T) {
	if _, err := New(Config{KeyMin: 10, KeyMax: 10}); err == nil {
		t.Fatal("expected error for key_min >= key_max")
	}
	if _, err := New(Config{KeyMin: 10, KeyMax: 5}); err == nil {
		t.Fatal("expected error for key_min > key_max")
	}
}

func TestNewRejectsEmptyWeightedList(t *testing.T) {
	_, err := New(Config{KeyMin: 0, KeyMax: 100, Size: SizePolicy{Kind: SizeWeighted}})
	if err == nil {
		t.Fatal("expected error for empty weighted size list")
	}
}

func TestNewRejectsGaussianMedianOutOfRange(t *testing.T) {
	_, err := New(Config{KeyMin: 0, KeyMax: 100, GaussianMu: 500, GaussianSigma: 1})
	if err == nil {
		t.Fatal("expected error for gaussian median outside range")
	}
}

// TestKeyPatternCoverage is testable property #7: with key pattern S:S, the
// union of keys emitted by a SetSeq/GetSeq cursor over [m,M] covers the range
// exactly once per lap, strictly increasing (wrapping).
func TestKeyPatternCoverage(t *testing.T) {
	g, err := New(Config{Prefix: "k", KeyMin: 0, KeyMax: 9})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[uint64]bool{}
	var last uint64
	for i := 0; i < 10; i++ {
		_, idx := g.GetKey(SetSeq)
		if i > 0 && idx != (last+1)%10 {
			t.Fatalf("expected sequential cursor, got %d after %d", idx, last)
		}
		seen[idx] = true
		last = idx
	}
	for i := uint64(0); i < 10; i++ {
		if !seen[i] {
			t.Fatalf("key index %d never emitted", i)
		}
	}
	// wraps
	_, idx := g.GetKey(SetSeq)
	if idx != 0 {
		t.Fatalf("expected wrap to key_min, got %d", idx)
	}
}

func TestUniformRangeBounds(t *testing.T) {
	g, err := New(Config{KeyMin: 0, KeyMax: 1000})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		v := g.randomRange(10, 20)
		if v < 10 || v > 20 {
			t.Fatalf("randomRange out of bounds: %d", v)
		}
	}
}

func TestGaussianStaysInRange(t *testing.T) {
	g, err := New(Config{KeyMin: 0, KeyMax: 100, GaussianMu: 50, GaussianSigma: 10})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5000; i++ {
		v := g.gaussian()
		if v > 100 {
			t.Fatalf("gaussian sample %d outside [0,100]", v)
		}
	}
}

func TestZipfCDFMonotonicAndBounded(t *testing.T) {
	cdf := buildZipfCDF(0, 99, 1.0)
	if len(cdf) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(cdf))
	}
	for i := 1; i < len(cdf); i++ {
		if cdf[i] < cdf[i-1] {
			t.Fatalf("cdf not monotonic at %d", i)
		}
	}
	if math.Abs(cdf[len(cdf)-1]-1.0) > 1e-9 {
		t.Fatalf("cdf should end at 1.0, got %f", cdf[len(cdf)-1])
	}
}

func TestSizeSweepDeterministicAcrossRange(t *testing.T) {
	g, err := New(Config{KeyMin: 0, KeyMax: 100, Size: SizePolicy{Kind: SizeSweep, Min: 10, Max: 110}})
	if err != nil {
		t.Fatal(err)
	}
	if s := g.objectSize(0); s != 10 {
		t.Fatalf("expected sweep min at key_min, got %d", s)
	}
	if s := g.objectSize(100); s != 110 {
		t.Fatalf("expected sweep max at key_max, got %d", s)
	}
}

func TestCloneIsIndependentAndDeterministic(t *testing.T) {
	g, err := New(Config{KeyMin: 0, KeyMax: 1000, Seed: 42, DistinctClientSeed: true})
	if err != nil {
		t.Fatal(err)
	}
	c1 := g.Clone(1)
	c2 := g.Clone(1)
	for i := 0; i < 100; i++ {
		v1 := c1.randomRange(0, 1_000_000)
		v2 := c2.randomRange(0, 1_000_000)
		if v1 != v2 {
			t.Fatalf("clones with same seed diverged at %d: %d != %d", i, v1, v2)
		}
	}
}

func TestWeightedSizeOnlyReturnsConfigured(t *testing.T) {
	g, err := New(Config{KeyMin: 0, KeyMax: 10, Size: SizePolicy{Kind: SizeWeighted, Weighted: []WeightedSize{
		{Size: 64, Weight: 1}, {Size: 1024, Weight: 1},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		s := g.weightedSize()
		if s != 64 && s != 1024 {
			t.Fatalf("unexpected size %d", s)
		}
	}
}
