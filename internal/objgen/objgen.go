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

// Package objgen produces deterministic, distributionally-correct key and
// value streams for the traffic generator: sequential key iterators (one
// cursor for the SET side, one for the GET side), uniform/gaussian/zipf
// random keys, and value objects under a configurable size policy. There is
// no parallel iterator that splits the key range into per-client sub-ranges.
package objgen

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
)

// IteratorKind selects which cursor/distribution GetKey and GetObject draw from.
type IteratorKind int

const (
	SetSeq IteratorKind = iota
	GetSeq
	UniformRandom
	GaussianRandom
	ZipfRandom
)

// SizeKind selects the value-size policy.
type SizeKind int

const (
	SizeFixed SizeKind = iota
	SizeRange
	SizeWeighted
	SizeSweep // pattern "S": deterministic sweep across [Min,Max] by key position
)

// WeightedSize is one (size, weight) entry of a weighted size list.
type WeightedSize struct {
	Size   uint64
	Weight float64
}

// SizePolicy configures how value sizes are produced.
type SizePolicy struct {
	Kind     SizeKind
	Fixed    uint64
	Min, Max uint64
	Weighted []WeightedSize
}

// Config is the immutable construction input for a Generator.
type Config struct {
	Prefix             string
	KeyMin, KeyMax     uint64 // inclusive range
	Size               SizePolicy
	ExpiryMin, ExpiryMax uint64 // seconds; both 0 disables expiry
	Seed               uint64
	DistinctClientSeed bool
	GaussianMu, GaussianSigma float64
	ZipfS              float64
	RandomData         bool // rotate one byte of the value buffer per object
}

// Object is one synthesized key/value/expiry triple.
type Object struct {
	Key    []byte
	Value  []byte
	Expiry uint64
}

// Generator is the per-client object/key stream. Not safe for concurrent use;
// call Clone to give each client its own independent instance.
type Generator struct {
	cfg Config

	setSeqCursor uint64
	getSeqCursor uint64

	rng       *rand.Rand
	valueBuf  []byte
	rotateIdx int

	zipfCDF []float64 // precomputed over [KeyMin,KeyMax]

	weightedTotal float64
}

// New validates cfg and constructs a Generator. Construction fails if
// KeyMin >= KeyMax, the weighted size list is empty, or a Gaussian median
// falls outside the configured range.
func New(cfg Config) (*Generator, error) {
	if cfg.KeyMin >= cfg.KeyMax {
		return nil, fmt.Errorf("objgen: key_min (%d) must be < key_max (%d)", cfg.KeyMin, cfg.KeyMax)
	}
	if cfg.Size.Kind == SizeWeighted && len(cfg.Size.Weighted) == 0 {
		return nil, fmt.Errorf("objgen: weighted size list must not be empty")
	}
	if cfg.GaussianMu != 0 {
		if cfg.GaussianMu < float64(cfg.KeyMin) || cfg.GaussianMu > float64(cfg.KeyMax) {
			return nil, fmt.Errorf("objgen: gaussian median %.2f outside range [%d,%d]", cfg.GaussianMu, cfg.KeyMin, cfg.KeyMax)
		}
	}

	g := &Generator{
		cfg:          cfg,
		setSeqCursor: cfg.KeyMin,
		getSeqCursor: cfg.KeyMin,
		rng:          rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}

	maxSize := cfg.Size.Fixed
	if cfg.Size.Max > maxSize {
		maxSize = cfg.Size.Max
	}
	for _, w := range cfg.Size.Weighted {
		if w.Size > maxSize {
			maxSize = w.Size
		}
		g.weightedTotal += w.Weight
	}
	if maxSize == 0 {
		maxSize = 1
	}
	g.valueBuf = make([]byte, maxSize)
	for i := range g.valueBuf {
		g.valueBuf[i] = byte(g.rng.Uint32())
	}

	if cfg.ZipfS > 0 {
		g.zipfCDF = buildZipfCDF(cfg.KeyMin, cfg.KeyMax, cfg.ZipfS)
	}

	return g, nil
}

// Clone produces an independent copy with its own RNG, seeded by
// (Seed + clientIndex) if DistinctClientSeed is set, otherwise by Seed.
func (g *Generator) Clone(clientIndex int) *Generator {
	cfg := g.cfg
	if cfg.DistinctClientSeed {
		cfg.Seed = cfg.Seed + uint64(clientIndex)
	}
	clone, _ := New(cfg) // cfg was already validated by the original New
	return clone
}

// formatKey renders "<prefix><index>" with a decimal index.
func (g *Generator) formatKey(index uint64) []byte {
	buf := make([]byte, 0, len(g.cfg.Prefix)+20)
	buf = append(buf, g.cfg.Prefix...)
	buf = strconv.AppendUint(buf, index, 10)
	return buf
}

// GetKey returns the next key (and its numeric index) for the given iterator kind.
func (g *Generator) GetKey(kind IteratorKind) ([]byte, uint64) {
	idx := g.nextIndex(kind)
	return g.formatKey(idx), idx
}

func (g *Generator) nextIndex(kind IteratorKind) uint64 {
	switch kind {
	case SetSeq:
		idx := g.setSeqCursor
		g.setSeqCursor++
		if g.setSeqCursor > g.cfg.KeyMax {
			g.setSeqCursor = g.cfg.KeyMin
		}
		return idx
	case GetSeq:
		idx := g.getSeqCursor
		g.getSeqCursor++
		if g.getSeqCursor > g.cfg.KeyMax {
			g.getSeqCursor = g.cfg.KeyMin
		}
		return idx
	case GaussianRandom:
		return g.gaussian()
	case ZipfRandom:
		return g.zipf()
	default: // UniformRandom
		return g.randomRange(g.cfg.KeyMin, g.cfg.KeyMax)
	}
}

// GetObject synthesizes a full Object for the given iterator kind: a key, a
// value slice sized per the configured size policy, and an expiry.
func (g *Generator) GetObject(kind IteratorKind) Object {
	key, idx := g.GetKey(kind)
	size := g.objectSize(idx)
	value := g.nextValue(size)
	var expiry uint64
	if g.cfg.ExpiryMax > 0 {
		expiry = g.randomRange(g.cfg.ExpiryMin, g.cfg.ExpiryMax)
	}
	return Object{Key: key, Value: value, Expiry: expiry}
}

func (g *Generator) objectSize(keyIndex uint64) uint64 {
	switch g.cfg.Size.Kind {
	case SizeFixed:
		return g.cfg.Size.Fixed
	case SizeRange:
		return g.randomRange(g.cfg.Size.Min, g.cfg.Size.Max)
	case SizeWeighted:
		return g.weightedSize()
	case SizeSweep:
		span := g.cfg.KeyMax - g.cfg.KeyMin
		if span == 0 {
			return g.cfg.Size.Min
		}
		frac := float64(keyIndex-g.cfg.KeyMin) / float64(span)
		return g.cfg.Size.Min + uint64(frac*float64(g.cfg.Size.Max-g.cfg.Size.Min))
	default:
		return g.cfg.Size.Fixed
	}
}

func (g *Generator) weightedSize() uint64 {
	r := g.rng.Float64() * g.weightedTotal
	var acc float64
	for _, w := range g.cfg.Size.Weighted {
		acc += w.Weight
		if r <= acc {
			return w.Size
		}
	}
	return g.cfg.Size.Weighted[len(g.cfg.Size.Weighted)-1].Size
}

// nextValue returns a fresh copy of the first size bytes of the shared value
// buffer. When
// RandomData is set, one byte is rotated per call so repeated objects do not
// hash identically even though the buffer is not regenerated in full.
func (g *Generator) nextValue(size uint64) []byte {
	if size > uint64(len(g.valueBuf)) {
		g.valueBuf = append(g.valueBuf, make([]byte, size-uint64(len(g.valueBuf)))...)
		for i := range g.valueBuf {
			g.valueBuf[i] = byte(g.rng.Uint32())
		}
	}
	if g.cfg.RandomData && len(g.valueBuf) > 0 {
		g.rotateIdx = (g.rotateIdx + 1) % len(g.valueBuf)
		g.valueBuf[g.rotateIdx] = byte(g.rng.Uint32())
	}
	out := make([]byte, size)
	copy(out, g.valueBuf[:size])
	return out
}

// RandomRange returns a uniform random value in [min,max] inclusive.
func (g *Generator) RandomRange(min, max uint64) uint64 { return g.randomRange(min, max) }

func (g *Generator) randomRange(min, max uint64) uint64 {
	if min >= max {
		return min
	}
	return min + g.rng.Uint64N(max-min+1)
}

// gaussian draws from N(mu,sigma) via polar Box-Muller, rejecting draws
// outside [KeyMin,KeyMax], falling back to the range midpoint if mu is unset.
func (g *Generator) gaussian() uint64 {
	mu := g.cfg.GaussianMu
	if mu == 0 {
		mu = float64(g.cfg.KeyMin+g.cfg.KeyMax) / 2
	}
	sigma := g.cfg.GaussianSigma
	if sigma <= 0 {
		sigma = float64(g.cfg.KeyMax-g.cfg.KeyMin) / 6
	}
	for attempt := 0; attempt < 1000; attempt++ {
		v := mu + sigma*g.polarBoxMuller()
		if v >= float64(g.cfg.KeyMin) && v <= float64(g.cfg.KeyMax) {
			return uint64(v)
		}
	}
	return uint64(mu)
}

// polarBoxMuller returns one standard-normal sample using the polar
// (Marsaglia) method.
func (g *Generator) polarBoxMuller() float64 {
	for {
		u := 2*g.rng.Float64() - 1
		v := 2*g.rng.Float64() - 1
		s := u*u + v*v
		if s > 0 && s < 1 {
			mult := math.Sqrt(-2 * math.Log(s) / s)
			return u * mult
		}
	}
}

func (g *Generator) zipf() uint64 {
	if len(g.zipfCDF) == 0 {
		return g.cfg.KeyMin
	}
	r := g.rng.Float64()
	lo, hi := 0, len(g.zipfCDF)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if g.zipfCDF[mid] < r {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return g.cfg.KeyMin + uint64(lo)
}

// buildZipfCDF precomputes a cumulative distribution over [min,max] for
// Zipf parameter s: P(rank k) ∝ 1/k^s, ranks 1-indexed by position from min.
func buildZipfCDF(min, max uint64, s float64) []float64 {
	n := int(max - min + 1)
	weights := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		w := 1.0 / math.Pow(float64(i+1), s)
		weights[i] = w
		total += w
	}
	cdf := make([]float64, n)
	var acc float64
	for i, w := range weights {
		acc += w / total
		cdf[i] = acc
	}
	cdf[n-1] = 1.0
	return cdf
}
