// Package noise provides bounded random jitter for crop geometry.
package noise

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"
)

// Source is the random source consumed by a Sampler.
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
	Float64() float64
}

// Sampler draws integer perturbations and uniform multipliers
type Sampler struct {
	src Source
}

// New creates a Sampler backed by a PCG generator seeded with seed
func New(seed uint64) *Sampler {
	return &Sampler{src: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewWithSource creates a Sampler backed by a custom source
func NewWithSource(src Source) *Sampler {
	return &Sampler{src: src}
}

// Noise adds a uniformly drawn integer in [-floor(scale*pct), floor(scale*pct)] to value.
// The result is not clamped; callers re-clamp as needed.
func (s *Sampler) Noise(value, scale, pct float64) float64 {
	half := int(math.Floor(scale * pct))
	if half <= 0 {
		return value
	}
	return value + float64(s.src.IntN(2*half+1)-half)
}

// Uniform returns a value drawn uniformly from [lo, hi)
func (s *Sampler) Uniform(lo, hi float64) float64 {
	return lo + s.src.Float64()*(hi-lo)
}

// Derive mixes a run seed with a key so each image gets its own stable stream
func Derive(seed uint64, key int) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatUint(seed, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.Itoa(key)))
	return h.Sum64()
}

// Shuffle permutes n elements with a Fisher-Yates pass driven by the source
func (s *Sampler) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := s.src.IntN(i + 1)
		swap(i, j)
	}
}
