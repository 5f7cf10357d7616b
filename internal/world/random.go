package world

import (
	"hash/fnv"

	"rewind/internal/checksum"
)

// DeterministicSeedValue derives a non-zero seed for label from rootSeed.
func DeterministicSeedValue(rootSeed, label string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return sum
}

// RNG is a splitmix64 generator. Its whole state is one word, so it can be
// stored as a resource and rolled back with a plain copy.
type RNG struct {
	State uint64
}

// NewRNG seeds a generator for label.
func NewRNG(rootSeed, label string) RNG {
	return RNG{State: DeterministicSeedValue(rootSeed, label)}
}

// Uint64 returns the next value.
func (r *RNG) Uint64() uint64 {
	r.State += 0x9e3779b97f4a7c15
	z := r.State
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Float64 returns a value in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Intn returns a value in [0, n). It panics if n <= 0.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic("world: Intn with non-positive bound")
	}
	return int(r.Uint64() % uint64(n))
}

// Range returns a value in [min, max).
func (r *RNG) Range(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + r.Float64()*(max-min)
}

func (r RNG) HashInto(h *checksum.Hasher) {
	h.WriteUint64(r.State)
}
