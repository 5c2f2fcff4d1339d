package materialize

import (
	"hash/fnv"
	"math/rand/v2"
)

// Sampler draws uniform integers in [0, n).
type Sampler interface {
	IntN(n int) int
}

// SamplerFactory returns the sampler for one sub-region.
type SamplerFactory func(subRegionID string) Sampler

// SeededSamplers returns a factory whose samplers are PCG streams keyed by
// the run seed and the sub-region id, so a sub-region's draws do not depend
// on processing order.
func SeededSamplers(seed uint64) SamplerFactory {
	return func(subRegionID string) Sampler {
		return rand.New(rand.NewPCG(seed, hashID(subRegionID)))
	}
}

func hashID(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

// sampleWithoutReplacement returns k distinct elements of pool chosen
// uniformly. pool is reordered in place; the sample is its first k entries.
func sampleWithoutReplacement(pool []int, k int, s Sampler) []int {
	if k > len(pool) {
		k = len(pool)
	}
	for i := 0; i < k; i++ {
		j := i + s.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
