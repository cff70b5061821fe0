package simulate

import "math/rand"

// RealRNG adapts *rand.Rand to the RNG seam.
type RealRNG struct{ *rand.Rand }

// NewRealRNG seeds a new generator from seed.
func NewRealRNG(seed int64) RealRNG {
	return RealRNG{rand.New(rand.NewSource(seed))}
}

func (r RealRNG) NormFloat64() float64 { return r.Rand.NormFloat64() }
