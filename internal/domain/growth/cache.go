package growth

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// FitCache stores converged parameters keyed by CacheKey.
type FitCache interface {
	Get(ctx context.Context, key string) (Params, bool, error)
	Put(ctx context.Context, key string, p Params) error
}

// CacheKey hashes the fitted points together with the solver settings, so a
// change to either yields a new key.
func CacheKey(t, b []float64, opts SolverOptions) string {
	h := sha256.New()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, v := range opts.Bounds.Lower.vector() {
		put(v)
	}
	for _, v := range opts.Bounds.Upper.vector() {
		put(v)
	}
	put(float64(opts.MaxEvaluations))
	put(opts.Tolerance)
	for i := range t {
		put(t[i])
		put(b[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}
