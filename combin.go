// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/BenLubar/memoize"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrInvalidSampleSize = errors.New("invalid sample size")
	ErrZeroSum           = errors.New("cannot normalize: sum is zero")
)

// BinomialCoefficient returns n choose k as an exact integer.
func BinomialCoefficient(n, k int64) (*big.Int, error) {
	if n < 0 || k < 0 || k > n {
		return nil, fmt.Errorf("binomial coefficient undefined for n=%d k=%d", n, k)
	}
	return new(big.Int).Binomial(n, k), nil
}

// memoizedBinomial caches coefficients by (n, k). Callers must not
// modify the returned value.
var memoizedBinomial = memoize.Memoize(func(n, k int64) *big.Int {
	return new(big.Int).Binomial(n, k)
})

var memoizedBinomialMtx sync.Mutex

func binomialCached(n, k int64) *big.Int {
	memoizedBinomialMtx.Lock()
	defer memoizedBinomialMtx.Unlock()
	return memoizedBinomial.(func(int64, int64) *big.Int)(n, k)
}

// ScaleByBinomial returns x * C(n, k). The product is taken in
// arbitrary precision so a large coefficient multiplied by a tiny x
// does not overflow to +Inf along the way.
func ScaleByBinomial(x float64, n, k int) float64 {
	if n < 0 || k < 0 || k > n {
		return x
	}
	if k == 0 || k == n {
		return x
	}
	c := new(big.Float).SetInt(binomialCached(int64(n), int64(k)))
	f, _ := c.Mul(c, big.NewFloat(x)).Float64()
	return f
}

// maxBinomialTable bounds the rows precomputed by newBinomialTable.
// Larger n falls back to the shared cache.
const maxBinomialTable = 256

// binomialTable holds C(n, k) for every n below len(tbl). It is
// read-only once built, so concurrent workers share it without
// locking.
type binomialTable [][]*big.Float

func newBinomialTable(nmax int) binomialTable {
	if nmax > maxBinomialTable {
		nmax = maxBinomialTable
	}
	if nmax < 0 {
		nmax = 0
	}
	tbl := make(binomialTable, nmax+1)
	for n := range tbl {
		tbl[n] = make([]*big.Float, n+1)
		for k := range tbl[n] {
			tbl[n][k] = new(big.Float).SetInt(binomialCached(int64(n), int64(k)))
		}
	}
	return tbl
}

// scale returns x * C(n, k), same as ScaleByBinomial.
func (tbl binomialTable) scale(x float64, n, k int) float64 {
	if n < 0 || k <= 0 || k >= n {
		return x
	}
	if n >= len(tbl) {
		return ScaleByBinomial(x, n, k)
	}
	f, _ := new(big.Float).Mul(tbl[n][k], big.NewFloat(x)).Float64()
	return f
}

// Normalize returns counts scaled to sum to 1.
func Normalize(counts []float64) ([]float64, error) {
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("cannot normalize: negative value %f at index %d", c, i)
		}
	}
	sum := floats.Sum(counts)
	if sum == 0 {
		return nil, ErrZeroSum
	}
	out := append([]float64(nil), counts...)
	floats.Scale(1/sum, out)
	return out, nil
}

// WeightedSample returns n distinct indices in [0, size), drawn
// without replacement. If weights is nil, each index is equally
// likely; otherwise weights[i] is the relative weight of index i.
//
// Each draw picks a uniform threshold in [0,1) and walks the
// cumulative normalized weights of the items not yet chosen; the
// first item whose cumulative weight exceeds the threshold is taken.
// If rounding leaves the threshold unmet, the last remaining item is
// taken.
func WeightedSample(r *rand.Rand, weights []float64, size, n int) ([]int, error) {
	if n < 0 || n > size {
		return nil, fmt.Errorf("%w: cannot sample %d from a population of %d", ErrInvalidSampleSize, n, size)
	}
	if weights != nil && len(weights) != size {
		return nil, fmt.Errorf("%d weights do not match population of %d", len(weights), size)
	}
	remaining := make([]int, size)
	for i := range remaining {
		remaining[i] = i
	}
	chosen := make([]int, 0, n)
	var w []float64
	for len(chosen) < n {
		pick := len(remaining) - 1
		threshold := r.Float64()
		if weights == nil {
			cumulative := 0.0
			step := 1 / float64(len(remaining))
			for i := range remaining {
				cumulative += step
				if cumulative > threshold {
					pick = i
					break
				}
			}
		} else {
			w = w[:0]
			for _, idx := range remaining {
				w = append(w, weights[idx])
			}
			norm, err := Normalize(w)
			if err != nil {
				return nil, fmt.Errorf("%w: %d items left with no positive weight after drawing %d of %d", ErrInvalidSampleSize, len(remaining), len(chosen), n)
			}
			cumulative := 0.0
			for i, p := range norm {
				cumulative += p
				if cumulative > threshold {
					pick = i
					break
				}
			}
		}
		chosen = append(chosen, remaining[pick])
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return chosen, nil
}

// drawGenotype draws a single genotype code from a frequency table.
func drawGenotype(r *rand.Rand, ft *frequencyTable) GenotypeCode {
	if !ft.ok {
		return Missing
	}
	threshold := r.Float64()
	cumulative := 0.0
	for gc := HomozygousMinor; gc < numGenotypeCodes; gc++ {
		cumulative += ft.freq[gc]
		if cumulative > threshold {
			return gc
		}
	}
	for gc := GenotypeCode(numGenotypeCodes - 1); gc > Missing; gc-- {
		if ft.freq[gc] > 0 {
			return gc
		}
	}
	return Missing
}

// newRand returns a deterministic source for the given seed and
// stream, so independent work items can be processed in any order.
func newRand(seed int64, stream uint64) *rand.Rand {
	return rand.New(rand.NewSource(uint64(seed)*0x9e3779b97f4a7c15 + stream))
}
