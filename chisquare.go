// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1, Src: rand.NewSource(rand.Uint64())}

// hwePvalue tests the genotype counts at one marker (indexed by
// GenotypeCode, Missing ignored) for departure from Hardy-Weinberg
// proportions. Monomorphic or empty markers yield 1.
func hwePvalue(counts [numGenotypeCodes]int) float64 {
	obs := [3]float64{
		float64(counts[HomozygousMinor]),
		float64(counts[Heterozygous]),
		float64(counts[HomozygousMajor]),
	}
	n := obs[0] + obs[1] + obs[2]
	if n == 0 {
		return 1
	}
	p := (2*obs[0] + obs[1]) / (2 * n)
	q := 1 - p
	if p == 0 || q == 0 {
		return 1
	}
	exp := [3]float64{n * p * p, 2 * n * p * q, n * q * q}
	var sum float64
	for i := range exp {
		d := obs[i] - exp[i]
		sum += d * d / exp[i]
	}
	return 1 - chisquared.CDF(sum)
}
