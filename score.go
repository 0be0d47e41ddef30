// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"golang.org/x/exp/rand"
)

// GenotypeSource supplies one genotype per marker: a real individual
// from a GenotypeMatrix, or a synthetic profile.
type GenotypeSource interface {
	Call(m Marker) GenotypeCode
}

type individualProfile struct {
	gm  *GenotypeMatrix
	row int
}

func (p individualProfile) Call(m Marker) GenotypeCode {
	col, ok := p.gm.markerCol[m]
	if !ok {
		return Missing
	}
	return p.gm.at(p.row, col)
}

// Profile returns the calls of individual id. An unknown individual
// yields a profile with every call Missing.
func (gm *GenotypeMatrix) Profile(id string) GenotypeSource {
	row, ok := gm.indivRow[id]
	if !ok {
		return syntheticProfile(nil)
	}
	return individualProfile{gm: gm, row: row}
}

// syntheticProfile is a drawn genotype per marker.
type syntheticProfile map[Marker]GenotypeCode

func (p syntheticProfile) Call(m Marker) GenotypeCode {
	return p[m]
}

type matchedCall struct {
	Marker Marker
	Code   GenotypeCode
}

// Comparison is the outcome of comparing two genotype sources over a
// list of markers.
type Comparison struct {
	Match    []matchedCall
	Mismatch []Marker
	Unknown  int
}

func (cmp *Comparison) Total() int {
	return len(cmp.Match) + len(cmp.Mismatch) + cmp.Unknown
}

// Compare classifies each marker as Unknown (either side missing),
// Match or Mismatch.
func Compare(a, b GenotypeSource, markers []Marker) Comparison {
	var cmp Comparison
	for _, m := range markers {
		ga, gb := a.Call(m), b.Call(m)
		switch {
		case !ga.Called() || !gb.Called():
			cmp.Unknown++
		case ga == gb:
			cmp.Match = append(cmp.Match, matchedCall{m, ga})
		default:
			cmp.Mismatch = append(cmp.Mismatch, m)
		}
	}
	return cmp
}

// RawScore is the probability that an unrelated individual drawn
// from the test population would match at every matched marker: the
// product of the matched codes' frequencies. Markers with no usable
// frequency contribute nothing. With no matches the score is 1.
func RawScore(test *GenotypeMatrix, cmp Comparison) float64 {
	score := 1.0
	for _, mc := range cmp.Match {
		if f, ok := test.Frequency(mc.Marker, mc.Code); ok {
			score *= f
		}
	}
	return score
}

// applyMultiplicity multiplies score by the number of ways the
// observed mismatches could have been placed among the compared
// markers. Coefficients beyond the table come from the shared cache.
func (tbl binomialTable) applyMultiplicity(score float64, cmp Comparison) float64 {
	return tbl.scale(score, len(cmp.Match)+len(cmp.Mismatch), len(cmp.Mismatch))
}

// LDInflationRatio estimates how much linkage between the matched
// markers inflates the raw score. Each trial takes a random subset
// of the matched markers and compares the number of test individuals
// carrying the matched code at all of them with the number expected
// if markers were independent. The mean observed/expected ratio is
// returned, or 1 if no trial produced a usable ratio. The ratio is
// only estimated for comparisons with at least one mismatch and two
// matches.
func LDInflationRatio(r *rand.Rand, test *GenotypeMatrix, cmp Comparison, trials int) float64 {
	nmatch := len(cmp.Match)
	if len(cmp.Mismatch) == 0 || nmatch < 2 || trials < 1 {
		return 1
	}
	nindiv := test.NumIndividuals()
	var sum float64
	var recorded int
	cols := make([]int, 0, nmatch)
trial:
	for trial := 0; trial < trials; trial++ {
		size := 2 + r.Intn(nmatch-1)
		idx, err := WeightedSample(r, nil, nmatch, size)
		if err != nil {
			continue
		}
		expected := float64(nindiv)
		cols = cols[:0]
		for _, i := range idx {
			mc := cmp.Match[i]
			col, ok := test.markerCol[mc.Marker]
			if !ok {
				continue trial
			}
			f, ok := test.frequencyAt(col, mc.Code)
			if !ok {
				continue trial
			}
			expected *= f
			cols = append(cols, col)
		}
		observed := 0
	indiv:
		for row := 0; row < nindiv; row++ {
			for j, col := range cols {
				if test.at(row, col) != cmp.Match[idx[j]].Code {
					continue indiv
				}
			}
			observed++
		}
		if observed == 0 || expected == 0 {
			continue
		}
		sum += float64(observed) / expected
		recorded++
	}
	if recorded == 0 {
		return 1
	}
	return sum / float64(recorded)
}
