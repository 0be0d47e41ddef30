// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

type NullOptions struct {
	Trials            int
	SubsampleFraction float64
	Multiplicity      bool
	Seed              int64
	Threads           int
}

// NullDistribution is a sorted (ascending) pool of scores obtained
// by comparing test individuals against random genotype profiles.
type NullDistribution []float64

// SampleNullDistribution builds the null distribution for the test
// population over the given markers, which should be the markers
// that pair scores are computed on. Each trial draws one synthetic
// profile from the per-marker genotype frequencies and scores a
// random subsample of test individuals against it. Markers absent
// from test are ignored.
func SampleNullDistribution(ctx context.Context, test *GenotypeMatrix, markers []Marker, opts NullOptions) (NullDistribution, error) {
	if opts.Trials < 0 {
		return nil, fmt.Errorf("%w: %d null distribution trials", ErrInvalidSampleSize, opts.Trials)
	}
	nindiv := test.NumIndividuals()
	subsample := int(float64(nindiv) * opts.SubsampleFraction)
	if subsample < 1 {
		subsample = 1
	}
	if nindiv == 0 || opts.Trials == 0 {
		return NullDistribution{}, nil
	}
	threads := opts.Threads
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	var cols []int
	for _, m := range markers {
		if col, ok := test.markerCol[m]; ok {
			cols = append(cols, col)
		}
	}
	log.Infof("sampling null distribution: %d trials x %d of %d individuals, %d markers", opts.Trials, subsample, nindiv, len(cols))

	var binom binomialTable
	if opts.Multiplicity {
		binom = newBinomialTable(len(cols))
	}
	results := make([][]float64, opts.Trials)
	throttle := throttle{Max: threads}
	for trial := 0; trial < opts.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			throttle.Report(err)
			break
		}
		trial := trial
		throttle.Go(func() error {
			r := newRand(opts.Seed, uint64(trial))
			profile := make(syntheticProfile, len(cols))
			used := make([]Marker, len(cols))
			for i, col := range cols {
				used[i] = test.markers[col]
				profile[used[i]] = drawGenotype(r, &test.freqs[col])
			}
			rows, err := WeightedSample(r, nil, nindiv, subsample)
			if err != nil {
				return err
			}
			scores := make([]float64, 0, len(rows))
			for _, row := range rows {
				cmp := Compare(individualProfile{gm: test, row: row}, profile, used)
				score := RawScore(test, cmp)
				if opts.Multiplicity {
					score = binom.applyMultiplicity(score, cmp)
				}
				scores = append(scores, score)
			}
			results[trial] = scores
			log.Debugf("null trial %d: %d scores", trial, len(scores))
			return nil
		})
	}
	if err := throttle.Wait(); err != nil {
		return nil, err
	}
	var null NullDistribution
	for _, scores := range results {
		null = append(null, scores...)
	}
	sort.Float64s(null)
	return null, nil
}

// PValue returns the fraction of the null distribution at or below
// score, counting score itself: (1 + number of null scores <= score)
// / len, capped at 1. An empty distribution yields 1.
func (null NullDistribution) PValue(score float64) float64 {
	if len(null) == 0 {
		return 1
	}
	rank := sort.Search(len(null), func(i int) bool { return null[i] > score })
	p := float64(1+rank) / float64(len(null))
	if p > 1 {
		p = 1
	}
	return p
}

type NullSummary struct {
	N                int
	Min, Median, Max float64
	Mean, SD         float64
}

func (s NullSummary) String() string {
	return fmt.Sprintf("n=%d min=%g median=%g max=%g mean=%g sd=%g", s.N, s.Min, s.Median, s.Max, s.Mean, s.SD)
}

func (null NullDistribution) Summary() NullSummary {
	if len(null) == 0 {
		return NullSummary{}
	}
	mean, sd := stat.MeanStdDev(null, nil)
	return NullSummary{
		N:      len(null),
		Min:    null[0],
		Median: stat.Quantile(0.5, stat.Empirical, null, nil),
		Max:    null[len(null)-1],
		Mean:   mean,
		SD:     sd,
	}
}
