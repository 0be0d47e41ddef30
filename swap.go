// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	log "github.com/sirupsen/logrus"
)

var ErrBadState = errors.New("operation not valid in current state")

type DetectorState int

const (
	Idle DetectorState = iota
	SnpStatsComputed
	NullDistributionBuilt
	PairsScored
	Ranked
	Reported
	Failed
)

func (s DetectorState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SnpStatsComputed:
		return "SnpStatsComputed"
	case NullDistributionBuilt:
		return "NullDistributionBuilt"
	case PairsScored:
		return "PairsScored"
	case Ranked:
		return "Ranked"
	case Reported:
		return "Reported"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("DetectorState(%d)", int(s))
	}
}

// SnpStat tallies how each individual's barcode call compares with
// its test call at one marker.
type SnpStat struct {
	Marker    Marker
	Match     int
	Mismatch  int
	Unknown   int
	HWEPvalue float64 // Hardy-Weinberg p-value of the test calls
}

func (s SnpStat) Total() int { return s.Match + s.Mismatch + s.Unknown }

// SelfMatch describes how well a test individual matches the barcode
// individual with the same ID.
type SelfMatch struct {
	Individual string
	Prob       float64
	PValue     float64
	EValue     float64
	Mismatched []Marker
}

// ScoredPair is a candidate swap: test individual OriginalLabel
// appears to be barcode individual NewLabel.
type ScoredPair struct {
	OriginalLabel    string
	NewLabel         string
	RawScore         float64
	LDInflationRatio float64
	AdjustedScore    float64
	PValue           float64
	EValue           float64
	Posterior        float64
	Match            int
	Mismatch         int
	Unknown          int
	OriginalMismatch int // OriginalLabel's mismatches against its own barcode
}

// Result is everything a Reporter needs to write a run's output.
type Result struct {
	Config             Config
	BarcodeFingerprint string
	TestFingerprint    string
	SnpStats           []SnpStat
	SelfMatches        []SelfMatch
	Null               NullDistribution
	Pairs              []ScoredPair
}

type Reporter interface {
	Report(*Result) error
}

// SwapDetector compares a barcode panel with a test dataset. The
// steps must be called in order (Run does this); calling a step out
// of order returns ErrBadState, and a failed step leaves the
// detector in the Failed state.
type SwapDetector struct {
	Barcode *GenotypeMatrix
	Test    *GenotypeMatrix
	Config  Config

	state    DetectorState
	shared   []Marker
	selfProb map[string]float64
	selfMism map[string]int
	binom    binomialTable
	result   Result
}

func NewSwapDetector(barcode, test *GenotypeMatrix, cfg Config) *SwapDetector {
	return &SwapDetector{Barcode: barcode, Test: test, Config: cfg}
}

func (d *SwapDetector) State() DetectorState { return d.state }

// Result returns the results accumulated so far.
func (d *SwapDetector) Result() *Result { return &d.result }

func (d *SwapDetector) advance(from, to DetectorState, step func() error) error {
	if d.state != from {
		return fmt.Errorf("%w: cannot go from %s to %s", ErrBadState, d.state, to)
	}
	if err := step(); err != nil {
		d.state = Failed
		return err
	}
	d.state = to
	return nil
}

// Run performs every step and hands the result to reporter.
func (d *SwapDetector) Run(ctx context.Context, reporter Reporter) error {
	for _, step := range []func() error{
		d.ComputeSnpStats,
		func() error { return d.BuildNullDistribution(ctx) },
		func() error { return d.ScorePairs(ctx) },
		d.Rank,
		func() error { return d.Report(reporter) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// ComputeSnpStats tallies matches between each individual's barcode
// and test calls at every shared marker, then scores each test
// individual against its own barcode.
func (d *SwapDetector) ComputeSnpStats() error {
	return d.advance(Idle, SnpStatsComputed, d.computeSnpStats)
}

func (d *SwapDetector) computeSnpStats() error {
	d.result.Config = d.Config
	d.result.BarcodeFingerprint = d.Barcode.Fingerprint()
	d.result.TestFingerprint = d.Test.Fingerprint()
	d.shared = d.Barcode.IntersectMarkers(d.Test)
	if len(d.shared) == 0 {
		return fmt.Errorf("%w: no markers in common between %s barcode and %s test data", ErrSchemaMismatch, d.Barcode, d.Test)
	}
	if dropped := d.Barcode.NumMarkers() - len(d.shared); dropped > 0 {
		log.Warnf("%d barcode markers are absent from test data", dropped)
	}
	var common []string
	for _, id := range d.Barcode.Individuals() {
		if d.Test.HasIndividual(id) {
			common = append(common, id)
		}
	}
	if len(common) == 0 {
		log.Warn("no individuals in common between barcode and test data")
	}
	log.Infof("computing snp stats: %d markers, %d individuals in common", len(d.shared), len(common))

	mismatched := map[string][]Marker{}
	stats := make([]SnpStat, len(d.shared))
	statIndex := make(map[Marker]int, len(d.shared))
	for i, m := range d.shared {
		st := SnpStat{Marker: m}
		for _, id := range common {
			bc, _ := d.Barcode.Lookup(id, m)
			tc, _ := d.Test.Lookup(id, m)
			switch {
			case !bc.Called() || !tc.Called():
				st.Unknown++
			case bc == tc:
				st.Match++
			default:
				st.Mismatch++
				mismatched[id] = append(mismatched[id], m)
			}
		}
		st.HWEPvalue = hwePvalue(d.Test.GenotypeCounts(m))
		stats[i] = st
		statIndex[m] = i
	}
	d.result.SnpStats = stats

	sampled := d.sampleMismatchProbs(stats)
	ntest := float64(d.Test.NumIndividuals())
	d.selfProb = map[string]float64{}
	d.selfMism = map[string]int{}
	for _, id := range d.Test.Individuals() {
		sm := SelfMatch{Individual: id, Prob: 1, PValue: 1, EValue: ntest, Mismatched: mismatched[id]}
		if len(sm.Mismatched) > 0 {
			totals := 0
			for _, m := range sm.Mismatched {
				st := stats[statIndex[m]]
				sm.Prob *= float64(st.Mismatch) / float64(st.Mismatch+st.Match)
				totals += st.Total()
			}
			sm.PValue = sampled.PValue(sm.Prob)
			sm.EValue = sm.PValue * float64(totals) / float64(len(sm.Mismatched))
		}
		if d.Barcode.HasIndividual(id) {
			d.selfProb[id] = sm.Prob
		}
		d.selfMism[id] = len(sm.Mismatched)
		d.result.SelfMatches = append(d.result.SelfMatches, sm)
	}
	return nil
}

// sampleMismatchProbs simulates SelfMatchTrials individuals whose
// outcome at each marker (match, mismatch, unknown) is drawn from
// that marker's tally. Each simulated individual's probability is the
// product of the mismatch fractions at the markers where a mismatch
// was drawn.
func (d *SwapDetector) sampleMismatchProbs(stats []SnpStat) NullDistribution {
	r := newRand(d.Config.RandomSeed, 1<<40)
	sampled := make(NullDistribution, 0, d.Config.SelfMatchTrials)
	for i := 0; i < d.Config.SelfMatchTrials; i++ {
		prob := 1.0
		for _, st := range stats {
			outcome, err := Normalize([]float64{float64(st.Match), float64(st.Mismatch), float64(st.Unknown)})
			if err != nil {
				continue
			}
			t := r.Float64()
			if t >= outcome[0] && t < outcome[0]+outcome[1] {
				prob *= outcome[1]
			}
		}
		sampled = append(sampled, prob)
	}
	sort.Float64s(sampled)
	return sampled
}

// BuildNullDistribution samples the null distribution of pair scores
// for the test population.
func (d *SwapDetector) BuildNullDistribution(ctx context.Context) error {
	return d.advance(SnpStatsComputed, NullDistributionBuilt, func() error {
		null, err := SampleNullDistribution(ctx, d.Test, d.shared, d.Config.nullOptions())
		if err != nil {
			return err
		}
		log.Infof("null distribution: %s", null.Summary())
		d.result.Null = null
		return nil
	})
}

// ScorePairs scores every (barcode, test) pair with different IDs
// and keeps the ones that pass the p-value and e-value thresholds.
func (d *SwapDetector) ScorePairs(ctx context.Context) error {
	return d.advance(NullDistributionBuilt, PairsScored, func() error {
		return d.scorePairs(ctx)
	})
}

func (d *SwapDetector) scorePairs(ctx context.Context) error {
	threads := d.Config.Threads
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	if d.Config.Multiplicity {
		d.binom = newBinomialTable(len(d.shared))
	}
	testIDs := d.Test.Individuals()
	perTest := make([][]ScoredPair, len(testIDs))
	throttle := throttle{Max: threads}
	for i, tid := range testIDs {
		if err := ctx.Err(); err != nil {
			throttle.Report(err)
			break
		}
		i, tid := i, tid
		throttle.Go(func() error {
			pairs, err := d.scoreTestIndividual(ctx, i, tid)
			perTest[i] = pairs
			return err
		})
	}
	if err := throttle.Wait(); err != nil {
		return err
	}
	var pairs []ScoredPair
	for _, p := range perTest {
		pairs = append(pairs, p...)
	}
	log.Infof("scored %d test individuals against %d barcode individuals, %d candidate swaps", len(testIDs), d.Barcode.NumIndividuals(), len(pairs))
	d.result.Pairs = pairs
	return nil
}

func (d *SwapDetector) scoreTestIndividual(ctx context.Context, idx int, tid string) ([]ScoredPair, error) {
	cfg := &d.Config
	r := newRand(cfg.RandomSeed, 1<<32+uint64(idx))
	ntest := float64(d.Test.NumIndividuals())
	tprof := d.Test.Profile(tid)
	var pairs []ScoredPair
	for _, bid := range d.Barcode.Individuals() {
		if bid == tid {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cmp := Compare(d.Barcode.Profile(bid), tprof, d.shared)
		raw := RawScore(d.Test, cmp)
		if raw >= 1 {
			continue
		}
		ratio := LDInflationRatio(r, d.Test, cmp, cfg.LDCorrectionTrials)
		adjusted := raw * ratio
		if cfg.Multiplicity {
			adjusted = d.binom.applyMultiplicity(adjusted, cmp)
		}
		if 1-adjusted < cfg.MinEvidence {
			continue
		}
		p := d.result.Null.PValue(adjusted)
		e := p * ntest
		if p > cfg.PValueMax || e > cfg.EValueMax {
			continue
		}
		posterior := (1 - raw) *
			(cfg.PosteriorEpsilon + 1 - d.selfProbOf(bid)) *
			(cfg.PosteriorEpsilon + 1 - d.selfProbOf(tid))
		pairs = append(pairs, ScoredPair{
			OriginalLabel:    tid,
			NewLabel:         bid,
			RawScore:         raw,
			LDInflationRatio: ratio,
			AdjustedScore:    adjusted,
			PValue:           p,
			EValue:           e,
			Posterior:        posterior,
			Match:            len(cmp.Match),
			Mismatch:         len(cmp.Mismatch),
			Unknown:          cmp.Unknown,
			OriginalMismatch: d.selfMism[tid],
		})
	}
	log.Debugf("%s: %d candidate swaps", tid, len(pairs))
	return pairs, nil
}

func (d *SwapDetector) selfProbOf(id string) float64 {
	if p, ok := d.selfProb[id]; ok {
		return p
	}
	return 1
}

// Rank sorts pairs by posterior (descending), then p-value, then
// labels.
func (d *SwapDetector) Rank() error {
	return d.advance(PairsScored, Ranked, func() error {
		sort.SliceStable(d.result.Pairs, func(i, j int) bool {
			a, b := d.result.Pairs[i], d.result.Pairs[j]
			if a.Posterior != b.Posterior {
				return a.Posterior > b.Posterior
			}
			if a.PValue != b.PValue {
				return a.PValue < b.PValue
			}
			if a.OriginalLabel != b.OriginalLabel {
				return a.OriginalLabel < b.OriginalLabel
			}
			return a.NewLabel < b.NewLabel
		})
		if len(d.result.Pairs) == 0 {
			log.Info("No swaps detected")
		}
		return nil
	})
}

func (d *SwapDetector) Report(reporter Reporter) error {
	return d.advance(Ranked, Reported, func() error {
		return reporter.Report(&d.result)
	})
}
