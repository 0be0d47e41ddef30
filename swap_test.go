// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/check.v1"
)

type swapSuite struct{}

var _ = check.Suite(&swapSuite{})

type captureReporter struct {
	res *Result
	err error
}

func (cr *captureReporter) Report(res *Result) error {
	cr.res = res
	return cr.err
}

// looseConfig lifts the p-value and e-value cutoffs. A null built
// from two individuals and three markers cannot produce p below 0.14,
// so the default 0.05 cutoff would report no swaps for the small
// scenarios here.
func looseConfig() Config {
	cfg := DefaultConfig()
	cfg.PValueMax = 1
	cfg.EValueMax = 1e9
	cfg.NullDistributionTrials = 20
	cfg.NullDistributionSubsampleFraction = 1
	cfg.LDCorrectionTrials = 10
	cfg.SelfMatchTrials = 20
	cfg.Threads = 2
	return cfg
}

func (s *swapSuite) TestIdenticalDatasets(c *check.C) {
	rows := map[string]string{"Indiv1": "123", "Indiv2": "321"}
	barcode := mustMatrix(c, threeMarkers, rows, "Indiv1", "Indiv2")
	test := mustMatrix(c, threeMarkers, rows, "Indiv1", "Indiv2")
	d := NewSwapDetector(barcode, test, looseConfig())
	rep := &captureReporter{}
	c.Assert(d.Run(context.Background(), rep), check.IsNil)
	c.Check(d.State(), check.Equals, Reported)
	c.Assert(rep.res, check.NotNil)
	c.Check(rep.res.SnpStats, check.HasLen, 3)
	for _, st := range rep.res.SnpStats {
		c.Check(st.Mismatch, check.Equals, 0)
		c.Check(st.Match, check.Equals, 2)
		c.Check(st.Total(), check.Equals, 2)
	}
	for _, sm := range rep.res.SelfMatches {
		c.Check(sm.Mismatched, check.HasLen, 0)
		c.Check(sm.PValue, check.Equals, 1.0)
		c.Check(sm.EValue, check.Equals, 2.0)
	}
	c.Check(rep.res.BarcodeFingerprint, check.Equals, rep.res.TestFingerprint)
}

func scenarioSwap(c *check.C) (*GenotypeMatrix, *GenotypeMatrix) {
	barcode := mustMatrix(c, threeMarkers, map[string]string{
		"Indiv1": "111",
		"Indiv2": "333",
	}, "Indiv1", "Indiv2")
	test := mustMatrix(c, threeMarkers, map[string]string{
		"Indiv1": "333",
		"Indiv2": "222",
	}, "Indiv1", "Indiv2")
	return barcode, test
}

func (s *swapSuite) TestSwap(c *check.C) {
	barcode, test := scenarioSwap(c)
	d := NewSwapDetector(barcode, test, looseConfig())
	rep := &captureReporter{}
	c.Assert(d.Run(context.Background(), rep), check.IsNil)
	pairs := rep.res.Pairs
	c.Assert(pairs, check.HasLen, 1)
	top := pairs[0]
	c.Check(top.OriginalLabel, check.Equals, "Indiv1")
	c.Check(top.NewLabel, check.Equals, "Indiv2")
	c.Check(top.Mismatch, check.Equals, 0)
	c.Check(top.Match, check.Equals, 3)
	c.Check(top.OriginalMismatch, check.Equals, 3)
	c.Check(top.RawScore, check.Equals, 0.125)
	c.Check(top.LDInflationRatio, check.Equals, 1.0)
	c.Check(top.AdjustedScore, check.Equals, 0.125)
	c.Check(top.EValue, check.Equals, top.PValue*2)

	for _, sm := range rep.res.SelfMatches {
		if sm.Individual == "Indiv1" {
			c.Check(sm.Mismatched, check.HasLen, 3)
		}
	}
}

func (s *swapSuite) TestThresholds(c *check.C) {
	barcode, test := scenarioSwap(c)
	cfg := looseConfig()
	cfg.PValueMax = 0
	d := NewSwapDetector(barcode, test, cfg)
	rep := &captureReporter{}
	c.Assert(d.Run(context.Background(), rep), check.IsNil)
	c.Check(rep.res.Pairs, check.HasLen, 0)

	cfg = looseConfig()
	cfg.MinEvidence = 0.9
	d = NewSwapDetector(barcode, test, cfg)
	c.Assert(d.Run(context.Background(), rep), check.IsNil)
	c.Check(rep.res.Pairs, check.HasLen, 0)
}

func (s *swapSuite) TestAllMissingMarker(c *check.C) {
	rows := map[string]string{"Indiv1": "120", "Indiv2": "320", "Indiv3": "110"}
	barcode := mustMatrix(c, threeMarkers, rows, "Indiv1", "Indiv2", "Indiv3")
	test := mustMatrix(c, threeMarkers, rows, "Indiv1", "Indiv2", "Indiv3")
	for gc := Missing; gc < numGenotypeCodes; gc++ {
		_, ok := test.Frequency("2:300", gc)
		c.Check(ok, check.Equals, false)
	}
	for _, a := range barcode.Individuals() {
		for _, b := range test.Individuals() {
			cmp := Compare(barcode.Profile(a), test.Profile(b), threeMarkers)
			c.Check(cmp.Unknown >= 1, check.Equals, true)
			for _, mc := range cmp.Match {
				c.Check(mc.Marker, check.Not(check.Equals), Marker("2:300"))
			}
			for _, m := range cmp.Mismatch {
				c.Check(m, check.Not(check.Equals), Marker("2:300"))
			}
		}
	}
	d := NewSwapDetector(barcode, test, looseConfig())
	rep := &captureReporter{}
	c.Assert(d.Run(context.Background(), rep), check.IsNil)
	c.Check(rep.res.SnpStats[2], check.DeepEquals, SnpStat{Marker: "2:300", Unknown: 3, HWEPvalue: 1})
	for _, p := range rep.res.Pairs {
		c.Check(p.Unknown >= 1, check.Equals, true)
	}
}

func (s *swapSuite) TestStateMachine(c *check.C) {
	barcode, test := scenarioSwap(c)
	d := NewSwapDetector(barcode, test, looseConfig())
	c.Check(d.State(), check.Equals, Idle)
	err := d.ScorePairs(context.Background())
	c.Check(errors.Is(err, ErrBadState), check.Equals, true)
	c.Check(d.State(), check.Equals, Idle)

	c.Assert(d.ComputeSnpStats(), check.IsNil)
	c.Check(d.State(), check.Equals, SnpStatsComputed)
	c.Check(errors.Is(d.ComputeSnpStats(), ErrBadState), check.Equals, true)
	c.Assert(d.BuildNullDistribution(context.Background()), check.IsNil)
	c.Assert(d.ScorePairs(context.Background()), check.IsNil)
	c.Assert(d.Rank(), check.IsNil)
	c.Check(d.State(), check.Equals, Ranked)

	failing := &captureReporter{err: errors.New("disk full")}
	c.Check(d.Report(failing), check.ErrorMatches, "disk full")
	c.Check(d.State(), check.Equals, Failed)
	c.Check(errors.Is(d.Rank(), ErrBadState), check.Equals, true)
}

func (s *swapSuite) TestNoSharedMarkers(c *check.C) {
	barcode := mustMatrix(c, []Marker{"5:5"}, map[string]string{"a": "1"}, "a")
	test := mustMatrix(c, threeMarkers, map[string]string{"a": "123"}, "a")
	d := NewSwapDetector(barcode, test, looseConfig())
	err := d.Run(context.Background(), &captureReporter{})
	c.Check(errors.Is(err, ErrSchemaMismatch), check.Equals, true)
	c.Check(d.State(), check.Equals, Failed)
}

func (s *swapSuite) TestRank(c *check.C) {
	d := &SwapDetector{state: PairsScored}
	d.result.Pairs = []ScoredPair{
		{OriginalLabel: "c", NewLabel: "x", Posterior: 0.5, PValue: 0.01},
		{OriginalLabel: "b", NewLabel: "x", Posterior: 0.9, PValue: 0.02},
		{OriginalLabel: "a", NewLabel: "y", Posterior: 0.9, PValue: 0.02},
		{OriginalLabel: "a", NewLabel: "x", Posterior: 0.9, PValue: 0.02},
		{OriginalLabel: "d", NewLabel: "x", Posterior: 0.9, PValue: 0.001},
	}
	c.Assert(d.Rank(), check.IsNil)
	var got []string
	for _, p := range d.Result().Pairs {
		got = append(got, p.OriginalLabel+p.NewLabel)
	}
	c.Check(got, check.DeepEquals, []string{"dx", "ax", "ay", "bx", "cx"})
}

func simulatedMatrices(c *check.C, sim *Simulation) (barcode, chip *GenotypeMatrix) {
	markers := func(n int) []Marker {
		var out []Marker
		for i := 1; i <= n; i++ {
			out = append(out, Marker(fmt.Sprintf("1:%d", i)))
		}
		return out
	}
	barcode, err := NewGenotypeMatrix(markers(len(sim.Barcode[0])), sim.Individuals, sim.Barcode, nil)
	c.Assert(err, check.IsNil)
	chip, err = NewGenotypeMatrix(markers(len(sim.Chip[0])), sim.Individuals, sim.Chip, nil)
	c.Assert(err, check.IsNil)
	return barcode, chip
}

func (s *swapSuite) TestChipWiderThanPanel(c *check.C) {
	opts := DefaultSimulateOptions()
	opts.Individuals = 120
	opts.ChipSNPs = 40
	opts.BarcodeSNPs = 10
	opts.Swaps = 2
	opts.Seed = 11
	sim, err := Simulate(opts)
	c.Assert(err, check.IsNil)
	barcode, chip := simulatedMatrices(c, sim)
	panelOnly := restrictMatrix(c, chip, NewMarkerSet(barcode.Markers()))

	cfg := DefaultConfig()
	cfg.NullDistributionTrials = 100
	cfg.LDCorrectionTrials = 10
	cfg.SelfMatchTrials = 100
	cfg.Threads = 4
	wide := NewSwapDetector(barcode, chip, cfg)
	c.Assert(wide.Run(context.Background(), &captureReporter{}), check.IsNil)
	narrow := NewSwapDetector(barcode, panelOnly, cfg)
	c.Assert(narrow.Run(context.Background(), &captureReporter{}), check.IsNil)

	// chip-only markers must not leak into the null: with 10 panel
	// markers no null score can exceed C(10,5)
	null := wide.Result().Null
	c.Assert(null, check.HasLen, 100*12)
	c.Check(null[len(null)-1] <= 252, check.Equals, true, check.Commentf("max null score %g", null[len(null)-1]))
	c.Check(null, check.DeepEquals, narrow.Result().Null)
	c.Check(wide.Result().Pairs, check.DeepEquals, narrow.Result().Pairs)
	c.Check(wide.Result().SnpStats, check.DeepEquals, narrow.Result().SnpStats)
}
