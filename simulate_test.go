// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"errors"

	"gopkg.in/check.v1"
)

type simulateSuite struct{}

var _ = check.Suite(&simulateSuite{})

func (s *simulateSuite) TestLinkage(c *check.C) {
	opts := DefaultSimulateOptions()
	opts.Individuals = 200
	opts.LDBreakRate = 0
	opts.MismatchRate = 0
	opts.Swaps = 0
	sim, err := Simulate(opts)
	c.Assert(err, check.IsNil)
	c.Check(sim.Individuals, check.HasLen, 200)
	for i, row := range sim.Chip {
		for _, gc := range row {
			c.Check(gc, check.Equals, row[0])
		}
		c.Check(sim.Barcode[i], check.DeepEquals, row[:opts.BarcodeSNPs])
	}
}

func (s *simulateSuite) TestSwapsAndErrors(c *check.C) {
	opts := DefaultSimulateOptions()
	opts.Individuals = 30
	opts.BarcodeSNPs = 6
	opts.MismatchRate = 0
	opts.MissingData = true
	opts.Swaps = 3
	opts.Seed = 5
	sim, err := Simulate(opts)
	c.Assert(err, check.IsNil)
	c.Check(sim.Swapped, check.HasLen, 3)
	seen := map[int]bool{}
	for _, pair := range sim.Swapped {
		for _, i := range pair {
			c.Check(seen[i], check.Equals, false)
			seen[i] = true
		}
		// barcode was derived before the swap
		a, b := pair[0], pair[1]
		c.Check(sim.Barcode[a], check.DeepEquals, sim.Chip[b][:6])
		c.Check(sim.Barcode[b], check.DeepEquals, sim.Chip[a][:6])
	}

	again, err := Simulate(opts)
	c.Assert(err, check.IsNil)
	c.Check(again, check.DeepEquals, sim)

	opts.BarcodeSNPs = 20
	_, err = Simulate(opts)
	c.Check(errors.Is(err, ErrInvalidSampleSize), check.Equals, true)
	opts.BarcodeSNPs = 6
	opts.Swaps = 16
	_, err = Simulate(opts)
	c.Check(errors.Is(err, ErrInvalidSampleSize), check.Equals, true)
}

func (s *simulateSuite) TestWriteAndLoad(c *check.C) {
	opts := DefaultSimulateOptions()
	opts.Individuals = 10
	opts.MissingData = true
	opts.LDBreakRate = 0.5
	sim, err := Simulate(opts)
	c.Assert(err, check.IsNil)
	tmpdir := c.MkDir()
	c.Assert(sim.WritePlink(tmpdir, "chip", "bar"), check.IsNil)

	chip, err := LoadPlink(tmpdir+"/chip", nil)
	c.Assert(err, check.IsNil)
	c.Check(chip.NumMarkers(), check.Equals, opts.ChipSNPs)
	for i, id := range sim.Individuals {
		it := chip.MarkersOf(id + " " + id)
		j := 0
		for it.Next() {
			c.Check(it.Code(), check.Equals, sim.Chip[i][j])
			j++
		}
		c.Check(j, check.Equals, opts.ChipSNPs)
	}
}

func (s *simulateSuite) TestMutate(c *check.C) {
	r := newRand(9, 0)
	sawMissing := false
	for i := 0; i < 200; i++ {
		gc := mutateGenotype(r, Heterozygous, false)
		c.Check(gc == HomozygousMinor || gc == HomozygousMajor, check.Equals, true)
		gc = mutateGenotype(r, Heterozygous, true)
		c.Check(gc, check.Not(check.Equals), Heterozygous)
		sawMissing = sawMissing || gc == Missing
	}
	c.Check(sawMissing, check.Equals, true)
}
