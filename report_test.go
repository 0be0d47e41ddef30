// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type reportSuite struct{}

var _ = check.Suite(&reportSuite{})

func (s *reportSuite) TestFileReporter(c *check.C) {
	barcode, test := scenarioSwap(c)
	tmpdir := c.MkDir()
	d := NewSwapDetector(barcode, test, looseConfig())
	c.Assert(d.Run(context.Background(), &fileReporter{Dir: tmpdir}), check.IsNil)

	buf, err := ioutil.ReadFile(tmpdir + "/swaps.tsv")
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	c.Assert(lines, check.HasLen, 4)
	c.Check(lines[0], check.Equals, "# barcode "+barcode.Fingerprint())
	c.Check(lines[1], check.Equals, "# test "+test.Fingerprint())
	c.Check(lines[2], check.Equals, "ORIGINAL_LABEL\tNEW_LABEL\tPVALUE\tEVALUE\tPOSTERIOR\tMATCH\tMISMATCH\tUNKNOWN\tLD_INFLATION_RATIO\tORIGINAL_MISMATCH")
	fields := strings.Split(lines[3], "\t")
	c.Check(fields, check.HasLen, 10)
	c.Check(fields[0:2], check.DeepEquals, []string{"Indiv1", "Indiv2"})
	c.Check(fields[5:], check.DeepEquals, []string{"3", "0", "0", "1", "3"})

	buf, err = ioutil.ReadFile(tmpdir + "/snp_stats.tsv")
	c.Assert(err, check.IsNil)
	lines = strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	c.Assert(lines, check.HasLen, 4)
	c.Check(lines[0], check.Equals, "MARKER\tMATCH\tMISMATCH\tMISSING\tTOTAL\tHWE_PVALUE")
	for i, m := range threeMarkers {
		c.Check(strings.HasPrefix(lines[i+1], string(m)+"\t0\t2\t0\t2\t"), check.Equals, true, check.Commentf("%q", lines[i+1]))
	}

	buf, err = ioutil.ReadFile(tmpdir + "/barcode_mismatches.tsv")
	c.Assert(err, check.IsNil)
	lines = strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	c.Check(lines, check.HasLen, 3)
	c.Check(lines[0], check.Equals, "INDV\tPROB\tPVALUE\tEVALUE\tNMISMATCH")

	// posterior is tiny because both individuals mismatch their
	// own barcodes everywhere
	buf, err = ioutil.ReadFile(tmpdir + "/swaps.dot")
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "digraph swaps {\n}\n")

	f, err := os.Open(tmpdir + "/null-distribution.npy")
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{40})
	null, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Check(null, check.DeepEquals, []float64(d.Result().Null))
}

func (s *reportSuite) TestSwapGraph(c *check.C) {
	res := &Result{
		Config: Config{GraphThreshold: 0.95},
		Pairs: []ScoredPair{
			{OriginalLabel: "fam1 a", NewLabel: "fam2 b", Posterior: 0.99},
			{OriginalLabel: "fam3 c", NewLabel: "fam4 d", Posterior: 0.95},
		},
	}
	var buf bytes.Buffer
	c.Assert(writeSwapGraph(&buf, res), check.IsNil)
	c.Check(buf.String(), check.Equals, "digraph swaps {\n\t\"fam1 a\" -> \"fam2 b\" [label=\"0.99\"];\n}\n")
}

func (s *reportSuite) TestSelfMatchOrder(c *check.C) {
	res := &Result{SelfMatches: []SelfMatch{
		{Individual: "b", Prob: 1, PValue: 1, EValue: 3},
		{Individual: "a", Prob: 0.2, PValue: 0.1, EValue: 0.3, Mismatched: []Marker{"1:1"}},
		{Individual: "c", Prob: 1, PValue: 1, EValue: 3},
	}}
	var buf bytes.Buffer
	c.Assert(writeSelfMatches(&buf, res), check.IsNil)
	c.Check(buf.String(), check.Equals, `INDV	PROB	PVALUE	EVALUE	NMISMATCH
a	0.2	0.1	0.3	1
b	1	1	3	0
c	1	1	3	0
`)
}
