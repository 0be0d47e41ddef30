// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"errors"
	"io/ioutil"
	"os"

	"github.com/klauspost/pgzip"
	"gopkg.in/check.v1"
)

type plinkSuite struct{}

var _ = check.Suite(&plinkSuite{})

const testMap = "1\trs1\t0\t100\n1\trs2\t0\t200\n2\trs3\t0\t300\n"

func writeTestFile(c *check.C, fnm, content string) {
	c.Assert(ioutil.WriteFile(fnm, []byte(content), 0666), check.IsNil)
}

func (s *plinkSuite) TestTabSeparated(c *check.C) {
	tmpdir := c.MkDir()
	writeTestFile(c, tmpdir+"/chip.map", testMap)
	writeTestFile(c, tmpdir+"/chip.ped", "ind0\tind0\t0\t0\t-9\t1\t1 1\t1 2\t2 2\t\nind1\tind1\t0\t0\t-9\t2\t0 0\t2 2\t1 0\t\n")
	gm, err := LoadPlink(tmpdir+"/chip", nil)
	c.Assert(err, check.IsNil)
	c.Check(gm.Markers(), check.DeepEquals, threeMarkers)
	c.Check(gm.Individuals(), check.DeepEquals, []string{"ind0 ind0", "ind1 ind1"})
	for _, trial := range []struct {
		id     string
		m      Marker
		expect GenotypeCode
	}{
		{"ind0 ind0", "1:100", HomozygousMinor},
		{"ind0 ind0", "1:200", Heterozygous},
		{"ind0 ind0", "2:300", HomozygousMajor},
		{"ind1 ind1", "1:100", Missing},
		{"ind1 ind1", "1:200", HomozygousMajor},
		{"ind1 ind1", "2:300", Missing},
	} {
		gc, ok := gm.Lookup(trial.id, trial.m)
		c.Check(ok, check.Equals, true)
		c.Check(gc, check.Equals, trial.expect, check.Commentf("%s %s", trial.id, trial.m))
	}
}

func (s *plinkSuite) TestSpaceSeparated(c *check.C) {
	tmpdir := c.MkDir()
	writeTestFile(c, tmpdir+"/chip.map", "1 rs1 0 100\n1 rs2 0 200\n2 rs3 0 300\n")
	writeTestFile(c, tmpdir+"/chip.ped", "fam1 a 0 0 1 -9 1 1 1 2 2 2\nfam2 b 0 0 2 -9 2 2 0 0 2 1\n")
	gm, err := LoadPlink(tmpdir+"/chip", NewMarkerSet([]Marker{"1:200", "2:300"}))
	c.Assert(err, check.IsNil)
	c.Check(gm.Markers(), check.DeepEquals, []Marker{"1:200", "2:300"})
	c.Check(gm.Individuals(), check.DeepEquals, []string{"fam1 a", "fam2 b"})
	gc, _ := gm.Lookup("fam2 b", "2:300")
	c.Check(gc, check.Equals, Heterozygous)
	gc, _ = gm.Lookup("fam2 b", "1:200")
	c.Check(gc, check.Equals, Missing)
}

func (s *plinkSuite) TestGzip(c *check.C) {
	tmpdir := c.MkDir()
	writeTestFile(c, tmpdir+"/chip.map", testMap)
	f, err := os.Create(tmpdir + "/chip.ped.gz")
	c.Assert(err, check.IsNil)
	gzw := pgzip.NewWriter(f)
	_, err = gzw.Write([]byte("ind0\tind0\t0\t0\t-9\t1\t1 1\t1 2\t2 2\n"))
	c.Assert(err, check.IsNil)
	c.Assert(gzw.Close(), check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	gm, err := LoadPlink(tmpdir+"/chip", nil)
	c.Assert(err, check.IsNil)
	c.Check(gm.NumIndividuals(), check.Equals, 1)
	gc, _ := gm.Lookup("ind0 ind0", "2:300")
	c.Check(gc, check.Equals, HomozygousMajor)
}

func (s *plinkSuite) TestErrors(c *check.C) {
	tmpdir := c.MkDir()
	writeTestFile(c, tmpdir+"/short.map", testMap)
	writeTestFile(c, tmpdir+"/short.ped", "ind0\tind0\t0\t0\t-9\t1\t1 1\t1 2\n")
	_, err := LoadPlink(tmpdir+"/short", nil)
	c.Check(errors.Is(err, ErrSchemaMismatch), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*short.ped: line 1 \(ind0 ind0\): .*[0-9] genotype fields for 3 markers`)

	writeTestFile(c, tmpdir+"/badallele.map", testMap)
	writeTestFile(c, tmpdir+"/badallele.ped", "a b 0 0 1 -9 1 1 A C 2 2\n")
	_, err = LoadPlink(tmpdir+"/badallele", nil)
	c.Check(err, check.ErrorMatches, `.*invalid recode12 allele "A"`)

	writeTestFile(c, tmpdir+"/dup.map", testMap)
	writeTestFile(c, tmpdir+"/dup.ped", "a b 0 0 1 -9 1 1 1 1 2 2\na b 0 0 1 -9 1 1 1 1 2 2\n")
	_, err = LoadPlink(tmpdir+"/dup", nil)
	c.Check(errors.Is(err, ErrDuplicateID), check.Equals, true)

	_, err = LoadPlink(tmpdir+"/nonexistent", nil)
	c.Check(errors.Is(err, os.ErrNotExist), check.Equals, true)
}

func (s *plinkSuite) TestMarkerList(c *check.C) {
	tmpdir := c.MkDir()
	writeTestFile(c, tmpdir+"/markers.tsv", "ID\tchr\tPOS\nrs1\t1\t100\nrs3\t2\t300\n\n")
	set, err := LoadMarkerList(tmpdir + "/markers.tsv")
	c.Assert(err, check.IsNil)
	c.Check(set, check.DeepEquals, MarkerSet{"1:100": true, "2:300": true})

	writeTestFile(c, tmpdir+"/panel.map", testMap)
	set, err = LoadMarkerList(tmpdir + "/panel.map")
	c.Assert(err, check.IsNil)
	c.Check(set, check.HasLen, 3)

	writeTestFile(c, tmpdir+"/noheader.tsv", "ID\tCHROM\tPOS\n")
	_, err = LoadMarkerList(tmpdir + "/noheader.tsv")
	c.Check(errors.Is(err, ErrSchemaMismatch), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*column "CHR" not found.*`)
}

func (s *plinkSuite) TestRegions(c *check.C) {
	tmpdir := c.MkDir()
	writeTestFile(c, tmpdir+"/panel.map", testMap)
	writeTestFile(c, tmpdir+"/regions.bed", "chr1\t150\t250\nchr2\t0\t1000\n")
	set, err := LoadRegions(tmpdir+"/regions.bed", tmpdir+"/panel")
	c.Assert(err, check.IsNil)
	c.Check(set, check.DeepEquals, MarkerSet{"1:200": true, "2:300": true})

	cfg := Config{MarkerFile: tmpdir + "/panel", Regions: tmpdir + "/regions.bed", MarkerList: tmpdir + "/panel.map"}
	restrict, err := loadRestriction(&cfg)
	c.Assert(err, check.IsNil)
	c.Check(restrict, check.DeepEquals, MarkerSet{"1:200": true, "2:300": true})

	restrict, err = loadRestriction(&Config{})
	c.Check(err, check.IsNil)
	c.Check(restrict, check.IsNil)
}
