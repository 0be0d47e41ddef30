// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"fmt"

	"gopkg.in/check.v1"
)

type hweSuite struct{}

var _ = check.Suite(&hweSuite{})

func (s *hweSuite) TestEquilibrium(c *check.C) {
	c.Check(fmt.Sprintf("%.6f", hwePvalue([4]int{7, 25, 50, 25})), check.Equals, "1.000000")
}

func (s *hweSuite) TestNoHeterozygotes(c *check.C) {
	p := hwePvalue([4]int{0, 50, 0, 50})
	c.Check(p < 1e-10, check.Equals, true, check.Commentf("p=%g", p))
}

func (s *hweSuite) TestModerateExcess(c *check.C) {
	c.Check(fmt.Sprintf("%.5f", hwePvalue([4]int{0, 36, 48, 16})), check.Equals, "1.00000")
	// chi2 = 4 with 1 df
	c.Check(fmt.Sprintf("%.4f", hwePvalue([4]int{0, 30, 40, 30})), check.Equals, "0.0455")
}

func (s *hweSuite) TestDegenerate(c *check.C) {
	c.Check(hwePvalue([4]int{}), check.Equals, 1.0)
	c.Check(hwePvalue([4]int{3, 10, 0, 0}), check.Equals, 1.0)
	c.Check(hwePvalue([4]int{3, 0, 0, 10}), check.Equals, 1.0)
}
