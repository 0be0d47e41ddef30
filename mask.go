// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

type interval struct {
	start int
	end   int
}

type intervalTreeNode struct {
	interval interval
	maxend   int
}

type intervalTree []intervalTreeNode

// regionMask is a set of closed intervals per chromosome. Add
// intervals, call Freeze, then query with Check or Contains.
type regionMask struct {
	intervals map[string][]interval
	itrees    map[string]intervalTree
	frozen    bool
}

// chromosome names are compared without a leading "chr", so BED
// files using "chr1" match PLINK maps using "1".
func normalizeChromosome(chr string) string {
	return strings.TrimPrefix(chr, "chr")
}

func (m *regionMask) Add(chr string, start, end int) {
	if m.intervals == nil {
		m.intervals = map[string][]interval{}
	}
	chr = normalizeChromosome(chr)
	m.intervals[chr] = append(m.intervals[chr], interval{start, end})
}

func (m *regionMask) Freeze() {
	m.itrees = map[string]intervalTree{}
	for chr, intervals := range m.intervals {
		m.itrees[chr] = m.freeze(intervals)
	}
	m.frozen = true
}

// Check reports whether any interval overlaps [start, end].
func (m *regionMask) Check(chr string, start, end int) bool {
	if !m.frozen {
		panic("bug: (*regionMask)Check() called before Freeze()")
	}
	return m.itrees[normalizeChromosome(chr)].check(0, interval{start, end})
}

// Filter returns the subset of markers whose 1-based position falls
// inside a region.
func (m *regionMask) Filter(markers []Marker) MarkerSet {
	set := MarkerSet{}
	for _, mk := range markers {
		chr, pos, err := mk.split()
		if err != nil {
			continue
		}
		if m.Check(chr, pos, pos) {
			set[mk] = true
		}
	}
	return set
}

func (m *regionMask) freeze(in []interval) intervalTree {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		return in[i].start < in[j].start
	})
	itreesize := 1
	for itreesize < len(in) {
		itreesize = itreesize * 2
	}
	itree := make(intervalTree, itreesize)
	itree.importSlice(0, in)
	for i := len(in); i < itreesize; i++ {
		itree[i].maxend = -1
	}
	return itree
}

func (itree intervalTree) check(root int, q interval) bool {
	return root < len(itree) &&
		itree[root].maxend >= q.start &&
		((itree[root].interval.start <= q.end && itree[root].interval.end >= q.start) ||
			itree.check(root*2+1, q) ||
			itree.check(root*2+2, q))
}

func (itree intervalTree) importSlice(root int, in []interval) int {
	mid := len(in) / 2
	node := intervalTreeNode{interval: in[mid], maxend: in[mid].end}
	if mid > 0 {
		end := itree.importSlice(root*2+1, in[0:mid])
		if end > node.maxend {
			node.maxend = end
		}
	}
	if mid+1 < len(in) {
		end := itree.importSlice(root*2+2, in[mid+1:])
		if end > node.maxend {
			node.maxend = end
		}
	}
	itree[root] = node
	return node.maxend
}

// readBED loads regions from a BED file into a frozen mask. BED
// intervals are 0-based and half-open; they are stored as closed
// 1-based intervals to match PLINK positions.
func readBED(r io.Reader) (*regionMask, error) {
	m := &regionMask{}
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 fields, got %d", lineno, len(fields))
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: start: %w", lineno, err)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: end: %w", lineno, err)
		}
		if end <= start {
			continue
		}
		m.Add(fields[0], start+1, end)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	m.Freeze()
	return m, nil
}
