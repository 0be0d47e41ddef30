// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrDuplicateID    = errors.New("duplicate identifier")
)

// Marker identifies a SNP as "chromosome:position".
type Marker string

func makeMarker(chr, pos string) Marker {
	return Marker(chr + ":" + pos)
}

func (m Marker) split() (chr string, pos int, err error) {
	i := strings.LastIndexByte(string(m), ':')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed marker %q", string(m))
	}
	pos, err = strconv.Atoi(string(m[i+1:]))
	return string(m[:i]), pos, err
}

// MarkerSet is used to restrict a matrix to a subset of markers. A
// nil MarkerSet means "no restriction".
type MarkerSet map[Marker]bool

func NewMarkerSet(markers []Marker) MarkerSet {
	set := make(MarkerSet, len(markers))
	for _, m := range markers {
		set[m] = true
	}
	return set
}

// GenotypeCode is an individual's call at one marker, collapsed
// from two allele reads.
type GenotypeCode uint8

const (
	Missing GenotypeCode = iota
	HomozygousMinor
	Heterozygous
	HomozygousMajor

	numGenotypeCodes = 4
)

func (gc GenotypeCode) String() string {
	switch gc {
	case Missing:
		return "missing"
	case HomozygousMinor:
		return "hom-minor"
	case Heterozygous:
		return "het"
	case HomozygousMajor:
		return "hom-major"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(gc))
	}
}

// Called reports whether gc is a usable (non-missing, valid) call.
func (gc GenotypeCode) Called() bool {
	return gc > Missing && gc < numGenotypeCodes
}

// genotypeFromAlleles combines two recode12 alleles (0=missing,
// 1=minor, 2=major). A call with one allele missing is folded into
// Missing, the same as a call with both alleles missing.
func genotypeFromAlleles(a1, a2 uint8) (GenotypeCode, error) {
	if a1 > 2 || a2 > 2 {
		return Missing, fmt.Errorf("invalid recode12 allele pair %d %d", a1, a2)
	}
	if a1 == 0 || a2 == 0 {
		return Missing, nil
	}
	return GenotypeCode(a1 + a2 - 1), nil
}

// frequencyTable holds genotype frequencies for one marker. If ok is
// false, the marker had no called genotypes and none of the
// frequencies are usable.
type frequencyTable struct {
	freq [numGenotypeCodes]float64
	ok   bool
}

// GenotypeMatrix is an individuals x markers grid of genotype codes,
// read-only after construction.
type GenotypeMatrix struct {
	markers     []Marker
	individuals []string
	codes       []GenotypeCode // row-major, len(individuals)*len(markers)
	markerCol   map[Marker]int
	indivRow    map[string]int
	freqs       []frequencyTable // one per marker column
}

// NewGenotypeMatrix builds a matrix from a marker list and one row of
// codes per individual. If restrict is non-nil, only markers that
// also appear in restrict are retained.
func NewGenotypeMatrix(markers []Marker, individuals []string, rows [][]GenotypeCode, restrict MarkerSet) (*GenotypeMatrix, error) {
	if len(rows) != len(individuals) {
		return nil, fmt.Errorf("%w: %d genotype rows for %d individuals", ErrSchemaMismatch, len(rows), len(individuals))
	}
	var keep []int
	seen := make(map[Marker]bool, len(markers))
	for col, m := range markers {
		if seen[m] {
			return nil, fmt.Errorf("%w: marker %s", ErrDuplicateID, m)
		}
		seen[m] = true
		if restrict == nil || restrict[m] {
			keep = append(keep, col)
		}
	}
	gm := &GenotypeMatrix{
		markers:     make([]Marker, len(keep)),
		individuals: append([]string(nil), individuals...),
		codes:       make([]GenotypeCode, len(keep)*len(individuals)),
		markerCol:   make(map[Marker]int, len(keep)),
		indivRow:    make(map[string]int, len(individuals)),
	}
	for newcol, oldcol := range keep {
		gm.markers[newcol] = markers[oldcol]
		gm.markerCol[markers[oldcol]] = newcol
	}
	for row, id := range individuals {
		if _, dup := gm.indivRow[id]; dup {
			return nil, fmt.Errorf("%w: individual %q", ErrDuplicateID, id)
		}
		gm.indivRow[id] = row
		if len(rows[row]) != len(markers) {
			return nil, fmt.Errorf("%w: individual %q has %d genotypes, expected %d", ErrSchemaMismatch, id, len(rows[row]), len(markers))
		}
		out := gm.codes[row*len(keep) : (row+1)*len(keep)]
		for newcol, oldcol := range keep {
			gc := rows[row][oldcol]
			if !gc.Called() {
				gc = Missing
			}
			out[newcol] = gc
		}
	}
	gm.computeFrequencies()
	return gm, nil
}

func (gm *GenotypeMatrix) computeFrequencies() {
	gm.freqs = make([]frequencyTable, len(gm.markers))
	for col := range gm.markers {
		counts := gm.countColumn(col)
		called := counts[HomozygousMinor] + counts[Heterozygous] + counts[HomozygousMajor]
		if called == 0 {
			continue
		}
		ft := &gm.freqs[col]
		ft.ok = true
		for gc := HomozygousMinor; gc < numGenotypeCodes; gc++ {
			ft.freq[gc] = float64(counts[gc]) / float64(called)
		}
	}
}

func (gm *GenotypeMatrix) countColumn(col int) (counts [numGenotypeCodes]int) {
	stride := len(gm.markers)
	for row := range gm.individuals {
		counts[gm.codes[row*stride+col]]++
	}
	return
}

func (gm *GenotypeMatrix) at(row, col int) GenotypeCode {
	return gm.codes[row*len(gm.markers)+col]
}

func (gm *GenotypeMatrix) Markers() []Marker     { return gm.markers }
func (gm *GenotypeMatrix) Individuals() []string { return gm.individuals }
func (gm *GenotypeMatrix) NumMarkers() int       { return len(gm.markers) }
func (gm *GenotypeMatrix) NumIndividuals() int   { return len(gm.individuals) }

func (gm *GenotypeMatrix) HasMarker(m Marker) bool {
	_, ok := gm.markerCol[m]
	return ok
}

func (gm *GenotypeMatrix) HasIndividual(id string) bool {
	_, ok := gm.indivRow[id]
	return ok
}

func (gm *GenotypeMatrix) String() string {
	return fmt.Sprintf("%dx%d genotype matrix", len(gm.individuals), len(gm.markers))
}

// Lookup returns the code for individual id at marker m. The second
// return value is false if either is absent from the matrix.
func (gm *GenotypeMatrix) Lookup(id string, m Marker) (GenotypeCode, bool) {
	row, ok := gm.indivRow[id]
	if !ok {
		return Missing, false
	}
	col, ok := gm.markerCol[m]
	if !ok {
		return Missing, false
	}
	return gm.at(row, col), true
}

// Frequency returns the frequency of gc among called genotypes at
// marker m. It returns false if the marker is absent, gc is Missing,
// or no individual has a called genotype at m.
func (gm *GenotypeMatrix) Frequency(m Marker, gc GenotypeCode) (float64, bool) {
	col, ok := gm.markerCol[m]
	if !ok {
		return 0, false
	}
	return gm.frequencyAt(col, gc)
}

func (gm *GenotypeMatrix) frequencyAt(col int, gc GenotypeCode) (float64, bool) {
	ft := &gm.freqs[col]
	if !ft.ok || !gc.Called() {
		return 0, false
	}
	return ft.freq[gc], true
}

// GenotypeCounts returns the number of individuals with each code
// (including Missing) at marker m.
func (gm *GenotypeMatrix) GenotypeCounts(m Marker) [4]int {
	col, ok := gm.markerCol[m]
	if !ok {
		return [4]int{}
	}
	return gm.countColumn(col)
}

// IntersectMarkers returns the markers present in both gm and other,
// in gm's column order.
func (gm *GenotypeMatrix) IntersectMarkers(other *GenotypeMatrix) []Marker {
	var shared []Marker
	for _, m := range gm.markers {
		if other.HasMarker(m) {
			shared = append(shared, m)
		}
	}
	return shared
}

// Fingerprint returns a hex blake2b-256 digest of the matrix
// content, suitable for recording which inputs produced a report.
func (gm *GenotypeMatrix) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	var lenbuf [8]byte
	writeString := func(s string) {
		binary.LittleEndian.PutUint64(lenbuf[:], uint64(len(s)))
		h.Write(lenbuf[:])
		h.Write([]byte(s))
	}
	for _, m := range gm.markers {
		writeString(string(m))
	}
	for _, id := range gm.individuals {
		writeString(id)
	}
	buf := make([]byte, len(gm.codes))
	for i, gc := range gm.codes {
		buf[i] = byte(gc)
	}
	h.Write(buf)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// CallIterator walks one row or one column of a GenotypeMatrix
// without copying it. Use Next to advance and Reset to start over.
//
//	it := gm.MarkersOf("ind1")
//	for it.Next() {
//		use(it.Marker(), it.Code())
//	}
type CallIterator struct {
	gm   *GenotypeMatrix
	row  int // fixed row, or -1 when walking rows
	col  int // fixed column, or -1 when walking columns
	pos  int
	size int
}

// MarkersOf iterates over (marker, code) for one individual, in
// marker order. An unknown individual yields an empty iterator.
func (gm *GenotypeMatrix) MarkersOf(id string) *CallIterator {
	row, ok := gm.indivRow[id]
	if !ok {
		return &CallIterator{gm: gm, pos: -1}
	}
	return &CallIterator{gm: gm, row: row, col: -1, pos: -1, size: len(gm.markers)}
}

// IndividualsOf iterates over (individual, code) for one marker, in
// individual order. An unknown marker yields an empty iterator.
func (gm *GenotypeMatrix) IndividualsOf(m Marker) *CallIterator {
	col, ok := gm.markerCol[m]
	if !ok {
		return &CallIterator{gm: gm, pos: -1}
	}
	return &CallIterator{gm: gm, row: -1, col: col, pos: -1, size: len(gm.individuals)}
}

func (it *CallIterator) Next() bool {
	if it.pos+1 >= it.size {
		it.pos = it.size
		return false
	}
	it.pos++
	return true
}

func (it *CallIterator) Reset() { it.pos = -1 }

func (it *CallIterator) Marker() Marker {
	if it.col >= 0 {
		return it.gm.markers[it.col]
	}
	return it.gm.markers[it.pos]
}

func (it *CallIterator) Individual() string {
	if it.row >= 0 {
		return it.gm.individuals[it.row]
	}
	return it.gm.individuals[it.pos]
}

func (it *CallIterator) Code() GenotypeCode {
	if it.col >= 0 {
		return it.gm.at(it.pos, it.col)
	}
	return it.gm.at(it.row, it.pos)
}
