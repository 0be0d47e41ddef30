// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/csimplestring/go-csv/detector"
	log "github.com/sirupsen/logrus"
)

// column addresses a field either by position or by header name.
// Name-addressed columns are resolved to a position once, when the
// header is read.
type column struct {
	Index int
	Name  string
}

func byIndex(i int) column     { return column{Index: i} }
func byName(name string) column { return column{Index: -1, Name: name} }

func (col column) resolve(header []string) (int, error) {
	if col.Name == "" {
		return col.Index, nil
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), col.Name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: column %q not found in header %q", ErrSchemaMismatch, col.Name, header)
}

// field returns fields[idx], or an error if the line is too short.
func field(fields []string, idx int) (string, error) {
	if idx < 0 || idx >= len(fields) {
		return "", fmt.Errorf("%w: need field %d, line has %d", ErrSchemaMismatch, idx+1, len(fields))
	}
	return fields[idx], nil
}

var (
	mapChr = byIndex(0)
	mapPos = byIndex(3)
	pedFID = byIndex(0)
	pedIID = byIndex(1)
)

const pedSampleColumns = 6

// zopenAny opens fnm, or fnm.gz if fnm does not exist.
func zopenAny(fnm string) (io.ReadCloser, string, error) {
	f, err := zopen(fnm)
	if errors.Is(err, os.ErrNotExist) {
		f, err = zopen(fnm + ".gz")
		if err == nil {
			return f, fnm + ".gz", nil
		}
	}
	return f, fnm, err
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<30)
	return scanner
}

// LoadPlink reads stem.map and stem.ped (either may be gzipped) in
// PLINK --recode12 format. If restrict is non-nil, only the markers
// it contains are kept.
func LoadPlink(stem string, restrict MarkerSet) (*GenotypeMatrix, error) {
	markers, err := readMapFile(stem + ".map")
	if err != nil {
		return nil, err
	}
	f, fnm, err := zopenAny(stem + ".ped")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	individuals, rows, err := readPed(f, len(markers))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	gm, err := NewGenotypeMatrix(markers, individuals, rows, restrict)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stem, err)
	}
	log.Infof("%s: loaded %s", stem, gm)
	return gm, nil
}

func readMapFile(fnm string) ([]Marker, error) {
	f, fnm, err := zopenAny(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	markers, err := readMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return markers, nil
}

// readMap reads a PLINK .map file: chromosome, marker ID, genetic
// distance, position.
func readMap(r io.Reader) ([]Marker, error) {
	var markers []Marker
	scanner := newLineScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		chr, err := field(fields, mapChr.Index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		pos, err := field(fields, mapPos.Index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		markers = append(markers, makeMarker(chr, pos))
	}
	return markers, scanner.Err()
}

// readPed reads a PLINK .ped file. Genotype fields are either
// tab-separated "a1 a2" pairs (one field per marker) or single
// alleles separated by whitespace (two fields per marker); the
// delimiter is detected from the start of the file. Individuals are
// identified as "FID IID".
func readPed(r io.Reader, nmarkers int) ([]string, [][]GenotypeCode, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	peek, _ := br.Peek(1 << 16)
	tabs := false
	for _, delim := range detector.New().DetectDelimiter(bytes.NewReader(peek), '"') {
		if delim == "\t" {
			tabs = true
		}
	}
	var individuals []string
	var rows [][]GenotypeCode
	scanner := newLineScanner(br)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		var fields []string
		if tabs {
			fields = strings.Split(line, "\t")
		} else {
			fields = strings.Fields(line)
		}
		fid, err := field(fields, pedFID.Index)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		iid, err := field(fields, pedIID.Index)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		if len(fields) < pedSampleColumns {
			return nil, nil, fmt.Errorf("line %d: %w: %d fields, expected at least %d", lineno, ErrSchemaMismatch, len(fields), pedSampleColumns)
		}
		row, err := parseGenotypes(fields[pedSampleColumns:], nmarkers)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d (%s %s): %w", lineno, fid, iid, err)
		}
		individuals = append(individuals, fid+" "+iid)
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return individuals, rows, nil
}

func parseGenotypes(fields []string, nmarkers int) ([]GenotypeCode, error) {
	row := make([]GenotypeCode, nmarkers)
	switch len(fields) {
	case nmarkers:
		for i, f := range fields {
			alleles := strings.Fields(f)
			if len(alleles) != 2 {
				return nil, fmt.Errorf("%w: genotype %d is %q, expected two alleles", ErrSchemaMismatch, i+1, f)
			}
			gc, err := parseAllelePair(alleles[0], alleles[1])
			if err != nil {
				return nil, err
			}
			row[i] = gc
		}
	case 2 * nmarkers:
		for i := range row {
			gc, err := parseAllelePair(fields[2*i], fields[2*i+1])
			if err != nil {
				return nil, err
			}
			row[i] = gc
		}
	default:
		return nil, fmt.Errorf("%w: %d genotype fields for %d markers", ErrSchemaMismatch, len(fields), nmarkers)
	}
	return row, nil
}

func parseAllelePair(a1, a2 string) (GenotypeCode, error) {
	b1, err := parseAllele(a1)
	if err != nil {
		return Missing, err
	}
	b2, err := parseAllele(a2)
	if err != nil {
		return Missing, err
	}
	return genotypeFromAlleles(b1, b2)
}

func parseAllele(s string) (uint8, error) {
	if len(s) != 1 || s[0] < '0' || s[0] > '2' {
		return 0, fmt.Errorf("invalid recode12 allele %q", s)
	}
	return s[0] - '0', nil
}

// LoadMarkerList reads a list of markers to keep: either a PLINK
// .map file, or a tab-separated file with CHR and POS header columns.
func LoadMarkerList(fnm string) (MarkerSet, error) {
	if strings.HasSuffix(fnm, ".map") || strings.HasSuffix(fnm, ".map.gz") {
		markers, err := readMapFile(strings.TrimSuffix(fnm, ".gz"))
		if err != nil {
			return nil, err
		}
		return NewMarkerSet(markers), nil
	}
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	markers, err := readMarkerTable(f, byName("CHR"), byName("POS"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return NewMarkerSet(markers), nil
}

func readMarkerTable(r io.Reader, chrCol, posCol column) ([]Marker, error) {
	scanner := newLineScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing header", ErrSchemaMismatch)
	}
	header := strings.Split(scanner.Text(), "\t")
	chrIdx, err := chrCol.resolve(header)
	if err != nil {
		return nil, err
	}
	posIdx, err := posCol.resolve(header)
	if err != nil {
		return nil, err
	}
	var markers []Marker
	lineno := 1
	for scanner.Scan() {
		lineno++
		if scanner.Text() == "" {
			continue
		}
		fields := strings.Split(scanner.Text(), "\t")
		chr, err := field(fields, chrIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		pos, err := field(fields, posIdx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		markers = append(markers, makeMarker(strings.TrimSpace(chr), strings.TrimSpace(pos)))
	}
	return markers, scanner.Err()
}

// LoadRegions reads a BED file and returns the markers of the
// barcode map (stem.map) that fall inside its regions.
func LoadRegions(bedfile, mapstem string) (MarkerSet, error) {
	f, err := zopen(bedfile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mask, err := readBED(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", bedfile, err)
	}
	markers, err := readMapFile(mapstem + ".map")
	if err != nil {
		return nil, err
	}
	set := mask.Filter(markers)
	log.Infof("%s: %d of %d markers inside regions", bedfile, len(set), len(markers))
	return set, nil
}

// intersectSets returns the markers in both a and b, treating nil as
// "everything".
func intersectSets(a, b MarkerSet) MarkerSet {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := MarkerSet{}
	for m := range a {
		if b[m] {
			out[m] = true
		}
	}
	return out
}
