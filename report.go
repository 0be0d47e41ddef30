// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// fileReporter writes a Result as a set of files in Dir.
type fileReporter struct {
	Dir string
}

func (fr *fileReporter) Report(res *Result) error {
	for _, out := range []struct {
		name  string
		write func(io.Writer, *Result) error
	}{
		{"snp_stats.tsv", writeSnpStats},
		{"barcode_mismatches.tsv", writeSelfMatches},
		{"swaps.tsv", writeSwaps},
		{"swaps.dot", writeSwapGraph},
		{"null-distribution.npy", func(w io.Writer, res *Result) error { return writeNullDistribution(w, res.Null) }},
	} {
		fnm := filepath.Join(fr.Dir, out.name)
		log.Infof("writing %s", fnm)
		if err := writeFile(fnm, func(w io.Writer) error { return out.write(w, res) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fnm string, write func(io.Writer) error) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	err = write(bufw)
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

func writeSnpStats(w io.Writer, res *Result) error {
	fmt.Fprintln(w, "MARKER\tMATCH\tMISMATCH\tMISSING\tTOTAL\tHWE_PVALUE")
	for _, st := range res.SnpStats {
		_, err := fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%g\n", st.Marker, st.Match, st.Mismatch, st.Unknown, st.Total(), st.HWEPvalue)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeSelfMatches lists test individuals by how poorly they match
// their own barcode, most suspicious first.
func writeSelfMatches(w io.Writer, res *Result) error {
	sms := append([]SelfMatch(nil), res.SelfMatches...)
	sort.SliceStable(sms, func(i, j int) bool {
		if sms[i].PValue != sms[j].PValue {
			return sms[i].PValue < sms[j].PValue
		}
		return sms[i].Individual < sms[j].Individual
	})
	fmt.Fprintln(w, "INDV\tPROB\tPVALUE\tEVALUE\tNMISMATCH")
	for _, sm := range sms {
		_, err := fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%d\n", sm.Individual, sm.Prob, sm.PValue, sm.EValue, len(sm.Mismatched))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeSwaps(w io.Writer, res *Result) error {
	fmt.Fprintf(w, "# barcode %s\n# test %s\n", res.BarcodeFingerprint, res.TestFingerprint)
	fmt.Fprintln(w, "ORIGINAL_LABEL\tNEW_LABEL\tPVALUE\tEVALUE\tPOSTERIOR\tMATCH\tMISMATCH\tUNKNOWN\tLD_INFLATION_RATIO\tORIGINAL_MISMATCH")
	for _, p := range res.Pairs {
		_, err := fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%g\t%d\t%d\t%d\t%g\t%d\n",
			p.OriginalLabel, p.NewLabel, p.PValue, p.EValue, p.Posterior,
			p.Match, p.Mismatch, p.Unknown, p.LDInflationRatio, p.OriginalMismatch)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeSwapGraph writes a DOT digraph with an edge from each test
// label to the barcode label it appears to be, for pairs whose
// posterior exceeds the configured threshold.
func writeSwapGraph(w io.Writer, res *Result) error {
	fmt.Fprintln(w, "digraph swaps {")
	for _, p := range res.Pairs {
		if p.Posterior <= res.Config.GraphThreshold {
			continue
		}
		_, err := fmt.Fprintf(w, "\t%q -> %q [label=\"%.3g\"];\n", p.OriginalLabel, p.NewLabel, p.Posterior)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

// writeNullDistribution writes the sorted null scores as a 1-D
// float64 numpy array.
func writeNullDistribution(w io.Writer, null NullDistribution) error {
	npw, err := gonpy.NewWriter(nopCloser{w})
	if err != nil {
		return err
	}
	npw.Shape = []int{len(null)}
	return npw.WriteFloat64(null)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
