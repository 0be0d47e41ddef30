// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// SimulateOptions controls the synthetic datasets produced by
// Simulate.
type SimulateOptions struct {
	Individuals  int
	ChipSNPs     int
	BarcodeSNPs  int     // first BarcodeSNPs chip markers are on the panel
	MismatchRate float64 // per-call barcode genotyping error rate
	LDBreakRate  float64 // per-call chance of departing from the first marker
	MissingData  bool
	Swaps        int
	Seed         int64
}

func DefaultSimulateOptions() SimulateOptions {
	return SimulateOptions{
		Individuals:  1000,
		ChipSNPs:     12,
		BarcodeSNPs:  12,
		MismatchRate: 0.01,
		LDBreakRate:  0.1,
		Swaps:        1,
	}
}

// Simulation is a generated pair of datasets. Chip holds the test
// genotypes after swapping, Barcode the panel genotypes.
type Simulation struct {
	Individuals []string
	Chip        [][]GenotypeCode
	Barcode     [][]GenotypeCode
	Swapped     [][2]int // pairs of individual indices whose chip rows were exchanged
}

// Simulate generates a test dataset in which every marker is in
// strong linkage with the first, a barcode panel derived from it with
// genotyping errors, and a number of swapped test samples.
func Simulate(opts SimulateOptions) (*Simulation, error) {
	if opts.Individuals < 1 || opts.ChipSNPs < 1 {
		return nil, fmt.Errorf("%w: need at least one individual and one marker", ErrInvalidSampleSize)
	}
	if opts.BarcodeSNPs < 1 || opts.BarcodeSNPs > opts.ChipSNPs {
		return nil, fmt.Errorf("%w: %d barcode markers with %d chip markers", ErrInvalidSampleSize, opts.BarcodeSNPs, opts.ChipSNPs)
	}
	r := newRand(opts.Seed, 0)
	sim := &Simulation{}
	for i := 0; i < opts.Individuals; i++ {
		sim.Individuals = append(sim.Individuals, fmt.Sprintf("ind%d", i))
		chip := make([]GenotypeCode, opts.ChipSNPs)
		first := GenotypeCode(1 + r.Intn(3))
		for j := range chip {
			chip[j] = first
			if r.Float64() < opts.LDBreakRate {
				chip[j] = mutateGenotype(r, chip[j], opts.MissingData)
			}
		}
		barcode := append([]GenotypeCode(nil), chip[:opts.BarcodeSNPs]...)
		for j := range barcode {
			if r.Float64() < opts.MismatchRate {
				barcode[j] = mutateGenotype(r, barcode[j], opts.MissingData)
			}
		}
		sim.Chip = append(sim.Chip, chip)
		sim.Barcode = append(sim.Barcode, barcode)
	}
	if opts.Swaps > 0 {
		idx, err := WeightedSample(r, nil, opts.Individuals, 2*opts.Swaps)
		if err != nil {
			return nil, fmt.Errorf("cannot make %d swaps among %d individuals: %w", opts.Swaps, opts.Individuals, err)
		}
		for k := 0; k < len(idx); k += 2 {
			a, b := idx[k], idx[k+1]
			sim.Chip[a], sim.Chip[b] = sim.Chip[b], sim.Chip[a]
			sim.Swapped = append(sim.Swapped, [2]int{a, b})
		}
	}
	return sim, nil
}

// mutateGenotype returns a genotype different from gc, possibly
// Missing if missing is true.
func mutateGenotype(r *rand.Rand, gc GenotypeCode, missing bool) GenotypeCode {
	lo := 1
	if missing {
		lo = 0
	}
	for {
		alt := GenotypeCode(lo + r.Intn(numGenotypeCodes-lo))
		if alt != gc {
			return alt
		}
	}
}

// WritePlink writes dir/chipStem.{ped,map}, dir/barcodeStem.{ped,map}
// and dir/chipStem.swaps (one "ID;ID" line per swapped pair).
func (sim *Simulation) WritePlink(dir, chipStem, barcodeStem string) error {
	for _, out := range []struct {
		stem string
		rows [][]GenotypeCode
	}{
		{chipStem, sim.Chip},
		{barcodeStem, sim.Barcode},
	} {
		nmarkers := 0
		if len(out.rows) > 0 {
			nmarkers = len(out.rows[0])
		}
		err := writeFile(filepath.Join(dir, out.stem+".map"), func(w io.Writer) error {
			for i := 1; i <= nmarkers; i++ {
				if _, err := fmt.Fprintf(w, "%d\trs%d\t0\t%d\n", i, i, i); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		err = writeFile(filepath.Join(dir, out.stem+".ped"), func(w io.Writer) error {
			return sim.writePed(w, out.rows)
		})
		if err != nil {
			return err
		}
	}
	return writeFile(filepath.Join(dir, chipStem+".swaps"), func(w io.Writer) error {
		for _, pair := range sim.Swapped {
			a, b := sim.Individuals[pair[0]], sim.Individuals[pair[1]]
			if _, err := fmt.Fprintf(w, "%s %s;%s %s\n", a, a, b, b); err != nil {
				return err
			}
		}
		return nil
	})
}

var recode12 = [numGenotypeCodes]string{"0 0", "1 1", "1 2", "2 2"}

func (sim *Simulation) writePed(w io.Writer, rows [][]GenotypeCode) error {
	for i, row := range rows {
		id := sim.Individuals[i]
		sex := 1 + i%2
		if _, err := fmt.Fprintf(w, "%s\t%s\t0\t0\t-9\t%d", id, id, sex); err != nil {
			return err
		}
		for _, gc := range row {
			if _, err := fmt.Fprintf(w, "\t%s", recode12[gc]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

type simulatecmd struct{}

func (cmd *simulatecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	chipStem := flags.String("chip", "chip", "PLINK `stem` for the test dataset")
	barcodeStem := flags.String("barcode", "bar", "PLINK `stem` for the barcode panel")
	opts := DefaultSimulateOptions()
	flags.IntVar(&opts.Individuals, "individuals", opts.Individuals, "number of individuals")
	flags.IntVar(&opts.ChipSNPs, "chip-snps", opts.ChipSNPs, "number of markers in the test dataset")
	flags.IntVar(&opts.BarcodeSNPs, "barcode-snps", opts.BarcodeSNPs, "number of markers on the barcode panel (at most -chip-snps)")
	flags.Float64Var(&opts.MismatchRate, "mismatch-rate", opts.MismatchRate, "barcode genotyping error `rate`")
	flags.Float64Var(&opts.LDBreakRate, "ld-break-rate", opts.LDBreakRate, "chance that a marker departs from the first marker's genotype")
	flags.BoolVar(&opts.MissingData, "missing", opts.MissingData, "allow mutated genotypes to be missing")
	flags.IntVar(&opts.Swaps, "swaps", opts.Swaps, "number of pairs of test samples to swap")
	flags.Int64Var(&opts.Seed, "seed", opts.Seed, "random `seed`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}
	if opts.MismatchRate < 0 || opts.MismatchRate > 1 || opts.LDBreakRate < 0 || opts.LDBreakRate > 1 {
		err = errors.New("rates must be in [0,1]")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		runner := arvadosContainerRunner{
			Name:        "wunderbar simulate",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         4000000000,
			VCPUs:       1,
			Priority:    *priority,
		}
		runner.Args = []string{"simulate", "-local=true",
			"-output-dir=/mnt/output",
			"-chip=" + *chipStem,
			"-barcode=" + *barcodeStem,
			fmt.Sprintf("-individuals=%d", opts.Individuals),
			fmt.Sprintf("-chip-snps=%d", opts.ChipSNPs),
			fmt.Sprintf("-barcode-snps=%d", opts.BarcodeSNPs),
			fmt.Sprintf("-mismatch-rate=%g", opts.MismatchRate),
			fmt.Sprintf("-ld-break-rate=%g", opts.LDBreakRate),
			fmt.Sprintf("-missing=%v", opts.MissingData),
			fmt.Sprintf("-swaps=%d", opts.Swaps),
			fmt.Sprintf("-seed=%d", opts.Seed),
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output)
		return 0
	}

	sim, err := Simulate(opts)
	if err != nil {
		return 1
	}
	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return 1
	}
	err = sim.WritePlink(*outputDir, *chipStem, *barcodeStem)
	if err != nil {
		return 1
	}
	log.Infof("wrote %d individuals, %d swaps to %s", len(sim.Individuals), len(sim.Swapped), *outputDir)
	return 0
}
