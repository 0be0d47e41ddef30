// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
)

// nullDistCmd writes the null distribution of a test dataset as a
// numpy array, without comparing against a barcode panel.
type nullDistCmd struct{}

func (cmd *nullDistCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output `file` (.npy)")
	cfg := DefaultConfig()
	flags.StringVar(&cfg.TestFile, "test", "", "test dataset PLINK `stem`")
	flags.StringVar(&cfg.MarkerList, "markers", "", "restrict to markers listed in `file`")
	flags.IntVar(&cfg.NullDistributionTrials, "null-trials", cfg.NullDistributionTrials, "synthetic profiles in the null distribution")
	flags.Float64Var(&cfg.NullDistributionSubsampleFraction, "null-fraction", cfg.NullDistributionSubsampleFraction, "fraction `F` of test individuals compared against each synthetic profile")
	flags.BoolVar(&cfg.Multiplicity, "multiplicity", cfg.Multiplicity, "scale scores by the number of possible mismatch placements")
	flags.Int64Var(&cfg.RandomSeed, "seed", cfg.RandomSeed, "random `seed`")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "number of worker `threads`")
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
	if cfg.TestFile == "" {
		err = errors.New("-test must be specified")
		return 2
	}
	err = cfg.Validate()
	if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "wunderbar null-dist",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         16000000000,
			VCPUs:       16,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(&cfg.TestFile, &cfg.MarkerList)
		if err != nil {
			return 1
		}
		runner.Args = []string{"null-dist", "-local=true",
			"-test=" + cfg.TestFile,
			"-markers=" + cfg.MarkerList,
			fmt.Sprintf("-null-trials=%d", cfg.NullDistributionTrials),
			fmt.Sprintf("-null-fraction=%g", cfg.NullDistributionSubsampleFraction),
			fmt.Sprintf("-multiplicity=%v", cfg.Multiplicity),
			fmt.Sprintf("-seed=%d", cfg.RandomSeed),
			fmt.Sprintf("-threads=%d", runner.VCPUs),
			"-o", "/mnt/output/null-distribution.npy",
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/null-distribution.npy")
		return 0
	}

	var restrict MarkerSet
	if cfg.MarkerList != "" {
		restrict, err = LoadMarkerList(cfg.MarkerList)
		if err != nil {
			return 1
		}
	}
	test, err := LoadPlink(cfg.TestFile, restrict)
	if err != nil {
		return 1
	}
	null, err := SampleNullDistribution(context.Background(), test, test.Markers(), cfg.nullOptions())
	if err != nil {
		return 1
	}
	log.Infof("null distribution: %s", null.Summary())

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = writeNullDistribution(bufw, null)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
