// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
)

type matchcmd struct{}

func (cmd *matchcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	preemptible := flags.Bool("preemptible", true, "request preemptible instance")
	configFile := flags.String("config", "", "read settings from YAML `file` (flags given on the command line take precedence)")
	profileDir := flags.String("profile-dir", "", "write heap and cpu profiles to `directory` every minute")
	cfg := DefaultConfig()
	cfg.Flags(flags)
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
	if *configFile != "" {
		err = cfg.LoadYAML(*configFile, flags)
		if err != nil {
			return 2
		}
	}
	if cfg.MarkerFile == "" || cfg.TestFile == "" {
		err = errors.New("both -barcode and -test must be specified")
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
		runner := arvadosContainerRunner{
			Name:        "wunderbar match",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         32000000000,
			VCPUs:       16,
			Priority:    *priority,
			Preemptible: *preemptible,
		}
		err = runner.TranslatePaths(&cfg.MarkerFile, &cfg.TestFile, &cfg.MarkerList, &cfg.Regions)
		if err != nil {
			return 1
		}
		cfg.OutputDir = "/mnt/output"
		cfg.Threads = runner.VCPUs
		runner.Args = append([]string{"match", "-local=true"}, cfg.Args()...)
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *profileDir != "" {
		go writeProfilesPeriodically(ctx, *profileDir, time.Minute)
	}
	err = runMatch(ctx, cfg)
	if err != nil {
		return 1
	}
	return 0
}

// runMatch loads both datasets and writes all reports to
// cfg.OutputDir.
func runMatch(ctx context.Context, cfg Config) error {
	barcode, test, err := loadDatasets(&cfg)
	if err != nil {
		return err
	}
	err = os.MkdirAll(cfg.OutputDir, 0777)
	if err != nil {
		return err
	}
	return NewSwapDetector(barcode, test, cfg).Run(ctx, &fileReporter{Dir: cfg.OutputDir})
}

// loadDatasets loads the barcode panel, then the test data restricted
// to the panel's markers.
func loadDatasets(cfg *Config) (barcode, test *GenotypeMatrix, err error) {
	restrict, err := loadRestriction(cfg)
	if err != nil {
		return nil, nil, err
	}
	barcode, err = LoadPlink(cfg.MarkerFile, restrict)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("%s: %s", cfg.MarkerFile, barcode)
	test, err = LoadPlink(cfg.TestFile, intersectSets(restrict, NewMarkerSet(barcode.Markers())))
	if err != nil {
		return nil, nil, err
	}
	log.Infof("%s: %s", cfg.TestFile, test)
	return barcode, test, nil
}

// loadRestriction returns the set of markers permitted by the
// -markers and -regions options, or nil if neither is given.
func loadRestriction(cfg *Config) (MarkerSet, error) {
	var restrict MarkerSet
	if cfg.MarkerList != "" {
		list, err := LoadMarkerList(cfg.MarkerList)
		if err != nil {
			return nil, err
		}
		log.Infof("%s: %d markers", cfg.MarkerList, len(list))
		restrict = list
	}
	if cfg.Regions != "" {
		inRegions, err := LoadRegions(cfg.Regions, cfg.MarkerFile)
		if err != nil {
			return nil, err
		}
		restrict = intersectSets(restrict, inRegions)
	}
	return restrict, nil
}
