// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds the inputs and tuning parameters of a matching run.
type Config struct {
	MarkerFile string `yaml:"marker_file"` // barcode panel PLINK stem
	TestFile   string `yaml:"test_file"`   // test dataset PLINK stem
	MarkerList string `yaml:"markers"`
	Regions    string `yaml:"regions"`
	OutputDir  string `yaml:"output_dir"`

	PValueMax                         float64 `yaml:"pvalue_max"`
	EValueMax                         float64 `yaml:"evalue_max"`
	PosteriorEpsilon                  float64 `yaml:"posterior_epsilon"`
	LDCorrectionTrials                int     `yaml:"ld_correction_trials"`
	NullDistributionTrials            int     `yaml:"null_distribution_trials"`
	NullDistributionSubsampleFraction float64 `yaml:"null_distribution_subsample_fraction"`
	SelfMatchTrials                   int     `yaml:"self_match_trials"`
	MinEvidence                       float64 `yaml:"min_evidence"`
	Multiplicity                      bool    `yaml:"multiplicity"`
	GraphThreshold                    float64 `yaml:"graph_threshold"`
	RandomSeed                        int64   `yaml:"random_seed"`
	Threads                           int     `yaml:"threads"`
}

func DefaultConfig() Config {
	return Config{
		OutputDir:                         ".",
		PValueMax:                         0.05,
		EValueMax:                         5,
		PosteriorEpsilon:                  0.01,
		LDCorrectionTrials:                100,
		NullDistributionTrials:            1000,
		NullDistributionSubsampleFraction: 0.1,
		SelfMatchTrials:                   1000,
		Multiplicity:                      true,
		GraphThreshold:                    0.95,
		Threads:                           runtime.GOMAXPROCS(0),
	}
}

// Flags registers a flag for each field, using the current field
// values as defaults.
func (cfg *Config) Flags(flags *flag.FlagSet) {
	flags.StringVar(&cfg.MarkerFile, "barcode", cfg.MarkerFile, "barcode panel PLINK `stem` (reads stem.map and stem.ped)")
	flags.StringVar(&cfg.TestFile, "test", cfg.TestFile, "test dataset PLINK `stem`")
	flags.StringVar(&cfg.MarkerList, "markers", cfg.MarkerList, "restrict to markers listed in `file` (.map, or TSV with CHR and POS columns)")
	flags.StringVar(&cfg.Regions, "regions", cfg.Regions, "restrict to markers inside regions in BED `file`")
	flags.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "write reports to `dir`")
	flags.Float64Var(&cfg.PValueMax, "pvalue-max", cfg.PValueMax, "report swaps with p-value at most `P`")
	flags.Float64Var(&cfg.EValueMax, "evalue-max", cfg.EValueMax, "report swaps with e-value at most `E`")
	flags.Float64Var(&cfg.PosteriorEpsilon, "posterior-epsilon", cfg.PosteriorEpsilon, "pseudo-probability `eps` added to self-mismatch terms of the posterior")
	flags.IntVar(&cfg.LDCorrectionTrials, "ld-trials", cfg.LDCorrectionTrials, "resampling trials for LD inflation ratio")
	flags.IntVar(&cfg.NullDistributionTrials, "null-trials", cfg.NullDistributionTrials, "synthetic profiles in the null distribution")
	flags.Float64Var(&cfg.NullDistributionSubsampleFraction, "null-fraction", cfg.NullDistributionSubsampleFraction, "fraction `F` of test individuals compared against each synthetic profile")
	flags.IntVar(&cfg.SelfMatchTrials, "self-trials", cfg.SelfMatchTrials, "draws for each self-match p-value")
	flags.Float64Var(&cfg.MinEvidence, "min-evidence", cfg.MinEvidence, "skip pairs whose 1-score is below `X`")
	flags.BoolVar(&cfg.Multiplicity, "multiplicity", cfg.Multiplicity, "scale scores by the number of possible mismatch placements")
	flags.Float64Var(&cfg.GraphThreshold, "graph-threshold", cfg.GraphThreshold, "include pairs with posterior above `X` in swaps.dot")
	flags.Int64Var(&cfg.RandomSeed, "seed", cfg.RandomSeed, "random `seed`")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "number of worker `threads`")
}

// Args returns command line arguments that reproduce cfg when
// passed to Flags.
func (cfg *Config) Args() []string {
	return []string{
		"-barcode=" + cfg.MarkerFile,
		"-test=" + cfg.TestFile,
		"-markers=" + cfg.MarkerList,
		"-regions=" + cfg.Regions,
		"-output-dir=" + cfg.OutputDir,
		fmt.Sprintf("-pvalue-max=%g", cfg.PValueMax),
		fmt.Sprintf("-evalue-max=%g", cfg.EValueMax),
		fmt.Sprintf("-posterior-epsilon=%g", cfg.PosteriorEpsilon),
		fmt.Sprintf("-ld-trials=%d", cfg.LDCorrectionTrials),
		fmt.Sprintf("-null-trials=%d", cfg.NullDistributionTrials),
		fmt.Sprintf("-null-fraction=%g", cfg.NullDistributionSubsampleFraction),
		fmt.Sprintf("-self-trials=%d", cfg.SelfMatchTrials),
		fmt.Sprintf("-min-evidence=%g", cfg.MinEvidence),
		fmt.Sprintf("-multiplicity=%v", cfg.Multiplicity),
		fmt.Sprintf("-graph-threshold=%g", cfg.GraphThreshold),
		fmt.Sprintf("-seed=%d", cfg.RandomSeed),
		fmt.Sprintf("-threads=%d", cfg.Threads),
	}
}

// LoadYAML reads settings from a YAML file. Flags that were set
// explicitly on the command line (according to flags.Visit) keep
// their command line values.
func (cfg *Config) LoadYAML(fnm string, flags *flag.FlagSet) error {
	buf, err := ioutil.ReadFile(fnm)
	if err != nil {
		return err
	}
	explicit := map[string]string{}
	if flags != nil {
		flags.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	for name, value := range explicit {
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) Validate() error {
	var errs []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}
	check(cfg.PValueMax >= 0 && cfg.PValueMax <= 1, "pvalue-max %g is not in [0,1]", cfg.PValueMax)
	check(cfg.EValueMax >= 0, "evalue-max %g is negative", cfg.EValueMax)
	check(cfg.PosteriorEpsilon >= 0, "posterior-epsilon %g is negative", cfg.PosteriorEpsilon)
	check(cfg.LDCorrectionTrials >= 0, "ld-trials %d is negative", cfg.LDCorrectionTrials)
	check(cfg.NullDistributionTrials >= 1, "null-trials %d is less than 1", cfg.NullDistributionTrials)
	check(cfg.NullDistributionSubsampleFraction > 0 && cfg.NullDistributionSubsampleFraction <= 1, "null-fraction %g is not in (0,1]", cfg.NullDistributionSubsampleFraction)
	check(cfg.SelfMatchTrials >= 0, "self-trials %d is negative", cfg.SelfMatchTrials)
	check(cfg.MinEvidence >= 0 && cfg.MinEvidence <= 1, "min-evidence %g is not in [0,1]", cfg.MinEvidence)
	check(cfg.GraphThreshold >= 0 && cfg.GraphThreshold <= 1, "graph-threshold %g is not in [0,1]", cfg.GraphThreshold)
	check(cfg.Threads >= 0, "threads %d is negative", cfg.Threads)
	if len(errs) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n\t" + e
	}
	return errors.New(msg)
}

func (cfg *Config) nullOptions() NullOptions {
	return NullOptions{
		Trials:            cfg.NullDistributionTrials,
		SubsampleFraction: cfg.NullDistributionSubsampleFraction,
		Multiplicity:      cfg.Multiplicity,
		Seed:              cfg.RandomSeed,
		Threads:           cfg.Threads,
	}
}
