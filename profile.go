// Copyright (C) The Wunderbar Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package wunderbar

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	log "github.com/sirupsen/logrus"
)

// writeProfilesPeriodically replaces heap.prof and cpu.prof in outdir
// every interval until ctx is done.
func writeProfilesPeriodically(ctx context.Context, outdir string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeProfile(outdir, "heap.prof", func(f *os.File) error {
				runtime.GC()
				return pprof.WriteHeapProfile(f)
			})
			writeProfile(outdir, "cpu.prof", func(f *os.File) error {
				if err := pprof.StartCPUProfile(f); err != nil {
					return err
				}
				time.Sleep(time.Second)
				pprof.StopCPUProfile()
				return nil
			})
		}
	}
}

// writeProfile writes to name~ and renames into place, so readers
// never see a partial profile. Errors are logged, not returned.
func writeProfile(outdir, name string, write func(*os.File) error) {
	fnm := filepath.Join(outdir, name)
	f, err := os.OpenFile(fnm+"~", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		log.Print(err)
		return
	}
	defer f.Close()
	if err = write(f); err != nil {
		log.Printf("%s: %s", fnm, err)
		return
	}
	if err = f.Close(); err != nil {
		log.Print(err)
		return
	}
	if err = os.Rename(fnm+"~", fnm); err != nil {
		log.Print(err)
	}
}
