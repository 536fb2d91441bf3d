// Package main provides the champsim CLI entry point: a flag-driven
// runner that loads a YAML topology/config file, drives warmup then
// the measured region of interest, and prints the ROI report (plus the
// warmup report with -v). Grounded on cmd/m2sim/main.go's
// flag.Bool/flag.String + flag.Parse shape from the teacher; the process
// exits through atexit.Exit the way samples/fir/main.go does, and no
// atexit.Register handler is installed.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/champsim/sim"
)

var (
	configPath     = flag.String("config", "", "path to the YAML run configuration")
	warmupOverride = flag.Uint64("warmup-instructions", 0, "override the config's warmup instruction count (0 keeps the config value)")
	simOverride    = flag.Uint64("sim-instructions", 0, "override the config's ROI instruction count (0 keeps the config value)")
	verbose        = flag.Bool("v", false, "print the warmup-phase report in addition to the ROI report")
)

func main() {
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: champsim -config <run.yaml> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	code := run(*configPath)
	atexit.Exit(code)
}

// run loads the configuration, builds and executes a Simulation, and
// returns the process exit code: 0 on a clean finish, 1 on a config or
// topology error, 2 on a detected deadlock (spec.md §6's "nonzero exit
// on deadlock" CLI contract).
func run(path string) int {
	yc, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "champsim: %v\n", err)
		return 1
	}
	if *warmupOverride != 0 {
		yc.WarmupInstructions = *warmupOverride
	}
	if *simOverride != 0 {
		yc.SimInstructions = *simOverride
	}

	// The per-component Warmup hooks set here are placeholders: sim.New
	// rebuilds and overwrites every one with a closure over its own
	// live phase flag before any component runs.
	simCfg := yc.toSimConfig(nil)
	s, err := sim.New(simCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "champsim: %v\n", err)
		return 1
	}

	warmupReport, roiReport, err := s.Run()
	if *verbose && warmupReport != nil {
		warmupReport.WriteTo(os.Stdout)
	}
	if roiReport != nil {
		roiReport.WriteTo(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "champsim: %v\n", err)
		return 2
	}
	return 0
}
