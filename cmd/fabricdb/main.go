// =============================================================================
// fabricdb - Main Entry Point
// =============================================================================
//
// fabricdb turns a declarative architecture template and per-device chip
// geometries into a resolved, verified structural model of the silicon.
//
// THE PIPELINE:
//   1. The architecture template is built into the interconnect database
//   2. Each device geometry is expanded into tiles, wires and nodes
//   3. The expanded grid is checked against captured vendor ground truth
//   4. CUE validates every report and fact table (crash on schema mismatch)
//   5. OPA triages the mismatches into errors, warnings and info
//   6. The container, fact tables, reports and metrics are written
//
// WHEN INVESTIGATING A MISMATCH:
//   Start at the beginning of the pipeline, not the end!
//   Template issues → Geometry issues → Capture naming issues → Triage rules
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/config"
	"github.com/robert-at-pretension-io/fabricdb/internal/dbfile"
	"github.com/robert-at-pretension-io/fabricdb/internal/dump"
	"github.com/robert-at-pretension-io/fabricdb/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		runInit(args)
	case "build":
		runBuild(args)
	case "dump":
		runDump(args)
	case "merge":
		runMerge(args)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: fabricdb <command> [options]

Commands:
  init [file]                 Create a fabricdb.json (or .yaml) configuration file
  build [options] <root>      Expand, verify and package every configured device
  dump [--grids] <db>         Print a container as deterministic text
  merge -o out.json <a> <b>…  Merge bit-level data files

Build options:
  -v, --verbose     Enable debug logging
  -c, --config      Specify config file: fabricdb build -c fabricdb.yaml <root>
  --json            Log as JSON and print the result as JSON
  --timing          Write timing.jsonl to the output directory

Configuration:
  fabricdb looks for configuration in:
    1. ./fabricdb.json, ./fabricdb.yaml
    2. <root>/fabricdb.json, <root>/fabricdb.yaml
    3. ~/.config/fabricdb/config.json

  Run 'fabricdb init' to create a default configuration file.`)
}

func runInit(args []string) {
	configPath := "fabricdb.json"
	if len(args) > 0 {
		configPath = args[0]
	}

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("\nEdit this file to configure:")
	fmt.Println("  - The architecture template and family")
	fmt.Println("  - Device geometry patterns and capture directories")
	fmt.Println("  - Verification rule severities")
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.BoolVar(verbose, "v", false, "enable debug logging (shorthand)")
	configPath := fs.String("config", "", "config file")
	fs.StringVar(configPath, "c", "", "config file (shorthand)")
	jsonOutput := fs.Bool("json", false, "JSON logs and result")
	timing := fs.Bool("timing", false, "write timing.jsonl")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}
	root := fs.Arg(0)

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	r := pipeline.NewWithConfig(cfg)
	r.Timing = *timing
	if *verbose {
		r.Log.SetLevel(logrus.DebugLevel)
	}
	if *jsonOutput {
		r.Log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, runErr := r.Run(ctx, root)
	if res != nil {
		if *jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
				os.Exit(1)
			}
		} else {
			printResult(res)
		}
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
	if res.Failed() {
		os.Exit(2)
	}
}

func printResult(res *pipeline.Result) {
	fmt.Printf("\n=== Devices (%s) ===\n", res.Family)
	for _, d := range res.Devices {
		switch {
		case d.Err != "":
			fmt.Printf("✗ %-16s %s\n", d.Name, d.Err)
		case !d.Verified:
			fmt.Printf("  %-16s tiles %d wires %d nodes %d (no capture)\n", d.Name, d.Tiles, d.Wires, d.Nodes)
		default:
			cached := ""
			if d.Cached {
				cached = " (cached)"
			}
			fmt.Printf("  %-16s tiles %d wires %d nodes %d: %s%s\n", d.Name, d.Tiles, d.Wires, d.Nodes, d.Report.Summary(), cached)
		}
	}

	var header bool
	for _, d := range res.Devices {
		if d.Triage == nil {
			continue
		}
		for _, f := range d.Triage.Findings {
			if !header {
				fmt.Printf("\n=== Findings ===\n")
				header = true
			}
			icon := "ℹ"
			if f.Severity == "error" {
				icon = "✗"
			} else if f.Severity == "warning" {
				icon = "⚠"
			}
			fmt.Printf("%s [%s] %s - %s\n", icon, f.Rule, f.Device, f.Message)
		}
	}

	fmt.Printf("\n=== Triage Summary ===\n")
	fmt.Printf("  Errors:   %d\n", res.Summary.Errors)
	fmt.Printf("  Warnings: %d\n", res.Summary.Warnings)
	fmt.Printf("  Info:     %d\n", res.Summary.Info)
	if len(res.UnusedBits) > 0 {
		fmt.Printf("\n=== Unused Bit Data (%d) ===\n", len(res.UnusedBits))
		for _, e := range res.UnusedBits {
			fmt.Printf("  ⚠ %s\n", e)
		}
	}
	if res.DatabasePath != "" {
		fmt.Printf("\nWrote %s\n", res.DatabasePath)
	}
}

func runDump(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	grids := fs.Bool("grids", false, "expand and print every device grid")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		printUsage()
		os.Exit(1)
	}

	d, err := dbfile.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", fs.Arg(0), err)
		os.Exit(1)
	}
	if err := dump.Database(os.Stdout, d, *grids); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMerge(args []string) {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	output := fs.String("output", "", "merged bits file")
	fs.StringVar(output, "o", "", "merged bits file (shorthand)")
	_ = fs.Parse(args)
	if *output == "" || fs.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	merged := bits.NewData()
	for _, path := range fs.Args() {
		d, err := bits.LoadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		merged, err = bits.Merge(merged, d)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error merging %s: %v\n", path, err)
			os.Exit(1)
		}
	}
	if err := merged.SaveFile(*output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Merged %d files into %s (%d items)\n", fs.NArg(), *output, merged.NumItems())
}
