package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/robert-at-pretension-io/fabricdb/internal/config"
	"github.com/robert-at-pretension-io/fabricdb/internal/facts"
	"github.com/robert-at-pretension-io/fabricdb/internal/pipeline"
)

// deltaFile is a delta plus the devices it touches.
type deltaFile struct {
	facts.Delta
	Impacted []string `json:"impacted_devices"`
}

func main() {
	output := flag.String("output", "", "write facts JSON to file (default: stdout)")
	flag.StringVar(output, "o", "", "write facts JSON to file (shorthand)")
	deltaFrom := flag.String("delta-from", "", "previous facts JSON to compute delta from")
	deltaOut := flag.String("delta-out", "", "write delta JSON to file (requires --delta-from)")
	only := flag.String("devices", "", "comma-separated devices to keep (default: all)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: fabric-facts [--output file] [--delta-from prev.json --delta-out delta.json] <root>")
		os.Exit(1)
	}
	if (*deltaFrom == "") != (*deltaOut == "") {
		fmt.Fprintln(os.Stderr, "Error: --delta-from and --delta-out must be used together")
		os.Exit(1)
	}

	path := args[0]
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	r := pipeline.NewWithConfig(cfg)
	r.DryRun = true
	r.Log.SetOutput(io.Discard)
	res, err := r.Run(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	tables := res.Tables
	keep := deviceSet(*only)
	if keep != nil {
		tables = facts.FilterTablesByDevices(tables, keep)
	}

	if *output != "" {
		if err := facts.WriteJSON(*output, tables); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing facts: %v\n", err)
			os.Exit(1)
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tables); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding facts: %v\n", err)
			os.Exit(1)
		}
	}

	if *deltaFrom != "" {
		prev, err := readTables(*deltaFrom)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading delta-from: %v\n", err)
			os.Exit(1)
		}
		delta := facts.ComputeDelta(prev, tables)
		if keep != nil {
			delta = facts.FilterDeltaByDevices(delta, keep)
		}
		out := deltaFile{Delta: delta, Impacted: facts.ImpactedDevices(delta, tables)}
		if err := facts.WriteJSON(*deltaOut, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing delta: %v\n", err)
			os.Exit(1)
		}
		if !delta.Empty() {
			fmt.Fprintf(os.Stderr, "delta touches %d devices\n", len(out.Impacted))
		}
	}
}

func deviceSet(list string) map[string]bool {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = true
		}
	}
	return set
}

// readTables reads plain tables as written by this command, or the
// versioned file a build leaves in its output directory.
func readTables(path string) (facts.Tables, error) {
	if tables, ok, err := facts.Load(path); err == nil && ok {
		return tables, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return facts.Tables{}, err
	}
	var tables facts.Tables
	if err := json.Unmarshal(data, &tables); err != nil {
		return facts.Tables{}, err
	}
	return tables, nil
}
