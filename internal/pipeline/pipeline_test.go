package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/config"
	"github.com/robert-at-pretension-io/fabricdb/internal/dbfile"
	"github.com/robert-at-pretension-io/fabricdb/internal/expand"
	"github.com/robert-at-pretension-io/fabricdb/internal/fabtest"
	"github.com/robert-at-pretension-io/fabricdb/internal/facts"
)

// exactCapture renders the ground truth a vendor tool would report for
// g if the model were right. drop removes "tile/dst<-src" pips.
func exactCapture(g *expand.Grid, drop ...string) map[string]any {
	dropped := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropped[d] = true
	}
	db := g.DB()
	var tiles []map[string]any
	for tid, tile := range g.Tiles() {
		name := g.TileName(tid)
		wires := make(map[string]int)
		for _, w := range tile.Wires {
			wires[db.WireName(g.Wire(w).Slot)] = int(g.Node(w))
		}
		pips := [][2]string{}
		for _, p := range g.Pips(tid) {
			dst, src := db.WireName(g.Wire(p.Dst).Slot), db.WireName(g.Wire(p.Src).Slot)
			if dropped[name+"/"+dst+"<-"+src] {
				continue
			}
			pips = append(pips, [2]string{dst, src})
		}
		sites := []map[string]any{}
		for bs, tb := range db.TileClassByID(tile.Class).Bels.All() {
			bc := db.BelClassByID(tb.Class)
			pins := make(map[string]map[string]string)
			for _, b := range tb.Pins {
				pins[bc.Pins.Key(b.Pin)] = map[string]string{
					"dir":  bc.Pins.At(b.Pin).Dir.String(),
					"wire": db.WireName(b.Wire),
				}
			}
			sites = append(sites, map[string]any{
				"name": db.BelSlots().Key(bs) + "_" + tile.Cell.String(),
				"kind": db.BelClasses().Key(tb.Class),
				"pins": pins,
			})
		}
		tiles = append(tiles, map[string]any{
			"name":  name,
			"kind":  db.TileClasses().Key(tile.Class),
			"wires": wires,
			"pips":  pips,
			"sites": sites,
		})
	}
	return map[string]any{"part": g.Name(), "tiles": tiles}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// project lays out an architecture, CLB row devices of the given widths
// and exact captures for the devices listed in captured.
func project(t *testing.T, widths map[string]int, captured ...string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "arch.yaml"), []byte(fabtest.Template), 0o644); err != nil {
		t.Fatalf("write arch: %v", err)
	}
	for name, cols := range widths {
		writeJSON(t, filepath.Join(root, "devices", name+".json"), fabtest.CLBRow(name, cols))
	}
	for _, name := range captured {
		g, err := expand.Expand(fabtest.CLBRow(name, widths[name]), fabtest.DB(t), nil)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		writeJSON(t, filepath.Join(root, "captures", name+".json"), exactCapture(g))
	}
	return root
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Family = "toy"
	cfg.Devices = []config.DeviceEntry{{Geometry: "devices/*.json", Captures: "captures"}}
	cfg.Analysis.Parallelism = 2
	return cfg
}

func newRunner(cfg *config.Config) *Runner {
	r := NewWithConfig(cfg)
	r.Log.SetOutput(io.Discard)
	r.Log.SetLevel(logrus.DebugLevel)
	return r
}

func TestRunWritesArtifacts(t *testing.T) {
	root := project(t, map[string]int{"row2": 2, "row3": 3}, "row2")
	cfg := testConfig()
	r := newRunner(cfg)
	r.Timing = true

	res, err := r.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed() {
		t.Fatalf("clean build failed: %+v", res.Devices)
	}
	if len(res.Devices) != 2 || res.Devices[0].Name != "row2" || res.Devices[1].Name != "row3" {
		t.Fatalf("devices = %+v", res.Devices)
	}
	if !res.Devices[0].Verified || res.Devices[1].Verified {
		t.Fatalf("only row2 has a capture: %+v", res.Devices)
	}
	if !res.Devices[0].Report.OK() {
		t.Fatalf("exact capture mismatches: %v", res.Devices[0].Report.Mismatches)
	}
	if res.Devices[1].Tiles != 3 {
		t.Fatalf("row3 tiles = %d", res.Devices[1].Tiles)
	}

	out := filepath.Join(root, cfg.Output.Dir)
	db, err := dbfile.ReadFile(filepath.Join(out, cfg.Output.Database))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if db.Family != "toy" || len(db.Chips) != 2 {
		t.Fatalf("database family %s chips %d", db.Family, len(db.Chips))
	}

	tables, ok, err := facts.Load(filepath.Join(out, "facts.json"))
	if err != nil || !ok {
		t.Fatalf("facts.Load: ok=%v err=%v", ok, err)
	}
	if len(tables.Devices) != 2 {
		t.Fatalf("fact devices = %d", len(tables.Devices))
	}

	for _, name := range []string{"reports/row2.json", "fabricdb.prom", "timing.jsonl"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "reports", "row3.json")); !os.IsNotExist(err) {
		t.Fatalf("unverified device should have no report")
	}
}

func TestRunUsesReportCache(t *testing.T) {
	root := project(t, map[string]int{"row2": 2}, "row2")

	first, err := newRunner(testConfig()).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Devices[0].Cached {
		t.Fatalf("first run cannot be cached")
	}

	second, err := newRunner(testConfig()).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !second.Devices[0].Cached {
		t.Fatalf("second run should hit the cache")
	}
	if second.Devices[0].Report.RunID != first.Devices[0].Report.RunID {
		t.Fatalf("cached report should keep its run id")
	}

	// A changed capture invalidates the entry.
	g, err := expand.Expand(fabtest.CLBRow("row2", 2), fabtest.DB(t), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	writeJSON(t, filepath.Join(root, "captures", "row2.json"), exactCapture(g, "CLB_X0Y0/O<-I"))
	third, _ := newRunner(testConfig()).Run(context.Background(), root)
	if third.Devices[0].Cached {
		t.Fatalf("changed capture must not hit the cache")
	}
}

func TestRunTriagesMismatches(t *testing.T) {
	tests := []struct {
		name       string
		rules      map[string]string
		wantFailed bool
		wantErrs   int
	}{
		{name: "default", wantFailed: true, wantErrs: 1},
		{name: "demoted", rules: map[string]string{"missing_pip": "warning"}, wantFailed: false, wantErrs: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := project(t, map[string]int{"row2": 2})
			g, err := expand.Expand(fabtest.CLBRow("row2", 2), fabtest.DB(t), nil)
			if err != nil {
				t.Fatalf("Expand: %v", err)
			}
			// The capture lacks a pip the model has.
			doc := exactCapture(g, "CLB_X1Y0/O<-CLK")
			writeJSON(t, filepath.Join(root, "captures", "row2.json"), doc)

			cfg := testConfig()
			for k, v := range tt.rules {
				cfg.Verify.Rules[k] = v
			}
			res, err := newRunner(cfg).Run(context.Background(), root)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Failed() != tt.wantFailed {
				t.Fatalf("Failed = %v, want %v (%+v)", res.Failed(), tt.wantFailed, res.Summary)
			}
			if res.Summary.Errors != tt.wantErrs {
				t.Fatalf("errors = %d, want %d", res.Summary.Errors, tt.wantErrs)
			}
			rep := res.Devices[0].Report
			if rep.Count("missing_pip") != 1 {
				t.Fatalf("report = %v", rep.Mismatches)
			}
			if len(res.Tables.Mismatches) != len(rep.Mismatches) {
				t.Fatalf("fact mismatches = %d, report = %d", len(res.Tables.Mismatches), len(rep.Mismatches))
			}
		})
	}
}

func TestRunIsolatesDeviceFailures(t *testing.T) {
	root := project(t, map[string]int{"row2": 2})
	bad := fabtest.Geometry("broken", 2, 1, fabtest.Place(0, 0, "CLB"), fabtest.Place(1, 0, "NOPE"))
	writeJSON(t, filepath.Join(root, "devices", "broken.json"), bad)

	res, err := newRunner(testConfig()).Run(context.Background(), root)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 devices failed") {
		t.Fatalf("expected device failure error, got %v", err)
	}
	if res == nil || !res.Failed() {
		t.Fatalf("result should record the failure")
	}
	if res.Devices[0].Name != "broken" || res.Devices[0].Err == "" {
		t.Fatalf("broken device = %+v", res.Devices[0])
	}
	if len(res.Database.Chips) != 1 || res.Database.Chips[0].Name != "row2" {
		t.Fatalf("database should keep only row2")
	}
	if _, err := os.Stat(res.DatabasePath); err != nil {
		t.Fatalf("database not written: %v", err)
	}
}

func TestRunCreatesOutputDir(t *testing.T) {
	t.Setenv("FABRICDB_TIMING_JSONL", "")
	root := project(t, map[string]int{"row2": 2}, "row2")
	out := filepath.Join(root, "build")
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output dir exists before the build: %v", err)
	}

	res, err := newRunner(testConfig()).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(res.DatabasePath); err != nil {
		t.Fatalf("database not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "timing.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("timing file written without --timing: %v", err)
	}
}

func TestRunRejectsMisnamedGeometry(t *testing.T) {
	root := project(t, map[string]int{"row2": 2})
	writeJSON(t, filepath.Join(root, "devices", "alias.json"), fabtest.CLBRow("row9", 1))

	res, err := newRunner(testConfig()).Run(context.Background(), root)
	if err == nil {
		t.Fatalf("expected error for misnamed geometry")
	}
	if res == nil {
		t.Fatalf("Run returned no result: %v", err)
	}
	if len(res.Devices) != 2 {
		t.Fatalf("devices = %+v", res.Devices)
	}
	if res.Devices[0].Name != "alias" || !strings.Contains(res.Devices[0].Err, "describes device row9") {
		t.Fatalf("alias = %+v", res.Devices[0])
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	root := project(t, map[string]int{"row2": 2}, "row2")
	r := newRunner(testConfig())
	r.DryRun = true
	res, err := r.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DatabasePath != "" || len(res.Tables.Devices) != 1 {
		t.Fatalf("unexpected dry run result %+v", res)
	}
	for _, dir := range []string{"build", ".fabricdb_cache"} {
		if _, err := os.Stat(filepath.Join(root, dir)); !os.IsNotExist(err) {
			t.Fatalf("dry run created %s", dir)
		}
	}
}

func TestRunLayoutAttachesBits(t *testing.T) {
	root := project(t, map[string]int{"row2": 2})
	cfg := testConfig()
	cfg.Layout = map[string]config.ColumnLayout{"CLB": {FramesPerCol: 4, BitsPerRow: 16, Frames: 4, Bits: 16}}
	r := newRunner(cfg)
	r.DryRun = true
	res, err := r.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	g := res.Grids[0]
	tid, ok := g.TileAt(chip.CellCoord{Col: 1}, 0)
	if !ok {
		t.Fatalf("no tile at X1Y0")
	}
	rects := g.Tile(tid).Bits
	if len(rects) != 1 || rects[0].Frame != 4 || rects[0].Frames != 4 || rects[0].Bits != 16 {
		t.Fatalf("rects = %+v", rects)
	}
}

func TestRunReportsUnusedBitData(t *testing.T) {
	root := project(t, map[string]int{"row2": 2})
	data := bits.NewData()
	for _, e := range []struct {
		tile, name string
		item       bits.TileItem
	}{
		{"CLB", "INV", bits.BitItem(bits.TileBit{Frame: 1, Bit: 2}, true)},
		{"CLB", "FAR", bits.BitItem(bits.TileBit{Frame: 9}, false)},
		{"IOB", "PULL", bits.BitItem(bits.TileBit{}, false)},
	} {
		if err := data.DeclareItem(e.tile, e.name, e.item); err != nil {
			t.Fatalf("DeclareItem: %v", err)
		}
	}
	if err := data.InsertMisc("IDCODE", bits.MustPattern("1011")); err != nil {
		t.Fatalf("InsertMisc: %v", err)
	}
	if err := data.InsertDevice("row2", "IDCODE", bits.MustPattern("01")); err != nil {
		t.Fatalf("InsertDevice: %v", err)
	}
	if err := data.InsertDevice("row7", "IDCODE", bits.MustPattern("10")); err != nil {
		t.Fatalf("InsertDevice: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "bits"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := data.SaveFile(filepath.Join(root, "bits", "clb.json")); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	cfg := testConfig()
	cfg.Bits = []string{"bits/clb.json"}
	cfg.Layout = map[string]config.ColumnLayout{"CLB": {FramesPerCol: 4, BitsPerRow: 16, Frames: 4, Bits: 16}}
	r := newRunner(cfg)
	r.DryRun = true
	res, err := r.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dev := res.Devices[0]
	if dev.ItemBits != 2 || dev.Unmapped != 2 {
		t.Fatalf("row2 item bits %d unmapped %d, want 2 and 2", dev.ItemBits, dev.Unmapped)
	}
	want := []string{"tile CLB item FAR", "tile IOB item PULL", "device row7 IDCODE"}
	if !slices.Equal(res.UnusedBits, want) {
		t.Fatalf("UnusedBits = %v, want %v", res.UnusedBits, want)
	}
}

func TestNoDevices(t *testing.T) {
	root := project(t, map[string]int{})
	if _, err := newRunner(testConfig()).Run(context.Background(), root); err == nil {
		t.Fatalf("expected error without devices")
	}
}
