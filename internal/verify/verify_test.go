package verify

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/robert-at-pretension-io/fabricdb/internal/capture"
	"github.com/robert-at-pretension-io/fabricdb/internal/expand"
	"github.com/robert-at-pretension-io/fabricdb/internal/fabtest"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

type capPin struct {
	Dir  string `json:"dir"`
	Wire string `json:"wire"`
}

type capSite struct {
	Name string            `json:"name"`
	Kind string            `json:"kind"`
	Pins map[string]capPin `json:"pins,omitempty"`
}

type capTile struct {
	Name  string         `json:"name"`
	Kind  string         `json:"kind"`
	Wires map[string]int `json:"wires,omitempty"`
	Pips  [][2]string    `json:"pips,omitempty"`
	Sites []capSite      `json:"sites,omitempty"`
}

type capDoc struct {
	Part  string    `json:"part"`
	Tiles []capTile `json:"tiles"`
}

func (d *capDoc) tile(t *testing.T, name string) *capTile {
	t.Helper()
	for i := range d.Tiles {
		if d.Tiles[i].Name == name {
			return &d.Tiles[i]
		}
	}
	t.Fatalf("no captured tile %s", name)
	return nil
}

func (d *capDoc) part(t *testing.T) *capture.Part {
	t.Helper()
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("encoding capture: %v", err)
	}
	p, err := capture.Parse(data)
	if err != nil {
		t.Fatalf("parsing capture: %v", err)
	}
	return p
}

// captureOf renders what a vendor tool would report for g if the model were
// exactly right.
func captureOf(g *expand.Grid) *capDoc {
	db := g.DB()
	doc := &capDoc{Part: g.Name()}
	for tid, tile := range g.Tiles() {
		ct := capTile{
			Name:  g.TileName(tid),
			Kind:  db.TileClasses().Key(tile.Class),
			Wires: make(map[string]int),
		}
		for _, w := range tile.Wires {
			ct.Wires[db.WireName(g.Wire(w).Slot)] = int(g.Node(w))
		}
		for _, p := range g.Pips(tid) {
			ct.Pips = append(ct.Pips, [2]string{db.WireName(g.Wire(p.Dst).Slot), db.WireName(g.Wire(p.Src).Slot)})
		}
		for bs, tb := range db.TileClassByID(tile.Class).Bels.All() {
			bc := db.BelClassByID(tb.Class)
			site := capSite{
				Name: db.BelSlots().Key(bs) + "_" + tile.Cell.String(),
				Kind: db.BelClasses().Key(tb.Class),
				Pins: make(map[string]capPin),
			}
			for _, b := range tb.Pins {
				site.Pins[bc.Pins.Key(b.Pin)] = capPin{Dir: bc.Pins.At(b.Pin).Dir.String(), Wire: db.WireName(b.Wire)}
			}
			ct.Sites = append(ct.Sites, site)
		}
		doc.Tiles = append(doc.Tiles, ct)
	}
	return doc
}

func clbRow(t *testing.T, cols int) *expand.Grid {
	t.Helper()
	g, err := expand.Expand(fabtest.CLBRow("row", cols), fabtest.DB(t), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	return g
}

func run(t *testing.T, g *expand.Grid, doc *capDoc, setup func(*Verifier)) *Report {
	t.Helper()
	v := New(doc.part(t))
	if setup != nil {
		setup(v)
	}
	if err := VerifyGrid(v, g, nil); err != nil {
		t.Fatalf("VerifyGrid: %v", err)
	}
	r, err := v.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return r
}

const twoWires = `{"part": "p", "tiles": [
  {"name": "T", "wires": {"A": 5, "B": 5, "C": 6, "L": -1}, "pips": [["A", "C"]]}]}`

func TestClaimNodeOrigins(t *testing.T) {
	p, err := capture.Parse([]byte(twoWires))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := New(p)
	first := Claim{Site: "SLICE_X0Y0", Origin: "node 1"}
	second := Claim{Site: "SLICE_X1Y0", Origin: "node 1"}
	if err := v.ClaimNode(first, WireRef{"T", "A"}); err != nil {
		t.Fatalf("ClaimNode: %v", err)
	}
	if err := v.ClaimNode(second, WireRef{"T", "B"}); err != nil {
		t.Fatalf("ClaimNode: %v", err)
	}
	if len(v.mismatches) != 0 {
		t.Fatalf("same origin should be silent, got %v", v.mismatches)
	}

	third := Claim{Site: "SLICE_X2Y0", Origin: "node 2"}
	if err := v.ClaimNode(third, WireRef{"T", "B"}); err != nil {
		t.Fatalf("ClaimNode: %v", err)
	}
	if len(v.mismatches) != 1 {
		t.Fatalf("expected one conflict, got %v", v.mismatches)
	}
	m := v.mismatches[0]
	if m.Kind != KindNodeConflict || m.Location != "node 5" {
		t.Fatalf("unexpected mismatch %v", m)
	}
	if !strings.Contains(m.Expected, "SLICE_X0Y0") || !strings.Contains(m.Observed, "SLICE_X2Y0") {
		t.Fatalf("conflict should name both claim sites: %v", m)
	}
}

func TestTileLocalWiresAreDistinctNodes(t *testing.T) {
	p, err := capture.Parse([]byte(twoWires))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := New(p)
	_ = v.ClaimNode(Claim{Site: "x", Origin: "a"}, WireRef{"T", "L"})
	_ = v.ClaimNode(Claim{Site: "y", Origin: "b"}, WireRef{"T", "L"})
	_ = v.VerifyNode(WireRef{"T", "A"}, WireRef{"T", "C"})
	r, _ := v.Finalize()
	if r.Count(KindNodeConflict) != 1 {
		t.Fatalf("tile-local wire claimed twice should conflict: %v", r.Mismatches)
	}
	if r.Count(KindNodeSplit) != 1 {
		t.Fatalf("A and C are different nodes: %v", r.Mismatches)
	}
	// Node 5 and 6 were never claimed, VerifyNode does not claim.
	if r.Count(KindUnclaimedNode) != 2 || r.Count(KindUnclaimedPip) != 1 {
		t.Fatalf("unexpected residual: %v", r.Mismatches)
	}
}

func TestStateMachine(t *testing.T) {
	p, err := capture.Parse([]byte(twoWires))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := New(p)
	if v.State() != StateFresh {
		t.Fatalf("new verifier is %s", v.State())
	}
	if err := v.VerifyPip("T", "C", "A"); err != nil {
		t.Fatalf("VerifyPip: %v", err)
	}
	if v.State() != StateClaiming {
		t.Fatalf("after a call the verifier is %s", v.State())
	}
	r, err := v.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if r.RunID == "" || r.RunID != v.RunID() || r.Part != "p" {
		t.Fatalf("report header = %+v", r)
	}
	if v.State() != StateFinalized {
		t.Fatalf("after Finalize the verifier is %s", v.State())
	}

	calls := map[string]func() error{
		"ClaimNode":        func() error { return v.ClaimNode(Claim{}, WireRef{"T", "A"}) },
		"VerifyNode":       func() error { return v.VerifyNode(WireRef{"T", "A"}) },
		"ClaimPip":         func() error { return v.ClaimPip(Claim{}, "T", "C", "A") },
		"VerifyPip":        func() error { return v.VerifyPip("T", "C", "A") },
		"VerifyBel":        func() error { return v.VerifyBel(Claim{}, "T", "S", "K", nil) },
		"IgnoreSiteKind":   func() error { return v.IgnoreSiteKind("K") },
		"IgnoreTilePrefix": func() error { return v.IgnoreTilePrefix("T") },
		"SkipResidual":     v.SkipResidual,
		"Finalize":         func() error { _, err := v.Finalize(); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrFinalized) {
			t.Errorf("%s after Finalize: got %v, want ErrFinalized", name, err)
		}
	}
}

func TestPipClaims(t *testing.T) {
	p, err := capture.Parse([]byte(twoWires))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := New(p)
	_ = v.ClaimPip(Claim{Site: "T", Origin: "T"}, "T", "C", "A")
	_ = v.ClaimPip(Claim{Site: "T", Origin: "T"}, "T", "C", "A")
	_ = v.ClaimPip(Claim{Site: "U", Origin: "U"}, "T", "C", "A")
	_ = v.ClaimPip(Claim{Site: "T", Origin: "T"}, "T", "A", "C")
	_ = v.VerifyPip("NOPE", "A", "C")
	if err := v.SkipResidual(); err != nil {
		t.Fatalf("SkipResidual: %v", err)
	}
	r, _ := v.Finalize()
	want := map[MismatchKind]int{KindPipConflict: 1, KindMissingPip: 1, KindMissingTile: 1}
	for k, n := range want {
		if r.Count(k) != n {
			t.Errorf("%s: got %d, want %d (%v)", k, r.Count(k), n, r.Mismatches)
		}
	}
	if len(r.Mismatches) != 3 {
		t.Fatalf("unexpected mismatches: %v", r.Mismatches)
	}
}

func TestVerifyBelComparesPinsAsSet(t *testing.T) {
	const doc = `{"part": "p", "tiles": [{"name": "T", "sites": [
	  {"name": "S", "kind": "SLICE", "pins": {
	    "B": {"dir": "output", "wire": "WB"},
	    "A": {"dir": "input", "wire": "WA"},
	    "X": {"dir": "input", "wire": "WX"}}}]}]}`
	p, err := capture.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	v := New(p)
	pins := []SitePin{
		{Name: "B", Dir: intdb.PinOutput, Wire: "WB"},
		{Name: "A", Dir: intdb.PinInput, Wire: "WA"},
		{Name: "X", Dir: intdb.PinInput, Wire: "WX"},
	}
	_ = v.VerifyBel(Claim{Site: "S", Origin: "T"}, "T", "S", "SLICE", pins)
	r, _ := v.Finalize()
	if !r.OK() {
		t.Fatalf("pin order should not matter: %v", r.Mismatches)
	}

	v = New(p)
	pins = []SitePin{
		{Name: "A", Dir: intdb.PinOutput, Wire: "WA"},
		{Name: "B", Dir: intdb.PinOutput, Wire: "WZ"},
		{Name: "C", Dir: intdb.PinInput, Wire: "WC"},
	}
	_ = v.VerifyBel(Claim{Site: "S", Origin: "T"}, "T", "S", "DSP", pins)
	_ = v.VerifyBel(Claim{Site: "S2", Origin: "U"}, "T", "S", "DSP", pins)
	_ = v.VerifyBel(Claim{Site: "S", Origin: "T"}, "T", "MISSING", "DSP", nil)
	r, _ = v.Finalize()
	want := map[MismatchKind]int{
		KindSiteKind:     1,
		KindPinDir:       1,
		KindPinWire:      1,
		KindMissingPin:   1,
		KindExtraPin:     1,
		KindSiteConflict: 1,
		KindMissingSite:  1,
	}
	for k, n := range want {
		if r.Count(k) != n {
			t.Errorf("%s: got %d, want %d", k, r.Count(k), n)
		}
	}
	if len(r.Mismatches) != 7 {
		t.Fatalf("unexpected mismatches: %v", r.Mismatches)
	}
}

func TestVerifyGridCleanCapture(t *testing.T) {
	g := clbRow(t, 3)
	r := run(t, g, captureOf(g), nil)
	if !r.OK() {
		t.Fatalf("exact capture should verify: %v", r.Mismatches)
	}
	if r.Summary() != "ok" {
		t.Fatalf("Summary = %q", r.Summary())
	}
	want := Claimed{Nodes: 5, Pips: 6, Sites: 3}
	if r.Claimed != want {
		t.Fatalf("Claimed = %+v, want %+v", r.Claimed, want)
	}
}

func TestVerifyGridFindsDefects(t *testing.T) {
	g := clbRow(t, 3)
	tests := []struct {
		name   string
		mutate func(t *testing.T, d *capDoc)
		setup  func(v *Verifier)
		want   map[MismatchKind]int
	}{
		{
			name: "missing pip",
			mutate: func(t *testing.T, d *capDoc) {
				tile := d.tile(t, "CLB_X1Y0")
				tile.Pips = tile.Pips[:1]
			},
			want: map[MismatchKind]int{KindMissingPip: 1},
		},
		{
			name: "extra pip",
			mutate: func(t *testing.T, d *capDoc) {
				tile := d.tile(t, "CLB_X1Y0")
				tile.Pips = append(tile.Pips, [2]string{"I", "CLK"})
			},
			want: map[MismatchKind]int{KindUnclaimedPip: 1},
		},
		{
			name:   "extra pip skipped",
			mutate: func(t *testing.T, d *capDoc) { d.tile(t, "CLB_X1Y0").Pips = append(d.tile(t, "CLB_X1Y0").Pips, [2]string{"I", "CLK"}) },
			setup:  func(v *Verifier) { _ = v.SkipResidual() },
			want:   map[MismatchKind]int{},
		},
		{
			name: "aliased nodes",
			mutate: func(t *testing.T, d *capDoc) {
				d.tile(t, "CLB_X2Y0").Wires["O"] = d.tile(t, "CLB_X0Y0").Wires["I"]
			},
			want: map[MismatchKind]int{KindNodeConflict: 1},
		},
		{
			name: "split node",
			mutate: func(t *testing.T, d *capDoc) {
				d.tile(t, "CLB_X1Y0").Wires["I"] = 99
			},
			want: map[MismatchKind]int{KindNodeSplit: 1},
		},
		{
			name: "pin on wrong wire",
			mutate: func(t *testing.T, d *capDoc) {
				d.tile(t, "CLB_X0Y0").Sites[0].Pins["I"] = capPin{Dir: "input", Wire: "CLK"}
			},
			want: map[MismatchKind]int{KindPinWire: 1},
		},
		{
			name: "unmodelled sites",
			mutate: func(t *testing.T, d *capDoc) {
				tile := d.tile(t, "CLB_X0Y0")
				tile.Sites = append(tile.Sites, capSite{Name: "IOB_X0Y0", Kind: "IOB"}, capSite{Name: "DSP_X0Y0", Kind: "DSP"})
			},
			setup: func(v *Verifier) { _ = v.IgnoreSiteKind("IOB") },
			want:  map[MismatchKind]int{KindUnclaimedSite: 1},
		},
		{
			name: "missing tile",
			mutate: func(t *testing.T, d *capDoc) {
				d.Tiles = d.Tiles[:2]
			},
			want: map[MismatchKind]int{KindMissingTile: 1},
		},
		{
			name: "ignored prefix",
			mutate: func(t *testing.T, d *capDoc) {
				d.Tiles = d.Tiles[:2]
				d.Tiles = append(d.Tiles, capTile{
					Name:  "CFG_X9Y9",
					Kind:  "CFG",
					Wires: map[string]int{"A": 500},
					Pips:  [][2]string{{"A", "B"}},
					Sites: []capSite{{Name: "ICAP", Kind: "ICAP"}},
				})
			},
			setup: func(v *Verifier) {
				_ = v.IgnoreTilePrefix("CFG_")
				_ = v.IgnoreTilePrefix("CLB_X2")
			},
			want: map[MismatchKind]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := captureOf(g)
			tt.mutate(t, doc)
			r := run(t, g, doc, tt.setup)
			total := 0
			for k, n := range tt.want {
				if r.Count(k) != n {
					t.Errorf("%s: got %d, want %d", k, r.Count(k), n)
				}
				total += n
			}
			if len(r.Mismatches) != total {
				t.Fatalf("unexpected mismatches: %v", r.Mismatches)
			}
		})
	}
}

func TestReportMismatchesAreSorted(t *testing.T) {
	g := clbRow(t, 3)
	doc := captureOf(g)
	// The pip is missed during claims, the site only at Finalize, so the
	// raw recording order is X1 before X0.
	x1 := doc.tile(t, "CLB_X1Y0")
	x1.Pips = x1.Pips[:1]
	x0 := doc.tile(t, "CLB_X0Y0")
	x0.Sites = append(x0.Sites, capSite{Name: "DSP_X0Y0", Kind: "DSP"})

	r := run(t, g, doc, nil)
	if len(r.Mismatches) != 2 {
		t.Fatalf("mismatches = %v", r.Mismatches)
	}
	if r.Mismatches[0].Kind != KindUnclaimedSite || r.Mismatches[1].Kind != KindMissingPip {
		t.Fatalf("mismatches not ordered by location: %v", r.Mismatches)
	}
	for i := 1; i < len(r.Mismatches); i++ {
		if r.Mismatches[i-1].Location > r.Mismatches[i].Location {
			t.Fatalf("mismatches not sorted: %v", r.Mismatches)
		}
	}
}
