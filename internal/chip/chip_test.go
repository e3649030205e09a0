package chip

import (
	"strings"
	"testing"
)

const sampleYAML = `
name: toy
family: toy
dies:
  - cols: 3
    rows: 2
    holes:
      - {col_l: 1, col_r: 2, row_b: 0, row_t: 1}
  - cols: 1
    rows: 1
placements:
  - {col: 0, row: 0, class: CLB}
  - {die: 1, col: 0, row: 0, class: IOB}
regions:
  - {slot: GCLK, col_bucket: 2}
bonds:
  - package: tq8
    pins:
      - {pin: P2, kind: io, cell: {die: 0, col: 0, row: 0}, bel: IOB0}
      - {pin: P1, kind: gnd}
`

func TestParseYAML(t *testing.T) {
	g, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Name != "toy" || g.Dies.Len() != 2 {
		t.Fatalf("unexpected geometry: name=%q dies=%d", g.Name, g.Dies.Len())
	}
	if got := g.Placements[1].Cell(); got != (CellCoord{Die: 1}) {
		t.Fatalf("placement cell = %v", got)
	}
	r, ok := g.RegionRule("GCLK")
	if !ok || r.ColBucket != 2 || r.RowBucket != 0 {
		t.Fatalf("region rule = %+v, %v", r, ok)
	}
	if _, ok := g.RegionRule("HCLK"); ok {
		t.Fatalf("unexpected rule for HCLK")
	}
}

func TestCellsSkipHoles(t *testing.T) {
	g, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var got []string
	for c := range g.Cells {
		got = append(got, c.String())
	}
	want := "X0Y0 X0Y1 X1Y1 X2Y0 X2Y1 D1X0Y0"
	if strings.Join(got, " ") != want {
		t.Fatalf("cells = %v, want %s", got, want)
	}
	if !g.IsHole(CellCoord{Col: 1}) {
		t.Fatalf("X1Y0 should be a hole")
	}
	if g.InBounds(CellCoord{Col: 3}) || g.InBounds(CellCoord{Die: 2}) {
		t.Fatalf("out of range cell reported in bounds")
	}
}

func TestDelta(t *testing.T) {
	g, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tests := []struct {
		name   string
		from   CellCoord
		dx, dy int
		want   CellCoord
		ok     bool
	}{
		{"east", CellCoord{}, 1, 0, CellCoord{Col: 1}, true},
		{"north", CellCoord{Col: 2}, 0, 1, CellCoord{Col: 2, Row: 1}, true},
		{"west_edge", CellCoord{}, -1, 0, CellCoord{}, false},
		{"north_edge", CellCoord{Row: 1}, 0, 1, CellCoord{}, false},
		{"other_die", CellCoord{Die: 1}, 1, 0, CellCoord{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.Delta(tt.from, tt.dx, tt.dy)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Delta(%v, %d, %d) = %v, %v; want %v, %v", tt.from, tt.dx, tt.dy, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no_name", `{"dies":[{"cols":1,"rows":1}]}`, "no name"},
		{"no_dies", `{"name":"x"}`, "no dies"},
		{"empty_die", `{"name":"x","dies":[{"cols":0,"rows":1}]}`, "size 0x1"},
		{"huge_die", `{"name":"x","dies":[{"cols":70000,"rows":1}]}`, "coordinate range"},
		{"dup_region", `{"name":"x","dies":[{"cols":1,"rows":1}],"regions":[{"slot":"G"},{"slot":"G"}]}`, "duplicate region rule"},
		{"neg_bucket", `{"name":"x","dies":[{"cols":1,"rows":1}],"regions":[{"slot":"G","row_bucket":-1}]}`, "negative bucket"},
		{"dup_pin", `{"name":"x","dies":[{"cols":1,"rows":1}],"bonds":[{"package":"p","pins":[{"pin":"A","kind":"nc"},{"pin":"A","kind":"gnd"}]}]}`, "duplicate pin A"},
		{"io_no_pad", `{"name":"x","dies":[{"cols":1,"rows":1}],"bonds":[{"package":"p","pins":[{"pin":"A","kind":"io"}]}]}`, "has no pad"},
		{"bad_kind", `{"name":"x","dies":[{"cols":1,"rows":1}],"bonds":[{"package":"p","pins":[{"pin":"A","kind":"vref"}]}]}`, "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestBondLookup(t *testing.T) {
	g, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, ok := g.Bond("tq8")
	if !ok {
		t.Fatalf("bond tq8 not found")
	}
	pins := b.SortedPins()
	if len(pins) != 2 || pins[0].Pin != "P1" || pins[1].Pin != "P2" {
		t.Fatalf("sorted pins = %+v", pins)
	}
	if b.Pins[0].Pin != "P2" {
		t.Fatalf("SortedPins reordered the bond itself")
	}
	if pins[1].Cell == nil || pins[1].Bel != "IOB0" {
		t.Fatalf("io pin lost its pad: %+v", pins[1])
	}
	if _, ok := g.Bond("pq208"); ok {
		t.Fatalf("unexpected bond pq208")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(t.TempDir() + "/none.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
