package expand

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/fabtest"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

func mustExpand(t *testing.T, g *chip.Geometry, db *intdb.DB) *Grid {
	t.Helper()
	grid, err := Expand(g, db, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	return grid
}

func wireAt(t *testing.T, g *Grid, col int, name string) WireID {
	t.Helper()
	w, ok := g.LookupWire(chip.CellCoord{Col: chip.ColID(col)}, name)
	if !ok {
		t.Fatalf("no wire %s at column %d", name, col)
	}
	return w
}

func TestAdjacentConnectorsJoinLanes(t *testing.T) {
	db := fabtest.DB(t)
	g := mustExpand(t, fabtest.Geometry("pair", 2, 1, fabtest.Place(0, 0, "A"), fabtest.Place(1, 0, "B")), db)

	ao, bi := wireAt(t, g, 0, "O"), wireAt(t, g, 1, "I")
	if g.Node(ao) != g.Node(bi) {
		t.Fatalf("A.O and B.I should share a node: %s=%d %s=%d", g.WireString(ao), g.Node(ao), g.WireString(bi), g.Node(bi))
	}
	for _, w := range []WireID{wireAt(t, g, 0, "I"), wireAt(t, g, 1, "O")} {
		if n := len(g.Members(g.Node(w))); n != 1 {
			t.Fatalf("%s should be a singleton node, has %d members", g.WireString(w), n)
		}
	}
	if g.NumNodes() != 3 {
		t.Fatalf("expected 3 nodes, got %d", g.NumNodes())
	}
}

func TestHoleLeavesConnectorsDangling(t *testing.T) {
	db := fabtest.DB(t)
	geom := fabtest.Geometry("holey", 3, 1, fabtest.Place(0, 0, "A"), fabtest.Place(2, 0, "B"))
	d := geom.Dies.Ptr(0)
	d.Holes = []chip.Rect{{ColL: 1, ColR: 2, RowB: 0, RowT: 1}}

	g := mustExpand(t, geom, db)
	if g.NumNodes() != g.NumWires() {
		t.Fatalf("every wire should be its own node: %d nodes, %d wires", g.NumNodes(), g.NumWires())
	}
}

func TestNodeClosureAndNumbering(t *testing.T) {
	db := fabtest.DB(t)
	g := mustExpand(t, fabtest.CLBRow("row", 4), db)

	total := 0
	prevFirst := WireID(0)
	for n, node := range g.Nodes() {
		if len(node.Members) == 0 {
			t.Fatalf("node %d is empty", n)
		}
		if n > 0 && node.Members[0] <= prevFirst {
			t.Fatalf("node %d first member %d is not ascending", n, node.Members[0])
		}
		prevFirst = node.Members[0]
		for _, w := range node.Members {
			if g.Node(w) != n {
				t.Fatalf("wire %s is listed in node %d but maps to %d", g.WireString(w), n, g.Node(w))
			}
		}
		total += len(node.Members)
	}
	if total != g.NumWires() {
		t.Fatalf("nodes cover %d wires, grid has %d", total, g.NumWires())
	}
}

func TestExpansionIsDeterministic(t *testing.T) {
	db := fabtest.DB(t)
	geom := fabtest.CLBRow("row", 5)
	a := mustExpand(t, geom, db)
	b := mustExpand(t, geom, db)
	if a.NumWires() != b.NumWires() || a.NumNodes() != b.NumNodes() {
		t.Fatalf("sizes differ between runs")
	}
	for w := range WireID(a.NumWires()) {
		if a.Node(w) != b.Node(w) || a.Wire(w) != b.Wire(w) {
			t.Fatalf("wire %d differs between runs", w)
		}
	}
}

func TestChainedTilesShareNodes(t *testing.T) {
	db := fabtest.DB(t)
	g := mustExpand(t, fabtest.CLBRow("row", 3), db)
	for col := 0; col < 2; col++ {
		if g.Node(wireAt(t, g, col, "O")) != g.Node(wireAt(t, g, col+1, "I")) {
			t.Fatalf("CLB %d O should meet CLB %d I", col, col+1)
		}
	}
	n := g.Node(wireAt(t, g, 1, "O"))
	into := g.PipsInto(n)
	if len(into) != 2 {
		t.Fatalf("expected 2 pips into the node, got %d", len(into))
	}
	from := g.PipsFrom(n)
	if len(from) != 1 || from[0].Tile == into[0].Tile {
		t.Fatalf("expected one pip leaving the node in the next tile, got %+v", from)
	}
}

func TestRegionsBucketColumns(t *testing.T) {
	db := fabtest.DB(t)
	geom := fabtest.CLBRow("row", 4)
	geom.Regions = []chip.RegionRule{{Slot: "GCLK", ColBucket: 2}}
	g := mustExpand(t, geom, db)

	clk := func(col int) NodeID { return g.Node(wireAt(t, g, col, "CLK")) }
	if clk(0) != clk(1) || clk(2) != clk(3) {
		t.Fatalf("clock wires in one bucket should share a node")
	}
	if clk(1) == clk(2) {
		t.Fatalf("clock wires in different buckets should not share a node")
	}
	if len(g.Regions()) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(g.Regions()))
	}

	geom.Regions = nil
	whole := mustExpand(t, geom, db)
	if whole.Node(wireAt(t, whole, 0, "CLK")) != whole.Node(wireAt(t, whole, 3, "CLK")) {
		t.Fatalf("without a rule the whole die is one region")
	}
}

type columnAssigner struct{}

func (columnAssigner) Region(cell chip.CellCoord, slot string) RegionKey {
	return RegionKey{Die: cell.Die, Col: int(cell.Col)}
}

func TestCustomRegionAssigner(t *testing.T) {
	db := fabtest.DB(t)
	g, err := ExpandWith(fabtest.CLBRow("row", 3), db, Options{Regions: columnAssigner{}})
	if err != nil {
		t.Fatalf("ExpandWith: %v", err)
	}
	if len(g.Regions()) != 3 {
		t.Fatalf("expected one region per column, got %d", len(g.Regions()))
	}
}

func TestExpansionErrors(t *testing.T) {
	db := fabtest.DB(t)
	tests := []struct {
		name    string
		geom    *chip.Geometry
		wantMsg string
	}{
		{
			name:    "two classes on one slot",
			geom:    fabtest.Geometry("dup", 2, 1, fabtest.Place(1, 0, "A"), fabtest.Place(1, 0, "B")),
			wantMsg: "X1Y0",
		},
		{
			name:    "unknown class",
			geom:    fabtest.Geometry("unknown", 1, 1, fabtest.Place(0, 0, "ZZZ")),
			wantMsg: "unknown tile class ZZZ",
		},
		{
			name:    "outside die",
			geom:    fabtest.Geometry("oob", 1, 1, fabtest.Place(3, 0, "A")),
			wantMsg: "outside the die",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.geom, db, nil)
			var ee *ExpansionError
			if !errors.As(err, &ee) {
				t.Fatalf("expected ExpansionError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestOverlapAllowedWhenGeometrySaysSo(t *testing.T) {
	db := fabtest.DB(t)
	geom := fabtest.Geometry("stack", 1, 1, fabtest.Place(0, 0, "A"), fabtest.Place(0, 0, "B"))
	geom.AllowOverlap = true
	g := mustExpand(t, geom, db)
	if len(g.TilesAt(chip.CellCoord{})) != 2 {
		t.Fatalf("expected both tiles at the cell")
	}
}

func requiredDB(t *testing.T, lanesB int) *intdb.DB {
	t.Helper()
	b := intdb.NewBuilder()
	main, _ := b.AddTileSlot("MAIN")
	w0, _ := b.AddWireSlot("W0")
	w1, _ := b.AddWireSlot("W1")
	e, w, _ := b.AddConnectorPair("E", "W", 1, 0, true)
	src, _ := b.AddTileClass("SRC", main)
	dst, _ := b.AddTileClass("DST", main)
	for _, tc := range []intdb.TileClassID{src, dst} {
		b.AddTileWire(tc, w0)
		b.AddTileWire(tc, w1)
	}
	if err := b.AddExposure(src, e, w0, w1); err != nil {
		t.Fatalf("AddExposure: %v", err)
	}
	if err := b.AddExposure(dst, w, []intdb.WireSlotID{w0, w1}[:lanesB]...); err != nil {
		t.Fatalf("AddExposure: %v", err)
	}
	db, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return db
}

func TestRequiredConnectorNeedsPartner(t *testing.T) {
	db := requiredDB(t, 2)
	if _, err := Expand(fabtest.Geometry("ok", 2, 1, fabtest.Place(0, 0, "SRC"), fabtest.Place(1, 0, "DST")), db, nil); err != nil {
		t.Fatalf("matched required connector: %v", err)
	}
	if _, err := Expand(fabtest.Geometry("edge", 1, 1, fabtest.Place(0, 0, "SRC")), db, nil); err != nil {
		t.Fatalf("off-grid required connector should dangle: %v", err)
	}
	_, err := Expand(fabtest.Geometry("missing", 2, 1, fabtest.Place(0, 0, "SRC"), fabtest.Place(1, 0, "SRC")), db, nil)
	if err == nil || !strings.Contains(err.Error(), "X0Y0") {
		t.Fatalf("expected missing partner error naming X0Y0, got %v", err)
	}

	short := requiredDB(t, 1)
	_, err = Expand(fabtest.Geometry("lanes", 2, 1, fabtest.Place(0, 0, "SRC"), fabtest.Place(1, 0, "DST")), short, nil)
	if err == nil || !strings.Contains(err.Error(), "lanes") {
		t.Fatalf("expected lane mismatch error, got %v", err)
	}
}

func TestLayoutAttachesBits(t *testing.T) {
	db := fabtest.DB(t)
	layout := func(cell chip.CellCoord, class string) bits.Translator {
		return bits.Translator{{Frame: int(cell.Col) * 4, Frames: 4, Bits: 8}}
	}
	g, err := Expand(fabtest.CLBRow("row", 2), db, layout)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	tid, ok := g.TileAt(chip.CellCoord{Col: 1}, 0)
	if !ok {
		t.Fatalf("no tile at X1Y0")
	}
	pos, err := g.ItemBits(tid, bits.BitItem(bits.TileBit{Frame: 2, Bit: 5}, false))
	if err != nil {
		t.Fatalf("ItemBits: %v", err)
	}
	if !slices.Equal(pos, []bits.BitPos{{Frame: 6, Bit: 5}}) {
		t.Fatalf("ItemBits = %v", pos)
	}
	if got := g.TileName(tid); got != "CLB_X1Y0" {
		t.Fatalf("TileName = %q", got)
	}
}
