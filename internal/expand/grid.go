package expand

import (
	"fmt"
	"iter"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/entity"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

type (
	TileID uint32
	WireID uint32
	NodeID uint32
)

// Tile is one instantiated tile class.
type Tile struct {
	Cell  chip.CellCoord
	Class intdb.TileClassID
	// Wires holds the wire instance of each class wire, in class order.
	Wires []WireID
	Bits  bits.Translator
}

// Wire is one instance of a wire slot.
type Wire struct {
	Tile TileID
	Slot intdb.WireSlotID
}

// Node is a maximal set of wire instances joined by connectors or regions.
type Node struct {
	Members []WireID
}

// Region is one resolved region of a region slot.
type Region struct {
	Slot  intdb.RegionSlotID
	Key   RegionKey
	Node  NodeID
	Wires []WireID
}

// PipInst is a pip of a tile instance, as wire instances.
type PipInst struct {
	Tile TileID
	Dst  WireID
	Src  WireID
}

// Grid is a fully expanded device. It is read-only once Expand returns.
type Grid struct {
	db       *intdb.DB
	geom     *chip.Geometry
	tiles    entity.Vec[TileID, Tile]
	wires    entity.Vec[WireID, Wire]
	wireNode []NodeID
	nodes    entity.Vec[NodeID, Node]
	byClass  [][]TileID
	cells    map[chip.CellCoord][]TileID
	regions  []Region
}

func (g *Grid) Name() string { return g.geom.Name }
func (g *Grid) DB() *intdb.DB { return g.db }
func (g *Grid) Geometry() *chip.Geometry { return g.geom }
func (g *Grid) NumTiles() int { return g.tiles.Len() }
func (g *Grid) NumWires() int { return g.wires.Len() }
func (g *Grid) NumNodes() int { return g.nodes.Len() }
func (g *Grid) Tile(id TileID) Tile { return g.tiles.At(id) }
func (g *Grid) Wire(id WireID) Wire { return g.wires.At(id) }
func (g *Grid) Node(w WireID) NodeID { return g.wireNode[w] }
func (g *Grid) Members(n NodeID) []WireID { return g.nodes.At(n).Members }
func (g *Grid) Regions() []Region { return g.regions }
func (g *Grid) Tiles() iter.Seq2[TileID, Tile] { return g.tiles.All() }
func (g *Grid) Nodes() iter.Seq2[NodeID, Node] { return g.nodes.All() }

// TilesOfClass returns every instance of a tile class in TileID order.
func (g *Grid) TilesOfClass(c intdb.TileClassID) []TileID {
	if int(c) >= len(g.byClass) {
		return nil
	}
	return g.byClass[c]
}

// TilesAt returns the tiles of a cell ordered by tile slot.
func (g *Grid) TilesAt(cell chip.CellCoord) []TileID {
	return g.cells[cell]
}

// TileAt returns the tile filling slot ts at cell.
func (g *Grid) TileAt(cell chip.CellCoord, ts intdb.TileSlotID) (TileID, bool) {
	for _, tid := range g.cells[cell] {
		if g.db.TileClassByID(g.tiles.At(tid).Class).Slot == ts {
			return tid, true
		}
	}
	return 0, false
}

func (g *Grid) tileWire(t Tile, tc *intdb.TileClass, ws intdb.WireSlotID) WireID {
	idx, ok := tc.WireIndex(ws)
	if !ok {
		panic(fmt.Sprintf("expand: wire slot %d not in tile class", ws))
	}
	return t.Wires[idx]
}

// TileWire returns the instance of wire slot ws in tile tid.
func (g *Grid) TileWire(tid TileID, ws intdb.WireSlotID) (WireID, bool) {
	t := g.tiles.At(tid)
	idx, ok := g.db.TileClassByID(t.Class).WireIndex(ws)
	if !ok {
		return 0, false
	}
	return t.Wires[idx], true
}

// LookupWire finds the instance of the named wire slot among the tiles of
// cell.
func (g *Grid) LookupWire(cell chip.CellCoord, name string) (WireID, bool) {
	ws, _, ok := g.db.WireSlots().Get(name)
	if !ok {
		return 0, false
	}
	for _, tid := range g.cells[cell] {
		if w, ok := g.TileWire(tid, ws); ok {
			return w, true
		}
	}
	return 0, false
}

// TileName names a tile by class and cell, e.g. "CLB_X3Y7".
func (g *Grid) TileName(tid TileID) string {
	t := g.tiles.At(tid)
	return g.db.TileClasses().Key(t.Class) + "_" + t.Cell.String()
}

// WireString renders a wire instance as "X1Y0.B.I".
func (g *Grid) WireString(w WireID) string {
	wire := g.wires.At(w)
	t := g.tiles.At(wire.Tile)
	return fmt.Sprintf("%s.%s.%s", t.Cell, g.db.TileClasses().Key(t.Class), g.db.WireName(wire.Slot))
}

// Pips returns the pips of tile tid in class declaration order.
func (g *Grid) Pips(tid TileID) []PipInst {
	t := g.tiles.At(tid)
	tc := g.db.TileClassByID(t.Class)
	out := make([]PipInst, len(tc.Pips))
	for i, p := range tc.Pips {
		out[i] = PipInst{Tile: tid, Dst: g.tileWire(t, tc, p.Dst), Src: g.tileWire(t, tc, p.Src)}
	}
	return out
}

// PipsInto returns the pips whose destination is any member of node n.
func (g *Grid) PipsInto(n NodeID) []PipInst {
	return g.pipsTouching(n, true)
}

// PipsFrom returns the pips whose source is any member of node n.
func (g *Grid) PipsFrom(n NodeID) []PipInst {
	return g.pipsTouching(n, false)
}

func (g *Grid) pipsTouching(n NodeID, dst bool) []PipInst {
	var out []PipInst
	seen := make(map[TileID]bool)
	for _, w := range g.Members(n) {
		tid := g.wires.At(w).Tile
		if seen[tid] {
			continue
		}
		seen[tid] = true
		for _, p := range g.Pips(tid) {
			end := p.Src
			if dst {
				end = p.Dst
			}
			if g.wireNode[end] == n {
				out = append(out, p)
			}
		}
	}
	return out
}

// ItemBits returns the device bits of a tile item in tile tid.
func (g *Grid) ItemBits(tid TileID, item bits.TileItem) ([]bits.BitPos, error) {
	t := g.tiles.At(tid)
	out, err := t.Bits.ItemBits(item)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", g.TileName(tid), err)
	}
	return out, nil
}
