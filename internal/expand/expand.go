// Package expand instantiates an interconnect database over a chip
// geometry and resolves every wire instance into electrical nodes.
package expand

import (
	"fmt"
	"sort"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/entity"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

// LayoutFunc returns the bit rectangles owned by a tile of class at cell.
// It may return nil for tiles without configuration bits.
type LayoutFunc func(cell chip.CellCoord, class string) bits.Translator

// Options controls an expansion. Zero values select the defaults.
type Options struct {
	Layout  LayoutFunc
	Regions RegionAssigner
}

// ExpansionError reports a geometry that cannot be expanded over the
// database.
type ExpansionError struct {
	Device string
	Cell   chip.CellCoord
	Slot   string
	Reason string
}

func (e *ExpansionError) Error() string {
	if e.Slot == "" {
		return fmt.Sprintf("expanding %s: cell %s: %s", e.Device, e.Cell, e.Reason)
	}
	return fmt.Sprintf("expanding %s: cell %s slot %s: %s", e.Device, e.Cell, e.Slot, e.Reason)
}

// Expand expands geom over db with the default region assigner.
func Expand(geom *chip.Geometry, db *intdb.DB, layout LayoutFunc) (*Grid, error) {
	return ExpandWith(geom, db, Options{Layout: layout})
}

type expander struct {
	geom *chip.Geometry
	db   *intdb.DB
	opts Options
	g    *Grid
	uf   *unionFind
}

// ExpandWith expands geom over db. It is deterministic: the same inputs
// always yield the same tile, wire and node numbering.
func ExpandWith(geom *chip.Geometry, db *intdb.DB, opts Options) (*Grid, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if opts.Regions == nil {
		opts.Regions = BucketAssigner{Geometry: geom}
	}
	e := &expander{
		geom: geom,
		db:   db,
		opts: opts,
		g: &Grid{
			db:    db,
			geom:  geom,
			cells: make(map[chip.CellCoord][]TileID),
		},
	}
	e.g.byClass = make([][]TileID, db.TileClasses().Len())

	if err := e.placeTiles(); err != nil {
		return nil, err
	}
	e.uf = newUnionFind(e.g.wires.Len())
	if err := e.connect(); err != nil {
		return nil, err
	}
	e.joinRegions()
	e.numberNodes()
	return e.g, nil
}

func (e *expander) fail(cell chip.CellCoord, slot, format string, args ...any) error {
	return &ExpansionError{Device: e.geom.Name, Cell: cell, Slot: slot, Reason: fmt.Sprintf(format, args...)}
}

type placed struct {
	order int
	class intdb.TileClassID
	slot  intdb.TileSlotID
}

// placeTiles allocates tiles and wire instances in die, column, row,
// tile slot, class wire order.
func (e *expander) placeTiles() error {
	perCell := make(map[chip.CellCoord][]placed)
	for i, p := range e.geom.Placements {
		cell := p.Cell()
		if !e.geom.InBounds(cell) {
			return e.fail(cell, "", "placement of %s is outside the die", p.Class)
		}
		if e.geom.IsHole(cell) {
			return e.fail(cell, "", "placement of %s falls in a hole", p.Class)
		}
		cid, tc, ok := e.db.TileClass(p.Class)
		if !ok {
			return e.fail(cell, "", "unknown tile class %s", p.Class)
		}
		perCell[cell] = append(perCell[cell], placed{order: i, class: cid, slot: tc.Slot})
	}

	var err error
	e.geom.Cells(func(cell chip.CellCoord) bool {
		ps := perCell[cell]
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].slot < ps[j].slot })
		for i, p := range ps {
			if i > 0 && ps[i-1].slot == p.slot && !e.geom.AllowOverlap {
				err = e.fail(cell, e.db.TileSlots().Key(p.slot), "tile classes %s and %s both claim the slot",
					e.db.TileClasses().Key(ps[i-1].class), e.db.TileClasses().Key(p.class))
				return false
			}
			e.addTile(cell, p.class)
		}
		return true
	})
	return err
}

func (e *expander) addTile(cell chip.CellCoord, cid intdb.TileClassID) {
	tc := e.db.TileClassByID(cid)
	tid := entity.FromIndex[TileID](e.g.tiles.Len())
	t := Tile{Cell: cell, Class: cid, Wires: make([]WireID, len(tc.Wires))}
	for i, ws := range tc.Wires {
		t.Wires[i] = e.g.wires.Push(Wire{Tile: tid, Slot: ws})
	}
	if e.opts.Layout != nil {
		t.Bits = e.opts.Layout(cell, e.db.TileClasses().Key(cid))
	}
	e.g.tiles.Push(t)
	e.g.cells[cell] = append(e.g.cells[cell], tid)
	e.g.byClass[cid] = append(e.g.byClass[cid], tid)
}

// connect joins exposed lanes of adjacent tiles through their connector
// slots.
func (e *expander) connect() error {
	conns := e.db.ConnectorSlots()
	for tid, t := range e.g.tiles.All() {
		tc := e.db.TileClassByID(t.Class)
		for cs, exp := range tc.Exposures.All() {
			conn := conns.At(cs)
			target, ok := e.geom.Delta(t.Cell, conn.DX, conn.DY)
			if !ok || e.geom.IsHole(target) {
				continue
			}
			var partners []TileID
			for _, other := range e.g.cells[target] {
				if other == tid && conn.Opposite == cs {
					continue
				}
				otc := e.db.TileClassByID(e.g.tiles.At(other).Class)
				if otc.Exposures.Contains(conn.Opposite) {
					partners = append(partners, other)
				}
			}
			slotName := conns.Key(cs)
			switch {
			case len(partners) == 0:
				if conn.Required {
					return e.fail(t.Cell, slotName, "required connector has no %s partner at %s",
						conns.Key(conn.Opposite), target)
				}
				continue
			case len(partners) > 1:
				return e.fail(t.Cell, slotName, "%d tiles at %s expose %s", len(partners), target, conns.Key(conn.Opposite))
			}
			other := e.g.tiles.At(partners[0])
			otherExp, _ := e.db.TileClassByID(other.Class).Exposures.Get(conn.Opposite)
			if len(otherExp.Lanes) != len(exp.Lanes) {
				return e.fail(t.Cell, slotName, "%d lanes meet %d lanes of %s at %s",
					len(exp.Lanes), len(otherExp.Lanes), conns.Key(conn.Opposite), target)
			}
			for i, lane := range exp.Lanes {
				a := e.g.tileWire(t, tc, lane)
				b := e.g.tileWire(other, e.db.TileClassByID(other.Class), otherExp.Lanes[i])
				e.uf.union(uint32(a), uint32(b))
			}
		}
	}
	return nil
}

type regionSlotKey struct {
	slot intdb.RegionSlotID
	key  RegionKey
}

// joinRegions unions every instance of a regional wire slot that shares a
// region.
func (e *expander) joinRegions() {
	wireSlots := e.db.WireSlots()
	first := make(map[regionSlotKey]int)
	for wid, w := range e.g.wires.All() {
		ws := wireSlots.At(w.Slot)
		if !ws.Regional {
			continue
		}
		cell := e.g.tiles.At(w.Tile).Cell
		rk := regionSlotKey{slot: ws.Region, key: e.opts.Regions.Region(cell, e.db.RegionSlots().Key(ws.Region))}
		idx, ok := first[rk]
		if !ok {
			first[rk] = len(e.g.regions)
			e.g.regions = append(e.g.regions, Region{Slot: rk.slot, Key: rk.key, Wires: []WireID{wid}})
			continue
		}
		e.g.regions[idx].Wires = append(e.g.regions[idx].Wires, wid)
		e.uf.union(uint32(e.g.regions[idx].Wires[0]), uint32(wid))
	}
}

// numberNodes assigns node IDs in order of each node's lowest wire ID.
func (e *expander) numberNodes() {
	const unassigned = ^NodeID(0)
	rootNode := make([]NodeID, e.g.wires.Len())
	for i := range rootNode {
		rootNode[i] = unassigned
	}
	e.g.wireNode = make([]NodeID, e.g.wires.Len())
	for wid := range e.g.wires.IDs() {
		root := e.uf.find(uint32(wid))
		n := rootNode[root]
		if n == unassigned {
			n = e.g.nodes.Push(Node{})
			rootNode[root] = n
		}
		e.g.wireNode[wid] = n
		node := e.g.nodes.Ptr(n)
		node.Members = append(node.Members, wid)
	}
	for i := range e.g.regions {
		e.g.regions[i].Node = e.g.wireNode[e.g.regions[i].Wires[0]]
	}
}
