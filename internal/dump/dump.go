// Package dump renders databases, expanded grids and bit data as plain text.
// Output is ordered by ID or by name, never by map iteration, so two dumps
// of the same input are byte-identical and diff cleanly.
package dump

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/dbfile"
	"github.com/robert-at-pretension-io/fabricdb/internal/entity"
	"github.com/robert-at-pretension-io/fabricdb/internal/expand"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

type printer struct {
	w   *bufio.Writer
	err error
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: bufio.NewWriter(w)}
}

func (p *printer) line(indent int, format string, args ...any) {
	if p.err != nil {
		return
	}
	if _, err := p.w.WriteString(strings.Repeat("  ", indent)); err != nil {
		p.err = err
		return
	}
	if _, err := fmt.Fprintf(p.w, format+"\n", args...); err != nil {
		p.err = err
	}
}

func (p *printer) flush() error {
	if p.err != nil {
		return p.err
	}
	return p.w.Flush()
}

// DB writes the interconnect database.
func DB(w io.Writer, db *intdb.DB) error {
	p := newPrinter(w)
	writeDB(p, db)
	return p.flush()
}

func writeDB(p *printer, db *intdb.DB) {
	p.line(0, "tile_slots")
	for id, name := range db.TileSlots().All() {
		p.line(1, "%s %s", entity.Format("TSLOT", id), name)
	}
	p.line(0, "region_slots")
	for id, name := range db.RegionSlots().All() {
		p.line(1, "%s %s", entity.Format("RSLOT", id), name)
	}
	p.line(0, "bel_slots")
	for id, bs := range db.BelSlots().All() {
		p.line(1, "%s %s tile_slot %s", entity.Format("BSLOT", id), db.BelSlots().Key(id), db.TileSlots().Key(bs.TileSlot))
	}
	p.line(0, "wires")
	for id, ws := range db.WireSlots().All() {
		if ws.Regional {
			p.line(1, "%s %s region %s", entity.Format("W", id), db.WireName(id), db.RegionSlots().Key(ws.Region))
			continue
		}
		p.line(1, "%s %s", entity.Format("W", id), db.WireName(id))
	}
	p.line(0, "connectors")
	for id, cs := range db.ConnectorSlots().All() {
		req := ""
		if cs.Required {
			req = " required"
		}
		p.line(1, "%s %s opposite %s dx %d dy %d%s", entity.Format("CSLOT", id), db.ConnectorSlots().Key(id),
			db.ConnectorSlots().Key(cs.Opposite), cs.DX, cs.DY, req)
	}

	p.line(0, "bel_classes")
	for id, bc := range db.BelClasses().All() {
		p.line(1, "%s %s", entity.Format("BCLS", id), db.BelClasses().Key(id))
		for pid, pin := range bc.Pins.All() {
			name := bc.Pins.Key(pid)
			if pin.Width == 0 {
				p.line(2, "pin %s %s", name, pin.Dir)
				continue
			}
			idx := make([]string, len(pin.Index))
			for i, x := range pin.Index {
				idx[i] = fmt.Sprint(x)
			}
			p.line(2, "pin %s[%d] %s index %s", name, pin.Width, pin.Dir, strings.Join(idx, ","))
		}
		for aid, attr := range bc.Attrs.All() {
			if attr.Kind == intdb.AttrEnum {
				p.line(2, "attr %s enum %s", bc.Attrs.Key(aid), strings.Join(attr.Values, ","))
				continue
			}
			p.line(2, "attr %s bool", bc.Attrs.Key(aid))
		}
	}

	p.line(0, "tile_classes")
	for id, tc := range db.TileClasses().All() {
		p.line(1, "%s %s slot %s", entity.Format("TCLS", id), db.TileClasses().Key(id), db.TileSlots().Key(tc.Slot))
		for _, w := range tc.Wires {
			p.line(2, "wire %s", db.WireName(w))
		}
		for bs, tb := range tc.Bels.All() {
			bc := db.BelClassByID(tb.Class)
			pins := make([]string, len(tb.Pins))
			for i, b := range tb.Pins {
				pin := bc.Pins.At(b.Pin)
				pins[i] = pin.PhysicalName(bc.Pins.Key(b.Pin), b.Index) + "=" + db.WireName(b.Wire)
			}
			p.line(2, "bel %s class %s %s", db.BelSlots().Key(bs), db.BelClasses().Key(tb.Class), strings.Join(pins, " "))
		}
		for cs, exp := range tc.Exposures.All() {
			lanes := make([]string, len(exp.Lanes))
			for i, l := range exp.Lanes {
				lanes[i] = db.WireName(l)
			}
			p.line(2, "connector %s %s", db.ConnectorSlots().Key(cs), strings.Join(lanes, " "))
		}
		for _, pip := range tc.Pips {
			p.line(2, "pip %s <- %s", db.WireName(pip.Dst), db.WireName(pip.Src))
		}
	}
}

// Grid writes an expanded device: tiles, multi-wire nodes and regions.
// Single-member nodes are counted but not listed.
func Grid(w io.Writer, g *expand.Grid) error {
	p := newPrinter(w)
	writeGrid(p, g)
	return p.flush()
}

func writeGrid(p *printer, g *expand.Grid) {
	db := g.DB()
	p.line(0, "device %s tiles %d wires %d nodes %d", g.Name(), g.NumTiles(), g.NumWires(), g.NumNodes())
	for tid, t := range g.Tiles() {
		p.line(1, "tile %d %s", tid, g.TileName(tid))
		for _, r := range t.Bits {
			p.line(2, "bits die %d frame %d+%d bit %d+%d %s", r.Die, r.Frame, r.Frames, r.Bit, r.Bits, r.Orientation)
		}
	}
	singles := 0
	for n, node := range g.Nodes() {
		if len(node.Members) == 1 {
			singles++
			continue
		}
		names := make([]string, len(node.Members))
		for i, m := range node.Members {
			names[i] = g.WireString(m)
		}
		p.line(1, "node %d %s", n, strings.Join(names, " "))
	}
	p.line(1, "single-wire nodes %d", singles)
	for _, r := range g.Regions() {
		p.line(1, "region %s die %d col %d row %d node %d wires %d",
			db.RegionSlots().Key(r.Slot), r.Key.Die, r.Key.Col, r.Key.Row, r.Node, len(r.Wires))
	}
}

// Bits writes the bit knowledge base.
func Bits(w io.Writer, d *bits.Data) error {
	p := newPrinter(w)
	writeBits(p, d)
	return p.flush()
}

func writeBits(p *printer, d *bits.Data) {
	for _, tile := range d.Tiles() {
		p.line(0, "tile %s", tile)
		for _, name := range d.Items(tile) {
			item, _ := d.Item(tile, name, nil)
			p.line(1, "%s %s", name, item)
		}
	}
	for _, k := range d.MiscKeys() {
		v, _ := d.Misc(k, nil)
		p.line(0, "misc %s %s", k, v)
	}
	for _, dev := range d.Devices() {
		p.line(0, "device %s", dev)
		for _, k := range d.DeviceKeys(dev) {
			v, _ := d.Device(dev, k, nil)
			p.line(1, "%s %s", k, v)
		}
	}
}

// Database writes a whole container. With grids set every device is
// expanded and dumped as well.
func Database(w io.Writer, d *dbfile.Database, grids bool) error {
	p := newPrinter(w)
	p.line(0, "family %s", d.Family)
	writeDB(p, d.IntDB)
	for _, geom := range d.Chips {
		p.line(0, "chip %s dies %d placements %d", geom.Name, geom.Dies.Len(), len(geom.Placements))
		for _, b := range geom.Bonds {
			p.line(1, "bond %s", b.Package)
			for _, pin := range b.SortedPins() {
				if pin.Cell != nil {
					p.line(2, "%s %s %s %s", pin.Pin, pin.Kind, pin.Cell, pin.Bel)
					continue
				}
				p.line(2, "%s %s", pin.Pin, pin.Kind)
			}
		}
		if !grids {
			continue
		}
		g, err := expand.Expand(geom, d.IntDB, nil)
		if err != nil {
			return err
		}
		writeGrid(p, g)
	}
	writeBits(p, d.Bits)
	return p.flush()
}
