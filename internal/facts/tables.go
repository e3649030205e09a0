package facts

import (
	"sort"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/expand"
	"github.com/robert-at-pretension-io/fabricdb/internal/verify"
)

// Tables is the relational fact model of a family database.
// Each slice is a relation (table) with flat rows.
type Tables struct {
	Devices    []DeviceRow   `json:"devices"`
	Tiles      []TileRow     `json:"tiles"`
	Wires      []WireRow     `json:"wires"`
	Nodes      []NodeRow     `json:"nodes"`
	Pips       []PipRow      `json:"pips"`
	Bels       []BelRow      `json:"bels"`
	Items      []ItemRow     `json:"items"`
	Mismatches []MismatchRow `json:"mismatches"`
}

type DeviceRow struct {
	Name   string `json:"name"`
	Family string `json:"family"`
	Dies   int    `json:"dies"`
	Tiles  int    `json:"tiles"`
	Wires  int    `json:"wires"`
	Nodes  int    `json:"nodes"`
}

type TileRow struct {
	Device string `json:"device"`
	Name   string `json:"name"`
	Class  string `json:"class"`
	Die    int    `json:"die"`
	Col    int    `json:"col"`
	Row    int    `json:"row"`
}

type WireRow struct {
	Device string `json:"device"`
	Tile   string `json:"tile"`
	Wire   string `json:"wire"`
	Node   int    `json:"node"`
}

type NodeRow struct {
	Device string `json:"device"`
	Node   int    `json:"node"`
	Root   string `json:"root"`
	Size   int    `json:"size"`
}

type PipRow struct {
	Device string `json:"device"`
	Tile   string `json:"tile"`
	Dst    string `json:"dst"`
	Src    string `json:"src"`
}

type BelRow struct {
	Device string `json:"device"`
	Tile   string `json:"tile"`
	Slot   string `json:"slot"`
	Class  string `json:"class"`
}

// ItemRow is a tile item of the bit knowledge base. Items belong to tile
// classes, not devices.
type ItemRow struct {
	TileClass string `json:"tile_class"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Bits      string `json:"bits"`
}

type MismatchRow struct {
	Device   string `json:"device"`
	Kind     string `json:"kind"`
	Location string `json:"location"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
}

// BuildTables converts expanded grids, the bit knowledge base and any
// verification reports (keyed by device) into a normalized relational model.
func BuildTables(family string, grids []*expand.Grid, data *bits.Data, reports map[string]*verify.Report) Tables {
	tables := emptyTables()

	for _, g := range grids {
		db := g.DB()
		dev := g.Name()
		tables.Devices = append(tables.Devices, DeviceRow{
			Name:   dev,
			Family: family,
			Dies:   g.Geometry().Dies.Len(),
			Tiles:  g.NumTiles(),
			Wires:  g.NumWires(),
			Nodes:  g.NumNodes(),
		})

		for tid, t := range g.Tiles() {
			tileName := g.TileName(tid)
			tables.Tiles = append(tables.Tiles, TileRow{
				Device: dev,
				Name:   tileName,
				Class:  db.TileClasses().Key(t.Class),
				Die:    int(t.Cell.Die),
				Col:    int(t.Cell.Col),
				Row:    int(t.Cell.Row),
			})
			for _, w := range t.Wires {
				tables.Wires = append(tables.Wires, WireRow{
					Device: dev,
					Tile:   tileName,
					Wire:   db.WireName(g.Wire(w).Slot),
					Node:   int(g.Node(w)),
				})
			}
			for _, p := range g.Pips(tid) {
				tables.Pips = append(tables.Pips, PipRow{
					Device: dev,
					Tile:   tileName,
					Dst:    db.WireName(g.Wire(p.Dst).Slot),
					Src:    db.WireName(g.Wire(p.Src).Slot),
				})
			}
			for bs, tb := range db.TileClassByID(t.Class).Bels.All() {
				tables.Bels = append(tables.Bels, BelRow{
					Device: dev,
					Tile:   tileName,
					Slot:   db.BelSlots().Key(bs),
					Class:  db.BelClasses().Key(tb.Class),
				})
			}
		}

		for n, node := range g.Nodes() {
			tables.Nodes = append(tables.Nodes, NodeRow{
				Device: dev,
				Node:   int(n),
				Root:   g.WireString(node.Members[0]),
				Size:   len(node.Members),
			})
		}
	}

	if data != nil {
		for _, tile := range data.Tiles() {
			for _, name := range data.Items(tile) {
				item, _ := data.Item(tile, name, nil)
				tables.Items = append(tables.Items, ItemRow{
					TileClass: tile,
					Name:      name,
					Kind:      item.Kind.String(),
					Bits:      item.String(),
				})
			}
		}
	}

	devices := make([]string, 0, len(reports))
	for dev := range reports {
		devices = append(devices, dev)
	}
	sort.Strings(devices)
	for _, dev := range devices {
		for _, m := range reports[dev].Mismatches {
			tables.Mismatches = append(tables.Mismatches, MismatchRow{
				Device:   dev,
				Kind:     string(m.Kind),
				Location: m.Location,
				Expected: m.Expected,
				Observed: m.Observed,
			})
		}
	}

	sort.Slice(tables.Devices, func(i, j int) bool { return tables.Devices[i].Name < tables.Devices[j].Name })

	return tables
}

// DeviceNames returns the names of every device row.
func (t Tables) DeviceNames() []string {
	out := make([]string, len(t.Devices))
	for i, d := range t.Devices {
		out[i] = d.Name
	}
	return out
}
