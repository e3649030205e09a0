// Package fabtest provides a small synthetic family for tests: a handful
// of tile classes that exercise connectors, regional wires, bels and pips.
package fabtest

import (
	"testing"

	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

// Template is the toy family. A drives O east; B receives I from the west;
// CLB chains east-west and carries a slice and a regional clock.
const Template = `
family: toy
tile_slots: [MAIN]
region_slots: [GCLK]
bel_slots:
  - {name: SLICE, tile_slot: MAIN}
wires:
  - {name: I}
  - {name: O}
  - {name: CLK, region: GCLK}
connectors:
  - {name: E, opposite: W, dx: 1}
  - {name: W, opposite: E, dx: -1}
bel_classes:
  - name: SLICE
    pins:
      - {name: I, dir: input}
      - {name: O, dir: output}
      - {name: CLK, dir: input}
    attributes:
      - {name: MODE, kind: enum, values: [LOGIC, RAM]}
tile_classes:
  - name: A
    slot: MAIN
    wires: [I, O]
    connectors:
      - {slot: E, wires: [O]}
  - name: B
    slot: MAIN
    wires: [I, O]
    connectors:
      - {slot: W, wires: [I]}
  - name: CLB
    slot: MAIN
    wires: [I, O, CLK]
    bels:
      - slot: SLICE
        class: SLICE
        pins: {I: I, O: O, CLK: CLK}
    connectors:
      - {slot: E, wires: [O]}
      - {slot: W, wires: [I]}
    pips:
      - {dst: O, src: I}
      - {dst: O, src: CLK}
`

// DB builds the toy family.
func DB(t testing.TB) *intdb.DB {
	t.Helper()
	tmpl, err := intdb.ParseTemplate([]byte(Template))
	if err != nil {
		t.Fatalf("parsing toy template: %v", err)
	}
	db, err := tmpl.Build()
	if err != nil {
		t.Fatalf("building toy template: %v", err)
	}
	return db
}

// Place is a placement on die 0.
func Place(col, row int, class string) chip.Placement {
	return chip.Placement{Col: chip.ColID(col), Row: chip.RowID(row), Class: class}
}

// Geometry returns a single-die geometry.
func Geometry(name string, cols, rows int, placements ...chip.Placement) *chip.Geometry {
	g := &chip.Geometry{Name: name, Family: "toy", Placements: placements}
	g.Dies.Push(chip.Die{Cols: cols, Rows: rows})
	return g
}

// CLBRow returns a cols x 1 geometry filled with CLB tiles.
func CLBRow(name string, cols int) *chip.Geometry {
	ps := make([]chip.Placement, cols)
	for c := range ps {
		ps[c] = Place(c, 0, "CLB")
	}
	return Geometry(name, cols, 1, ps...)
}
