// Package chip describes the concrete grid of one device: its dies, the
// holes in them, which tile class sits where, how regional resources are
// bucketed, and how package pins bond out.
package chip

import (
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/robert-at-pretension-io/fabricdb/internal/entity"
)

type (
	DieID uint8
	ColID uint16
	RowID uint16
)

// CellCoord addresses one cell of the grid.
type CellCoord struct {
	Die DieID `json:"die"`
	Col ColID `json:"col"`
	Row RowID `json:"row"`
}

func (c CellCoord) String() string {
	if c.Die == 0 {
		return fmt.Sprintf("X%dY%d", c.Col, c.Row)
	}
	return fmt.Sprintf("D%dX%dY%d", c.Die, c.Col, c.Row)
}

// Delta returns the cell at offset (dx, dy) on the same die, or false when
// that falls off the die.
func (g *Geometry) Delta(c CellCoord, dx, dy int) (CellCoord, bool) {
	d := g.Dies.At(c.Die)
	col, row := int(c.Col)+dx, int(c.Row)+dy
	if col < 0 || row < 0 || col >= d.Cols || row >= d.Rows {
		return CellCoord{}, false
	}
	return CellCoord{Die: c.Die, Col: ColID(col), Row: RowID(row)}, true
}

// Rect is a half-open cell rectangle [ColL, ColR) x [RowB, RowT).
type Rect struct {
	ColL int `json:"col_l"`
	ColR int `json:"col_r"`
	RowB int `json:"row_b"`
	RowT int `json:"row_t"`
}

func (r Rect) contains(col, row int) bool {
	return col >= r.ColL && col < r.ColR && row >= r.RowB && row < r.RowT
}

// Die is one silicon die of the device.
type Die struct {
	Cols  int    `json:"cols"`
	Rows  int    `json:"rows"`
	Holes []Rect `json:"holes,omitempty"`
}

// Placement instantiates tile class Class at a cell.
type Placement struct {
	Die   DieID  `json:"die,omitempty"`
	Col   ColID  `json:"col"`
	Row   RowID  `json:"row"`
	Class string `json:"class"`
}

// Cell returns the placement coordinate.
func (p Placement) Cell() CellCoord {
	return CellCoord{Die: p.Die, Col: p.Col, Row: p.Row}
}

// RegionRule buckets cells into regions for one region slot: cells whose
// column falls in the same ColBucket-wide band and row in the same
// RowBucket-tall band share a region. A zero bucket spans the die.
type RegionRule struct {
	Slot      string `json:"slot"`
	ColBucket int    `json:"col_bucket,omitempty"`
	RowBucket int    `json:"row_bucket,omitempty"`
}

// Geometry is the complete grid description of one device.
type Geometry struct {
	Name       string                 `json:"name"`
	Family     string                 `json:"family,omitempty"`
	Dies       entity.Vec[DieID, Die] `json:"dies"`
	Placements []Placement            `json:"placements"`
	Regions    []RegionRule           `json:"regions,omitempty"`
	Bonds      []Bond                 `json:"bonds,omitempty"`

	// AllowOverlap permits several tile classes on one slot of a cell.
	AllowOverlap bool `json:"allow_overlap,omitempty"`
}

// IsHole reports whether c lies inside a hole of its die.
func (g *Geometry) IsHole(c CellCoord) bool {
	d := g.Dies.At(c.Die)
	for _, h := range d.Holes {
		if h.contains(int(c.Col), int(c.Row)) {
			return true
		}
	}
	return false
}

// InBounds reports whether c names an existing cell.
func (g *Geometry) InBounds(c CellCoord) bool {
	d, ok := g.Dies.Lookup(c.Die)
	return ok && int(c.Col) < d.Cols && int(c.Row) < d.Rows
}

// Cells iterates every non-hole cell, die then column then row.
func (g *Geometry) Cells(yield func(CellCoord) bool) {
	for die, d := range g.Dies.All() {
		for col := 0; col < d.Cols; col++ {
			for row := 0; row < d.Rows; row++ {
				c := CellCoord{Die: die, Col: ColID(col), Row: RowID(row)}
				if g.IsHole(c) {
					continue
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

// RegionRule returns the bucketing rule for a region slot name.
func (g *Geometry) RegionRule(slot string) (RegionRule, bool) {
	for _, r := range g.Regions {
		if r.Slot == slot {
			return r, true
		}
	}
	return RegionRule{}, false
}

// Validate checks die sizes and bond uniqueness. Placement problems are
// reported by expansion, which knows the tile classes.
func (g *Geometry) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("geometry has no name")
	}
	if g.Dies.Len() == 0 {
		return fmt.Errorf("geometry %s has no dies", g.Name)
	}
	for id, d := range g.Dies.All() {
		if d.Cols <= 0 || d.Rows <= 0 {
			return fmt.Errorf("geometry %s: die %d has size %dx%d", g.Name, id, d.Cols, d.Rows)
		}
		if d.Cols > 1<<16 || d.Rows > 1<<16 {
			return fmt.Errorf("geometry %s: die %d exceeds the coordinate range", g.Name, id)
		}
	}
	seen := make(map[string]bool, len(g.Regions))
	for _, r := range g.Regions {
		if seen[r.Slot] {
			return fmt.Errorf("geometry %s: duplicate region rule for %s", g.Name, r.Slot)
		}
		seen[r.Slot] = true
		if r.ColBucket < 0 || r.RowBucket < 0 {
			return fmt.Errorf("geometry %s: negative bucket in region rule %s", g.Name, r.Slot)
		}
	}
	for _, b := range g.Bonds {
		if err := b.validate(); err != nil {
			return fmt.Errorf("geometry %s: %w", g.Name, err)
		}
	}
	return nil
}

// LoadFile reads a geometry from JSON or YAML.
func LoadFile(path string) (*Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geometry: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geometry %s: %w", path, err)
	}
	return g, nil
}

// Parse decodes a geometry from JSON or YAML and validates it.
func Parse(data []byte) (*Geometry, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, err
	}
	var g Geometry
	if err := json.Unmarshal(js, &g); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
