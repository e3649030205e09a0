package expand

import (
	"fmt"

	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
)

// RegionKey identifies one region of a region slot by the cell at its
// lower-left corner.
type RegionKey struct {
	Die chip.DieID `json:"die"`
	Col int        `json:"col"`
	Row int        `json:"row"`
}

func (k RegionKey) String() string {
	return fmt.Sprintf("D%dX%dY%d", k.Die, k.Col, k.Row)
}

// RegionAssigner decides which region of a region slot a cell belongs to.
// Families with irregular clock regions supply their own.
type RegionAssigner interface {
	Region(cell chip.CellCoord, slot string) RegionKey
}

// BucketAssigner applies the geometry's RegionRules. A slot without a rule
// forms one region per die.
type BucketAssigner struct {
	Geometry *chip.Geometry
}

func (b BucketAssigner) Region(cell chip.CellCoord, slot string) RegionKey {
	rule, _ := b.Geometry.RegionRule(slot)
	key := RegionKey{Die: cell.Die}
	if rule.ColBucket > 0 {
		key.Col = int(cell.Col) - int(cell.Col)%rule.ColBucket
	}
	if rule.RowBucket > 0 {
		key.Row = int(cell.Row) - int(cell.Row)%rule.RowBucket
	}
	return key
}
