package pipeline

import (
	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/config"
	"github.com/robert-at-pretension-io/fabricdb/internal/expand"
)

// columnLayout turns the configured per-class layouts into the bit
// rectangles of each tile. Classes without a layout own no bits.
func columnLayout(layouts map[string]config.ColumnLayout) expand.LayoutFunc {
	if len(layouts) == 0 {
		return nil
	}
	return func(cell chip.CellCoord, class string) bits.Translator {
		l, ok := layouts[class]
		if !ok {
			return nil
		}
		r := bits.Rect{
			Die:    int(cell.Die),
			Frame:  int(cell.Col) * l.FramesPerCol,
			Frames: l.Frames,
			Bit:    int(cell.Row) * l.BitsPerRow,
			Bits:   l.Bits,
		}
		if l.Horizontal {
			r.Orientation.Direction = bits.Horizontal
		}
		r.Orientation.FlipFrames = l.FlipFrames
		r.Orientation.FlipBits = l.FlipBits
		return bits.Translator{r}
	}
}
