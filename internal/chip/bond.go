package chip

import (
	"fmt"
	"sort"
)

// PadKind classifies a package pin.
type PadKind string

const (
	PadIO    PadKind = "io"
	PadPower PadKind = "power"
	PadGnd   PadKind = "gnd"
	PadNC    PadKind = "nc"
	PadCfg   PadKind = "cfg"
)

// BondPin connects one package pin to a pad. IO pins name the tile and bel
// slot of the pad they reach.
type BondPin struct {
	Pin  string     `json:"pin"`
	Kind PadKind    `json:"kind"`
	Cell *CellCoord `json:"cell,omitempty"`
	Bel  string     `json:"bel,omitempty"`
}

// Bond is the pinout of one package.
type Bond struct {
	Package string    `json:"package"`
	Pins    []BondPin `json:"pins"`
}

func (b Bond) validate() error {
	seen := make(map[string]bool, len(b.Pins))
	for _, p := range b.Pins {
		if seen[p.Pin] {
			return fmt.Errorf("bond %s: duplicate pin %s", b.Package, p.Pin)
		}
		seen[p.Pin] = true
		switch p.Kind {
		case PadIO:
			if p.Cell == nil || p.Bel == "" {
				return fmt.Errorf("bond %s: io pin %s has no pad", b.Package, p.Pin)
			}
		case PadPower, PadGnd, PadNC, PadCfg:
		default:
			return fmt.Errorf("bond %s: pin %s has unknown kind %q", b.Package, p.Pin, p.Kind)
		}
	}
	return nil
}

// Bond returns the pinout for a package name.
func (g *Geometry) Bond(pkg string) (*Bond, bool) {
	for i := range g.Bonds {
		if g.Bonds[i].Package == pkg {
			return &g.Bonds[i], true
		}
	}
	return nil, false
}

// SortedPins returns the pins ordered by name.
func (b *Bond) SortedPins() []BondPin {
	out := make([]BondPin, len(b.Pins))
	copy(out, b.Pins)
	sort.Slice(out, func(i, j int) bool { return out[i].Pin < out[j].Pin })
	return out
}
