package verify

import (
	"fmt"

	"github.com/robert-at-pretension-io/fabricdb/internal/expand"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

// Naming maps model objects to the names the capture uses for them.
type Naming interface {
	TileName(g *expand.Grid, tid expand.TileID) string
	WireName(g *expand.Grid, tid expand.TileID, ws intdb.WireSlotID) string
	SiteName(g *expand.Grid, tid expand.TileID, bs intdb.BelSlotID) string
}

// DefaultNaming names tiles "CLASS_X1Y2", wires by their slot name and
// sites "BELSLOT_X1Y2".
type DefaultNaming struct{}

func (DefaultNaming) TileName(g *expand.Grid, tid expand.TileID) string {
	return g.TileName(tid)
}

func (DefaultNaming) WireName(g *expand.Grid, _ expand.TileID, ws intdb.WireSlotID) string {
	return g.DB().WireName(ws)
}

func (DefaultNaming) SiteName(g *expand.Grid, tid expand.TileID, bs intdb.BelSlotID) string {
	return g.DB().BelSlots().Key(bs) + "_" + g.Tile(tid).Cell.String()
}

// VerifyGrid claims every node, pip and bel of an expanded grid. Each model
// node is claimed as its own origin, so two model nodes that the capture
// sees as one produce a node conflict, and one model node spread over
// several captured nodes produces a split.
func VerifyGrid(v *Verifier, g *expand.Grid, naming Naming) error {
	if naming == nil {
		naming = DefaultNaming{}
	}
	db := g.DB()
	wireRef := func(w expand.WireID) WireRef {
		wire := g.Wire(w)
		return WireRef{Tile: naming.TileName(g, wire.Tile), Wire: naming.WireName(g, wire.Tile, wire.Slot)}
	}

	for n, node := range g.Nodes() {
		refs := make([]WireRef, len(node.Members))
		for i, w := range node.Members {
			refs[i] = wireRef(w)
		}
		claim := Claim{Site: g.WireString(node.Members[0]), Origin: fmt.Sprintf("%s node %d", g.Name(), n)}
		if err := v.ClaimNode(claim, refs...); err != nil {
			return err
		}
	}

	for tid, t := range g.Tiles() {
		tileName := naming.TileName(g, tid)
		own := Claim{Site: tileName, Origin: tileName}
		for _, p := range g.Pips(tid) {
			src := naming.WireName(g, tid, g.Wire(p.Src).Slot)
			dst := naming.WireName(g, tid, g.Wire(p.Dst).Slot)
			if err := v.ClaimPip(own, tileName, src, dst); err != nil {
				return err
			}
		}

		for bs, tb := range db.TileClassByID(t.Class).Bels.All() {
			bc := db.BelClassByID(tb.Class)
			pins := make([]SitePin, len(tb.Pins))
			for i, b := range tb.Pins {
				pin := bc.Pins.At(b.Pin)
				pins[i] = SitePin{
					Name: pin.PhysicalName(bc.Pins.Key(b.Pin), b.Index),
					Dir:  pin.Dir,
					Wire: naming.WireName(g, tid, b.Wire),
				}
			}
			site := naming.SiteName(g, tid, bs)
			claim := Claim{Site: site, Origin: tileName}
			if err := v.VerifyBel(claim, tileName, site, db.BelClasses().Key(tb.Class), pins); err != nil {
				return err
			}
		}
	}
	return nil
}
