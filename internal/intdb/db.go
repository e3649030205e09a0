// Package intdb holds the interconnect architecture of one chip family:
// the slot namespaces, bel classes and tile classes that every device of
// the family is assembled from.
//
// A DB is produced by a Builder (or the template loader) and is immutable
// afterwards, so a single instance can be shared by concurrent expansions.
package intdb

import (
	"fmt"
	"strconv"

	"github.com/robert-at-pretension-io/fabricdb/internal/entity"
)

type (
	TileSlotID      uint8
	RegionSlotID    uint8
	ConnectorSlotID uint8
	BelSlotID       uint16
	WireSlotID      uint16
	BelClassID      uint16
	TileClassID     uint16
	BelPinID        uint16
	BelAttrID       uint16
)

// BelSlot is a named position for a bel inside tiles of one tile slot.
type BelSlot struct {
	TileSlot TileSlotID `json:"tile_slot"`
}

// WireSlot is a named wire position. Regional wires are joined with every
// other instance of the same slot inside one region.
type WireSlot struct {
	Regional bool         `json:"regional,omitempty"`
	Region   RegionSlotID `json:"region,omitempty"`
}

// ConnectorSlot is one side of a tile-to-tile adjacency. A tile exposing
// slot S at cell (c, r) is joined to the tile exposing Opposite at
// (c+DX, r+DY).
type ConnectorSlot struct {
	Opposite ConnectorSlotID `json:"opposite"`
	DX       int             `json:"dx"`
	DY       int             `json:"dy"`
	// Required makes a missing in-grid partner an expansion error instead
	// of a dangling edge.
	Required bool `json:"required,omitempty"`
}

// PinDir is the direction of a bel pin.
type PinDir uint8

const (
	PinInput PinDir = iota
	PinOutput
	PinBidir
)

var pinDirNames = [...]string{"input", "output", "bidir"}

func (d PinDir) String() string {
	if int(d) < len(pinDirNames) {
		return pinDirNames[d]
	}
	return "PinDir(" + strconv.Itoa(int(d)) + ")"
}

// ParsePinDir parses "input", "output" or "bidir".
func ParsePinDir(s string) (PinDir, error) {
	for i, n := range pinDirNames {
		if n == s {
			return PinDir(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pin direction %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d PinDir) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *PinDir) UnmarshalText(b []byte) error {
	v, err := ParsePinDir(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// BelPin describes one pin of a bel class. Width 0 is a scalar pin; an
// array pin has Width members and Index maps logical member i to its
// physical index.
type BelPin struct {
	Dir   PinDir `json:"dir"`
	Width int    `json:"width,omitempty"`
	Index []int  `json:"index,omitempty"`
}

// PhysicalName returns the name of member idx of pin name ("D[3]").
func (p BelPin) PhysicalName(name string, idx int) string {
	if p.Width == 0 {
		return name
	}
	return fmt.Sprintf("%s[%d]", name, p.Index[idx])
}

// AttrKind distinguishes bel attribute kinds.
type AttrKind uint8

const (
	AttrBool AttrKind = iota
	AttrEnum
)

func (k AttrKind) String() string {
	if k == AttrEnum {
		return "enum"
	}
	return "bool"
}

// BelAttr is a typed configuration attribute of a bel class.
type BelAttr struct {
	Kind   AttrKind `json:"kind"`
	Values []string `json:"values,omitempty"`
}

// BelClass describes a kind of bel.
type BelClass struct {
	Pins  entity.Map[BelPinID, string, BelPin]   `json:"pins"`
	Attrs entity.Map[BelAttrID, string, BelAttr] `json:"attrs"`
}

// PinBinding connects member Index of a bel pin to a wire of the tile.
type PinBinding struct {
	Pin   BelPinID   `json:"pin"`
	Index int        `json:"index,omitempty"`
	Wire  WireSlotID `json:"wire"`
}

// TileBel is a bel placed in a tile class.
type TileBel struct {
	Class BelClassID   `json:"class"`
	Pins  []PinBinding `json:"pins,omitempty"`
}

// Exposure lists the wires a tile class offers on a connector slot. Lane i
// is joined to lane i of the opposite exposure.
type Exposure struct {
	Lanes []WireSlotID `json:"lanes"`
}

// Pip is a programmable connection from Src to Dst inside one tile.
type Pip struct {
	Dst WireSlotID `json:"dst"`
	Src WireSlotID `json:"src"`
}

// TileClass is a reusable tile template.
type TileClass struct {
	Slot      TileSlotID                                `json:"slot"`
	Wires     []WireSlotID                              `json:"wires"`
	Bels      entity.PartVec[BelSlotID, TileBel]        `json:"bels"`
	Exposures entity.PartVec[ConnectorSlotID, Exposure] `json:"exposures"`
	Pips      []Pip                                     `json:"pips,omitempty"`
}

// WireIndex returns the position of w in the class wire list.
func (tc *TileClass) WireIndex(w WireSlotID) (int, bool) {
	for i, cw := range tc.Wires {
		if cw == w {
			return i, true
		}
	}
	return 0, false
}

// DB is a built interconnect database.
type DB struct {
	tileSlots   entity.Set[TileSlotID, string]
	regionSlots entity.Set[RegionSlotID, string]
	belSlots    entity.Map[BelSlotID, string, BelSlot]
	wireSlots   entity.Map[WireSlotID, string, WireSlot]
	connSlots   entity.Map[ConnectorSlotID, string, ConnectorSlot]
	belClasses  entity.Map[BelClassID, string, BelClass]
	tileClasses entity.Map[TileClassID, string, TileClass]
}

func (db *DB) TileSlots() entity.SetView[TileSlotID, string] {
	return entity.SetViewOf(&db.tileSlots)
}

func (db *DB) RegionSlots() entity.SetView[RegionSlotID, string] {
	return entity.SetViewOf(&db.regionSlots)
}

func (db *DB) BelSlots() entity.MapView[BelSlotID, string, BelSlot] {
	return entity.ViewOf(&db.belSlots)
}

func (db *DB) WireSlots() entity.MapView[WireSlotID, string, WireSlot] {
	return entity.ViewOf(&db.wireSlots)
}

func (db *DB) ConnectorSlots() entity.MapView[ConnectorSlotID, string, ConnectorSlot] {
	return entity.ViewOf(&db.connSlots)
}

func (db *DB) BelClasses() entity.MapView[BelClassID, string, BelClass] {
	return entity.ViewOf(&db.belClasses)
}

func (db *DB) TileClasses() entity.MapView[TileClassID, string, TileClass] {
	return entity.ViewOf(&db.tileClasses)
}

// TileClass returns the class with the given name.
func (db *DB) TileClass(name string) (TileClassID, *TileClass, bool) {
	id, ok := db.tileClasses.ID(name)
	if !ok {
		return 0, nil, false
	}
	return id, db.tileClasses.Ptr(id), true
}

// TileClassByID returns a pointer to the stored class. Callers must not
// modify it.
func (db *DB) TileClassByID(id TileClassID) *TileClass {
	return db.tileClasses.Ptr(id)
}

// BelClassByID returns a pointer to the stored bel class. Callers must not
// modify it.
func (db *DB) BelClassByID(id BelClassID) *BelClass {
	return db.belClasses.Ptr(id)
}

// Opposite returns the connector slot paired with c.
func (db *DB) Opposite(c ConnectorSlotID) ConnectorSlotID {
	return db.connSlots.At(c).Opposite
}

// WireName returns the name of a wire slot.
func (db *DB) WireName(w WireSlotID) string {
	return db.wireSlots.Key(w)
}

// Validate checks every cross reference and the connector pairing rules.
// Builders call it before handing out a DB; decoders call it on load.
func (db *DB) Validate() error {
	for id, bs := range db.belSlots.All() {
		if !db.tileSlots.Valid(bs.TileSlot) {
			return unregistered("tile slot", strconv.Itoa(int(bs.TileSlot)), "bel slot "+db.belSlots.Key(id), nil)
		}
	}
	for id, ws := range db.wireSlots.All() {
		if ws.Regional && !db.regionSlots.Valid(ws.Region) {
			return unregistered("region slot", strconv.Itoa(int(ws.Region)), "wire slot "+db.wireSlots.Key(id), nil)
		}
	}
	for id, cs := range db.connSlots.All() {
		name := db.connSlots.Key(id)
		if !db.connSlots.Valid(cs.Opposite) {
			return unregistered("connector slot", strconv.Itoa(int(cs.Opposite)), "opposite of "+name, nil)
		}
		opp := db.connSlots.At(cs.Opposite)
		if opp.Opposite != id {
			return invalid("connector slot", name, "opposite relation is not symmetric")
		}
		if opp.DX != -cs.DX || opp.DY != -cs.DY {
			return invalid("connector slot", name, "offset is not the negation of its opposite")
		}
		if cs.Opposite == id && (cs.DX != 0 || cs.DY != 0) {
			return invalid("connector slot", name, "self-paired slot must have zero offset")
		}
	}
	for id := range db.belClasses.All() {
		if err := db.validateBelClass(id); err != nil {
			return err
		}
	}
	for id := range db.tileClasses.All() {
		if err := db.validateTileClass(id); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) validateBelClass(id BelClassID) error {
	bc := db.belClasses.Ptr(id)
	name := db.belClasses.Key(id)
	for pid, p := range bc.Pins.All() {
		if err := checkPinIndex(p); err != nil {
			return invalid("bel pin", name+"."+bc.Pins.Key(pid), err.Error())
		}
	}
	for aid, a := range bc.Attrs.All() {
		if a.Kind == AttrEnum && len(a.Values) == 0 {
			return invalid("bel attribute", name+"."+bc.Attrs.Key(aid), "enum attribute has no values")
		}
	}
	return nil
}

func checkPinIndex(p BelPin) error {
	if p.Width < 0 {
		return fmt.Errorf("negative width %d", p.Width)
	}
	if len(p.Index) != p.Width {
		return fmt.Errorf("index map has %d entries for width %d", len(p.Index), p.Width)
	}
	seen := make(map[int]bool, len(p.Index))
	for _, phys := range p.Index {
		if phys < 0 || seen[phys] {
			return fmt.Errorf("physical index %d repeated or negative", phys)
		}
		seen[phys] = true
	}
	return nil
}

func (db *DB) validateTileClass(id TileClassID) error {
	tc := db.tileClasses.Ptr(id)
	ctx := "tile class " + db.tileClasses.Key(id)
	if !db.tileSlots.Valid(tc.Slot) {
		return unregistered("tile slot", strconv.Itoa(int(tc.Slot)), ctx, nil)
	}
	seen := make(map[WireSlotID]bool, len(tc.Wires))
	for _, w := range tc.Wires {
		if !db.wireSlots.Valid(w) {
			return unregistered("wire slot", strconv.Itoa(int(w)), ctx, nil)
		}
		if seen[w] {
			return duplicate("wire", db.wireSlots.Key(w), ctx)
		}
		seen[w] = true
	}
	hasWire := func(w WireSlotID) error {
		if !seen[w] {
			return unregistered("wire", strconv.Itoa(int(w)), ctx, nil)
		}
		return nil
	}
	for slot, bel := range tc.Bels.All() {
		if !db.belSlots.Valid(slot) {
			return unregistered("bel slot", strconv.Itoa(int(slot)), ctx, nil)
		}
		if db.belSlots.At(slot).TileSlot != tc.Slot {
			return invalid("bel slot", db.belSlots.Key(slot), ctx+": bel slot belongs to another tile slot")
		}
		if !db.belClasses.Valid(bel.Class) {
			return unregistered("bel class", strconv.Itoa(int(bel.Class)), ctx, nil)
		}
		bc := db.belClasses.Ptr(bel.Class)
		for _, pb := range bel.Pins {
			if !bc.Pins.Valid(pb.Pin) {
				return unregistered("bel pin", strconv.Itoa(int(pb.Pin)), ctx, nil)
			}
			pin := bc.Pins.At(pb.Pin)
			if pb.Index < 0 || (pin.Width == 0 && pb.Index != 0) || (pin.Width > 0 && pb.Index >= pin.Width) {
				return invalid("bel pin", bc.Pins.Key(pb.Pin), fmt.Sprintf("%s: member %d out of range", ctx, pb.Index))
			}
			if err := hasWire(pb.Wire); err != nil {
				return err
			}
		}
	}
	for slot, exp := range tc.Exposures.All() {
		if !db.connSlots.Valid(slot) {
			return unregistered("connector slot", strconv.Itoa(int(slot)), ctx, nil)
		}
		for _, w := range exp.Lanes {
			if err := hasWire(w); err != nil {
				return err
			}
		}
	}
	for _, p := range tc.Pips {
		if err := hasWire(p.Dst); err != nil {
			return err
		}
		if err := hasWire(p.Src); err != nil {
			return err
		}
	}
	return nil
}
