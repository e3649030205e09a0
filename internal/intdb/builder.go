package intdb

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// ErrBuilt is returned by Builder methods called after Build.
var ErrBuilt = errors.New("intdb: builder already built")

// Builder accumulates an architecture description. Methods validate each
// declaration as it arrives; Build runs the whole-database checks.
type Builder struct {
	db    *DB
	built bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{db: &DB{}}
}

func (b *Builder) check() error {
	if b.built {
		return ErrBuilt
	}
	return nil
}

// AddTileSlot registers a tile slot.
func (b *Builder) AddTileSlot(name string) (TileSlotID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	id, fresh := b.db.tileSlots.Insert(name)
	if !fresh {
		return 0, duplicate("tile slot", name, "")
	}
	return id, nil
}

// AddRegionSlot registers a region slot.
func (b *Builder) AddRegionSlot(name string) (RegionSlotID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	id, fresh := b.db.regionSlots.Insert(name)
	if !fresh {
		return 0, duplicate("region slot", name, "")
	}
	return id, nil
}

// AddBelSlot registers a bel slot living in tiles of slot ts.
func (b *Builder) AddBelSlot(name string, ts TileSlotID) (BelSlotID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if !b.db.tileSlots.Valid(ts) {
		return 0, unregistered("tile slot", strconv.Itoa(int(ts)), "bel slot "+name, nil)
	}
	id, fresh := b.db.belSlots.Insert(name, BelSlot{TileSlot: ts})
	if !fresh {
		return 0, duplicate("bel slot", name, "")
	}
	return id, nil
}

// AddWireSlot registers a plain wire slot.
func (b *Builder) AddWireSlot(name string) (WireSlotID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	id, fresh := b.db.wireSlots.Insert(name, WireSlot{})
	if !fresh {
		return 0, duplicate("wire slot", name, "")
	}
	return id, nil
}

// AddRegionalWire registers a wire slot resolved per region of slot r.
func (b *Builder) AddRegionalWire(name string, r RegionSlotID) (WireSlotID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if !b.db.regionSlots.Valid(r) {
		return 0, unregistered("region slot", strconv.Itoa(int(r)), "wire slot "+name, nil)
	}
	id, fresh := b.db.wireSlots.Insert(name, WireSlot{Regional: true, Region: r})
	if !fresh {
		return 0, duplicate("wire slot", name, "")
	}
	return id, nil
}

// AddConnectorPair registers two mutually opposite connector slots. A tile
// exposing a at (c, r) meets the tile exposing bName at (c+dx, r+dy).
func (b *Builder) AddConnectorPair(a, bName string, dx, dy int, required bool) (ConnectorSlotID, ConnectorSlotID, error) {
	if err := b.check(); err != nil {
		return 0, 0, err
	}
	if a == bName {
		return 0, 0, invalid("connector slot", a, "use AddSelfConnector for self-paired slots")
	}
	for _, n := range []string{a, bName} {
		if _, ok := b.db.connSlots.ID(n); ok {
			return 0, 0, duplicate("connector slot", n, "")
		}
	}
	n := b.db.connSlots.Len()
	ida, _ := b.db.connSlots.Insert(a, ConnectorSlot{Opposite: ConnectorSlotID(n + 1), DX: dx, DY: dy, Required: required})
	idb, _ := b.db.connSlots.Insert(bName, ConnectorSlot{Opposite: ida, DX: -dx, DY: -dy, Required: required})
	return ida, idb, nil
}

// AddSelfConnector registers a connector slot that is its own opposite,
// used to join tiles stacked in the same cell.
func (b *Builder) AddSelfConnector(name string, required bool) (ConnectorSlotID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	id := ConnectorSlotID(b.db.connSlots.Len())
	if _, fresh := b.db.connSlots.Insert(name, ConnectorSlot{Opposite: id, Required: required}); !fresh {
		return 0, duplicate("connector slot", name, "")
	}
	return id, nil
}

// AddBelClass registers an empty bel class; pins and attributes follow.
func (b *Builder) AddBelClass(name string) (BelClassID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	id, fresh := b.db.belClasses.Insert(name, BelClass{})
	if !fresh {
		return 0, duplicate("bel class", name, "")
	}
	return id, nil
}

// AddBelPin adds a pin to bel class bc. Pin names are unique across all
// directions of a class.
func (b *Builder) AddBelPin(bc BelClassID, name string, pin BelPin) (BelPinID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if !b.db.belClasses.Valid(bc) {
		return 0, unregistered("bel class", strconv.Itoa(int(bc)), "pin "+name, nil)
	}
	ctx := "bel class " + b.db.belClasses.Key(bc)
	if pin.Width > 0 && pin.Index == nil {
		pin.Index = make([]int, pin.Width)
		for i := range pin.Index {
			pin.Index[i] = i
		}
	}
	if err := checkPinIndex(pin); err != nil {
		return 0, &SchemaError{Kind: KindInvalid, Namespace: "bel pin", Name: name, Context: ctx, Detail: err.Error()}
	}
	cls := b.db.belClasses.Ptr(bc)
	id, fresh := cls.Pins.Insert(name, pin)
	if !fresh {
		return 0, duplicate("bel pin", name, ctx)
	}
	return id, nil
}

// AddBelAttr adds a typed attribute to bel class bc.
func (b *Builder) AddBelAttr(bc BelClassID, name string, attr BelAttr) (BelAttrID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if !b.db.belClasses.Valid(bc) {
		return 0, unregistered("bel class", strconv.Itoa(int(bc)), "attribute "+name, nil)
	}
	ctx := "bel class " + b.db.belClasses.Key(bc)
	if attr.Kind == AttrEnum && len(attr.Values) == 0 {
		return 0, &SchemaError{Kind: KindInvalid, Namespace: "bel attribute", Name: name, Context: ctx, Detail: "enum attribute has no values"}
	}
	cls := b.db.belClasses.Ptr(bc)
	id, fresh := cls.Attrs.Insert(name, attr)
	if !fresh {
		return 0, duplicate("bel attribute", name, ctx)
	}
	return id, nil
}

// AddTileClass registers an empty tile class occupying slot ts.
func (b *Builder) AddTileClass(name string, ts TileSlotID) (TileClassID, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if !b.db.tileSlots.Valid(ts) {
		return 0, unregistered("tile slot", strconv.Itoa(int(ts)), "tile class "+name, nil)
	}
	id, fresh := b.db.tileClasses.Insert(name, TileClass{Slot: ts})
	if !fresh {
		return 0, duplicate("tile class", name, "")
	}
	return id, nil
}

func (b *Builder) tileClass(tc TileClassID) (*TileClass, string, error) {
	if err := b.check(); err != nil {
		return nil, "", err
	}
	if !b.db.tileClasses.Valid(tc) {
		return nil, "", unregistered("tile class", strconv.Itoa(int(tc)), "", nil)
	}
	return b.db.tileClasses.Ptr(tc), "tile class " + b.db.tileClasses.Key(tc), nil
}

func (b *Builder) requireWire(cls *TileClass, ctx string, w WireSlotID) error {
	if !b.db.wireSlots.Valid(w) {
		return unregistered("wire slot", strconv.Itoa(int(w)), ctx, nil)
	}
	if _, ok := cls.WireIndex(w); !ok {
		name := b.db.wireSlots.Key(w)
		cands := make([]string, len(cls.Wires))
		for i, cw := range cls.Wires {
			cands[i] = b.db.wireSlots.Key(cw)
		}
		return unregistered("wire", name, ctx, cands)
	}
	return nil
}

// AddTileWire appends wire slot w to the wire list of tile class tc.
func (b *Builder) AddTileWire(tc TileClassID, w WireSlotID) error {
	cls, ctx, err := b.tileClass(tc)
	if err != nil {
		return err
	}
	if !b.db.wireSlots.Valid(w) {
		return unregistered("wire slot", strconv.Itoa(int(w)), ctx, nil)
	}
	if _, ok := cls.WireIndex(w); ok {
		return duplicate("wire", b.db.wireSlots.Key(w), ctx)
	}
	cls.Wires = append(cls.Wires, w)
	return nil
}

// AddTileBel places a bel of class bc in slot bs of tile class tc, with
// its pins bound to wires already in the class.
func (b *Builder) AddTileBel(tc TileClassID, bs BelSlotID, bc BelClassID, pins ...PinBinding) error {
	cls, ctx, err := b.tileClass(tc)
	if err != nil {
		return err
	}
	if !b.db.belSlots.Valid(bs) {
		return unregistered("bel slot", strconv.Itoa(int(bs)), ctx, nil)
	}
	slotName := b.db.belSlots.Key(bs)
	if b.db.belSlots.At(bs).TileSlot != cls.Slot {
		return &SchemaError{Kind: KindInvalid, Namespace: "bel slot", Name: slotName, Context: ctx, Detail: "bel slot belongs to another tile slot"}
	}
	if cls.Bels.Contains(bs) {
		return duplicate("bel", slotName, ctx)
	}
	if !b.db.belClasses.Valid(bc) {
		return unregistered("bel class", strconv.Itoa(int(bc)), ctx, nil)
	}
	belCls := b.db.belClasses.Ptr(bc)
	seen := make(map[[2]int]bool, len(pins))
	for _, pb := range pins {
		if !belCls.Pins.Valid(pb.Pin) {
			return unregistered("bel pin", strconv.Itoa(int(pb.Pin)), ctx, nil)
		}
		pin := belCls.Pins.At(pb.Pin)
		pinName := belCls.Pins.Key(pb.Pin)
		if pb.Index < 0 || (pin.Width == 0 && pb.Index != 0) || (pin.Width > 0 && pb.Index >= pin.Width) {
			return &SchemaError{Kind: KindInvalid, Namespace: "bel pin", Name: pinName, Context: ctx, Detail: fmt.Sprintf("member %d out of range", pb.Index)}
		}
		key := [2]int{int(pb.Pin), pb.Index}
		if seen[key] {
			return duplicate("pin binding", pin.PhysicalName(pinName, pb.Index), ctx)
		}
		seen[key] = true
		if err := b.requireWire(cls, ctx, pb.Wire); err != nil {
			return err
		}
	}
	bound := slices.Clone(pins)
	slices.SortFunc(bound, func(x, y PinBinding) int {
		if x.Pin != y.Pin {
			return int(x.Pin) - int(y.Pin)
		}
		return x.Index - y.Index
	})
	cls.Bels.Insert(bs, TileBel{Class: bc, Pins: bound})
	return nil
}

// AddExposure offers lanes of tile class tc on connector slot cs.
func (b *Builder) AddExposure(tc TileClassID, cs ConnectorSlotID, lanes ...WireSlotID) error {
	cls, ctx, err := b.tileClass(tc)
	if err != nil {
		return err
	}
	if !b.db.connSlots.Valid(cs) {
		return unregistered("connector slot", strconv.Itoa(int(cs)), ctx, nil)
	}
	if cls.Exposures.Contains(cs) {
		return duplicate("exposure", b.db.connSlots.Key(cs), ctx)
	}
	for _, w := range lanes {
		if err := b.requireWire(cls, ctx, w); err != nil {
			return err
		}
	}
	cls.Exposures.Insert(cs, Exposure{Lanes: slices.Clone(lanes)})
	return nil
}

// AddPip declares a programmable connection src -> dst in tile class tc.
func (b *Builder) AddPip(tc TileClassID, dst, src WireSlotID) error {
	cls, ctx, err := b.tileClass(tc)
	if err != nil {
		return err
	}
	for _, w := range []WireSlotID{dst, src} {
		if err := b.requireWire(cls, ctx, w); err != nil {
			return err
		}
	}
	p := Pip{Dst: dst, Src: src}
	if slices.Contains(cls.Pips, p) {
		return duplicate("pip", b.db.wireSlots.Key(dst)+" <- "+b.db.wireSlots.Key(src), ctx)
	}
	cls.Pips = append(cls.Pips, p)
	return nil
}

// Build validates the accumulated description and returns the database.
// The builder cannot be used afterwards.
func (b *Builder) Build() (*DB, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if err := b.db.Validate(); err != nil {
		return nil, err
	}
	b.built = true
	return b.db, nil
}
