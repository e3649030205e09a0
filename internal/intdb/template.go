package intdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

// Template is the declarative form of an architecture, loaded from JSON
// or YAML. Everything is referenced by name.
type Template struct {
	Family      string              `json:"family,omitempty"`
	TileSlots   []string            `json:"tile_slots"`
	RegionSlots []string            `json:"region_slots,omitempty"`
	BelSlots    []BelSlotTemplate   `json:"bel_slots,omitempty"`
	Wires       []WireTemplate      `json:"wires"`
	Connectors  []ConnectorTemplate `json:"connectors,omitempty"`
	BelClasses  []BelClassTemplate  `json:"bel_classes,omitempty"`
	TileClasses []TileClassTemplate `json:"tile_classes"`
}

type BelSlotTemplate struct {
	Name     string `json:"name"`
	TileSlot string `json:"tile_slot"`
}

type WireTemplate struct {
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
}

// ConnectorTemplate declares one side of a connector pair. Both sides must
// be listed and agree with each other; a slot whose opposite is itself is
// self-paired.
type ConnectorTemplate struct {
	Name     string `json:"name"`
	Opposite string `json:"opposite"`
	DX       int    `json:"dx,omitempty"`
	DY       int    `json:"dy,omitempty"`
	Required bool   `json:"required,omitempty"`
}

type BelClassTemplate struct {
	Name       string         `json:"name"`
	Pins       []PinTemplate  `json:"pins,omitempty"`
	Attributes []AttrTemplate `json:"attributes,omitempty"`
}

type PinTemplate struct {
	Name  string `json:"name"`
	Dir   string `json:"dir"`
	Width int    `json:"width,omitempty"`
	Index []int  `json:"index,omitempty"`
}

type AttrTemplate struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Values []string `json:"values,omitempty"`
}

type TileClassTemplate struct {
	Name       string             `json:"name"`
	Slot       string             `json:"slot"`
	Wires      []string           `json:"wires"`
	Bels       []TileBelTemplate  `json:"bels,omitempty"`
	Connectors []ExposureTemplate `json:"connectors,omitempty"`
	Pips       []PipTemplate      `json:"pips,omitempty"`
}

// TileBelTemplate binds pins (by physical name, "D[3]" for array members)
// to tile wires.
type TileBelTemplate struct {
	Slot  string            `json:"slot"`
	Class string            `json:"class"`
	Pins  map[string]string `json:"pins,omitempty"`
}

type ExposureTemplate struct {
	Slot  string   `json:"slot"`
	Wires []string `json:"wires"`
}

type PipTemplate struct {
	Dst string `json:"dst"`
	Src string `json:"src"`
}

// LoadTemplate reads and builds an architecture template file.
func LoadTemplate(path string) (*DB, *Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading template: %w", err)
	}
	tmpl, err := ParseTemplate(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing template %s: %w", path, err)
	}
	db, err := tmpl.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building template %s: %w", path, err)
	}
	return db, tmpl, nil
}

// ParseTemplate decodes YAML or JSON. Unknown fields are rejected.
func ParseTemplate(data []byte) (*Template, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.DisallowUnknownFields()
	var t Template
	if err := dec.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// templateBuilder resolves template names to IDs, suggesting near misses.
type templateBuilder struct {
	b *Builder
}

func (tb *templateBuilder) lookup(ns, name, ctx string, id func(string) (int, bool), names []string) (int, error) {
	if v, ok := id(name); ok {
		return v, nil
	}
	return 0, unregistered(ns, name, ctx, names)
}

func (tb *templateBuilder) tileSlot(name, ctx string) (TileSlotID, error) {
	s := &tb.b.db.tileSlots
	v, err := tb.lookup("tile slot", name, ctx, func(n string) (int, bool) { id, ok := s.Get(n); return int(id), ok }, s.Keys())
	return TileSlotID(v), err
}

func (tb *templateBuilder) regionSlot(name, ctx string) (RegionSlotID, error) {
	s := &tb.b.db.regionSlots
	v, err := tb.lookup("region slot", name, ctx, func(n string) (int, bool) { id, ok := s.Get(n); return int(id), ok }, s.Keys())
	return RegionSlotID(v), err
}

func (tb *templateBuilder) belSlot(name, ctx string) (BelSlotID, error) {
	m := &tb.b.db.belSlots
	v, err := tb.lookup("bel slot", name, ctx, func(n string) (int, bool) { id, ok := m.ID(n); return int(id), ok }, m.Keys())
	return BelSlotID(v), err
}

func (tb *templateBuilder) wire(name, ctx string) (WireSlotID, error) {
	m := &tb.b.db.wireSlots
	v, err := tb.lookup("wire slot", name, ctx, func(n string) (int, bool) { id, ok := m.ID(n); return int(id), ok }, m.Keys())
	return WireSlotID(v), err
}

func (tb *templateBuilder) connector(name, ctx string) (ConnectorSlotID, error) {
	m := &tb.b.db.connSlots
	v, err := tb.lookup("connector slot", name, ctx, func(n string) (int, bool) { id, ok := m.ID(n); return int(id), ok }, m.Keys())
	return ConnectorSlotID(v), err
}

func (tb *templateBuilder) belClass(name, ctx string) (BelClassID, error) {
	m := &tb.b.db.belClasses
	v, err := tb.lookup("bel class", name, ctx, func(n string) (int, bool) { id, ok := m.ID(n); return int(id), ok }, m.Keys())
	return BelClassID(v), err
}

// Build resolves the template through a Builder.
func (t *Template) Build() (*DB, error) {
	tb := &templateBuilder{b: NewBuilder()}
	b := tb.b

	for _, name := range t.TileSlots {
		if _, err := b.AddTileSlot(name); err != nil {
			return nil, err
		}
	}
	for _, name := range t.RegionSlots {
		if _, err := b.AddRegionSlot(name); err != nil {
			return nil, err
		}
	}
	for _, bs := range t.BelSlots {
		ts, err := tb.tileSlot(bs.TileSlot, "bel slot "+bs.Name)
		if err != nil {
			return nil, err
		}
		if _, err := b.AddBelSlot(bs.Name, ts); err != nil {
			return nil, err
		}
	}
	for _, w := range t.Wires {
		if w.Region == "" {
			if _, err := b.AddWireSlot(w.Name); err != nil {
				return nil, err
			}
			continue
		}
		r, err := tb.regionSlot(w.Region, "wire slot "+w.Name)
		if err != nil {
			return nil, err
		}
		if _, err := b.AddRegionalWire(w.Name, r); err != nil {
			return nil, err
		}
	}
	if err := tb.addConnectors(t.Connectors); err != nil {
		return nil, err
	}
	for _, bc := range t.BelClasses {
		if err := tb.addBelClass(bc); err != nil {
			return nil, err
		}
	}
	for _, tc := range t.TileClasses {
		if err := tb.addTileClass(tc); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func (tb *templateBuilder) addConnectors(conns []ConnectorTemplate) error {
	byName := make(map[string]ConnectorTemplate, len(conns))
	names := make([]string, 0, len(conns))
	for _, c := range conns {
		if _, dup := byName[c.Name]; dup {
			return duplicate("connector slot", c.Name, "")
		}
		byName[c.Name] = c
		names = append(names, c.Name)
	}
	done := make(map[string]bool, len(conns))
	for _, c := range conns {
		if done[c.Name] {
			continue
		}
		if c.Opposite == c.Name {
			if c.DX != 0 || c.DY != 0 {
				return invalid("connector slot", c.Name, "self-paired slot must have zero offset")
			}
			if _, err := tb.b.AddSelfConnector(c.Name, c.Required); err != nil {
				return err
			}
			done[c.Name] = true
			continue
		}
		opp, ok := byName[c.Opposite]
		if !ok {
			return unregistered("connector slot", c.Opposite, "opposite of "+c.Name, names)
		}
		if opp.Opposite != c.Name {
			return invalid("connector slot", c.Name, fmt.Sprintf("opposite %s names %s as its opposite", opp.Name, opp.Opposite))
		}
		if opp.DX != -c.DX || opp.DY != -c.DY {
			return invalid("connector slot", c.Name, fmt.Sprintf("offset (%d,%d) does not negate %s (%d,%d)", c.DX, c.DY, opp.Name, opp.DX, opp.DY))
		}
		if _, _, err := tb.b.AddConnectorPair(c.Name, opp.Name, c.DX, c.DY, c.Required || opp.Required); err != nil {
			return err
		}
		done[c.Name], done[opp.Name] = true, true
	}
	return nil
}

func parseAttrKind(s string) (AttrKind, error) {
	switch s {
	case "bool", "":
		return AttrBool, nil
	case "enum":
		return AttrEnum, nil
	}
	return 0, fmt.Errorf("unknown attribute kind %q", s)
}

func (tb *templateBuilder) addBelClass(t BelClassTemplate) error {
	id, err := tb.b.AddBelClass(t.Name)
	if err != nil {
		return err
	}
	for _, p := range t.Pins {
		dir, err := ParsePinDir(p.Dir)
		if err != nil {
			return &SchemaError{Kind: KindInvalid, Namespace: "bel pin", Name: p.Name, Context: "bel class " + t.Name, Detail: err.Error()}
		}
		if _, err := tb.b.AddBelPin(id, p.Name, BelPin{Dir: dir, Width: p.Width, Index: p.Index}); err != nil {
			return err
		}
	}
	for _, a := range t.Attributes {
		kind, err := parseAttrKind(a.Kind)
		if err != nil {
			return &SchemaError{Kind: KindInvalid, Namespace: "bel attribute", Name: a.Name, Context: "bel class " + t.Name, Detail: err.Error()}
		}
		if _, err := tb.b.AddBelAttr(id, a.Name, BelAttr{Kind: kind, Values: a.Values}); err != nil {
			return err
		}
	}
	return nil
}

// splitPinName parses "D[3]" into ("D", 3, true) and "O" into ("O", 0, false).
func splitPinName(s string) (string, int, bool, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 || !strings.HasSuffix(s, "]") {
		return s, 0, false, nil
	}
	n, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil {
		return "", 0, false, fmt.Errorf("bad pin member %q", s)
	}
	return s[:open], n, true, nil
}

func (tb *templateBuilder) addTileClass(t TileClassTemplate) error {
	ctx := "tile class " + t.Name
	ts, err := tb.tileSlot(t.Slot, ctx)
	if err != nil {
		return err
	}
	id, err := tb.b.AddTileClass(t.Name, ts)
	if err != nil {
		return err
	}
	for _, name := range t.Wires {
		w, err := tb.wire(name, ctx)
		if err != nil {
			return err
		}
		if err := tb.b.AddTileWire(id, w); err != nil {
			return err
		}
	}
	for _, bel := range t.Bels {
		bs, err := tb.belSlot(bel.Slot, ctx)
		if err != nil {
			return err
		}
		bc, err := tb.belClass(bel.Class, ctx)
		if err != nil {
			return err
		}
		cls := tb.b.db.belClasses.Ptr(bc)
		pinNames := make([]string, 0, len(bel.Pins))
		for p := range bel.Pins {
			pinNames = append(pinNames, p)
		}
		sort.Strings(pinNames)
		var bindings []PinBinding
		for _, physName := range pinNames {
			bctx := ctx + " bel " + bel.Slot
			base, phys, isArray, err := splitPinName(physName)
			if err != nil {
				return &SchemaError{Kind: KindInvalid, Namespace: "bel pin", Name: physName, Context: bctx, Detail: err.Error()}
			}
			pid, ok := cls.Pins.ID(base)
			if !ok {
				return unregistered("bel pin", base, bctx, cls.Pins.Keys())
			}
			pin := cls.Pins.At(pid)
			idx := 0
			if isArray {
				idx = -1
				for i, p := range pin.Index {
					if p == phys {
						idx = i
					}
				}
				if idx < 0 {
					return &SchemaError{Kind: KindInvalid, Namespace: "bel pin", Name: physName, Context: bctx, Detail: "no such physical member"}
				}
			} else if pin.Width > 0 {
				return &SchemaError{Kind: KindInvalid, Namespace: "bel pin", Name: physName, Context: bctx, Detail: "array pin needs a member index"}
			}
			w, err := tb.wire(bel.Pins[physName], bctx)
			if err != nil {
				return err
			}
			bindings = append(bindings, PinBinding{Pin: pid, Index: idx, Wire: w})
		}
		if err := tb.b.AddTileBel(id, bs, bc, bindings...); err != nil {
			return err
		}
	}
	for _, exp := range t.Connectors {
		cs, err := tb.connector(exp.Slot, ctx)
		if err != nil {
			return err
		}
		lanes := make([]WireSlotID, 0, len(exp.Wires))
		for _, name := range exp.Wires {
			w, err := tb.wire(name, ctx)
			if err != nil {
				return err
			}
			lanes = append(lanes, w)
		}
		if err := tb.b.AddExposure(id, cs, lanes...); err != nil {
			return err
		}
	}
	for _, p := range t.Pips {
		dst, err := tb.wire(p.Dst, ctx)
		if err != nil {
			return err
		}
		src, err := tb.wire(p.Src, ctx)
		if err != nil {
			return err
		}
		if err := tb.b.AddPip(id, dst, src); err != nil {
			return err
		}
	}
	return nil
}
