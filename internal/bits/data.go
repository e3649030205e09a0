package bits

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"
)

// Data is the bit-level knowledge base of a family: tile items per tile
// class, plus global and per-device miscellaneous values.
type Data struct {
	tiles  map[string]map[string]TileItem
	misc   map[string]Pattern
	device map[string]map[string]Pattern
}

// NewData returns an empty knowledge base.
func NewData() *Data {
	return &Data{
		tiles:  make(map[string]map[string]TileItem),
		misc:   make(map[string]Pattern),
		device: make(map[string]map[string]Pattern),
	}
}

// DeclareItem adds item name to tile class tile. Declaring the same name
// twice is an error even when the items agree; use Merge to combine
// independently collected results.
func (d *Data) DeclareItem(tile, name string, item TileItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("tile %s item %s: %w", tile, name, err)
	}
	items := d.tiles[tile]
	if items == nil {
		items = make(map[string]TileItem)
		d.tiles[tile] = items
	}
	if _, dup := items[name]; dup {
		return fmt.Errorf("tile %s: item %s already declared", tile, name)
	}
	items[name] = item.Clone()
	return nil
}

// Item looks up a tile item and records the access in u. The returned
// item is a copy.
func (d *Data) Item(tile, name string, u *Usage) (TileItem, bool) {
	item, ok := d.tiles[tile][name]
	if !ok {
		return TileItem{}, false
	}
	u.markItem(tile, name)
	return item.Clone(), true
}

// ResolveItem maps item name of tile class tile onto device bits through
// tr. The access is recorded in u only when every bit of the item maps.
func (d *Data) ResolveItem(tile, name string, tr Translator, u *Usage) ([]BitPos, error) {
	item, ok := d.tiles[tile][name]
	if !ok {
		return nil, fmt.Errorf("tile %s: no item %s", tile, name)
	}
	pos, err := tr.ItemBits(item)
	if err != nil {
		return nil, fmt.Errorf("tile %s item %s: %w", tile, name, err)
	}
	u.markItem(tile, name)
	return pos, nil
}

// InsertMisc sets a global value. Re-inserting an equal value is allowed.
func (d *Data) InsertMisc(key string, v Pattern) error {
	if old, ok := d.misc[key]; ok && !slices.Equal(old, v) {
		return &MergeError{Conflicts: []Conflict{{Scope: "misc", Key: key, A: old.String(), B: v.String()}}}
	}
	d.misc[key] = slices.Clone(v)
	return nil
}

// Misc looks up a global value and records the access in u.
func (d *Data) Misc(key string, u *Usage) (Pattern, bool) {
	v, ok := d.misc[key]
	if !ok {
		return nil, false
	}
	u.markMisc(key)
	return slices.Clone(v), true
}

// InsertDevice sets a per-device value. Re-inserting an equal value is
// allowed.
func (d *Data) InsertDevice(dev, key string, v Pattern) error {
	vals := d.device[dev]
	if vals == nil {
		vals = make(map[string]Pattern)
		d.device[dev] = vals
	}
	if old, ok := vals[key]; ok && !slices.Equal(old, v) {
		return &MergeError{Conflicts: []Conflict{{Scope: "device", Tile: dev, Key: key, A: old.String(), B: v.String()}}}
	}
	vals[key] = slices.Clone(v)
	return nil
}

// Device looks up a per-device value and records the access in u.
func (d *Data) Device(dev, key string, u *Usage) (Pattern, bool) {
	v, ok := d.device[dev][key]
	if !ok {
		return nil, false
	}
	u.markDevice(dev, key)
	return slices.Clone(v), true
}

// Tiles returns the tile class names with items, sorted.
func (d *Data) Tiles() []string { return sortedKeys(d.tiles) }

// Items returns the item names of a tile class, sorted.
func (d *Data) Items(tile string) []string { return sortedKeys(d.tiles[tile]) }

// MiscKeys returns the global keys, sorted.
func (d *Data) MiscKeys() []string { return sortedKeys(d.misc) }

// Devices returns the devices with values, sorted.
func (d *Data) Devices() []string { return sortedKeys(d.device) }

// DeviceKeys returns the keys of one device, sorted.
func (d *Data) DeviceKeys(dev string) []string { return sortedKeys(d.device[dev]) }

// NumItems returns the total number of tile items.
func (d *Data) NumItems() int {
	n := 0
	for _, items := range d.tiles {
		n += len(items)
	}
	return n
}

// Equal reports whether both knowledge bases hold the same entries.
func (d *Data) Equal(o *Data) bool {
	if len(d.tiles) != len(o.tiles) || len(d.misc) != len(o.misc) || len(d.device) != len(o.device) {
		return false
	}
	for tile, items := range d.tiles {
		oi, ok := o.tiles[tile]
		if !ok || len(oi) != len(items) {
			return false
		}
		for name, it := range items {
			if ot, ok := oi[name]; !ok || !it.Equal(ot) {
				return false
			}
		}
	}
	for k, v := range d.misc {
		if ov, ok := o.misc[k]; !ok || !slices.Equal(v, ov) {
			return false
		}
	}
	for dev, vals := range d.device {
		ov, ok := o.device[dev]
		if !ok || len(ov) != len(vals) {
			return false
		}
		for k, v := range vals {
			if w, ok := ov[k]; !ok || !slices.Equal(v, w) {
				return false
			}
		}
	}
	return true
}

// Conflict is one disagreement found while merging.
type Conflict struct {
	Scope string `json:"scope"` // "item", "misc" or "device"
	Tile  string `json:"tile,omitempty"`
	Key   string `json:"key"`
	A     string `json:"a"`
	B     string `json:"b"`
}

func (c Conflict) String() string {
	switch c.Scope {
	case "item":
		return fmt.Sprintf("tile %s item %s: %s vs %s", c.Tile, c.Key, c.A, c.B)
	case "device":
		return fmt.Sprintf("device %s %s: %s vs %s", c.Tile, c.Key, c.A, c.B)
	}
	return fmt.Sprintf("misc %s: %s vs %s", c.Key, c.A, c.B)
}

// MergeError lists every conflict found by a merge.
type MergeError struct {
	Conflicts []Conflict
}

func (e *MergeError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%d merge conflict(s): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

// Merge combines two knowledge bases. Entries present in both must be
// equal; every disagreement is collected into a *MergeError and no result
// is returned. Merge is idempotent and commutative.
func Merge(a, b *Data) (*Data, error) {
	out := NewData()
	var conflicts []Conflict

	for _, src := range []*Data{a, b} {
		for tile, items := range src.tiles {
			dst := out.tiles[tile]
			if dst == nil {
				dst = make(map[string]TileItem)
				out.tiles[tile] = dst
			}
			for name, it := range items {
				if have, ok := dst[name]; ok {
					if !have.Equal(it) {
						conflicts = append(conflicts, Conflict{Scope: "item", Tile: tile, Key: name, A: have.String(), B: it.String()})
					}
					continue
				}
				dst[name] = it.Clone()
			}
		}
		for k, v := range src.misc {
			if have, ok := out.misc[k]; ok {
				if !slices.Equal(have, v) {
					conflicts = append(conflicts, Conflict{Scope: "misc", Key: k, A: have.String(), B: v.String()})
				}
				continue
			}
			out.misc[k] = slices.Clone(v)
		}
		for dev, vals := range src.device {
			dst := out.device[dev]
			if dst == nil {
				dst = make(map[string]Pattern)
				out.device[dev] = dst
			}
			for k, v := range vals {
				if have, ok := dst[k]; ok {
					if !slices.Equal(have, v) {
						conflicts = append(conflicts, Conflict{Scope: "device", Tile: dev, Key: k, A: have.String(), B: v.String()})
					}
					continue
				}
				dst[k] = slices.Clone(v)
			}
		}
	}

	if len(conflicts) > 0 {
		slices.SortFunc(conflicts, func(x, y Conflict) int {
			if c := strings.Compare(x.Scope, y.Scope); c != 0 {
				return c
			}
			if c := strings.Compare(x.Tile, y.Tile); c != 0 {
				return c
			}
			return strings.Compare(x.Key, y.Key)
		})
		return nil, &MergeError{Conflicts: conflicts}
	}
	return out, nil
}

// Usage records which entries of a Data were consumed. A nil *Usage
// records nothing.
type Usage struct {
	mu     sync.Mutex
	items  map[[2]string]bool
	misc   map[string]bool
	device map[[2]string]bool
}

// NewUsage returns an empty tracking set.
func NewUsage() *Usage {
	return &Usage{
		items:  make(map[[2]string]bool),
		misc:   make(map[string]bool),
		device: make(map[[2]string]bool),
	}
}

func (u *Usage) markItem(tile, name string) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.items[[2]string{tile, name}] = true
	u.mu.Unlock()
}

func (u *Usage) markMisc(key string) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.misc[key] = true
	u.mu.Unlock()
}

func (u *Usage) markDevice(dev, key string) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.device[[2]string{dev, key}] = true
	u.mu.Unlock()
}

// Unused lists every entry of d that u never recorded, sorted.
func (d *Data) Unused(u *Usage) []string {
	if u == nil {
		u = NewUsage()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, tile := range d.Tiles() {
		for _, name := range d.Items(tile) {
			if !u.items[[2]string{tile, name}] {
				out = append(out, "tile "+tile+" item "+name)
			}
		}
	}
	for _, k := range d.MiscKeys() {
		if !u.misc[k] {
			out = append(out, "misc "+k)
		}
	}
	for _, dev := range d.Devices() {
		for _, k := range d.DeviceKeys(dev) {
			if !u.device[[2]string{dev, k}] {
				out = append(out, "device "+dev+" "+k)
			}
		}
	}
	return out
}

type namedItem struct {
	Name string   `json:"name"`
	Item TileItem `json:"item"`
}

type tileWire struct {
	Tile  string      `json:"tile"`
	Items []namedItem `json:"items"`
}

type keyedPattern struct {
	Key   string  `json:"key"`
	Value Pattern `json:"value"`
}

type deviceWire struct {
	Device string         `json:"device"`
	Values []keyedPattern `json:"values"`
}

// dataWire is the sorted, persisted form of Data.
type dataWire struct {
	Tiles   []tileWire     `json:"tiles"`
	Misc    []keyedPattern `json:"misc"`
	Devices []deviceWire   `json:"devices"`
}

func (d *Data) wire() dataWire {
	w := dataWire{Tiles: []tileWire{}, Misc: []keyedPattern{}, Devices: []deviceWire{}}
	for _, tile := range d.Tiles() {
		tw := tileWire{Tile: tile}
		for _, name := range d.Items(tile) {
			tw.Items = append(tw.Items, namedItem{Name: name, Item: d.tiles[tile][name]})
		}
		w.Tiles = append(w.Tiles, tw)
	}
	for _, k := range d.MiscKeys() {
		w.Misc = append(w.Misc, keyedPattern{Key: k, Value: d.misc[k]})
	}
	for _, dev := range d.Devices() {
		dw := deviceWire{Device: dev}
		for _, k := range d.DeviceKeys(dev) {
			dw.Values = append(dw.Values, keyedPattern{Key: k, Value: d.device[dev][k]})
		}
		w.Devices = append(w.Devices, dw)
	}
	return w
}

func (d *Data) fromWire(w dataWire) error {
	next := NewData()
	for _, tw := range w.Tiles {
		for _, ni := range tw.Items {
			if err := next.DeclareItem(tw.Tile, ni.Name, ni.Item); err != nil {
				return err
			}
		}
	}
	for _, kp := range w.Misc {
		if err := next.InsertMisc(kp.Key, kp.Value); err != nil {
			return err
		}
	}
	for _, dw := range w.Devices {
		for _, kp := range dw.Values {
			if err := next.InsertDevice(dw.Device, kp.Key, kp.Value); err != nil {
				return err
			}
		}
	}
	*d = *next
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Data) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Data) UnmarshalJSON(data []byte) error {
	var w dataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return d.fromWire(w)
}

// GobEncode implements gob.GobEncoder.
func (d *Data) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d.wire()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (d *Data) GobDecode(data []byte) error {
	var w dataWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	return d.fromWire(w)
}

// LoadFile reads a knowledge base written as JSON or YAML.
func LoadFile(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bit data: %w", err)
	}
	js, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing bit data %s: %w", path, err)
	}
	d := NewData()
	if err := json.Unmarshal(js, d); err != nil {
		return nil, fmt.Errorf("parsing bit data %s: %w", path, err)
	}
	return d, nil
}

// SaveFile writes d as indented JSON.
func (d *Data) SaveFile(path string) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bit data: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing bit data: %w", err)
	}
	return nil
}
