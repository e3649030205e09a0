// Package capture loads ground-truth dumps of placed and routed designs as
// reported by vendor tools. The format is consumed read-only.
//
// A dump is a JSON document:
//
//	{"part": "xc-toy4",
//	 "tiles": [{"name": "CLB_X0Y0", "kind": "CLB",
//	            "wires": {"I": 12, "O": 13, "LOCAL": -1},
//	            "pips": [["O", "I"]],
//	            "sites": [{"name": "SLICE_X0Y0", "kind": "SLICE",
//	                       "pins": {"I": {"dir": "input", "wire": "I"}}}]}]}
//
// Wire values are captured node numbers; a negative number marks a wire the
// tool reported without a node. Pips are [dst, src] pairs.
package capture

import (
	"fmt"
	"os"
	"sort"

	"github.com/tchap/go-patricia/v2/patricia"
	"github.com/valyala/fastjson"
)

// NoNode marks a wire with no captured node.
const NoNode = -1

// Wire is one captured tile wire.
type Wire struct {
	Name string
	Node int
}

// Pip is a captured programmable connection within one tile.
type Pip struct {
	Dst string
	Src string
}

// Pin is a captured site pin.
type Pin struct {
	Name string
	Dir  string
	Wire string
}

// Site is a captured functional unit.
type Site struct {
	Name string
	Kind string
	Pins []Pin // sorted by name
}

// Pin looks a pin up by name.
func (s *Site) Pin(name string) (Pin, bool) {
	i := sort.Search(len(s.Pins), func(i int) bool { return s.Pins[i].Name >= name })
	if i < len(s.Pins) && s.Pins[i].Name == name {
		return s.Pins[i], true
	}
	return Pin{}, false
}

// Tile is one captured tile.
type Tile struct {
	Name  string
	Kind  string
	Wires []Wire // sorted by name
	Pips  []Pip
	Sites []Site

	pips  map[Pip]int
	sites map[string]int
}

// Wire looks a wire up by name.
func (t *Tile) Wire(name string) (Wire, bool) {
	i := sort.Search(len(t.Wires), func(i int) bool { return t.Wires[i].Name >= name })
	if i < len(t.Wires) && t.Wires[i].Name == name {
		return t.Wires[i], true
	}
	return Wire{}, false
}

// PipIndex returns the position of the dst <- src pip in Pips.
func (t *Tile) PipIndex(dst, src string) (int, bool) {
	i, ok := t.pips[Pip{Dst: dst, Src: src}]
	return i, ok
}

// Site looks a site up by name.
func (t *Tile) Site(name string) (*Site, bool) {
	i, ok := t.sites[name]
	if !ok {
		return nil, false
	}
	return &t.Sites[i], true
}

// Part is the capture of one device.
type Part struct {
	Name  string
	Tiles []Tile

	byName *patricia.Trie
}

// Tile looks a tile up by name.
func (p *Part) Tile(name string) (*Tile, bool) {
	i, ok := p.TileIndex(name)
	if !ok {
		return nil, false
	}
	return &p.Tiles[i], true
}

// TileIndex returns the position of the named tile in Tiles.
func (p *Part) TileIndex(name string) (int, bool) {
	item := p.byName.Get(patricia.Prefix(name))
	if item == nil {
		return 0, false
	}
	return item.(int), true
}

// TilesWithPrefix returns the indexes of every tile whose name starts with
// prefix, in ascending order.
func (p *Part) TilesWithPrefix(prefix string) []int {
	var out []int
	_ = p.byName.VisitSubtree(patricia.Prefix(prefix), func(_ patricia.Prefix, item patricia.Item) error {
		out = append(out, item.(int))
		return nil
	})
	sort.Ints(out)
	return out
}

// LoadFile reads a capture from disk.
func LoadFile(path string) (*Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a capture document.
func Parse(data []byte) (*Part, error) {
	var parser fastjson.Parser
	root, err := parser.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parsing capture: %w", err)
	}
	part := &Part{
		Name:   string(root.GetStringBytes("part")),
		byName: patricia.NewTrie(),
	}
	if part.Name == "" {
		return nil, fmt.Errorf("capture has no part name")
	}
	tv := root.Get("tiles")
	if tv == nil {
		return nil, fmt.Errorf("capture %s has no tiles", part.Name)
	}
	tiles, err := tv.Array()
	if err != nil {
		return nil, fmt.Errorf("capture %s: tiles: %w", part.Name, err)
	}
	part.Tiles = make([]Tile, 0, len(tiles))
	for i, item := range tiles {
		t, err := parseTile(item)
		if err != nil {
			return nil, fmt.Errorf("capture %s: tile %d: %w", part.Name, i, err)
		}
		if !part.byName.Insert(patricia.Prefix(t.Name), len(part.Tiles)) {
			return nil, fmt.Errorf("capture %s: duplicate tile %s", part.Name, t.Name)
		}
		part.Tiles = append(part.Tiles, t)
	}
	return part, nil
}

func parseTile(v *fastjson.Value) (Tile, error) {
	t := Tile{
		Name:  string(v.GetStringBytes("name")),
		Kind:  string(v.GetStringBytes("kind")),
		pips:  make(map[Pip]int),
		sites: make(map[string]int),
	}
	if t.Name == "" {
		return t, fmt.Errorf("missing name")
	}

	if wv := v.Get("wires"); wv != nil {
		wires, err := wv.Object()
		if err != nil {
			return t, fmt.Errorf("%s: wires: %w", t.Name, err)
		}
		var werr error
		wires.Visit(func(key []byte, nv *fastjson.Value) {
			if werr != nil {
				return
			}
			n, err := nv.Int()
			if err != nil {
				werr = fmt.Errorf("%s: wire %s: %w", t.Name, key, err)
				return
			}
			if n < 0 {
				n = NoNode
			}
			t.Wires = append(t.Wires, Wire{Name: string(key), Node: n})
		})
		if werr != nil {
			return t, werr
		}
		sort.Slice(t.Wires, func(i, j int) bool { return t.Wires[i].Name < t.Wires[j].Name })
	}

	for _, pv := range v.GetArray("pips") {
		ends := pv.GetArray()
		if len(ends) != 2 {
			return t, fmt.Errorf("%s: pip must be a [dst, src] pair", t.Name)
		}
		dst, err1 := ends[0].StringBytes()
		src, err2 := ends[1].StringBytes()
		if err1 != nil || err2 != nil {
			return t, fmt.Errorf("%s: pip ends must be strings", t.Name)
		}
		p := Pip{Dst: string(dst), Src: string(src)}
		if _, dup := t.pips[p]; dup {
			return t, fmt.Errorf("%s: duplicate pip %s <- %s", t.Name, p.Dst, p.Src)
		}
		t.pips[p] = len(t.Pips)
		t.Pips = append(t.Pips, p)
	}

	for _, sv := range v.GetArray("sites") {
		s, err := parseSite(sv)
		if err != nil {
			return t, fmt.Errorf("%s: %w", t.Name, err)
		}
		if _, dup := t.sites[s.Name]; dup {
			return t, fmt.Errorf("%s: duplicate site %s", t.Name, s.Name)
		}
		t.sites[s.Name] = len(t.Sites)
		t.Sites = append(t.Sites, s)
	}
	return t, nil
}

func parseSite(v *fastjson.Value) (Site, error) {
	s := Site{
		Name: string(v.GetStringBytes("name")),
		Kind: string(v.GetStringBytes("kind")),
	}
	if s.Name == "" {
		return s, fmt.Errorf("site without a name")
	}
	if pv := v.Get("pins"); pv != nil {
		pins, err := pv.Object()
		if err != nil {
			return s, fmt.Errorf("site %s: pins: %w", s.Name, err)
		}
		pins.Visit(func(key []byte, p *fastjson.Value) {
			s.Pins = append(s.Pins, Pin{
				Name: string(key),
				Dir:  string(p.GetStringBytes("dir")),
				Wire: string(p.GetStringBytes("wire")),
			})
		})
		sort.Slice(s.Pins, func(i, j int) bool { return s.Pins[i].Name < s.Pins[j].Name })
	}
	return s, nil
}
