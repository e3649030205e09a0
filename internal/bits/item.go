package bits

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Pattern is a bit vector value. Its text form puts bit 0 last, so "001"
// has only bit 0 set.
type Pattern []bool

// ParsePattern parses the text form.
func ParsePattern(s string) (Pattern, error) {
	p := make(Pattern, len(s))
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			p[len(s)-1-i] = true
		default:
			return nil, fmt.Errorf("invalid pattern bit %q in %q", c, s)
		}
	}
	return p, nil
}

// MustPattern is ParsePattern for literals.
func MustPattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string {
	var sb strings.Builder
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (p Pattern) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(b []byte) error {
	v, err := ParsePattern(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ItemKind distinguishes tile item kinds.
type ItemKind uint8

const (
	KindBit ItemKind = iota
	KindEnum
)

func (k ItemKind) String() string {
	if k == KindEnum {
		return "enum"
	}
	return "bit"
}

// EnumValue is one named value of an enum item.
type EnumValue struct {
	Name    string  `json:"name"`
	Pattern Pattern `json:"pattern"`
}

// TileItem is a configuration item of a tile class: a single (possibly
// inverted) bit, or an enum over a list of bits.
type TileItem struct {
	Kind   ItemKind    `json:"kind"`
	Bits   []TileBit   `json:"bits"`
	Invert bool        `json:"invert,omitempty"`
	Values []EnumValue `json:"values,omitempty"`
}

// Clone returns a deep copy of the item.
func (it TileItem) Clone() TileItem {
	out := it
	out.Bits = slices.Clone(it.Bits)
	if it.Values != nil {
		out.Values = make([]EnumValue, len(it.Values))
		for i, v := range it.Values {
			out.Values[i] = EnumValue{Name: v.Name, Pattern: slices.Clone(v.Pattern)}
		}
	}
	return out
}

// BitItem returns a single-bit item.
func BitItem(b TileBit, invert bool) TileItem {
	return TileItem{Kind: KindBit, Bits: []TileBit{b}, Invert: invert}
}

// EnumItem returns an enum item. Values are stored sorted by name.
func EnumItem(bits []TileBit, values map[string]Pattern) (TileItem, error) {
	item := TileItem{Kind: KindEnum, Bits: slices.Clone(bits)}
	for name, p := range values {
		item.Values = append(item.Values, EnumValue{Name: name, Pattern: slices.Clone(p)})
	}
	slices.SortFunc(item.Values, func(a, b EnumValue) int { return strings.Compare(a.Name, b.Name) })
	if err := item.Validate(); err != nil {
		return TileItem{}, err
	}
	return item, nil
}

// Validate checks the shape of the item.
func (it TileItem) Validate() error {
	switch it.Kind {
	case KindBit:
		if len(it.Bits) != 1 || len(it.Values) != 0 {
			return fmt.Errorf("bit item must have exactly one bit and no values")
		}
	case KindEnum:
		if it.Invert {
			return fmt.Errorf("enum item cannot be inverted")
		}
		if len(it.Values) == 0 {
			return fmt.Errorf("enum item has no values")
		}
		for i, v := range it.Values {
			if len(v.Pattern) != len(it.Bits) {
				return fmt.Errorf("enum value %s has %d bits, item has %d", v.Name, len(v.Pattern), len(it.Bits))
			}
			if i > 0 && it.Values[i-1].Name >= v.Name {
				return fmt.Errorf("enum values not sorted or duplicated at %s", v.Name)
			}
		}
	default:
		return fmt.Errorf("unknown item kind %d", it.Kind)
	}
	return nil
}

// Value returns the pattern of a named enum value.
func (it TileItem) Value(name string) (Pattern, bool) {
	i, ok := slices.BinarySearchFunc(it.Values, name, func(v EnumValue, n string) int { return strings.Compare(v.Name, n) })
	if !ok {
		return nil, false
	}
	return it.Values[i].Pattern, true
}

// Equal reports structural equality.
func (it TileItem) Equal(o TileItem) bool {
	if it.Kind != o.Kind || it.Invert != o.Invert || !slices.Equal(it.Bits, o.Bits) || len(it.Values) != len(o.Values) {
		return false
	}
	for i := range it.Values {
		if it.Values[i].Name != o.Values[i].Name || !slices.Equal(it.Values[i].Pattern, o.Values[i].Pattern) {
			return false
		}
	}
	return true
}

func (it TileItem) String() string {
	bits := make([]string, len(it.Bits))
	for i, b := range it.Bits {
		bits[i] = b.String()
	}
	if it.Kind == KindBit {
		if it.Invert {
			return "!" + bits[0]
		}
		return bits[0]
	}
	vals := make([]string, len(it.Values))
	for i, v := range it.Values {
		vals[i] = v.Name + "=" + v.Pattern.String()
	}
	return fmt.Sprintf("[%s]{%s}", strings.Join(bits, " "), strings.Join(vals, " "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
