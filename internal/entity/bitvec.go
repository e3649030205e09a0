package entity

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"iter"
	"math/bits"
	"strings"
)

// BitVec is a packed boolean vector indexed by I.
type BitVec[I ID] struct {
	words []uint64
	n     int
}

// NewBitVec returns an all-false vector of length n.
func NewBitVec[I ID](n int) BitVec[I] {
	return BitVec[I]{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the vector length.
func (b *BitVec[I]) Len() int {
	return b.n
}

// Push appends a bit and returns its identifier.
func (b *BitVec[I]) Push(v bool) I {
	id := FromIndex[I](b.n)
	if b.n%64 == 0 {
		b.words = append(b.words, 0)
	}
	b.n++
	b.Set(id, v)
	return id
}

// Get returns the bit at id.
func (b *BitVec[I]) Get(id I) bool {
	idx := int(id)
	if idx >= b.n {
		panic(outOfRange(id, b.n))
	}
	return b.words[idx/64]&(1<<(idx%64)) != 0
}

// Set writes the bit at id.
func (b *BitVec[I]) Set(id I, v bool) {
	idx := int(id)
	if idx >= b.n {
		panic(outOfRange(id, b.n))
	}
	if v {
		b.words[idx/64] |= 1 << (idx % 64)
	} else {
		b.words[idx/64] &^= 1 << (idx % 64)
	}
}

// Count returns the number of set bits.
func (b *BitVec[I]) Count() int {
	c := 0
	for _, w := range b.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Any reports whether at least one bit is set.
func (b *BitVec[I]) Any() bool {
	for _, w := range b.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// Ones iterates the IDs of set bits in ascending order.
func (b *BitVec[I]) Ones() iter.Seq[I] {
	return func(yield func(I) bool) {
		for wi, w := range b.words {
			for w != 0 {
				tz := bits.TrailingZeros64(w)
				if !yield(I(wi*64 + tz)) {
					return
				}
				w &^= 1 << tz
			}
		}
	}
}

func (b *BitVec[I]) combine(o BitVec[I], op func(x, y uint64) uint64) BitVec[I] {
	if b.n != o.n {
		panic(fmt.Sprintf("entity: bitvec length mismatch %d != %d", b.n, o.n))
	}
	out := NewBitVec[I](b.n)
	for i := range b.words {
		out.words[i] = op(b.words[i], o.words[i])
	}
	return out
}

// Union returns b | o. Lengths must match.
func (b *BitVec[I]) Union(o BitVec[I]) BitVec[I] {
	return b.combine(o, func(x, y uint64) uint64 { return x | y })
}

// Intersect returns b & o. Lengths must match.
func (b *BitVec[I]) Intersect(o BitVec[I]) BitVec[I] {
	return b.combine(o, func(x, y uint64) uint64 { return x & y })
}

// Difference returns b &^ o. Lengths must match.
func (b *BitVec[I]) Difference(o BitVec[I]) BitVec[I] {
	return b.combine(o, func(x, y uint64) uint64 { return x &^ y })
}

// Equal reports whether both vectors have the same length and bits.
func (b *BitVec[I]) Equal(o BitVec[I]) bool {
	if b.n != o.n {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// String renders the bits in ID order, bit 0 first.
func (b BitVec[I]) String() string {
	var sb strings.Builder
	sb.Grow(b.n)
	for i := 0; i < b.n; i++ {
		if b.words[i/64]&(1<<(i%64)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParseBitVec parses the format produced by String.
func ParseBitVec[I ID](s string) (BitVec[I], error) {
	out := NewBitVec[I](len(s))
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			out.Set(I(i), true)
		default:
			return BitVec[I]{}, fmt.Errorf("invalid bit %q at position %d", c, i)
		}
	}
	return out, nil
}

// MarshalJSON encodes the vector as a "0101" string.
func (b BitVec[I]) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BitVec[I]) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBitVec[I](s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

type bitWire struct {
	N     int
	Words []uint64
}

// GobEncode implements gob.GobEncoder.
func (b BitVec[I]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(bitWire{N: b.n, Words: b.words}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (b *BitVec[I]) GobDecode(data []byte) error {
	var w bitWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	if len(w.Words) != (w.N+63)/64 {
		return fmt.Errorf("bitvec: %d words for %d bits", len(w.Words), w.N)
	}
	b.n = w.N
	b.words = make([]uint64, len(w.Words))
	copy(b.words, w.Words)
	return nil
}
