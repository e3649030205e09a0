package entity

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"iter"
)

// PartVec is a sparse map from I to V. Absence is an ordinary state, not
// an error.
type PartVec[I ID, V any] struct {
	items   []V
	present []bool
	n       int
}

// Insert stores val at id, returning the previous value if there was one.
func (p *PartVec[I, V]) Insert(id I, val V) (old V, replaced bool) {
	idx := int(id)
	if idx >= len(p.items) {
		grow := idx + 1 - len(p.items)
		p.items = append(p.items, make([]V, grow)...)
		p.present = append(p.present, make([]bool, grow)...)
	}
	if p.present[idx] {
		old, replaced = p.items[idx], true
	} else {
		p.n++
	}
	p.items[idx] = val
	p.present[idx] = true
	return old, replaced
}

// Get returns the value at id if present.
func (p *PartVec[I, V]) Get(id I) (V, bool) {
	idx := int(id)
	if idx >= len(p.items) || !p.present[idx] {
		var zero V
		return zero, false
	}
	return p.items[idx], true
}

// Contains reports whether id holds a value.
func (p *PartVec[I, V]) Contains(id I) bool {
	idx := int(id)
	return idx < len(p.present) && p.present[idx]
}

// Remove deletes the value at id, returning it if it was present.
func (p *PartVec[I, V]) Remove(id I) (V, bool) {
	var zero V
	idx := int(id)
	if idx >= len(p.items) || !p.present[idx] {
		return zero, false
	}
	old := p.items[idx]
	p.items[idx] = zero
	p.present[idx] = false
	p.n--
	return old, true
}

// Len returns the number of present entries.
func (p *PartVec[I, V]) Len() int {
	return p.n
}

// All iterates present entries in ascending ID order.
func (p *PartVec[I, V]) All() iter.Seq2[I, V] {
	return func(yield func(I, V) bool) {
		for i, ok := range p.present {
			if !ok {
				continue
			}
			if !yield(I(i), p.items[i]) {
				return
			}
		}
	}
}

type partEntry[V any] struct {
	ID    uint32 `json:"id"`
	Value V      `json:"value"`
}

func (p PartVec[I, V]) entries() []partEntry[V] {
	out := make([]partEntry[V], 0, p.n)
	for i, ok := range p.present {
		if ok {
			out = append(out, partEntry[V]{ID: uint32(i), Value: p.items[i]})
		}
	}
	return out
}

func (p *PartVec[I, V]) fromEntries(entries []partEntry[V]) {
	*p = PartVec[I, V]{}
	for _, e := range entries {
		p.Insert(FromIndex[I](int(e.ID)), e.Value)
	}
}

// MarshalJSON encodes present entries as [{"id":..,"value":..}] in ID order.
func (p PartVec[I, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.entries())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PartVec[I, V]) UnmarshalJSON(data []byte) error {
	var entries []partEntry[V]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	p.fromEntries(entries)
	return nil
}

type partWire[V any] struct {
	Entries []partEntry[V]
}

// GobEncode implements gob.GobEncoder.
func (p PartVec[I, V]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(partWire[V]{Entries: p.entries()}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (p *PartVec[I, V]) GobDecode(data []byte) error {
	var w partWire[V]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	p.fromEntries(w.Entries)
	return nil
}
