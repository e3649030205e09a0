package entity

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"iter"
)

// Vec is a dense sequence indexed by I. IDs are issued in push order and
// never reused.
type Vec[I ID, V any] struct {
	items []V
}

// Push appends a value and returns its identifier.
func (v *Vec[I, V]) Push(val V) I {
	id := FromIndex[I](len(v.items))
	v.items = append(v.items, val)
	return id
}

// Len returns the number of entries.
func (v *Vec[I, V]) Len() int {
	return len(v.items)
}

// At returns the value for id. Like slice indexing, it panics when id has
// not been issued.
func (v *Vec[I, V]) At(id I) V {
	if int(id) >= len(v.items) {
		panic(outOfRange(id, len(v.items)))
	}
	return v.items[int(id)]
}

// Ptr returns a pointer to the stored value for in-place updates.
func (v *Vec[I, V]) Ptr(id I) *V {
	if int(id) >= len(v.items) {
		panic(outOfRange(id, len(v.items)))
	}
	return &v.items[int(id)]
}

// Lookup is At without the panic.
func (v *Vec[I, V]) Lookup(id I) (V, bool) {
	if int(id) >= len(v.items) {
		var zero V
		return zero, false
	}
	return v.items[int(id)], true
}

// Set overwrites the value for an issued id.
func (v *Vec[I, V]) Set(id I, val V) {
	if int(id) >= len(v.items) {
		panic(outOfRange(id, len(v.items)))
	}
	v.items[int(id)] = val
}

// All iterates entries in ascending ID order.
func (v *Vec[I, V]) All() iter.Seq2[I, V] {
	return func(yield func(I, V) bool) {
		for i, val := range v.items {
			if !yield(I(i), val) {
				return
			}
		}
	}
}

// IDs iterates the issued identifiers in ascending order.
func (v *Vec[I, V]) IDs() iter.Seq[I] {
	return func(yield func(I) bool) {
		for i := range v.items {
			if !yield(I(i)) {
				return
			}
		}
	}
}

// Values returns a copy of the stored values in ID order.
func (v *Vec[I, V]) Values() []V {
	out := make([]V, len(v.items))
	copy(out, v.items)
	return out
}

// MarshalJSON encodes the vector as a JSON array in ID order.
func (v Vec[I, V]) MarshalJSON() ([]byte, error) {
	if v.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.items)
}

// UnmarshalJSON decodes a JSON array; element i gets ID i.
func (v *Vec[I, V]) UnmarshalJSON(data []byte) error {
	var items []V
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		items = nil
	}
	v.items = items
	return nil
}

type vecWire[V any] struct {
	Items []V
}

// GobEncode implements gob.GobEncoder.
func (v Vec[I, V]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vecWire[V]{Items: v.items}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (v *Vec[I, V]) GobDecode(data []byte) error {
	var w vecWire[V]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	v.items = w.Items
	return nil
}
