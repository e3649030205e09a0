package entity

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"iter"
)

// Map is an insertion-ordered keyed collection: every key gets a dense
// identifier, and values are reachable by either.
type Map[I ID, K comparable, V any] struct {
	keys  []K
	vals  []V
	index map[K]I
}

// Insert adds key with val. If key already exists, nothing changes and the
// existing ID is returned with false.
func (m *Map[I, K, V]) Insert(key K, val V) (I, bool) {
	if id, ok := m.index[key]; ok {
		return id, false
	}
	id := FromIndex[I](len(m.keys))
	if m.index == nil {
		m.index = make(map[K]I)
	}
	m.index[key] = id
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
	return id, true
}

// Get looks up key.
func (m *Map[I, K, V]) Get(key K) (I, V, bool) {
	id, ok := m.index[key]
	if !ok {
		var zero V
		return 0, zero, false
	}
	return id, m.vals[int(id)], true
}

// ID looks up the identifier for key.
func (m *Map[I, K, V]) ID(key K) (I, bool) {
	id, ok := m.index[key]
	return id, ok
}

// Key returns the key for id.
func (m *Map[I, K, V]) Key(id I) K {
	if int(id) >= len(m.keys) {
		panic(outOfRange(id, len(m.keys)))
	}
	return m.keys[int(id)]
}

// At returns the value for id.
func (m *Map[I, K, V]) At(id I) V {
	if int(id) >= len(m.vals) {
		panic(outOfRange(id, len(m.vals)))
	}
	return m.vals[int(id)]
}

// Ptr returns a pointer to the value for id.
func (m *Map[I, K, V]) Ptr(id I) *V {
	if int(id) >= len(m.vals) {
		panic(outOfRange(id, len(m.vals)))
	}
	return &m.vals[int(id)]
}

// Set replaces the value for an issued id.
func (m *Map[I, K, V]) Set(id I, val V) {
	if int(id) >= len(m.vals) {
		panic(outOfRange(id, len(m.vals)))
	}
	m.vals[int(id)] = val
}

// Valid reports whether id has been issued.
func (m *Map[I, K, V]) Valid(id I) bool {
	return int(id) < len(m.keys)
}

// Len returns the number of entries.
func (m *Map[I, K, V]) Len() int {
	return len(m.keys)
}

// All iterates (id, value) in ascending ID order.
func (m *Map[I, K, V]) All() iter.Seq2[I, V] {
	return func(yield func(I, V) bool) {
		for i, v := range m.vals {
			if !yield(I(i), v) {
				return
			}
		}
	}
}

// Keys returns a copy of the keys in ID order.
func (m *Map[I, K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

type mapEntry[K comparable, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

func (m Map[I, K, V]) entries() []mapEntry[K, V] {
	out := make([]mapEntry[K, V], len(m.keys))
	for i := range m.keys {
		out[i] = mapEntry[K, V]{Key: m.keys[i], Value: m.vals[i]}
	}
	return out
}

func (m *Map[I, K, V]) fromEntries(entries []mapEntry[K, V]) error {
	*m = Map[I, K, V]{}
	for _, e := range entries {
		if _, ok := m.Insert(e.Key, e.Value); !ok {
			return fmt.Errorf("duplicate key %v", e.Key)
		}
	}
	return nil
}

// MarshalJSON encodes entries as [{"key":..,"value":..}] in ID order.
func (m Map[I, K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.entries())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Map[I, K, V]) UnmarshalJSON(data []byte) error {
	var entries []mapEntry[K, V]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	return m.fromEntries(entries)
}

type mapWire[K comparable, V any] struct {
	Entries []mapEntry[K, V]
}

// GobEncode implements gob.GobEncoder.
func (m Map[I, K, V]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(mapWire[K, V]{Entries: m.entries()}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (m *Map[I, K, V]) GobDecode(data []byte) error {
	var w mapWire[K, V]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	return m.fromEntries(w.Entries)
}
