package entity

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"iter"
)

// Set is an insertion-ordered set of keys with dense identifiers.
type Set[I ID, K comparable] struct {
	keys  []K
	index map[K]I
}

// Insert adds key. If it is already present the existing ID is returned
// with false.
func (s *Set[I, K]) Insert(key K) (I, bool) {
	if id, ok := s.index[key]; ok {
		return id, false
	}
	id := FromIndex[I](len(s.keys))
	if s.index == nil {
		s.index = make(map[K]I)
	}
	s.index[key] = id
	s.keys = append(s.keys, key)
	return id, true
}

// Get looks up key.
func (s *Set[I, K]) Get(key K) (I, bool) {
	id, ok := s.index[key]
	return id, ok
}

// Key returns the key for id.
func (s *Set[I, K]) Key(id I) K {
	if int(id) >= len(s.keys) {
		panic(outOfRange(id, len(s.keys)))
	}
	return s.keys[int(id)]
}

// Valid reports whether id has been issued.
func (s *Set[I, K]) Valid(id I) bool {
	return int(id) < len(s.keys)
}

// Len returns the number of keys.
func (s *Set[I, K]) Len() int {
	return len(s.keys)
}

// All iterates (id, key) in ascending ID order.
func (s *Set[I, K]) All() iter.Seq2[I, K] {
	return func(yield func(I, K) bool) {
		for i, k := range s.keys {
			if !yield(I(i), k) {
				return
			}
		}
	}
}

// Keys returns a copy of the keys in ID order.
func (s *Set[I, K]) Keys() []K {
	out := make([]K, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *Set[I, K]) fromKeys(keys []K) error {
	*s = Set[I, K]{}
	for _, k := range keys {
		if _, ok := s.Insert(k); !ok {
			return fmt.Errorf("duplicate key %v", k)
		}
	}
	return nil
}

// MarshalJSON encodes the keys as a JSON array in ID order.
func (s Set[I, K]) MarshalJSON() ([]byte, error) {
	if s.keys == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.keys)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Set[I, K]) UnmarshalJSON(data []byte) error {
	var keys []K
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	return s.fromKeys(keys)
}

type setWire[K comparable] struct {
	Keys []K
}

// GobEncode implements gob.GobEncoder.
func (s Set[I, K]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(setWire[K]{Keys: s.keys}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (s *Set[I, K]) GobDecode(data []byte) error {
	var w setWire[K]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	return s.fromKeys(w.Keys)
}
