package entity

import "iter"

// MapView is a read-only handle on a Map.
type MapView[I ID, K comparable, V any] struct {
	m *Map[I, K, V]
}

// ViewOf wraps m.
func ViewOf[I ID, K comparable, V any](m *Map[I, K, V]) MapView[I, K, V] {
	return MapView[I, K, V]{m: m}
}

func (v MapView[I, K, V]) Get(key K) (I, V, bool) { return v.m.Get(key) }
func (v MapView[I, K, V]) ID(key K) (I, bool) { return v.m.ID(key) }
func (v MapView[I, K, V]) Key(id I) K { return v.m.Key(id) }
func (v MapView[I, K, V]) At(id I) V { return v.m.At(id) }
func (v MapView[I, K, V]) Valid(id I) bool { return v.m.Valid(id) }
func (v MapView[I, K, V]) Len() int { return v.m.Len() }
func (v MapView[I, K, V]) All() iter.Seq2[I, V] { return v.m.All() }
func (v MapView[I, K, V]) Keys() []K { return v.m.Keys() }

// SetView is a read-only handle on a Set.
type SetView[I ID, K comparable] struct {
	s *Set[I, K]
}

// SetViewOf wraps s.
func SetViewOf[I ID, K comparable](s *Set[I, K]) SetView[I, K] {
	return SetView[I, K]{s: s}
}

func (v SetView[I, K]) Get(key K) (I, bool) { return v.s.Get(key) }
func (v SetView[I, K]) Key(id I) K { return v.s.Key(id) }
func (v SetView[I, K]) Valid(id I) bool { return v.s.Valid(id) }
func (v SetView[I, K]) Len() int { return v.s.Len() }
func (v SetView[I, K]) All() iter.Seq2[I, K] { return v.s.All() }
func (v SetView[I, K]) Keys() []K { return v.s.Keys() }
