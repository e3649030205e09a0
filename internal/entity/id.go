// Package entity provides dense, typed-ID containers.
//
// Every entity kind in the fabric model (tile slots, wire slots, tile
// classes, wire instances, ...) gets its own named integer type. The
// containers here are generic over those types so a wire ID can never be
// used to index a tile table without an explicit conversion.
package entity

import "fmt"

// ID is the constraint satisfied by every identifier type.
type ID interface {
	~uint8 | ~uint16 | ~uint32
}

// FromIndex converts a zero-based index into an identifier of type I.
// It panics if the index does not fit, which means an arena outgrew the
// width chosen for its identifier type.
func FromIndex[I ID](idx int) I {
	id := I(idx)
	if idx < 0 || int(id) != idx {
		panic(fmt.Sprintf("entity: index %d overflows %T", idx, id))
	}
	return id
}

func outOfRange[I ID](id I, n int) string {
	return fmt.Sprintf("entity: %T %d out of range [0,%d)", id, id, n)
}

// Format renders id with a kind prefix, e.g. Format("TSLOT", id) = "TSLOT3".
func Format[I ID](prefix string, id I) string {
	return fmt.Sprintf("%s%d", prefix, id)
}
