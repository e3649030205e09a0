// Package bits maps abstract per-tile configuration items onto physical
// bitstream coordinates.
package bits

import (
	"errors"
	"fmt"
)

// ErrNoMapping is returned when a position lies outside every rectangle of
// a translator.
var ErrNoMapping = errors.New("bit position has no mapping")

// Direction says how a tile's frames run relative to the device's frames.
type Direction uint8

const (
	// Vertical tiles use device frames as their frames.
	Vertical Direction = iota
	// Horizontal tiles are transposed: their frames run along the device's
	// bit axis.
	Horizontal
)

func (d Direction) String() string {
	if d == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// Orientation is the fixed linear transform between a tile's abstract bit
// grid and the device bit grid.
type Orientation struct {
	Direction  Direction `json:"direction"`
	FlipFrames bool      `json:"flip_frames,omitempty"`
	FlipBits   bool      `json:"flip_bits,omitempty"`
}

func (o Orientation) String() string {
	s := o.Direction.String()
	if o.FlipFrames {
		s += "+flip-frames"
	}
	if o.FlipBits {
		s += "+flip-bits"
	}
	return s
}

// Rect is one rectangle of device bits owned by a tile: Frames x Bits in
// tile coordinates, placed at (Frame, Bit) on die Die.
type Rect struct {
	Die         int         `json:"die"`
	Frame       int         `json:"frame"`
	Frames      int         `json:"frames"`
	Bit         int         `json:"bit"`
	Bits        int         `json:"bits"`
	Orientation Orientation `json:"orientation"`
}

// BitPos is a physical bit: frame and bit-within-frame on a die.
type BitPos struct {
	Die   int `json:"die"`
	Frame int `json:"frame"`
	Bit   int `json:"bit"`
}

func (p BitPos) String() string {
	return fmt.Sprintf("D%d.F%d.B%d", p.Die, p.Frame, p.Bit)
}

// TileBit is an abstract bit: rectangle index, frame and bit in tile
// coordinates.
type TileBit struct {
	Rect  int `json:"rect"`
	Frame int `json:"frame"`
	Bit   int `json:"bit"`
}

func (b TileBit) String() string {
	return fmt.Sprintf("%d.%d.%d", b.Rect, b.Frame, b.Bit)
}

// span returns the physical extent (frames, bits) of the rectangle.
func (r Rect) span() (int, int) {
	if r.Orientation.Direction == Horizontal {
		return r.Bits, r.Frames
	}
	return r.Frames, r.Bits
}

// Forward maps tile coordinates (frame, bit) to a device position.
func (r Rect) Forward(frame, bit int) (BitPos, error) {
	if frame < 0 || frame >= r.Frames || bit < 0 || bit >= r.Bits {
		return BitPos{}, fmt.Errorf("tile bit %d.%d outside %dx%d: %w", frame, bit, r.Frames, r.Bits, ErrNoMapping)
	}
	if r.Orientation.FlipFrames {
		frame = r.Frames - 1 - frame
	}
	if r.Orientation.FlipBits {
		bit = r.Bits - 1 - bit
	}
	if r.Orientation.Direction == Horizontal {
		frame, bit = bit, frame
	}
	return BitPos{Die: r.Die, Frame: r.Frame + frame, Bit: r.Bit + bit}, nil
}

// Reverse maps a device position back to tile coordinates.
func (r Rect) Reverse(p BitPos) (frame, bit int, ok bool) {
	if p.Die != r.Die {
		return 0, 0, false
	}
	pf, pb := r.span()
	frame, bit = p.Frame-r.Frame, p.Bit-r.Bit
	if frame < 0 || frame >= pf || bit < 0 || bit >= pb {
		return 0, 0, false
	}
	if r.Orientation.Direction == Horizontal {
		frame, bit = bit, frame
	}
	if r.Orientation.FlipFrames {
		frame = r.Frames - 1 - frame
	}
	if r.Orientation.FlipBits {
		bit = r.Bits - 1 - bit
	}
	return frame, bit, true
}

// Translator is the ordered list of rectangles of one tile instance.
type Translator []Rect

// Forward maps an abstract bit to its device position.
func (t Translator) Forward(b TileBit) (BitPos, error) {
	if b.Rect < 0 || b.Rect >= len(t) {
		return BitPos{}, fmt.Errorf("rect %d of %d: %w", b.Rect, len(t), ErrNoMapping)
	}
	return t[b.Rect].Forward(b.Frame, b.Bit)
}

// Reverse finds the abstract bit at device position p.
func (t Translator) Reverse(p BitPos) (TileBit, bool) {
	for i, r := range t {
		if f, b, ok := r.Reverse(p); ok {
			return TileBit{Rect: i, Frame: f, Bit: b}, true
		}
	}
	return TileBit{}, false
}

// ItemBits returns the device positions of every bit of item, in item
// bit order.
func (t Translator) ItemBits(item TileItem) ([]BitPos, error) {
	out := make([]BitPos, 0, len(item.Bits))
	for _, b := range item.Bits {
		p, err := t.Forward(b)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
