// Package dbfile persists a family database: the interconnect database,
// every device geometry and the bit knowledge base, in one versioned and
// checksummed container.
//
// Layout:
//
//	magic    [8]byte  "FABRICDB"
//	version  uint32   big endian
//	checksum uint64   xxhash64 of payload
//	length   uint64   payload size
//	payload  zstd(gob(Database))
package dbfile

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

// Version is the container format written by this package.
const Version uint32 = 1

const magic = "FABRICDB"

// maxPayload bounds the payload length accepted by Read.
const maxPayload = 1 << 32

// maxDecoded bounds the memory the decompressor may use.
const maxDecoded = 1 << 32

var (
	ErrBadMagic = errors.New("not a fabricdb container")
	ErrChecksum = errors.New("container checksum mismatch")
)

// VersionError reports a container written by another format version.
type VersionError struct {
	Got  uint32
	Want uint32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("container format version %d, this build reads %d", e.Got, e.Want)
}

// Database is everything known about one chip family.
type Database struct {
	Family string
	IntDB  *intdb.DB
	Chips  []*chip.Geometry
	Bits   *bits.Data
}

// Chip returns the geometry of a device by name.
func (d *Database) Chip(name string) (*chip.Geometry, bool) {
	for _, g := range d.Chips {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Validate checks that the parts of d belong together.
func (d *Database) Validate() error {
	if d.Family == "" {
		return fmt.Errorf("database has no family")
	}
	if d.IntDB == nil {
		return fmt.Errorf("database %s has no interconnect database", d.Family)
	}
	seen := make(map[string]bool, len(d.Chips))
	for _, g := range d.Chips {
		if seen[g.Name] {
			return fmt.Errorf("database %s: duplicate device %s", d.Family, g.Name)
		}
		seen[g.Name] = true
		if g.Family != "" && g.Family != d.Family {
			return fmt.Errorf("database %s: device %s belongs to family %s", d.Family, g.Name, g.Family)
		}
		if err := g.Validate(); err != nil {
			return fmt.Errorf("database %s: %w", d.Family, err)
		}
	}
	return nil
}

// Write encodes d to w.
func Write(w io.Writer, d *Database) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Bits == nil {
		d.Bits = bits.NewData()
	}
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(d); err != nil {
		return fmt.Errorf("encoding database: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	payload := enc.EncodeAll(raw.Bytes(), nil)
	_ = enc.Close()

	var hdr [28]byte
	copy(hdr[:8], magic)
	binary.BigEndian.PutUint32(hdr[8:12], Version)
	binary.BigEndian.PutUint64(hdr[12:20], xxhash.Sum64(payload))
	binary.BigEndian.PutUint64(hdr[20:28], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

// Read decodes a container from r.
func Read(r io.Reader) (*Database, error) {
	var hdr [28]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrBadMagic
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if string(hdr[:8]) != magic {
		return nil, ErrBadMagic
	}
	if v := binary.BigEndian.Uint32(hdr[8:12]); v != Version {
		return nil, &VersionError{Got: v, Want: Version}
	}
	sum := binary.BigEndian.Uint64(hdr[12:20])
	n := binary.BigEndian.Uint64(hdr[20:28])
	if n > maxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds limit", n)
	}
	var buf bytes.Buffer
	got, err := buf.ReadFrom(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if uint64(got) != n {
		return nil, fmt.Errorf("reading payload: got %d of %d bytes: %w", got, n, io.ErrUnexpectedEOF)
	}
	payload := buf.Bytes()
	if xxhash.Sum64(payload) != sum {
		return nil, ErrChecksum
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	var d Database
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&d); err != nil {
		return nil, fmt.Errorf("decoding database: %w", err)
	}
	if d.Bits == nil {
		d.Bits = bits.NewData()
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// WriteFile writes d to path atomically.
func WriteFile(path string, d *Database) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fabricdb-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, d); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming database: %w", err)
	}
	return nil
}

// ReadFile reads a container from path.
func ReadFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer f.Close()
	d, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}
