package intdb

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/robert-at-pretension-io/fabricdb/internal/entity"
)

// dbWire is the persisted shape of a DB.
type dbWire struct {
	TileSlots      entity.Set[TileSlotID, string]                     `json:"tile_slots"`
	RegionSlots    entity.Set[RegionSlotID, string]                   `json:"region_slots"`
	BelSlots       entity.Map[BelSlotID, string, BelSlot]             `json:"bel_slots"`
	WireSlots      entity.Map[WireSlotID, string, WireSlot]           `json:"wire_slots"`
	ConnectorSlots entity.Map[ConnectorSlotID, string, ConnectorSlot] `json:"connector_slots"`
	BelClasses     entity.Map[BelClassID, string, BelClass]           `json:"bel_classes"`
	TileClasses    entity.Map[TileClassID, string, TileClass]         `json:"tile_classes"`
}

func (db *DB) wire() *dbWire {
	return &dbWire{
		TileSlots:      db.tileSlots,
		RegionSlots:    db.regionSlots,
		BelSlots:       db.belSlots,
		WireSlots:      db.wireSlots,
		ConnectorSlots: db.connSlots,
		BelClasses:     db.belClasses,
		TileClasses:    db.tileClasses,
	}
}

func (db *DB) fromWire(w *dbWire) error {
	next := DB{
		tileSlots:   w.TileSlots,
		regionSlots: w.RegionSlots,
		belSlots:    w.BelSlots,
		wireSlots:   w.WireSlots,
		connSlots:   w.ConnectorSlots,
		belClasses:  w.BelClasses,
		tileClasses: w.TileClasses,
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("validating decoded interconnect database: %w", err)
	}
	*db = next
	return nil
}

// MarshalJSON implements json.Marshaler.
func (db *DB) MarshalJSON() ([]byte, error) {
	return json.Marshal(db.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (db *DB) UnmarshalJSON(data []byte) error {
	var w dbWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return db.fromWire(&w)
}

// GobEncode implements gob.GobEncoder.
func (db *DB) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(db.wire()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (db *DB) GobDecode(data []byte) error {
	var w dbWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	return db.fromWire(&w)
}
