package facts

import "testing"

func TestFilterTablesByDevices(t *testing.T) {
	tables := Tables{
		Devices: []DeviceRow{
			{Name: "a"},
			{Name: "b"},
		},
		Tiles: []TileRow{
			{Device: "a", Name: "CLB_X0Y0"},
			{Device: "b", Name: "CLB_X0Y0"},
		},
		Pips: []PipRow{
			{Device: "a", Tile: "CLB_X0Y0", Dst: "O", Src: "I"},
			{Device: "b", Tile: "CLB_X0Y0", Dst: "O", Src: "I"},
		},
		Items: []ItemRow{
			{TileClass: "CLB", Name: "INV"},
		},
	}

	devices := map[string]bool{"a": true}
	filtered := FilterTablesByDevices(tables, devices)

	if len(filtered.Devices) != 1 || filtered.Devices[0].Name != "a" {
		t.Fatalf("expected only device a, got %#v", filtered.Devices)
	}
	if len(filtered.Tiles) != 1 || filtered.Tiles[0].Device != "a" {
		t.Fatalf("expected only a tile rows, got %#v", filtered.Tiles)
	}
	if len(filtered.Pips) != 1 || filtered.Pips[0].Device != "a" {
		t.Fatalf("expected only a pip rows, got %#v", filtered.Pips)
	}
	if len(filtered.Items) != 1 {
		t.Fatalf("family-wide items should be kept, got %#v", filtered.Items)
	}
}

func TestFilterDeltaByDevicesEmpty(t *testing.T) {
	delta := Delta{
		Added: Tables{
			Devices: []DeviceRow{{Name: "a"}},
		},
		Removed: Tables{
			Devices: []DeviceRow{{Name: "b"}},
		},
	}

	filtered := FilterDeltaByDevices(delta, map[string]bool{})
	if len(filtered.Added.Devices) != 0 || len(filtered.Removed.Devices) != 0 {
		t.Fatalf("expected empty delta, got %#v", filtered)
	}
}
