package facts

import "sort"

// Delta captures added and removed fact rows between two snapshots.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// ComputeDelta computes row-level additions and removals between two snapshots.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

// Empty reports whether the delta has no rows.
func (d Delta) Empty() bool {
	return d.Added.rows() == 0 && d.Removed.rows() == 0
}

func (t Tables) rows() int {
	return len(t.Devices) + len(t.Tiles) + len(t.Wires) + len(t.Nodes) +
		len(t.Pips) + len(t.Bels) + len(t.Items) + len(t.Mismatches)
}

// ImpactedDevices lists, sorted, every device a delta touches. Item rows
// belong to tile classes, so they impact each device of current that has a
// tile of that class.
func ImpactedDevices(d Delta, current Tables) []string {
	set := make(map[string]bool)
	classes := make(map[string]bool)
	for _, t := range []Tables{d.Added, d.Removed} {
		for _, r := range t.Devices {
			set[r.Name] = true
		}
		for _, r := range t.Tiles {
			set[r.Device] = true
		}
		for _, r := range t.Wires {
			set[r.Device] = true
		}
		for _, r := range t.Nodes {
			set[r.Device] = true
		}
		for _, r := range t.Pips {
			set[r.Device] = true
		}
		for _, r := range t.Bels {
			set[r.Device] = true
		}
		for _, r := range t.Mismatches {
			set[r.Device] = true
		}
		for _, r := range t.Items {
			classes[r.TileClass] = true
		}
	}
	if len(classes) > 0 {
		for _, r := range current.Tiles {
			if classes[r.Class] {
				set[r.Device] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for dev := range set {
		out = append(out, dev)
	}
	sort.Strings(out)
	return out
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()

	out.Devices = diffRows(from.Devices, to.Devices, func(r DeviceRow) string {
		return r.Name + "|" + r.Family + "|" + intKey(r.Dies) + "|" + intKey(r.Tiles) + "|" + intKey(r.Wires) + "|" + intKey(r.Nodes)
	})
	out.Tiles = diffRows(from.Tiles, to.Tiles, func(r TileRow) string {
		return r.Device + "|" + r.Name + "|" + r.Class + "|" + intKey(r.Die) + "|" + intKey(r.Col) + "|" + intKey(r.Row)
	})
	out.Wires = diffRows(from.Wires, to.Wires, func(r WireRow) string {
		return r.Device + "|" + r.Tile + "|" + r.Wire + "|" + intKey(r.Node)
	})
	out.Nodes = diffRows(from.Nodes, to.Nodes, func(r NodeRow) string {
		return r.Device + "|" + intKey(r.Node) + "|" + r.Root + "|" + intKey(r.Size)
	})
	out.Pips = diffRows(from.Pips, to.Pips, func(r PipRow) string {
		return r.Device + "|" + r.Tile + "|" + r.Dst + "|" + r.Src
	})
	out.Bels = diffRows(from.Bels, to.Bels, func(r BelRow) string {
		return r.Device + "|" + r.Tile + "|" + r.Slot + "|" + r.Class
	})
	out.Items = diffRows(from.Items, to.Items, func(r ItemRow) string {
		return r.TileClass + "|" + r.Name + "|" + r.Kind + "|" + r.Bits
	})
	out.Mismatches = diffRows(from.Mismatches, to.Mismatches, func(r MismatchRow) string {
		return r.Device + "|" + r.Kind + "|" + r.Location + "|" + r.Expected + "|" + r.Observed
	})

	return out
}

func emptyTables() Tables {
	return Tables{
		Devices:    []DeviceRow{},
		Tiles:      []TileRow{},
		Wires:      []WireRow{},
		Nodes:      []NodeRow{},
		Pips:       []PipRow{},
		Bels:       []BelRow{},
		Items:      []ItemRow{},
		Mismatches: []MismatchRow{},
	}
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]struct{}, len(from))
	for _, row := range from {
		fromSet[key(row)] = struct{}{}
	}
	diff := []T{}
	for _, row := range to {
		if _, ok := fromSet[key(row)]; !ok {
			diff = append(diff, row)
		}
	}
	return diff
}

func intKey(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
