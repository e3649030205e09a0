package facts

// FilterTablesByDevices returns a new Tables object containing only rows
// that belong to a device in the provided set. Item rows are family-wide
// and are kept whenever the set is non-empty.
func FilterTablesByDevices(tables Tables, devices map[string]bool) Tables {
	if len(devices) == 0 {
		return emptyTables()
	}
	out := emptyTables()

	for _, row := range tables.Devices {
		if devices[row.Name] {
			out.Devices = append(out.Devices, row)
		}
	}
	for _, row := range tables.Tiles {
		if devices[row.Device] {
			out.Tiles = append(out.Tiles, row)
		}
	}
	for _, row := range tables.Wires {
		if devices[row.Device] {
			out.Wires = append(out.Wires, row)
		}
	}
	for _, row := range tables.Nodes {
		if devices[row.Device] {
			out.Nodes = append(out.Nodes, row)
		}
	}
	for _, row := range tables.Pips {
		if devices[row.Device] {
			out.Pips = append(out.Pips, row)
		}
	}
	for _, row := range tables.Bels {
		if devices[row.Device] {
			out.Bels = append(out.Bels, row)
		}
	}
	for _, row := range tables.Mismatches {
		if devices[row.Device] {
			out.Mismatches = append(out.Mismatches, row)
		}
	}
	out.Items = append(out.Items, tables.Items...)

	return out
}

// FilterDeltaByDevices returns a new Delta containing only rows for the
// specified devices.
func FilterDeltaByDevices(delta Delta, devices map[string]bool) Delta {
	if len(devices) == 0 {
		return Delta{
			Added:   emptyTables(),
			Removed: emptyTables(),
		}
	}
	return Delta{
		Added:   FilterTablesByDevices(delta.Added, devices),
		Removed: FilterTablesByDevices(delta.Removed, devices),
	}
}
