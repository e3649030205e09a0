package verify

import (
	"fmt"
	"sort"
	"strings"
)

// MismatchKind classifies a verification mismatch.
type MismatchKind string

const (
	KindMissingTile   MismatchKind = "missing_tile"
	KindMissingWire   MismatchKind = "missing_wire"
	KindNodeSplit     MismatchKind = "node_split"
	KindNodeConflict  MismatchKind = "node_conflict"
	KindMissingPip    MismatchKind = "missing_pip"
	KindPipConflict   MismatchKind = "pip_conflict"
	KindMissingSite   MismatchKind = "missing_site"
	KindSiteKind      MismatchKind = "site_kind"
	KindSiteConflict  MismatchKind = "site_conflict"
	KindMissingPin    MismatchKind = "missing_pin"
	KindExtraPin      MismatchKind = "extra_pin"
	KindPinDir        MismatchKind = "pin_dir"
	KindPinWire       MismatchKind = "pin_wire"
	KindUnclaimedSite MismatchKind = "unclaimed_site"
	KindUnclaimedPip  MismatchKind = "unclaimed_pip"
	KindUnclaimedNode MismatchKind = "unclaimed_node"
)

// AllKinds returns every mismatch kind in declaration order.
func AllKinds() []MismatchKind {
	return []MismatchKind{
		KindMissingTile, KindMissingWire, KindNodeSplit, KindNodeConflict,
		KindMissingPip, KindPipConflict, KindMissingSite, KindSiteKind,
		KindSiteConflict, KindMissingPin, KindExtraPin, KindPinDir,
		KindPinWire, KindUnclaimedSite, KindUnclaimedPip, KindUnclaimedNode,
	}
}

// Mismatch is one difference between the model and the capture.
type Mismatch struct {
	Kind     MismatchKind `json:"kind"`
	Location string       `json:"location"`
	Expected string       `json:"expected"`
	Observed string       `json:"observed"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s at %s: expected %s, observed %s", m.Kind, m.Location, m.Expected, m.Observed)
}

// sortMismatches orders mismatches by location, then kind, then values.
func sortMismatches(ms []Mismatch) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Expected != b.Expected {
			return a.Expected < b.Expected
		}
		return a.Observed < b.Observed
	})
}

// Claimed counts the edges and sites a run claimed.
type Claimed struct {
	Nodes int `json:"nodes"`
	Pips  int `json:"pips"`
	Sites int `json:"sites"`
}

// Report is the read-only result of a finalized run.
type Report struct {
	RunID      string     `json:"run_id"`
	Part       string     `json:"part"`
	Claimed    Claimed    `json:"claimed"`
	Mismatches []Mismatch `json:"mismatches"`
}

// OK reports whether the run found no mismatches.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

// Count returns the number of mismatches of kind.
func (r *Report) Count(kind MismatchKind) int {
	n := 0
	for _, m := range r.Mismatches {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// ByKind groups the mismatches by kind.
func (r *Report) ByKind() map[MismatchKind][]Mismatch {
	out := make(map[MismatchKind][]Mismatch)
	for _, m := range r.Mismatches {
		out[m.Kind] = append(out[m.Kind], m)
	}
	return out
}

// Summary renders a one-line count per kind, e.g. "missing_pip=2 node_conflict=1".
func (r *Report) Summary() string {
	if r.OK() {
		return "ok"
	}
	groups := r.ByKind()
	kinds := make([]string, 0, len(groups))
	for k := range groups {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, len(groups[MismatchKind(k)]))
	}
	return strings.Join(parts, " ")
}
