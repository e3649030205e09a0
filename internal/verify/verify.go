// Package verify replays an expected connectivity model against captured
// ground truth. A Verifier accumulates claims over nodes, pips and sites of
// one captured part and reports every mismatch it sees instead of stopping at
// the first.
package verify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/robert-at-pretension-io/fabricdb/internal/capture"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
)

// ErrFinalized is returned by every call made after Finalize.
var ErrFinalized = errors.New("verification run already finalized")

// State is the lifecycle stage of a run.
type State uint8

const (
	StateFresh State = iota
	StateClaiming
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateClaiming:
		return "claiming"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// WireRef names a captured wire by tile and wire name.
type WireRef struct {
	Tile string
	Wire string
}

func (w WireRef) String() string { return w.Tile + "/" + w.Wire }

// Claim identifies who asserts an edge and the model object it is expected
// to belong to. Two claims on one edge agree when their origins are equal.
type Claim struct {
	Site   string
	Origin string
}

func (c Claim) String() string { return fmt.Sprintf("%s (origin %s)", c.Site, c.Origin) }

// SitePin is an expected pin of a site.
type SitePin struct {
	Name string
	Dir  intdb.PinDir
	Wire string
}

// nodeKey is the physical identity of a captured node: its node number, or
// the tile-local wire when the capture has none.
type nodeKey struct {
	node int
	tile int
	wire string
}

type pipKey struct {
	tile int
	idx  int
}

type siteKey struct {
	tile int
	site string
}

// Verifier is one verification run against one captured part. It is not
// safe for concurrent use.
type Verifier struct {
	part  *capture.Part
	runID string
	state State

	nodes map[nodeKey]Claim
	pips  map[pipKey]Claim
	sites map[siteKey]Claim

	ignoredKinds    map[string]bool
	ignoredPrefixes []string
	ignoredTiles    map[int]bool
	skipResidual    bool

	mismatches []Mismatch
	seen       map[Mismatch]bool
}

// New starts a fresh run over part.
func New(part *capture.Part) *Verifier {
	return &Verifier{
		part:         part,
		runID:        uuid.NewString(),
		nodes:        make(map[nodeKey]Claim),
		pips:         make(map[pipKey]Claim),
		sites:        make(map[siteKey]Claim),
		ignoredKinds: make(map[string]bool),
		ignoredTiles: make(map[int]bool),
		seen:         make(map[Mismatch]bool),
	}
}

func (v *Verifier) State() State  { return v.state }
func (v *Verifier) RunID() string { return v.runID }

func (v *Verifier) begin() error {
	if v.state == StateFinalized {
		return ErrFinalized
	}
	v.state = StateClaiming
	return nil
}

func (v *Verifier) record(kind MismatchKind, location, expected, observed string) {
	m := Mismatch{Kind: kind, Location: location, Expected: expected, Observed: observed}
	if v.seen[m] {
		return
	}
	v.seen[m] = true
	v.mismatches = append(v.mismatches, m)
}

// IgnoreSiteKind excludes captured sites of kind from the unclaimed-site
// report. Families use it for units the model does not describe yet.
func (v *Verifier) IgnoreSiteKind(kind string) error {
	if v.state == StateFinalized {
		return ErrFinalized
	}
	v.ignoredKinds[kind] = true
	return nil
}

// IgnoreTilePrefix excludes every tile whose name starts with prefix from
// the residual report and from missing-tile mismatches.
func (v *Verifier) IgnoreTilePrefix(prefix string) error {
	if v.state == StateFinalized {
		return ErrFinalized
	}
	v.ignoredPrefixes = append(v.ignoredPrefixes, prefix)
	for _, idx := range v.part.TilesWithPrefix(prefix) {
		v.ignoredTiles[idx] = true
	}
	return nil
}

// SkipResidual disables the unclaimed pip and node report. Unclaimed sites
// are still reported.
func (v *Verifier) SkipResidual() error {
	if v.state == StateFinalized {
		return ErrFinalized
	}
	v.skipResidual = true
	return nil
}

func (v *Verifier) ignoredName(tile string) bool {
	for _, p := range v.ignoredPrefixes {
		if strings.HasPrefix(tile, p) {
			return true
		}
	}
	return false
}

func (v *Verifier) tile(name string) (int, *capture.Tile, bool) {
	idx, ok := v.part.TileIndex(name)
	if !ok {
		if !v.ignoredName(name) {
			v.record(KindMissingTile, name, "tile", "absent")
		}
		return 0, nil, false
	}
	return idx, &v.part.Tiles[idx], true
}

// resolve maps wire references to captured node identities, recording
// missing tiles and wires. The result holds distinct keys in first-seen order.
func (v *Verifier) resolve(wires []WireRef) []nodeKey {
	var keys []nodeKey
	seen := make(map[nodeKey]bool)
	for _, ref := range wires {
		idx, t, ok := v.tile(ref.Tile)
		if !ok {
			continue
		}
		w, ok := t.Wire(ref.Wire)
		if !ok {
			v.record(KindMissingWire, ref.String(), "wire", "absent")
			continue
		}
		k := nodeKey{node: w.Node}
		if w.Node == capture.NoNode {
			k = nodeKey{node: capture.NoNode, tile: idx, wire: w.Name}
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) > 1 {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = v.nodeName(k)
		}
		v.record(KindNodeSplit, wires[0].String(), "one node", strings.Join(parts, ", "))
	}
	return keys
}

func (v *Verifier) nodeName(k nodeKey) string {
	if k.node == capture.NoNode {
		return v.part.Tiles[k.tile].Name + "/" + k.wire
	}
	return fmt.Sprintf("node %d", k.node)
}

// ClaimNode asserts that wires form one captured node owned by claim.Origin.
// A node already claimed with a different origin is a conflict naming both
// claims; the same origin is accepted silently.
func (v *Verifier) ClaimNode(claim Claim, wires ...WireRef) error {
	if err := v.begin(); err != nil {
		return err
	}
	for _, k := range v.resolve(wires) {
		prev, ok := v.nodes[k]
		switch {
		case !ok:
			v.nodes[k] = claim
		case prev.Origin != claim.Origin:
			v.record(KindNodeConflict, v.nodeName(k), "claimed by "+prev.String(), "claimed by "+claim.String())
		}
	}
	return nil
}

// VerifyNode checks that wires form one captured node without claiming it.
func (v *Verifier) VerifyNode(wires ...WireRef) error {
	if err := v.begin(); err != nil {
		return err
	}
	v.resolve(wires)
	return nil
}

func pipName(tile, src, dst string) string {
	return fmt.Sprintf("%s/%s<-%s", tile, dst, src)
}

func (v *Verifier) pip(tile, src, dst string) (pipKey, bool) {
	idx, t, ok := v.tile(tile)
	if !ok {
		return pipKey{}, false
	}
	i, ok := t.PipIndex(dst, src)
	if !ok {
		v.record(KindMissingPip, pipName(tile, src, dst), "pip", "absent")
		return pipKey{}, false
	}
	return pipKey{tile: idx, idx: i}, true
}

// ClaimPip asserts the src -> dst pip of tile and claims it for claim.Origin.
func (v *Verifier) ClaimPip(claim Claim, tile, src, dst string) error {
	if err := v.begin(); err != nil {
		return err
	}
	k, ok := v.pip(tile, src, dst)
	if !ok {
		return nil
	}
	prev, ok := v.pips[k]
	if !ok {
		v.pips[k] = claim
		return nil
	}
	if prev.Origin != claim.Origin {
		v.record(KindPipConflict, pipName(tile, src, dst), "claimed by "+prev.String(), "claimed by "+claim.String())
	}
	return nil
}

// VerifyPip checks that the src -> dst pip of tile exists.
func (v *Verifier) VerifyPip(tile, src, dst string) error {
	if err := v.begin(); err != nil {
		return err
	}
	v.pip(tile, src, dst)
	return nil
}

// VerifyBel checks a captured site against the expected kind and pin
// signature and claims it. Pins are compared as a set.
func (v *Verifier) VerifyBel(claim Claim, tile, site, kind string, pins []SitePin) error {
	if err := v.begin(); err != nil {
		return err
	}
	idx, t, ok := v.tile(tile)
	if !ok {
		return nil
	}
	s, ok := t.Site(site)
	loc := tile + "/" + site
	if !ok {
		v.record(KindMissingSite, loc, kind, "absent")
		return nil
	}
	k := siteKey{tile: idx, site: site}
	if prev, ok := v.sites[k]; ok {
		if prev.Origin != claim.Origin {
			v.record(KindSiteConflict, loc, "claimed by "+prev.String(), "claimed by "+claim.String())
		}
		return nil
	}
	v.sites[k] = claim

	if s.Kind != kind {
		v.record(KindSiteKind, loc, kind, s.Kind)
	}
	expected := make(map[string]bool, len(pins))
	for _, p := range pins {
		expected[p.Name] = true
		got, ok := s.Pin(p.Name)
		ploc := loc + "." + p.Name
		if !ok {
			v.record(KindMissingPin, ploc, p.Dir.String(), "absent")
			continue
		}
		if got.Dir != p.Dir.String() {
			v.record(KindPinDir, ploc, p.Dir.String(), got.Dir)
		}
		if got.Wire != p.Wire {
			v.record(KindPinWire, ploc, p.Wire, got.Wire)
		}
	}
	for _, got := range s.Pins {
		if !expected[got.Name] {
			v.record(KindExtraPin, loc+"."+got.Name, "absent", got.Dir)
		}
	}
	return nil
}

// Finalize closes the run and returns its report. Captured sites nobody
// claimed are reported unless their kind is ignored; unclaimed pips and
// nodes are reported unless SkipResidual was called.
func (v *Verifier) Finalize() (*Report, error) {
	if v.state == StateFinalized {
		return nil, ErrFinalized
	}
	v.state = StateFinalized

	reportedNodes := make(map[int]bool)
	for ti := range v.part.Tiles {
		if v.ignoredTiles[ti] {
			continue
		}
		t := &v.part.Tiles[ti]
		for _, s := range t.Sites {
			if v.ignoredKinds[s.Kind] {
				continue
			}
			if _, ok := v.sites[siteKey{tile: ti, site: s.Name}]; !ok {
				v.record(KindUnclaimedSite, t.Name+"/"+s.Name, "claimed", s.Kind)
			}
		}
		if v.skipResidual {
			continue
		}
		for pi, p := range t.Pips {
			if _, ok := v.pips[pipKey{tile: ti, idx: pi}]; !ok {
				v.record(KindUnclaimedPip, pipName(t.Name, p.Src, p.Dst), "claimed", "unclaimed")
			}
		}
		for _, w := range t.Wires {
			if w.Node == capture.NoNode || reportedNodes[w.Node] {
				continue
			}
			if _, ok := v.nodes[nodeKey{node: w.Node}]; !ok {
				reportedNodes[w.Node] = true
				v.record(KindUnclaimedNode, fmt.Sprintf("node %d", w.Node), "claimed", "unclaimed at "+t.Name+"/"+w.Name)
			}
		}
	}

	if v.mismatches == nil {
		v.mismatches = []Mismatch{}
	}
	sortMismatches(v.mismatches)
	return &Report{
		RunID:      v.runID,
		Part:       v.part.Name,
		Claimed:    Claimed{Nodes: len(v.nodes), Pips: len(v.pips), Sites: len(v.sites)},
		Mismatches: v.mismatches,
	}, nil
}
