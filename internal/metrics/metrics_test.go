package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/robert-at-pretension-io/fabricdb/internal/policy"
	"github.com/robert-at-pretension-io/fabricdb/internal/verify"
)

func TestObserveReportClearsFixedKinds(t *testing.T) {
	m := New()
	m.ObserveReport("toy4", &verify.Report{Mismatches: []verify.Mismatch{
		{Kind: verify.KindMissingPip, Location: "a"},
		{Kind: verify.KindMissingPip, Location: "b"},
		{Kind: verify.KindNodeSplit, Location: "c"},
	}})
	if got := testutil.ToFloat64(m.mismatches.WithLabelValues("toy4", "missing_pip")); got != 2 {
		t.Fatalf("missing_pip = %v, want 2", got)
	}

	m.ObserveReport("toy4", &verify.Report{})
	if got := testutil.ToFloat64(m.mismatches.WithLabelValues("toy4", "missing_pip")); got != 0 {
		t.Fatalf("missing_pip after fix = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(m.mismatches); n != len(verify.AllKinds()) {
		t.Fatalf("series = %d, want %d", n, len(verify.AllKinds()))
	}
}

func TestGridFindingsAndCache(t *testing.T) {
	m := New()
	m.ObserveGrid("toy4", 4, 12, 7)
	m.ObserveFindings("toy4", policy.Summary{Total: 3, Errors: 1, Warnings: 2})
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.Failure("expand")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"tiles", testutil.ToFloat64(m.tiles.WithLabelValues("toy4")), 4},
		{"wires", testutil.ToFloat64(m.wires.WithLabelValues("toy4")), 12},
		{"nodes", testutil.ToFloat64(m.nodes.WithLabelValues("toy4")), 7},
		{"errors", testutil.ToFloat64(m.findings.WithLabelValues("toy4", "error")), 1},
		{"warnings", testutil.ToFloat64(m.findings.WithLabelValues("toy4", "warning")), 2},
		{"hits", testutil.ToFloat64(m.cache.WithLabelValues("hit")), 2},
		{"misses", testutil.ToFloat64(m.cache.WithLabelValues("miss")), 1},
		{"failures", testutil.ToFloat64(m.failures.WithLabelValues("expand")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveGrid("toy4", 4, 12, 7)
	m.ObservePhase("expand", 3*time.Millisecond)

	path := filepath.Join(t.TempDir(), "out", "fabricdb.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`fabricdb_grid_tiles{device="toy4"} 4`,
		`fabricdb_phase_duration_seconds_count{phase="expand"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}
