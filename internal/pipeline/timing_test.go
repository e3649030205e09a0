package pipeline

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/fabricdb/internal/metrics"
)

func TestPhaseRecorderWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "timing.jsonl")
	m := metrics.New()
	pr := newPhaseRecorder(time.Now(), m, path)
	if err := pr.Err(); err != nil {
		t.Fatalf("newPhaseRecorder: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	pr.done(entry, "expand", "a", "", time.Now().Add(-2*time.Millisecond))
	pr.done(entry, "verify", "a", "cache_hit", time.Now().Add(-2*time.Millisecond))
	pr.done(entry, "expand", "b", "", time.Now().Add(-50*time.Millisecond))
	pr.done(entry, "total", "", "", time.Now())
	if err := pr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open timing file: %v", err)
	}
	defer f.Close()
	var events []phaseEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev phaseEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if events[1].Status != "cache_hit" || events[1].Device != "a" {
		t.Fatalf("unexpected event %+v", events[1])
	}
	if events[3].Device != "" || events[3].Phase != "total" {
		t.Fatalf("unexpected stage event %+v", events[3])
	}

	if name, d := pr.Slowest(); name != "b" || d < 50*time.Millisecond {
		t.Fatalf("Slowest = %s, %v", name, d)
	}
	n, err := testutil.GatherAndCount(m.Registry, "fabricdb_phase_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("phase series = %d, want 3", n)
	}
}

func TestTimingPath(t *testing.T) {
	t.Setenv("FABRICDB_TIMING_JSONL", "")
	r := New()
	if got := r.timingPath("build"); got != "" {
		t.Fatalf("timing disabled, got %q", got)
	}
	r.Timing = true
	if got := r.timingPath("build"); got != filepath.Join("build", "timing.jsonl") {
		t.Fatalf("default path = %q", got)
	}
	r.TimingPath = "t.jsonl"
	if got := r.timingPath("build"); got != "t.jsonl" {
		t.Fatalf("explicit path = %q", got)
	}
	t.Setenv("FABRICDB_TIMING_JSONL", "env.jsonl")
	if got := r.timingPath("build"); got != "env.jsonl" {
		t.Fatalf("env path = %q", got)
	}
}
