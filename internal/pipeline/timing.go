package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/fabricdb/internal/metrics"
)

// phaseEvent is one line of the timing JSONL file. Offsets are relative to
// the start of the build.
type phaseEvent struct {
	Phase      string  `json:"phase"`
	Device     string  `json:"device,omitempty"`
	Status     string  `json:"status,omitempty"`
	OffsetMS   float64 `json:"offset_ms"`
	DurationMS float64 `json:"duration_ms"`
}

// phaseRecorder reports every finished phase to the metrics histogram and
// the debug log, and appends it to the timing file when one is open.
type phaseRecorder struct {
	origin  time.Time
	metrics *metrics.Metrics

	mu      sync.Mutex
	out     *os.File
	enc     *json.Encoder
	err     error
	perDev  map[string]time.Duration
	slowest string
}

func newPhaseRecorder(origin time.Time, m *metrics.Metrics, path string) *phaseRecorder {
	pr := &phaseRecorder{origin: origin, metrics: m, perDev: make(map[string]time.Duration)}
	if path == "" {
		return pr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		pr.err = err
		return pr
	}
	f, err := os.Create(path)
	if err != nil {
		pr.err = err
		return pr
	}
	pr.out, pr.enc = f, json.NewEncoder(f)
	return pr
}

// Err reports why the timing file could not be opened.
func (pr *phaseRecorder) Err() error { return pr.err }

func (pr *phaseRecorder) Close() error {
	if pr.out == nil {
		return nil
	}
	return pr.out.Close()
}

// done records a phase that began at start. device is empty for
// build-wide stages.
func (pr *phaseRecorder) done(log *logrus.Entry, phase, device, status string, start time.Time) time.Duration {
	d := time.Since(start)
	pr.metrics.ObservePhase(phase, d)

	entry := log.WithFields(logrus.Fields{"phase": phase, "duration": d})
	if status != "" {
		entry = entry.WithField("status", status)
	}
	entry.Debug("phase done")

	pr.mu.Lock()
	defer pr.mu.Unlock()
	if device != "" {
		pr.perDev[device] += d
		if pr.slowest == "" || pr.perDev[device] > pr.perDev[pr.slowest] {
			pr.slowest = device
		}
	}
	if pr.enc != nil {
		_ = pr.enc.Encode(phaseEvent{
			Phase:      phase,
			Device:     device,
			Status:     status,
			OffsetMS:   millis(start.Sub(pr.origin)),
			DurationMS: millis(d),
		})
	}
	return d
}

// Slowest returns the device that spent the most time across its phases.
func (pr *phaseRecorder) Slowest() (string, time.Duration) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.slowest, pr.perDev[pr.slowest]
}

func millis(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// timingPath picks the JSONL destination: the environment overrides the
// runner, which defaults to the output directory.
func (r *Runner) timingPath(outDir string) string {
	if p := os.Getenv("FABRICDB_TIMING_JSONL"); p != "" {
		return p
	}
	if !r.Timing {
		return ""
	}
	if r.TimingPath != "" {
		return r.TimingPath
	}
	return filepath.Join(outDir, "timing.jsonl")
}
