// Package pipeline builds a family database end to end: it expands every
// selected device, verifies it against captured ground truth, triages the
// mismatches and writes the container, fact tables, reports and metrics.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/fabricdb/internal/bits"
	"github.com/robert-at-pretension-io/fabricdb/internal/capture"
	"github.com/robert-at-pretension-io/fabricdb/internal/chip"
	"github.com/robert-at-pretension-io/fabricdb/internal/config"
	"github.com/robert-at-pretension-io/fabricdb/internal/dbfile"
	"github.com/robert-at-pretension-io/fabricdb/internal/expand"
	"github.com/robert-at-pretension-io/fabricdb/internal/facts"
	"github.com/robert-at-pretension-io/fabricdb/internal/intdb"
	"github.com/robert-at-pretension-io/fabricdb/internal/metrics"
	"github.com/robert-at-pretension-io/fabricdb/internal/policy"
	"github.com/robert-at-pretension-io/fabricdb/internal/validator"
	"github.com/robert-at-pretension-io/fabricdb/internal/verify"
)

const tracerName = "github.com/robert-at-pretension-io/fabricdb/internal/pipeline"

// Runner runs builds. The zero value is not usable; use New.
type Runner struct {
	// Configuration loaded from fabricdb.json / fabricdb.yaml
	Config *config.Config

	Log     *logrus.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Timing output (JSONL)
	Timing     bool
	TimingPath string

	// DryRun builds and verifies without writing any artifact
	DryRun bool
}

// Result is the structured outcome of a build
type Result struct {
	Family       string           `json:"family"`
	Devices      []DeviceResult   `json:"devices"`
	Summary      policy.Summary   `json:"summary"`
	DatabasePath string           `json:"database_path,omitempty"`
	Database     *dbfile.Database `json:"-"`
	Grids        []*expand.Grid   `json:"-"`
	Tables       facts.Tables     `json:"-"`

	// UnusedBits lists bit data entries no built device resolved.
	UnusedBits []string `json:"unused_bits,omitempty"`
}

// DeviceResult is the outcome for one device
type DeviceResult struct {
	Name     string         `json:"name"`
	Tiles    int            `json:"tiles"`
	Wires    int            `json:"wires"`
	Nodes    int            `json:"nodes"`
	ItemBits int            `json:"item_bits"`
	Unmapped int            `json:"unmapped_items,omitempty"`
	Verified bool           `json:"verified"`
	Cached   bool           `json:"cached,omitempty"`
	Report   *verify.Report `json:"report,omitempty"`
	Triage   *policy.Result `json:"triage,omitempty"`
	Err      string         `json:"error,omitempty"`
}

// Failed reports whether a device failed or triage found errors.
func (r *Result) Failed() bool {
	if r.Summary.Errors > 0 {
		return true
	}
	for _, d := range r.Devices {
		if d.Err != "" {
			return true
		}
	}
	return false
}

// New creates a Runner with the default configuration
func New() *Runner {
	return &Runner{
		Config:  config.DefaultConfig(),
		Log:     logrus.New(),
		Metrics: metrics.New(),
		Tracer:  otel.Tracer(tracerName),
	}
}

// NewWithConfig creates a Runner with the given configuration. A nil
// configuration is loaded from the root path at Run.
func NewWithConfig(cfg *config.Config) *Runner {
	r := New()
	r.Config = cfg
	return r
}

func (r *Runner) parallelism() int {
	if r.Config.Analysis.Parallelism > 0 {
		return r.Config.Analysis.Parallelism
	}
	return runtime.GOMAXPROCS(0)
}

// build is the state shared by every device of one run.
type build struct {
	r         *Runner
	cfg       *config.Config
	family    string
	db        *intdb.DB
	archPath  string
	layout    expand.LayoutFunc
	data      *bits.Data
	usage     *bits.Usage
	cache     *reportCache
	engine    *policy.Engine
	validator *validator.ReportValidator
	phases    *phaseRecorder
}

type deviceRun struct {
	result       DeviceResult
	geom         *chip.Geometry
	grid         *expand.Grid
	pipelineErrs []error
}

// Run builds everything the configuration selects under rootPath.
// Devices fail independently; the returned error lists failed devices and
// non-fatal pipeline errors after every artifact has been written.
func (r *Runner) Run(ctx context.Context, rootPath string) (*Result, error) {
	runStart := time.Now()
	pipelineErrs := make([]error, 0)
	recordPipelineErr := func(err error) {
		pipelineErrs = append(pipelineErrs, err)
	}

	// 0. Load configuration if not already loaded
	if r.Config == nil {
		cfg, err := config.Load(rootPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		r.Config = cfg
	}
	cfg := r.Config
	outDir := config.Resolve(rootPath, cfg.Output.Dir)

	phases := newPhaseRecorder(runStart, r.Metrics, r.timingPath(outDir))
	if err := phases.Err(); err != nil {
		recordPipelineErr(fmt.Errorf("timing output disabled: %w", err))
	}
	defer phases.Close()
	runLog := r.Log.WithField("run", "build")

	ctx, span := r.Tracer.Start(ctx, "build")
	defer span.End()

	// 1. Architecture and bits
	stepStart := time.Now()
	b := &build{r: r, cfg: cfg, phases: phases, layout: columnLayout(cfg.Layout)}
	b.archPath = config.Resolve(rootPath, cfg.Architecture)
	db, tmpl, err := intdb.LoadTemplate(b.archPath)
	if err != nil {
		return nil, fmt.Errorf("loading architecture: %w", err)
	}
	b.db = db
	b.family = cfg.Family
	if b.family == "" {
		b.family = tmpl.Family
	}
	if b.family == "" {
		return nil, fmt.Errorf("no family: set it in the config or the architecture template")
	}
	if tmpl.Family != "" && tmpl.Family != b.family {
		return nil, fmt.Errorf("architecture %s describes family %s, config wants %s", cfg.Architecture, tmpl.Family, b.family)
	}
	data, err := loadBits(cfg.ResolveBits(rootPath))
	if err != nil {
		return nil, err
	}
	b.data, b.usage = data, bits.NewUsage()
	phases.done(runLog.WithField("family", b.family), "load", "", "", stepStart)

	// 2. Devices
	devices, err := cfg.ResolveDevices(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices matched the configuration")
	}
	r.Log.WithFields(logrus.Fields{"family": b.family, "devices": len(devices)}).Info("building")

	if cfg.CacheEnabled() && !r.DryRun {
		b.cache = newReportCache(config.Resolve(rootPath, cfg.Analysis.Cache.Dir))
		if err := b.cache.Load(); err != nil {
			recordPipelineErr(fmt.Errorf("cache disabled: %w", err))
			b.cache = nil
		}
	}
	b.engine, err = policy.New(config.Resolve(rootPath, cfg.Verify.PolicyDir))
	if err != nil {
		return nil, fmt.Errorf("initialize policy engine: %w", err)
	}
	b.validator, err = validator.NewReportValidator()
	if err != nil {
		return nil, fmt.Errorf("CRITICAL: Failed to initialize report validator: %w", err)
	}

	// 3. Per-device expansion, verification and triage
	stepStart = time.Now()
	runs := make([]deviceRun, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism())
	for i, dev := range devices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			runs[i] = b.runDevice(gctx, dev)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	phases.done(runLog, "devices", "", "", stepStart)

	res := &Result{Family: b.family, Devices: make([]DeviceResult, 0, len(runs))}
	var (
		geoms   []*chip.Geometry
		failed  []string
		reports = make(map[string]*verify.Report)
	)
	for _, run := range runs {
		res.Devices = append(res.Devices, run.result)
		for _, err := range run.pipelineErrs {
			recordPipelineErr(err)
		}
		if run.result.Err != "" {
			failed = append(failed, fmt.Sprintf("%s: %s", run.result.Name, run.result.Err))
			continue
		}
		geoms = append(geoms, run.geom)
		res.Grids = append(res.Grids, run.grid)
		if run.result.Report != nil {
			reports[run.result.Name] = run.result.Report
		}
		if run.result.Triage != nil {
			res.Summary.Add(run.result.Triage.Summary)
		}
	}

	// 4. Container
	res.Database = &dbfile.Database{Family: b.family, IntDB: db, Chips: geoms, Bits: data}
	if err := res.Database.Validate(); err != nil {
		return nil, fmt.Errorf("assembling database: %w", err)
	}
	// Global values travel in the container as they are.
	for _, k := range data.MiscKeys() {
		data.Misc(k, b.usage)
	}
	res.UnusedBits = data.Unused(b.usage)
	if len(res.UnusedBits) > 0 {
		runLog.WithField("count", len(res.UnusedBits)).Warn("bit data entries never resolved onto a device")
		for _, e := range res.UnusedBits {
			runLog.WithField("entry", e).Debug("unused bit data")
		}
	}

	// 5. Fact tables
	stepStart = time.Now()
	res.Tables = facts.BuildTables(b.family, res.Grids, data, reports)
	factsValidator, err := validator.NewFactsValidator()
	if err != nil {
		return nil, fmt.Errorf("CRITICAL: Failed to initialize facts validator: %w", err)
	}
	if err := factsValidator.Validate(res.Tables); err != nil {
		return nil, fmt.Errorf("CRITICAL: Fact table contract violation: %w", err)
	}
	phases.done(runLog, "facts", "", "", stepStart)

	// 6. Artifacts
	if !r.DryRun {
		stepStart = time.Now()
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
		res.DatabasePath = filepath.Join(outDir, cfg.Output.Database)
		if err := dbfile.WriteFile(res.DatabasePath, res.Database); err != nil {
			return nil, fmt.Errorf("writing database: %w", err)
		}
		if err := facts.Save(filepath.Join(outDir, "facts.json"), res.Tables); err != nil {
			return nil, fmt.Errorf("writing fact tables: %w", err)
		}
		for _, d := range res.Devices {
			if d.Report == nil {
				continue
			}
			if err := facts.WriteJSON(filepath.Join(outDir, "reports", d.Name+".json"), d); err != nil {
				recordPipelineErr(fmt.Errorf("report for %s: %w", d.Name, err))
			}
		}
		if b.cache != nil {
			if err := b.cache.Save(); err != nil {
				recordPipelineErr(fmt.Errorf("cache save failed: %w", err))
			}
		}
		if cfg.Output.Metrics != "" {
			if err := r.Metrics.WriteTextfile(filepath.Join(outDir, cfg.Output.Metrics)); err != nil {
				recordPipelineErr(err)
			}
		}
		phases.done(runLog, "write", "", "", stepStart)
	}

	total := phases.done(runLog, "total", "", "", runStart)
	if name, d := phases.Slowest(); name != "" {
		runLog.WithFields(logrus.Fields{"device": name, "duration": d}).Debug("slowest device")
	}
	r.Log.WithFields(logrus.Fields{
		"family":   b.family,
		"devices":  len(res.Devices),
		"failed":   len(failed),
		"errors":   res.Summary.Errors,
		"warnings": res.Summary.Warnings,
		"duration": total,
	}).Info("build complete")

	if len(failed) > 0 {
		span.SetStatus(codes.Error, "device failures")
		pipelineErrs = append([]error{fmt.Errorf("%d of %d devices failed:\n  %s", len(failed), len(devices), strings.Join(failed, "\n  "))}, pipelineErrs...)
	}
	if len(pipelineErrs) > 0 {
		return res, fmt.Errorf("pipeline errors:\n%s", formatPipelineErrors(pipelineErrs))
	}
	return res, nil
}

func (b *build) runDevice(ctx context.Context, dev config.ResolvedDevice) deviceRun {
	ctx, span := b.r.Tracer.Start(ctx, "device", trace.WithAttributes(attribute.String("device", dev.Name)))
	defer span.End()

	run := deviceRun{result: DeviceResult{Name: dev.Name}}
	log := b.r.Log.WithField("device", dev.Name)
	fail := func(phase string, err error) deviceRun {
		span.RecordError(err)
		span.SetStatus(codes.Error, phase)
		b.r.Metrics.Failure(phase)
		log.WithField("phase", phase).WithError(err).Error("device failed")
		run.result.Err = fmt.Sprintf("%s: %v", phase, err)
		return run
	}

	start := time.Now()
	geom, err := chip.LoadFile(dev.Geometry)
	if err != nil {
		return fail("load", err)
	}
	if geom.Name != dev.Name {
		return fail("load", fmt.Errorf("%s describes device %s", dev.Geometry, geom.Name))
	}
	if geom.Family != "" && geom.Family != b.family {
		return fail("load", fmt.Errorf("device belongs to family %s", geom.Family))
	}
	grid, err := expand.ExpandWith(geom, b.db, expand.Options{Layout: b.layout})
	if err != nil {
		return fail("expand", err)
	}
	run.geom, run.grid = geom, grid
	run.result.Tiles, run.result.Wires, run.result.Nodes = grid.NumTiles(), grid.NumWires(), grid.NumNodes()
	b.r.Metrics.ObserveGrid(dev.Name, grid.NumTiles(), grid.NumWires(), grid.NumNodes())
	run.result.ItemBits, run.result.Unmapped = b.resolveBits(log, dev.Name, grid)
	b.phases.done(log, "expand", dev.Name, "", start)

	if dev.Capture == "" {
		log.Debug("no capture, skipping verification")
		return run
	}

	start = time.Now()
	report, cached, err := b.verifyDevice(dev, grid, &run)
	if err != nil {
		return fail("verify", err)
	}
	if err := b.validator.Validate(report); err != nil {
		return fail("verify", fmt.Errorf("CRITICAL: Report contract violation: %w", err))
	}
	run.result.Report, run.result.Verified, run.result.Cached = report, true, cached
	b.r.Metrics.ObserveReport(dev.Name, report)
	status := "verified"
	if cached {
		status = "cache_hit"
	}
	b.phases.done(log, "verify", dev.Name, status, start)

	start = time.Now()
	input := policy.InputFor(dev.Name, report, b.cfg.Verify.Rules, b.cfg.Verify.IgnoreLocations)
	triage, err := b.engine.Evaluate(ctx, input)
	if err != nil {
		return fail("triage", err)
	}
	run.result.Triage = triage
	b.r.Metrics.ObserveFindings(dev.Name, triage.Summary)
	b.phases.done(log, "triage", dev.Name, "", start)

	log.WithFields(logrus.Fields{
		"mismatches": len(report.Mismatches),
		"errors":     triage.Summary.Errors,
	}).Info(report.Summary())
	return run
}

// verifyDevice returns the device's report, from the cache when every
// input is unchanged. Cache trouble is recorded and never fails the device.
func (b *build) verifyDevice(dev config.ResolvedDevice, grid *expand.Grid, run *deviceRun) (*verify.Report, bool, error) {
	var hash string
	if b.cache != nil {
		h, err := inputHash(b.archPath, dev.Geometry, dev.Capture, b.cfg.Verify)
		if err != nil {
			run.pipelineErrs = append(run.pipelineErrs, fmt.Errorf("cache key for %s: %w", dev.Name, err))
		} else {
			hash = h
			if report, ok, err := b.cache.Get(dev.Name, hash); err != nil {
				run.pipelineErrs = append(run.pipelineErrs, fmt.Errorf("cache read failed for %s: %w", dev.Name, err))
			} else if ok {
				b.r.Metrics.CacheHit()
				return report, true, nil
			}
			b.r.Metrics.CacheMiss()
		}
	}

	part, err := capture.LoadFile(dev.Capture)
	if err != nil {
		return nil, false, err
	}
	v := verify.New(part)
	for _, kind := range b.cfg.Verify.IgnoreSiteKinds {
		if err := v.IgnoreSiteKind(kind); err != nil {
			return nil, false, err
		}
	}
	for _, prefix := range b.cfg.Verify.IgnoreTilePrefixes {
		if err := v.IgnoreTilePrefix(prefix); err != nil {
			return nil, false, err
		}
	}
	if b.cfg.Verify.SkipResidual {
		if err := v.SkipResidual(); err != nil {
			return nil, false, err
		}
	}
	if err := verify.VerifyGrid(v, grid, nil); err != nil {
		return nil, false, err
	}
	report, err := v.Finalize()
	if err != nil {
		return nil, false, err
	}

	if hash != "" {
		if err := b.cache.Put(dev.Name, hash, report); err != nil {
			run.pipelineErrs = append(run.pipelineErrs, fmt.Errorf("cache write failed for %s: %w", dev.Name, err))
		}
	}
	return report, false, nil
}

// resolveBits places every item of each laid-out tile's class onto device
// bits and consumes the device's own values, recording both in the build's
// usage set. It returns the number of item bits placed and the number of
// item instances the layout cannot hold.
func (b *build) resolveBits(log *logrus.Entry, device string, grid *expand.Grid) (placed, unmapped int) {
	classes := grid.DB().TileClasses()
	items := make(map[string][]string)
	for _, t := range grid.Tiles() {
		if len(t.Bits) == 0 {
			continue
		}
		class := classes.Key(t.Class)
		names, ok := items[class]
		if !ok {
			names = b.data.Items(class)
			items[class] = names
		}
		for _, name := range names {
			pos, err := b.data.ResolveItem(class, name, t.Bits, b.usage)
			if err != nil {
				unmapped++
				log.WithError(err).WithField("tile", t.Cell.String()).Debug("item does not fit the layout")
				continue
			}
			placed += len(pos)
		}
	}
	if unmapped > 0 {
		log.WithField("unmapped", unmapped).Warn("bit items outside their tile layout")
	}
	for _, k := range b.data.DeviceKeys(device) {
		b.data.Device(device, k, b.usage)
	}
	return placed, unmapped
}

// loadBits merges every bits file into one family model.
func loadBits(paths []string) (*bits.Data, error) {
	data := bits.NewData()
	for _, p := range paths {
		d, err := bits.LoadFile(p)
		if err != nil {
			return nil, err
		}
		merged, err := bits.Merge(data, d)
		if err != nil {
			return nil, fmt.Errorf("merging %s: %w", p, err)
		}
		data = merged
	}
	return data, nil
}

func formatPipelineErrors(errs []error) string {
	var b strings.Builder
	for i, err := range errs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(err.Error())
	}
	return b.String()
}
