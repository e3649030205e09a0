package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"

	"github.com/robert-at-pretension-io/fabricdb/internal/config"
	"github.com/robert-at-pretension-io/fabricdb/internal/facts"
	"github.com/robert-at-pretension-io/fabricdb/internal/verify"
)

// Bump when verification output changes for identical inputs.
const cacheIndexVersion = 1

type cacheEntry struct {
	InputHash  string `json:"input_hash"`
	ReportPath string `json:"report_path"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// reportCache keeps verification reports keyed by device, valid while
// the hash of every input that shaped the report is unchanged.
type reportCache struct {
	dir   string
	mu    sync.Mutex
	index cacheIndex
}

func newReportCache(dir string) *reportCache {
	return &reportCache{
		dir: dir,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func (c *reportCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *reportCache) reportPath(device string) string {
	return filepath.Join(c.dir, "reports", strconv.FormatUint(xxhash.Sum64String(device), 16)+".json")
}

func (c *reportCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		// Reset on version mismatch
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *reportCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return facts.WriteJSON(c.indexPath(), c.index)
}

func (c *reportCache) Get(device, inputHash string) (*verify.Report, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[device]
	c.mu.Unlock()
	if !ok || entry.InputHash != inputHash {
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.ReportPath)
	if err != nil {
		return nil, false, fmt.Errorf("read cached report: %w", err)
	}
	var report verify.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("parse cached report: %w", err)
	}
	if report.Mismatches == nil {
		report.Mismatches = []verify.Mismatch{}
	}
	return &report, true, nil
}

func (c *reportCache) Put(device, inputHash string, report *verify.Report) error {
	path := c.reportPath(device)
	if err := facts.WriteJSON(path, report); err != nil {
		return err
	}

	c.mu.Lock()
	c.index.Entries[device] = cacheEntry{InputHash: inputHash, ReportPath: path}
	c.mu.Unlock()
	return nil
}

// inputHash digests everything that determines a device's report: the
// architecture, the geometry, the capture and the verification settings.
func inputHash(architecture, geometry, capture string, vc config.VerifyConfig) (string, error) {
	h := xxhash.New()
	for _, path := range []string{architecture, geometry, capture} {
		if err := hashInto(h, path); err != nil {
			return "", err
		}
	}
	settings, err := json.Marshal(struct {
		IgnoreSiteKinds    []string `json:"ignore_site_kinds"`
		IgnoreTilePrefixes []string `json:"ignore_tile_prefixes"`
		SkipResidual       bool     `json:"skip_residual"`
	}{vc.IgnoreSiteKinds, vc.IgnoreTilePrefixes, vc.SkipResidual})
	if err != nil {
		return "", err
	}
	_, _ = h.Write(settings)
	return strconv.FormatUint(h.Sum64(), 16), nil
}

func hashInto(h *xxhash.Digest, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	// Separator so moving bytes between files changes the digest.
	_, _ = h.Write([]byte{0})
	return nil
}
