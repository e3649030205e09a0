package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// ResolvedDevice is one geometry file selected for a build
type ResolvedDevice struct {
	// Name is the geometry file stem
	Name     string
	Geometry string
	// Capture is the ground truth path, empty when none exists
	Capture string
}

// ResolveDevices expands every device pattern under rootPath, filters the
// result by Select and returns the devices sorted by name. A device
// matched by several entries keeps the first.
func (c *Config) ResolveDevices(rootPath string) ([]ResolvedDevice, error) {
	selectors, err := compileAll(c.Select, 0)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	seen := make(map[string]bool)
	var result []ResolvedDevice
	for _, entry := range c.Devices {
		pattern := filepath.ToSlash(Resolve(rootPath, entry.Geometry))
		matches, err := expandGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("devices %q: %w", entry.Geometry, err)
		}
		for _, path := range matches {
			name := stem(path)
			if seen[name] || !selected(selectors, name) {
				continue
			}
			seen[name] = true
			dev := ResolvedDevice{Name: name, Geometry: path}
			if entry.Captures != "" {
				capture := filepath.Join(Resolve(rootPath, entry.Captures), name+".json")
				if _, err := os.Stat(capture); err == nil {
					dev.Capture = capture
				}
			}
			result = append(result, dev)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// ResolveBits returns the configured bits files made absolute.
func (c *Config) ResolveBits(rootPath string) []string {
	out := make([]string, len(c.Bits))
	for i, b := range c.Bits {
		out[i] = Resolve(rootPath, b)
	}
	return out
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func compileAll(patterns []string, sep rune) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		var (
			g   glob.Glob
			err error
		)
		if sep == 0 {
			g, err = glob.Compile(p)
		} else {
			g, err = glob.Compile(p, sep)
		}
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// selected reports whether name matches one of selectors. No selectors
// selects everything.
func selected(selectors []glob.Glob, name string) bool {
	if len(selectors) == 0 {
		return true
	}
	for _, g := range selectors {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// expandGlob walks the static prefix of pattern and returns the files
// matching it. * stays within a directory and ** crosses directories.
func expandGlob(pattern string) ([]string, error) {
	matchers, err := compileAll([]string{pattern}, '/')
	if err != nil {
		return nil, err
	}
	g := matchers[0]

	baseDir := staticPrefix(pattern)
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		return nil, nil
	}

	var results []string
	err = filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if info.IsDir() {
			return nil
		}
		if g.Match(filepath.ToSlash(path)) {
			results = append(results, path)
		}
		return nil
	})
	sort.Strings(results)
	return results, err
}

// staticPrefix returns the directory part of pattern before the first
// meta character.
func staticPrefix(pattern string) string {
	i := strings.IndexAny(pattern, "*?[{")
	if i < 0 {
		return filepath.Dir(filepath.FromSlash(pattern))
	}
	dir := pattern[:i]
	if j := strings.LastIndex(dir, "/"); j >= 0 {
		dir = dir[:j]
	} else {
		dir = "."
	}
	if dir == "" {
		dir = "/"
	}
	return filepath.FromSlash(dir)
}
