package facts

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// TablesVersion is bumped whenever a row type changes shape.
const TablesVersion = 1

type tablesFile struct {
	Version int    `json:"version"`
	Tables  Tables `json:"tables"`
}

// Load reads tables written by Save. A file from another version is
// reported as not found so callers rebuild from scratch.
func Load(path string) (Tables, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Tables{}, false, nil
		}
		return Tables{}, false, fmt.Errorf("read fact tables: %w", err)
	}
	var f tablesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Tables{}, false, fmt.Errorf("parse fact tables: %w", err)
	}
	if f.Version != TablesVersion {
		return Tables{}, false, nil
	}
	return f.Tables, true, nil
}

// Save writes tables atomically.
func Save(path string, tables Tables) error {
	return WriteJSON(path, tablesFile{Version: TablesVersion, Tables: tables})
}

// WriteJSON writes v as indented JSON through a temp file and rename.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
