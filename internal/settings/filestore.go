package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andrej220/storops/internal/errs"
)

// DefaultRegistryPath is where the node registry lives relative to the
// working directory.
const DefaultRegistryPath = "config/server_specs.json"

var _ Registry = (*FileStore)(nil)

// FileStore reads the node registry from a JSON or YAML document shaped
// {node: {service, device_type, mover_type}}. The file is read on every
// lookup so edits are picked up without a restart.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultRegistryPath
	}
	return &FileStore{Path: path}
}

func (f *FileStore) Lookup(_ context.Context, node string) (Entry, bool, error) {
	entries, err := f.Load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[node]
	if !ok {
		return Entry{}, false, nil
	}
	if err := validateEntry(node, e); err != nil {
		return Entry{}, false, &errs.RegistryError{Source: f.Path, Err: err}
	}
	return e, true, nil
}

// Load returns all entries. A missing file yields an empty registry.
func (f *FileStore) Load() (map[string]Entry, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Entry{}, nil
		}
		return nil, &errs.RegistryError{Source: f.Path, Err: err}
	}

	entries := map[string]Entry{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return entries, nil
	}
	if isYAML(f.Path) {
		err = yaml.Unmarshal(data, &entries)
	} else {
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, &errs.RegistryError{Source: f.Path, Err: fmt.Errorf("parse: %w", err)}
	}
	return entries, nil
}

// Save writes the registry atomically through a temp file and rename.
func (f *FileStore) Save(entries map[string]Entry) error {
	if entries == nil {
		return fmt.Errorf("save: entries must not be nil")
	}
	for node, e := range entries {
		if err := validateEntry(node, e); err != nil {
			return err
		}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(f.Path) {
		data, err = yaml.Marshal(entries)
	} else {
		data, err = json.MarshalIndent(entries, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("save: marshal: %w", err)
	}

	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("save: write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("save: replace %s: %w", f.Path, err)
	}
	return nil
}

// Put records e for node, keeping every other entry.
func (f *FileStore) Put(node string, e Entry) error {
	if node == "" {
		return fmt.Errorf("put: node must not be empty")
	}
	entries, err := f.Load()
	if err != nil {
		return err
	}
	entries[node] = e
	return f.Save(entries)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
