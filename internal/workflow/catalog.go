package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/settings"
)

// DefaultDir is the root of the per-service workflow files.
const DefaultDir = "tests"

var definitionFiles = []string{"functions.json", "functions.yaml", "functions.yml"}

// Catalog loads each service's registry at most once per process.
type Catalog struct {
	Dir string

	mu     sync.Mutex
	loaded map[settings.Service]*Registry
}

func NewCatalog(dir string) *Catalog {
	if dir == "" {
		dir = DefaultDir
	}
	return &Catalog{Dir: dir, loaded: make(map[settings.Service]*Registry)}
}

// Path returns the definition file for service, or "" if none exists.
func (c *Catalog) Path(service settings.Service) string {
	base := filepath.Join(c.Dir, string(service), "scripts")
	for _, name := range definitionFiles {
		p := filepath.Join(base, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Registry returns the workflows of service. A missing definition file
// yields an empty registry.
func (c *Catalog) Registry(service settings.Service) (*Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.loaded[service]; ok {
		return r, nil
	}

	r := NewRegistry(service)
	if p := c.Path(service); p != "" {
		var err error
		if r, err = LoadFile(service, p); err != nil {
			return nil, err
		}
	}
	c.loaded[service] = r
	return r, nil
}

// LoadFile parses and validates one definition file.
func LoadFile(service settings.Service, path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewRegistry(service), nil
		}
		return nil, fmt.Errorf("read workflows %s: %w", path, err)
	}
	return Parse(service, data, filepath.Ext(path) != ".json")
}

// Parse decodes a name → definition document and validates every entry.
func Parse(service settings.Service, data []byte, isYAML bool) (*Registry, error) {
	defs := map[string]*Workflow{}
	var err error
	if isYAML {
		err = yaml.Unmarshal(data, &defs)
	} else {
		err = json.Unmarshal(data, &defs)
	}
	if err != nil {
		return nil, &errs.DefinitionError{Workflow: string(service), Reason: fmt.Sprintf("parse: %v", err)}
	}

	workflows := make([]*Workflow, 0, len(defs))
	for name, w := range defs {
		if w == nil {
			return nil, &errs.DefinitionError{Workflow: name, Reason: "empty definition"}
		}
		w.Name = name
		if err := Validate(w); err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return NewRegistry(service, workflows...), nil
}
