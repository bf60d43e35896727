// Package workflow holds the Workflow model, the per-service registry that
// loads definitions from disk, the Parameter Substitution Engine and the
// Requirement Validator.
package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/andrej220/storops/internal/settings"
)

const (
	ParamString = "string"
	ParamInt    = "int"
	ParamPath   = "path"
	ParamBool   = "bool"
)

// Param is one entry of a workflow's parameter schema.
type Param struct {
	Name        string `json:"name" yaml:"name" validate:"required,identifier"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=string int path bool"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Requirements is the predicate set checked before a workflow runs. Every
// axis is optional.
type Requirements struct {
	Service settings.Service `json:"service,omitempty" yaml:"service,omitempty" validate:"omitempty,oneof=cta enstore"`
	User    string           `json:"user,omitempty" yaml:"user,omitempty"`
	Nodes   []string         `json:"nodes,omitempty" yaml:"nodes,omitempty" validate:"dive,required"`
	Mounts  []string         `json:"mounts,omitempty" yaml:"mounts,omitempty" validate:"dive,required,abspath"`
}

func (r Requirements) Empty() bool {
	return r.Service == "" && r.User == "" && len(r.Nodes) == 0 && len(r.Mounts) == 0
}

// Workflow is a named, parameterized command-template sequence. Workflows
// are read-only once loaded.
type Workflow struct {
	Name         string       `json:"-" yaml:"-" validate:"required"`
	Title        string       `json:"title,omitempty" yaml:"title,omitempty"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Requirements Requirements `json:"requirements" yaml:"requirements"`
	Commands     []string     `json:"commands" yaml:"commands" validate:"required,min=1,dive,required"`
	Params       []Param      `json:"params" yaml:"params" validate:"unique=Name,dive"`
}

// Param returns the declared parameter called name.
func (w *Workflow) Param(name string) (Param, bool) {
	for _, p := range w.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Usage renders the parameter help for the workflow.
func (w *Workflow) Usage() string {
	var b strings.Builder
	title := w.Title
	if title == "" {
		title = w.Name
	}
	fmt.Fprintf(&b, "%s: %s\n", w.Name, title)
	if w.Description != "" {
		fmt.Fprintf(&b, "  %s\n", w.Description)
	}
	if len(w.Params) == 0 {
		b.WriteString("  no parameters\n")
		return b.String()
	}
	b.WriteString("  parameters:\n")
	for _, p := range w.Params {
		kind := p.Type
		if kind == "" {
			kind = ParamString
		}
		need := "optional"
		if p.Required {
			need = "required"
		}
		fmt.Fprintf(&b, "    --param %s=<%s>  (%s) %s\n", p.Name, kind, need, p.Description)
	}
	return b.String()
}

// Registry is the set of workflows of one service.
type Registry struct {
	Service   settings.Service
	workflows map[string]*Workflow
}

func NewRegistry(service settings.Service, workflows ...*Workflow) *Registry {
	r := &Registry{Service: service, workflows: make(map[string]*Workflow, len(workflows))}
	for _, w := range workflows {
		r.workflows[w.Name] = w
	}
	return r
}

func (r *Registry) Lookup(name string) (*Workflow, bool) {
	if r == nil {
		return nil, false
	}
	w, ok := r.workflows[name]
	return w, ok
}

// Names returns the registered workflow names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.workflows)
}
