package settings

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Entry is one node record of the persisted registry.
type Entry struct {
	Service Service `json:"service" yaml:"service" bson:"service" validate:"omitempty,oneof=cta enstore"`
	Device  Device  `json:"device_type" yaml:"device_type" bson:"device_type" validate:"omitempty,oneof=tape disk"`
	Mover   Mover   `json:"mover_type" yaml:"mover_type" bson:"mover_type" validate:"omitempty,oneof=spectra ibm"`
}

// Registry looks a node up in persisted storage. A missing store or a
// missing key is reported as found=false with a nil error.
type Registry interface {
	Lookup(ctx context.Context, node string) (entry Entry, found bool, err error)
}

var entryValidate = validator.New()

func validateEntry(node string, e Entry) error {
	if err := entryValidate.Struct(e); err != nil {
		return fmt.Errorf("node %q: %w", node, err)
	}
	return nil
}

// Resolver maps a node identifier to a Configuration.
type Resolver struct {
	registry Registry
}

func NewResolver(r Registry) *Resolver {
	return &Resolver{registry: r}
}

// Resolve is a pure lookup. The explicit service fills a service the
// registry left unset but never replaces a registered one. Without a
// registry entry only the node is set.
func (r *Resolver) Resolve(ctx context.Context, node string, explicit Service) (Configuration, error) {
	if node == "" {
		node = LocalHostname()
	}
	cfg := Configuration{Node: node}
	if r.registry == nil {
		return cfg, nil
	}

	entry, found, err := r.registry.Lookup(ctx, node)
	if err != nil {
		return cfg, err
	}
	if !found {
		return cfg, nil
	}

	cfg.Service = entry.Service
	cfg.Device = entry.Device
	cfg.Mover = entry.Mover
	if cfg.Service == "" && explicit != "" {
		cfg.Service = explicit
	}
	return cfg, nil
}
