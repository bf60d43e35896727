// Package operator orchestrates one request: it holds the resolved
// Configuration, and composes requirement checks, parameter binding and the
// Command Runner behind Invoke.
package operator

import (
	"context"
	"os"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/lg"
	"github.com/andrej220/storops/internal/settings"
	"github.com/andrej220/storops/internal/workflow"
)

type State int

const (
	Uninitialized State = iota
	ConfigurationResolved
	Valid
	Invalid
)

func (s State) String() string {
	switch s {
	case ConfigurationResolved:
		return "configuration-resolved"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "uninitialized"
	}
}

type Verbosity int

const (
	Quiet Verbosity = iota - 1
	Normal
	Verbose
)

// DefaultToolsDir is listed by ListTools for both services.
const DefaultToolsDir = "/opt/enstore/tools"

// Catalog provides the workflow registry of a service.
type Catalog interface {
	Registry(service settings.Service) (*workflow.Registry, error)
}

type Options struct {
	Resolver  *settings.Resolver
	Catalog   Catalog
	Runner    workflow.SessionRunner
	Escape    workflow.Escape
	ToolsDirs map[settings.Service]string
	Verbosity Verbosity
	Log       lg.Logger
	// Stat checks local marker directories. Defaults to os.Stat.
	Stat func(string) (os.FileInfo, error)
}

// Operator serves one request at a time.
type Operator struct {
	opts    Options
	checker *workflow.Checker
	log     lg.Logger

	state State
	cfg   settings.Configuration
}

func New(opts Options) *Operator {
	if opts.Resolver == nil {
		opts.Resolver = settings.NewResolver(nil)
	}
	if opts.Escape == "" {
		opts.Escape = workflow.EscapeStrict
	}
	if opts.Stat == nil {
		opts.Stat = os.Stat
	}
	if opts.Log == nil {
		opts.Log = lg.Discard
	}
	checker := workflow.NewChecker(opts.Runner)
	checker.Stat = opts.Stat
	return &Operator{opts: opts, checker: checker, log: opts.Log}
}

func (o *Operator) State() State                          { return o.state }
func (o *Operator) Configuration() settings.Configuration { return o.cfg }
func (o *Operator) Verbosity() Verbosity                  { return o.opts.Verbosity }

// Resolve looks node up in the registry and accepts the result.
func (o *Operator) Resolve(ctx context.Context, node string, explicit settings.Service) (settings.Configuration, error) {
	cfg, err := o.opts.Resolver.Resolve(ctx, node, explicit)
	if err != nil {
		return cfg, err
	}
	o.Accept(cfg)
	return cfg, nil
}

// Accept takes a Configuration built by the caller and moves to Valid or
// Invalid.
func (o *Operator) Accept(cfg settings.Configuration) {
	o.cfg = cfg
	o.state = ConfigurationResolved
	if cfg.IsComplete() {
		o.state = Valid
	} else {
		o.state = Invalid
	}
	o.log.Debug("configuration accepted", lg.String("config", cfg.String()), lg.String("state", o.state.String()))
}

// requireValid fails unless node and service are set.
func (o *Operator) requireValid() error {
	if o.state == Uninitialized {
		return &errs.ConfigurationError{Reason: "no configuration resolved"}
	}
	if o.state != Valid {
		var missing []string
		for _, f := range o.cfg.Missing() {
			if f == "node" || f == "service" {
				missing = append(missing, f)
			}
		}
		return &errs.ConfigurationError{Missing: missing}
	}
	return nil
}

// Workflows returns the registry of the configured service.
func (o *Operator) Workflows() (*workflow.Registry, error) {
	if err := o.requireValid(); err != nil {
		return nil, err
	}
	if o.opts.Catalog == nil {
		return workflow.NewRegistry(o.cfg.Service), nil
	}
	return o.opts.Catalog.Registry(o.cfg.Service)
}

// Describe returns the named workflow of the configured service.
func (o *Operator) Describe(name string) (*workflow.Workflow, error) {
	reg, err := o.Workflows()
	if err != nil {
		return nil, err
	}
	w, ok := reg.Lookup(name)
	if !ok {
		return nil, &errs.UnknownWorkflowError{Name: name, Service: string(o.cfg.Service)}
	}
	return w, nil
}

// Invoke runs a workflow. Workflow execution needs device and mover on top
// of node and service. The Runner's result is returned unmodified.
func (o *Operator) Invoke(ctx context.Context, name string, args map[string]string, identity string) (executor.Result, error) {
	if err := o.requireValid(); err != nil {
		return executor.Result{}, err
	}
	if missing := o.cfg.Missing(); len(missing) > 0 {
		return executor.Result{}, &errs.ConfigurationError{Missing: missing}
	}

	w, err := o.Describe(name)
	if err != nil {
		return executor.Result{}, err
	}
	log := o.log.With(lg.String("workflow", name), lg.String("node", o.cfg.Node))

	if err := o.checker.Validate(ctx, w, o.cfg, identity); err != nil {
		log.Debug("requirements not met", lg.Err(err))
		return executor.Result{}, err
	}
	if err := workflow.CheckArguments(w, args); err != nil {
		return executor.Result{}, err
	}
	commands, err := workflow.Bind(w, args, o.opts.Escape)
	if err != nil {
		return executor.Result{}, err
	}
	if o.opts.Verbosity == Verbose {
		log.Info("bound commands", lg.Strings("commands", commands))
	}
	return o.run(ctx, commands)
}

// ListTools lists the tools directory of the configured service in one
// session on the target.
func (o *Operator) ListTools(ctx context.Context) (executor.Result, error) {
	if err := o.requireValid(); err != nil {
		return executor.Result{}, err
	}
	dir := o.opts.ToolsDirs[o.cfg.Service]
	if dir == "" {
		dir = DefaultToolsDir
	}
	return o.run(ctx, []string{"ls " + dir})
}

func (o *Operator) run(ctx context.Context, commands []string) (executor.Result, error) {
	if o.opts.Runner == nil {
		return executor.Result{}, &errs.ConfigurationError{Reason: "no command runner configured"}
	}
	return o.opts.Runner.Run(ctx, o.cfg, commands)
}
