package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/processor"
	"github.com/andrej220/storops/internal/settings"
)

const (
	AxisService = "service"
	AxisUser    = "user"
	AxisNodes   = "nodes"
	AxisMounts  = "mounts"
)

// MountSentinel prefixes the line a remote probe prints for an existing
// directory.
const MountSentinel = "path exists: "

// SessionRunner runs one command session against a configuration.
type SessionRunner interface {
	Run(ctx context.Context, cfg settings.Configuration, commands []string) (executor.Result, error)
}

// Checker is the Requirement Validator.
type Checker struct {
	Runner SessionRunner
	// Stat checks local paths. Defaults to os.Stat.
	Stat func(string) (os.FileInfo, error)
}

func NewChecker(runner SessionRunner) *Checker {
	return &Checker{Runner: runner, Stat: os.Stat}
}

// Validate evaluates the axes in the order service, user, nodes, mounts and
// stops at the first unmet one.
func (c *Checker) Validate(ctx context.Context, w *Workflow, cfg settings.Configuration, identity string) error {
	req := w.Requirements
	if req.Service != "" && cfg.Service != req.Service {
		return &errs.RequirementError{Axis: AxisService, Detail: fmt.Sprintf("requires %s, configured %s", req.Service, orNone(string(cfg.Service)))}
	}
	if req.User != "" && identity != req.User {
		return &errs.RequirementError{Axis: AxisUser, Detail: fmt.Sprintf("requires %s, caller %s", req.User, orNone(identity))}
	}
	if len(req.Nodes) > 0 && !contains(req.Nodes, cfg.Node) {
		return &errs.RequirementError{Axis: AxisNodes, Detail: fmt.Sprintf("%s not in [%s]", cfg.Node, strings.Join(req.Nodes, " "))}
	}
	if len(req.Mounts) > 0 {
		exists, err := c.Mounts(ctx, cfg, req.Mounts)
		if err != nil {
			return err
		}
		var missing []string
		for _, m := range req.Mounts {
			if !exists[m] {
				missing = append(missing, m)
			}
		}
		if len(missing) > 0 {
			return &errs.RequirementError{Axis: AxisMounts, Detail: strings.Join(missing, ", ")}
		}
	}
	return nil
}

// Mounts reports which paths are directories on the target. Remote targets
// are probed in a single session regardless of how many paths are asked.
func (c *Checker) Mounts(ctx context.Context, cfg settings.Configuration, paths []string) (map[string]bool, error) {
	exists := make(map[string]bool, len(paths))
	if !cfg.IsRemote() {
		stat := c.Stat
		if stat == nil {
			stat = os.Stat
		}
		for _, p := range paths {
			fi, err := stat(p)
			exists[p] = err == nil && fi.IsDir()
		}
		return exists, nil
	}

	if c.Runner == nil {
		return nil, errors.New("mount probe needs a command runner for remote targets")
	}
	res, err := c.Runner.Run(ctx, cfg, MountProbe(paths))
	if err != nil && !errors.Is(err, errs.ErrExecution) {
		return nil, err
	}

	chain := processor.NewProcessorChain()
	chain.Register(&processor.PrefixProcessor{Label: AxisMounts, Prefix: MountSentinel})
	seen, err := chain.Process(processor.Lines(res.Stdout), processor.ProcessorTypeTrim, AxisMounts)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		exists[p] = false
	}
	for _, p := range seen {
		exists[p] = true
	}
	return exists, nil
}

// MountProbe builds one probe statement per path.
func MountProbe(paths []string) []string {
	cmds := make([]string, len(paths))
	for i, p := range paths {
		cmds[i] = fmt.Sprintf("if [ -d %s ]; then echo %s; fi", shellescape.Quote(p), shellescape.Quote(MountSentinel+p))
	}
	return cmds
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
