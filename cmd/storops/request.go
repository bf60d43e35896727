package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/operator"
	"github.com/andrej220/storops/internal/settings"
	"github.com/andrej220/storops/pkg/config"
)

type action string

const (
	actionDetect    action = "detect"
	actionList      action = "list"
	actionWorkflows action = "workflows"
	actionRun       action = "run"
	actionDescribe  action = "describe"
	actionShow      action = "show"
	actionTapeInfo  action = "tape-info"
)

// noMoverIndex means the mover is chosen interactively.
const noMoverIndex = -2

// request is everything one command needs, parsed up front. Building it
// never touches the network or the filesystem.
type request struct {
	Action    action
	Node      string
	Service   settings.Service
	Device    settings.Device
	Mover     settings.Mover
	Identity  string
	Workflow  string
	Params    map[string]string
	Verbosity operator.Verbosity

	// Remote forces remote detection.
	Remote     bool
	MoverIndex int
	// Save writes the detected configuration back to the file registry.
	Save bool
}

type flagValues struct {
	Quiet      bool
	Verbose    bool
	Remote     bool
	MoverIndex int
	Save       bool
	Params     []string
}

func newRequest(a action, cfg *config.AppConfig, fv flagValues, args []string) (request, error) {
	req := request{
		Action:     a,
		Node:       cfg.Node,
		Identity:   cfg.User,
		Remote:     fv.Remote,
		MoverIndex: fv.MoverIndex,
		Save:       fv.Save,
	}

	switch {
	case fv.Quiet && fv.Verbose:
		return req, errors.New("--quiet and --verbose are mutually exclusive")
	case fv.Quiet:
		req.Verbosity = operator.Quiet
	case fv.Verbose:
		req.Verbosity = operator.Verbose
	}

	var err error
	if req.Service, err = settings.ParseService(cfg.Service); err != nil {
		return req, &errs.ConfigurationError{Reason: err.Error()}
	}
	if req.Device, err = settings.ParseDevice(cfg.Device); err != nil {
		return req, &errs.ConfigurationError{Reason: err.Error()}
	}
	if req.Mover, err = settings.ParseMover(cfg.Mover); err != nil {
		return req, &errs.ConfigurationError{Reason: err.Error()}
	}

	switch a {
	case actionRun, actionDescribe:
		if len(args) != 1 {
			return req, fmt.Errorf("%s takes exactly one workflow name", a)
		}
		req.Workflow = args[0]
	}
	if a == actionRun {
		if req.Params, err = parseParams(fv.Params); err != nil {
			return req, err
		}
	}
	return req, nil
}

// parseParams turns repeated key=value flags into argument values.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, &errs.ParameterError{Param: pair, Reason: "expected key=value"}
		}
		if _, dup := params[key]; dup {
			return nil, &errs.ParameterError{Param: key, Reason: "given more than once"}
		}
		params[key] = value
	}
	return params, nil
}
