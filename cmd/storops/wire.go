package main

import (
	"context"
	"fmt"

	"github.com/andrej220/storops/internal/devices"
	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/lg"
	"github.com/andrej220/storops/internal/operator"
	"github.com/andrej220/storops/internal/recorder"
	"github.com/andrej220/storops/internal/settings"
	"github.com/andrej220/storops/internal/workflow"
	"github.com/andrej220/storops/pkg/config"
)

// app holds the components built from one loaded configuration.
type app struct {
	cfg    *config.AppConfig
	log    lg.Logger
	store  settings.Registry
	remote executor.Transport
	runner *executor.Runner
	op     *operator.Operator
	sinks  recorder.Multi

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.AppConfig, verbosity operator.Verbosity, log lg.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	registry, err := a.registry(ctx)
	if err != nil {
		return nil, err
	}
	a.store = registry
	escape, err := workflow.ParseEscape(cfg.Substitution.Escape)
	if err != nil {
		return nil, err
	}

	a.remote = remoteTransport(cfg)
	a.runner = executor.NewRunner(a.remote,
		executor.WithUser(cfg.User),
		executor.WithTimeout(cfg.Executor.SessionTimeout),
		executor.WithLogger(log),
		executor.WithLocal(executor.NewLocalTransport(cfg.Executor.Shell)),
	)

	tools := make(map[settings.Service]string, len(cfg.Tools))
	for svc, dir := range cfg.Tools {
		tools[settings.Service(svc)] = dir
	}
	a.op = operator.New(operator.Options{
		Resolver:  settings.NewResolver(registry),
		Catalog:   workflow.NewCatalog(cfg.Workflows.Dir),
		Runner:    a.runner,
		Escape:    escape,
		ToolsDirs: tools,
		Verbosity: verbosity,
		Log:       log,
	})
	return a, nil
}

func (a *app) registry(ctx context.Context) (settings.Registry, error) {
	switch a.cfg.Registry.Backend {
	case "mongo":
		m := a.cfg.Registry.Mongo
		store, err := settings.NewMongoStore(ctx, m.URI, m.Database, m.Collection)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return settings.NewFileStore(a.cfg.Registry.File), nil
	}
}

func remoteTransport(cfg *config.AppConfig) executor.Transport {
	if cfg.Executor.Transport == "native" {
		n := cfg.Executor.Native
		return executor.NewNativeTransport(executor.NativeConfig{
			Port:            n.Port,
			KeyFile:         n.KeyFile,
			KnownHosts:      n.KnownHosts,
			InsecureHostKey: n.InsecureHostKey,
			DialTimeout:     n.DialTimeout,
			ForwardAgent:    n.ForwardAgent,
		}, executor.DefaultResilienceConfig())
	}
	return executor.NewSSHCommandTransport(cfg.Executor.SSH.Binary, cfg.Executor.SSH.Args)
}

// recorders opens every configured sink. Nothing is recorded when none is
// configured.
func (a *app) recorders(ctx context.Context) (recorder.Multi, error) {
	if a.sinks != nil {
		return a.sinks, nil
	}
	rc := a.cfg.Record
	var sinks recorder.Multi
	if rc.File.Dir != "" {
		sinks = append(sinks, recorder.NewFileSink(rc.File.Dir))
	}
	if rc.Mongo.URI != "" {
		s, err := recorder.NewMongoSink(ctx, rc.Mongo.URI, rc.Mongo.Database, rc.Mongo.Collection)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if rc.Kafka.Brokers != "" {
		sinks = append(sinks, recorder.NewKafkaSink(rc.Kafka.Brokers, rc.Kafka.Topic))
	}
	if len(sinks) > 0 {
		a.closers = append(a.closers, sinks.Close)
	}
	a.sinks = sinks
	return sinks, nil
}

// adapters builds the device adapters for tape-info. Local commands run on
// this host; SLAPI runs on the SSA node when one is configured.
func (a *app) adapters() (devices.Commander, map[string]devices.Adapter, error) {
	tc := a.cfg.Tape
	local := devices.Local(a.cfg.Executor.Shell, tc.CommandTimeout, a.log)
	adapters := map[string]devices.Adapter{
		devices.MethodologyIBM: &devices.IBM{Cmd: local, ITDT: tc.ITDT, Debug: a.cfg.Log.Debug},
	}
	if tc.Spectra.Server != "" {
		if err := config.Validate(tc.Spectra); err != nil {
			return nil, nil, fmt.Errorf("tape.spectra: %w", err)
		}
		var remote devices.Commander = local
		if tc.SSANode != "" {
			remote = &devices.TransportCommander{
				Transport: a.remote,
				Node:      tc.SSANode,
				User:      a.cfg.User,
				Timeout:   tc.CommandTimeout,
				Log:       a.log,
			}
		}
		adapters[devices.MethodologySpectra] = &devices.Spectra{Remote: remote, Local: local, Config: tc.Spectra}
	}
	return local, adapters, nil
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("close failed", lg.Err(err))
		}
	}
	_ = a.log.Sync()
}
