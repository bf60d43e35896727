package operator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/settings"
	"github.com/andrej220/storops/internal/workflow"
)

type fakeRunner struct {
	results []executor.Result
	errs    []error
	calls   []settings.Configuration
	cmds    [][]string
}

func (f *fakeRunner) Run(_ context.Context, cfg settings.Configuration, commands []string) (executor.Result, error) {
	i := len(f.calls)
	f.calls = append(f.calls, cfg)
	f.cmds = append(f.cmds, commands)
	var (
		res executor.Result
		err error
	)
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

type mapCatalog map[settings.Service]*workflow.Registry

func (m mapCatalog) Registry(s settings.Service) (*workflow.Registry, error) {
	if r, ok := m[s]; ok {
		return r, nil
	}
	return workflow.NewRegistry(s), nil
}

func testCatalog() mapCatalog {
	return mapCatalog{
		settings.ServiceCTA: workflow.NewRegistry(settings.ServiceCTA,
			&workflow.Workflow{Name: "list-tools", Commands: []string{"ls /opt/tools"}},
			&workflow.Workflow{
				Name:         "greet",
				Commands:     []string{"echo $greeting"},
				Params:       []workflow.Param{{Name: "greeting", Required: true}},
				Requirements: workflow.Requirements{Mounts: []string{"/mnt/data"}},
			},
			&workflow.Workflow{
				Name:         "enstore-only",
				Commands:     []string{"true"},
				Requirements: workflow.Requirements{Service: settings.ServiceEnstore},
			},
			&workflow.Workflow{
				Name:     "echo-greeting",
				Commands: []string{"echo $greeting"},
				Params:   []workflow.Param{{Name: "greeting", Required: true}},
			},
			&workflow.Workflow{
				Name:         "enstore-greet",
				Commands:     []string{"echo $greeting"},
				Params:       []workflow.Param{{Name: "greeting", Required: true}},
				Requirements: workflow.Requirements{Service: settings.ServiceEnstore},
			},
		),
	}
}

var (
	localCTA  = settings.Configuration{Node: "localhost", Service: settings.ServiceCTA, Device: settings.DeviceTape, Mover: settings.MoverIBM}
	remoteCTA = settings.Configuration{Node: "x1.remote.invalid", Service: settings.ServiceCTA, Device: settings.DeviceTape, Mover: settings.MoverSpectra}
)

func TestInvokeWithoutServiceFailsBeforeRunning(t *testing.T) {
	registry := filepath.Join(t.TempDir(), "server_specs.json")
	require.NoError(t, os.WriteFile(registry, []byte(`{"x2": {"service": "cta"}}`), 0o600))
	runner := &fakeRunner{}
	op := New(Options{Resolver: settings.NewResolver(settings.NewFileStore(registry)), Catalog: testCatalog(), Runner: runner})

	cfg, err := op.Resolve(context.Background(), "x1", "")
	require.NoError(t, err)
	assert.Equal(t, settings.Configuration{Node: "x1"}, cfg)
	assert.Equal(t, Invalid, op.State())

	_, err = op.Invoke(context.Background(), "list-tools", nil, "root")
	var cerr *errs.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"service"}, cerr.Missing)
	assert.Empty(t, runner.calls)
}

func TestInvokeUninitialized(t *testing.T) {
	_, err := New(Options{}).Invoke(context.Background(), "list-tools", nil, "root")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestInvokeReturnsRunnerResult(t *testing.T) {
	want := executor.Result{Node: "localhost", Commands: []string{"ls /opt/tools"}, Stdout: "a.sh\nb.sh", Succeeded: true, Duration: time.Millisecond}
	runner := &fakeRunner{results: []executor.Result{want}}
	op := New(Options{Catalog: testCatalog(), Runner: runner})
	op.Accept(localCTA)
	require.Equal(t, Valid, op.State())

	got, err := op.Invoke(context.Background(), "list-tools", map[string]string{}, "root")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, [][]string{{"ls /opt/tools"}}, runner.cmds)
}

func TestInvokeNeedsDeviceAndMover(t *testing.T) {
	runner := &fakeRunner{results: []executor.Result{{Stdout: "tool.sh", Succeeded: true}}}
	op := New(Options{Catalog: testCatalog(), Runner: runner})
	op.Accept(settings.Configuration{Node: "localhost", Service: settings.ServiceCTA})
	assert.Equal(t, Valid, op.State())

	_, err := op.Invoke(context.Background(), "list-tools", nil, "root")
	var cerr *errs.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"device", "mover"}, cerr.Missing)

	res, err := op.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tool.sh", res.Stdout)
	assert.Equal(t, [][]string{{"ls " + DefaultToolsDir}}, runner.cmds)
}

func TestInvokeUnknownWorkflow(t *testing.T) {
	op := New(Options{Catalog: testCatalog(), Runner: &fakeRunner{}})
	op.Accept(localCTA)
	_, err := op.Invoke(context.Background(), "nope", nil, "root")
	var uerr *errs.UnknownWorkflowError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "nope", uerr.Name)
	assert.Equal(t, "cta", uerr.Service)
}

func TestInvokeParameterErrorBeforeRunning(t *testing.T) {
	runner := &fakeRunner{}
	op := New(Options{Catalog: testCatalog(), Runner: runner})
	op.Accept(remoteCTA)

	_, err := op.Invoke(context.Background(), "echo-greeting", map[string]string{}, "root")
	assert.ErrorIs(t, err, errs.ErrParameter)
	assert.Empty(t, runner.calls)
}

func TestInvokeRequirementsCheckedBeforeArguments(t *testing.T) {
	runner := &fakeRunner{}
	op := New(Options{Catalog: testCatalog(), Runner: runner})
	op.Accept(remoteCTA)

	_, err := op.Invoke(context.Background(), "enstore-greet", map[string]string{}, "root")
	var rerr *errs.RequirementError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, workflow.AxisService, rerr.Axis)
	assert.Equal(t, 4, errs.ExitCode(err))
	assert.Empty(t, runner.calls)

	// Mounts pass, then the missing argument is reported without running.
	runner.results = []executor.Result{{Stdout: "path exists: /mnt/data\n", Succeeded: true}}
	_, err = op.Invoke(context.Background(), "greet", map[string]string{}, "root")
	assert.ErrorIs(t, err, errs.ErrParameter)
	assert.Len(t, runner.calls, 1)
}

func TestInvokeRequirementStopsExecution(t *testing.T) {
	runner := &fakeRunner{results: []executor.Result{{Stdout: "motd\n"}}}
	op := New(Options{Catalog: testCatalog(), Runner: runner})
	op.Accept(remoteCTA)

	_, err := op.Invoke(context.Background(), "greet", map[string]string{"greeting": "hi"}, "root")
	var rerr *errs.RequirementError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, workflow.AxisMounts, rerr.Axis)
	assert.Len(t, runner.calls, 1)

	_, err = op.Invoke(context.Background(), "enstore-only", nil, "root")
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, workflow.AxisService, rerr.Axis)
	assert.Len(t, runner.calls, 1)
}

func TestInvokeRemoteProbeThenRun(t *testing.T) {
	runner := &fakeRunner{results: []executor.Result{
		{Stdout: "path exists: /mnt/data\n", Succeeded: true},
		{Stdout: "hi there\n", Succeeded: true},
	}}
	op := New(Options{Catalog: testCatalog(), Runner: runner, Escape: workflow.EscapeStrict, Verbosity: Verbose})
	op.Accept(remoteCTA)

	res, err := op.Invoke(context.Background(), "greet", map[string]string{"greeting": "hi there"}, "root")
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", res.Stdout)
	require.Len(t, runner.cmds, 2)
	assert.Equal(t, []string{"echo 'hi there'"}, runner.cmds[1])
	assert.Equal(t, remoteCTA, runner.calls[1])
}

func TestInvokeTransportFailurePropagates(t *testing.T) {
	terr := &errs.TransportError{Node: remoteCTA.Node, Stderr: "Permission denied"}
	runner := &fakeRunner{errs: []error{terr}}
	op := New(Options{Catalog: testCatalog(), Runner: runner})
	op.Accept(remoteCTA)

	_, err := op.Invoke(context.Background(), "list-tools", nil, "root")
	var got *errs.TransportError
	require.True(t, errors.As(err, &got))
	assert.Same(t, terr, got)
}

func TestWorkflowsAndDescribe(t *testing.T) {
	op := New(Options{Catalog: testCatalog()})
	_, err := op.Workflows()
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	op.Accept(settings.Configuration{Node: "localhost", Service: settings.ServiceCTA})
	reg, err := op.Workflows()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo-greeting", "enstore-greet", "enstore-only", "greet", "list-tools"}, reg.Names())

	w, err := op.Describe("greet")
	require.NoError(t, err)
	assert.Equal(t, "greeting", w.Params[0].Name)
}
