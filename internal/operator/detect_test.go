package operator

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/settings"
)

type dirInfo struct{ name string }

func (d dirInfo) Name() string       { return d.name }
func (d dirInfo) Size() int64        { return 0 }
func (d dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (d dirInfo) ModTime() time.Time { return time.Time{} }
func (d dirInfo) IsDir() bool        { return true }
func (d dirInfo) Sys() any           { return nil }

func statOnly(dirs ...string) func(string) (os.FileInfo, error) {
	return func(p string) (os.FileInfo, error) {
		for _, d := range dirs {
			if d == p {
				return dirInfo{name: p}, nil
			}
		}
		return nil, fs.ErrNotExist
	}
}

func TestDetectServiceLocal(t *testing.T) {
	op := New(Options{Stat: statOnly("/opt/enstore")})
	cfg, err := op.DetectService(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, settings.ServiceEnstore, cfg.Service)
	assert.Equal(t, Valid, op.State())

	op = New(Options{Stat: statOnly("/etc/cta", "/opt/enstore")})
	cfg, err = op.DetectService(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, settings.ServiceCTA, cfg.Service)

	_, err = New(Options{Stat: statOnly()}).DetectService(context.Background(), "localhost")
	assert.ErrorIs(t, err, errs.ErrServiceNotInstalled)
}

type stubRegistry map[string]settings.Entry

func (r stubRegistry) Lookup(_ context.Context, node string) (settings.Entry, bool, error) {
	e, ok := r[node]
	return e, ok, nil
}

func TestDetectServiceFillsUnsetService(t *testing.T) {
	reg := stubRegistry{
		"tapehost": {Device: settings.DeviceTape},
		"ctahost":  {Service: settings.ServiceCTA},
	}
	op := New(Options{Resolver: settings.NewResolver(reg), Stat: statOnly("/opt/enstore")})

	cfg, err := op.DetectService(context.Background(), "tapehost")
	require.NoError(t, err)
	assert.Equal(t, settings.ServiceEnstore, cfg.Service)
	assert.Equal(t, settings.DeviceTape, cfg.Device)
	assert.Equal(t, Valid, op.State())

	cfg, err = op.DetectService(context.Background(), "ctahost")
	require.NoError(t, err)
	assert.Equal(t, settings.ServiceCTA, cfg.Service)

	cfg, err = op.DetectService(context.Background(), "unregistered")
	require.NoError(t, err)
	assert.Equal(t, "unregistered", cfg.Node)
	assert.Equal(t, settings.ServiceEnstore, cfg.Service)
	assert.Equal(t, Valid, op.State())
}

const lsscsiCTA = `CTA
[0:0:0:0]    disk    ATA      ST1000NM0033-9ZM GA0A  /dev/sda   /dev/sg0
[1:0:0:0]    mediumx SPECTRA  PYTHON           5010  /dev/sch0  /dev/sg1
[2:0:0:0]    tape    IBM      ULT3580-TD8      MB51  /dev/st0   /dev/sg2
`

func TestDetectRemoteService(t *testing.T) {
	runner := &fakeRunner{results: []executor.Result{{Stdout: lsscsiCTA, Succeeded: true}}}
	op := New(Options{Runner: runner})

	var offered []Candidate
	sel := SelectorFunc(func(_ context.Context, c []Candidate) (int, error) {
		offered = c
		return 1, nil
	})
	det, err := op.DetectRemoteService(context.Background(), "x1.remote.invalid", sel)
	require.NoError(t, err)

	require.Len(t, runner.cmds, 1)
	assert.Equal(t, []string{
		"if [ -d /etc/cta ]; then echo CTA; fi",
		"if [ -d /opt/enstore ]; then echo Enstore; fi",
		"if [ -d /home/enstore ]; then echo Enstore; fi",
		"/usr/bin/lsscsi -g",
	}, runner.cmds[0])
	assert.Equal(t, settings.Service(""), runner.calls[0].Service)

	require.Len(t, offered, 2)
	assert.Equal(t, Candidate{DeviceType: "disk", Vendor: "ATA", Slot: "/dev/sg0", Line: "[0:0:0:0]    disk    ATA      ST1000NM0033-9ZM GA0A  /dev/sda   /dev/sg0"}, offered[0])
	assert.Equal(t, 1, det.Selected)
	assert.Equal(t, settings.Configuration{
		Node:    "x1.remote.invalid",
		Service: settings.ServiceCTA,
		Device:  settings.DeviceTape,
		Mover:   settings.MoverSpectra,
	}, det.Configuration)
	assert.Equal(t, det.Configuration, op.Configuration())
	assert.Equal(t, Valid, op.State())
}

func TestDetectRemoteEnstoreKeepsTapes(t *testing.T) {
	out := "Enstore\nEnstore\n[2:0:0:0]    tape    IBM      ULT3580-TD8      MB51  /dev/st0   /dev/sg2\n[1:0:0:0]    mediumx SPECTRA  PYTHON 5010 /dev/sch0 /dev/sg1\n"
	runner := &fakeRunner{results: []executor.Result{{Stdout: out}}}
	det, err := New(Options{Runner: runner}).DetectRemoteService(context.Background(), "x2", nil)
	require.NoError(t, err)
	assert.Equal(t, settings.ServiceEnstore, det.Configuration.Service)
	require.Len(t, det.Candidates, 1)
	assert.Equal(t, settings.MoverIBM, det.Candidates[0].Mover())
	assert.Equal(t, -1, det.Selected)
	assert.Equal(t, settings.Device(""), det.Configuration.Device)
}

func TestDetectRemoteNotInstalled(t *testing.T) {
	runner := &fakeRunner{results: []executor.Result{{Stdout: "[0:0:0:0] disk ATA X Y /dev/sda /dev/sg0\n"}}}
	_, err := New(Options{Runner: runner}).DetectRemoteService(context.Background(), "x3", nil)
	assert.ErrorIs(t, err, errs.ErrServiceNotInstalled)

	silent := &fakeRunner{errs: []error{&errs.ExecutionError{Node: "x3", Reason: "session produced no output"}}}
	_, err = New(Options{Runner: silent}).DetectRemoteService(context.Background(), "x3", nil)
	assert.ErrorIs(t, err, errs.ErrServiceNotInstalled)

	down := &fakeRunner{errs: []error{&errs.TransportError{Node: "x3"}}}
	_, err = New(Options{Runner: down}).DetectRemoteService(context.Background(), "x3", nil)
	assert.ErrorIs(t, err, errs.ErrTransport)
}

func TestDetectRemoteSelectorErrors(t *testing.T) {
	runner := &fakeRunner{results: []executor.Result{{Stdout: lsscsiCTA}, {Stdout: lsscsiCTA}}}
	op := New(Options{Runner: runner})

	_, err := op.DetectRemoteService(context.Background(), "x1", SelectorFunc(func(context.Context, []Candidate) (int, error) {
		return 7, nil
	}))
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	aborted := errors.New("selection aborted")
	_, err = op.DetectRemoteService(context.Background(), "x1", SelectorFunc(func(context.Context, []Candidate) (int, error) {
		return 0, aborted
	}))
	assert.ErrorIs(t, err, aborted)
}
