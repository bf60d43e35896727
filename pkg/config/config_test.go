package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	l := NewLoader()
	l.EnvFile = ""
	cfg, err := l.Load("")
	require.NoError(t, err)

	assert.Empty(t, l.ConfigFileUsed())
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "file", cfg.Registry.Backend)
	assert.Equal(t, "config/server_specs.json", cfg.Registry.File)
	assert.Equal(t, "tests", cfg.Workflows.Dir)
	assert.Equal(t, "ssh", cfg.Executor.Transport)
	assert.Equal(t, 10*time.Minute, cfg.Executor.SessionTimeout)
	assert.Equal(t, []string{"-K", "-x", "-o", "BatchMode=yes"}, cfg.Executor.SSH.Args)
	assert.Equal(t, "strict", cfg.Substitution.Escape)
	assert.Equal(t, 0, cfg.Retry.Attempts)
	assert.Equal(t, time.Minute, cfg.Tape.CommandTimeout)
	assert.Equal(t, "/opt/enstore/tools", cfg.Tools["cta"])
	assert.Equal(t, "zzCTA", cfg.Tape.Spectra.Partition)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeFile(t, "storops.yaml", `
user: enstore
executor:
  transport: native
  session_timeout: 90s
  native:
    port: 2222
tools:
  cta: /opt/cta/tools
tape:
  spectra:
    server: ssa1
`)
	t.Setenv("STOROPS_REGISTRY_BACKEND", "mongo")
	t.Setenv("STOROPS_USER", "cta")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("node", "", "")
	require.NoError(t, flags.Parse([]string{"--node", "tape01"}))

	l := NewLoader()
	l.EnvFile = ""
	require.NoError(t, l.BindFlag("node", flags.Lookup("node")))
	cfg, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, l.ConfigFileUsed())
	assert.Equal(t, "cta", cfg.User, "environment overrides the file")
	assert.Equal(t, "tape01", cfg.Node)
	assert.Equal(t, "mongo", cfg.Registry.Backend)
	assert.Equal(t, "native", cfg.Executor.Transport)
	assert.Equal(t, 90*time.Second, cfg.Executor.SessionTimeout)
	assert.Equal(t, 2222, cfg.Executor.Native.Port)
	assert.Equal(t, "/opt/cta/tools", cfg.Tools["cta"])
	assert.Equal(t, "ssa1", cfg.Tape.Spectra.Server)
}

func TestLoadEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "STOROPS_SUBSTITUTION_ESCAPE=none\n")
	t.Cleanup(func() { os.Unsetenv("STOROPS_SUBSTITUTION_ESCAPE") })

	l := NewLoader()
	l.EnvFile = env
	cfg, err := l.Load(writeFile(t, "storops.yaml", "user: root\n"))
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Substitution.Escape)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"malformed", "user: [unterminated\n", "error reading config file"},
		{"bad transport", "executor:\n  transport: telnet\n", "Executor.Transport fails oneof"},
		{"bad service", "service: ceph\n", "AppConfig.Service fails oneof"},
		{"negative retries", "retry:\n  attempts: -1\n", "Retry.Attempts fails min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader()
			l.EnvFile = ""
			_, err := l.Load(writeFile(t, "storops.yaml", tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	l := NewLoader()
	l.EnvFile = ""
	_, err := l.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestBindFlagWithoutFlag(t *testing.T) {
	assert.Error(t, NewLoader().BindFlag("node", nil))
}
