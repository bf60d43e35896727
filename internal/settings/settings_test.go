package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/andrej220/storops/internal/errs"
)

func writeRegistry(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveRegisteredNode(t *testing.T) {
	path := writeRegistry(t, "server_specs.json", `{
	"x1": {"service": "cta", "device_type": "tape", "mover_type": "spectra"}
}`)
	r := NewResolver(NewFileStore(path))

	cfg, err := r.Resolve(context.Background(), "x1", "")
	require.NoError(t, err)
	assert.Equal(t, Configuration{Node: "x1", Service: ServiceCTA, Device: DeviceTape, Mover: MoverSpectra}, cfg)
	assert.True(t, cfg.IsComplete())
	assert.True(t, cfg.IsRemote())
	assert.Empty(t, cfg.Missing())
}

func TestResolveExplicitServiceNeverOverrides(t *testing.T) {
	path := writeRegistry(t, "server_specs.json", `{
	"x1": {"service": "cta", "device_type": "tape", "mover_type": "spectra"},
	"x2": {"device_type": "disk"}
}`)
	r := NewResolver(NewFileStore(path))

	cfg, err := r.Resolve(context.Background(), "x1", ServiceEnstore)
	require.NoError(t, err)
	assert.Equal(t, ServiceCTA, cfg.Service)

	cfg, err = r.Resolve(context.Background(), "x2", ServiceEnstore)
	require.NoError(t, err)
	assert.Equal(t, ServiceEnstore, cfg.Service)
	assert.Equal(t, DeviceDisk, cfg.Device)
	assert.Equal(t, []string{"mover"}, cfg.Missing())
}

func TestResolveUnknownNode(t *testing.T) {
	path := writeRegistry(t, "server_specs.json", `{"x1": {"service": "cta"}}`)
	cfg, err := NewResolver(NewFileStore(path)).Resolve(context.Background(), "unknown-host", ServiceCTA)
	require.NoError(t, err)
	assert.Equal(t, Configuration{Node: "unknown-host"}, cfg)
	assert.False(t, cfg.IsComplete())
}

func TestResolveDefaultsToLocalHost(t *testing.T) {
	r := NewResolver(NewFileStore(filepath.Join(t.TempDir(), "absent.json")))
	cfg, err := r.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, LocalHostname(), cfg.Node)
	assert.False(t, cfg.IsRemote())
}

func TestResolveMalformedRegistry(t *testing.T) {
	path := writeRegistry(t, "server_specs.json", `{"x1": `)
	_, err := NewResolver(NewFileStore(path)).Resolve(context.Background(), "x1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrRegistryUnavailable)
}

func TestResolveRejectsInvalidEntry(t *testing.T) {
	path := writeRegistry(t, "server_specs.json", `{"x1": {"service": "dcache"}}`)
	_, err := NewResolver(NewFileStore(path)).Resolve(context.Background(), "x1", "")
	assert.ErrorIs(t, err, errs.ErrRegistryUnavailable)
}

func TestFileStoreYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server_specs.yaml")
	store := NewFileStore(path)
	in := map[string]Entry{"x3": {Service: ServiceEnstore, Device: DeviceDisk, Mover: MoverIBM}}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	e, found, err := store.Lookup(context.Background(), "x3")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, MoverIBM, e.Mover)
}

func TestFileStorePutKeepsOtherEntries(t *testing.T) {
	path := writeRegistry(t, "server_specs.json", `{"x1": {"service": "cta", "device_type": "tape"}}`)
	store := NewFileStore(path)

	require.NoError(t, store.Put("x2", Entry{Service: ServiceEnstore}))
	require.NoError(t, store.Put("x1", Entry{Service: ServiceCTA, Device: DeviceTape, Mover: MoverSpectra}))

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]Entry{
		"x1": {Service: ServiceCTA, Device: DeviceTape, Mover: MoverSpectra},
		"x2": {Service: ServiceEnstore},
	}, out)

	assert.Error(t, store.Put("x3", Entry{Service: "hsm"}))
	assert.Error(t, store.Put("", Entry{Service: ServiceCTA}))
	_, found, err := store.Lookup(context.Background(), "x3")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocalhostIsNeverRemote(t *testing.T) {
	assert.False(t, Configuration{Node: "localhost"}.IsRemote())
	assert.False(t, Configuration{}.IsRemote())
}

func TestParseEnums(t *testing.T) {
	s, err := ParseService(" CTA ")
	require.NoError(t, err)
	assert.Equal(t, ServiceCTA, s)

	_, err = ParseDevice("floppy")
	assert.Error(t, err)

	m, err := ParseMover("")
	require.NoError(t, err)
	assert.Equal(t, Mover(""), m)
}

type fakeFinder struct {
	docs map[string]nodeDocument
	err  error
}

func (f fakeFinder) FindNode(_ context.Context, node string) (nodeDocument, error) {
	if f.err != nil {
		return nodeDocument{}, f.err
	}
	doc, ok := f.docs[node]
	if !ok {
		return nodeDocument{}, mongo.ErrNoDocuments
	}
	return doc, nil
}

func TestMongoStoreLookup(t *testing.T) {
	store := &MongoStore{
		coll: fakeFinder{docs: map[string]nodeDocument{
			"x1": {Node: "x1", Entry: Entry{Service: ServiceCTA, Device: DeviceTape, Mover: MoverIBM}},
		}},
		source: "mongodb storops.nodes",
	}

	e, found, err := store.Lookup(context.Background(), "x1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, MoverIBM, e.Mover)

	_, found, err = store.Lookup(context.Background(), "x9")
	require.NoError(t, err)
	assert.False(t, found)

	store.coll = fakeFinder{err: errors.New("connection reset")}
	_, _, err = store.Lookup(context.Background(), "x1")
	assert.ErrorIs(t, err, errs.ErrRegistryUnavailable)
	assert.NoError(t, (&MongoStore{}).Close(context.Background()))
}

func TestShippedRegistryLoads(t *testing.T) {
	entries, err := NewFileStore(filepath.Join("..", "..", DefaultRegistryPath)).Load()
	require.NoError(t, err)
	assert.Equal(t, Entry{Service: ServiceCTA, Device: DeviceTape, Mover: MoverSpectra}, entries["ctaspectra02"])
	assert.Equal(t, Entry{Service: ServiceEnstore, Device: DeviceDisk}, entries["enstore-disk01"])
}
