package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/testfleet/pkg/fileset"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "baselines", "test.db")
	store, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func sampleTestCase() fileset.TestCase {
	plugin := fileset.NewFileInfo("plugin.js", fileset.Unversioned)
	plugin.Data = "window.plugin = true;"
	plugin.ServeOnly = true
	return fileset.TestCase{
		ID:           "suite",
		Dependencies: []fileset.FileInfo{fileset.NewFileInfo("lib.js", 10)},
		Tests:        []fileset.FileInfo{fileset.NewFileInfo("a_test.js", 11), fileset.NewFileInfo("b_test.js", 12)},
		Plugins:      []fileset.FileInfo{plugin},
	}
}

func TestBaselineLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, ok, err := store.Load(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	tc := sampleTestCase()
	require.NoError(t, store.Save(ctx, "b1", tc))

	got, ok, err := store.Load(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(tc))

	updated := tc.ApplyDelta(fileset.Delta{Tests: []fileset.FileInfo{fileset.NewFileInfo("a_test.js", 20)}})
	require.NoError(t, store.Save(ctx, "b1", updated))
	got, _, err = store.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Tests[0].Timestamp)

	require.NoError(t, store.Delete(ctx, "b1"))
	_, ok, err = store.Load(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestBaselinesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	store, path := newTestStore(t)
	require.NoError(t, store.Save(ctx, "b1", sampleTestCase()))
	require.NoError(t, store.Save(ctx, "b2", fileset.TestCase{ID: "other"}))
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	ids, err := reopened.BrowserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, ids)

	got, ok, err := reopened.Load(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(sampleTestCase()))
}

func TestMigrationsAreRecorded(t *testing.T) {
	store, path := newTestStore(t)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, "b1", sampleTestCase()))
	_, ok, err := store.Load(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClosedStore(t *testing.T) {
	var store *Store
	_, _, err := store.Load(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestSQLiteFilePathFromDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{"", "", false},
		{":memory:", "", false},
		{"file::memory:", "", false},
		{"/tmp/x.db", "/tmp/x.db", true},
		{"file:/tmp/x.db?_pragma=foreign_keys(1)", "/tmp/x.db", true},
		{"http://example.com/db", "", false},
	}
	for _, tt := range tests {
		path, onDisk := sqliteFilePathFromDSN(tt.dsn)
		assert.Equal(t, tt.path, path, tt.dsn)
		assert.Equal(t, tt.onDisk, onDisk, tt.dsn)
	}
}
