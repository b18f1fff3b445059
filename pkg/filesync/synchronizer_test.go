package filesync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/testfleet/pkg/browser"
	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
	"github.com/odvcencio/testfleet/pkg/fileset"
	"github.com/odvcencio/testfleet/pkg/observability"
)

type failingStore struct {
	err error
}

func (f failingStore) Load(context.Context, string) (fileset.TestCase, bool, error) {
	return fileset.TestCase{}, false, f.err
}

func (f failingStore) Save(context.Context, string, fileset.TestCase) error { return f.err }

func (f failingStore) Delete(context.Context, string) error { return f.err }

func TestSynchronizer_FirstPlanIsFullTestCase(t *testing.T) {
	syncer := NewSynchronizer(nil, nil)
	desired := fileset.TestCase{
		ID:    "suite",
		Tests: []fileset.FileInfo{file("a_test.js", 1)},
	}

	delta, err := syncer.Plan(context.Background(), "b1", desired)
	require.NoError(t, err)
	assert.Equal(t, desired.ToDelta(), delta)

	_, ok, err := syncer.Baseline(context.Background(), "b1")
	require.NoError(t, err)
	assert.False(t, ok, "planning must not advance the baseline")
}

func TestSynchronizer_RecordAppliedAdvancesBaseline(t *testing.T) {
	ctx := context.Background()
	syncer := NewSynchronizer(NewMemoryStore(), nil)
	desired := fileset.TestCase{
		ID:      "suite",
		Tests:   []fileset.FileInfo{file("a_test.js", 1)},
		Plugins: []fileset.FileInfo{file("plugin.js", fileset.Unversioned)},
	}

	delta, err := syncer.Plan(ctx, "b1", desired)
	require.NoError(t, err)
	baseline, err := syncer.RecordApplied(ctx, "b1", delta)
	require.NoError(t, err)
	assert.True(t, baseline.Equal(desired))

	next, err := syncer.Plan(ctx, "b1", desired)
	require.NoError(t, err)
	assert.True(t, next.IsEmpty())

	other, err := syncer.Plan(ctx, "b2", desired)
	require.NoError(t, err)
	assert.Equal(t, 2, other.Len(), "baselines are per browser")
}

func TestSynchronizer_MismatchedIDIsLoggedAndApplied(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "filesync", slog.LevelDebug)
	syncer := NewSynchronizer(nil, logger)

	_, err := syncer.RecordApplied(ctx, "b1", fileset.Delta{ID: "one", Tests: []fileset.FileInfo{file("a.js", 1)}})
	require.NoError(t, err)
	baseline, err := syncer.RecordApplied(ctx, "b1", fileset.Delta{ID: "two", Tests: []fileset.FileInfo{file("b.js", 1)}})
	require.NoError(t, err)

	assert.Equal(t, "one", baseline.ID)
	assert.Len(t, baseline.Tests, 2)
	assert.Contains(t, buf.String(), "delta id does not match baseline")
}

func TestSynchronizer_CaptureAndPanicResetBaseline(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	syncer := NewSynchronizer(store, nil)
	delta := fileset.Delta{ID: "suite", Tests: []fileset.FileInfo{file("a.js", 1)}}

	_, err := syncer.RecordApplied(ctx, "b1", delta)
	require.NoError(t, err)
	syncer.BrowserPanicked(browser.Info{ID: "b1"})
	assert.Equal(t, 0, store.Len())

	_, err = syncer.RecordApplied(ctx, "b1", delta)
	require.NoError(t, err)
	syncer.BrowserCaptured(browser.Info{ID: "b1"})
	assert.Equal(t, 0, store.Len())
}

func TestSynchronizer_AsRegistryListener(t *testing.T) {
	ctx := context.Background()
	syncer := NewSynchronizer(nil, nil)
	reg := browser.NewRegistry()
	reg.AddListener(syncer)
	reg.Start()
	defer reg.Stop()

	_, err := reg.Capture(browser.Info{ID: "b1"})
	require.NoError(t, err)
	_, err = syncer.RecordApplied(ctx, "b1", fileset.Delta{Tests: []fileset.FileInfo{file("a.js", 1)}})
	require.NoError(t, err)

	require.NoError(t, reg.Panic("b1"))

	_, ok, err := syncer.Baseline(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSynchronizer_StoreErrorsAreCoded(t *testing.T) {
	ctx := context.Background()
	syncer := NewSynchronizer(failingStore{err: errors.New("disk gone")}, nil)

	_, err := syncer.Plan(ctx, "b1", fileset.TestCase{})
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrCodeStorageRead))

	err = syncer.Forget(ctx, "b1")
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrCodeStorageWrite))
}
