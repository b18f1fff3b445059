package filesync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/odvcencio/testfleet/pkg/browser"
	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
	"github.com/odvcencio/testfleet/pkg/fileset"
	"github.com/odvcencio/testfleet/pkg/observability"
)

// Synchronizer owns the per-browser baseline: the TestCase a browser is known
// to have loaded. A baseline only advances after the browser acknowledged a
// delta, so it never claims more than the browser actually has.
type Synchronizer struct {
	mu     sync.Mutex
	store  BaselineStore
	logger *observability.Logger
}

// NewSynchronizer creates a Synchronizer backed by store. A nil store uses an
// in-memory one.
func NewSynchronizer(store BaselineStore, logger *observability.Logger) *Synchronizer {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Synchronizer{store: store, logger: logger}
}

// Baseline returns the last acknowledged TestCase for browserID.
func (s *Synchronizer) Baseline(ctx context.Context, browserID string) (fileset.TestCase, bool, error) {
	tc, ok, err := s.store.Load(ctx, browserID)
	if err != nil {
		return fileset.TestCase{}, false, fleeterrors.Wrap(err, fleeterrors.ErrCodeStorageRead, "load baseline").
			WithContext("browser_id", browserID)
	}
	return tc, ok, nil
}

// Plan computes the delta browserID needs to reach desired.
func (s *Synchronizer) Plan(ctx context.Context, browserID string, desired fileset.TestCase) (fileset.Delta, error) {
	tc, ok, err := s.Baseline(ctx, browserID)
	if err != nil {
		return fileset.Delta{}, err
	}
	if !ok {
		return ComputeDelta(desired, nil), nil
	}
	return ComputeDelta(desired, &tc), nil
}

// RecordApplied merges an acknowledged delta into the baseline and returns
// the new baseline. Call it only after the browser acknowledged the load.
func (s *Synchronizer) RecordApplied(ctx context.Context, browserID string, delta fileset.Delta) (fileset.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok, err := s.Baseline(ctx, browserID)
	if err != nil {
		return fileset.TestCase{}, err
	}
	if !ok {
		tc = fileset.TestCase{ID: delta.ID}
	} else if delta.ID != "" && tc.ID != delta.ID {
		s.logger.Warn("delta id does not match baseline",
			slog.String("browser_id", browserID),
			slog.String("baseline_id", tc.ID),
			slog.String("delta_id", delta.ID),
		)
	}

	next := tc.ApplyDelta(delta)
	if err := s.store.Save(ctx, browserID, next); err != nil {
		return fileset.TestCase{}, fleeterrors.Wrap(err, fleeterrors.ErrCodeStorageWrite, "save baseline").
			WithContext("browser_id", browserID)
	}
	observability.DeltaFiles.Observe(float64(delta.Len()))
	s.logger.DeltaSent(browserID, delta.Len())
	return next, nil
}

// Forget drops the baseline so the next Plan sends the full TestCase.
func (s *Synchronizer) Forget(ctx context.Context, browserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(ctx, browserID); err != nil {
		return fleeterrors.Wrap(err, fleeterrors.ErrCodeStorageWrite, "delete baseline").
			WithContext("browser_id", browserID)
	}
	return nil
}

func (s *Synchronizer) ServerStarted() {}

func (s *Synchronizer) ServerStopped() {}

// BrowserCaptured resets the baseline: a freshly captured page has nothing loaded.
func (s *Synchronizer) BrowserCaptured(info browser.Info) {
	s.reset(info.ID)
}

// BrowserPanicked resets the baseline since the page state is unknown.
func (s *Synchronizer) BrowserPanicked(info browser.Info) {
	s.reset(info.ID)
}

func (s *Synchronizer) reset(browserID string) {
	if err := s.Forget(context.Background(), browserID); err != nil {
		s.logger.Error("reset baseline", slog.String("browser_id", browserID), slog.Any("error", err))
	}
}

var _ browser.ServerListener = (*Synchronizer)(nil)
