package safety

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/kv"
)

// LockTTL bounds how long a crashed scan can hold an asset. TTL expiry is the
// sole recovery mechanism; there is no explicit crash detection.
const LockTTL = 15 * time.Minute

// ReportStore persists safety reports and the per-asset exclusive lock in the
// KV store. Reports are immutable once written; a new scan writes a new
// report under a new asset id, never a mutation.
type ReportStore struct {
	store kv.Store
	kb    *kv.KeyBuilder
	log   *zap.Logger
}

// NewReportStore creates a ReportStore.
func NewReportStore(store kv.Store, log *zap.Logger) *ReportStore {
	return &ReportStore{
		store: store,
		kb:    kv.NewKeyBuilder("safety"),
		log:   log.With(zap.String("module", "reports")),
	}
}

// Get returns the cached report for an asset id, if any.
func (s *ReportStore) Get(ctx context.Context, assetID string) (*SafetyReport, bool, error) {
	var report SafetyReport
	ok, err := s.store.Get(ctx, s.kb.Build("report", assetID), &report)
	if err != nil || !ok {
		return nil, false, err
	}
	return &report, true, nil
}

// Save persists a report with no expiry.
func (s *ReportStore) Save(ctx context.Context, assetID string, report *SafetyReport) error {
	return s.store.Put(ctx, s.kb.Build("report", assetID), report, 0)
}

// AcquireLock takes the short-TTL exclusive scan lock for an asset. A false
// return means another scan is in flight; that is the defined
// duplicate-suppression path, not an error.
func (s *ReportStore) AcquireLock(ctx context.Context, assetID string) (bool, error) {
	ok, err := s.store.SetNX(ctx, s.kb.Build("lock", assetID), time.Now().UTC(), LockTTL)
	if err != nil {
		s.log.Error("failed to acquire scan lock", zap.String("asset", assetID), zap.Error(err))
		return false, err
	}
	return ok, nil
}

// ReleaseLock drops the scan lock.
func (s *ReportStore) ReleaseLock(ctx context.Context, assetID string) {
	if err := s.store.Delete(ctx, s.kb.Build("lock", assetID)); err != nil {
		s.log.Warn("failed to release scan lock", zap.String("asset", assetID), zap.Error(err))
	}
}
