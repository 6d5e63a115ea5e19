package admission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/kv"
	"github.com/osifo/clipgate/pkg/metrics"
)

// Ledger is the single mutation path for per-profile post history. The
// check-then-append sequence is serialized behind a per-profile mutex so
// concurrent schedulers in one process cannot race past a quota boundary;
// cross-process deployments run one scheduler per profile set.
type Ledger struct {
	store kv.Store
	kb    *kv.KeyBuilder
	log   *zap.Logger
	locks sync.Map // profile id -> *sync.Mutex
}

// NewLedger creates a Ledger on top of the KV store.
func NewLedger(store kv.Store, log *zap.Logger) *Ledger {
	return &Ledger{
		store: store,
		kb:    kv.NewKeyBuilder("admission"),
		log:   log.With(zap.String("module", "ledger")),
	}
}

func (l *Ledger) mutex(profileID string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(profileID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Entries returns the profile's ledger, oldest first.
func (l *Ledger) Entries(ctx context.Context, profileID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	if _, err := l.store.Get(ctx, l.kb.Build("ledger", profileID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendIfAdmissible atomically checks the quota and, if admissible, appends
// a new entry. Returns admitted=false with the denial cause otherwise.
// Entries older than the 24h quota window are pruned on write so the list
// cannot grow without bound.
func (l *Ledger) AppendIfAdmissible(ctx context.Context, profileID string, quota Quota, t time.Time, assetID string) (bool, string, error) {
	mu := l.mutex(profileID)
	mu.Lock()
	defer mu.Unlock()

	entries, err := l.Entries(ctx, profileID)
	if err != nil {
		return false, "", err
	}

	ok, cause := CanPostNow(t, entries, quota)
	if !ok {
		metrics.AdmissionDenials.WithLabelValues(cause).Inc()
		l.log.Info("admission denied",
			zap.String("profile", profileID),
			zap.String("cause", cause))
		return false, cause, nil
	}

	kept := entries[:0]
	for _, e := range entries {
		if t.Sub(e.TS) < 24*time.Hour {
			kept = append(kept, e)
		}
	}
	kept = append(kept, LedgerEntry{TS: t, AssetID: assetID})

	if err := l.store.Put(ctx, l.kb.Build("ledger", profileID), kept, 0); err != nil {
		return false, "", err
	}
	return true, "", nil
}
