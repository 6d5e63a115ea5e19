package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/kv"
)

func TestLedgerAppendIfAdmissible(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), zap.NewNop())
	quota := Quota{DayCap: 2, HourCap: 2, GapMin: 0}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	admitted, cause, err := ledger.AppendIfAdmissible(ctx, "p1", quota, now, "a1")
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Empty(t, cause)

	admitted, _, err = ledger.AppendIfAdmissible(ctx, "p1", quota, now.Add(time.Minute), "a2")
	require.NoError(t, err)
	assert.True(t, admitted)

	// Third append in the same day window is denied and leaves the ledger alone.
	admitted, cause, err = ledger.AppendIfAdmissible(ctx, "p1", quota, now.Add(2*time.Minute), "a3")
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, CauseDayCap, cause)

	entries, err := ledger.Entries(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedgerPrunesOldEntries(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), zap.NewNop())
	quota := Quota{DayCap: 2}
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	admitted, _, err := ledger.AppendIfAdmissible(ctx, "p1", quota, base, "a1")
	require.NoError(t, err)
	require.True(t, admitted)
	admitted, _, err = ledger.AppendIfAdmissible(ctx, "p1", quota, base.Add(time.Hour), "a2")
	require.NoError(t, err)
	require.True(t, admitted)

	// 25h later both old entries fall outside the day window: admissible
	// again, and the stale entries are dropped on write.
	admitted, _, err = ledger.AppendIfAdmissible(ctx, "p1", quota, base.Add(26*time.Hour), "a3")
	require.NoError(t, err)
	require.True(t, admitted)

	entries, err := ledger.Entries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a3", entries[0].AssetID)
}

func TestLedgerConcurrentAppendsNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), zap.NewNop())
	quota := Quota{DayCap: 3}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admittedCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, _, err := ledger.AppendIfAdmissible(ctx, "p1", quota, now, "a")
			assert.NoError(t, err)
			if admitted {
				mu.Lock()
				admittedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admittedCount)
	entries, err := ledger.Entries(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestLedgerProfilesAreIndependent(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), zap.NewNop())
	quota := Quota{DayCap: 1}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	admitted, _, err := ledger.AppendIfAdmissible(ctx, "p1", quota, now, "a1")
	require.NoError(t, err)
	require.True(t, admitted)

	admitted, _, err = ledger.AppendIfAdmissible(ctx, "p2", quota, now, "a2")
	require.NoError(t, err)
	assert.True(t, admitted, "p2's quota is untouched by p1")
}

func TestControllerNextAdmissibleSlot(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), zap.NewNop())
	controller := NewController(ledger, zap.NewNop())

	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	profile := Profile{ID: "p1", Quota: Quota{GapMin: 30}}

	// Empty ledger: the first slot is "now".
	slot, ok, err := controller.NextAdmissibleSlot(ctx, from, profile, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, from, slot)

	// A post 10 minutes ago pushes the slot to the first 15-minute step past
	// the 30-minute gap.
	admitted, _, err := ledger.AppendIfAdmissible(ctx, "p1", profile.Quota, from.Add(-10*time.Minute), "a1")
	require.NoError(t, err)
	require.True(t, admitted)

	slot, ok, err = controller.NextAdmissibleSlot(ctx, from, profile, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, from.Add(30*time.Minute), slot)
}

func TestControllerNextAdmissibleSlotSkipsHardQuiet(t *testing.T) {
	ctx := context.Background()
	controller := NewController(NewLedger(kv.NewMemoryStore(), zap.NewNop()), zap.NewNop())

	// 11:00 to 14:00 hard quiet; asking at 12:00 lands on 14:00.
	profile := Profile{
		ID: "p1",
		Quiet: QuietHours{
			Windows: []Window{{StartMin: 660, EndMin: 840}},
		},
	}
	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	slot, ok, err := controller.NextAdmissibleSlot(ctx, from, profile, 6*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), slot)
}

func TestControllerNextAdmissibleSlotNoneInHorizon(t *testing.T) {
	ctx := context.Background()
	controller := NewController(NewLedger(kv.NewMemoryStore(), zap.NewNop()), zap.NewNop())

	profile := Profile{
		ID: "p1",
		Quiet: QuietHours{
			Windows: []Window{{StartMin: 0, EndMin: 1440}},
		},
	}
	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, ok, err := controller.NextAdmissibleSlot(ctx, from, profile, 3*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}
