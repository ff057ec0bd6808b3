package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmart/stock-ledger/exclusions"
	"github.com/osmart/stock-ledger/ledger"
	"github.com/osmart/stock-ledger/ledger/store"
	"github.com/osmart/stock-ledger/pipeline"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	epoch    = ledger.NewDay(2025, time.March, 1)
	testNow  = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	downtown = pipeline.Source{Name: "downtown", StoreID: 1}
)

func newTestRunner(t *testing.T, mem *store.Memory) *pipeline.Runner {
	return &pipeline.Runner{
		Events:      mem,
		Truth:       mem,
		Points:      mem,
		Checkpoints: mem,
		Exclusions:  exclusions.NewLog(filepath.Join(t.TempDir(), "exclusions.csv")),
		Log:         zerolog.Nop(),
		Epoch:       epoch,
		Now:         func() time.Time { return testNow },
	}
}

func rawDelta(product int, ts time.Time, qty string) ledger.RawEvent {
	return ledger.RawEvent{StoreID: 1, ProductID: product, RecordID: "h-" + ts.Format("0215"), Timestamp: ts, DeltaQty: qty}
}

func rawOverride(product int, ts time.Time, target string) ledger.RawEvent {
	return ledger.RawEvent{StoreID: 1, ProductID: product, RecordID: "o-" + ts.Format("0215"), Timestamp: ts, IsAbsolute: "1", AbsAfter: target}
}

func on(d ledger.Day, hour int) time.Time {
	return d.Time().Add(time.Duration(hour) * time.Hour)
}

// =============================================================================
// BASIC RUN BEHAVIOR
// =============================================================================

func TestRunUpdate_FirstRunBuildsFromEpoch(t *testing.T) {
	// GIVEN: no checkpoint and a week of events
	// WHEN: running an update
	// THEN: points exist, the checkpoint lands on today, and re-derived
	//       balances match the replay

	mem := store.NewMemory()
	mem.AddEvents(1,
		rawOverride(7, on(epoch, 8), "100"),
		rawDelta(7, on(epoch.AddDays(2), 9), "-30"),
		rawDelta(7, on(epoch.AddDays(5), 9), "12.5"), // truncates to 12
	)
	runner := newTestRunner(t, mem)

	results := runner.RunUpdate(context.Background(), []pipeline.Source{downtown})
	require.Len(t, results, 1)
	res := results[0]
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)
	assert.Equal(t, 3, res.EventsProcessed)
	assert.Equal(t, epoch, res.Window.Start)

	cp, err := mem.Get(context.Background(), "downtown")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", cp.LastDate.String())
	assert.Equal(t, on(epoch.AddDays(5), 9), cp.LastEventAt)

	ctx := context.Background()
	v, ok, err := mem.BalanceOn(ctx, 1, 7, epoch.AddDays(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), v)

	v, _, _ = mem.BalanceOn(ctx, 1, 7, epoch.AddDays(4))
	assert.Equal(t, int64(70), v)

	v, _, _ = mem.BalanceOn(ctx, 1, 7, ledger.NewDay(2025, time.March, 10))
	assert.Equal(t, int64(82), v)
}

func TestRunUpdate_RerunIsIdempotent(t *testing.T) {
	// Running twice in the same day must not change stored balances or
	// grow the point set.

	mem := store.NewMemory()
	mem.AddEvents(1,
		rawOverride(7, on(epoch, 8), "100"),
		rawDelta(7, on(epoch.AddDays(2), 9), "-30"),
	)
	runner := newTestRunner(t, mem)
	ctx := context.Background()

	runner.RunUpdate(ctx, []pipeline.Source{downtown})
	countAfterFirst := mem.CountPoints(1)
	vFirst, _, _ := mem.BalanceOn(ctx, 1, 7, epoch.AddDays(5))

	res := runner.RunUpdate(ctx, []pipeline.Source{downtown})[0]
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)

	assert.Equal(t, countAfterFirst, mem.CountPoints(1))
	vSecond, _, _ := mem.BalanceOn(ctx, 1, 7, epoch.AddDays(5))
	assert.Equal(t, vFirst, vSecond)
}

func TestRunSeed_ThenIncrementalMatchesSingleFullRun(t *testing.T) {
	// GIVEN: two identical event histories
	// WHEN: one store is built in a single pass at day 10 and the other in
	//       a pass at day 5 plus an incremental pass at day 10
	// THEN: forward-filled balances agree on every day

	history := []ledger.RawEvent{
		rawOverride(7, on(epoch, 8), "100"),
		rawDelta(7, on(epoch.AddDays(1), 9), "-5"),
		rawDelta(8, on(epoch.AddDays(2), 10), "40"),
		rawOverride(7, on(epoch.AddDays(6), 8), "0"),
		rawDelta(8, on(epoch.AddDays(7), 9), "-40"),
		rawDelta(7, on(epoch.AddDays(8), 9), "3"),
	}
	ctx := context.Background()

	// Single full pass.
	memFull := store.NewMemory()
	memFull.AddEvents(1, history...)
	full := newTestRunner(t, memFull)
	res := full.RunUpdate(ctx, []pipeline.Source{downtown})[0]
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)

	// Split passes: first at day 5, then at day 10 with the full history.
	memIncr := store.NewMemory()
	for _, ev := range history {
		if ledger.DayOf(ev.Timestamp).Before(epoch.AddDays(4)) {
			memIncr.AddEvents(1, ev)
		}
	}
	incr := newTestRunner(t, memIncr)
	midpoint := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)
	incr.Now = func() time.Time { return midpoint }
	res = incr.RunUpdate(ctx, []pipeline.Source{downtown})[0]
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)

	for _, ev := range history {
		if !ledger.DayOf(ev.Timestamp).Before(epoch.AddDays(4)) {
			memIncr.AddEvents(1, ev)
		}
	}
	incr.Now = func() time.Time { return testNow }
	res = incr.RunUpdate(ctx, []pipeline.Source{downtown})[0]
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)

	for _, product := range []int{7, 8} {
		for d := epoch; d.BeforeOrEqual(ledger.DayOf(testNow)); d = d.Next() {
			wantV, wantOK, err := memFull.BalanceOn(ctx, 1, product, d)
			require.NoError(t, err)
			gotV, gotOK, err := memIncr.BalanceOn(ctx, 1, product, d)
			require.NoError(t, err)
			assert.Equal(t, wantOK, gotOK, "product %d day %s", product, d)
			assert.Equal(t, wantV, gotV, "product %d day %s", product, d)
		}
	}
}

// =============================================================================
// FAILURE HANDLING
// =============================================================================

func TestRunUpdate_FailedPersistLeavesCheckpointUntouched(t *testing.T) {
	// GIVEN: a point store that rejects writes
	// WHEN: running an update
	// THEN: the run fails and no checkpoint is written, so the window will
	//       be reprocessed next time

	mem := store.NewMemory()
	mem.AddEvents(1, rawDelta(7, on(epoch, 9), "5"))
	mem.FailUpserts = errors.New("disk full")
	runner := newTestRunner(t, mem)

	res := runner.RunUpdate(context.Background(), []pipeline.Source{downtown})[0]
	assert.Equal(t, pipeline.StatusFailed, res.Status)
	require.Error(t, res.Err)

	_, err := mem.Get(context.Background(), "downtown")
	assert.ErrorIs(t, err, ledger.ErrNoCheckpoint)
}

func TestRunUpdate_ProcessesAllStoresInInputOrder(t *testing.T) {
	mem := store.NewMemory()
	mem.AddEvents(1, rawDelta(7, on(epoch, 9), "5"))
	runner := newTestRunner(t, mem)

	sources := []pipeline.Source{downtown, {Name: "harbor", StoreID: 2}}
	results := runner.RunUpdate(context.Background(), sources)
	require.Len(t, results, 2)
	assert.Equal(t, "downtown", results[0].Store)
	assert.Equal(t, "harbor", results[1].Store)
	assert.Equal(t, pipeline.StatusCompleted, results[0].Status)
	assert.Equal(t, pipeline.StatusCompleted, results[1].Status)
}

// =============================================================================
// EXCLUSIONS AND VERIFICATION IN A RUN
// =============================================================================

func TestRunUpdate_AppliesThresholdExclusions(t *testing.T) {
	mem := store.NewMemory()
	mem.AddEvents(1,
		rawOverride(7, on(epoch, 8), "100"),
		rawOverride(7, on(epoch.AddDays(1), 8), "40000000"), // implausible
	)
	runner := newTestRunner(t, mem)
	ctx := context.Background()

	res := runner.RunUpdate(ctx, []pipeline.Source{downtown})[0]
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)
	assert.Equal(t, 1, res.ExclusionsApplied)
	assert.Equal(t, 1, res.EventsProcessed)

	// The implausible override never reached the balance.
	v, _, _ := mem.BalanceOn(ctx, 1, 7, epoch.AddDays(3))
	assert.Equal(t, int64(100), v)
}

func TestRunUpdate_VerifiesAgainstLiveBalances(t *testing.T) {
	// GIVEN: history ending at 70 and a +5 delta today, live says 76
	// WHEN: running
	// THEN: the report flags one product with a diff of -1

	today := ledger.DayOf(testNow)
	mem := store.NewMemory()
	mem.AddEvents(1,
		rawOverride(7, on(epoch, 8), "70"),
		rawDelta(7, on(today, 9), "5"), // today: verification only
	)
	mem.SetLive(1, map[int]int64{7: 76})
	runner := newTestRunner(t, mem)

	res := runner.RunUpdate(context.Background(), []pipeline.Source{downtown})[0]
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)
	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.Mismatched)
	assert.Equal(t, int64(1), res.Report.MaxAbsDiff)
	require.Len(t, res.Report.Diffs, 1)
	assert.Equal(t, int64(-1), res.Report.Diffs[0].Diff)

	// Today's event is verification input, not ingested history: the stored
	// start-of-today is 70.
	v, _, _ := mem.BalanceOn(context.Background(), 1, 7, today)
	assert.Equal(t, int64(70), v)
}

// =============================================================================
// SEEDING
// =============================================================================

func TestRunSeed_DropsAndRebuilds(t *testing.T) {
	mem := store.NewMemory()
	mem.AddEvents(1, rawOverride(7, on(epoch, 8), "100"))
	runner := newTestRunner(t, mem)
	ctx := context.Background()

	// First pass, then poison the store with a bogus point and rebuild.
	runner.RunUpdate(ctx, []pipeline.Source{downtown})
	require.NoError(t, mem.UpsertBatch(ctx, []ledger.StockPoint{
		{StoreID: 1, ProductID: 999, Date: epoch, StartOfDay: 1},
	}))

	res := runner.RunSeed(ctx, downtown)
	require.Equal(t, pipeline.StatusCompleted, res.Status, "err: %v", res.Err)

	_, ok, err := mem.BalanceOn(ctx, 1, 999, epoch.AddDays(5))
	require.NoError(t, err)
	assert.False(t, ok, "seed must drop stale points")

	v, _, _ := mem.BalanceOn(ctx, 1, 7, epoch.AddDays(5))
	assert.Equal(t, int64(100), v)
}
