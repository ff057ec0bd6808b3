package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/osmart/stock-ledger/ledger"
	"github.com/osmart/stock-ledger/pipeline"
)

func TestPlanWindow_NoCheckpointStartsAtEpoch(t *testing.T) {
	today := ledger.NewDay(2025, time.March, 10)
	w := pipeline.PlanWindow(ledger.Checkpoint{}, false, epoch, today)
	assert.Equal(t, epoch, w.Start)
	assert.Equal(t, today, w.End)
}

func TestPlanWindow_CursorDayIsReprocessed(t *testing.T) {
	// The window starts ON the cursor date, not after it, so late events
	// for that day are picked up.
	today := ledger.NewDay(2025, time.March, 10)
	cp := ledger.Checkpoint{Store: "downtown", LastDate: ledger.NewDay(2025, time.March, 7)}

	w := pipeline.PlanWindow(cp, true, epoch, today)
	assert.Equal(t, cp.LastDate, w.Start)
	assert.Equal(t, today, w.End)
}

func TestPlanWindow_CursorNeverExceedsToday(t *testing.T) {
	today := ledger.NewDay(2025, time.March, 10)
	cp := ledger.Checkpoint{Store: "downtown", LastDate: ledger.NewDay(2025, time.March, 12)}

	w := pipeline.PlanWindow(cp, true, epoch, today)
	assert.Equal(t, today, w.Start)
	assert.True(t, w.Valid())
}

func TestNextCheckpoint_TracksNewestEvent(t *testing.T) {
	today := ledger.NewDay(2025, time.March, 10)
	newest := time.Date(2025, time.March, 9, 22, 0, 0, 0, time.UTC)
	events := []ledger.StockEvent{
		{Timestamp: time.Date(2025, time.March, 8, 9, 0, 0, 0, time.UTC)},
		{Timestamp: newest},
	}

	cp := pipeline.NextCheckpoint("downtown", ledger.Checkpoint{}, events, today)
	assert.Equal(t, newest, cp.LastEventAt)
	assert.Equal(t, today, cp.LastDate)
	assert.Equal(t, "downtown", cp.Store)
}

func TestNextCheckpoint_EmptyWindowCarriesPreviousTimestamp(t *testing.T) {
	today := ledger.NewDay(2025, time.March, 10)
	prev := ledger.Checkpoint{
		Store:       "downtown",
		LastEventAt: time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC),
		LastDate:    ledger.NewDay(2025, time.March, 6),
	}

	cp := pipeline.NextCheckpoint("downtown", prev, nil, today)
	assert.Equal(t, prev.LastEventAt, cp.LastEventAt)
	assert.Equal(t, today, cp.LastDate)
}
