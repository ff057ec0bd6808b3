/*
checkpoint.go - Run window planning and cursor advancement

PURPOSE:
  Derives the calendar window each run reconstructs and computes the cursor
  to persist once the run's writes are durable.

WINDOW RULE:
  First run (no checkpoint): [epoch, today].
  Incremental run:           [checkpoint.LastDate, today].

  The window's first day is re-derived on purpose: late-arriving events for
  the cursor day are picked up, and the idempotent upsert makes the overlap
  harmless. Event ingestion covers [window.Start, yesterday]; the final
  calendar day (today) exists so verification has a start-of-today balance,
  derived entirely from closed days.

ADVANCEMENT:
  The cursor moves only after snapshots and exclusion rows are committed.
  A failed run leaves the cursor untouched and the whole window is simply
  reprocessed next time.
*/
package pipeline

import (
	"time"

	"github.com/osmart/stock-ledger/ledger"
)

// PlanWindow derives the calendar window for one run.
func PlanWindow(cp ledger.Checkpoint, hasCheckpoint bool, epoch, today ledger.Day) ledger.Window {
	start := epoch
	if hasCheckpoint && !cp.LastDate.IsZero() {
		start = cp.LastDate
	}
	if start.After(today) {
		start = today
	}
	return ledger.Window{Start: start, End: today}
}

// NextCheckpoint computes the cursor to persist after a successful run.
// LastEventAt is the newest ingested event timestamp; when the window held
// no events the previous cursor's timestamp is carried forward.
func NextCheckpoint(store string, prev ledger.Checkpoint, events []ledger.StockEvent, today ledger.Day) ledger.Checkpoint {
	last := prev.LastEventAt
	for _, ev := range events {
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	if last.IsZero() {
		last = today.Time()
	}
	return ledger.Checkpoint{
		Store:       store,
		LastEventAt: last.UTC(),
		LastDate:    today,
	}
}

// yesterday is the last fully closed day relative to now.
func yesterday(now time.Time) ledger.Day {
	return ledger.DayOf(now.UTC()).Prev()
}
