/*
sparse.go - Change-day detection

A day is a change-day when its start-of-day balance differs from the previous
day's effective value, or when it is the very first day ever observed for the
product. Only change-days become persisted StockPoints; gaps mean "balance
unchanged" and readers forward-fill from the nearest prior point.

For the first day of a run's window the comparison chains against the last
persisted value (the prior map) when one exists, so an incremental run never
re-emits an unchanged opening balance.

RANGE GUARD:
  The persistence layer stores balances in a 32-bit integer column.
  Reconstructed values beyond that range are diverted into the result's
  Diverted list (and excluded from the upsert) instead of failing the write;
  the caller surfaces the count.
*/
package ledger

import (
	"math"
	"time"
)

// MaxStorableStock bounds what the snapshot table's integer column accepts.
const MaxStorableStock = math.MaxInt32

// BuildResult carries the sparse points to persist plus any rows diverted by
// the range guard.
type BuildResult struct {
	Points   []StockPoint
	Diverted []RangeViolation
}

// BuildSparse diffs consecutive days of the dense matrix and emits only
// change-days.
//
// prior holds the last persisted start-of-day value per product, used to
// chain the window's first day; a product absent from prior is treated as
// first-ever observed, so its first day is always emitted.
func BuildSparse(storeID int, m *Matrix, prior map[int]int64) BuildResult {
	var res BuildResult
	days := m.Days()
	if len(days) == 0 {
		return res
	}

	now := time.Now().UTC()
	for _, pid := range m.Products() {
		row, _ := m.Row(pid)
		prev, havePrev := prior[pid]
		for i, d := range days {
			v := row[i]
			changed := !havePrev || v != prev
			prev, havePrev = v, true
			if !changed {
				continue
			}
			if v > MaxStorableStock || v < -MaxStorableStock {
				res.Diverted = append(res.Diverted, RangeViolation{
					StoreID:    storeID,
					ProductID:  pid,
					Date:       d,
					Value:      v,
					DetectedAt: now,
				})
				continue
			}
			res.Points = append(res.Points, StockPoint{
				StoreID:    storeID,
				ProductID:  pid,
				Date:       d,
				StartOfDay: v,
			})
		}
	}
	return res
}

// ForwardFill resolves the balance in effect on a date from a sparse point
// series: the value of the nearest point at or before the date. ok is false
// when no point exists at or before it. points must be sorted by date
// ascending for one product.
func ForwardFill(points []StockPoint, on Day) (v int64, ok bool) {
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Date.BeforeOrEqual(on) {
			return points[i].StartOfDay, true
		}
	}
	return 0, false
}
