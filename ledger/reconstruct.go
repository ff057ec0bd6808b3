/*
reconstruct.go - Per-product balance replay and the dense matrix

THE CENTRAL ALGORITHM:
  Events are applied strictly in ascending (timestamp, arrival-order); the
  arrival order breaks ties so reconstruction is reproducible from the same
  input ordering. Per product:

    Delta event:            running += delta          (net = delta)
    AbsoluteOverride event: net = target - running;   running = target

  Each event yields one (product, day, net) tuple; tuples for the same
  (product, day) are summed into a single daily delta. Daily deltas are then
  placed on the dense calendar (missing days contribute 0), cumulative-summed
  into end-of-day balances, and shifted one day right:

    end_of_day[d]   = seed + sum(daily deltas up to and including d)
    start_of_day[d] = end_of_day[d-1],  start_of_day[first] = seed

SEEDING:
  A full rebuild seeds every product at 0 (history begins with an absolute
  load that snaps the balance anyway). An incremental run seeds each product
  with its last persisted snapshot value; products carried in the seed map
  with no events in the window stay flat across the whole window, so the
  sparse builder emits nothing for them and carry-forward semantics hold.

DETERMINISM:
  Reconstruct is a pure function. Identical (events, seeds, window) inputs
  always produce identical matrices; the round-trip and incremental-
  equivalence properties in reconstruct_test.go depend on this.
*/
package ledger

import "sort"

// Matrix is the dense start-of-day balance surface for one run: one row per
// product, one column per day in the window.
type Matrix struct {
	Window Window

	days     []Day
	products []int             // ascending
	start    map[int][]int64   // productID -> start-of-day, aligned with days
}

// Products returns the covered product ids in ascending order.
func (m *Matrix) Products() []int { return m.products }

// Days returns the dense calendar.
func (m *Matrix) Days() []Day { return m.days }

// StartOfDay returns the start-of-day balance for a product on a day inside
// the window. ok is false when the product or day is not covered.
func (m *Matrix) StartOfDay(productID int, d Day) (v int64, ok bool) {
	i := m.Window.Index(d)
	if i < 0 {
		return 0, false
	}
	row, ok := m.start[productID]
	if !ok {
		return 0, false
	}
	return row[i], true
}

// Row returns the full start-of-day series for one product.
func (m *Matrix) Row(productID int) ([]int64, bool) {
	row, ok := m.start[productID]
	return row, ok
}

// Column returns start-of-day balances for every covered product on one day.
func (m *Matrix) Column(d Day) map[int]int64 {
	i := m.Window.Index(d)
	if i < 0 {
		return nil
	}
	out := make(map[int]int64, len(m.products))
	for pid, row := range m.start {
		out[pid] = row[i]
	}
	return out
}

// Reconstruct replays events into a dense start-of-day matrix over w.
//
// events may arrive in any order; they are stably sorted by timestamp so
// arrival order is the tie-break within an instant. Events whose day falls
// outside the window still advance the running balance (an absolute override
// needs the true prior balance to compute its net change) but contribute no
// calendar delta, mirroring the upstream calendar reindex.
//
// seeds carries the opening balance per product; absent products seed at 0.
// Every product present in seeds or in events gets a row.
func Reconstruct(events []StockEvent, seeds map[int]int64, w Window) *Matrix {
	m := &Matrix{
		Window: w,
		days:   w.Days(),
		start:  make(map[int][]int64),
	}
	if !w.Valid() {
		return m
	}
	n := w.Len()

	ordered := make([]StockEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	// Daily net deltas per product, placed on the calendar.
	daily := make(map[int][]int64)
	running := make(map[int]int64, len(seeds))
	for pid, v := range seeds {
		running[pid] = v
	}
	for _, ev := range ordered {
		next, net := ev.Apply(running[ev.ProductID])
		running[ev.ProductID] = next

		idx := w.Index(ev.Day())
		if idx < 0 {
			continue
		}
		row, ok := daily[ev.ProductID]
		if !ok {
			row = make([]int64, n)
			daily[ev.ProductID] = row
		}
		row[idx] += net
	}

	// Union of seeded and event-bearing products, ascending for stable output.
	seen := make(map[int]struct{}, len(daily)+len(seeds))
	for pid := range daily {
		seen[pid] = struct{}{}
	}
	for pid := range seeds {
		seen[pid] = struct{}{}
	}
	m.products = make([]int, 0, len(seen))
	for pid := range seen {
		m.products = append(m.products, pid)
	}
	sort.Ints(m.products)

	// Cumulative sum shifted right: start[0] = seed, start[i] = eod[i-1].
	for _, pid := range m.products {
		row := make([]int64, n)
		seed := seeds[pid]
		deltas := daily[pid] // nil when the product only appears in seeds
		eod := seed
		for i := 0; i < n; i++ {
			row[i] = eod
			if deltas != nil {
				eod += deltas[i]
			}
		}
		m.start[pid] = row
	}
	return m
}
