/*
verify.go - Reconciliation against a live ground truth

Projects today's opening balances forward through today's events (same
transition rules as reconstruct.go) and compares the simulated "now" against
the balances an independent live source reports. Advisory only: the report
is returned, never acted on.
*/
package ledger

import "sort"

// Verify simulates forward from startOfDay through todayEvents and compares
// the result to live, outer-joined on product id (absent side defaults 0).
//
// Products with no events today retain their start-of-day value as
// "simulated now".
func Verify(startOfDay map[int]int64, todayEvents []StockEvent, live map[int]int64) DiscrepancyReport {
	ordered := make([]StockEvent, len(todayEvents))
	copy(ordered, todayEvents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	sim := make(map[int]int64, len(startOfDay))
	for pid, v := range startOfDay {
		sim[pid] = v
	}
	for _, ev := range ordered {
		next, _ := ev.Apply(sim[ev.ProductID])
		sim[ev.ProductID] = next
	}

	// Outer join.
	ids := make(map[int]struct{}, len(sim)+len(live))
	for pid := range sim {
		ids[pid] = struct{}{}
	}
	for pid := range live {
		ids[pid] = struct{}{}
	}

	report := DiscrepancyReport{
		Total: len(ids),
		Diffs: make([]Diff, 0, len(ids)),
	}
	for pid := range ids {
		d := Diff{
			ProductID: pid,
			Simulated: sim[pid],
			Live:      live[pid],
		}
		d.Diff = d.Simulated - d.Live
		if d.Diff != 0 {
			report.Mismatched++
			if abs := absInt64(d.Diff); abs > report.MaxAbsDiff {
				report.MaxAbsDiff = abs
			}
		}
		report.Diffs = append(report.Diffs, d)
	}
	sort.Slice(report.Diffs, func(i, j int) bool {
		return report.Diffs[i].ProductID < report.Diffs[j].ProductID
	})
	return report
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
