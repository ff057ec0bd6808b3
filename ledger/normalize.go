/*
normalize.go - Event normalization and the lenient-parse policy

PURPOSE:
  All numeric coercion happens here, once, so no caller ever re-derives a
  "NaN means zero" rule. The policy, matching the upstream source's
  fill-with-zero behavior:

    - IsAbsolute: absent or unparseable flag means false (a delta event)
    - DeltaQty:   absent or unparseable means 0 (no effect)
    - AbsAfter:   absent or unparseable means 0 (override to zero)

  Fractional inputs ("3.0", "12.70") are truncated toward zero, the way the
  upstream integer cast behaved. Parsing uses decimal arithmetic so large
  values survive exactly.

REJECTIONS:
  Normalize is total over well-formed input. It rejects only events whose
  effect would be undefined:
    - zero timestamp (the event cannot be ordered or keyed)
    - a delta event carrying neither numeric field at all
  Both return a MalformedEventError scoped to that record.
*/
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Normalize canonicalizes one raw event. Pure: same input, same output.
func Normalize(raw RawEvent) (StockEvent, error) {
	if raw.Timestamp.IsZero() {
		return StockEvent{}, &MalformedEventError{
			StoreID:   raw.StoreID,
			ProductID: raw.ProductID,
			RecordID:  raw.RecordID,
			Reason:    "missing timestamp",
		}
	}

	isAbs := parseFlag(raw.IsAbsolute)

	if !isAbs && isBlank(raw.DeltaQty) && isBlank(raw.AbsAfter) {
		return StockEvent{}, &MalformedEventError{
			StoreID:   raw.StoreID,
			ProductID: raw.ProductID,
			RecordID:  raw.RecordID,
			Reason:    "neither delta nor absolute value present",
		}
	}

	ev := StockEvent{
		StoreID:    raw.StoreID,
		ProductID:  raw.ProductID,
		RecordID:   raw.RecordID,
		Timestamp:  raw.Timestamp,
		IsAbsolute: isAbs,
	}
	if isAbs {
		ev.AbsAfter = coerceInt(raw.AbsAfter)
	} else {
		ev.DeltaQty = coerceInt(raw.DeltaQty)
	}
	return ev, nil
}

// NormalizeAll normalizes a batch, isolating per-record failures: malformed
// events are dropped from the result and returned separately so the caller
// can surface them without aborting the other products.
func NormalizeAll(raws []RawEvent) (events []StockEvent, malformed []error) {
	events = make([]StockEvent, 0, len(raws))
	for _, raw := range raws {
		ev, err := Normalize(raw)
		if err != nil {
			malformed = append(malformed, err)
			continue
		}
		events = append(events, ev)
	}
	return events, malformed
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// parseFlag is deliberately forgiving: upstream stores the flag as 0/1,
// but NULL, "true" and float renderings have all been observed.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "0.0", "false", "f", "no":
		return false
	case "1", "true", "t", "yes":
		return true
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return !d.IsZero()
}

// coerceInt truncates toward zero; anything unparseable is 0.
func coerceInt(s string) int64 {
	if isBlank(s) {
		return 0
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.IntPart()
}
