package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - Calendar-day value type (matrix axis and store key)
// =============================================================================

// Day is a calendar date in UTC, truncated to midnight. All balance math in
// this package is keyed on Day: a StockPoint is "the balance at the start of
// this Day", and the dense reconstruction matrix has one column per Day.
type Day struct {
	t time.Time
}

func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates an instant to its calendar day.
func DayOf(at time.Time) Day {
	return NewDay(at.Year(), at.Month(), at.Day())
}

func Today() Day { return DayOf(time.Now().UTC()) }

// ParseDay parses the canonical "2006-01-02" form.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day{t: t}, nil
}

// Comparison
func (d Day) Before(other Day) bool        { return d.t.Before(other.t) }
func (d Day) After(other Day) bool         { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool         { return d.t.Equal(other.t) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.Before(other) }
func (d Day) IsZero() bool                 { return d.t.IsZero() }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) Next() Day         { return d.AddDays(1) }
func (d Day) Prev() Day         { return d.AddDays(-1) }

// DaysUntil returns the number of whole days from d to other (negative if
// other is earlier).
func (d Day) DaysUntil(other Day) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

// Time returns the underlying midnight instant (UTC).
func (d Day) Time() time.Time { return d.t }

func (d Day) String() string { return d.t.Format("2006-01-02") }

func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Day) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid day literal %s", s)
	}
	parsed, err := ParseDay(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// WINDOW - Inclusive day range for one reconstruction run
// =============================================================================

// Window is the inclusive [Start, End] calendar range a run reconstructs.
type Window struct {
	Start Day
	End   Day
}

// Valid reports whether the window covers at least one day.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.Start.BeforeOrEqual(w.End)
}

// Len returns the number of days in the window.
func (w Window) Len() int {
	if !w.Valid() {
		return 0
	}
	return w.Start.DaysUntil(w.End) + 1
}

// Days materializes the dense calendar, one entry per day.
func (w Window) Days() []Day {
	n := w.Len()
	days := make([]Day, n)
	d := w.Start
	for i := 0; i < n; i++ {
		days[i] = d
		d = d.Next()
	}
	return days
}

// Contains reports whether day falls inside the window.
func (w Window) Contains(d Day) bool {
	return w.Start.BeforeOrEqual(d) && d.BeforeOrEqual(w.End)
}

// Index returns the calendar offset of day within the window, or -1.
func (w Window) Index(d Day) int {
	if !w.Contains(d) {
		return -1
	}
	return w.Start.DaysUntil(d)
}
