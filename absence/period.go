package absence

import (
	"strconv"
	"time"
)

// =============================================================================
// PERIOD - The accounting window a balance belongs to
// =============================================================================

// Period identifies the accounting window of a ledger row. Label is the
// storage key component of (user, plan, period); Start/End bound the
// window. Periods are supplied explicitly by callers - the core never
// derives "the current year" from the wall clock, which keeps every
// operation testable without mocking time.
type Period struct {
	Label string
	Start time.Time
	End   time.Time
}

// CalendarYear returns the January 1 - December 31 period for a year.
func CalendarYear(year int) Period {
	return Period{
		Label: strconv.Itoa(year),
		Start: NewDate(year, time.January, 1),
		End:   NewDate(year, time.December, 31),
	}
}

// PeriodContaining returns the calendar-year period holding the date.
func PeriodContaining(date time.Time) Period {
	return CalendarYear(date.Year())
}

// Previous returns the immediately preceding calendar-year period.
func (p Period) Previous() Period {
	return CalendarYear(p.Start.Year() - 1)
}

// Contains reports whether the date falls inside [Start, End].
func (p Period) Contains(date time.Time) bool {
	d := DayOf(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

// DaysInPeriod returns the inclusive calendar-day length of the period.
func (p Period) DaysInPeriod() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

func (p Period) String() string { return p.Label }

// CompletedMonths counts the months of the period whose last day is on or
// before asOf. Monthly accrual grants one increment per completed month.
func (p Period) CompletedMonths(asOf time.Time) int {
	months := 0
	cursor := time.Date(p.Start.Year(), p.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(p.End) {
		monthEnd := cursor.AddDate(0, 1, -1)
		if monthEnd.After(p.End) || monthEnd.After(DayOf(asOf)) {
			break
		}
		months++
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months
}
