/*
workdays.go - Working-day arithmetic and the holiday calendar

PURPOSE:
  Converts a requested absence (date range, partial day, or raw hours)
  into the decimal day count that is charged against a balance.

WORKING DAYS:
  Weekdays (Mon-Fri) are counted inclusively between start and end.
  Public-holiday exclusion is pluggable: the calculator consults a
  HolidayCalendar only when the plan sets ExcludesPublicHolidays. The
  default calendar is empty, so out of the box the count excludes
  weekends only.

PARTIAL DAYS AND HOURS:
  A partial-day request is a fixed 0.5 days. An hours request converts
  via hours / hoursPerDay (default 7.5, configurable per deployment).

SEE ALSO:
  - request.go: Calls RequestDays at creation time
  - conflict.go: Uses the calendar for PUBLIC_HOLIDAY flags
*/
package absence

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHoursPerDay is the working-day length used to convert hour
// requests into day amounts when no deployment override is configured.
var DefaultHoursPerDay = decimal.NewFromFloat(7.5)

type PartialDayType string

const (
	PartialMorning     PartialDayType = "morning"
	PartialAfternoon   PartialDayType = "afternoon"
	PartialCustomHours PartialDayType = "custom_hours"
)

// =============================================================================
// DATE HELPERS
// =============================================================================

// NewDate builds a day-granular UTC date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsWeekend reports Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func isSameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a public holiday that working-day counting may exclude.
type Holiday struct {
	ID        string
	Date      time.Time
	Name      string
	Recurring bool // same month/day every year
}

// HolidayCalendar provides holiday lookups. Implementations are expected
// to be cheap to call per-day; the sqlite store backs one, and
// EmptyCalendar disables the feature.
type HolidayCalendar interface {
	IsHoliday(date time.Time) bool
	HolidaysInRange(from, to time.Time) []Holiday
}

// EmptyCalendar is the no-op calendar used when holiday exclusion is not
// configured.
type EmptyCalendar struct{}

func (EmptyCalendar) IsHoliday(time.Time) bool                  { return false }
func (EmptyCalendar) HolidaysInRange(_, _ time.Time) []Holiday  { return nil }

// FixedCalendar is a slice-backed calendar over already-resolved holidays.
// The request service materializes one from the configured calendar before
// opening a store transaction, so holiday lookups inside the transaction
// never re-enter the store.
type FixedCalendar []Holiday

func (c FixedCalendar) IsHoliday(date time.Time) bool {
	d := DayOf(date)
	for _, h := range c {
		if DayOf(h.Date).Equal(d) {
			return true
		}
	}
	return false
}

func (c FixedCalendar) HolidaysInRange(from, to time.Time) []Holiday {
	lo, hi := DayOf(from), DayOf(to)
	var out []Holiday
	for _, h := range c {
		d := DayOf(h.Date)
		if !d.Before(lo) && !d.After(hi) {
			out = append(out, h)
		}
	}
	return out
}

// =============================================================================
// WORKING-DAY CALCULATION
// =============================================================================

// WeekdaysBetween counts Mon-Fri days in [start, end] inclusive. When
// excludeHolidays is set, days the calendar marks as holidays are skipped.
func WeekdaysBetween(start, end time.Time, excludeHolidays bool, cal HolidayCalendar) int {
	if cal == nil {
		cal = EmptyCalendar{}
	}
	count := 0
	for d := DayOf(start); !d.After(DayOf(end)); d = d.AddDate(0, 0, 1) {
		if IsWeekend(d) {
			continue
		}
		if excludeHolidays && cal.IsHoliday(d) {
			continue
		}
		count++
	}
	return count
}

// RequestDays computes the day amount an absence request consumes, rounded
// per the plan's rounding rule. Resolution order: explicit hours, then
// partial day, then the inclusive weekday count.
func RequestDays(
	start, end time.Time,
	partialDay bool,
	hours *decimal.Decimal,
	hoursPerDay decimal.Decimal,
	plan Plan,
	cal HolidayCalendar,
) (decimal.Decimal, error) {
	if start.IsZero() || end.IsZero() {
		return decimal.Zero, validationErr("missing_dates", "start and end dates are required")
	}
	if DayOf(end).Before(DayOf(start)) {
		return decimal.Zero, validationErr("invalid_date_range", "end date %s is before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	if hoursPerDay.Sign() <= 0 {
		hoursPerDay = DefaultHoursPerDay
	}

	var raw decimal.Decimal
	switch {
	case hours != nil:
		if hours.Sign() <= 0 {
			return decimal.Zero, validationErr("negative_hours", "hours must be positive, got %s", hours.String())
		}
		raw = hours.Div(hoursPerDay)
	case partialDay:
		raw = decimal.NewFromFloat(0.5)
	default:
		raw = decimal.NewFromInt(int64(WeekdaysBetween(start, end, plan.ExcludesPublicHolidays, cal)))
	}

	return plan.Rounding.Apply(raw), nil
}
