/*
conflict.go - Advisory conflict detection at request-creation time

PURPOSE:
  Pure, read-only evaluation of a draft request against the user's
  existing requests, the resolved balance, and plan policy. Conflicts are
  advisory: they are attached to the request as warnings for the
  approver, they never block creation, and the engine never silently
  auto-rejects.

CONFLICT TYPES:
  OVERLAP:         another PENDING/APPROVED request for the same user
                   intersects the requested range (cannot override)
  EXCEEDS_BALANCE: requested days exceed available days (an approver may
                   proceed anyway - that approval is the explicit
                   override the negative-balance invariant refers to)
  BLACKOUT_PERIOD: a plan-configured blackout window intersects the range
  PUBLIC_HOLIDAY:  a public holiday falls on a weekday inside the range
                   of a plan that excludes holidays
*/
package absence

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ConflictType string

const (
	ConflictOverlap        ConflictType = "overlap"
	ConflictExceedsBalance ConflictType = "exceeds_balance"
	ConflictBlackout       ConflictType = "blackout_period"
	ConflictPublicHoliday  ConflictType = "public_holiday"
)

// Conflict is one advisory flag attached to a request.
type Conflict struct {
	Type        ConflictType
	CanOverride bool
	Detail      string
}

// ConflictInput is everything detection needs; assembling it is the
// caller's job, which keeps Detect itself free of I/O.
type ConflictInput struct {
	UserID         UserID
	RequestID      RequestID // excluded from overlap checks (re-runs)
	StartDate      time.Time
	EndDate        time.Time
	RequestedDays  decimal.Decimal
	Plan           Plan
	Balance        Balance
	ExistingByUser []Request
	Blackouts      []BlackoutWindow
	Holidays       HolidayCalendar
}

// Detect evaluates a draft request and returns its advisory conflicts.
// Re-runnable on demand: the same input always yields the same flags.
func Detect(in ConflictInput) []Conflict {
	var conflicts []Conflict

	for _, other := range in.ExistingByUser {
		if other.ID == in.RequestID {
			continue
		}
		if other.Status != StatusPending && other.Status != StatusApproved {
			continue
		}
		if rangesIntersect(in.StartDate, in.EndDate, other.StartDate, other.EndDate) {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictOverlap,
				CanOverride: false,
				Detail: fmt.Sprintf("overlaps %s request %s (%s to %s)",
					other.Status, other.ID,
					other.StartDate.Format("2006-01-02"), other.EndDate.Format("2006-01-02")),
			})
		}
	}

	if in.RequestedDays.GreaterThan(in.Balance.Available) {
		conflicts = append(conflicts, Conflict{
			Type:        ConflictExceedsBalance,
			CanOverride: true,
			Detail: fmt.Sprintf("requested %s days, %s available",
				in.RequestedDays, in.Balance.Available),
		})
	}

	for _, w := range in.Blackouts {
		if rangesIntersect(in.StartDate, in.EndDate, w.Start, w.End) {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictBlackout,
				CanOverride: true,
				Detail:      fmt.Sprintf("falls in blackout window %q", w.Name),
			})
		}
	}

	if in.Plan.ExcludesPublicHolidays && in.Holidays != nil {
		for _, h := range in.Holidays.HolidaysInRange(DayOf(in.StartDate), DayOf(in.EndDate)) {
			if IsWeekend(h.Date) {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type:        ConflictPublicHoliday,
				CanOverride: true,
				Detail:      fmt.Sprintf("%s (%s) is not charged", h.Name, h.Date.Format("2006-01-02")),
			})
		}
	}

	return conflicts
}

func rangesIntersect(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !DayOf(aStart).After(DayOf(bEnd)) && !DayOf(bStart).After(DayOf(aEnd))
}
