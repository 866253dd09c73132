/*
accrual.go - Accrual policy evaluation

PURPOSE:
  Given a plan's accrual policy and a balance's period, compute what the
  entitlement and accrued components should be. Evaluation is idempotent
  and side-effect free: it informs Ledger.Recalculate, it never mutates
  the ledger itself.

METHODS:
  NONE / ANNUAL: fixed annual entitlement, granted once per period.
  MONTHLY:       accrual rate x completed months in the period, capped
                 at the policy's maximum when set.
  PRO_RATA:      annual entitlement x share of year remaining from the
                 start date x FTE ratio.
  ROLLING:       evaluated over a trailing window anchored on the as-of
                 date, not a calendar period; each evaluation re-counts
                 the episodes and days falling inside the window.
*/
package absence

import (
	"time"

	"github.com/shopspring/decimal"
)

// EvalInput carries the evaluation context. AsOf anchors "completed so
// far" and the rolling window; it is always supplied by the caller, never
// read from the wall clock.
type EvalInput struct {
	AsOf      time.Time
	FTERatio  decimal.Decimal
	StartDate time.Time // pro-rata anchor (e.g. employment or plan start); zero = period start
	Episodes  []SicknessEpisode
}

// Accrued is the evaluation result. Entitlement and Accrued are the values
// the corresponding balance components should be set to; Episodes is the
// rolling-window episode count (zero for non-rolling methods).
type Accrued struct {
	Entitlement decimal.Decimal
	Accrued     decimal.Decimal
	Episodes    int
}

// Evaluate computes the entitlement contribution of a policy for a period.
// A nil policy contributes nothing beyond the plan's default entitlement.
func Evaluate(policy *AccrualPolicy, plan Plan, period Period, in EvalInput) Accrued {
	if policy == nil {
		return Accrued{}
	}
	fte := in.FTERatio
	if fte.Sign() <= 0 {
		fte = decimal.NewFromInt(1)
	}

	switch policy.Method {
	case AccrualNone, AccrualAnnual:
		return Accrued{Entitlement: policy.AnnualEntitlement}

	case AccrualMonthly:
		months := period.CompletedMonths(in.AsOf)
		accrued := policy.AccrualRate.Mul(decimal.NewFromInt(int64(months)))
		if policy.MaxAccrualDays != nil && accrued.GreaterThan(*policy.MaxAccrualDays) {
			accrued = *policy.MaxAccrualDays
		}
		return Accrued{Accrued: accrued}

	case AccrualProRata:
		start := in.StartDate
		if start.IsZero() || start.Before(period.Start) {
			start = period.Start
		}
		daysInYear := decimal.NewFromInt(int64(period.DaysInPeriod()))
		remaining := decimal.NewFromInt(int64(period.End.Sub(DayOf(start)).Hours()/24) + 1)
		if remaining.Sign() <= 0 {
			return Accrued{}
		}
		entitlement := policy.AnnualEntitlement.Mul(remaining).Div(daysInYear).Mul(fte)
		return Accrued{Entitlement: entitlement}

	case AccrualRolling:
		windowDays := policy.WindowDays
		if windowDays <= 0 {
			windowDays = 365
		}
		windowStart := DayOf(in.AsOf).AddDate(0, 0, -(windowDays - 1))
		windowEnd := DayOf(in.AsOf)

		episodes := 0
		for _, e := range in.Episodes {
			if episodeOverlapsWindow(e, windowStart, windowEnd) {
				episodes++
			}
		}
		return Accrued{Entitlement: policy.AnnualEntitlement, Episodes: episodes}

	default:
		return Accrued{}
	}
}

func episodeOverlapsWindow(e SicknessEpisode, windowStart, windowEnd time.Time) bool {
	start := DayOf(e.StartDate)
	end := windowEnd // ongoing episodes extend to the window edge
	if e.EndDate != nil {
		end = DayOf(*e.EndDate)
	}
	return !start.After(windowEnd) && !end.Before(windowStart)
}
