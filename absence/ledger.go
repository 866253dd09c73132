/*
ledger.go - The only mutation path into balances

PURPOSE:
  Ledger owns the two balance operations the rest of the engine builds on:

  GetOrCreate: idempotent lazy creation of a (user, plan, period) row,
  seeded from the plan's default entitlement plus any carryover from the
  previous period. Concurrent creators race on the store's uniqueness
  constraint; the loser refetches the winner's row.

  ApplyDelta: atomic read-modify-write of one row. Components are
  adjusted, derived fields recomputed, and the result committed with an
  optimistic version check. A failed check is retried a small bounded
  number of times against a fresh read; exhaustion surfaces as
  ErrConcurrencyConflict with the row untouched.

ORDERING:
  Operations against the same balance key serialize through the version
  check. Operations against different keys are independent and proceed
  fully in parallel.

SEE ALSO:
  - balance.go: Row shape and derived-field arithmetic
  - accrual.go: Recalculate uses Evaluate to refresh entitlement/accrued
*/
package absence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// balanceRetries bounds the optimistic-lock retry loop. Preconditions are
// re-established from a fresh read on every attempt, so a retry is always
// idempotent.
const balanceRetries = 3

// Ledger performs all balance mutations against the given store. It is a
// thin value type: lifecycle transitions construct one over their
// transaction-scoped store so the status check and the delta share one
// atomic commit.
type Ledger struct {
	Store Store
}

// NewLedger binds a ledger to a store.
func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// GetOrCreate returns the ledger row for the key, creating it on first
// use. The new row is seeded with the plan's default entitlement (rounded
// per plan), carryover from the previous period when the plan's rule
// enables it, zeroed usage fields, and an FTE ratio of 1.0. Idempotent
// under concurrency: a duplicate-insert race resolves by refetching.
func (l *Ledger) GetOrCreate(ctx context.Context, userID UserID, planID PlanID, period Period) (*Balance, error) {
	key := BalanceKey{UserID: userID, PlanID: planID, Period: period.Label}

	b, err := l.Store.GetBalance(ctx, key)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	plan, err := l.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	entitlement := decimal.Zero
	if plan.DefaultEntitlement != nil {
		entitlement = plan.Rounding.Apply(*plan.DefaultEntitlement)
	}

	carryover, err := l.carryoverFrom(ctx, *plan, userID, period)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	seeded := Balance{
		ID:          uuid.NewString(),
		UserID:      userID,
		PlanID:      planID,
		Period:      period.Label,
		Entitlement: entitlement,
		Carryover:   carryover,
		FTERatio:    decimal.NewFromInt(1),
		Version:     1,
	}
	seeded.Recompute(now)

	err = l.Store.CreateBalance(ctx, seeded)
	if errors.Is(err, ErrDuplicateBalance) {
		// Lost the creation race; the winner's row is authoritative.
		return l.Store.GetBalance(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("create balance %s: %w", key, err)
	}
	return &seeded, nil
}

// carryoverFrom computes the opening carryover for a new period from the
// previous period's remainder, capped at the plan's MaxDays. Plans without
// the rule, or users without a previous row, carry nothing.
func (l *Ledger) carryoverFrom(ctx context.Context, plan Plan, userID UserID, period Period) (decimal.Decimal, error) {
	if !plan.Carryover.Enabled {
		return decimal.Zero, nil
	}
	prev, err := l.Store.GetBalance(ctx, BalanceKey{
		UserID: userID, PlanID: plan.ID, Period: period.Previous().Label,
	})
	if errors.Is(err, ErrBalanceNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	carry := prev.Remaining
	if carry.IsNegative() {
		return decimal.Zero, nil
	}
	if plan.Carryover.MaxDays.Sign() > 0 && carry.GreaterThan(plan.Carryover.MaxDays) {
		carry = plan.Carryover.MaxDays
	}
	return plan.Rounding.Apply(carry), nil
}

// ApplyDelta adjusts one balance's components and recomputes the derived
// fields, committing under an optimistic version check. This is the only
// write path into an existing row.
func (l *Ledger) ApplyDelta(ctx context.Context, key BalanceKey, delta Delta) (*Balance, error) {
	var lastErr error
	for attempt := 0; attempt < balanceRetries; attempt++ {
		b, err := l.Store.GetBalance(ctx, key)
		if err != nil {
			return nil, err
		}

		b.Pending = b.Pending.Add(delta.Pending)
		b.Scheduled = b.Scheduled.Add(delta.Scheduled)
		b.Taken = b.Taken.Add(delta.Taken)
		b.Entitlement = b.Entitlement.Add(delta.Entitlement)
		b.Accrued = b.Accrued.Add(delta.Accrued)
		b.Carryover = b.Carryover.Add(delta.Carryover)

		if b.Pending.IsNegative() {
			return nil, validationErr("negative_pending",
				"delta would drive pending below zero on %s", key)
		}

		b.Recompute(time.Now().UTC())

		err = l.Store.UpdateBalance(ctx, *b, b.Version)
		if errors.Is(err, ErrConcurrencyConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update balance %s: %w", key, err)
		}
		b.Version++
		return b, nil
	}
	return nil, fmt.Errorf("apply delta to %s after %d attempts: %w", key, balanceRetries, lastErr)
}

// Recalculate refreshes a balance's entitlement, accrued, and episode
// fields from the plan's active accrual policy. Evaluation itself is pure;
// this applies its result through the same optimistic write path.
func (l *Ledger) Recalculate(ctx context.Context, key BalanceKey, period Period, asOf time.Time) (*Balance, error) {
	plan, err := l.Store.GetPlan(ctx, key.PlanID)
	if err != nil {
		return nil, err
	}
	policy, err := l.Store.ActiveAccrualPolicy(ctx, key.PlanID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < balanceRetries; attempt++ {
		b, err := l.GetOrCreate(ctx, key.UserID, key.PlanID, period)
		if err != nil {
			return nil, err
		}

		var episodes []SicknessEpisode
		if policy != nil && policy.Method == AccrualRolling && policy.TrackEpisodes {
			windowStart := DayOf(asOf).AddDate(0, 0, -(policy.WindowDays - 1))
			episodes, err = l.Store.ListEpisodesByUser(ctx, key.UserID, windowStart, DayOf(asOf))
			if err != nil {
				return nil, err
			}
		}

		result := Evaluate(policy, *plan, period, EvalInput{
			AsOf:     asOf,
			FTERatio: b.FTERatio,
			Episodes: episodes,
		})

		if policy != nil && policy.Method != AccrualNone {
			b.Entitlement = plan.Rounding.Apply(result.Entitlement)
			b.Accrued = plan.Rounding.Apply(result.Accrued)
		}
		b.Episodes = result.Episodes
		b.Recompute(time.Now().UTC())

		err = l.Store.UpdateBalance(ctx, *b, b.Version)
		if errors.Is(err, ErrConcurrencyConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		b.Version++
		return b, nil
	}
	return nil, fmt.Errorf("recalculate %s after %d attempts: %w", key, balanceRetries, lastErr)
}
