package absence_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *memory.Memory {
	t.Helper()
	return memory.New()
}

func holidayPlan(entitlement float64) absence.Plan {
	e := decimal.NewFromFloat(entitlement)
	return absence.Plan{
		ID:                 "holiday",
		Name:               "Holiday",
		Type:               absence.PlanHoliday,
		Unit:               absence.UnitDay,
		DefaultEntitlement: &e,
		ApprovalChainType:  absence.ChainManager,
		Rounding:           absence.DefaultRounding(),
		IsActive:           true,
		EffectiveFrom:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:            1,
	}
}

func seedHolidayPlan(t *testing.T, store *memory.Memory, entitlement float64) absence.Plan {
	t.Helper()
	plan := holidayPlan(entitlement)
	require.NoError(t, store.SavePlan(context.Background(), plan))
	return plan
}

// =============================================================================
// LAZY CREATION
// =============================================================================

func TestLedger_GetOrCreate_SeedsFromPlanDefaults(t *testing.T) {
	store := newTestStore(t)
	seedHolidayPlan(t, store, 25)
	ledger := absence.NewLedger(store)
	ctx := context.Background()

	bal, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)

	assert.Equal(t, "25", bal.Entitlement.String())
	assert.True(t, bal.Accrued.IsZero())
	assert.True(t, bal.Taken.IsZero())
	assert.True(t, bal.Pending.IsZero())
	assert.Equal(t, "25", bal.Remaining.String())
	assert.Equal(t, "25", bal.Available.String())
	assert.Equal(t, 1, bal.Version)
}

func TestLedger_GetOrCreate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	seedHolidayPlan(t, store, 25)
	ledger := absence.NewLedger(store)
	ctx := context.Background()

	first, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)

	second, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "second call must return the same row")
}

func TestLedger_GetOrCreate_UnknownPlan(t *testing.T) {
	store := newTestStore(t)
	ledger := absence.NewLedger(store)

	_, err := ledger.GetOrCreate(context.Background(), "alice", "nope", absence.CalendarYear(2026))
	assert.ErrorIs(t, err, absence.ErrPlanNotFound)
}

func TestLedger_GetOrCreate_CarryoverCappedAtMax(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plan := holidayPlan(25)
	plan.Carryover = absence.CarryoverRule{Enabled: true, MaxDays: absence.Days(5)}
	require.NoError(t, store.SavePlan(ctx, plan))

	ledger := absence.NewLedger(store)

	// Previous period row with 8 days remaining.
	prev, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2025))
	require.NoError(t, err)
	_, err = ledger.ApplyDelta(ctx, prev.Key(), absence.Delta{Taken: absence.Days(17)})
	require.NoError(t, err)

	cur, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)

	assert.Equal(t, "5", cur.Carryover.String(), "carryover is capped at the plan maximum")
	assert.Equal(t, "30", cur.Remaining.String())
}

func TestLedger_GetOrCreate_NegativePreviousCarriesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plan := holidayPlan(10)
	plan.Carryover = absence.CarryoverRule{Enabled: true, MaxDays: absence.Days(5)}
	plan.AllowsNegativeBalance = true
	require.NoError(t, store.SavePlan(ctx, plan))

	ledger := absence.NewLedger(store)
	prev, err := ledger.GetOrCreate(ctx, "bob", "holiday", absence.CalendarYear(2025))
	require.NoError(t, err)
	_, err = ledger.ApplyDelta(ctx, prev.Key(), absence.Delta{Taken: absence.Days(12)})
	require.NoError(t, err)

	cur, err := ledger.GetOrCreate(ctx, "bob", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)
	assert.True(t, cur.Carryover.IsZero())
}

// =============================================================================
// APPLY DELTA
// =============================================================================

func TestLedger_ApplyDelta_RecomputesDerivedFields(t *testing.T) {
	store := newTestStore(t)
	seedHolidayPlan(t, store, 25)
	ledger := absence.NewLedger(store)
	ctx := context.Background()

	bal, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)

	bal, err = ledger.ApplyDelta(ctx, bal.Key(), absence.Delta{Pending: absence.Days(3)})
	require.NoError(t, err)

	// Remaining ignores pending; available subtracts it.
	assert.Equal(t, "3", bal.Pending.String())
	assert.Equal(t, "25", bal.Remaining.String())
	assert.Equal(t, "22", bal.Available.String())
	assert.Equal(t, 2, bal.Version)

	bal, err = ledger.ApplyDelta(ctx, bal.Key(), absence.Delta{
		Pending:   absence.Days(3).Neg(),
		Scheduled: absence.Days(3),
	})
	require.NoError(t, err)

	assert.True(t, bal.Pending.IsZero())
	assert.Equal(t, "3", bal.Scheduled.String())
	assert.Equal(t, "22", bal.Remaining.String())
	assert.Equal(t, "22", bal.Available.String())
}

func TestLedger_ApplyDelta_RejectsNegativePending(t *testing.T) {
	store := newTestStore(t)
	seedHolidayPlan(t, store, 25)
	ledger := absence.NewLedger(store)
	ctx := context.Background()

	bal, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)

	_, err = ledger.ApplyDelta(ctx, bal.Key(), absence.Delta{Pending: absence.Days(1).Neg()})
	assert.ErrorIs(t, err, absence.ErrValidation)
}

func TestLedger_ApplyDelta_MissingRow(t *testing.T) {
	store := newTestStore(t)
	seedHolidayPlan(t, store, 25)
	ledger := absence.NewLedger(store)

	key := absence.BalanceKey{UserID: "ghost", PlanID: "holiday", Period: "2026"}
	_, err := ledger.ApplyDelta(context.Background(), key, absence.Delta{Pending: absence.Days(1)})
	assert.ErrorIs(t, err, absence.ErrBalanceNotFound)
}

func TestStore_UpdateBalance_StaleVersionConflicts(t *testing.T) {
	store := newTestStore(t)
	seedHolidayPlan(t, store, 25)
	ledger := absence.NewLedger(store)
	ctx := context.Background()

	bal, err := ledger.GetOrCreate(ctx, "alice", "holiday", absence.CalendarYear(2026))
	require.NoError(t, err)

	// First writer commits from version 1.
	require.NoError(t, store.UpdateBalance(ctx, *bal, bal.Version))

	// Second writer still holds the version-1 snapshot.
	err = store.UpdateBalance(ctx, *bal, bal.Version)
	assert.ErrorIs(t, err, absence.ErrConcurrencyConflict)
}

// =============================================================================
// RECALCULATE
// =============================================================================

func TestLedger_Recalculate_MonthlyAccrual(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedHolidayPlan(t, store, 0)
	require.NoError(t, store.SaveAccrualPolicy(ctx, absence.AccrualPolicy{
		ID:                "holiday-monthly",
		PlanID:            "holiday",
		Method:            absence.AccrualMonthly,
		Frequency:         absence.FreqMonthly,
		AnnualEntitlement: absence.Days(24),
		AccrualRate:       absence.Days(2),
		IsActive:          true,
	}))

	ledger := absence.NewLedger(store)
	period := absence.CalendarYear(2026)
	bal, err := ledger.GetOrCreate(ctx, "alice", "holiday", period)
	require.NoError(t, err)

	// As of mid-May, Jan through Apr are the completed months.
	asOf := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)
	bal, err = ledger.Recalculate(ctx, bal.Key(), period, asOf)
	require.NoError(t, err)

	assert.Equal(t, "8", bal.Accrued.String())
}
