package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testPlan(id string) absence.Plan {
	entitlement := decimal.NewFromInt(25)
	return absence.Plan{
		ID:                 absence.PlanID(id),
		Name:               "Annual Holiday",
		Type:               absence.PlanHoliday,
		Unit:               absence.UnitDay,
		DefaultEntitlement: &entitlement,
		ApprovalChainType:  absence.ChainManager,
		Carryover: absence.CarryoverRule{
			Enabled: true,
			MaxDays: decimal.NewFromInt(5),
		},
		Rounding:      absence.DefaultRounding(),
		IsActive:      true,
		EffectiveFrom: absence.NewDate(2020, time.January, 1),
		Version:       1,
	}
}

func testBalance(user, plan string) absence.Balance {
	return absence.Balance{
		ID:               user + "-" + plan + "-2026",
		UserID:           absence.UserID(user),
		PlanID:           absence.PlanID(plan),
		Period:           "2026",
		Entitlement:      decimal.NewFromInt(25),
		Remaining:        decimal.NewFromInt(25),
		Available:        decimal.NewFromInt(25),
		FTERatio:         decimal.NewFromInt(1),
		Version:          1,
		LastCalculatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// PLANS
// =============================================================================

func TestPlanRoundtrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	plan := testPlan("holiday")
	plan.ApprovalChainType = absence.ChainCustom
	plan.CustomApprovalChain = []absence.ApprovalStep{
		{Level: 1, ApproverID: "manager-1", ApproverRole: "manager", Status: absence.StepPending},
		{Level: 2, ApproverID: "hr-1", ApproverRole: "hr", Status: absence.StepPending},
	}
	expiry := absence.NewDate(2030, time.December, 31)
	plan.EffectiveTo = &expiry

	require.NoError(t, store.SavePlan(ctx, plan))

	got, err := store.GetPlan(ctx, "holiday")
	require.NoError(t, err)
	assert.Equal(t, plan.Name, got.Name)
	assert.Equal(t, absence.ChainCustom, got.ApprovalChainType)
	require.Len(t, got.CustomApprovalChain, 2)
	assert.Equal(t, "hr-1", got.CustomApprovalChain[1].ApproverID)
	assert.True(t, got.Carryover.Enabled)
	assert.Equal(t, "5", got.Carryover.MaxDays.String())
	assert.Equal(t, "25", got.DefaultEntitlement.String())
	require.NotNil(t, got.EffectiveTo)
	assert.True(t, got.EffectiveTo.Equal(expiry))
}

func TestGetPlan_Missing(t *testing.T) {
	store := newStore(t)

	_, err := store.GetPlan(context.Background(), "nope")
	assert.ErrorIs(t, err, absence.ErrPlanNotFound)
}

func TestListPlans(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePlan(ctx, testPlan("holiday")))
	require.NoError(t, store.SavePlan(ctx, testPlan("birthday")))

	plans, err := store.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

// =============================================================================
// ACCRUAL POLICIES
// =============================================================================

func TestAccrualPolicyRoundtrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePlan(ctx, testPlan("holiday")))

	maxDays := decimal.NewFromInt(20)
	policy := absence.AccrualPolicy{
		ID:                "pol-1",
		PlanID:            "holiday",
		Method:            absence.AccrualMonthly,
		Frequency:         absence.FreqMonthly,
		AnnualEntitlement: decimal.NewFromInt(25),
		AccrualRate:       absence.MustParseDecimal("2.08"),
		MaxAccrualDays:    &maxDays,
		IsActive:          true,
	}
	require.NoError(t, store.SaveAccrualPolicy(ctx, policy))

	got, err := store.ActiveAccrualPolicy(ctx, "holiday")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, absence.AccrualMonthly, got.Method)
	assert.Equal(t, "2.08", got.AccrualRate.String())
	require.NotNil(t, got.MaxAccrualDays)
	assert.Equal(t, "20", got.MaxAccrualDays.String())
}

func TestActiveAccrualPolicy_NoneConfigured(t *testing.T) {
	store := newStore(t)

	got, err := store.ActiveAccrualPolicy(context.Background(), "holiday")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveAccrualPolicy_SecondActiveRejected(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := absence.AccrualPolicy{
		ID: "pol-1", PlanID: "holiday",
		Method: absence.AccrualAnnual, Frequency: absence.FreqUpfront,
		AnnualEntitlement: decimal.NewFromInt(25), IsActive: true,
	}
	require.NoError(t, store.SaveAccrualPolicy(ctx, first))

	second := first
	second.ID = "pol-2"
	assert.ErrorIs(t, store.SaveAccrualPolicy(ctx, second), absence.ErrDuplicatePolicy)

	// Deactivating the first makes room.
	first.IsActive = false
	require.NoError(t, store.SaveAccrualPolicy(ctx, first))
	require.NoError(t, store.SaveAccrualPolicy(ctx, second))
}

// =============================================================================
// BALANCES
// =============================================================================

func TestCreateBalance_DuplicateKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBalance(ctx, testBalance("alice", "holiday")))

	dup := testBalance("alice", "holiday")
	dup.ID = "other-row-id"
	assert.ErrorIs(t, store.CreateBalance(ctx, dup), absence.ErrDuplicateBalance)
}

func TestUpdateBalance_VersionGate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	b := testBalance("alice", "holiday")
	require.NoError(t, store.CreateBalance(ctx, b))

	b.Pending = decimal.NewFromInt(3)
	require.NoError(t, store.UpdateBalance(ctx, b, 1))

	// The same snapshot again is stale now.
	assert.ErrorIs(t, store.UpdateBalance(ctx, b, 1), absence.ErrConcurrencyConflict)

	got, err := store.GetBalance(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "3", got.Pending.String())
}

func TestUpdateBalance_MissingRow(t *testing.T) {
	store := newStore(t)

	err := store.UpdateBalance(context.Background(), testBalance("ghost", "holiday"), 1)
	assert.ErrorIs(t, err, absence.ErrBalanceNotFound)
}

func TestListBalancesByUser(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBalance(ctx, testBalance("alice", "holiday")))
	require.NoError(t, store.CreateBalance(ctx, testBalance("alice", "birthday")))
	require.NoError(t, store.CreateBalance(ctx, testBalance("bob", "holiday")))

	balances, err := store.ListBalancesByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, balances, 2)
}

// =============================================================================
// REQUESTS
// =============================================================================

func TestRequestRoundtrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	hours := absence.MustParseDecimal("4")
	submitted := time.Date(2026, 5, 20, 10, 30, 0, 0, time.UTC)
	req := absence.Request{
		ID:             "req-1",
		UserID:         "alice",
		PlanID:         "holiday",
		Period:         "2026",
		StartDate:      absence.NewDate(2026, time.June, 1),
		EndDate:        absence.NewDate(2026, time.June, 1),
		IsPartialDay:   true,
		PartialDayType: absence.PartialCustomHours,
		Hours:          &hours,
		CalculatedDays: absence.MustParseDecimal("0.5"),
		Status:         absence.StatusPending,
		Reason:         "appointment",
		Conflicts: []absence.Conflict{
			{Type: absence.ConflictExceedsBalance, CanOverride: true, Detail: "requested 0.5 days"},
		},
		HasConflicts:  true,
		BalanceBefore: absence.MustParseDecimal("25"),
		BalanceAfter:  absence.MustParseDecimal("24.5"),
		ApprovalChain: []absence.ApprovalStep{
			{Level: 1, ApproverID: "boss", ApproverRole: "manager", Status: absence.StepPending},
		},
		CurrentApproverID: "boss",
		SubmittedAt:       submitted,
		UpdatedAt:         submitted,
	}
	require.NoError(t, store.SaveRequest(ctx, req))

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, absence.StatusPending, got.Status)
	assert.True(t, got.IsPartialDay)
	require.NotNil(t, got.Hours)
	assert.Equal(t, "4", got.Hours.String())
	assert.Equal(t, "0.5", got.CalculatedDays.String())
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, absence.ConflictExceedsBalance, got.Conflicts[0].Type)
	require.Len(t, got.ApprovalChain, 1)
	assert.Equal(t, "boss", got.CurrentApproverID)
	assert.True(t, got.SubmittedAt.Equal(submitted))
}

func TestUpdateRequest_TransitionsPersist(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	req := absence.Request{
		ID: "req-1", UserID: "alice", PlanID: "holiday", Period: "2026",
		StartDate:      absence.NewDate(2026, time.June, 1),
		EndDate:        absence.NewDate(2026, time.June, 3),
		CalculatedDays: absence.MustParseDecimal("3"),
		Status:         absence.StatusPending,
		SubmittedAt:    time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveRequest(ctx, req))

	approvedAt := time.Date(2026, 5, 21, 9, 0, 0, 0, time.UTC)
	req.Status = absence.StatusApproved
	req.ApprovedAt = &approvedAt
	req.ApprovalComment = "have fun"
	require.NoError(t, store.UpdateRequest(ctx, req))

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, absence.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(approvedAt))
	assert.Equal(t, "have fun", got.ApprovalComment)
}

func TestListRequestsByUser_DateWindow(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	save := func(id string, start, end time.Time) {
		require.NoError(t, store.SaveRequest(ctx, absence.Request{
			ID: absence.RequestID(id), UserID: "alice", PlanID: "holiday", Period: "2026",
			StartDate: start, EndDate: end,
			CalculatedDays: decimal.NewFromInt(1),
			Status:         absence.StatusPending,
			SubmittedAt:    time.Now().UTC(),
		}))
	}
	save("june", absence.NewDate(2026, time.June, 1), absence.NewDate(2026, time.June, 2))
	save("december", absence.NewDate(2026, time.December, 21), absence.NewDate(2026, time.December, 22))

	got, err := store.ListRequestsByUser(ctx, "alice",
		absence.NewDate(2026, time.May, 1), absence.NewDate(2026, time.July, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, absence.RequestID("june"), got[0].ID)
}

func TestListRequestsByStatus(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i, status := range []absence.RequestStatus{
		absence.StatusPending, absence.StatusPending, absence.StatusApproved,
	} {
		require.NoError(t, store.SaveRequest(ctx, absence.Request{
			ID:     absence.RequestID(string(rune('a' + i))),
			UserID: "alice", PlanID: "holiday", Period: "2026",
			StartDate:      absence.NewDate(2026, time.June, 1+i),
			EndDate:        absence.NewDate(2026, time.June, 1+i),
			CalculatedDays: decimal.NewFromInt(1),
			Status:         status,
			SubmittedAt:    time.Now().UTC(),
		}))
	}

	pending, err := store.ListRequestsByStatus(ctx, absence.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// DRAFT and WITHDRAWN never come out of the lifecycle here, but imported
// records may carry them and they must survive storage untouched.
func TestListRequestsByStatus_ImportedStatuses(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i, status := range []absence.RequestStatus{absence.StatusDraft, absence.StatusWithdrawn} {
		require.NoError(t, store.SaveRequest(ctx, absence.Request{
			ID:     absence.RequestID(string(rune('w' + i))),
			UserID: "alice", PlanID: "holiday", Period: "2026",
			StartDate:      absence.NewDate(2026, time.June, 1+i),
			EndDate:        absence.NewDate(2026, time.June, 1+i),
			CalculatedDays: decimal.NewFromInt(1),
			Status:         status,
			SubmittedAt:    time.Now().UTC(),
		}))
	}

	withdrawn, err := store.ListRequestsByStatus(ctx, absence.StatusWithdrawn)
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.Equal(t, absence.StatusWithdrawn, withdrawn[0].Status)
}

// =============================================================================
// EPISODES
// =============================================================================

func TestEpisodeRoundtrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	created := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	ep := absence.SicknessEpisode{
		ID:        "ep-1",
		UserID:    "alice",
		StartDate: absence.NewDate(2026, time.June, 1),
		Type:      absence.SicknessShortTerm,
		RequestID: "req-9",
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, store.SaveEpisode(ctx, ep))

	end := absence.NewDate(2026, time.June, 9)
	ep.EndDate = &end
	ep.IsCertified = true
	ep.RequiresRTWInterview = true
	require.NoError(t, store.UpdateEpisode(ctx, ep))

	got, err := store.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))
	assert.True(t, got.IsCertified)
	assert.True(t, got.RequiresRTWInterview)
	assert.Equal(t, absence.RequestID("req-9"), got.RequestID)
}

func TestGetEpisode_Missing(t *testing.T) {
	store := newStore(t)

	_, err := store.GetEpisode(context.Background(), "nope")
	assert.ErrorIs(t, err, absence.ErrEpisodeNotFound)
}

func TestListEpisodesByUser_OngoingOverlapsWindow(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	closedEnd := absence.NewDate(2026, time.February, 5)
	episodes := []absence.SicknessEpisode{
		{ID: "closed", UserID: "alice",
			StartDate: absence.NewDate(2026, time.February, 1), EndDate: &closedEnd,
			Type: absence.SicknessShortTerm},
		{ID: "open", UserID: "alice",
			StartDate: absence.NewDate(2026, time.May, 1),
			Type:      absence.SicknessLongTerm},
	}
	for _, ep := range episodes {
		ep.CreatedAt = time.Now().UTC()
		ep.UpdatedAt = ep.CreatedAt
		require.NoError(t, store.SaveEpisode(ctx, ep))
	}

	// A June window catches only the ongoing episode.
	got, err := store.ListEpisodesByUser(ctx, "alice",
		absence.NewDate(2026, time.June, 1), absence.NewDate(2026, time.June, 30))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, absence.EpisodeID("open"), got[0].ID)

	// A February window catches only the closed one.
	got, err = store.ListEpisodesByUser(ctx, "alice",
		absence.NewDate(2026, time.February, 1), absence.NewDate(2026, time.February, 28))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, absence.EpisodeID("closed"), got[0].ID)
}

// =============================================================================
// BLACKOUTS AND HOLIDAYS
// =============================================================================

func TestBlackoutLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	w := absence.BlackoutWindow{
		ID: "bw-1", PlanID: "holiday", Name: "release freeze",
		Start: absence.NewDate(2026, time.June, 1),
		End:   absence.NewDate(2026, time.June, 14),
	}
	require.NoError(t, store.SaveBlackout(ctx, w))

	got, err := store.BlackoutsForPlan(ctx, "holiday")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "release freeze", got[0].Name)

	require.NoError(t, store.DeleteBlackout(ctx, "bw-1"))
	got, err = store.BlackoutsForPlan(ctx, "holiday")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCalendar_RecurringHolidays(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveHoliday(ctx, absence.Holiday{
		ID: "h-1", Name: "Christmas Day",
		Date:      absence.NewDate(2020, time.December, 25),
		Recurring: true,
	}))
	require.NoError(t, store.SaveHoliday(ctx, absence.Holiday{
		ID: "h-2", Name: "One-off bridge day",
		Date: absence.NewDate(2026, time.May, 4),
	}))

	cal := store.NewCalendar()

	assert.True(t, cal.IsHoliday(absence.NewDate(2026, time.December, 25)))
	assert.True(t, cal.IsHoliday(absence.NewDate(2026, time.May, 4)))
	assert.False(t, cal.IsHoliday(absence.NewDate(2027, time.May, 4)))

	inRange := cal.HolidaysInRange(
		absence.NewDate(2026, time.December, 1), absence.NewDate(2026, time.December, 31))
	require.Len(t, inRange, 1)
	assert.Equal(t, "Christmas Day", inRange[0].Name)
	assert.True(t, inRange[0].Date.Equal(absence.NewDate(2026, time.December, 25)))
}

// The store-backed calendar takes the store's read lock, while lifecycle
// operations run under the write lock. The service must finish its holiday
// lookups before the transaction starts, or the submission never returns.
func TestCreateRequest_StoreBackedCalendarCompletes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	plan := testPlan("holiday")
	plan.ExcludesPublicHolidays = true
	require.NoError(t, store.SavePlan(ctx, plan))
	require.NoError(t, store.SaveHoliday(ctx, absence.Holiday{
		ID: "h-1", Name: "Founders Day",
		Date: absence.NewDate(2026, time.June, 3), // Wednesday
	}))

	svc := absence.NewService(store, absence.WithHolidayCalendar(store.NewCalendar()))

	type result struct {
		req *absence.Request
		err error
	}
	submitted := make(chan result, 1)
	go func() {
		req, err := svc.CreateRequest(ctx, absence.CreateInput{
			UserID:    "alice",
			PlanID:    "holiday",
			Period:    absence.CalendarYear(2026),
			StartDate: absence.NewDate(2026, time.June, 1),
			EndDate:   absence.NewDate(2026, time.June, 5),
		})
		submitted <- result{req, err}
	}()

	var req *absence.Request
	select {
	case res := <-submitted:
		require.NoError(t, res.err)
		req = res.req
	case <-time.After(5 * time.Second):
		t.Fatal("CreateRequest did not return with a store-backed calendar")
	}

	// The holiday is excluded from the charge and surfaced as a flag.
	assert.Equal(t, "4", req.CalculatedDays.String())
	assert.True(t, req.HasConflict(absence.ConflictPublicHoliday))

	rechecked := make(chan result, 1)
	go func() {
		r, err := svc.RecheckConflicts(ctx, req.ID)
		rechecked <- result{r, err}
	}()

	select {
	case res := <-rechecked:
		require.NoError(t, res.err)
		assert.True(t, res.req.HasConflict(absence.ConflictPublicHoliday))
	case <-time.After(5 * time.Second):
		t.Fatal("RecheckConflicts did not return with a store-backed calendar")
	}
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAudit_LimitAndOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAudit(ctx, absence.AuditEntry{
			ID:      string(rune('a' + i)),
			At:      base.Add(time.Duration(i) * time.Minute),
			ActorID: "alice",
			Action:  absence.AuditRequestCreated,
			UserID:  "alice",
			Detail:  "entry",
		}))
	}

	got, err := store.QueryAudit(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	assert.True(t, got[0].At.After(got[1].At))
	assert.True(t, got[1].At.After(got[2].At))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s absence.Store) error {
		if err := s.CreateBalance(ctx, testBalance("alice", "holiday")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetBalance(ctx, absence.BalanceKey{UserID: "alice", PlanID: "holiday", Period: "2026"})
	assert.ErrorIs(t, err, absence.ErrBalanceNotFound)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s absence.Store) error {
		if err := s.SavePlan(ctx, testPlan("holiday")); err != nil {
			return err
		}
		return s.CreateBalance(ctx, testBalance("alice", "holiday"))
	})
	require.NoError(t, err)

	got, err := store.GetBalance(ctx, absence.BalanceKey{UserID: "alice", PlanID: "holiday", Period: "2026"})
	require.NoError(t, err)
	assert.Equal(t, "25", got.Remaining.String())
}
