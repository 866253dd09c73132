package absence

// ============================================================================
// PURPOSE: Request lifecycle. A request moves PENDING -> APPROVED/REJECTED/
// CANCELLED, and an approved request can still be cancelled. Every transition
// runs inside a single store transaction so the status check and the balance
// adjustment commit or roll back together.
//
// SEE ALSO: ledger.go (balance deltas), conflict.go (advisory checks),
// approval.go (chain construction).
// ============================================================================

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RequestStatus string

const (
	StatusDraft     RequestStatus = "DRAFT"
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusCancelled RequestStatus = "CANCELLED"
	// StatusWithdrawn exists in the data model for imports from systems
	// that distinguish withdrawal from cancellation. No transition here
	// produces it.
	StatusWithdrawn RequestStatus = "WITHDRAWN"
)

// Request is a single absence booking against one plan and one period.
// CalculatedDays is fixed at submission time; later holiday or schedule
// changes never retroactively resize a request.
type Request struct {
	ID     RequestID
	UserID UserID
	PlanID PlanID
	Period string

	StartDate      time.Time
	EndDate        time.Time
	IsPartialDay   bool
	PartialDayType PartialDayType
	Hours          *decimal.Decimal
	CalculatedDays decimal.Decimal

	Status RequestStatus
	Reason string

	// Advisory findings captured at submission. HasConflicts is denormalised
	// so list queries can filter without unpacking the slice.
	Conflicts    []Conflict
	HasConflicts bool

	// Balance snapshots taken at submission: Remaining before the request,
	// and what Remaining will be once the request is taken.
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal

	ApprovalChain     []ApprovalStep
	CurrentApproverID string
	ApprovalComment   string
	RejectionReason   string

	SubmittedAt time.Time
	ApprovedAt  *time.Time
	RejectedAt  *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// HasConflict reports whether a conflict of the given type was recorded
// against the request at submission time.
func (r *Request) HasConflict(t ConflictType) bool {
	for _, c := range r.Conflicts {
		if c.Type == t {
			return true
		}
	}
	return false
}

// CreateInput carries everything needed to submit a request. Period is
// explicit so historical and future bookings behave identically to current
// ones; callers typically pass CalendarYear(StartDate.Year()).
type CreateInput struct {
	UserID         UserID
	PlanID         PlanID
	Period         Period
	StartDate      time.Time
	EndDate        time.Time
	IsPartialDay   bool
	PartialDayType PartialDayType
	Hours          *decimal.Decimal
	Reason         string
}

// Service coordinates requests, balances and conflicts over a transactional
// store. It is safe for concurrent use.
type Service struct {
	store       TxStore
	holidays    HolidayCalendar
	dispatcher  Dispatcher
	identity    IdentityProvider
	hoursPerDay decimal.Decimal
	log         *logrus.Logger
	now         func() time.Time
}

type ServiceOption func(*Service)

func WithHolidayCalendar(cal HolidayCalendar) ServiceOption {
	return func(s *Service) { s.holidays = cal }
}

func WithDispatcher(d Dispatcher) ServiceOption {
	return func(s *Service) { s.dispatcher = d }
}

func WithIdentityProvider(p IdentityProvider) ServiceOption {
	return func(s *Service) { s.identity = p }
}

func WithHoursPerDay(h decimal.Decimal) ServiceOption {
	return func(s *Service) { s.hoursPerDay = h }
}

func WithLogger(l *logrus.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source. Tests use it to pin timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store TxStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		holidays:    EmptyCalendar{},
		dispatcher:  NopDispatcher{},
		hoursPerDay: DefaultHoursPerDay,
		log:         logrus.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest validates the input, computes the working-day cost, runs the
// conflict checks and books the cost as pending, all in one transaction. The
// request lands in PENDING even when conflicts were found; conflicts advise
// the approver, they do not block submission.
func (svc *Service) CreateRequest(ctx context.Context, in CreateInput) (*Request, error) {
	if in.UserID == "" {
		return nil, validationErr("missing_user", "userId is required")
	}
	if svc.identity != nil {
		if _, err := svc.identity.ResolveUser(ctx, string(in.UserID)); err != nil {
			return nil, err
		}
	}

	plan, err := svc.store.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, validationErr("plan_inactive", "plan %s is not active", plan.ID)
	}

	holidays := svc.holidaySnapshot(*plan, in.StartDate, in.EndDate)
	days, err := RequestDays(in.StartDate, in.EndDate, in.IsPartialDay, in.Hours, svc.hoursPerDay, *plan, holidays)
	if err != nil {
		return nil, err
	}
	if !plan.EffectiveOn(DayOf(in.StartDate)) {
		return nil, validationErr("plan_not_effective", "plan %s is not effective on %s",
			plan.ID, in.StartDate.Format("2006-01-02"))
	}
	if days.Sign() <= 0 {
		return nil, validationErr("zero_days", "range %s to %s contains no working days",
			in.StartDate.Format("2006-01-02"), in.EndDate.Format("2006-01-02"))
	}

	now := svc.now()
	req := &Request{
		ID:             RequestID(uuid.NewString()),
		UserID:         in.UserID,
		PlanID:         in.PlanID,
		Period:         in.Period.Label,
		StartDate:      DayOf(in.StartDate),
		EndDate:        DayOf(in.EndDate),
		IsPartialDay:   in.IsPartialDay,
		PartialDayType: partialDayArg(in),
		Hours:          in.Hours,
		CalculatedDays: days,
		Status:         StatusPending,
		Reason:         in.Reason,
		ApprovalChain:  BuildApprovalChain(*plan),
		SubmittedAt:    now,
		UpdatedAt:      now,
	}

	err = svc.store.WithTx(ctx, func(s Store) error {
		ledger := NewLedger(s)
		bal, err := ledger.GetOrCreate(ctx, in.UserID, in.PlanID, in.Period)
		if err != nil {
			return err
		}

		existing, err := s.ListRequestsByUser(ctx, in.UserID, req.StartDate, req.EndDate)
		if err != nil {
			return err
		}
		blackouts, err := s.BlackoutsForPlan(ctx, in.PlanID)
		if err != nil {
			return err
		}
		req.Conflicts = Detect(ConflictInput{
			UserID:         in.UserID,
			RequestID:      req.ID,
			StartDate:      req.StartDate,
			EndDate:        req.EndDate,
			RequestedDays:  days,
			Plan:           *plan,
			Balance:        *bal,
			ExistingByUser: existing,
			Blackouts:      blackouts,
			Holidays:       holidays,
		})
		req.HasConflicts = len(req.Conflicts) > 0
		req.BalanceBefore = bal.Remaining
		req.BalanceAfter = bal.Remaining.Sub(days)

		if err := s.SaveRequest(ctx, *req); err != nil {
			return err
		}
		if _, err := ledger.ApplyDelta(ctx, bal.Key(), Delta{Pending: days}); err != nil {
			return err
		}
		return s.AppendAudit(ctx, AuditEntry{
			ID:        uuid.NewString(),
			Action:    AuditRequestCreated,
			ActorID:   string(in.UserID),
			RequestID: req.ID,
			UserID:    in.UserID,
			Detail:    days.String() + " days " + string(plan.Type),
			At:        now,
		})
	})
	if err != nil {
		return nil, err
	}

	svc.notify(ctx, EventRequestSubmitted, req)
	return req, nil
}

// Approve records the approver's decision on the current chain step. When
// earlier steps remain the request stays PENDING and the balance is
// untouched; only the final step moves pending days to scheduled.
func (svc *Service) Approve(ctx context.Context, id RequestID, approverID, comment string) (*Request, error) {
	var req *Request
	var finalized bool

	err := svc.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			return &InvalidStateError{RequestID: id, Current: cur.Status, Expected: "pending", Operation: "approve"}
		}

		now := svc.now()
		if i := nextPendingStep(cur.ApprovalChain); i >= 0 {
			cur.ApprovalChain[i].Status = StepApproved
			cur.ApprovalChain[i].ApproverID = approverID
			cur.ApprovalChain[i].DecidedAt = &now
		}
		cur.CurrentApproverID = approverID
		cur.ApprovalComment = comment
		cur.UpdatedAt = now

		if nextPendingStep(cur.ApprovalChain) >= 0 {
			// Intermediate step approved. No balance movement yet.
			if err := s.UpdateRequest(ctx, *cur); err != nil {
				return err
			}
			req = cur
			return s.AppendAudit(ctx, AuditEntry{
				ID:        uuid.NewString(),
				Action:    AuditStepApproved,
				ActorID:   approverID,
				RequestID: id,
				UserID:    cur.UserID,
				Detail:    comment,
				At:        now,
			})
		}

		plan, err := s.GetPlan(ctx, cur.PlanID)
		if err != nil {
			return err
		}

		cur.Status = StatusApproved
		cur.ApprovedAt = &now
		if err := s.UpdateRequest(ctx, *cur); err != nil {
			return err
		}

		ledger := NewLedger(s)
		key := BalanceKey{UserID: cur.UserID, PlanID: cur.PlanID, Period: cur.Period}
		bal, err := ledger.ApplyDelta(ctx, key, Delta{
			Pending:   cur.CalculatedDays.Neg(),
			Scheduled: cur.CalculatedDays,
		})
		if err != nil {
			return err
		}
		// Approving a request flagged EXCEEDS_BALANCE is the explicit
		// override; otherwise a negative remaining rolls everything back.
		if bal.Remaining.IsNegative() && !plan.AllowsNegativeBalance && !cur.HasConflict(ConflictExceedsBalance) {
			return validationErr("negative_balance",
				"approving request %s would leave balance %s at %s days", id, key, bal.Remaining)
		}

		finalized = true
		req = cur
		return s.AppendAudit(ctx, AuditEntry{
			ID:        uuid.NewString(),
			Action:    AuditRequestApproved,
			ActorID:   approverID,
			RequestID: id,
			UserID:    cur.UserID,
			Detail:    comment,
			At:        now,
		})
	})
	if err != nil {
		return nil, err
	}

	if finalized {
		svc.notify(ctx, EventRequestApproved, req)
	}
	return req, nil
}

// Reject declines a pending request and releases its pending days. A reason
// is mandatory; rejections without one are a support burden.
func (svc *Service) Reject(ctx context.Context, id RequestID, approverID, reason string) (*Request, error) {
	if reason == "" {
		return nil, validationErr("missing_reason", "a rejection reason is required")
	}

	var req *Request
	err := svc.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			return &InvalidStateError{RequestID: id, Current: cur.Status, Expected: "pending", Operation: "reject"}
		}

		now := svc.now()
		cur.Status = StatusRejected
		cur.RejectedAt = &now
		cur.RejectionReason = reason
		cur.CurrentApproverID = approverID
		cur.UpdatedAt = now
		if err := s.UpdateRequest(ctx, *cur); err != nil {
			return err
		}

		ledger := NewLedger(s)
		key := BalanceKey{UserID: cur.UserID, PlanID: cur.PlanID, Period: cur.Period}
		if _, err := ledger.ApplyDelta(ctx, key, Delta{Pending: cur.CalculatedDays.Neg()}); err != nil {
			return err
		}

		req = cur
		return s.AppendAudit(ctx, AuditEntry{
			ID:        uuid.NewString(),
			Action:    AuditRequestRejected,
			ActorID:   approverID,
			RequestID: id,
			UserID:    cur.UserID,
			Detail:    reason,
			At:        now,
		})
	})
	if err != nil {
		return nil, err
	}

	svc.notify(ctx, EventRequestRejected, req)
	return req, nil
}

// Cancel withdraws a request on behalf of its owner. Cancelling a pending
// request releases pending days; cancelling an approved one releases
// scheduled days. Cancelling twice is rejected rather than silently ignored
// so the balance can never be credited back a second time.
func (svc *Service) Cancel(ctx context.Context, id RequestID, userID UserID) (*Request, error) {
	var req *Request
	err := svc.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		if cur.Status != StatusPending && cur.Status != StatusApproved {
			return &InvalidStateError{RequestID: id, Current: cur.Status, Expected: "pending or approved", Operation: "cancel"}
		}
		if cur.UserID != userID {
			return validationErr("not_requester", "request %s belongs to %s", id, cur.UserID)
		}

		delta := Delta{Pending: cur.CalculatedDays.Neg()}
		if cur.Status == StatusApproved {
			delta = Delta{Scheduled: cur.CalculatedDays.Neg()}
		}

		now := svc.now()
		cur.Status = StatusCancelled
		cur.CancelledAt = &now
		cur.UpdatedAt = now
		if err := s.UpdateRequest(ctx, *cur); err != nil {
			return err
		}

		ledger := NewLedger(s)
		key := BalanceKey{UserID: cur.UserID, PlanID: cur.PlanID, Period: cur.Period}
		if _, err := ledger.ApplyDelta(ctx, key, delta); err != nil {
			return err
		}

		req = cur
		return s.AppendAudit(ctx, AuditEntry{
			ID:        uuid.NewString(),
			Action:    AuditRequestCancelled,
			ActorID:   string(userID),
			RequestID: id,
			UserID:    cur.UserID,
			At:        now,
		})
	})
	if err != nil {
		return nil, err
	}

	svc.notify(ctx, EventRequestCancelled, req)
	return req, nil
}

// Request fetches a single request by id.
func (svc *Service) Request(ctx context.Context, id RequestID) (*Request, error) {
	return svc.store.GetRequest(ctx, id)
}

// UserRequests lists a user's requests overlapping [from, to].
func (svc *Service) UserRequests(ctx context.Context, userID UserID, from, to time.Time) ([]Request, error) {
	return svc.store.ListRequestsByUser(ctx, userID, from, to)
}

// PendingRequests lists requests awaiting a decision, oldest first.
func (svc *Service) PendingRequests(ctx context.Context) ([]Request, error) {
	return svc.store.ListRequestsByStatus(ctx, StatusPending)
}

// BalanceFor returns the user's balance for a plan and period, creating it
// lazily from plan defaults on first access.
func (svc *Service) BalanceFor(ctx context.Context, userID UserID, planID PlanID, period Period) (*Balance, error) {
	var bal *Balance
	err := svc.store.WithTx(ctx, func(s Store) error {
		var err error
		bal, err = NewLedger(s).GetOrCreate(ctx, userID, planID, period)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// holidaySnapshot resolves the configured calendar into a fixed slice for
// the request's date range. Store-backed calendars take the store's read
// lock, so the resolution has to happen before WithTx acquires the write
// lock; the snapshot is what flows into transactional code.
func (svc *Service) holidaySnapshot(plan Plan, from, to time.Time) HolidayCalendar {
	if !plan.ExcludesPublicHolidays || svc.holidays == nil {
		return EmptyCalendar{}
	}
	return FixedCalendar(svc.holidays.HolidaysInRange(DayOf(from), DayOf(to)))
}

// RecheckConflicts re-runs the conflict checks for a pending request against
// the current state of the calendar and balance, and persists the refreshed
// findings. Approvers use it when a request has been sitting in the queue.
func (svc *Service) RecheckConflicts(ctx context.Context, id RequestID) (*Request, error) {
	// The request's dates and plan are read ahead of the transaction so the
	// calendar can be resolved without the store lock held. Both are
	// immutable once submitted, so the early read cannot go stale.
	snap, err := svc.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	snapPlan, err := svc.store.GetPlan(ctx, snap.PlanID)
	if err != nil {
		return nil, err
	}
	holidays := svc.holidaySnapshot(*snapPlan, snap.StartDate, snap.EndDate)

	var req *Request
	err = svc.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			return &InvalidStateError{RequestID: id, Current: cur.Status, Expected: "pending", Operation: "recheck conflicts"}
		}
		plan, err := s.GetPlan(ctx, cur.PlanID)
		if err != nil {
			return err
		}
		key := BalanceKey{UserID: cur.UserID, PlanID: cur.PlanID, Period: cur.Period}
		bal, err := s.GetBalance(ctx, key)
		if err != nil {
			return err
		}
		existing, err := s.ListRequestsByUser(ctx, cur.UserID, cur.StartDate, cur.EndDate)
		if err != nil {
			return err
		}
		blackouts, err := s.BlackoutsForPlan(ctx, cur.PlanID)
		if err != nil {
			return err
		}

		cur.Conflicts = Detect(ConflictInput{
			UserID:         cur.UserID,
			RequestID:      cur.ID,
			StartDate:      cur.StartDate,
			EndDate:        cur.EndDate,
			RequestedDays:  cur.CalculatedDays,
			Plan:           *plan,
			Balance:        *bal,
			ExistingByUser: existing,
			Blackouts:      blackouts,
			Holidays:       holidays,
		})
		cur.HasConflicts = len(cur.Conflicts) > 0
		cur.UpdatedAt = svc.now()
		req = cur
		return s.UpdateRequest(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (svc *Service) notify(ctx context.Context, t EventType, req *Request) {
	svc.dispatcher.Notify(ctx, Event{
		Type:      t,
		RequestID: req.ID,
		UserID:    req.UserID,
		PlanID:    req.PlanID,
		At:        svc.now(),
	})
}

func partialDayArg(in CreateInput) PartialDayType {
	if !in.IsPartialDay {
		return ""
	}
	if in.PartialDayType == "" {
		return PartialMorning
	}
	return in.PartialDayType
}
