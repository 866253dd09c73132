/*
store.go - Persistence interfaces for the absence engine

PURPOSE:
  Defines the contract between the domain logic and the database.
  Implementations: store/sqlite (production), store/memory (tests).

CONCURRENCY CONTRACT:
  Balances are the only shared mutable resource. CreateBalance must be
  backed by a uniqueness constraint on (user, plan, period) so concurrent
  lazy creations collapse to one row (create, on ErrDuplicateBalance
  refetch). UpdateBalance must be an atomic compare-and-swap on Version
  so two transitions against the same row cannot both commit from the
  same snapshot.

WithTx:
  Lifecycle transitions read the request's current status and write the
  balance delta inside one WithTx closure, so no concurrent transition
  can interleave between "read old state" and "write new state". If the
  closure returns an error nothing is committed.
*/
package absence

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// PlanStore persists plan and accrual-policy configuration. Read-mostly;
// safe to cache.
type PlanStore interface {
	SavePlan(ctx context.Context, plan Plan) error
	// GetPlan returns ErrPlanNotFound for unknown IDs.
	GetPlan(ctx context.Context, id PlanID) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)

	SaveAccrualPolicy(ctx context.Context, policy AccrualPolicy) error
	// ActiveAccrualPolicy returns the single active policy for a plan,
	// or (nil, nil) when the plan accrues nothing.
	ActiveAccrualPolicy(ctx context.Context, planID PlanID) (*AccrualPolicy, error)
}

// BalanceStore persists ledger rows.
type BalanceStore interface {
	// GetBalance returns ErrBalanceNotFound for missing keys.
	GetBalance(ctx context.Context, key BalanceKey) (*Balance, error)
	// CreateBalance returns ErrDuplicateBalance when the unique
	// (user, plan, period) constraint rejects the insert.
	CreateBalance(ctx context.Context, b Balance) error
	// UpdateBalance commits b only if the stored Version equals
	// expectedVersion, incrementing it; otherwise ErrConcurrencyConflict.
	UpdateBalance(ctx context.Context, b Balance, expectedVersion int) error
	ListBalancesByUser(ctx context.Context, userID UserID) ([]Balance, error)
}

// RequestStore persists absence requests.
type RequestStore interface {
	SaveRequest(ctx context.Context, r Request) error
	UpdateRequest(ctx context.Context, r Request) error
	// GetRequest returns ErrRequestNotFound for unknown IDs.
	GetRequest(ctx context.Context, id RequestID) (*Request, error)
	// ListRequestsByUser returns the user's requests whose date range
	// intersects [from, to], all statuses, ordered by start date.
	ListRequestsByUser(ctx context.Context, userID UserID, from, to time.Time) ([]Request, error)
	ListRequestsByStatus(ctx context.Context, status RequestStatus) ([]Request, error)
}

// EpisodeStore persists sickness episodes.
type EpisodeStore interface {
	SaveEpisode(ctx context.Context, e SicknessEpisode) error
	UpdateEpisode(ctx context.Context, e SicknessEpisode) error
	// GetEpisode returns ErrEpisodeNotFound for unknown IDs.
	GetEpisode(ctx context.Context, id EpisodeID) (*SicknessEpisode, error)
	// ListEpisodesByUser returns episodes overlapping [from, to].
	ListEpisodesByUser(ctx context.Context, userID UserID, from, to time.Time) ([]SicknessEpisode, error)
}

// BlackoutStore persists plan blackout windows for the conflict detector.
type BlackoutStore interface {
	SaveBlackout(ctx context.Context, w BlackoutWindow) error
	DeleteBlackout(ctx context.Context, id string) error
	BlackoutsForPlan(ctx context.Context, planID PlanID) ([]BlackoutWindow, error)
}

// Store bundles everything a lifecycle transition may touch.
type Store interface {
	PlanStore
	BalanceStore
	RequestStore
	EpisodeStore
	BlackoutStore
	AuditLog
}

// TxStore wraps Store with transaction support. fn runs against a Store
// bound to the transaction; returning an error rolls everything back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Append-only record of who did what when
// =============================================================================

type AuditAction string

const (
	AuditRequestCreated  AuditAction = "request_created"
	AuditStepApproved    AuditAction = "request_step_approved"
	AuditRequestApproved AuditAction = "request_approved"
	AuditRequestRejected AuditAction = "request_rejected"
	AuditRequestCancelled AuditAction = "request_cancelled"
	AuditBalanceAdjusted AuditAction = "balance_adjusted"
	AuditEpisodeOpened   AuditAction = "episode_opened"
	AuditEpisodeClosed   AuditAction = "episode_closed"
)

// AuditEntry records a single action. Entries are append-only; corrections
// are new entries, never edits.
type AuditEntry struct {
	ID        string
	At        time.Time
	ActorID   string
	Action    AuditAction
	UserID    UserID
	PlanID    PlanID
	RequestID RequestID
	Detail    string
}

// AuditLog stores audit entries.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, userID UserID, limit int) ([]AuditEntry, error)
}
