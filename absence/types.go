/*
Package absence implements the absence entitlement and approval engine.

PURPOSE:
  This package contains the business-rule core for absence management:
  plan configuration, accrual evaluation, the per-(user, plan, period)
  balance ledger, the request lifecycle state machine, conflict
  detection, and sickness episode tracking.

KEY CONCEPTS IN THIS FILE (types.go):
  - Plan: Immutable-per-version absence plan configuration
  - RoundingRule: How raw durations become stored day values
  - CarryoverRule: What survives a period boundary
  - AccrualPolicy: How entitlement grows over time
  - ApprovalStep: One link of a plan's approval chain
  - SicknessEpisode: Sickness-specific metadata beside the ledger

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for every day amount - 0.25-day
     increments must survive storage without floating-point drift
  2. Type Safety: Strong typing for IDs prevents mixing user/plan IDs
  3. Purity: Accrual evaluation and conflict detection are side-effect
     free; only the ledger mutates state

SEE ALSO:
  - balance.go: The ledger row and its derived fields
  - ledger.go: The only mutation path into balances
  - request.go: Request lifecycle state machine
  - conflict.go: Advisory conflict detection
*/
package absence

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type PlanID string
type RequestID string
type EpisodeID string

// =============================================================================
// UNITS AND DAY AMOUNTS
// =============================================================================

type Unit string

const (
	UnitDay  Unit = "day"
	UnitHour Unit = "hour"
)

// Days builds a day amount from a float literal. Test and seed helper;
// production paths parse decimals from storage or request payloads.
func Days(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// MustParseDecimal parses a stored decimal string, returning zero on
// malformed input rather than propagating a scan error.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// ROUNDING
// =============================================================================

type RoundingMethod string

const (
	RoundUp      RoundingMethod = "up"      // ceiling to precision
	RoundDown    RoundingMethod = "down"    // floor to precision
	RoundNearest RoundingMethod = "nearest" // round-half-up to precision
)

// RoundingRule controls how any days value derived from a raw duration is
// normalized before it is stored or compared. Precision is one of
// 0.25, 0.5 or 1.
type RoundingRule struct {
	Method    RoundingMethod
	Precision decimal.Decimal
}

// DefaultRounding keeps quarter-day granularity.
func DefaultRounding() RoundingRule {
	return RoundingRule{Method: RoundNearest, Precision: decimal.NewFromFloat(0.25)}
}

// Apply rounds d to the rule's precision. A zero precision passes the
// value through untouched.
func (r RoundingRule) Apply(d decimal.Decimal) decimal.Decimal {
	if r.Precision.IsZero() {
		return d
	}
	steps := d.Div(r.Precision)
	switch r.Method {
	case RoundUp:
		steps = steps.Ceil()
	case RoundDown:
		steps = steps.Floor()
	default:
		steps = steps.Round(0)
	}
	return steps.Mul(r.Precision)
}

// =============================================================================
// PLAN - Immutable-per-version absence plan configuration
// =============================================================================

type PlanType string

const (
	PlanHoliday     PlanType = "holiday"
	PlanBirthday    PlanType = "birthday"
	PlanLevelUpDays PlanType = "level_up_days"
	PlanSickness    PlanType = "sickness"
	PlanOther       PlanType = "other"
)

type ApprovalChainType string

const (
	ChainNone         ApprovalChainType = "none"
	ChainManager      ApprovalChainType = "manager"
	ChainManagerAndHR ApprovalChainType = "manager_and_hr"
	ChainHROnly       ApprovalChainType = "hr_only"
	ChainCustom       ApprovalChainType = "custom"
)

// CarryoverRule controls what part of an unused balance survives into the
// next period.
type CarryoverRule struct {
	Enabled      bool
	MaxDays      decimal.Decimal
	ExpiryMonths int
}

// Plan is the configured category of absence. Referenced by ID from every
// balance and request; edited only by administrators and versioned, so it
// is safe to cache.
type Plan struct {
	ID                    PlanID
	Name                  string
	Type                  PlanType
	Unit                  Unit
	DefaultEntitlement    *decimal.Decimal
	ApprovalChainType     ApprovalChainType
	CustomApprovalChain   []ApprovalStep // only for ChainCustom
	AllowsNegativeBalance bool
	RequiresAttachment    bool
	Carryover             CarryoverRule
	Rounding              RoundingRule
	ExcludesPublicHolidays bool
	IsActive              bool
	EffectiveFrom         time.Time
	EffectiveTo           *time.Time
	Version               int
}

// EffectiveOn reports whether the plan version applies on the given date.
func (p Plan) EffectiveOn(date time.Time) bool {
	if !p.IsActive {
		return false
	}
	if date.Before(p.EffectiveFrom) {
		return false
	}
	if p.EffectiveTo != nil && date.After(*p.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// ACCRUAL POLICY
// =============================================================================

type AccrualMethod string

const (
	AccrualNone    AccrualMethod = "none"
	AccrualAnnual  AccrualMethod = "annual"
	AccrualMonthly AccrualMethod = "monthly"
	AccrualProRata AccrualMethod = "pro_rata"
	AccrualRolling AccrualMethod = "rolling"
)

type AccrualFrequency string

const (
	FreqUpfront AccrualFrequency = "upfront"
	FreqMonthly AccrualFrequency = "monthly"
)

// AccrualPolicy describes how entitlement accumulates for a plan.
// At most one policy may be active per plan at a time; the store enforces
// this with a partial unique index.
type AccrualPolicy struct {
	ID                string
	PlanID            PlanID
	Method            AccrualMethod
	Frequency         AccrualFrequency
	AnnualEntitlement decimal.Decimal
	AccrualRate       decimal.Decimal // days per completed month (AccrualMonthly)
	MaxAccrualDays    *decimal.Decimal
	WindowDays        int  // AccrualRolling: trailing window length
	TrackEpisodes     bool // AccrualRolling: count episodes in the window
	IsActive          bool
}

// =============================================================================
// APPROVAL CHAIN - Tagged sequence of approval steps
// =============================================================================

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
)

// ApprovalStep is one link of a request's approval chain, evaluated in
// Level order. A request reaches APPROVED only when every step has.
type ApprovalStep struct {
	Level        int
	ApproverRole string
	Status       StepStatus
	ApproverID   string
	DecidedAt    *time.Time
}

// =============================================================================
// SICKNESS EPISODE
// =============================================================================

type SicknessType string

const (
	SicknessShortTerm SicknessType = "short_term"
	SicknessLongTerm  SicknessType = "long_term"
	SicknessInjury    SicknessType = "injury"
	SicknessOtherType SicknessType = "other"
)

// SicknessEpisode carries sickness-specific metadata beside the ledger.
// Its lifecycle is independent of AbsenceRequest but it may reference one.
type SicknessEpisode struct {
	ID                   EpisodeID
	UserID               UserID
	StartDate            time.Time
	EndDate              *time.Time // nil = ongoing
	Type                 SicknessType
	IsCertified          bool
	IsReturnedToWork     bool
	RequiresRTWInterview bool
	TriggersThreshold    bool // derived from episode count in the rolling window
	RequestID            RequestID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DurationDays returns the inclusive calendar-day length of the episode,
// using asOf for ongoing episodes.
func (e SicknessEpisode) DurationDays(asOf time.Time) int {
	end := asOf
	if e.EndDate != nil {
		end = *e.EndDate
	}
	if end.Before(e.StartDate) {
		return 0
	}
	return int(DayOf(end).Sub(DayOf(e.StartDate)).Hours()/24) + 1
}

// =============================================================================
// BLACKOUT WINDOWS
// =============================================================================

// BlackoutWindow is a plan-configured date range during which absence
// requests are flagged. Advisory: a flagged request is still created.
type BlackoutWindow struct {
	ID     string
	PlanID PlanID
	Name   string
	Start  time.Time
	End    time.Time
}
