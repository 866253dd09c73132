/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  All dates cross the wire as YYYY-MM-DD strings; timestamps as RFC3339.
  Day amounts are JSON strings ("2.5") to keep quarter-day precision out
  of float64.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/absence-engine/absence"
)

const dateLayout = "2006-01-02"

// =============================================================================
// PLAN TYPES
// =============================================================================

// PlanDTO represents a plan in API responses.
type PlanDTO struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	Type                   string     `json:"type"`
	Unit                   string     `json:"unit"`
	DefaultEntitlement     *string    `json:"default_entitlement,omitempty"`
	ApprovalChainType      string     `json:"approval_chain_type"`
	AllowsNegativeBalance  bool       `json:"allows_negative_balance"`
	RequiresAttachment     bool       `json:"requires_attachment"`
	CarryoverEnabled       bool       `json:"carryover_enabled"`
	CarryoverMaxDays       string     `json:"carryover_max_days"`
	ExcludesPublicHolidays bool       `json:"excludes_public_holidays"`
	IsActive               bool       `json:"is_active"`
	EffectiveFrom          string     `json:"effective_from"`
	EffectiveTo            *string    `json:"effective_to,omitempty"`
	Version                int        `json:"version"`
}

// SavePlanRequest is the request to create or update a plan.
type SavePlanRequest struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Type                   string   `json:"type"`
	Unit                   string   `json:"unit"`
	DefaultEntitlement     *string  `json:"default_entitlement,omitempty"`
	ApprovalChainType      string   `json:"approval_chain_type"`
	AllowsNegativeBalance  bool     `json:"allows_negative_balance"`
	RequiresAttachment     bool     `json:"requires_attachment"`
	CarryoverEnabled       bool     `json:"carryover_enabled"`
	CarryoverMaxDays       string   `json:"carryover_max_days,omitempty"`
	CarryoverExpiryMonths  int      `json:"carryover_expiry_months,omitempty"`
	ExcludesPublicHolidays bool     `json:"excludes_public_holidays"`
	EffectiveFrom          string   `json:"effective_from"`
	EffectiveTo            *string  `json:"effective_to,omitempty"`
}

// SaveAccrualPolicyRequest configures how a plan accrues.
type SaveAccrualPolicyRequest struct {
	ID                string  `json:"id"`
	Method            string  `json:"method"`
	Frequency         string  `json:"frequency"`
	AnnualEntitlement string  `json:"annual_entitlement"`
	AccrualRate       string  `json:"accrual_rate,omitempty"`
	MaxAccrualDays    *string `json:"max_accrual_days,omitempty"`
	WindowDays        int     `json:"window_days,omitempty"`
	TrackEpisodes     bool    `json:"track_episodes,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitRequestDTO is the body for submitting an absence request.
type SubmitRequestDTO struct {
	UserID         string  `json:"user_id"`
	PlanID         string  `json:"plan_id"`
	Period         string  `json:"period,omitempty"` // e.g. "2026"; defaults to start date's year
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	IsPartialDay   bool    `json:"is_partial_day,omitempty"`
	PartialDayType string  `json:"partial_day_type,omitempty"`
	Hours          *string `json:"hours,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// DecisionDTO carries an approver's decision.
type DecisionDTO struct {
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment,omitempty"`
	Reason     string `json:"reason,omitempty"` // rejections
}

// CancelDTO identifies who is cancelling.
type CancelDTO struct {
	UserID string `json:"user_id"`
}

// ConflictDTO is one advisory finding on a request.
type ConflictDTO struct {
	Type        string `json:"type"`
	CanOverride bool   `json:"can_override"`
	Detail      string `json:"detail"`
}

// ApprovalStepDTO is one step of a request's approval chain.
type ApprovalStepDTO struct {
	Level        int     `json:"level"`
	ApproverRole string  `json:"approver_role"`
	Status       string  `json:"status"`
	ApproverID   string  `json:"approver_id,omitempty"`
	DecidedAt    *string `json:"decided_at,omitempty"`
}

// RequestDTO represents a request in API responses.
type RequestDTO struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	PlanID         string            `json:"plan_id"`
	Period         string            `json:"period"`
	StartDate      string            `json:"start_date"`
	EndDate        string            `json:"end_date"`
	IsPartialDay   bool              `json:"is_partial_day,omitempty"`
	Hours          *string           `json:"hours,omitempty"`
	CalculatedDays string            `json:"calculated_days"`
	Status         string            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	HasConflicts   bool              `json:"has_conflicts"`
	Conflicts      []ConflictDTO     `json:"conflicts,omitempty"`
	BalanceBefore  string            `json:"balance_before"`
	BalanceAfter   string            `json:"balance_after"`
	ApprovalChain  []ApprovalStepDTO `json:"approval_chain,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	SubmittedAt    string            `json:"submitted_at"`
	ApprovedAt     *string           `json:"approved_at,omitempty"`
	RejectedAt     *string           `json:"rejected_at,omitempty"`
	CancelledAt    *string           `json:"cancelled_at,omitempty"`
}

// =============================================================================
// BALANCE TYPES
// =============================================================================

// BalanceDTO represents one (user, plan, period) ledger row.
type BalanceDTO struct {
	UserID      string `json:"user_id"`
	PlanID      string `json:"plan_id"`
	Period      string `json:"period"`
	Entitlement string `json:"entitlement"`
	Accrued     string `json:"accrued"`
	Carryover   string `json:"carryover"`
	Taken       string `json:"taken"`
	Scheduled   string `json:"scheduled"`
	Pending     string `json:"pending"`
	Remaining   string `json:"remaining"`
	Available   string `json:"available"`
	Episodes    int    `json:"episodes,omitempty"`
	AsOf        string `json:"as_of"`
}

// =============================================================================
// EPISODE TYPES
// =============================================================================

// OpenEpisodeRequest starts a sickness episode.
type OpenEpisodeRequest struct {
	UserID    string `json:"user_id"`
	StartDate string `json:"start_date"`
	Type      string `json:"type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// CloseEpisodeRequest ends a sickness episode.
type CloseEpisodeRequest struct {
	EndDate string `json:"end_date"`
}

// EpisodeDTO represents an episode in API responses.
type EpisodeDTO struct {
	ID                   string  `json:"id"`
	UserID               string  `json:"user_id"`
	StartDate            string  `json:"start_date"`
	EndDate              *string `json:"end_date,omitempty"`
	Type                 string  `json:"type"`
	IsCertified          bool    `json:"is_certified"`
	IsReturnedToWork     bool    `json:"is_returned_to_work"`
	RequiresRTWInterview bool    `json:"requires_rtw_interview"`
	TriggersThreshold    bool    `json:"triggers_threshold"`
	DurationDays         int     `json:"duration_days"`
}

// =============================================================================
// CALENDAR TYPES
// =============================================================================

// HolidayDTO represents a public holiday.
type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// BlackoutDTO represents a blackout window.
type BlackoutDTO struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ErrorResponse is the envelope for error payloads.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toPlanDTO(p absence.Plan) PlanDTO {
	dto := PlanDTO{
		ID:                     string(p.ID),
		Name:                   p.Name,
		Type:                   string(p.Type),
		Unit:                   string(p.Unit),
		ApprovalChainType:      string(p.ApprovalChainType),
		AllowsNegativeBalance:  p.AllowsNegativeBalance,
		RequiresAttachment:     p.RequiresAttachment,
		CarryoverEnabled:       p.Carryover.Enabled,
		CarryoverMaxDays:       p.Carryover.MaxDays.String(),
		ExcludesPublicHolidays: p.ExcludesPublicHolidays,
		IsActive:               p.IsActive,
		EffectiveFrom:          p.EffectiveFrom.Format(dateLayout),
		Version:                p.Version,
	}
	if p.DefaultEntitlement != nil {
		s := p.DefaultEntitlement.String()
		dto.DefaultEntitlement = &s
	}
	if p.EffectiveTo != nil {
		s := p.EffectiveTo.Format(dateLayout)
		dto.EffectiveTo = &s
	}
	return dto
}

func toRequestDTO(r absence.Request) RequestDTO {
	dto := RequestDTO{
		ID:              string(r.ID),
		UserID:          string(r.UserID),
		PlanID:          string(r.PlanID),
		Period:          r.Period,
		StartDate:       r.StartDate.Format(dateLayout),
		EndDate:         r.EndDate.Format(dateLayout),
		IsPartialDay:    r.IsPartialDay,
		CalculatedDays:  r.CalculatedDays.String(),
		Status:          string(r.Status),
		Reason:          r.Reason,
		HasConflicts:    r.HasConflicts,
		BalanceBefore:   r.BalanceBefore.String(),
		BalanceAfter:    r.BalanceAfter.String(),
		RejectionReason: r.RejectionReason,
		SubmittedAt:     r.SubmittedAt.Format(time.RFC3339),
		ApprovedAt:      formatTimePtr(r.ApprovedAt),
		RejectedAt:      formatTimePtr(r.RejectedAt),
		CancelledAt:     formatTimePtr(r.CancelledAt),
	}
	if r.Hours != nil {
		s := r.Hours.String()
		dto.Hours = &s
	}
	for _, c := range r.Conflicts {
		dto.Conflicts = append(dto.Conflicts, ConflictDTO{
			Type:        string(c.Type),
			CanOverride: c.CanOverride,
			Detail:      c.Detail,
		})
	}
	for _, step := range r.ApprovalChain {
		dto.ApprovalChain = append(dto.ApprovalChain, ApprovalStepDTO{
			Level:        step.Level,
			ApproverRole: step.ApproverRole,
			Status:       string(step.Status),
			ApproverID:   step.ApproverID,
			DecidedAt:    formatTimePtr(step.DecidedAt),
		})
	}
	return dto
}

func toBalanceDTO(b absence.Balance) BalanceDTO {
	return BalanceDTO{
		UserID:      string(b.UserID),
		PlanID:      string(b.PlanID),
		Period:      b.Period,
		Entitlement: b.Entitlement.String(),
		Accrued:     b.Accrued.String(),
		Carryover:   b.Carryover.String(),
		Taken:       b.Taken.String(),
		Scheduled:   b.Scheduled.String(),
		Pending:     b.Pending.String(),
		Remaining:   b.Remaining.String(),
		Available:   b.Available.String(),
		Episodes:    b.Episodes,
		AsOf:        b.LastCalculatedAt.Format(time.RFC3339),
	}
}

func toEpisodeDTO(e absence.SicknessEpisode, asOf time.Time) EpisodeDTO {
	dto := EpisodeDTO{
		ID:                   string(e.ID),
		UserID:               string(e.UserID),
		StartDate:            e.StartDate.Format(dateLayout),
		Type:                 string(e.Type),
		IsCertified:          e.IsCertified,
		IsReturnedToWork:     e.IsReturnedToWork,
		RequiresRTWInterview: e.RequiresRTWInterview,
		TriggersThreshold:    e.TriggersThreshold,
		DurationDays:         e.DurationDays(asOf),
	}
	if e.EndDate != nil {
		s := e.EndDate.Format(dateLayout)
		dto.EndDate = &s
	}
	return dto
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
