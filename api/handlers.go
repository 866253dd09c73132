/*
handlers.go - HTTP API handlers for the absence engine

PURPOSE:
  Exposes the absence engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Plans:
    GET    /api/plans                       List plans
    POST   /api/plans                       Create or update a plan
    GET    /api/plans/{id}                  Plan details
    POST   /api/plans/{id}/accrual          Configure accrual policy
    GET    /api/plans/{id}/blackouts        List blackout windows
    POST   /api/plans/{id}/blackouts        Add a blackout window
    DELETE /api/blackouts/{id}              Remove a blackout window

  Requests:
    POST   /api/requests                    Submit a request
    GET    /api/requests/pending            Approval queue
    GET    /api/requests/{id}               Request details
    POST   /api/requests/{id}/approve       Approve (advance chain)
    POST   /api/requests/{id}/reject        Reject with reason
    POST   /api/requests/{id}/cancel        Cancel (owner only)
    POST   /api/requests/{id}/conflicts     Re-run conflict checks

  Users:
    GET    /api/users/{id}/requests         Requests in a date range
    GET    /api/users/{id}/balances         All ledger rows
    GET    /api/users/{id}/balance          One row (lazily created)
    POST   /api/users/{id}/balance/recalculate  Refresh accrual fields
    GET    /api/users/{id}/episodes         Sickness episodes
    GET    /api/users/{id}/audit            Audit trail

  Episodes:
    POST   /api/episodes                    Open an episode
    POST   /api/episodes/{id}/close         Close an episode
    POST   /api/episodes/{id}/certify       Record a fit note
    POST   /api/episodes/{id}/return        Record return to work

  Holidays:
    GET    /api/holidays                    List public holidays
    POST   /api/holidays                    Add a public holiday

ERROR HANDLING:
  Domain errors map to HTTP status via writeDomainError:
  - 400: validation errors
  - 404: unknown plan/request/balance/episode/user
  - 409: invalid state transitions, concurrency conflicts, duplicates
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Service  *absence.Service
	Sickness *absence.SicknessTracker
	Log      *logrus.Logger
}

// NewHandler wires a handler over the store. The store's holidays table
// backs the working-day calendar.
func NewHandler(store *sqlite.Store, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Store: store,
		Service: absence.NewService(store,
			absence.WithHolidayCalendar(store.NewCalendar()),
			absence.WithDispatcher(absence.LogDispatcher{Log: log}),
			absence.WithLogger(log),
		),
		Sickness: absence.NewSicknessTracker(store),
		Log:      log,
	}
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns all plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListPlans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPlan returns one plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Store.GetPlan(r.Context(), absence.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// SavePlan creates or updates a plan.
func (h *Handler) SavePlan(w http.ResponseWriter, r *http.Request) {
	var req SavePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Plan name is required", nil)
		return
	}

	effectiveFrom, err := time.Parse(dateLayout, req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from (use YYYY-MM-DD)", err)
		return
	}

	plan := absence.Plan{
		ID:                     absence.PlanID(req.ID),
		Name:                   req.Name,
		Type:                   absence.PlanType(req.Type),
		Unit:                   absence.Unit(req.Unit),
		ApprovalChainType:      absence.ApprovalChainType(req.ApprovalChainType),
		AllowsNegativeBalance:  req.AllowsNegativeBalance,
		RequiresAttachment:     req.RequiresAttachment,
		ExcludesPublicHolidays: req.ExcludesPublicHolidays,
		Rounding:               absence.DefaultRounding(),
		IsActive:               true,
		EffectiveFrom:          effectiveFrom,
		Version:                1,
	}
	if plan.ID == "" {
		plan.ID = absence.PlanID(uuid.NewString())
	}
	if plan.Unit == "" {
		plan.Unit = absence.UnitDay
	}
	if plan.ApprovalChainType == "" {
		plan.ApprovalChainType = absence.ChainManager
	}
	if req.DefaultEntitlement != nil {
		d, err := decimal.NewFromString(*req.DefaultEntitlement)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid default_entitlement", err)
			return
		}
		plan.DefaultEntitlement = &d
	}
	if req.CarryoverEnabled {
		maxDays := decimal.Zero
		if req.CarryoverMaxDays != "" {
			maxDays, err = decimal.NewFromString(req.CarryoverMaxDays)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid carryover_max_days", err)
				return
			}
		}
		plan.Carryover = absence.CarryoverRule{
			Enabled:      true,
			MaxDays:      maxDays,
			ExpiryMonths: req.CarryoverExpiryMonths,
		}
	}
	if req.EffectiveTo != nil {
		t, err := time.Parse(dateLayout, *req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to (use YYYY-MM-DD)", err)
			return
		}
		plan.EffectiveTo = &t
	}

	if err := h.Store.SavePlan(r.Context(), plan); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(plan))
}

// SaveAccrualPolicy configures how a plan accrues.
func (h *Handler) SaveAccrualPolicy(w http.ResponseWriter, r *http.Request) {
	planID := absence.PlanID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetPlan(r.Context(), planID); err != nil {
		writeDomainError(w, err)
		return
	}

	var req SaveAccrualPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	annual, err := decimal.NewFromString(req.AnnualEntitlement)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid annual_entitlement", err)
		return
	}
	rate := decimal.Zero
	if req.AccrualRate != "" {
		rate, err = decimal.NewFromString(req.AccrualRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid accrual_rate", err)
			return
		}
	}

	policy := absence.AccrualPolicy{
		ID:                req.ID,
		PlanID:            planID,
		Method:            absence.AccrualMethod(req.Method),
		Frequency:         absence.AccrualFrequency(req.Frequency),
		AnnualEntitlement: annual,
		AccrualRate:       rate,
		WindowDays:        req.WindowDays,
		TrackEpisodes:     req.TrackEpisodes,
		IsActive:          true,
	}
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if req.MaxAccrualDays != nil {
		d, err := decimal.NewFromString(*req.MaxAccrualDays)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid max_accrual_days", err)
			return
		}
		policy.MaxAccrualDays = &d
	}

	if err := h.Store.SaveAccrualPolicy(r.Context(), policy); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": policy.ID})
}

// ListBlackouts returns a plan's blackout windows.
func (h *Handler) ListBlackouts(w http.ResponseWriter, r *http.Request) {
	windows, err := h.Store.BlackoutsForPlan(r.Context(), absence.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list blackouts", err)
		return
	}

	dtos := make([]BlackoutDTO, len(windows))
	for i, win := range windows {
		dtos[i] = BlackoutDTO{
			ID:        win.ID,
			PlanID:    string(win.PlanID),
			Name:      win.Name,
			StartDate: win.Start.Format(dateLayout),
			EndDate:   win.End.Format(dateLayout),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBlackout adds a blackout window to a plan.
func (h *Handler) CreateBlackout(w http.ResponseWriter, r *http.Request) {
	var req BlackoutDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
		return
	}

	win := absence.BlackoutWindow{
		ID:     req.ID,
		PlanID: absence.PlanID(chi.URLParam(r, "id")),
		Name:   req.Name,
		Start:  start,
		End:    end,
	}
	if win.ID == "" {
		win.ID = uuid.NewString()
	}

	if err := h.Store.SaveBlackout(r.Context(), win); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save blackout", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": win.ID})
}

// DeleteBlackout removes a blackout window.
func (h *Handler) DeleteBlackout(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteBlackout(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete blackout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a new absence request.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
		return
	}

	period, err := resolvePeriod(req.Period, start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	in := absence.CreateInput{
		UserID:         absence.UserID(req.UserID),
		PlanID:         absence.PlanID(req.PlanID),
		Period:         period,
		StartDate:      start,
		EndDate:        end,
		IsPartialDay:   req.IsPartialDay,
		PartialDayType: absence.PartialDayType(req.PartialDayType),
		Reason:         req.Reason,
	}
	if req.Hours != nil {
		d, err := decimal.NewFromString(*req.Hours)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hours", err)
			return
		}
		in.Hours = &d
	}

	created, err := h.Service.CreateRequest(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// GetRequest returns one request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.Request(r.Context(), absence.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// ListPendingRequests returns the approval queue.
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Service.PendingRequests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pending requests", err)
		return
	}

	dtos := make([]RequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveRequest approves the current step of a pending request.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body DecisionDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required", nil)
		return
	}

	req, err := h.Service.Approve(r.Context(), absence.RequestID(chi.URLParam(r, "id")), body.ApproverID, body.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// RejectRequest rejects a pending request.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body DecisionDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := h.Service.Reject(r.Context(), absence.RequestID(chi.URLParam(r, "id")), body.ApproverID, body.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// CancelRequest cancels a pending or approved request on the owner's behalf.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var body CancelDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := h.Service.Cancel(r.Context(), absence.RequestID(chi.URLParam(r, "id")), absence.UserID(body.UserID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// RecheckConflicts re-runs conflict detection for a pending request.
func (h *Handler) RecheckConflicts(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.RecheckConflicts(r.Context(), absence.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUserRequests returns a user's requests in a date range. The range
// defaults to the current calendar year.
func (h *Handler) ListUserRequests(w http.ResponseWriter, r *http.Request) {
	userID := absence.UserID(chi.URLParam(r, "id"))

	now := time.Now().UTC()
	from := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), 12, 31, 0, 0, 0, 0, time.UTC)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use YYYY-MM-DD)", err)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use YYYY-MM-DD)", err)
			return
		}
		to = t
	}

	requests, err := h.Service.UserRequests(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}

	dtos := make([]RequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListUserBalances returns all of a user's ledger rows.
func (h *Handler) ListUserBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Store.ListBalancesByUser(r.Context(), absence.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list balances", err)
		return
	}

	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUserBalance returns one ledger row, creating it lazily from plan
// defaults on first access.
func (h *Handler) GetUserBalance(w http.ResponseWriter, r *http.Request) {
	userID := absence.UserID(chi.URLParam(r, "id"))
	planID := absence.PlanID(r.URL.Query().Get("plan"))
	if planID == "" {
		writeError(w, http.StatusBadRequest, "plan query parameter is required", nil)
		return
	}

	period, err := resolvePeriod(r.URL.Query().Get("period"), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	bal, err := h.Service.BalanceFor(r.Context(), userID, planID, period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// RecalculateBalance refreshes a balance's accrual-derived fields.
func (h *Handler) RecalculateBalance(w http.ResponseWriter, r *http.Request) {
	userID := absence.UserID(chi.URLParam(r, "id"))
	planID := absence.PlanID(r.URL.Query().Get("plan"))
	if planID == "" {
		writeError(w, http.StatusBadRequest, "plan query parameter is required", nil)
		return
	}

	now := time.Now().UTC()
	period, err := resolvePeriod(r.URL.Query().Get("period"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	key := absence.BalanceKey{UserID: userID, PlanID: planID, Period: period.Label}
	bal, err := absence.NewLedger(h.Store).Recalculate(r.Context(), key, period, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// ListUserEpisodes returns a user's sickness episodes in a date range.
func (h *Handler) ListUserEpisodes(w http.ResponseWriter, r *http.Request) {
	userID := absence.UserID(chi.URLParam(r, "id"))
	now := time.Now().UTC()

	from := now.AddDate(-1, 0, 0)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use YYYY-MM-DD)", err)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use YYYY-MM-DD)", err)
			return
		}
		to = t
	}

	episodes, err := h.Store.ListEpisodesByUser(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list episodes", err)
		return
	}

	dtos := make([]EpisodeDTO, len(episodes))
	for i, e := range episodes {
		dtos[i] = toEpisodeDTO(e, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUserAudit returns a user's newest audit entries.
func (h *Handler) GetUserAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.QueryAudit(r.Context(), absence.UserID(chi.URLParam(r, "id")), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	type auditDTO struct {
		ID        string `json:"id"`
		At        string `json:"at"`
		ActorID   string `json:"actor_id"`
		Action    string `json:"action"`
		RequestID string `json:"request_id,omitempty"`
		Detail    string `json:"detail,omitempty"`
	}
	dtos := make([]auditDTO, len(entries))
	for i, e := range entries {
		dtos[i] = auditDTO{
			ID:        e.ID,
			At:        e.At.Format(time.RFC3339),
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			RequestID: string(e.RequestID),
			Detail:    e.Detail,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EPISODE HANDLERS
// =============================================================================

// OpenEpisode starts a sickness episode.
func (h *Handler) OpenEpisode(w http.ResponseWriter, r *http.Request) {
	var req OpenEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}

	ep, err := h.Sickness.OpenEpisode(r.Context(), absence.OpenInput{
		UserID:    absence.UserID(req.UserID),
		StartDate: start,
		Type:      absence.SicknessType(req.Type),
		RequestID: absence.RequestID(req.RequestID),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEpisodeDTO(*ep, time.Now().UTC()))
}

// CloseEpisode ends a sickness episode.
func (h *Handler) CloseEpisode(w http.ResponseWriter, r *http.Request) {
	var req CloseEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
		return
	}

	ep, err := h.Sickness.CloseEpisode(r.Context(), absence.EpisodeID(chi.URLParam(r, "id")), end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEpisodeDTO(*ep, time.Now().UTC()))
}

// CertifyEpisode records a fit note against an episode.
func (h *Handler) CertifyEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := h.Sickness.Certify(r.Context(), absence.EpisodeID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEpisodeDTO(*ep, time.Now().UTC()))
}

// ReturnToWork completes the RTW process for a closed episode.
func (h *Handler) ReturnToWork(w http.ResponseWriter, r *http.Request) {
	ep, err := h.Sickness.RecordReturnToWork(r.Context(), absence.EpisodeID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEpisodeDTO(*ep, time.Now().UTC()))
}

// =============================================================================
// HOLIDAY HANDLERS
// =============================================================================

// ListHolidays returns all public holidays.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list holidays", err)
		return
	}

	dtos := make([]HolidayDTO, len(holidays))
	for i, hol := range holidays {
		dtos[i] = HolidayDTO{
			ID:        hol.ID,
			Date:      hol.Date.Format(dateLayout),
			Name:      hol.Name,
			Recurring: hol.Recurring,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateHoliday adds a public holiday.
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	hol := absence.Holiday{
		ID:        req.ID,
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	}
	if hol.ID == "" {
		hol.ID = uuid.NewString()
	}

	if err := h.Store.SaveHoliday(r.Context(), hol); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": hol.ID})
}

// =============================================================================
// HELPERS
// =============================================================================

// resolvePeriod parses a period label ("2026") or derives the calendar
// year containing the fallback date.
func resolvePeriod(label string, fallback time.Time) (absence.Period, error) {
	if label == "" {
		return absence.PeriodContaining(fallback), nil
	}
	var year int
	if _, err := fmt.Sscanf(label, "%d", &year); err != nil || year < 1970 || year > 9999 {
		return absence.Period{}, fmt.Errorf("period must be a four-digit year, got %q", label)
	}
	return absence.CalendarYear(year), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var vErr *absence.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: vErr.Message, Code: vErr.Code})
		return
	}

	switch {
	case absence.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, absence.ErrInvalidState):
		writeError(w, http.StatusConflict, "Invalid state for this operation", err)
	case errors.Is(err, absence.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "Concurrent modification, retry the operation", err)
	case errors.Is(err, absence.ErrDuplicateBalance):
		writeError(w, http.StatusConflict, "Balance already exists", err)
	case errors.Is(err, absence.ErrDuplicatePolicy):
		writeError(w, http.StatusConflict, "Plan already has an active accrual policy", err)
	case errors.Is(err, absence.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
