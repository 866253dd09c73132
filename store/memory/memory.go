// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/absence-engine/absence"
)

// Memory implements absence.TxStore with plain maps. A single mutex
// serializes all access; WithTx runs fn against a deep copy and swaps it
// in only on success, so a failed closure leaves nothing behind.
type Memory struct {
	mu   sync.Mutex
	data *tables
}

type tables struct {
	plans     map[absence.PlanID]absence.Plan
	policies  map[string]absence.AccrualPolicy
	balances  map[absence.BalanceKey]absence.Balance
	requests  map[absence.RequestID]absence.Request
	episodes  map[absence.EpisodeID]absence.SicknessEpisode
	blackouts map[string]absence.BlackoutWindow
	audit     []absence.AuditEntry
}

func newTables() *tables {
	return &tables{
		plans:     make(map[absence.PlanID]absence.Plan),
		policies:  make(map[string]absence.AccrualPolicy),
		balances:  make(map[absence.BalanceKey]absence.Balance),
		requests:  make(map[absence.RequestID]absence.Request),
		episodes:  make(map[absence.EpisodeID]absence.SicknessEpisode),
		blackouts: make(map[string]absence.BlackoutWindow),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.plans {
		c.plans[k] = v
	}
	for k, v := range t.policies {
		c.policies[k] = v
	}
	for k, v := range t.balances {
		c.balances[k] = v
	}
	for k, v := range t.requests {
		c.requests[k] = v
	}
	for k, v := range t.episodes {
		c.episodes[k] = v
	}
	for k, v := range t.blackouts {
		c.blackouts[k] = v
	}
	c.audit = append(c.audit, t.audit...)
	return c
}

func New() *Memory {
	return &Memory{data: newTables()}
}

// view implements absence.Store over one tables snapshot, without locking.
// The owning Memory holds its mutex for the view's whole lifetime.
type view struct {
	t *tables
}

// =============================================================================
// PLAN STORE
// =============================================================================

func (v *view) SavePlan(_ context.Context, plan absence.Plan) error {
	if existing, ok := v.t.plans[plan.ID]; ok {
		plan.Version = existing.Version + 1
	}
	v.t.plans[plan.ID] = plan
	return nil
}

func (v *view) GetPlan(_ context.Context, id absence.PlanID) (*absence.Plan, error) {
	plan, ok := v.t.plans[id]
	if !ok {
		return nil, absence.ErrPlanNotFound
	}
	return &plan, nil
}

func (v *view) ListPlans(_ context.Context) ([]absence.Plan, error) {
	plans := make([]absence.Plan, 0, len(v.t.plans))
	for _, p := range v.t.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Name < plans[j].Name })
	return plans, nil
}

func (v *view) SaveAccrualPolicy(_ context.Context, policy absence.AccrualPolicy) error {
	if policy.IsActive {
		for _, p := range v.t.policies {
			if p.PlanID == policy.PlanID && p.IsActive && p.ID != policy.ID {
				return fmt.Errorf("plan %s: %w", policy.PlanID, absence.ErrDuplicatePolicy)
			}
		}
	}
	v.t.policies[policy.ID] = policy
	return nil
}

func (v *view) ActiveAccrualPolicy(_ context.Context, planID absence.PlanID) (*absence.AccrualPolicy, error) {
	for _, p := range v.t.policies {
		if p.PlanID == planID && p.IsActive {
			policy := p
			return &policy, nil
		}
	}
	return nil, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (v *view) GetBalance(_ context.Context, key absence.BalanceKey) (*absence.Balance, error) {
	b, ok := v.t.balances[key]
	if !ok {
		return nil, absence.ErrBalanceNotFound
	}
	return &b, nil
}

func (v *view) CreateBalance(_ context.Context, b absence.Balance) error {
	if _, ok := v.t.balances[b.Key()]; ok {
		return absence.ErrDuplicateBalance
	}
	v.t.balances[b.Key()] = b
	return nil
}

func (v *view) UpdateBalance(_ context.Context, b absence.Balance, expectedVersion int) error {
	cur, ok := v.t.balances[b.Key()]
	if !ok {
		return absence.ErrBalanceNotFound
	}
	if cur.Version != expectedVersion {
		return absence.ErrConcurrencyConflict
	}
	b.Version = expectedVersion + 1
	v.t.balances[b.Key()] = b
	return nil
}

func (v *view) ListBalancesByUser(_ context.Context, userID absence.UserID) ([]absence.Balance, error) {
	var out []absence.Balance
	for _, b := range v.t.balances {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period > out[j].Period
		}
		return out[i].PlanID < out[j].PlanID
	})
	return out, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func (v *view) SaveRequest(_ context.Context, r absence.Request) error {
	v.t.requests[r.ID] = r
	return nil
}

func (v *view) UpdateRequest(_ context.Context, r absence.Request) error {
	if _, ok := v.t.requests[r.ID]; !ok {
		return absence.ErrRequestNotFound
	}
	v.t.requests[r.ID] = r
	return nil
}

func (v *view) GetRequest(_ context.Context, id absence.RequestID) (*absence.Request, error) {
	r, ok := v.t.requests[id]
	if !ok {
		return nil, absence.ErrRequestNotFound
	}
	return &r, nil
}

func (v *view) ListRequestsByUser(_ context.Context, userID absence.UserID, from, to time.Time) ([]absence.Request, error) {
	var out []absence.Request
	for _, r := range v.t.requests {
		if r.UserID != userID {
			continue
		}
		if r.StartDate.After(to) || r.EndDate.Before(from) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (v *view) ListRequestsByStatus(_ context.Context, status absence.RequestStatus) ([]absence.Request, error) {
	var out []absence.Request
	for _, r := range v.t.requests {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// =============================================================================
// EPISODE STORE
// =============================================================================

func (v *view) SaveEpisode(_ context.Context, e absence.SicknessEpisode) error {
	v.t.episodes[e.ID] = e
	return nil
}

func (v *view) UpdateEpisode(_ context.Context, e absence.SicknessEpisode) error {
	if _, ok := v.t.episodes[e.ID]; !ok {
		return absence.ErrEpisodeNotFound
	}
	v.t.episodes[e.ID] = e
	return nil
}

func (v *view) GetEpisode(_ context.Context, id absence.EpisodeID) (*absence.SicknessEpisode, error) {
	e, ok := v.t.episodes[id]
	if !ok {
		return nil, absence.ErrEpisodeNotFound
	}
	return &e, nil
}

func (v *view) ListEpisodesByUser(_ context.Context, userID absence.UserID, from, to time.Time) ([]absence.SicknessEpisode, error) {
	var out []absence.SicknessEpisode
	for _, e := range v.t.episodes {
		if e.UserID != userID {
			continue
		}
		if e.StartDate.After(to) {
			continue
		}
		if e.EndDate != nil && e.EndDate.Before(from) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// =============================================================================
// BLACKOUT STORE
// =============================================================================

func (v *view) SaveBlackout(_ context.Context, w absence.BlackoutWindow) error {
	v.t.blackouts[w.ID] = w
	return nil
}

func (v *view) DeleteBlackout(_ context.Context, id string) error {
	delete(v.t.blackouts, id)
	return nil
}

func (v *view) BlackoutsForPlan(_ context.Context, planID absence.PlanID) ([]absence.BlackoutWindow, error) {
	var out []absence.BlackoutWindow
	for _, w := range v.t.blackouts {
		if w.PlanID == planID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (v *view) AppendAudit(_ context.Context, entry absence.AuditEntry) error {
	v.t.audit = append(v.t.audit, entry)
	return nil
}

func (v *view) QueryAudit(_ context.Context, userID absence.UserID, limit int) ([]absence.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []absence.AuditEntry
	for i := len(v.t.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if v.t.audit[i].UserID == userID {
			out = append(out, v.t.audit[i])
		}
	}
	return out, nil
}

// =============================================================================
// STORE / TXSTORE
// =============================================================================

func (m *Memory) withView(fn func(*view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{t: m.data})
}

func (m *Memory) SavePlan(ctx context.Context, plan absence.Plan) error {
	return m.withView(func(v *view) error { return v.SavePlan(ctx, plan) })
}

func (m *Memory) GetPlan(ctx context.Context, id absence.PlanID) (p *absence.Plan, err error) {
	err = m.withView(func(v *view) error { p, err = v.GetPlan(ctx, id); return err })
	return
}

func (m *Memory) ListPlans(ctx context.Context) (ps []absence.Plan, err error) {
	err = m.withView(func(v *view) error { ps, err = v.ListPlans(ctx); return err })
	return
}

func (m *Memory) SaveAccrualPolicy(ctx context.Context, policy absence.AccrualPolicy) error {
	return m.withView(func(v *view) error { return v.SaveAccrualPolicy(ctx, policy) })
}

func (m *Memory) ActiveAccrualPolicy(ctx context.Context, planID absence.PlanID) (p *absence.AccrualPolicy, err error) {
	err = m.withView(func(v *view) error { p, err = v.ActiveAccrualPolicy(ctx, planID); return err })
	return
}

func (m *Memory) GetBalance(ctx context.Context, key absence.BalanceKey) (b *absence.Balance, err error) {
	err = m.withView(func(v *view) error { b, err = v.GetBalance(ctx, key); return err })
	return
}

func (m *Memory) CreateBalance(ctx context.Context, b absence.Balance) error {
	return m.withView(func(v *view) error { return v.CreateBalance(ctx, b) })
}

func (m *Memory) UpdateBalance(ctx context.Context, b absence.Balance, expectedVersion int) error {
	return m.withView(func(v *view) error { return v.UpdateBalance(ctx, b, expectedVersion) })
}

func (m *Memory) ListBalancesByUser(ctx context.Context, userID absence.UserID) (bs []absence.Balance, err error) {
	err = m.withView(func(v *view) error { bs, err = v.ListBalancesByUser(ctx, userID); return err })
	return
}

func (m *Memory) SaveRequest(ctx context.Context, r absence.Request) error {
	return m.withView(func(v *view) error { return v.SaveRequest(ctx, r) })
}

func (m *Memory) UpdateRequest(ctx context.Context, r absence.Request) error {
	return m.withView(func(v *view) error { return v.UpdateRequest(ctx, r) })
}

func (m *Memory) GetRequest(ctx context.Context, id absence.RequestID) (r *absence.Request, err error) {
	err = m.withView(func(v *view) error { r, err = v.GetRequest(ctx, id); return err })
	return
}

func (m *Memory) ListRequestsByUser(ctx context.Context, userID absence.UserID, from, to time.Time) (rs []absence.Request, err error) {
	err = m.withView(func(v *view) error { rs, err = v.ListRequestsByUser(ctx, userID, from, to); return err })
	return
}

func (m *Memory) ListRequestsByStatus(ctx context.Context, status absence.RequestStatus) (rs []absence.Request, err error) {
	err = m.withView(func(v *view) error { rs, err = v.ListRequestsByStatus(ctx, status); return err })
	return
}

func (m *Memory) SaveEpisode(ctx context.Context, e absence.SicknessEpisode) error {
	return m.withView(func(v *view) error { return v.SaveEpisode(ctx, e) })
}

func (m *Memory) UpdateEpisode(ctx context.Context, e absence.SicknessEpisode) error {
	return m.withView(func(v *view) error { return v.UpdateEpisode(ctx, e) })
}

func (m *Memory) GetEpisode(ctx context.Context, id absence.EpisodeID) (e *absence.SicknessEpisode, err error) {
	err = m.withView(func(v *view) error { e, err = v.GetEpisode(ctx, id); return err })
	return
}

func (m *Memory) ListEpisodesByUser(ctx context.Context, userID absence.UserID, from, to time.Time) (es []absence.SicknessEpisode, err error) {
	err = m.withView(func(v *view) error { es, err = v.ListEpisodesByUser(ctx, userID, from, to); return err })
	return
}

func (m *Memory) SaveBlackout(ctx context.Context, w absence.BlackoutWindow) error {
	return m.withView(func(v *view) error { return v.SaveBlackout(ctx, w) })
}

func (m *Memory) DeleteBlackout(ctx context.Context, id string) error {
	return m.withView(func(v *view) error { return v.DeleteBlackout(ctx, id) })
}

func (m *Memory) BlackoutsForPlan(ctx context.Context, planID absence.PlanID) (ws []absence.BlackoutWindow, err error) {
	err = m.withView(func(v *view) error { ws, err = v.BlackoutsForPlan(ctx, planID); return err })
	return
}

func (m *Memory) AppendAudit(ctx context.Context, entry absence.AuditEntry) error {
	return m.withView(func(v *view) error { return v.AppendAudit(ctx, entry) })
}

func (m *Memory) QueryAudit(ctx context.Context, userID absence.UserID, limit int) (es []absence.AuditEntry, err error) {
	err = m.withView(func(v *view) error { es, err = v.QueryAudit(ctx, userID, limit); return err })
	return
}

// WithTx runs fn against a deep copy of the current state and swaps the
// copy in only when fn succeeds. An error discards every write fn made.
func (m *Memory) WithTx(_ context.Context, fn func(absence.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.data.clone()
	if err := fn(&view{t: staged}); err != nil {
		return err
	}
	m.data = staged
	return nil
}
