/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements absence.Store and absence.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  plans:            Plan catalog (one row per plan version)
  accrual_policies: Accrual configuration, at most one active per plan
  balances:         One mutable ledger row per (user, plan, period)
  requests:         Absence requests with their approval chains
  episodes:         Sickness episodes
  blackouts:        Plan blackout windows
  holidays:         Public-holiday calendar
  audit_log:        Append-only record of every transition

CONCURRENCY:
  Two mechanisms, mapped to sentinel errors:
  - idx_balances_key (UNIQUE on user/plan/period) collapses concurrent
    lazy creations to one row; the loser gets absence.ErrDuplicateBalance.
  - UpdateBalance is a compare-and-swap on the version column; a stale
    snapshot gets absence.ErrConcurrencyConflict.
  A sync.RWMutex serializes writers on top of SQLite's single-writer
  model. In production with PostgreSQL, database-level concurrency
  control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/absence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := absence.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - absence/store.go: Interface definitions and the concurrency contract
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/absence"
)

// Store implements absence.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// queryer abstracts *sql.DB and *sql.Tx so every operation can run either
// standalone or inside WithTx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: in-memory databases are per-connection, and the
	// store serializes writes itself.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Plan catalog
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		unit TEXT NOT NULL,
		default_entitlement TEXT,
		approval_chain_type TEXT NOT NULL,
		custom_chain_json TEXT,
		allows_negative BOOLEAN DEFAULT FALSE,
		requires_attachment BOOLEAN DEFAULT FALSE,
		carryover_enabled BOOLEAN DEFAULT FALSE,
		carryover_max_days TEXT NOT NULL DEFAULT '0',
		carryover_expiry_months INTEGER DEFAULT 0,
		rounding_method TEXT NOT NULL,
		rounding_precision TEXT NOT NULL,
		excludes_public_holidays BOOLEAN DEFAULT FALSE,
		is_active BOOLEAN DEFAULT TRUE,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		version INTEGER DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_type ON plans(type);

	-- Accrual policies: at most one active policy per plan
	CREATE TABLE IF NOT EXISTS accrual_policies (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		method TEXT NOT NULL,
		frequency TEXT NOT NULL,
		annual_entitlement TEXT NOT NULL DEFAULT '0',
		accrual_rate TEXT NOT NULL DEFAULT '0',
		max_accrual_days TEXT,
		window_days INTEGER DEFAULT 0,
		track_episodes BOOLEAN DEFAULT FALSE,
		is_active BOOLEAN DEFAULT TRUE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_accrual_active
		ON accrual_policies(plan_id) WHERE is_active;

	-- Balances: the mutable ledger, one row per (user, plan, period)
	CREATE TABLE IF NOT EXISTS balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		period TEXT NOT NULL,
		entitlement TEXT NOT NULL,
		accrued TEXT NOT NULL,
		carryover TEXT NOT NULL,
		taken TEXT NOT NULL,
		scheduled TEXT NOT NULL,
		pending TEXT NOT NULL,
		remaining TEXT NOT NULL,
		available TEXT NOT NULL,
		episodes INTEGER DEFAULT 0,
		fte_ratio TEXT NOT NULL DEFAULT '1',
		version INTEGER NOT NULL DEFAULT 1,
		last_calculated_at TEXT NOT NULL
	);

	-- CRITICAL: collapses concurrent lazy creations to a single row
	CREATE UNIQUE INDEX IF NOT EXISTS idx_balances_key
		ON balances(user_id, plan_id, period);
	CREATE INDEX IF NOT EXISTS idx_balances_user ON balances(user_id);

	-- Requests
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		period TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		is_partial_day BOOLEAN DEFAULT FALSE,
		partial_day_type TEXT,
		hours TEXT,
		calculated_days TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		conflicts_json TEXT,
		has_conflicts BOOLEAN DEFAULT FALSE,
		balance_before TEXT NOT NULL DEFAULT '0',
		balance_after TEXT NOT NULL DEFAULT '0',
		approval_chain_json TEXT,
		current_approver_id TEXT,
		approval_comment TEXT,
		rejection_reason TEXT,
		submitted_at TEXT NOT NULL,
		approved_at TEXT,
		rejected_at TEXT,
		cancelled_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_user_dates
		ON requests(user_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);

	-- Sickness episodes
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		type TEXT NOT NULL,
		is_certified BOOLEAN DEFAULT FALSE,
		is_returned_to_work BOOLEAN DEFAULT FALSE,
		requires_rtw_interview BOOLEAN DEFAULT FALSE,
		triggers_threshold BOOLEAN DEFAULT FALSE,
		request_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_user_dates
		ON episodes(user_id, start_date);

	-- Blackout windows
	CREATE TABLE IF NOT EXISTS blackouts (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_blackouts_plan ON blackouts(plan_id);

	-- Public holidays
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(date, name);

	-- Audit log (append-only; corrections are new entries, never edits)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		user_id TEXT NOT NULL,
		plan_id TEXT,
		request_id TEXT,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_user_at ON audit_log(user_id, at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PLAN STORE
// =============================================================================

// SavePlan inserts or updates a plan, bumping its version on update.
func (s *Store) SavePlan(ctx context.Context, plan absence.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePlan(ctx, s.db, plan)
}

func (s *Store) savePlan(ctx context.Context, q queryer, plan absence.Plan) error {
	chainJSON, _ := json.Marshal(plan.CustomApprovalChain)

	query := `
		INSERT INTO plans (id, name, type, unit, default_entitlement, approval_chain_type,
			custom_chain_json, allows_negative, requires_attachment,
			carryover_enabled, carryover_max_days, carryover_expiry_months,
			rounding_method, rounding_precision, excludes_public_holidays,
			is_active, effective_from, effective_to, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			unit = excluded.unit,
			default_entitlement = excluded.default_entitlement,
			approval_chain_type = excluded.approval_chain_type,
			custom_chain_json = excluded.custom_chain_json,
			allows_negative = excluded.allows_negative,
			requires_attachment = excluded.requires_attachment,
			carryover_enabled = excluded.carryover_enabled,
			carryover_max_days = excluded.carryover_max_days,
			carryover_expiry_months = excluded.carryover_expiry_months,
			rounding_method = excluded.rounding_method,
			rounding_precision = excluded.rounding_precision,
			excludes_public_holidays = excluded.excludes_public_holidays,
			is_active = excluded.is_active,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			version = plans.version + 1,
			updated_at = excluded.updated_at
	`

	_, err := q.ExecContext(ctx, query,
		plan.ID, plan.Name, plan.Type, plan.Unit,
		nullDecimal(plan.DefaultEntitlement),
		plan.ApprovalChainType,
		string(chainJSON),
		plan.AllowsNegativeBalance, plan.RequiresAttachment,
		plan.Carryover.Enabled, plan.Carryover.MaxDays.String(), plan.Carryover.ExpiryMonths,
		plan.Rounding.Method, plan.Rounding.Precision.String(),
		plan.ExcludesPublicHolidays,
		plan.IsActive,
		plan.EffectiveFrom.Format(time.RFC3339),
		nullTime(plan.EffectiveTo),
		plan.Version,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

const planColumns = `id, name, type, unit, default_entitlement, approval_chain_type,
	custom_chain_json, allows_negative, requires_attachment,
	carryover_enabled, carryover_max_days, carryover_expiry_months,
	rounding_method, rounding_precision, excludes_public_holidays,
	is_active, effective_from, effective_to, version`

// GetPlan retrieves a plan by ID.
func (s *Store) GetPlan(ctx context.Context, id absence.PlanID) (*absence.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlan(ctx, s.db, id)
}

func (s *Store) getPlan(ctx context.Context, q queryer, id absence.PlanID) (*absence.Plan, error) {
	row := q.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, absence.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPlans returns all plans ordered by name.
func (s *Store) ListPlans(ctx context.Context) ([]absence.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPlans(ctx, s.db)
}

func (s *Store) listPlans(ctx context.Context, q queryer) ([]absence.Plan, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+planColumns+" FROM plans ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []absence.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*absence.Plan, error) {
	var (
		p                  absence.Plan
		defaultEntitlement sql.NullString
		chainJSON          sql.NullString
		maxDays            string
		precision          string
		effectiveFrom      string
		effectiveTo        sql.NullString
	)

	err := row.Scan(
		&p.ID, &p.Name, &p.Type, &p.Unit, &defaultEntitlement, &p.ApprovalChainType,
		&chainJSON, &p.AllowsNegativeBalance, &p.RequiresAttachment,
		&p.Carryover.Enabled, &maxDays, &p.Carryover.ExpiryMonths,
		&p.Rounding.Method, &precision, &p.ExcludesPublicHolidays,
		&p.IsActive, &effectiveFrom, &effectiveTo, &p.Version,
	)
	if err != nil {
		return nil, err
	}

	if defaultEntitlement.Valid {
		d := absence.MustParseDecimal(defaultEntitlement.String)
		p.DefaultEntitlement = &d
	}
	if chainJSON.Valid && chainJSON.String != "" && chainJSON.String != "null" {
		json.Unmarshal([]byte(chainJSON.String), &p.CustomApprovalChain)
	}
	p.Carryover.MaxDays = absence.MustParseDecimal(maxDays)
	p.Rounding.Precision = absence.MustParseDecimal(precision)
	p.EffectiveFrom, _ = time.Parse(time.RFC3339, effectiveFrom)
	if effectiveTo.Valid {
		t, _ := time.Parse(time.RFC3339, effectiveTo.String)
		p.EffectiveTo = &t
	}
	return &p, nil
}

// SaveAccrualPolicy inserts or updates an accrual policy.
func (s *Store) SaveAccrualPolicy(ctx context.Context, policy absence.AccrualPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAccrualPolicy(ctx, s.db, policy)
}

func (s *Store) saveAccrualPolicy(ctx context.Context, q queryer, policy absence.AccrualPolicy) error {
	query := `
		INSERT INTO accrual_policies (id, plan_id, method, frequency, annual_entitlement,
			accrual_rate, max_accrual_days, window_days, track_episodes, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			method = excluded.method,
			frequency = excluded.frequency,
			annual_entitlement = excluded.annual_entitlement,
			accrual_rate = excluded.accrual_rate,
			max_accrual_days = excluded.max_accrual_days,
			window_days = excluded.window_days,
			track_episodes = excluded.track_episodes,
			is_active = excluded.is_active
	`

	_, err := q.ExecContext(ctx, query,
		policy.ID, policy.PlanID, policy.Method, policy.Frequency,
		policy.AnnualEntitlement.String(), policy.AccrualRate.String(),
		nullDecimal(policy.MaxAccrualDays),
		policy.WindowDays, policy.TrackEpisodes, policy.IsActive,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("plan %s: %w", policy.PlanID, absence.ErrDuplicatePolicy)
		}
		return fmt.Errorf("failed to save accrual policy: %w", err)
	}
	return nil
}

// ActiveAccrualPolicy returns the plan's active policy, or (nil, nil).
func (s *Store) ActiveAccrualPolicy(ctx context.Context, planID absence.PlanID) (*absence.AccrualPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAccrualPolicy(ctx, s.db, planID)
}

func (s *Store) activeAccrualPolicy(ctx context.Context, q queryer, planID absence.PlanID) (*absence.AccrualPolicy, error) {
	var (
		p                 absence.AccrualPolicy
		annualEntitlement string
		accrualRate       string
		maxDays           sql.NullString
	)

	err := q.QueryRowContext(ctx, `
		SELECT id, plan_id, method, frequency, annual_entitlement, accrual_rate,
		       max_accrual_days, window_days, track_episodes, is_active
		FROM accrual_policies WHERE plan_id = ? AND is_active
	`, planID).Scan(
		&p.ID, &p.PlanID, &p.Method, &p.Frequency, &annualEntitlement, &accrualRate,
		&maxDays, &p.WindowDays, &p.TrackEpisodes, &p.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get accrual policy: %w", err)
	}

	p.AnnualEntitlement = absence.MustParseDecimal(annualEntitlement)
	p.AccrualRate = absence.MustParseDecimal(accrualRate)
	if maxDays.Valid {
		d := absence.MustParseDecimal(maxDays.String)
		p.MaxAccrualDays = &d
	}
	return &p, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

const balanceColumns = `id, user_id, plan_id, period, entitlement, accrued, carryover,
	taken, scheduled, pending, remaining, available, episodes, fte_ratio,
	version, last_calculated_at`

// GetBalance retrieves one ledger row by key.
func (s *Store) GetBalance(ctx context.Context, key absence.BalanceKey) (*absence.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBalance(ctx, s.db, key)
}

func (s *Store) getBalance(ctx context.Context, q queryer, key absence.BalanceKey) (*absence.Balance, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = ? AND plan_id = ? AND period = ?",
		key.UserID, key.PlanID, key.Period)

	b, err := scanBalance(row)
	if err == sql.ErrNoRows {
		return nil, absence.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// CreateBalance inserts a fresh ledger row. The unique key index turns a
// concurrent duplicate insert into absence.ErrDuplicateBalance.
func (s *Store) CreateBalance(ctx context.Context, b absence.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createBalance(ctx, s.db, b)
}

func (s *Store) createBalance(ctx context.Context, q queryer, b absence.Balance) error {
	query := `
		INSERT INTO balances (` + balanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		b.ID, b.UserID, b.PlanID, b.Period,
		b.Entitlement.String(), b.Accrued.String(), b.Carryover.String(),
		b.Taken.String(), b.Scheduled.String(), b.Pending.String(),
		b.Remaining.String(), b.Available.String(),
		b.Episodes, b.FTERatio.String(),
		b.Version, b.LastCalculatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return absence.ErrDuplicateBalance
		}
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

// UpdateBalance commits b only when the stored version still equals
// expectedVersion. A stale snapshot gets absence.ErrConcurrencyConflict.
func (s *Store) UpdateBalance(ctx context.Context, b absence.Balance, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBalance(ctx, s.db, b, expectedVersion)
}

func (s *Store) updateBalance(ctx context.Context, q queryer, b absence.Balance, expectedVersion int) error {
	query := `
		UPDATE balances SET
			entitlement = ?, accrued = ?, carryover = ?,
			taken = ?, scheduled = ?, pending = ?,
			remaining = ?, available = ?,
			episodes = ?, fte_ratio = ?,
			version = version + 1, last_calculated_at = ?
		WHERE user_id = ? AND plan_id = ? AND period = ? AND version = ?
	`

	res, err := q.ExecContext(ctx, query,
		b.Entitlement.String(), b.Accrued.String(), b.Carryover.String(),
		b.Taken.String(), b.Scheduled.String(), b.Pending.String(),
		b.Remaining.String(), b.Available.String(),
		b.Episodes, b.FTERatio.String(),
		b.LastCalculatedAt.Format(time.RFC3339),
		b.UserID, b.PlanID, b.Period, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Row missing and version mismatch both hit zero rows; tell them apart.
		var count int
		if err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM balances WHERE user_id = ? AND plan_id = ? AND period = ?",
			b.UserID, b.PlanID, b.Period,
		).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return absence.ErrBalanceNotFound
		}
		return absence.ErrConcurrencyConflict
	}
	return nil
}

// ListBalancesByUser returns all of a user's ledger rows.
func (s *Store) ListBalancesByUser(ctx context.Context, userID absence.UserID) ([]absence.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBalancesByUser(ctx, s.db, userID)
}

func (s *Store) listBalancesByUser(ctx context.Context, q queryer, userID absence.UserID) ([]absence.Balance, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = ? ORDER BY period DESC, plan_id",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []absence.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

func scanBalance(row rowScanner) (*absence.Balance, error) {
	var (
		b                                          absence.Balance
		entitlement, accrued, carryover            string
		taken, scheduled, pending                  string
		remaining, available, fteRatio             string
		lastCalculatedAt                           string
	)

	err := row.Scan(
		&b.ID, &b.UserID, &b.PlanID, &b.Period,
		&entitlement, &accrued, &carryover,
		&taken, &scheduled, &pending,
		&remaining, &available,
		&b.Episodes, &fteRatio,
		&b.Version, &lastCalculatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Entitlement = absence.MustParseDecimal(entitlement)
	b.Accrued = absence.MustParseDecimal(accrued)
	b.Carryover = absence.MustParseDecimal(carryover)
	b.Taken = absence.MustParseDecimal(taken)
	b.Scheduled = absence.MustParseDecimal(scheduled)
	b.Pending = absence.MustParseDecimal(pending)
	b.Remaining = absence.MustParseDecimal(remaining)
	b.Available = absence.MustParseDecimal(available)
	b.FTERatio = absence.MustParseDecimal(fteRatio)
	b.LastCalculatedAt, _ = time.Parse(time.RFC3339, lastCalculatedAt)
	return &b, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, user_id, plan_id, period, start_date, end_date,
	is_partial_day, partial_day_type, hours, calculated_days, status, reason,
	conflicts_json, has_conflicts, balance_before, balance_after,
	approval_chain_json, current_approver_id, approval_comment, rejection_reason,
	submitted_at, approved_at, rejected_at, cancelled_at, updated_at`

// SaveRequest inserts a new request.
func (s *Store) SaveRequest(ctx context.Context, r absence.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRequest(ctx, s.db, r)
}

func (s *Store) saveRequest(ctx context.Context, q queryer, r absence.Request) error {
	query := `
		INSERT INTO requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query, requestArgs(r)...)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// UpdateRequest rewrites an existing request.
func (s *Store) UpdateRequest(ctx context.Context, r absence.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRequest(ctx, s.db, r)
}

func (s *Store) updateRequest(ctx context.Context, q queryer, r absence.Request) error {
	query := `
		UPDATE requests SET
			user_id = ?, plan_id = ?, period = ?, start_date = ?, end_date = ?,
			is_partial_day = ?, partial_day_type = ?, hours = ?, calculated_days = ?,
			status = ?, reason = ?, conflicts_json = ?, has_conflicts = ?,
			balance_before = ?, balance_after = ?, approval_chain_json = ?,
			current_approver_id = ?, approval_comment = ?, rejection_reason = ?,
			submitted_at = ?, approved_at = ?, rejected_at = ?, cancelled_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	args := append(requestArgs(r)[1:], r.ID)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return absence.ErrRequestNotFound
	}
	return nil
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, id absence.RequestID) (*absence.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRequest(ctx, s.db, id)
}

func (s *Store) getRequest(ctx context.Context, q queryer, id absence.RequestID) (*absence.Request, error) {
	row := q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, absence.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

// ListRequestsByUser returns the user's requests intersecting [from, to].
func (s *Store) ListRequestsByUser(ctx context.Context, userID absence.UserID, from, to time.Time) ([]absence.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRequestsByUser(ctx, s.db, userID, from, to)
}

func (s *Store) listRequestsByUser(ctx context.Context, q queryer, userID absence.UserID, from, to time.Time) ([]absence.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE user_id = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC
	`
	return s.queryRequests(ctx, q, query,
		userID, to.Format(time.RFC3339), from.Format(time.RFC3339))
}

// ListRequestsByStatus returns all requests in a given status, oldest first.
func (s *Store) ListRequestsByStatus(ctx context.Context, status absence.RequestStatus) ([]absence.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRequestsByStatus(ctx, s.db, status)
}

func (s *Store) listRequestsByStatus(ctx context.Context, q queryer, status absence.RequestStatus) ([]absence.Request, error) {
	query := "SELECT " + requestColumns + " FROM requests WHERE status = ? ORDER BY submitted_at ASC"
	return s.queryRequests(ctx, q, query, status)
}

func (s *Store) queryRequests(ctx context.Context, q queryer, query string, args ...any) ([]absence.Request, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []absence.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func requestArgs(r absence.Request) []any {
	conflictsJSON, _ := json.Marshal(r.Conflicts)
	chainJSON, _ := json.Marshal(r.ApprovalChain)

	return []any{
		r.ID, r.UserID, r.PlanID, r.Period,
		r.StartDate.Format(time.RFC3339), r.EndDate.Format(time.RFC3339),
		r.IsPartialDay, nullString(string(r.PartialDayType)),
		nullDecimal(r.Hours), r.CalculatedDays.String(),
		r.Status, nullString(r.Reason),
		string(conflictsJSON), r.HasConflicts,
		r.BalanceBefore.String(), r.BalanceAfter.String(),
		string(chainJSON),
		nullString(r.CurrentApproverID), nullString(r.ApprovalComment), nullString(r.RejectionReason),
		r.SubmittedAt.Format(time.RFC3339),
		nullTime(r.ApprovedAt), nullTime(r.RejectedAt), nullTime(r.CancelledAt),
		r.UpdatedAt.Format(time.RFC3339),
	}
}

func scanRequest(row rowScanner) (*absence.Request, error) {
	var (
		r                                  absence.Request
		startDate, endDate                 string
		partialDayType                     sql.NullString
		hours                              sql.NullString
		calculatedDays                     string
		reason                             sql.NullString
		conflictsJSON, chainJSON           sql.NullString
		balanceBefore, balanceAfter        string
		approverID, comment, rejectReason  sql.NullString
		submittedAt, updatedAt             string
		approvedAt, rejectedAt, cancelledAt sql.NullString
	)

	err := row.Scan(
		&r.ID, &r.UserID, &r.PlanID, &r.Period, &startDate, &endDate,
		&r.IsPartialDay, &partialDayType, &hours, &calculatedDays, &r.Status, &reason,
		&conflictsJSON, &r.HasConflicts, &balanceBefore, &balanceAfter,
		&chainJSON, &approverID, &comment, &rejectReason,
		&submittedAt, &approvedAt, &rejectedAt, &cancelledAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.StartDate, _ = time.Parse(time.RFC3339, startDate)
	r.EndDate, _ = time.Parse(time.RFC3339, endDate)
	r.PartialDayType = absence.PartialDayType(partialDayType.String)
	if hours.Valid {
		d := absence.MustParseDecimal(hours.String)
		r.Hours = &d
	}
	r.CalculatedDays = absence.MustParseDecimal(calculatedDays)
	r.Reason = reason.String
	if conflictsJSON.Valid && conflictsJSON.String != "" && conflictsJSON.String != "null" {
		json.Unmarshal([]byte(conflictsJSON.String), &r.Conflicts)
	}
	r.BalanceBefore = absence.MustParseDecimal(balanceBefore)
	r.BalanceAfter = absence.MustParseDecimal(balanceAfter)
	if chainJSON.Valid && chainJSON.String != "" && chainJSON.String != "null" {
		json.Unmarshal([]byte(chainJSON.String), &r.ApprovalChain)
	}
	r.CurrentApproverID = approverID.String
	r.ApprovalComment = comment.String
	r.RejectionReason = rejectReason.String
	r.SubmittedAt, _ = time.Parse(time.RFC3339, submittedAt)
	r.ApprovedAt = parseNullTime(approvedAt)
	r.RejectedAt = parseNullTime(rejectedAt)
	r.CancelledAt = parseNullTime(cancelledAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// =============================================================================
// EPISODE STORE
// =============================================================================

const episodeColumns = `id, user_id, start_date, end_date, type, is_certified,
	is_returned_to_work, requires_rtw_interview, triggers_threshold,
	request_id, created_at, updated_at`

// SaveEpisode inserts a new sickness episode.
func (s *Store) SaveEpisode(ctx context.Context, e absence.SicknessEpisode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveEpisode(ctx, s.db, e)
}

func (s *Store) saveEpisode(ctx context.Context, q queryer, e absence.SicknessEpisode) error {
	query := `
		INSERT INTO episodes (` + episodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query, episodeArgs(e)...)
	if err != nil {
		return fmt.Errorf("failed to save episode: %w", err)
	}
	return nil
}

// UpdateEpisode rewrites an existing episode.
func (s *Store) UpdateEpisode(ctx context.Context, e absence.SicknessEpisode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEpisode(ctx, s.db, e)
}

func (s *Store) updateEpisode(ctx context.Context, q queryer, e absence.SicknessEpisode) error {
	query := `
		UPDATE episodes SET
			user_id = ?, start_date = ?, end_date = ?, type = ?,
			is_certified = ?, is_returned_to_work = ?,
			requires_rtw_interview = ?, triggers_threshold = ?,
			request_id = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`

	args := append(episodeArgs(e)[1:], e.ID)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update episode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return absence.ErrEpisodeNotFound
	}
	return nil
}

// GetEpisode retrieves an episode by ID.
func (s *Store) GetEpisode(ctx context.Context, id absence.EpisodeID) (*absence.SicknessEpisode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEpisode(ctx, s.db, id)
}

func (s *Store) getEpisode(ctx context.Context, q queryer, id absence.EpisodeID) (*absence.SicknessEpisode, error) {
	row := q.QueryRowContext(ctx, "SELECT "+episodeColumns+" FROM episodes WHERE id = ?", id)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, absence.ErrEpisodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return e, nil
}

// ListEpisodesByUser returns episodes overlapping [from, to]. Open episodes
// overlap everything from their start date onward.
func (s *Store) ListEpisodesByUser(ctx context.Context, userID absence.UserID, from, to time.Time) ([]absence.SicknessEpisode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEpisodesByUser(ctx, s.db, userID, from, to)
}

func (s *Store) listEpisodesByUser(ctx context.Context, q queryer, userID absence.UserID, from, to time.Time) ([]absence.SicknessEpisode, error) {
	query := `
		SELECT ` + episodeColumns + `
		FROM episodes
		WHERE user_id = ? AND start_date <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date ASC
	`

	rows, err := q.QueryContext(ctx, query,
		userID, to.Format(time.RFC3339), from.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []absence.SicknessEpisode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, *e)
	}
	return episodes, rows.Err()
}

func episodeArgs(e absence.SicknessEpisode) []any {
	return []any{
		e.ID, e.UserID, e.StartDate.Format(time.RFC3339), nullTime(e.EndDate),
		e.Type, e.IsCertified, e.IsReturnedToWork,
		e.RequiresRTWInterview, e.TriggersThreshold,
		nullString(string(e.RequestID)),
		e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
	}
}

func scanEpisode(row rowScanner) (*absence.SicknessEpisode, error) {
	var (
		e                    absence.SicknessEpisode
		startDate            string
		endDate              sql.NullString
		requestID            sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&e.ID, &e.UserID, &startDate, &endDate, &e.Type,
		&e.IsCertified, &e.IsReturnedToWork,
		&e.RequiresRTWInterview, &e.TriggersThreshold,
		&requestID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.StartDate, _ = time.Parse(time.RFC3339, startDate)
	e.EndDate = parseNullTime(endDate)
	e.RequestID = absence.RequestID(requestID.String)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &e, nil
}

// =============================================================================
// BLACKOUT STORE
// =============================================================================

// SaveBlackout inserts or updates a blackout window.
func (s *Store) SaveBlackout(ctx context.Context, w absence.BlackoutWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBlackout(ctx, s.db, w)
}

func (s *Store) saveBlackout(ctx context.Context, q queryer, w absence.BlackoutWindow) error {
	query := `
		INSERT INTO blackouts (id, plan_id, name, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`
	_, err := q.ExecContext(ctx, query,
		w.ID, w.PlanID, w.Name,
		w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	return err
}

// DeleteBlackout removes a blackout window.
func (s *Store) DeleteBlackout(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteBlackout(ctx, s.db, id)
}

func (s *Store) deleteBlackout(ctx context.Context, q queryer, id string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM blackouts WHERE id = ?", id)
	return err
}

// BlackoutsForPlan returns a plan's blackout windows.
func (s *Store) BlackoutsForPlan(ctx context.Context, planID absence.PlanID) ([]absence.BlackoutWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blackoutsForPlan(ctx, s.db, planID)
}

func (s *Store) blackoutsForPlan(ctx context.Context, q queryer, planID absence.PlanID) ([]absence.BlackoutWindow, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, plan_id, name, start_date, end_date FROM blackouts WHERE plan_id = ? ORDER BY start_date",
		planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []absence.BlackoutWindow
	for rows.Next() {
		var w absence.BlackoutWindow
		var start, end string
		if err := rows.Scan(&w.ID, &w.PlanID, &w.Name, &start, &end); err != nil {
			return nil, err
		}
		w.Start, _ = time.Parse(time.RFC3339, start)
		w.End, _ = time.Parse(time.RFC3339, end)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit stores one audit entry. Entries are never updated or deleted.
func (s *Store) AppendAudit(ctx context.Context, entry absence.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAudit(ctx, s.db, entry)
}

func (s *Store) appendAudit(ctx context.Context, q queryer, entry absence.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, at, actor_id, action, user_id, plan_id, request_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		entry.ID, entry.At.Format(time.RFC3339), entry.ActorID, entry.Action,
		entry.UserID, nullString(string(entry.PlanID)), nullString(string(entry.RequestID)),
		nullString(entry.Detail))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns a user's newest audit entries, newest first.
func (s *Store) QueryAudit(ctx context.Context, userID absence.UserID, limit int) ([]absence.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAudit(ctx, s.db, userID, limit)
}

func (s *Store) queryAudit(ctx context.Context, q queryer, userID absence.UserID, limit int) ([]absence.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, at, actor_id, action, user_id, plan_id, request_id, detail
		FROM audit_log WHERE user_id = ? ORDER BY at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []absence.AuditEntry
	for rows.Next() {
		var e absence.AuditEntry
		var at string
		var planID, requestID, detail sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.Action, &e.UserID, &planID, &requestID, &detail); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		e.PlanID = absence.PlanID(planID.String)
		e.RequestID = absence.RequestID(requestID.String)
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (absence.TxStore interface)
// =============================================================================

// WithTx executes fn against a store bound to one database transaction.
// The write lock is held for the whole closure, so the tx-bound store must
// go through the unlocked internals.
func (s *Store) WithTx(ctx context.Context, fn func(store absence.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) SavePlan(ctx context.Context, plan absence.Plan) error {
	return ts.parent.savePlan(ctx, ts.tx, plan)
}

func (ts *txStore) GetPlan(ctx context.Context, id absence.PlanID) (*absence.Plan, error) {
	return ts.parent.getPlan(ctx, ts.tx, id)
}

func (ts *txStore) ListPlans(ctx context.Context) ([]absence.Plan, error) {
	return ts.parent.listPlans(ctx, ts.tx)
}

func (ts *txStore) SaveAccrualPolicy(ctx context.Context, policy absence.AccrualPolicy) error {
	return ts.parent.saveAccrualPolicy(ctx, ts.tx, policy)
}

func (ts *txStore) ActiveAccrualPolicy(ctx context.Context, planID absence.PlanID) (*absence.AccrualPolicy, error) {
	return ts.parent.activeAccrualPolicy(ctx, ts.tx, planID)
}

func (ts *txStore) GetBalance(ctx context.Context, key absence.BalanceKey) (*absence.Balance, error) {
	return ts.parent.getBalance(ctx, ts.tx, key)
}

func (ts *txStore) CreateBalance(ctx context.Context, b absence.Balance) error {
	return ts.parent.createBalance(ctx, ts.tx, b)
}

func (ts *txStore) UpdateBalance(ctx context.Context, b absence.Balance, expectedVersion int) error {
	return ts.parent.updateBalance(ctx, ts.tx, b, expectedVersion)
}

func (ts *txStore) ListBalancesByUser(ctx context.Context, userID absence.UserID) ([]absence.Balance, error) {
	return ts.parent.listBalancesByUser(ctx, ts.tx, userID)
}

func (ts *txStore) SaveRequest(ctx context.Context, r absence.Request) error {
	return ts.parent.saveRequest(ctx, ts.tx, r)
}

func (ts *txStore) UpdateRequest(ctx context.Context, r absence.Request) error {
	return ts.parent.updateRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id absence.RequestID) (*absence.Request, error) {
	return ts.parent.getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequestsByUser(ctx context.Context, userID absence.UserID, from, to time.Time) ([]absence.Request, error) {
	return ts.parent.listRequestsByUser(ctx, ts.tx, userID, from, to)
}

func (ts *txStore) ListRequestsByStatus(ctx context.Context, status absence.RequestStatus) ([]absence.Request, error) {
	return ts.parent.listRequestsByStatus(ctx, ts.tx, status)
}

func (ts *txStore) SaveEpisode(ctx context.Context, e absence.SicknessEpisode) error {
	return ts.parent.saveEpisode(ctx, ts.tx, e)
}

func (ts *txStore) UpdateEpisode(ctx context.Context, e absence.SicknessEpisode) error {
	return ts.parent.updateEpisode(ctx, ts.tx, e)
}

func (ts *txStore) GetEpisode(ctx context.Context, id absence.EpisodeID) (*absence.SicknessEpisode, error) {
	return ts.parent.getEpisode(ctx, ts.tx, id)
}

func (ts *txStore) ListEpisodesByUser(ctx context.Context, userID absence.UserID, from, to time.Time) ([]absence.SicknessEpisode, error) {
	return ts.parent.listEpisodesByUser(ctx, ts.tx, userID, from, to)
}

func (ts *txStore) SaveBlackout(ctx context.Context, w absence.BlackoutWindow) error {
	return ts.parent.saveBlackout(ctx, ts.tx, w)
}

func (ts *txStore) DeleteBlackout(ctx context.Context, id string) error {
	return ts.parent.deleteBlackout(ctx, ts.tx, id)
}

func (ts *txStore) BlackoutsForPlan(ctx context.Context, planID absence.PlanID) ([]absence.BlackoutWindow, error) {
	return ts.parent.blackoutsForPlan(ctx, ts.tx, planID)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry absence.AuditEntry) error {
	return ts.parent.appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) QueryAudit(ctx context.Context, userID absence.UserID, limit int) ([]absence.AuditEntry, error) {
	return ts.parent.queryAudit(ctx, ts.tx, userID, limit)
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// SaveHoliday inserts a public holiday.
func (s *Store) SaveHoliday(ctx context.Context, h absence.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, date, name, recurring)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, name) DO UPDATE SET recurring = excluded.recurring
	`
	_, err := s.db.ExecContext(ctx, query,
		h.ID, h.Date.Format(time.RFC3339), h.Name, h.Recurring)
	return err
}

// ListHolidays returns every stored holiday.
func (s *Store) ListHolidays(ctx context.Context) ([]absence.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []absence.Holiday
	for rows.Next() {
		var h absence.Holiday
		var date string
		if err := rows.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date, _ = time.Parse(time.RFC3339, date)
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// Calendar adapts the holidays table to absence.HolidayCalendar. Recurring
// holidays match on month and day in any year.
type Calendar struct {
	store *Store
}

// NewCalendar returns a calendar backed by the store's holidays table.
func (s *Store) NewCalendar() *Calendar {
	return &Calendar{store: s}
}

func (c *Calendar) IsHoliday(date time.Time) bool {
	return len(c.HolidaysInRange(date, date)) > 0
}

func (c *Calendar) HolidaysInRange(from, to time.Time) []absence.Holiday {
	all, err := c.store.ListHolidays(context.Background())
	if err != nil {
		return nil
	}

	var out []absence.Holiday
	for d := absence.DayOf(from); !d.After(absence.DayOf(to)); d = d.AddDate(0, 0, 1) {
		for _, h := range all {
			hd := absence.DayOf(h.Date)
			if hd.Equal(d) || (h.Recurring && hd.Month() == d.Month() && hd.Day() == d.Day()) {
				matched := h
				matched.Date = d
				out = append(out, matched)
			}
		}
	}
	return out
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
