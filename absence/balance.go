/*
balance.go - The ledger row: per-(user, plan, period) entitlement and usage

PURPOSE:
  Balance is the single source of truth for "how much absence is left".
  One row per (user, plan, period), created lazily on first use, mutated
  only through Ledger.ApplyDelta, never deleted.

BALANCE COMPONENTS:
  Entitlement:  What the plan grants for the period
  Accrued:      What accrual evaluation has added so far
  Carryover:    What survived from the previous period
  Taken:        Consumed absence (past, committed)
  Scheduled:    Approved, future-dated absence
  Pending:      Submitted requests awaiting a decision

DERIVED FIELDS (recomputed on every mutation):
  Remaining = Entitlement + Accrued + Carryover - Taken - Scheduled
  Available = Remaining - Pending

INVARIANTS:
  Available <= Remaining always; Pending >= 0; when the plan forbids
  negative balances, no committed approval pushes Remaining below zero
  except via an approver's explicit override of an EXCEEDS_BALANCE flag.

SEE ALSO:
  - ledger.go: GetOrCreate and ApplyDelta, the only mutation path
  - accrual.go: What Entitlement/Accrued should be set to
*/
package absence

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceKey uniquely addresses a ledger row.
type BalanceKey struct {
	UserID UserID
	PlanID PlanID
	Period string // Period.Label
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.PlanID, k.Period)
}

// Balance is the mutable ledger row. Version backs the optimistic
// concurrency check in the store: every committed update increments it,
// and updates carrying a stale version are rejected.
type Balance struct {
	ID     string
	UserID UserID
	PlanID PlanID
	Period string

	Entitlement decimal.Decimal
	Accrued     decimal.Decimal
	Carryover   decimal.Decimal
	Taken       decimal.Decimal
	Scheduled   decimal.Decimal
	Pending     decimal.Decimal

	Remaining decimal.Decimal
	Available decimal.Decimal

	Episodes int // rolling-window plans: episodes counted at last recalculation
	FTERatio decimal.Decimal

	Version          int
	LastCalculatedAt time.Time
}

// Key returns the row's unique address.
func (b Balance) Key() BalanceKey {
	return BalanceKey{UserID: b.UserID, PlanID: b.PlanID, Period: b.Period}
}

// Recompute refreshes the derived fields from the components. Called by
// the ledger after every delta; callers never set Remaining/Available
// directly.
func (b *Balance) Recompute(now time.Time) {
	b.Remaining = b.Entitlement.Add(b.Accrued).Add(b.Carryover).
		Sub(b.Taken).Sub(b.Scheduled)
	b.Available = b.Remaining.Sub(b.Pending)
	b.LastCalculatedAt = now
}

// CheckInvariants verifies the arithmetic identities that must hold after
// every operation. Used by tests and the ledger's own sanity checks.
func (b Balance) CheckInvariants() error {
	wantRemaining := b.Entitlement.Add(b.Accrued).Add(b.Carryover).
		Sub(b.Taken).Sub(b.Scheduled)
	if !b.Remaining.Equal(wantRemaining) {
		return fmt.Errorf("balance %s: remaining %s != computed %s",
			b.Key(), b.Remaining, wantRemaining)
	}
	if !b.Available.Equal(b.Remaining.Sub(b.Pending)) {
		return fmt.Errorf("balance %s: available %s != remaining - pending",
			b.Key(), b.Available)
	}
	if b.Pending.IsNegative() {
		return fmt.Errorf("balance %s: pending is negative (%s)", b.Key(), b.Pending)
	}
	return nil
}

// Delta is the set of component adjustments a lifecycle transition applies
// to a balance. Unset fields are zero and leave the component untouched.
type Delta struct {
	Pending     decimal.Decimal
	Scheduled   decimal.Decimal
	Taken       decimal.Decimal
	Entitlement decimal.Decimal
	Accrued     decimal.Decimal
	Carryover   decimal.Decimal
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.Pending.IsZero() && d.Scheduled.IsZero() && d.Taken.IsZero() &&
		d.Entitlement.IsZero() && d.Accrued.IsZero() && d.Carryover.IsZero()
}
