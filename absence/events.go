package absence

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// DOMAIN EVENTS - Fire-and-forget notifications after successful transitions
// =============================================================================

type EventType string

const (
	EventRequestSubmitted EventType = "request_submitted"
	EventRequestApproved  EventType = "request_approved"
	EventRequestRejected  EventType = "request_rejected"
	EventRequestCancelled EventType = "request_cancelled"
)

// Event is emitted after a transition has committed. Delivery and retry
// are the dispatcher's concern; the engine never fails a transition
// because a notification could not be sent.
type Event struct {
	Type      EventType
	RequestID RequestID
	UserID    UserID
	PlanID    PlanID
	At        time.Time
}

// Dispatcher receives domain events.
type Dispatcher interface {
	Notify(ctx context.Context, e Event)
}

// NopDispatcher discards events.
type NopDispatcher struct{}

func (NopDispatcher) Notify(context.Context, Event) {}

// LogDispatcher records events through a logger. Useful as the default
// wiring until a real notification/task system is attached.
type LogDispatcher struct {
	Log *logrus.Logger
}

func (d LogDispatcher) Notify(_ context.Context, e Event) {
	if d.Log == nil {
		return
	}
	d.Log.WithFields(logrus.Fields{
		"event":   e.Type,
		"request": e.RequestID,
		"user":    e.UserID,
		"plan":    e.PlanID,
	}).Info("absence event")
}

// =============================================================================
// IDENTITY PROVIDER - Narrow collaborator for attributing actors
// =============================================================================

// User is the minimal identity the engine needs: an ID to attribute
// creators and approvers, and roles for display alongside approval steps.
// Authentication and authorization live outside this package.
type User struct {
	ID    string
	Name  string
	Roles []string
}

// IdentityProvider resolves user IDs. Implementations return
// ErrUserNotFound for unknown IDs.
type IdentityProvider interface {
	ResolveUser(ctx context.Context, id string) (*User, error)
}

// StaticIdentity is a map-backed provider for tests and demos.
type StaticIdentity map[string]User

func (s StaticIdentity) ResolveUser(_ context.Context, id string) (*User, error) {
	u, ok := s[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}
