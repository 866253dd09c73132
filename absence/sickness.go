package absence

// ============================================================================
// PURPOSE: Sickness episode tracking. Episodes live beside the ledger with
// their own open/close lifecycle; they may reference an absence request but
// are never driven by one. The tracker derives the two HR flags on every
// write: whether an episode needs a return-to-work interview, and whether
// the user has crossed the rolling-window episode threshold.
// ============================================================================

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// Episodes at least this long need a certificate and an RTW interview.
	rtwInterviewDays = 7
	// Threshold of distinct episodes inside the policy window that flags
	// a user for an absence review.
	episodeThreshold = 3
	// Window used when the plan has no rolling accrual policy configured.
	defaultEpisodeWindowDays = 365
)

// SicknessTracker manages sickness episodes for the plans that track them.
type SicknessTracker struct {
	store TxStore
	now   func() time.Time
}

type TrackerOption func(*SicknessTracker)

// WithTrackerClock replaces the wall clock, for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *SicknessTracker) { t.now = now }
}

func NewSicknessTracker(store TxStore, opts ...TrackerOption) *SicknessTracker {
	t := &SicknessTracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OpenInput starts a new episode. RequestID is optional; self-certified
// short absences often have no booked request at all.
type OpenInput struct {
	UserID    UserID
	StartDate time.Time
	Type      SicknessType
	RequestID RequestID
}

// OpenEpisode records the start of a sickness episode and refreshes the
// user's rolling-window flags.
func (t *SicknessTracker) OpenEpisode(ctx context.Context, in OpenInput) (*SicknessEpisode, error) {
	if in.UserID == "" {
		return nil, validationErr("missing_user", "userId is required")
	}
	if in.StartDate.IsZero() {
		return nil, validationErr("missing_dates", "episode start date is required")
	}
	if in.Type == "" {
		in.Type = SicknessShortTerm
	}

	now := t.now()
	ep := &SicknessEpisode{
		ID:        EpisodeID(uuid.NewString()),
		UserID:    in.UserID,
		StartDate: DayOf(in.StartDate),
		Type:      in.Type,
		RequestID: in.RequestID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := t.store.WithTx(ctx, func(s Store) error {
		open, err := t.openEpisodeFor(ctx, s, in.UserID)
		if err != nil {
			return err
		}
		if open != nil {
			return validationErr("episode_open", "user %s already has an open episode %s", in.UserID, open.ID)
		}

		count, err := t.episodesInWindow(ctx, s, in.UserID, ep.StartDate)
		if err != nil {
			return err
		}
		ep.TriggersThreshold = count+1 >= episodeThreshold

		if err := s.SaveEpisode(ctx, *ep); err != nil {
			return err
		}
		return s.AppendAudit(ctx, AuditEntry{
			ID:      uuid.NewString(),
			Action:  AuditEpisodeOpened,
			ActorID: string(in.UserID),
			UserID:  in.UserID,
			Detail:  string(ep.Type),
			At:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// CloseEpisode sets the episode's end date. Duration-derived flags are
// computed here: week-long episodes require a return-to-work interview.
func (t *SicknessTracker) CloseEpisode(ctx context.Context, id EpisodeID, endDate time.Time) (*SicknessEpisode, error) {
	if endDate.IsZero() {
		return nil, validationErr("missing_dates", "episode end date is required")
	}

	var ep *SicknessEpisode
	err := t.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetEpisode(ctx, id)
		if err != nil {
			return err
		}
		if cur.EndDate != nil {
			return validationErr("episode_closed", "episode %s is already closed", id)
		}
		end := DayOf(endDate)
		if end.Before(cur.StartDate) {
			return validationErr("invalid_date_range", "end %s is before start %s",
				end.Format("2006-01-02"), cur.StartDate.Format("2006-01-02"))
		}

		now := t.now()
		cur.EndDate = &end
		cur.RequiresRTWInterview = cur.DurationDays(now) >= rtwInterviewDays
		cur.UpdatedAt = now
		if err := s.UpdateEpisode(ctx, *cur); err != nil {
			return err
		}

		ep = cur
		return s.AppendAudit(ctx, AuditEntry{
			ID:      uuid.NewString(),
			Action:  AuditEpisodeClosed,
			ActorID: string(cur.UserID),
			UserID:  cur.UserID,
			Detail:  end.Format("2006-01-02"),
			At:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// Certify marks the episode as backed by a fit note.
func (t *SicknessTracker) Certify(ctx context.Context, id EpisodeID) (*SicknessEpisode, error) {
	return t.update(ctx, id, func(ep *SicknessEpisode) error {
		ep.IsCertified = true
		return nil
	})
}

// RecordReturnToWork completes the RTW process for a closed episode.
func (t *SicknessTracker) RecordReturnToWork(ctx context.Context, id EpisodeID) (*SicknessEpisode, error) {
	return t.update(ctx, id, func(ep *SicknessEpisode) error {
		if ep.EndDate == nil {
			return validationErr("episode_open", "episode %s must be closed before return to work", ep.ID)
		}
		ep.IsReturnedToWork = true
		return nil
	})
}

// EpisodeCount returns how many episodes fall inside the trailing window
// ending at asOf. Ongoing episodes count.
func (t *SicknessTracker) EpisodeCount(ctx context.Context, userID UserID, asOf time.Time) (int, error) {
	return t.episodesInWindow(ctx, t.store, userID, asOf)
}

func (t *SicknessTracker) update(ctx context.Context, id EpisodeID, mutate func(*SicknessEpisode) error) (*SicknessEpisode, error) {
	var ep *SicknessEpisode
	err := t.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetEpisode(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(cur); err != nil {
			return err
		}
		cur.UpdatedAt = t.now()
		ep = cur
		return s.UpdateEpisode(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func (t *SicknessTracker) openEpisodeFor(ctx context.Context, s Store, userID UserID) (*SicknessEpisode, error) {
	// An open episode necessarily overlaps today.
	today := DayOf(t.now())
	eps, err := s.ListEpisodesByUser(ctx, userID, today, today)
	if err != nil {
		return nil, err
	}
	for i := range eps {
		if eps[i].EndDate == nil {
			return &eps[i], nil
		}
	}
	return nil, nil
}

func (t *SicknessTracker) episodesInWindow(ctx context.Context, s Store, userID UserID, asOf time.Time) (int, error) {
	windowStart := DayOf(asOf).AddDate(0, 0, -(defaultEpisodeWindowDays - 1))
	eps, err := s.ListEpisodesByUser(ctx, userID, windowStart, DayOf(asOf))
	if err != nil {
		return 0, err
	}
	return len(eps), nil
}
