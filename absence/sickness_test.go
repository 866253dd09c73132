package absence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/store/memory"
)

func newTracker(t *testing.T, now time.Time) (*absence.SicknessTracker, *memory.Memory) {
	t.Helper()
	store := memory.New()
	tracker := absence.NewSicknessTracker(store,
		absence.WithTrackerClock(func() time.Time { return now }))
	return tracker, store
}

func TestOpenEpisode_Defaults(t *testing.T) {
	// GIVEN: No existing episodes
	// WHEN: Alice reports sick today with no type given
	// THEN: An open short-term episode exists, below the review threshold

	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, _ := newTracker(t, now)

	ep, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID:    "alice",
		StartDate: now,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ep.EndDate != nil {
		t.Fatal("episode should be open")
	}
	if ep.Type != absence.SicknessShortTerm {
		t.Fatalf("type = %s, want short term default", ep.Type)
	}
	if ep.TriggersThreshold {
		t.Fatal("first episode must not trigger the threshold")
	}
}

func TestOpenEpisode_SecondOpenRejected(t *testing.T) {
	// GIVEN: Alice already has an open episode
	// WHEN: Another is opened for her
	// THEN: Validation fails, one episode remains

	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, store := newTracker(t, now)

	if _, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: now,
	}); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: now,
	})
	if !errors.Is(err, absence.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	eps, err := store.ListEpisodesByUser(context.Background(),
		"alice", now.AddDate(0, 0, -30), now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("episodes = %d, want 1", len(eps))
	}
}

func TestOpenEpisode_ThirdInWindowTriggersThreshold(t *testing.T) {
	// GIVEN: Two closed episodes within the trailing year
	// WHEN: A third is opened
	// THEN: It carries the threshold flag for HR review

	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, _ := newTracker(t, now)

	for _, month := range []time.Month{time.February, time.April} {
		start := time.Date(2026, month, 2, 0, 0, 0, 0, time.UTC)
		ep, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
			UserID: "alice", StartDate: start,
		})
		if err != nil {
			t.Fatalf("open %s: %v", month, err)
		}
		if ep.TriggersThreshold {
			t.Fatalf("episode in %s triggered early", month)
		}
		if _, err := tracker.CloseEpisode(context.Background(), ep.ID, start.AddDate(0, 0, 2)); err != nil {
			t.Fatalf("close %s: %v", month, err)
		}
	}

	third, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: now,
	})
	if err != nil {
		t.Fatalf("third open: %v", err)
	}
	if !third.TriggersThreshold {
		t.Fatal("third episode in window must trigger the threshold")
	}
}

func TestCloseEpisode_WeekLongNeedsRTWInterview(t *testing.T) {
	// GIVEN: An episode opened June 1
	// WHEN: Closed on June 7 (7 inclusive days)
	// THEN: The return-to-work interview flag is set

	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, _ := newTracker(t, now)

	ep, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	closed, err := tracker.CloseEpisode(context.Background(), ep.ID,
		time.Date(2026, 6, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.RequiresRTWInterview {
		t.Fatal("7-day episode must require an RTW interview")
	}
}

func TestCloseEpisode_ShortOnesDoNot(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, _ := newTracker(t, now)

	ep, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	closed, err := tracker.CloseEpisode(context.Background(), ep.ID,
		time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.RequiresRTWInterview {
		t.Fatal("6-day episode must not require an RTW interview")
	}
}

func TestCloseEpisode_Guards(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, _ := newTracker(t, now)

	ep, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// End before start.
	_, err = tracker.CloseEpisode(context.Background(), ep.ID,
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, absence.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	// Double close.
	if _, err := tracker.CloseEpisode(context.Background(), ep.ID,
		time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = tracker.CloseEpisode(context.Background(), ep.ID,
		time.Date(2026, 6, 7, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, absence.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	// Unknown episode.
	_, err = tracker.CloseEpisode(context.Background(), "missing",
		time.Date(2026, 6, 7, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, absence.ErrEpisodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestReturnToWork_RequiresClosedEpisode(t *testing.T) {
	// GIVEN: An open episode
	// WHEN: RTW is recorded before it is closed
	// THEN: Validation fails; after closing it succeeds

	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, _ := newTracker(t, now)

	ep, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := tracker.RecordReturnToWork(context.Background(), ep.ID); !errors.Is(err, absence.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	if _, err := tracker.CloseEpisode(context.Background(), ep.ID,
		time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("close: %v", err)
	}
	returned, err := tracker.RecordReturnToWork(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("rtw: %v", err)
	}
	if !returned.IsReturnedToWork {
		t.Fatal("return-to-work not recorded")
	}
}

func TestCertify_MarksEpisode(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, _ := newTracker(t, now)

	ep, err := tracker.OpenEpisode(context.Background(), absence.OpenInput{
		UserID: "alice", StartDate: now, Type: absence.SicknessLongTerm,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	certified, err := tracker.Certify(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if !certified.IsCertified {
		t.Fatal("certification not recorded")
	}
	if certified.Type != absence.SicknessLongTerm {
		t.Fatalf("type = %s, want long term", certified.Type)
	}
}
