package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/store"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, s *store.MemStore, uuid string, user int64, problem string, at time.Time) {
	t.Helper()
	err := s.Enqueue(context.Background(), &store.Submission{
		Uuid:        uuid,
		UserID:      user,
		ProblemID:   problem,
		LangID:      "python",
		SrcCode:     "print(7)",
		SubmittedAt: at,
	})
	require.NoError(t, err)
}

func TestLeaseOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	enqueue(t, s, "b", 1, "p1", base.Add(time.Second))
	enqueue(t, s, "a", 2, "p2", base)

	sub, err := s.LeaseNextPending(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "a", sub.Uuid)

	sub, err = s.LeaseNextPending(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "b", sub.Uuid)

	_, err = s.LeaseNextPending(ctx, "w3", time.Minute)
	require.ErrorIs(t, err, store.ErrNoPending)
}

func TestLeasePerKeyFifo(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	// Two submissions by the same user on the same problem: the newer one
	// must not be leased while the older is in flight.
	enqueue(t, s, "old", 1, "p1", base)
	enqueue(t, s, "new", 1, "p1", base.Add(time.Second))
	enqueue(t, s, "other", 2, "p1", base.Add(2*time.Second))

	sub, err := s.LeaseNextPending(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "old", sub.Uuid)

	sub, err = s.LeaseNextPending(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "other", sub.Uuid, "unrelated pair may proceed")

	_, err = s.LeaseNextPending(ctx, "w3", time.Minute)
	require.ErrorIs(t, err, store.ErrNoPending, "same-key sibling stays blocked")

	err = s.CommitVerdict(ctx, "old", "w1", store.VerdictUpdate{Verdict: api.VerdictWA}, nil)
	require.NoError(t, err)

	sub, err = s.LeaseNextPending(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "new", sub.Uuid)
}

func TestCommitVerdictMonotone(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	enqueue(t, s, "a", 1, "p1", base)

	_, err := s.LeaseNextPending(ctx, "w1", time.Minute)
	require.NoError(t, err)

	err = s.CommitVerdict(ctx, "a", "w1", store.VerdictUpdate{Verdict: api.VerdictWA}, nil)
	require.NoError(t, err)

	err = s.CommitVerdict(ctx, "a", "w1", store.VerdictUpdate{Verdict: api.VerdictAC}, nil)
	require.ErrorIs(t, err, store.ErrAlreadyJudged)

	sub, err := s.GetSubmission(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, api.VerdictWA, sub.Verdict)
	require.NotNil(t, sub.JudgedAt)
}

func TestCommitRequiresLease(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	enqueue(t, s, "a", 1, "p1", base)

	err := s.CommitVerdict(ctx, "a", "w1", store.VerdictUpdate{Verdict: api.VerdictAC}, nil)
	require.ErrorIs(t, err, store.ErrLeaseLost)
}

func TestPointsSnapshotAndScore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	pointsFn := func(base float64) store.PointsFn {
		return func(solvers int) float64 { return base / float64(solvers+1) }
	}

	enqueue(t, s, "a", 1, "p1", base)
	enqueue(t, s, "b", 2, "p1", base.Add(time.Second))

	_, err := s.LeaseNextPending(ctx, "w1", time.Minute)
	require.NoError(t, err)
	err = s.CommitVerdict(ctx, "a", "w1", store.VerdictUpdate{Verdict: api.VerdictAC}, pointsFn(1000))
	require.NoError(t, err)

	sub, err := s.GetSubmission(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1000.0, sub.PointsEarned, "first solver gets the full value")

	_, err = s.LeaseNextPending(ctx, "w1", time.Minute)
	require.NoError(t, err)
	err = s.CommitVerdict(ctx, "b", "w1", store.VerdictUpdate{Verdict: api.VerdictAC}, pointsFn(1000))
	require.NoError(t, err)

	sub, err = s.GetSubmission(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 500.0, sub.PointsEarned, "second solver sees one prior solver")

	points, _, err := s.UserScore(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1000.0, points)

	// An earlier award never shrinks when the problem decays further.
	sub, err = s.GetSubmission(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1000.0, sub.PointsEarned)
}

func TestReaperRequeuesAndPoisons(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	now := base
	s.SetClock(func() time.Time { return now })

	enqueue(t, s, "a", 1, "p1", base)

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := s.LeaseNextPending(ctx, "w1", time.Minute)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		requeued, poisoned, err := s.ReapExpiredLeases(ctx, time.Minute, 3)
		require.NoError(t, err)
		if attempt < 3 {
			require.Equal(t, 1, requeued)
			require.Equal(t, 0, poisoned)
		} else {
			require.Equal(t, 0, requeued)
			require.Equal(t, 1, poisoned)
		}
	}

	sub, err := s.GetSubmission(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, api.VerdictIE, sub.Verdict)
}

func TestCancelledSkipped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	enqueue(t, s, "a", 1, "p1", base)

	require.NoError(t, s.CancelSubmission(ctx, "a"))

	_, err := s.LeaseNextPending(ctx, "w1", time.Minute)
	require.ErrorIs(t, err, store.ErrNoPending)
}
