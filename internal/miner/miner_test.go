package miner_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/miner"
	"github.com/codeproof/judge/internal/store"
	"github.com/codeproof/judge/internal/testutil"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// acceptSubmission enqueues, leases and commits one AC submission.
func acceptSubmission(t *testing.T, s *store.MemStore, uuid string, user int64, problem string, at time.Time, points float64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, &store.Submission{
		Uuid: uuid, UserID: user, ProblemID: problem,
		LangID: "python", SrcCode: "print(7)", SubmittedAt: at,
	}))
	leased, err := s.LeaseNextPending(ctx, "w", time.Minute)
	require.NoError(t, err)
	require.Equal(t, uuid, leased.Uuid)
	err = s.CommitVerdict(ctx, uuid, "w", store.VerdictUpdate{Verdict: api.VerdictAC},
		func(int) float64 { return points })
	require.NoError(t, err)
}

func newMiner(s *store.MemStore) *miner.Miner {
	m := miner.New(s, time.Minute, nil, testutil.Logger())
	clock := base.Add(time.Hour)
	m.SetClock(func() time.Time { return clock })
	return m
}

func TestGenesisBlock(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := newMiner(s)

	block, err := m.EnsureGenesis(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, block.Height)
	require.Equal(t, strings.Repeat("0", 64), block.ParentHash)
	require.True(t, block.IsEmpty)
	require.Nil(t, block.MinerUserID)

	// Idempotent: a second call returns the existing tip.
	again, err := m.EnsureGenesis(ctx)
	require.NoError(t, err)
	require.Equal(t, block.BlockHash, again.BlockHash)
}

func TestHashChain(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := newMiner(s)

	var prev *store.Block
	for i := 0; i < 5; i++ {
		block, err := m.Tick(ctx)
		require.NoError(t, err)
		require.EqualValues(t, i, block.Height)
		if prev != nil {
			require.Equal(t, prev.BlockHash, block.ParentHash)
		}
		prev = block
	}

	require.NoError(t, miner.VerifyChain(ctx, s))
}

// Three users submit AC for problems P1, P1, P2 within one epoch: the
// per-problem firsts are {P1: A, P2: C}; P1 has two ACs against P2's one,
// so A mines the block.
func TestMinerElection(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := newMiner(s)

	acceptSubmission(t, s, "sa", 100, "p1", base, 50)
	acceptSubmission(t, s, "sb", 200, "p1", base.Add(10*time.Second), 25)
	acceptSubmission(t, s, "sc", 300, "p2", base.Add(20*time.Second), 50)

	block, err := m.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, block.TxCount)
	require.False(t, block.IsEmpty)
	require.NotNil(t, block.MinerUserID)
	require.EqualValues(t, 100, *block.MinerUserID)
	require.Equal(t, 125.0, block.TotalPoints)

	// Every drained submission references the block exactly once.
	txs, err := s.BlockTxs(ctx, block.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for _, tx := range txs {
		require.Equal(t, api.VerdictAC, tx.Verdict)
	}

	_, mined, err := s.UserScore(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, mined)

	// The next tick mines an empty block; the mempool was drained.
	next, err := m.Tick(ctx)
	require.NoError(t, err)
	require.True(t, next.IsEmpty)
	require.Equal(t, block.BlockHash, next.ParentHash)
}

func TestMinerElectionTieBreak(t *testing.T) {
	// One AC each: the earliest first-solve wins the tie.
	subs := []store.Submission{
		{Uuid: "x", UserID: 1, ProblemID: "p2", SubmittedAt: base},
		{Uuid: "y", UserID: 2, ProblemID: "p1", SubmittedAt: base.Add(time.Second)},
	}
	winner := miner.ElectMiner(subs)
	require.NotNil(t, winner)
	require.EqualValues(t, 1, *winner)
}

func TestElectMinerEmpty(t *testing.T) {
	require.Nil(t, miner.ElectMiner(nil))
}

func TestBlockHashDeterministic(t *testing.T) {
	ts := base.Add(time.Hour)
	subs := []store.Submission{
		{Uuid: "a", UserID: 1, ProblemID: "p1", PointsEarned: 100},
		{Uuid: "b", UserID: 2, ProblemID: "p2", PointsEarned: 50.5},
	}
	minerID := int64(1)

	h1 := miner.BlockHash(3, strings.Repeat("a", 64), ts, subs, &minerID)
	h2 := miner.BlockHash(3, strings.Repeat("a", 64), ts, subs, &minerID)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)

	// Any ingredient change moves the hash.
	require.NotEqual(t, h1, miner.BlockHash(4, strings.Repeat("a", 64), ts, subs, &minerID))
	require.NotEqual(t, h1, miner.BlockHash(3, strings.Repeat("b", 64), ts, subs, &minerID))
	require.NotEqual(t, h1, miner.BlockHash(3, strings.Repeat("a", 64), ts, subs[:1], &minerID))
	require.NotEqual(t, h1, miner.BlockHash(3, strings.Repeat("a", 64), ts, subs, nil))
}

func TestBlockStampsSubmissions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := newMiner(s)

	acceptSubmission(t, s, "sa", 1, "p1", base, 10)
	block, err := m.Tick(ctx)
	require.NoError(t, err)

	require.NoError(t, miner.VerifyChain(ctx, s))

	sub, err := s.GetSubmission(ctx, "sa")
	require.NoError(t, err)
	require.NotNil(t, sub.BlockID)
	require.Equal(t, block.ID, *sub.BlockID)
}

func TestCanonicalTxsStable(t *testing.T) {
	subs := []store.Submission{
		{Uuid: "a", UserID: 1, ProblemID: "p1", PointsEarned: 100},
		{Uuid: "b", UserID: 2, ProblemID: "p2", PointsEarned: 50.25},
	}
	want := "a,1,p1,100\nb,2,p2,50.25\n"
	require.Equal(t, want, string(miner.CanonicalTxs(subs)))
}
