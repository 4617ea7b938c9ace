package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codeproof/judge/api"
)

// MemStore is the in-memory Store used by the local CLI and by tests. It
// honors the same lease, monotonicity and mining semantics as the Postgres
// implementation, with a mutex standing in for row locks and the advisory
// mining lock.
type MemStore struct {
	mu sync.Mutex

	subs   map[string]*Submission
	order  []string // uuids in insertion order
	blocks []Block

	scores map[int64]float64
	mined  map[int64]int

	now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		subs:   make(map[string]*Submission),
		scores: make(map[int64]float64),
		mined:  make(map[int64]int),
		now:    time.Now,
	}
}

// SetClock overrides the lease clock, for tests.
func (s *MemStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemStore) Enqueue(ctx context.Context, sub *Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.Uuid]; ok {
		return nil // idempotent replay
	}
	cp := *sub
	cp.Verdict = api.VerdictPending
	if cp.SubmittedAt.IsZero() {
		cp.SubmittedAt = s.now()
	}
	s.subs[cp.Uuid] = &cp
	s.order = append(s.order, cp.Uuid)
	return nil
}

func (s *MemStore) GetSubmission(ctx context.Context, uuid string) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemStore) CancelSubmission(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[uuid]
	if !ok {
		return ErrNotFound
	}
	sub.Cancelled = true
	return nil
}

// sortedUnjudged returns unjudged submissions by submitted_at then uuid.
func (s *MemStore) sortedUnjudged() []*Submission {
	var out []*Submission
	for _, id := range s.order {
		if sub := s.subs[id]; sub.Verdict == api.VerdictPending {
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].Uuid < out[j].Uuid
	})
	return out
}

func (s *MemStore) LeaseNextPending(ctx context.Context, workerID string, lease time.Duration) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	unjudged := s.sortedUnjudged()
	type key struct {
		user    int64
		problem string
	}
	seen := make(map[key]bool)

	for _, sub := range unjudged {
		if sub.Cancelled {
			continue // skipped before lease, removed from the queue
		}
		k := key{sub.UserID, sub.ProblemID}
		olderInFlight := seen[k]
		seen[k] = true
		if olderInFlight {
			continue // per-(user,problem) FIFO: oldest first
		}
		if sub.ClaimedAt != nil && now.Sub(*sub.ClaimedAt) < lease {
			continue // live lease held by another worker
		}
		sub.ClaimedBy = &workerID
		at := now
		sub.ClaimedAt = &at
		cp := *sub
		return &cp, nil
	}
	return nil, ErrNoPending
}

func (s *MemStore) CommitVerdict(ctx context.Context, uuid, workerID string, upd VerdictUpdate, pointsFn PointsFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[uuid]
	if !ok {
		return ErrNotFound
	}
	if sub.Verdict.Terminal() {
		return ErrAlreadyJudged
	}
	if sub.ClaimedBy == nil || *sub.ClaimedBy != workerID {
		return ErrLeaseLost
	}

	sub.Verdict = upd.Verdict
	sub.CpuMillis = upd.CpuMillis
	sub.MemKiB = upd.MemKiB
	sub.TestResults = upd.TestResults
	sub.CompileOut = upd.CompileOut
	judged := s.now()
	sub.JudgedAt = &judged
	sub.ClaimedBy = nil
	sub.ClaimedAt = nil

	if upd.Verdict == api.VerdictAC {
		solversBefore := s.distinctSolversLocked(sub.ProblemID, sub.Uuid)
		sub.PointsEarned = pointsFn(solversBefore)
		s.scores[sub.UserID] += sub.PointsEarned
	}
	return nil
}

func (s *MemStore) distinctSolversLocked(problemID string, excludeUuid string) int {
	users := make(map[int64]struct{})
	for _, sub := range s.subs {
		if sub.Uuid == excludeUuid {
			continue
		}
		if sub.ProblemID == problemID && sub.Verdict == api.VerdictAC {
			users[sub.UserID] = struct{}{}
		}
	}
	return len(users)
}

func (s *MemStore) DistinctSolvers(ctx context.Context, problemID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distinctSolversLocked(problemID, ""), nil
}

func (s *MemStore) ReapExpiredLeases(ctx context.Context, maxLease time.Duration, maxAttempts int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var requeued, poisoned int
	for _, sub := range s.subs {
		if sub.Verdict != api.VerdictPending || sub.ClaimedAt == nil {
			continue
		}
		if now.Sub(*sub.ClaimedAt) < maxLease {
			continue
		}
		sub.ClaimedBy = nil
		sub.ClaimedAt = nil
		sub.Attempts++
		if sub.Attempts >= maxAttempts {
			sub.Verdict = api.VerdictIE
			judged := now
			sub.JudgedAt = &judged
			poisoned++
		} else {
			requeued++
		}
	}
	return requeued, poisoned, nil
}

func (s *MemStore) TipBlock(ctx context.Context) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.blocks) == 0 {
		return nil, ErrNotFound
	}
	cp := s.blocks[len(s.blocks)-1]
	return &cp, nil
}

func (s *MemStore) MineTick(ctx context.Context, build BuildBlockFn) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tip *Block
	if len(s.blocks) > 0 {
		cp := s.blocks[len(s.blocks)-1]
		tip = &cp
	}

	var mempool []Submission
	for _, id := range s.order {
		sub := s.subs[id]
		if sub.Verdict == api.VerdictAC && sub.BlockID == nil {
			mempool = append(mempool, *sub)
		}
	}
	sort.SliceStable(mempool, func(i, j int) bool {
		if !mempool[i].SubmittedAt.Equal(mempool[j].SubmittedAt) {
			return mempool[i].SubmittedAt.Before(mempool[j].SubmittedAt)
		}
		return mempool[i].Uuid < mempool[j].Uuid
	})

	block, err := build(tip, mempool)
	if err != nil {
		return nil, err
	}

	block.ID = int64(len(s.blocks) + 1)
	s.blocks = append(s.blocks, *block)
	for _, tx := range mempool {
		id := block.ID
		s.subs[tx.Uuid].BlockID = &id
	}
	if block.MinerUserID != nil {
		s.mined[*block.MinerUserID]++
	}

	cp := *block
	return &cp, nil
}

func (s *MemStore) ListBlocks(ctx context.Context, from, to int64) ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Block
	for _, b := range s.blocks {
		if b.Height >= from && b.Height <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemStore) BlockTxs(ctx context.Context, blockID int64) ([]Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Submission
	for _, id := range s.order {
		sub := s.subs[id]
		if sub.BlockID != nil && *sub.BlockID == blockID {
			out = append(out, *sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].Uuid < out[j].Uuid
	})
	return out, nil
}

func (s *MemStore) UserScore(ctx context.Context, userID int64) (float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[userID], s.mined[userID], nil
}

func (s *MemStore) Close() {}
