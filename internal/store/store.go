// Package store is the durable heart of the core: the submission queue with
// worker leases, the block ledger, and materialized user scores. The
// Postgres implementation is authoritative in production; the in-memory one
// backs tests and the local CLI.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/codeproof/judge/api"
)

var (
	// ErrNoPending is returned by LeaseNextPending when no claimable
	// submission exists.
	ErrNoPending = errors.New("no pending submission")

	// ErrLeaseLost is returned by CommitVerdict when the worker's lease
	// was reaped before the commit.
	ErrLeaseLost = errors.New("submission lease lost")

	// ErrAlreadyJudged guards verdict monotonicity: a terminal verdict is
	// written exactly once.
	ErrAlreadyJudged = errors.New("submission already judged")

	// ErrNotFound is returned for unknown submission or block ids.
	ErrNotFound = errors.New("not found")
)

// Submission is one queued or judged submission row.
type Submission struct {
	Uuid      string
	UserID    int64
	ProblemID string
	LangID    string
	SrcCode   string

	SubmittedAt time.Time
	JudgedAt    *time.Time

	Verdict   api.Verdict
	CpuMillis int64
	MemKiB    int64

	TestResults  []api.TestResult
	CompileOut   string
	PointsEarned float64

	BlockID *int64

	Attempts  int
	Cancelled bool
	ClaimedBy *string
	ClaimedAt *time.Time
}

// Block is one committed ledger row.
type Block struct {
	ID     int64
	Height int64

	BlockHash  string
	ParentHash string
	Timestamp  time.Time

	TxCount      int
	TotalPoints  float64
	BlockSizeKiB int64
	IsEmpty      bool

	MinerUserID *int64
	BtcAnchor   map[string]any
}

// VerdictUpdate carries everything the judge produced for one submission.
type VerdictUpdate struct {
	Verdict   api.Verdict
	CpuMillis int64
	MemKiB    int64

	TestResults []api.TestResult
	CompileOut  string
}

// PointsFn computes the points snapshot for an accepted submission given the
// number of distinct users who solved the problem before this commit. It is
// evaluated inside the commit transaction so the snapshot and the solver
// count move together.
type PointsFn func(solversBefore int) float64

// BuildBlockFn assembles the next block from the current tip and the drained
// mempool (AC submissions with no block, submitted_at ascending). It runs
// under the single-writer mining lock, inside the mining transaction.
type BuildBlockFn func(tip *Block, mempool []Submission) (*Block, error)

// Store is the single source of truth for submissions, blocks and scores.
type Store interface {
	// Enqueue inserts a PENDING submission row.
	Enqueue(ctx context.Context, sub *Submission) error

	// GetSubmission reads one submission with its result vector.
	GetSubmission(ctx context.Context, uuid string) (*Submission, error)

	// CancelSubmission marks a submission cancelled. Before lease it will
	// be skipped; after lease the dispatcher downgrades it to IE.
	CancelSubmission(ctx context.Context, uuid string) error

	// LeaseNextPending atomically claims the oldest claimable PENDING
	// submission for workerID. A submission is claimable when it has no
	// live lease and no older unjudged submission shares its
	// (user, problem) pair. Returns ErrNoPending when the queue is
	// drained.
	LeaseNextPending(ctx context.Context, workerID string, lease time.Duration) (*Submission, error)

	// CommitVerdict finalizes a leased submission in one transaction:
	// verdict, metrics and test results are written, and on AC the points
	// snapshot is taken via pointsFn and credited to the user. The
	// verdict is monotone: a second commit returns ErrAlreadyJudged.
	CommitVerdict(ctx context.Context, uuid, workerID string, upd VerdictUpdate, pointsFn PointsFn) error

	// ReapExpiredLeases rewinds submissions whose lease is older than
	// maxLease back to PENDING with an incremented attempt counter;
	// rows at maxAttempts are poisoned to IE.
	ReapExpiredLeases(ctx context.Context, maxLease time.Duration, maxAttempts int) (requeued, poisoned int, err error)

	// DistinctSolvers counts users with at least one AC on the problem.
	DistinctSolvers(ctx context.Context, problemID string) (int, error)

	// TipBlock returns the highest block, or ErrNotFound on an empty
	// chain.
	TipBlock(ctx context.Context) (*Block, error)

	// MineTick runs one mining round under the single-writer lock:
	// it snapshots the mempool, lets build assemble the block, then
	// transactionally inserts it, stamps every drained submission with
	// the block id and credits the miner. Any failure leaves the mempool
	// untouched.
	MineTick(ctx context.Context, build BuildBlockFn) (*Block, error)

	// ListBlocks returns committed blocks with height in [from, to],
	// ascending.
	ListBlocks(ctx context.Context, from, to int64) ([]Block, error)

	// BlockTxs returns a block's transactions in canonical order
	// (submitted_at, then uuid).
	BlockTxs(ctx context.Context, blockID int64) ([]Submission, error)

	// UserScore returns the materialized total score and mined-block
	// count for a user.
	UserScore(ctx context.Context, userID int64) (points float64, blocksMined int, err error)

	Close()
}
