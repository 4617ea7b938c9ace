package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeproof/judge/api"
)

//go:embed schema.sql
var schemaSQL string

// minerLockKey is the advisory-lock key serializing block mining.
const minerLockKey = 0x636f6465 // "code"

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore connects, pings and applies the schema.
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Close() { s.pool.Close() }

const submCols = `uuid, user_id, problem_id, lang_id, src_code,
	submitted_at, judged_at, verdict, cpu_ms, mem_kib,
	test_results, compile_out, points_earned, block_id,
	attempts, cancelled, claimed_by, claimed_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var sub Submission
	var results []byte
	err := row.Scan(&sub.Uuid, &sub.UserID, &sub.ProblemID, &sub.LangID, &sub.SrcCode,
		&sub.SubmittedAt, &sub.JudgedAt, &sub.Verdict, &sub.CpuMillis, &sub.MemKiB,
		&results, &sub.CompileOut, &sub.PointsEarned, &sub.BlockID,
		&sub.Attempts, &sub.Cancelled, &sub.ClaimedBy, &sub.ClaimedAt)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &sub.TestResults); err != nil {
			return nil, fmt.Errorf("failed to decode test results: %w", err)
		}
	}
	return &sub, nil
}

func (s *PgStore) Enqueue(ctx context.Context, sub *Submission) error {
	submitted := sub.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submissions (uuid, user_id, problem_id, lang_id, src_code, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uuid) DO NOTHING`,
		sub.Uuid, sub.UserID, sub.ProblemID, sub.LangID, sub.SrcCode, submitted)
	if err != nil {
		return fmt.Errorf("failed to enqueue submission: %w", err)
	}
	return nil
}

func (s *PgStore) GetSubmission(ctx context.Context, uuid string) (*Submission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+submCols+` FROM submissions WHERE uuid = $1`, uuid)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

func (s *PgStore) CancelSubmission(ctx context.Context, uuid string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET cancelled = true WHERE uuid = $1`, uuid)
	if err != nil {
		return fmt.Errorf("failed to cancel submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) LeaseNextPending(ctx context.Context, workerID string, lease time.Duration) (*Submission, error) {
	// Oldest claimable PENDING row; the NOT EXISTS clause keeps
	// per-(user, problem) submissions strictly FIFO even when an older
	// sibling is currently leased.
	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT s.uuid FROM submissions s
			WHERE s.verdict = 'PENDING'
			  AND NOT s.cancelled
			  AND (s.claimed_at IS NULL
			       OR s.claimed_at < now() - make_interval(secs => $2))
			  AND NOT EXISTS (
				SELECT 1 FROM submissions o
				WHERE o.user_id = s.user_id
				  AND o.problem_id = s.problem_id
				  AND o.verdict = 'PENDING'
				  AND NOT o.cancelled
				  AND (o.submitted_at, o.uuid) < (s.submitted_at, s.uuid)
			  )
			ORDER BY s.submitted_at, s.uuid
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE submissions SET claimed_by = $1, claimed_at = now()
		WHERE uuid IN (SELECT uuid FROM next)
		RETURNING `+submCols,
		workerID, lease.Seconds())

	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease submission: %w", err)
	}
	return sub, nil
}

func (s *PgStore) CommitVerdict(ctx context.Context, uuid, workerID string, upd VerdictUpdate, pointsFn PointsFn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var verdict api.Verdict
	var claimedBy *string
	var userID int64
	var problemID string
	err = tx.QueryRow(ctx, `
		SELECT verdict, claimed_by, user_id, problem_id
		FROM submissions WHERE uuid = $1 FOR UPDATE`, uuid).
		Scan(&verdict, &claimedBy, &userID, &problemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock submission: %w", err)
	}
	if verdict.Terminal() {
		return ErrAlreadyJudged
	}
	if claimedBy == nil || *claimedBy != workerID {
		return ErrLeaseLost
	}

	var points float64
	if upd.Verdict == api.VerdictAC {
		var solversBefore int
		err = tx.QueryRow(ctx, `
			SELECT count(DISTINCT user_id) FROM submissions
			WHERE problem_id = $1 AND verdict = 'AC'`, problemID).
			Scan(&solversBefore)
		if err != nil {
			return fmt.Errorf("failed to count solvers: %w", err)
		}
		points = pointsFn(solversBefore)
	}

	results, err := json.Marshal(upd.TestResults)
	if err != nil {
		return fmt.Errorf("failed to encode test results: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE submissions
		SET verdict = $2, cpu_ms = $3, mem_kib = $4, test_results = $5,
		    compile_out = $6, points_earned = $7, judged_at = now(),
		    claimed_by = NULL, claimed_at = NULL
		WHERE uuid = $1`,
		uuid, upd.Verdict, upd.CpuMillis, upd.MemKiB, results, upd.CompileOut, points)
	if err != nil {
		return fmt.Errorf("failed to write verdict: %w", err)
	}

	if upd.Verdict == api.VerdictAC {
		_, err = tx.Exec(ctx, `
			INSERT INTO user_scores (user_id, total_points)
			VALUES ($1, $2)
			ON CONFLICT (user_id)
			DO UPDATE SET total_points = user_scores.total_points + EXCLUDED.total_points`,
			userID, points)
		if err != nil {
			return fmt.Errorf("failed to credit user score: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) ReapExpiredLeases(ctx context.Context, maxLease time.Duration, maxAttempts int) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin reaper tx: %w", err)
	}
	defer tx.Rollback(ctx)

	poisonTag, err := tx.Exec(ctx, `
		UPDATE submissions
		SET verdict = 'IE', judged_at = now(), attempts = attempts + 1,
		    claimed_by = NULL, claimed_at = NULL
		WHERE verdict = 'PENDING'
		  AND claimed_at IS NOT NULL
		  AND claimed_at < now() - make_interval(secs => $1)
		  AND attempts + 1 >= $2`,
		maxLease.Seconds(), maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to poison submissions: %w", err)
	}

	requeueTag, err := tx.Exec(ctx, `
		UPDATE submissions
		SET attempts = attempts + 1, claimed_by = NULL, claimed_at = NULL
		WHERE verdict = 'PENDING'
		  AND claimed_at IS NOT NULL
		  AND claimed_at < now() - make_interval(secs => $1)`,
		maxLease.Seconds())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to requeue submissions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return int(requeueTag.RowsAffected()), int(poisonTag.RowsAffected()), nil
}

func (s *PgStore) DistinctSolvers(ctx context.Context, problemID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT user_id) FROM submissions
		WHERE problem_id = $1 AND verdict = 'AC'`, problemID).Scan(&n)
	return n, err
}

const blockCols = `id, height, block_hash, parent_hash, ts, tx_count,
	total_points, block_size_kib, is_empty, miner_user_id, btc_anchor`

func scanBlock(row pgx.Row) (*Block, error) {
	var b Block
	var anchor []byte
	err := row.Scan(&b.ID, &b.Height, &b.BlockHash, &b.ParentHash, &b.Timestamp,
		&b.TxCount, &b.TotalPoints, &b.BlockSizeKiB, &b.IsEmpty, &b.MinerUserID, &anchor)
	if err != nil {
		return nil, err
	}
	if len(anchor) > 0 {
		if err := json.Unmarshal(anchor, &b.BtcAnchor); err != nil {
			return nil, fmt.Errorf("failed to decode btc anchor: %w", err)
		}
	}
	return &b, nil
}

func (s *PgStore) TipBlock(ctx context.Context) (*Block, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+blockCols+` FROM blocks ORDER BY height DESC LIMIT 1`)
	b, err := scanBlock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *PgStore) MineTick(ctx context.Context, build BuildBlockFn) (*Block, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin mining tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Single-writer mining: the advisory lock is released with the tx.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, minerLockKey); err != nil {
		return nil, fmt.Errorf("failed to take mining lock: %w", err)
	}

	tip, err := scanBlock(tx.QueryRow(ctx,
		`SELECT `+blockCols+` FROM blocks ORDER BY height DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		tip = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read tip block: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+submCols+` FROM submissions
		WHERE verdict = 'AC' AND block_id IS NULL
		ORDER BY submitted_at, uuid
		FOR UPDATE`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot mempool: %w", err)
	}
	var mempool []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		mempool = append(mempool, *sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	block, err := build(tip, mempool)
	if err != nil {
		return nil, err
	}

	var anchor []byte
	if block.BtcAnchor != nil {
		if anchor, err = json.Marshal(block.BtcAnchor); err != nil {
			return nil, fmt.Errorf("failed to encode btc anchor: %w", err)
		}
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO blocks (height, block_hash, parent_hash, ts, tx_count,
			total_points, block_size_kib, is_empty, miner_user_id, btc_anchor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		block.Height, block.BlockHash, block.ParentHash, block.Timestamp,
		block.TxCount, block.TotalPoints, block.BlockSizeKiB, block.IsEmpty,
		block.MinerUserID, anchor).Scan(&block.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert block: %w", err)
	}

	for _, sub := range mempool {
		if _, err := tx.Exec(ctx,
			`UPDATE submissions SET block_id = $2 WHERE uuid = $1`,
			sub.Uuid, block.ID); err != nil {
			return nil, fmt.Errorf("failed to stamp submission %s: %w", sub.Uuid, err)
		}
	}

	if block.MinerUserID != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_scores (user_id, blocks_mined) VALUES ($1, 1)
			ON CONFLICT (user_id)
			DO UPDATE SET blocks_mined = user_scores.blocks_mined + 1`,
			*block.MinerUserID); err != nil {
			return nil, fmt.Errorf("failed to credit miner: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return block, nil
}

func (s *PgStore) ListBlocks(ctx context.Context, from, to int64) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+blockCols+` FROM blocks
		WHERE height BETWEEN $1 AND $2 ORDER BY height`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PgStore) BlockTxs(ctx context.Context, blockID int64) ([]Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+submCols+` FROM submissions
		WHERE block_id = $1 ORDER BY submitted_at, uuid`, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *PgStore) UserScore(ctx context.Context, userID int64) (float64, int, error) {
	var points float64
	var mined int
	err := s.pool.QueryRow(ctx, `
		SELECT total_points, blocks_mined FROM user_scores WHERE user_id = $1`,
		userID).Scan(&points, &mined)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	return points, mined, err
}
