// Package dispatch runs the bounded worker pool that pulls pending
// submissions from the store, judges them and commits verdicts. The store's
// lease column is the at-most-once mechanism; a reaper rewinds abandoned
// leases.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/judge"
	"github.com/codeproof/judge/internal/scoring"
	"github.com/codeproof/judge/internal/store"
)

// Judger is the engine contract the pool drives. Satisfied by
// *judge.Engine; tests substitute a fake.
type Judger interface {
	Judge(ctx context.Context, sub *store.Submission) (*judge.Outcome, error)
}

type Opts struct {
	Workers     int
	Lease       time.Duration
	MaxAttempts int
	PollEvery   time.Duration
}

func (o *Opts) withDefaults() Opts {
	out := *o
	if out.Workers < 1 {
		out.Workers = 1
	}
	if out.Lease <= 0 {
		out.Lease = 2 * time.Minute
	}
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 3
	}
	if out.PollEvery <= 0 {
		out.PollEvery = time.Second
	}
	return out
}

type Dispatcher struct {
	store  store.Store
	judger Judger
	probs  judge.ProblemSource
	points *scoring.Engine
	logger *slog.Logger
	opts   Opts

	wake chan struct{}

	// keyLocks serializes judging per (user, problem) pair so verdicts
	// land in submitted_at order even across wake-up races.
	keyLocks *xsync.MapOf[string, *sync.Mutex]
}

func New(st store.Store, judger Judger, probs judge.ProblemSource, points *scoring.Engine, logger *slog.Logger, opts Opts) *Dispatcher {
	return &Dispatcher{
		store:    st,
		judger:   judger,
		probs:    probs,
		points:   points,
		logger:   logger,
		opts:     opts.withDefaults(),
		wake:     make(chan struct{}, 1),
		keyLocks: xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// Wake nudges an idle worker; safe from any goroutine, never blocks.
// Intake layers call this when they enqueue (directly or via NATS).
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run blocks, driving the worker pool and the lease reaper until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return d.workerLoop(ctx, workerID)
		})
	}
	g.Go(func() error {
		return d.reaperLoop(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID string) error {
	ticker := time.NewTicker(d.opts.PollEvery)
	defer ticker.Stop()

	for {
		sub, err := d.store.LeaseNextPending(ctx, workerID, d.opts.Lease)
		switch {
		case errors.Is(err, store.ErrNoPending):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
			case <-ticker.C:
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("failed to lease submission", "worker", workerID, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			continue
		}

		d.process(ctx, workerID, sub)
	}
}

func (d *Dispatcher) process(ctx context.Context, workerID string, sub *store.Submission) {
	log := d.logger.With("worker", workerID, "subm", sub.Uuid)

	key := fmt.Sprintf("%d|%s", sub.UserID, sub.ProblemID)
	mu, _ := d.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	// Cancellation after lease is best-effort and yields IE.
	if sub.Cancelled {
		d.commit(ctx, workerID, sub, &judge.Outcome{Verdict: api.VerdictIE})
		return
	}

	start := time.Now()
	outcome, err := d.judger.Judge(ctx, sub)
	if err != nil {
		// Transient infrastructure failure: abandon the lease and let
		// the reaper requeue it.
		log.Error("judging failed, leaving for reaper", "err", err)
		return
	}
	log.Info("judged", "verdict", outcome.Verdict, "took", time.Since(start))

	// Cancellation that raced with judging discards the partial result.
	if fresh, err := d.store.GetSubmission(ctx, sub.Uuid); err == nil && fresh.Cancelled {
		log.Info("submission cancelled mid-judging")
		outcome = &judge.Outcome{Verdict: api.VerdictIE}
	}

	d.commit(ctx, workerID, sub, outcome)
}

func (d *Dispatcher) commit(ctx context.Context, workerID string, sub *store.Submission, outcome *judge.Outcome) {
	upd := store.VerdictUpdate{
		Verdict:     outcome.Verdict,
		CpuMillis:   outcome.CpuMillis,
		MemKiB:      outcome.MemKiB,
		TestResults: outcome.TestResults,
		CompileOut:  outcome.CompileOut,
	}

	pointsFn := func(solversBefore int) float64 {
		prob, err := d.probs.Get(sub.ProblemID)
		if err != nil {
			// The engine already loaded this package; a miss here is
			// a bug, not a recoverable state.
			d.logger.Error("problem vanished at commit time", "problem", sub.ProblemID, "err", err)
			return d.points.MinPoints
		}
		return d.points.Points(prob.Manifest.BasePoints, solversBefore)
	}

	err := d.store.CommitVerdict(ctx, sub.Uuid, workerID, upd, pointsFn)
	switch {
	case errors.Is(err, store.ErrAlreadyJudged), errors.Is(err, store.ErrLeaseLost):
		d.logger.Warn("verdict commit lost race", "subm", sub.Uuid, "err", err)
	case err != nil:
		d.logger.Error("failed to commit verdict, leaving for reaper", "subm", sub.Uuid, "err", err)
	}
}

func (d *Dispatcher) reaperLoop(ctx context.Context) error {
	every := d.opts.Lease / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		requeued, poisoned, err := d.store.ReapExpiredLeases(ctx, d.opts.Lease, d.opts.MaxAttempts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("lease reaper failed", "err", err)
			continue
		}
		if requeued > 0 || poisoned > 0 {
			d.logger.Warn("reaped expired leases", "requeued", requeued, "poisoned", poisoned)
			d.Wake()
		}
	}
}
