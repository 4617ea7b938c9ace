// Package miner folds accepted submissions into the append-only block
// ledger. One tick runs per epoch; the store's single-writer lock keeps
// mining strictly serial.
package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/codeproof/judge/internal/store"
)

// GenesisParentHash links the height-0 block to nothing.
var GenesisParentHash = strings.Repeat("0", 64)

// AnchorFn supplies opaque external-anchor data for a freshly mined block.
// Nil disables anchoring.
type AnchorFn func(height int64) map[string]any

type Miner struct {
	store  store.Store
	epoch  time.Duration
	anchor AnchorFn
	logger *slog.Logger

	now func() time.Time
}

func New(st store.Store, epoch time.Duration, anchor AnchorFn, logger *slog.Logger) *Miner {
	return &Miner{
		store:  st,
		epoch:  epoch,
		anchor: anchor,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the block timestamp source, for tests.
func (m *Miner) SetClock(now func() time.Time) { m.now = now }

// Run creates the genesis block if the chain is empty, then ticks every
// epoch until ctx is cancelled. A failed tick leaves the mempool untouched
// and retries on the next epoch.
func (m *Miner) Run(ctx context.Context) error {
	if _, err := m.EnsureGenesis(ctx); err != nil {
		return fmt.Errorf("failed to ensure genesis block: %w", err)
	}

	ticker := time.NewTicker(m.epoch)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		block, err := m.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("mining tick failed", "err", err)
			continue
		}
		m.logger.Info("mined block",
			"height", block.Height, "hash", block.BlockHash[:16],
			"txs", block.TxCount, "points", block.TotalPoints)
	}
}

// EnsureGenesis mines the height-0 block when the chain is empty.
func (m *Miner) EnsureGenesis(ctx context.Context) (*store.Block, error) {
	tip, err := m.store.TipBlock(ctx)
	if err == nil {
		return tip, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return m.Tick(ctx)
}

// Tick mines exactly one block from the current mempool, empty or not.
func (m *Miner) Tick(ctx context.Context) (*store.Block, error) {
	return m.store.MineTick(ctx, m.buildBlock)
}

func (m *Miner) buildBlock(tip *store.Block, mempool []store.Submission) (*store.Block, error) {
	var height int64
	parent := GenesisParentHash
	if tip != nil {
		height = tip.Height + 1
		parent = tip.BlockHash
	}

	block := &store.Block{
		Height:     height,
		ParentHash: parent,
		Timestamp:  m.now().UTC().Truncate(time.Millisecond),
		TxCount:    len(mempool),
		IsEmpty:    len(mempool) == 0,
	}
	var srcBytes int64
	for _, tx := range mempool {
		block.TotalPoints += tx.PointsEarned
		srcBytes += int64(len(tx.SrcCode))
	}
	block.BlockSizeKiB = srcBytes / 1024
	block.MinerUserID = ElectMiner(mempool)
	block.BlockHash = BlockHash(block.Height, block.ParentHash, block.Timestamp, mempool, block.MinerUserID)
	if m.anchor != nil {
		block.BtcAnchor = m.anchor(height)
	}
	return block, nil
}

// ElectMiner picks the block's miner: among the earliest AC submission of
// each distinct problem in the mempool, the one whose problem gathered the
// most ACs wins; ties go to the earliest first-solve. Empty mempool means
// no miner.
func ElectMiner(mempool []store.Submission) *int64 {
	if len(mempool) == 0 {
		return nil
	}

	problems := mapset.NewThreadUnsafeSet[string]()
	firstOf := make(map[string]store.Submission)
	acCount := make(map[string]int)

	// The mempool arrives ordered by (submitted_at, uuid), so the first
	// sighting of a problem is its first solve.
	for _, sub := range mempool {
		if problems.Add(sub.ProblemID) {
			firstOf[sub.ProblemID] = sub
		}
		acCount[sub.ProblemID]++
	}

	var winner store.Submission
	var winnerSet bool
	for problemID := range problems.Iter() {
		first := firstOf[problemID]
		if !winnerSet {
			winner, winnerSet = first, true
			continue
		}
		switch {
		case acCount[problemID] > acCount[winner.ProblemID]:
			winner = first
		case acCount[problemID] == acCount[winner.ProblemID] && earlier(first, winner):
			winner = first
		}
	}

	id := winner.UserID
	return &id
}

func earlier(a, b store.Submission) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.Uuid < b.Uuid
}

// CanonicalTxs serializes the transaction list deterministically, one line
// per submission in mempool order.
func CanonicalTxs(mempool []store.Submission) []byte {
	var sb strings.Builder
	for _, tx := range mempool {
		sb.WriteString(tx.Uuid)
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatInt(tx.UserID, 10))
		sb.WriteByte(',')
		sb.WriteString(tx.ProblemID)
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(tx.PointsEarned, 'f', -1, 64))
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// BlockHash computes SHA-256 over height, parent hash, timestamp (unix
// millis), the hash of the canonical transaction list, and the miner id.
func BlockHash(height int64, parentHash string, ts time.Time, mempool []store.Submission, minerID *int64) string {
	txSum := sha256.Sum256(CanonicalTxs(mempool))

	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%s|", height, parentHash, ts.UnixMilli(), hex.EncodeToString(txSum[:]))
	if minerID != nil {
		fmt.Fprintf(h, "%d", *minerID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain walks the committed chain and re-derives every hash link.
func VerifyChain(ctx context.Context, st store.Store) error {
	tip, err := st.TipBlock(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	blocks, err := st.ListBlocks(ctx, 0, tip.Height)
	if err != nil {
		return err
	}
	if int64(len(blocks)) != tip.Height+1 {
		return fmt.Errorf("chain has gaps: %d blocks for height %d", len(blocks), tip.Height)
	}

	parent := GenesisParentHash
	for _, b := range blocks {
		if b.ParentHash != parent {
			return fmt.Errorf("block %d parent hash mismatch", b.Height)
		}
		txs, err := st.BlockTxs(ctx, b.ID)
		if err != nil {
			return err
		}
		want := BlockHash(b.Height, b.ParentHash, b.Timestamp, txs, b.MinerUserID)
		if b.BlockHash != want {
			return fmt.Errorf("block %d hash mismatch", b.Height)
		}
		parent = b.BlockHash
	}
	return nil
}
