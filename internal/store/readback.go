package store

import "github.com/codeproof/judge/api"

// Result maps a submission row onto the external readback record.
func (s *Submission) Result() api.SubmResult {
	return api.SubmResult{
		SubmUuid:     s.Uuid,
		Verdict:      s.Verdict,
		CpuMillis:    s.CpuMillis,
		MemKiB:       s.MemKiB,
		PointsEarned: s.PointsEarned,
		TestResults:  s.TestResults,
		CompileOut:   s.CompileOut,
		JudgedAt:     s.JudgedAt,
		BlockID:      s.BlockID,
	}
}

// Record maps a block row onto the external ledger record.
func (b *Block) Record() api.BlockRecord {
	return api.BlockRecord{
		ID:           b.ID,
		Height:       b.Height,
		BlockHash:    b.BlockHash,
		ParentHash:   b.ParentHash,
		Timestamp:    b.Timestamp,
		TxCount:      b.TxCount,
		TotalPoints:  b.TotalPoints,
		BlockSizeKiB: b.BlockSizeKiB,
		IsEmpty:      b.IsEmpty,
		MinerUserID:  b.MinerUserID,
		BtcAnchor:    b.BtcAnchor,
	}
}
