package api

import "time"

// BlockRecord is the read-only ledger record exposed to external layers.
type BlockRecord struct {
	ID     int64 `json:"id"`
	Height int64 `json:"height"`

	BlockHash  string `json:"block_hash"`
	ParentHash string `json:"parent_hash"`

	Timestamp time.Time `json:"timestamp"`

	TxCount      int     `json:"tx_count"`
	TotalPoints  float64 `json:"total_points"`
	BlockSizeKiB int64   `json:"block_size_kib"`
	IsEmpty      bool    `json:"is_empty"`

	MinerUserID *int64 `json:"miner_user_id,omitempty"`

	// BtcAnchor carries opaque external-anchor data, if any.
	BtcAnchor map[string]any `json:"btc_anchor,omitempty"`
}
