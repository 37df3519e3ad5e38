package models

// BlockSummary is the minimal per-block record consumed by the stats
// aggregator. It is immutable once created.
type BlockSummary struct {
	Number    uint64 `json:"number"`
	Timestamp int64  `json:"timestamp"`
	TxCount   int64  `json:"transaction_count"`
	GasUsed   int64  `json:"gas_used"`
}

// Block is the full persisted block record served to clients.
type Block struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  int64  `json:"timestamp"`
	TxCount    int64  `json:"transaction_count"`
	GasUsed    int64  `json:"gas_used"`
	GasLimit   int64  `json:"gas_limit"`
	Miner      string `json:"miner"`
	Size       int64  `json:"size"`
}

// Summary extracts the fields the aggregator cares about.
func (b Block) Summary() BlockSummary {
	return BlockSummary{
		Number:    b.Number,
		Timestamp: b.Timestamp,
		TxCount:   b.TxCount,
		GasUsed:   b.GasUsed,
	}
}
