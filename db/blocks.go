package db

import (
	"database/sql"
	"fmt"

	"github.com/blockpulse/blockpulse/models"
)

// NotifyChannel is the Postgres NOTIFY channel fired by the block
// insert trigger.
const NotifyChannel = "new_block"

const notifyFunctionSQL = `
CREATE OR REPLACE FUNCTION notify_new_block()
RETURNS TRIGGER AS $$
BEGIN
    PERFORM pg_notify('new_block', json_build_object(
        'number', NEW.number,
        'hash', NEW.hash,
        'timestamp', NEW.timestamp,
        'transaction_count', NEW.transaction_count
    )::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;
`

const notifyTriggerSQL = `
CREATE TRIGGER block_insert_trigger
AFTER INSERT ON blocks
FOR EACH ROW
EXECUTE FUNCTION notify_new_block();
`

// BlockStore exposes the read queries the metrics pipeline needs over
// the blocks table. Writes are owned by the ingestion pipeline.
type BlockStore struct {
	db *sql.DB
}

func NewBlockStore(db *sql.DB) *BlockStore {
	return &BlockStore{db: db}
}

// Ping reports whether the underlying database is reachable.
func (s *BlockStore) Ping() error {
	return s.db.Ping()
}

// LatestBlocks returns up to limit blocks ordered by number descending.
func (s *BlockStore) LatestBlocks(limit, offset int) ([]models.Block, error) {
	rows, err := s.db.Query(`
		SELECT number, hash, parent_hash, timestamp, transaction_count,
		       gas_used, gas_limit, miner, size
		FROM blocks
		ORDER BY number DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.Block
	for rows.Next() {
		var b models.Block
		if err := rows.Scan(&b.Number, &b.Hash, &b.ParentHash, &b.Timestamp,
			&b.TxCount, &b.GasUsed, &b.GasLimit, &b.Miner, &b.Size); err != nil {
			return nil, fmt.Errorf("failed to scan block row: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// BlockByNumber returns the block with the given number, or
// sql.ErrNoRows if it has not been committed.
func (s *BlockStore) BlockByNumber(number uint64) (models.Block, error) {
	var b models.Block
	err := s.db.QueryRow(`
		SELECT number, hash, parent_hash, timestamp, transaction_count,
		       gas_used, gas_limit, miner, size
		FROM blocks WHERE number = $1`, number).Scan(
		&b.Number, &b.Hash, &b.ParentHash, &b.Timestamp,
		&b.TxCount, &b.GasUsed, &b.GasLimit, &b.Miner, &b.Size)
	return b, err
}

// LatestBlockNumber returns the highest committed block number, or
// (0, nil) when the table is empty.
func (s *BlockStore) LatestBlockNumber() (uint64, error) {
	var number sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(number) FROM blocks`).Scan(&number); err != nil {
		return 0, fmt.Errorf("failed to fetch latest block number: %w", err)
	}
	if !number.Valid {
		return 0, nil
	}
	return uint64(number.Int64), nil
}

// RecentSummaries returns summaries of the last n blocks for the
// cold-start window replay, newest first.
func (s *BlockStore) RecentSummaries(n int) ([]models.BlockSummary, error) {
	rows, err := s.db.Query(`
		SELECT number, timestamp, transaction_count, gas_used
		FROM blocks
		ORDER BY number DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.BlockSummary
	for rows.Next() {
		var summary models.BlockSummary
		if err := rows.Scan(&summary.Number, &summary.Timestamp, &summary.TxCount, &summary.GasUsed); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// EnsureNotifyTrigger installs the pg_notify function and the block
// insert trigger. The function is replaced unconditionally; the trigger
// is created only if it does not already exist, so repeated startups
// are safe.
func (s *BlockStore) EnsureNotifyTrigger() error {
	if _, err := s.db.Exec(notifyFunctionSQL); err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = $1)`,
		"block_insert_trigger").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check notify trigger: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := s.db.Exec(notifyTriggerSQL); err != nil {
		return fmt.Errorf("failed to create notify trigger: %w", err)
	}
	return nil
}
