package stats

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockpulse/blockpulse/models"
)

func newTestAggregator(windowSize int) *Aggregator {
	logger := logrus.NewEntry(logrus.New())
	return NewAggregator(windowSize, DefaultAssumedBlockInterval, logger)
}

// evenBlocks builds numbered blocks spaced 2s apart with 100 txs and
// 1_000_000 gas each.
func evenBlocks(from, to uint64) []models.BlockSummary {
	base := int64(1_700_000_000)
	var blocks []models.BlockSummary
	for n := from; n <= to; n++ {
		blocks = append(blocks, models.BlockSummary{
			Number:    n,
			Timestamp: base + int64(n)*2,
			TxCount:   100,
			GasUsed:   1_000_000,
		})
	}
	return blocks
}

func TestSnapshotNilBeforeFirstBlock(t *testing.T) {
	agg := newTestAggregator(10)
	assert.Nil(t, agg.Snapshot())
}

func TestWindowNeverExceedsCapacity(t *testing.T) {
	agg := newTestAggregator(10)
	for _, b := range evenBlocks(1, 25) {
		agg.AddBlock(b)
		assert.LessOrEqual(t, agg.WindowLen(), 10)
	}
	assert.Equal(t, 10, agg.WindowLen())
}

func TestTenBlockScenario(t *testing.T) {
	agg := newTestAggregator(10)

	for _, b := range evenBlocks(1, 10) {
		agg.AddBlock(b)
	}

	snapshot := agg.Snapshot()
	require.NotNil(t, snapshot)
	// 10 blocks spaced 2s apart span 18s; 1000 txs over 18s.
	assert.InDelta(t, 1000.0/18.0, snapshot.TPS, 0.01)
	assert.InDelta(t, 10_000_000.0/18.0, snapshot.GasPerSecond, 0.01)
	assert.InDelta(t, 18.0/1000.0, snapshot.ShredInterval, 0.0001)
	assert.Equal(t, 10, snapshot.WindowSize)
}

func TestEvictionRecomputesOverRemainingBlocks(t *testing.T) {
	agg := newTestAggregator(10)

	// Block 1 carries no transactions so its eviction is observable.
	blocks := evenBlocks(1, 10)
	blocks[0].TxCount = 0
	for _, b := range blocks {
		agg.AddBlock(b)
	}

	snapshot := agg.Snapshot()
	require.NotNil(t, snapshot)
	assert.InDelta(t, 900.0/18.0, snapshot.TPS, 0.01)

	// Block 11 evicts block 1; the window becomes 2..11, back to a
	// uniform 100 txs per block.
	agg.AddBlock(evenBlocks(11, 11)[0])

	snapshot = agg.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, 10, snapshot.WindowSize)
	assert.InDelta(t, 1000.0/18.0, snapshot.TPS, 0.01)
}

func TestTPSTimesSpanEqualsTotalTx(t *testing.T) {
	agg := newTestAggregator(10)
	blocks := evenBlocks(1, 10)
	for _, b := range blocks {
		agg.AddBlock(b)
	}

	snapshot := agg.Snapshot()
	require.NotNil(t, snapshot)

	span := float64(blocks[9].Timestamp - blocks[0].Timestamp)
	assert.InDelta(t, 1000.0, snapshot.TPS*span, 1e-6)
}

func TestOrderIndependence(t *testing.T) {
	blocks := evenBlocks(1, 15)

	ordered := newTestAggregator(10)
	for _, b := range blocks {
		ordered.AddBlock(b)
	}
	want := ordered.Snapshot()
	require.NotNil(t, want)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		shuffled := append([]models.BlockSummary(nil), blocks...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		agg := newTestAggregator(10)
		for _, b := range shuffled {
			agg.AddBlock(b)
		}

		got := agg.Snapshot()
		require.NotNil(t, got)
		assert.Equal(t, want.WindowSize, got.WindowSize)
		assert.InDelta(t, want.TPS, got.TPS, 1e-9)
		assert.InDelta(t, want.GasPerSecond, got.GasPerSecond, 1e-9)
		assert.InDelta(t, want.ShredInterval, got.ShredInterval, 1e-9)
	}
}

func TestSingleBlockUsesAssumedInterval(t *testing.T) {
	agg := NewAggregator(10, 12*time.Second, logrus.NewEntry(logrus.New()))
	agg.AddBlock(models.BlockSummary{Number: 1, Timestamp: 1_700_000_000, TxCount: 60, GasUsed: 600_000})

	snapshot := agg.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, 1, snapshot.WindowSize)
	assert.InDelta(t, 5.0, snapshot.TPS, 1e-9)
	assert.InDelta(t, 50_000.0, snapshot.GasPerSecond, 1e-9)
	assert.InDelta(t, 0.2, snapshot.ShredInterval, 1e-9)

	assert.False(t, math.IsNaN(snapshot.TPS))
	assert.False(t, math.IsInf(snapshot.TPS, 0))
	assert.False(t, math.IsNaN(snapshot.ShredInterval))
	assert.False(t, math.IsInf(snapshot.ShredInterval, 0))
}

func TestSingleEmptyBlockHasNoNaN(t *testing.T) {
	agg := newTestAggregator(10)
	agg.AddBlock(models.BlockSummary{Number: 1, Timestamp: 1_700_000_000, TxCount: 0, GasUsed: 0})

	snapshot := agg.Snapshot()
	require.NotNil(t, snapshot)
	assert.Zero(t, snapshot.TPS)
	assert.False(t, math.IsNaN(snapshot.ShredInterval))
	assert.False(t, math.IsInf(snapshot.ShredInterval, 0))
}

func TestMalformedSummariesAreSkipped(t *testing.T) {
	agg := newTestAggregator(10)
	agg.AddBlock(evenBlocks(1, 1)[0])
	before := agg.Snapshot()
	require.NotNil(t, before)

	malformed := []models.BlockSummary{
		{Number: 0, Timestamp: 1_700_000_000, TxCount: 10, GasUsed: 10},
		{Number: 2, Timestamp: 0, TxCount: 10, GasUsed: 10},
		{Number: 3, Timestamp: 1_700_000_000, TxCount: -1, GasUsed: 10},
		{Number: 4, Timestamp: 1_700_000_000, TxCount: 10, GasUsed: -5},
	}
	for _, b := range malformed {
		agg.AddBlock(b)
	}

	assert.Equal(t, 1, agg.WindowLen())
	assert.Same(t, before, agg.Snapshot())
}

func TestDuplicateNumberReplacesEntry(t *testing.T) {
	agg := newTestAggregator(10)
	agg.AddBlock(models.BlockSummary{Number: 5, Timestamp: 1_700_000_010, TxCount: 100, GasUsed: 1000})
	agg.AddBlock(models.BlockSummary{Number: 6, Timestamp: 1_700_000_012, TxCount: 100, GasUsed: 1000})

	// The same number committed again after a reorg, with new contents.
	agg.AddBlock(models.BlockSummary{Number: 6, Timestamp: 1_700_000_012, TxCount: 40, GasUsed: 400})

	assert.Equal(t, 2, agg.WindowLen())
	snapshot := agg.Snapshot()
	require.NotNil(t, snapshot)
	assert.InDelta(t, 140.0/2.0, snapshot.TPS, 1e-9)
}

func TestDegenerateSpanKeepsPreviousSnapshot(t *testing.T) {
	agg := newTestAggregator(10)
	agg.AddBlock(models.BlockSummary{Number: 1, Timestamp: 1_700_000_000, TxCount: 50, GasUsed: 500})
	before := agg.Snapshot()
	require.NotNil(t, before)

	// Same timestamp as block 1: span would be zero across two blocks.
	agg.AddBlock(models.BlockSummary{Number: 2, Timestamp: 1_700_000_000, TxCount: 50, GasUsed: 500})

	assert.Equal(t, 2, agg.WindowLen())
	assert.Same(t, before, agg.Snapshot())
}

func TestBootstrapReplaysPersistedBlocks(t *testing.T) {
	agg := newTestAggregator(10)

	// Cold start delivers newest-first; the window must not care.
	blocks := evenBlocks(1, 10)
	reversed := make([]models.BlockSummary, 0, len(blocks))
	for i := len(blocks) - 1; i >= 0; i-- {
		reversed = append(reversed, blocks[i])
	}
	agg.Bootstrap(reversed)

	snapshot := agg.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, 10, snapshot.WindowSize)
	assert.InDelta(t, 1000.0/18.0, snapshot.TPS, 0.01)
}
