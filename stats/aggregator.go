package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockpulse/blockpulse/models"
)

const (
	// DefaultWindowSize is the number of recent blocks kept for
	// aggregate computation.
	DefaultWindowSize = 10

	// DefaultAssumedBlockInterval stands in for the window span when
	// only a single block has been observed and no real span exists.
	// This is an assumption to avoid division by zero, not a precision
	// guarantee.
	DefaultAssumedBlockInterval = 12 * time.Second
)

// Aggregator maintains a fixed-capacity window of the most recent block
// summaries and a cached snapshot of derived throughput metrics.
// Updates are O(1) amortized: running tx/gas totals are adjusted by
// delta on insert and eviction.
type Aggregator struct {
	mu              sync.RWMutex
	capacity        int
	assumedInterval float64 // seconds
	window          []models.BlockSummary
	totalTx         int64
	totalGas        int64
	snapshot        *models.StatSnapshot
	logger          *logrus.Entry
}

func NewAggregator(windowSize int, assumedInterval time.Duration, logger *logrus.Entry) *Aggregator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if assumedInterval <= 0 {
		assumedInterval = DefaultAssumedBlockInterval
	}
	return &Aggregator{
		capacity:        windowSize,
		assumedInterval: assumedInterval.Seconds(),
		window:          make([]models.BlockSummary, 0, windowSize),
		logger:          logger,
	}
}

// AddBlock inserts a block summary into the window, evicting the oldest
// entry when the window is full, and recomputes the cached snapshot.
// Malformed summaries are logged and skipped; the previous snapshot is
// left untouched. A summary whose number is already present replaces
// the existing entry (reorg upsert). AddBlock never panics and never
// returns an error: all failures are contained here.
func (a *Aggregator) AddBlock(s models.BlockSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(s)
}

// Bootstrap replays persisted summaries into an empty window at
// startup. Order does not matter; the window re-sorts on every insert.
func (a *Aggregator) Bootstrap(summaries []models.BlockSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range summaries {
		a.addLocked(s)
	}
}

// Snapshot returns the cached snapshot, or nil if no block has ever
// been accepted.
func (a *Aggregator) Snapshot() *models.StatSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// WindowLen reports the current number of blocks in the window.
func (a *Aggregator) WindowLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.window)
}

func (a *Aggregator) addLocked(s models.BlockSummary) {
	if s.Number == 0 || s.Timestamp <= 0 || s.TxCount < 0 || s.GasUsed < 0 {
		a.logger.WithFields(logrus.Fields{
			"number":    s.Number,
			"timestamp": s.Timestamp,
			"tx_count":  s.TxCount,
			"gas_used":  s.GasUsed,
		}).Warn("Skipping malformed block summary")
		return
	}

	// Reorg: a block we already track was re-committed with new contents.
	replaced := false
	for i := range a.window {
		if a.window[i].Number == s.Number {
			a.totalTx += s.TxCount - a.window[i].TxCount
			a.totalGas += s.GasUsed - a.window[i].GasUsed
			a.window[i] = s
			replaced = true
			break
		}
	}

	if !replaced {
		a.window = append(a.window, s)
		a.totalTx += s.TxCount
		a.totalGas += s.GasUsed
	}

	// Blocks may arrive out of order under reorgs or network jitter;
	// correctness of the span must not depend on insertion order.
	sort.Slice(a.window, func(i, j int) bool {
		return a.window[i].Number < a.window[j].Number
	})

	for len(a.window) > a.capacity {
		evicted := a.window[0]
		a.window = a.window[1:]
		a.totalTx -= evicted.TxCount
		a.totalGas -= evicted.GasUsed
	}

	a.recomputeLocked()
}

func (a *Aggregator) recomputeLocked() {
	n := len(a.window)
	if n == 0 {
		return
	}

	var span float64
	if n == 1 {
		span = a.assumedInterval
	} else {
		span = float64(a.window[n-1].Timestamp - a.window[0].Timestamp)
		if span <= 0 {
			a.logger.WithFields(logrus.Fields{
				"oldest": a.window[0].Number,
				"newest": a.window[n-1].Number,
			}).Warn("Degenerate window span, keeping previous snapshot")
			return
		}
	}

	txTotal := float64(a.totalTx)
	if txTotal < 1 {
		txTotal = 1
	}

	a.snapshot = &models.StatSnapshot{
		TPS:           float64(a.totalTx) / span,
		GasPerSecond:  float64(a.totalGas) / span,
		ShredInterval: span / txTotal,
		WindowSize:    n,
		ComputedAt:    time.Now().UTC(),
	}
}
