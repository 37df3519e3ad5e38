package models

import "time"

// StatSnapshot is a point-in-time set of derived throughput metrics
// over the current block window. Snapshots are immutable once produced
// and shared read-only across subscribers.
type StatSnapshot struct {
	TPS           float64   `json:"tps"`
	GasPerSecond  float64   `json:"gasPerSecond"`
	ShredInterval float64   `json:"shredInterval"` // average seconds between transactions
	WindowSize    int       `json:"windowSize"`
	ComputedAt    time.Time `json:"computedAt"`
}
