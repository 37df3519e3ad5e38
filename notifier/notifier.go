// Package notifier detects newly committed blocks and invokes a
// callback per block. Delivery is push-first over a Postgres
// LISTEN/NOTIFY channel, degrading to interval polling when the push
// channel is unavailable or drops. Delivery is at-least-once and
// unordered; the consumer must tolerate both.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/blockpulse/blockpulse/db"
)

// Mode is the notifier delivery state. PushActive may degrade to
// PollingActive; the reverse transition never happens within a run.
type Mode int32

const (
	Starting Mode = iota
	PushActive
	PollingActive
)

func (m Mode) String() string {
	switch m {
	case PushActive:
		return "push"
	case PollingActive:
		return "polling"
	default:
		return "starting"
	}
}

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultStartupTimeout = 3 * time.Second

	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

// blockNotification mirrors the JSON payload emitted by the
// notify_new_block trigger.
type blockNotification struct {
	Number    uint64 `json:"number"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	TxCount   int64  `json:"transaction_count"`
}

// Callback receives the number of each newly committed block.
type Callback func(blockNumber uint64)

type Notifier struct {
	dsn            string
	channel        string
	store          *db.BlockStore
	pollInterval   time.Duration
	startupTimeout time.Duration
	callback       Callback
	logger         *logrus.Entry

	mode      atomic.Int32
	lastSeen  uint64
	baselined bool
	problems  chan error
}

// New builds a notifier. An empty dsn disables the push path entirely
// and the notifier polls from the start.
func New(dsn string, store *db.BlockStore, callback Callback, logger *logrus.Entry) *Notifier {
	return &Notifier{
		dsn:            dsn,
		channel:        db.NotifyChannel,
		store:          store,
		pollInterval:   DefaultPollInterval,
		startupTimeout: DefaultStartupTimeout,
		callback:       callback,
		logger:         logger,
		problems:       make(chan error, 1),
	}
}

// WithPollInterval overrides the polling fallback interval.
func (n *Notifier) WithPollInterval(d time.Duration) *Notifier {
	if d > 0 {
		n.pollInterval = d
	}
	return n
}

// WithStartupTimeout bounds how long the initial LISTEN may take before
// the notifier gives up on the push path.
func (n *Notifier) WithStartupTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.startupTimeout = d
	}
	return n
}

// Mode reports the current delivery state.
func (n *Notifier) Mode() Mode {
	return Mode(n.mode.Load())
}

// Start runs the notifier until ctx is cancelled. It blocks; run it on
// its own goroutine.
func (n *Notifier) Start(ctx context.Context) {
	if latest, err := n.store.LatestBlockNumber(); err == nil {
		n.lastSeen = latest
		n.baselined = true
	} else {
		n.logger.Warnf("Failed to read latest block number at startup: %v", err)
	}

	listener, err := n.startListener(ctx)
	if err != nil {
		n.logger.Warnf("Push channel unavailable (%v), falling back to polling", err)
		n.runPolling(ctx)
		return
	}

	n.mode.Store(int32(PushActive))
	n.logger.Infof("Listening for block notifications on channel %q", n.channel)
	n.runPush(ctx, listener)
}

// startListener opens the LISTEN subscription, bounded by the startup
// timeout.
func (n *Notifier) startListener(ctx context.Context) (*pq.Listener, error) {
	if n.dsn == "" {
		return nil, errors.New("push channel not configured")
	}

	listener := pq.NewListener(n.dsn, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if ev == pq.ListenerEventConnectionAttemptFailed && err != nil {
				select {
				case n.problems <- err:
				default:
				}
			}
		})

	confirmed := make(chan error, 1)
	go func() { confirmed <- listener.Listen(n.channel) }()

	select {
	case err := <-confirmed:
		if err != nil {
			listener.Close()
			return nil, err
		}
		return listener, nil
	case err := <-n.problems:
		listener.Close()
		return nil, err
	case <-time.After(n.startupTimeout):
		listener.Close()
		return nil, errors.New("timed out waiting for LISTEN confirmation")
	case <-ctx.Done():
		listener.Close()
		return nil, ctx.Err()
	}
}

func (n *Notifier) runPush(ctx context.Context, listener *pq.Listener) {
	defer listener.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// The driver re-established the connection; notifications
				// may have been missed in between.
				n.pollOnce()
				continue
			}
			n.handlePayload(notification.Extra)
		case err := <-n.problems:
			n.logger.Warnf("Push channel lost (%v), degrading to polling", err)
			n.runPolling(ctx)
			return
		}
	}
}

func (n *Notifier) runPolling(ctx context.Context) {
	n.mode.Store(int32(PollingActive))
	n.logger.Infof("Polling for new blocks every %s", n.pollInterval)

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.pollOnce()
		}
	}
}

// pollOnce queries the head block number and dispatches every number
// that appeared since the previous observation. Errors are logged and
// the next tick proceeds regardless. Without a baseline there is no
// previous observation: the head is recorded instead of replaying the
// whole chain through the callback.
func (n *Notifier) pollOnce() {
	latest, err := n.store.LatestBlockNumber()
	if err != nil {
		n.logger.Warnf("Failed to poll latest block number: %v", err)
		return
	}
	if !n.baselined {
		n.lastSeen = latest
		n.baselined = true
		n.logger.Infof("Baselined at block %d", latest)
		return
	}
	for number := n.lastSeen + 1; number <= latest; number++ {
		n.dispatch(number)
	}
}

func (n *Notifier) handlePayload(payload string) {
	var notification blockNotification
	if err := json.Unmarshal([]byte(payload), &notification); err != nil {
		n.logger.Warnf("Ignoring unparseable block notification %q: %v", payload, err)
		return
	}
	if notification.Number == 0 {
		n.logger.Warnf("Ignoring block notification without a number: %q", payload)
		return
	}
	n.dispatch(notification.Number)
}

func (n *Notifier) dispatch(number uint64) {
	if number > n.lastSeen {
		n.lastSeen = number
	}
	n.baselined = true
	n.callback(number)
}
