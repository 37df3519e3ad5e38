// Package handlers owns the websocket subscription hub: it tracks
// connected clients, their channel subscriptions, and fans block and
// stats updates out to the right connections.
package handlers

import (
	"database/sql"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/blockpulse/blockpulse/db"
	"github.com/blockpulse/blockpulse/models"
	"github.com/blockpulse/blockpulse/stats"
)

// DefaultInitialBlocks is how many recent blocks a client receives on
// connect. Independent of the aggregation window size.
const DefaultInitialBlocks = 10

type clientCommand struct {
	client  *Client
	command Command
}

// invalidCommand carries a validation failure from the read pump back
// through the hub so the error reply shares the single send path.
type invalidCommand struct {
	Reason string
}

func (invalidCommand) isCommand() {}

type blockEvent struct {
	block    models.Block
	snapshot *models.StatSnapshot
}

// Hub coordinates all connected clients. All subscriber-set mutation
// happens on the single run goroutine; the register, unregister,
// command and event channels are the only way in.
type Hub struct {
	store         *db.BlockStore
	agg           *stats.Aggregator
	logger        *logrus.Entry
	initialBlocks int

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	events     chan blockEvent
}

func NewHub(store *db.BlockStore, agg *stats.Aggregator, initialBlocks int, logger *logrus.Entry) *Hub {
	if initialBlocks <= 0 {
		initialBlocks = DefaultInitialBlocks
	}
	return &Hub{
		store:         store,
		agg:           agg,
		logger:        logger,
		initialBlocks: initialBlocks,
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		commands:      make(chan clientCommand, 64),
		events:        make(chan blockEvent, 64),
	}
}

// Run processes hub events until the process exits. Run it on its own
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.sendInitialState(client)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case cmd := <-h.commands:
			if h.clients[cmd.client] {
				h.handleCommand(cmd.client, cmd.command)
			}
		case event := <-h.events:
			h.broadcast(event)
		}
	}
}

// HandleNewBlock is the change-notifier callback: it loads the full
// block record, feeds the aggregator, and queues a broadcast. Safe to
// call from any goroutine. Errors are contained; a block that cannot be
// loaded is logged and skipped.
func (h *Hub) HandleNewBlock(number uint64) {
	block, err := h.store.BlockByNumber(number)
	if err != nil {
		h.logger.Warnf("Failed to load notified block %d: %v", number, err)
		return
	}
	h.agg.AddBlock(block.Summary())
	h.events <- blockEvent{block: block, snapshot: h.agg.Snapshot()}
}

// sendInitialState pushes the last K blocks and the current snapshot so
// a freshly connected client is never left without state.
func (h *Hub) sendInitialState(client *Client) {
	blocks, err := h.store.LatestBlocks(h.initialBlocks, 0)
	if err != nil {
		h.logger.Warnf("Failed to load initial blocks: %v", err)
		h.trySend(client, errorMessage("failed to load latest blocks"))
	} else {
		h.trySend(client, successMessage(TypeLatestBlocks, blocks))
	}
	if snapshot := h.agg.Snapshot(); snapshot != nil {
		h.trySend(client, successMessage(TypeStatsUpdate, snapshot))
	}
}

func (h *Hub) handleCommand(client *Client, command Command) {
	switch cmd := command.(type) {
	case SubscribeAll:
		client.allBlocks = true
		h.trySend(client, successMessage(TypeSubscribed, map[string]string{"channel": "blocks"}))
	case SubscribeStats:
		client.statsFeed = true
		h.trySend(client, successMessage(TypeSubscribed, map[string]string{"channel": "stats"}))
	case SubscribeBlock:
		block, err := h.store.BlockByNumber(cmd.Number)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.trySend(client, errorMessage("block not found"))
		case err != nil:
			h.logger.Warnf("Failed to load block %d: %v", cmd.Number, err)
			h.trySend(client, errorMessage("failed to load block"))
		default:
			h.trySend(client, successMessage(TypeBlockDetails, block))
		}
		h.trySend(client, successMessage(TypeSubscribed, map[string]uint64{"blockNumber": cmd.Number}))
	case GetLatest:
		blocks, err := h.store.LatestBlocks(cmd.Limit, 0)
		if err != nil {
			h.logger.Warnf("Failed to load latest blocks: %v", err)
			h.trySend(client, errorMessage("failed to load latest blocks"))
			return
		}
		h.trySend(client, successMessage(TypeLatestBlocks, blocks))
	case GetStats:
		snapshot := h.agg.Snapshot()
		if snapshot == nil {
			h.trySend(client, errorMessage("no stats available yet"))
			return
		}
		h.trySend(client, successMessage(TypeStatsUpdate, snapshot))
	case invalidCommand:
		h.trySend(client, errorMessage(cmd.Reason))
	}
}

// broadcast delivers a block update followed by a stats update to every
// subscribed connection. Best effort: a client whose send buffer is
// full is dropped without interrupting delivery to others.
func (h *Hub) broadcast(event blockEvent) {
	blockMsg := successMessage(TypeBlockUpdate, event.block)
	var statsMsg *ServerMessage
	if event.snapshot != nil {
		m := successMessage(TypeStatsUpdate, event.snapshot)
		statsMsg = &m
	}

	for client := range h.clients {
		if client.allBlocks {
			if !h.trySend(client, blockMsg) {
				continue
			}
		}
		if client.statsFeed && statsMsg != nil {
			h.trySend(client, *statsMsg)
		}
	}
}

// trySend queues a message without blocking the hub loop. A client that
// cannot keep up is removed from the subscriber set. Returns false if
// the client was dropped. Safe to call again for a client already
// dropped mid-sequence; the extra message is discarded.
func (h *Hub) trySend(client *Client, msg ServerMessage) bool {
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		h.logger.Warn("Dropping slow websocket client")
		delete(h.clients, client)
		close(client.send)
		return false
	}
}
