package handlers

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server → client message types.
const (
	TypeLatestBlocks = "latestBlocks"
	TypeBlockUpdate  = "blockUpdate"
	TypeBlockDetails = "blockDetails"
	TypeStatsUpdate  = "statsUpdate"
	TypeSubscribed   = "subscribed"
	TypeError        = "error"
)

// ServerMessage is the envelope for every message sent to a client.
type ServerMessage struct {
	Type      string      `json:"type"`
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Message   string      `json:"message,omitempty"`
}

func successMessage(msgType string, data interface{}) ServerMessage {
	return ServerMessage{
		Type:      msgType,
		Status:    "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

func errorMessage(message string) ServerMessage {
	return ServerMessage{
		Type:      TypeError,
		Status:    "error",
		Timestamp: time.Now().Unix(),
		Message:   message,
	}
}

// Command is the closed set of inbound client messages. Every inbound
// frame is parsed into exactly one of these variants or rejected with a
// ValidationError.
type Command interface {
	isCommand()
}

// SubscribeAll subscribes the connection to every block update.
type SubscribeAll struct{}

// SubscribeStats subscribes the connection to snapshot refreshes.
type SubscribeStats struct{}

// SubscribeBlock requests the details of one specific block. It acts as
// a one-shot fetch followed by an acknowledgement.
type SubscribeBlock struct {
	Number uint64
}

// GetLatest requests the most recent blocks once.
type GetLatest struct {
	Limit int
}

// GetStats requests the current snapshot once.
type GetStats struct{}

func (SubscribeAll) isCommand()   {}
func (SubscribeStats) isCommand() {}
func (SubscribeBlock) isCommand() {}
func (GetLatest) isCommand()      {}
func (GetStats) isCommand()       {}

// ValidationError flags a malformed inbound message. The connection
// stays open; the client receives a structured error reply.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

const (
	defaultLatestLimit = 10
	maxLatestLimit     = 100
)

// ParseCommand validates a raw client frame against the message schema
// and returns the typed command, or a *ValidationError describing what
// was wrong with it.
func ParseCommand(data []byte) (Command, error) {
	var raw struct {
		Type        string  `json:"type"`
		Channel     string  `json:"channel"`
		Slot        *uint64 `json:"slot"`
		BlockNumber *uint64 `json:"blockNumber"`
		Limit       *int    `json:"limit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Reason: "message is not valid JSON"}
	}

	switch raw.Type {
	case "subscribe":
		switch raw.Channel {
		case "blocks":
			return SubscribeAll{}, nil
		case "stats":
			return SubscribeStats{}, nil
		case "block":
			if raw.Slot == nil {
				return nil, &ValidationError{Reason: "subscribe to channel \"block\" requires a slot"}
			}
			return SubscribeBlock{Number: *raw.Slot}, nil
		default:
			return nil, &ValidationError{Reason: fmt.Sprintf("unknown channel %q", raw.Channel)}
		}
	case "subscribeBlock":
		if raw.BlockNumber == nil {
			return nil, &ValidationError{Reason: "subscribeBlock requires a blockNumber"}
		}
		return SubscribeBlock{Number: *raw.BlockNumber}, nil
	case "getLatestBlocks":
		limit := defaultLatestLimit
		if raw.Limit != nil {
			if *raw.Limit < 1 || *raw.Limit > maxLatestLimit {
				return nil, &ValidationError{Reason: fmt.Sprintf("limit must be between 1 and %d", maxLatestLimit)}
			}
			limit = *raw.Limit
		}
		return GetLatest{Limit: limit}, nil
	case "getStats":
		return GetStats{}, nil
	case "":
		return nil, &ValidationError{Reason: "message is missing a type"}
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown message type %q", raw.Type)}
	}
}
