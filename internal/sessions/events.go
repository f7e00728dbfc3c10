package sessions

import (
	"encoding/json"
	"errors"
	"time"

	"lexmatch-backend/internal/languages"
	"lexmatch-backend/internal/model"
)

// Inbound event types.
const (
	EventJoinQueue    = "join_queue"
	EventLeaveQueue   = "leave_queue"
	EventQueueStatus  = "get_queue_status"
	EventMatchAck     = "match_ack"
	EventMatchDecline = "match_decline"
)

// Outbound event types.
const (
	EventMatched        = "matched"
	EventQueued         = "queued"
	EventQueueStatusRes = "queue_status"
	EventMatchCancelled = "match_cancelled"
	EventLeftQueue      = "left_queue"
	EventError          = "error"
)

// Envelope is the wire frame for client messages. Payloads are decoded
// per event type and validated before anything reaches the core.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is the outbound wire frame.
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func newMessage(eventType string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
}

type JoinQueuePayload struct {
	Role          model.Role `json:"role"`
	Language      string     `json:"language"`
	UserID        string     `json:"user_id,omitempty"`
	Username      string     `json:"username,omitempty"`
	WalletAddress string     `json:"wallet_address,omitempty"`
}

func (p JoinQueuePayload) Validate() error {
	if p.Role == "" || p.Language == "" {
		return errors.New("missing required fields: role and language")
	}
	if !p.Role.Valid() {
		return errors.New("role must be learner or fluent")
	}
	if !languages.IsValidLanguage(p.Language) {
		return errors.New("unsupported language")
	}
	return nil
}

type QueueStatusPayload struct {
	Role     model.Role `json:"role"`
	Language string     `json:"language"`
}

func (p QueueStatusPayload) Validate() error {
	if p.Role == "" || p.Language == "" {
		return errors.New("missing required fields: role and language")
	}
	if !p.Role.Valid() {
		return errors.New("role must be learner or fluent")
	}
	if !languages.IsValidLanguage(p.Language) {
		return errors.New("unsupported language")
	}
	return nil
}

type AckPayload struct {
	AckID string `json:"ack_id"`
}
