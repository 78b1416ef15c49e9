package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/capability"
	"github.com/ent0n29/mnemo/internal/storage"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTurnRequest   MessageType = "turn_request"
	TypeClientControl MessageType = "client_control"
	TypeTurnStarted   MessageType = "turn_started"
	TypeTurnResult    MessageType = "turn_result"
	TypeErrorEvent    MessageType = "error_event"
)

const ActionCancel = "cancel"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TurnRequest asks the server to run one turn. Messages is the full
// ordered history; the last user message is the one being answered.
type TurnRequest struct {
	Type      MessageType                 `json:"type"`
	SessionID string                      `json:"session_id"`
	Messages  []artifact.Turn             `json:"messages"`
	Storage   *storage.Override           `json:"storage,omitempty"`
	Features  *capability.FeatureOverride `json:"features,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
}

type TurnStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
}

type TurnResult struct {
	Type      MessageType              `json:"type"`
	SessionID string                   `json:"session_id"`
	TurnID    string                   `json:"turn_id"`
	ReplyText string                   `json:"reply_text"`
	Artifact  *artifact.MemoryArtifact `json:"final_output,omitempty"`
	RecordID  string                   `json:"record_id,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTurnRequest:
		var msg TurnRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if artifact.LatestUserText(msg.Messages) == "" {
			return nil, errors.New("invalid turn_request: no user message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
