package websocket

import (
	"time"

	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/manager"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Crate lifecycle messages
	MessageTypeCrateState  MessageType = "crate_state"
	MessageTypeCrateStatus MessageType = "crate_status"

	// Configuration namespace messages
	MessageTypeInfospaceChange MessageType = "infospace_change"

	// Connection messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// CrateStateData is sent after every lifecycle state change.
type CrateStateData struct {
	State      string          `json:"state"`
	Previous   string          `json:"previous_state,omitempty"`
	FailedSlot int             `json:"failed_slot,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Report     *manager.Report `json:"report,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewCrateStateMessage(st manager.Status, previous manager.State) Message {
	return NewMessage(MessageTypeCrateState, CrateStateData{
		State:      string(st.State),
		Previous:   string(previous),
		FailedSlot: st.FailedSlot,
		LastError:  st.LastError,
		Report:     st.LastReport,
	})
}

func NewInfospaceChangeMessage(c infospace.Change) Message {
	return NewMessage(MessageTypeInfospaceChange, c)
}
