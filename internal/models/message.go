package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of a stream message
type MessageType string

const (
	MessageTypeReading   MessageType = "reading"
	MessageTypeBatch     MessageType = "batch"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeSummary   MessageType = "summary"
	MessageTypeAck       MessageType = "ack"
	MessageTypeError     MessageType = "error"
	MessageTypeConfig    MessageType = "config"
)

// Message is the envelope for everything sent over the reading stream
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// BatchMessage is the payload for MessageTypeBatch
type BatchMessage struct {
	Readings []Reading `json:"readings"`
	Count    int       `json:"count"`
}

// HeartbeatMessage is the payload for MessageTypeHeartbeat
type HeartbeatMessage struct {
	SessionID  string `json:"session_id"`
	Backend    string `json:"backend"`
	Channels   []int  `json:"channels"`
	Uptime     int64  `json:"uptime"`
	BufferSize int    `json:"buffer_size"`
}

// SummaryMessage is the payload for MessageTypeSummary, sent once when a
// session ends.
type SummaryMessage struct {
	SessionID string           `json:"session_id"`
	Summaries []ChannelSummary `json:"summaries"`
}

// AckMessage is the payload for MessageTypeAck
type AckMessage struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConfigMessage is the payload for MessageTypeConfig
type ConfigMessage struct {
	FrequencyHz float64 `json:"frequency_hz"`
	BufferSize  int     `json:"buffer_size"`
	SessionID   string  `json:"session_id"`
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
