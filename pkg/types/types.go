package types

import (
	"encoding/json"
	"time"
)

// Inbound event names (client → server)
const (
	EventJoinChat     = "joinChat"
	EventSendMessage  = "sendMessage"
	EventLoadMessages = "loadMessages"
)

// Outbound event names (server → client)
const (
	EventChatHistory    = "chatHistory"
	EventReceiveMessage = "receiveMessage"
	EventError          = "error"
)

// Error codes carried by outbound error events
const (
	CodeValidation             = "validation_error"
	CodePersistenceUnavailable = "persistence_unavailable"
	CodeRateLimited            = "rate_limited"
	CodeBadRequest             = "bad_request"
	CodeInternal               = "internal_error"
)

// ChannelSeparator joins the two sorted participant identifiers of a channel id.
// It is outside the participant identifier alphabet, so channel ids cannot collide.
const ChannelSeparator = "|"

// Message is the persisted unit of a direct conversation.
// FUNCTIONAL DISCOVERY: JSON field names follow the wire format the mobile client
// already consumes (receiverName, message, timestamp, _id)
type Message struct {
	ID           string    `json:"_id"`
	Sender       string    `json:"sender"`
	Receiver     string    `json:"receiver"`
	ReceiverName string    `json:"receiverName"`
	Body         string    `json:"message"`
	CreatedAt    time.Time `json:"timestamp"`
	Seq          int64     `json:"-"` // store insertion order, breaks createdAt ties
}

// Involves reports whether user is the sender or the receiver of m.
func (m *Message) Involves(user string) bool {
	return m.Sender == user || m.Receiver == user
}

// Counterpart returns the other participant of m as seen from user.
func (m *Message) Counterpart(user string) string {
	if m.Sender == user {
		return m.Receiver
	}
	return m.Sender
}

// RecentChat is the per-counterpart digest returned by the recent-chats query.
type RecentChat struct {
	Counterpart  string    `json:"_id"`
	ReceiverName string    `json:"receiverName"`
	LastMessage  string    `json:"lastMessage"`
	Timestamp    time.Time `json:"timestamp"`
}

// Envelope is an outbound WebSocket frame.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// InboundEnvelope is an inbound WebSocket frame. Data stays raw until the
// event name selects the payload type.
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinChatRequest is the joinChat payload.
type JoinChatRequest struct {
	Sender       string `json:"sender" validate:"required,participant"`
	Receiver     string `json:"receiver" validate:"required,participant,nefield=Sender"`
	ReceiverName string `json:"receiverName" validate:"max=100"`
}

// SendMessageRequest is the sendMessage payload.
type SendMessageRequest struct {
	Sender       string `json:"sender" validate:"required,participant"`
	Receiver     string `json:"receiver" validate:"required,participant,nefield=Sender"`
	ReceiverName string `json:"receiverName" validate:"max=100"`
	Message      string `json:"message"`
}

// LoadMessagesRequest is the loadMessages payload.
type LoadMessagesRequest struct {
	Sender   string `json:"sender" validate:"required,participant"`
	Receiver string `json:"receiver" validate:"required,participant"`
}

// ReceivedMessage is the broadcast payload of receiveMessage.
// Receiver and timestamp are not part of the broadcast.
type ReceivedMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// ErrorEvent is the payload of the outbound error event.
type ErrorEvent struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
