package domain

import (
	"encoding/json"
	"time"
)

// Inbound event types accepted on the websocket.
const (
	InboundJoin    = "join"
	InboundLeave   = "leave"
	InboundMessage = "message:send"
	InboundTyping  = "typing"
	InboundRead    = "read"
	InboundStatus  = "status"
)

// Outbound event types written to the websocket.
const (
	EventConnected   = "connected"
	EventRoomJoined  = "room:joined"
	EventRoomLeft    = "room:left"
	EventNewMessage  = "message:new"
	EventTyping      = "typing"
	EventMessageRead = "message:read"
	EventUserStatus  = "user:status"
	EventChatUpdate  = "chat:update"
	EventError       = "error"
)

// ClientEvent is the tagged inbound envelope. Fields beyond Type are only
// meaningful for the matching event kind; events are transient and never
// stored.
type ClientEvent struct {
	Type      string   `json:"type"`
	RoomID    string   `json:"roomId,omitempty"`
	Content   string   `json:"content,omitempty"`
	FileIDs   []string `json:"fileIds,omitempty"`
	ReplyToID string   `json:"replyToId,omitempty"`
	IsTyping  bool     `json:"isTyping,omitempty"`
	MessageID string   `json:"messageId,omitempty"`
	Status    Status   `json:"status,omitempty"`
}

// MessageUser is the sender summary embedded in NewMessageEvent.
type MessageUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type NewMessageEvent struct {
	Type      string           `json:"type"`
	ID        string           `json:"id"`
	Content   string           `json:"content"`
	ChatID    string           `json:"chatId"`
	UserID    string           `json:"userId"`
	CreatedAt time.Time        `json:"createdAt"`
	Files     []FileAttachment `json:"files,omitempty"`
	ReplyToID string           `json:"replyToId,omitempty"`
	User      MessageUser      `json:"user"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type MessageReadEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type UserStatusEvent struct {
	Type     string     `json:"type"`
	UserID   string     `json:"userId"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ChatUpdateEvent tells room members that chat metadata changed. UpdateType
// names what changed ("message", "read", ...).
type ChatUpdateEvent struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	UpdatedBy  string          `json:"updatedBy"`
	UpdateType string          `json:"updateType"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ErrorAck is sent to the offending sender only, never to the room.
type ErrorAck struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

func NewErrorAck(code Code, message, roomID string) ErrorAck {
	return ErrorAck{Type: EventError, Code: code, Message: message, RoomID: roomID}
}

// Envelope wraps an outbound event for cross-process pub/sub. Origin is the
// publishing process id; a router drops room envelopes carrying its own
// origin so an event is never replayed onto the process that produced it.
type Envelope struct {
	Origin  string          `json:"origin"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}
