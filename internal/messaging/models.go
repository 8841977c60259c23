// internal/messaging/models.go

package messaging

import (
    "encoding/json"
    "errors"
    "time"
)

// Inbound websocket event types
const (
    EventJoinQueue       = "JOIN_QUEUE"
    EventLeaveQueue      = "LEAVE_QUEUE"
    EventChatMessage     = "CHAT_MESSAGE"
    EventTypingIndicator = "TYPING_INDICATOR"
    EventStoppedTyping   = "STOPPED_TYPING"
    EventViewingChat     = "VIEWING_CHAT"
    EventLeavingChat     = "LEAVING_CHAT"
    EventHeartbeat       = "HEARTBEAT"
)

// Routed event types carried on the router channel
const (
    RoutedChatMessage        = "Chat_Message"
    RoutedUserTyping         = "User_Typing"
    RoutedStoppedTyping      = "Stopped_Typing"
    RoutedMessageRead        = "Message_Read"
    RoutedNotificationUpdate = "NOTIFICATION_UPDATE"
)

// Direct replies to the sending socket
const (
    ReplyQueueJoined = "QUEUE_JOINED"
    ReplyQueueLeft   = "QUEUE_LEFT"
    ReplyMessageAck  = "MESSAGE_ACK"
    ReplyError       = "ERROR"
)

// Notification categories
const (
    CategoryNewFriend = "NEW_FRIEND"
)

var knownCategories = map[string]bool{
    CategoryNewFriend: true,
}

var (
    ErrUnknownCategory = errors.New("unknown notification category")
    ErrInvalidEvent    = errors.New("invalid event")
)

// Envelope is what travels on the router channel
type Envelope struct {
    ReceiverID string          `json:"receiverId"`
    EventType  string          `json:"eventType"`
    EventData  json.RawMessage `json:"eventData"`
}

// OutboundEvent is what a socket receives
type OutboundEvent struct {
    Type    string          `json:"type"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundEvent is what a socket sends
type InboundEvent struct {
    Type    string          `json:"type"`
    Payload json.RawMessage `json:"payload"`
}

type MessageType string

const (
    MessageText   MessageType = "TEXT"
    MessageSystem MessageType = "SYSTEM"
)

// CachedMessage is one entry of a conversation's bounded buffer
type CachedMessage struct {
    ID        string      `json:"id" db:"id"`
    Content   string      `json:"content" db:"content"`
    SenderID  string      `json:"senderId" db:"sender_id"`
    CreatedAt time.Time   `json:"createdAt" db:"created_at"`
    Type      MessageType `json:"type" db:"type"`
}

// ChatEventData is the eventData of a Chat_Message envelope
type ChatEventData struct {
    ConnectionID string `json:"connectionId"`
    CachedMessage
}

// Payloads

type ChatMessagePayload struct {
    ConnectionID string `json:"connectionId" validate:"required"`
    ReceiverID   string `json:"receiverId" validate:"required"`
    Content      string `json:"content" validate:"required,max=2000"`
}

type ConversationPayload struct {
    ConnectionID string `json:"connectionId" validate:"required"`
    ReceiverID   string `json:"receiverId" validate:"required"`
}

type MessageAck struct {
    ID           string    `json:"id"`
    ConnectionID string    `json:"connectionId"`
    CreatedAt    time.Time `json:"createdAt"`
}

type TypingEvent struct {
    ConnectionID string `json:"connectionId"`
    SenderID     string `json:"senderId"`
}

type ReadEvent struct {
    ConnectionID string `json:"connectionId"`
    ReaderID     string `json:"readerId"`
}

type NotificationUpdate struct {
    Category string `json:"category"`
    Count    int64  `json:"count"`
}

type ErrorPayload struct {
    Code    string `json:"code"`
    Message string `json:"message"`
}

// NewEnvelope encodes data as the eventData of an envelope
func NewEnvelope(receiverID, eventType string, data interface{}) (*Envelope, error) {
    raw, err := json.Marshal(data)
    if err != nil {
        return nil, err
    }
    return &Envelope{ReceiverID: receiverID, EventType: eventType, EventData: raw}, nil
}

// NewOutboundEvent encodes a reply for the sending socket
func NewOutboundEvent(eventType string, payload interface{}) *OutboundEvent {
    out := &OutboundEvent{Type: eventType}
    if payload != nil {
        out.Payload = mustMarshal(payload)
    }
    return out
}

func errorEvent(code, message string) *OutboundEvent {
    return NewOutboundEvent(ReplyError, ErrorPayload{Code: code, Message: message})
}
