// internal/connection/models.go

package connection

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("chat ended")
	ErrNotParticipant  = errors.New("not a participant of this connection")
	ErrInvalidAction   = errors.New("invalid vote action")
)

// SessionState is the state of the ephemeral chat session
type SessionState string

const (
	StateActive    SessionState = "ACTIVE"
	StateConverted SessionState = "CONVERTED"
	StateArchived  SessionState = "ARCHIVED"
)

// Durable connection statuses
const (
	RecordActive   = "ACTIVE"
	RecordFriend   = "FRIEND"
	RecordArchived = "ARCHIVED"
)

// Action is what a participant votes for
type Action string

const (
	ActionExtend  Action = "EXTEND"
	ActionConvert Action = "CONVERT"
)

func (a Action) Valid() bool {
	return a == ActionExtend || a == ActionConvert
}

type VoteOutcome string

const (
	VotePending   VoteOutcome = "pending"
	VoteResolved  VoteOutcome = "resolved"
	VoteRedundant VoteOutcome = "redundant"
)

// Routed event types
const (
	EventMatchFound  = "MATCH_FOUND"
	EventSystemEvent = "SYSTEM_EVENT"
)

// SYSTEM_EVENT kinds
const (
	SystemExtendRequested  = "EXTEND_REQUESTED"
	SystemConvertRequested = "CONVERT_REQUESTED"
	SystemExtendAccepted   = "EXTEND_ACCEPTED"
	SystemConvertAccepted  = "CONVERT_ACCEPTED"
	SystemChatEnded        = "CHAT_ENDED"
)

const (
	ReasonSkipped = "SKIPPED"
	ReasonExpired = "EXPIRED"
)

// Notification category raised when two users become friends
const NotificationNewFriend = "NEW_FRIEND"

const partnerLeftMessage = "The other user has left the chat."

// Session is the live state of a connection
type Session struct {
	ID        string       `json:"connectionId"`
	User1ID   string       `json:"user1Id"`
	User2ID   string       `json:"user2Id"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Extended  bool         `json:"extended"`
	State     SessionState `json:"state"`
}

// HasParticipant reports whether userID is one of the two users
func (s *Session) HasParticipant(userID string) bool {
	return userID != "" && (userID == s.User1ID || userID == s.User2ID)
}

// Partner returns the other participant
func (s *Session) Partner(userID string) string {
	if userID == s.User1ID {
		return s.User2ID
	}
	return s.User1ID
}

// VoteResult is returned to the voter
type VoteResult struct {
	ConnectionID string      `json:"connectionId"`
	Action       Action      `json:"action"`
	Outcome      VoteOutcome `json:"outcome"`
	Count        int64       `json:"count"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
}

// Record is the durable connection row
type Record struct {
	ID            string     `db:"id"`
	User1ID       string     `db:"user1_id"`
	User2ID       string     `db:"user2_id"`
	Status        string     `db:"status"`
	ExpiresAt     *time.Time `db:"expires_at"`
	FinalDeleteAt *time.Time `db:"final_delete_at"`
}

// Event payloads

type MatchFound struct {
	ConnectionID  string `json:"connectionId"`
	PartnerID     string `json:"partnerId"`
	PartnerName   string `json:"partnerName"`
	PartnerAvatar string `json:"partnerAvatar,omitempty"`
	ExpiresAt     int64  `json:"expiresAt"`
}

type SystemEvent struct {
	Event        string `json:"event"`
	ConnectionID string `json:"connectionId"`
	SenderID     string `json:"senderId,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
}
