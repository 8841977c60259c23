// internal/profile/models.go

package profile

import (
	"errors"
	"time"

	"github.com/lib/pq"
)

// QueueStatus is the matchmaking state of a user. A user holds exactly one.
type QueueStatus string

const (
	StatusIdle    QueueStatus = "IDLE"
	StatusQueued  QueueStatus = "QUEUED"
	StatusMatched QueueStatus = "MATCHED"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
)

// Attributes are the durable profile fields the matcher reads. They are
// loaded from the users table and written into the cache on change.
type Attributes struct {
	UserID      string         `json:"userId" db:"user_id" validate:"required"`
	DisplayName string         `json:"displayName" db:"display_name" validate:"max=64"`
	AvatarURL   string         `json:"avatarUrl" db:"avatar_url" validate:"omitempty,url"`
	Latitude    *float64       `json:"latitude" db:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude   *float64       `json:"longitude" db:"longitude" validate:"omitempty,min=-180,max=180"`
	Interests   pq.StringArray `json:"interests" db:"interests" validate:"dive,min=1,max=32"`
}

// HasLocation reports whether both coordinates are set
func (a *Attributes) HasLocation() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// MatchProfile is the denormalized cache entry kept per user
type MatchProfile struct {
	UserID       string      `json:"userId"`
	Status       QueueStatus `json:"status"`
	Latitude     float64     `json:"latitude"`
	Longitude    float64     `json:"longitude"`
	HasLocation  bool        `json:"hasLocation"`
	Interests    []string    `json:"interests"`
	Vector       []float32   `json:"-"`
	DisplayName  string      `json:"displayName"`
	AvatarURL    string      `json:"avatarUrl,omitempty"`
	ConnectionID string      `json:"connectionId,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Complete reports whether the profile carries what matching needs: a
// location and at least one interest from the vocabulary.
func (p *MatchProfile) Complete() bool {
	if !p.HasLocation {
		return false
	}
	for _, w := range p.Vector {
		if w > 0 {
			return true
		}
	}
	return false
}

// Card is the public subset shown to a counterpart
type Card struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	Interests   []string `json:"interests"`
}

func (p *MatchProfile) Card() *Card {
	return &Card{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Interests:   p.Interests,
	}
}

// UpdateAttributesRequest is the body of PUT /api/v1/match/profile
type UpdateAttributesRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
	Interests []string `json:"interests" validate:"required,min=1,max=10,dive,min=1,max=32"`
}
