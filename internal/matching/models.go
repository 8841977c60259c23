// internal/matching/models.go

package matching

import (
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// Candidate is one ranked counterpart for a queued user
type Candidate struct {
	UserID      string  `json:"userId"`
	Score       float64 `json:"score"` // cosine distance, lower is closer
	DistanceKm  float64 `json:"distanceKm"`
	DisplayName string  `json:"displayName"`
	AvatarURL   string  `json:"avatarUrl,omitempty"`
}

// QueueState is what GET /api/v1/match/status returns
type QueueState struct {
	Status       profile.QueueStatus `json:"status"`
	ConnectionID string              `json:"connectionId,omitempty"`
	QueueLength  int64               `json:"queueLength"`
}

// CandidateQuery holds the query parameters of a candidate preview
type CandidateQuery struct {
	RadiusKm float64 `validate:"gt=0,lte=500"`
	K        int     `validate:"min=1,max=50"`
}
