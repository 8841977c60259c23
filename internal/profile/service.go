// internal/profile/service.go

package profile

import (
	"context"
	"errors"

	"github.com/lib/pq"
)

// Service exposes the match profile to HTTP handlers
type Service interface {
	GetMatchProfile(ctx context.Context, userID string) (*MatchProfile, error)
	UpdateMatchAttributes(ctx context.Context, userID string, req *UpdateAttributesRequest) (*MatchProfile, error)
	GetCard(ctx context.Context, userID string) (*Card, error)
}

type service struct {
	repo  Repository
	cache *Cache
}

// NewService creates a new profile service
func NewService(repo Repository, cache *Cache) Service {
	return &service{repo: repo, cache: cache}
}

func (s *service) GetMatchProfile(ctx context.Context, userID string) (*MatchProfile, error) {
	return s.cache.Get(ctx, userID)
}

// UpdateMatchAttributes saves to the durable store first, then refreshes the
// cache so the matcher sees the change on its next search.
func (s *service) UpdateMatchAttributes(ctx context.Context, userID string, req *UpdateAttributesRequest) (*MatchProfile, error) {
	attrs, err := s.repo.GetMatchAttributes(ctx, userID)
	if err != nil {
		return nil, err
	}

	attrs.Latitude = req.Latitude
	attrs.Longitude = req.Longitude
	attrs.Interests = pq.StringArray(req.Interests)

	if err := s.repo.SaveMatchAttributes(ctx, attrs); err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, attrs); err != nil {
		// durable copy is newer now; force the next read to rehydrate
		if ierr := s.cache.Invalidate(ctx, userID); ierr != nil {
			return nil, errors.Join(err, ierr)
		}
		return nil, err
	}
	return s.cache.Get(ctx, userID)
}

func (s *service) GetCard(ctx context.Context, userID string) (*Card, error) {
	p, err := s.cache.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Card(), nil
}
