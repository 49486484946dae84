package users

import (
	"context"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

type Service struct {
	repo  Repository
	clock quartz.Clock
}

func NewService(repo Repository, clock quartz.Clock) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Service{repo: repo, clock: clock}
}

// Profile returns the local profile, nil if there is none yet.
func (s *Service) Profile(ctx context.Context) (*Profile, error) {
	return s.repo.Get(ctx)
}

// Ensure returns the existing profile or creates an empty one.
func (s *Service) Ensure(ctx context.Context, email, displayName string) (*Profile, error) {
	p, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	now := s.clock.Now().UTC()
	p = &Profile{
		ID:          uuid.New(),
		DisplayName: displayName,
		Email:       email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies fn to the profile and saves it.
func (s *Service) Update(ctx context.Context, fn func(p *Profile)) (*Profile, error) {
	p, err := s.Ensure(ctx, "", "")
	if err != nil {
		return nil, err
	}
	fn(p)
	p.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes the local profile.
func (s *Service) Delete(ctx context.Context) error {
	return s.repo.Delete(ctx)
}
