// Package prefs is the installation-scoped key-value preference store.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Preference keys.
const (
	KeyOnboardingComplete = "onboarding_complete"
	KeyUserGoal           = "user_goal"
	KeyIsPremium          = "is_premium"
	KeyLastResetDate      = "last_reset_date"

	KeyMessagesCount         = "messages_count"
	KeyExercisesCount        = "exercises_count"
	KeyAdExercisesCount      = "ad_exercises_count"
	KeyImprovisationsCount   = "improvisations_count"
	KeyAdImprovisationsCount = "ad_improvisations_count"
)

const keyPrefix = "prefs:"

// Store keeps all preferences of one installation in a single Redis hash,
// so a multi-key Set is applied atomically.
type Store struct {
	rdb redis.Cmdable
	key string
}

// NewStore creates a Store for the given installation.
func NewStore(rdb redis.Cmdable, installationID string) *Store {
	return &Store{rdb: rdb, key: keyPrefix + installationID}
}

// Get returns the value stored under key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading preference %s: %w", key, err)
	}
	return val, true, nil
}

// GetAll returns every stored preference.
func (s *Store) GetAll(ctx context.Context) (map[string]string, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading preferences: %w", err)
	}
	return vals, nil
}

// Set writes all values in one operation.
func (s *Store) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	if err := s.rdb.HSet(ctx, s.key, args...).Err(); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	return nil
}

// Clear removes every preference of the installation.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clearing preferences: %w", err)
	}
	return nil
}

func (s *Store) getBool(ctx context.Context, key string) (bool, error) {
	val, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parsing preference %s: %w", key, err)
	}
	return b, nil
}

func (s *Store) setBool(ctx context.Context, key string, v bool) error {
	return s.Set(ctx, map[string]string{key: strconv.FormatBool(v)})
}

// IsPremium returns the cached entitlement flag. It is advisory only; the
// billing backend is the source of truth.
func (s *Store) IsPremium(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyIsPremium)
}

func (s *Store) SetPremium(ctx context.Context, premium bool) error {
	return s.setBool(ctx, KeyIsPremium, premium)
}

func (s *Store) OnboardingComplete(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyOnboardingComplete)
}

func (s *Store) SetOnboardingComplete(ctx context.Context, done bool) error {
	return s.setBool(ctx, KeyOnboardingComplete, done)
}

// Goal returns the practice goal chosen during onboarding, or "".
func (s *Store) Goal(ctx context.Context) (string, error) {
	val, _, err := s.Get(ctx, KeyUserGoal)
	return val, err
}

func (s *Store) SetGoal(ctx context.Context, goal string) error {
	return s.Set(ctx, map[string]string{KeyUserGoal: goal})
}
