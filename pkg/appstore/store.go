package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bulwarkai/bulwark/pkg/config"
)

const keyPrefix = "bulwark:app:"

// Store holds per-application feature overrides in Redis. An app with no
// stored overrides runs on the process-wide defaults; unknown feature
// names in stored data are dropped at merge time, so stale entries cannot
// enable stages that no longer exist.
type Store struct {
	client   *redis.Client
	defaults config.FeatureConfig
	ttl      time.Duration
}

func New(addr string, defaults config.FeatureConfig) *Store {
	return &Store{
		client:   redis.NewClient(&redis.Options{Addr: addr}),
		defaults: defaults,
	}
}

// NewWithClient is for tests and callers that manage their own client.
func NewWithClient(client *redis.Client, defaults config.FeatureConfig) *Store {
	return &Store{client: client, defaults: defaults}
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FeaturesFor resolves the effective feature set for an app. Missing key,
// unreadable JSON, or an empty app ID all fall back to the defaults. A
// misbehaving store must never silently change what gets analyzed.
func (s *Store) FeaturesFor(ctx context.Context, appID string) config.FeatureConfig {
	if appID == "" {
		return s.defaults
	}
	raw, err := s.client.Get(ctx, keyPrefix+appID).Result()
	if err != nil {
		return s.defaults
	}
	var overrides map[string]config.FeatureSetting
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return s.defaults
	}
	return s.defaults.Merge(overrides)
}

// SetFeatures stores an app's overrides.
func (s *Store) SetFeatures(ctx context.Context, appID string, overrides map[string]config.FeatureSetting) error {
	if appID == "" {
		return fmt.Errorf("empty app id")
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+appID, raw, s.ttl).Err()
}

// DeleteFeatures removes an app's overrides, reverting it to defaults.
func (s *Store) DeleteFeatures(ctx context.Context, appID string) error {
	return s.client.Del(ctx, keyPrefix+appID).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
