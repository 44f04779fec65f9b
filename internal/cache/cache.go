// Package cache provides the TTL key/value store shared by the proxy,
// the membership synchronizer and the directory aggregator.
//
// Reads of expired or absent keys are misses. Backend failures are never
// fatal: GetOrFetch and the JSON helpers log them and behave as if the
// key was missing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrEmptyKey is returned when a store operation is called without a key.
var ErrEmptyKey = errors.New("cache: empty key")

// Store is a TTL key/value cache. Each operation is atomic for its key;
// there is no coordination across keys or callers.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key for ttl. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// FetchFunc produces the value for a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// GetOrFetch returns the cached value for key, or calls fetch on a miss
// and stores the result for ttl.
//
// Concurrent misses for the same key each call fetch and each write the
// result; callers that need single-flight behaviour must add it.
// A failing read is logged and treated as a miss, a failing write is
// logged and the fetched value is still returned.
func GetOrFetch(ctx context.Context, s Store, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	log := zerolog.Ctx(ctx)

	value, ok, err := s.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
	} else if ok {
		return value, nil
	}

	value, err = fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Set(ctx, key, value, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
	return value, nil
}

// GetJSON decodes the cached value for key into a T. Backend and decode
// failures are logged and reported as a miss.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var out T
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return out, false
	}
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return out, false
	}
	return out, true
}

// SetJSON encodes value and stores it under key for ttl.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, b, ttl)
}

// GetOrFetchJSON is GetOrFetch for JSON encoded values. An undecodable
// cached entry is refetched and overwritten.
func GetOrFetchJSON[T any](ctx context.Context, s Store, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var fetched *T
	fetchRaw := func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		fetched = &v
		return json.Marshal(v)
	}

	raw, err := GetOrFetch(ctx, s, key, ttl, fetchRaw)
	if fetched != nil {
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to encode value for cache")
		}
		return *fetched, nil
	}
	if err != nil {
		var zero T
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if err := SetJSON(ctx, s, key, v, ttl); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
		return v, nil
	}
	return out, nil
}
