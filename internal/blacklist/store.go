// Package blacklist keeps the shared set of (outbound IP, provider domain)
// pairs that receiving servers have refused.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "blacklist"
	scanCount     = 100
)

// Item is one blacklist entry
type Item struct {
	IP       string
	Provider string
	Note     string
}

// Store is a Redis-backed blacklist. Every entry is its own key,
// <prefix>:<provider>:<ip>, holding the note. Entries expire after the
// store's TTL so a refusal is retried once the listing has had time to
// clear; a zero TTL keeps them until removed.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore creates a store; an empty prefix uses "blacklist"
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) providerPrefix(provider string) string {
	return fmt.Sprintf("%s:%s:", s.prefix, strings.ToLower(provider))
}

func (s *Store) key(item Item) string {
	return s.providerPrefix(item.Provider) + item.IP
}

// Add inserts the entry, overwriting the note and restarting its TTL when
// it already exists
func (s *Store) Add(ctx context.Context, item Item) error {
	if err := s.client.Set(ctx, s.key(item), item.Note, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to add %s/%s to blacklist: %w", item.IP, item.Provider, err)
	}
	return nil
}

// Remove deletes the entry if present
func (s *Store) Remove(ctx context.Context, item Item) error {
	if err := s.client.Del(ctx, s.key(item)).Err(); err != nil {
		return fmt.Errorf("failed to remove %s/%s from blacklist: %w", item.IP, item.Provider, err)
	}
	return nil
}

// Contains reports whether the entry is present
func (s *Store) Contains(ctx context.Context, item Item) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(item)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist for %s/%s: %w", item.IP, item.Provider, err)
	}
	return n > 0, nil
}

// List returns every live entry recorded for a provider
func (s *Store) List(ctx context.Context, provider string) ([]Item, error) {
	provider = strings.ToLower(provider)
	prefix := s.providerPrefix(provider)

	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list blacklist for %s: %w", provider, err)
	}

	items := make([]Item, 0, len(keys))
	for _, key := range keys {
		note, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between the scan and the read
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list blacklist for %s: %w", provider, err)
		}
		items = append(items, Item{IP: strings.TrimPrefix(key, prefix), Provider: provider, Note: note})
	}
	return items, nil
}
