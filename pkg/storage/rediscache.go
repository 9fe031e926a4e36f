package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Listing is the cached read model for a listing page: the listing id plus
// its denormalized author block.
type Listing struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Author AuthorSnapshot `json:"author"`
}

// ListingCache caches rendered listing documents in redis. Author snapshots
// are embedded in cached entries, so any snapshot refresh must invalidate
// every cached listing the author owns; the cache keeps a per-author index
// set for that.
type ListingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewListingCache connects to redis and verifies the connection.
func NewListingCache(redisURL string, ttl time.Duration) (*ListingCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ListingCache{client: client, ttl: ttl}, nil
}

func listingKey(id string) string { return "listing:" + id }

func authorIndexKey(id string) string { return "listing-author:" + id }

// Get retrieves a cached listing. A miss returns (nil, nil).
func (c *ListingCache) Get(ctx context.Context, id string) (*Listing, error) {
	data, err := c.client.Get(ctx, listingKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var listing Listing
	if err := json.Unmarshal([]byte(data), &listing); err != nil {
		// Corrupt entry; drop it rather than serve garbage.
		c.client.Del(ctx, listingKey(id))
		return nil, fmt.Errorf("failed to unmarshal listing: %w", err)
	}
	return &listing, nil
}

// Set stores a listing and records it in the author's index set.
func (c *ListingCache) Set(ctx context.Context, listing *Listing) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, listingKey(listing.ID), data, c.ttl)
	pipe.SAdd(ctx, authorIndexKey(listing.Author.AuthorID), listing.ID)
	pipe.Expire(ctx, authorIndexKey(listing.Author.AuthorID), c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidateAuthor drops every cached listing owned by the author. Called
// after an author snapshot refresh so that stale author blocks never
// outlive the write.
func (c *ListingCache) InvalidateAuthor(ctx context.Context, authorID string) error {
	ids, err := c.client.SMembers(ctx, authorIndexKey(authorID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis smembers failed: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, listingKey(id))
	}
	keys = append(keys, authorIndexKey(authorID))
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping checks redis connectivity for health endpoints.
func (c *ListingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis connection.
func (c *ListingCache) Close() error {
	return c.client.Close()
}
