package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

const listingTTL = 5 * time.Minute

// ListingCache implements domain.ListingCache with one hash per listing
// holding its JSON encoding in field "data".
//
//	carbonex:listing:{asset_id}
type ListingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying(), ttl: listingTTL}
}

func listingKey(assetID string) string { return keyPrefix + "listing:" + assetID }

// Set caches l with the cache TTL.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", l.AssetID, err)
	}
	key := listingKey(l.AssetID)
	pipe := lc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, lc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set listing %s: %w", l.AssetID, err)
	}
	return nil
}

// Get returns the cached listing or domain.ErrNotFound.
func (lc *ListingCache) Get(ctx context.Context, assetID string) (domain.Listing, error) {
	data, err := lc.rdb.HGet(ctx, listingKey(assetID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %s: %w", assetID, err)
	}
	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %s: %w", assetID, err)
	}
	return l, nil
}

// Invalidate drops the cached listing for assetID.
func (lc *ListingCache) Invalidate(ctx context.Context, assetID string) error {
	if err := lc.rdb.Del(ctx, listingKey(assetID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", assetID, err)
	}
	return nil
}

var _ domain.ListingCache = (*ListingCache)(nil)
