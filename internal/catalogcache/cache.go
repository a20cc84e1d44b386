// Package catalogcache keeps collection listings for a while so repeated
// summaries against the same catalog skip the listing call.
package catalogcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
	"github.com/whatnick/aws-tf-vibe/internal/core/observability"
	"github.com/whatnick/aws-tf-vibe/internal/gateway"
)

const (
	DriverNone  = "none"
	DriverLRU   = "lru"
	DriverRedis = "redis"
)

// Store holds encoded collection lists. A miss is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// Key is stac:collections:<hash of the endpoint without trailing slash>.
func Key(endpoint string) string {
	norm := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	return fmt.Sprintf("stac:collections:%016x", xxhash.Sum64String(norm))
}

// Cached decorates a catalog client; only ListCollections is cached.
// Failed listings are never stored and store errors fall through to the
// wrapped client.
type Cached struct {
	gateway.CatalogClient
	store     Store
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

func Wrap(logger *slog.Logger, inner gateway.CatalogClient, store Store, ttl, opTimeout time.Duration) *Cached {
	return &Cached{
		CatalogClient: inner,
		store:         store,
		ttl:           ttl,
		opTimeout:     opTimeout,
		logger:        logger,
	}
}

func (c *Cached) ListCollections(ctx context.Context, endpoint string) ([]model.CollectionRecord, error) {
	key := Key(endpoint)
	if cols, ok := c.lookup(ctx, key); ok {
		observability.IncCatalogCache("hit")
		return cols, nil
	}
	observability.IncCatalogCache("miss")

	cols, err := c.CatalogClient.ListCollections(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	c.save(ctx, key, endpoint, cols)
	return cols, nil
}

func (c *Cached) lookup(ctx context.Context, key string) ([]model.CollectionRecord, bool) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	b, ok, err := c.store.Get(opCtx, key)
	if err != nil {
		observability.IncCatalogCache("error")
		c.logger.WarnContext(ctx, "catalog cache get failed", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var cols []model.CollectionRecord
	if err := json.Unmarshal(b, &cols); err != nil {
		observability.IncCatalogCache("error")
		c.logger.WarnContext(ctx, "catalog cache entry undecodable", "key", key, "err", err)
		return nil, false
	}
	return cols, true
}

func (c *Cached) save(ctx context.Context, key, endpoint string, cols []model.CollectionRecord) {
	b, err := json.Marshal(cols)
	if err != nil {
		c.logger.WarnContext(ctx, "catalog cache encode failed", "endpoint", endpoint, "err", err)
		return
	}
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.store.Set(opCtx, key, b, c.ttl); err != nil {
		observability.IncCatalogCache("error")
		c.logger.WarnContext(ctx, "catalog cache set failed", "endpoint", endpoint, "err", err)
	}
}

func (c *Cached) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// Invalidate drops the cached listings of the given catalogs.
func (c *Cached) Invalidate(ctx context.Context, endpoints ...string) error {
	if len(endpoints) == 0 {
		return nil
	}
	keys := make([]string, len(endpoints))
	for i, e := range endpoints {
		keys[i] = Key(e)
	}
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.store.Del(opCtx, keys...); err != nil {
		observability.IncCatalogCache("error")
		return fmt.Errorf("invalidate %d catalogs: %w", len(keys), err)
	}
	observability.IncCatalogCache("invalidated")
	return nil
}

func (c *Cached) Close() error { return c.store.Close() }
