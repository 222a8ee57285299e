package stockcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
	"github.com/angelmondragon/shopcore-backend/pkg/redis"
)

const keyPrefix = "stock"

// Store is the cache surface the mirror needs. *redis.Client satisfies it.
type Store interface {
	GetInt(ctx context.Context, key string) (int, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Reader loads records from the durable store.
type Reader interface {
	Find(ctx context.Context, key inventory.Key) (*models.InventoryRecord, error)
}

// Params wires a Mirror.
type Params struct {
	Store   Store
	Reader  Reader
	TTL     time.Duration
	Metrics *metrics.CacheMetrics
	Logger  *logger.Logger
}

// Mirror is a read-through cache of effective stock. It is never consulted
// for reservation decisions.
type Mirror struct {
	store   Store
	reader  Reader
	ttl     time.Duration
	metrics *metrics.CacheMetrics
	logg    *logger.Logger
}

func NewMirror(params Params) (*Mirror, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("cache store required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("inventory reader required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Mirror{
		store:   params.Store,
		reader:  params.Reader,
		ttl:     params.TTL,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// Key renders the cache key of a stock line:
// stock:{product}:{seller}:{variant|null}:{size|null}.
func Key(line inventory.LineKey) string {
	return keyPrefix + ":" + line.String()
}

// Get returns the effective stock of line, from cache when present.
// Cache failures are treated as misses.
func (m *Mirror) Get(ctx context.Context, line inventory.LineKey) (int, error) {
	key := Key(line)
	value, err := m.store.GetInt(ctx, key)
	switch {
	case err == nil:
		m.metrics.IncLookup(metrics.CacheHit)
		return value, nil
	case redis.IsMiss(err):
		m.metrics.IncLookup(metrics.CacheMiss)
	default:
		m.metrics.IncLookup(metrics.CacheError)
		m.logg.Warn(m.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "stock cache read failed")
	}

	rec, err := m.reader.Find(ctx, line.Record)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "inventory record not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory record")
	}
	value, err = inventory.Available(rec, line.Size)
	if err != nil {
		return 0, err
	}
	if err := m.store.Set(ctx, key, value, m.ttl); err != nil {
		m.logg.Warn(m.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "stock cache populate failed")
	}
	return value, nil
}

// Invalidate deletes raw cache keys.
func (m *Mirror) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := m.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete stock cache keys: %w", err)
	}
	m.metrics.AddInvalidated(len(keys))
	return nil
}

// Evict deletes the cache entries of the given lines.
func (m *Mirror) Evict(ctx context.Context, lines ...inventory.LineKey) error {
	keys := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		key := Key(line)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return m.Invalidate(ctx, keys...)
}
