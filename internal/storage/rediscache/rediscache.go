// Package rediscache wraps a discount.Repository with a Redis read-through
// cache for code lookups, the hottest path at checkout.
package rediscache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/wire"
)

const keyPrefix = "discount:code:"

// DefaultTTL bounds how stale a cached code may be.
const DefaultTTL = 30 * time.Second

var _ discount.Repository = (*Repository)(nil)

// Repository caches FindByCode results and delegates everything else.
// Writes that change a code (redeem, deactivate) evict its entry. Cache
// failures are logged and the call falls through to the wrapped repository.
type Repository struct {
	next discount.Repository
	rdb  redis.UniversalClient
	ttl  time.Duration
	lg   *zap.Logger
}

// New wraps next. A non-positive ttl uses DefaultTTL.
func New(next discount.Repository, rdb redis.UniversalClient, ttl time.Duration, lg *zap.Logger) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Repository{next: next, rdb: rdb, ttl: ttl, lg: lg}
}

func key(code string) string { return keyPrefix + code }

// FindByCode serves from Redis when possible.
func (r *Repository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	code = discount.NormalizeCode(code)

	b, err := r.rdb.Get(ctx, key(code)).Bytes()
	switch {
	case err == nil:
		c, err := wire.DecodeCode(jx.DecodeBytes(b))
		if err == nil {
			return c, nil
		}
		r.lg.Warn("Dropping undecodable cache entry", zap.String("code", code), zap.Error(err))
		r.evict(ctx, code)
	case !errors.Is(err, redis.Nil):
		r.lg.Warn("Code cache read failed", zap.String("code", code), zap.Error(err))
	}

	c, err := r.next.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	wire.EncodeCode(e, c)
	if err := r.rdb.Set(ctx, key(code), e.Bytes(), r.ttl).Err(); err != nil {
		r.lg.Warn("Code cache write failed", zap.String("code", code), zap.Error(err))
	}
	return c, nil
}

// Create implements discount.Repository.
func (r *Repository) Create(ctx context.Context, c *discount.Code) error {
	if err := r.next.Create(ctx, c); err != nil {
		return err
	}
	r.evict(ctx, c.Code)
	return nil
}

// List implements discount.Repository.
func (r *Repository) List(ctx context.Context, f discount.ListFilter, now time.Time) ([]discount.Code, error) {
	return r.next.List(ctx, f, now)
}

// Deactivate implements discount.Repository.
func (r *Repository) Deactivate(ctx context.Context, code string) error {
	err := r.next.Deactivate(ctx, code)
	r.evict(ctx, code)
	return err
}

// CountRedemptions implements discount.Repository.
func (r *Repository) CountRedemptions(ctx context.Context, code, email string) (int, error) {
	return r.next.CountRedemptions(ctx, code, email)
}

// OrderRedeemed implements discount.Repository.
func (r *Repository) OrderRedeemed(ctx context.Context, code, orderID string) (bool, error) {
	return r.next.OrderRedeemed(ctx, code, orderID)
}

// Redeem implements discount.Repository.
func (r *Repository) Redeem(ctx context.Context, rd discount.Redemption) error {
	err := r.next.Redeem(ctx, rd)
	r.evict(ctx, rd.Code)
	return err
}

// UsageStats implements discount.Repository.
func (r *Repository) UsageStats(ctx context.Context, code string) (*discount.UsageStats, error) {
	return r.next.UsageStats(ctx, code)
}

func (r *Repository) evict(ctx context.Context, code string) {
	if err := r.rdb.Del(ctx, key(discount.NormalizeCode(code))).Err(); err != nil {
		r.lg.Warn("Code cache eviction failed", zap.String("code", code), zap.Error(err))
	}
}

// Dial connects to the Redis server at url (redis://[user:pass@]host:port/db)
// and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
