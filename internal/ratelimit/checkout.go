package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/snapvend/snapvend/internal/config"
)

const keyCheckoutActor = "checkout:actor:%s"

// CheckoutLimiter throttles checkout session creation per actor. It is
// disabled when no redis address is configured, in which case every
// request is allowed.
type CheckoutLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewCheckoutLimiter(cfg config.Config) (*CheckoutLimiter, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}
	if cfg.CheckoutRatePerMinute <= 0 || cfg.CheckoutRateBurst <= 0 {
		return nil, fmt.Errorf("checkout rate limit must be positive, got rate=%d burst=%d",
			cfg.CheckoutRatePerMinute, cfg.CheckoutRateBurst)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})

	return &CheckoutLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    float64(cfg.CheckoutRatePerMinute) / 60.0,
		burst:   cfg.CheckoutRateBurst,
	}, nil
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow consumes one checkout token for the actor. Fail-open on redis
// errors so a cache outage never blocks purchases.
func (l *CheckoutLimiter) Allow(ctx context.Context, actorKey string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyCheckoutActor, strings.TrimSpace(actorKey)), l.rate, l.burst)
	if err != nil {
		return true, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}
