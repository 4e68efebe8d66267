// Package middleware holds the gin middlewares shared by the api routes.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	DefaultPerSecond = 2
	DefaultPerDay    = 100

	day = 24 * time.Hour
)

// RateLimitConfig sets the per client budgets.
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second" envconfig:"per_second"`
	PerDay    int `yaml:"per_day" envconfig:"per_day"`
}

type limiterPair struct {
	second *rate.Limiter
	day    *rate.Limiter
}

// RateLimiter keeps a per-second and a per-day token bucket for every
// client ip.
type RateLimiter struct {
	perSecond int
	perDay    int
	now       func() time.Time

	mu       sync.Mutex
	limiters *cache.Cache
}

// NewRateLimiter returns a limiter with the budgets of cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = DefaultPerSecond
	}
	if cfg.PerDay <= 0 {
		cfg.PerDay = DefaultPerDay
	}

	return &RateLimiter{
		perSecond: cfg.PerSecond,
		perDay:    cfg.PerDay,
		now:       time.Now,
		limiters:  cache.New(day, time.Hour),
	}
}

func (l *RateLimiter) pair(key string) *limiterPair {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(key); ok {
		p := v.(*limiterPair)
		l.limiters.SetDefault(key, p)
		return p
	}

	p := &limiterPair{
		second: rate.NewLimiter(rate.Limit(l.perSecond), l.perSecond),
		day:    rate.NewLimiter(rate.Every(day/time.Duration(l.perDay)), l.perDay),
	}
	l.limiters.SetDefault(key, p)
	return p
}

// Allow consumes one token of both buckets of key. When either is empty
// nothing is consumed and the wait until a token is available is
// returned.
func (l *RateLimiter) Allow(key string) (time.Duration, bool) {
	p := l.pair(key)
	now := l.now()

	second := p.second.ReserveN(now, 1)
	daily := p.day.ReserveN(now, 1)
	wait := second.DelayFrom(now)
	if d := daily.DelayFrom(now); d > wait {
		wait = d
	}
	if wait == 0 {
		return 0, true
	}

	second.CancelAt(now)
	daily.CancelAt(now)
	return wait, false
}

// Handler rejects clients over budget with 429.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wait, ok := l.Allow(c.ClientIP())
		if ok {
			c.Next()
			return
		}

		retryAfter := int64(math.Ceil(wait.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate_limited",
			"retryAfterSeconds": retryAfter,
		})
	}
}
