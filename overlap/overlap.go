// Package overlap computes the issuers two subjects are both attested
// by.
package overlap

import (
	"context"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/peer-mapper/trust-indexer/database/orm"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 10000
)

// Reader lists the attestations about a subject.
type Reader interface {
	ListAttestationsForSubject(ctx context.Context, subjectID string) ([]*orm.Attestation, error)
}

// Result is one mutually trusted issuer.
type Result struct {
	Issuer           string  `json:"issuer"`
	TrustLevel       uint8   `json:"trustLevel"`
	Circle           *string `json:"circle"`
	FreshnessSeconds uint64  `json:"freshnessSeconds"`
}

// Config sizes the result cache.
type Config struct {
	CacheTTL  time.Duration `yaml:"cache_ttl" envconfig:"cache_ttl"`
	CacheSize int           `yaml:"cache_size" envconfig:"cache_size"`
}

// Engine serves overlaps from a TTL cache in front of the store.
type Engine struct {
	reader Reader
	size   int
	now    func() time.Time

	mu    sync.Mutex
	cache *cache.Cache
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock makes the engine judge expiry and freshness by now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New returns an engine reading from reader.
func New(reader Reader, cfg Config, opts ...Option) *Engine {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	e := &Engine{
		reader: reader,
		size:   cfg.CacheSize,
		now:    time.Now,
		cache:  cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Compute returns the overlap of viewer and target, possibly up to one
// TTL stale. The returned slice is owned by the caller.
func (e *Engine) Compute(ctx context.Context, viewer string, target string) ([]Result, error) {
	key := viewer + "\x00" + target
	if v, ok := e.cache.Get(key); ok {
		return clone(v.([]Result)), nil
	}

	results, err := e.ComputeWith(ctx, e.reader, viewer, target)
	if err != nil {
		return nil, err
	}

	e.store(key, clone(results))
	return results, nil
}

func clone(results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	return out
}

// ComputeWith computes the overlap from reader, bypassing the cache.
func (e *Engine) ComputeWith(
	ctx context.Context,
	reader Reader,
	viewer string,
	target string,
) ([]Result, error) {
	now := uint64(e.now().Unix())

	viewerRows, err := reader.ListAttestationsForSubject(ctx, viewer)
	if err != nil {
		return nil, err
	}

	issuers := make(map[string]struct{}, len(viewerRows))
	for _, a := range viewerRows {
		if a.Active(now) {
			issuers[strings.ToLower(a.Issuer)] = struct{}{}
		}
	}

	targetRows, err := reader.ListAttestationsForSubject(ctx, target)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0)
	for _, a := range targetRows {
		if !a.Active(now) {
			continue
		}
		issuer := strings.ToLower(a.Issuer)
		if _, ok := issuers[issuer]; !ok {
			continue
		}

		results = append(results, Result{
			Issuer:           issuer,
			TrustLevel:       a.TrustLevel,
			Circle:           CircleHex(a.Circle),
			FreshnessSeconds: a.Freshness(now),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FreshnessSeconds != results[j].FreshnessSeconds {
			return results[i].FreshnessSeconds < results[j].FreshnessSeconds
		}
		return results[i].Issuer < results[j].Issuer
	})

	return results, nil
}

// store caches results unless the cache is full of live entries.
func (e *Engine) store(key string, results []Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache.ItemCount() >= e.size {
		e.cache.DeleteExpired()
		if e.cache.ItemCount() >= e.size {
			return
		}
	}

	e.cache.SetDefault(key, results)
}

// CircleHex renders a stored circle as 0x hex, nil when absent.
func CircleHex(circle []byte) *string {
	if len(circle) == 0 {
		return nil
	}

	s := "0x" + hex.EncodeToString(circle)
	return &s
}
