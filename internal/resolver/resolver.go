// Package resolver implements the tiered question resolution protocol:
// exact-match cache, similarity search over persisted records, then the
// expensive compute-and-persist fallback.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"semcache-gateway/internal/cache"
	"semcache-gateway/internal/metrics"
	"semcache-gateway/internal/provider"
	"semcache-gateway/internal/similarity"
	"semcache-gateway/internal/store"
	"semcache-gateway/internal/usage"
	"semcache-gateway/pkg/logging/logging"
)

// Resolution sources, in tier order.
const (
	SourceCache    = "cache"
	SourceStore    = "store"
	SourceComputed = "computed"
)

// ErrInvalidInput is returned for empty question text. The HTTP layer
// validates too; this guards the precondition inside the core.
var ErrInvalidInput = errors.New("question text is required")

// Resolution is the outcome of one query. Similarity is set only for
// store-sourced results.
type Resolution struct {
	Source     string   `json:"source"`
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Similarity *float64 `json:"similarity,omitempty"`
}

// Config tunes the resolver.
type Config struct {
	// Threshold is the minimum cosine similarity for a store hit.
	Threshold float64
	// CacheTTL bounds cache entries; 0 means no expiration.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = similarity.DefaultThreshold
	}
	return c
}

// Resolver orchestrates the three tiers and reports tier outcomes to
// the usage collector.
type Resolver struct {
	cfg      Config
	cache    cache.ExactCache
	store    store.Store
	engine   *similarity.Engine
	provider provider.Provider
	usage    *usage.Collector

	// flight collapses concurrent identical cache misses onto one
	// embedding + fallback computation, keyed by the exact-match digest.
	flight singleflight.Group
}

// New wires a resolver from its collaborators.
func New(cfg Config, c cache.ExactCache, st store.Store, eng *similarity.Engine, p provider.Provider, u *usage.Collector) *Resolver {
	return &Resolver{
		cfg:      cfg.withDefaults(),
		cache:    c,
		store:    st,
		engine:   eng,
		provider: p,
		usage:    u,
	}
}

// Resolve answers the question text via the cheapest satisfied tier.
//
// Tier order within one call is strict: exact cache, similarity store,
// fallback computation. A cache-tier outage degrades to the next tier
// rather than failing the resolution.
func (r *Resolver) Resolve(ctx context.Context, text string) (*Resolution, error) {
	r.usage.IncTotal()

	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	logger := logging.L(ctx)
	key := cache.BuildQueryKey(text)
	cacheKey := key.String()

	// ---- Tier 1: exact cache ----
	raw, hit, err := r.cache.Get(ctx, cacheKey)
	if err != nil {
		// Cache is best-effort; log and treat as miss.
		logger.Warn("exact cache unavailable, degrading to similarity tier",
			zap.String("hash_key", cacheKey),
			zap.Error(err),
		)
	}
	if hit {
		var entry cache.Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			logger.Warn("exact cache entry corrupt, treating as miss",
				zap.String("hash_key", cacheKey),
				zap.Error(err),
			)
		} else {
			r.usage.IncCacheHit()
			return &Resolution{
				Source:   SourceCache,
				Question: entry.Question,
				Answer:   entry.Answer,
			}, nil
		}
	}

	// ---- Tiers 2+3, deduplicated per key ----
	// Concurrent requests for the same unmatched question share one
	// execution; without this they would all reach the fallback and
	// persist duplicate records.
	v, err, shared := r.flight.Do(key.Hash, func() (interface{}, error) {
		return r.resolveMiss(ctx, text, cacheKey)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Info("collapsed onto in-flight resolution",
			zap.String("hash_key", cacheKey),
		)
	}

	return v.(*Resolution), nil
}

// resolveMiss handles the similarity and fallback tiers for a text that
// missed the exact cache. The query embedding is computed once, up
// front, and reused for both the scan and the persisted record.
func (r *Resolver) resolveMiss(ctx context.Context, text, cacheKey string) (*Resolution, error) {
	logger := logging.L(ctx)

	vec, err := r.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// ---- Tier 2: similarity search ----
	match, score, err := r.engine.FindMatch(ctx, vec, r.cfg.Threshold)
	if err != nil {
		// Store outage: skip the tier, the fallback can still answer.
		logger.Warn("similarity tier unavailable, degrading to fallback",
			zap.Error(err),
		)
	}
	if match != nil {
		r.usage.IncStoreHit()
		metrics.StoreHitsTotal.Inc()

		// Cache under the original query's key so the next identical
		// question is a tier-1 hit.
		r.populateCache(ctx, cacheKey, match.Question, match.Answer)

		sim := score
		logger.Info("similarity hit",
			zap.Int64("record_id", match.ID),
			zap.Float64("similarity", score),
		)
		return &Resolution{
			Source:     SourceStore,
			Question:   match.Question,
			Answer:     match.Answer,
			Similarity: &sim,
		}, nil
	}

	// ---- Tier 3: fallback computation ----
	answer, err := r.provider.Complete(ctx, text)
	if err != nil {
		// No partial state is persisted on provider failure.
		return nil, err
	}

	r.usage.IncFallback()
	metrics.FallbackTotal.Inc()

	// A computed answer is returned even if persistence fails: losing
	// future reuse is cheaper than losing a valid answer.
	if _, err := r.store.Insert(ctx, text, answer, vec); err != nil {
		logger.Error("persist of computed answer failed, returning answer anyway",
			zap.Error(err),
		)
	}

	r.populateCache(ctx, cacheKey, text, answer)

	return &Resolution{
		Source:   SourceComputed,
		Question: text,
		Answer:   answer,
	}, nil
}

// populateCache stores a resolved entry; failures are logged, never fatal.
func (r *Resolver) populateCache(ctx context.Context, cacheKey, question, answer string) {
	entry, err := json.Marshal(cache.Entry{Question: question, Answer: answer})
	if err != nil {
		logging.L(ctx).Warn("marshal cache entry failed", zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, cacheKey, entry, r.cfg.CacheTTL); err != nil {
		logging.L(ctx).Warn("populate exact cache failed",
			zap.String("hash_key", cacheKey),
			zap.Error(err),
		)
	}
}
