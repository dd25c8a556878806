package template

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/swiftcheck/qcflow/internal/respcache"
	"github.com/swiftcheck/qcflow/model"
)

// CachedGenerator memoizes another Generator's results keyed on the content
// hash of the inputs and the tenant. Cache failures fall open to the inner
// generator: a broken cache degrades latency, never correctness.
type CachedGenerator struct {
	inner  Generator
	cache  respcache.Cache
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedGenerator wraps inner with response memoization under the given
// key prefix.
func NewCachedGenerator(inner Generator, cache respcache.Cache, prefix string, ttl time.Duration, logger *zap.Logger) *CachedGenerator {
	return &CachedGenerator{
		inner:  inner,
		cache:  cache,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Generate serves a cached result when one exists, otherwise delegates to the
// inner generator and stores the outcome.
func (g *CachedGenerator) Generate(ctx context.Context, rctx *model.RequestContext, in Input) (Result, error) {
	key, err := respcache.Key(g.prefix, map[string]any{
		"tenantId":     rctx.TenantID,
		"docType":      in.DocType,
		"productName":  in.ProductName,
		"supplierName": in.SupplierName,
		"userMessage":  in.UserMessage,
	})
	if err != nil {
		return g.inner.Generate(ctx, rctx, in)
	}

	if payload, found, err := g.cache.Get(ctx, key); err != nil {
		g.logger.Warn("response cache read", zap.Error(err))
	} else if found {
		var res Result
		if err := json.Unmarshal(payload, &res); err == nil {
			res.Cached = true
			return res, nil
		}
		g.logger.Warn("response cache entry corrupt", zap.String("key", key))
	}

	res, err := g.inner.Generate(ctx, rctx, in)
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(res)
	if err == nil {
		if err := g.cache.Set(ctx, key, payload, g.ttl); err != nil {
			g.logger.Warn("response cache write", zap.Error(err))
		}
	}
	return res, nil
}
