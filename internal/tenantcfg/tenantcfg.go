package tenantcfg

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/outreachpass/passhub/internal/passes"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tenant:wallet_platforms:"

// Resolver answers "which wallet platforms does this tenant have
// enabled". Flags live in redis (written by the admin surface, out of
// scope here) with a short local memo on top; a tenant with no entry
// falls back to the deployment defaults. Lookups are always scoped to
// the job's own tenant.
type Resolver struct {
	rdb      *redis.Client
	defaults []passes.Platform
	ttl      time.Duration
	log      *slog.Logger

	mu    sync.RWMutex
	local map[string]localEntry
}

type localEntry struct {
	platforms []passes.Platform
	exp       time.Time
}

func NewResolver(rdb *redis.Client, defaults []passes.Platform, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{
		rdb:      rdb,
		defaults: defaults,
		ttl:      30 * time.Second,
		log:      log,
		local:    make(map[string]localEntry),
	}
}

func (r *Resolver) WalletPlatforms(ctx context.Context, tenantID string) ([]passes.Platform, error) {
	now := time.Now()

	r.mu.RLock()
	e, ok := r.local[tenantID]
	r.mu.RUnlock()

	if ok && now.Before(e.exp) {
		return e.platforms, nil
	}

	platforms := r.fetch(ctx, tenantID)

	r.mu.Lock()
	r.local[tenantID] = localEntry{platforms: platforms, exp: now.Add(r.ttl)}
	r.mu.Unlock()

	return platforms, nil
}

// fetch never fails the caller: a broken flag store means defaults,
// not a failed job.
func (r *Resolver) fetch(ctx context.Context, tenantID string) []passes.Platform {
	if r.rdb == nil {
		return r.defaults
	}

	raw, err := r.rdb.Get(ctx, keyPrefix+tenantID).Result()

	if err != nil {
		if err != redis.Nil {
			r.log.WarnContext(ctx, "tenantcfg.lookup_failed",
				"tenant_id", tenantID, "error", err.Error())
		}
		return r.defaults
	}

	var list []passes.Platform

	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		r.log.WarnContext(ctx, "tenantcfg.invalid_entry",
			"tenant_id", tenantID, "error", err.Error())
		return r.defaults
	}

	out := list[:0]

	for _, p := range list {
		if p.IsValid() {
			out = append(out, p)
		}
	}

	return out
}
