package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/telemetry"
)

const (
	redisListKey   = "plans:all"
	redisPlanKeyFn = "plans:id:"
)

// Redis is a PlanCache shared by every replica. Errors are logged and treated as misses.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache. Keys are namespaced under prefix.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "license-console"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(k string) string { return r.prefix + ":" + k }

func (r *Redis) get(ctx context.Context, key string, dest interface{}) bool {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		record(false)
		return false
	}
	if err == nil {
		err = json.Unmarshal(data, dest)
	}
	if err != nil {
		telemetry.PlanCacheRequestsTotal.WithLabelValues("error").Inc()
		slog.Warn("plan cache read failed", "key", key, "error", err)
		return false
	}
	record(true)
	return true
}

func (r *Redis) set(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err == nil {
		err = r.client.Set(ctx, r.key(key), data, r.ttl).Err()
	}
	if err != nil {
		slog.Warn("plan cache write failed", "key", key, "error", err)
	}
}

func (r *Redis) GetPlans(ctx context.Context) ([]*models.Plan, bool) {
	var plans []*models.Plan
	if !r.get(ctx, redisListKey, &plans) {
		return nil, false
	}
	return plans, true
}

func (r *Redis) SetPlans(ctx context.Context, plans []*models.Plan) {
	r.set(ctx, redisListKey, plans)
}

func (r *Redis) GetPlan(ctx context.Context, id string) (*models.Plan, bool) {
	var plan models.Plan
	if !r.get(ctx, redisPlanKeyFn+id, &plan) {
		return nil, false
	}
	return &plan, true
}

func (r *Redis) SetPlan(ctx context.Context, plan *models.Plan) {
	r.set(ctx, redisPlanKeyFn+plan.ID, plan)
}

// Invalidate deletes the plan and listing keys. A failed delete is logged; the entry
// then survives until its TTL.
func (r *Redis) Invalidate(ctx context.Context, id string) {
	if err := r.client.Del(ctx, r.key(redisPlanKeyFn+id), r.key(redisListKey)).Err(); err != nil {
		slog.Error("plan cache invalidation failed", "plan_id", id, "error", err)
	}
}
