package review

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"flowmarket/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	summaryTTL = 10 * time.Minute
	versionTTL = 24 * time.Hour
)

var errCacheMiss = errors.New("review: summary not cached")

var (
	summaryCacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_summary_cache_hits_total"})
	summaryCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_summary_cache_miss_total"})
)

func init() {
	prometheus.MustRegister(summaryCacheHits, summaryCacheMiss)
}

// summaryCache keeps rating summaries in redis under a per-workflow version.
// Writes bump the version, so a summary computed before a write lands under
// a key nobody reads anymore. A nil client disables it.
type summaryCache struct {
	rdb *redis.Client
}

func (c summaryCache) version(ctx context.Context, workflowID string) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}
	v, err := c.rdb.Get(ctx, rediskey.BuildWorkflowRatingVersionKey(workflowID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c summaryCache) get(ctx context.Context, workflowID string, version int64) (*Summary, error) {
	if c.rdb == nil {
		return nil, errCacheMiss
	}
	raw, err := c.rdb.Get(ctx, rediskey.BuildWorkflowRatingKey(workflowID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c summaryCache) set(ctx context.Context, workflowID string, version int64, s *Summary) error {
	if c.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, rediskey.BuildWorkflowRatingKey(workflowID, version), raw, summaryTTL).Err()
}

func (c summaryCache) invalidate(ctx context.Context, workflowID string) error {
	if c.rdb == nil {
		return nil
	}
	key := rediskey.BuildWorkflowRatingVersionKey(workflowID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, versionTTL)
		return nil
	})
	return err
}
