package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"weekly-meal-planner/internal/logger"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "embedding:"

// RedisCachedEmbeddingGenerator shares embeddings between processes through
// Redis. Cache failures are logged and fall through to the real generator.
type RedisCachedEmbeddingGenerator struct {
	realGen EmbeddingGenerator
	rdb     redis.UniversalClient
	model   string
	ttl     time.Duration
	log     *logger.Logger
}

// NewRedisCachedEmbeddingGenerator wraps realGen. The model name is part of
// the key so that switching models never serves stale vectors.
func NewRedisCachedEmbeddingGenerator(realGen EmbeddingGenerator, rdb redis.UniversalClient, model string, ttl time.Duration, log *logger.Logger) *RedisCachedEmbeddingGenerator {
	return &RedisCachedEmbeddingGenerator{
		realGen: realGen,
		rdb:     rdb,
		model:   model,
		ttl:     ttl,
		log:     log.With("component", "RedisCachedEmbeddingGenerator"),
	}
}

// NewRedisClient opens a client and verifies it with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisCachedEmbeddingGenerator) key(text string) string {
	return redisKeyPrefix + CacheKey(r.model, text)
}

func (r *RedisCachedEmbeddingGenerator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := r.key(text)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		vec, decErr := DecodeVector(raw)
		if decErr == nil && len(vec) > 0 {
			return vec, nil
		}
		r.log.Warn("discarding corrupt cached embedding", "key", key, "error", decErr)
	case errors.Is(err, redis.Nil):
	default:
		r.log.Warn("redis get failed, bypassing cache", "error", err)
	}

	vec, err := r.realGen.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	encoded := EncodeVector(vec)
	if err := r.rdb.Set(ctx, key, encoded, r.ttl).Err(); err != nil {
		r.log.Warn("redis set failed", "error", err)
	}
	return vec, nil
}
