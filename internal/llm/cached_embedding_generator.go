package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"weekly-meal-planner/internal/logger"

	"golang.org/x/sync/singleflight"
)

// CacheKey identifies an embedding of text under model. Both the file and
// the Redis cache use it.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// embeddingFile is the on-disk cache layout. Vectors hold EncodeVector
// bytes, which encoding/json writes as base64.
type embeddingFile struct {
	Model   string            `json:"model"`
	Vectors map[string][]byte `json:"vectors"`
}

// CachedEmbeddingGenerator keeps embeddings in memory and persists them to a
// single JSON file on Close. A file written for another model is ignored.
type CachedEmbeddingGenerator struct {
	next  EmbeddingGenerator
	model string
	path  string
	log   *logger.Logger

	group singleflight.Group

	mu      sync.RWMutex
	vectors map[string][]float32
	pending int
}

func NewCachedEmbeddingGenerator(next EmbeddingGenerator, model, path string, log *logger.Logger) (*CachedEmbeddingGenerator, error) {
	c := &CachedEmbeddingGenerator{
		next:    next,
		model:   model,
		path:    path,
		log:     log.With("component", "CachedEmbeddingGenerator", "model", model),
		vectors: make(map[string][]float32),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory for %s: %w", path, err)
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CachedEmbeddingGenerator) load() error {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read embedding cache %s: %w", c.path, err)
	}

	var f embeddingFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse embedding cache %s: %w", c.path, err)
	}
	if f.Model != c.model {
		c.log.Info("embedding cache belongs to another model, starting empty", "cached_model", f.Model)
		return nil
	}

	dropped := 0
	for key, b := range f.Vectors {
		vec, err := DecodeVector(b)
		if err != nil || len(vec) == 0 {
			dropped++
			continue
		}
		c.vectors[key] = vec
	}
	if dropped > 0 {
		c.log.Warn("dropped corrupt cached embeddings", "count", dropped)
	}
	c.log.Debug("loaded embedding cache", "entries", len(c.vectors), "path", c.path)
	return nil
}

// GenerateEmbedding serves a cached vector or asks the wrapped generator.
// Concurrent misses for one text share a single upstream call.
func (c *CachedEmbeddingGenerator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.model, text)

	c.mu.RLock()
	vec, ok := c.vectors[key]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		vec, err := c.next.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.vectors[key] = vec
		c.pending++
		c.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed %q: %w", text, err)
	}
	return v.([]float32), nil
}

// SaveCache writes the cache through a temporary file and a rename. It does
// nothing when no vector was added since the last save.
func (c *CachedEmbeddingGenerator) SaveCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == 0 {
		return nil
	}

	f := embeddingFile{Model: c.model, Vectors: make(map[string][]byte, len(c.vectors))}
	for key, vec := range c.vectors {
		f.Vectors[key] = EncodeVector(vec)
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode embedding cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write embedding cache %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace embedding cache %s: %w", c.path, err)
	}

	c.log.Debug("saved embedding cache", "entries", len(c.vectors), "added", c.pending)
	c.pending = 0
	return nil
}

func (c *CachedEmbeddingGenerator) Close() error {
	return c.SaveCache()
}
