package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the application.
type Config struct {
	GeminiAPIKey       string
	EmbeddingProvider  string
	EmbeddingModel     string
	EmbeddingCacheFile string

	// Redis embedding cache (optional)
	RedisAddr string
	RedisTTL  time.Duration

	DatabaseDriver string
	DatabaseDSN    string

	LogMode           string
	HTTPAddr          string
	GenerationTimeout time.Duration

	Engine Engine
}

// MealSplit is one meal slot and its share of the daily target.
type MealSplit struct {
	MealType string  `yaml:"meal_type"`
	Ratio    float64 `yaml:"ratio"`
}

// Weights of the hybrid retrieval score.
type Weights struct {
	Semantic      float64 `yaml:"semantic"`
	KcalProximity float64 `yaml:"kcal_proximity"`
	Tag           float64 `yaml:"tag"`
}

// Engine holds the tuning knobs of the planning engine. Every field can be
// overridden from the YAML file named by ENGINE_CONFIG_FILE.
type Engine struct {
	MinKcal             float64     `yaml:"min_kcal"`
	MealSplits          []MealSplit `yaml:"meal_splits"`
	Weights             Weights     `yaml:"weights"`
	TopK                int         `yaml:"top_k"`
	MaxRecipeRepeats    int         `yaml:"max_recipe_repeats"`
	AllowRepeatOverflow bool        `yaml:"allow_repeat_overflow"`
	GatherConcurrency   int         `yaml:"gather_concurrency"`
	ReadRetries         uint        `yaml:"read_retries"`
}

// DefaultEngine returns the engine settings used when nothing is overridden.
func DefaultEngine() Engine {
	return Engine{
		MinKcal: 1200,
		MealSplits: []MealSplit{
			{MealType: "breakfast", Ratio: 0.25},
			{MealType: "lunch", Ratio: 0.35},
			{MealType: "dinner", Ratio: 0.30},
			{MealType: "snacks", Ratio: 0.10},
		},
		Weights:           Weights{Semantic: 0.6, KcalProximity: 0.3, Tag: 0.1},
		TopK:              5,
		MaxRecipeRepeats:  2,
		GatherConcurrency: 8,
		ReadRetries:       3,
	}
}

// Validate checks the engine settings for internal consistency.
func (e Engine) Validate() error {
	if e.MinKcal < 0 {
		return fmt.Errorf("min_kcal must not be negative, got %v", e.MinKcal)
	}
	if len(e.MealSplits) == 0 {
		return fmt.Errorf("at least one meal split is required")
	}
	seen := make(map[string]bool, len(e.MealSplits))
	var sum float64
	for _, s := range e.MealSplits {
		if s.MealType == "" {
			return fmt.Errorf("meal split with empty meal_type")
		}
		if seen[s.MealType] {
			return fmt.Errorf("duplicate meal split %q", s.MealType)
		}
		if s.Ratio <= 0 {
			return fmt.Errorf("meal split %q must have a positive ratio", s.MealType)
		}
		seen[s.MealType] = true
		sum += s.Ratio
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("meal split ratios must sum to 1, got %v", sum)
	}
	w := e.Weights
	if w.Semantic < 0 || w.KcalProximity < 0 || w.Tag < 0 {
		return fmt.Errorf("score weights must not be negative")
	}
	if w.Semantic+w.KcalProximity+w.Tag == 0 {
		return fmt.Errorf("at least one score weight must be positive")
	}
	if e.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", e.TopK)
	}
	if e.MaxRecipeRepeats <= 0 {
		return fmt.Errorf("max_recipe_repeats must be positive, got %d", e.MaxRecipeRepeats)
	}
	return nil
}

// MealTypes returns the configured meal types in split order.
func (e Engine) MealTypes() []string {
	out := make([]string, len(e.MealSplits))
	for i, s := range e.MealSplits {
		out[i] = s.MealType
	}
	return out
}

// LoadEngineFile overlays the YAML file at path onto base. Fields missing from
// the file keep their value from base.
func LoadEngineFile(path string, base Engine) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read engine config %s: %w", path, err)
	}
	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return base, fmt.Errorf("failed to parse engine config %s: %w", path, err)
	}
	if err := out.Validate(); err != nil {
		return base, fmt.Errorf("invalid engine config %s: %w", path, err)
	}
	return out, nil
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	embeddingProvider := getEnv("EMBEDDING_PROVIDER", "gemini")

	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if geminiAPIKey == "" && embeddingProvider == "gemini" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	databaseDriver := getEnv("DATABASE_DRIVER", "sqlite")
	if databaseDriver != "sqlite" && databaseDriver != "postgres" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", databaseDriver)
	}
	databaseDSN := os.Getenv("DATABASE_DSN")
	if databaseDSN == "" {
		if databaseDriver == "postgres" {
			return nil, fmt.Errorf("DATABASE_DSN environment variable not set")
		}
		databaseDSN = "data/planner.db"
	}

	redisTTL, err := getDuration("REDIS_TTL", 168*time.Hour)
	if err != nil {
		return nil, err
	}
	generationTimeout, err := getDuration("GENERATION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	engine := DefaultEngine()
	if path := os.Getenv("ENGINE_CONFIG_FILE"); path != "" {
		engine, err = LoadEngineFile(path, engine)
		if err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("MAX_RECIPE_REPEATS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_RECIPE_REPEATS must be a positive integer, got %q", v)
		}
		engine.MaxRecipeRepeats = n
	}

	return &Config{
		GeminiAPIKey:       geminiAPIKey,
		EmbeddingProvider:  embeddingProvider,
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingCacheFile: getEnv("EMBEDDING_CACHE_FILE", "data/embedding_cache.json"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisTTL:           redisTTL,
		DatabaseDriver:     databaseDriver,
		DatabaseDSN:        databaseDSN,
		LogMode:            getEnv("LOG_MODE", "development"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		GenerationTimeout:  generationTimeout,
		Engine:             engine,
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}
