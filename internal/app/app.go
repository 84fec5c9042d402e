// Package app wires configuration, storage and the planning engine together
// for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/config"
	"weekly-meal-planner/internal/database"
	"weekly-meal-planner/internal/llm"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/metrics"
	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/planner"
	"weekly-meal-planner/internal/recipe"
)

// App holds the application's dependencies.
type App struct {
	Config  *config.Config
	DB      *database.DB
	Recipes *recipe.Repository
	Plans   *planner.PlanRepository
	Metrics *metrics.Store
	Planner *planner.Planner
	// Embedder embeds query and recipe text with the configured provider.
	Embedder llm.EmbeddingGenerator

	closers []func() error
	log     *logger.Logger
}

// New opens the database, migrates it and builds the engine from cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, log: log.With("component", "App")}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	models := append([]interface{}{&recipe.Record{}, &metrics.ExecutionMetric{}}, planner.Models()...)
	if err := db.Migrate(models...); err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := a.embedder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Embedder = embedder

	calc, err := nutrition.NewCalculator(cfg.Engine.MinKcal, splits(cfg.Engine))
	if err != nil {
		a.Close()
		return nil, err
	}

	retry := apperr.RetryPolicy{MaxTries: cfg.Engine.ReadRetries}
	a.Recipes = recipe.NewRepository(db.Gorm, log)
	a.Plans = planner.NewPlanRepository(db.Gorm, log)
	a.Metrics = metrics.NewStore(db.Gorm)
	weights := recipe.Weights{
		Semantic:      cfg.Engine.Weights.Semantic,
		KcalProximity: cfg.Engine.Weights.KcalProximity,
		Tag:           cfg.Engine.Weights.Tag,
	}

	a.Planner, err = planner.NewPlanner(planner.Deps{
		Calculator: calc,
		Candidates: recipe.NewRetriever(a.Recipes, embedder, weights, retry, log),
		Recipes:    a.Recipes,
		Store:      a.Plans,
		Metrics:    a.Metrics,
	}, planner.Options{
		Assembler: planner.AssemblerOptions{
			TopK:                cfg.Engine.TopK,
			AllowRepeatOverflow: cfg.Engine.AllowRepeatOverflow,
			GatherConcurrency:   cfg.Engine.GatherConcurrency,
		},
		MaxRecipeRepeats:  cfg.Engine.MaxRecipeRepeats,
		GenerationTimeout: cfg.GenerationTimeout,
		ReadRetry:         retry,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.log.Info("application ready",
		"driver", cfg.DatabaseDriver,
		"embedding_provider", cfg.EmbeddingProvider,
		"max_recipe_repeats", cfg.Engine.MaxRecipeRepeats)
	return a, nil
}

// embedder builds the query embedder, layering the file cache and, when
// REDIS_ADDR is set, the shared Redis cache over the provider.
func (a *App) embedder(ctx context.Context) (llm.EmbeddingGenerator, error) {
	cfg := a.Config
	var gen llm.EmbeddingGenerator
	switch cfg.EmbeddingProvider {
	case "none":
		// Every recipe scores the same semantically; ranking falls back to
		// calorie proximity and tags.
		return llm.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
			return nil, nil
		}), nil
	case "gemini":
		g, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		gen = g
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	if cfg.RedisAddr != "" {
		rdb, err := llm.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		gen = llm.NewRedisCachedEmbeddingGenerator(gen, rdb, cfg.EmbeddingModel, cfg.RedisTTL, a.log)
	}

	cached, err := llm.NewCachedEmbeddingGenerator(gen, cfg.EmbeddingModel, cfg.EmbeddingCacheFile, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cached.Close)
	return cached, nil
}

// Health collects a sys-health snapshot with plan and recipe counts.
func (a *App) Health(ctx context.Context) (metrics.SysHealth, error) {
	h := metrics.GetSysHealth(a.dataDir())
	plans, err := a.Plans.Count(ctx)
	if err != nil {
		return h, err
	}
	recipes, err := a.Recipes.Count(ctx)
	if err != nil {
		return h, err
	}
	h.PlanCount = plans
	h.RecipeCount = int64(recipes)
	return h, nil
}

func (a *App) dataDir() string {
	if a.Config.DatabaseDriver == "sqlite" {
		return filepath.Dir(a.Config.DatabaseDSN)
	}
	return filepath.Dir(a.Config.EmbeddingCacheFile)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func splits(e config.Engine) []nutrition.Split {
	out := make([]nutrition.Split, len(e.MealSplits))
	for i, s := range e.MealSplits {
		out[i] = nutrition.Split{MealType: s.MealType, Ratio: s.Ratio}
	}
	return out
}
