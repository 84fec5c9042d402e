package app

import (
	"context"
	"fmt"
	"os"

	"weekly-meal-planner/internal/recipe"

	"gopkg.in/yaml.v3"
)

// ImportRecipes loads a YAML list of recipes into the corpus, embedding any
// recipe that arrives without a vector. It returns the number saved.
func (a *App) ImportRecipes(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read recipes %s: %w", path, err)
	}
	var docs []recipe.Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return 0, fmt.Errorf("failed to parse recipes %s: %w", path, err)
	}

	saved := 0
	for _, d := range docs {
		if d.ID == "" || d.Nutrition.Kcal <= 0 {
			a.log.Warn("skipping recipe without id or calories", "title", d.Title)
			continue
		}
		if len(d.Embedding) == 0 {
			d.Embedding, err = a.Embedder.GenerateEmbedding(ctx, d.ToEmbeddingText())
			if err != nil {
				return saved, fmt.Errorf("failed to embed recipe %s: %w", d.ID, err)
			}
		}
		if err := a.Recipes.Save(ctx, d); err != nil {
			return saved, err
		}
		saved++
	}
	a.log.Info("recipes imported", "file", path, "saved", saved, "skipped", len(docs)-saved)
	return saved, nil
}
