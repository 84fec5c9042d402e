package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"weekly-meal-planner/internal/config"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/planner"
	"weekly-meal-planner/internal/recipe"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		EmbeddingProvider:  "none",
		EmbeddingCacheFile: filepath.Join(dir, "embedding_cache.json"),
		DatabaseDriver:     "sqlite",
		DatabaseDSN:        filepath.Join(dir, "planner.db"),
		GenerationTimeout:  10 * time.Second,
		Engine:             config.DefaultEngine(),
	}
	a, err := New(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func seedRecipes(t *testing.T, a *App, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		d := recipe.Document{
			ID:          fmt.Sprintf("seed-%02d", i),
			Title:       fmt.Sprintf("Seed %d", i),
			Ingredients: []string{"oats", "milk"},
			Nutrition:   nutrition.Macros{Kcal: 300 + float64(i*20), ProteinG: 20, CarbsG: 40, FatG: 10},
			DietaryTags: []string{"vegetarian"},
			Embedding:   []float32{1, float32(i)},
		}
		if err := a.Recipes.Save(context.Background(), d); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
}

func TestAppGenerateAndHealth(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	seedRecipes(t, a, 20)

	profile := nutrition.Profile{
		UserID:         "alice",
		Age:            34,
		Sex:            nutrition.SexFemale,
		WeightKg:       62,
		HeightCm:       168,
		ActivityLevel:  nutrition.Light,
		Goal:           nutrition.GoalMaintain,
		DietPreference: nutrition.Vegetarian,
	}
	plan, err := a.Planner.Generate(ctx, planner.GenerateRequest{Profile: profile}, planner.GenerateOptions{Persist: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := a.Planner.Get(ctx, plan.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	h, err := a.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.PlanCount != 1 || h.RecipeCount != 20 {
		t.Errorf("Expected 1 plan and 20 recipes, got %d and %d", h.PlanCount, h.RecipeCount)
	}

	usage, err := a.Metrics.GetDailyUsage(ctx, 1)
	if err != nil {
		t.Fatalf("GetDailyUsage failed: %v", err)
	}
	if len(usage) != 1 || usage[0].Operation != planner.OpGenerate || usage[0].Executions != 1 {
		t.Errorf("Expected one recorded generate, got %+v", usage)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		EmbeddingProvider: "openai",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       filepath.Join(dir, "planner.db"),
		Engine:            config.DefaultEngine(),
	}
	if _, err := New(context.Background(), cfg, logger.Nop()); err == nil {
		t.Fatal("Expected an error for an unknown embedding provider")
	}
}

func TestLoadRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice.yaml")
	content := `profile:
  user_id: alice
  age: 34
  sex: female
  weight_kg: 62
  height_cm: 168
  activity_level: light
  goal: lose
  goal_rate_kg_per_week: -0.5
  diet_pref: vegetarian
  allergies: [peanuts]
start_date: 2026-10-19
activity_pattern:
  saturday: active
max_recipe_repeats: 3
required_tags: [high-protein]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	req, err := LoadRequest(path)
	if err != nil {
		t.Fatalf("LoadRequest failed: %v", err)
	}
	if req.Profile.UserID != "alice" || req.Profile.DietPreference != nutrition.Vegetarian {
		t.Errorf("Unexpected profile %+v", req.Profile)
	}
	if !req.StartDate.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected start 2026-10-19, got %v", req.StartDate)
	}
	if req.ActivityPattern["saturday"] != nutrition.DayActive {
		t.Errorf("Expected an active Saturday, got %q", req.ActivityPattern["saturday"])
	}
	if req.MaxRecipeRepeats != 3 || len(req.RequiredTags) != 1 {
		t.Errorf("Unexpected request %+v", req)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("start_date: next week\n"), 0644)
	if _, err := LoadRequest(bad); err == nil {
		t.Error("Expected an error for a malformed start date")
	}
}

func TestImportRecipes(t *testing.T) {
	a := newTestApp(t)
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	content := `- id: lentil-soup
  title: Lentil Soup
  ingredients: [lentils, carrot, onion]
  nutrition: {kcal: 420, protein_g: 24, carbs_g: 60, fat_g: 8}
  dietary_tags: [vegan, vegetarian]
- id: oat-bowl
  title: Oat Bowl
  ingredients: [oats, milk]
  nutrition: {kcal: 350, protein_g: 14, carbs_g: 55, fat_g: 9}
  dietary_tags: [vegetarian]
  allergen_tags: [dairy]
- title: Missing Id
  nutrition: {kcal: 200}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	saved, err := a.ImportRecipes(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportRecipes failed: %v", err)
	}
	if saved != 2 {
		t.Errorf("Expected 2 recipes saved, got %d", saved)
	}
	doc, err := a.Recipes.Get(context.Background(), "oat-bowl")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Nutrition.Kcal != 350 || len(doc.AllergenTags) != 1 {
		t.Errorf("Unexpected recipe %+v", doc)
	}
}
