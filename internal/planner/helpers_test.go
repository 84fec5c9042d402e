package planner

import (
	"context"
	"fmt"
	"hash/fnv"
	"testing"
	"time"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/llm"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/recipe"
)

var testStart = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) // a Monday

// textVector is a deterministic stand-in for a real embedding.
func textVector(s string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	v := h.Sum32()
	return []float32{float32(v%97) + 1, float32(v%89) + 1, float32(v%83) + 1}
}

var hashEmbedder = llm.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
	return textVector(text), nil
})

// corpus builds n recipes. Every third is vegan, every third vegetarian,
// every fourth has peanuts and every fifth gluten.
func corpus(n int) []recipe.Document {
	docs := make([]recipe.Document, n)
	for i := range docs {
		var diet []string
		switch i % 3 {
		case 0:
			diet = []string{"vegan", "vegetarian"}
		case 1:
			diet = []string{"vegetarian"}
		default:
			diet = []string{"high-protein"}
		}
		var allergens []string
		if i%4 == 0 {
			allergens = append(allergens, "peanuts")
		}
		if i%5 == 0 {
			allergens = append(allergens, "gluten")
		}
		docs[i] = recipe.Document{
			ID:           fmt.Sprintf("r%02d", i),
			Title:        fmt.Sprintf("Recipe %d", i),
			Ingredients:  []string{"rice", "beans", "onion", "garlic"},
			Instructions: "Cook everything.",
			Nutrition:    nutrition.Macros{Kcal: 250 + float64(i%10)*60, ProteinG: 25, CarbsG: 50, FatG: 15},
			DietaryTags:  diet,
			AllergenTags: allergens,
			Embedding:    textVector(fmt.Sprint(i)),
			PrepTimeMin:  15 + (i%4)*10,
			SkillLevel:   i % 4,
		}
	}
	return docs
}

func testProfile() nutrition.Profile {
	return nutrition.Profile{
		UserID:         "user-1",
		Age:            30,
		Sex:            nutrition.SexMale,
		WeightKg:       75,
		HeightCm:       180,
		ActivityLevel:  nutrition.Moderate,
		Goal:           nutrition.GoalMaintain,
		DietPreference: nutrition.Omnivore,
		CookingSkill:   3,
	}
}

func testCalculator(t *testing.T) *nutrition.Calculator {
	t.Helper()
	calc, err := nutrition.NewCalculator(1200, []nutrition.Split{
		{MealType: "breakfast", Ratio: 0.25},
		{MealType: "lunch", Ratio: 0.35},
		{MealType: "dinner", Ratio: 0.30},
		{MealType: "snacks", Ratio: 0.10},
	})
	if err != nil {
		t.Fatalf("failed to build calculator: %v", err)
	}
	return calc
}

func testRetriever(docs []recipe.Document) *recipe.Retriever {
	return recipe.NewRetriever(recipe.NewMemoryIndex(docs...), hashEmbedder, recipe.DefaultWeights,
		apperr.RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond}, logger.Nop())
}

func testOptions() Options {
	return Options{
		Assembler:        AssemblerOptions{TopK: 5, GatherConcurrency: 4},
		MaxRecipeRepeats: 2,
		ReadRetry:        apperr.RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond},
	}
}

func newTestPlanner(t *testing.T, docs []recipe.Document, store PlanStore, opts Options) *Planner {
	t.Helper()
	idx := recipe.NewMemoryIndex(docs...)
	retriever := recipe.NewRetriever(idx, hashEmbedder, recipe.DefaultWeights, opts.ReadRetry, logger.Nop())
	p, err := NewPlanner(Deps{
		Calculator: testCalculator(t),
		Candidates: retriever,
		Recipes:    idx,
		Store:      store,
	}, opts, logger.Nop())
	if err != nil {
		t.Fatalf("NewPlanner failed: %v", err)
	}
	return p
}

// assembleRequest computes targets the way the engine does, for tests that
// drive the Assembler directly.
func assembleRequest(t *testing.T, profile nutrition.Profile, cons Constraints, repeats int) AssembleRequest {
	t.Helper()
	calc := testCalculator(t)
	pattern := nutrition.DefaultPattern()
	targets := make([]nutrition.Targets, DaysPerWeek)
	for i := range targets {
		level, err := pattern.On(testStart.AddDate(0, 0, i)).Level()
		if err != nil {
			t.Fatal(err)
		}
		targets[i], err = calc.Calculate(profile, level)
		if err != nil {
			t.Fatalf("Calculate failed: %v", err)
		}
	}
	if cons.MealTypes == nil {
		cons.MealTypes = calc.MealTypes()
	}
	if cons.DietPreference == "" {
		cons.DietPreference = nutrition.Omnivore
	}
	return AssembleRequest{
		UserID:           profile.UserID,
		StartDate:        testStart,
		Pattern:          pattern,
		Targets:          targets,
		Constraints:      cons,
		MaxRecipeRepeats: repeats,
	}
}

// checkPlan asserts the structural invariants every plan must hold.
func checkPlan(t *testing.T, plan *WeeklyPlan) {
	t.Helper()
	if len(plan.Days) != DaysPerWeek {
		t.Fatalf("Expected %d days, got %d", DaysPerWeek, len(plan.Days))
	}
	usage := plan.RecipeUsage(-1)
	for id, n := range usage {
		if n > plan.MaxRecipeRepeats {
			t.Errorf("Recipe %s used %d times, limit %d", id, n, plan.MaxRecipeRepeats)
		}
	}
	for _, d := range plan.Days {
		var sum nutrition.Macros
		for _, m := range d.Meals {
			sum = sum.Add(m.Nutrition)
		}
		if sum != d.Totals {
			t.Errorf("Day %d totals %+v differ from sum of meals %+v", d.DayIndex, d.Totals, sum)
		}
		if len(d.Sources) != len(d.Meals) {
			t.Errorf("Day %d has %d sources for %d meals", d.DayIndex, len(d.Sources), len(d.Meals))
		}
		if d.NutritionProvenance != NutritionProvenance || d.PlanVersion != PlanFormatVersion {
			t.Errorf("Day %d missing provenance: %q %q", d.DayIndex, d.NutritionProvenance, d.PlanVersion)
		}
	}
	if got := VarietyScore(plan.Days); got != plan.VarietyScore {
		t.Errorf("Expected variety score %v, got %v", got, plan.VarietyScore)
	}
}
