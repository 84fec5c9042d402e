package planner

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/recipe"
)

// countingSource counts retrievals made through it.
type countingSource struct {
	CandidateSource
	calls atomic.Int64
}

func (c *countingSource) Retrieve(ctx context.Context, q recipe.Query) ([]recipe.Candidate, error) {
	c.calls.Add(1)
	return c.CandidateSource.Retrieve(ctx, q)
}

func newTestAssembler(docs []recipe.Document, opts AssemblerOptions) (*Assembler, *countingSource) {
	src := &countingSource{CandidateSource: testRetriever(docs)}
	return NewAssembler(src, opts, logger.Nop()), src
}

func TestAssembleRepeatLimitBoundary(t *testing.T) {
	opts := AssemblerOptions{TopK: 5, GatherConcurrency: 8}

	t.Run("ExactlyEnoughRecipes", func(t *testing.T) {
		a, _ := newTestAssembler(corpus(28), opts)
		plan, report, err := a.Assemble(context.Background(), assembleRequest(t, testProfile(), Constraints{}, 1))
		if err != nil {
			t.Fatalf("Expected 28 recipes to fill 28 slots, got %v", err)
		}
		checkPlan(t, plan)
		if plan.VarietyScore != 1 {
			t.Errorf("Expected variety score 1, got %v", plan.VarietyScore)
		}
		if report.Slots != 28 {
			t.Errorf("Expected 28 slots, got %d", report.Slots)
		}
	})

	t.Run("OneRecipeShort", func(t *testing.T) {
		a, _ := newTestAssembler(corpus(27), opts)
		_, _, err := a.Assemble(context.Background(), assembleRequest(t, testProfile(), Constraints{}, 1))
		if !errors.Is(err, apperr.ErrConstraintUnsatisfiable) {
			t.Fatalf("Expected ConstraintUnsatisfiable, got %v", err)
		}
		var vc *VarietyConstraintUnsatisfiableError
		if !errors.As(err, &vc) {
			t.Fatalf("Expected VarietyConstraintUnsatisfiableError, got %T", err)
		}
		if vc.DayIndex != 6 || vc.MealType != "snacks" {
			t.Errorf("Expected the last slot to fail, got day %d %s", vc.DayIndex, vc.MealType)
		}
	})
}

func TestAssembleRandomizedProfiles(t *testing.T) {
	docs := corpus(60)
	byID := make(map[string]recipe.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	a, _ := newTestAssembler(docs, AssemblerOptions{TopK: 5, GatherConcurrency: 4})

	rng := rand.New(rand.NewSource(11))
	sexes := []nutrition.Sex{nutrition.SexMale, nutrition.SexFemale, nutrition.SexOther}
	diets := []nutrition.DietPreference{nutrition.Omnivore, nutrition.Vegetarian, nutrition.Vegan}
	allergenPool := []string{"peanuts", "gluten"}

	succeeded := 0
	for i := 0; i < 40; i++ {
		profile := nutrition.Profile{
			UserID:            "user-rand",
			Age:               18 + rng.Intn(60),
			Sex:               sexes[rng.Intn(len(sexes))],
			WeightKg:          45 + rng.Float64()*75,
			HeightCm:          150 + rng.Float64()*50,
			GoalRateKgPerWeek: rng.Float64()*2 - 1,
			DietPreference:    diets[rng.Intn(len(diets))],
		}
		var allergies []string
		for _, al := range allergenPool {
			if rng.Intn(2) == 0 {
				allergies = append(allergies, al)
			}
		}
		repeats := 1 + rng.Intn(3)

		cons := Constraints{DietPreference: profile.DietPreference, Allergies: allergies}
		plan, _, err := a.Assemble(context.Background(), assembleRequest(t, profile, cons, repeats))
		if errors.Is(err, apperr.ErrConstraintUnsatisfiable) {
			continue
		}
		if err != nil {
			t.Fatalf("iteration %d: Assemble failed: %v", i, err)
		}
		succeeded++
		checkPlan(t, plan)

		banned := recipe.NewTagSet(allergies...)
		accepted := recipe.NewTagSet(profile.DietPreference.AcceptedTags()...)
		for _, d := range plan.Days {
			for _, m := range d.Meals {
				doc := byID[m.RecipeID]
				if leaked := doc.MatchingAllergens(banned); len(leaked) > 0 {
					t.Errorf("iteration %d: %s contains %v", i, m.RecipeID, leaked)
				}
				if !doc.SatisfiesDiet(accepted) {
					t.Errorf("iteration %d: %s violates %s diet", i, m.RecipeID, profile.DietPreference)
				}
			}
		}
	}
	if succeeded == 0 {
		t.Fatal("Expected at least one randomized profile to produce a plan")
	}
}

func TestAssembleEscalation(t *testing.T) {
	t.Run("RelaxesRequiredTags", func(t *testing.T) {
		a, _ := newTestAssembler(corpus(20), AssemblerOptions{TopK: 5, GatherConcurrency: 4})
		req := assembleRequest(t, testProfile(), Constraints{RequiredTags: []string{"high-protein"}}, 2)
		plan, report, err := a.Assemble(context.Background(), req)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		checkPlan(t, plan)
		// Six high-protein recipes fill twelve slots; the rest are relaxed.
		if report.RelaxedTags != 16 {
			t.Errorf("Expected 16 relaxed slots, got %d", report.RelaxedTags)
		}
		first := plan.Days[0].Meals[0]
		if first.RelaxedTags {
			t.Errorf("Expected the first slot to satisfy the tags")
		}
		last := plan.Days[6].Meals[3]
		if !last.RelaxedTags {
			t.Errorf("Expected the last slot to be relaxed")
		}
	})

	t.Run("OverflowWhenAllowed", func(t *testing.T) {
		a, _ := newTestAssembler(corpus(5), AssemblerOptions{TopK: 2, GatherConcurrency: 4, AllowRepeatOverflow: true})
		plan, report, err := a.Assemble(context.Background(), assembleRequest(t, testProfile(), Constraints{}, 1))
		if err != nil {
			t.Fatalf("Expected overflow to fill the week, got %v", err)
		}
		if report.RepeatOverflows != 23 {
			t.Errorf("Expected 23 overflowing slots, got %d", report.RepeatOverflows)
		}
		overflowed := 0
		for _, d := range plan.Days {
			for _, m := range d.Meals {
				if m.RepeatOverflow {
					overflowed++
				}
			}
		}
		if overflowed != 23 {
			t.Errorf("Expected 23 flagged meals, got %d", overflowed)
		}
		usage := plan.RecipeUsage(-1)
		for id, n := range usage {
			if n < 5 || n > 6 {
				t.Errorf("Expected least-used spreading, %s used %d times", id, n)
			}
		}
	})

	t.Run("NoAdmissibleRecipes", func(t *testing.T) {
		a, _ := newTestAssembler(corpus(3), AssemblerOptions{TopK: 5, GatherConcurrency: 4})
		cons := Constraints{DietPreference: nutrition.Vegan, Allergies: []string{"peanuts", "gluten"}}
		_, _, err := a.Assemble(context.Background(), assembleRequest(t, testProfile(), cons, 2))
		var nc *recipe.NoCandidatesError
		if !errors.As(err, &nc) {
			t.Fatalf("Expected NoCandidatesError cause, got %v", err)
		}
		if !errors.Is(err, apperr.ErrConstraintUnsatisfiable) {
			t.Errorf("Expected ConstraintUnsatisfiable")
		}
	})
}

func TestAssembleGathersEverySlot(t *testing.T) {
	a, src := newTestAssembler(corpus(40), AssemblerOptions{TopK: 10, GatherConcurrency: 8})
	_, report, err := a.Assemble(context.Background(), assembleRequest(t, testProfile(), Constraints{}, 2))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if got := src.calls.Load(); got != int64(report.Retrievals) {
		t.Errorf("Expected %d retrievals, source saw %d", report.Retrievals, got)
	}
	if report.Retrievals < 28 {
		t.Errorf("Expected at least one retrieval per slot, got %d", report.Retrievals)
	}
}

func TestAssembleCancelled(t *testing.T) {
	a, _ := newTestAssembler(corpus(40), AssemblerOptions{TopK: 5, GatherConcurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := a.Assemble(ctx, assembleRequest(t, testProfile(), Constraints{}, 2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestAssembleValidation(t *testing.T) {
	a, _ := newTestAssembler(corpus(40), AssemblerOptions{TopK: 5})
	req := assembleRequest(t, testProfile(), Constraints{}, 2)

	short := req
	short.Targets = short.Targets[:3]
	if _, _, err := a.Assemble(context.Background(), short); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected validation error for 3 targets, got %v", err)
	}

	zero := req
	zero.MaxRecipeRepeats = 0
	if _, _, err := a.Assemble(context.Background(), zero); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected validation error for zero repeats, got %v", err)
	}
}

func TestMealNutritionScaling(t *testing.T) {
	cases := []struct {
		target, recipe, want float64
	}{
		{500, 250, 2},
		{1000, 250, 2},
		{100, 400, 0.5},
		{450, 300, 1.5},
		{300, 0, 1},
	}
	for _, c := range cases {
		if got := Servings(c.target, c.recipe); got != c.want {
			t.Errorf("Servings(%v, %v): expected %v, got %v", c.target, c.recipe, c.want, got)
		}
	}

	doc := recipe.Document{ID: "r", Title: "R", Nutrition: nutrition.Macros{Kcal: 400, ProteinG: 10.04, CarbsG: 20.06, FatG: 5}}
	m := buildMeal(slot{mealType: "lunch", targetKcal: 600}, choice{candidate: recipe.Candidate{Document: doc}})
	if m.Servings != 1.5 {
		t.Fatalf("Expected 1.5 servings, got %v", m.Servings)
	}
	want := nutrition.Macros{Kcal: 600, ProteinG: 15.1, CarbsG: 30.1, FatG: 7.5}
	if m.Nutrition != want {
		t.Errorf("Expected %+v, got %+v", want, m.Nutrition)
	}
	if m.PerServing != doc.Nutrition {
		t.Errorf("Expected per-serving snapshot %+v, got %+v", doc.Nutrition, m.PerServing)
	}
}
