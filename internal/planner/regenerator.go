package planner

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/recipe"
)

// ExtraConstraints narrows a regeneration beyond the plan's own constraints.
type ExtraConstraints struct {
	ExcludeRecipeIDs []string `json:"exclude_recipe_ids,omitempty"`
	// DifferentProtein excludes every recipe the day currently uses and,
	// where any other recipe remains, every recipe sharing one of their
	// main proteins.
	DifferentProtein bool     `json:"different_protein,omitempty"`
	RequiredTags     []string `json:"required_tags,omitempty"`
}

// Regenerator rebuilds parts of an existing plan without touching the rest.
// It never mutates its input plan.
type Regenerator struct {
	assembler *Assembler
	log       *logger.Logger
}

func NewRegenerator(assembler *Assembler, log *logger.Logger) *Regenerator {
	return &Regenerator{assembler: assembler, log: log.With("component", "Regenerator")}
}

// RegenerateDay refills every slot of one day. Usage is seeded from the
// other six days so the week stays within the repeat limit.
func (r *Regenerator) RegenerateDay(ctx context.Context, plan *WeeklyPlan, dayIndex int, extra ExtraConstraints) (*WeeklyPlan, *Report, error) {
	if dayIndex < 0 || dayIndex >= len(plan.Days) {
		return nil, nil, &DayIndexOutOfRangeError{DayIndex: dayIndex}
	}
	next := plan.Clone()
	old := next.Days[dayIndex]
	usage := next.RecipeUsage(dayIndex)
	cons := mergeConstraints(next.Constraints, extra)

	exclude := slices.Clone(extra.ExcludeRecipeIDs)
	var proteins []string
	if extra.DifferentProtein {
		for _, m := range old.Meals {
			exclude = append(exclude, m.RecipeID)
			proteins = append(proteins, recipe.ProteinsIn(append([]string{m.RecipeTitle}, m.Ingredients...)...)...)
		}
	}

	day, report, err := r.refillDay(ctx, next, cons, dayIndex, old, exclude, proteins, usage)
	if len(proteins) > 0 && errors.Is(err, apperr.ErrConstraintUnsatisfiable) {
		r.log.Warn("no recipes with a different protein, excluding recipes only",
			"plan_id", plan.ID, "day_index", dayIndex, "proteins", recipe.NewTagSet(proteins...).Sorted())
		day, report, err = r.refillDay(ctx, next, cons, dayIndex, old, exclude, nil, usage)
	}
	if err != nil {
		return nil, nil, err
	}
	next.Days[dayIndex] = day
	next.RecomputeVariety()

	r.log.Info("day regenerated", "plan_id", plan.ID, "day_index", dayIndex, "variety_score", next.VarietyScore)
	return next, report, nil
}

// refillDay fills every slot of old in order. usage is copied, not modified.
func (r *Regenerator) refillDay(ctx context.Context, plan *WeeklyPlan, cons Constraints, dayIndex int, old DailyPlan,
	exclude, proteins []string, usage map[string]int,
) (DailyPlan, *Report, error) {
	usage = maps.Clone(usage)
	day := old
	day.Meals = make([]PlanMeal, 0, len(old.Meals))
	report := &Report{Slots: len(old.Meals)}
	for _, m := range old.Meals {
		meal, err := r.refill(ctx, plan, cons, dayIndex, m, exclude, proteins, usage, report)
		if err != nil {
			return DailyPlan{}, nil, err
		}
		usage[meal.RecipeID]++
		day.Meals = append(day.Meals, meal)
	}
	day.Recompute()
	return day, report, nil
}

// RegenerateMeal refills one slot with a recipe other than its current one.
func (r *Regenerator) RegenerateMeal(ctx context.Context, plan *WeeklyPlan, dayIndex int, mealType string, extra ExtraConstraints) (*WeeklyPlan, *Report, error) {
	if dayIndex < 0 || dayIndex >= len(plan.Days) {
		return nil, nil, &DayIndexOutOfRangeError{DayIndex: dayIndex}
	}
	next := plan.Clone()
	day := &next.Days[dayIndex]
	current := day.Meal(mealType)
	if current == nil {
		return nil, nil, &MealNotFoundError{DayIndex: dayIndex, MealType: mealType}
	}

	usage := next.RecipeUsage(-1)
	usage[current.RecipeID]--
	cons := mergeConstraints(next.Constraints, extra)
	exclude := append(slices.Clone(extra.ExcludeRecipeIDs), current.RecipeID)

	report := &Report{Slots: 1}
	meal, err := r.refill(ctx, next, cons, dayIndex, *current, exclude, nil, usage, report)
	if err != nil {
		return nil, nil, err
	}
	*current = meal
	day.Recompute()
	next.RecomputeVariety()

	r.log.Info("meal regenerated", "plan_id", plan.ID, "day_index", dayIndex, "meal_type", mealType, "recipe_id", meal.RecipeID)
	return next, report, nil
}

// ReplaceMeal puts a specific recipe into one slot. The recipe must pass the
// plan's allergy and diet gate and keep the week within the repeat limit.
func (r *Regenerator) ReplaceMeal(plan *WeeklyPlan, dayIndex int, mealType string, doc recipe.Document) (*WeeklyPlan, error) {
	if dayIndex < 0 || dayIndex >= len(plan.Days) {
		return nil, &DayIndexOutOfRangeError{DayIndex: dayIndex}
	}
	cons := plan.Constraints
	if leaked := doc.MatchingAllergens(recipe.NewTagSet(cons.Allergies...)); len(leaked) > 0 {
		return nil, &UnsafeRecipeError{RecipeID: doc.ID, Reason: "contains allergens " + joinTags(leaked)}
	}
	if !doc.SatisfiesDiet(recipe.NewTagSet(cons.DietPreference.AcceptedTags()...)) {
		return nil, &UnsafeRecipeError{RecipeID: doc.ID, Reason: "does not fit a " + string(cons.DietPreference) + " diet"}
	}

	next := plan.Clone()
	day := &next.Days[dayIndex]
	current := day.Meal(mealType)
	if current == nil {
		return nil, &MealNotFoundError{DayIndex: dayIndex, MealType: mealType}
	}
	usage := next.RecipeUsage(-1)
	usage[current.RecipeID]--
	if usage[doc.ID]+1 > next.MaxRecipeRepeats {
		return nil, &RepeatLimitError{RecipeID: doc.ID, MaxRecipeRepeats: next.MaxRecipeRepeats}
	}

	s := slot{dayIndex: dayIndex, mealType: mealType, sequence: current.Sequence, targetKcal: current.TargetKcal}
	*current = buildMeal(s, choice{candidate: recipe.Candidate{Document: doc, Explanation: "chosen manually"}})
	day.Recompute()
	next.RecomputeVariety()
	return next, nil
}

func (r *Regenerator) refill(ctx context.Context, plan *WeeklyPlan, cons Constraints, dayIndex int, m PlanMeal,
	exclude, proteins []string, usage map[string]int, report *Report,
) (PlanMeal, error) {
	a := r.assembler
	s := slot{dayIndex: dayIndex, mealType: m.MealType, sequence: m.Sequence, targetKcal: m.TargetKcal}
	q := a.query(cons, s, exclude)
	q.ExcludeProteins = proteins
	cands, err := a.retrieve(ctx, q, report)
	var initialErr error
	if isNoCandidates(err) {
		initialErr = err
	} else if err != nil {
		return PlanMeal{}, err
	}
	c, err := a.resolve(ctx, q, s, cands, initialErr, usage, plan.MaxRecipeRepeats, report)
	if err != nil {
		return PlanMeal{}, err
	}
	return buildMeal(s, c), nil
}

func mergeConstraints(base Constraints, extra ExtraConstraints) Constraints {
	out := base.clone()
	if len(extra.RequiredTags) > 0 {
		out.RequiredTags = recipe.NewTagSet(append(slices.Clone(base.RequiredTags), extra.RequiredTags...)...).Sorted()
	}
	return out
}

func joinTags(tags []string) string {
	return strings.Join(recipe.NewTagSet(tags...).Sorted(), ", ")
}
