package planner

import (
	"math"
	"strings"
	"time"

	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/recipe"

	"github.com/google/uuid"
)

const (
	// NutritionProvenance marks numbers computed by the engine from indexed recipes.
	NutritionProvenance = "DETERMINISTIC_ENGINE_AND_INDEXED_RECIPES"
	// PlanFormatVersion is stamped on every generated day.
	PlanFormatVersion = "1.0"
	// DaysPerWeek is the fixed length of a weekly plan.
	DaysPerWeek = 7
)

// Constraints is the snapshot of user constraints a plan was generated
// under. Regeneration reuses it so no profile is needed later.
type Constraints struct {
	DietPreference nutrition.DietPreference `json:"diet_pref"`
	Allergies      []string                 `json:"allergies,omitempty"`
	RequiredTags   []string                 `json:"required_tags,omitempty"`
	MealTypes      []string                 `json:"meal_types"`
	CookingSkill   int                      `json:"cooking_skill,omitempty"`
	MaxPrepTimeMin int                      `json:"max_prep_time_min,omitempty"`
}

// PlanMeal is one filled meal slot.
type PlanMeal struct {
	ID           string           `json:"id"`
	MealType     string           `json:"meal_type"`
	Sequence     int              `json:"sequence"`
	TargetKcal   float64          `json:"target_kcal"`
	RecipeID     string           `json:"recipe_id"`
	RecipeTitle  string           `json:"recipe_title"`
	Ingredients  []string         `json:"ingredients,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
	PrepTimeMin  int              `json:"prep_time_min,omitempty"`
	CookTimeMin  int              `json:"cook_time_min,omitempty"`
	Servings     float64          `json:"servings"`
	PerServing   nutrition.Macros `json:"per_serving"`
	Nutrition    nutrition.Macros `json:"nutrition"`
	Score        float64          `json:"score"`
	Explanation  string           `json:"explanation,omitempty"`
	// RelaxedTags is set when the slot was filled after dropping the
	// required tags.
	RelaxedTags bool `json:"relaxed_tags,omitempty"`
	// RepeatOverflow is set when the slot exceeds the repeat limit.
	RepeatOverflow bool `json:"repeat_overflow,omitempty"`
}

// Source records which corpus recipe backs a meal.
type Source struct {
	MealType string `json:"meal_type"`
	RecipeID string `json:"recipe_id"`
	Excerpt  string `json:"excerpt"`
}

// DailyPlan is one day of a weekly plan.
type DailyPlan struct {
	ID                  string                `json:"id"`
	DayIndex            int                   `json:"day_index"`
	Date                time.Time             `json:"date"`
	DayName             string                `json:"day_name"`
	Activity            nutrition.DayActivity `json:"activity"`
	Target              nutrition.Macros      `json:"target"`
	Totals              nutrition.Macros      `json:"totals"`
	NutritionProvenance string                `json:"nutrition_provenance"`
	PlanVersion         string                `json:"plan_version"`
	Sources             []Source              `json:"sources"`
	Meals               []PlanMeal            `json:"meals"`
}

// Meal returns the meal filling mealType, or nil.
func (d *DailyPlan) Meal(mealType string) *PlanMeal {
	for i := range d.Meals {
		if d.Meals[i].MealType == mealType {
			return &d.Meals[i]
		}
	}
	return nil
}

// Recompute sets Totals to the sum of the meals and rebuilds Sources.
func (d *DailyPlan) Recompute() {
	var totals nutrition.Macros
	sources := make([]Source, 0, len(d.Meals))
	for _, m := range d.Meals {
		totals = totals.Add(m.Nutrition)
		sources = append(sources, Source{MealType: m.MealType, RecipeID: m.RecipeID, Excerpt: excerpt(m)})
	}
	d.Totals = totals
	d.Sources = sources
}

// WeeklyPlan is the aggregate the engine generates and the store persists.
type WeeklyPlan struct {
	ID               string                    `json:"id"`
	UserID           string                    `json:"user_id"`
	StartDate        time.Time                 `json:"start_date"`
	EndDate          time.Time                 `json:"end_date"`
	ActivityPattern  nutrition.ActivityPattern `json:"activity_pattern"`
	Constraints      Constraints               `json:"constraints"`
	MaxRecipeRepeats int                       `json:"max_recipe_repeats"`
	VarietyScore     float64                   `json:"variety_score"`
	Archived         bool                      `json:"is_archived"`
	Version          int                       `json:"version"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
	Days             []DailyPlan               `json:"days"`
}

// Covers reports whether date falls inside the plan's week.
func (p *WeeklyPlan) Covers(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// Day returns the day for date, or nil when outside the plan.
func (p *WeeklyPlan) Day(date time.Time) *DailyPlan {
	if !p.Covers(date) {
		return nil
	}
	idx := int(DateOf(date).Sub(p.StartDate).Hours() / 24)
	if idx < 0 || idx >= len(p.Days) {
		return nil
	}
	return &p.Days[idx]
}

// RecipeUsage counts how many slots use each recipe, skipping the day at
// skipDay (-1 skips nothing).
func (p *WeeklyPlan) RecipeUsage(skipDay int) map[string]int {
	usage := make(map[string]int)
	for _, d := range p.Days {
		if d.DayIndex == skipDay {
			continue
		}
		for _, m := range d.Meals {
			usage[m.RecipeID]++
		}
	}
	return usage
}

// RecomputeVariety sets VarietyScore to distinct recipes over total slots.
func (p *WeeklyPlan) RecomputeVariety() {
	p.VarietyScore = VarietyScore(p.Days)
}

// Clone returns a deep copy of p.
func (p *WeeklyPlan) Clone() *WeeklyPlan {
	out := *p
	out.ActivityPattern = make(nutrition.ActivityPattern, len(p.ActivityPattern))
	for k, v := range p.ActivityPattern {
		out.ActivityPattern[k] = v
	}
	out.Constraints = p.Constraints.clone()
	out.Days = make([]DailyPlan, len(p.Days))
	for i, d := range p.Days {
		out.Days[i] = d.clone()
	}
	return &out
}

func (c Constraints) clone() Constraints {
	out := c
	out.Allergies = cloneStrings(c.Allergies)
	out.RequiredTags = cloneStrings(c.RequiredTags)
	out.MealTypes = cloneStrings(c.MealTypes)
	return out
}

func (d DailyPlan) clone() DailyPlan {
	out := d
	out.Sources = append([]Source(nil), d.Sources...)
	out.Meals = make([]PlanMeal, len(d.Meals))
	for i, m := range d.Meals {
		m.Ingredients = cloneStrings(m.Ingredients)
		out.Meals[i] = m
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// VarietyScore is the number of distinct recipes divided by the number of
// meal slots across days.
func VarietyScore(days []DailyPlan) float64 {
	slots := 0
	distinct := make(map[string]struct{})
	for _, d := range days {
		for _, m := range d.Meals {
			slots++
			distinct[m.RecipeID] = struct{}{}
		}
	}
	if slots == 0 {
		return 0
	}
	return float64(len(distinct)) / float64(slots)
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundMacros(m nutrition.Macros) nutrition.Macros {
	return nutrition.Macros{
		Kcal:     round1(m.Kcal),
		ProteinG: round1(m.ProteinG),
		CarbsG:   round1(m.CarbsG),
		FatG:     round1(m.FatG),
	}
}

func excerpt(m PlanMeal) string {
	return recipe.Document{Title: m.RecipeTitle, Ingredients: m.Ingredients}.Excerpt()
}
