package planner

import (
	"cmp"
	"slices"

	"weekly-meal-planner/internal/nutrition"
)

const topRecipes = 3

// RecipeUse is how often a recipe appears in a plan.
type RecipeUse struct {
	RecipeID string `json:"recipe_id"`
	Title    string `json:"title"`
	Count    int    `json:"count"`
}

// WeeklyStats summarizes a plan.
type WeeklyStats struct {
	PlanID           string           `json:"plan_id"`
	Totals           nutrition.Macros `json:"totals"`
	AverageDailyKcal float64          `json:"average_daily_kcal"`
	UniqueRecipes    int              `json:"unique_recipes"`
	TotalMeals       int              `json:"total_meals"`
	VarietyScore     float64          `json:"variety_score"`
	MostUsed         []RecipeUse      `json:"most_used"`
}

// ComputeStats totals the plan's days and ranks its most used recipes,
// ties broken by recipe id.
func ComputeStats(plan *WeeklyPlan) WeeklyStats {
	stats := WeeklyStats{PlanID: plan.ID, VarietyScore: plan.VarietyScore}
	uses := make(map[string]*RecipeUse)
	for _, d := range plan.Days {
		stats.Totals = stats.Totals.Add(d.Totals)
		for _, m := range d.Meals {
			stats.TotalMeals++
			u, ok := uses[m.RecipeID]
			if !ok {
				u = &RecipeUse{RecipeID: m.RecipeID, Title: m.RecipeTitle}
				uses[m.RecipeID] = u
			}
			u.Count++
		}
	}
	stats.Totals = roundMacros(stats.Totals)
	if len(plan.Days) > 0 {
		stats.AverageDailyKcal = round1(stats.Totals.Kcal / float64(len(plan.Days)))
	}
	stats.UniqueRecipes = len(uses)

	ranked := make([]RecipeUse, 0, len(uses))
	for _, u := range uses {
		ranked = append(ranked, *u)
	}
	slices.SortFunc(ranked, func(a, b RecipeUse) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.RecipeID, b.RecipeID)
	})
	stats.MostUsed = ranked[:min(topRecipes, len(ranked))]
	return stats
}
