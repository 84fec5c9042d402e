package nutrition

import (
	"fmt"
	"math"

	"weekly-meal-planner/internal/apperr"
)

const (
	kcalPerKgBodyWeight = 7700.0
	proteinPerKg        = 1.6
	proteinKcalShare    = 0.20
	fatKcalShare        = 0.25
	kcalPerGramProtein  = 4.0
	kcalPerGramCarbs    = 4.0
	kcalPerGramFat      = 9.0
)

var sexConstants = map[Sex]float64{
	SexMale:   5,
	SexFemale: -161,
	// Midpoint of the male and female constants. Not clinically validated.
	SexOther: -78,
}

var activityMultipliers = map[ActivityLevel]float64{
	Sedentary:  1.2,
	Light:      1.375,
	Moderate:   1.55,
	Active:     1.725,
	VeryActive: 1.9,
}

// Split is one meal slot's share of the daily target.
type Split struct {
	MealType string
	Ratio    float64
}

// Calculator turns a profile and an activity level into Targets. It holds
// no mutable state and performs no I/O, so a single instance is safe for
// concurrent use.
type Calculator struct {
	minKcal float64
	splits  []Split
}

// NewCalculator validates the splits and returns a Calculator.
func NewCalculator(minKcal float64, splits []Split) (*Calculator, error) {
	if minKcal < 0 {
		return nil, apperr.Validation("nutrition.NewCalculator", "min kcal must not be negative, got %v", minKcal)
	}
	if len(splits) == 0 {
		return nil, apperr.Validation("nutrition.NewCalculator", "at least one meal split is required")
	}
	var sum float64
	for _, s := range splits {
		if s.Ratio <= 0 {
			return nil, apperr.Validation("nutrition.NewCalculator", "meal split %q must have a positive ratio", s.MealType)
		}
		sum += s.Ratio
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, apperr.Validation("nutrition.NewCalculator", "meal split ratios must sum to 1, got %v", sum)
	}
	return &Calculator{minKcal: minKcal, splits: append([]Split(nil), splits...)}, nil
}

// MealTypes returns the configured meal types in split order.
func (c *Calculator) MealTypes() []string {
	out := make([]string, len(c.splits))
	for i, s := range c.splits {
		out[i] = s.MealType
	}
	return out
}

// Calculate computes the targets for profile at the given activity level.
// The profile's own ActivityLevel is ignored in favour of activity so that
// each day of a week can be computed independently.
func (c *Calculator) Calculate(p Profile, activity ActivityLevel) (Targets, error) {
	if err := ValidateProfile(p); err != nil {
		return Targets{}, err
	}
	multiplier, ok := activityMultipliers[activity]
	if !ok {
		return Targets{}, apperr.Validation("nutrition.Calculate", "unknown activity level %q", activity)
	}

	bmr := BMR(p)
	tdee := bmr * multiplier

	targetKcal := tdee + p.GoalRateKgPerWeek*kcalPerKgBodyWeight/7
	if targetKcal < c.minKcal {
		targetKcal = c.minKcal
	}

	protein := math.Max(proteinPerKg*p.WeightKg, proteinKcalShare*targetKcal/kcalPerGramProtein)
	fat := fatKcalShare * targetKcal / kcalPerGramFat
	carbs := (targetKcal - protein*kcalPerGramProtein - fat*kcalPerGramFat) / kcalPerGramCarbs
	degenerate := false
	if carbs < 0 {
		carbs = 0
		degenerate = true
	}

	t := Targets{
		BMR:        bmr,
		TDEE:       tdee,
		TargetKcal: targetKcal,
		ProteinG:   protein,
		CarbsG:     carbs,
		FatG:       fat,
		Activity:   activity,
		Degenerate: degenerate,
		Meals:      make([]MealTarget, len(c.splits)),
	}
	daily := t.Daily()
	for i, s := range c.splits {
		t.Meals[i] = MealTarget{MealType: s.MealType, Ratio: s.Ratio, Macros: daily.Scale(s.Ratio)}
	}
	return t, nil
}

// BMR returns the Mifflin-St Jeor basal metabolic rate. The profile must
// already be valid.
func BMR(p Profile) float64 {
	return 10*p.WeightKg + 6.25*p.HeightCm - 5*float64(p.Age) + sexConstants[p.Sex]
}

// ValidateProfile rejects profiles the calculator cannot handle.
func ValidateProfile(p Profile) error {
	const op = "nutrition.ValidateProfile"
	if p.Age < 1 || p.Age > 120 {
		return apperr.Validation(op, "age must be within 1-120, got %d", p.Age)
	}
	if p.WeightKg <= 0 {
		return apperr.Validation(op, "weight_kg must be positive, got %v", p.WeightKg)
	}
	if p.HeightCm <= 0 {
		return apperr.Validation(op, "height_cm must be positive, got %v", p.HeightCm)
	}
	if _, ok := sexConstants[p.Sex]; !ok {
		return apperr.Validation(op, "unknown sex %q", p.Sex)
	}
	if p.ActivityLevel != "" {
		if _, ok := activityMultipliers[p.ActivityLevel]; !ok {
			return apperr.Validation(op, "unknown activity level %q", p.ActivityLevel)
		}
	}
	switch p.Goal {
	case "":
	case GoalLose:
		if p.GoalRateKgPerWeek > 0 {
			return apperr.Validation(op, "goal lose needs a non-positive rate, got %v", p.GoalRateKgPerWeek)
		}
	case GoalGain:
		if p.GoalRateKgPerWeek < 0 {
			return apperr.Validation(op, "goal gain needs a non-negative rate, got %v", p.GoalRateKgPerWeek)
		}
	case GoalMaintain:
		if p.GoalRateKgPerWeek != 0 {
			return apperr.Validation(op, "goal maintain needs a zero rate, got %v", p.GoalRateKgPerWeek)
		}
	default:
		return apperr.Validation(op, "unknown goal %q", p.Goal)
	}
	if p.DietPreference != "" {
		if _, ok := dietTags[p.DietPreference]; !ok {
			return apperr.Validation(op, "unknown diet preference %q", p.DietPreference)
		}
	}
	if p.CookingSkill < 0 || p.CookingSkill > 5 {
		return apperr.Validation(op, "cooking_skill must be within 0-5, got %d", p.CookingSkill)
	}
	return nil
}

// String renders targets for CLI output.
func (t Targets) String() string {
	return fmt.Sprintf("%.0f kcal (P %.1fg, C %.1fg, F %.1fg) [BMR %.0f, TDEE %.0f, %s]",
		t.TargetKcal, t.ProteinG, t.CarbsG, t.FatG, t.BMR, t.TDEE, t.Activity)
}
