// Package nutrition computes deterministic daily and per-meal nutrition
// targets from a user profile.
package nutrition

// Sex selects the Mifflin-St Jeor constant.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// ActivityLevel is the TDEE activity level.
type ActivityLevel string

const (
	Sedentary  ActivityLevel = "sedentary"
	Light      ActivityLevel = "light"
	Moderate   ActivityLevel = "moderate"
	Active     ActivityLevel = "active"
	VeryActive ActivityLevel = "very_active"
)

// Goal is the weight goal direction. The rate carries the magnitude.
type Goal string

const (
	GoalLose     Goal = "lose"
	GoalMaintain Goal = "maintain"
	GoalGain     Goal = "gain"
)

// DietPreference restricts which recipes are admissible.
type DietPreference string

const (
	Omnivore    DietPreference = "omnivore"
	Vegetarian  DietPreference = "vegetarian"
	Vegan       DietPreference = "vegan"
	Pescatarian DietPreference = "pescatarian"
	OvoLacto    DietPreference = "ovo-lacto"
)

// Profile is the validated user input the engine plans for.
type Profile struct {
	UserID            string         `json:"user_id" yaml:"user_id"`
	Age               int            `json:"age" yaml:"age"`
	Sex               Sex            `json:"sex" yaml:"sex"`
	WeightKg          float64        `json:"weight_kg" yaml:"weight_kg"`
	HeightCm          float64        `json:"height_cm" yaml:"height_cm"`
	ActivityLevel     ActivityLevel  `json:"activity_level" yaml:"activity_level"`
	Goal              Goal           `json:"goal" yaml:"goal"`
	GoalRateKgPerWeek float64        `json:"goal_rate_kg_per_week" yaml:"goal_rate_kg_per_week"`
	DietPreference    DietPreference `json:"diet_pref" yaml:"diet_pref"`
	Allergies         []string       `json:"allergies" yaml:"allergies"`
	CookingSkill      int            `json:"cooking_skill" yaml:"cooking_skill"`
	MaxPrepTimeMin    int            `json:"max_prep_time_min,omitempty" yaml:"max_prep_time_min"`
}

// Macros is an energy and macronutrient amount.
type Macros struct {
	Kcal     float64 `json:"kcal" yaml:"kcal"`
	ProteinG float64 `json:"protein_g" yaml:"protein_g"`
	CarbsG   float64 `json:"carbs_g" yaml:"carbs_g"`
	FatG     float64 `json:"fat_g" yaml:"fat_g"`
}

// Add returns the component-wise sum.
func (m Macros) Add(o Macros) Macros {
	return Macros{
		Kcal:     m.Kcal + o.Kcal,
		ProteinG: m.ProteinG + o.ProteinG,
		CarbsG:   m.CarbsG + o.CarbsG,
		FatG:     m.FatG + o.FatG,
	}
}

// Scale multiplies every component by f.
func (m Macros) Scale(f float64) Macros {
	return Macros{Kcal: m.Kcal * f, ProteinG: m.ProteinG * f, CarbsG: m.CarbsG * f, FatG: m.FatG * f}
}

// MealTarget is the share of the daily target assigned to one meal slot.
type MealTarget struct {
	MealType string  `json:"meal_type"`
	Ratio    float64 `json:"ratio"`
	Macros
}

// Targets is the full output of the calculator for one day.
type Targets struct {
	BMR        float64       `json:"bmr"`
	TDEE       float64       `json:"tdee"`
	TargetKcal float64       `json:"target_kcal"`
	ProteinG   float64       `json:"protein_g"`
	CarbsG     float64       `json:"carbs_g"`
	FatG       float64       `json:"fat_g"`
	Activity   ActivityLevel `json:"activity_level"`
	// Degenerate is set when protein and fat alone exceed the calorie
	// target and carbs were clamped to zero.
	Degenerate bool         `json:"degenerate,omitempty"`
	Meals      []MealTarget `json:"meals"`
}

// Daily returns the day-level target as Macros.
func (t Targets) Daily() Macros {
	return Macros{Kcal: t.TargetKcal, ProteinG: t.ProteinG, CarbsG: t.CarbsG, FatG: t.FatG}
}

// Meal returns the target for mealType.
func (t Targets) Meal(mealType string) (MealTarget, bool) {
	for _, m := range t.Meals {
		if m.MealType == mealType {
			return m, true
		}
	}
	return MealTarget{}, false
}
