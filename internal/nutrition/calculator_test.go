package nutrition

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"weekly-meal-planner/internal/apperr"
)

func defaultSplits() []Split {
	return []Split{
		{MealType: "breakfast", Ratio: 0.25},
		{MealType: "lunch", Ratio: 0.35},
		{MealType: "dinner", Ratio: 0.30},
		{MealType: "snacks", Ratio: 0.10},
	}
}

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(1200, defaultSplits())
	if err != nil {
		t.Fatalf("NewCalculator failed: %v", err)
	}
	return c
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestCalculateReferenceProfile(t *testing.T) {
	c := newTestCalculator(t)
	p := Profile{Age: 30, Sex: SexMale, WeightKg: 75, HeightCm: 180, Goal: GoalMaintain, DietPreference: Omnivore}

	got, err := c.Calculate(p, Moderate)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		// 10*75 + 6.25*180 - 5*30 + 5
		{"BMR", got.BMR, 1730},
		{"TDEE", got.TDEE, 2681.5},
		{"TargetKcal", got.TargetKcal, 2681.5},
		// 0.20*2681.5/4 beats 1.6*75
		{"ProteinG", got.ProteinG, 134.075},
		{"FatG", got.FatG, 74.4861},
		{"CarbsG", got.CarbsG, 368.70625},
	}
	for _, ch := range checks {
		if !almostEqual(ch.got, ch.want, 1e-3) {
			t.Errorf("Expected %s to be %v, got %v", ch.name, ch.want, ch.got)
		}
	}
	if got.Degenerate {
		t.Errorf("Expected reference profile not to be degenerate")
	}

	lunch, ok := got.Meal("lunch")
	if !ok {
		t.Fatal("Expected a lunch target")
	}
	if !almostEqual(lunch.Kcal, 2681.5*0.35, 1e-9) {
		t.Errorf("Expected lunch kcal %v, got %v", 2681.5*0.35, lunch.Kcal)
	}
	if !almostEqual(lunch.ProteinG, 134.075*0.35, 1e-9) {
		t.Errorf("Expected lunch protein %v, got %v", 134.075*0.35, lunch.ProteinG)
	}
}

func TestCalculateSexConstants(t *testing.T) {
	c := newTestCalculator(t)
	base := Profile{Age: 40, WeightKg: 60, HeightCm: 165}
	want := map[Sex]float64{SexMale: 1436.25, SexFemale: 1270.25, SexOther: 1353.25}
	for sex, bmr := range want {
		p := base
		p.Sex = sex
		got, err := c.Calculate(p, Sedentary)
		if err != nil {
			t.Fatalf("Calculate(%s) failed: %v", sex, err)
		}
		if !almostEqual(got.BMR, bmr, 1e-9) {
			t.Errorf("Expected BMR %v for %s, got %v", bmr, sex, got.BMR)
		}
	}
}

func TestCalculateFloorAndDegenerate(t *testing.T) {
	c := newTestCalculator(t)

	t.Run("Floor", func(t *testing.T) {
		p := Profile{Age: 70, Sex: SexFemale, WeightKg: 45, HeightCm: 150, Goal: GoalLose, GoalRateKgPerWeek: -1}
		got, err := c.Calculate(p, Sedentary)
		if err != nil {
			t.Fatalf("Calculate failed: %v", err)
		}
		if got.TargetKcal != 1200 {
			t.Errorf("Expected target clamped to 1200, got %v", got.TargetKcal)
		}
	})

	t.Run("Degenerate", func(t *testing.T) {
		p := Profile{Age: 30, Sex: SexMale, WeightKg: 200, HeightCm: 180, Goal: GoalLose, GoalRateKgPerWeek: -3}
		got, err := c.Calculate(p, Sedentary)
		if err != nil {
			t.Fatalf("Calculate failed: %v", err)
		}
		if !got.Degenerate {
			t.Errorf("Expected degenerate flag to be set")
		}
		if got.CarbsG != 0 {
			t.Errorf("Expected carbs clamped to 0, got %v", got.CarbsG)
		}
	})

	t.Run("GoalRateShiftsTarget", func(t *testing.T) {
		p := Profile{Age: 30, Sex: SexMale, WeightKg: 75, HeightCm: 180, Goal: GoalGain, GoalRateKgPerWeek: 0.5}
		got, err := c.Calculate(p, Moderate)
		if err != nil {
			t.Fatalf("Calculate failed: %v", err)
		}
		if !almostEqual(got.TargetKcal, 2681.5+550, 1e-9) {
			t.Errorf("Expected target %v, got %v", 2681.5+550, got.TargetKcal)
		}
	})
}

func TestCalculateValidation(t *testing.T) {
	c := newTestCalculator(t)
	valid := Profile{Age: 30, Sex: SexMale, WeightKg: 75, HeightCm: 180}

	tests := []struct {
		name     string
		mutate   func(p *Profile)
		activity ActivityLevel
	}{
		{"ZeroAge", func(p *Profile) { p.Age = 0 }, Moderate},
		{"NegativeWeight", func(p *Profile) { p.WeightKg = -1 }, Moderate},
		{"ZeroHeight", func(p *Profile) { p.HeightCm = 0 }, Moderate},
		{"UnknownSex", func(p *Profile) { p.Sex = "x" }, Moderate},
		{"UnknownDiet", func(p *Profile) { p.DietPreference = "carnivore" }, Moderate},
		{"UnknownActivity", func(p *Profile) {}, ActivityLevel("extreme")},
		{"UnknownProfileActivity", func(p *Profile) { p.ActivityLevel = "extreme" }, Moderate},
		{"UnknownGoal", func(p *Profile) { p.Goal = "bulk" }, Moderate},
		{"LoseWithPositiveRate", func(p *Profile) { p.Goal = GoalLose; p.GoalRateKgPerWeek = 0.5 }, Moderate},
		{"GainWithNegativeRate", func(p *Profile) { p.Goal = GoalGain; p.GoalRateKgPerWeek = -0.5 }, Moderate},
		{"MaintainWithRate", func(p *Profile) { p.Goal = GoalMaintain; p.GoalRateKgPerWeek = 0.25 }, Moderate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := c.Calculate(p, tt.activity)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestNewCalculatorRejectsBadSplits(t *testing.T) {
	if _, err := NewCalculator(1200, []Split{{MealType: "lunch", Ratio: 0.6}}); err == nil {
		t.Error("Expected error for splits not summing to 1")
	}
	if _, err := NewCalculator(1200, nil); err == nil {
		t.Error("Expected error for empty splits")
	}
}

func TestCalculateProperties(t *testing.T) {
	c := newTestCalculator(t)
	rng := rand.New(rand.NewSource(7))
	sexes := []Sex{SexMale, SexFemale, SexOther}
	levels := []ActivityLevel{Sedentary, Light, Moderate, Active, VeryActive}

	for i := 0; i < 500; i++ {
		p := Profile{
			Age:               18 + rng.Intn(70),
			Sex:               sexes[rng.Intn(len(sexes))],
			WeightKg:          40 + rng.Float64()*110,
			HeightCm:          145 + rng.Float64()*60,
			GoalRateKgPerWeek: -1 + rng.Float64()*1.5,
		}
		level := levels[rng.Intn(len(levels))]

		got, err := c.Calculate(p, level)
		if err != nil {
			t.Fatalf("Calculate(%+v) failed: %v", p, err)
		}
		if got.TargetKcal < 1200 {
			t.Fatalf("Expected target >= floor, got %v for %+v", got.TargetKcal, p)
		}
		if got.CarbsG < 0 {
			t.Fatalf("Expected carbs >= 0, got %v for %+v", got.CarbsG, p)
		}
		if !got.Degenerate {
			reconstructed := got.ProteinG*4 + got.FatG*9 + got.CarbsG*4
			if !almostEqual(reconstructed, got.TargetKcal, 1e-6) {
				t.Fatalf("Expected macros to reconstruct %v kcal, got %v", got.TargetKcal, reconstructed)
			}
		}
		var mealKcal float64
		for _, m := range got.Meals {
			mealKcal += m.Kcal
		}
		if !almostEqual(mealKcal, got.TargetKcal, 1e-6) {
			t.Fatalf("Expected meal targets to sum to %v, got %v", got.TargetKcal, mealKcal)
		}

		again, err := c.Calculate(p, level)
		if err != nil {
			t.Fatalf("second Calculate failed: %v", err)
		}
		if !reflect.DeepEqual(got, again) {
			t.Fatalf("Expected identical output for identical input, got %+v and %+v", got, again)
		}
	}
}

func TestActivityPatternNormalize(t *testing.T) {
	t.Run("FillsDefaults", func(t *testing.T) {
		p, err := ActivityPattern{"Monday": DayVeryActive}.Normalize()
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		monday := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
		if got := p.On(monday); got != DayVeryActive {
			t.Errorf("Expected monday very_active, got %s", got)
		}
		if got := p.On(monday.AddDate(0, 0, 5)); got != DayLight {
			t.Errorf("Expected saturday light, got %s", got)
		}
		if got := p.On(monday.AddDate(0, 0, 6)); got != DayRest {
			t.Errorf("Expected sunday rest, got %s", got)
		}
	})

	t.Run("RejectsUnknownDay", func(t *testing.T) {
		if _, err := (ActivityPattern{"funday": DayRest}).Normalize(); err == nil {
			t.Error("Expected error for unknown day")
		}
	})

	t.Run("RejectsUnknownActivity", func(t *testing.T) {
		if _, err := (ActivityPattern{"monday": "sprinting"}).Normalize(); err == nil {
			t.Error("Expected error for unknown activity")
		}
	})

	t.Run("RestMapsToSedentary", func(t *testing.T) {
		lvl, err := DayRest.Level()
		if err != nil || lvl != Sedentary {
			t.Errorf("Expected sedentary, got %s (%v)", lvl, err)
		}
	})
}

func TestDietAcceptedTags(t *testing.T) {
	if tags := Omnivore.AcceptedTags(); tags != nil {
		t.Errorf("Expected no tags for omnivore, got %v", tags)
	}
	if tags := Vegetarian.AcceptedTags(); !reflect.DeepEqual(tags, []string{"vegetarian", "vegan"}) {
		t.Errorf("Expected vegetarian tags, got %v", tags)
	}
	if !DietPreference("").Valid() || DietPreference("keto").Valid() {
		t.Errorf("Unexpected Valid results")
	}
}
