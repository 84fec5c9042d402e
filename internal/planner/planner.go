// Package planner generates weekly meal plans under a per-recipe repeat
// limit, regenerates parts of them and keeps them consistent in a PlanStore.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/metrics"
	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/recipe"
)

// Operation names recorded in execution metrics.
const (
	OpGenerate       = "generate"
	OpRegenerateDay  = "regenerate_day"
	OpRegenerateMeal = "regenerate_meal"
	OpReplaceMeal    = "replace_meal"
)

// Recorder persists execution metrics.
type Recorder interface {
	Record(ctx context.Context, m metrics.ExecutionMetric) error
}

// Deps are the collaborators of a Planner. Store and Metrics are optional.
type Deps struct {
	Calculator *nutrition.Calculator
	Candidates CandidateSource
	Recipes    recipe.Index
	Store      PlanStore
	Metrics    Recorder
}

// Options tunes a Planner.
type Options struct {
	Assembler AssemblerOptions
	// MaxRecipeRepeats is used when a request leaves it unset.
	MaxRecipeRepeats int
	// GenerationTimeout bounds Generate. Zero means no extra deadline.
	GenerationTimeout time.Duration
	ReadRetry         apperr.RetryPolicy
}

// GenerateRequest describes the week to plan.
type GenerateRequest struct {
	Profile nutrition.Profile
	// StartDate defaults to today.
	StartDate time.Time
	// ActivityPattern defaults missing days to the standard pattern.
	ActivityPattern  nutrition.ActivityPattern
	MaxRecipeRepeats int
	RequiredTags     []string
}

// GenerateOptions controls what Generate does with the result.
type GenerateOptions struct {
	Persist bool
}

// Planner is the engine: it generates, regenerates, edits and looks up
// weekly plans.
type Planner struct {
	calc        *nutrition.Calculator
	recipes     recipe.Index
	assembler   *Assembler
	regenerator *Regenerator
	store       PlanStore
	metrics     Recorder
	locks       *planLocks
	opts        Options
	now         func() time.Time
	log         *logger.Logger
}

// NewPlanner creates a new Planner instance.
func NewPlanner(deps Deps, opts Options, log *logger.Logger) (*Planner, error) {
	if deps.Calculator == nil || deps.Candidates == nil {
		return nil, fmt.Errorf("planner needs a calculator and a candidate source")
	}
	if opts.MaxRecipeRepeats <= 0 {
		opts.MaxRecipeRepeats = 2
	}
	assembler := NewAssembler(deps.Candidates, opts.Assembler, log)
	return &Planner{
		calc:        deps.Calculator,
		recipes:     deps.Recipes,
		assembler:   assembler,
		regenerator: NewRegenerator(assembler, log),
		store:       deps.Store,
		metrics:     deps.Metrics,
		locks:       newPlanLocks(),
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.With("component", "Planner"),
	}, nil
}

// Generate computes per-day targets and assembles a full week. With
// Persist the plan is stored in the same call; a failure or timeout
// before the store commits leaves nothing behind.
func (p *Planner) Generate(ctx context.Context, req GenerateRequest, opts GenerateOptions) (plan *WeeklyPlan, err error) {
	const op = "planner.Generate"
	started := time.Now()
	var report *Report
	defer func() { p.record(ctx, OpGenerate, plan, req.Profile.UserID, report, started, err) }()

	if opts.Persist && p.store == nil {
		return nil, apperr.Validation(op, "persist requested but no plan store is configured")
	}
	if strings.TrimSpace(req.Profile.UserID) == "" {
		return nil, apperr.Validation(op, "user_id is required")
	}
	if err := nutrition.ValidateProfile(req.Profile); err != nil {
		return nil, err
	}
	pattern, err := req.ActivityPattern.Normalize()
	if err != nil {
		return nil, apperr.E(apperr.ErrValidation, op, err)
	}
	repeats := req.MaxRecipeRepeats
	if repeats == 0 {
		repeats = p.opts.MaxRecipeRepeats
	}
	if repeats < 1 {
		return nil, apperr.Validation(op, "max_recipe_repeats must be at least 1, got %d", repeats)
	}

	start := req.StartDate
	if start.IsZero() {
		start = p.now()
	}
	start = DateOf(start)

	// 1. Per-day targets from each day's activity
	targets := make([]nutrition.Targets, DaysPerWeek)
	for i := range targets {
		date := start.AddDate(0, 0, i)
		level, err := pattern.On(date).Level()
		if err != nil {
			return nil, apperr.E(apperr.ErrValidation, op, err)
		}
		targets[i], err = p.calc.Calculate(req.Profile, level)
		if err != nil {
			return nil, err
		}
		if targets[i].Degenerate {
			p.log.Warn("protein and fat exceed the calorie target; carbs clamped to zero",
				"user_id", req.Profile.UserID, "day_index", i, "target_kcal", targets[i].TargetKcal)
		}
	}

	// 2. Assemble under the generation deadline
	if p.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.GenerationTimeout)
		defer cancel()
	}
	diet := req.Profile.DietPreference
	if diet == "" {
		diet = nutrition.Omnivore
	}
	plan, report, err = p.assembler.Assemble(ctx, AssembleRequest{
		UserID:    req.Profile.UserID,
		StartDate: start,
		Pattern:   pattern,
		Targets:   targets,
		Constraints: Constraints{
			DietPreference: diet,
			Allergies:      nonEmpty(req.Profile.Allergies),
			RequiredTags:   nonEmpty(req.RequiredTags),
			MealTypes:      p.calc.MealTypes(),
			CookingSkill:   req.Profile.CookingSkill,
			MaxPrepTimeMin: req.Profile.MaxPrepTimeMin,
		},
		MaxRecipeRepeats: repeats,
	})
	if err != nil {
		return nil, err
	}

	// 3. Store atomically
	if opts.Persist {
		if err := p.store.Create(ctx, plan); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// RegenerateDay refills one day of a stored plan and commits it with a
// version check.
func (p *Planner) RegenerateDay(ctx context.Context, planID string, dayIndex int, extra ExtraConstraints) (*WeeklyPlan, error) {
	return p.mutate(ctx, OpRegenerateDay, planID, dayIndex, func(plan *WeeklyPlan) (*WeeklyPlan, *Report, error) {
		return p.regenerator.RegenerateDay(ctx, plan, dayIndex, extra)
	})
}

// RegenerateMeal refills one slot of a stored plan with a different recipe.
func (p *Planner) RegenerateMeal(ctx context.Context, planID string, dayIndex int, mealType string, extra ExtraConstraints) (*WeeklyPlan, error) {
	return p.mutate(ctx, OpRegenerateMeal, planID, dayIndex, func(plan *WeeklyPlan) (*WeeklyPlan, *Report, error) {
		return p.regenerator.RegenerateMeal(ctx, plan, dayIndex, mealType, extra)
	})
}

// ReplaceMeal puts the recipe recipeID into one slot of a stored plan.
func (p *Planner) ReplaceMeal(ctx context.Context, planID string, dayIndex int, mealType, recipeID string) (*WeeklyPlan, error) {
	if p.recipes == nil {
		return nil, apperr.Validation("planner.ReplaceMeal", "no recipe index is configured")
	}
	return p.mutate(ctx, OpReplaceMeal, planID, dayIndex, func(plan *WeeklyPlan) (*WeeklyPlan, *Report, error) {
		doc, err := apperr.RetryRead(ctx, p.opts.ReadRetry, func(ctx context.Context) (*recipe.Document, error) {
			return p.recipes.Get(ctx, recipeID)
		})
		if err != nil {
			return nil, nil, err
		}
		next, err := p.regenerator.ReplaceMeal(plan, dayIndex, mealType, *doc)
		return next, &Report{Slots: 1}, err
	})
}

// Recipe looks up one corpus recipe.
func (p *Planner) Recipe(ctx context.Context, recipeID string) (*recipe.Document, error) {
	if p.recipes == nil {
		return nil, apperr.Validation("planner.Recipe", "no recipe index is configured")
	}
	return apperr.RetryRead(ctx, p.opts.ReadRetry, func(ctx context.Context) (*recipe.Document, error) {
		return p.recipes.Get(ctx, recipeID)
	})
}

// mutate loads a plan under its lock, applies change and commits the
// changed day. The committed plan is read back and returned.
func (p *Planner) mutate(ctx context.Context, opName, planID string, dayIndex int,
	change func(plan *WeeklyPlan) (*WeeklyPlan, *Report, error),
) (result *WeeklyPlan, err error) {
	started := time.Now()
	var report *Report
	var userID string
	defer func() { p.record(ctx, opName, result, userID, report, started, err) }()

	if p.store == nil {
		return nil, apperr.Validation("planner."+opName, "no plan store is configured")
	}
	if dayIndex < 0 || dayIndex >= DaysPerWeek {
		return nil, &DayIndexOutOfRangeError{DayIndex: dayIndex}
	}

	unlock := p.locks.Lock(planID)
	defer unlock()

	plan, err := p.getByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	userID = plan.UserID

	next, report, err := change(plan)
	if err != nil {
		return nil, err
	}
	if err := p.store.ReplaceDay(ctx, planID, dayIndex, next.Days[dayIndex], next.VarietyScore, plan.Version); err != nil {
		return nil, err
	}
	return p.getByID(ctx, planID)
}

// Get returns a stored plan by id.
func (p *Planner) Get(ctx context.Context, planID string) (*WeeklyPlan, error) {
	if p.store == nil {
		return nil, apperr.Validation("planner.Get", "no plan store is configured")
	}
	return p.getByID(ctx, planID)
}

// GetByDate returns the user's plan covering date.
func (p *Planner) GetByDate(ctx context.Context, userID string, date time.Time) (*WeeklyPlan, error) {
	if p.store == nil {
		return nil, apperr.Validation("planner.GetByDate", "no plan store is configured")
	}
	return apperr.RetryRead(ctx, p.opts.ReadRetry, func(ctx context.Context) (*WeeklyPlan, error) {
		return p.store.GetByDate(ctx, userID, date)
	})
}

// Today returns the user's plan covering the current date.
func (p *Planner) Today(ctx context.Context, userID string) (*WeeklyPlan, error) {
	return p.GetByDate(ctx, userID, p.now())
}

// Tomorrow returns the user's plan covering the next date.
func (p *Planner) Tomorrow(ctx context.Context, userID string) (*WeeklyPlan, error) {
	return p.GetByDate(ctx, userID, p.now().AddDate(0, 0, 1))
}

// GetDailyPlan returns the single day of the user's plan that falls on date.
func (p *Planner) GetDailyPlan(ctx context.Context, userID string, date time.Time) (*DailyPlan, error) {
	plan, err := p.GetByDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	day := plan.Day(date)
	if day == nil {
		return nil, &PlanNotFoundError{UserID: userID, Date: DateOf(date).Format(time.DateOnly)}
	}
	return day, nil
}

// List returns a page of the user's plans.
func (p *Planner) List(ctx context.Context, userID string, opts ListOptions) ([]WeeklyPlan, error) {
	if p.store == nil {
		return nil, apperr.Validation("planner.List", "no plan store is configured")
	}
	return apperr.RetryRead(ctx, p.opts.ReadRetry, func(ctx context.Context) ([]WeeklyPlan, error) {
		return p.store.ListByUser(ctx, userID, opts)
	})
}

// Archive hides a plan from default listings.
func (p *Planner) Archive(ctx context.Context, planID string) error {
	if p.store == nil {
		return apperr.Validation("planner.Archive", "no plan store is configured")
	}
	unlock := p.locks.Lock(planID)
	defer unlock()
	if err := p.store.Archive(ctx, planID); err != nil {
		return err
	}
	p.log.Info("weekly plan archived", "plan_id", planID)
	return nil
}

// Delete removes a plan with its days and meals.
func (p *Planner) Delete(ctx context.Context, planID string) error {
	if p.store == nil {
		return apperr.Validation("planner.Delete", "no plan store is configured")
	}
	unlock := p.locks.Lock(planID)
	defer unlock()
	if err := p.store.Delete(ctx, planID); err != nil {
		return err
	}
	p.log.Info("weekly plan deleted", "plan_id", planID)
	return nil
}

// Stats summarizes a stored plan.
func (p *Planner) Stats(ctx context.Context, planID string) (*WeeklyStats, error) {
	plan, err := p.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(plan)
	return &stats, nil
}

func (p *Planner) getByID(ctx context.Context, planID string) (*WeeklyPlan, error) {
	return apperr.RetryRead(ctx, p.opts.ReadRetry, func(ctx context.Context) (*WeeklyPlan, error) {
		return p.store.GetByID(ctx, planID)
	})
}

// record writes an execution metric. Failures are logged and dropped.
func (p *Planner) record(ctx context.Context, opName string, plan *WeeklyPlan, userID string, report *Report, started time.Time, err error) {
	latency := time.Since(started)
	if err != nil {
		p.log.Warn("operation failed", "op", opName, "user_id", userID, "latency_ms", latency.Milliseconds(), "error", err)
	}
	if p.metrics == nil {
		return
	}
	m := metrics.NewExecution(opName, latency, err)
	m.UserID = userID
	if plan != nil {
		m.PlanID = plan.ID
	}
	if report != nil {
		m.Slots = report.Slots
		m.Retrievals = report.Retrievals
		m.Escalations = report.Escalations()
	}
	if rerr := p.metrics.Record(context.WithoutCancel(ctx), m); rerr != nil {
		p.log.Warn("failed to record execution metric", "op", opName, "error", rerr)
	}
}

func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return cloneStrings(s)
}
