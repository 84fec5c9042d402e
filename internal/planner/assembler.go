package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/recipe"

	"golang.org/x/sync/errgroup"
)

const (
	minServings = 0.5
	maxServings = 2.0
	// widenFactor multiplies top_k on the first escalation step.
	widenFactor = 4
)

// CandidateSource ranks recipes for one meal slot.
type CandidateSource interface {
	Retrieve(ctx context.Context, q recipe.Query) ([]recipe.Candidate, error)
}

// AssemblerOptions tunes candidate gathering and escalation.
type AssemblerOptions struct {
	// TopK is the candidate count fetched per slot before escalation.
	TopK int
	// AllowRepeatOverflow lets the last escalation step reuse the least
	// used candidate instead of failing. Off by default.
	AllowRepeatOverflow bool
	// GatherConcurrency bounds parallel retrievals.
	GatherConcurrency int
}

// AssembleRequest is everything needed to fill one week.
type AssembleRequest struct {
	UserID           string
	StartDate        time.Time
	Pattern          nutrition.ActivityPattern
	Targets          []nutrition.Targets
	Constraints      Constraints
	MaxRecipeRepeats int
}

// Report counts what a generation or regeneration had to do.
type Report struct {
	Slots           int
	Retrievals      int
	Widened         int
	RelaxedTags     int
	RepeatOverflows int
}

// Escalations is the number of slots that needed any escalation step.
func (r Report) Escalations() int {
	return r.Widened + r.RelaxedTags + r.RepeatOverflows
}

// Assembler fills every slot of a week under the repeat limit.
type Assembler struct {
	source CandidateSource
	opts   AssemblerOptions
	log    *logger.Logger
}

func NewAssembler(source CandidateSource, opts AssemblerOptions, log *logger.Logger) *Assembler {
	if opts.GatherConcurrency <= 0 {
		opts.GatherConcurrency = 1
	}
	return &Assembler{source: source, opts: opts, log: log.With("component", "Assembler")}
}

type slot struct {
	dayIndex   int
	mealType   string
	sequence   int
	targetKcal float64
}

type choice struct {
	candidate recipe.Candidate
	relaxed   bool
	overflow  bool
}

// Assemble gathers ranked candidates for all slots in parallel, then
// resolves slots one at a time, day by day in meal order, against a
// shared usage count.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (*WeeklyPlan, *Report, error) {
	const op = "planner.Assemble"
	if len(req.Targets) != DaysPerWeek {
		return nil, nil, apperr.Validation(op, "expected %d daily targets, got %d", DaysPerWeek, len(req.Targets))
	}
	if req.MaxRecipeRepeats < 1 {
		return nil, nil, apperr.Validation(op, "max recipe repeats must be at least 1, got %d", req.MaxRecipeRepeats)
	}
	if len(req.Constraints.MealTypes) == 0 {
		return nil, nil, apperr.Validation(op, "at least one meal type is required")
	}

	start := DateOf(req.StartDate)
	plan := &WeeklyPlan{
		ID:               newID("week_"),
		UserID:           req.UserID,
		StartDate:        start,
		EndDate:          start.AddDate(0, 0, DaysPerWeek-1),
		ActivityPattern:  req.Pattern,
		Constraints:      req.Constraints,
		MaxRecipeRepeats: req.MaxRecipeRepeats,
		Version:          1,
		Days:             make([]DailyPlan, DaysPerWeek),
	}

	var slots []slot
	for i := range DaysPerWeek {
		date := start.AddDate(0, 0, i)
		plan.Days[i] = DailyPlan{
			ID:                  newID("day_"),
			DayIndex:            i,
			Date:                date,
			DayName:             nutrition.DayName(date),
			Activity:            req.Pattern.On(date),
			Target:              req.Targets[i].Daily(),
			NutritionProvenance: NutritionProvenance,
			PlanVersion:         PlanFormatVersion,
		}
		for seq, mealType := range req.Constraints.MealTypes {
			target, ok := req.Targets[i].Meal(mealType)
			if !ok {
				return nil, nil, apperr.Validation(op, "no target for meal type %q on day %d", mealType, i)
			}
			slots = append(slots, slot{dayIndex: i, mealType: mealType, sequence: seq, targetKcal: target.Kcal})
		}
	}

	report := &Report{Slots: len(slots)}
	ranked, gatherErrs, err := a.gather(ctx, req.Constraints, slots)
	if err != nil {
		return nil, nil, err
	}
	report.Retrievals += len(slots)

	usage := make(map[string]int)
	for i, s := range slots {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		q := a.query(req.Constraints, s, nil)
		c, err := a.resolve(ctx, q, s, ranked[i], gatherErrs[i], usage, req.MaxRecipeRepeats, report)
		if err != nil {
			return nil, nil, err
		}
		usage[c.candidate.Document.ID]++
		day := &plan.Days[s.dayIndex]
		day.Meals = append(day.Meals, buildMeal(s, c))
	}

	for i := range plan.Days {
		plan.Days[i].Recompute()
	}
	plan.RecomputeVariety()

	a.log.Info("weekly plan assembled",
		"plan_id", plan.ID,
		"slots", report.Slots,
		"variety_score", plan.VarietyScore,
		"escalations", report.Escalations())
	return plan, report, nil
}

// gather retrieves base candidates for every slot concurrently. A slot whose
// query admits nothing gets its NoCandidatesError in errs instead of failing
// the whole gather; any other error cancels the rest.
func (a *Assembler) gather(ctx context.Context, cons Constraints, slots []slot) ([][]recipe.Candidate, []error, error) {
	ranked := make([][]recipe.Candidate, len(slots))
	errs := make([]error, len(slots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.GatherConcurrency)
	for i, s := range slots {
		g.Go(func() error {
			cands, err := a.source.Retrieve(gctx, a.query(cons, s, nil))
			if isNoCandidates(err) {
				errs[i] = err
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to retrieve candidates for day %d %s: %w", s.dayIndex, s.mealType, err)
			}
			ranked[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ranked, errs, nil
}

// resolve picks the best candidate under the repeat limit, escalating in
// order: widen top_k, then unlimited; drop the tag requirement; reuse the
// least used candidate when overflow is allowed.
func (a *Assembler) resolve(ctx context.Context, base recipe.Query, s slot, initial []recipe.Candidate, initialErr error,
	usage map[string]int, maxRepeats int, report *Report,
) (choice, error) {
	if c, ok := firstUnderLimit(initial, usage, maxRepeats); ok {
		return choice{candidate: c}, nil
	}

	last := initial
	cause := initialErr

	if cause == nil {
		for _, k := range widenSteps(base.TopK) {
			q := base
			q.TopK = k
			cands, err := a.retrieve(ctx, q, report)
			if isNoCandidates(err) {
				cause = err
				break
			}
			if err != nil {
				return choice{}, err
			}
			last = cands
			if c, ok := firstUnderLimit(cands, usage, maxRepeats); ok {
				report.Widened++
				a.log.Debug("slot filled after widening", "day_index", s.dayIndex, "meal_type", s.mealType, "top_k", k)
				return choice{candidate: c}, nil
			}
		}
	}

	relaxed := false
	if base.StrictTags {
		q := base
		q.RequiredTags = nil
		q.StrictTags = false
		q.TopK = 0
		cands, err := a.retrieve(ctx, q, report)
		switch {
		case isNoCandidates(err):
			cause = err
		case err != nil:
			return choice{}, err
		default:
			cause = nil
			last = cands
			relaxed = true
			if c, ok := firstUnderLimit(cands, usage, maxRepeats); ok {
				report.RelaxedTags++
				a.log.Warn("slot filled without required tags", "day_index", s.dayIndex, "meal_type", s.mealType)
				return choice{candidate: c, relaxed: true}, nil
			}
		}
	}

	if a.opts.AllowRepeatOverflow && len(last) > 0 {
		c := leastUsed(last, usage)
		report.RepeatOverflows++
		a.log.Warn("repeat limit exceeded", "day_index", s.dayIndex, "meal_type", s.mealType,
			"recipe_id", c.Document.ID, "uses", usage[c.Document.ID]+1, "max_recipe_repeats", maxRepeats)
		return choice{candidate: c, relaxed: relaxed, overflow: true}, nil
	}

	return choice{}, &VarietyConstraintUnsatisfiableError{
		DayIndex:         s.dayIndex,
		MealType:         s.mealType,
		MaxRecipeRepeats: maxRepeats,
		Cause:            cause,
	}
}

func (a *Assembler) retrieve(ctx context.Context, q recipe.Query, report *Report) ([]recipe.Candidate, error) {
	report.Retrievals++
	return a.source.Retrieve(ctx, q)
}

// query builds the base retrieval query for a slot.
func (a *Assembler) query(cons Constraints, s slot, exclude []string) recipe.Query {
	return recipe.Query{
		MealType:       s.mealType,
		TargetKcal:     s.targetKcal,
		DietPreference: cons.DietPreference,
		Allergies:      cons.Allergies,
		RequiredTags:   cons.RequiredTags,
		StrictTags:     len(cons.RequiredTags) > 0,
		ExcludeIDs:     exclude,
		TopK:           a.opts.TopK,
		CookingSkill:   cons.CookingSkill,
		MaxPrepTimeMin: cons.MaxPrepTimeMin,
	}
}

func widenSteps(topK int) []int {
	if topK <= 0 {
		return nil
	}
	return []int{topK * widenFactor, 0}
}

func firstUnderLimit(cands []recipe.Candidate, usage map[string]int, maxRepeats int) (recipe.Candidate, bool) {
	for _, c := range cands {
		if usage[c.Document.ID] < maxRepeats {
			return c, true
		}
	}
	return recipe.Candidate{}, false
}

// leastUsed returns the candidate with the fewest uses so far, keeping rank
// order among ties.
func leastUsed(cands []recipe.Candidate, usage map[string]int) recipe.Candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if usage[c.Document.ID] < usage[best.Document.ID] {
			best = c
		}
	}
	return best
}

func isNoCandidates(err error) bool {
	var nc *recipe.NoCandidatesError
	return errors.As(err, &nc)
}

// Servings scales a recipe toward the slot target, clamped to [0.5, 2].
// A recipe without calories is served once.
func Servings(targetKcal, recipeKcal float64) float64 {
	if recipeKcal <= 0 || targetKcal <= 0 {
		return 1
	}
	return round2(math.Min(maxServings, math.Max(minServings, targetKcal/recipeKcal)))
}

func buildMeal(s slot, c choice) PlanMeal {
	d := c.candidate.Document
	servings := Servings(s.targetKcal, d.Nutrition.Kcal)
	return PlanMeal{
		ID:             newID("meal_"),
		MealType:       s.mealType,
		Sequence:       s.sequence,
		TargetKcal:     s.targetKcal,
		RecipeID:       d.ID,
		RecipeTitle:    d.Title,
		Ingredients:    cloneStrings(d.Ingredients),
		Instructions:   d.Instructions,
		PrepTimeMin:    d.PrepTimeMin,
		CookTimeMin:    d.CookTimeMin,
		Servings:       servings,
		PerServing:     d.Nutrition,
		Nutrition:      roundMacros(d.Nutrition.Scale(servings)),
		Score:          c.candidate.Scores.Final,
		Explanation:    c.candidate.Explanation,
		RelaxedTags:    c.relaxed,
		RepeatOverflow: c.overflow,
	}
}
