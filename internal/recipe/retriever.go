package recipe

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/llm"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/nutrition"
)

const skillPenaltyPerLevel = 0.3

// Weights of the hybrid score.
type Weights struct {
	Semantic      float64
	KcalProximity float64
	Tag           float64
}

// DefaultWeights is 0.6 semantic, 0.3 calorie proximity, 0.1 tag match.
var DefaultWeights = Weights{Semantic: 0.6, KcalProximity: 0.3, Tag: 0.1}

// Query describes one meal slot to fill.
type Query struct {
	MealType       string
	TargetKcal     float64
	DietPreference nutrition.DietPreference
	Allergies      []string
	RequiredTags   []string
	// StrictTags drops candidates that lack any of RequiredTags instead of
	// only scoring them lower.
	StrictTags bool
	ExcludeIDs []string
	// ExcludeProteins drops recipes whose title or ingredients name one of
	// these proteins.
	ExcludeProteins []string
	// TopK caps the result. Zero or negative returns every survivor.
	TopK int

	// Recorded in the score breakdown only.
	CookingSkill   int
	MaxPrepTimeMin int
}

// Scores is the breakdown of a candidate's rank. Final is computed from
// Semantic, KcalProximity and Tag only.
type Scores struct {
	Semantic      float64 `json:"semantic"`
	KcalProximity float64 `json:"kcal_proximity"`
	Tag           float64 `json:"tag"`
	SkillMatch    float64 `json:"skill_match"`
	PrepTime      float64 `json:"prep_time"`
	Final         float64 `json:"final"`
}

// Candidate is a ranked recipe for one query.
type Candidate struct {
	Document    Document
	Scores      Scores
	Explanation string
}

// NoCandidatesError is returned when the hard filter leaves nothing.
type NoCandidatesError struct {
	MealType    string
	Constraints string
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("no admissible recipes for %s (%s)", e.MealType, e.Constraints)
}

func (e *NoCandidatesError) Is(target error) bool {
	return target == apperr.ErrConstraintUnsatisfiable
}

// Retriever ranks corpus recipes for a meal slot.
type Retriever struct {
	index    Index
	embedder llm.EmbeddingGenerator
	weights  Weights
	retry    apperr.RetryPolicy
	log      *logger.Logger
}

// NewRetriever wires a retriever over index using embedder for query text.
func NewRetriever(index Index, embedder llm.EmbeddingGenerator, weights Weights, retry apperr.RetryPolicy, log *logger.Logger) *Retriever {
	return &Retriever{
		index:    index,
		embedder: embedder,
		weights:  weights,
		retry:    retry,
		log:      log.With("component", "Retriever"),
	}
}

// Index returns the underlying corpus.
func (r *Retriever) Index() Index { return r.index }

// Retrieve returns at most q.TopK candidates ordered by final score, then
// by recipe id.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Candidate, error) {
	const op = "recipe.Retrieve"
	if strings.TrimSpace(q.MealType) == "" {
		return nil, apperr.Validation(op, "meal type is required")
	}
	if !q.DietPreference.Valid() {
		return nil, apperr.Validation(op, "unknown diet preference %q", q.DietPreference)
	}

	filter := Filter{
		Allergies:       NewTagSet(q.Allergies...),
		DietTags:        NewTagSet(q.DietPreference.AcceptedTags()...),
		ExcludeIDs:      make(map[string]struct{}, len(q.ExcludeIDs)),
		ExcludeProteins: NewTagSet(q.ExcludeProteins...),
	}
	for _, id := range q.ExcludeIDs {
		filter.ExcludeIDs[id] = struct{}{}
	}

	queryText := QueryText(q.MealType, q.DietPreference)
	embedding, err := apperr.RetryRead(ctx, r.retry, func(ctx context.Context) ([]float32, error) {
		return r.embedder.GenerateEmbedding(ctx, queryText)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query %q: %w", queryText, err)
	}

	hits, err := apperr.RetryRead(ctx, r.retry, func(ctx context.Context) ([]Hit, error) {
		return r.index.Search(ctx, embedding, filter)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search recipes for %s: %w", q.MealType, err)
	}

	required := NewTagSet(q.RequiredTags...)
	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if leaked := h.Document.MatchingAllergens(filter.Allergies); len(leaked) > 0 {
			return nil, apperr.E(apperr.ErrInvariant, op, fmt.Errorf("index returned recipe with excluded allergens %v", leaked),
				"recipe_id", h.Document.ID, "meal_type", q.MealType)
		}
		if !filter.Admits(h.Document) {
			continue
		}
		c := r.score(h, q, required)
		if q.StrictTags && c.Scores.Tag < 1 {
			continue
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, &NoCandidatesError{MealType: q.MealType, Constraints: describeFilter(q, filter)}
	}

	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(b.Scores.Final, a.Scores.Final); c != 0 {
			return c
		}
		return strings.Compare(a.Document.ID, b.Document.ID)
	})

	if q.TopK > 0 && len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}
	r.log.Debug("retrieved candidates", "meal_type", q.MealType, "survivors", len(hits), "returned", len(candidates))
	return candidates, nil
}

func (r *Retriever) score(h Hit, q Query, required TagSet) Candidate {
	d := h.Document
	s := Scores{
		Semantic:      SemanticScore(h.Similarity),
		KcalProximity: KcalProximity(d.Nutrition.Kcal, q.TargetKcal),
		Tag:           TagScore(d.DietaryTags, required),
		SkillMatch:    SkillMatch(d.SkillLevel, q.CookingSkill),
		PrepTime:      PrepTimeScore(d.PrepTimeMin, q.MaxPrepTimeMin),
	}
	s.Final = r.weights.Semantic*s.Semantic + r.weights.KcalProximity*s.KcalProximity + r.weights.Tag*s.Tag
	return Candidate{Document: d, Scores: s, Explanation: explain(s, d, q.TargetKcal, required)}
}

// QueryText is the text embedded to query the corpus for a slot.
func QueryText(mealType string, diet nutrition.DietPreference) string {
	if diet == "" || diet == nutrition.Omnivore {
		return mealType
	}
	return mealType + " " + string(diet)
}

// SemanticScore maps a cosine similarity from [-1,1] onto [0,1].
func SemanticScore(cosine float64) float64 {
	return math.Min(1, math.Max(0, (cosine+1)/2))
}

// KcalProximity is 1 at the target and falls linearly to 0 at twice the
// distance of the target from zero. A non-positive target scores 0.
func KcalProximity(recipeKcal, targetKcal float64) float64 {
	if targetKcal <= 0 {
		return 0
	}
	return math.Max(0, 1-math.Abs(recipeKcal-targetKcal)/targetKcal)
}

// TagScore is the fraction of required tags the recipe carries, or 1 when
// nothing is required.
func TagScore(recipeTags []string, required TagSet) float64 {
	if len(required) == 0 {
		return 1
	}
	matched := 0
	for t := range NewTagSet(recipeTags...) {
		if required.Has(t) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// SkillMatch is 1 when the recipe is within the cook's skill and loses 0.3
// per level above it.
func SkillMatch(recipeSkill, userSkill int) float64 {
	if recipeSkill <= userSkill {
		return 1
	}
	return math.Max(0, 1-float64(recipeSkill-userSkill)*skillPenaltyPerLevel)
}

// PrepTimeScore prefers quick recipes, or penalizes overrun when a limit is set.
func PrepTimeScore(prepMin, maxPrepMin int) float64 {
	if maxPrepMin <= 0 {
		switch {
		case prepMin <= 30:
			return 1
		case prepMin <= 60:
			return 0.8
		default:
			return 0.6
		}
	}
	if prepMin <= maxPrepMin {
		return 1
	}
	return math.Max(0, 1-float64(prepMin-maxPrepMin)/float64(maxPrepMin))
}

func describeFilter(q Query, f Filter) string {
	parts := []string{"diet=" + string(q.DietPreference)}
	if len(f.Allergies) > 0 {
		parts = append(parts, "allergies="+strings.Join(f.Allergies.Sorted(), ","))
	}
	if q.StrictTags && len(q.RequiredTags) > 0 {
		parts = append(parts, "tags="+strings.Join(NewTagSet(q.RequiredTags...).Sorted(), ","))
	}
	if len(f.ExcludeIDs) > 0 {
		parts = append(parts, fmt.Sprintf("excluded=%d", len(f.ExcludeIDs)))
	}
	if len(f.ExcludeProteins) > 0 {
		parts = append(parts, "not_protein="+strings.Join(f.ExcludeProteins.Sorted(), ","))
	}
	return strings.Join(parts, " ")
}

func explain(s Scores, d Document, targetKcal float64, required TagSet) string {
	var reasons []string
	switch {
	case s.Semantic >= 0.8:
		reasons = append(reasons, "excellent match for the meal")
	case s.Semantic >= 0.6:
		reasons = append(reasons, "good match for the meal")
	}
	switch {
	case s.KcalProximity >= 0.9:
		reasons = append(reasons, fmt.Sprintf("calories on target (%.0f vs %.0f)", d.Nutrition.Kcal, targetKcal))
	case s.KcalProximity >= 0.7:
		reasons = append(reasons, fmt.Sprintf("close calorie match (%.0f kcal)", d.Nutrition.Kcal))
	}
	if len(required) > 0 && s.Tag == 1 {
		reasons = append(reasons, "carries every requested tag")
	} else if len(required) > 0 && s.Tag >= 0.5 {
		reasons = append(reasons, "carries some requested tags")
	}
	if s.SkillMatch < 0.7 {
		reasons = append(reasons, "above the cook's usual skill level")
	}
	if d.PrepTimeMin > 0 && d.PrepTimeMin <= 30 {
		reasons = append(reasons, fmt.Sprintf("quick to prepare (%d min)", d.PrepTimeMin))
	}
	if len(reasons) == 0 {
		return "best available option"
	}
	return strings.Join(reasons, "; ")
}
