// Package recipe holds the read-only recipe corpus and the hybrid-scored
// candidate retrieval that runs against it.
package recipe

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"weekly-meal-planner/internal/nutrition"
)

// Document is one indexed recipe. Nutrition is per serving.
type Document struct {
	ID           string           `json:"id" yaml:"id"`
	Title        string           `json:"title" yaml:"title"`
	Ingredients  []string         `json:"ingredients" yaml:"ingredients"`
	Instructions string           `json:"instructions" yaml:"instructions"`
	Nutrition    nutrition.Macros `json:"nutrition" yaml:"nutrition"`
	DietaryTags  []string         `json:"dietary_tags" yaml:"dietary_tags"`
	AllergenTags []string         `json:"allergen_tags" yaml:"allergen_tags"`
	Embedding    []float32        `json:"embedding,omitempty" yaml:"embedding"`
	PrepTimeMin  int              `json:"prep_time_min" yaml:"prep_time_min"`
	CookTimeMin  int              `json:"cook_time_min" yaml:"cook_time_min"`
	SkillLevel   int              `json:"skill_level" yaml:"skill_level"`
}

// ToEmbeddingText is the text the corpus embeddings were computed from.
func (d Document) ToEmbeddingText() string {
	if len(d.Ingredients) == 0 {
		return d.Title
	}
	return fmt.Sprintf("%s. Ingredients: %s", d.Title, strings.Join(d.Ingredients, ", "))
}

// Excerpt is a short source snippet: the title and up to three ingredients.
func (d Document) Excerpt() string {
	n := len(d.Ingredients)
	if n > 3 {
		n = 3
	}
	if n == 0 {
		return d.Title
	}
	return d.Title + ": " + strings.Join(d.Ingredients[:n], ", ")
}

// MatchingAllergens returns the document's allergen tags present in allergies.
func (d Document) MatchingAllergens(allergies TagSet) []string {
	var hits []string
	for _, a := range d.AllergenTags {
		if allergies.Has(a) {
			hits = append(hits, a)
		}
	}
	return hits
}

// SatisfiesDiet reports whether the document carries at least one of the
// accepted dietary tags. An empty accepted set always passes.
func (d Document) SatisfiesDiet(accepted TagSet) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, t := range d.DietaryTags {
		if accepted.Has(t) {
			return true
		}
	}
	return false
}

// proteinWords maps ingredient words to the main protein they name.
var proteinWords = map[string]string{
	"chicken": "chicken", "beef": "beef", "steak": "beef", "pork": "pork", "bacon": "pork",
	"ham": "pork", "sausage": "pork", "turkey": "turkey", "lamb": "lamb", "salmon": "salmon",
	"tuna": "tuna", "cod": "fish", "fish": "fish", "shrimp": "shrimp", "prawn": "shrimp",
	"prawns": "shrimp", "tofu": "tofu", "tempeh": "tempeh", "seitan": "seitan", "egg": "egg",
	"eggs": "egg", "lentil": "lentils", "lentils": "lentils", "chickpea": "chickpeas",
	"chickpeas": "chickpeas", "bean": "beans", "beans": "beans",
}

// ProteinsIn returns the main proteins named in texts, sorted. Matching is
// by whole word, so "eggplant" does not count as egg.
func ProteinsIn(texts ...string) []string {
	found := make(TagSet)
	for _, t := range texts {
		words := strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			if p, ok := proteinWords[w]; ok {
				found[p] = struct{}{}
			}
		}
	}
	return found.Sorted()
}

// Proteins returns the main proteins of the recipe, read from its title and
// ingredients.
func (d Document) Proteins() []string {
	return ProteinsIn(append([]string{d.Title}, d.Ingredients...)...)
}

// TagSet is a case-insensitive set of tags.
type TagSet map[string]struct{}

// NewTagSet builds a set from tags, lowercasing and trimming each one.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		if t = normalizeTag(t); t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Has reports whether tag is in the set.
func (s TagSet) Has(tag string) bool {
	_, ok := s[normalizeTag(tag)]
	return ok
}

// Union returns a new set holding the members of both.
func (s TagSet) Union(o TagSet) TagSet {
	out := make(TagSet, len(s)+len(o))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range o {
		out[k] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func normalizeTag(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
