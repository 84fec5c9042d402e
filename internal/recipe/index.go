package recipe

import (
	"context"
	"fmt"
	"sync"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/llm"
)

// Filter is the hard safety gate applied before any scoring.
type Filter struct {
	// Allergies excludes any recipe carrying one of these allergen tags.
	Allergies TagSet
	// DietTags, when non-empty, requires at least one matching dietary tag.
	DietTags TagSet
	// ExcludeIDs drops specific recipes.
	ExcludeIDs map[string]struct{}
	// ExcludeProteins drops recipes built on any of these proteins.
	ExcludeProteins TagSet
}

// Admits reports whether d passes every hard constraint of f.
func (f Filter) Admits(d Document) bool {
	if _, excluded := f.ExcludeIDs[d.ID]; excluded {
		return false
	}
	if len(d.MatchingAllergens(f.Allergies)) > 0 {
		return false
	}
	if len(f.ExcludeProteins) > 0 {
		for _, p := range d.Proteins() {
			if f.ExcludeProteins.Has(p) {
				return false
			}
		}
	}
	return d.SatisfiesDiet(f.DietTags)
}

// Hit is a document admitted by a filter together with its raw cosine
// similarity to the query embedding.
type Hit struct {
	Document   Document
	Similarity float64
}

// Index is a vector-searchable, read-only recipe corpus.
type Index interface {
	// Search returns every document admitted by f, in no particular order.
	Search(ctx context.Context, query []float32, f Filter) ([]Hit, error)
	// Get returns a single document or a NotFoundError.
	Get(ctx context.Context, id string) (*Document, error)
}

// MemoryIndex is an Index held entirely in memory.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex(docs ...Document) *MemoryIndex {
	idx := &MemoryIndex{docs: make(map[string]Document, len(docs))}
	for _, d := range docs {
		idx.docs[d.ID] = d
	}
	return idx
}

// Put inserts or replaces a document.
func (m *MemoryIndex) Put(d Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = d
}

func (m *MemoryIndex) Search(ctx context.Context, query []float32, f Filter) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.docs))
	for _, d := range m.docs {
		if !f.Admits(d) {
			continue
		}
		hits = append(hits, Hit{Document: d, Similarity: llm.CosineSimilarity(query, d.Embedding)})
	}
	return hits, nil
}

func (m *MemoryIndex) Get(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, &NotFoundError{RecipeID: id}
	}
	return &d, nil
}

// Len returns the number of documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// NotFoundError is returned when a recipe id does not resolve.
type NotFoundError struct {
	RecipeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("recipe %q not found", e.RecipeID)
}

func (e *NotFoundError) Is(target error) bool { return target == apperr.ErrNotFound }
