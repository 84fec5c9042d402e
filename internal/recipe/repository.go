package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/llm"
	"weekly-meal-planner/internal/logger"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the persisted form of a Document. The embedding is stored as a
// little-endian float32 blob next to the JSON payload.
type Record struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:255"`
	Data      datatypes.JSON
	Embedding []byte
	UpdatedAt time.Time
}

func (Record) TableName() string { return "recipes" }

// Repository is a database-backed Index.
type Repository struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ Index = (*Repository)(nil)

// NewRepository creates a new Repository.
func NewRepository(db *gorm.DB, log *logger.Logger) *Repository {
	return &Repository{db: db, log: log.With("repo", "RecipeRepository")}
}

// Save inserts or updates a recipe. The corpus is maintained outside the
// planning engine; Save exists for fixtures and bulk loaders.
func (r *Repository) Save(ctx context.Context, d Document) error {
	emb := d.Embedding
	d.Embedding = nil
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal recipe %s: %w", d.ID, err)
	}
	rec := Record{
		ID:        d.ID,
		Title:     d.Title,
		Data:      datatypes.JSON(data),
		Embedding: llm.EncodeVector(emb),
		UpdatedAt: time.Now().UTC(),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save recipe %s: %w", d.ID, err)
	}
	return nil
}

// Get retrieves a recipe by its ID.
func (r *Repository) Get(ctx context.Context, id string) (*Document, error) {
	var rec Record
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{RecipeID: id}
		}
		return nil, apperr.Unavailable("recipe.Get", err)
	}
	d, err := rec.document()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Search scans the corpus, applies the filter and scores every admitted
// recipe against the query.
func (r *Repository) Search(ctx context.Context, query []float32, f Filter) ([]Hit, error) {
	var recs []Record
	if err := r.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, apperr.Unavailable("recipe.Search", err)
	}

	hits := make([]Hit, 0, len(recs))
	for _, rec := range recs {
		d, err := rec.document()
		if err != nil {
			r.log.Warn("skipping unreadable recipe", "recipe_id", rec.ID, "error", err)
			continue
		}
		if !f.Admits(d) {
			continue
		}
		hits = append(hits, Hit{Document: d, Similarity: llm.CosineSimilarity(query, d.Embedding)})
	}
	return hits, nil
}

// Count returns the number of recipes in the database.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, apperr.Unavailable("recipe.Count", err)
	}
	return int(n), nil
}

func (rec Record) document() (Document, error) {
	var d Document
	if err := json.Unmarshal(rec.Data, &d); err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal recipe %s: %w", rec.ID, err)
	}
	emb, err := llm.DecodeVector(rec.Embedding)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode embedding for recipe %s: %w", rec.ID, err)
	}
	d.ID = rec.ID
	d.Embedding = emb
	return d, nil
}
