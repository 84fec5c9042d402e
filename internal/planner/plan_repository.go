package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"weekly-meal-planner/internal/apperr"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/nutrition"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WeeklyPlanRecord is the stored plan header.
type WeeklyPlanRecord struct {
	ID               string    `gorm:"primaryKey;size:32"`
	UserID           string    `gorm:"size:128;not null;index:idx_weekly_plans_user_dates,priority:1"`
	StartDate        time.Time `gorm:"not null;index:idx_weekly_plans_user_dates,priority:2"`
	EndDate          time.Time `gorm:"not null;index:idx_weekly_plans_user_dates,priority:3"`
	ActivityPattern  datatypes.JSON
	Constraints      datatypes.JSON
	MaxRecipeRepeats int
	VarietyScore     float64
	IsArchived       bool `gorm:"not null;default:false"`
	Version          int  `gorm:"not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Days             []DailyPlanRecord `gorm:"foreignKey:WeekPlanID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (WeeklyPlanRecord) TableName() string { return "weekly_plans" }

// DailyPlanRecord is one stored day. (week_plan_id, day_index) is unique.
type DailyPlanRecord struct {
	ID                  string    `gorm:"primaryKey;size:32"`
	WeekPlanID          string    `gorm:"size:32;not null;uniqueIndex:idx_daily_plans_week_day,priority:1"`
	DayIndex            int       `gorm:"not null;uniqueIndex:idx_daily_plans_week_day,priority:2"`
	Date                time.Time `gorm:"not null"`
	DayName             string    `gorm:"size:16"`
	Activity            string    `gorm:"size:16"`
	TargetKcal          float64
	TargetProteinG      float64
	TargetCarbsG        float64
	TargetFatG          float64
	TotalKcal           float64
	TotalProteinG       float64
	TotalCarbsG         float64
	TotalFatG           float64
	NutritionProvenance string `gorm:"size:64"`
	PlanVersion         string `gorm:"size:16"`
	Sources             datatypes.JSON
	Meals               []PlanMealRecord `gorm:"foreignKey:DayPlanID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (DailyPlanRecord) TableName() string { return "daily_plans" }

// PlanMealRecord is one stored meal slot. (day_plan_id, meal_type) is unique.
type PlanMealRecord struct {
	ID                string `gorm:"primaryKey;size:32"`
	DayPlanID         string `gorm:"size:32;not null;uniqueIndex:idx_plan_meals_day_type,priority:1"`
	MealType          string `gorm:"size:32;not null;uniqueIndex:idx_plan_meals_day_type,priority:2"`
	Sequence          int
	TargetKcal        float64
	RecipeID          string `gorm:"size:128;index"`
	RecipeTitle       string
	Ingredients       datatypes.JSON
	Instructions      string `gorm:"type:text"`
	PrepTimeMin       int
	CookTimeMin       int
	Servings          float64
	KcalPerServing    float64
	ProteinPerServing float64
	CarbsPerServing   float64
	FatPerServing     float64
	Kcal              float64
	ProteinG          float64
	CarbsG            float64
	FatG              float64
	Score             float64
	Explanation       string `gorm:"type:text"`
	RelaxedTags       bool
	RepeatOverflow    bool
}

func (PlanMealRecord) TableName() string { return "plan_meals" }

// Models lists the tables PlanRepository needs migrated.
func Models() []interface{} {
	return []interface{}{&WeeklyPlanRecord{}, &DailyPlanRecord{}, &PlanMealRecord{}}
}

// PlanRepository is a database-backed PlanStore.
type PlanRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ PlanStore = (*PlanRepository)(nil)

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *gorm.DB, log *logger.Logger) *PlanRepository {
	return &PlanRepository{db: db, log: log.With("component", "PlanRepository")}
}

// Create inserts the plan with all its days and meals in one transaction.
func (r *PlanRepository) Create(ctx context.Context, plan *WeeklyPlan) error {
	if plan.Version == 0 {
		plan.Version = 1
	}
	rec, err := toRecord(plan)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&WeeklyPlanRecord{}).Where("id = ?", plan.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &DuplicateIDError{PlanID: plan.ID}
		}
		return tx.Create(rec).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &DuplicateIDError{PlanID: plan.ID}
	}
	if err != nil {
		return r.wrap("planner.Create", err)
	}
	plan.CreatedAt, plan.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	r.log.Debug("weekly plan stored", "plan_id", plan.ID, "user_id", plan.UserID)
	return nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id string) (*WeeklyPlan, error) {
	var plan *WeeklyPlan
	err := r.read(ctx, func(tx *gorm.DB) error {
		var rec WeeklyPlanRecord
		if err := preloadDays(tx).First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &PlanNotFoundError{PlanID: id}
			}
			return err
		}
		var err error
		plan, err = fromRecord(&rec)
		return err
	})
	if err != nil {
		return nil, r.wrap("planner.GetByID", err)
	}
	return plan, nil
}

func (r *PlanRepository) GetByDate(ctx context.Context, userID string, date time.Time) (*WeeklyPlan, error) {
	d := DateOf(date)
	var plan *WeeklyPlan
	err := r.read(ctx, func(tx *gorm.DB) error {
		var recs []WeeklyPlanRecord
		err := preloadDays(tx).
			Where("user_id = ? AND is_archived = ? AND start_date <= ? AND end_date >= ?", userID, false, d, d).
			Order("created_at DESC").Order("id DESC").
			Limit(1).Find(&recs).Error
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return &PlanNotFoundError{UserID: userID, Date: d.Format(time.DateOnly)}
		}
		plan, err = fromRecord(&recs[0])
		return err
	})
	if err != nil {
		return nil, r.wrap("planner.GetByDate", err)
	}
	return plan, nil
}

// ReplaceDay deletes the stored day and its meals, writes the new one and
// bumps the plan version, all in one transaction.
func (r *PlanRepository) ReplaceDay(ctx context.Context, id string, dayIndex int, day DailyPlan, varietyScore float64, expectedVersion int) error {
	day.DayIndex = dayIndex
	dayRec, err := toDayRecord(id, &day)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head WeeklyPlanRecord
		q := tx.Select("id", "version")
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&head, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &PlanNotFoundError{PlanID: id}
			}
			return err
		}
		if head.Version != expectedVersion {
			return &VersionConflictError{PlanID: id, Expected: expectedVersion, Actual: head.Version}
		}

		var old DailyPlanRecord
		if err := tx.Where("week_plan_id = ? AND day_index = ?", id, dayIndex).First(&old).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &DayIndexOutOfRangeError{DayIndex: dayIndex}
			}
			return err
		}
		if err := tx.Where("day_plan_id = ?", old.ID).Delete(&PlanMealRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&old).Error; err != nil {
			return err
		}
		if err := tx.Create(dayRec).Error; err != nil {
			return err
		}

		res := tx.Model(&WeeklyPlanRecord{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(map[string]interface{}{
				"variety_score": varietyScore,
				"version":       gorm.Expr("version + 1"),
				"updated_at":    time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &VersionConflictError{PlanID: id, Expected: expectedVersion, Actual: -1}
		}
		return nil
	})
	if err != nil {
		return r.wrap("planner.ReplaceDay", err)
	}
	r.log.Debug("day replaced", "plan_id", id, "day_index", dayIndex, "version", expectedVersion+1)
	return nil
}

func (r *PlanRepository) Archive(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&WeeklyPlanRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_archived": true,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return r.wrap("planner.Archive", res.Error)
	}
	if res.RowsAffected == 0 {
		return &PlanNotFoundError{PlanID: id}
	}
	return nil
}

// Delete removes meals, days and the plan header in one transaction.
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		days := tx.Model(&DailyPlanRecord{}).Select("id").Where("week_plan_id = ?", id)
		if err := tx.Where("day_plan_id IN (?)", days).Delete(&PlanMealRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("week_plan_id = ?", id).Delete(&DailyPlanRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&WeeklyPlanRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &PlanNotFoundError{PlanID: id}
		}
		return nil
	})
	if err != nil {
		return r.wrap("planner.Delete", err)
	}
	return nil
}

func (r *PlanRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]WeeklyPlan, error) {
	var plans []WeeklyPlan
	err := r.read(ctx, func(tx *gorm.DB) error {
		q := preloadDays(tx).Where("user_id = ?", userID)
		if !opts.IncludeArchived {
			q = q.Where("is_archived = ?", false)
		}
		q = q.Order("start_date DESC").Order("created_at DESC").Order("id DESC")
		if opts.Limit > 0 {
			q = q.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			q = q.Offset(opts.Offset)
		}
		var recs []WeeklyPlanRecord
		if err := q.Find(&recs).Error; err != nil {
			return err
		}
		plans = make([]WeeklyPlan, 0, len(recs))
		for i := range recs {
			p, err := fromRecord(&recs[i])
			if err != nil {
				return err
			}
			plans = append(plans, *p)
		}
		return nil
	})
	if err != nil {
		return nil, r.wrap("planner.ListByUser", err)
	}
	return plans, nil
}

// Count returns the number of stored plans, archived included.
func (r *PlanRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&WeeklyPlanRecord{}).Count(&n).Error; err != nil {
		return 0, r.wrap("planner.Count", err)
	}
	return n, nil
}

// read runs fn in a read-only transaction so preloaded days and meals come
// from one snapshot.
func (r *PlanRepository) read(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts *sql.TxOptions
	if r.db.Dialector.Name() == "postgres" {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return r.db.WithContext(ctx).Transaction(fn, opts)
}

// wrap passes domain errors through and classifies the rest as an
// unavailable store.
func (r *PlanRepository) wrap(op string, err error) error {
	var (
		nf  *PlanNotFoundError
		dup *DuplicateIDError
		vc  *VersionConflictError
		oor *DayIndexOutOfRangeError
	)
	switch {
	case errors.As(err, &nf), errors.As(err, &dup), errors.As(err, &vc), errors.As(err, &oor):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	r.log.Error("plan store failure", "op", op, "error", err)
	return apperr.Unavailable(op, err)
}

func preloadDays(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Days", func(db *gorm.DB) *gorm.DB { return db.Order("day_index ASC") }).
		Preload("Days.Meals", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") })
}

func toRecord(p *WeeklyPlan) (*WeeklyPlanRecord, error) {
	pattern, err := json.Marshal(p.ActivityPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity pattern: %w", err)
	}
	constraints, err := json.Marshal(p.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal constraints: %w", err)
	}
	rec := &WeeklyPlanRecord{
		ID:               p.ID,
		UserID:           p.UserID,
		StartDate:        p.StartDate,
		EndDate:          p.EndDate,
		ActivityPattern:  pattern,
		Constraints:      constraints,
		MaxRecipeRepeats: p.MaxRecipeRepeats,
		VarietyScore:     p.VarietyScore,
		IsArchived:       p.Archived,
		Version:          p.Version,
	}
	for i := range p.Days {
		d, err := toDayRecord(p.ID, &p.Days[i])
		if err != nil {
			return nil, err
		}
		rec.Days = append(rec.Days, *d)
	}
	return rec, nil
}

func toDayRecord(planID string, d *DailyPlan) (*DailyPlanRecord, error) {
	sources, err := json.Marshal(d.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}
	rec := &DailyPlanRecord{
		ID:                  d.ID,
		WeekPlanID:          planID,
		DayIndex:            d.DayIndex,
		Date:                d.Date,
		DayName:             d.DayName,
		Activity:            string(d.Activity),
		TargetKcal:          d.Target.Kcal,
		TargetProteinG:      d.Target.ProteinG,
		TargetCarbsG:        d.Target.CarbsG,
		TargetFatG:          d.Target.FatG,
		TotalKcal:           d.Totals.Kcal,
		TotalProteinG:       d.Totals.ProteinG,
		TotalCarbsG:         d.Totals.CarbsG,
		TotalFatG:           d.Totals.FatG,
		NutritionProvenance: d.NutritionProvenance,
		PlanVersion:         d.PlanVersion,
		Sources:             sources,
	}
	for _, m := range d.Meals {
		ingredients, err := json.Marshal(m.Ingredients)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ingredients: %w", err)
		}
		rec.Meals = append(rec.Meals, PlanMealRecord{
			ID:                m.ID,
			DayPlanID:         d.ID,
			MealType:          m.MealType,
			Sequence:          m.Sequence,
			TargetKcal:        m.TargetKcal,
			RecipeID:          m.RecipeID,
			RecipeTitle:       m.RecipeTitle,
			Ingredients:       ingredients,
			Instructions:      m.Instructions,
			PrepTimeMin:       m.PrepTimeMin,
			CookTimeMin:       m.CookTimeMin,
			Servings:          m.Servings,
			KcalPerServing:    m.PerServing.Kcal,
			ProteinPerServing: m.PerServing.ProteinG,
			CarbsPerServing:   m.PerServing.CarbsG,
			FatPerServing:     m.PerServing.FatG,
			Kcal:              m.Nutrition.Kcal,
			ProteinG:          m.Nutrition.ProteinG,
			CarbsG:            m.Nutrition.CarbsG,
			FatG:              m.Nutrition.FatG,
			Score:             m.Score,
			Explanation:       m.Explanation,
			RelaxedTags:       m.RelaxedTags,
			RepeatOverflow:    m.RepeatOverflow,
		})
	}
	return rec, nil
}

func fromRecord(rec *WeeklyPlanRecord) (*WeeklyPlan, error) {
	p := &WeeklyPlan{
		ID:               rec.ID,
		UserID:           rec.UserID,
		StartDate:        rec.StartDate.UTC(),
		EndDate:          rec.EndDate.UTC(),
		MaxRecipeRepeats: rec.MaxRecipeRepeats,
		VarietyScore:     rec.VarietyScore,
		Archived:         rec.IsArchived,
		Version:          rec.Version,
		CreatedAt:        rec.CreatedAt.UTC(),
		UpdatedAt:        rec.UpdatedAt.UTC(),
		Days:             make([]DailyPlan, 0, len(rec.Days)),
	}
	if err := decodeJSON(rec.ActivityPattern, &p.ActivityPattern); err != nil {
		return nil, fmt.Errorf("plan %s: failed to decode activity pattern: %w", rec.ID, err)
	}
	if err := decodeJSON(rec.Constraints, &p.Constraints); err != nil {
		return nil, fmt.Errorf("plan %s: failed to decode constraints: %w", rec.ID, err)
	}
	for _, d := range rec.Days {
		day := DailyPlan{
			ID:                  d.ID,
			DayIndex:            d.DayIndex,
			Date:                d.Date.UTC(),
			DayName:             d.DayName,
			Activity:            nutrition.DayActivity(d.Activity),
			Target:              nutrition.Macros{Kcal: d.TargetKcal, ProteinG: d.TargetProteinG, CarbsG: d.TargetCarbsG, FatG: d.TargetFatG},
			Totals:              nutrition.Macros{Kcal: d.TotalKcal, ProteinG: d.TotalProteinG, CarbsG: d.TotalCarbsG, FatG: d.TotalFatG},
			NutritionProvenance: d.NutritionProvenance,
			PlanVersion:         d.PlanVersion,
			Meals:               make([]PlanMeal, 0, len(d.Meals)),
		}
		if err := decodeJSON(d.Sources, &day.Sources); err != nil {
			return nil, fmt.Errorf("day %s: failed to decode sources: %w", d.ID, err)
		}
		for _, m := range d.Meals {
			meal := PlanMeal{
				ID:             m.ID,
				MealType:       m.MealType,
				Sequence:       m.Sequence,
				TargetKcal:     m.TargetKcal,
				RecipeID:       m.RecipeID,
				RecipeTitle:    m.RecipeTitle,
				Instructions:   m.Instructions,
				PrepTimeMin:    m.PrepTimeMin,
				CookTimeMin:    m.CookTimeMin,
				Servings:       m.Servings,
				PerServing:     nutrition.Macros{Kcal: m.KcalPerServing, ProteinG: m.ProteinPerServing, CarbsG: m.CarbsPerServing, FatG: m.FatPerServing},
				Nutrition:      nutrition.Macros{Kcal: m.Kcal, ProteinG: m.ProteinG, CarbsG: m.CarbsG, FatG: m.FatG},
				Score:          m.Score,
				Explanation:    m.Explanation,
				RelaxedTags:    m.RelaxedTags,
				RepeatOverflow: m.RepeatOverflow,
			}
			if err := decodeJSON(m.Ingredients, &meal.Ingredients); err != nil {
				return nil, fmt.Errorf("meal %s: failed to decode ingredients: %w", m.ID, err)
			}
			day.Meals = append(day.Meals, meal)
		}
		p.Days = append(p.Days, day)
	}
	return p, nil
}

func decodeJSON(raw datatypes.JSON, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
