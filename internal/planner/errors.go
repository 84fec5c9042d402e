package planner

import (
	"fmt"

	"weekly-meal-planner/internal/apperr"
)

// VarietyConstraintUnsatisfiableError is returned when a slot cannot be
// filled within the repeat limit even after every escalation step.
type VarietyConstraintUnsatisfiableError struct {
	DayIndex         int
	MealType         string
	MaxRecipeRepeats int
	// Cause is set when retrieval itself found nothing admissible.
	Cause error
}

func (e *VarietyConstraintUnsatisfiableError) Error() string {
	msg := fmt.Sprintf("cannot fill %s on day %d within %d repeats per recipe", e.MealType, e.DayIndex, e.MaxRecipeRepeats)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *VarietyConstraintUnsatisfiableError) Is(target error) bool {
	return target == apperr.ErrConstraintUnsatisfiable
}

func (e *VarietyConstraintUnsatisfiableError) Unwrap() error { return e.Cause }

// DayIndexOutOfRangeError is returned for a day index outside 0..6.
type DayIndexOutOfRangeError struct {
	DayIndex int
}

func (e *DayIndexOutOfRangeError) Error() string {
	return fmt.Sprintf("day index %d out of range 0..%d", e.DayIndex, DaysPerWeek-1)
}

func (e *DayIndexOutOfRangeError) Is(target error) bool {
	return target == apperr.ErrValidation
}

// PlanNotFoundError is returned when no plan matches an id or date.
type PlanNotFoundError struct {
	PlanID string
	UserID string
	Date   string
}

func (e *PlanNotFoundError) Error() string {
	if e.PlanID != "" {
		return fmt.Sprintf("weekly plan %s not found", e.PlanID)
	}
	return fmt.Sprintf("no weekly plan for user %s covering %s", e.UserID, e.Date)
}

func (e *PlanNotFoundError) Is(target error) bool {
	return target == apperr.ErrNotFound
}

// DuplicateIDError is returned when creating a plan whose id already exists.
type DuplicateIDError struct {
	PlanID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("weekly plan %s already exists", e.PlanID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == apperr.ErrConflict
}

// VersionConflictError is returned when a write was based on a stale
// version of the plan.
type VersionConflictError struct {
	PlanID   string
	Expected int
	Actual   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("weekly plan %s changed: expected version %d, found %d", e.PlanID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == apperr.ErrConflict
}

// MealNotFoundError is returned when a day has no slot for a meal type.
type MealNotFoundError struct {
	DayIndex int
	MealType string
}

func (e *MealNotFoundError) Error() string {
	return fmt.Sprintf("day %d has no %s slot", e.DayIndex, e.MealType)
}

func (e *MealNotFoundError) Is(target error) bool {
	return target == apperr.ErrValidation
}

// UnsafeRecipeError is returned when a manual replacement would break the
// plan's allergy or diet constraints.
type UnsafeRecipeError struct {
	RecipeID string
	Reason   string
}

func (e *UnsafeRecipeError) Error() string {
	return fmt.Sprintf("recipe %s cannot be used: %s", e.RecipeID, e.Reason)
}

func (e *UnsafeRecipeError) Is(target error) bool {
	return target == apperr.ErrValidation
}

// RepeatLimitError is returned when a manual replacement would exceed the
// plan's repeat limit.
type RepeatLimitError struct {
	RecipeID         string
	MaxRecipeRepeats int
}

func (e *RepeatLimitError) Error() string {
	return fmt.Sprintf("recipe %s would exceed %d uses in the week", e.RecipeID, e.MaxRecipeRepeats)
}

func (e *RepeatLimitError) Is(target error) bool {
	return target == apperr.ErrConstraintUnsatisfiable
}
