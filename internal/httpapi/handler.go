// Package httpapi exposes the planning engine over HTTP with gin.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/planner"
	"weekly-meal-planner/internal/recipe"

	"github.com/gin-gonic/gin"
)

// Engine is the subset of *planner.Planner the handlers call.
type Engine interface {
	Generate(ctx context.Context, req planner.GenerateRequest, opts planner.GenerateOptions) (*planner.WeeklyPlan, error)
	Get(ctx context.Context, planID string) (*planner.WeeklyPlan, error)
	GetByDate(ctx context.Context, userID string, date time.Time) (*planner.WeeklyPlan, error)
	Today(ctx context.Context, userID string) (*planner.WeeklyPlan, error)
	Tomorrow(ctx context.Context, userID string) (*planner.WeeklyPlan, error)
	GetDailyPlan(ctx context.Context, userID string, date time.Time) (*planner.DailyPlan, error)
	List(ctx context.Context, userID string, opts planner.ListOptions) ([]planner.WeeklyPlan, error)
	RegenerateDay(ctx context.Context, planID string, dayIndex int, extra planner.ExtraConstraints) (*planner.WeeklyPlan, error)
	RegenerateMeal(ctx context.Context, planID string, dayIndex int, mealType string, extra planner.ExtraConstraints) (*planner.WeeklyPlan, error)
	ReplaceMeal(ctx context.Context, planID string, dayIndex int, mealType, recipeID string) (*planner.WeeklyPlan, error)
	Archive(ctx context.Context, planID string) error
	Delete(ctx context.Context, planID string) error
	Stats(ctx context.Context, planID string) (*planner.WeeklyStats, error)
	Recipe(ctx context.Context, recipeID string) (*recipe.Document, error)
}

var _ Engine = (*planner.Planner)(nil)

type PlanHandler struct {
	log    *logger.Logger
	engine Engine
}

func NewPlanHandler(log *logger.Logger, engine Engine) *PlanHandler {
	return &PlanHandler{log: log.With("handler", "PlanHandler"), engine: engine}
}

type generateBody struct {
	Profile          nutrition.Profile         `json:"profile"`
	StartDate        string                    `json:"start_date"`
	ActivityPattern  nutrition.ActivityPattern `json:"activity_pattern"`
	MaxRecipeRepeats int                       `json:"max_recipe_repeats"`
	RequiredTags     []string                  `json:"required_tags"`
	// Persist defaults to true.
	Persist *bool `json:"persist"`
}

type replaceMealBody struct {
	RecipeID string `json:"recipe_id"`
}

// POST /api/plans
func (h *PlanHandler) Generate(c *gin.Context) {
	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req := planner.GenerateRequest{
		Profile:          body.Profile,
		ActivityPattern:  body.ActivityPattern,
		MaxRecipeRepeats: body.MaxRecipeRepeats,
		RequiredTags:     body.RequiredTags,
	}
	if body.StartDate != "" {
		start, err := parseDate(body.StartDate)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "validation", err)
			return
		}
		req.StartDate = start
	}
	persist := body.Persist == nil || *body.Persist

	plan, err := h.engine.Generate(c.Request.Context(), req, planner.GenerateOptions{Persist: persist})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// GET /api/plans/:id
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, plan)
}

// GET /api/recipes/:id
func (h *PlanHandler) Recipe(c *gin.Context) {
	doc, err := h.engine.Recipe(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, doc)
}

// GET /api/plans/:id/stats
func (h *PlanHandler) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, stats)
}

// POST /api/plans/:id/archive
func (h *PlanHandler) Archive(c *gin.Context) {
	if err := h.engine.Archive(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DELETE /api/plans/:id
func (h *PlanHandler) Delete(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/plans/:id/days/:day/regenerate
func (h *PlanHandler) RegenerateDay(c *gin.Context) {
	day, ok := h.dayIndex(c)
	if !ok {
		return
	}
	var extra planner.ExtraConstraints
	if !bindOptional(c, &extra) {
		return
	}
	plan, err := h.engine.RegenerateDay(c.Request.Context(), c.Param("id"), day, extra)
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, plan)
}

// POST /api/plans/:id/days/:day/meals/:meal/regenerate
func (h *PlanHandler) RegenerateMeal(c *gin.Context) {
	day, ok := h.dayIndex(c)
	if !ok {
		return
	}
	var extra planner.ExtraConstraints
	if !bindOptional(c, &extra) {
		return
	}
	plan, err := h.engine.RegenerateMeal(c.Request.Context(), c.Param("id"), day, c.Param("meal"), extra)
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, plan)
}

// PUT /api/plans/:id/days/:day/meals/:meal
func (h *PlanHandler) ReplaceMeal(c *gin.Context) {
	day, ok := h.dayIndex(c)
	if !ok {
		return
	}
	var body replaceMealBody
	if err := c.ShouldBindJSON(&body); err != nil || body.RecipeID == "" {
		RespondError(c, http.StatusBadRequest, "invalid_body", fmt.Errorf("recipe_id is required"))
		return
	}
	plan, err := h.engine.ReplaceMeal(c.Request.Context(), c.Param("id"), day, c.Param("meal"), body.RecipeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, plan)
}

// GET /api/users/:user/plans?limit=&offset=&include_archived=
func (h *PlanHandler) List(c *gin.Context) {
	opts := planner.ListOptions{IncludeArchived: c.Query("include_archived") == "true"}
	var err error
	if opts.Limit, err = queryInt(c, "limit"); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if opts.Offset, err = queryInt(c, "offset"); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	plans, err := h.engine.List(c.Request.Context(), c.Param("user"), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, gin.H{"plans": plans})
}

// GET /api/users/:user/plans/today
func (h *PlanHandler) Today(c *gin.Context) {
	plan, err := h.engine.Today(c.Request.Context(), c.Param("user"))
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, plan)
}

// GET /api/users/:user/plans/tomorrow
func (h *PlanHandler) Tomorrow(c *gin.Context) {
	plan, err := h.engine.Tomorrow(c.Request.Context(), c.Param("user"))
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, plan)
}

// GET /api/users/:user/plans/by-date?date=YYYY-MM-DD
func (h *PlanHandler) ByDate(c *gin.Context) {
	date, err := parseDate(c.Query("date"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	plan, err := h.engine.GetByDate(c.Request.Context(), c.Param("user"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, plan)
}

// GET /api/users/:user/days/:date
func (h *PlanHandler) Day(c *gin.Context) {
	date, err := parseDate(c.Param("date"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	day, err := h.engine.GetDailyPlan(c.Request.Context(), c.Param("user"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	RespondOK(c, day)
}

func (h *PlanHandler) fail(c *gin.Context, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	RespondError(c, status, code, err)
}

func (h *PlanHandler) dayIndex(c *gin.Context) (int, bool) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("day must be an integer, got %q", c.Param("day")))
		return 0, false
	}
	return day, true
}

// bindOptional decodes a JSON body when one is present.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return false
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}
