package app

import (
	"fmt"
	"os"
	"time"

	"weekly-meal-planner/internal/nutrition"
	"weekly-meal-planner/internal/planner"

	"gopkg.in/yaml.v3"
)

// RequestFile is the YAML form of a generate request.
//
//	profile:
//	  user_id: alice
//	  age: 34
//	  ...
//	start_date: 2026-10-19
//	activity_pattern:
//	  saturday: active
type RequestFile struct {
	Profile          nutrition.Profile         `yaml:"profile"`
	StartDate        string                    `yaml:"start_date"`
	ActivityPattern  nutrition.ActivityPattern `yaml:"activity_pattern"`
	MaxRecipeRepeats int                       `yaml:"max_recipe_repeats"`
	RequiredTags     []string                  `yaml:"required_tags"`
}

// LoadRequest reads a generate request from a YAML file.
func LoadRequest(path string) (planner.GenerateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return planner.GenerateRequest{}, fmt.Errorf("failed to read request %s: %w", path, err)
	}
	var f RequestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return planner.GenerateRequest{}, fmt.Errorf("failed to parse request %s: %w", path, err)
	}
	req := planner.GenerateRequest{
		Profile:          f.Profile,
		ActivityPattern:  f.ActivityPattern,
		MaxRecipeRepeats: f.MaxRecipeRepeats,
		RequiredTags:     f.RequiredTags,
	}
	if f.StartDate != "" {
		req.StartDate, err = time.Parse(time.DateOnly, f.StartDate)
		if err != nil {
			return planner.GenerateRequest{}, fmt.Errorf("start_date must be YYYY-MM-DD, got %q", f.StartDate)
		}
	}
	return req, nil
}
