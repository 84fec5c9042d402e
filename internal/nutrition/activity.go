package nutrition

import (
	"fmt"
	"strings"
	"time"
)

// DayActivity is the per-day activity vocabulary of an ActivityPattern.
type DayActivity string

const (
	DayRest       DayActivity = "rest"
	DayLight      DayActivity = "light"
	DayModerate   DayActivity = "moderate"
	DayActive     DayActivity = "active"
	DayVeryActive DayActivity = "very_active"
)

// DayNames are the pattern keys, Monday first.
var DayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

var dayActivityLevels = map[DayActivity]ActivityLevel{
	DayRest:       Sedentary,
	DayLight:      Light,
	DayModerate:   Moderate,
	DayActive:     Active,
	DayVeryActive: VeryActive,
}

// Level maps a day activity onto the calculator's activity level.
func (a DayActivity) Level() (ActivityLevel, error) {
	lvl, ok := dayActivityLevels[a]
	if !ok {
		return "", fmt.Errorf("unknown day activity %q", a)
	}
	return lvl, nil
}

// ActivityPattern maps a lowercase day name to that day's activity.
type ActivityPattern map[string]DayActivity

// DefaultPattern is moderate on weekdays, light on Saturday, rest on Sunday.
func DefaultPattern() ActivityPattern {
	return ActivityPattern{
		"monday":    DayModerate,
		"tuesday":   DayModerate,
		"wednesday": DayModerate,
		"thursday":  DayModerate,
		"friday":    DayModerate,
		"saturday":  DayLight,
		"sunday":    DayRest,
	}
}

// Normalize lowercases keys and fills any missing day from DefaultPattern.
// It returns an error for unknown day names or activities.
func (p ActivityPattern) Normalize() (ActivityPattern, error) {
	out := DefaultPattern()
	for day, act := range p {
		key := strings.ToLower(strings.TrimSpace(day))
		if _, ok := out[key]; !ok {
			return nil, fmt.Errorf("unknown day name %q", day)
		}
		if _, err := act.Level(); err != nil {
			return nil, err
		}
		out[key] = act
	}
	return out, nil
}

// On returns the activity for the weekday of t in a normalized pattern.
func (p ActivityPattern) On(t time.Time) DayActivity {
	return p[DayName(t)]
}

// DayName is the lowercase weekday name of t, matching the pattern keys.
func DayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}
