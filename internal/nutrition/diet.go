package nutrition

// dietTags lists the recipe dietary tags acceptable for each preference.
// A recipe satisfies the preference when it carries at least one of them.
// Omnivore imposes no requirement.
var dietTags = map[DietPreference][]string{
	Omnivore:    nil,
	Vegan:       {"vegan"},
	Vegetarian:  {"vegetarian", "vegan"},
	OvoLacto:    {"vegetarian", "vegan", "ovo-lacto"},
	Pescatarian: {"pescatarian", "vegetarian", "vegan"},
}

// AcceptedTags returns the dietary tags that satisfy d. The empty preference
// behaves like Omnivore.
func (d DietPreference) AcceptedTags() []string {
	tags := dietTags[d]
	if len(tags) == 0 {
		return nil
	}
	return append([]string(nil), tags...)
}

// Valid reports whether d is a known preference.
func (d DietPreference) Valid() bool {
	if d == "" {
		return true
	}
	_, ok := dietTags[d]
	return ok
}
