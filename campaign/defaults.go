package campaign

import "fmt"

// Degraded-mode fallbacks.
const (
	// NoReferences replaces reference text when lookups fail.
	NoReferences = "No external references available."

	// DefaultPortraitURL is used when image synthesis keeps failing.
	DefaultPortraitURL = "https://placehold.co/512x512?text=Portrait+Unavailable"

	// FallbackPartyName is used when neither the caller nor the model named
	// the party.
	FallbackPartyName = "The Nameless Company"
)

// DefaultPlan is the minimal plan used when planning output is unusable.
func DefaultPlan(s State) Plan {
	return Plan{
		TitleHint:         fmt.Sprintf("Shadows over the %s", s.Terrain),
		PrimaryAntagonist: "a nameless warlord",
		CoreConflict:      fmt.Sprintf("A %s threat stirs in the %s and the party must stop it.", s.Difficulty, s.Terrain),
		KeyLocations:      []string{fmt.Sprintf("a ruined outpost in the %s", s.Terrain)},
		Hooks:             []string{"A desperate messenger begs the party for help."},
	}
}

// DefaultNarrative is the minimal narrative used when generation fails.
func DefaultNarrative(s State) Narrative {
	n := Narrative{
		Title:       "An Untold Adventure",
		Description: fmt.Sprintf("A %s adventure in the %s.", s.Difficulty, s.Terrain),
		Background:  "The chronicles of this quest are yet to be written.",
		Rewards:     "Gold, glory and the gratitude of the realm.",
	}
	if s.Plan != nil {
		if s.Plan.TitleHint != "" {
			n.Title = s.Plan.TitleHint
		}
		if s.Plan.CoreConflict != "" {
			n.Background = s.Plan.CoreConflict
		}
	}
	return n
}
