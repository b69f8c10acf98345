// Package campaign is the campaign generator built on the graph engine: its
// state model, partial updates, roster merge, routing, steps, and the thread
// lifecycle operations callers use to drive it.
package campaign

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/questforge/graph/model"
)

// Difficulty is the target encounter difficulty.
type Difficulty string

// Difficulties.
const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
	Deadly Difficulty = "deadly"
)

// Difficulties lists the accepted difficulties in increasing order.
var Difficulties = []Difficulty{Easy, Medium, Hard, Deadly}

// ParseDifficulty matches s case-insensitively. An empty string is Medium.
func ParseDifficulty(s string) (Difficulty, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Medium, nil
	}
	for _, d := range Difficulties {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: unknown difficulty %q", ErrInvalidInputs, s)
}

// Terrain is the campaign's dominant setting.
type Terrain string

// Terrains.
const (
	Arctic    Terrain = "Arctic"
	Coast     Terrain = "Coast"
	Desert    Terrain = "Desert"
	Forest    Terrain = "Forest"
	Grassland Terrain = "Grassland"
	Mountain  Terrain = "Mountain"
	Swamp     Terrain = "Swamp"
	Underdark Terrain = "Underdark"
)

// Terrains lists the accepted terrains.
var Terrains = []Terrain{Arctic, Coast, Desert, Forest, Grassland, Mountain, Swamp, Underdark}

// ParseTerrain matches s case-insensitively. An empty string is Forest.
func ParseTerrain(s string) (Terrain, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Forest, nil
	}
	for _, t := range Terrains {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown terrain %q", ErrInvalidInputs, s)
}

// ErrInvalidInputs is returned for thread inputs that fail validation.
var ErrInvalidInputs = errors.New("invalid inputs")

// Input defaults.
const (
	DefaultPartyName = "Not Provided"
	DefaultPartySize = 4
	MaxPartySize     = 12
)

// Inputs are set when a thread starts and never change afterwards, except
// Requirements, which a resume patch may revise.
type Inputs struct {
	Difficulty   Difficulty `json:"difficulty"`
	Terrain      Terrain    `json:"terrain"`
	Requirements string     `json:"requirements"`
	PartyName    string     `json:"party_name"`
	PartySize    int        `json:"party_size"`
	RosterLocked bool       `json:"roster_locked"`
}

// Normalize validates in and fills defaults.
func (in Inputs) Normalize() (Inputs, error) {
	var err error
	if in.Difficulty, err = ParseDifficulty(string(in.Difficulty)); err != nil {
		return Inputs{}, err
	}
	if in.Terrain, err = ParseTerrain(string(in.Terrain)); err != nil {
		return Inputs{}, err
	}
	in.Requirements = strings.TrimSpace(in.Requirements)
	in.PartyName = strings.TrimSpace(in.PartyName)
	if in.PartyName == "" {
		in.PartyName = DefaultPartyName
	}
	switch {
	case in.PartySize == 0:
		in.PartySize = DefaultPartySize
	case in.PartySize < 0 || in.PartySize > MaxPartySize:
		return Inputs{}, fmt.Errorf("%w: party size must be between 1 and %d, got %d", ErrInvalidInputs, MaxPartySize, in.PartySize)
	}
	return in, nil
}

// Plan is the planning step's output.
type Plan struct {
	TitleHint         string   `json:"title_hint"`
	PrimaryAntagonist string   `json:"primary_antagonist"`
	CoreConflict      string   `json:"core_conflict"`
	KeyLocations      []string `json:"key_locations"`
	Hooks             []string `json:"hooks"`
}

// Character is one member of the party roster.
type Character struct {
	Name          string            `json:"name"`
	Race          string            `json:"race"`
	Class         string            `json:"class"`
	Level         int               `json:"level"`
	BackstoryHook string            `json:"backstory_hook"`
	Traits        map[string]string `json:"traits,omitempty"`
}

// Key is the character's identity: its trimmed, lower-cased name.
func (c Character) Key() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

// Party is the roster step's output.
type Party struct {
	Name       string      `json:"name"`
	Size       int         `json:"size"`
	Characters []Character `json:"characters"`
}

// Narrative is the narrative step's output.
type Narrative struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Background  string `json:"background"`
	Rewards     string `json:"rewards"`
}

// Entry is one record of the scratch log. An entry with a ToolCall is a
// pending request from the model; an entry with Tool set is a tool result.
type Entry struct {
	Role     string          `json:"role"`
	Content  string          `json:"content,omitempty"`
	ToolCall *model.ToolCall `json:"tool_call,omitempty"`
	Tool     string          `json:"tool,omitempty"`
}

// State is the record threaded through every step of a campaign thread.
type State struct {
	Inputs

	Plan      *Plan             `json:"plan"`
	Party     *Party            `json:"party"`
	Portraits map[string]string `json:"portraits"`
	Narrative *Narrative        `json:"narrative"`

	Messages   []Entry `json:"messages,omitempty"`
	References string  `json:"references,omitempty"`

	Chat []model.Message `json:"chat,omitempty"`
}

// NewState returns the initial state for in.
func NewState(in Inputs) (State, error) {
	in, err := in.Normalize()
	if err != nil {
		return State{}, err
	}
	return State{Inputs: in}, nil
}

// NeedsTool reports whether the last scratch entry is a pending tool call.
func NeedsTool(s State) bool {
	if len(s.Messages) == 0 {
		return false
	}
	return s.Messages[len(s.Messages)-1].ToolCall != nil
}

// lookupCount returns the number of tool results in the scratch log.
func lookupCount(s State) int {
	n := 0
	for _, e := range s.Messages {
		if e.Tool != "" {
			n++
		}
	}
	return n
}
