package campaign

import (
	"encoding/json"
	"fmt"
	"strings"
)

const plannerSystem = `You are a dungeon master planning a Dungeons and Dragons campaign.
You may call the search tool to consult references before answering.
When ready, reply with only a JSON object with the keys:
title_hint, primary_antagonist, core_conflict, key_locations (array), hooks (array).`

const partySystem = `You create adventuring parties for Dungeons and Dragons campaigns.
Each character must be original, though it may be inspired by the references.
Reply with only a JSON object: {"name": string, "characters": [{"name", "race", "class", "level", "backstory_hook"}]}.`

const narrativeSystem = `You are a dungeon master writing the campaign handout.
Make it creative and immersive. Reply with only a JSON object with the keys:
title, description, background, rewards.`

const chatSystem = `You are the dungeon master of the campaign described below.
Answer the player's questions about it, stay in character and be concise.`

const suggestionSystem = `You help a game master steer a campaign.
Reply with only a JSON array of exactly three objects {"label": string, "payload": string}.
Labels are short and start with an emoji; payloads are edit instructions.`

func toJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func requirementsText(s State) string {
	if s.Requirements == "" {
		return "None."
	}
	return s.Requirements
}

func plannerPrompt(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Difficulty: %s\nTerrain: %s\nParty size: %d\n", s.Difficulty, s.Terrain, s.PartySize)
	fmt.Fprintf(&b, "Requirements: %s\n", requirementsText(s))
	if s.Party != nil {
		fmt.Fprintf(&b, "Existing party:\n%s\n", toJSON(s.Party))
	}
	if s.Narrative != nil {
		fmt.Fprintf(&b, "Current campaign (revise it to satisfy the requirements):\n%s\n", toJSON(s.Narrative))
	}
	fmt.Fprintf(&b, "Reference search results:\n%s\n", s.References)
	return b.String()
}

func partyPrompt(s State, references string) string {
	var b strings.Builder
	name := s.PartyName
	if name == DefaultPartyName {
		name = "invent a fitting name"
	}
	fmt.Fprintf(&b, "Party name: %s\nCreate exactly %d characters.\n", name, s.PartySize)
	fmt.Fprintf(&b, "Difficulty: %s\nTerrain: %s\nRequirements: %s\n", s.Difficulty, s.Terrain, requirementsText(s))
	if s.Plan != nil {
		fmt.Fprintf(&b, "Campaign plan:\n%s\n", toJSON(s.Plan))
	}
	if s.Party != nil && len(s.Party.Characters) > 0 {
		fmt.Fprintf(&b, "Current roster:\n%s\n", toJSON(s.Party.Characters))
	}
	fmt.Fprintf(&b, "References:\n%s\n", references)
	return b.String()
}

func portraitPrompt(s State, c Character) string {
	return fmt.Sprintf(
		"Fantasy character portrait, painterly style. %s, a level %d %s %s from the %s. %s",
		c.Name, c.Level, c.Race, c.Class, s.Terrain, c.BackstoryHook,
	)
}

func narrativePrompt(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Difficulty: %s\nTerrain: %s\nRequirements: %s\n", s.Difficulty, s.Terrain, requirementsText(s))
	if s.Plan != nil {
		fmt.Fprintf(&b, "Plan:\n%s\n", toJSON(s.Plan))
	}
	if s.Party != nil {
		fmt.Fprintf(&b, "Party:\n%s\n", toJSON(s.Party))
	}
	return b.String()
}

func campaignSummary(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Difficulty: %s\nTerrain: %s\n", s.Difficulty, s.Terrain)
	if s.Narrative != nil {
		fmt.Fprintf(&b, "Campaign:\n%s\n", toJSON(s.Narrative))
	}
	if s.Plan != nil {
		fmt.Fprintf(&b, "Plan:\n%s\n", toJSON(s.Plan))
	}
	if s.Party != nil {
		fmt.Fprintf(&b, "Party:\n%s\n", toJSON(s.Party))
	}
	return b.String()
}
