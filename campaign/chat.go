package campaign

import (
	"context"
	"errors"
	"strings"

	"github.com/dshills/questforge/graph/degrade"
	"github.com/dshills/questforge/graph/model"
)

// ChatFallback is the reply used when the model cannot answer.
const ChatFallback = "I'm sorry, I couldn't formulate a response."

// Suggestion is a one-click edit offered while a thread is paused.
type Suggestion struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// DefaultSuggestions are offered when the model cannot suggest any.
var DefaultSuggestions = []Suggestion{
	{Label: "💥 Make it harder", Payload: "Make the enemies stronger and the dungeon deadlier."},
	{Label: "🎭 More roleplay", Payload: "Focus more on diplomacy and NPC interaction."},
	{Label: "🐉 Add dragons", Payload: "Change the villain to an ancient dragon."},
}

// Chat answers a player message about the thread's campaign and persists
// both messages. The update keeps the thread's routing position and paused
// flag, and appends to whatever chat is stored when it is written. It
// returns the reply and the full chat history.
func (s *Service) Chat(ctx context.Context, threadID, message string) (string, []model.Message, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", nil, errors.New("message cannot be empty")
	}
	state, err := s.LatestState(ctx, threadID)
	if err != nil {
		return "", nil, err
	}

	msgs := append([]model.Message{model.System(chatSystem + "\n\n" + campaignSummary(state))}, state.Chat...)
	msgs = append(msgs, model.User(message))

	p := s.deps.policy()
	p.MaxAttempts = 1
	reply, err := degrade.Retry(s.callContext(ctx, threadID), p, func(ctx context.Context) (string, error) {
		out, err := s.deps.text().Chat(ctx, msgs, nil)
		if err != nil {
			return "", err
		}
		recordUsage(ctx, out.Usage)
		return strings.TrimSpace(out.Text), nil
	}, func(text string) error {
		if text == "" {
			return &degrade.ValueError{Field: "reply", Reason: "empty"}
		}
		return nil
	}, func() string { return ChatFallback })
	if err != nil {
		return "", nil, err
	}

	cp, err := s.engine.UpdateState(ctx, threadID, "", Update{
		ChatAppend: []model.Message{model.User(message), model.Assistant(reply)},
	})
	if err != nil {
		return "", nil, err
	}
	return reply, cp.State.Chat, nil
}

// Suggestions proposes three edits for a paused thread based on its plan.
// Any failure yields DefaultSuggestions.
func (s *Service) Suggestions(ctx context.Context, threadID string) []Suggestion {
	state, err := s.LatestState(ctx, threadID)
	if err != nil {
		return DefaultSuggestions
	}

	villain, conflict := "the villain", "the conflict"
	if state.Plan != nil {
		villain = firstNonEmpty(state.Plan.PrimaryAntagonist, villain)
		conflict = firstNonEmpty(state.Plan.CoreConflict, conflict)
	}
	prompt := "Based on the plan:\nVillain: " + villain + "\nConflict: " + conflict +
		"\nSuggest 3 different directions the user might want to take this campaign by altering the plot, villain, or characters."

	p := s.deps.policy()
	p.MaxAttempts = 1
	suggestions, err := degrade.Retry(s.callContext(ctx, threadID), p, func(ctx context.Context) ([]Suggestion, error) {
		out, err := s.deps.text().Chat(ctx, []model.Message{model.System(suggestionSystem), model.User(prompt)}, nil)
		if err != nil {
			return nil, err
		}
		recordUsage(ctx, out.Usage)
		got, err := decodeSuggestions(out.Text)
		if err != nil {
			return nil, &degrade.ValueError{Field: "suggestions", Reason: err.Error()}
		}
		return got, nil
	}, validSuggestions, func() []Suggestion { return DefaultSuggestions })
	if err != nil {
		return DefaultSuggestions
	}
	return suggestions
}

// decodeSuggestions accepts a bare array or an object wrapping it under
// "suggestions", the shape JSON-object response modes force.
func decodeSuggestions(text string) ([]Suggestion, error) {
	var wrapped struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := model.DecodeJSON(text, &wrapped); err == nil && len(wrapped.Suggestions) > 0 {
		return wrapped.Suggestions, nil
	}
	var got []Suggestion
	if err := model.DecodeJSON(text, &got); err != nil {
		return nil, err
	}
	return got, nil
}

func validSuggestions(got []Suggestion) error {
	if len(got) != 3 {
		return &degrade.ValueError{Field: "suggestions", Reason: "want exactly three"}
	}
	for _, sg := range got {
		if strings.TrimSpace(sg.Label) == "" || strings.TrimSpace(sg.Payload) == "" {
			return &degrade.ValueError{Field: "suggestions", Reason: "label and payload are required"}
		}
	}
	return nil
}
