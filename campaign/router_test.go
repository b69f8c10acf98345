package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/model"
)

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (Change, error) {
	return NarrativeChange, errors.New("classifier offline")
}

// TestRouter walks the transition table.
func TestRouter(t *testing.T) {
	plan := &Plan{PrimaryAntagonist: "Lich"}
	narr := &Narrative{Title: "Done"}
	pending := []Entry{{Role: model.RoleAssistant, ToolCall: &model.ToolCall{Name: "search_references"}}}

	tests := []struct {
		name  string
		state State
		last  string
		want  graph.Next
	}{
		{name: "fresh thread plans", last: graph.StartNode, want: graph.Goto(NodePlanner)},
		{name: "tool call goes to lookup", state: State{Messages: pending}, last: NodePlanner, want: graph.Goto(NodeLookup)},
		{name: "lookup returns to planner", state: State{Messages: append(pending, Entry{Tool: "search_references"})}, last: NodeLookup, want: graph.Goto(NodePlanner)},
		{name: "cleared plan replans", state: State{Narrative: narr}, last: NodeParty, want: graph.Goto(NodePlanner)},
		{name: "plan then party", state: State{Plan: plan}, last: NodePlanner, want: graph.Goto(NodeParty)},
		{name: "first pass paints", state: State{Plan: plan}, last: NodeParty, want: graph.Goto(NodePortraits)},
		{name: "first pass writes", state: State{Plan: plan}, last: NodePortraits, want: graph.Goto(NodeNarrative)},
		{name: "narrative ends", state: State{Plan: plan, Narrative: narr}, last: NodeNarrative, want: graph.Stop()},
		{
			name:  "roster edit stops after party",
			state: State{Inputs: Inputs{Requirements: "make Ava level 5"}, Plan: plan, Narrative: narr},
			last:  NodeParty,
			want:  graph.Stop(),
		},
		{
			name:  "story edit repaints",
			state: State{Inputs: Inputs{Requirements: "swap the villain"}, Plan: plan, Narrative: narr},
			last:  NodeParty,
			want:  graph.Goto(NodePortraits),
		},
	}

	router := NewRouter(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := router.Route(context.Background(), tt.state, tt.last)
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if got != tt.want {
				t.Fatalf("next = %+v, want %+v", got, tt.want)
			}
		})
	}

	t.Run("classifier failure is no change", func(t *testing.T) {
		r := NewRouter(failingClassifier{}, nil)
		got, err := r.Route(context.Background(), State{Plan: plan, Narrative: narr}, NodeParty)
		if err != nil || !got.Terminal {
			t.Fatalf("next = %+v err = %v", got, err)
		}
	})
}

func TestModelClassifier(t *testing.T) {
	tests := []struct {
		reply string
		want  Change
	}{
		{"YES", NarrativeChange},
		{" yes, the villain changes", NarrativeChange},
		{"NO", NoChange},
		{"maybe", NoChange},
	}
	for _, tt := range tests {
		m := &model.MockChatModel{Responses: []model.ChatOut{{Text: tt.reply}}}
		got, err := ModelClassifier{Model: m}.Classify(context.Background(), "edit")
		if err != nil || got != tt.want {
			t.Errorf("Classify(%q) = %v, %v; want %v", tt.reply, got, err, tt.want)
		}
	}
}
