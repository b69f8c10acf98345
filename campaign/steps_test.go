package campaign

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/model"
	"github.com/dshills/questforge/graph/tool"
)

// TestPipelinePadsLockedRoster runs the full pipeline with a model that
// only returns two characters for a party of three.
func TestPipelinePadsLockedRoster(t *testing.T) {
	d := testDeps(scripted(planJSON, partyJSON, narrJSON))
	svc, _ := newTestService(t, d)
	ctx := context.Background()

	id := startPaused(t, svc, Inputs{Terrain: "Coast", PartySize: 3, RosterLocked: true})
	state, err := svc.LatestState(ctx, id)
	if err != nil {
		t.Fatalf("LatestState: %v", err)
	}
	if state.Plan == nil || state.Plan.PrimaryAntagonist != "Vesh the Drowned" || state.Party != nil {
		t.Fatalf("paused state = %+v", state)
	}

	events, err := svc.Resume(ctx, id, ResumeInstruction{Approve: true})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	all, last := drain(t, events)
	expectKind(t, last, graph.EventCompleted)

	var order []string
	for _, ev := range all {
		if ev.Kind == graph.EventStepCompleted {
			order = append(order, ev.NodeID)
		}
	}
	if strings.Join(order, ",") != "party,portraits,narrative" {
		t.Fatalf("steps = %v", order)
	}

	final := last.State
	if got := strings.Join(names(final.Party.Characters), ","); got != "Ava,Bo,TBD 3" {
		t.Fatalf("roster = %s", got)
	}
	if final.Party.Name != "The Tidebound" || final.Party.Size != 3 {
		t.Fatalf("party = %+v", final.Party)
	}
	if final.Portraits["ava"] != "https://img.test/p.png" || final.Portraits["tbd 3"] != DefaultPortraitURL {
		t.Fatalf("portraits = %v", final.Portraits)
	}
	if final.Narrative == nil || final.Narrative.Title != "Bells Beneath the Waves" {
		t.Fatalf("narrative = %+v", final.Narrative)
	}
	if got := len(d.Images.(*model.MockImageModel).Prompts()); got != 2 {
		t.Fatalf("image requests = %d, want 2", got)
	}
}

// TestPipelineDegrades verifies a failing model never halts the pipeline.
func TestPipelineDegrades(t *testing.T) {
	chat := &model.MockChatModel{Err: errors.New("model offline")}
	d := testDeps(chat)
	d.Images = &model.MockImageModel{Fn: func(string) (model.Image, error) { return model.Image{}, errors.New("quota") }}
	svc, _ := newTestService(t, d)

	id := startPaused(t, svc, Inputs{Terrain: "Swamp", PartySize: 2})
	events, err := svc.Resume(context.Background(), id, ResumeInstruction{Approve: true})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	_, last := drain(t, events)
	expectKind(t, last, graph.EventCompleted)

	s := last.State
	if s.Plan.PrimaryAntagonist != DefaultPlan(s).PrimaryAntagonist {
		t.Fatalf("plan = %+v", s.Plan)
	}
	if s.Party.Name != FallbackPartyName || strings.Join(names(s.Party.Characters), ",") != "TBD 1,TBD 2" {
		t.Fatalf("party = %+v", s.Party)
	}
	if s.Narrative.Title != DefaultNarrative(s).Title {
		t.Fatalf("narrative = %+v", s.Narrative)
	}
}

// TestPlannerLookupLoop verifies the planner consults the search tool and
// loops through lookup before producing a plan.
func TestPlannerLookupLoop(t *testing.T) {
	search := searchTool{&tool.MockTool{
		ToolName:  "search_references",
		Responses: []map[string]interface{}{{"results": "Liches hoard phylacteries."}},
	}}
	chat := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "search_references", Input: map[string]interface{}{"query": "lich lore"}}}},
		{Text: planJSON},
	}}
	d := testDeps(chat)
	d.Search = search
	svc, st := newTestService(t, d)

	id := startPaused(t, svc, Inputs{})
	history, err := st.List(context.Background(), id)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var nodes []string
	for _, cp := range history {
		nodes = append(nodes, cp.NodeID)
	}
	if got := strings.Join(nodes, ","); got != "__start__,planner,lookup,planner" {
		t.Fatalf("checkpoints = %s", got)
	}

	final := history[len(history)-1]
	if !final.Interrupted || final.State.Plan == nil || len(final.State.Messages) != 0 {
		t.Fatalf("final checkpoint = %+v", final)
	}
	if !strings.Contains(final.State.References, "Query: lich lore") {
		t.Fatalf("references = %q", final.State.References)
	}
	if search.CallCount() != 2 {
		t.Fatalf("search calls = %d, want 2", search.CallCount())
	}
	if len(chat.Calls[0].Tools) != 1 {
		t.Fatal("planner did not offer the search tool")
	}
}

// TestPlannerFetchTool verifies extra tools are offered to the planner and
// a fetched page body lands in the references.
func TestPlannerFetchTool(t *testing.T) {
	fetch := describedTool{&tool.MockTool{
		ToolName:  "http_request",
		Responses: []map[string]interface{}{{"status_code": 200, "body": "Aboleths dwell in drowned cities."}},
	}}
	chat := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "http_request", Input: map[string]interface{}{"url": "https://wiki.test/aboleth"}}}},
		{Text: planJSON},
	}}
	d := testDeps(chat)
	d.Tools = []tool.Tool{fetch}
	svc, st := newTestService(t, d)

	id := startPaused(t, svc, Inputs{})
	cp, err := st.Latest(context.Background(), id)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !strings.Contains(cp.State.References, "Query: https://wiki.test/aboleth\nResults: Aboleths dwell") {
		t.Fatalf("references = %q", cp.State.References)
	}
	if fetch.CallCount() != 1 {
		t.Fatalf("fetch calls = %d, want 1", fetch.CallCount())
	}
	if len(chat.Calls[0].Tools) != 1 || chat.Calls[0].Tools[0].Name != "http_request" {
		t.Fatalf("tools offered = %+v", chat.Calls[0].Tools)
	}
}

// TestLookupDegrades verifies failed lookups fall back to NoReferences.
func TestLookupDegrades(t *testing.T) {
	d := testDeps(nil)
	d.Search = &tool.MockTool{ToolName: "search_references", Err: errors.New("503")}

	got, err := d.search(context.Background(), "anything")
	if err != nil || got != NoReferences {
		t.Fatalf("search = %q, %v", got, err)
	}

	d.Search = &tool.MockTool{ToolName: "search_references", Responses: []map[string]interface{}{{"results": 7}}}
	got, err = d.search(context.Background(), "anything")
	if err != nil || got != NoReferences {
		t.Fatalf("search with bad shape = %q, %v", got, err)
	}
}

func TestPartyStepKeepsCallerName(t *testing.T) {
	d := testDeps(scripted(`{"name":"Ignored","characters":[{"name":"Ava","level":40}]}`))
	s, _ := NewState(Inputs{PartyName: "Night Owls", PartySize: 1})

	res := PartyStep(d).Run(context.Background(), s)
	if res.Err != nil {
		t.Fatalf("PartyStep: %v", res.Err)
	}
	p := res.Update.Party
	if p.Name != "Night Owls" || p.Characters[0].Level != 20 {
		t.Fatalf("party = %+v", p)
	}
}
