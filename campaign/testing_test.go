package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/degrade"
	"github.com/dshills/questforge/graph/model"
	"github.com/dshills/questforge/graph/store"
	"github.com/dshills/questforge/graph/tool"
)

const (
	planJSON  = `{"title_hint":"The Sunken Crown","primary_antagonist":"Vesh the Drowned","core_conflict":"A drowned king wakes beneath the reef","key_locations":["Coral Vault"],"hooks":["A bell tolls under the sea"]}`
	partyJSON = `{"name":"The Tidebound","characters":[{"name":"Ava","race":"Elf","class":"Wizard","level":3},{"name":"Bo","race":"Dwarf","class":"Cleric","level":3}]}`
	narrJSON  = "```json\n{\"title\":\"Bells Beneath the Waves\",\"description\":\"A coastal mystery.\",\"background\":\"The king stirs.\",\"rewards\":\"The Crown of Tides\"}\n```"
)

func scripted(texts ...string) *model.MockChatModel {
	m := &model.MockChatModel{}
	for _, text := range texts {
		m.Responses = append(m.Responses, model.ChatOut{Text: text, Usage: model.Usage{Model: "gpt-4o-mini", InputTokens: 10, OutputTokens: 5}})
	}
	return m
}

// searchTool advertises a MockTool to the model.
type searchTool struct {
	*tool.MockTool
}

func (searchTool) Spec() model.ToolSpec {
	return model.ToolSpec{Name: "search_references", Description: "search", Schema: map[string]interface{}{"type": "object"}}
}

// describedTool advertises a mock under its own name.
type describedTool struct {
	*tool.MockTool
}

func (d describedTool) Spec() model.ToolSpec {
	return model.ToolSpec{Name: d.ToolName, Schema: map[string]interface{}{"type": "object"}}
}

func testDeps(chat model.ChatModel) *Deps {
	return &Deps{
		Chat:   chat,
		Images: &model.MockImageModel{URL: "https://img.test/p.png"},
		Policy: degrade.Policy{MaxAttempts: 1},
	}
}

func newTestService(t *testing.T, d *Deps) (*Service, *store.MemStore[State]) {
	t.Helper()
	st := store.NewMemStore[State]()
	engine, err := NewEngine(st, d)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewService(engine, st, d), st
}

// drain collects a turn's events and returns them with the terminal one.
func drain(t *testing.T, events <-chan Event) ([]Event, Event) {
	t.Helper()
	var all []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if len(all) == 0 {
					t.Fatal("stream closed without events")
				}
				return all, all[len(all)-1]
			}
			all = append(all, ev)
		case <-timeout:
			t.Fatal("turn did not finish")
		}
	}
}

func expectKind(t *testing.T, ev Event, want graph.EventKind) {
	t.Helper()
	if ev.Kind != want {
		t.Fatalf("terminal event = %s (err %v), want %s", ev.Kind, ev.Err, want)
	}
}

func startPaused(t *testing.T, svc *Service, in Inputs) string {
	t.Helper()
	id, events, err := svc.Start(context.Background(), in)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, last := drain(t, events)
	expectKind(t, last, graph.EventPaused)
	return id
}
