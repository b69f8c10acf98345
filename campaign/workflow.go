package campaign

import (
	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/store"
)

// Engine runs campaign threads.
type Engine = graph.Engine[State, Update]

// Event is one entry of a campaign turn's event stream.
type Event = graph.Event[State, Update]

// NewEngine assembles the campaign workflow on st.
//
// The planner is always an interrupt point, so every plan is offered for
// review before the party is built. It only pauses once a plan exists, not
// while it is waiting on a lookup. opts may add interrupt points and engine
// settings.
func NewEngine(st store.Store[State], d *Deps, opts ...graph.Option) (*Engine, error) {
	if d == nil || d.Chat == nil {
		return nil, errNoChatModel
	}

	opts = append([]graph.Option{graph.WithInterruptAfter(NodePlanner)}, opts...)
	engine, err := graph.New[State, Update](Reduce, st, NewRouter(d.Classifier, d.Logger), opts...)
	if err != nil {
		return nil, err
	}
	engine.Guard(Guard)
	engine.InterruptWhen(func(nodeID string, s State) bool {
		return nodeID != NodePlanner || s.Plan != nil
	})

	nodes := []struct {
		id   string
		node graph.Node[State, Update]
	}{
		{NodePlanner, Planner(d)},
		{NodeLookup, Lookup(d)},
		{NodeParty, PartyStep(d)},
		{NodePortraits, Portraits(d)},
		{NodeNarrative, NarrativeStep(d)},
	}
	for _, n := range nodes {
		if err := engine.Add(n.id, n.node); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// statusLabels are the human-facing labels shown while a step runs.
var statusLabels = map[string]string{
	NodePlanner:   "🗺️ Mapping out the realm and villains...",
	NodeParty:     "⚔️ Rolling stats and crafting character sheets...",
	NodePortraits: "🎨 Painting portraits of the heroes...",
	NodeNarrative: "📜 Inscribing the legendary deeds onto parchment...",
	NodeLookup:    "🔍 Consulting ancient tomes...",
}

// StatusLabel returns the label for a step, or "" for unknown steps.
func StatusLabel(nodeID string) string {
	return statusLabels[nodeID]
}
