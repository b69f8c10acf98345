package campaign

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/model"
)

// Step names.
const (
	NodePlanner   = "planner"
	NodeLookup    = "lookup"
	NodeParty     = "party"
	NodePortraits = "portraits"
	NodeNarrative = "narrative"
)

// Change is a classifier verdict on an edit request.
type Change int

const (
	// NoChange means the edit does not touch the story; art and prose are
	// kept.
	NoChange Change = iota

	// NarrativeChange means the edit alters plot, villain or setting.
	NarrativeChange
)

func (c Change) String() string {
	if c == NarrativeChange {
		return "narrative-change"
	}
	return "no-change"
}

// Classifier decides whether an edit request implies a narrative change.
type Classifier interface {
	Classify(ctx context.Context, text string) (Change, error)
}

// DefaultNarrativeKeywords trigger NarrativeChange in KeywordClassifier.
var DefaultNarrativeKeywords = []string{
	"plot", "story", "villain", "antagonist", "narrative", "background",
	"title", "reward", "setting", "quest", "dragon", "lore", "twist",
	"ending", "conflict", "world", "npc", "roleplay", "diplomacy",
}

// KeywordClassifier reports NarrativeChange when the text mentions one of
// its keywords.
type KeywordClassifier struct {
	Keywords []string
}

// Classify implements Classifier.
func (k KeywordClassifier) Classify(_ context.Context, text string) (Change, error) {
	keywords := k.Keywords
	if keywords == nil {
		keywords = DefaultNarrativeKeywords
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return NarrativeChange, nil
		}
	}
	return NoChange, nil
}

// ModelClassifier asks a chat model for a YES/NO verdict. Anything other
// than a clear YES is NoChange.
type ModelClassifier struct {
	Model model.ChatModel
}

const classifyPrompt = `You review edit requests for a tabletop campaign.
Answer YES if the request changes the plot, villain, setting, title or rewards.
Answer NO if it only changes character statistics, races, classes or levels.
Answer with a single word: YES or NO.`

// Classify implements Classifier.
func (m ModelClassifier) Classify(ctx context.Context, text string) (Change, error) {
	out, err := m.Model.Chat(ctx, []model.Message{
		model.System(classifyPrompt),
		model.User(text),
	}, nil)
	if err != nil {
		return NoChange, err
	}
	graph.RecordUsage(ctx, out.Usage.Model, out.Usage.InputTokens, out.Usage.OutputTokens)

	answer := strings.ToUpper(strings.TrimSpace(out.Text))
	if strings.HasPrefix(answer, "YES") {
		return NarrativeChange, nil
	}
	return NoChange, nil
}

// NewRouter returns the campaign transition table. The planner/lookup loop
// is expressed as edges gated by NeedsTool; everything else is decided by
// transitions. A nil classifier uses KeywordClassifier.
func NewRouter(classifier Classifier, logger *slog.Logger) graph.Router[State] {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := graph.NewEdgeRouter[State](&transitions{classifier: classifier, logger: logger})
	r.Connect(NodePlanner, NodeLookup, NeedsTool)
	r.Connect(NodeLookup, NodePlanner, nil)
	return r
}

type transitions struct {
	classifier Classifier
	logger     *slog.Logger
}

// Route implements graph.Router.
//
// A missing plan always goes to planning, so an edit that clears the plan
// is reconciled before anything downstream runs. On an edit pass (the
// narrative already exists) the enrichment and narrative steps only run
// again when the classifier sees a narrative change.
func (t *transitions) Route(ctx context.Context, s State, last string) (graph.Next, error) {
	if s.Plan == nil {
		return graph.Goto(NodePlanner), nil
	}

	switch last {
	case NodePlanner:
		return graph.Goto(NodeParty), nil
	case NodeParty:
		if s.Narrative == nil || t.changed(ctx, s.Requirements) {
			return graph.Goto(NodePortraits), nil
		}
		return graph.Stop(), nil
	case NodePortraits:
		if s.Narrative == nil || t.changed(ctx, s.Requirements) {
			return graph.Goto(NodeNarrative), nil
		}
		return graph.Stop(), nil
	default:
		return graph.Stop(), nil
	}
}

// changed classifies text; failures count as NoChange.
func (t *transitions) changed(ctx context.Context, text string) bool {
	change, err := t.classifier.Classify(ctx, text)
	if err != nil {
		t.logger.WarnContext(ctx, "classification failed, assuming no change", "error", err)
		return false
	}
	return change == NarrativeChange
}
