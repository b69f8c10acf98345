package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/degrade"
	"github.com/dshills/questforge/graph/model"
	"github.com/dshills/questforge/graph/tool"
)

// DefaultMaxLookups bounds the planner/lookup loop per planning pass.
const DefaultMaxLookups = 2

// DefaultImageCooldown separates consecutive portrait requests.
const DefaultImageCooldown = 2 * time.Second

// Deps are the external capabilities the steps call. Chat is required; a nil
// Images or Search degrades to the documented fallbacks.
type Deps struct {
	Chat   model.ChatModel
	Images model.ImageModel
	Search tool.Tool

	// Text answers free-form prompts such as player chat and suggestions.
	// Chat may be configured for JSON-only replies, so it is kept separate.
	// Nil uses Chat.
	Text model.ChatModel

	// Tools are offered to the planner alongside Search.
	Tools []tool.Tool

	// Classifier decides edit passes. Nil uses KeywordClassifier.
	Classifier Classifier

	Policy        degrade.Policy
	ImageCooldown time.Duration
	MaxLookups    int

	Logger *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

func (d *Deps) policy() degrade.Policy {
	p := d.Policy
	if p.Logger == nil {
		p.Logger = d.logger()
	}
	return p
}

func (d *Deps) text() model.ChatModel {
	if d.Text == nil {
		return d.Chat
	}
	return d.Text
}

func (d *Deps) tools() tool.Registry {
	tools := d.Tools
	if d.Search != nil {
		tools = append([]tool.Tool{d.Search}, tools...)
	}
	return tool.NewRegistry(tools...)
}

func (d *Deps) maxLookups() int {
	if d.MaxLookups <= 0 {
		return DefaultMaxLookups
	}
	return d.MaxLookups
}

func recordUsage(ctx context.Context, u model.Usage) {
	graph.RecordUsage(ctx, u.Model, u.InputTokens, u.OutputTokens)
}

// search runs one suppressed reference lookup.
func (d *Deps) search(ctx context.Context, query string) (string, error) {
	if d.Search == nil {
		return NoReferences, nil
	}
	return degrade.Suppress(ctx, d.policy(), func(ctx context.Context) (string, error) {
		out, err := tool.Invoke(ctx, d.Search, map[string]interface{}{"query": query})
		if err != nil {
			return "", err
		}
		return resultText(out)
	}, NoReferences)
}

// searchAll runs several lookups and joins the ones that returned results.
func (d *Deps) searchAll(ctx context.Context, queries []string) (string, error) {
	var blurbs []string
	for _, q := range queries {
		res, err := d.search(ctx, q)
		if err != nil {
			return "", err
		}
		if res != NoReferences && res != "" {
			blurbs = append(blurbs, fmt.Sprintf("Query: %s\nResults: %s", q, res))
		}
	}
	if len(blurbs) == 0 {
		return NoReferences, nil
	}
	return strings.Join(blurbs, "\n\n"), nil
}

// resultText extracts the text of a tool result: "results" from a search,
// "body" from a fetch.
func resultText(out map[string]interface{}) (string, error) {
	v, ok := out["results"]
	if !ok {
		v = out["body"]
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case nil:
		return "", &degrade.ValueError{Field: "results", Reason: "missing"}
	default:
		return "", &degrade.TypeError{Field: "results", Want: "string", Got: fmt.Sprintf("%T", v)}
	}
}

func scratchMessages(entries []Entry) []model.Message {
	msgs := make([]model.Message, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.ToolCall != nil:
			msgs = append(msgs, model.Assistant(fmt.Sprintf("Calling %s with %s", e.ToolCall.Name, toJSON(e.ToolCall.Input))))
		case e.Tool != "":
			msgs = append(msgs, model.User(fmt.Sprintf("Result from %s:\n%s", e.Tool, e.Content)))
		default:
			msgs = append(msgs, model.Message{Role: e.Role, Content: e.Content})
		}
	}
	return msgs
}

func decodePlan(text string) (Plan, error) {
	var p Plan
	if err := model.DecodeJSON(text, &p); err != nil {
		return Plan{}, &degrade.ValueError{Field: "plan", Reason: err.Error()}
	}
	if strings.TrimSpace(p.PrimaryAntagonist) == "" || strings.TrimSpace(p.CoreConflict) == "" {
		return Plan{}, &degrade.ValueError{Field: "plan", Reason: "antagonist and conflict are required"}
	}
	return p, nil
}

// Planner drafts the campaign plan. On its first pass it consults the
// search tool directly; while under the lookup bound it also offers the
// tool to the model, and a requested call is recorded in the scratch log
// for the lookup step instead of producing a plan.
func Planner(d *Deps) graph.Node[State, Update] {
	return graph.NodeFunc[State, Update](func(ctx context.Context, s State) graph.NodeResult[Update] {
		var u Update
		if s.References == "" {
			refs, err := d.search(ctx, fmt.Sprintf("D&D quest ideas for a %s campaign in %s", s.Difficulty, s.Terrain))
			if err != nil {
				return graph.NodeResult[Update]{Err: err}
			}
			s.References = refs
			u.References = &refs
		}

		var specs []model.ToolSpec
		if lookupCount(s) < d.maxLookups() {
			specs = d.tools().Specs()
		}
		msgs := append([]model.Message{
			model.System(plannerSystem),
			model.User(plannerPrompt(s)),
		}, scratchMessages(s.Messages)...)

		out, err := degrade.Retry(ctx, d.policy(), func(ctx context.Context) (model.ChatOut, error) {
			out, err := d.Chat.Chat(ctx, msgs, specs)
			if err == nil {
				recordUsage(ctx, out.Usage)
			}
			return out, err
		}, func(out model.ChatOut) error {
			if len(specs) > 0 && len(out.ToolCalls) > 0 {
				return nil
			}
			_, err := decodePlan(out.Text)
			return err
		}, func() model.ChatOut { return model.ChatOut{} })
		if err != nil {
			return graph.NodeResult[Update]{Err: err}
		}

		if len(specs) > 0 && len(out.ToolCalls) > 0 {
			call := out.ToolCalls[0]
			u.Messages = append(append([]Entry(nil), s.Messages...), Entry{
				Role:     model.RoleAssistant,
				Content:  out.Text,
				ToolCall: &call,
			})
			return graph.NodeResult[Update]{Update: u}
		}

		plan, err := decodePlan(out.Text)
		if err != nil {
			d.logger().WarnContext(ctx, "using default plan", "thread_id", graph.ThreadID(ctx), "error", err)
			plan = DefaultPlan(s)
		}
		u.Plan = &plan
		u.Clear = []Field{FieldMessages}
		return graph.NodeResult[Update]{Update: u}
	})
}

// Lookup executes the tool call the planner requested and records the
// result in the scratch log and the reference text.
func Lookup(d *Deps) graph.Node[State, Update] {
	return graph.NodeFunc[State, Update](func(ctx context.Context, s State) graph.NodeResult[Update] {
		if !NeedsTool(s) {
			return graph.NodeResult[Update]{}
		}
		call := s.Messages[len(s.Messages)-1].ToolCall
		registry := d.tools()

		result, err := degrade.Suppress(ctx, d.policy(), func(ctx context.Context) (string, error) {
			out, err := registry.Call(ctx, call.Name, call.Input)
			if err != nil {
				return "", err
			}
			return resultText(out)
		}, NoReferences)
		if err != nil {
			return graph.NodeResult[Update]{Err: err}
		}

		messages := append(append([]Entry(nil), s.Messages...), Entry{
			Role:    model.RoleUser,
			Tool:    call.Name,
			Content: result,
		})
		refs := s.References
		if result != NoReferences {
			query, _ := call.Input["query"].(string)
			if query == "" {
				query, _ = call.Input["url"].(string)
			}
			blurb := fmt.Sprintf("Query: %s\nResults: %s", query, result)
			if refs == "" || refs == NoReferences {
				refs = blurb
			} else {
				refs += "\n\n" + blurb
			}
		}
		return graph.NodeResult[Update]{Update: Update{Messages: messages, References: &refs}}
	})
}

type generatedParty struct {
	Name       string      `json:"name"`
	Characters []Character `json:"characters"`
}

func normalizeCharacters(cs []Character) []Character {
	out := make([]Character, 0, len(cs))
	for _, c := range cs {
		c.Name = strings.TrimSpace(c.Name)
		switch {
		case c.Level < 1:
			c.Level = 1
		case c.Level > 20:
			c.Level = 20
		}
		out = append(out, c)
	}
	return out
}

// PartyStep generates characters and merges them into the roster under the
// thread's roster lock, always yielding exactly PartySize members.
func PartyStep(d *Deps) graph.Node[State, Update] {
	return graph.NodeFunc[State, Update](func(ctx context.Context, s State) graph.NodeResult[Update] {
		refs, err := d.searchAll(ctx, []string{
			fmt.Sprintf("D&D unique party composition ideas for %d players", s.PartySize),
			"D&D cool race and class combination ideas",
			fmt.Sprintf("fantasy character archetypes for %s settings", s.Terrain),
			"creative D&D backstory hooks for player characters",
		})
		if err != nil {
			return graph.NodeResult[Update]{Err: err}
		}
		msgs := []model.Message{model.System(partySystem), model.User(partyPrompt(s, refs))}

		gen, err := degrade.Retry(ctx, d.policy(), func(ctx context.Context) (generatedParty, error) {
			out, err := d.Chat.Chat(ctx, msgs, nil)
			if err != nil {
				return generatedParty{}, err
			}
			recordUsage(ctx, out.Usage)
			var p generatedParty
			if err := model.DecodeJSON(out.Text, &p); err != nil {
				return generatedParty{}, &degrade.ValueError{Field: "party", Reason: err.Error()}
			}
			return p, nil
		}, func(p generatedParty) error {
			if usableCharacters(p.Characters) == 0 {
				return &degrade.ValueError{Field: "characters", Reason: "no usable characters"}
			}
			return nil
		}, func() generatedParty { return generatedParty{} })
		if err != nil {
			return graph.NodeResult[Update]{Err: err}
		}

		var existing []Character
		var previousName string
		if s.Party != nil {
			existing = s.Party.Characters
			previousName = s.Party.Name
		}

		name := s.PartyName
		if name == DefaultPartyName {
			name = firstNonEmpty(strings.TrimSpace(gen.Name), previousName, FallbackPartyName)
		}
		return graph.NodeResult[Update]{Update: Update{Party: &Party{
			Name:       name,
			Size:       s.PartySize,
			Characters: MergeRoster(existing, normalizeCharacters(gen.Characters), s.PartySize, s.RosterLocked),
		}}}
	})
}

func isPlaceholder(c Character) bool {
	return strings.HasPrefix(c.Name, "TBD ") && c.Race == PlaceholderRace && c.Class == PlaceholderClass
}

// Portraits paints every roster member, pausing ImageCooldown between
// requests. Placeholders and failed requests get DefaultPortraitURL.
func Portraits(d *Deps) graph.Node[State, Update] {
	return graph.NodeFunc[State, Update](func(ctx context.Context, s State) graph.NodeResult[Update] {
		if s.Party == nil {
			return graph.NodeResult[Update]{}
		}

		portraits := make(map[string]string, len(s.Party.Characters))
		requested := false
		for _, c := range s.Party.Characters {
			if d.Images == nil || isPlaceholder(c) {
				portraits[c.Key()] = DefaultPortraitURL
				continue
			}
			if requested {
				if err := degrade.Cooldown(ctx, d.ImageCooldown); err != nil {
					return graph.NodeResult[Update]{Err: err}
				}
			}
			requested = true

			prompt := portraitPrompt(s, c)
			url, err := degrade.Retry(ctx, d.policy(), func(ctx context.Context) (string, error) {
				img, err := d.Images.GenerateImage(ctx, prompt)
				if err != nil {
					return "", err
				}
				switch {
				case img.URL != "":
					return img.URL, nil
				case img.Base64 != "":
					return "data:image/png;base64," + img.Base64, nil
				}
				return "", &degrade.ValueError{Field: "portrait", Reason: "empty image"}
			}, nil, func() string { return DefaultPortraitURL })
			if err != nil {
				return graph.NodeResult[Update]{Err: err}
			}
			portraits[c.Key()] = url
		}
		return graph.NodeResult[Update]{Update: Update{Portraits: portraits}}
	})
}

// NarrativeStep writes the campaign handout.
func NarrativeStep(d *Deps) graph.Node[State, Update] {
	return graph.NodeFunc[State, Update](func(ctx context.Context, s State) graph.NodeResult[Update] {
		msgs := []model.Message{model.System(narrativeSystem), model.User(narrativePrompt(s))}

		n, err := degrade.Retry(ctx, d.policy(), func(ctx context.Context) (Narrative, error) {
			out, err := d.Chat.Chat(ctx, msgs, nil)
			if err != nil {
				return Narrative{}, err
			}
			recordUsage(ctx, out.Usage)
			var n Narrative
			if err := model.DecodeJSON(out.Text, &n); err != nil {
				return Narrative{}, &degrade.ValueError{Field: "narrative", Reason: err.Error()}
			}
			return n, nil
		}, func(n Narrative) error {
			if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Background) == "" {
				return &degrade.ValueError{Field: "narrative", Reason: "title and background are required"}
			}
			return nil
		}, func() Narrative { return DefaultNarrative(s) })
		if err != nil {
			return graph.NodeResult[Update]{Err: err}
		}
		return graph.NodeResult[Update]{Update: Update{Narrative: &n, Clear: []Field{FieldMessages}}}
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var errNoChatModel = errors.New("chat model is required")
