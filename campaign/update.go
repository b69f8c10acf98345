package campaign

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/questforge/graph/model"
	"github.com/mitchellh/mapstructure"
)

// Field names a patchable State field.
type Field string

// Patchable fields.
const (
	FieldRequirements Field = "requirements"
	FieldPlan         Field = "plan"
	FieldParty        Field = "party"
	FieldPortraits    Field = "portraits"
	FieldNarrative    Field = "narrative"
	FieldMessages     Field = "messages"
	FieldReferences   Field = "references"
	FieldChat         Field = "chat"
)

// immutableFields are inputs fixed at thread start.
var immutableFields = map[string]bool{
	"difficulty":    true,
	"terrain":       true,
	"party_name":    true,
	"party_size":    true,
	"roster_locked": true,
}

// owners maps each accumulator to the only step allowed to write or reset it.
var owners = map[Field]string{
	FieldPlan:      NodePlanner,
	FieldParty:     NodeParty,
	FieldPortraits: NodePortraits,
	FieldNarrative: NodeNarrative,
}

// ErrInvalidPatch is returned for a resume patch that cannot be applied.
var ErrInvalidPatch = errors.New("invalid patch")

// ErrNotOwner is returned by Guard when a step writes an accumulator it
// does not own.
var ErrNotOwner = errors.New("step does not own field")

// Update is a partial State change. Non-nil fields replace the current
// value; fields named in Clear are reset to null first. ChatAppend is added
// to the end of the chat after any replacement.
type Update struct {
	Requirements *string           `json:"requirements,omitempty"`
	Plan         *Plan             `json:"plan,omitempty"`
	Party        *Party            `json:"party,omitempty"`
	Portraits    map[string]string `json:"portraits,omitempty"`
	Narrative    *Narrative        `json:"narrative,omitempty"`
	Messages     []Entry           `json:"messages,omitempty"`
	References   *string           `json:"references,omitempty"`
	Chat         []model.Message   `json:"chat,omitempty"`
	ChatAppend   []model.Message   `json:"-"`
	Clear        []Field           `json:"clear,omitempty"`
}

// touches reports whether u sets or clears f.
func (u Update) touches(f Field) bool {
	for _, c := range u.Clear {
		if c == f {
			return true
		}
	}
	switch f {
	case FieldRequirements:
		return u.Requirements != nil
	case FieldPlan:
		return u.Plan != nil
	case FieldParty:
		return u.Party != nil
	case FieldPortraits:
		return u.Portraits != nil
	case FieldNarrative:
		return u.Narrative != nil
	case FieldMessages:
		return u.Messages != nil
	case FieldReferences:
		return u.References != nil
	case FieldChat:
		return u.Chat != nil || u.ChatAppend != nil
	}
	return false
}

// Reduce applies u to prev. It is the engine's reducer: deterministic, and
// a no-op for an empty Update.
func Reduce(prev State, u Update) State {
	next := prev
	for _, f := range u.Clear {
		switch f {
		case FieldRequirements:
			next.Requirements = ""
		case FieldPlan:
			next.Plan = nil
		case FieldParty:
			next.Party = nil
		case FieldPortraits:
			next.Portraits = nil
		case FieldNarrative:
			next.Narrative = nil
		case FieldMessages:
			next.Messages = nil
		case FieldReferences:
			next.References = ""
		case FieldChat:
			next.Chat = nil
		}
	}

	if u.Requirements != nil {
		next.Requirements = *u.Requirements
	}
	if u.Plan != nil {
		p := *u.Plan
		next.Plan = &p
	}
	if u.Party != nil {
		p := *u.Party
		p.Characters = append([]Character(nil), u.Party.Characters...)
		next.Party = &p
	}
	if u.Portraits != nil {
		next.Portraits = make(map[string]string, len(u.Portraits))
		for k, v := range u.Portraits {
			next.Portraits[k] = v
		}
	}
	if u.Narrative != nil {
		n := *u.Narrative
		next.Narrative = &n
	}
	if u.Messages != nil {
		next.Messages = append([]Entry(nil), u.Messages...)
	}
	if u.References != nil {
		next.References = *u.References
	}
	if u.Chat != nil {
		next.Chat = append([]model.Message(nil), u.Chat...)
	}
	if len(u.ChatAppend) > 0 {
		next.Chat = append(append([]model.Message(nil), next.Chat...), u.ChatAppend...)
	}
	return next
}

// Guard enforces accumulator ownership on step updates: only the owning step
// may write or reset an accumulator, and no step may change the inputs.
// Resume patches are not subject to it.
func Guard(nodeID string, _ State, u Update) error {
	if u.touches(FieldRequirements) {
		return fmt.Errorf("%w: %s cannot change requirements", ErrNotOwner, nodeID)
	}
	for field, owner := range owners {
		if owner != nodeID && u.touches(field) {
			return fmt.Errorf("%w: %s cannot write %s (owned by %s)", ErrNotOwner, nodeID, field, owner)
		}
	}
	return nil
}

// DecodePatch converts a resume patch such as
//
//	{"requirements": "Add a dragon", "plan": null}
//
// into an Update. A null value clears the field. Inputs other than
// requirements are immutable, and unknown fields are rejected.
func DecodePatch(patch map[string]interface{}) (Update, error) {
	var u Update
	values := make(map[string]interface{}, len(patch))

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		field := strings.TrimSpace(k)
		if immutableFields[field] {
			return Update{}, fmt.Errorf("%w: field %q is immutable", ErrInvalidPatch, field)
		}
		if !patchable(Field(field)) {
			return Update{}, fmt.Errorf("%w: unknown field %q", ErrInvalidPatch, field)
		}
		if patch[k] == nil {
			u.Clear = append(u.Clear, Field(field))
			continue
		}
		values[field] = patch[k]
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      &u,
	})
	if err != nil {
		return Update{}, err
	}
	if err := decoder.Decode(values); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return u, nil
}

func patchable(f Field) bool {
	switch f {
	case FieldRequirements, FieldPlan, FieldParty, FieldPortraits, FieldNarrative,
		FieldMessages, FieldReferences, FieldChat:
		return true
	}
	return false
}
