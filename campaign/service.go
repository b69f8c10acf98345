package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/store"
	"github.com/google/uuid"
)

// ThreadListLimit caps ListThreads.
const ThreadListLimit = 50

// ErrInvalidResume is returned for a resume instruction that is neither an
// approval nor an edit.
var ErrInvalidResume = errors.New("resume instruction must approve or carry a patch")

// ResumeInstruction continues a thread: {"approve": true}, {"patch": {...}}
// or a free-text edit.
type ResumeInstruction struct {
	Approve bool                   `json:"approve,omitempty"`
	Patch   map[string]interface{} `json:"patch,omitempty"`
	Edit    string                 `json:"edit,omitempty"`
}

// ParseResumeAction interprets the single-string form used by the HTTP API:
// "approve" approves and anything else is an edit request.
func ParseResumeAction(action string) ResumeInstruction {
	action = strings.TrimSpace(action)
	if strings.EqualFold(action, "approve") {
		return ResumeInstruction{Approve: true}
	}
	return ResumeInstruction{Edit: action}
}

// update returns the patch to apply, or nil for an approval. A free-text
// edit becomes new requirements plus a cleared plan, which sends the next
// turn back through planning.
func (r ResumeInstruction) update() (*Update, error) {
	hasEdit := strings.TrimSpace(r.Edit) != ""
	switch {
	case r.Approve && (hasEdit || r.Patch != nil):
		return nil, fmt.Errorf("%w: approve cannot be combined with an edit", ErrInvalidResume)
	case r.Approve:
		return nil, nil
	case hasEdit && r.Patch != nil:
		return nil, fmt.Errorf("%w: use either edit or patch", ErrInvalidResume)
	case hasEdit:
		return decodeUpdate(map[string]interface{}{
			string(FieldRequirements): strings.TrimSpace(r.Edit),
			string(FieldPlan):         nil,
		})
	case r.Patch != nil:
		return decodeUpdate(r.Patch)
	default:
		return nil, ErrInvalidResume
	}
}

func decodeUpdate(patch map[string]interface{}) (*Update, error) {
	u, err := DecodePatch(patch)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ThreadSummary is one row of ListThreads.
type ThreadSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	IsArchived bool      `json:"isArchived"`
	Paused     bool      `json:"isPaused"`
}

// Service implements the thread lifecycle on top of the campaign engine.
type Service struct {
	engine *Engine
	store  store.Store[State]
	deps   *Deps
	costs  *graph.CostTracker
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceCostTracker records chat and suggestion usage outside turns.
func WithServiceCostTracker(t *graph.CostTracker) ServiceOption {
	return func(s *Service) { s.costs = t }
}

// NewService creates a Service. st must be the store engine was built on.
func NewService(engine *Engine, st store.Store[State], d *Deps, opts ...ServiceOption) *Service {
	s := &Service{engine: engine, store: st, deps: d, logger: d.logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates in, creates a thread with a new ID and runs its first
// turn.
func (s *Service) Start(ctx context.Context, in Inputs) (string, <-chan Event, error) {
	state, err := NewState(in)
	if err != nil {
		return "", nil, err
	}
	threadID := uuid.NewString()
	events, err := s.engine.Stream(ctx, threadID, &state, nil)
	if err != nil {
		return "", nil, err
	}
	s.logger.InfoContext(ctx, "thread started", "thread_id", threadID, "terrain", state.Terrain, "difficulty", state.Difficulty)
	return threadID, events, nil
}

// Resume continues a thread.
//
// A paused thread accepts an approval or an edit. A thread that already
// finished accepts only an edit, which is recorded as a planning update
// before the next turn runs, so edits can revise a finished campaign.
func (s *Service) Resume(ctx context.Context, threadID string, r ResumeInstruction) (<-chan Event, error) {
	u, err := r.update()
	if err != nil {
		return nil, err
	}
	latest, err := s.engine.Latest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, err)
	}

	if latest.Interrupted {
		if u == nil {
			return s.engine.Stream(ctx, threadID, nil, graph.Approve[Update]())
		}
		return s.engine.Stream(ctx, threadID, nil, graph.Patch(*u))
	}
	if u == nil {
		return nil, graph.ErrNotPaused
	}
	if _, err := s.engine.UpdateState(ctx, threadID, NodePlanner, *u); err != nil {
		return nil, err
	}
	return s.engine.Stream(ctx, threadID, nil, nil)
}

// Continue re-runs a thread from its latest checkpoint after a failed or
// abandoned turn.
func (s *Service) Continue(ctx context.Context, threadID string) (<-chan Event, error) {
	return s.engine.Stream(ctx, threadID, nil, nil)
}

// LatestState returns the thread's current state.
func (s *Service) LatestState(ctx context.Context, threadID string) (State, error) {
	cp, err := s.engine.Latest(ctx, threadID)
	if err != nil {
		return State{}, err
	}
	return cp.State, nil
}

// Paused reports whether the thread waits for a resume.
func (s *Service) Paused(ctx context.Context, threadID string) (bool, error) {
	cp, err := s.engine.Latest(ctx, threadID)
	if err != nil {
		return false, err
	}
	return cp.Interrupted, nil
}

// ListThreads returns the most recently active threads, newest first.
func (s *Service) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	infos, err := s.store.Threads(ctx, ThreadListLimit)
	if err != nil {
		return nil, err
	}

	out := make([]ThreadSummary, 0, len(infos))
	for _, info := range infos {
		summary := ThreadSummary{
			ID:         info.ID,
			Name:       Title(info.ID, State{}),
			CreatedAt:  info.CreatedAt,
			IsArchived: info.Archived,
		}
		if cp, err := s.store.Latest(ctx, info.ID); err == nil {
			summary.Name = Title(info.ID, cp.State)
			summary.Paused = cp.Interrupted
		} else {
			s.logger.WarnContext(ctx, "failed to load thread state", "thread_id", info.ID, "error", err)
		}
		out = append(out, summary)
	}
	return out, nil
}

// SetArchived sets the thread's archived flag.
func (s *Service) SetArchived(ctx context.Context, threadID string, archived bool) error {
	return s.store.SetArchived(ctx, threadID, archived)
}

// ToggleArchived flips the archived flag and returns the new value. A thread
// without metadata becomes archived.
func (s *Service) ToggleArchived(ctx context.Context, threadID string) (bool, error) {
	archived, found, err := s.store.Archived(ctx, threadID)
	if err != nil {
		return false, err
	}
	next := !found || !archived
	if err := s.store.SetArchived(ctx, threadID, next); err != nil {
		return false, err
	}
	return next, nil
}

// Reset deletes the thread with all its checkpoints and metadata.
func (s *Service) Reset(ctx context.Context, threadID string) error {
	return s.engine.DeleteThread(ctx, threadID)
}

// Title names a thread: the narrative title, then the antagonist, then a
// short form of the ID.
func Title(threadID string, s State) string {
	if s.Narrative != nil && strings.TrimSpace(s.Narrative.Title) != "" {
		return s.Narrative.Title
	}
	if s.Plan != nil && strings.TrimSpace(s.Plan.PrimaryAntagonist) != "" {
		return "Vs. " + s.Plan.PrimaryAntagonist
	}
	short := threadID
	if len(short) > 6 {
		short = short[:6]
	}
	return "Campaign " + short
}

func (s *Service) callContext(ctx context.Context, threadID string) context.Context {
	ctx = graph.WithThreadID(ctx, threadID)
	if s.costs != nil {
		ctx = graph.ContextWithCostTracker(ctx, s.costs)
	}
	return ctx
}
