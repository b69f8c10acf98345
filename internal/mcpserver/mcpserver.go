// Package mcpserver exposes the campaign thread lifecycle as MCP tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/questforge/campaign"
	"github.com/dshills/questforge/graph"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the campaign service in an MCP server.
type Server struct {
	svc       *campaign.Service
	mcpServer *server.MCPServer
}

// New creates a Server with every tool registered.
func New(svc *campaign.Service, version string) *Server {
	s := &Server{
		svc:       svc,
		mcpServer: server.NewMCPServer("questforge", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio serves on stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	if s == nil || s.mcpServer == nil {
		return errors.New("mcp server is not configured")
	}
	return server.ServeStdio(s.mcpServer)
}

// StartArgs are the start_campaign arguments.
type StartArgs struct {
	Difficulty   string `json:"difficulty,omitempty"`
	Terrain      string `json:"terrain,omitempty"`
	Requirements string `json:"requirements,omitempty"`
	PartyName    string `json:"party_name,omitempty"`
	PartySize    int    `json:"party_size,omitempty"`
	RosterLocked bool   `json:"roster_locked,omitempty"`
}

// ResumeArgs are the resume_campaign arguments.
type ResumeArgs struct {
	ThreadID string `json:"thread_id"`
	Action   string `json:"action"`
}

// ThreadArgs identify a thread.
type ThreadArgs struct {
	ThreadID string `json:"thread_id"`
}

// ArchiveArgs are the archive_campaign arguments. A nil Archived toggles.
type ArchiveArgs struct {
	ThreadID string `json:"thread_id"`
	Archived *bool  `json:"archived,omitempty"`
}

// Campaign is the thread view returned by the tools.
type Campaign struct {
	ThreadID  string              `json:"thread_id"`
	Title     string              `json:"title"`
	Paused    bool                `json:"paused"`
	Plan      *campaign.Plan      `json:"plan,omitempty"`
	Party     *campaign.Party     `json:"party,omitempty"`
	Portraits map[string]string   `json:"portraits,omitempty"`
	Narrative *campaign.Narrative `json:"narrative,omitempty"`
}

// TurnResult reports how a turn ended.
type TurnResult struct {
	Status      string                `json:"status" jsonschema_description:"paused, completed or error"`
	Error       string                `json:"error,omitempty"`
	Steps       []string              `json:"steps"`
	Campaign    Campaign              `json:"campaign"`
	Suggestions []campaign.Suggestion `json:"suggestions,omitempty" jsonschema_description:"Edits to offer while paused"`
}

// ThreadList is the list_campaigns result.
type ThreadList struct {
	Threads []campaign.ThreadSummary `json:"threads"`
}

// ArchiveResult is the archive_campaign result.
type ArchiveResult struct {
	ThreadID string `json:"thread_id"`
	Archived bool   `json:"archived"`
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_campaign",
		mcp.WithDescription("Start a campaign and run it until the plan is ready for review."),
		mcp.WithString("difficulty", mcp.Description("easy, medium, hard or deadly")),
		mcp.WithString("terrain", mcp.Description("Arctic, Coast, Desert, Forest, Grassland, Mountain, Swamp or Underdark")),
		mcp.WithString("requirements", mcp.Description("Free-form requests for the campaign")),
		mcp.WithString("party_name", mcp.Description("Name of the adventuring party")),
		mcp.WithNumber("party_size", mcp.Description("Number of characters, 1 to 12")),
		mcp.WithBoolean("roster_locked", mcp.Description("Keep existing characters when the party is regenerated")),
		mcp.WithOutputSchema[TurnResult](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("resume_campaign",
		mcp.WithDescription("Approve a paused campaign or send edit instructions."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Campaign thread ID")),
		mcp.WithString("action", mcp.Required(), mcp.Description(`"approve" or edit instructions`)),
		mcp.WithOutputSchema[TurnResult](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.mcpServer.AddTool(mcp.NewTool("get_campaign",
		mcp.WithDescription("Get the current state of a campaign."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Campaign thread ID")),
		mcp.WithOutputSchema[Campaign](),
	), mcp.NewStructuredToolHandler(s.handleGet))

	s.mcpServer.AddTool(mcp.NewTool("list_campaigns",
		mcp.WithDescription("List the most recent campaigns."),
		mcp.WithOutputSchema[ThreadList](),
	), mcp.NewStructuredToolHandler(s.handleList))

	s.mcpServer.AddTool(mcp.NewTool("archive_campaign",
		mcp.WithDescription("Archive or unarchive a campaign. Toggles when archived is omitted."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Campaign thread ID")),
		mcp.WithBoolean("archived", mcp.Description("Desired archived flag")),
		mcp.WithOutputSchema[ArchiveResult](),
	), mcp.NewStructuredToolHandler(s.handleArchive))
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args StartArgs) (TurnResult, error) {
	threadID, events, err := s.svc.Start(ctx, campaign.Inputs{
		Difficulty:   campaign.Difficulty(args.Difficulty),
		Terrain:      campaign.Terrain(args.Terrain),
		Requirements: args.Requirements,
		PartyName:    args.PartyName,
		PartySize:    args.PartySize,
		RosterLocked: args.RosterLocked,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("start campaign: %w", err)
	}
	return s.finish(ctx, threadID, events)
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args ResumeArgs) (TurnResult, error) {
	if args.ThreadID == "" {
		return TurnResult{}, errors.New("thread_id is required")
	}
	events, err := s.svc.Resume(ctx, args.ThreadID, campaign.ParseResumeAction(args.Action))
	if err != nil {
		return TurnResult{}, fmt.Errorf("resume campaign: %w", err)
	}
	return s.finish(ctx, args.ThreadID, events)
}

func (s *Server) handleGet(ctx context.Context, _ mcp.CallToolRequest, args ThreadArgs) (Campaign, error) {
	return s.view(ctx, args.ThreadID)
}

func (s *Server) handleList(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (ThreadList, error) {
	threads, err := s.svc.ListThreads(ctx)
	if err != nil {
		return ThreadList{}, err
	}
	return ThreadList{Threads: threads}, nil
}

func (s *Server) handleArchive(ctx context.Context, _ mcp.CallToolRequest, args ArchiveArgs) (ArchiveResult, error) {
	if args.ThreadID == "" {
		return ArchiveResult{}, errors.New("thread_id is required")
	}
	if args.Archived == nil {
		archived, err := s.svc.ToggleArchived(ctx, args.ThreadID)
		return ArchiveResult{ThreadID: args.ThreadID, Archived: archived}, err
	}
	err := s.svc.SetArchived(ctx, args.ThreadID, *args.Archived)
	return ArchiveResult{ThreadID: args.ThreadID, Archived: *args.Archived}, err
}

// finish drains a turn and summarizes it.
func (s *Server) finish(ctx context.Context, threadID string, events <-chan campaign.Event) (TurnResult, error) {
	res := TurnResult{Steps: []string{}}
	for ev := range events {
		switch ev.Kind {
		case graph.EventStepCompleted:
			res.Steps = append(res.Steps, ev.NodeID)
		case graph.EventPaused:
			res.Status = "paused"
		case graph.EventCompleted:
			res.Status = "completed"
		case graph.EventError:
			res.Status = "error"
			res.Error = ev.Err.Error()
		}
	}
	if res.Status == "" {
		if err := ctx.Err(); err != nil {
			return TurnResult{}, err
		}
		return TurnResult{}, errors.New("turn ended without a result")
	}

	view, err := s.view(ctx, threadID)
	if err != nil {
		return TurnResult{}, err
	}
	res.Campaign = view
	if res.Status == "paused" {
		res.Suggestions = s.svc.Suggestions(ctx, threadID)
	}
	return res, nil
}

func (s *Server) view(ctx context.Context, threadID string) (Campaign, error) {
	state, err := s.svc.LatestState(ctx, threadID)
	if err != nil {
		return Campaign{}, err
	}
	paused, err := s.svc.Paused(ctx, threadID)
	if err != nil {
		return Campaign{}, err
	}
	return Campaign{
		ThreadID:  threadID,
		Title:     campaign.Title(threadID, state),
		Paused:    paused,
		Plan:      state.Plan,
		Party:     state.Party,
		Portraits: state.Portraits,
		Narrative: state.Narrative,
	}, nil
}
