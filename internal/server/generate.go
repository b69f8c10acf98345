package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dshills/questforge/campaign"
	"github.com/dshills/questforge/graph"
)

// GenerateRequest starts a thread, or resumes one when ResumeAction is set.
// ResumeAction is "approve" or free-text edit instructions.
type GenerateRequest struct {
	Difficulty   string `json:"difficulty"`
	Terrain      string `json:"terrain"`
	Requirements string `json:"requirements"`
	PartyName    string `json:"party_name"`
	PartySize    int    `json:"party_size"`
	RosterLocked bool   `json:"roster_locked"`

	ThreadID     string `json:"thread_id"`
	ResumeAction string `json:"resume_action"`
}

func (req GenerateRequest) inputs() campaign.Inputs {
	return campaign.Inputs{
		Difficulty:   campaign.Difficulty(req.Difficulty),
		Terrain:      campaign.Terrain(req.Terrain),
		Requirements: req.Requirements,
		PartyName:    req.PartyName,
		PartySize:    req.PartySize,
		RosterLocked: req.RosterLocked,
	}
}

// generate runs one turn and streams it. Validation failures are plain
// JSON errors; once the stream has started, faults arrive as error events.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	var (
		threadID = req.ThreadID
		events   <-chan campaign.Event
		err      error
	)
	switch {
	case strings.TrimSpace(req.ResumeAction) != "":
		if threadID == "" {
			s.fail(w, r, fmt.Errorf("%w: thread_id is required to resume", errBadRequest))
			return
		}
		events, err = s.svc.Resume(ctx, threadID, campaign.ParseResumeAction(req.ResumeAction))
	case threadID != "":
		s.fail(w, r, fmt.Errorf("%w: resume_action is required with thread_id", errBadRequest))
		return
	default:
		threadID, events, err = s.svc.Start(ctx, req.inputs())
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher}
	sse.send("thread_id", map[string]string{"thread_id": threadID})

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "client disconnected", "thread_id", threadID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.forward(r, sse, ev)
		}
	}
}

// forward translates one engine event into SSE frames.
func (s *Server) forward(r *http.Request, sse *sseWriter, ev campaign.Event) {
	switch ev.Kind {
	case graph.EventStepStarted:
		if label := campaign.StatusLabel(ev.NodeID); label != "" {
			sse.send("status", map[string]string{"status": label})
		}
	case graph.EventStepCompleted:
		if ev.Update.Plan != nil {
			sse.send("plan", ev.Update.Plan)
		}
		if ev.Update.Party != nil {
			sse.send("party", ev.Update.Party)
		}
		if ev.Update.Portraits != nil {
			sse.send("portraits", ev.Update.Portraits)
		}
		if ev.Update.Narrative != nil {
			sse.send("narrative", ev.Update.Narrative)
		}
	case graph.EventPaused:
		sse.send("hitl", map[string]interface{}{
			"thread_id":   ev.ThreadID,
			"suggestions": s.svc.Suggestions(r.Context(), ev.ThreadID),
		})
	case graph.EventCompleted:
		sse.send("done", "Generation Complete!")
	case graph.EventError:
		s.logger.ErrorContext(r.Context(), "turn failed", "thread_id", ev.ThreadID, "node_id", ev.NodeID, "error", ev.Err)
		sse.send("error", map[string]string{"error": ev.Err.Error()})
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// send writes one event frame. Strings are sent as-is; anything else is
// JSON encoded.
func (s *sseWriter) send(event string, data interface{}) {
	var payload string
	switch v := data.(type) {
	case string:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			payload = fmt.Sprintf(`{"error":%q}`, err.Error())
			event = "error"
		} else {
			payload = string(b)
		}
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload)
	s.flusher.Flush()
}
