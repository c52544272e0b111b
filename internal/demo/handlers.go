package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finchat-io/finchat/internal/assistant"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleChat handles POST /api/v1/ai/chat. It runs the same planner as
// the streaming endpoint but returns one complete response. Actions that
// would need confirmation are described, not parked.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess, _ := s.mem.getOrCreate(req.SessionID)
	s.mem.appendMessage(sess.ID, assistant.RoleUser, req.Message, nil)

	plan := s.assist.plan(sess.ID, req.Message)
	text := plan.text
	if plan.confirm != nil {
		text += " I need your confirmation in a live chat before making changes."
	}
	s.mem.appendMessage(sess.ID, assistant.RoleAssistant, text, plan.tools)

	respondJSON(w, http.StatusOK, assistant.ChatResponse{
		SessionID: sess.ID,
		Message:   text,
		ToolsUsed: emptyIfNil(plan.tools),
	})
}

// handleChatStream handles POST /api/v1/ai/chat/stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	sess, _ := s.mem.getOrCreate(req.SessionID)
	writeSSE(w, flusher, assistant.EventSession, assistant.SessionEvent{SessionID: sess.ID})

	s.mem.appendMessage(sess.ID, assistant.RoleUser, req.Message, nil)
	plan := s.assist.plan(sess.ID, req.Message)

	for _, tool := range plan.tools {
		if !s.pause(ctx) {
			return
		}
		writeSSE(w, flusher, assistant.EventTool, assistant.ToolEvent{Tool: tool})
	}
	if !s.streamText(ctx, w, flusher, plan.text) {
		return
	}

	if plan.fail != "" {
		writeSSE(w, flusher, assistant.EventError, assistant.ErrorEvent{Error: plan.fail})
		return
	}

	if plan.confirm != nil {
		s.mem.park(plan.confirm)
		writeSSE(w, flusher, assistant.EventConfirmationRequired, assistant.ConfirmationRequiredEvent{
			ActionID:   plan.confirm.ID,
			ActionType: plan.confirm.Type,
			Summary:    plan.confirm.Summary,
			Details:    plan.confirm.Details,
		})
	}

	s.mem.appendMessage(sess.ID, assistant.RoleAssistant, plan.text, plan.tools)
	writeSSE(w, flusher, assistant.EventDone, assistant.DoneEvent{ToolsUsed: emptyIfNil(plan.tools)})
}

// handleConfirm handles POST /api/v1/ai/chat/confirm. The response is a
// stream: an action_result for the decision, narration, then done.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req assistant.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ActionID == "" {
		s.writeError(w, http.StatusBadRequest, "action_id is required")
		return
	}

	action, ok := s.mem.take(req.ActionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown or already resolved action")
		return
	}

	flusher, sok := startSSE(w)
	if !sok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()

	if !req.Confirmed {
		writeSSE(w, flusher, assistant.EventActionResult, assistant.ActionResultEvent{
			ActionID: action.ID,
			Success:  false,
			Message:  "action declined",
		})
		text := "No problem, I left everything untouched."
		if s.streamText(ctx, w, flusher, text) {
			s.mem.appendMessage(action.SessionID, assistant.RoleAssistant, text, nil)
			writeSSE(w, flusher, assistant.EventDone, assistant.DoneEvent{ToolsUsed: []string{}})
		}
		return
	}

	result, err := action.apply()
	if err != nil {
		writeSSE(w, flusher, assistant.EventActionResult, assistant.ActionResultEvent{
			ActionID: action.ID,
			Success:  false,
			Message:  err.Error(),
		})
		text := fmt.Sprintf("I couldn't complete that: %s.", err.Error())
		if s.streamText(ctx, w, flusher, text) {
			s.mem.appendMessage(action.SessionID, assistant.RoleAssistant, text, nil)
			writeSSE(w, flusher, assistant.EventDone, assistant.DoneEvent{ToolsUsed: []string{}})
		}
		return
	}

	writeSSE(w, flusher, assistant.EventActionResult, assistant.ActionResultEvent{
		ActionID: action.ID,
		Success:  true,
		Message:  result,
	})
	if s.streamText(ctx, w, flusher, result) {
		s.mem.appendMessage(action.SessionID, assistant.RoleAssistant, result, []string{action.Type})
		writeSSE(w, flusher, assistant.EventDone, assistant.DoneEvent{ToolsUsed: []string{action.Type}})
	}
}

// handleListSessions handles GET /api/v1/ai/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.mem.list())
}

// handleGetSession handles GET /api/v1/ai/sessions/{session_id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.mem.get(chi.URLParam(r, "session_id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// handleUpdateSession handles PUT /api/v1/ai/sessions/{session_id}.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req assistant.UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, ok := s.mem.update(chi.URLParam(r, "session_id"), req)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleDeleteSession handles DELETE /api/v1/ai/sessions/{session_id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.mem.delete(chi.URLParam(r, "session_id")) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startSSE switches the response to a server-sent event stream.
func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// writeSSE emits one event/data frame and flushes it to the client.
func writeSSE(w io.Writer, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// streamText emits narration as small token events. It reports false
// when the client went away mid-stream.
func (s *Server) streamText(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, text string) bool {
	for _, chunk := range tokenize(text) {
		if !s.pause(ctx) {
			return false
		}
		if err := writeSSE(w, flusher, assistant.EventToken, assistant.TokenEvent{Content: chunk}); err != nil {
			return false
		}
	}
	return true
}

// pause waits one token delay, bailing out if the client disconnected.
func (s *Server) pause(ctx context.Context) bool {
	if s.config.TokenDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.config.TokenDelay):
		return true
	}
}

func emptyIfNil(tools []string) []string {
	if tools == nil {
		return []string{}
	}
	return tools
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
