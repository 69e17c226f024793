package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/haasonsaas/cmdguard/internal/commands"
	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/observability"
	"github.com/haasonsaas/cmdguard/internal/policy"
)

// ToolCallRequest asks whether an agent tool call may run.
type ToolCallRequest struct {
	SessionKey string `json:"sessionKey,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Command    string `json:"command"`
}

// UserBashRequest asks whether a user-typed command may run.
type UserBashRequest struct {
	SessionKey string `json:"sessionKey,omitempty"`
	Command    string `json:"command"`
}

// CommandRequest invokes a policy command.
type CommandRequest struct {
	SessionKey string `json:"sessionKey,omitempty"`
	Args       string `json:"args,omitempty"`
}

// SessionRequest starts or ends a session.
type SessionRequest struct {
	SessionKey string `json:"sessionKey,omitempty"`
}

// ExplainResponse is the per-segment trace for a command.
type ExplainResponse struct {
	Command  string                   `json:"command"`
	Blocked  bool                     `json:"blocked"`
	Segments []policy.SegmentDecision `json:"segments"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "store": s.guard.StoreDescription()})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req ToolCallRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	ctx := observability.AddSessionID(r.Context(), req.SessionKey)
	call, err := s.hooks.DispatchToolCall(ctx, req.SessionKey, &hooks.ToolCall{
		ToolName:   req.ToolName,
		ToolCallID: req.ToolCallID,
		Command:    req.Command,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "tool.call handler failed", "error", err)
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleUserBash(w http.ResponseWriter, r *http.Request) {
	var req UserBashRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	ctx := observability.AddSessionID(r.Context(), req.SessionKey)
	bash, err := s.hooks.DispatchUserBash(ctx, req.SessionKey, req.Command)
	if err != nil {
		s.logger.WarnContext(ctx, "user.bash handler failed", "error", err)
	}
	writeJSON(w, http.StatusOK, bash)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req UserBashRequest
	if !s.decode(w, r, &req) {
		return
	}
	segments := s.guard.Explain(r.Context(), req.SessionKey, req.Command)
	resp := ExplainResponse{Command: req.Command, Segments: segments}
	for _, seg := range segments {
		if seg.Blocked {
			resp.Blocked = true
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusNotFound, "commands are not enabled")
		return
	}
	name := r.PathValue("name")
	if _, ok := s.commands.Get(name); !ok {
		writeError(w, http.StatusNotFound, "unknown command "+name)
		return
	}

	var req CommandRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	ctx := observability.AddSessionID(r.Context(), req.SessionKey)
	result, err := s.commands.Execute(ctx, &commands.Invocation{
		Name:       name,
		Args:       req.Args,
		RawText:    strings.TrimSpace("/" + name + " " + req.Args),
		SessionKey: req.SessionKey,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "command failed", "command", name, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if result.Error != "" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	ctx := observability.AddSessionID(r.Context(), req.SessionKey)
	if err := s.hooks.EmitSession(ctx, hooks.EventSessionStart, req.SessionKey); err != nil {
		s.logger.WarnContext(ctx, "session.start handler failed", "error", err)
	}
	writeJSON(w, http.StatusOK, s.guard.Status(req.SessionKey))
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	ctx := observability.AddSessionID(r.Context(), req.SessionKey)
	if err := s.hooks.EmitSession(ctx, hooks.EventSessionShutdown, req.SessionKey); err != nil {
		s.logger.WarnContext(ctx, "session.shutdown handler failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionKey": req.SessionKey, "ended": true})
}

// handleStatus reports the rules seen by the session named in the
// sessionKey query parameter.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Status(r.URL.Query().Get("sessionKey")))
}

// decode reads a size-limited JSON body, writing the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return s.decodeBody(w, r, v, false)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// decodeOptional is decode for requests whose body may be empty, including
// empty chunked bodies.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	return s.decodeBody(w, r, v, true)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}
