package orchestrator

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/haasonsaas/switchboard/internal/interaction"
	"github.com/haasonsaas/switchboard/internal/tools"
	"github.com/haasonsaas/switchboard/internal/transcribe"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message is required"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "default"
	}

	reply, err := s.chat.Process(r.Context(), message, sessionID)
	if err != nil {
		s.logger.Error("chat processing failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "chat processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleTools proxies the tool server's descriptor list as a bare
// array, the shape chat clients already consume.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	list, err := s.toolClient.ListTools(r.Context())
	if err != nil {
		s.logger.Error("tool list proxy failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "tool server unavailable"})
		return
	}
	if list == nil {
		list = []tools.Descriptor{}
	}
	writeJSON(w, http.StatusOK, list)
}

type testToolRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// handleTestTool invokes one tool directly, bypassing routing and the
// interaction log. Meant for manual poking, hence the fixed session.
func (s *Server) handleTestTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req testToolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "tool_name is required"})
		return
	}
	res, err := s.toolClient.CallTool(r.Context(), req.ToolName, req.Arguments, "test-session")
	if err != nil {
		s.logger.Error("test tool call failed", "tool", req.ToolName, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "tool server unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type feedbackRequest struct {
	InteractionID string `json:"interaction_id"`
	SessionID     string `json:"session_id"`
	Feedback      string `json:"feedback"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.feedback == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "feedback storage not available"})
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	message, err := s.feedback.Apply(r.Context(), req.SessionID, req.InteractionID, interaction.Feedback(req.Feedback))
	switch {
	case errors.Is(err, interaction.ErrInvalidFeedback):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "feedback must be 'thumbs_up' or 'thumbs_down'"})
	case errors.Is(err, interaction.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "interaction not found"})
	case err != nil:
		s.logger.Error("feedback failed", "interaction_id", req.InteractionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to record feedback"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": message})
	}
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/interaction/")
	sessionID, interactionID, ok := strings.Cut(rest, "/")
	if !ok || sessionID == "" || interactionID == "" || strings.Contains(interactionID, "/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	if s.log == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "interaction log not available"})
		return
	}

	in, err := s.log.Get(r.Context(), sessionID, interactionID)
	switch {
	case errors.Is(err, interaction.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "interaction not found"})
	case err != nil:
		s.logger.Error("interaction lookup failed", "interaction_id", interactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "interaction lookup failed"})
	default:
		writeJSON(w, http.StatusOK, in)
	}
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/interactions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	if s.log == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "interaction log not available"})
		return
	}

	ids, err := s.log.SessionIDs(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("session index lookup failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session lookup failed"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":      sessionID,
		"interaction_ids": ids,
		"count":           len(ids),
	})
}

type transcribeResponse struct {
	Text    string `json:"text"`
	Warning string `json:"warning,omitempty"`
}

// handleTranscribe accepts a multipart WAV upload under the "file"
// field, with an optional "language" field, and bridges it to the
// transcriber. Unsupported audio is the caller's problem (400); a
// broken bridge maps onto gateway statuses by error kind.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.transcriber == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "transcription not configured"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)

	file, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "audio upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read audio upload"})
		return
	}

	format, pcm, err := transcribe.ParseWAV(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, invalidAudio(err))
		return
	}
	if err := format.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, invalidAudio(err))
		return
	}

	text, err := s.transcriber.Transcribe(r.Context(), format, pcm, r.FormValue("language"))
	if err != nil {
		kind := transcribe.KindOf(err)
		s.logger.Error("transcription failed", "kind", string(kind), "error", err)
		writeJSON(w, bridgeStatus(kind), map[string]any{
			"error": map[string]any{"kind": string(kind), "message": "transcription failed"},
		})
		return
	}

	resp := transcribeResponse{Text: text}
	if text == "" {
		resp.Warning = "transcriber returned empty transcript"
	}
	writeJSON(w, http.StatusOK, resp)
}

// invalidAudio shapes a WAV validation failure like a typed tool error
// so clients see one error vocabulary across the API.
func invalidAudio(err error) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"kind":    string(tools.KindInvalidArguments),
			"message": err.Error(),
		},
	}
}

func bridgeStatus(kind tools.ErrorKind) int {
	switch kind {
	case tools.KindEffectorUnavailable:
		return http.StatusServiceUnavailable
	case tools.KindEffectorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// decodeJSON reads a bounded JSON body into dst, answering the request
// itself when the body is oversized or malformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return false
	}
	return true
}
