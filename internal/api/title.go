package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Keyring-Network/keyring-chat/internal/title"
)

func (s *Server) generateTitle(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	threadID := strings.TrimSpace(r.PostForm.Get("threadId"))
	seed := r.PostForm.Get("aiResponse")
	model := strings.TrimSpace(r.PostForm.Get("model"))
	if threadID == "" || strings.TrimSpace(seed) == "" || model == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	generated, err := s.titles.Generate(r.Context(), caller.UserID, threadID, seed, model)
	if err != nil {
		switch {
		case errors.Is(err, title.ErrThreadNotFound):
			writeError(w, http.StatusNotFound, "Thread not found")
		case errors.Is(err, title.ErrMissingFields):
			writeError(w, http.StatusBadRequest, "Missing required fields")
		default:
			s.logger.Error("title generation failed", "thread_id", threadID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to generate title")
		}
		return
	}
	writeJSONStatus(w, map[string]any{"success": true, "title": generated}, http.StatusOK)
}
