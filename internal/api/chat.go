package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Keyring-Network/keyring-chat/internal/protocol"
	"github.com/Keyring-Network/keyring-chat/internal/turn"
)

type chatRequest struct {
	Messages  []protocol.UIMessage `json:"messages"`
	Model     string               `json:"model"`
	ThreadID  string               `json:"threadId"`
	WebSearch bool                 `json:"webSearch"`

	// IsWebSearch is the older name for WebSearch; either enables search.
	IsWebSearch bool `json:"isWebSearch"`
}

func (s *Server) chatStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCaller(w, r); !ok {
		return
	}
	writeJSONStatus(w, map[string]any{"success": true, "status": "ok"}, http.StatusOK)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	stream := &lazyStream{w: w}
	result, err := s.turns.Run(r.Context(), turn.Request{
		UserID:    caller.UserID,
		ThreadID:  req.ThreadID,
		Model:     req.Model,
		Messages:  req.Messages,
		WebSearch: req.WebSearch || req.IsWebSearch,
	}, stream)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "Unauthorized")
		case errors.Is(err, turn.ErrThreadNotFound):
			writeError(w, http.StatusNotFound, "Thread not found")
		case errors.Is(err, turn.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Failed to process chat")
		}
		return
	}
	if !stream.started() {
		writeError(w, http.StatusInternalServerError, protocol.ErrStreamingUnsupported.Error())
		return
	}
	if result.Outcome != turn.OutcomeAborted {
		_ = stream.Close()
	}
}

// lazyStream opens the event stream on the first event so that failures
// detected before it can still be answered with a status code.
type lazyStream struct {
	w      http.ResponseWriter
	writer *protocol.Writer
}

func (l *lazyStream) Emit(event protocol.Event) error {
	if l.writer == nil {
		writer, err := protocol.NewWriter(l.w)
		if err != nil {
			return err
		}
		l.writer = writer
	}
	return l.writer.Emit(event)
}

func (l *lazyStream) started() bool {
	return l.writer != nil
}

func (l *lazyStream) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}
