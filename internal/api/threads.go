package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Keyring-Network/keyring-chat/internal/events"
	"github.com/Keyring-Network/keyring-chat/internal/store"
)

var heartbeatInterval = 15 * time.Second

type createThreadRequest struct {
	Model string `json:"model"`
}

type threadResponse struct {
	ID        string  `json:"id"`
	Model     string  `json:"model"`
	Title     *string `json:"title"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

type messageResponse struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Reasoning *string  `json:"reasoning"`
	Sources   []string `json:"sources"`
	Model     string   `json:"model"`
	CreatedAt string   `json:"createdAt"`
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	thread := store.Thread{
		ID:        s.newID(),
		UserID:    caller.UserID,
		Model:     model,
		CreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.CreateThread(r.Context(), thread); err != nil {
		s.logger.Error("create thread failed", "user_id", caller.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create thread")
		return
	}
	writeJSONStatus(w, map[string]string{"threadId": thread.ID, "model": thread.Model}, http.StatusOK)
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	threads, err := s.store.ListThreads(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list threads")
		return
	}
	out := make([]threadResponse, 0, len(threads))
	for _, thread := range threads {
		out = append(out, toThreadResponse(thread))
	}
	writeJSONStatus(w, map[string]any{"threads": out}, http.StatusOK)
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r)
	if !ok {
		return
	}
	messages, err := s.store.ListMessages(r.Context(), thread.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	out := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toMessageResponse(msg))
	}
	writeJSONStatus(w, map[string]any{"thread": toThreadResponse(*thread), "messages": out}, http.StatusOK)
}

// ownedThread loads the thread named in the URL, answering 401/404/500 itself.
func (s *Server) ownedThread(w http.ResponseWriter, r *http.Request) (*store.Thread, bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return nil, false
	}
	threadID := chi.URLParam(r, "id")
	thread, err := s.store.GetThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load thread")
		return nil, false
	}
	if thread == nil || thread.UserID != caller.UserID {
		writeError(w, http.StatusNotFound, "Thread not found")
		return nil, false
	}
	return thread, true
}

func (s *Server) streamThreadEvents(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	eventsChan := s.broker.Subscribe(ctx, thread.ID)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			sendSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.ThreadEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprint(w, "event: thread_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func toThreadResponse(thread store.Thread) threadResponse {
	return threadResponse{
		ID:        thread.ID,
		Model:     thread.Model,
		Title:     optional(thread.Title),
		CreatedAt: thread.CreatedAt,
		UpdatedAt: thread.UpdatedAt,
	}
}

func toMessageResponse(msg store.Message) messageResponse {
	return messageResponse{
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		Reasoning: optional(msg.Reasoning),
		Sources:   msg.Sources,
		Model:     msg.Model,
		CreatedAt: msg.CreatedAt,
	}
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
