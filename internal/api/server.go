package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-chat/internal/auth"
	"github.com/Keyring-Network/keyring-chat/internal/events"
	"github.com/Keyring-Network/keyring-chat/internal/store"
	"github.com/Keyring-Network/keyring-chat/internal/turn"
)

type Server struct {
	store    store.Store
	broker   Broker
	turns    TurnRunner
	titles   TitleGenerator
	resolver auth.Resolver
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
}

type Broker interface {
	Publish(event events.ThreadEvent)
	Subscribe(ctx context.Context, threadID string) <-chan events.ThreadEvent
}

type TurnRunner interface {
	Run(ctx context.Context, req turn.Request, emit turn.Emitter) (turn.Result, error)
}

type TitleGenerator interface {
	Generate(ctx context.Context, userID string, threadID string, seed string, model string) (string, error)
}

func NewServer(store store.Store, broker Broker, turns TurnRunner, titles TitleGenerator, resolver auth.Resolver) *Server {
	if resolver == nil {
		resolver = auth.HeaderResolver{}
	}
	return &Server{
		store:    store,
		broker:   broker,
		turns:    turns,
		titles:   titles,
		resolver: resolver,
		logger:   slog.Default(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(auth.Middleware(s.resolver))

	r.Get("/api/chat", s.chatStatus)
	r.Post("/api/chat", s.chat)
	r.Post("/api/threads", s.createThread)
	r.Get("/api/threads", s.listThreads)
	r.Get("/api/threads/{id}", s.getThread)
	r.Get("/api/threads/{id}/events", s.streamThreadEvents)
	r.Post("/api/generate-title", s.generateTitle)
	r.Get("/api/models", s.listModels)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	if method == http.MethodOptions {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListModels(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONStatus(w, map[string]string{"error": message}, statusCode)
}

// requireCaller writes a 401 and reports false when the request carries no
// identity.
func requireCaller(w http.ResponseWriter, r *http.Request) (auth.Caller, bool) {
	caller, ok := auth.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return auth.Caller{}, false
	}
	return caller, true
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
