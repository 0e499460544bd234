package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/openrobot-bhv/internal/agent"
	"example.com/openrobot-bhv/internal/db"
)

// Agent is the part of the engine the API drives. Runs are never started
// from a handler goroutine; they are queued as commands.
type Agent interface {
	TreeNames() []string
	CurrentRun() (agent.RunRecord, bool)
	Enqueue(cmd agent.Command) error
}

// RunHistory reads finished runs.
type RunHistory interface {
	ListRuns(ctx context.Context, tree string, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (db.Run, error)
	ListRunEvents(ctx context.Context, id string) ([]db.Event, error)
}

type Server struct {
	Addr    string
	Agent   Agent
	History RunHistory
	Hub     *Hub
}

func NewServer(addr string, a Agent, history RunHistory, hub *Hub) *Server {
	return &Server{Addr: addr, Agent: a, History: history, Hub: hub}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/trees", s.handleListTrees)
	mux.HandleFunc("/api/trees/", s.handleTreeSubroutes)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/facts", s.handleSetFact)
	mux.HandleFunc("/api/runs", s.handleListRuns)
	mux.HandleFunc("/api/runs/", s.handleRunItem)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/ws", s.handleWS)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[http] shutdown: %v", err)
		}
	}()
	log.Printf("[http] listening on %s", s.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"trees": s.Agent.TreeNames()})
}

// handleTreeSubroutes serves POST /api/trees/{name}/run.
func (s *Server) handleTreeSubroutes(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/api/trees/")
	name, action, ok := strings.Cut(tail, "/")
	if !ok || action != "run" || name == "" {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.hasTree(name) {
		respondError(w, http.StatusNotFound, "unknown tree: "+name)
		return
	}
	s.enqueue(w, agent.CommandRunTree, agent.RunTreeData{Tree: name})
}

func (s *Server) hasTree(name string) bool {
	for _, n := range s.Agent.TreeNames() {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.enqueue(w, agent.CommandStop, nil)
}

func (s *Server) handleSetFact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req agent.SetFactData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Key == "" {
		respondError(w, http.StatusBadRequest, "key is required")
		return
	}
	s.enqueue(w, agent.CommandSetFact, req)
}

func (s *Server) enqueue(w http.ResponseWriter, typ string, data interface{}) {
	cmd, err := agent.NewCommand(typ, data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.Agent.Enqueue(cmd); err != nil {
		if errors.Is(err, agent.ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "command": typ})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.History.ListRuns(r.Context(), r.URL.Query().Get("tree"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

type runDetail struct {
	Run    db.Run     `json:"run"`
	Events []db.Event `json:"events"`
}

// handleRunItem serves GET /api/runs/current and GET /api/runs/{id}.
func (s *Server) handleRunItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/api/runs/")
	if id == "" || strings.Contains(id, "/") {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if id == "current" {
		rec, ok := s.Agent.CurrentRun()
		if !ok {
			respondError(w, http.StatusNotFound, "no active run")
			return
		}
		respondJSON(w, http.StatusOK, rec)
		return
	}

	run, err := s.History.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.History.ListRunEvents(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, runDetail{Run: run, Events: events})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Hub.ServeSSE(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Hub.ServeWS(w, r)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
