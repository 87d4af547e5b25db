// Package api provides the HTTP API, the voice WebSocket endpoint and
// static asset serving.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/upskill-ai/salescoach/internal/agent"
	"github.com/upskill-ai/salescoach/internal/analyze"
	"github.com/upskill-ai/salescoach/internal/config"
	"github.com/upskill-ai/salescoach/internal/graphgen"
	"github.com/upskill-ai/salescoach/internal/scenario"
	"github.com/upskill-ai/salescoach/internal/voiceproxy"
)

const (
	// Voice frames carry base64 audio deltas inside JSON; allow up to 1MB.
	maxVoiceMessageBytes = 1024 * 1024
	// Analyze requests include the full recorded audio.
	maxAnalyzeBodyBytes = 32 * 1024 * 1024
)

// Server is the HTTP server for the training application.
type Server struct {
	scenarios     *scenario.Manager
	agents        *agent.Manager
	analyzer      *analyze.ConversationAnalyzer
	assessor      *analyze.PronunciationAssessor
	generator     *graphgen.Generator
	proxy         *voiceproxy.Handler
	logger        *slog.Logger
	mux           *chi.Mux
	staticDir     string
	graphDataFile string
	upgrader      websocket.Upgrader
}

// NewServer wires the API routes.
func NewServer(
	scenarios *scenario.Manager,
	agents *agent.Manager,
	analyzer *analyze.ConversationAnalyzer,
	assessor *analyze.PronunciationAssessor,
	generator *graphgen.Generator,
	proxy *voiceproxy.Handler,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	srv := &Server{
		scenarios:     scenarios,
		agents:        agents,
		analyzer:      analyzer,
		assessor:      assessor,
		generator:     generator,
		proxy:         proxy,
		logger:        logger.With("component", "api"),
		staticDir:     cfg.Server.StaticDir,
		graphDataFile: cfg.Server.GraphDataFile,
		upgrader:      makeUpgrader(cfg.Server.AllowedOrigins),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/api/config", srv.handleConfig)
	mux.Get("/api/scenarios", srv.handleListScenarios)
	mux.Get("/api/scenarios/{id}", srv.handleGetScenario)
	mux.Post("/api/scenarios/graph", srv.handleGenerateGraphScenario)
	mux.Post("/api/agents/create", srv.handleCreateAgent)
	mux.Delete("/api/agents/{id}", srv.handleDeleteAgent)
	mux.Post("/api/analyze", srv.handleAnalyze)
	mux.Get("/ws/voice", srv.handleVoiceWS)

	if srv.staticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(srv.staticDir)))
		mux.Get("/static/*", fs.ServeHTTP)
		mux.Get("/audio-processor.js", srv.serveStatic("audio-processor.js"))
		mux.Get("/", srv.serveStatic("index.html"))
	}

	srv.mux = mux
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"proxy_enabled": true,
		"ws_endpoint":   "/ws/voice",
	})
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scenarios.List())
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, ok := s.scenarios.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Scenario not found")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleGenerateGraphScenario builds a personalized scenario from canned
// Graph calendar data. The generated scenario is stored so agents can be
// created against it afterwards.
func (s *Server) handleGenerateGraphScenario(w http.ResponseWriter, r *http.Request) {
	// A missing data file degrades to the fallback scenario, not an error.
	var data graphgen.CalendarData
	raw, err := os.ReadFile(s.graphDataFile)
	if err != nil {
		s.logger.Error("graph data file not readable", "file", s.graphDataFile, "error", err)
	} else if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Error("graph data file not parseable", "file", s.graphDataFile, "error", err)
		writeError(w, http.StatusInternalServerError, "invalid graph data")
		return
	}

	gen, err := s.generator.Generate(r.Context(), data)
	if err != nil {
		s.logger.Error("graph scenario generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.scenarios.StoreGenerated(gen.ID, &gen.Scenario)
	writeJSON(w, http.StatusOK, gen)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScenarioID == "" {
		writeError(w, http.StatusBadRequest, "scenario_id is required")
		return
	}

	sc, ok := s.scenarios.Get(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Scenario not found")
		return
	}

	a, err := s.agents.Create(req.ScenarioID, sc)
	if err != nil {
		s.logger.Error("agent creation failed", "scenario_id", req.ScenarioID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id":    a.ID,
		"scenario_id": req.ScenarioID,
	})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	s.agents.Delete(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBodyBytes)

	var req struct {
		ScenarioID string               `json:"scenario_id"`
		Transcript string               `json:"transcript"`
		AudioData  []analyze.AudioChunk `json:"audio_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ScenarioID == "" || req.Transcript == "" {
		writeError(w, http.StatusBadRequest, "scenario_id and transcript are required")
		return
	}

	s.logger.Info("analyze request", "scenario_id", req.ScenarioID,
		"transcript_len", len(req.Transcript), "audio_chunks", len(req.AudioData))

	// Both analyses run concurrently; a failure leaves its half of the
	// response null.
	var (
		wg            sync.WaitGroup
		evaluation    *analyze.Evaluation
		pronunciation *analyze.PronunciationResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		result, err := s.analyzer.Analyze(r.Context(), req.ScenarioID, req.Transcript)
		if err != nil {
			s.logger.Error("conversation analysis failed", "scenario_id", req.ScenarioID, "error", err)
			return
		}
		evaluation = result
	}()
	go func() {
		defer wg.Done()
		result, err := s.assessor.Assess(r.Context(), req.AudioData, req.Transcript)
		if err != nil {
			s.logger.Error("pronunciation assessment failed", "scenario_id", req.ScenarioID, "error", err)
			return
		}
		pronunciation = result
	}()
	wg.Wait()

	writeJSON(w, http.StatusOK, map[string]any{
		"ai_assessment":            evaluation,
		"pronunciation_assessment": pronunciation,
	})
}

func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("voice websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxVoiceMessageBytes)
	s.proxy.Handle(conn)
}

func (s *Server) serveStatic(name string) http.HandlerFunc {
	path := filepath.Join(s.staticDir, name)
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
