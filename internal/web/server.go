package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/solvent-labs/svm/internal/logger"
	"github.com/solvent-labs/svm/internal/state"
	"github.com/solvent-labs/svm/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for engine status and accounting history
type WebServer struct {
	router *mux.Router
	port   string
}

// NewWebServer creates a new web server instance
func NewWebServer(port string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/strategies", ws.handleGetStrategies).Methods("GET")
	api.HandleFunc("/strategies/{id}/epochs", ws.handleGetStrategyEpochs).Methods("GET")
	api.HandleFunc("/strategies/{id}/yield", ws.handleGetStrategyYield).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth reports server and database health plus the latest cycle.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		status = "degraded"
		dbHealthy = false
	}

	cycleInfo := map[string]interface{}{
		"current_cycle":   0,
		"last_cycle_time": nil,
		"completed":       false,
	}
	if recent, err := state.GetRecentCycleSnapshots(1); err == nil && len(recent) > 0 {
		cycleInfo["current_cycle"] = recent[0].CycleNumber
		cycleInfo["last_cycle_time"] = recent[0].Timestamp
		cycleInfo["completed"] = recent[0].Completed
	}

	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"database_healthy": dbHealthy,
		"timestamp":        time.Now().UTC(),
		"cycle":            cycleInfo,
	})
}

// handleGetSummary returns the aggregated protocol summary.
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetProtocolSummary()
	if err != nil {
		ws.writeError(w, http.StatusInternalServerError, "failed to load protocol summary", err)
		return
	}
	ws.writeJSON(w, http.StatusOK, summary)
}

// handleGetCycles returns recent cycle snapshots. Query param: limit.
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	cycles, err := state.GetRecentCycleSnapshots(limit)
	if err != nil {
		ws.writeError(w, http.StatusInternalServerError, "failed to load cycle snapshots", err)
		return
	}
	ws.writeJSON(w, http.StatusOK, cycles)
}

// handleGetStrategies returns all recorded strategies.
func (ws *WebServer) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := state.GetStrategies()
	if err != nil {
		ws.writeError(w, http.StatusInternalServerError, "failed to load strategies", err)
		return
	}
	ws.writeJSON(w, http.StatusOK, strategies)
}

// handleGetStrategyEpochs returns a strategy's settled epochs. Query param: limit.
func (ws *WebServer) handleGetStrategyEpochs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseStrategyID(w, r, ws)
	if !ok {
		return
	}
	epochs, err := state.GetStrategyEpochs(id, parseLimit(r, 50))
	if err != nil {
		ws.writeError(w, http.StatusInternalServerError, "failed to load strategy epochs", err)
		return
	}
	ws.writeJSON(w, http.StatusOK, epochs)
}

// handleGetStrategyYield returns a strategy's per-epoch yield series.
func (ws *WebServer) handleGetStrategyYield(w http.ResponseWriter, r *http.Request) {
	id, ok := parseStrategyID(w, r, ws)
	if !ok {
		return
	}
	points, err := state.GetStrategyYieldHistory(uint64(id), parseLimit(r, 100))
	if err != nil {
		ws.writeError(w, http.StatusInternalServerError, "failed to load yield history", err)
		return
	}
	ws.writeJSON(w, http.StatusOK, points)
}

// parseStrategyID extracts and validates the {id} path variable.
func parseStrategyID(w http.ResponseWriter, r *http.Request, ws *WebServer) (types.StrategyID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		ws.writeError(w, http.StatusBadRequest, "invalid strategy id", err)
		return 0, false
	}
	return types.StrategyID(id), true
}

// parseLimit reads the limit query parameter with a fallback.
func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

// writeJSON writes a JSON response with the given status code.
func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError logs and writes a JSON error response.
func (ws *WebServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	webLogger.Error().Err(err).Str("message", message).Msg("Request failed")
	ws.writeJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture the status code for the log line
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper captures the response status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
