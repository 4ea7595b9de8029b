// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/seir-lattice/internal/archive"
	"github.com/talgya/seir-lattice/internal/engine"
	"github.com/talgya/seir-lattice/internal/lattice"
	"github.com/talgya/seir-lattice/internal/persistence"
	"github.com/talgya/seir-lattice/internal/stats"
)

const (
	maxStreamConns  = 8
	streamHeartbeat = 15 * time.Second
	writeWait       = 5 * time.Second
)

// Server serves the simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine  // Optional. Nil means no live loop.
	DB       *persistence.DB // Optional. Nil disables /runs.
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	streamConns int32
	upgrader    websocket.Upgrader
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	streamLimiter := NewRateLimiter(30, time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/lattice", s.handleLattice)
	mux.HandleFunc("GET /api/v1/lattice/{day}", s.handleLattice)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/stream", RateLimitMiddleware(streamLimiter, s.handleStream))

	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server can
// be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "persistence", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no SEIRSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) speed() (float64, bool) {
	if s.Eng == nil {
		return 0, false
	}
	return s.Eng.Speed(), s.Eng.Running()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.Sim.Config
	day := s.Sim.Day()
	speed, running := s.speed()

	status := map[string]any{
		"run_id":     s.Sim.RunID,
		"day":        day,
		"population": s.Sim.Population(),
		"grid":       map[string]int{"width": cfg.Width, "height": cfg.Height},
		"edge_mode":  cfg.EdgeMode.String(),
		"lockdown":   cfg.LockdownActive(day),
		"speed":      speed,
		"running":    running,
	}
	if day > 0 {
		status["current"] = stats.FromSnapshot(day-1, s.Sim.Current())
	} else {
		// Placement precedes day 0, so its counts carry no day.
		c := stats.FromSnapshot(0, s.Sim.Current())
		status["initial"] = map[string]int{
			"susceptible": c.Susceptible,
			"exposed":     c.Exposed,
			"infectious":  c.Infectious,
			"removed":     c.Removed,
		}
	}
	if rows := s.Sim.Rows(); len(rows) > 0 {
		status["latest"] = rows[len(rows)-1]
		if peak, ok := rows.Peak(); ok {
			status["peak"] = peak
		}
	}
	writeJSON(w, status)
}

// handleStats returns the live table, or a persisted run's table with ?run=.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	if runID == "" || runID == s.Sim.RunID {
		writeJSON(w, s.Sim.Rows())
		return
	}
	if s.DB == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	table, err := s.DB.LoadTable(runID)
	if err != nil {
		http.Error(w, "load stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, table)
}

type latticeResponse struct {
	Day      int       `json:"day"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Encoding string    `json:"encoding"`
	Cells    string    `json:"cells"`
	Counts   stats.Row `json:"counts"`
}

// handleLattice serves the live lattice, or the snapshot recorded at the end
// of a given day.
func (s *Server) handleLattice(w http.ResponseWriter, r *http.Request) {
	var (
		snap lattice.Snapshot
		day  int
	)
	if raw := r.PathValue("day"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid day", http.StatusBadRequest)
			return
		}
		var ok bool
		if snap, ok = s.Sim.Snapshot(d); !ok {
			http.Error(w, "day not simulated", http.StatusNotFound)
			return
		}
		day = d
	} else {
		snap = s.Sim.Current()
		day = s.Sim.Day() - 1
	}

	writeJSON(w, latticeResponse{
		Day:      day,
		Width:    snap.Width,
		Height:   snap.Height,
		Encoding: "rle",
		Cells:    archive.EncodeRLE(snap.Cells),
		Counts:   stats.FromSnapshot(day, snap),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be 1-500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.DB.Runs(limit)
	if err != nil {
		http.Error(w, "list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "no engine attached", http.StatusNotFound)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	} else if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleStream upgrades to a websocket and pushes one JSON DayReport per
// completed day until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streamConns, 1)
	defer atomic.AddInt32(&s.streamConns, -1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	// Subscribe before the handshake completes so no day is missed.
	subID, ch := s.Sim.Subscribe()
	defer s.Sim.Unsubscribe(subID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	slog.Info("stream client connected", "sub_id", subID, "ip", clientIP(r))

	// Reader: the client sends nothing meaningful; a read error means it left.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case rep, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(rep)
			if err != nil {
				slog.Error("encode day report", "error", err)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			slog.Info("stream client disconnected", "sub_id", subID)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
