// Package api is the agent's outer surface: the HTTP endpoints the UI polls,
// the websocket stream and the push client for a remote ingest API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"schedview-agent/models"
)

// Poller produces one sorted batch of process metrics per call
type Poller interface {
	Poll(ctx context.Context) ([]models.ProcessMetricsRecord, error)
}

// SummaryFunc reads the host summary
type SummaryFunc func(ctx context.Context) models.HostSummary

type Server struct {
	addr     string
	poller   Poller
	summary  SummaryFunc
	hub      *Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
	srv      *http.Server
}

func NewServer(addr string, poller Poller, summary SummaryFunc, hub *Hub, allowedOrigins []string, log *zap.Logger) *Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if !slices.Contains(allowedOrigins, origin) {
				log.Warn("websocket origin rejected", zap.String("origin", origin))
				return false
			}
			return true
		},
	}

	return &Server{
		addr:     addr,
		poller:   poller,
		summary:  summary,
		hub:      hub,
		upgrader: upgrader,
		log:      log,
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/processes", s.handleProcesses).Methods(http.MethodGet)
	r.HandleFunc("/api/system", s.handleSystem).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	return r
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting http server", zap.String("address", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "ok"})
}

// handleProcesses runs one poll. ?limit=N keeps the N busiest processes.
func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, APIResponse{Error: "limit must be a non-negative integer", Code: "BAD_LIMIT"})
			return
		}
		limit = n
	}

	records, err := s.poller.Poll(r.Context())
	if err != nil {
		s.log.Error("poll failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{Error: err.Error(), Code: "POLL_FAILED"})
		return
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.summary(r.Context()))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, s.log)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	s.log.Info("client connected", zap.String("id", client.ID), zap.Stringer("remote_addr", conn.RemoteAddr()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
