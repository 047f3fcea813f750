// Package httpapi is the loopback control surface: a small JSON API for
// operator tooling plus a websocket stream of live run progress. It binds
// to localhost; there is no authentication layer in front of it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"biosync/internal/bootstrap/config"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	"biosync/internal/ports"
	syncuc "biosync/internal/usecase/sync"
)

type Server struct {
	cfg   config.GatewayConfig
	svc   *syncuc.Service
	sched *syncuc.Scheduler
	repo  ports.LedgerReadRepository
	http  *http.Server
}

func NewServer(cfg config.GatewayConfig, svc *syncuc.Service, sched *syncuc.Scheduler, repo ports.LedgerReadRepository) *Server {
	s := &Server{
		cfg:   cfg,
		svc:   svc,
		sched: sched,
		repo:  repo,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// The websocket route stays outside this timeout; API calls are
		// bounded, the progress stream is not.
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/stats", s.handleStats)
		r.Get("/runs", s.handleRuns)

		r.Route("/terminals", func(r chi.Router) {
			r.Get("/", s.handleListTerminals)
			r.Post("/", s.handleAddTerminal)
			r.Delete("/{terminalID}", s.handleRemoveTerminal)
			r.Post("/{terminalID}/test", s.handleTestTerminal)
		})

		r.Post("/sync/pull", s.handleTriggerPull)
		r.Post("/sync/push", s.handleTrigger(sched.TriggerPushNow))
		r.Post("/sync/cleanup", s.handleTrigger(sched.TriggerCleanupNow))
	})
	r.Get("/ws", s.handleProgressSocket)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "gateway.httpapi"))
	logging.Info(logCtx, "gateway listening", slog.String("addr", s.cfg.Addr))

	s.http.BaseContext = func(net.Listener) context.Context { return ctx }
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.Wrap(err, "serve gateway")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":      status.Stats.Total,
		"synced":     status.Stats.Synced,
		"pending":    status.Stats.Pending,
		"errored":    status.Stats.Errored,
		"terminals":  status.Terminals,
		"loggedIn":   status.LoggedIn,
		"principal":  status.Principal,
		"lastPullAt": status.LastPullAt,
		"lastPushAt": status.LastPushAt,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	runs, err := s.repo.ListRuns(r.Context(), kind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	terminals, err := s.repo.ListTerminals(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, terminals)
}

func (s *Server) handleAddTerminal(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name string `json:"name"`
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, errs.Wrap(err, "decode terminal"))
		return
	}

	terminal, err := s.svc.AddTerminal(r.Context(), ports.TerminalCreate{
		Name: input.Name,
		Host: input.Host,
		Port: input.Port,
	})
	if err != nil {
		if errors.Is(err, ports.ErrTerminalAddrInUse) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, terminal)
}

func (s *Server) handleRemoveTerminal(w http.ResponseWriter, r *http.Request) {
	terminalID, err := terminalIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.svc.RemoveTerminal(r.Context(), terminalID); err != nil {
		if errors.Is(err, ports.ErrTerminalNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestTerminal(w http.ResponseWriter, r *http.Request) {
	terminalID, err := terminalIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rosterSize, err := s.svc.TestTerminal(r.Context(), terminalID)
	if err != nil {
		if errors.Is(err, ports.ErrTerminalNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reachable": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reachable": true, "rosterSize": rosterSize})
}

// handleTriggerPull accepts an optional JSON window and terminal scope so
// operators can backfill specific dates or a single device.
func (s *Server) handleTriggerPull(w http.ResponseWriter, r *http.Request) {
	var input struct {
		TerminalID uint64 `json:"terminalId"`
		From       string `json:"from"`
		To         string `json:"to"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, errs.Wrap(err, "decode pull window"))
			return
		}
	}

	runCtx := logging.WithAttrs(context.Background(), logging.Attrs(r.Context())...)
	if !s.sched.TriggerPullWindow(runCtx, input.TerminalID, input.From, input.To) {
		writeJSON(w, http.StatusConflict, map[string]any{"accepted": false, "reason": "already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleTrigger(trigger func(context.Context) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The run outlives the request; detach it from the request context
		// but keep the request's log attributes.
		runCtx := logging.WithAttrs(context.Background(), logging.Attrs(r.Context())...)
		if !trigger(runCtx) {
			writeJSON(w, http.StatusConflict, map[string]any{"accepted": false, "reason": "already running"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
	}
}

func terminalIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "terminalID")
	terminalID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("terminal id must be a positive integer")
	}
	return terminalID, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
