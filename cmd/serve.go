package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/metrics"
	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/orchestrator"
	"github.com/sells-group/submission-intake/internal/store"
)

const maxUploadBytes = 64 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the scheduled mailbox poller",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := &server{ctx: ctx, store: env.Store, proc: env.Orchestrator}
		if env.Poller != nil {
			api.poller = env.Poller
		}

		sched := cron.New()
		if api.poller != nil {
			if _, err := sched.AddFunc(cfg.Poller.Schedule, func() { api.runPoll("schedule") }); err != nil {
				return eris.Wrapf(err, "poll schedule %q", cfg.Poller.Schedule)
			}
			sched.Start()
			zap.L().Info("poller scheduled", zap.String("schedule", cfg.Poller.Schedule))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Handler:           newRouter(api, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			sched.Stop()
			return eris.Wrapf(err, "server listen on port %d", port)
		}

		zap.L().Info("starting server", zap.Int("port", port))
		return serveUntilDone(ctx, srv, ln, sched, api)
	},
}

// serveUntilDone serves on ln until ctx is cancelled, then stops the
// scheduler, drains in-flight requests and waits for the background work
// they started.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener, sched *cron.Cron, api *server) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		zap.L().Info("shutting down server")
		<-sched.Stop().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server serve")
	}
	// Serve returns as soon as Shutdown starts. Handlers still running can
	// call background until Shutdown has drained them.
	<-shutdownDone
	api.wait()
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// poller is the part of orchestrator.Poller the server triggers.
type poller interface {
	PollOnce(ctx context.Context) (*orchestrator.PollResult, error)
}

// server serves the manual trigger and admin endpoints. Work started by a
// request outlives it and runs on ctx.
type server struct {
	ctx    context.Context
	store  store.Store
	proc   orchestrator.Processor
	poller poller

	wg sync.WaitGroup
}

func (s *server) wait() { s.wg.Wait() }

func (s *server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *server) runPoll(trigger string) {
	res, err := s.poller.PollOnce(s.ctx)
	if err != nil {
		zap.L().Error("poll failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	zap.L().Info("poll complete",
		zap.String("trigger", trigger),
		zap.Int("new_emails_found", res.NewEmailsFound),
		zap.Int("processed", res.Processed),
	)
}

func newRouter(s *server, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/poll", s.handlePoll)
	r.Route("/messages", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/{id}", s.handleGetMessage)
		r.Post("/{id}/process", s.handleProcess)
		r.Post("/{id}/reset", s.handleReset)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a raw RFC 822 message, stores it and processes it in
// the background. Processing errors are logged only.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	msg, created, err := s.proc.Ingest(r.Context(), "", raw)
	if err != nil {
		zap.L().Warn("upload rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := msg.ID
	s.background(func(ctx context.Context) {
		out, err := s.proc.ProcessMessage(ctx, id)
		if err != nil {
			zap.L().Error("uploaded message processing failed", zap.String("message_id", id), zap.Error(err))
			return
		}
		zap.L().Info("uploaded message processed",
			zap.String("message_id", id),
			zap.Bool("processed", out.Processed),
			zap.String("reason", out.Reason),
		)
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"message_id": id,
		"created":    created,
	})
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.proc.ProcessMessage(r.Context(), id)
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"
	err := s.store.ResetMessage(r.Context(), id, force)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		zap.L().Info("message reset", zap.String("message_id", id), zap.Bool("force", force))
		writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "message_id": id, "force": force})
	}
}

type messageView struct {
	Message     *model.Message           `json:"message"`
	Attachments []model.Attachment       `json:"attachments"`
	Extraction  *model.ExtractionResult  `json:"extraction,omitempty"`
	Records     []model.ExtractionRecord `json:"records,omitempty"`
}

func (s *server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	msg, err := s.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view := messageView{Message: msg}

	if view.Attachments, err = s.store.ListAttachments(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	result, records, err := s.store.GetExtraction(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	default:
		view.Extraction, view.Records = result, records
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handlePoll(w http.ResponseWriter, _ *http.Request) {
	if s.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "mailbox polling is not configured")
		return
	}
	s.background(func(context.Context) { s.runPoll("http") })
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
