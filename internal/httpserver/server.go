// Package httpserver exposes the snapshot ingest API: the scraper posts raw
// catalog snapshots here and the bot turns them into notifications.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stickerbot/internal/catalog"
	"stickerbot/pkg/logx"
)

// maxBodyBytes bounds one snapshot upload.
const maxBodyBytes = 10 << 20

type Config struct {
	Addr        string
	AllowOrigin string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Pipeline is the part of the application the API drives.
type Pipeline interface {
	IngestSnapshot(ctx context.Context, payload []byte) (first bool, changes catalog.ChangeSet, err error)
	CurrentSnapshot() (payload []byte, acceptedAt time.Time, ok bool)
	ResetCache(ctx context.Context) error
}

type Server struct {
	cfg Config
	log logx.Logger
	p   Pipeline
	srv *http.Server
}

func New(cfg Config, p Pipeline, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:3003"
	}
	s := &Server{cfg: cfg, log: log, p: p}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/", s.handleLanding)
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/data", s.handleIngest)
		r.Get("/data", s.handleData)
		r.Post("/reset-cache", s.handleReset)
	})

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// cors answers preflights and stamps the configured origin. With no origin
// configured the API is same-origin only.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "snapshot too large")
		return
	}

	first, changes, err := s.p.IngestSnapshot(r.Context(), body)
	if err != nil {
		if errors.Is(err, catalog.ErrMalformedSnapshot) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("snapshot ingest failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": true,
		"first":    first,
		"changes": map[string]int{
			"added":   len(changes.Added),
			"removed": len(changes.Removed),
			"updated": len(changes.Updated),
			"fields":  len(changes.Fields),
		},
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	payload, acceptedAt, ok := s.p.CurrentSnapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot received yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Accepted-At", acceptedAt.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.p.ResetCache(r.Context()); err != nil {
		s.log.Error("cache reset failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLanding(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `<!doctype html>
<html>
<head><title>stickerbot</title></head>
<body>
<h1>stickerbot</h1>
<p>Sticker collection change notifier. POST snapshots to <code>/api/data</code>.</p>
</body>
</html>
`)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
