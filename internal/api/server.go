// Package api exposes the file lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/alloc"
	"github.com/dharsanguruparan/filealloc/internal/files"
	"github.com/dharsanguruparan/filealloc/internal/filestore"
	"github.com/dharsanguruparan/filealloc/internal/model"
)

// Server exposes HTTP endpoints for entry creation, upload notifications and
// file visibility.
type Server struct {
	address  string
	managers files.Managers
	receiver *files.Receiver
	blobs    *filestore.MemoryBackend
	logger   zerolog.Logger
	server   *http.Server
	once     sync.Once
}

// New constructs a Server. blobs is only set for the memory backend; it
// enables the /blobs endpoints the memory store's URLs point at.
func New(address string, managers files.Managers, receiver *files.Receiver, blobs *filestore.MemoryBackend, logger zerolog.Logger) *Server {
	return &Server{
		address:  address,
		managers: managers,
		receiver: receiver,
		blobs:    blobs,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/buckets/{bucket}/files", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{bucketname}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/url", s.handleSignedURL)
			r.Post("/complete", s.handleComplete)
		})
	})
	r.Post("/events/minio", s.handleMinioEvent)
	if s.blobs != nil {
		r.Put("/blobs/{bucket}/*", s.handleBlobPut)
		r.Get("/blobs/{bucket}/*", s.handleBlobGet)
	}
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.address,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("address", s.address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	Bucketname string `json:"bucketname"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	entry, uploadURL, err := m.CreateEntry(r.Context(), req.Bucketname)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"entry":     entry,
		"uploadURL": uploadURL,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	var (
		entries []*model.FileEntry
		err     error
	)
	if hash := r.URL.Query().Get("hash"); hash != "" {
		entries, err = m.GetEntriesByHash(r.Context(), hash)
	} else {
		entries, err = m.GetEntries(r.Context(), nil)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*model.FileEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	entry, err := m.GetEntry(r.Context(), chi.URLParam(r, "bucketname"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entry == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	bucketname := chi.URLParam(r, "bucketname")
	entry, err := m.GetEntry(r.Context(), bucketname)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entry == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	url, err := m.GetFileSignedURL(r.Context(), bucketname)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	n, err := m.DeleteFiles(r.Context(), chi.URLParam(r, "bucketname"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ok, err := s.receiver.ReceiveFile(r.Context(), files.Notification{
		Bucket:     chi.URLParam(r, "bucket"),
		Bucketname: chi.URLParam(r, "bucketname"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"accepted": ok})
}

func (s *Server) manager(w http.ResponseWriter, r *http.Request) (*files.Manager, bool) {
	m, err := s.managers.Lookup(chi.URLParam(r, "bucket"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return m, true
}

// fail maps err onto a status code, logging unexpected failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, files.ErrUnknownBucket), errors.Is(err, alloc.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, alloc.ErrConflict), errors.Is(err, files.ErrStatusFinal):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
