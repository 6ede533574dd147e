// Package server exposes the engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/bryan-buckman/feedwatch/internal/opml"
	"github.com/bryan-buckman/feedwatch/internal/rss"
	"github.com/bryan-buckman/feedwatch/internal/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	// RefreshTimeout bounds a manually triggered refresh cycle.
	RefreshTimeout = 2 * time.Minute
	// ShutdownTimeout bounds the wait for in-flight requests on exit.
	ShutdownTimeout = 30 * time.Second
)

// maxUpload caps OPML uploads.
const maxUpload = 4 << 20

// Server is the HTTP front of one engine instance.
type Server struct {
	store     *state.Store
	submitter *rss.Submitter
	poller    *rss.Poller
	router    chi.Router
}

// New creates a server over the given engine parts.
func New(store *state.Store, submitter *rss.Submitter, poller *rss.Poller) *Server {
	s := &Server{
		store:     store,
		submitter: submitter,
		poller:    poller,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.StandardLogger(), NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleSubmit)
		r.Get("/items", s.handleListItems)
		r.Post("/items/{itemID}/open", s.handleOpenItem)
		r.Post("/modal/close", s.handleCloseModal)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/opml", s.handleExportOPML)
		r.Post("/opml", s.handleImportOPML)
	})

	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// --- API Handlers ---

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleListFeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Feeds())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	feed, err := s.submitter.Submit(r.Context(), req.URL)
	if err != nil {
		kind := rss.KindOf(err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"kind":        kind.String(),
			"message_key": kind.MessageKey(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := s.store.Items()
	if raw := r.URL.Query().Get("feed_id"); raw != "" {
		feedID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid feed_id", http.StatusBadRequest)
			return
		}
		items = lo.Filter(items, func(it model.Item, _ int) bool { return it.FeedID == feedID })
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleOpenItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return
	}
	if err := s.store.OpenItem(itemID); err != nil {
		if errors.Is(err, state.ErrUnknownItem) {
			http.Error(w, "Item not found", http.StatusNotFound)
			return
		}
		log.Errorf("Open item %d: %v", itemID, err)
		http.Error(w, "Failed to open item", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot().UI)
}

func (s *Server) handleCloseModal(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.CloseModal(); err != nil {
		log.Errorf("Close modal: %v", err)
		http.Error(w, "Failed to close modal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot().UI)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), RefreshTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, s.poller.RunCycle(ctx))
}

func (s *Server) handleExportOPML(w http.ResponseWriter, _ *http.Request) {
	data, err := opml.Export("feedwatch", s.store.Feeds(), time.Now())
	if err != nil {
		log.Errorf("Export OPML: %v", err)
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedwatch.opml")
	w.Write(data)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse OPML: %v", err), http.StatusBadRequest)
		return
	}

	urls := lo.Map(entries, func(e opml.Entry, _ int) string { return e.URL })
	results := s.submitter.SubmitAll(r.Context(), urls)
	imported := lo.CountBy(results, func(o rss.Outcome) bool { return o.Feed != nil })

	writeJSON(w, http.StatusOK, map[string]any{
		"imported": imported,
		"total":    len(entries),
		"results":  results,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Encode response: %v", err)
	}
}
